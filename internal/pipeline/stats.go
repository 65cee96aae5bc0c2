package pipeline

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"
)

// Stats counts session activity. It is safe for concurrent use.
type Stats struct {
	frames      atomic.Int64
	faces       atomic.Int64
	skipped     atomic.Int64
	emptyFrames atomic.Int64
	logged      atomic.Int64
	latency     atomic.Int64 // total, in microseconds
}

// Snapshot is a point-in-time copy of Stats.
type Snapshot struct {
	Frames       int64   `json:"frames"`
	Faces        int64   `json:"faces"`
	Skipped      int64   `json:"skipped_regions"`
	EmptyFrames  int64   `json:"frames_without_faces"`
	Logged       int64   `json:"logged_rows"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
}

func (s *Stats) IncrementFrames()      { s.frames.Add(1) }
func (s *Stats) IncrementFaces()       { s.faces.Add(1) }
func (s *Stats) IncrementEmptyFrames() { s.emptyFrames.Add(1) }
func (s *Stats) IncrementLogged()      { s.logged.Add(1) }

// AddSkipped records n faces dropped for an empty region.
func (s *Stats) AddSkipped(n int) {
	if n > 0 {
		s.skipped.Add(int64(n))
	}
}

// RecordLatency adds the processing time of one frame.
func (s *Stats) RecordLatency(d time.Duration) {
	s.latency.Add(d.Microseconds())
}

// Snapshot returns the current counters.
func (s *Stats) Snapshot() Snapshot {
	snap := Snapshot{
		Frames:      s.frames.Load(),
		Faces:       s.faces.Load(),
		Skipped:     s.skipped.Load(),
		EmptyFrames: s.emptyFrames.Load(),
		Logged:      s.logged.Load(),
	}
	if snap.Frames > 0 {
		snap.AvgLatencyMs = float64(s.latency.Load()) / float64(snap.Frames) / 1000
	}
	return snap
}

// WriteSummary prints the end-of-session report.
func (s *Stats) WriteSummary(w io.Writer) {
	snap := s.Snapshot()
	fmt.Fprintf(w, "\n---------------------------------------------------------\n")
	fmt.Fprintf(w, "📊 SESSION SUMMARY\n")
	fmt.Fprintf(w, "---------------------------------------------------------\n")
	fmt.Fprintf(w, "🎞️  Frames Processed:        %d\n", snap.Frames)
	fmt.Fprintf(w, "👁️  Faces Classified:        %d\n", snap.Faces)
	fmt.Fprintf(w, "🙈 Frames Without Faces:    %d\n", snap.EmptyFrames)
	fmt.Fprintf(w, "✂️  Skipped Empty Regions:   %d\n", snap.Skipped)
	fmt.Fprintf(w, "📝 Rows Logged:             %d\n", snap.Logged)
	fmt.Fprintf(w, "⏱️  Avg Frame Latency:       %.1fms\n", snap.AvgLatencyMs)
	fmt.Fprintf(w, "---------------------------------------------------------\n")
}
