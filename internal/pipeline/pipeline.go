// Package pipeline runs the per-frame detect → extract → classify →
// annotate → log loop over a frame source.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"log/slog"
	"math"
	"time"

	"github.com/andresmejia3/visage/internal/types"
	"github.com/andresmejia3/visage/internal/vision"
)

// Source yields decoded frames. ok is false once the stream has ended.
type Source interface {
	Read() (frame vision.Frame, ok bool, err error)
	Close() error
}

// Display presents rendered frames and reports key presses.
type Display interface {
	Show(f vision.Frame) error
	// WaitKey blocks for up to delay milliseconds (0 = forever) and
	// returns the pressed key, or -1 when none was pressed.
	WaitKey(delay int) int
	Close() error
}

// Renderer draws on frames of its backend.
type Renderer interface {
	Clone(f vision.Frame) vision.Frame
	// Rectangle outlines r; a negative thickness fills it.
	Rectangle(f vision.Frame, r image.Rectangle, c color.RGBA, thickness int)
	TextSize(text string) image.Point
	// PutText draws text with its baseline-left corner at org.
	PutText(f vision.Frame, text string, org image.Point, c color.RGBA)
	Resize(f vision.Frame, size image.Point) vision.Frame
}

// Detector finds faces in a whole frame.
type Detector interface {
	Detect(f vision.Frame) (types.DetectionResult, error)
}

// Classifier estimates gender and age for a face region.
type Classifier interface {
	Classify(region vision.Frame) (types.FaceClassification, error)
}

// Sink persists one record per classified face.
type Sink interface {
	Append(rec types.LogRecord) error
}

var (
	boxColor   = color.RGBA{G: 255, A: 255}
	labelColor = color.RGBA{R: 255, G: 255, A: 255}
	textColor  = color.RGBA{A: 255}
)

// Options configures a Pipeline.
type Options struct {
	Padding     int
	DisplaySize image.Point
	// WaitDelay is the AWAIT-INPUT timeout in milliseconds, 0 blocks.
	WaitDelay int
	QuitKey   int
	Alias     string
}

// DefaultOptions mirrors the interactive defaults: 20px padding, a
// 1000x900 window, block on every frame, quit with 'q'.
func DefaultOptions() Options {
	return Options{
		Padding:     vision.DefaultPadding,
		DisplaySize: image.Pt(1000, 900),
		WaitDelay:   0,
		QuitKey:     'q',
	}
}

// FaceResult is one classified face of a frame.
type FaceResult struct {
	Index          int                      `json:"index"`
	Box            types.BoundingBox        `json:"box"`
	Region         image.Rectangle          `json:"region"`
	Classification types.FaceClassification `json:"classification"`
}

// FrameResult is the outcome of analyzing one frame.
type FrameResult struct {
	Detections types.DetectionResult `json:"detections"`
	Faces      []FaceResult          `json:"faces"`
	Skipped    int                   `json:"skipped"`
}

// Pipeline wires the detection and classification engines to the
// rendering, display and logging collaborators.
type Pipeline struct {
	Detector   Detector
	Classifier Classifier
	Renderer   Renderer
	Display    Display
	// Sink is nil when the session does not log.
	Sink    Sink
	Options Options
	Stats   *Stats
	Logger  *slog.Logger
	// Out receives the per-face console report.
	Out io.Writer
	// OnFrame is called after each processed frame.
	OnFrame func(index int)
}

// New returns a Pipeline with default options, a fresh Stats and a
// discarding logger.
func New(det Detector, cls Classifier, r Renderer, d Display) *Pipeline {
	return &Pipeline{
		Detector:   det,
		Classifier: cls,
		Renderer:   r,
		Display:    d,
		Options:    DefaultOptions(),
		Stats:      &Stats{},
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		Out:        io.Discard,
	}
}

// Analyze detects faces in frame and classifies every non-empty padded
// region. Regions that clamp to zero area are skipped.
func (p *Pipeline) Analyze(frame vision.Frame) (*FrameResult, error) {
	dets, err := p.Detector.Detect(frame)
	if err != nil {
		return nil, err
	}

	res := &FrameResult{Detections: dets}
	res.Skipped, err = p.eachFace(frame, dets, func(f FaceResult) error {
		res.Faces = append(res.Faces, f)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// eachFace extracts and classifies the boxes in order, calling fn for each
// classified face before the next box is classified. It returns the number
// of skipped empty regions.
func (p *Pipeline) eachFace(frame vision.Frame, dets types.DetectionResult, fn func(FaceResult) error) (skipped int, err error) {
	for i, box := range dets {
		region, rect, err := vision.Extract(frame, box, p.Options.Padding)
		if err != nil {
			if !errors.Is(err, vision.ErrEmptyRegion) {
				return skipped, err
			}
			p.Logger.Debug("empty face region", "box", box, "padding", p.Options.Padding)
			skipped++
			continue
		}

		cls, err := p.Classifier.Classify(region)
		vision.Release(region)
		if err != nil {
			return skipped, fmt.Errorf("classify face %d: %w", i, err)
		}
		if err := fn(FaceResult{Index: i, Box: box, Region: rect, Classification: cls}); err != nil {
			return skipped, err
		}
	}
	return skipped, nil
}

// Run streams src until it ends, the quit key is pressed or ctx is
// cancelled. Run owns src and the display and closes both on return.
func (p *Pipeline) Run(ctx context.Context, src Source) error {
	defer src.Close()
	defer p.Display.Close()

	for index := 1; ; index++ {
		if ctx.Err() != nil {
			p.Logger.Info("session interrupted", "frame", index)
			return nil
		}

		frame, ok, err := src.Read()
		if err != nil {
			return fmt.Errorf("read frame %d: %w", index, err)
		}
		if !ok {
			fmt.Fprintln(p.Out, "No frame available or video ended.")
			p.Logger.Info("end of stream", "frames", index-1)
			return nil
		}

		quit, err := p.processFrame(index, frame)
		vision.Release(frame)
		if err != nil {
			return err
		}
		if p.OnFrame != nil {
			p.OnFrame(index)
		}
		if quit {
			p.Logger.Info("quit requested", "frame", index)
			return nil
		}
	}
}

func (p *Pipeline) processFrame(index int, frame vision.Frame) (quit bool, err error) {
	start := time.Now()
	p.Stats.IncrementFrames()

	dets, err := p.Detector.Detect(frame)
	if err != nil {
		return false, fmt.Errorf("frame %d: %w", index, err)
	}

	annotated := p.Renderer.Clone(frame)
	defer vision.Release(annotated)

	thickness := max(1, int(math.RoundToEven(float64(frame.Bounds().Dy())/150)))
	for _, box := range dets {
		p.Renderer.Rectangle(annotated, box.Rect(), boxColor, thickness)
	}

	if len(dets) == 0 {
		p.Stats.IncrementEmptyFrames()
		fmt.Fprintln(p.Out, "⚠️  No face detected")
		p.Logger.Info("no face detected", "frame", index)
	}

	// Each face is annotated and logged before the next one is classified.
	skipped, err := p.eachFace(frame, dets, func(f FaceResult) error {
		p.Stats.IncrementFaces()
		fmt.Fprintf(p.Out, "👤 Gender: %s\n", f.Classification.Gender)
		fmt.Fprintf(p.Out, "🎂 Age: %s years\n", f.Classification.Age)

		p.drawLabel(annotated, f)

		if p.Sink == nil {
			return nil
		}
		rec := types.LogRecord{
			Alias:  p.Options.Alias,
			Gender: f.Classification.Gender,
			Age:    f.Classification.Age,
			Frame:  index,
			Box:    f.Box,
		}
		if err := p.Sink.Append(rec); err != nil {
			return fmt.Errorf("append log record for frame %d: %w", index, err)
		}
		p.Stats.IncrementLogged()
		return nil
	})
	p.Stats.AddSkipped(skipped)
	if err != nil {
		return false, fmt.Errorf("frame %d: %w", index, err)
	}

	resized := p.Renderer.Resize(annotated, p.Options.DisplaySize)
	err = p.Display.Show(resized)
	vision.Release(resized)
	if err != nil {
		return false, fmt.Errorf("display frame %d: %w", index, err)
	}
	p.Stats.RecordLatency(time.Since(start))

	key := p.Display.WaitKey(p.Options.WaitDelay)
	return key >= 0 && key&0xFF == p.Options.QuitKey, nil
}

// drawLabel paints a filled label box above the face's top edge with the
// "<gender>, <age>" text inside it.
func (p *Pipeline) drawLabel(f vision.Frame, face FaceResult) {
	text := fmt.Sprintf("%s, %s", face.Classification.Gender, face.Classification.Age)
	size := p.Renderer.TextSize(text)
	x1, y1 := face.Box.X1, face.Box.Y1

	p.Renderer.Rectangle(f, image.Rect(x1, y1-size.Y-10, x1+size.X, y1), labelColor, -1)
	p.Renderer.PutText(f, text, image.Pt(x1, y1-10), textColor)
}

// Sinks appends every record to each sink in order, stopping at the first error.
type Sinks []Sink

func (s Sinks) Append(rec types.LogRecord) error {
	for _, sink := range s {
		if err := sink.Append(rec); err != nil {
			return err
		}
	}
	return nil
}
