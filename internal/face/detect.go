// Package face turns raw inference output into face boxes and gender/age
// classifications.
package face

import (
	"fmt"
	"image"

	"github.com/andresmejia3/visage/internal/types"
	"github.com/andresmejia3/visage/internal/vision"
)

// DefaultThreshold is the minimum detector confidence (exclusive).
const DefaultThreshold = 0.7

// ssdRecordLen is the width of one SSD detection record:
// image_id, class_id, confidence, x1, y1, x2, y2.
const ssdRecordLen = 7

// Detector runs the face detection engine over whole frames.
type Detector struct {
	Net       vision.Scorer
	Threshold float64
	InputSize image.Point
	Mean      types.Mean
	SwapRB    bool
}

// NewDetector returns a Detector configured for the OpenCV SSD face model.
func NewDetector(net vision.Scorer, threshold float64) *Detector {
	return &Detector{
		Net:       net,
		Threshold: threshold,
		InputSize: image.Pt(300, 300),
		Mean:      types.Mean{104, 117, 123},
		SwapRB:    true,
	}
}

// Detect scores f and returns the accepted boxes in pixel coordinates.
func (d *Detector) Detect(f vision.Frame) (types.DetectionResult, error) {
	raw, err := d.Net.ScoreVector(f, d.InputSize, d.Mean, d.SwapRB)
	if err != nil {
		return nil, fmt.Errorf("face detector: %w", err)
	}
	cands, err := ParseSSD(raw)
	if err != nil {
		return nil, err
	}
	size := f.Bounds().Size()
	return Decode(cands, size.X, size.Y, d.Threshold), nil
}

// ParseSSD splits a flattened [N x 7] detector output into candidates.
func ParseSSD(raw []float32) ([]types.Candidate, error) {
	if len(raw)%ssdRecordLen != 0 {
		return nil, fmt.Errorf("%w: detector output of %d values is not a multiple of %d", ErrVectorLength, len(raw), ssdRecordLen)
	}
	out := make([]types.Candidate, 0, len(raw)/ssdRecordLen)
	for i := 0; i < len(raw); i += ssdRecordLen {
		rec := raw[i : i+ssdRecordLen]
		out = append(out, types.Candidate{
			Confidence: rec[2],
			X1:         rec[3],
			Y1:         rec[4],
			X2:         rec[5],
			Y2:         rec[6],
		})
	}
	return out, nil
}

// Decode keeps the candidates whose confidence is strictly above threshold
// and scales them to a width x height frame. Coordinates are truncated and
// deliberately left unclamped.
func Decode(cands []types.Candidate, width, height int, threshold float64) types.DetectionResult {
	w, h := float32(width), float32(height)
	boxes := make(types.DetectionResult, 0, len(cands))
	for _, c := range cands {
		if !(float64(c.Confidence) > threshold) {
			continue
		}
		boxes = append(boxes, types.BoundingBox{
			X1: int(c.X1 * w),
			Y1: int(c.Y1 * h),
			X2: int(c.X2 * w),
			Y2: int(c.Y2 * h),
		})
	}
	return boxes
}
