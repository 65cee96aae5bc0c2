package vision

import (
	"errors"
	"image"

	"github.com/andresmejia3/visage/internal/types"
)

// DefaultPadding is the margin in pixels added around a face box.
const DefaultPadding = 20

// ErrEmptyRegion signals that a box clamps to a zero-area crop.
var ErrEmptyRegion = errors.New("empty face region")

// PaddedRect grows box by padding on every side and clamps it to a frame of
// the given size. The right and bottom edges are exclusive and never exceed
// W-1 / H-1. ok is false when the result has no area.
func PaddedRect(size image.Point, box types.BoundingBox, padding int) (r image.Rectangle, ok bool) {
	top := max(0, box.Y1-padding)
	bottom := min(box.Y2+padding, size.Y-1)
	left := max(0, box.X1-padding)
	right := min(box.X2+padding, size.X-1)

	if top >= bottom || left >= right {
		return image.Rectangle{}, false
	}
	return image.Rect(left, top, right, bottom), true
}

// Extract crops the padded, clamped face region out of f. It returns
// ErrEmptyRegion instead of a frame when the crop would have no area.
func Extract(f Frame, box types.BoundingBox, padding int) (Frame, image.Rectangle, error) {
	r, ok := PaddedRect(f.Bounds().Size(), box, padding)
	if !ok {
		return nil, image.Rectangle{}, ErrEmptyRegion
	}
	return f.SubFrame(r), r, nil
}
