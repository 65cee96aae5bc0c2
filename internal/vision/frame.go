// Package vision defines the backend-neutral frame and inference
// abstractions shared by the pipeline and its OpenCV / pure-Go backends.
package vision

import (
	"errors"
	"image"
	"image/draw"
	"io"

	"github.com/andresmejia3/visage/internal/types"
)

// Frame is a decoded image whose bounds always start at the origin.
type Frame interface {
	Bounds() image.Rectangle
	// SubFrame returns a view of r, rebased to the origin. r must lie
	// within Bounds().
	SubFrame(r image.Rectangle) Frame
}

// Imager is implemented by frames that can be exported as an image.Image.
type Imager interface {
	Image() (image.Image, error)
}

// Scorer is the black-box inference capability: given a region it returns
// the engine's raw output vector. size is the engine's fixed input shape,
// mean the per-channel means subtracted, swapRB the channel order swap.
type Scorer interface {
	ScoreVector(region Frame, size image.Point, mean types.Mean, swapRB bool) ([]float32, error)
}

// ErrNotImager is returned when a frame cannot be exported as an image.
var ErrNotImager = errors.New("frame cannot be converted to an image")

// ToImage exports f if its backend supports it.
func ToImage(f Frame) (image.Image, error) {
	if im, ok := f.(Imager); ok {
		return im.Image()
	}
	return nil, ErrNotImager
}

// Release closes f when its backend holds native memory.
func Release(f Frame) {
	if c, ok := f.(io.Closer); ok {
		_ = c.Close()
	}
}

// RGBAFrame is the pure-Go frame, backed by an *image.RGBA.
type RGBAFrame struct {
	*image.RGBA
}

// NewRGBAFrame wraps m, copying it when it is not already an origin-based RGBA.
func NewRGBAFrame(m image.Image) *RGBAFrame {
	if rgba, ok := m.(*image.RGBA); ok && rgba.Rect.Min == (image.Point{}) {
		return &RGBAFrame{RGBA: rgba}
	}
	b := m.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), m, b.Min, draw.Src)
	return &RGBAFrame{RGBA: rgba}
}

// SubFrame returns a zero-copy view of r rebased to the origin.
func (f *RGBAFrame) SubFrame(r image.Rectangle) Frame {
	sub := f.RGBA.SubImage(r).(*image.RGBA)
	return &RGBAFrame{RGBA: &image.RGBA{
		Pix:    sub.Pix,
		Stride: sub.Stride,
		Rect:   image.Rect(0, 0, sub.Rect.Dx(), sub.Rect.Dy()),
	}}
}

// Image implements Imager.
func (f *RGBAFrame) Image() (image.Image, error) {
	return f.RGBA, nil
}

// Clone returns a deep copy of the frame.
func (f *RGBAFrame) Clone() *RGBAFrame {
	out := image.NewRGBA(f.Rect)
	draw.Draw(out, out.Bounds(), f.RGBA, f.Rect.Min, draw.Src)
	return &RGBAFrame{RGBA: out}
}
