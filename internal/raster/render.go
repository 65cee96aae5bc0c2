package raster

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/andresmejia3/visage/internal/vision"
)

// Renderer draws on RGBAFrames. Frames of other backends are converted
// through vision.ToImage first.
type Renderer struct {
	Face font.Face
}

// NewRenderer uses the 7x13 basic font.
func NewRenderer() *Renderer {
	return &Renderer{Face: basicfont.Face7x13}
}

func asRGBA(f vision.Frame) *vision.RGBAFrame {
	if rf, ok := f.(*vision.RGBAFrame); ok {
		return rf
	}
	img, err := vision.ToImage(f)
	if err != nil {
		return vision.NewRGBAFrame(image.NewRGBA(f.Bounds()))
	}
	return vision.NewRGBAFrame(img)
}

func (r *Renderer) Clone(f vision.Frame) vision.Frame {
	return asRGBA(f).Clone()
}

// Rectangle outlines rect with the given stroke, or fills it when
// thickness is negative. The stroke is centred on the edge.
func (r *Renderer) Rectangle(f vision.Frame, rect image.Rectangle, c color.RGBA, thickness int) {
	dst := asRGBA(f).RGBA
	rect = rect.Canon()
	src := image.NewUniform(c)

	if thickness < 0 {
		draw.Draw(dst, rect.Intersect(dst.Bounds()), src, image.Point{}, draw.Src)
		return
	}

	lo := thickness / 2
	hi := thickness - lo
	edges := []image.Rectangle{
		image.Rect(rect.Min.X-lo, rect.Min.Y-lo, rect.Max.X+hi, rect.Min.Y+hi), // top
		image.Rect(rect.Min.X-lo, rect.Max.Y-lo, rect.Max.X+hi, rect.Max.Y+hi), // bottom
		image.Rect(rect.Min.X-lo, rect.Min.Y-lo, rect.Min.X+hi, rect.Max.Y+hi), // left
		image.Rect(rect.Max.X-lo, rect.Min.Y-lo, rect.Max.X+hi, rect.Max.Y+hi), // right
	}
	for _, e := range edges {
		draw.Draw(dst, e.Intersect(dst.Bounds()), src, image.Point{}, draw.Src)
	}
}

// TextSize returns the advance width and ascent of text.
func (r *Renderer) TextSize(text string) image.Point {
	w := font.MeasureString(r.Face, text)
	return image.Pt(w.Ceil(), r.Face.Metrics().Ascent.Ceil())
}

func (r *Renderer) PutText(f vision.Frame, text string, org image.Point, c color.RGBA) {
	d := &font.Drawer{
		Dst:  asRGBA(f).RGBA,
		Src:  image.NewUniform(c),
		Face: r.Face,
		Dot:  fixed.P(org.X, org.Y),
	}
	d.DrawString(text)
}

func (r *Renderer) Resize(f vision.Frame, size image.Point) vision.Frame {
	src := asRGBA(f)
	if src.Bounds().Size() == size {
		return src.Clone()
	}
	dst := image.NewRGBA(image.Rectangle{Max: size})
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src.RGBA, src.Bounds(), draw.Src, nil)
	return &vision.RGBAFrame{RGBA: dst}
}
