// Package cv is the OpenCV backend: capture, DNN inference, drawing and
// the preview window, all through gocv.
package cv

import (
	"fmt"
	"image"
	"image/color"
	"os"

	"gocv.io/x/gocv"

	"github.com/andresmejia3/visage/internal/types"
	"github.com/andresmejia3/visage/internal/vision"
)

// MatFrame is a frame backed by a gocv.Mat. It must be closed.
type MatFrame struct {
	gocv.Mat
}

func (f *MatFrame) Bounds() image.Rectangle {
	return image.Rect(0, 0, f.Cols(), f.Rows())
}

// SubFrame returns a region view sharing f's pixels.
func (f *MatFrame) SubFrame(r image.Rectangle) vision.Frame {
	return &MatFrame{Mat: f.Region(r)}
}

func (f *MatFrame) Image() (image.Image, error) {
	return f.ToImage()
}

// toMat returns f as a Mat. owned reports whether the caller must close it.
func toMat(f vision.Frame) (m gocv.Mat, owned bool, err error) {
	if mf, ok := f.(*MatFrame); ok {
		return mf.Mat, false, nil
	}
	img, err := vision.ToImage(f)
	if err != nil {
		return gocv.Mat{}, false, err
	}
	m, err = gocv.ImageToMatRGB(img)
	return m, err == nil, err
}

// --- Capture ---

// Capture reads frames from a file, still image or camera.
type Capture struct {
	vc *gocv.VideoCapture
}

// OpenSource opens input, or the camera at index when input is empty.
func OpenSource(input string, camera int) (*Capture, error) {
	var device interface{} = camera
	if input != "" {
		device = input
	}
	vc, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return nil, fmt.Errorf("cannot open capture source %v: %w", device, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("cannot open capture source %v", device)
	}
	return &Capture{vc: vc}, nil
}

// Read returns the next frame, or ok=false once the stream ends.
func (c *Capture) Read() (vision.Frame, bool, error) {
	m := gocv.NewMat()
	if ok := c.vc.Read(&m); !ok || m.Empty() {
		m.Close()
		return nil, false, nil
	}
	return &MatFrame{Mat: m}, true, nil
}

// FrameCount reports the container's frame count, 0 when unknown.
func (c *Capture) FrameCount() int {
	return int(c.vc.Get(gocv.VideoCaptureFrameCount))
}

func (c *Capture) Close() error {
	return c.vc.Close()
}

// --- Inference ---

// Net runs a DNN model as a vision.Scorer.
type Net struct {
	net gocv.Net
}

// LoadNet reads a model and its config. Missing or unreadable artifacts fail here.
func LoadNet(model, config string) (*Net, error) {
	for _, path := range []string{model, config} {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("model artifact: %w", err)
		}
	}
	n := gocv.ReadNet(model, config)
	if n.Empty() {
		return nil, fmt.Errorf("failed to load network %s (%s)", model, config)
	}
	return &Net{net: n}, nil
}

// ScoreVector blobs region at size, subtracting mean, and returns the
// flattened network output.
func (n *Net) ScoreVector(region vision.Frame, size image.Point, mean types.Mean, swapRB bool) ([]float32, error) {
	m, owned, err := toMat(region)
	if err != nil {
		return nil, err
	}
	if owned {
		defer m.Close()
	}
	if m.Empty() {
		return nil, vision.ErrEmptyRegion
	}

	blob := gocv.BlobFromImage(m, 1.0, size, gocv.NewScalar(mean[0], mean[1], mean[2], 0), swapRB, false)
	defer blob.Close()

	n.net.SetInput(blob, "")
	out := n.net.Forward("")
	defer out.Close()

	data, err := out.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("read network output: %w", err)
	}
	// out owns data; copy before it is closed.
	vec := make([]float32, len(data))
	copy(vec, data)
	return vec, nil
}

func (n *Net) Close() error {
	return n.net.Close()
}

// --- Drawing ---

const (
	fontFace      = gocv.FontHersheySimplex
	fontScale     = 0.8
	fontThickness = 2
)

// Renderer draws on MatFrames with OpenCV primitives.
type Renderer struct{}

func mat(f vision.Frame) *gocv.Mat {
	mf, ok := f.(*MatFrame)
	if !ok {
		panic(fmt.Sprintf("cv: renderer given a %T frame", f))
	}
	return &mf.Mat
}

func (Renderer) Clone(f vision.Frame) vision.Frame {
	return &MatFrame{Mat: mat(f).Clone()}
}

func (Renderer) Rectangle(f vision.Frame, r image.Rectangle, c color.RGBA, thickness int) {
	gocv.Rectangle(mat(f), r, c, thickness)
}

func (Renderer) TextSize(text string) image.Point {
	return gocv.GetTextSize(text, fontFace, fontScale, fontThickness)
}

func (Renderer) PutText(f vision.Frame, text string, org image.Point, c color.RGBA) {
	gocv.PutTextWithParams(mat(f), text, org, fontFace, fontScale, c, fontThickness, gocv.LineAA, false)
}

func (Renderer) Resize(f vision.Frame, size image.Point) vision.Frame {
	dst := gocv.NewMat()
	gocv.Resize(*mat(f), &dst, size, 0, 0, gocv.InterpolationLinear)
	return &MatFrame{Mat: dst}
}

// --- Display ---

// Window is the interactive preview.
type Window struct {
	w *gocv.Window
}

func NewWindow(title string) *Window {
	return &Window{w: gocv.NewWindow(title)}
}

// Show displays f. Frames of other backends are converted first.
func (w *Window) Show(f vision.Frame) error {
	m, owned, err := toMat(f)
	if err != nil {
		return fmt.Errorf("show frame: %w", err)
	}
	if owned {
		defer m.Close()
	}
	w.w.IMShow(m)
	return nil
}

func (w *Window) WaitKey(delay int) int {
	return w.w.WaitKey(delay)
}

func (w *Window) Close() error {
	return w.w.Close()
}
