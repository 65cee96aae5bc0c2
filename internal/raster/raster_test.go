package raster

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"

	"github.com/andresmejia3/visage/internal/face"
	"github.com/andresmejia3/visage/internal/pipeline"
	"github.com/andresmejia3/visage/internal/sessionlog"
	"github.com/andresmejia3/visage/internal/types"
	"github.com/andresmejia3/visage/internal/vision"
)

func encodeJPEG(t *testing.T, w, h int, c color.RGBA) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestStreamSource(t *testing.T) {
	var stream bytes.Buffer
	stream.Write(encodeJPEG(t, 64, 48, color.RGBA{R: 200, A: 255}))
	stream.Write(encodeJPEG(t, 32, 16, color.RGBA{B: 200, A: 255}))

	src := NewStreamSource(&stream)
	defer src.Close()

	want := []image.Point{{64, 48}, {32, 16}}
	for i, size := range want {
		f, ok, err := src.Read()
		if err != nil || !ok {
			t.Fatalf("frame %d: ok=%v err=%v", i, ok, err)
		}
		if f.Bounds().Size() != size {
			t.Errorf("frame %d is %v, want %v", i, f.Bounds().Size(), size)
		}
	}

	if _, ok, err := src.Read(); ok || err != nil {
		t.Errorf("expected a clean end of stream, got ok=%v err=%v", ok, err)
	}
}

func TestStreamSourceCorruptFrame(t *testing.T) {
	src := NewStreamSource(bytes.NewReader([]byte{0xFF, 0xD8, 0x00, 0x01, 0xFF, 0xD9}))
	if _, _, err := src.Read(); err == nil {
		t.Error("expected a decode error")
	}
}

func TestOpenFileMissing(t *testing.T) {
	if _, err := OpenFile(filepath.Join(t.TempDir(), "missing.mp4")); err == nil {
		t.Error("expected an error for a missing input")
	}
}

func TestRectangle(t *testing.T) {
	r := NewRenderer()
	f := vision.NewRGBAFrame(image.NewRGBA(image.Rect(0, 0, 20, 20)))
	green := color.RGBA{G: 255, A: 255}

	r.Rectangle(f, image.Rect(5, 5, 15, 15), green, 1)
	if f.RGBAAt(5, 10) != green || f.RGBAAt(10, 5) != green {
		t.Error("outline edges not drawn")
	}
	if f.RGBAAt(10, 10) == green {
		t.Error("outline must not fill the interior")
	}

	yellow := color.RGBA{R: 255, G: 255, A: 255}
	r.Rectangle(f, image.Rect(-5, -5, 4, 4), yellow, -1)
	if f.RGBAAt(0, 0) != yellow || f.RGBAAt(3, 3) != yellow || f.RGBAAt(4, 4) == yellow {
		t.Error("fill should be clipped to the frame and exclusive of Max")
	}
}

func TestText(t *testing.T) {
	r := NewRenderer()
	size := r.TextSize("Male, 18-20")
	if size.X != 7*len("Male, 18-20") || size.Y <= 0 {
		t.Errorf("TextSize = %v", size)
	}

	f := vision.NewRGBAFrame(image.NewRGBA(image.Rect(0, 0, 100, 30)))
	r.PutText(f, "Male", image.Pt(2, 20), color.RGBA{R: 255, A: 255})
	painted := 0
	for i := 0; i < len(f.Pix); i += 4 {
		if f.Pix[i] > 0 {
			painted++
		}
	}
	if painted == 0 {
		t.Error("PutText drew nothing")
	}
}

func TestResizeAndClone(t *testing.T) {
	r := NewRenderer()
	f := vision.NewRGBAFrame(image.NewRGBA(image.Rect(0, 0, 64, 48)))

	resized := r.Resize(f, image.Pt(1000, 900))
	if resized.Bounds().Size() != image.Pt(1000, 900) {
		t.Errorf("resized to %v", resized.Bounds().Size())
	}

	c := r.Clone(f).(*vision.RGBAFrame)
	c.Pix[0] = 99
	if f.Pix[0] == 99 {
		t.Error("Clone must not share pixels")
	}
}

func TestHeadlessWritesFrames(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "frames")
	h, err := NewHeadless(dir)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if err := h.Show(vision.NewRGBAFrame(image.NewRGBA(image.Rect(0, 0, 8, 8)))); err != nil {
			t.Fatal(err)
		}
	}
	if h.WaitKey(0) != -1 {
		t.Error("headless display never reports a key")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || entries[0].Name() != "frame_000001.jpg" {
		t.Errorf("unexpected frames %v", entries)
	}
}

// ssdScorer returns one detection covering the normalized box (x1,y1)-(x2,y2).
type ssdScorer struct{ x1, y1, x2, y2 float32 }

func (s ssdScorer) ScoreVector(vision.Frame, image.Point, types.Mean, bool) ([]float32, error) {
	return []float32{0, 1, 0.99, s.x1, s.y1, s.x2, s.y2}, nil
}

type fixedScorer []float32

func (s fixedScorer) ScoreVector(vision.Frame, image.Point, types.Mean, bool) ([]float32, error) {
	return s, nil
}

func TestPipelineEndToEnd(t *testing.T) {
	var stream bytes.Buffer
	stream.Write(encodeJPEG(t, 640, 640, color.RGBA{R: 90, G: 80, B: 70, A: 255}))

	age := make(fixedScorer, 34)
	age[6] = 1
	det := face.NewDetector(ssdScorer{0.078125, 0.078125, 0.234375, 0.234375}, face.DefaultThreshold)
	cls := face.NewClassifier(fixedScorer{0.8, 0.2}, age)

	display, err := NewHeadless(filepath.Join(t.TempDir(), "frames"))
	if err != nil {
		t.Fatal(err)
	}
	logPath := filepath.Join(t.TempDir(), "log.csv")
	logger, err := sessionlog.Open(logPath, "A")
	if err != nil {
		t.Fatal(err)
	}

	p := pipeline.New(det, cls, NewRenderer(), display)
	p.Sink = logger
	p.Options.Alias = "A"

	if err := p.Run(context.Background(), NewStreamSource(&stream)); err != nil {
		t.Fatal(err)
	}

	got, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "Alias,Gender,Age\r\nA,Male,18-20\r\n" {
		t.Errorf("log = %q", got)
	}
	if display.Shown() != 1 {
		t.Errorf("shown %d frames", display.Shown())
	}
	if snap := p.Stats.Snapshot(); snap.Faces != 1 || snap.Logged != 1 {
		t.Errorf("stats = %+v", snap)
	}
}
