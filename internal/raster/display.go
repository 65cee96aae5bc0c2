package raster

import (
	"fmt"
	"image/jpeg"
	"os"
	"path/filepath"

	"github.com/andresmejia3/visage/internal/vision"
)

// Headless is a display without a window. When Dir is set every shown
// frame is written there as frame_NNNNNN.jpg. It never reports a key.
type Headless struct {
	Dir   string
	count int
}

// NewHeadless creates dir if needed.
func NewHeadless(dir string) (*Headless, error) {
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create frames dir: %w", err)
		}
	}
	return &Headless{Dir: dir}, nil
}

func (h *Headless) Show(f vision.Frame) error {
	h.count++
	if h.Dir == "" {
		return nil
	}

	img, err := vision.ToImage(f)
	if err != nil {
		return err
	}
	path := filepath.Join(h.Dir, fmt.Sprintf("frame_%06d.jpg", h.count))
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := jpeg.Encode(out, img, &jpeg.Options{Quality: 90}); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func (h *Headless) WaitKey(int) int { return -1 }

func (h *Headless) Close() error { return nil }

// Shown returns how many frames were presented.
func (h *Headless) Shown() int { return h.count }
