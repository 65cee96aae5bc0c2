// Package raster is the pure-Go backend: FFmpeg-decoded JPEG frames held
// as *image.RGBA, drawn with golang.org/x/image and shown headlessly.
package raster

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"image/jpeg"
	"io"
	"os"
	"os/exec"

	"github.com/andresmejia3/visage/internal/types"
	"github.com/andresmejia3/visage/internal/utils"
	"github.com/andresmejia3/visage/internal/vision"
)

const megabyte = 1024 * 1024

// StreamSource decodes a concatenated MJPEG stream.
type StreamSource struct {
	scanner *bufio.Scanner
	index   int

	cmd    *exec.Cmd
	stderr *bytes.Buffer
	closer io.Closer
}

// NewStreamSource reads JPEG frames from r.
func NewStreamSource(r io.Reader) *StreamSource {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, megabyte), 64*megabyte)
	scanner.Split(utils.SplitJpeg)
	return &StreamSource{scanner: scanner}
}

// OpenFile decodes a video or still image through FFmpeg.
func OpenFile(path string) (*StreamSource, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("cannot open capture source: %w", err)
	}
	return startFFmpeg(utils.NewFFmpegCmd(path))
}

// OpenCamera streams a V4L2 device through FFmpeg.
func OpenCamera(index int) (*StreamSource, error) {
	return startFFmpeg(utils.NewFFmpegCameraCmd(index))
}

func startFFmpeg(cmd *exec.Cmd) (*StreamSource, error) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, fmt.Errorf("ffmpeg not found: %w", err)
	}

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create FFmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start FFmpeg: %w", err)
	}

	src := NewStreamSource(out)
	src.cmd, src.stderr, src.closer = cmd, &stderr, out
	return src, nil
}

// Next returns the next encoded frame without decoding it.
func (s *StreamSource) Next() (types.FrameTask, bool, error) {
	if !s.scanner.Scan() {
		if err := s.scanner.Err(); err != nil {
			return types.FrameTask{}, false, fmt.Errorf("frame scanner failed: %w", err)
		}
		return types.FrameTask{}, false, s.wait()
	}

	s.index++
	data := make([]byte, len(s.scanner.Bytes()))
	copy(data, s.scanner.Bytes())
	return types.FrameTask{Index: s.index, Data: data}, true, nil
}

// Read implements pipeline.Source.
func (s *StreamSource) Read() (vision.Frame, bool, error) {
	task, ok, err := s.Next()
	if !ok || err != nil {
		return nil, ok, err
	}
	img, err := jpeg.Decode(bytes.NewReader(task.Data))
	if err != nil {
		return nil, false, fmt.Errorf("decode frame %d: %w", task.Index, err)
	}
	return vision.NewRGBAFrame(img), true, nil
}

// wait reaps FFmpeg at end of stream. A decoder that produced no frame
// at all is reported as a failure to open the source.
func (s *StreamSource) wait() error {
	if s.cmd == nil {
		return nil
	}
	cmd := s.cmd
	// Wait closes the stdout pipe.
	s.cmd, s.closer = nil, nil
	if err := cmd.Wait(); err != nil && s.index == 0 {
		return fmt.Errorf("FFmpeg execution failed: %w: %s", err, bytes.TrimSpace(s.stderr.Bytes()))
	}
	return nil
}

// Close stops FFmpeg if it is still running.
func (s *StreamSource) Close() error {
	var errs []error
	if s.closer != nil {
		errs = append(errs, s.closer.Close())
		s.closer = nil
	}
	if s.cmd != nil {
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
		_ = s.cmd.Wait()
		s.cmd = nil
	}
	return errors.Join(errs...)
}
