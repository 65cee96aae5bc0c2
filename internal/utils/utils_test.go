package utils

import (
	"bufio"
	"bytes"
	"errors"
	"os"
	"strings"
	"testing"
)

func TestSplitJpeg(t *testing.T) {
	// [Garbage] [JPEG] [JPEG] [Garbage]
	first := []byte{0xFF, 0xD8, 0x01, 0x02, 0x03, 0xFF, 0xD9}
	second := []byte{0xFF, 0xD8, 0x04, 0xFF, 0xD9}

	stream := []byte{0x00, 0x00}
	stream = append(stream, first...)
	stream = append(stream, second...)
	stream = append(stream, 0x00, 0x00)

	scanner := bufio.NewScanner(bytes.NewReader(stream))
	scanner.Split(SplitJpeg)

	for i, want := range [][]byte{first, second} {
		if !scanner.Scan() {
			t.Fatalf("Expected token %d, got EOF", i)
		}
		if !bytes.Equal(scanner.Bytes(), want) {
			t.Errorf("Token %d: expected %X, got %X", i, want, scanner.Bytes())
		}
	}

	// Trailing garbage is not a JPEG.
	if scanner.Scan() {
		t.Error("Expected only two tokens, found more")
	}
}

func TestSplitJpegIncomplete(t *testing.T) {
	scanner := bufio.NewScanner(bytes.NewReader([]byte{0xFF, 0xD8, 0x01, 0x02}))
	scanner.Split(SplitJpeg)
	if scanner.Scan() {
		t.Error("A truncated image must not be emitted")
	}
}

func TestSourceID(t *testing.T) {
	tmp, err := os.CreateTemp(t.TempDir(), "clip")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tmp.Write([]byte("fake video content")); err != nil {
		t.Fatal(err)
	}
	tmp.Close()

	id, err := SourceID(tmp.Name(), 0)
	if err != nil || id == "" {
		t.Fatalf("Failed to generate ID: %v", err)
	}

	id2, _ := SourceID(tmp.Name(), 0)
	if id != id2 {
		t.Errorf("Hash is not deterministic. Got %s, then %s", id, id2)
	}

	f, _ := os.OpenFile(tmp.Name(), os.O_APPEND|os.O_WRONLY, 0644)
	f.Write([]byte(" modification"))
	f.Close()

	id3, _ := SourceID(tmp.Name(), 0)
	if id == id3 {
		t.Error("Hash did not change after file modification")
	}

	cam, err := SourceID("", 2)
	if err != nil || cam != "camera-2" {
		t.Errorf("camera id = %q, %v", cam, err)
	}

	if _, err := SourceID("/does/not/exist.mp4", 0); err == nil {
		t.Error("Expected an error for a missing file")
	}
}

func TestWriteError(t *testing.T) {
	s := NewSafeCommand("true")
	s.Stderr.WriteString("Traceback: model not found")

	var buf bytes.Buffer
	WriteError(&buf, "Engine startup failed", errors.New("exit status 1"), s)

	out := buf.String()
	for _, want := range []string{"VISAGE ERROR: Engine startup failed", "DETAILS: exit status 1", "ENGINE CRASH LOGS", "model not found"} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	WriteError(&buf, "No logs", nil, nil)
	if strings.Contains(buf.String(), "DETAILS") || strings.Contains(buf.String(), "CRASH") {
		t.Errorf("unexpected sections:\n%s", buf.String())
	}
}

func TestFFmpegCommands(t *testing.T) {
	cmd := NewFFmpegCmd("clip.mp4")
	if !strings.Contains(strings.Join(cmd.Args, " "), "-i clip.mp4 -f image2pipe -vcodec mjpeg -") {
		t.Errorf("unexpected args %v", cmd.Args)
	}
	cam := NewFFmpegCameraCmd(1)
	if !strings.Contains(strings.Join(cam.Args, " "), "-f v4l2 -i /dev/video1") {
		t.Errorf("unexpected args %v", cam.Args)
	}
}
