package utils

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
)

// --- 1. Process Safety & Command Wrapping ---

// SafeCommand wraps a standard exec.Cmd with a buffer to catch Stderr (engine logs)
// so crash information survives the process.
type SafeCommand struct {
	*exec.Cmd
	Stderr *bytes.Buffer
}

// NewSafeCommand initializes a command and attaches a buffer to its Stderr pipe.
// It prepares the command for execution but does not start it.
func NewSafeCommand(name string, args ...string) *SafeCommand {
	cmd := exec.Command(name, args...)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	return &SafeCommand{Cmd: cmd, Stderr: stderr}
}

// WriteError prints the boxed error report and any logs captured by s.
func WriteError(w io.Writer, context string, err error, s *SafeCommand) {
	fmt.Fprintf(w, "\n---------------------------------------------------------\n")
	fmt.Fprintf(w, "🚨 VISAGE ERROR: %s\n", context)
	if err != nil {
		fmt.Fprintf(w, "DETAILS: %v\n", err)
	}

	if s != nil && s.Stderr.Len() > 0 {
		fmt.Fprintf(w, "\nENGINE CRASH LOGS:\n%s\n", s.Stderr.String())
	}
	fmt.Fprintf(w, "---------------------------------------------------------\n")
}

// ShowError reports a fatal error on stderr without exiting.
func ShowError(context string, err error, s *SafeCommand) {
	WriteError(os.Stderr, context, err, s)
}

// Die is the unified exit strategy for argument-level failures.
func Die(context string, err error, s *SafeCommand) {
	ShowError(context, err, s)
	os.Exit(1)
}

// --- 2. Frame Decoding ---

var (
	JpegSOI = []byte{0xFF, 0xD8} // Start of Image
	JpegEOI = []byte{0xFF, 0xD9} // End of Image
)

// GetTotalFrames uses ffprobe to count frames for the progress bar.
// It returns 0 if the count fails, so callers can fall back to a spinner.
func GetTotalFrames(path string) int {
	if _, err := exec.LookPath("ffprobe"); err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  ffprobe not found. Cannot provide a progress bar estimation because of this.\n")
		return 0
	}

	type ffprobeOutput struct {
		Streams []struct {
			NbFrames      string `json:"nb_frames"`
			NbReadPackets string `json:"nb_read_packets"`
		} `json:"streams"`
	}

	// Fast path: container metadata. Missing or "N/A" for many formats.
	cmdFast := exec.Command("ffprobe", "-v", "error", "-select_streams", "v:0", "-show_entries", "stream=nb_frames", "-of", "json", path)
	if out, err := cmdFast.Output(); err == nil {
		var res ffprobeOutput
		if json.Unmarshal(out, &res) == nil && len(res.Streams) > 0 {
			if count, err := strconv.Atoi(res.Streams[0].NbFrames); err == nil && count > 0 {
				return count
			}
		}
	}

	// Slow path: count packets.
	fmt.Fprintf(os.Stderr, "⏳ Metadata missing. Counting frames (this may take a moment)...\n")
	cmd := exec.Command("ffprobe", "-v", "error", "-select_streams", "v:0", "-count_packets",
		"-show_entries", "stream=nb_read_packets", "-of", "json", path)
	out, err := cmd.Output()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ffprobe failed: %v\n", err)
		return 0
	}

	var res ffprobeOutput
	if err := json.Unmarshal(out, &res); err != nil || len(res.Streams) == 0 {
		return 0
	}
	count, err := strconv.Atoi(res.Streams[0].NbReadPackets)
	if err != nil {
		return 0
	}
	return count
}

// SplitJpeg is a bufio.SplitFunc that yields complete JPEG images by
// locating the Start Of Image (FFD8) and End Of Image (FFD9) markers.
func SplitJpeg(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	start := bytes.Index(data, JpegSOI)
	if start == -1 {
		return 0, nil, nil
	}
	end := bytes.Index(data[start:], JpegEOI)
	if end == -1 {
		return 0, nil, nil
	}
	return start + end + 2, data[start : start+end+2], nil
}

// NewFFmpegCmd decodes a file (video or still image) into MJPEG frames on stdout.
func NewFFmpegCmd(inputPath string) *exec.Cmd {
	return exec.Command("ffmpeg", "-hide_banner", "-loglevel", "error", "-i", inputPath, "-f", "image2pipe", "-vcodec", "mjpeg", "-")
}

// NewFFmpegCameraCmd streams a V4L2 capture device as MJPEG frames.
func NewFFmpegCameraCmd(index int) *exec.Cmd {
	device := fmt.Sprintf("/dev/video%d", index)
	return exec.Command("ffmpeg", "-hide_banner", "-loglevel", "error", "-f", "v4l2", "-i", device, "-f", "image2pipe", "-vcodec", "mjpeg", "-")
}

// SourceID returns a stable identifier for a capture source. Files hash
// their path, size and modification time, cameras use their index.
func SourceID(input string, camera int) (string, error) {
	if input == "" {
		return fmt.Sprintf("camera-%d", camera), nil
	}
	info, err := os.Stat(input)
	if err != nil {
		return "", err
	}
	key := fmt.Sprintf("%s-%d-%d", input, info.Size(), info.ModTime().UnixNano())
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:]), nil
}
