// Package worker drives an external inference engine process over a
// length-prefixed binary protocol. Requests go to the engine's stdin,
// responses come back on a dedicated side-channel pipe (FD 3) so engine
// logging on stdout/stderr cannot corrupt the stream.
package worker

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"math"
	"os"
	"strings"
	"sync"

	"github.com/andresmejia3/visage/internal/types"
	"github.com/andresmejia3/visage/internal/utils"
	"github.com/andresmejia3/visage/internal/vision"
)

// Op selects the engine network a request is routed to.
type Op byte

const (
	OpDetect Op = 'F'
	OpGender Op = 'G'
	OpAge    Op = 'A'
	OpPing   Op = 'P'
)

const (
	statusOK    = 0
	statusError = 1

	// maxVectorLen bounds the float count accepted in a response.
	maxVectorLen = 1 << 20
)

// ErrEngine wraps failures reported by the engine itself.
var ErrEngine = errors.New("engine error")

// Engine is one running engine process.
type Engine struct {
	ID       int
	Cmd      *utils.SafeCommand
	Stdin    io.WriteCloser
	DataPipe io.ReadCloser
	// Quality is the JPEG quality used to ship regions.
	Quality int

	mu sync.Mutex
}

// Start launches command (e.g. "python3 -u engine.py") with FD 3 wired
// back to the parent.
func Start(id int, command string) (*Engine, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil, errors.New("engine command is empty")
	}
	proc := utils.NewSafeCommand(fields[0], fields[1:]...)

	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	// The write end appears as FD 3 in the child.
	proc.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := proc.StdinPipe()
	if err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := proc.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("engine %d failed to start: %w", id, err)
	}

	// Only the child holds the write end from here on.
	w.Close()

	return &Engine{
		ID:       id,
		Cmd:      proc,
		Stdin:    stdin,
		DataPipe: r,
		Quality:  95,
	}, nil
}

// Communicate sends one framed request and returns the framed response body.
func (e *Engine) Communicate(data []byte) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	// Protocol: [Length][Data]
	if err := binary.Write(e.Stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, err
	}
	if _, err := e.Stdin.Write(data); err != nil {
		return nil, err
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(e.DataPipe, header); err != nil {
		// The engine died before answering; its stderr holds the reason.
		return nil, fmt.Errorf("engine %d closed its data pipe: %w", e.ID, err)
	}

	respLen := binary.BigEndian.Uint32(header)
	respBody := make([]byte, respLen)
	_, err := io.ReadFull(e.DataPipe, respBody)
	return respBody, err
}

// Score runs region through the engine network selected by op.
func (e *Engine) Score(op Op, region vision.Frame, size image.Point, mean types.Mean, swapRB bool) ([]float32, error) {
	var img bytes.Buffer
	if region != nil {
		m, err := vision.ToImage(region)
		if err != nil {
			return nil, err
		}
		if err := jpeg.Encode(&img, m, &jpeg.Options{Quality: e.Quality}); err != nil {
			return nil, fmt.Errorf("encode region: %w", err)
		}
	}

	resp, err := e.Communicate(encodeRequest(op, size, mean, swapRB, img.Bytes()))
	if err != nil {
		return nil, err
	}
	return decodeResponse(resp)
}

// Scorer binds op to a vision.Scorer.
func (e *Engine) Scorer(op Op) vision.Scorer {
	return opScorer{engine: e, op: op}
}

// Ping checks the engine loaded its networks.
func (e *Engine) Ping() error {
	_, err := e.Score(OpPing, nil, image.Point{}, types.Mean{}, false)
	return err
}

// Close shuts the pipes and waits for the process to exit.
func (e *Engine) Close() error {
	e.Stdin.Close()
	e.DataPipe.Close()
	if e.Cmd == nil {
		return nil
	}
	return e.Cmd.Wait()
}

type opScorer struct {
	engine *Engine
	op     Op
}

func (s opScorer) ScoreVector(region vision.Frame, size image.Point, mean types.Mean, swapRB bool) ([]float32, error) {
	return s.engine.Score(s.op, region, size, mean, swapRB)
}

// encodeRequest lays out [op][w u16][h u16][mean 3×f32][swapRB][JPEG].
func encodeRequest(op Op, size image.Point, mean types.Mean, swapRB bool, img []byte) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, 18+len(img)))
	buf.WriteByte(byte(op))
	binary.Write(buf, binary.BigEndian, uint16(size.X))
	binary.Write(buf, binary.BigEndian, uint16(size.Y))
	for _, m := range mean {
		binary.Write(buf, binary.BigEndian, float32(m))
	}
	if swapRB {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	buf.Write(img)
	return buf.Bytes()
}

func decodeResponse(body []byte) ([]float32, error) {
	r := bytes.NewReader(body)

	status, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("empty engine response: %w", err)
	}

	switch status {
	case statusOK:
		var n uint32
		if err := binary.Read(r, binary.BigEndian, &n); err != nil {
			return nil, fmt.Errorf("read vector length: %w", err)
		}
		if n > maxVectorLen || int(n)*4 > r.Len() {
			return nil, fmt.Errorf("engine announced %d floats but sent %d bytes", n, r.Len())
		}
		out := make([]float32, n)
		for i := range out {
			var bits uint32
			binary.Read(r, binary.BigEndian, &bits)
			out[i] = math.Float32frombits(bits)
		}
		return out, nil

	case statusError:
		var msgLen uint32
		if err := binary.Read(r, binary.BigEndian, &msgLen); err != nil {
			return nil, fmt.Errorf("read error length: %w", err)
		}
		msg := make([]byte, msgLen)
		if _, err := io.ReadFull(r, msg); err != nil {
			return nil, fmt.Errorf("read error message: %w", err)
		}
		return nil, fmt.Errorf("%w: %s", ErrEngine, msg)

	default:
		return nil, fmt.Errorf("unknown engine status %d", status)
	}
}
