package server

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/andresmejia3/visage/internal/pipeline"
	"github.com/andresmejia3/visage/internal/types"
	"github.com/andresmejia3/visage/internal/vision"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeAnalyzer struct {
	res    *pipeline.FrameResult
	err    error
	bounds image.Rectangle
}

func (a *fakeAnalyzer) Analyze(f vision.Frame) (*pipeline.FrameResult, error) {
	a.bounds = f.Bounds()
	return a.res, a.err
}

type memorySink struct {
	rows []types.LogRecord
	err  error
}

func (s *memorySink) Append(rec types.LogRecord) error {
	if s.err != nil {
		return s.err
	}
	s.rows = append(s.rows, rec)
	return nil
}

func pngPayload(t *testing.T, w, h int) string {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))); err != nil {
		t.Fatal(err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func post(t *testing.T, r http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/analyze", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAnalyze(t *testing.T) {
	box := types.BoundingBox{X1: 50, Y1: 50, X2: 150, Y2: 150}
	analyzer := &fakeAnalyzer{res: &pipeline.FrameResult{
		Detections: types.DetectionResult{box, {X1: 900, Y1: 900, X2: 950, Y2: 950}},
		Faces: []pipeline.FaceResult{{
			Index:          0,
			Box:            box,
			Region:         image.Rect(30, 30, 170, 170),
			Classification: types.FaceClassification{Gender: "Male", Age: "18-20"},
		}},
		Skipped: 1,
	}}
	sink := &memorySink{}
	stats := &pipeline.Stats{}
	s := New(analyzer, sink, stats, discardLogger())
	r := s.Router(nil)

	body, _ := json.Marshal(ImageInput{Payload: pngPayload(t, 640, 480), Alias: "A"})
	w := post(t, r, string(body))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var resp AnalyzeResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Faces) != 1 || resp.Skipped != 1 {
		t.Fatalf("response = %+v", resp)
	}
	f := resp.Faces[0]
	if f.Gender != "Male" || f.Age != "18-20" || f.Box != box || f.Region != (types.BoundingBox{X1: 30, Y1: 30, X2: 170, Y2: 170}) {
		t.Errorf("face = %+v", f)
	}
	if analyzer.bounds != image.Rect(0, 0, 640, 480) {
		t.Errorf("analyzer saw %v", analyzer.bounds)
	}

	if len(sink.rows) != 1 || sink.rows[0].Alias != "A" || sink.rows[0].Frame != 1 {
		t.Errorf("rows = %+v", sink.rows)
	}
	if snap := stats.Snapshot(); snap.Frames != 1 || snap.Faces != 1 || snap.Skipped != 1 || snap.Logged != 1 {
		t.Errorf("stats = %+v", snap)
	}
}

func TestAnalyzeNoFaces(t *testing.T) {
	s := New(&fakeAnalyzer{res: &pipeline.FrameResult{}}, nil, nil, discardLogger())
	body, _ := json.Marshal(ImageInput{Payload: pngPayload(t, 8, 8)})
	w := post(t, s.Router(nil), string(body))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"faces":[]`) {
		t.Errorf("expected an empty face list, got %s", w.Body.String())
	}
}

func TestAnalyzeErrors(t *testing.T) {
	valid, _ := json.Marshal(ImageInput{Payload: pngPayload(t, 8, 8)})

	tests := []struct {
		name     string
		body     string
		analyzer *fakeAnalyzer
		sink     pipeline.Sink
		want     int
	}{
		{"bad json", "{", &fakeAnalyzer{}, nil, http.StatusBadRequest},
		{"missing payload", `{"alias":"A"}`, &fakeAnalyzer{}, nil, http.StatusBadRequest},
		{"bad base64", `{"payload":"***"}`, &fakeAnalyzer{}, nil, http.StatusBadRequest},
		{"not an image", `{"payload":"aGVsbG8="}`, &fakeAnalyzer{}, nil, http.StatusBadRequest},
		{"inference error", string(valid), &fakeAnalyzer{err: errors.New("engine down")}, nil, http.StatusInternalServerError},
		{
			"sink error", string(valid),
			&fakeAnalyzer{res: &pipeline.FrameResult{
				Detections: types.DetectionResult{{X1: 1, Y1: 1, X2: 5, Y2: 5}},
				Faces:      []pipeline.FaceResult{{Classification: types.FaceClassification{Gender: "Female", Age: "0-2"}}},
			}},
			&memorySink{err: errors.New("disk full")},
			http.StatusInternalServerError,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(tt.analyzer, tt.sink, nil, discardLogger())
			w := post(t, s.Router(nil), tt.body)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", w.Code, tt.want, w.Body.String())
			}
			var er types.ErrorResult
			if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil || er.Error == "" {
				t.Errorf("expected an error body, got %s", w.Body.String())
			}
		})
	}
}

func TestHealth(t *testing.T) {
	stats := &pipeline.Stats{}
	stats.IncrementFrames()
	s := New(&fakeAnalyzer{}, nil, stats, discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	w := httptest.NewRecorder()
	s.Router([]string{"http://localhost:3000"}).ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body struct {
		Status string            `json:"status"`
		Stats  pipeline.Snapshot `json:"stats"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "ok" || body.Stats.Frames != 1 {
		t.Errorf("health = %+v", body)
	}
}
