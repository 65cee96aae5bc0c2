// Package server exposes single-image analysis over HTTP.
package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/andresmejia3/visage/internal/pipeline"
	"github.com/andresmejia3/visage/internal/types"
	"github.com/andresmejia3/visage/internal/vision"
)

// Analyzer runs detection and classification on one frame.
type Analyzer interface {
	Analyze(frame vision.Frame) (*pipeline.FrameResult, error)
}

// ImageInput is the /api/analyze request body.
type ImageInput struct {
	Payload string `json:"payload" binding:"required"`
	Alias   string `json:"alias"`
}

// ToImage decodes the base64 payload.
func (i *ImageInput) ToImage() (image.Image, error) {
	data, err := base64.StdEncoding.DecodeString(i.Payload)
	if err != nil {
		return nil, fmt.Errorf("payload is not base64: %w", err)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("payload is not an image: %w", err)
	}
	return img, nil
}

// DetectedFace is one classified face in a response.
type DetectedFace struct {
	Index  int               `json:"index"`
	Box    types.BoundingBox `json:"box"`
	Region types.BoundingBox `json:"region"`
	Gender string            `json:"gender"`
	Age    string            `json:"age"`
}

// AnalyzeResponse is the /api/analyze response body.
type AnalyzeResponse struct {
	Faces   []DetectedFace `json:"faces"`
	Skipped int            `json:"skipped"`
}

// Server serializes requests onto a single analyzer; engines are not
// safe for concurrent use.
type Server struct {
	analyzer Analyzer
	sink     pipeline.Sink
	stats    *pipeline.Stats
	logger   *slog.Logger

	mu      sync.Mutex
	request int
}

// New returns a Server. sink and logger may be nil.
func New(a Analyzer, sink pipeline.Sink, stats *pipeline.Stats, logger *slog.Logger) *Server {
	if stats == nil {
		stats = &pipeline.Stats{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{analyzer: a, sink: sink, stats: stats, logger: logger}
}

// Router builds the gin engine. An empty origin list allows all origins.
func (s *Server) Router(origins []string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "HEAD"},
		AllowHeaders:     []string{"Origin", "Authorization", "Content-Type", "Content-Length", "X-Requested-With"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = origins
	}
	r.Use(cors.New(corsCfg))

	api := r.Group("/api")
	api.GET("/health", s.handleHealth)
	api.POST("/analyze", s.handleAnalyze)
	return r
}

// Run serves on addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string, origins []string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(origins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"stats":  s.stats.Snapshot(),
	})
}

func (s *Server) handleAnalyze(c *gin.Context) {
	input := ImageInput{}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, types.ErrorResult{Error: err.Error()})
		return
	}
	img, err := input.ToImage()
	if err != nil {
		c.JSON(http.StatusBadRequest, types.ErrorResult{Error: err.Error()})
		return
	}

	resp, err := s.analyze(vision.NewRGBAFrame(img), input.Alias)
	if err != nil {
		s.logger.Error("analysis failed", "error", err)
		c.JSON(http.StatusInternalServerError, types.ErrorResult{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) analyze(frame vision.Frame, alias string) (*AnalyzeResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	s.request++
	s.stats.IncrementFrames()

	res, err := s.analyzer.Analyze(frame)
	if err != nil {
		return nil, err
	}
	s.stats.AddSkipped(res.Skipped)
	if len(res.Detections) == 0 {
		s.stats.IncrementEmptyFrames()
	}

	resp := &AnalyzeResponse{Faces: []DetectedFace{}, Skipped: res.Skipped}
	for _, f := range res.Faces {
		s.stats.IncrementFaces()
		resp.Faces = append(resp.Faces, DetectedFace{
			Index:  f.Index,
			Box:    f.Box,
			Region: types.BoundingBox{X1: f.Region.Min.X, Y1: f.Region.Min.Y, X2: f.Region.Max.X, Y2: f.Region.Max.Y},
			Gender: f.Classification.Gender,
			Age:    f.Classification.Age,
		})

		if s.sink == nil {
			continue
		}
		rec := types.LogRecord{Alias: alias, Gender: f.Classification.Gender, Age: f.Classification.Age, Frame: s.request, Box: f.Box}
		if err := s.sink.Append(rec); err != nil {
			return nil, fmt.Errorf("append log record: %w", err)
		}
		s.stats.IncrementLogged()
	}
	s.stats.RecordLatency(time.Since(start))
	return resp, nil
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
		)
	}
}
