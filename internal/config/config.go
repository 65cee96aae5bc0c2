package config

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config carries model artifacts and run defaults. Command flags override it.
type Config struct {
	FaceModel   string
	FaceProto   string
	AgeModel    string
	AgeProto    string
	GenderModel string
	GenderProto string

	Threshold     float64
	Padding       int
	DisplayWidth  int
	DisplayHeight int
	EngineCmd     string

	HTTPPort    string
	CORSOrigins string
	LogLevel    string

	DatabaseURL string
}

// Load reads an optional .env file, then the environment.
func Load() *Config {
	// A missing .env is fine: the process environment still applies.
	_ = godotenv.Load()

	return &Config{
		FaceModel:     getEnv("VISAGE_FACE_MODEL", "opencv_face_detector_uint8.pb"),
		FaceProto:     getEnv("VISAGE_FACE_PROTO", "opencv_face_detector.pbtxt"),
		AgeModel:      getEnv("VISAGE_AGE_MODEL", "age_net.caffemodel"),
		AgeProto:      getEnv("VISAGE_AGE_PROTO", "age_deploy.prototxt"),
		GenderModel:   getEnv("VISAGE_GENDER_MODEL", "gender_net.caffemodel"),
		GenderProto:   getEnv("VISAGE_GENDER_PROTO", "gender_deploy.prototxt"),
		Threshold:     getEnvFloat("VISAGE_THRESHOLD", 0.7),
		Padding:       getEnvInt("VISAGE_PADDING", 20),
		DisplayWidth:  getEnvInt("VISAGE_DISPLAY_WIDTH", 1000),
		DisplayHeight: getEnvInt("VISAGE_DISPLAY_HEIGHT", 900),
		EngineCmd:     getEnv("VISAGE_ENGINE_CMD", "python3 -u engine.py"),
		HTTPPort:      getEnv("VISAGE_HTTP_PORT", "8080"),
		CORSOrigins:   getEnv("CORS_ORIGINS", "*"),
		LogLevel:      getEnv("LOG_LEVEL", "INFO"),
		DatabaseURL:   databaseURL(),
	}
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	errs := c.analysisErrors()
	if c.DisplayWidth <= 0 || c.DisplayHeight <= 0 {
		errs = append(errs, fmt.Errorf("display size %dx%d must be positive", c.DisplayWidth, c.DisplayHeight))
	}
	return errors.Join(errs...)
}

// ValidateAnalysis checks only the detection and extraction settings, for
// commands without a display.
func (c *Config) ValidateAnalysis() error {
	return errors.Join(c.analysisErrors()...)
}

func (c *Config) analysisErrors() []error {
	var errs []error
	if c.Threshold <= 0 || c.Threshold > 1 {
		errs = append(errs, fmt.Errorf("threshold %v must be in (0, 1]", c.Threshold))
	}
	if c.Padding < 0 {
		errs = append(errs, fmt.Errorf("padding %d must not be negative", c.Padding))
	}
	return errs
}

// DisplaySize returns the window size as a point.
func (c *Config) DisplaySize() image.Point {
	return image.Pt(c.DisplayWidth, c.DisplayHeight)
}

// SetDisplaySize parses "WIDTHxHEIGHT".
func (c *Config) SetDisplaySize(s string) error {
	w, h, ok := strings.Cut(strings.ToLower(s), "x")
	if !ok {
		return fmt.Errorf("display size %q is not WIDTHxHEIGHT", s)
	}
	width, err := strconv.Atoi(strings.TrimSpace(w))
	if err != nil {
		return fmt.Errorf("display width: %w", err)
	}
	height, err := strconv.Atoi(strings.TrimSpace(h))
	if err != nil {
		return fmt.Errorf("display height: %w", err)
	}
	c.DisplayWidth, c.DisplayHeight = width, height
	return nil
}

// SlogLevel maps LOG_LEVEL to a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// databaseURL prefers DATABASE_URL, then the POSTGRES_* group. An empty
// result disables the Postgres mirror.
func databaseURL() string {
	if url := os.Getenv("DATABASE_URL"); url != "" {
		return url
	}
	host := os.Getenv("POSTGRES_HOST")
	if host == "" {
		return ""
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s",
		os.Getenv("POSTGRES_USER"),
		os.Getenv("POSTGRES_PASSWORD"),
		host,
		getEnv("POSTGRES_PORT", "5432"),
		getEnv("POSTGRES_DB", "visage"),
	)
}

func getEnv(key string, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if intVal, err := strconv.Atoi(v); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}
