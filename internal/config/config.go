// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Static errors for configuration validation.
var (
	// ErrInferenceURLRequired is returned when INFERENCE_URL is not set.
	ErrInferenceURLRequired = errors.New("config: INFERENCE_URL is required")
	// ErrInvalidDBDriver is returned when DB_DRIVER is not a supported value.
	ErrInvalidDBDriver = errors.New("config: DB_DRIVER must be sqlite3, postgres or memory")
	// ErrInvalidProgressEvery is returned when PROGRESS_EVERY is not positive.
	ErrInvalidProgressEvery = errors.New("config: PROGRESS_EVERY must be positive")
)

// Database drivers accepted in DB_DRIVER.
const (
	DBDriverSQLite   = "sqlite3"
	DBDriverPostgres = "postgres"
	DBDriverMemory   = "memory"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port int `env:"PORT, default=8080" json:"port"`

	// Filesystem settings
	TempDir string `env:"TEMP_DIR, default=/tmp/faceswap" json:"temp_dir"`
	DataDir string `env:"DATA_DIR, default=/var/lib/faceswap" json:"data_dir"`

	// Job store settings
	DBDriver string `env:"DB_DRIVER, default=sqlite3" json:"db_driver"`
	DBDSN    string `env:"DB_DSN" json:"-"` // May contain credentials

	// Inference service settings
	InferenceURL     string        `env:"INFERENCE_URL, required" json:"inference_url"`
	InferenceAPIKey  string        `env:"INFERENCE_API_KEY" json:"-"` // Masked in JSON
	InferenceTimeout time.Duration `env:"INFERENCE_TIMEOUT, default=60s" json:"inference_timeout"`

	// Worker settings
	PollInterval  time.Duration `env:"POLL_INTERVAL, default=5s" json:"poll_interval"`
	ProgressEvery int           `env:"PROGRESS_EVERY, default=10" json:"progress_every"`

	// External binaries
	FFmpegPath  string `env:"FFMPEG_PATH, default=ffmpeg" json:"ffmpeg_path"`
	FFprobePath string `env:"FFPROBE_PATH, default=ffprobe" json:"ffprobe_path"`
	YtDlpPath   string `env:"YTDLP_PATH, default=yt-dlp" json:"ytdlp_path"`

	// Optional S3 settings (S3_ENDPOINT targets R2 or other compatible stores)
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	S3PublicURL        string `env:"S3_PUBLIC_URL" json:"s3_public_url,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Observability settings
	MetricsPort  int    `env:"METRICS_PORT, default=9090" json:"metrics_port"`
	OTLPEndpoint string `env:"OTLP_ENDPOINT" json:"otlp_endpoint,omitempty"`

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// TracingEnabled returns true if an OTLP endpoint is configured.
func (c *Config) TracingEnabled() bool {
	return c.OTLPEndpoint != ""
}

// DatabaseDSN returns DB_DSN, defaulting to a SQLite file under DataDir.
func (c *Config) DatabaseDSN() string {
	if c.DBDSN != "" {
		return c.DBDSN
	}
	return filepath.Join(c.DataDir, "jobs.db")
}

// Load reads configuration from environment variables using go-envconfig.
// It returns an error if required variables are not set.
func Load() (*Config, error) {
	return load(context.Background(), envconfig.OsLookuper())
}

func load(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	cfg := &Config{}

	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   cfg,
		Lookuper: lookuper,
	}); err != nil {
		// Map envconfig errors to our domain errors for required fields
		if strings.Contains(err.Error(), "INFERENCE_URL") {
			return nil, ErrInferenceURLRequired
		}
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present and consistent.
func (c *Config) Validate() error {
	if c.InferenceURL == "" {
		return ErrInferenceURLRequired
	}
	switch c.DBDriver {
	case DBDriverSQLite, DBDriverPostgres, DBDriverMemory:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidDBDriver, c.DBDriver)
	}
	if c.ProgressEvery <= 0 {
		return ErrInvalidProgressEvery
	}
	return nil
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	level := parseLogLevel(c.LogLevel)

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, TempDir: %s, DataDir: %s, DBDriver: %s, InferenceURL: %s, InferenceTimeout: %s, PollInterval: %s, ProgressEvery: %d, S3Bucket: %s, S3Region: %s, S3Endpoint: %s, MetricsPort: %d, OTLPEndpoint: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.TempDir,
		c.DataDir,
		c.DBDriver,
		c.InferenceURL,
		c.InferenceTimeout,
		c.PollInterval,
		c.ProgressEvery,
		c.S3Bucket,
		c.S3Region,
		c.S3Endpoint,
		c.MetricsPort,
		c.OTLPEndpoint,
		c.LogFormat,
		c.LogLevel,
	)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
