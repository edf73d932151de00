package config

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/sethvargo/go-envconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadFrom(t *testing.T, env map[string]string) (*Config, error) {
	t.Helper()
	return load(context.Background(), envconfig.MapLookuper(env))
}

func TestLoad_RequiredVariables(t *testing.T) {
	t.Run("missing INFERENCE_URL returns error", func(t *testing.T) {
		_, err := loadFrom(t, map[string]string{})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInferenceURLRequired)
	})

	t.Run("all required variables present succeeds", func(t *testing.T) {
		cfg, err := loadFrom(t, map[string]string{
			"INFERENCE_URL": "http://inference:8000",
		})
		require.NoError(t, err)
		assert.Equal(t, "http://inference:8000", cfg.InferenceURL)
	})
}

func TestLoad_FromProcessEnvironment(t *testing.T) {
	t.Setenv("INFERENCE_URL", "http://inference:8000")
	t.Setenv("PORT", "8181")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8181, cfg.Port)
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := loadFrom(t, map[string]string{
		"INFERENCE_URL": "http://inference:8000",
	})
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "/tmp/faceswap", cfg.TempDir)
	assert.Equal(t, "/var/lib/faceswap", cfg.DataDir)
	assert.Equal(t, DBDriverSQLite, cfg.DBDriver)
	assert.Equal(t, "/var/lib/faceswap/jobs.db", cfg.DatabaseDSN())
	assert.Equal(t, 60*time.Second, cfg.InferenceTimeout)
	assert.Equal(t, 5*time.Second, cfg.PollInterval)
	assert.Equal(t, 10, cfg.ProgressEvery)
	assert.Equal(t, "ffmpeg", cfg.FFmpegPath)
	assert.Equal(t, "ffprobe", cfg.FFprobePath)
	assert.Equal(t, "yt-dlp", cfg.YtDlpPath)
	assert.Equal(t, 9090, cfg.MetricsPort)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.S3Enabled())
	assert.False(t, cfg.TracingEnabled())
}

func TestLoad_CustomValues(t *testing.T) {
	cfg, err := loadFrom(t, map[string]string{
		"INFERENCE_URL":         "http://inference:8000",
		"INFERENCE_API_KEY":     "inference-key",
		"INFERENCE_TIMEOUT":     "2m",
		"PORT":                  "3000",
		"TEMP_DIR":              "/custom/temp",
		"DATA_DIR":              "/custom/data",
		"DB_DRIVER":             "postgres",
		"DB_DSN":                "postgres://user:pass@db/faceswap?sslmode=disable",
		"POLL_INTERVAL":         "750ms",
		"PROGRESS_EVERY":        "25",
		"FFMPEG_PATH":           "/opt/bin/ffmpeg",
		"S3_BUCKET":             "my-bucket",
		"S3_REGION":             "auto",
		"S3_ENDPOINT":           "https://account.r2.cloudflarestorage.com",
		"S3_PUBLIC_URL":         "https://cdn.example.com",
		"AWS_ACCESS_KEY_ID":     "access-key",
		"AWS_SECRET_ACCESS_KEY": "secret-key",
		"METRICS_PORT":          "9191",
		"OTLP_ENDPOINT":         "otel-collector:4318",
		"LOG_FORMAT":            "json",
		"LOG_LEVEL":             "debug",
	})
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Port)
	assert.Equal(t, "/custom/temp", cfg.TempDir)
	assert.Equal(t, DBDriverPostgres, cfg.DBDriver)
	assert.Equal(t, "postgres://user:pass@db/faceswap?sslmode=disable", cfg.DatabaseDSN())
	assert.Equal(t, "inference-key", cfg.InferenceAPIKey)
	assert.Equal(t, 2*time.Minute, cfg.InferenceTimeout)
	assert.Equal(t, 750*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, 25, cfg.ProgressEvery)
	assert.Equal(t, "/opt/bin/ffmpeg", cfg.FFmpegPath)
	assert.Equal(t, "my-bucket", cfg.S3Bucket)
	assert.Equal(t, "auto", cfg.S3Region)
	assert.Equal(t, "https://account.r2.cloudflarestorage.com", cfg.S3Endpoint)
	assert.Equal(t, "https://cdn.example.com", cfg.S3PublicURL)
	assert.Equal(t, "access-key", cfg.AWSAccessKeyID)
	assert.Equal(t, "secret-key", cfg.AWSSecretAccessKey)
	assert.Equal(t, 9191, cfg.MetricsPort)
	assert.Equal(t, "otel-collector:4318", cfg.OTLPEndpoint)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.S3Enabled())
	assert.True(t, cfg.TracingEnabled())
}

func TestLoad_InvalidValues(t *testing.T) {
	t.Run("non-numeric port", func(t *testing.T) {
		_, err := loadFrom(t, map[string]string{
			"INFERENCE_URL": "http://inference:8000",
			"PORT":          "not-a-number",
		})
		require.Error(t, err)
	})

	t.Run("bad duration", func(t *testing.T) {
		_, err := loadFrom(t, map[string]string{
			"INFERENCE_URL": "http://inference:8000",
			"POLL_INTERVAL": "soon",
		})
		require.Error(t, err)
	})

	t.Run("unknown driver", func(t *testing.T) {
		_, err := loadFrom(t, map[string]string{
			"INFERENCE_URL": "http://inference:8000",
			"DB_DRIVER":     "mysql",
		})
		assert.ErrorIs(t, err, ErrInvalidDBDriver)
	})

	t.Run("zero progress interval", func(t *testing.T) {
		_, err := loadFrom(t, map[string]string{
			"INFERENCE_URL":  "http://inference:8000",
			"PROGRESS_EVERY": "0",
		})
		assert.ErrorIs(t, err, ErrInvalidProgressEvery)
	})
}

func TestConfig_S3Enabled(t *testing.T) {
	tests := []struct {
		name     string
		bucket   string
		region   string
		expected bool
	}{
		{"both set", "bucket", "region", true},
		{"only bucket", "bucket", "", false},
		{"only region", "", "region", false},
		{"neither set", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				S3Bucket: tt.bucket,
				S3Region: tt.region,
			}
			assert.Equal(t, tt.expected, cfg.S3Enabled())
		})
	}
}

func TestConfig_String(t *testing.T) {
	cfg := &Config{
		Port:               8080,
		InferenceURL:       "http://inference:8000",
		InferenceAPIKey:    "secret-key",
		DBDSN:              "postgres://user:hunter2@db/faceswap",
		TempDir:            "/tmp/test",
		S3Bucket:           "bucket",
		S3Region:           "region",
		AWSSecretAccessKey: "aws-secret",
		LogFormat:          "json",
		LogLevel:           "info",
	}

	str := cfg.String()

	// Should contain non-sensitive values
	assert.Contains(t, str, "8080")
	assert.Contains(t, str, "http://inference:8000")
	assert.Contains(t, str, "/tmp/test")

	// Should NOT contain sensitive values
	assert.NotContains(t, str, "secret-key")
	assert.NotContains(t, str, "hunter2")
	assert.NotContains(t, str, "aws-secret")
}

func TestConfig_NewLogger(t *testing.T) {
	for _, format := range []string{"json", "text"} {
		t.Run(format, func(t *testing.T) {
			cfg := &Config{LogFormat: format, LogLevel: "warn"}
			logger := cfg.NewLogger()
			require.NotNil(t, logger)
			assert.False(t, logger.Enabled(context.Background(), slog.LevelInfo))
			assert.True(t, logger.Enabled(context.Background(), slog.LevelWarn))
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"ERROR", slog.LevelError},
		{"unknown", slog.LevelInfo}, // defaults to info
		{"", slog.LevelInfo},        // defaults to info
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseLogLevel(tt.input))
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Run("valid config", func(t *testing.T) {
		cfg := &Config{
			InferenceURL:  "http://inference:8000",
			DBDriver:      DBDriverMemory,
			ProgressEvery: 10,
		}
		assert.NoError(t, cfg.Validate())
	})

	t.Run("missing inference URL", func(t *testing.T) {
		cfg := &Config{DBDriver: DBDriverSQLite, ProgressEvery: 10}
		assert.ErrorIs(t, cfg.Validate(), ErrInferenceURLRequired)
	})
}
