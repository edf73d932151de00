package bootstrap

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/faceswap-api/internal/config"
	"github.com/maauso/faceswap-api/internal/job"
	"github.com/maauso/faceswap-api/internal/storage"
)

func testConfig(t *testing.T, driver string) *config.Config {
	t.Helper()
	root := t.TempDir()
	return &config.Config{
		TempDir:          filepath.Join(root, "tmp"),
		DataDir:          filepath.Join(root, "data"),
		DBDriver:         driver,
		InferenceURL:     "http://127.0.0.1:9",
		InferenceTimeout: time.Second,
		PollInterval:     time.Second,
		ProgressEvery:    10,
		FFmpegPath:       "ffmpeg",
		FFprobePath:      "ffprobe",
		YtDlpPath:        "yt-dlp",
	}
}

func TestNewDependencies_Memory(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	deps, err := NewDependencies(context.Background(), testConfig(t, config.DBDriverMemory), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = deps.Close() })

	assert.IsType(t, &job.MemoryRepository{}, deps.Repository)
	assert.IsType(t, &storage.LocalStorage{}, deps.Storage)
	assert.NotNil(t, deps.Service)
	assert.NotNil(t, deps.Engine)
	assert.NotNil(t, deps.Loop)

	handler := deps.Handler(logger)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	deps.Metrics.SetQueueDepth(2)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "faceswap_queue_depth 2")
}

func TestOpenRepository_SQLiteDefaultDSN(t *testing.T) {
	cfg := testConfig(t, config.DBDriverSQLite)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	repo, closeRepo, err := OpenRepository(context.Background(), cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = closeRepo() })

	j := job.New()
	j.InputVideoPath = "/uploads/in.mp4"
	j.SourceFaces = []string{"/uploads/face.png"}
	require.NoError(t, repo.Save(context.Background(), j))

	assert.FileExists(t, filepath.Join(cfg.DataDir, "jobs.db"))
}

func TestNewDependencies_MissingInferenceURL(t *testing.T) {
	cfg := testConfig(t, config.DBDriverMemory)
	cfg.InferenceURL = ""

	_, err := NewDependencies(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Error(t, err)
}
