// Package bootstrap provides dependency initialization for the face-swap API.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/maauso/faceswap-api/internal/config"
	"github.com/maauso/faceswap-api/internal/download"
	"github.com/maauso/faceswap-api/internal/job"
	"github.com/maauso/faceswap-api/internal/media"
	"github.com/maauso/faceswap-api/internal/metrics"
	"github.com/maauso/faceswap-api/internal/pipeline"
	"github.com/maauso/faceswap-api/internal/server"
	"github.com/maauso/faceswap-api/internal/storage"
	"github.com/maauso/faceswap-api/internal/vision/remote"
	"github.com/maauso/faceswap-api/internal/worker"
)

// Dependencies holds all initialized dependencies for the API and the worker.
type Dependencies struct {
	Repository job.Repository
	Storage    storage.Storage
	Service    *job.Service
	Metrics    *metrics.Metrics
	Engine     *worker.Engine
	Loop       *worker.Loop

	closers []func() error
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	deps := &Dependencies{}

	// Initialize job repository
	repo, closeRepo, err := OpenRepository(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	deps.Repository = repo
	deps.closers = append(deps.closers, closeRepo)

	// Initialize storage
	store, err := initStorage(ctx, cfg, logger)
	if err != nil {
		_ = deps.Close()
		return nil, err
	}
	deps.Storage = store

	// Initialize inference client
	visionClient, err := remote.NewClient(cfg.InferenceURL,
		remote.WithAPIKey(cfg.InferenceAPIKey),
		remote.WithTimeout(cfg.InferenceTimeout),
	)
	if err != nil {
		_ = deps.Close()
		return nil, fmt.Errorf("create inference client: %w", err)
	}

	deps.Metrics = metrics.New()

	// Initialize frame pipeline
	processor := media.NewFFmpegProcessor(cfg.FFmpegPath, cfg.FFprobePath)
	videoPipeline := pipeline.NewVideoPipeline(
		processor,
		visionClient,
		visionClient,
		visionClient,
		pipeline.WithProgressEvery(cfg.ProgressEvery),
		pipeline.WithObserver(deps.Metrics),
		pipeline.WithLogger(logger),
	)

	downloader := download.NewAuto(
		download.NewHTTPDownloader(nil),
		download.NewYtDlpDownloader(cfg.YtDlpPath),
	)

	deps.Engine = worker.NewEngine(repo, store, downloader, videoPipeline,
		worker.WithRecorder(deps.Metrics),
		worker.WithLogger(logger),
	)
	deps.Loop = worker.NewLoop(repo, deps.Engine,
		worker.WithPollInterval(cfg.PollInterval),
		worker.WithLoopRecorder(deps.Metrics),
		worker.WithLoopLogger(logger),
	)
	deps.Service = job.NewService(repo, logger)

	return deps, nil
}

// Handler builds the HTTP handler serving the job API and metrics.
func (d *Dependencies) Handler(logger *slog.Logger) http.Handler {
	handlers := server.NewHandlers(d.Service, d.Storage, logger)
	cfg := server.DefaultConfig()
	cfg.Metrics = d.Metrics.Handler()
	return server.NewRouter(handlers, logger, cfg)
}

// Close releases resources held by the dependencies.
func (d *Dependencies) Close() error {
	var errs []error
	for _, c := range d.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}

// OpenRepository creates the job store selected by DB_DRIVER. The returned
// func closes it.
func OpenRepository(ctx context.Context, cfg *config.Config, logger *slog.Logger) (job.Repository, func() error, error) {
	if cfg.DBDriver == config.DBDriverMemory {
		logger.Warn("in-memory job store configured; jobs are lost on restart")
		return job.NewMemoryRepository(), func() error { return nil }, nil
	}

	if cfg.DBDriver == config.DBDriverSQLite && cfg.DBDSN == "" {
		if err := os.MkdirAll(cfg.DataDir, 0750); err != nil {
			return nil, nil, fmt.Errorf("create data directory: %w", err)
		}
	}

	repo, err := job.NewSQLRepository(ctx, cfg.DBDriver, cfg.DatabaseDSN())
	if err != nil {
		return nil, nil, fmt.Errorf("open job store: %w", err)
	}
	logger.Info("job store configured",
		slog.String("driver", cfg.DBDriver),
	)
	return repo, repo.Close, nil
}

// initStorage creates the appropriate storage backend based on configuration.
func initStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Storage, error) {
	localStore, err := storage.NewLocalStorage(cfg.TempDir, cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("create local storage: %w", err)
	}

	if cfg.S3Enabled() {
		s3Cfg := storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			PublicURL:       cfg.S3PublicURL,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		}
		s3Store, err := storage.NewS3Storage(ctx, localStore, s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 storage configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
		)
		return s3Store, nil
	}

	logger.Info("local storage configured",
		slog.String("temp_dir", cfg.TempDir),
		slog.String("data_dir", cfg.DataDir),
	)
	return localStore, nil
}
