package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/maauso/faceswap-api/internal/bootstrap"
	"github.com/maauso/faceswap-api/internal/metrics"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd() *cobra.Command {
	var withWorker bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long:  `Run the job API. With --worker the same process also drains the job queue.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), withWorker)
		},
	}
	cmd.Flags().BoolVar(&withWorker, "worker", false, "also run the job worker in this process")
	return cmd
}

func newWorkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "work",
		Short: "Run the job worker",
		Long:  `Poll the job store and process queued jobs one at a time until interrupted.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWork(cmd.Context())
		},
	}
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func runServe(parent context.Context, withWorker bool) error {
	ctx, stop := signalContext(parent)
	defer stop()

	cfg, logger, shutdownTracing, err := loadRuntime(ctx)
	if err != nil {
		return err
	}
	defer flushTracing(shutdownTracing, logger)

	logger.Info("starting face-swap API",
		slog.Int("port", cfg.Port),
		slog.Bool("worker", withWorker),
		slog.String("db_driver", cfg.DBDriver),
		slog.Bool("s3_enabled", cfg.S3Enabled()),
	)

	deps, err := bootstrap.NewDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize dependencies: %w", err)
	}
	defer func() { _ = deps.Close() }()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      deps.Handler(logger),
		ReadTimeout:  10 * time.Minute, // Uploads can be large
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	var wg sync.WaitGroup
	if withWorker {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := deps.Loop.Run(ctx); err != nil {
				logger.Error("worker stopped", slog.String("error", err.Error()))
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server failed: %w", err)
		}
	}()

	// Wait for shutdown signal or error
	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err := <-errCh:
		stop()
		wg.Wait()
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	logger.Info("shutting down server...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	// The worker finishes its in-flight job before returning.
	wg.Wait()
	logger.Info("server stopped gracefully")
	return nil
}

func runWork(parent context.Context) error {
	ctx, stop := signalContext(parent)
	defer stop()

	cfg, logger, shutdownTracing, err := loadRuntime(ctx)
	if err != nil {
		return err
	}
	defer flushTracing(shutdownTracing, logger)

	deps, err := bootstrap.NewDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize dependencies: %w", err)
	}
	defer func() { _ = deps.Close() }()

	metricsSrv := deps.Metrics.StartServer(cfg.MetricsPort, logger)
	defer func() {
		if err := metrics.Shutdown(metricsSrv, 5*time.Second); err != nil {
			logger.Warn("metrics server shutdown failed", slog.String("error", err.Error()))
		}
	}()

	logger.Info("starting worker",
		slog.Duration("poll_interval", cfg.PollInterval),
		slog.Int("progress_every", cfg.ProgressEvery),
	)
	if err := deps.Loop.Run(ctx); err != nil {
		return fmt.Errorf("worker: %w", err)
	}
	logger.Info("worker stopped gracefully")
	return nil
}

func flushTracing(shutdown func(context.Context) error, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		logger.Warn("tracing shutdown failed", slog.String("error", err.Error()))
	}
}
