package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maauso/faceswap-api/internal/job"
)

const defaultPollInterval = 5 * time.Second

// JobRunner executes one queued job.
type JobRunner interface {
	Run(ctx context.Context, jobID string) error
}

// Loop polls the repository for queued jobs and runs them one at a time,
// oldest first.
type Loop struct {
	repo         job.Repository
	runner       JobRunner
	pollInterval time.Duration
	recorder     Recorder
	logger       *slog.Logger
}

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithPollInterval sets how long the loop sleeps when the queue is empty.
func WithPollInterval(d time.Duration) LoopOption {
	return func(l *Loop) {
		if d > 0 {
			l.pollInterval = d
		}
	}
}

// WithLoopRecorder sets the receiver of queue depth measurements.
func WithLoopRecorder(r Recorder) LoopOption {
	return func(l *Loop) {
		if r != nil {
			l.recorder = r
		}
	}
}

// WithLoopLogger sets the loop logger.
func WithLoopLogger(logger *slog.Logger) LoopOption {
	return func(l *Loop) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLoop creates a Loop.
func NewLoop(repo job.Repository, runner JobRunner, opts ...LoopOption) *Loop {
	l := &Loop{
		repo:         repo,
		runner:       runner,
		pollInterval: defaultPollInterval,
		recorder:     nopRecorder{},
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run processes queued jobs until ctx is cancelled. A job that has started
// is allowed to finish after cancellation; Run then returns nil.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("worker loop started", slog.Duration("poll_interval", l.pollInterval))
	for {
		n, err := l.RunOnce(ctx)
		if err != nil {
			l.logger.Error("failed to list queued jobs", slog.String("error", err.Error()))
		}
		if ctx.Err() != nil {
			l.logger.Info("worker loop stopped")
			return nil
		}
		if n > 0 && err == nil {
			continue
		}

		select {
		case <-ctx.Done():
			l.logger.Info("worker loop stopped")
			return nil
		case <-time.After(l.pollInterval):
		}
	}
}

// RunOnce runs every job currently queued, oldest first, and returns how
// many were attempted. It stops early, between jobs, when ctx is cancelled.
func (l *Loop) RunOnce(ctx context.Context) (int, error) {
	queued, err := l.repo.ListQueued(ctx)
	if err != nil {
		return 0, fmt.Errorf("list queued jobs: %w", err)
	}
	l.recorder.SetQueueDepth(len(queued))

	attempted := 0
	for i, j := range queued {
		if ctx.Err() != nil {
			break
		}
		attempted++
		l.runOne(context.WithoutCancel(ctx), j.ID)
		l.recorder.SetQueueDepth(len(queued) - i - 1)
	}
	return attempted, nil
}

// runOne isolates a single job: errors and panics are logged and never
// reach the loop.
func (l *Loop) runOne(ctx context.Context, jobID string) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("job runner panicked",
				slog.String("job_id", jobID),
				slog.Any("panic", r),
			)
		}
	}()

	err := l.runner.Run(ctx, jobID)
	switch {
	case err == nil:
	case errors.Is(err, job.ErrNotClaimable):
		l.logger.Debug("job already claimed", slog.String("job_id", jobID))
	default:
		l.logger.Error("job run failed",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
	}
}
