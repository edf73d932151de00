// Package worker runs queued face-swap jobs: the Engine executes one job
// through its lifecycle and the Loop feeds it queued jobs, oldest first.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/maauso/faceswap-api/internal/download"
	"github.com/maauso/faceswap-api/internal/job"
	"github.com/maauso/faceswap-api/internal/pipeline"
	"github.com/maauso/faceswap-api/internal/storage"
)

// Static errors for job execution.
var (
	// ErrPersist is returned when a job's final state could not be stored.
	ErrPersist = errors.New("persist job state")
	// ErrWorkArea is recorded when the job's scratch directory cannot be created.
	ErrWorkArea = errors.New("work area unavailable")
	// ErrPublish is recorded when the finished video cannot be stored.
	ErrPublish = errors.New("publish output failed")
	// ErrPanic is recorded when job execution panicked.
	ErrPanic = errors.New("job execution panicked")
)

// Engine stage names, reported next to the pipeline stages.
const (
	StageDownload = "download"
	StageValidate = "validate"
	StagePipeline = "pipeline"
	StagePublish  = "publish"
)

// VideoProcessor runs the video pipeline for one job.
type VideoProcessor interface {
	Process(ctx context.Context, in pipeline.Input, sink pipeline.ProgressSink) (pipeline.Result, error)
}

// Recorder receives job-level measurements.
type Recorder interface {
	JobStarted()
	JobFinished(status job.Status, d time.Duration)
	ObserveStage(stage string, d time.Duration)
	SetQueueDepth(n int)
}

type nopRecorder struct{}

func (nopRecorder) JobStarted()                           {}
func (nopRecorder) JobFinished(job.Status, time.Duration) {}
func (nopRecorder) ObserveStage(string, time.Duration)    {}
func (nopRecorder) SetQueueDepth(int)                     {}

// Engine executes a single job from claim to terminal state.
type Engine struct {
	repo       job.Repository
	store      storage.Storage
	downloader download.Downloader
	processor  VideoProcessor
	recorder   Recorder
	logger     *slog.Logger
	tracer     trace.Tracer
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithRecorder sets the receiver of job measurements.
func WithRecorder(r Recorder) EngineOption {
	return func(e *Engine) {
		if r != nil {
			e.recorder = r
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine creates an Engine. downloader may be nil when jobs never
// reference remote videos.
func NewEngine(repo job.Repository, store storage.Storage, downloader download.Downloader, processor VideoProcessor, opts ...EngineOption) *Engine {
	e := &Engine{
		repo:       repo,
		store:      store,
		downloader: downloader,
		processor:  processor,
		recorder:   nopRecorder{},
		logger:     slog.Default(),
		tracer:     otel.Tracer("github.com/maauso/faceswap-api/internal/worker"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run claims the job and drives it to completed or failed. Processing
// failures are recorded on the job, not returned. Run returns an error only
// when the job could not be claimed (job.ErrNotClaimable, job.ErrJobNotFound)
// or its final state could not be persisted (ErrPersist).
func (e *Engine) Run(ctx context.Context, jobID string) error {
	j, err := e.repo.Claim(ctx, jobID)
	if err != nil {
		return err
	}

	logger := e.logger.With(slog.String("job_id", j.ID))
	ctx, span := e.tracer.Start(ctx, "job.run", trace.WithAttributes(attribute.String("job.id", j.ID)))
	defer span.End()

	start := time.Now()
	e.recorder.JobStarted()
	logger.Info("job processing started",
		slog.Int("source_faces", len(j.SourceFaces)),
		slog.Bool("background", j.HasBackground()),
	)

	cell := newProgressCell(ctx, e.repo, j.ID, logger)
	ref, runErr := e.execute(ctx, j, cell, logger)
	cell.Close()
	j.UpdateProgress(cell.Last())

	var status job.Status
	if runErr == nil {
		err = e.complete(ctx, j, ref)
		status = job.StatusCompleted
		if err != nil {
			runErr = err
			e.unpublish(ctx, j.ID, logger)
		}
	}
	if runErr != nil {
		status = job.StatusFailed
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
		err = e.fail(ctx, j, runErr, logger)
	}

	elapsed := time.Since(start)
	e.recorder.JobFinished(status, elapsed)
	span.SetAttributes(attribute.String("job.status", string(status)))

	if err != nil {
		logger.Error("failed to persist final job state",
			slog.String("status", string(status)),
			slog.String("error", err.Error()),
		)
		return err
	}
	if status == job.StatusCompleted {
		logger.Info("job completed",
			slog.String("output_ref", ref),
			slog.Duration("elapsed", elapsed),
		)
	}
	return nil
}

// complete persists a successful run. On a storage error the job is left
// in processing for fail to record.
func (e *Engine) complete(ctx context.Context, j *job.Job, ref string) error {
	done := j.Clone()
	if err := done.Complete(ref); err != nil {
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}
	if err := e.repo.Save(ctx, done); err != nil {
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}
	return nil
}

func (e *Engine) fail(ctx context.Context, j *job.Job, cause error, logger *slog.Logger) error {
	attrs := []any{slog.String("error", cause.Error())}
	if kind := pipeline.Kind(cause); kind != nil {
		attrs = append(attrs, slog.String("kind", kind.Error()))
	}
	logger.Error("job failed", attrs...)

	if err := j.Fail(cause.Error()); err != nil {
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}
	if err := e.repo.Save(ctx, j); err != nil {
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}
	return nil
}

// execute runs every stage for a claimed job and returns the published
// output reference. The work area is released on every return path.
func (e *Engine) execute(ctx context.Context, j *job.Job, sink pipeline.ProgressSink, logger *slog.Logger) (ref string, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("job panicked", slog.Any("panic", r))
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()

	area, err := e.store.WorkArea(j.ID)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrWorkArea, err)
	}
	defer func() {
		if rerr := area.Release(); rerr != nil {
			logger.Warn("failed to release work area",
				slog.String("dir", area.Dir),
				slog.String("error", rerr.Error()),
			)
		}
	}()

	videoPath := j.InputVideoPath
	if j.InputVideoURL != "" {
		err = e.stage(ctx, StageDownload, func(ctx context.Context) error {
			if e.downloader == nil {
				return fmt.Errorf("%w: no downloader configured", pipeline.ErrDownload)
			}
			path, err := e.downloader.Fetch(ctx, j.InputVideoURL, area.Dir)
			if err != nil {
				return fmt.Errorf("%w: %s: %w", pipeline.ErrDownload, j.InputVideoURL, err)
			}
			videoPath = path
			return nil
		})
		if err != nil {
			return "", err
		}
		logger.Info("input video downloaded", slog.String("path", videoPath))
	}

	err = e.stage(ctx, StageValidate, func(context.Context) error {
		return validateInputs(videoPath, j.SourceFaces, j.BackgroundPath)
	})
	if err != nil {
		return "", err
	}

	var res pipeline.Result
	err = e.stage(ctx, StagePipeline, func(ctx context.Context) error {
		var err error
		res, err = e.processor.Process(ctx, pipeline.Input{
			VideoPath:      videoPath,
			SourceFaces:    j.SourceFaces,
			BackgroundPath: j.BackgroundPath,
			WorkDir:        area.Dir,
		}, sink)
		return err
	})
	if err != nil {
		return "", err
	}

	err = e.stage(ctx, StagePublish, func(ctx context.Context) error {
		var err error
		ref, err = e.publish(ctx, j.ID, res.OutputPath)
		return err
	})
	if err != nil {
		return "", err
	}
	return ref, nil
}

func (e *Engine) publish(ctx context.Context, jobID, path string) (string, error) {
	f, err := e.store.Open(ctx, path)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrPublish, err)
	}
	defer func() { _ = f.Close() }()

	ref, err := e.store.Publish(ctx, outputKey(jobID), f)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrPublish, err)
	}
	return ref, nil
}

// unpublish deletes an artifact whose job could not be marked completed,
// so that no output outlives a failed job.
func (e *Engine) unpublish(ctx context.Context, jobID string, logger *slog.Logger) {
	if err := e.store.Unpublish(ctx, outputKey(jobID)); err != nil {
		logger.Warn("failed to remove orphaned output",
			slog.String("key", outputKey(jobID)),
			slog.String("error", err.Error()),
		)
	}
}

func outputKey(jobID string) string {
	return jobID + ".mp4"
}

// stage runs fn inside a span and records its duration.
func (e *Engine) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := e.tracer.Start(ctx, "job."+name)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	e.recorder.ObserveStage(name, time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// validateInputs checks that every input file exists and is readable
// before any model is invoked.
func validateInputs(videoPath string, sourceFaces []string, backgroundPath string) error {
	if err := checkReadable(videoPath); err != nil {
		return fmt.Errorf("%w: input video not readable: %w", pipeline.ErrValidation, err)
	}
	if len(sourceFaces) == 0 {
		return fmt.Errorf("%w: no source faces", pipeline.ErrValidation)
	}
	for _, p := range sourceFaces {
		if err := checkReadable(p); err != nil {
			return fmt.Errorf("%w: source face not readable: %w", pipeline.ErrValidation, err)
		}
	}
	if backgroundPath != "" {
		if err := checkReadable(backgroundPath); err != nil {
			return fmt.Errorf("%w: background image not readable: %w", pipeline.ErrValidation, err)
		}
	}
	return nil
}

func checkReadable(path string) error {
	if path == "" {
		return errors.New("empty path")
	}
	f, err := os.Open(path) // #nosec G304 - path comes from a stored job
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	return nil
}
