package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Static errors for job submission.
var (
	// ErrNoSourceFaces is returned when a submission has no source face images.
	ErrNoSourceFaces = errors.New("at least one source face is required")
	// ErrNoInputVideo is returned when neither a video file nor a URL is given.
	ErrNoInputVideo = errors.New("an input video file or URL is required")
	// ErrAmbiguousInput is returned when both a video file and a URL are given.
	ErrAmbiguousInput = errors.New("provide either an input video file or a URL, not both")
)

// Submission contains the inputs of a new job.
type Submission struct {
	// ID optionally fixes the job ID (uploads are stored under it before submit).
	ID string
	// InputVideoPath is the local path of an uploaded video.
	InputVideoPath string
	// InputVideoURL is a remote video to download before processing.
	InputVideoURL string
	// SourceFaces are the ordered source face image paths.
	SourceFaces []string
	// BackgroundPath is an optional background image path.
	BackgroundPath string
}

// Validate checks the submission invariants.
func (s Submission) Validate() error {
	if s.InputVideoPath == "" && s.InputVideoURL == "" {
		return ErrNoInputVideo
	}
	if s.InputVideoPath != "" && s.InputVideoURL != "" {
		return ErrAmbiguousInput
	}
	if len(s.SourceFaces) == 0 {
		return ErrNoSourceFaces
	}
	return nil
}

// Service handles job submission and queries. Processing is done
// asynchronously by the worker.
type Service struct {
	repo   Repository
	logger *slog.Logger
}

// NewService creates a new Service.
func NewService(repo Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger}
}

// Submit creates a queued job and persists it. It returns as soon as the
// job is stored.
func (s *Service) Submit(ctx context.Context, sub Submission) (*Job, error) {
	if err := sub.Validate(); err != nil {
		return nil, err
	}

	job := New()
	if sub.ID != "" {
		job = NewWithID(sub.ID)
	}
	job.InputVideoPath = sub.InputVideoPath
	job.InputVideoURL = sub.InputVideoURL
	job.SourceFaces = append(job.SourceFaces, sub.SourceFaces...)
	job.BackgroundPath = sub.BackgroundPath

	s.logger.Info("creating new job",
		slog.String("job_id", job.ID),
		slog.Int("source_faces", len(job.SourceFaces)),
		slog.Bool("background", job.BackgroundPath != ""),
		slog.Bool("remote_input", job.InputVideoURL != ""),
	)

	if err := s.repo.Save(ctx, job); err != nil {
		s.logger.Error("failed to save job",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("save job: %w", err)
	}

	return job, nil
}

// Get retrieves a job by ID.
func (s *Service) Get(ctx context.Context, id string) (*Job, error) {
	return s.repo.FindByID(ctx, id)
}

// List returns all jobs, newest first.
func (s *Service) List(ctx context.Context) ([]*Job, error) {
	return s.repo.List(ctx)
}

// Requeue puts a failed job back in the queue.
func (s *Service) Requeue(ctx context.Context, id string) (*Job, error) {
	job, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := job.Requeue(); err != nil {
		return nil, err
	}
	if err := s.repo.Save(ctx, job); err != nil {
		return nil, fmt.Errorf("save job: %w", err)
	}
	s.logger.Info("job requeued", slog.String("job_id", job.ID))
	return job, nil
}
