package job

import (
	"context"
	"errors"
)

// ErrJobNotFound is returned when a job cannot be found by ID.
var ErrJobNotFound = errors.New("job not found")

// ErrNotClaimable is returned by Claim when the job is no longer queued,
// typically because another worker claimed it first.
var ErrNotClaimable = errors.New("job is not claimable")

// Repository defines the interface for job persistence.
// It acts as a port in the hexagonal architecture pattern.
type Repository interface {
	// Save persists a job to the storage.
	// If the job already exists, it should be updated.
	Save(ctx context.Context, job *Job) error

	// FindByID retrieves a job by its unique identifier.
	// Returns ErrJobNotFound if the job does not exist.
	FindByID(ctx context.Context, id string) (*Job, error)

	// List returns all jobs, newest first.
	List(ctx context.Context) ([]*Job, error)

	// ListQueued returns queued jobs, oldest first.
	ListQueued(ctx context.Context) ([]*Job, error)

	// Claim atomically moves a queued job to processing, resetting its
	// progress, and returns the claimed job.
	// Returns ErrNotClaimable if the job is not queued.
	Claim(ctx context.Context, id string) (*Job, error)

	// UpdateProgress records progress for a processing job.
	// Values lower than the stored progress are ignored.
	UpdateProgress(ctx context.Context, id string, progress int) error
}
