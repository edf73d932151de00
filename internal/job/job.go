// Package job provides the Job aggregate for face-swap video jobs.
// It includes the Job entity with its lifecycle state machine,
// the repository port used for persistence, and the submission service.
package job

import (
	"errors"
	"sync"
	"time"

	"github.com/maauso/faceswap-api/internal/job/id"
)

// Status represents the current state of a Job.
type Status string

const (
	// StatusQueued indicates the job is waiting for the worker.
	StatusQueued Status = "queued"
	// StatusProcessing indicates the worker is running the job.
	StatusProcessing Status = "processing"
	// StatusCompleted indicates the job produced its output artifact.
	StatusCompleted Status = "completed"
	// StatusFailed indicates the job stopped with an error.
	StatusFailed Status = "failed"
)

// IsValid returns true if the status is one of the known states.
func (s Status) IsValid() bool {
	switch s {
	case StatusQueued, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// validTransitions defines which state transitions are allowed.
// failed -> queued is only reachable through an explicit Requeue.
var validTransitions = map[Status][]Status{
	StatusQueued:     {StatusProcessing},
	StatusProcessing: {StatusCompleted, StatusFailed},
	StatusCompleted:  {},
	StatusFailed:     {StatusQueued},
}

// canTransition checks if a transition from one status to another is valid.
func canTransition(from, to Status) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// Job represents one request to turn an input video into a face-swapped
// (and optionally background-replaced) output video.
type Job struct {
	mu sync.RWMutex

	// ID is the unique identifier for this job.
	ID string
	// Status is the current job state.
	Status Status
	// Progress is the percentage of completion (0-100).
	Progress int
	// Error contains the failure reason if the job failed.
	Error string
	// InputVideoPath is the local path to the input video, if uploaded.
	InputVideoPath string
	// InputVideoURL is the remote video reference, resolved by the downloader.
	InputVideoURL string
	// SourceFaces holds the ordered source face image paths.
	SourceFaces []string
	// BackgroundPath is the optional background image. Empty disables replacement.
	BackgroundPath string
	// OutputRef references the produced artifact. Set only when completed.
	OutputRef string
	// CreatedAt is when the job was created. Orders the queue.
	CreatedAt time.Time
	// UpdatedAt is when the job was last updated.
	UpdatedAt time.Time
	// StartedAt is when the current attempt started processing.
	StartedAt time.Time
	// CompletedAt is when the job reached a terminal state.
	CompletedAt time.Time
}

// New creates a new Job with a generated ID in the queued state.
func New() *Job {
	return NewWithID(id.Generate())
}

// NewWithID creates a new queued Job with the specified ID.
func NewWithID(jobID string) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:          jobID,
		Status:      StatusQueued,
		SourceFaces: make([]string, 0),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// TransitionTo attempts to change the job status to the specified state.
// Returns ErrInvalidTransition if the transition is not allowed.
func (j *Job) TransitionTo(status Status) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.transitionLocked(status)
}

func (j *Job) transitionLocked(status Status) error {
	if !canTransition(j.Status, status) {
		return ErrInvalidTransition
	}

	j.Status = status
	j.UpdatedAt = time.Now().UTC()

	switch status {
	case StatusProcessing:
		j.StartedAt = j.UpdatedAt
		j.Progress = 0
	case StatusCompleted, StatusFailed:
		j.CompletedAt = j.UpdatedAt
	}

	return nil
}

// Start transitions the job from queued to processing and resets progress.
func (j *Job) Start() error {
	return j.TransitionTo(StatusProcessing)
}

// Complete records the output reference, forces progress to 100 and
// transitions the job to completed.
func (j *Job) Complete(outputRef string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.transitionLocked(StatusCompleted); err != nil {
		return err
	}
	j.OutputRef = outputRef
	j.Progress = 100
	j.Error = ""
	return nil
}

// Fail transitions the job to failed with a reason. Progress is left as
// last observed and any output reference is cleared.
func (j *Job) Fail(reason string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.transitionLocked(StatusFailed); err != nil {
		return err
	}
	j.Error = reason
	j.OutputRef = ""
	return nil
}

// Requeue moves a failed job back to queued for another attempt.
func (j *Job) Requeue() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.transitionLocked(StatusQueued); err != nil {
		return err
	}
	j.Error = ""
	j.OutputRef = ""
	j.Progress = 0
	j.StartedAt = time.Time{}
	j.CompletedAt = time.Time{}
	return nil
}

// GetStatus returns the current job status (thread-safe).
func (j *Job) GetStatus() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status
}

// GetProgress returns the current progress (thread-safe).
func (j *Job) GetProgress() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Progress
}

// UpdateProgress sets the progress percentage, clamped to 0-100.
// Progress never decreases; lower values are ignored.
// It reports whether the stored value changed.
func (j *Job) UpdateProgress(progress int) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	progress = clampProgress(progress)
	if progress <= j.Progress {
		return false
	}
	j.Progress = progress
	j.UpdatedAt = time.Now().UTC()
	return true
}

// HasBackground reports whether background replacement was requested.
func (j *Job) HasBackground() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.BackgroundPath != ""
}

// IsTerminal returns true if the job is in a terminal state.
func (j *Job) IsTerminal() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status == StatusCompleted || j.Status == StatusFailed
}

// Clone creates a deep copy of the job for safe reads.
func (j *Job) Clone() *Job {
	j.mu.RLock()
	defer j.mu.RUnlock()

	faces := make([]string, len(j.SourceFaces))
	copy(faces, j.SourceFaces)

	return &Job{
		ID:             j.ID,
		Status:         j.Status,
		Progress:       j.Progress,
		Error:          j.Error,
		InputVideoPath: j.InputVideoPath,
		InputVideoURL:  j.InputVideoURL,
		SourceFaces:    faces,
		BackgroundPath: j.BackgroundPath,
		OutputRef:      j.OutputRef,
		CreatedAt:      j.CreatedAt,
		UpdatedAt:      j.UpdatedAt,
		StartedAt:      j.StartedAt,
		CompletedAt:    j.CompletedAt,
	}
}

func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
