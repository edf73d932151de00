package job

import (
	"context"
	"sort"
	"sync"
)

// Compile-time check that MemoryRepository implements Repository.
var _ Repository = (*MemoryRepository)(nil)

// MemoryRepository is an in-memory implementation of Repository.
// It uses a map with RWMutex for thread-safe access.
// Suitable for development and testing; jobs do not survive restarts.
type MemoryRepository struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

// NewMemoryRepository creates a new in-memory job repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		jobs: make(map[string]*Job),
	}
}

// Save persists a job to the in-memory storage.
// Creates a clone to avoid external mutations.
func (r *MemoryRepository) Save(_ context.Context, job *Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.ID] = job.Clone()
	return nil
}

// FindByID retrieves a job by its ID.
// Returns a clone to prevent external mutations.
func (r *MemoryRepository) FindByID(_ context.Context, id string) (*Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return job.Clone(), nil
}

// List returns all jobs, newest first.
func (r *MemoryRepository) List(_ context.Context) ([]*Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]*Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		result = append(result, job.Clone())
	}
	sortByCreated(result, true)
	return result, nil
}

// ListQueued returns queued jobs, oldest first.
func (r *MemoryRepository) ListQueued(_ context.Context) ([]*Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]*Job, 0)
	for _, job := range r.jobs {
		if job.Status == StatusQueued {
			result = append(result, job.Clone())
		}
	}
	sortByCreated(result, false)
	return result, nil
}

// Claim moves a queued job to processing under the write lock.
func (r *MemoryRepository) Claim(_ context.Context, id string) (*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	if err := job.Start(); err != nil {
		return nil, ErrNotClaimable
	}
	return job.Clone(), nil
}

// UpdateProgress records progress for a processing job.
func (r *MemoryRepository) UpdateProgress(_ context.Context, id string, progress int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if job.Status != StatusProcessing {
		return nil
	}
	job.UpdateProgress(progress)
	return nil
}

// sortByCreated orders jobs by CreatedAt, breaking ties by ID so the
// order is stable across calls.
func sortByCreated(jobs []*Job, newestFirst bool) {
	sort.Slice(jobs, func(a, b int) bool {
		ta, tb := jobs[a].CreatedAt, jobs[b].CreatedAt
		if ta.Equal(tb) {
			return jobs[a].ID < jobs[b].ID
		}
		if newestFirst {
			return ta.After(tb)
		}
		return ta.Before(tb)
	})
}
