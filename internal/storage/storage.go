// Package storage provides file storage for job uploads, per-job scratch
// work areas and published output artifacts.
package storage

import (
	"context"
	"io"
)

// Storage defines the file operations used by the API and the worker.
type Storage interface {
	// SaveUpload stores an uploaded file for a job and returns its path.
	SaveUpload(ctx context.Context, jobID, name string, data io.Reader) (string, error)

	// Open returns a reader for a stored file.
	// The caller is responsible for closing the returned ReadCloser.
	Open(ctx context.Context, path string) (io.ReadCloser, error)

	// Remove deletes the given files, continuing past individual failures.
	Remove(ctx context.Context, paths []string) error

	// WorkArea creates a private scratch directory for one job run.
	WorkArea(jobID string) (*WorkArea, error)

	// Publish stores a finished artifact under key and returns its reference.
	Publish(ctx context.Context, key string, data io.Reader) (string, error)

	// Unpublish deletes the artifact stored under key. A missing artifact
	// is not an error.
	Unpublish(ctx context.Context, key string) error

	// LocalPath returns the local file behind an artifact reference, if any.
	LocalPath(ref string) (string, bool)
}
