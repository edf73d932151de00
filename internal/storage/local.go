package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Static errors for storage operations.
var (
	// ErrInvalidName is returned when a file name or key is empty or escapes its directory.
	ErrInvalidName = errors.New("invalid file name")
)

// Compile-time check that LocalStorage implements Storage.
var _ Storage = (*LocalStorage)(nil)

// LocalStorage implements Storage using local disk.
// Work areas live under tempDir; uploads and outputs live under dataDir.
type LocalStorage struct {
	tempDir string
	dataDir string
}

// NewLocalStorage creates a new LocalStorage instance.
// Empty directories default to locations under os.TempDir().
// The directories are created if they don't exist.
func NewLocalStorage(tempDir, dataDir string) (*LocalStorage, error) {
	if tempDir == "" {
		tempDir = filepath.Join(os.TempDir(), "faceswap")
	}
	if dataDir == "" {
		dataDir = filepath.Join(os.TempDir(), "faceswap-data")
	}

	for _, dir := range []string{tempDir, filepath.Join(dataDir, "uploads"), filepath.Join(dataDir, "outputs")} {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	return &LocalStorage{tempDir: tempDir, dataDir: dataDir}, nil
}

// SaveUpload writes data to dataDir/uploads/<jobID>/<name>.
func (s *LocalStorage) SaveUpload(ctx context.Context, jobID, name string, data io.Reader) (string, error) {
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	base := filepath.Base(filepath.Clean("/" + name))
	if jobID == "" || base == "/" || base == "." || strings.ContainsAny(jobID, `/\`) {
		return "", fmt.Errorf("%w: %q/%q", ErrInvalidName, jobID, name)
	}

	dir := filepath.Join(s.dataDir, "uploads", jobID)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", fmt.Errorf("create upload directory: %w", err)
	}

	return writeFile(filepath.Join(dir, base), data)
}

// Open returns a reader for the file at path.
func (s *LocalStorage) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	f, err := os.Open(path) // #nosec G304 - path is provided by trusted caller
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	return f, nil
}

// Remove deletes the specified files.
// It continues even if some files fail to delete,
// returning the first error encountered.
func (s *LocalStorage) Remove(ctx context.Context, paths []string) error {
	var firstErr error
	for _, p := range paths {
		select {
		case <-ctx.Done():
			return fmt.Errorf("context cancelled: %w", ctx.Err())
		default:
		}

		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			if firstErr == nil {
				firstErr = fmt.Errorf("remove file %s: %w", p, err)
			}
		}
	}
	return firstErr
}

// WorkArea creates a fresh directory under tempDir for one job run.
func (s *LocalStorage) WorkArea(jobID string) (*WorkArea, error) {
	if jobID == "" || strings.ContainsAny(jobID, `/\`) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, jobID)
	}
	dir, err := os.MkdirTemp(s.tempDir, jobID+"-*")
	if err != nil {
		return nil, fmt.Errorf("create work area: %w", err)
	}
	return &WorkArea{Dir: dir}, nil
}

// Publish copies data to dataDir/outputs/<key> and returns the file path.
func (s *LocalStorage) Publish(ctx context.Context, key string, data io.Reader) (string, error) {
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	dst, err := s.outputPath(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0750); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}
	return writeFile(dst, data)
}

// Unpublish removes dataDir/outputs/<key>.
func (s *LocalStorage) Unpublish(_ context.Context, key string) error {
	dst, err := s.outputPath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove output: %w", err)
	}
	return nil
}

// LocalPath reports whether ref is a file under the outputs directory.
func (s *LocalStorage) LocalPath(ref string) (string, bool) {
	outputs := filepath.Join(s.dataDir, "outputs") + string(filepath.Separator)
	clean := filepath.Clean(ref)
	if !strings.HasPrefix(clean, outputs) {
		return "", false
	}
	return clean, true
}

func (s *LocalStorage) outputPath(key string) (string, error) {
	clean := filepath.Clean("/" + key)
	if clean == "/" {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, key)
	}
	return filepath.Join(s.dataDir, "outputs", clean), nil
}

// writeFile copies data into a new file at path, removing it on failure.
func writeFile(path string, data io.Reader) (string, error) {
	f, err := os.Create(path) // #nosec G304 - path is built from sanitized components
	if err != nil {
		return "", fmt.Errorf("create file: %w", err)
	}

	if _, err := io.Copy(f, data); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("write file: %w", err)
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("close file: %w", err)
	}

	return path, nil
}

// WorkArea is a scratch directory owned by a single job run.
type WorkArea struct {
	Dir string

	once sync.Once
	err  error
}

// Release removes the directory and everything in it. It is safe to call
// more than once.
func (w *WorkArea) Release() error {
	w.once.Do(func() {
		if err := os.RemoveAll(w.Dir); err != nil {
			w.err = fmt.Errorf("remove work area: %w", err)
		}
	})
	return w.err
}
