package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStorage(t *testing.T) *LocalStorage {
	t.Helper()
	root := t.TempDir()
	s, err := NewLocalStorage(filepath.Join(root, "tmp"), filepath.Join(root, "data"))
	require.NoError(t, err)
	return s
}

func TestNewLocalStorage(t *testing.T) {
	t.Run("creates directories if not exist", func(t *testing.T) {
		root := t.TempDir()
		tempDir := filepath.Join(root, "tmp")
		dataDir := filepath.Join(root, "data")

		s, err := NewLocalStorage(tempDir, dataDir)
		require.NoError(t, err)
		assert.Equal(t, tempDir, s.tempDir)
		assert.Equal(t, dataDir, s.dataDir)

		for _, dir := range []string{tempDir, filepath.Join(dataDir, "uploads"), filepath.Join(dataDir, "outputs")} {
			info, err := os.Stat(dir)
			require.NoError(t, err)
			assert.True(t, info.IsDir())
		}
	})

	t.Run("uses default directories when empty", func(t *testing.T) {
		s, err := NewLocalStorage("", "")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(os.tempDir, "faceswap"), s.tempDir)
		assert.Equal(t, filepath.Join(os.tempDir, "faceswap-data"), s.dataDir)
	})
}

func TestLocalStorage_SaveUpload(t *testing.T) {
	s := setupTestStorage(t)
	ctx := context.Background()

	t.Run("saves under job directory", func(t *testing.T) {
		path, err := s.SaveUpload(ctx, "job-1", "face.png", strings.NewReader("png bytes"))
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(s.dataDir, "uploads", "job-1", "face.png"), path)

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "png bytes", string(data))
	})

	t.Run("strips directory components from name", func(t *testing.T) {
		path, err := s.SaveUpload(ctx, "job-1", "../../etc/passwd", strings.NewReader("x"))
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(s.dataDir, "uploads", "job-1", "passwd"), path)
	})

	t.Run("rejects bad job id", func(t *testing.T) {
		_, err := s.SaveUpload(ctx, "../job", "a.png", strings.NewReader("x"))
		assert.ErrorIs(t, err, ErrInvalidName)

		_, err = s.SaveUpload(ctx, "", "a.png", strings.NewReader("x"))
		assert.ErrorIs(t, err, ErrInvalidName)
	})

	t.Run("rejects empty name", func(t *testing.T) {
		_, err := s.SaveUpload(ctx, "job-1", "", strings.NewReader("x"))
		assert.ErrorIs(t, err, ErrInvalidName)
	})

	t.Run("removes partial file on read error", func(t *testing.T) {
		_, err := s.SaveUpload(ctx, "job-2", "broken.mp4", &failingReader{})
		require.Error(t, err)
		assert.NoFileExists(t, filepath.Join(s.dataDir, "uploads", "job-2", "broken.mp4"))
	})

	t.Run("respects cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := s.SaveUpload(cctx, "job-1", "a.png", strings.NewReader("x"))
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestLocalStorage_Open(t *testing.T) {
	s := setupTestStorage(t)
	ctx := context.Background()

	path, err := s.SaveUpload(ctx, "job-1", "video.mp4", bytes.NewReader([]byte("video")))
	require.NoError(t, err)

	rc, err := s.Open(ctx, path)
	require.NoError(t, err)
	defer func() { _ = rc.Close() }()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "video", string(data))

	_, err = s.Open(ctx, filepath.Join(s.dataDir, "missing"))
	assert.Error(t, err)
}

func TestLocalStorage_Remove(t *testing.T) {
	s := setupTestStorage(t)
	ctx := context.Background()

	p1, _ := s.SaveUpload(ctx, "job-1", "a.png", strings.NewReader("a"))
	p2, _ := s.SaveUpload(ctx, "job-1", "b.png", strings.NewReader("b"))

	err := s.Remove(ctx, []string{p1, filepath.Join(s.dataDir, "never-existed"), p2})
	require.NoError(t, err)
	assert.NoFileExists(t, p1)
	assert.NoFileExists(t, p2)
}

func TestLocalStorage_WorkArea(t *testing.T) {
	s := setupTestStorage(t)

	wa1, err := s.WorkArea("job-1")
	require.NoError(t, err)
	wa2, err := s.WorkArea("job-1")
	require.NoError(t, err)

	assert.NotEqual(t, wa1.Dir, wa2.Dir, "each run gets its own directory")
	assert.True(t, strings.HasPrefix(wa1.Dir, s.tempDir))

	require.NoError(t, os.WriteFile(filepath.Join(wa1.Dir, "scratch.bin"), []byte("x"), 0o600))
	require.NoError(t, os.MkdirAll(filepath.Join(wa1.Dir, "nested", "dir"), 0o750))

	require.NoError(t, wa1.Release())
	require.NoError(t, wa1.Release(), "release is idempotent")
	assert.NoDirExists(t, wa1.Dir)
	assert.DirExists(t, wa2.Dir)

	_, err = s.WorkArea("a/b")
	assert.ErrorIs(t, err, ErrInvalidName)
}

func TestLocalStorage_PublishAndLocalPath(t *testing.T) {
	s := setupTestStorage(t)
	ctx := context.Background()

	ref, err := s.Publish(ctx, "videos/job-1.mp4", strings.NewReader("final"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(s.dataDir, "outputs", "videos", "job-1.mp4"), ref)

	p, ok := s.LocalPath(ref)
	assert.True(t, ok)
	assert.Equal(t, ref, p)

	_, ok = s.LocalPath("/etc/passwd")
	assert.False(t, ok)
	_, ok = s.LocalPath(filepath.Join(s.dataDir, "outputs", "..", "uploads", "x"))
	assert.False(t, ok)

	escaped, err := s.Publish(ctx, "../../escape.mp4", strings.NewReader("x"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(s.dataDir, "outputs", "escape.mp4"), escaped)

	_, err = s.Publish(ctx, "", strings.NewReader("x"))
	assert.ErrorIs(t, err, ErrInvalidName)
}

func TestLocalStorage_Unpublish(t *testing.T) {
	s := setupTestStorage(t)
	ctx := context.Background()

	ref, err := s.Publish(ctx, "job-1.mp4", strings.NewReader("final"))
	require.NoError(t, err)
	require.FileExists(t, ref)

	require.NoError(t, s.Unpublish(ctx, "job-1.mp4"))
	assert.NoFileExists(t, ref)

	assert.NoError(t, s.Unpublish(ctx, "job-1.mp4"), "missing output is not an error")
	assert.ErrorIs(t, s.Unpublish(ctx, ""), ErrInvalidName)
}

type failingReader struct{}

func (f *failingReader) Read([]byte) (int, error) {
	return 0, errors.New("read failed")
}
