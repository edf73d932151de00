package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// HTTPDownloader fetches direct media URLs with a plain GET.
type HTTPDownloader struct {
	client *http.Client
}

// Compile-time check that HTTPDownloader implements Downloader.
var _ Downloader = (*HTTPDownloader)(nil)

// NewHTTPDownloader creates a new HTTPDownloader. A nil client gets a
// default one with a long timeout since videos can be large.
func NewHTTPDownloader(client *http.Client) *HTTPDownloader {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Minute}
	}
	return &HTTPDownloader{client: client}
}

// Fetch downloads rawURL to destDir/input<ext>.
func (d *HTTPDownloader) Fetch(ctx context.Context, rawURL, destDir string) (string, error) {
	u, err := parseURL(rawURL)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("download: create request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	ext := strings.ToLower(path.Ext(u.Path))
	if !directExtensions[ext] {
		ext = ".mp4"
	}
	dst := filepath.Join(destDir, "input"+ext)

	f, err := os.Create(dst) // #nosec G304 - destDir is a work area owned by the worker
	if err != nil {
		return "", fmt.Errorf("download: create file: %w", err)
	}

	n, copyErr := io.Copy(f, resp.Body)
	closeErr := f.Close()
	if copyErr != nil {
		_ = os.Remove(dst)
		return "", fmt.Errorf("download: write file: %w", copyErr)
	}
	if closeErr != nil {
		_ = os.Remove(dst)
		return "", fmt.Errorf("download: close file: %w", closeErr)
	}
	if n == 0 {
		_ = os.Remove(dst)
		return "", ErrNoOutput
	}

	return dst, nil
}
