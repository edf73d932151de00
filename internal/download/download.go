// Package download fetches remote input videos into a local work directory.
package download

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
)

// Static errors for download operations.
var (
	// ErrInvalidURL is returned when the URL is empty or not http(s).
	ErrInvalidURL = errors.New("download: invalid URL")
	// ErrUnexpectedStatus is returned when the remote server answers with a non-200 status.
	ErrUnexpectedStatus = errors.New("download: unexpected status code")
	// ErrNoOutput is returned when the downloader finished without producing a file.
	ErrNoOutput = errors.New("download: no output file produced")
)

// Downloader fetches a remote video into destDir and returns the local path.
type Downloader interface {
	Fetch(ctx context.Context, rawURL, destDir string) (string, error)
}

// directExtensions are the file extensions fetched with plain HTTP.
var directExtensions = map[string]bool{
	".mp4":  true,
	".mov":  true,
	".mkv":  true,
	".webm": true,
	".avi":  true,
	".m4v":  true,
}

// parseURL validates that rawURL is an absolute http(s) URL.
func parseURL(rawURL string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}
	return u, nil
}

// IsDirectMediaURL reports whether rawURL points straight at a video file
// rather than at a page that needs extraction.
func IsDirectMediaURL(rawURL string) bool {
	u, err := parseURL(rawURL)
	if err != nil {
		return false
	}
	return directExtensions[strings.ToLower(path.Ext(u.Path))]
}

// Auto routes direct media URLs to Direct and everything else to Page.
type Auto struct {
	Direct Downloader
	Page   Downloader
}

// Compile-time check that Auto implements Downloader.
var _ Downloader = (*Auto)(nil)

// NewAuto creates an Auto downloader.
func NewAuto(direct, page Downloader) *Auto {
	return &Auto{Direct: direct, Page: page}
}

// Fetch downloads rawURL with the downloader that fits it.
func (a *Auto) Fetch(ctx context.Context, rawURL, destDir string) (string, error) {
	if _, err := parseURL(rawURL); err != nil {
		return "", err
	}
	if IsDirectMediaURL(rawURL) || a.Page == nil {
		return a.Direct.Fetch(ctx, rawURL, destDir)
	}
	return a.Page.Fetch(ctx, rawURL, destDir)
}
