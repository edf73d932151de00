package download

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// YtDlpDownloader uses the yt-dlp binary to fetch videos from pages such
// as YouTube links.
type YtDlpDownloader struct {
	binaryPath string
	timeout    time.Duration
}

// Compile-time check that YtDlpDownloader implements Downloader.
var _ Downloader = (*YtDlpDownloader)(nil)

// NewYtDlpDownloader creates a new downloader.
// If binaryPath is empty, yt-dlp is looked up in PATH.
func NewYtDlpDownloader(binaryPath string) *YtDlpDownloader {
	if binaryPath == "" {
		binaryPath = "yt-dlp"
	}
	return &YtDlpDownloader{binaryPath: binaryPath, timeout: 30 * time.Minute}
}

// Fetch downloads the best video and audio streams of rawURL merged into
// an mp4 under destDir.
func (d *YtDlpDownloader) Fetch(ctx context.Context, rawURL, destDir string) (string, error) {
	if _, err := parseURL(rawURL); err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	template := filepath.Join(destDir, "input.%(ext)s")

	// #nosec G204 - binaryPath is set by the application, the URL is a single argument
	cmd := exec.CommandContext(ctx, d.binaryPath,
		"-f", "bv*+ba/b", // Best video plus best audio, else best single file
		"--merge-output-format", "mp4",
		"--no-playlist",
		"--no-warnings",
		"--no-progress",
		"-o", template,
		"--print", "after_move:filepath",
		"--",
		rawURL,
	)

	var out bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("yt-dlp cancelled: %w", ctx.Err())
		}
		return "", fmt.Errorf("yt-dlp failed: %w, stderr: %s", err, stderr.String())
	}

	if p := lastLine(out.String()); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	// Older yt-dlp versions do not print the final path.
	matches, _ := filepath.Glob(filepath.Join(destDir, "input.*"))
	for _, m := range matches {
		if !strings.HasSuffix(m, ".part") {
			return m, nil
		}
	}
	return "", ErrNoOutput
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
