package remote

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/maauso/faceswap-api/internal/vision"
)

// Static errors for inference client operations.
var (
	// ErrBaseURLRequired is returned when the service URL is not provided.
	ErrBaseURLRequired = errors.New("inference: base URL is required")
	// ErrServerError is returned when the server returns a 5xx status code.
	ErrServerError = errors.New("inference: server error")
	// ErrRateLimited is returned when the server returns a 429 status code.
	ErrRateLimited = errors.New("inference: rate limited")
	// ErrRequestFailed is returned when the request fails with a non-2xx status code.
	ErrRequestFailed = errors.New("inference: request failed")
	// ErrInvalidResult is returned when the service answers with an unusable payload.
	ErrInvalidResult = errors.New("inference: invalid result")
)

// Compile-time checks that Client implements the vision ports.
var (
	_ vision.FaceDetector    = (*Client)(nil)
	_ vision.FaceSwapper     = (*Client)(nil)
	_ vision.BackgroundMatte = (*Client)(nil)
)

// Client is the HTTP implementation of the vision ports.
type Client struct {
	apiKey      string
	baseURL     string
	httpClient  *http.Client
	timeout     time.Duration
	maxRetries  int
	baseBackoff time.Duration
}

// ClientOption is a function that configures a Client.
type ClientOption func(*Client)

// WithAPIKey sets the bearer token sent with every request.
func WithAPIKey(key string) ClientOption {
	return func(c *Client) {
		c.apiKey = key
	}
}

// WithHTTPClient sets a custom HTTP client. The client is used as given;
// WithTimeout does not modify it.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
// It has no effect when WithHTTPClient is also given.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithMaxRetries sets the maximum number of retries for transient failures.
func WithMaxRetries(n int) ClientOption {
	return func(c *Client) {
		c.maxRetries = n
	}
}

// WithBaseBackoff sets the initial backoff duration for retries.
func WithBaseBackoff(d time.Duration) ClientOption {
	return func(c *Client) {
		c.baseBackoff = d
	}
}

// NewClient creates a new inference client for the service at baseURL.
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	if baseURL == "" {
		return nil, ErrBaseURLRequired
	}

	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		timeout:     60 * time.Second,
		maxRetries:  3,
		baseBackoff: 1 * time.Second,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: c.timeout}
	}

	return c, nil
}

// Detect returns the faces found in img.
func (c *Client) Detect(ctx context.Context, img image.Image) ([]vision.Face, error) {
	encoded, err := encodePNG(img)
	if err != nil {
		return nil, err
	}

	var resp detectResponse
	if err := c.post(ctx, "/detect", detectRequest{Image: encoded}, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrInvalidResult, resp.Error)
	}
	return resp.Faces, nil
}

// Swap replaces target in frame with the identity of source.
func (c *Client) Swap(ctx context.Context, frame *image.RGBA, target, source vision.Face) (*image.RGBA, error) {
	encoded, err := encodePNG(frame)
	if err != nil {
		return nil, err
	}

	var resp swapResponse
	req := swapRequest{Image: encoded, Target: target, Source: source}
	if err := c.post(ctx, "/swap", req, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrInvalidResult, resp.Error)
	}

	out, err := decodePNG(resp.Image)
	if err != nil {
		return nil, err
	}
	if out.Bounds().Size() != frame.Bounds().Size() {
		return nil, fmt.Errorf("%w: swapped frame is %v, want %v",
			ErrInvalidResult, out.Bounds().Size(), frame.Bounds().Size())
	}
	return vision.ToRGBA(out), nil
}

// Alpha returns the foreground mask of frame.
func (c *Client) Alpha(ctx context.Context, frame *image.RGBA) (*image.Gray, error) {
	encoded, err := encodePNG(frame)
	if err != nil {
		return nil, err
	}

	var resp matteResponse
	if err := c.post(ctx, "/matte", matteRequest{Image: encoded}, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrInvalidResult, resp.Error)
	}

	img, err := decodePNG(resp.Alpha)
	if err != nil {
		return nil, err
	}
	if img.Bounds().Size() != frame.Bounds().Size() {
		return nil, fmt.Errorf("%w: matte is %v, want %v",
			ErrInvalidResult, img.Bounds().Size(), frame.Bounds().Size())
	}
	return toGray(img), nil
}

func (c *Client) post(ctx context.Context, path string, body, result any) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("inference: marshal request: %w", err)
	}
	return c.doRequestWithRetry(ctx, http.MethodPost, c.baseURL+path, bodyBytes, result)
}

// doRequestWithRetry performs an HTTP request with exponential backoff retry.
func (c *Client) doRequestWithRetry(ctx context.Context, method, url string, body []byte, result any) error {
	var lastErr error
	backoff := c.baseBackoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("inference: context cancelled: %w", ctx.Err())
			case <-time.After(backoff):
				backoff *= 2
			}
		}

		err := c.doRequest(ctx, method, url, body, result)
		if err == nil {
			return nil
		}

		if !isRetryable(err) {
			return err
		}

		lastErr = err
	}

	return fmt.Errorf("inference: max retries exceeded: %w", lastErr)
}

// doRequest performs a single HTTP request.
func (c *Client) doRequest(ctx context.Context, method, url string, body []byte, result any) error {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return fmt.Errorf("inference: create request: %w", err)
	}

	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &retryableError{err: fmt.Errorf("inference: request failed: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &retryableError{err: fmt.Errorf("inference: read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if resp.StatusCode >= 500 {
			return &retryableError{err: fmt.Errorf("%w %d: %s", ErrServerError, resp.StatusCode, string(respBody))}
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			return &retryableError{err: fmt.Errorf("%w: %s", ErrRateLimited, string(respBody))}
		}
		return fmt.Errorf("%w with status %d: %s", ErrRequestFailed, resp.StatusCode, string(respBody))
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("%w: unmarshal response: %v", ErrInvalidResult, err)
		}
	}

	return nil
}

// retryableError wraps errors that should be retried.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	return e.err
}

// isRetryable returns true if the error should be retried.
func isRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}

func encodePNG(img image.Image) (string, error) {
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("inference: encode image: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func decodePNG(b64 string) (image.Image, error) {
	if b64 == "" {
		return nil, fmt.Errorf("%w: empty image", ErrInvalidResult)
	}
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("%w: decode base64: %v", ErrInvalidResult, err)
	}
	img, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: decode png: %v", ErrInvalidResult, err)
	}
	return img, nil
}

func toGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok && g.Rect.Min == (image.Point{}) {
		return g
	}
	b := img.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			out.Set(x, y, img.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return out
}
