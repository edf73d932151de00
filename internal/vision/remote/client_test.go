package remote

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/faceswap-api/internal/vision"
)

func pngB64(t *testing.T, img image.Image) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient(srv.URL, WithAPIKey("test-key"), WithBaseBackoff(time.Millisecond))
	require.NoError(t, err)
	return c
}

func TestNewClient_MissingBaseURL(t *testing.T) {
	_, err := NewClient("")
	assert.ErrorIs(t, err, ErrBaseURLRequired)
}

func TestNewClient_Options(t *testing.T) {
	c, err := NewClient("http://inference:8000/", WithAPIKey("k"), WithTimeout(5*time.Second), WithMaxRetries(1))
	require.NoError(t, err)
	assert.Equal(t, "http://inference:8000", c.baseURL)
	assert.Equal(t, "k", c.apiKey)
	assert.Equal(t, 5*time.Second, c.httpClient.Timeout)
	assert.Equal(t, 1, c.maxRetries)
}

func TestNewClient_TimeoutLeavesCustomClient(t *testing.T) {
	shared := &http.Client{Timeout: 2 * time.Minute}

	for _, opts := range [][]ClientOption{
		{WithHTTPClient(shared), WithTimeout(5 * time.Second)},
		{WithTimeout(5 * time.Second), WithHTTPClient(shared)},
	} {
		c, err := NewClient("http://inference:8000", opts...)
		require.NoError(t, err)
		assert.Same(t, shared, c.httpClient)
		assert.Equal(t, 2*time.Minute, shared.Timeout)
	}
}

func TestClient_Detect(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/detect", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req detectRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.NotEmpty(t, req.Image)

		_ = json.NewEncoder(w).Encode(detectResponse{Faces: []vision.Face{
			{BBox: vision.BBox{X1: 1, Y1: 2, X2: 3, Y2: 4}, Score: 0.9, Embedding: []float32{0.5}},
		}})
	})

	faces, err := c.Detect(context.Background(), image.NewRGBA(image.Rect(0, 0, 8, 8)))
	require.NoError(t, err)
	require.Len(t, faces, 1)
	assert.InDelta(t, 3.0, faces[0].BBox.X2, 1e-9)
	assert.Equal(t, []float32{0.5}, faces[0].Embedding)
}

func TestClient_Detect_NoFaces(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"faces":[]}`))
	})

	faces, err := c.Detect(context.Background(), image.NewRGBA(image.Rect(0, 0, 8, 8)))
	require.NoError(t, err)
	assert.Empty(t, faces)
}

func TestClient_Swap(t *testing.T) {
	swapped := image.NewRGBA(image.Rect(0, 0, 4, 4))
	swapped.Set(1, 1, color.RGBA{G: 200, A: 255})

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/swap", r.URL.Path)
		var req swapRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.InDelta(t, 10.0, req.Target.BBox.X1, 1e-9)
		assert.InDelta(t, 20.0, req.Source.BBox.X1, 1e-9)
		_ = json.NewEncoder(w).Encode(swapResponse{Image: pngB64(t, swapped)})
	})

	frame := image.NewRGBA(image.Rect(0, 0, 4, 4))
	out, err := c.Swap(context.Background(), frame,
		vision.Face{BBox: vision.BBox{X1: 10}}, vision.Face{BBox: vision.BBox{X1: 20}})
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{G: 200, A: 255}, out.RGBAAt(1, 1))
}

func TestClient_Swap_SizeMismatch(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(swapResponse{Image: pngB64(t, image.NewRGBA(image.Rect(0, 0, 2, 2)))})
	})

	_, err := c.Swap(context.Background(), image.NewRGBA(image.Rect(0, 0, 4, 4)), vision.Face{}, vision.Face{})
	assert.ErrorIs(t, err, ErrInvalidResult)
}

func TestClient_Alpha(t *testing.T) {
	mask := image.NewGray(image.Rect(0, 0, 3, 2))
	mask.SetGray(2, 1, color.Gray{Y: 128})

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/matte", r.URL.Path)
		_ = json.NewEncoder(w).Encode(matteResponse{Alpha: pngB64(t, mask)})
	})

	alpha, err := c.Alpha(context.Background(), image.NewRGBA(image.Rect(0, 0, 3, 2)))
	require.NoError(t, err)
	assert.Equal(t, uint8(128), alpha.GrayAt(2, 1).Y)
	assert.Equal(t, uint8(0), alpha.GrayAt(0, 0).Y)
}

func TestClient_Alpha_EmptyResult(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"alpha":""}`))
	})

	_, err := c.Alpha(context.Background(), image.NewRGBA(image.Rect(0, 0, 3, 2)))
	assert.ErrorIs(t, err, ErrInvalidResult)
}

func TestClient_ServiceReportedError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"error":"model not loaded"}`))
	})

	_, err := c.Detect(context.Background(), image.NewRGBA(image.Rect(0, 0, 2, 2)))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidResult)
	assert.Contains(t, err.Error(), "model not loaded")
}

func TestClient_RetryOnServerError(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"faces":[]}`))
	})

	_, err := c.Detect(context.Background(), image.NewRGBA(image.Rect(0, 0, 2, 2)))
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestClient_RetryOnRateLimit_Exhausted(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	})
	c.maxRetries = 2

	_, err := c.Detect(context.Background(), image.NewRGBA(image.Rect(0, 0, 2, 2)))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestClient_NoRetryOnClientError(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	})

	_, err := c.Detect(context.Background(), image.NewRGBA(image.Rect(0, 0, 2, 2)))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRequestFailed)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestClient_ContextCancelledDuringBackoff(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	c.baseBackoff = time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Detect(ctx, image.NewRGBA(image.Rect(0, 0, 2, 2)))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, isRetryable(&retryableError{err: ErrServerError}))
	assert.False(t, isRetryable(ErrRequestFailed))
}
