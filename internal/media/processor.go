// Package media provides video probing, frame streaming and remuxing on top
// of the ffmpeg and ffprobe command line tools.
package media

import (
	"context"
	"image"
)

// VideoInfo describes the primary video stream of a file.
type VideoInfo struct {
	// Width and Height are the displayed frame size, after rotation.
	Width  int
	Height int
	// Rotation is the display rotation in degrees: 0, 90, 180 or 270.
	Rotation int
	// FrameRate is the rational rate as reported by ffprobe, e.g. "30000/1001".
	FrameRate string
	// FPS is FrameRate as a float.
	FPS float64
	// FrameCount is the total number of frames, 0 when unknown.
	FrameCount int
	// FrameCountExact is true when FrameCount comes from container metadata
	// rather than a duration estimate.
	FrameCountExact bool
	Duration        float64
	HasAudio        bool
}

// FrameReader yields decoded frames in presentation order.
// ReadFrame returns io.EOF at end of stream and an error wrapping
// ErrCorruptFrame for a frame that could not be decoded but after which
// reading may continue.
type FrameReader interface {
	ReadFrame() (*image.RGBA, error)
	Close() error
}

// FrameWriter encodes frames into a video-only stream.
type FrameWriter interface {
	WriteFrame(frame *image.RGBA) error
	// Close flushes the encoder and waits for the output file to be complete.
	Close() error
}

// Processor defines the media operations needed by the video pipeline.
type Processor interface {
	// Probe reads stream metadata from a video file.
	Probe(ctx context.Context, path string) (VideoInfo, error)

	// OpenFrames starts decoding path into RGBA frames of info's dimensions.
	OpenFrames(ctx context.Context, path string, info VideoInfo) (FrameReader, error)

	// CreateFrames starts an encoder writing a video-only file at path with
	// info's frame rate and dimensions.
	CreateFrames(ctx context.Context, path string, info VideoInfo) (FrameWriter, error)

	// MuxAudio combines the video stream of videoPath with the audio of
	// audioSource, if any, into output. A missing audio track is not an error.
	MuxAudio(ctx context.Context, videoPath, audioSource, output string) error

	// ResizeImage scales an image to exactly w x h.
	ResizeImage(ctx context.Context, src, dst string, w, h int) error
}
