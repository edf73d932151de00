package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
)

// Static errors for media operations.
var (
	// ErrInvalidDimensions is returned when the provided dimensions are not positive.
	ErrInvalidDimensions = errors.New("invalid dimensions: width and height must be positive")
	// ErrFFprobeExecution is returned when ffprobe command fails.
	ErrFFprobeExecution = errors.New("ffprobe execution failed")
	// ErrNoVideoStream is returned when a file has no video stream.
	ErrNoVideoStream = errors.New("no video stream found")
	// ErrCorruptFrame is returned by a FrameReader for an undecodable frame.
	ErrCorruptFrame = errors.New("corrupt frame")
	// ErrFrameSize is returned when a frame does not match the stream dimensions.
	ErrFrameSize = errors.New("frame size does not match stream")
)

// Compile-time check that FFmpegProcessor implements Processor.
var _ Processor = (*FFmpegProcessor)(nil)

// FFmpegProcessor implements Processor using the ffmpeg CLI.
type FFmpegProcessor struct {
	// ffmpegPath is the path to the ffmpeg binary. Defaults to "ffmpeg".
	ffmpegPath string
	// ffprobePath is the path to the ffprobe binary. Defaults to "ffprobe".
	ffprobePath string
}

// NewFFmpegProcessor creates a new FFmpegProcessor.
// Empty paths default to "ffmpeg" and "ffprobe" (found via PATH).
func NewFFmpegProcessor(ffmpegPath, ffprobePath string) *FFmpegProcessor {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFmpegProcessor{ffmpegPath: ffmpegPath, ffprobePath: ffprobePath}
}

// ResizeImage scales an image to exactly w x h, ignoring aspect ratio.
func (p *FFmpegProcessor) ResizeImage(ctx context.Context, src, dst string, w, h int) error {
	if w <= 0 || h <= 0 {
		return fmt.Errorf("%w: width=%d, height=%d", ErrInvalidDimensions, w, h)
	}

	args := []string{
		"-y",      // Overwrite output file without asking
		"-i", src, // Input file
		"-vf", fmt.Sprintf("scale=%d:%d", w, h), // Exact size
		"-frames:v", "1", // Output single frame (image)
		dst,
	}

	return p.runFFmpeg(ctx, args)
}

// MuxAudio combines the video of videoPath with the audio of audioSource.
// It first attempts a stream copy of both tracks and falls back to
// encoding the audio with aac if the container rejects the source codec.
func (p *FFmpegProcessor) MuxAudio(ctx context.Context, videoPath, audioSource, output string) error {
	err := p.muxWithAudioCodec(ctx, videoPath, audioSource, output, "copy")
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return err
	}

	// Stream copy failed, fall back to re-encoding the audio
	return p.muxWithAudioCodec(ctx, videoPath, audioSource, output, "aac")
}

func (p *FFmpegProcessor) muxWithAudioCodec(ctx context.Context, videoPath, audioSource, output, codec string) error {
	args := []string{
		"-y",
		"-i", videoPath,
		"-i", audioSource,
		"-map", "0:v:0", // Processed video
		"-map", "1:a?", // Original audio, if present
		"-c:v", "copy",
		"-c:a", codec,
		"-shortest",
		"-movflags", "+faststart",
		output,
	}
	return p.runFFmpeg(ctx, args)
}

// runFFmpeg executes ffmpeg with the given arguments and returns an error
// containing stderr output if the command fails.
func (p *FFmpegProcessor) runFFmpeg(ctx context.Context, args []string) error {
	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, p.ffmpegPath, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		// Check if context was cancelled
		if ctx.Err() != nil {
			return fmt.Errorf("ffmpeg cancelled: %w", ctx.Err())
		}
		return &FFmpegError{
			Args:   args,
			Stderr: stderr.String(),
			Err:    err,
		}
	}

	return nil
}

// FFmpegError represents an error from running ffmpeg, including the stderr output.
type FFmpegError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *FFmpegError) Error() string {
	return fmt.Sprintf("ffmpeg error: %v\nargs: %v\nstderr: %s", e.Err, e.Args, e.Stderr)
}

func (e *FFmpegError) Unwrap() error {
	return e.Err
}

func sizeArg(w, h int) string {
	return strconv.Itoa(w) + "x" + strconv.Itoa(h)
}
