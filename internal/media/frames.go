package media

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os/exec"
	"strconv"
)

// OpenFrames starts an ffmpeg process decoding the first video stream of
// path into raw RGBA frames read from its stdout. Frames are rotated
// upright, so info must carry the displayed size reported by Probe.
func (p *FFmpegProcessor) OpenFrames(ctx context.Context, path string, info VideoInfo) (FrameReader, error) {
	if info.Width <= 0 || info.Height <= 0 {
		return nil, fmt.Errorf("%w: width=%d, height=%d", ErrInvalidDimensions, info.Width, info.Height)
	}

	args := []string{
		"-v", "error",
		"-autorotate",
		"-i", path,
		"-map", "0:v:0",
		"-fps_mode", "passthrough", // One output frame per decoded frame
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-",
	}

	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, p.ffmpegPath, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	r := &ffmpegFrameReader{
		proc:   process{ctx: ctx, cmd: cmd, args: args},
		rect:   image.Rect(0, 0, info.Width, info.Height),
		stdout: bufio.NewReaderSize(stdout, info.Width*info.Height*4),
	}
	cmd.Stderr = &r.proc.stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg decoder: %w", err)
	}
	return r, nil
}

type ffmpegFrameReader struct {
	proc   process
	rect   image.Rectangle
	stdout io.Reader
	eof    bool
}

// ReadFrame returns the next frame. A trailing partial frame is reported
// once as ErrCorruptFrame, followed by io.EOF.
func (r *ffmpegFrameReader) ReadFrame() (*image.RGBA, error) {
	if r.eof {
		return nil, io.EOF
	}

	frame := image.NewRGBA(r.rect)
	n, err := io.ReadFull(r.stdout, frame.Pix)
	switch {
	case err == nil:
		return frame, nil
	case errors.Is(err, io.EOF):
		r.eof = true
		if werr := r.proc.wait(); werr != nil {
			return nil, werr
		}
		return nil, io.EOF
	case errors.Is(err, io.ErrUnexpectedEOF):
		r.eof = true
		if werr := r.proc.wait(); werr != nil {
			return nil, werr
		}
		return nil, fmt.Errorf("%w: got %d of %d bytes", ErrCorruptFrame, n, len(frame.Pix))
	default:
		return nil, fmt.Errorf("read frame: %w", err)
	}
}

// Close stops the decoder if it is still running.
func (r *ffmpegFrameReader) Close() error {
	if !r.proc.waited && r.proc.cmd.Process != nil {
		_ = r.proc.cmd.Process.Kill()
	}
	if !r.eof {
		_ = r.proc.wait()
		return nil
	}
	return r.proc.wait()
}

// CreateFrames starts an ffmpeg process encoding raw RGBA frames written to
// its stdin as H.264 video without audio.
func (p *FFmpegProcessor) CreateFrames(ctx context.Context, path string, info VideoInfo) (FrameWriter, error) {
	if info.Width <= 0 || info.Height <= 0 {
		return nil, fmt.Errorf("%w: width=%d, height=%d", ErrInvalidDimensions, info.Width, info.Height)
	}
	rate := info.FrameRate
	if parseRational(rate) <= 0 {
		rate = strconv.FormatFloat(info.FPS, 'f', -1, 64)
	}

	args := []string{
		"-y",
		"-v", "error",
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-s", sizeArg(info.Width, info.Height),
		"-r", rate,
		"-i", "-",
		"-an",
		"-vf", "pad=ceil(iw/2)*2:ceil(ih/2)*2", // yuv420p needs even dimensions
		"-c:v", "libx264",
		"-preset", "fast",
		"-crf", "18",
		"-pix_fmt", "yuv420p",
		path,
	}

	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, p.ffmpegPath, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdin pipe: %w", err)
	}
	w := &ffmpegFrameWriter{
		proc:  process{ctx: ctx, cmd: cmd, args: args},
		size:  image.Pt(info.Width, info.Height),
		stdin: stdin,
	}
	cmd.Stderr = &w.proc.stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg encoder: %w", err)
	}
	return w, nil
}

type ffmpegFrameWriter struct {
	proc   process
	size   image.Point
	stdin  io.WriteCloser
	closed bool
}

// WriteFrame writes one frame to the encoder.
func (w *ffmpegFrameWriter) WriteFrame(frame *image.RGBA) error {
	if w.closed {
		return errors.New("write to closed frame writer")
	}
	if frame.Bounds().Size() != w.size {
		return fmt.Errorf("%w: got %v, want %v", ErrFrameSize, frame.Bounds().Size(), w.size)
	}

	rowLen := w.size.X * 4
	if frame.Stride == rowLen && len(frame.Pix) == rowLen*w.size.Y {
		return w.write(frame.Pix)
	}
	for y := 0; y < w.size.Y; y++ {
		off := frame.PixOffset(frame.Rect.Min.X, frame.Rect.Min.Y+y)
		if err := w.write(frame.Pix[off : off+rowLen]); err != nil {
			return err
		}
	}
	return nil
}

func (w *ffmpegFrameWriter) write(b []byte) error {
	if _, err := w.stdin.Write(b); err != nil {
		// The encoder exited early; its stderr explains why.
		_ = w.stdin.Close()
		w.closed = true
		if werr := w.proc.wait(); werr != nil {
			return werr
		}
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Close flushes the encoder and waits for it to finish writing the file.
func (w *ffmpegFrameWriter) Close() error {
	if !w.closed {
		w.closed = true
		_ = w.stdin.Close()
	}
	return w.proc.wait()
}

// process tracks a running ffmpeg command so it is waited on exactly once.
type process struct {
	ctx     context.Context
	cmd     *exec.Cmd
	args    []string
	stderr  bytes.Buffer
	waited  bool
	waitErr error
}

func (p *process) wait() error {
	if p.waited {
		return p.waitErr
	}
	p.waited = true
	if err := p.cmd.Wait(); err != nil {
		if p.ctx.Err() != nil {
			p.waitErr = fmt.Errorf("ffmpeg cancelled: %w", p.ctx.Err())
		} else {
			p.waitErr = &FFmpegError{Args: p.args, Stderr: p.stderr.String(), Err: err}
		}
	}
	return p.waitErr
}
