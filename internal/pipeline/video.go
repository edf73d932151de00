package pipeline

import (
	"context"
	"errors"
	"image"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/maauso/faceswap-api/internal/media"
	"github.com/maauso/faceswap-api/internal/vision"
)

// Stage names reported to the Observer and used as span names.
const (
	StageProbe       = "probe"
	StageSourceFaces = "source_faces"
	StageBackground  = "background"
	StageFrames      = "frames"
	StageRemux       = "remux"
)

const (
	defaultProgressEvery = 10
	// maxConsecutiveCorrupt bounds how many undecodable frames in a row are
	// skipped before decoding is considered broken. ffmpeg drops frames it
	// cannot decode instead of reporting them, so for ffmpeg input the
	// frame count checks at the end of streamFrames catch the loss.
	maxConsecutiveCorrupt = 25
)

// Input describes one video to process.
type Input struct {
	VideoPath      string
	SourceFaces    []string
	BackgroundPath string
	// WorkDir receives intermediate and final files. The caller owns it.
	WorkDir string
}

// Result describes a finished run.
type Result struct {
	OutputPath    string
	FramesWritten int
	FramesSkipped int
	HasAudio      bool
}

// VideoPipeline streams a video through the FramePipeline and remuxes
// the original audio.
type VideoPipeline struct {
	media         media.Processor
	detector      vision.FaceDetector
	frames        *FramePipeline
	progressEvery int
	observer      Observer
	logger        *slog.Logger
	tracer        trace.Tracer
}

// Option configures a VideoPipeline.
type Option func(*VideoPipeline)

// WithProgressEvery sets the number of frames between progress reports.
func WithProgressEvery(n int) Option {
	return func(p *VideoPipeline) {
		if n > 0 {
			p.progressEvery = n
		}
	}
}

// WithObserver sets the receiver of stage timings and frame counts.
func WithObserver(o Observer) Option {
	return func(p *VideoPipeline) {
		if o != nil {
			p.observer = o
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *VideoPipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewVideoPipeline creates a VideoPipeline. matte may be nil when
// background replacement is not used.
func NewVideoPipeline(proc media.Processor, detector vision.FaceDetector, swapper vision.FaceSwapper, matte vision.BackgroundMatte, opts ...Option) *VideoPipeline {
	p := &VideoPipeline{
		media:         proc,
		detector:      detector,
		frames:        NewFramePipeline(detector, swapper, matte),
		progressEvery: defaultProgressEvery,
		observer:      nopObserver{},
		logger:        slog.Default(),
		tracer:        otel.Tracer("github.com/maauso/faceswap-api/internal/pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process runs the full pipeline and returns the path of the final video
// inside in.WorkDir. sink may be nil.
func (p *VideoPipeline) Process(ctx context.Context, in Input, sink ProgressSink) (Result, error) {
	logger := p.logger
	if len(in.SourceFaces) == 0 {
		return Result{}, wrap(ErrValidation, nil, "no source faces")
	}

	// 1. Probe input
	var info media.VideoInfo
	err := p.stage(ctx, StageProbe, func(ctx context.Context) error {
		var err error
		info, err = p.media.Probe(ctx, in.VideoPath)
		if err != nil {
			return wrap(ErrDecode, err, "open input video")
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	logger.Info("input video opened",
		slog.Int("width", info.Width),
		slog.Int("height", info.Height),
		slog.Float64("fps", info.FPS),
		slog.Int("frames", info.FrameCount),
		slog.Bool("has_audio", info.HasAudio),
	)

	// 2. Source face descriptors
	var sources []vision.Face
	err = p.stage(ctx, StageSourceFaces, func(ctx context.Context) error {
		var err error
		sources, err = p.loadSourceFaces(ctx, in.SourceFaces)
		return err
	})
	if err != nil {
		return Result{}, err
	}

	// 3. Background, resized once
	var background *image.RGBA
	if in.BackgroundPath != "" {
		err = p.stage(ctx, StageBackground, func(ctx context.Context) error {
			var err error
			background, err = p.prepareBackground(ctx, in.BackgroundPath, info, in.WorkDir)
			return err
		})
		if err != nil {
			return Result{}, err
		}
	}

	// 4 + 5. Stream frames
	videoOnly := filepath.Join(in.WorkDir, "video_only.mp4")
	var written, skipped int
	err = p.stage(ctx, StageFrames, func(ctx context.Context) error {
		var err error
		written, skipped, err = p.streamFrames(ctx, in.VideoPath, videoOnly, info, sources, background, sink)
		return err
	})
	if err != nil {
		return Result{}, err
	}

	// 7. Remux original audio
	output := filepath.Join(in.WorkDir, "output.mp4")
	err = p.stage(ctx, StageRemux, func(ctx context.Context) error {
		if err := p.media.MuxAudio(ctx, videoOnly, in.VideoPath, output); err != nil {
			return wrap(ErrRemux, err, "combine audio")
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	// 8. Final progress
	reporter := &progressReporter{sink: sink, logger: logger}
	reporter.done()

	logger.Info("video processed",
		slog.Int("frames_written", written),
		slog.Int("frames_skipped", skipped),
	)

	return Result{
		OutputPath:    output,
		FramesWritten: written,
		FramesSkipped: skipped,
		HasAudio:      info.HasAudio,
	}, nil
}

// streamFrames decodes, processes and encodes every frame in order.
func (p *VideoPipeline) streamFrames(ctx context.Context, inputPath, outputPath string, info media.VideoInfo,
	sources []vision.Face, background *image.RGBA, sink ProgressSink) (written, skipped int, err error) {
	reader, err := p.media.OpenFrames(ctx, inputPath, info)
	if err != nil {
		return 0, 0, wrap(ErrDecode, err, "start decoder")
	}
	defer func() { _ = reader.Close() }()

	writer, err := p.media.CreateFrames(ctx, outputPath, info)
	if err != nil {
		return 0, 0, wrap(ErrEncode, err, "start encoder")
	}
	writerClosed := false
	defer func() {
		if !writerClosed {
			_ = writer.Close()
		}
	}()

	reporter := &progressReporter{sink: sink, total: info.FrameCount, every: p.progressEvery, logger: p.logger}
	consecutiveCorrupt := 0

	for {
		if err := ctx.Err(); err != nil {
			return written, skipped, wrap(ErrDecode, err, "interrupted at frame %d", written+skipped)
		}

		frame, err := reader.ReadFrame()
		if errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, media.ErrCorruptFrame) {
			skipped++
			consecutiveCorrupt++
			p.observer.FrameSkipped()
			p.logger.Warn("skipping undecodable frame",
				slog.Int("frame", written+skipped-1),
				slog.String("error", err.Error()),
			)
			if consecutiveCorrupt > maxConsecutiveCorrupt {
				return written, skipped, wrap(ErrDecode, err, "%d consecutive undecodable frames", consecutiveCorrupt)
			}
			reporter.frame(written + skipped)
			continue
		}
		if err != nil {
			return written, skipped, wrap(ErrDecode, err, "read frame %d", written+skipped)
		}
		consecutiveCorrupt = 0

		processed, err := p.frames.Apply(ctx, frame, sources, background)
		if err != nil {
			return written, skipped, err
		}

		if err := writer.WriteFrame(processed); err != nil {
			return written, skipped, wrap(ErrEncode, err, "write frame %d", written+skipped)
		}
		written++
		p.observer.FrameProcessed()
		reporter.frame(written + skipped)
	}

	writerClosed = true
	if err := writer.Close(); err != nil {
		return written, skipped, wrap(ErrEncode, err, "finish encoding")
	}

	if written == 0 {
		return written, skipped, wrap(ErrDecode, nil, "no frames decoded")
	}
	if info.FrameCountExact && written+skipped < info.FrameCount-1 {
		return written, skipped, wrap(ErrDecode, nil, "decoding stopped at frame %d of %d", written+skipped, info.FrameCount)
	}
	if !info.FrameCountExact && info.FrameCount > 0 && written+skipped < info.FrameCount-1 {
		p.logger.Warn("decoded fewer frames than estimated",
			slog.Int("written", written),
			slog.Int("skipped", skipped),
			slog.Int("estimated", info.FrameCount),
		)
	}

	return written, skipped, nil
}

// loadSourceFaces detects one face per source image, keeping the
// detector's first face.
func (p *VideoPipeline) loadSourceFaces(ctx context.Context, paths []string) ([]vision.Face, error) {
	faces := make([]vision.Face, 0, len(paths))
	for _, path := range paths {
		img, err := media.DecodeImage(path)
		if err != nil {
			return nil, wrap(ErrValidation, err, "cannot read source image: %s", path)
		}
		detected, err := p.detector.Detect(ctx, img)
		if err != nil {
			return nil, wrap(ErrModel, err, "detect faces in source image: %s", path)
		}
		if len(detected) == 0 {
			return nil, wrap(ErrValidation, nil, "no face detected in source image: %s", path)
		}
		faces = append(faces, detected[0])
	}
	return faces, nil
}

// prepareBackground resizes the background image to the frame size.
func (p *VideoPipeline) prepareBackground(ctx context.Context, path string, info media.VideoInfo, workDir string) (*image.RGBA, error) {
	resized := filepath.Join(workDir, "background.png")
	if err := p.media.ResizeImage(ctx, path, resized, info.Width, info.Height); err != nil {
		return nil, wrap(ErrValidation, err, "cannot resize background image: %s", path)
	}

	f, err := os.Open(resized) // #nosec G304 - file created in the job work area
	if err != nil {
		return nil, wrap(ErrValidation, err, "cannot read background image: %s", path)
	}
	defer func() { _ = f.Close() }()

	img, err := png.Decode(f)
	if err != nil {
		return nil, wrap(ErrValidation, err, "cannot decode background image: %s", path)
	}
	bg := vision.ToRGBA(img)
	if bg.Bounds().Dx() != info.Width || bg.Bounds().Dy() != info.Height {
		return nil, wrap(ErrValidation, nil, "background is %v after resize, want %dx%d",
			bg.Bounds().Size(), info.Width, info.Height)
	}
	return bg, nil
}

// stage runs fn inside a span and reports its duration.
func (p *VideoPipeline) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := p.tracer.Start(ctx, "pipeline."+name)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	p.observer.ObserveStage(name, time.Since(start))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if kind := Kind(err); kind != nil {
			span.SetAttributes(attribute.String("failure.kind", kind.Error()))
		}
	}
	return err
}
