package pipeline

import (
	"context"
	"fmt"
	"image"

	"github.com/maauso/faceswap-api/internal/vision"
)

// FramePipeline applies face swapping and optional background replacement
// to a single frame.
type FramePipeline struct {
	detector vision.FaceDetector
	swapper  vision.FaceSwapper
	matte    vision.BackgroundMatte
}

// NewFramePipeline creates a FramePipeline. matte may be nil when
// background replacement is never requested.
func NewFramePipeline(detector vision.FaceDetector, swapper vision.FaceSwapper, matte vision.BackgroundMatte) *FramePipeline {
	return &FramePipeline{detector: detector, swapper: swapper, matte: matte}
}

// Apply processes one frame. Faces are swapped sequentially, each swap
// working on the previous result. When background is non-nil the swapped
// frame is composited over it using the matte alpha. The input frame is
// never modified.
func (p *FramePipeline) Apply(ctx context.Context, frame *image.RGBA, sources []vision.Face, background *image.RGBA) (*image.RGBA, error) {
	faces, err := p.detector.Detect(ctx, frame)
	if err != nil {
		return nil, wrap(ErrModel, err, "detect faces")
	}

	out := frame
	for i, pair := range ResolveCorrespondence(faces, sources) {
		swapped, err := p.swapper.Swap(ctx, out, pair.Target, pair.Source)
		if err != nil {
			return nil, wrap(ErrModel, err, "swap face %d", i)
		}
		if swapped == nil || swapped.Bounds().Size() != frame.Bounds().Size() {
			return nil, wrap(ErrModel, nil, "swap face %d: unusable result", i)
		}
		out = swapped
	}

	if background == nil {
		if out == frame {
			out = cloneRGBA(frame)
		}
		return out, nil
	}

	if p.matte == nil {
		return nil, wrap(ErrModel, nil, "background replacement requested without a matte model")
	}
	alpha, err := p.matte.Alpha(ctx, out)
	if err != nil {
		return nil, wrap(ErrModel, err, "background matte")
	}
	composited, err := Composite(out, background, alpha)
	if err != nil {
		return nil, wrap(ErrModel, err, "composite background")
	}
	return composited, nil
}

// Composite blends fg over bg: out = fg*a + bg*(1-a) with a = alpha/255.
// All three images must have the same size.
func Composite(fg, bg *image.RGBA, alpha *image.Gray) (*image.RGBA, error) {
	size := fg.Bounds().Size()
	if bg.Bounds().Size() != size || alpha.Bounds().Size() != size {
		return nil, fmt.Errorf("size mismatch: frame %v, background %v, alpha %v",
			size, bg.Bounds().Size(), alpha.Bounds().Size())
	}

	out := image.NewRGBA(image.Rect(0, 0, size.X, size.Y))
	for y := 0; y < size.Y; y++ {
		fgOff := fg.PixOffset(fg.Rect.Min.X, fg.Rect.Min.Y+y)
		bgOff := bg.PixOffset(bg.Rect.Min.X, bg.Rect.Min.Y+y)
		aOff := alpha.PixOffset(alpha.Rect.Min.X, alpha.Rect.Min.Y+y)
		outOff := out.PixOffset(0, y)
		for x := 0; x < size.X; x++ {
			a := uint32(alpha.Pix[aOff+x])
			for c := 0; c < 3; c++ {
				f := uint32(fg.Pix[fgOff+4*x+c])
				b := uint32(bg.Pix[bgOff+4*x+c])
				out.Pix[outOff+4*x+c] = uint8((f*a + b*(255-a)) / 255)
			}
			out.Pix[outOff+4*x+3] = 255
		}
	}
	return out, nil
}

func cloneRGBA(src *image.RGBA) *image.RGBA {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	rowLen := b.Dx() * 4
	for y := 0; y < b.Dy(); y++ {
		off := src.PixOffset(b.Min.X, b.Min.Y+y)
		copy(dst.Pix[y*dst.Stride:y*dst.Stride+rowLen], src.Pix[off:off+rowLen])
	}
	return dst
}
