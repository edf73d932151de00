// Package vision defines the face analysis capabilities used by the frame
// pipeline: face detection, face swapping and background matting.
// Implementations live in subpackages; the pipeline only depends on these ports.
package vision

import (
	"context"
	"image"
	"image/draw"
)

// BBox is an axis-aligned face bounding box in pixel coordinates.
type BBox struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Width returns the box width.
func (b BBox) Width() float64 { return b.X2 - b.X1 }

// Height returns the box height.
func (b BBox) Height() float64 { return b.Y2 - b.Y1 }

// Rect returns the box as an integer rectangle.
func (b BBox) Rect() image.Rectangle {
	return image.Rect(int(b.X1), int(b.Y1), int(b.X2), int(b.Y2))
}

// Face is one detected face. Landmarks and Embedding are opaque to the
// pipeline and only round-trip between detector and swapper.
type Face struct {
	BBox      BBox         `json:"bbox"`
	Score     float64      `json:"score"`
	Landmarks [][2]float64 `json:"landmarks,omitempty"`
	Embedding []float32    `json:"embedding,omitempty"`
}

// FaceDetector finds faces in an image. An empty result is not an error.
type FaceDetector interface {
	Detect(ctx context.Context, img image.Image) ([]Face, error)
}

// FaceSwapper replaces the target face in frame with the identity of source.
// It returns a new frame of the same size; frame is not modified.
type FaceSwapper interface {
	Swap(ctx context.Context, frame *image.RGBA, target, source Face) (*image.RGBA, error)
}

// BackgroundMatte produces a per-pixel foreground alpha for a frame.
// The returned mask has the frame's bounds; 255 is fully foreground.
type BackgroundMatte interface {
	Alpha(ctx context.Context, frame *image.RGBA) (*image.Gray, error)
}

// ToRGBA returns img as *image.RGBA, converting when needed.
// The returned image always has a zero origin.
func ToRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Rect.Min == (image.Point{}) {
		return rgba
	}
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}
