// Package pipeline turns an input video into a face-swapped output video.
//
// The VideoPipeline streams frames from the decoder through the
// FramePipeline (detect, resolve correspondence, swap, optional background
// composite) into the encoder, then remuxes the original audio.
package pipeline

import (
	"errors"
	"fmt"
)

// Failure kinds. Every error returned by VideoPipeline.Process wraps exactly
// one of them.
var (
	// ErrValidation covers unusable job inputs such as a source image without a face.
	ErrValidation = errors.New("validation failed")
	// ErrDownload covers failures fetching a remote input video.
	ErrDownload = errors.New("download failed")
	// ErrDecode covers failures opening or reading the input video.
	ErrDecode = errors.New("decode failed")
	// ErrEncode covers failures writing the video-only output.
	ErrEncode = errors.New("encode failed")
	// ErrRemux covers failures combining video and audio into the final file.
	ErrRemux = errors.New("remux failed")
	// ErrModel covers failures or unusable results of the vision capabilities.
	ErrModel = errors.New("model failed")
)

// wrap annotates err with kind and a short description.
func wrap(kind error, err error, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if err == nil {
		return fmt.Errorf("%w: %s", kind, msg)
	}
	return fmt.Errorf("%w: %s: %w", kind, msg, err)
}

// Kind returns the failure kind wrapped by err, or nil.
func Kind(err error) error {
	for _, k := range []error{ErrValidation, ErrDownload, ErrDecode, ErrEncode, ErrRemux, ErrModel} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
