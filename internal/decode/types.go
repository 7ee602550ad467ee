// Package decode turns fetched bytes into images: raster decode with a
// bounded-memory resize policy, optional animated decode, and the JPEG
// re-encode used by the raster byte tier.
package decode

import (
	"errors"
	"fmt"
	"image"
	"image/gif"
	"strings"
)

var (
	// ErrNotAnimated is returned by an AnimatedDecoder for input that is not
	// a multi-frame image.
	ErrNotAnimated = errors.New("decode: not an animated image")

	// ErrTooLarge is returned when the probed dimensions exceed the pixel
	// budget, before any pixel memory is allocated.
	ErrTooLarge = errors.New("decode: image exceeds pixel budget")
)

// ScaleType governs how the target size is derived from the max bounds.
type ScaleType int

const (
	// ScaleFitInside keeps the aspect ratio and fits within both bounds.
	ScaleFitInside ScaleType = iota
	// ScaleFitExact stretches to the bounds, ignoring aspect ratio.
	ScaleFitExact
	// ScaleFillCrop keeps the aspect ratio and covers both bounds; one side
	// may exceed its bound.
	ScaleFillCrop
)

func (s ScaleType) String() string {
	switch s {
	case ScaleFitExact:
		return "exact"
	case ScaleFillCrop:
		return "crop"
	default:
		return "inside"
	}
}

// ParseScaleType parses "inside", "exact" or "crop". Empty means inside.
func ParseScaleType(s string) (ScaleType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "inside", "fit-inside", "center-inside":
		return ScaleFitInside, nil
	case "exact", "fit-exact", "fit-xy":
		return ScaleFitExact, nil
	case "crop", "fill-crop", "center-crop":
		return ScaleFillCrop, nil
	default:
		return ScaleFitInside, fmt.Errorf("unknown scale type %q", s)
	}
}

// PixelFormat is the in-memory layout a raster is decoded into.
type PixelFormat int

const (
	FormatRGBA PixelFormat = iota
	FormatNRGBA
	FormatGray
)

func (f PixelFormat) String() string {
	switch f {
	case FormatNRGBA:
		return "nrgba"
	case FormatGray:
		return "gray"
	default:
		return "rgba"
	}
}

// ParsePixelFormat parses "rgba", "nrgba" or "gray". Empty means rgba.
func ParsePixelFormat(s string) (PixelFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "rgba", "argb8888":
		return FormatRGBA, nil
	case "nrgba":
		return FormatNRGBA, nil
	case "gray", "grey", "alpha8":
		return FormatGray, nil
	default:
		return FormatRGBA, fmt.Errorf("unknown pixel format %q", s)
	}
}

// Options are passed to a Decoder for one decode call.
type Options struct {
	// SampleSize is a power-of-two downsample hint; 1 or 0 means none.
	SampleSize int
	Format     PixelFormat
}

// Decoder is the raster decode collaborator.
type Decoder interface {
	// DecodeConfig reports dimensions and format without decoding pixels.
	DecodeConfig(data []byte) (image.Config, string, error)
	// Decode returns the image, downsampled by opts.SampleSize.
	Decode(data []byte, opts Options) (image.Image, error)
}

// Animation is a decoded multi-frame image.
type Animation struct {
	GIF    *gif.GIF
	Width  int
	Height int
}

// Frames returns the number of frames.
func (a *Animation) Frames() int {
	if a == nil || a.GIF == nil {
		return 0
	}
	return len(a.GIF.Image)
}

// AnimatedDecoder is the optional animated decode collaborator.
type AnimatedDecoder interface {
	DecodeAnimated(data []byte) (*Animation, error)
}
