package decode

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// StdDecoder decodes every format registered with package image: JPEG,
// PNG, GIF (first frame) and WebP.
//
// The codecs cannot decode at reduced resolution, so the sample size is
// applied right after decode with a cheap box-like filter; the full-size
// buffer becomes garbage before the caller does any further work.
type StdDecoder struct{}

var _ Decoder = StdDecoder{}

func (StdDecoder) DecodeConfig(data []byte) (image.Config, string, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return image.Config{}, "", fmt.Errorf("decode config: %w", err)
	}
	return cfg, format, nil
}

func (StdDecoder) Decode(data []byte, opts Options) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if opts.SampleSize > 1 {
		return subsample(img, opts.SampleSize, opts.Format), nil
	}
	return Convert(img, opts.Format), nil
}

func subsample(src image.Image, n int, format PixelFormat) image.Image {
	b := src.Bounds()
	w := max(b.Dx()/n, 1)
	h := max(b.Dy()/n, 1)
	dst := NewImage(format, image.Rect(0, 0, w, h))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, b, xdraw.Src, nil)
	return dst
}

// NewImage allocates an empty image in the given pixel format.
func NewImage(format PixelFormat, r image.Rectangle) draw.Image {
	switch format {
	case FormatNRGBA:
		return image.NewNRGBA(r)
	case FormatGray:
		return image.NewGray(r)
	default:
		return image.NewRGBA(r)
	}
}

// Convert returns img in the requested pixel format, copying only when the
// concrete type differs.
func Convert(img image.Image, format PixelFormat) image.Image {
	switch format {
	case FormatNRGBA:
		if _, ok := img.(*image.NRGBA); ok {
			return img
		}
	case FormatGray:
		if _, ok := img.(*image.Gray); ok {
			return img
		}
	default:
		if _, ok := img.(*image.RGBA); ok {
			return img
		}
	}

	b := img.Bounds()
	dst := NewImage(format, image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

// SizeOf returns the bytes held by the pixel buffer of img: row stride
// times height for the concrete types produced here.
func SizeOf(img image.Image) int64 {
	h := int64(img.Bounds().Dy())
	switch m := img.(type) {
	case *image.RGBA:
		return int64(m.Stride) * h
	case *image.NRGBA:
		return int64(m.Stride) * h
	case *image.Gray:
		return int64(m.Stride) * h
	case *image.Paletted:
		return int64(m.Stride) * h
	case *image.YCbCr:
		return int64(len(m.Y) + len(m.Cb) + len(m.Cr))
	default:
		return int64(img.Bounds().Dx()) * h * 4
	}
}
