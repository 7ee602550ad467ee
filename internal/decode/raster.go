package decode

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	xdraw "golang.org/x/image/draw"
)

// DefaultMaxPixels bounds the natural size of images we are willing to
// decode: 64 megapixels, 256 MiB as RGBA.
const DefaultMaxPixels = 64 << 20

// Constraints describe the raster a request wants back.
type Constraints struct {
	MaxWidth  int // 0 = unconstrained
	MaxHeight int // 0 = unconstrained
	Scale     ScaleType
	Format    PixelFormat
	MaxPixels int // 0 = DefaultMaxPixels
}

// Raster decodes data under c.
//
// With no bounds the image is decoded at natural size. Otherwise the
// natural size is probed first, the desired size computed from the scale
// policy, and the decoder asked for the nearest power-of-two downsample;
// if that is still larger than desired the result is resized precisely.
func Raster(dec Decoder, data []byte, c Constraints) (image.Image, error) {
	cfg, _, err := dec.DecodeConfig(data)
	if err != nil {
		return nil, err
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("decode: invalid dimensions %dx%d", cfg.Width, cfg.Height)
	}
	maxPixels := c.MaxPixels
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}
	if int64(cfg.Width)*int64(cfg.Height) > int64(maxPixels) {
		return nil, fmt.Errorf("%w: %dx%d", ErrTooLarge, cfg.Width, cfg.Height)
	}

	if c.MaxWidth == 0 && c.MaxHeight == 0 {
		return dec.Decode(data, Options{Format: c.Format})
	}

	desiredW, desiredH := DesiredSize(c.MaxWidth, c.MaxHeight, cfg.Width, cfg.Height, c.Scale)
	sample := FindBestSampleSize(cfg.Width, cfg.Height, desiredW, desiredH)

	tmp, err := dec.Decode(data, Options{SampleSize: sample, Format: c.Format})
	if err != nil {
		return nil, err
	}

	b := tmp.Bounds()
	if b.Dx() <= desiredW && b.Dy() <= desiredH {
		return tmp, nil
	}

	dst := NewImage(c.Format, image.Rect(0, 0, desiredW, desiredH))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), tmp, b, xdraw.Src, nil)
	return dst, nil
}

// EncodeJPEG re-encodes img at maximum quality for the raster byte tier.
func EncodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 100}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
