package decode

import (
	"bytes"
	"fmt"
	"image/gif"
)

// GIFDecoder decodes animated GIFs. Single-frame GIFs are rejected with
// ErrNotAnimated so they take the raster path and land in the memory cache.
type GIFDecoder struct{}

var _ AnimatedDecoder = GIFDecoder{}

func (GIFDecoder) DecodeAnimated(data []byte) (*Animation, error) {
	g, err := gif.DecodeAll(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode animated: %w", err)
	}
	if len(g.Image) < 2 {
		return nil, ErrNotAnimated
	}
	return &Animation{
		GIF:    g,
		Width:  g.Config.Width,
		Height: g.Config.Height,
	}, nil
}
