package decode

import (
	"bytes"
	"image"
	"image/color/palette"
	"image/gif"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gifOf(t *testing.T, frames int) []byte {
	t.Helper()
	g := &gif.GIF{}
	for i := 0; i < frames; i++ {
		frame := image.NewPaletted(image.Rect(0, 0, 8, 6), palette.Plan9)
		frame.SetColorIndex(i%8, 0, uint8(i+1))
		g.Image = append(g.Image, frame)
		g.Delay = append(g.Delay, 10)
	}
	var buf bytes.Buffer
	require.NoError(t, gif.EncodeAll(&buf, g))
	return buf.Bytes()
}

func TestGIFDecoderAnimated(t *testing.T) {
	t.Parallel()

	anim, err := GIFDecoder{}.DecodeAnimated(gifOf(t, 3))
	require.NoError(t, err)
	assert.Equal(t, 3, anim.Frames())
	assert.Equal(t, 8, anim.Width)
	assert.Equal(t, 6, anim.Height)
}

func TestGIFDecoderSingleFrame(t *testing.T) {
	t.Parallel()

	_, err := GIFDecoder{}.DecodeAnimated(gifOf(t, 1))
	assert.ErrorIs(t, err, ErrNotAnimated)

	// The same bytes still decode as a raster.
	img, err := Raster(StdDecoder{}, gifOf(t, 1), Constraints{})
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 8, 6), img.Bounds())
}

func TestGIFDecoderInvalid(t *testing.T) {
	t.Parallel()

	_, err := GIFDecoder{}.DecodeAnimated([]byte("GIF89a-truncated"))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotAnimated)

	var nilAnim *Animation
	assert.Zero(t, nilAnim.Frames())
}
