package classifier

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPreprocessShapeAndRange(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 37, 53))
	for y := 0; y < 53; y++ {
		for x := 0; x < 37; x++ {
			img.SetRGBA(x, y, color.RGBA{R: uint8(x * 6), G: uint8(y * 4), B: 200, A: 255})
		}
	}

	const size = 64
	data := Preprocess(img, size)
	require.Len(t, data, 3*size*size)

	for i, v := range data {
		require.GreaterOrEqual(t, v, float32(0), "value %d below range", i)
		require.LessOrEqual(t, v, float32(1), "value %d above range", i)
	}
}

func TestPreprocessChannelPlanes(t *testing.T) {
	// Pure red input: the first plane saturates, the others stay zero.
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.SetRGBA(x, y, color.RGBA{R: 255, A: 255})
		}
	}

	const size = 16
	data := Preprocess(img, size)
	plane := size * size

	assert.InDelta(t, 1.0, float64(data[plane/2]), 1e-3)
	assert.InDelta(t, 0.0, float64(data[plane+plane/2]), 1e-3)
	assert.InDelta(t, 0.0, float64(data[2*plane+plane/2]), 1e-3)
}
