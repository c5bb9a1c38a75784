package vision

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solidPNG(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode([]byte("definitely not an image"))
	assert.ErrorIs(t, err, ErrUndecodable)
}

func TestToCHWLayoutAndNormalization(t *testing.T) {
	img, err := Decode(solidPNG(t, 10, 6, color.RGBA{R: 255, G: 0, B: 51, A: 255}))
	require.NoError(t, err)

	data := ToCHW(img, 4, SigLIPNorm)
	require.Len(t, data, 3*4*4)

	plane := 16
	for i := 0; i < plane; i++ {
		assert.InDelta(t, 1.0, data[i], 1e-6)
		assert.InDelta(t, -1.0, data[plane+i], 1e-6)
		assert.InDelta(t, -0.6, data[2*plane+i], 1e-6)
	}
}

func TestResizeSamplesNearestNeighbour(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 2, 1))
	src.Set(0, 0, color.RGBA{R: 255, A: 255})
	src.Set(1, 0, color.RGBA{B: 255, A: 255})

	out := resize(src, 4, 2)
	r, _, _, _ := out.At(1, 1).RGBA()
	_, _, b, _ := out.At(3, 0).RGBA()
	assert.Equal(t, uint32(0xffff), r)
	assert.Equal(t, uint32(0xffff), b)
}

func TestL2Normalize(t *testing.T) {
	v := []float32{3, 4}
	require.True(t, l2Normalize(v))
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)

	zero := []float32{0, 0}
	assert.False(t, l2Normalize(zero))
	assert.Equal(t, []float32{0, 0}, zero)
}

func TestArgmaxSoftmax(t *testing.T) {
	idx, p := argmaxSoftmax([]float32{0.1, 2.0, 0.1})
	assert.Equal(t, 1, idx)
	assert.InDelta(t, 0.77, p, 0.001)

	idx, p = argmaxSoftmax([]float32{1, 1})
	assert.Equal(t, 0, idx)
	assert.Equal(t, 0.5, p)
}
