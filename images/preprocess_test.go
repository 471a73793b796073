package images

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solidImage(w, h int, c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestDecodeRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, solidImage(8, 8, color.White)))

	img, err := Decode(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, 8, img.Bounds().Dx())
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode([]byte("definitely not an image"))
	assert.Error(t, err)
}

func TestToTensorShapeAndRange(t *testing.T) {
	img := solidImage(100, 60, color.RGBA{R: 255, G: 0, B: 0, A: 255})

	dense, err := ToTensor(img, Shape{Width: 32, Height: 16})
	require.NoError(t, err)

	assert.Equal(t, []int{3, 16, 32}, []int(dense.Shape()))

	data := dense.Data().([]float32)
	require.Len(t, data, 3*16*32)

	channelSize := 16 * 32
	assert.InDelta(t, 1.0, data[0], 0.02, "red channel of a red image is ~1")
	assert.InDelta(t, 0.0, data[channelSize], 0.02, "green channel is ~0")
	assert.InDelta(t, 0.0, data[2*channelSize], 0.02, "blue channel is ~0")
}

func TestToTensorRejectsInvalidShape(t *testing.T) {
	_, err := ToTensor(solidImage(4, 4, color.Black), Shape{Width: 0, Height: 10})
	assert.Error(t, err)
}

func TestTensorShape(t *testing.T) {
	dense, err := ToTensor(solidImage(4, 4, color.Black), Shape{Width: 10, Height: 6})
	require.NoError(t, err)

	shape, err := TensorShape(dense)
	require.NoError(t, err)
	assert.Equal(t, Shape{Width: 10, Height: 6}, shape)
}
