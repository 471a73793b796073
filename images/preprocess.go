// Package images - Decoding and tensor preparation for inference input.
package images

import (
	"bytes"
	"image"
	_ "image/jpeg"
	_ "image/png"

	"github.com/nfnt/resize"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Shape is the spatial size expected by a model input.
type Shape struct {
	Width  int `json:"width"  yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

// DefaultShape matches the 640x640 input of the bundled detection models.
var DefaultShape = Shape{Width: 640, Height: 640}

// Decode parses an encoded JPEG or PNG image.
func Decode(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "decoding image")
	}
	return img, nil
}

// ToTensor resizes the image to the given shape and converts it into a CHW
// float32 tensor with pixel values normalized to [0, 1]. Every backend
// adapter consumes this layout.
func ToTensor(img image.Image, shape Shape) (*tensor.Dense, error) {
	if shape.Width <= 0 || shape.Height <= 0 {
		return nil, errors.Errorf("invalid input shape %dx%d", shape.Width, shape.Height)
	}

	resized := resize.Resize(uint(shape.Width), uint(shape.Height), img, resize.Lanczos3)

	channelSize := shape.Width * shape.Height
	data := make([]float32, 3*channelSize)
	red := data[0:channelSize]
	green := data[channelSize : 2*channelSize]
	blue := data[2*channelSize : 3*channelSize]

	i := 0
	for y := 0; y < shape.Height; y++ {
		for x := 0; x < shape.Width; x++ {
			r, g, b, _ := resized.At(x, y).RGBA()
			red[i] = float32(r>>8) / 255.0
			green[i] = float32(g>>8) / 255.0
			blue[i] = float32(b>>8) / 255.0
			i++
		}
	}

	return tensor.New(
		tensor.WithShape(3, shape.Height, shape.Width),
		tensor.WithBacking(data),
	), nil
}

// TensorShape extracts the spatial shape of a CHW tensor produced by
// ToTensor.
func TensorShape(t *tensor.Dense) (Shape, error) {
	dims := t.Shape()
	if len(dims) != 3 || dims[0] != 3 {
		return Shape{}, errors.Errorf("expected CHW tensor with 3 channels, got shape %v", dims)
	}
	return Shape{Width: dims[2], Height: dims[1]}, nil
}
