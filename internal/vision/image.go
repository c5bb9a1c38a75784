package vision

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/stableguard/stableguard/internal/inference"
)

var ErrUndecodable = inference.ErrUndecodableImage

// Normalization is a per-channel (pixel/255 - Mean) / Std transform.
type Normalization struct {
	Mean [3]float32
	Std  [3]float32
}

var (
	// SigLIPNorm maps [0,255] onto [-1,1].
	SigLIPNorm = Normalization{Mean: [3]float32{0.5, 0.5, 0.5}, Std: [3]float32{0.5, 0.5, 0.5}}
	// ImageNetNorm is the torchvision default.
	ImageNetNorm = Normalization{Mean: [3]float32{0.485, 0.456, 0.406}, Std: [3]float32{0.229, 0.224, 0.225}}
)

func Decode(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	return img, nil
}

// ToCHW resizes img to size x size and lays it out as a normalized
// [3][size][size] float32 tensor.
func ToCHW(img image.Image, size int, norm Normalization) []float32 {
	resized := resize(img, size, size)
	plane := size * size
	data := make([]float32, 3*plane)

	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			r, g, b, _ := resized.At(x, y).RGBA()
			idx := y*size + x
			data[idx] = (float32(r>>8)/255 - norm.Mean[0]) / norm.Std[0]
			data[plane+idx] = (float32(g>>8)/255 - norm.Mean[1]) / norm.Std[1]
			data[2*plane+idx] = (float32(b>>8)/255 - norm.Mean[2]) / norm.Std[2]
		}
	}
	return data
}

// resize is nearest-neighbour; good enough for model input.
func resize(img image.Image, w, h int) image.Image {
	bounds := img.Bounds()
	srcW, srcH := bounds.Dx(), bounds.Dy()

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dst.Set(x, y, img.At(bounds.Min.X+x*srcW/w, bounds.Min.Y+y*srcH/h))
		}
	}
	return dst
}
