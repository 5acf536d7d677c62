package transform

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
	"gorgonia.org/tensor"
)

// SaveJPEG writes a transformed sample back to disk so the crop can be eyeballed.
// Floats are saturated into 0..255 rather than wrapped.
func SaveJPEG(t *tensor.Dense, path string) error {
	shape := t.Shape()
	if len(shape) != 3 || shape[2] != Channels {
		return fmt.Errorf("expected [h, w, %d] tensor, got %v", Channels, shape)
	}
	h, w := shape[0], shape[1]

	data, ok := t.Data().([]float32)
	if !ok {
		return fmt.Errorf("expected float32 tensor, got %T", t.Data())
	}

	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			off := (y*w + x) * Channels
			img.SetNRGBA(x, y, color.NRGBA{
				R: toByte(data[off]),
				G: toByte(data[off+1]),
				B: toByte(data[off+2]),
				A: 255,
			})
		}
	}

	return imaging.Save(img, path, imaging.JPEGQuality(95))
}

func toByte(v float32) uint8 {
	return uint8(math.Round(float64(saturate(v)) * 255))
}
