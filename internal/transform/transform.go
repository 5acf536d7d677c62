package transform

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"github.com/andresmejia3/simpsons/internal/types"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
	"gorgonia.org/tensor"
)

// Output resolution of every transformed sample.
const (
	Height   = 300
	Width    = 200
	Channels = 3
	Pixels   = Height * Width * Channels
)

// ErrCropOutOfBounds is returned when the bounding box does not fit the image.
var ErrCropOutOfBounds = errors.New("crop region exceeds image bounds")

// ProcessingError records which step failed for which file.
type ProcessingError struct {
	Path  string
	Stage string
	Cause error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Stage, e.Path, e.Cause)
}

func (e *ProcessingError) Unwrap() error {
	return e.Cause
}

// Apply runs the full per-record pipeline: read, decode, crop, resize and
// convert to float. It holds no shared state and is safe to call concurrently.
func Apply(a types.Annotation) (*tensor.Dense, error) {
	// 1. Raw bytes
	data, err := os.ReadFile(a.Path)
	if err != nil {
		return nil, &ProcessingError{Path: a.Path, Stage: "read", Cause: err}
	}

	// 2. Decode
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &ProcessingError{Path: a.Path, Stage: "decode", Cause: err}
	}

	// 3. Crop
	cropped, err := Crop(img, a.X1, a.Y1, a.X2, a.Y2)
	if err != nil {
		return nil, &ProcessingError{Path: a.Path, Stage: "crop", Cause: err}
	}

	// 4. Resize
	resized := imaging.Resize(cropped, Width, Height, imaging.Linear)

	// 5. Float conversion
	return ToTensor(resized), nil
}

// Crop cuts [y1 : y1+max(1,y2-y1), x1 : x1+max(1,x2-x1)] out of img.
// Degenerate boxes become one pixel wide or tall instead of failing.
func Crop(img image.Image, x1, y1, x2, y2 int) (*image.NRGBA, error) {
	w := max(1, x2-x1)
	h := max(1, y2-y1)

	b := img.Bounds()
	if x1 < 0 || y1 < 0 || x1+w > b.Dx() || y1+h > b.Dy() {
		return nil, fmt.Errorf("%w: box (%d,%d)+%dx%d, image %dx%d", ErrCropOutOfBounds, x1, y1, w, h, b.Dx(), b.Dy())
	}

	rect := image.Rect(x1, y1, x1+w, y1+h).Add(b.Min)
	return imaging.Crop(img, rect), nil
}

// ToTensor converts an RGBA grid into a [height, width, 3] float32 tensor
// with values in [0,1]. Alpha is dropped.
func ToTensor(img *image.NRGBA) *tensor.Dense {
	b := img.Bounds()
	h, w := b.Dy(), b.Dx()
	data := make([]float32, h*w*Channels)

	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < w; x++ {
			src := x * 4
			dst := (y*w + x) * Channels
			for c := 0; c < Channels; c++ {
				data[dst+c] = saturate(float32(row[src+c]) / 255.0)
			}
		}
	}

	return tensor.New(tensor.WithShape(h, w, Channels), tensor.WithBacking(data))
}

func saturate(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
