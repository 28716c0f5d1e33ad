// Package loaders reads the external inputs of a reconstruction run:
// ground-truth video frames, seed point clouds and precomputed optical
// flow fields.
package loaders

import (
	"fmt"
	"image"
	"image/color"
	"strings"

	"github.com/anthonynsimon/bild/imgio"
	"github.com/aquarend/go-water-splatting/pkg/core"
)

// LoadImage decodes a PNG or JPEG frame into a float RGB buffer in [0,1]
func LoadImage(filename string) (*core.Image, error) {
	img, err := imgio.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to load frame %s: %w", filename, err)
	}
	bounds := img.Bounds()
	out := core.NewImage(bounds.Dx(), bounds.Dy())
	i := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			// RGBA returns uint32 in [0, 65535]
			out.Pix[i] = float32(r) / 65535.0
			out.Pix[i+1] = float32(g) / 65535.0
			out.Pix[i+2] = float32(b) / 65535.0
			i += 3
		}
	}
	return out, nil
}

// LoadMask decodes a grayscale mask image into a scalar field in [0,1]
func LoadMask(filename string) (*core.ScalarField, error) {
	img, err := imgio.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to load mask %s: %w", filename, err)
	}
	bounds := img.Bounds()
	out := core.NewScalarField(bounds.Dx(), bounds.Dy())
	i := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, _, _, _ := img.At(x, y).RGBA()
			out.Data[i] = float32(r) / 65535.0
			i++
		}
	}
	return out, nil
}

// SaveImage encodes a float RGB buffer as PNG or JPEG, chosen by
// extension. Values clamp to [0,1] before quantization.
func SaveImage(filename string, im *core.Image) error {
	enc := imgio.PNGEncoder()
	lower := strings.ToLower(filename)
	if strings.HasSuffix(lower, ".jpg") || strings.HasSuffix(lower, ".jpeg") {
		enc = imgio.JPEGEncoder(95)
	}
	return imgio.Save(filename, toRGBA(im), enc)
}

// toRGBA quantizes a float image to 8-bit RGBA
func toRGBA(im *core.Image) *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, im.Width, im.Height))
	for y := 0; y < im.Height; y++ {
		for x := 0; x < im.Width; x++ {
			c := im.At(x, y)
			out.SetRGBA(x, y, color.RGBA{
				R: quantize(c.X),
				G: quantize(c.Y),
				B: quantize(c.Z),
				A: 255,
			})
		}
	}
	return out
}

func quantize(v float32) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return uint8(v*255 + 0.5)
}
