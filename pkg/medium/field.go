// Package medium models the participating medium (water, fog) as a small
// function approximator over viewing direction: per-channel medium color,
// backscatter coefficient and attenuation coefficient.
package medium

import (
	"math/rand"

	"github.com/aquarend/go-water-splatting/pkg/core"
	"github.com/aquarend/go-water-splatting/pkg/splat"
)

const (
	encodingDegree = 3 // SH direction encoding, 16 components
	outputDim      = 9 // 3 color + 3 backscatter + 3 attenuation
)

// Field maps a unit view direction to medium color (sigmoid, in (0,1)),
// backscatter and attenuation coefficients (softplus + bias, >= 0).
type Field struct {
	MLP         *MLP
	DensityBias float32
	// ZeroMedium forces all outputs to zero, disabling medium modeling
	// entirely (ablation mode).
	ZeroMedium bool
}

// NewField builds a medium field with numLayers total linear layers of
// the given hidden width. numLayers <= 1 degenerates to a single linear
// map from the encoded direction.
func NewField(numLayers, hiddenDim int, densityBias float32, zeroMedium bool, rng *rand.Rand) *Field {
	encDim := splat.NumSHBases(encodingDegree)
	dims := []int{encDim}
	for l := 0; l < numLayers-1; l++ {
		dims = append(dims, hiddenDim)
	}
	dims = append(dims, outputDim)
	return &Field{
		MLP:         NewMLP(dims, rng),
		DensityBias: densityBias,
		ZeroMedium:  zeroMedium,
	}
}

// Outputs holds the medium evaluated at every pixel of a frame, plus the
// cached raw network outputs and activations needed for the backward pass.
type Outputs struct {
	Width  int
	Height int
	RGB    []core.Vec3 // medium color per pixel
	BS     []core.Vec3 // backscatter coefficient per pixel
	Attn   []core.Vec3 // attenuation coefficient per pixel

	raw  [][]float32 // pre-activation network outputs
	acts [][][]float32
}

// RGBAt returns the medium color at pixel (x, y)
func (o *Outputs) RGBAt(x, y int) core.Vec3 { return o.RGB[y*o.Width+x] }

// BSAt returns the backscatter coefficient at pixel (x, y)
func (o *Outputs) BSAt(x, y int) core.Vec3 { return o.BS[y*o.Width+x] }

// AttnAt returns the attenuation coefficient at pixel (x, y)
func (o *Outputs) AttnAt(x, y int) core.Vec3 { return o.Attn[y*o.Width+x] }

// RGBImage copies the medium color channel into an image
func (o *Outputs) RGBImage() *core.Image {
	im := core.NewImage(o.Width, o.Height)
	for i, c := range o.RGB {
		im.Pix[i*3], im.Pix[i*3+1], im.Pix[i*3+2] = c.X, c.Y, c.Z
	}
	return im
}

// EvalImage evaluates the field for every pixel of the camera's output
// resolution. The pixel direction grid is generated once per frame.
func (f *Field) EvalImage(cam *core.Camera) *Outputs {
	w, h := cam.Width, cam.Height
	out := &Outputs{
		Width: w, Height: h,
		RGB:  make([]core.Vec3, w*h),
		BS:   make([]core.Vec3, w*h),
		Attn: make([]core.Vec3, w*h),
	}
	if f.ZeroMedium {
		return out
	}
	out.raw = make([][]float32, w*h)
	out.acts = make([][][]float32, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dir := cam.RayDirection(x, y)
			enc := splat.SHBases(encodingDegree, dir)
			raw, acts := f.MLP.Forward(enc)
			i := y*w + x
			out.raw[i] = raw
			out.acts[i] = acts
			out.RGB[i] = core.Vec3{
				X: core.Sigmoid(raw[0]),
				Y: core.Sigmoid(raw[1]),
				Z: core.Sigmoid(raw[2]),
			}
			out.BS[i] = core.Vec3{
				X: core.Softplus(raw[3] + f.DensityBias),
				Y: core.Softplus(raw[4] + f.DensityBias),
				Z: core.Softplus(raw[5] + f.DensityBias),
			}
			out.Attn[i] = core.Vec3{
				X: core.Softplus(raw[6] + f.DensityBias),
				Y: core.Softplus(raw[7] + f.DensityBias),
				Z: core.Softplus(raw[8] + f.DensityBias),
			}
		}
	}
	return out
}

// Backward accumulates MLP weight gradients from per-pixel gradients of
// the activated outputs. In zero-medium mode nothing flows.
func (f *Field) Backward(out *Outputs, dRGB, dBS, dAttn []core.Vec3) {
	if f.ZeroMedium {
		return
	}
	dOut := make([]float32, outputDim)
	for i := range out.raw {
		rgb := out.RGB[i]
		raw := out.raw[i]
		// sigmoid': s*(1-s); softplus': sigmoid of the pre-activation
		dOut[0] = dRGB[i].X * rgb.X * (1 - rgb.X)
		dOut[1] = dRGB[i].Y * rgb.Y * (1 - rgb.Y)
		dOut[2] = dRGB[i].Z * rgb.Z * (1 - rgb.Z)
		dOut[3] = dBS[i].X * core.Sigmoid(raw[3]+f.DensityBias)
		dOut[4] = dBS[i].Y * core.Sigmoid(raw[4]+f.DensityBias)
		dOut[5] = dBS[i].Z * core.Sigmoid(raw[5]+f.DensityBias)
		dOut[6] = dAttn[i].X * core.Sigmoid(raw[6]+f.DensityBias)
		dOut[7] = dAttn[i].Y * core.Sigmoid(raw[7]+f.DensityBias)
		dOut[8] = dAttn[i].Z * core.Sigmoid(raw[8]+f.DensityBias)
		f.MLP.Backward(dOut, out.acts[i])
	}
}
