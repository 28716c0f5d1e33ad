package loss

import (
	"github.com/aquarend/go-water-splatting/pkg/core"
	"github.com/chewxy/math32"
)

// ResizeFlow bilinearly resamples a flow field to a new resolution.
// Displacement values are not rescaled, matching the estimator's output
// convention.
func ResizeFlow(flow *core.FlowField, width, height int) *core.FlowField {
	if flow.Width == width && flow.Height == height {
		return flow
	}
	out := core.NewFlowField(width, height)
	sx := float32(flow.Width-1) / float32(max(width-1, 1))
	sy := float32(flow.Height-1) / float32(max(height-1, 1))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			fx, fy := float32(x)*sx, float32(y)*sy
			out.Set(x, y, bilinearFlow(flow, fx, fy))
		}
	}
	return out
}

func bilinearFlow(flow *core.FlowField, fx, fy float32) core.Vec2 {
	x0, y0 := int(math32.Floor(fx)), int(math32.Floor(fy))
	x1, y1 := min(x0+1, flow.Width-1), min(y0+1, flow.Height-1)
	tx, ty := fx-float32(x0), fy-float32(y0)
	a := flow.At(x0, y0).Multiply((1 - tx) * (1 - ty))
	b := flow.At(x1, y0).Multiply(tx * (1 - ty))
	c := flow.At(x0, y1).Multiply((1 - tx) * ty)
	d := flow.At(x1, y1).Multiply(tx * ty)
	return a.Add(b).Add(c).Add(d)
}

// WarpImage samples img at each pixel displaced by the flow field,
// bilinear with border clamping for out-of-bounds samples.
func WarpImage(img *core.Image, flow *core.FlowField) *core.Image {
	out := core.NewImage(img.Width, img.Height)
	for y := 0; y < img.Height; y++ {
		for x := 0; x < img.Width; x++ {
			d := flow.At(x, y)
			out.Set(x, y, sampleBilinear(img, float32(x)+d.X, float32(y)+d.Y))
		}
	}
	return out
}

func sampleBilinear(img *core.Image, fx, fy float32) core.Vec3 {
	fx = math32.Max(0, math32.Min(float32(img.Width-1), fx))
	fy = math32.Max(0, math32.Min(float32(img.Height-1), fy))
	x0, y0 := int(math32.Floor(fx)), int(math32.Floor(fy))
	x1, y1 := min(x0+1, img.Width-1), min(y0+1, img.Height-1)
	tx, ty := fx-float32(x0), fy-float32(y0)
	a := img.At(x0, y0).Multiply((1 - tx) * (1 - ty))
	b := img.At(x1, y0).Multiply(tx * (1 - ty))
	c := img.At(x0, y1).Multiply((1 - tx) * ty)
	d := img.At(x1, y1).Multiply(tx * ty)
	return a.Add(b).Add(c).Add(d)
}

// MeanAbsDiff returns the mean absolute per-channel difference
func MeanAbsDiff(a, b *core.Image) float32 {
	var sum float32
	for i := range a.Pix {
		sum += math32.Abs(a.Pix[i] - b.Pix[i])
	}
	return sum / float32(len(a.Pix))
}
