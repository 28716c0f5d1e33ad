package trainer

import (
	"github.com/aquarend/go-water-splatting/pkg/core"
	"github.com/aquarend/go-water-splatting/pkg/medium"
	"github.com/chewxy/math32"
)

// Metrics summarizes one training step
type Metrics struct {
	Step         int
	Loss         float32
	Recon        float32
	SSIM         float32
	Photo        float32
	PSNR         float32
	NumGaussians int
	MediumMean   core.Vec3 // frame-average medium color per channel
}

// PSNR computes peak signal-to-noise ratio in dB for unit-range images
func PSNR(pred, gt *core.Image) float32 {
	var mse float32
	for i := range pred.Pix {
		d := pred.Pix[i] - gt.Pix[i]
		mse += d * d
	}
	mse /= float32(len(pred.Pix))
	if mse <= 0 {
		return math32.Inf(1)
	}
	return -10 * math32.Log10(mse)
}

// MediumMean averages the medium color over a frame, a cheap probe of
// what the medium has absorbed versus the splats.
func MediumMean(med *medium.Outputs) core.Vec3 {
	if len(med.RGB) == 0 {
		return core.Vec3{}
	}
	var sum core.Vec3
	for _, c := range med.RGB {
		sum = sum.Add(c)
	}
	return sum.Multiply(1 / float32(len(med.RGB)))
}
