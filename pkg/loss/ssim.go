package loss

import (
	"github.com/aquarend/go-water-splatting/pkg/core"
	"github.com/chewxy/math32"
)

const (
	ssimWindowSize = 11
	ssimSigma      = 1.5
	ssimC1         = 0.01 * 0.01
	ssimC2         = 0.03 * 0.03
)

// SSIM computes the structural similarity index with a Gaussian window
// and its analytic gradient with respect to the first image. Statistics
// are gathered over the valid region only (no padding), per channel.
type SSIM struct {
	window []float32
	size   int
}

// NewSSIM builds the standard 11x11 sigma-1.5 comparator. Frames smaller
// than the window fall back to the largest odd window that fits.
func NewSSIM(width, height int) *SSIM {
	size := ssimWindowSize
	if m := min(width, height); m < size {
		size = m
		if size%2 == 0 {
			size--
		}
	}
	return &SSIM{window: gaussianWindow(size, ssimSigma), size: size}
}

func gaussianWindow(size int, sigma float32) []float32 {
	w := make([]float32, size)
	half := float32(size-1) / 2
	var sum float32
	for i := range w {
		d := float32(i) - half
		w[i] = math32.Exp(-d * d / (2 * sigma * sigma))
		sum += w[i]
	}
	for i := range w {
		w[i] /= sum
	}
	return w
}

// SSIMResult caches the windowed statistics needed for the backward pass
type SSIMResult struct {
	Mean float32

	width, height int
	vw, vh        int
	x, y          [3][]float32 // input channels
	mu1, mu2      [3][]float32 // windowed means, valid grid
	var1, var2    [3][]float32 // windowed variances
	covar         [3][]float32 // windowed covariance
	ssim          [3][]float32 // per-pixel index, valid grid
}

// Forward evaluates SSIM(x, y) averaged over channels and valid pixels
func (s *SSIM) Forward(x, y *core.Image) *SSIMResult {
	w, h := x.Width, x.Height
	res := &SSIMResult{
		width: w, height: h,
		vw: w - s.size + 1, vh: h - s.size + 1,
	}
	var total float32
	for ch := 0; ch < 3; ch++ {
		xc := channelOf(x, ch)
		yc := channelOf(y, ch)
		mu1 := convValid(xc, w, h, s.window)
		mu2 := convValid(yc, w, h, s.window)
		ex2 := convValid(squared(xc), w, h, s.window)
		ey2 := convValid(squared(yc), w, h, s.window)
		exy := convValid(product(xc, yc), w, h, s.window)

		n := len(mu1)
		var1 := make([]float32, n)
		var2 := make([]float32, n)
		covar := make([]float32, n)
		ssim := make([]float32, n)
		for i := 0; i < n; i++ {
			var1[i] = ex2[i] - mu1[i]*mu1[i]
			var2[i] = ey2[i] - mu2[i]*mu2[i]
			covar[i] = exy[i] - mu1[i]*mu2[i]
			a1 := 2*mu1[i]*mu2[i] + ssimC1
			a2 := 2*covar[i] + ssimC2
			b1 := mu1[i]*mu1[i] + mu2[i]*mu2[i] + ssimC1
			b2 := var1[i] + var2[i] + ssimC2
			ssim[i] = a1 * a2 / (b1 * b2)
			total += ssim[i]
		}
		res.x[ch], res.y[ch] = xc, yc
		res.mu1[ch], res.mu2[ch] = mu1, mu2
		res.var1[ch], res.var2[ch] = var1, var2
		res.covar[ch] = covar
		res.ssim[ch] = ssim
	}
	res.Mean = total / float32(3*res.vw*res.vh)
	return res
}

// Backward returns d(dMean * Mean)/dx as a full-resolution image. Each
// valid window position contributes through the mean, variance and
// covariance of x, scattered back through the window adjoint.
func (s *SSIM) Backward(res *SSIMResult, dMean float32) *core.Image {
	out := core.NewImage(res.width, res.height)
	scale := dMean / float32(3*res.vw*res.vh)
	n := res.vw * res.vh
	t1 := make([]float32, n)
	t2 := make([]float32, n)
	t3 := make([]float32, n)
	for ch := 0; ch < 3; ch++ {
		mu1, mu2 := res.mu1[ch], res.mu2[ch]
		for i := 0; i < n; i++ {
			a1 := 2*mu1[i]*mu2[i] + ssimC1
			a2 := 2*res.covar[ch][i] + ssimC2
			b1 := mu1[i]*mu1[i] + mu2[i]*mu2[i] + ssimC1
			b2 := res.var1[ch][i] + res.var2[ch][i] + ssimC2
			d := b1 * b2
			sVal := res.ssim[ch][i]

			dMu := 2*mu2[i]*a2/d - 2*mu1[i]*sVal/b1
			dVar := -sVal / b2
			dCov := 2 * a1 / d

			t1[i] = dMu - 2*mu1[i]*dVar - mu2[i]*dCov
			t2[i] = dVar
			t3[i] = dCov
		}
		g1 := convAdjoint(t1, res.vw, res.vh, res.width, res.height, s.window)
		g2 := convAdjoint(t2, res.vw, res.vh, res.width, res.height, s.window)
		g3 := convAdjoint(t3, res.vw, res.vh, res.width, res.height, s.window)
		xc, yc := res.x[ch], res.y[ch]
		for p := 0; p < res.width*res.height; p++ {
			out.Pix[p*3+ch] = scale * (g1[p] + 2*xc[p]*g2[p] + yc[p]*g3[p])
		}
	}
	return out
}

func channelOf(img *core.Image, ch int) []float32 {
	out := make([]float32, img.Width*img.Height)
	for p := range out {
		out[p] = img.Pix[p*3+ch]
	}
	return out
}

func squared(a []float32) []float32 {
	out := make([]float32, len(a))
	for i, v := range a {
		out[i] = v * v
	}
	return out
}

func product(a, b []float32) []float32 {
	out := make([]float32, len(a))
	for i := range a {
		out[i] = a[i] * b[i]
	}
	return out
}

// convValid runs a separable valid-region convolution: the output grid is
// (w-size+1) x (h-size+1).
func convValid(src []float32, w, h int, win []float32) []float32 {
	k := len(win)
	vw := w - k + 1
	// horizontal pass
	tmp := make([]float32, vw*h)
	for y := 0; y < h; y++ {
		for x := 0; x < vw; x++ {
			var sum float32
			for t := 0; t < k; t++ {
				sum += win[t] * src[y*w+x+t]
			}
			tmp[y*vw+x] = sum
		}
	}
	// vertical pass
	vh := h - k + 1
	out := make([]float32, vw*vh)
	for y := 0; y < vh; y++ {
		for x := 0; x < vw; x++ {
			var sum float32
			for t := 0; t < k; t++ {
				sum += win[t] * tmp[(y+t)*vw+x]
			}
			out[y*vw+x] = sum
		}
	}
	return out
}

// convAdjoint is the transpose of convValid: it scatters valid-grid
// values back onto the full grid through the same separable window.
func convAdjoint(src []float32, vw, vh, w, h int, win []float32) []float32 {
	k := len(win)
	// vertical scatter
	tmp := make([]float32, vw*h)
	for y := 0; y < vh; y++ {
		for x := 0; x < vw; x++ {
			v := src[y*vw+x]
			for t := 0; t < k; t++ {
				tmp[(y+t)*vw+x] += win[t] * v
			}
		}
	}
	// horizontal scatter
	out := make([]float32, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < vw; x++ {
			v := tmp[y*vw+x]
			for t := 0; t < k; t++ {
				out[y*w+x+t] += win[t] * v
			}
		}
	}
	return out
}
