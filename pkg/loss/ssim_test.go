package loss

import (
	"math/rand"
	"testing"

	"github.com/aquarend/go-water-splatting/pkg/core"
	"github.com/chewxy/math32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomImage(w, h int, rng *rand.Rand) *core.Image {
	img := core.NewImage(w, h)
	for i := range img.Pix {
		img.Pix[i] = rng.Float32()
	}
	return img
}

func TestSSIMIdenticalImagesScoreOne(t *testing.T) {
	rng := rand.New(rand.NewSource(41))
	img := randomImage(16, 16, rng)
	s := NewSSIM(16, 16)
	res := s.Forward(img, img.Clone())
	assert.InDelta(t, 1, res.Mean, 1e-5)
}

func TestSSIMDropsWithNoise(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	a := randomImage(16, 16, rng)
	b := a.Clone()
	for i := range b.Pix {
		b.Pix[i] += (rng.Float32() - 0.5) * 0.4
	}
	s := NewSSIM(16, 16)
	assert.Less(t, s.Forward(a, b).Mean, float32(0.99))
}

func TestSSIMWindowShrinksForSmallFrames(t *testing.T) {
	s := NewSSIM(5, 7)
	assert.Equal(t, 5, s.size)
	assert.Len(t, s.window, 5)
	var sum float32
	for _, w := range s.window {
		sum += w
	}
	assert.InDelta(t, 1, sum, 1e-5)
}

func TestSSIMBackwardMatchesFiniteDifference(t *testing.T) {
	rng := rand.New(rand.NewSource(43))
	x := randomImage(16, 16, rng)
	y := randomImage(16, 16, rng)
	s := NewSSIM(16, 16)

	res := s.Forward(x, y)
	grad := s.Backward(res, 1)

	const eps = 1e-3
	// probe interior, boundary and different channels
	for _, p := range []int{0, 3*16*8 + 3*8, 3*16*5 + 3*12 + 1, len(x.Pix) - 2} {
		orig := x.Pix[p]
		x.Pix[p] = orig + eps
		plus := s.Forward(x, y).Mean
		x.Pix[p] = orig - eps
		minus := s.Forward(x, y).Mean
		x.Pix[p] = orig
		numeric := (plus - minus) / (2 * eps)
		tol := math32.Max(5e-4, 0.05*math32.Abs(numeric))
		assert.InDelta(t, numeric, grad.Pix[p], float64(tol), "pixel %d", p)
	}
}

func TestConvAdjointIsTranspose(t *testing.T) {
	// <conv(x), y> must equal <x, adjoint(y)> for any x, y
	rng := rand.New(rand.NewSource(44))
	win := gaussianWindow(5, 1.5)
	w, h := 9, 8
	vw, vh := w-4, h-4
	x := make([]float32, w*h)
	y := make([]float32, vw*vh)
	for i := range x {
		x[i] = rng.Float32() - 0.5
	}
	for i := range y {
		y[i] = rng.Float32() - 0.5
	}
	cx := convValid(x, w, h, win)
	require.Len(t, cx, vw*vh)
	ay := convAdjoint(y, vw, vh, w, h, win)

	var lhs, rhs float32
	for i := range y {
		lhs += cx[i] * y[i]
	}
	for i := range x {
		rhs += x[i] * ay[i]
	}
	assert.InDelta(t, lhs, rhs, 1e-4)
}
