package medium

import (
	"fmt"
	"math/rand"

	"github.com/chewxy/math32"
)

// MLP is a small fully connected network with sigmoid hidden activations
// and a linear output layer. All weights live in one flat slice so the
// optimizer can treat the network as a single parameter group; gradients
// accumulate into a parallel slice of the same shape.
type MLP struct {
	Dims    []int // layer widths, input first
	Weights []float32
	Grad    []float32

	offsets []int // start of each layer's weight block
}

// NewMLP builds a network with the given layer widths, e.g. [16, 128, 9].
// Weights initialize uniformly in [-1/sqrt(in), 1/sqrt(in)] per layer.
func NewMLP(dims []int, rng *rand.Rand) *MLP {
	if len(dims) < 2 {
		panic(fmt.Sprintf("MLP needs at least input and output dims, got %v", dims))
	}
	total := 0
	offsets := make([]int, len(dims)-1)
	for l := 0; l < len(dims)-1; l++ {
		offsets[l] = total
		total += dims[l]*dims[l+1] + dims[l+1] // weights + biases
	}
	m := &MLP{
		Dims:    append([]int(nil), dims...),
		Weights: make([]float32, total),
		Grad:    make([]float32, total),
		offsets: offsets,
	}
	for l := 0; l < len(dims)-1; l++ {
		bound := 1 / math32.Sqrt(float32(dims[l]))
		w, _ := m.layer(l)
		for i := range w {
			w[i] = (rng.Float32()*2 - 1) * bound
		}
	}
	return m
}

// layer returns the weight matrix (out x in, row-major) and bias views
func (m *MLP) layer(l int) (w, b []float32) {
	in, out := m.Dims[l], m.Dims[l+1]
	start := m.offsets[l]
	return m.Weights[start : start+in*out], m.Weights[start+in*out : start+in*out+out]
}

func (m *MLP) layerGrad(l int) (w, b []float32) {
	in, out := m.Dims[l], m.Dims[l+1]
	start := m.offsets[l]
	return m.Grad[start : start+in*out], m.Grad[start+in*out : start+in*out+out]
}

// Forward evaluates one input vector and returns the raw output plus the
// post-activation values of every layer (input first), needed by Backward.
func (m *MLP) Forward(x []float32) (out []float32, acts [][]float32) {
	acts = make([][]float32, len(m.Dims))
	acts[0] = x
	cur := x
	for l := 0; l < len(m.Dims)-1; l++ {
		w, b := m.layer(l)
		in, outDim := m.Dims[l], m.Dims[l+1]
		next := make([]float32, outDim)
		for o := 0; o < outDim; o++ {
			sum := b[o]
			row := w[o*in : (o+1)*in]
			for i, v := range cur {
				sum += row[i] * v
			}
			if l < len(m.Dims)-2 {
				sum = 1 / (1 + math32.Exp(-sum)) // sigmoid hidden activation
			}
			next[o] = sum
		}
		acts[l+1] = next
		cur = next
	}
	return cur, acts
}

// Backward accumulates weight gradients for one sample given dL/dout and
// the activations returned by Forward. The input receives no gradient
// (view directions are constants).
func (m *MLP) Backward(dOut []float32, acts [][]float32) {
	delta := append([]float32(nil), dOut...)
	for l := len(m.Dims) - 2; l >= 0; l-- {
		in := m.Dims[l]
		wg, bg := m.layerGrad(l)
		w, _ := m.layer(l)
		prev := acts[l]
		for o, d := range delta {
			bg[o] += d
			row := wg[o*in : (o+1)*in]
			for i, v := range prev {
				row[i] += d * v
			}
		}
		if l == 0 {
			break
		}
		next := make([]float32, in)
		for o, d := range delta {
			row := w[o*in : (o+1)*in]
			for i := range next {
				next[i] += d * row[i]
			}
		}
		// chain through the sigmoid of the previous hidden layer
		for i := range next {
			a := prev[i]
			next[i] *= a * (1 - a)
		}
		delta = next
	}
}

// ZeroGrad clears the accumulated gradient buffer
func (m *MLP) ZeroGrad() {
	for i := range m.Grad {
		m.Grad[i] = 0
	}
}
