// Package optim implements the Adam optimizer with moment buffers that
// can be resized in lockstep with splat population changes. Compact and
// Extend mirror the store mutations: culled rows drop their optimization
// history, appended rows start with zeroed moments.
package optim

import (
	"fmt"

	"github.com/chewxy/math32"
)

// ResizableState is the capability the population controller requires of
// any optimizer shadowing a per-primitive parameter array.
type ResizableState interface {
	// Compact drops moment rows with remove[i] set
	Compact(remove []bool) error
	// Extend appends n zeroed moment rows
	Extend(n int)
	// ZeroMoments resets all accumulated moments in place
	ZeroMoments()
	// Rows returns the current leading dimension of the moment buffers
	Rows() int
}

// Adam optimizes one flat parameter array of rowDim floats per row.
// Moment buffers always match the parameter array element-for-element.
type Adam struct {
	LR      float32
	Beta1   float32
	Beta2   float32
	Epsilon float32

	rowDim int
	t      int
	m      []float32 // first moment
	v      []float32 // second moment
}

// NewAdam creates an optimizer for a parameter array with rows of rowDim
// floats and the given initial row count.
func NewAdam(lr float32, rowDim, rows int) *Adam {
	return &Adam{
		LR:      lr,
		Beta1:   0.9,
		Beta2:   0.999,
		Epsilon: 1e-8,
		rowDim:  rowDim,
		m:       make([]float32, rowDim*rows),
		v:       make([]float32, rowDim*rows),
	}
}

// Rows returns the leading dimension of the moment buffers. A zero
// rowDim means the parameter array is empty by construction (e.g. no
// higher-order SH rows at degree 0).
func (a *Adam) Rows() int {
	if a.rowDim == 0 {
		return 0
	}
	return len(a.m) / a.rowDim
}

// Check verifies the shadow state matches a parameter array length.
// A mismatch means a population mutation was not applied atomically.
func (a *Adam) Check(paramLen int) error {
	if len(a.m) != paramLen || len(a.v) != paramLen {
		return fmt.Errorf("optimizer state desynced: %d moment entries for %d parameters", len(a.m), paramLen)
	}
	return nil
}

// Step applies one Adam update to params in place using grads
func (a *Adam) Step(params, grads []float32) error {
	if err := a.Check(len(params)); err != nil {
		return err
	}
	if len(grads) != len(params) {
		return fmt.Errorf("gradient length %d does not match parameter length %d", len(grads), len(params))
	}
	a.t++
	biasCorrection1 := 1 - math32.Pow(a.Beta1, float32(a.t))
	biasCorrection2 := 1 - math32.Pow(a.Beta2, float32(a.t))
	for i, g := range grads {
		a.m[i] = a.Beta1*a.m[i] + (1-a.Beta1)*g
		a.v[i] = a.Beta2*a.v[i] + (1-a.Beta2)*g*g
		mHat := a.m[i] / biasCorrection1
		vHat := a.v[i] / biasCorrection2
		params[i] -= a.LR * mHat / (math32.Sqrt(vHat) + a.Epsilon)
	}
	return nil
}

// Compact drops moment rows with remove[i] set, matching a store Compact
func (a *Adam) Compact(remove []bool) error {
	if a.rowDim == 0 {
		return nil
	}
	if len(remove) != a.Rows() {
		return fmt.Errorf("compact mask has %d entries for %d moment rows", len(remove), a.Rows())
	}
	a.m = compactRows(a.m, remove, a.rowDim)
	a.v = compactRows(a.v, remove, a.rowDim)
	return nil
}

// Extend appends n zeroed moment rows: a new primitive has no
// optimization history, so duplicated rows do not inherit moments.
func (a *Adam) Extend(n int) {
	a.m = append(a.m, make([]float32, n*a.rowDim)...)
	a.v = append(a.v, make([]float32, n*a.rowDim)...)
}

// ZeroMoments clears all accumulated moments; used after hard opacity
// resets so stale momentum does not immediately undo the reset.
func (a *Adam) ZeroMoments() {
	for i := range a.m {
		a.m[i] = 0
		a.v[i] = 0
	}
}

func compactRows(data []float32, remove []bool, stride int) []float32 {
	out := data[:0]
	for i, rm := range remove {
		if rm {
			continue
		}
		out = append(out, data[i*stride:(i+1)*stride]...)
	}
	return out
}
