package optim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdamDescendsQuadratic(t *testing.T) {
	params := []float32{5, -3}
	a := NewAdam(0.1, 1, 2)
	for i := 0; i < 500; i++ {
		grads := []float32{2 * params[0], 2 * params[1]}
		require.NoError(t, a.Step(params, grads))
	}
	assert.InDelta(t, 0, params[0], 0.05)
	assert.InDelta(t, 0, params[1], 0.05)
}

func TestAdamCheckDetectsDesync(t *testing.T) {
	a := NewAdam(0.01, 3, 4)
	assert.NoError(t, a.Check(12))
	assert.Error(t, a.Check(9))
	assert.Error(t, a.Step(make([]float32, 9), make([]float32, 9)))
}

func TestAdamCompactMatchesRowRemoval(t *testing.T) {
	a := NewAdam(0.01, 2, 3)
	params := []float32{1, 2, 3, 4, 5, 6}
	grads := []float32{1, 1, 1, 1, 1, 1}
	require.NoError(t, a.Step(params, grads))

	require.NoError(t, a.Compact([]bool{false, true, false}))
	assert.Equal(t, 2, a.Rows())
	assert.Error(t, a.Check(6))
	assert.NoError(t, a.Check(4))

	assert.Error(t, a.Compact([]bool{true}), "stale mask length must be rejected")
}

func TestAdamExtendAddsColdRows(t *testing.T) {
	a := NewAdam(0.5, 1, 1)
	params := []float32{1}
	require.NoError(t, a.Step(params, []float32{1}))

	a.Extend(1)
	require.Equal(t, 2, a.Rows())
	// the new row has no momentum: its first update is pure gradient
	params = append(params, 10)
	before := params[1]
	require.NoError(t, a.Step(params, []float32{0, 1}))
	assert.Less(t, params[1], before)
}

func TestAdamZeroMoments(t *testing.T) {
	a := NewAdam(0.1, 1, 2)
	params := []float32{1, 1}
	require.NoError(t, a.Step(params, []float32{4, -4}))
	a.ZeroMoments()
	// with zero moments and zero gradient, nothing moves
	snapshot := append([]float32(nil), params...)
	require.NoError(t, a.Step(params, []float32{0, 0}))
	assert.Equal(t, snapshot, params)
}

func TestAdamZeroRowDim(t *testing.T) {
	a := NewAdam(0.1, 0, 5)
	assert.Equal(t, 0, a.Rows())
	assert.NoError(t, a.Check(0))
	assert.NoError(t, a.Compact([]bool{true, false, true}))
	a.Extend(3)
	assert.Equal(t, 0, a.Rows())
}
