package refine

import (
	"github.com/aquarend/go-water-splatting/pkg/render"
)

// Stats accumulates the per-primitive screen-space statistics that drive
// densification. Buffers are allocated lazily on the first observation
// after a refinement cycle and cleared unconditionally at the end of
// every cycle.
type Stats struct {
	GradNorm   []float32 // accumulated 2D position gradient norm
	VisCounts  []float32 // number of steps the primitive was visible
	DepthAccum []float32 // accumulated camera-space depth
	Max2DSize  []float32 // max observed screen radius / max(W, H)

	lastWidth  int
	lastHeight int
}

// Populated reports whether any observation landed since the last reset
func (s *Stats) Populated() bool {
	return s.GradNorm != nil
}

// Observe folds one rendered step's gradients into the running
// statistics. Only primitives visible this step (nonzero radius)
// contribute. useAbsGrad selects the absolute-value position gradient,
// which does not cancel across overlapping tiles.
func (s *Stats) Observe(proj *render.Projection, bp *render.Backprop, useAbsGrad bool) {
	n := len(proj.Radii)
	s.lastWidth = proj.Camera.Width
	s.lastHeight = proj.Camera.Height
	maxSide := float32(max(s.lastWidth, s.lastHeight))

	if !s.Populated() {
		s.GradNorm = make([]float32, n)
		s.VisCounts = make([]float32, n)
		s.DepthAccum = make([]float32, n)
		if s.Max2DSize == nil {
			s.Max2DSize = make([]float32, n)
		}
	}
	for i := 0; i < n; i++ {
		if proj.Radii[i] == 0 {
			continue
		}
		s.GradNorm[i] += gradNormAt(bp, i, useAbsGrad)
		s.VisCounts[i]++
		s.DepthAccum[i] += proj.Depth[i]
	}
	for i := 0; i < n; i++ {
		if proj.Radii[i] == 0 {
			continue
		}
		size := float32(proj.Radii[i]) / maxSide
		if size > s.Max2DSize[i] {
			s.Max2DSize[i] = size
		}
	}
}

func gradNormAt(bp *render.Backprop, i int, useAbs bool) float32 {
	if useAbs {
		return bp.DXYAbs[i].Length()
	}
	return bp.DXY[i].Length()
}

// AverageGradNorms returns the per-primitive mean gradient norm scaled
// by half the larger render dimension, normalizing across the
// resolution schedule.
func (s *Stats) AverageGradNorms() []float32 {
	out := make([]float32, len(s.GradNorm))
	scale := 0.5 * float32(max(s.lastWidth, s.lastHeight))
	for i, g := range s.GradNorm {
		if s.VisCounts[i] > 0 {
			out[i] = g / s.VisCounts[i] * scale
		}
	}
	return out
}

// ExtendMax2DSize appends n zeroed screen-size entries for freshly added
// primitives so the same-cycle cull sees a defined value.
func (s *Stats) ExtendMax2DSize(n int) {
	if s.Max2DSize == nil {
		return
	}
	s.Max2DSize = append(s.Max2DSize, make([]float32, n)...)
}

// Reset clears all transient statistics
func (s *Stats) Reset() {
	s.GradNorm = nil
	s.VisCounts = nil
	s.DepthAccum = nil
	s.Max2DSize = nil
}
