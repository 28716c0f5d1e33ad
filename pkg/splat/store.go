package splat

import (
	"fmt"

	"github.com/aquarend/go-water-splatting/pkg/core"
	"github.com/chewxy/math32"
)

// Store owns the mutable splat population as a struct of flat arrays,
// one per optimizable attribute. Every array shares the same leading
// dimension N; the only operations that change N are Append and Compact,
// each of which resizes all arrays in a single call. Attribute layout
// per primitive:
//
//	Means        3 floats, world-space position
//	LogScales    3 floats, log-space axis scales
//	Quats        4 floats, rotation (w,x,y,z), renormalized before use
//	FeaturesDC   3 floats, degree-0 SH coefficient per channel
//	FeaturesRest 3*(NumSHBases(SHDegree)-1) floats, higher-order SH
//	Opacities    1 float, opacity logit
type Store struct {
	SHDegree int

	Means        []float32
	LogScales    []float32
	Quats        []float32
	FeaturesDC   []float32
	FeaturesRest []float32
	Opacities    []float32
}

// NewStore allocates a zeroed store for n primitives
func NewStore(n, shDegree int) *Store {
	rest := NumSHBases(shDegree) - 1
	return &Store{
		SHDegree:     shDegree,
		Means:        make([]float32, n*3),
		LogScales:    make([]float32, n*3),
		Quats:        make([]float32, n*4),
		FeaturesDC:   make([]float32, n*3),
		FeaturesRest: make([]float32, n*3*rest),
		Opacities:    make([]float32, n),
	}
}

// Len returns the number of primitives N
func (s *Store) Len() int {
	return len(s.Opacities)
}

// RestDim returns the number of higher-order SH coefficient rows
func (s *Store) RestDim() int {
	return NumSHBases(s.SHDegree) - 1
}

// MeanAt returns the world-space position of primitive i
func (s *Store) MeanAt(i int) core.Vec3 {
	return core.Vec3{X: s.Means[i*3], Y: s.Means[i*3+1], Z: s.Means[i*3+2]}
}

// SetMean writes the world-space position of primitive i
func (s *Store) SetMean(i int, v core.Vec3) {
	s.Means[i*3], s.Means[i*3+1], s.Means[i*3+2] = v.X, v.Y, v.Z
}

// LogScaleAt returns the log-space scale of primitive i
func (s *Store) LogScaleAt(i int) core.Vec3 {
	return core.Vec3{X: s.LogScales[i*3], Y: s.LogScales[i*3+1], Z: s.LogScales[i*3+2]}
}

// SetLogScale writes the log-space scale of primitive i
func (s *Store) SetLogScale(i int, v core.Vec3) {
	s.LogScales[i*3], s.LogScales[i*3+1], s.LogScales[i*3+2] = v.X, v.Y, v.Z
}

// ScaleAt returns the exponentiated (strictly positive) scale of primitive i
func (s *Store) ScaleAt(i int) core.Vec3 {
	return s.LogScaleAt(i).Exp()
}

// QuatAt returns the rotation quaternion of primitive i (not necessarily unit)
func (s *Store) QuatAt(i int) core.Quat {
	return core.Quat{W: s.Quats[i*4], X: s.Quats[i*4+1], Y: s.Quats[i*4+2], Z: s.Quats[i*4+3]}
}

// SetQuat writes the rotation quaternion of primitive i
func (s *Store) SetQuat(i int, q core.Quat) {
	s.Quats[i*4], s.Quats[i*4+1], s.Quats[i*4+2], s.Quats[i*4+3] = q.W, q.X, q.Y, q.Z
}

// FeatureDCAt returns the DC SH coefficient of primitive i
func (s *Store) FeatureDCAt(i int) core.Vec3 {
	return core.Vec3{X: s.FeaturesDC[i*3], Y: s.FeaturesDC[i*3+1], Z: s.FeaturesDC[i*3+2]}
}

// SetFeatureDC writes the DC SH coefficient of primitive i
func (s *Store) SetFeatureDC(i int, v core.Vec3) {
	s.FeaturesDC[i*3], s.FeaturesDC[i*3+1], s.FeaturesDC[i*3+2] = v.X, v.Y, v.Z
}

// FeatureRestAt returns higher-order SH coefficient row k of primitive i
func (s *Store) FeatureRestAt(i, k int) core.Vec3 {
	j := (i*s.RestDim() + k) * 3
	return core.Vec3{X: s.FeaturesRest[j], Y: s.FeaturesRest[j+1], Z: s.FeaturesRest[j+2]}
}

// SetFeatureRest writes higher-order SH coefficient row k of primitive i
func (s *Store) SetFeatureRest(i, k int, v core.Vec3) {
	j := (i*s.RestDim() + k) * 3
	s.FeaturesRest[j], s.FeaturesRest[j+1], s.FeaturesRest[j+2] = v.X, v.Y, v.Z
}

// SHCoeffsAt returns all SH coefficient rows of primitive i, DC first
func (s *Store) SHCoeffsAt(i int) []core.Vec3 {
	out := make([]core.Vec3, 1+s.RestDim())
	out[0] = s.FeatureDCAt(i)
	for k := 0; k < s.RestDim(); k++ {
		out[k+1] = s.FeatureRestAt(i, k)
	}
	return out
}

// OpacityAt returns the sigmoid-activated opacity of primitive i, in (0,1)
func (s *Store) OpacityAt(i int) float32 {
	return core.Sigmoid(s.Opacities[i])
}

// MaxScaleAt returns the largest exponentiated scale axis of primitive i
func (s *Store) MaxScaleAt(i int) float32 {
	ls := s.LogScaleAt(i)
	return math32.Exp(ls.MaxComponent())
}

// attrs enumerates the attribute arrays with their per-primitive strides,
// so resize operations cannot touch a subset of fields.
func (s *Store) attrs() []struct {
	data   *[]float32
	stride int
} {
	return []struct {
		data   *[]float32
		stride int
	}{
		{&s.Means, 3},
		{&s.LogScales, 3},
		{&s.Quats, 4},
		{&s.FeaturesDC, 3},
		{&s.FeaturesRest, 3 * s.RestDim()},
		{&s.Opacities, 1},
	}
}

// CheckConsistent verifies that every attribute array has leading
// dimension N. A failure indicates a corrupted (non-atomic) mutation and
// is not recoverable.
func (s *Store) CheckConsistent() error {
	n := s.Len()
	for _, a := range s.attrs() {
		if a.stride == 0 {
			continue
		}
		if len(*a.data) != n*a.stride {
			return fmt.Errorf("splat store corrupt: attribute length %d, want %d rows of stride %d",
				len(*a.data), n, a.stride)
		}
	}
	return nil
}

// Append concatenates another store's primitives onto this one. Both
// stores must share the same SH degree. All attribute arrays grow in one
// operation.
func (s *Store) Append(other *Store) error {
	if other.SHDegree != s.SHDegree {
		return fmt.Errorf("appending store with SH degree %d to store with degree %d", other.SHDegree, s.SHDegree)
	}
	s.Means = append(s.Means, other.Means...)
	s.LogScales = append(s.LogScales, other.LogScales...)
	s.Quats = append(s.Quats, other.Quats...)
	s.FeaturesDC = append(s.FeaturesDC, other.FeaturesDC...)
	s.FeaturesRest = append(s.FeaturesRest, other.FeaturesRest...)
	s.Opacities = append(s.Opacities, other.Opacities...)
	return s.CheckConsistent()
}

// Compact removes every primitive i with remove[i] set, preserving order
// of the survivors. All attribute arrays shrink in one operation.
func (s *Store) Compact(remove []bool) error {
	if len(remove) != s.Len() {
		return fmt.Errorf("compact mask has %d entries for %d primitives", len(remove), s.Len())
	}
	for _, a := range s.attrs() {
		*a.data = compactRows(*a.data, remove, a.stride)
	}
	return s.CheckConsistent()
}

// Select returns a new store holding copies of the primitives with
// mask[i] set, in order.
func (s *Store) Select(mask []bool) *Store {
	count := 0
	for _, m := range mask {
		if m {
			count++
		}
	}
	out := NewStore(count, s.SHDegree)
	j := 0
	for i, m := range mask {
		if !m {
			continue
		}
		copyRow(out.Means, s.Means, j, i, 3)
		copyRow(out.LogScales, s.LogScales, j, i, 3)
		copyRow(out.Quats, s.Quats, j, i, 4)
		copyRow(out.FeaturesDC, s.FeaturesDC, j, i, 3)
		copyRow(out.FeaturesRest, s.FeaturesRest, j, i, 3*s.RestDim())
		out.Opacities[j] = s.Opacities[i]
		j++
	}
	return out
}

func copyRow(dst, src []float32, dstRow, srcRow, stride int) {
	if stride == 0 {
		return
	}
	copy(dst[dstRow*stride:(dstRow+1)*stride], src[srcRow*stride:(srcRow+1)*stride])
}

func compactRows(data []float32, remove []bool, stride int) []float32 {
	if stride == 0 {
		return data
	}
	out := data[:0]
	for i, rm := range remove {
		if rm {
			continue
		}
		out = append(out, data[i*stride:(i+1)*stride]...)
	}
	return out
}

// Grads mirrors the store's attribute arrays and accumulates one training
// step's parameter gradients.
type Grads struct {
	Means        []float32
	LogScales    []float32
	Quats        []float32
	FeaturesDC   []float32
	FeaturesRest []float32
	Opacities    []float32
}

// NewGrads allocates zeroed gradient buffers matching a store
func NewGrads(s *Store) *Grads {
	n := s.Len()
	return &Grads{
		Means:        make([]float32, n*3),
		LogScales:    make([]float32, n*3),
		Quats:        make([]float32, n*4),
		FeaturesDC:   make([]float32, n*3),
		FeaturesRest: make([]float32, n*3*s.RestDim()),
		Opacities:    make([]float32, n),
	}
}

// AddMean accumulates a position gradient for primitive i
func (g *Grads) AddMean(i int, v core.Vec3) {
	g.Means[i*3] += v.X
	g.Means[i*3+1] += v.Y
	g.Means[i*3+2] += v.Z
}

// AddLogScale accumulates a log-scale gradient for primitive i
func (g *Grads) AddLogScale(i int, v core.Vec3) {
	g.LogScales[i*3] += v.X
	g.LogScales[i*3+1] += v.Y
	g.LogScales[i*3+2] += v.Z
}

// AddQuat accumulates a quaternion gradient for primitive i
func (g *Grads) AddQuat(i int, q core.Quat) {
	g.Quats[i*4] += q.W
	g.Quats[i*4+1] += q.X
	g.Quats[i*4+2] += q.Y
	g.Quats[i*4+3] += q.Z
}

// Merge adds another gradient buffer into this one; both must match in size
func (g *Grads) Merge(other *Grads) {
	addInto(g.Means, other.Means)
	addInto(g.LogScales, other.LogScales)
	addInto(g.Quats, other.Quats)
	addInto(g.FeaturesDC, other.FeaturesDC)
	addInto(g.FeaturesRest, other.FeaturesRest)
	addInto(g.Opacities, other.Opacities)
}

func addInto(dst, src []float32) {
	for i := range src {
		dst[i] += src[i]
	}
}
