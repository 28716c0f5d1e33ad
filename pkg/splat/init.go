package splat

import (
	"math/rand"

	"github.com/aquarend/go-water-splatting/pkg/core"
	"github.com/chewxy/math32"
)

const initialOpacity = 0.1

// RandomQuat draws a uniformly distributed unit quaternion
func RandomQuat(rng *rand.Rand) core.Quat {
	u := rng.Float32()
	v := rng.Float32()
	w := rng.Float32()
	return core.Quat{
		W: math32.Sqrt(1-u) * math32.Sin(2*math32.Pi*v),
		X: math32.Sqrt(1-u) * math32.Cos(2*math32.Pi*v),
		Y: math32.Sqrt(u) * math32.Sin(2*math32.Pi*w),
		Z: math32.Sqrt(u) * math32.Cos(2*math32.Pi*w),
	}
}

// NewRandomStore initializes n primitives uniformly inside a cube of the
// given extent, with random colors and orientations. Scales start at the
// average nearest-neighbor distance so neighbors overlap.
func NewRandomStore(n int, extent float32, shDegree int, rng *rand.Rand) *Store {
	points := make([]core.Vec3, n)
	for i := range points {
		points[i] = core.Vec3{
			X: (rng.Float32() - 0.5) * extent,
			Y: (rng.Float32() - 0.5) * extent,
			Z: (rng.Float32() - 0.5) * extent,
		}
	}
	s := newStoreFromPoints(points, shDegree, rng)
	for i := 0; i < n; i++ {
		s.SetFeatureDC(i, core.Vec3{X: rng.Float32(), Y: rng.Float32(), Z: rng.Float32()})
	}
	return s
}

// NewSeededStore initializes one primitive per seed point (e.g. sparse
// SfM output), with colors converted into the DC SH coefficient when the
// degree supports it and into logit space otherwise. colors are RGB in
// [0,1]; pass nil to fall back to random colors.
func NewSeededStore(points []core.Vec3, colors []core.Vec3, shDegree int, rng *rand.Rand) *Store {
	s := newStoreFromPoints(points, shDegree, rng)
	for i := range points {
		if colors == nil {
			s.SetFeatureDC(i, core.Vec3{X: rng.Float32(), Y: rng.Float32(), Z: rng.Float32()})
			continue
		}
		if shDegree > 0 {
			s.SetFeatureDC(i, RGB2SH(colors[i]))
		} else {
			s.SetFeatureDC(i, core.Vec3{
				X: core.Logit(colors[i].X),
				Y: core.Logit(colors[i].Y),
				Z: core.Logit(colors[i].Z),
			})
		}
	}
	return s
}

func newStoreFromPoints(points []core.Vec3, shDegree int, rng *rand.Rand) *Store {
	n := len(points)
	s := NewStore(n, shDegree)
	scales := averageNeighborDistances(points, 3)
	opacityLogit := core.Logit(initialOpacity)
	for i, p := range points {
		s.SetMean(i, p)
		logScale := math32.Log(scales[i])
		s.SetLogScale(i, core.Vec3{X: logScale, Y: logScale, Z: logScale})
		s.SetQuat(i, RandomQuat(rng))
		s.Opacities[i] = opacityLogit
	}
	return s
}

// averageNeighborDistances returns, for each point, the mean distance to
// its k nearest neighbors. Brute force: seeds are loaded once at startup
// and counts are in the tens of thousands.
func averageNeighborDistances(points []core.Vec3, k int) []float32 {
	n := len(points)
	out := make([]float32, n)
	if n == 1 {
		out[0] = 1
		return out
	}
	if k > n-1 {
		k = n - 1
	}
	nearest := make([]float32, k)
	for i := range points {
		for j := range nearest {
			nearest[j] = math32.MaxFloat32
		}
		for j, q := range points {
			if j == i {
				continue
			}
			d := points[i].Subtract(q).Length()
			// insert into the running k smallest
			for m := 0; m < k; m++ {
				if d < nearest[m] {
					copy(nearest[m+1:], nearest[m:k-1])
					nearest[m] = d
					break
				}
			}
		}
		var sum float32
		for _, d := range nearest {
			sum += d
		}
		avg := sum / float32(k)
		if avg <= 0 {
			avg = 1e-6
		}
		out[i] = avg
	}
	return out
}
