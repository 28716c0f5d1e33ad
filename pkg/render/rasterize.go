package render

import (
	"github.com/aquarend/go-water-splatting/pkg/core"
	"github.com/chewxy/math32"
)

const (
	alphaCeiling  = 0.999
	alphaCutoff   = 1.0 / 255.0
	transmitFloor = 1e-4
)

// Config controls compositing behavior
type Config struct {
	// DepthSentinel is reported for pixels with zero accumulated alpha
	DepthSentinel float32
	// NumWorkers bounds tile parallelism; 0 uses the CPU count
	NumWorkers int
}

// DefaultConfig returns sensible compositing defaults
func DefaultConfig() Config {
	return Config{DepthSentinel: 10, NumWorkers: 0}
}

// Outputs holds the per-pixel results of one compositing pass along with
// everything the backward pass needs to replay it.
type Outputs struct {
	Object *core.Image // splat contribution, medium-attenuated
	Medium *core.Image // participating-medium contribution
	Clear  *core.Image // splat contribution without attenuation
	RGB    *core.Image // Object + Medium, the composited frame
	Depth  *core.ScalarField
	Alpha  *core.ScalarField

	proj      *Projection
	colors    []core.Vec3
	opacities []float32
	medRGB    []core.Vec3
	medBS     []core.Vec3
	medAttn   []core.Vec3
	grid      *tileGrid
	cfg       Config
}

// Rasterize composites the projected primitives front to back against
// the medium field. colors and opacities are post-activation (SH-decoded
// RGB; sigmoid opacity already scaled by any antialiasing compensation).
// The medium slices are per-pixel values at the output resolution. An
// empty projection degrades to a medium-only frame, not an error.
func Rasterize(proj *Projection, colors []core.Vec3, opacities []float32, medRGB, medBS, medAttn []core.Vec3, cfg Config) *Outputs {
	width, height := proj.Camera.Width, proj.Camera.Height
	out := &Outputs{
		Object: core.NewImage(width, height),
		Medium: core.NewImage(width, height),
		Clear:  core.NewImage(width, height),
		RGB:    core.NewImage(width, height),
		Depth:  core.NewScalarField(width, height),
		Alpha:  core.NewScalarField(width, height),

		proj:      proj,
		colors:    colors,
		opacities: opacities,
		medRGB:    medRGB,
		medBS:     medBS,
		medAttn:   medAttn,
		cfg:       cfg,
	}
	out.grid = binTiles(proj, width, height)

	parallelTiles(cfg.NumWorkers, len(out.grid.prims), func(_, tile int) {
		x0, y0, x1, y1 := out.grid.bounds(tile, width, height)
		prims := out.grid.prims[tile]
		for y := y0; y < y1; y++ {
			for x := x0; x < x1; x++ {
				out.compositePixel(x, y, prims)
			}
		}
	})
	return out
}

// compositePixel walks the tile's depth-sorted primitives, accumulating
// splat color attenuated by the medium and the medium's backscatter
// between consecutive splats, then the medium tail out to infinity.
func (out *Outputs) compositePixel(x, y int, prims []int32) {
	pix := y*out.RGB.Width + x
	px, py := float32(x), float32(y)

	medC := out.medRGB[pix]
	bs := out.medBS[pix]
	attn := out.medAttn[pix]

	transmit := float32(1)
	ebsPrev := core.Vec3{X: 1, Y: 1, Z: 1} // exp(-bs*z) at the previous splat
	var object, clear, mediumC core.Vec3
	var depthAcc, alphaAcc float32

	for _, idx := range prims {
		alpha, _, ok := footprintAlpha(out.proj, out.opacities, int(idx), px, py)
		if !ok {
			continue
		}
		nextT := transmit * (1 - alpha)
		if nextT < transmitFloor {
			break
		}
		z := out.proj.Depth[idx]
		ebsZ := expNegScaled(bs, z)

		// medium segment between the previous splat and this one
		mediumC = mediumC.Add(medC.MultiplyVec(ebsPrev.Subtract(ebsZ)).Multiply(transmit))

		weight := alpha * transmit
		eAtt := expNegScaled(attn, z)
		c := out.colors[idx]
		object = object.Add(c.MultiplyVec(eAtt).Multiply(weight))
		clear = clear.Add(c.Multiply(weight))
		depthAcc += z * weight
		alphaAcc += weight

		transmit = nextT
		ebsPrev = ebsZ
	}

	// medium from the last splat to infinity
	mediumC = mediumC.Add(medC.MultiplyVec(ebsPrev).Multiply(transmit))

	out.Object.Set(x, y, object)
	out.Clear.Set(x, y, clear)
	out.Medium.Set(x, y, mediumC)
	out.RGB.Set(x, y, object.Add(mediumC))
	out.Alpha.Set(x, y, alphaAcc)
	if alphaAcc > 0 {
		out.Depth.Set(x, y, depthAcc/alphaAcc)
	} else {
		out.Depth.Set(x, y, out.cfg.DepthSentinel)
	}
}

// footprintAlpha evaluates the 2D Gaussian footprint of primitive idx at
// pixel (px, py) and returns the resulting opacity, clamped below the
// saturation ceiling. ok is false for negligible contributions.
func footprintAlpha(proj *Projection, opacities []float32, idx int, px, py float32) (alpha, g float32, ok bool) {
	dx := proj.XY[idx].X - px
	dy := proj.XY[idx].Y - py
	con := proj.Conic[idx]
	q := con.X*dx*dx + 2*con.Y*dx*dy + con.Z*dy*dy
	if q < 0 {
		return 0, 0, false
	}
	g = math32.Exp(-0.5 * q)
	alpha = opacities[idx] * g
	if alpha < alphaCutoff {
		return 0, 0, false
	}
	if alpha > alphaCeiling {
		alpha = alphaCeiling
	}
	return alpha, g, true
}

// expNegScaled returns exp(-v*z) per channel
func expNegScaled(v core.Vec3, z float32) core.Vec3 {
	return core.Vec3{
		X: math32.Exp(-v.X * z),
		Y: math32.Exp(-v.Y * z),
		Z: math32.Exp(-v.Z * z),
	}
}
