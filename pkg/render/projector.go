// Package render implements the differentiable splat rasterization
// pipeline: EWA projection of 3D Gaussians to screen-space footprints,
// tile binning, and depth-ordered compositing against the medium field,
// with analytic backward passes for every stage.
package render

import (
	"fmt"

	"github.com/aquarend/go-water-splatting/pkg/core"
	"github.com/aquarend/go-water-splatting/pkg/splat"
	"github.com/chewxy/math32"
)

// Mode selects the screen-space footprint treatment
type Mode string

const (
	// ModeClassic uses a fixed 0.3-pixel blur kernel; may alias when
	// rendering far from the captured resolution.
	ModeClassic Mode = "classic"
	// ModeAntialiased additionally computes a compensation factor applied
	// to opacity so the integrated density survives the blur.
	ModeAntialiased Mode = "antialiased"
)

// ParseMode validates a rasterize mode string
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeClassic, ModeAntialiased:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unknown rasterize mode %q", s)
	}
}

const (
	blurKernel = 0.3
	// TileSize controls the rasterization tile granularity
	TileSize = 16
)

// Projection holds the screen-space footprint of every primitive for one
// camera, plus the intermediates the backward pass needs. A primitive
// with Radii[i] == 0 was culled (behind the near plane, degenerate
// covariance, or no tile overlap) and is skipped downstream.
type Projection struct {
	XY       []core.Vec2 // screen-space centers
	Depth    []float32   // camera-space depth
	Radii    []int32     // 3-sigma pixel radius, 0 = not visible
	Conic    []core.Vec3 // inverse 2D covariance (a, b, c)
	Comp     []float32   // antialiasing opacity compensation
	TilesHit []int32     // number of screen tiles overlapped

	Mode   Mode
	Camera *core.Camera

	viewRot   core.Mat3
	camPoint  []core.Vec3 // camera-space positions
	cov2D     []core.Vec3 // blurred 2D covariance (a, b, c)
	clampedX  []bool      // frustum clamp hit on x when building J
	clampedY  []bool
	tileMinXY []int32 // packed tile bounds: minX, minY, maxX, maxY
}

// TotalTilesHit sums tile coverage over all primitives; zero means an
// empty frame (valid, renders background only).
func (p *Projection) TotalTilesHit() int {
	total := 0
	for _, t := range p.TilesHit {
		total += int(t)
	}
	return total
}

// Project maps every primitive into screen space for the given camera.
// Primitives closer than clipThresh are near-plane culled.
func Project(store *splat.Store, cam *core.Camera, mode Mode, clipThresh float32) (*Projection, error) {
	if mode != ModeClassic && mode != ModeAntialiased {
		return nil, fmt.Errorf("unknown rasterize mode %q", mode)
	}
	n := store.Len()
	p := &Projection{
		XY:        make([]core.Vec2, n),
		Depth:     make([]float32, n),
		Radii:     make([]int32, n),
		Conic:     make([]core.Vec3, n),
		Comp:      make([]float32, n),
		TilesHit:  make([]int32, n),
		Mode:      mode,
		Camera:    cam,
		camPoint:  make([]core.Vec3, n),
		cov2D:     make([]core.Vec3, n),
		clampedX:  make([]bool, n),
		clampedY:  make([]bool, n),
		tileMinXY: make([]int32, n*4),
	}
	viewRot, viewTrans := cam.WorldToView()
	p.viewRot = viewRot

	tanFovX := 0.5 * float32(cam.Width) / cam.Fx
	tanFovY := 0.5 * float32(cam.Height) / cam.Fy
	limX := 1.3 * tanFovX
	limY := 1.3 * tanFovY
	tileCols := (cam.Width + TileSize - 1) / TileSize
	tileRows := (cam.Height + TileSize - 1) / TileSize

	for i := 0; i < n; i++ {
		t := viewRot.MulVec(store.MeanAt(i)).Add(viewTrans)
		p.camPoint[i] = t
		if t.Z < clipThresh {
			continue
		}
		p.Depth[i] = t.Z

		// frustum-clamped point for the projection Jacobian
		tx, ty := t.X/t.Z, t.Y/t.Z
		if tx < -limX || tx > limX {
			p.clampedX[i] = true
			tx = math32.Max(-limX, math32.Min(limX, tx))
		}
		if ty < -limY || ty > limY {
			p.clampedY[i] = true
			ty = math32.Max(-limY, math32.Min(limY, ty))
		}
		tx *= t.Z
		ty *= t.Z

		cov2d := projectCovariance(store, i, viewRot, cam, t, tx, ty)
		detOrig := cov2d.X*cov2d.Z - cov2d.Y*cov2d.Y
		blurred := core.Vec3{X: cov2d.X + blurKernel, Y: cov2d.Y, Z: cov2d.Z + blurKernel}
		det := blurred.X*blurred.Z - blurred.Y*blurred.Y
		if det <= 0 {
			continue
		}
		p.cov2D[i] = blurred
		if mode == ModeAntialiased {
			p.Comp[i] = math32.Sqrt(math32.Max(0, detOrig/det))
		} else {
			p.Comp[i] = 1
		}

		p.Conic[i] = core.Vec3{X: blurred.Z / det, Y: -blurred.Y / det, Z: blurred.X / det}

		mid := 0.5 * (blurred.X + blurred.Z)
		lambda := mid + math32.Sqrt(math32.Max(0.1, mid*mid-det))
		radius := int32(math32.Ceil(3 * math32.Sqrt(lambda)))
		if radius <= 0 {
			continue
		}

		center := core.Vec2{
			X: cam.Fx*t.X/t.Z + cam.Cx,
			Y: cam.Fy*t.Y/t.Z + cam.Cy,
		}
		minTX := clampInt(int(center.X-float32(radius))/TileSize, 0, tileCols)
		maxTX := clampInt((int(center.X+float32(radius))+TileSize-1)/TileSize, 0, tileCols)
		minTY := clampInt(int(center.Y-float32(radius))/TileSize, 0, tileRows)
		maxTY := clampInt((int(center.Y+float32(radius))+TileSize-1)/TileSize, 0, tileRows)
		tilesHit := int32(maxTX-minTX) * int32(maxTY-minTY)
		if tilesHit == 0 {
			continue
		}
		p.XY[i] = center
		p.Radii[i] = radius
		p.TilesHit[i] = tilesHit
		p.tileMinXY[i*4] = int32(minTX)
		p.tileMinXY[i*4+1] = int32(minTY)
		p.tileMinXY[i*4+2] = int32(maxTX)
		p.tileMinXY[i*4+3] = int32(maxTY)
	}
	return p, nil
}

// projectCovariance computes the blur-free 2D covariance (a, b, c) of
// primitive i via the EWA approximation cov2d = J W cov3d Wt Jt.
func projectCovariance(store *splat.Store, i int, viewRot core.Mat3, cam *core.Camera, t core.Vec3, tx, ty float32) core.Vec3 {
	z2 := t.Z * t.Z
	// J is 2x3: rows of the perspective Jacobian at the clamped point
	j00 := cam.Fx / t.Z
	j02 := -cam.Fx * tx / z2
	j11 := cam.Fy / t.Z
	j12 := -cam.Fy * ty / z2

	rot := store.QuatAt(i).Normalize().RotationMatrix()
	scale := store.ScaleAt(i)
	m := scaledRotation(rot, scale)

	// T = J * W (2x3)
	var tRow0, tRow1 core.Vec3
	for c := 0; c < 3; c++ {
		tRow0 = addComponent(tRow0, c, j00*viewRot[c]+j02*viewRot[6+c])
		tRow1 = addComponent(tRow1, c, j11*viewRot[3+c]+j12*viewRot[6+c])
	}

	// rows of T * M; cov2d = (TM)(TM)t since cov3d = M Mt
	u0 := core.Vec3{X: rowDot(tRow0, m, 0), Y: rowDot(tRow0, m, 1), Z: rowDot(tRow0, m, 2)}
	u1 := core.Vec3{X: rowDot(tRow1, m, 0), Y: rowDot(tRow1, m, 1), Z: rowDot(tRow1, m, 2)}
	return core.Vec3{X: u0.Dot(u0), Y: u0.Dot(u1), Z: u1.Dot(u1)}
}

// scaledRotation returns M = R * diag(scale)
func scaledRotation(rot core.Mat3, scale core.Vec3) core.Mat3 {
	return core.Mat3{
		rot[0] * scale.X, rot[1] * scale.Y, rot[2] * scale.Z,
		rot[3] * scale.X, rot[4] * scale.Y, rot[5] * scale.Z,
		rot[6] * scale.X, rot[7] * scale.Y, rot[8] * scale.Z,
	}
}

// rowDot multiplies a row vector by column c of m
func rowDot(row core.Vec3, m core.Mat3, c int) float32 {
	return row.X*m[c] + row.Y*m[3+c] + row.Z*m[6+c]
}

func addComponent(v core.Vec3, c int, val float32) core.Vec3 {
	switch c {
	case 0:
		v.X = val
	case 1:
		v.Y = val
	default:
		v.Z = val
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
