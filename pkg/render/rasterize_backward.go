package render

import (
	"github.com/aquarend/go-water-splatting/pkg/core"
	"github.com/chewxy/math32"
)

// Backprop carries the gradients produced by the compositor backward
// pass. Per-primitive slices index the full store; per-pixel slices index
// the frame. DXYAbs accumulates the absolute value of each per-pixel
// screen-position gradient contribution, since signed contributions
// cancel across tiles and undercount positional sensitivity.
type Backprop struct {
	DColors    []core.Vec3
	DOpacities []float32 // w.r.t. post-activation opacity
	DXY        []core.Vec2
	DXYAbs     []core.Vec2
	DConic     []core.Vec3
	DDepth     []float32

	DMediumRGB  []core.Vec3 // per pixel
	DMediumBS   []core.Vec3
	DMediumAttn []core.Vec3
}

func newBackprop(numPrims, numPixels int) *Backprop {
	return &Backprop{
		DColors:     make([]core.Vec3, numPrims),
		DOpacities:  make([]float32, numPrims),
		DXY:         make([]core.Vec2, numPrims),
		DXYAbs:      make([]core.Vec2, numPrims),
		DConic:      make([]core.Vec3, numPrims),
		DDepth:      make([]float32, numPrims),
		DMediumRGB:  make([]core.Vec3, numPixels),
		DMediumBS:   make([]core.Vec3, numPixels),
		DMediumAttn: make([]core.Vec3, numPixels),
	}
}

func (b *Backprop) mergePrims(other *Backprop) {
	for i := range other.DColors {
		b.DColors[i] = b.DColors[i].Add(other.DColors[i])
		b.DOpacities[i] += other.DOpacities[i]
		b.DXY[i] = b.DXY[i].Add(other.DXY[i])
		b.DXYAbs[i] = b.DXYAbs[i].Add(other.DXYAbs[i])
		b.DConic[i] = b.DConic[i].Add(other.DConic[i])
		b.DDepth[i] += other.DDepth[i]
	}
}

// contribution records one accepted splat during the backward replay
type contribution struct {
	idx      int32
	alpha    float32
	g        float32
	transmit float32 // transmittance at entry
	z        float32
	eAtt     core.Vec3
	ebsZ     core.Vec3
	ebsPrev  core.Vec3
}

// Backward propagates a per-pixel gradient of the composited frame back
// to primitive colors, opacities, footprints (conic + screen position +
// depth) and the per-pixel medium outputs. It replays the forward
// traversal per pixel, so it must stay in lockstep with compositePixel.
func (out *Outputs) Backward(dRGB *core.Image) *Backprop {
	width, height := out.RGB.Width, out.RGB.Height
	numPrims := len(out.opacities)
	numPixels := width * height

	numWorkers := out.cfg.NumWorkers
	total := newBackprop(numPrims, numPixels)
	// per-primitive accumulators are shared across tiles, so each worker
	// writes its own copy; per-pixel accumulators are disjoint by tile
	numTiles := len(out.grid.prims)
	partials := make([]*Backprop, maxWorkers(numWorkers, numTiles))
	for w := range partials {
		partials[w] = &Backprop{
			DColors:     make([]core.Vec3, numPrims),
			DOpacities:  make([]float32, numPrims),
			DXY:         make([]core.Vec2, numPrims),
			DXYAbs:      make([]core.Vec2, numPrims),
			DConic:      make([]core.Vec3, numPrims),
			DDepth:      make([]float32, numPrims),
			DMediumRGB:  total.DMediumRGB,
			DMediumBS:   total.DMediumBS,
			DMediumAttn: total.DMediumAttn,
		}
	}

	parallelTiles(len(partials), numTiles, func(worker, tile int) {
		buf := partials[worker]
		x0, y0, x1, y1 := out.grid.bounds(tile, width, height)
		prims := out.grid.prims[tile]
		var scratch []contribution
		for y := y0; y < y1; y++ {
			for x := x0; x < x1; x++ {
				scratch = out.backwardPixel(x, y, prims, dRGB.At(x, y), buf, scratch[:0])
			}
		}
	})
	for _, buf := range partials {
		total.mergePrims(buf)
	}
	return total
}

func maxWorkers(requested, numTiles int) int {
	if requested <= 0 {
		requested = 4
	}
	if requested > numTiles {
		requested = numTiles
	}
	if requested < 1 {
		requested = 1
	}
	return requested
}

func (out *Outputs) backwardPixel(x, y int, prims []int32, dF core.Vec3, buf *Backprop, scratch []contribution) []contribution {
	pix := y*out.RGB.Width + x
	px, py := float32(x), float32(y)

	medC := out.medRGB[pix]
	bs := out.medBS[pix]
	attn := out.medAttn[pix]

	// replay the forward traversal, recording accepted contributions
	transmit := float32(1)
	ebsPrev := core.Vec3{X: 1, Y: 1, Z: 1}
	zPrev := float32(0)
	var medWeight core.Vec3 // d(composite)/d(medC), per channel
	var bsGrad core.Vec3

	for _, idx := range prims {
		alpha, g, ok := footprintAlpha(out.proj, out.opacities, int(idx), px, py)
		if !ok {
			continue
		}
		nextT := transmit * (1 - alpha)
		if nextT < transmitFloor {
			break
		}
		z := out.proj.Depth[idx]
		ebsZ := expNegScaled(bs, z)
		seg := ebsPrev.Subtract(ebsZ)

		medWeight = medWeight.Add(seg.Multiply(transmit))
		// segment bounds: d(exp(-bs*zPrev))/d(bs) = -zPrev*ebsPrev, and
		// -exp(-bs*z) contributes +z*ebsZ
		bsGrad = bsGrad.Add(ebsZ.Multiply(z).Subtract(ebsPrev.Multiply(zPrev)).Multiply(transmit))

		scratch = append(scratch, contribution{
			idx: idx, alpha: alpha, g: g, transmit: transmit,
			z: z, eAtt: expNegScaled(attn, z), ebsZ: ebsZ, ebsPrev: ebsPrev,
		})
		transmit = nextT
		ebsPrev = ebsZ
		zPrev = z
	}

	// tail out to infinity
	medWeight = medWeight.Add(ebsPrev.Multiply(transmit))
	bsGrad = bsGrad.Add(ebsPrev.Multiply(-zPrev * transmit))

	buf.DMediumRGB[pix] = buf.DMediumRGB[pix].Add(dF.MultiplyVec(medWeight))
	buf.DMediumBS[pix] = buf.DMediumBS[pix].Add(dF.MultiplyVec(medC).MultiplyVec(bsGrad))

	// reverse sweep: suffix holds every contribution strictly behind the
	// current splat (later segments, later splats, and the medium tail)
	suffix := medC.MultiplyVec(ebsPrev).Multiply(transmit)
	var attnGrad core.Vec3
	for j := len(scratch) - 1; j >= 0; j-- {
		s := &scratch[j]
		i := int(s.idx)
		weight := s.alpha * s.transmit
		c := out.colors[i]

		// color
		buf.DColors[i] = buf.DColors[i].Add(dF.MultiplyVec(s.eAtt).Multiply(weight))

		// depth: attenuation of this splat plus the shift of the medium
		// segment boundary at z_j
		dz := dF.Dot(medC.MultiplyVec(bs).MultiplyVec(s.ebsZ).Subtract(c.MultiplyVec(attn).MultiplyVec(s.eAtt))) * weight
		buf.DDepth[i] += dz

		// attenuation coefficient gradient (per channel, this pixel)
		attnGrad = attnGrad.Add(c.MultiplyVec(s.eAtt).Multiply(-s.z * weight))

		// opacity: own contribution minus everything it occludes
		dAlpha := dF.Dot(c.MultiplyVec(s.eAtt))*s.transmit - dF.Dot(suffix)/(1-s.alpha)
		suffix = suffix.Add(medC.MultiplyVec(s.ebsPrev.Subtract(s.ebsZ)).Multiply(s.transmit)).
			Add(c.MultiplyVec(s.eAtt).Multiply(weight))

		if out.opacities[i]*s.g > alphaCeiling {
			continue // saturated alpha passes no gradient
		}
		buf.DOpacities[i] += dAlpha * s.g
		dG := dAlpha * out.opacities[i]
		dQ := -0.5 * s.g * dG

		dx := out.proj.XY[i].X - px
		dy := out.proj.XY[i].Y - py
		con := out.proj.Conic[i]
		buf.DConic[i] = buf.DConic[i].Add(core.Vec3{
			X: dQ * dx * dx,
			Y: dQ * 2 * dx * dy,
			Z: dQ * dy * dy,
		})
		gx := dQ * (2*con.X*dx + 2*con.Y*dy)
		gy := dQ * (2*con.Y*dx + 2*con.Z*dy)
		buf.DXY[i] = buf.DXY[i].Add(core.Vec2{X: gx, Y: gy})
		buf.DXYAbs[i] = buf.DXYAbs[i].Add(core.Vec2{X: math32.Abs(gx), Y: math32.Abs(gy)})
	}
	buf.DMediumAttn[pix] = buf.DMediumAttn[pix].Add(dF.MultiplyVec(attnGrad))
	return scratch
}
