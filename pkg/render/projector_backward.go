package render

import (
	"github.com/aquarend/go-water-splatting/pkg/core"
	"github.com/aquarend/go-water-splatting/pkg/splat"
)

// Backward propagates screen-space gradients through the projection into
// position, log-scale and quaternion gradients. dXY, dDepth and dConic
// come from the rasterizer backward pass; dComp is only populated in
// antialiased mode (compensation scales opacity).
func (p *Projection) Backward(store *splat.Store, dXY []core.Vec2, dDepth []float32, dConic []core.Vec3, dComp []float32, grads *splat.Grads) {
	cam := p.Camera
	w := p.viewRot
	tanFovX := 0.5 * float32(cam.Width) / cam.Fx
	tanFovY := 0.5 * float32(cam.Height) / cam.Fy
	limX := 1.3 * tanFovX
	limY := 1.3 * tanFovY

	for i := range p.Radii {
		if p.Radii[i] == 0 {
			continue
		}
		t := p.camPoint[i]
		z := t.Z
		z2 := z * z

		// gradient of the blurred 2D covariance (a, b, c) from the conic
		cov := p.cov2D[i]
		a, b, c := cov.X, cov.Y, cov.Z
		det := a*c - b*b
		det2 := det * det
		dk := dConic[i]
		da := (-c*c*dk.X + b*c*dk.Y - b*b*dk.Z) / det2
		db := (2*b*c*dk.X - (a*c+b*b)*dk.Y + 2*a*b*dk.Z) / det2
		dc := (-b*b*dk.X + a*b*dk.Y - a*a*dk.Z) / det2

		if p.Mode == ModeAntialiased && dComp != nil {
			comp := p.Comp[i]
			if comp > 0 {
				detOrig := (a-blurKernel)*(c-blurKernel) - b*b
				g := dComp[i] / (2 * comp * det2)
				da += g * ((c-blurKernel)*det - detOrig*c)
				db += g * (-2 * b * (det - detOrig))
				dc += g * ((a-blurKernel)*det - detOrig*a)
			}
		}

		// recompute the forward intermediates
		tx, ty := t.X/z, t.Y/z
		sx, sy := float32(1), float32(1)
		if p.clampedX[i] {
			if tx < 0 {
				sx = -1
			}
			tx = sx * limX
		}
		if p.clampedY[i] {
			if ty < 0 {
				sy = -1
			}
			ty = sy * limY
		}
		txc, tyc := tx*z, ty*z

		j00 := cam.Fx / z
		j02 := -cam.Fx * txc / z2
		j11 := cam.Fy / z
		j12 := -cam.Fy * tyc / z2

		quat := store.QuatAt(i).Normalize()
		rot := quat.RotationMatrix()
		scale := store.ScaleAt(i)
		m := scaledRotation(rot, scale)

		var t0, t1 [3]float32 // T = J * W
		for col := 0; col < 3; col++ {
			t0[col] = j00*w[col] + j02*w[6+col]
			t1[col] = j11*w[3+col] + j12*w[6+col]
		}
		// cov3d = M Mt
		var cov3 [9]float32
		for r := 0; r < 3; r++ {
			for col := 0; col < 3; col++ {
				cov3[r*3+col] = m[r*3]*m[col*3] + m[r*3+1]*m[col*3+1] + m[r*3+2]*m[col*3+2]
			}
		}

		// dCov3 = Tt * Gm * T with Gm = [[da, db/2], [db/2, dc]]
		hb := db / 2
		var dCov3 [9]float32
		for k := 0; k < 3; k++ {
			for l := 0; l < 3; l++ {
				dCov3[k*3+l] = da*t0[k]*t0[l] + hb*(t0[k]*t1[l]+t1[k]*t0[l]) + dc*t1[k]*t1[l]
			}
		}

		// dT = 2 * Gm * T * cov3
		var p0, p1 [3]float32 // T * cov3
		for col := 0; col < 3; col++ {
			p0[col] = t0[0]*cov3[col] + t0[1]*cov3[3+col] + t0[2]*cov3[6+col]
			p1[col] = t1[0]*cov3[col] + t1[1]*cov3[3+col] + t1[2]*cov3[6+col]
		}
		var dT0, dT1 [3]float32
		for col := 0; col < 3; col++ {
			dT0[col] = 2*da*p0[col] + db*p1[col]
			dT1[col] = db*p0[col] + 2*dc*p1[col]
		}

		// dJ = dT * Wt, only the structurally nonzero J entries matter
		dJ00 := dT0[0]*w[0] + dT0[1]*w[1] + dT0[2]*w[2]
		dJ02 := dT0[0]*w[6] + dT0[1]*w[7] + dT0[2]*w[8]
		dJ11 := dT1[0]*w[3] + dT1[1]*w[4] + dT1[2]*w[5]
		dJ12 := dT1[0]*w[6] + dT1[1]*w[7] + dT1[2]*w[8]

		var dt core.Vec3
		dt.Z += dJ00 * (-cam.Fx / z2)
		dt.Z += dJ11 * (-cam.Fy / z2)
		if p.clampedX[i] {
			dt.Z += dJ02 * (cam.Fx * sx * limX / z2)
		} else {
			dt.X += dJ02 * (-cam.Fx / z2)
			dt.Z += dJ02 * (2 * cam.Fx * t.X / (z2 * z))
		}
		if p.clampedY[i] {
			dt.Z += dJ12 * (cam.Fy * sy * limY / z2)
		} else {
			dt.Y += dJ12 * (-cam.Fy / z2)
			dt.Z += dJ12 * (2 * cam.Fy * t.Y / (z2 * z))
		}

		// screen-space center and depth
		dt.X += dXY[i].X * cam.Fx / z
		dt.Z += -dXY[i].X * cam.Fx * t.X / z2
		dt.Y += dXY[i].Y * cam.Fy / z
		dt.Z += -dXY[i].Y * cam.Fy * t.Y / z2
		dt.Z += dDepth[i]

		grads.AddMean(i, w.Transpose().MulVec(dt))

		// dM = 2 * dCov3 * M (dCov3 is symmetric)
		var dM [9]float32
		for r := 0; r < 3; r++ {
			for col := 0; col < 3; col++ {
				dM[r*3+col] = 2 * (dCov3[r*3]*m[col] + dCov3[r*3+1]*m[3+col] + dCov3[r*3+2]*m[6+col])
			}
		}

		// scale path: dS_k = sum_j R_jk dM_jk, chain through exp
		dLogScale := core.Vec3{
			X: (rot[0]*dM[0] + rot[3]*dM[3] + rot[6]*dM[6]) * scale.X,
			Y: (rot[1]*dM[1] + rot[4]*dM[4] + rot[7]*dM[7]) * scale.Y,
			Z: (rot[2]*dM[2] + rot[5]*dM[5] + rot[8]*dM[8]) * scale.Z,
		}
		grads.AddLogScale(i, dLogScale)

		// rotation path: dR_jk = dM_jk * scale_k
		var dR [9]float32
		for r := 0; r < 3; r++ {
			dR[r*3] = dM[r*3] * scale.X
			dR[r*3+1] = dM[r*3+1] * scale.Y
			dR[r*3+2] = dM[r*3+2] * scale.Z
		}
		dq := quatBackward(quat, dR)
		grads.AddQuat(i, normalizeBackward(store.QuatAt(i), dq))
	}
}

// quatBackward maps a rotation-matrix gradient to a unit-quaternion
// gradient using the analytic derivative of Quat.RotationMatrix.
func quatBackward(q core.Quat, dR [9]float32) core.Quat {
	w, x, y, z := q.W, q.X, q.Y, q.Z
	return core.Quat{
		W: 2 * (-z*dR[1] + y*dR[2] + z*dR[3] - x*dR[5] - y*dR[6] + x*dR[7]),
		X: 2 * (y*dR[1] + z*dR[2] + y*dR[3] - 2*x*dR[4] - w*dR[5] + z*dR[6] + w*dR[7] - 2*x*dR[8]),
		Y: 2 * (-2*y*dR[0] + x*dR[1] + w*dR[2] + x*dR[3] + z*dR[5] - w*dR[6] + z*dR[7] - 2*y*dR[8]),
		Z: 2 * (-2*z*dR[0] - w*dR[1] + x*dR[2] + w*dR[3] - 2*z*dR[4] + y*dR[5] + x*dR[6] + y*dR[7]),
	}
}

// normalizeBackward chains a unit-quaternion gradient through the
// normalization q_hat = q/|q|. Zero-norm input gets a zero gradient.
func normalizeBackward(raw core.Quat, dUnit core.Quat) core.Quat {
	n := raw.Norm()
	if n == 0 {
		return core.Quat{}
	}
	u := raw.Normalize()
	dot := u.W*dUnit.W + u.X*dUnit.X + u.Y*dUnit.Y + u.Z*dUnit.Z
	inv := 1 / n
	return core.Quat{
		W: (dUnit.W - u.W*dot) * inv,
		X: (dUnit.X - u.X*dot) * inv,
		Y: (dUnit.Y - u.Y*dot) * inv,
		Z: (dUnit.Z - u.Z*dot) * inv,
	}
}
