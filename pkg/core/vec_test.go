package core

import (
	"testing"

	"github.com/chewxy/math32"
	"github.com/stretchr/testify/assert"
)

func TestQuatRotationMatrixOrthonormal(t *testing.T) {
	q := Quat{W: 0.3, X: -0.5, Y: 0.7, Z: 0.2}.Normalize()
	r := q.RotationMatrix()
	rt := r.Transpose()
	prod := r.Mul(rt)
	ident := IdentityMat3()
	for i := 0; i < 9; i++ {
		assert.InDelta(t, ident[i], prod[i], 1e-5, "R*Rt entry %d", i)
	}
}

func TestQuatNormalizeZeroFallsBackToIdentity(t *testing.T) {
	q := Quat{}.Normalize()
	assert.Equal(t, Quat{W: 1}, q)
	r := q.RotationMatrix()
	assert.Equal(t, IdentityMat3(), r)
}

func TestVec3NormalizeZero(t *testing.T) {
	v := Vec3{}.Normalize()
	assert.Equal(t, Vec3{}, v)
}

func TestSigmoidLogitRoundTrip(t *testing.T) {
	for _, p := range []float32{0.01, 0.1, 0.5, 0.9, 0.99} {
		assert.InDelta(t, p, Sigmoid(Logit(p)), 1e-5)
	}
}

func TestSoftplus(t *testing.T) {
	assert.Greater(t, Softplus(-10), float32(0))
	assert.InDelta(t, math32.Log(2), Softplus(0), 1e-6)
	// identity branch for large inputs
	assert.Equal(t, float32(50), Softplus(50))
}

func TestWorldToViewInvertsPose(t *testing.T) {
	cam := &Camera{
		Fx: 100, Fy: 100, Cx: 50, Cy: 50, Width: 100, Height: 100,
		Rotation:    Quat{W: 0.9, X: 0.1, Y: 0.3, Z: 0.1}.Normalize().RotationMatrix(),
		Translation: Vec3{X: 1, Y: -2, Z: 3},
	}
	rInv, tInv := cam.WorldToView()
	// the camera origin must land at the view-space origin
	origin := rInv.MulVec(cam.Translation).Add(tInv)
	assert.InDelta(t, 0, origin.X, 1e-5)
	assert.InDelta(t, 0, origin.Y, 1e-5)
	assert.InDelta(t, 0, origin.Z, 1e-5)

	// a point one unit down the viewing axis has depth one
	forward := cam.FlippedRotation().MulVec(Vec3{Z: 1})
	p := cam.Translation.Add(forward)
	view := rInv.MulVec(p).Add(tInv)
	assert.InDelta(t, 1, view.Z, 1e-5)
}

func TestCameraRescale(t *testing.T) {
	cam := &Camera{Fx: 100, Fy: 80, Cx: 50, Cy: 40, Width: 100, Height: 80}
	half := cam.Rescale(2)
	assert.Equal(t, 50, half.Width)
	assert.Equal(t, 40, half.Height)
	assert.InDelta(t, 50, half.Fx, 1e-6)
	assert.InDelta(t, 20, half.Cy, 1e-6)
	same := cam.Rescale(1)
	assert.Equal(t, cam.Width, same.Width)
}

func TestRayDirectionIsUnit(t *testing.T) {
	cam := &Camera{
		Fx: 60, Fy: 60, Cx: 32, Cy: 32, Width: 64, Height: 64,
		Rotation: IdentityMat3(),
	}
	for _, px := range [][2]int{{0, 0}, {32, 32}, {63, 17}} {
		d := cam.RayDirection(px[0], px[1])
		assert.InDelta(t, 1, d.Length(), 1e-5)
	}
	// the center pixel looks down the flipped z axis
	center := cam.RayDirection(32, 32)
	assert.InDelta(t, -1, center.Z, 1e-5)
}
