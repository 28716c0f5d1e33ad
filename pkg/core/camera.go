package core

// Camera holds pinhole intrinsics and a camera-to-world pose.
// Poses follow the OpenGL convention (camera looks down -Z); the
// projector applies the axis flip needed for screen-space splatting.
type Camera struct {
	Fx, Fy float32 // focal lengths in pixels
	Cx, Cy float32 // principal point in pixels
	Width  int
	Height int

	Rotation    Mat3 // camera-to-world rotation
	Translation Vec3 // camera position in world space
}

// WorldToView returns the world-to-camera rotation and translation for
// splat projection. The y and z axes are negated first (screen-space
// convention), then the inverse is the transpose since the rotation is
// orthonormal. An exact closed form, no solve involved.
func (c *Camera) WorldToView() (Mat3, Vec3) {
	r := c.Rotation
	// negate the second and third columns (R * diag(1,-1,-1))
	flipped := Mat3{
		r[0], -r[1], -r[2],
		r[3], -r[4], -r[5],
		r[6], -r[7], -r[8],
	}
	rInv := flipped.Transpose()
	tInv := rInv.MulVec(c.Translation).Multiply(-1)
	return rInv, tInv
}

// FlippedRotation returns the camera-to-world rotation after the y/z
// axis flip; pixel ray directions are expressed in this frame.
func (c *Camera) FlippedRotation() Mat3 {
	r := c.Rotation
	return Mat3{
		r[0], -r[1], -r[2],
		r[3], -r[4], -r[5],
		r[6], -r[7], -r[8],
	}
}

// RayDirection returns the unit world-space view direction through pixel
// center (x, y).
func (c *Camera) RayDirection(x, y int) Vec3 {
	dir := Vec3{
		(float32(x) - c.Cx) / c.Fx,
		(float32(y) - c.Cy) / c.Fy,
		1,
	}.Normalize()
	return c.FlippedRotation().MulVec(dir)
}

// Rescale returns a copy of the camera with the output resolution divided
// by factor; intrinsics scale along with the pixel grid.
func (c *Camera) Rescale(factor int) *Camera {
	if factor <= 1 {
		out := *c
		return &out
	}
	f := float32(factor)
	return &Camera{
		Fx: c.Fx / f, Fy: c.Fy / f,
		Cx: c.Cx / f, Cy: c.Cy / f,
		Width:       c.Width / factor,
		Height:      c.Height / factor,
		Rotation:    c.Rotation,
		Translation: c.Translation,
	}
}
