package splat

import "github.com/aquarend/go-water-splatting/pkg/core"

// Spherical harmonics evaluation for directional splat color. Basis
// ordering and signs follow the usual real SH convention for splatting,
// so degree-0 coefficients round-trip through RGB2SH/SH2RGB.

const shC0 = 0.28209479177387814

var shC1 = [3]float32{-0.4886025119029199, 0.4886025119029199, -0.4886025119029199}

var shC2 = [5]float32{
	1.0925484305920792,
	-1.0925484305920792,
	0.31539156525252005,
	-1.0925484305920792,
	0.5462742152960396,
}

var shC3 = [7]float32{
	-0.5900435899266435,
	2.890611442640554,
	-0.4570457994644658,
	0.3731763325901154,
	-0.4570457994644658,
	1.445305721320277,
	-0.5900435899266435,
}

// NumSHBases returns the number of basis functions for a degree in 0..3
func NumSHBases(degree int) int {
	return (degree + 1) * (degree + 1)
}

// SHBases evaluates the real SH basis functions of the given degree at a
// unit direction. The returned slice has NumSHBases(degree) entries.
func SHBases(degree int, dir core.Vec3) []float32 {
	out := make([]float32, NumSHBases(degree))
	out[0] = shC0
	if degree < 1 {
		return out
	}
	x, y, z := dir.X, dir.Y, dir.Z
	out[1] = shC1[0] * y
	out[2] = shC1[1] * z
	out[3] = shC1[2] * x
	if degree < 2 {
		return out
	}
	xx, yy, zz := x*x, y*y, z*z
	xy, yz, xz := x*y, y*z, x*z
	out[4] = shC2[0] * xy
	out[5] = shC2[1] * yz
	out[6] = shC2[2] * (2*zz - xx - yy)
	out[7] = shC2[3] * xz
	out[8] = shC2[4] * (xx - yy)
	if degree < 3 {
		return out
	}
	out[9] = shC3[0] * y * (3*xx - yy)
	out[10] = shC3[1] * xy * z
	out[11] = shC3[2] * y * (4*zz - xx - yy)
	out[12] = shC3[3] * z * (2*zz - 3*xx - 3*yy)
	out[13] = shC3[4] * x * (4*zz - xx - yy)
	out[14] = shC3[5] * z * (xx - yy)
	out[15] = shC3[6] * x * (xx - 3*yy)
	return out
}

// EvalSH computes the RGB color from SH coefficients at a unit viewing
// direction. coeffs holds NumSHBases(maxDegree) Vec3 rows (DC first);
// only bases up to activeDegree contribute.
func EvalSH(activeDegree int, dir core.Vec3, coeffs []core.Vec3) core.Vec3 {
	bases := SHBases(activeDegree, dir)
	var rgb core.Vec3
	for k, b := range bases {
		rgb = rgb.Add(coeffs[k].Multiply(b))
	}
	return rgb
}

// EvalSHBackward accumulates dL/dcoeffs given dL/drgb at a direction.
// The direction itself receives no gradient (view directions are treated
// as constants during optimization).
func EvalSHBackward(activeDegree int, dir core.Vec3, dRGB core.Vec3, dCoeffs []core.Vec3) {
	bases := SHBases(activeDegree, dir)
	for k, b := range bases {
		dCoeffs[k] = dCoeffs[k].Add(dRGB.Multiply(b))
	}
}

// RGB2SH converts an RGB value in [0,1] to the DC SH coefficient
func RGB2SH(rgb core.Vec3) core.Vec3 {
	return rgb.Subtract(core.NewVec3(0.5, 0.5, 0.5)).Multiply(1 / shC0)
}

// SH2RGB converts the DC SH coefficient back to RGB
func SH2RGB(sh core.Vec3) core.Vec3 {
	return sh.Multiply(shC0).Add(core.NewVec3(0.5, 0.5, 0.5))
}
