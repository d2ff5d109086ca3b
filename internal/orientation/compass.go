package orientation

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
)

// horizonEpsilon is the smallest horizontal component of the device's top
// axis (as a fraction of its length) that still yields a usable azimuth.
// It trips within about 0.06 degrees of beta = ±90.
const horizonEpsilon = 1e-3

var (
	xAxis = [3]float64{1, 0, 0}
	yAxis = [3]float64{0, 1, 0}
	zAxis = [3]float64{0, 0, 1}
)

// TiltCompensatedHeading converts platform Euler angles (degrees, intrinsic
// Z-X'-Y'' as alpha, beta, gamma) into a compass heading in [0, 360).
//
// The device rotation is built as a quaternion and applied to the device's
// top axis; the heading is the azimuth of that axis projected onto the
// horizontal plane, clockwise from north. With the device flat the result is
// 360 - alpha. When the projection collapses (beta near ±90) or an input is
// not finite, prev is returned unchanged.
func TiltCompensatedHeading(alpha, beta, gamma, prev float64) float64 {
	if !finite(alpha) || !finite(beta) || !finite(gamma) {
		return prev
	}

	q := quat.Mul(quat.Mul(axisRotation(zAxis, alpha), axisRotation(xAxis, beta)), axisRotation(yAxis, gamma))
	top := quat.Mul(quat.Mul(q, quat.Number{Jmag: 1}), quat.Conj(q))

	east, north := top.Imag, top.Jmag
	if math.Hypot(east, north) < horizonEpsilon {
		return prev
	}
	return NormalizeDegrees(math.Atan2(east, north) * 180 / math.Pi)
}

// NormalizeDegrees folds any finite angle into [0, 360).
func NormalizeDegrees(deg float64) float64 {
	d := math.Mod(deg, 360)
	if d < 0 {
		d += 360
	}
	// -0 and values that round up to 360 after the addition.
	if d >= 360 || d == 0 {
		return 0
	}
	return d
}

func axisRotation(axis [3]float64, deg float64) quat.Number {
	half := deg * math.Pi / 360
	s := math.Sin(half)
	return quat.Number{Real: math.Cos(half), Imag: axis[0] * s, Jmag: axis[1] * s, Kmag: axis[2] * s}
}

// DegToRad converts degrees to radians.
func DegToRad(deg float64) float64 {
	return deg * math.Pi / 180
}

// RadToDeg converts radians to degrees.
func RadToDeg(rad float64) float64 {
	return rad * 180 / math.Pi
}
