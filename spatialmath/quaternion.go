package spatialmath

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
)

// Orientation expresses the rotation of a rigid object or frame of reference in 3D space.
type Orientation interface {
	Quaternion() quat.Number
}

// Quaternion is an Orientation backed by a unit quaternion.
type Quaternion quat.Number

// Quaternion returns the orientation as a gonum quaternion.
func (q *Quaternion) Quaternion() quat.Number {
	return quat.Number(*q)
}

// NewZeroOrientation returns an orientation which signifies no rotation.
func NewZeroOrientation() Orientation {
	return &Quaternion{Real: 1}
}

// NewQuaternionFromXYZW builds an orientation from components ordered x, y, z, w. The result is
// normalized; a zero or non-finite input yields the identity rotation.
func NewQuaternionFromXYZW(xyzw [4]float64) *Quaternion {
	q := Normalize(quat.Number{Real: xyzw[3], Imag: xyzw[0], Jmag: xyzw[1], Kmag: xyzw[2]})
	return (*Quaternion)(&q)
}

// QuatToXYZW returns the components of q ordered x, y, z, w.
func QuatToXYZW(q quat.Number) [4]float64 {
	return [4]float64{q.Imag, q.Jmag, q.Kmag, q.Real}
}

// QuatToWXYZ returns the components of q ordered w, x, y, z.
func QuatToWXYZ(q quat.Number) [4]float64 {
	return [4]float64{q.Real, q.Imag, q.Jmag, q.Kmag}
}

// Normalize scales q to unit length. Degenerate quaternions become the identity.
func Normalize(q quat.Number) quat.Number {
	norm := quat.Abs(q)
	if norm == 0 || math.IsNaN(norm) || math.IsInf(norm, 0) {
		return quat.Number{Real: 1}
	}
	return quat.Scale(1/norm, q)
}

// InverseOrientationOrIdentity returns the inverse of a stored xyzw rotation: x, y and z negated,
// then renormalized. Malformed input falls back to the identity rotation.
func InverseOrientationOrIdentity(xyzw [4]float64) *Quaternion {
	return NewQuaternionFromXYZW([4]float64{-xyzw[0], -xyzw[1], -xyzw[2], xyzw[3]})
}

// QuaternionAlmostEqual is an equality test that treats q and -q as the same rotation.
func QuaternionAlmostEqual(a, b quat.Number, tol float64) bool {
	near := func(a, b quat.Number) bool {
		return math.Abs(a.Real-b.Real) < tol &&
			math.Abs(a.Imag-b.Imag) < tol &&
			math.Abs(a.Jmag-b.Jmag) < tol &&
			math.Abs(a.Kmag-b.Kmag) < tol
	}
	return near(a, b) || near(a, Flip(b))
}

// Flip will multiply a quaternion by -1, returning a quaternion representing the same orientation
// but in the opposing octant.
func Flip(q quat.Number) quat.Number {
	return quat.Number{Real: -q.Real, Imag: -q.Imag, Jmag: -q.Jmag, Kmag: -q.Kmag}
}

// OrientationAlmostEqual returns whether two orientations are approximately the same rotation.
func OrientationAlmostEqual(o1, o2 Orientation) bool {
	return QuaternionAlmostEqual(o1.Quaternion(), o2.Quaternion(), 1e-5)
}
