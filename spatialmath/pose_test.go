package spatialmath

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/num/quat"
)

func rotZ(theta float64) *Quaternion {
	return &Quaternion{Real: math.Cos(theta / 2), Kmag: math.Sin(theta / 2)}
}

func TestComposeWithInverseIsIdentity(t *testing.T) {
	poses := []Pose{
		NewZeroPose(),
		NewPoseFromPoint(r3.Vector{X: 1, Y: -2, Z: 3}),
		NewPose(r3.Vector{X: 0.5, Y: 4, Z: -7}, rotZ(math.Pi/3)),
		NewPoseFromXYZW([3]float64{10, 20, 30}, [4]float64{0.1, -0.4, 0.3, 0.8}),
	}
	for _, p := range poses {
		test.That(t, PoseAlmostEqual(Compose(p, PoseInverse(p)), NewZeroPose()), test.ShouldBeTrue)
		test.That(t, PoseAlmostEqual(Compose(PoseInverse(p), p), NewZeroPose()), test.ShouldBeTrue)
	}
}

func TestComposeTranslationAndRotation(t *testing.T) {
	a := NewPose(r3.Vector{X: 1}, rotZ(math.Pi/2))
	b := NewPoseFromPoint(r3.Vector{X: 1})

	c := Compose(a, b)
	test.That(t, c.Point().X, test.ShouldAlmostEqual, 1)
	test.That(t, c.Point().Y, test.ShouldAlmostEqual, 1)
	test.That(t, c.Point().Z, test.ShouldAlmostEqual, 0)
	test.That(t, OrientationAlmostEqual(c.Orientation(), a.Orientation()), test.ShouldBeTrue)

	pt := TransformPoint(a, r3.Vector{X: 1})
	test.That(t, pt.X, test.ShouldAlmostEqual, 1)
	test.That(t, pt.Y, test.ShouldAlmostEqual, 1)

	between := PoseBetween(a, c)
	test.That(t, PoseAlmostEqual(between, b), test.ShouldBeTrue)
}

func TestPoseToMatrix(t *testing.T) {
	p := NewPose(r3.Vector{X: 1, Y: 2, Z: 3}, rotZ(math.Pi/2))
	m := PoseToMatrix(p)

	v := m.Mul4x1([4]float64{1, 0, 0, 1})
	expected := TransformPoint(p, r3.Vector{X: 1})
	test.That(t, v[0], test.ShouldAlmostEqual, expected.X)
	test.That(t, v[1], test.ShouldAlmostEqual, expected.Y)
	test.That(t, v[2], test.ShouldAlmostEqual, expected.Z)
	test.That(t, v[3], test.ShouldAlmostEqual, 1)
}

func TestDegenerateQuaternions(t *testing.T) {
	q := NewQuaternionFromXYZW([4]float64{0, 0, 0, 0})
	test.That(t, q.Quaternion(), test.ShouldResemble, quat.Number{Real: 1})

	q = NewQuaternionFromXYZW([4]float64{math.NaN(), 0, 0, 1})
	test.That(t, q.Quaternion(), test.ShouldResemble, quat.Number{Real: 1})

	q = NewQuaternionFromXYZW([4]float64{0, 0, 2, 0})
	test.That(t, q.Quaternion(), test.ShouldResemble, quat.Number{Kmag: 1})

	inv := InverseOrientationOrIdentity([4]float64{0, 0, 0.6, 0.8})
	test.That(t, inv.Quaternion().Kmag, test.ShouldAlmostEqual, -0.6)
	test.That(t, inv.Quaternion().Real, test.ShouldAlmostEqual, 0.8)

	test.That(t, InverseOrientationOrIdentity([4]float64{}).Quaternion(), test.ShouldResemble, quat.Number{Real: 1})
}

func TestQuaternionOrdering(t *testing.T) {
	q := quat.Number{Real: 0.1, Imag: 0.2, Jmag: 0.3, Kmag: 0.4}
	test.That(t, QuatToXYZW(q), test.ShouldResemble, [4]float64{0.2, 0.3, 0.4, 0.1})
	test.That(t, QuatToWXYZ(q), test.ShouldResemble, [4]float64{0.1, 0.2, 0.3, 0.4})
	test.That(t, QuaternionAlmostEqual(q, Flip(q), 1e-9), test.ShouldBeTrue)
}

func TestIsFinite(t *testing.T) {
	test.That(t, IsFinite(NewZeroPose()), test.ShouldBeTrue)
	test.That(t, IsFinite(NewPoseFromPoint(r3.Vector{X: math.Inf(1)})), test.ShouldBeFalse)
}
