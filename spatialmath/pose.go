// Package spatialmath defines rigid transforms and the math used to chain them.
package spatialmath

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/dualquat"
	"gonum.org/v1/gonum/num/quat"
)

const defaultPrecision = 1e-8

// Pose represents a 6dof pose: a position and an orientation.
type Pose interface {
	Point() r3.Vector
	Orientation() Orientation
}

// dualQuaternion stores a pose as a unit dual quaternion. The dual part is half the translation
// multiplied by the rotation.
type dualQuaternion struct {
	dualquat.Number
}

// NewZeroPose returns a pose at (0,0,0) with no rotation.
func NewZeroPose() Pose {
	return &dualQuaternion{dualquat.Number{Real: quat.Number{Real: 1}}}
}

// NewPoseFromPoint returns a pose at pt with no rotation.
func NewPoseFromPoint(pt r3.Vector) Pose {
	return NewPose(pt, NewZeroOrientation())
}

// NewPose builds a pose from a position and an orientation. The orientation is normalized.
func NewPose(pt r3.Vector, o Orientation) Pose {
	if o == nil {
		o = NewZeroOrientation()
	}
	rot := Normalize(o.Quaternion())
	dual := quat.Mul(quat.Number{Imag: pt.X / 2, Jmag: pt.Y / 2, Kmag: pt.Z / 2}, rot)
	return &dualQuaternion{dualquat.Number{Real: rot, Dual: dual}}
}

// NewPoseFromXYZW builds a pose from a translation and an x, y, z, w ordered quaternion.
func NewPoseFromXYZW(translation [3]float64, xyzw [4]float64) Pose {
	return NewPose(r3.Vector{X: translation[0], Y: translation[1], Z: translation[2]}, NewQuaternionFromXYZW(xyzw))
}

// Point returns the translation of the pose.
func (q *dualQuaternion) Point() r3.Vector {
	t := quat.Mul(quat.Scale(2, q.Dual), quat.Conj(q.Real))
	return r3.Vector{X: t.Imag, Y: t.Jmag, Z: t.Kmag}
}

// Orientation returns the rotation of the pose.
func (q *dualQuaternion) Orientation() Orientation {
	rot := q.Real
	return (*Quaternion)(&rot)
}

func toDualQuaternion(p Pose) *dualQuaternion {
	if dq, ok := p.(*dualQuaternion); ok {
		return dq
	}
	return NewPose(p.Point(), p.Orientation()).(*dualQuaternion)
}

// Compose returns the pose that applies b in the frame of a, i.e. a ∘ b.
func Compose(a, b Pose) Pose {
	res := dualquat.Mul(toDualQuaternion(a).Number, toDualQuaternion(b).Number)
	res.Real = Normalize(res.Real)
	return &dualQuaternion{res}
}

// PoseInverse returns the pose that undoes p.
func PoseInverse(p Pose) Pose {
	return &dualQuaternion{dualquat.ConjQuat(toDualQuaternion(p).Number)}
}

// PoseBetween returns the pose that takes a to b: a⁻¹ ∘ b.
func PoseBetween(a, b Pose) Pose {
	return Compose(PoseInverse(a), b)
}

// TransformPoint applies p to pt.
func TransformPoint(p Pose, pt r3.Vector) r3.Vector {
	q := p.Orientation().Quaternion()
	rotated := quat.Mul(quat.Mul(q, quat.Number{Imag: pt.X, Jmag: pt.Y, Kmag: pt.Z}), quat.Conj(q))
	return p.Point().Add(r3.Vector{X: rotated.Imag, Y: rotated.Jmag, Z: rotated.Kmag})
}

// PoseToMatrix returns the column-major 4x4 homogeneous matrix of p.
func PoseToMatrix(p Pose) mgl64.Mat4 {
	q := p.Orientation().Quaternion()
	rot := mgl64.Quat{W: q.Real, V: mgl64.Vec3{q.Imag, q.Jmag, q.Kmag}}.Normalize().Mat4()
	pt := p.Point()
	return mgl64.Translate3D(pt.X, pt.Y, pt.Z).Mul4(rot)
}

// PoseAlmostCoincident returns whether the positions of a and b are within epsilon of each other.
func PoseAlmostCoincident(a, b Pose) bool {
	return PoseAlmostCoincidentEps(a, b, defaultPrecision)
}

// PoseAlmostCoincidentEps is PoseAlmostCoincident with a caller supplied tolerance.
func PoseAlmostCoincidentEps(a, b Pose, epsilon float64) bool {
	return a.Point().Sub(b.Point()).Norm() < epsilon
}

// PoseAlmostEqual returns whether a and b have approximately the same position and orientation.
func PoseAlmostEqual(a, b Pose) bool {
	return PoseAlmostEqualEps(a, b, defaultPrecision)
}

// PoseAlmostEqualEps is PoseAlmostEqual with a caller supplied tolerance.
func PoseAlmostEqualEps(a, b Pose, epsilon float64) bool {
	return PoseAlmostCoincidentEps(a, b, epsilon) &&
		QuaternionAlmostEqual(a.Orientation().Quaternion(), b.Orientation().Quaternion(), epsilon)
}

// IsFinite returns false if any component of the pose is NaN or infinite.
func IsFinite(p Pose) bool {
	pt := p.Point()
	q := p.Orientation().Quaternion()
	for _, v := range []float64{pt.X, pt.Y, pt.Z, q.Real, q.Imag, q.Jmag, q.Kmag} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
