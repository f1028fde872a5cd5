package spatialmap

import (
	"time"

	"github.com/golang/geo/r3"

	"go.viam.com/anchormap/logging"
	"go.viam.com/anchormap/spatialmath"
)

// ResolvedPose is the live world pose of a resolved cloud anchor.
type ResolvedPose struct {
	CloudID string
	Pose    spatialmath.Pose
}

func findResolved(resolved []ResolvedPose, cloudID string) (spatialmath.Pose, bool) {
	for _, r := range resolved {
		if r.CloudID == cloudID {
			return r.Pose, true
		}
	}
	return nil, false
}

// DeriveOriginPose returns the world pose of m's local origin in the current tracking session.
//
// If the anchor stored at exactly (0,0,0) is resolved, its pose is the origin. Otherwise the
// resolved anchor closest to the local origin is used and its stored local transform is undone.
// If none of m's anchors are resolved, the first resolved pose is returned as an approximation.
// Returns nil when nothing is resolved.
func DeriveOriginPose(m *Map, resolved []ResolvedPose, logger logging.Logger) spatialmath.Pose {
	if len(resolved) == 0 {
		return nil
	}
	if m != nil {
		if origin, ok := m.OriginAnchor(); ok {
			if pose, ok := findResolved(resolved, origin.CloudID); ok {
				return pose
			}
		}

		var closest *Anchor
		var closestPose spatialmath.Pose
		minDistance := 0.0
		for i := range m.Anchors {
			a := &m.Anchors[i]
			if a.IsOrigin() {
				continue
			}
			distance := a.DistanceToOrigin()
			if closest != nil && distance >= minDistance {
				continue
			}
			if pose, ok := findResolved(resolved, a.CloudID); ok {
				closest, closestPose, minDistance = a, pose, distance
			}
		}
		if closest != nil {
			// anchor world pose W = origin ∘ L, so origin = W ∘ L⁻¹
			logger.Debugw("deriving origin from closest resolved anchor",
				"anchor", closest.CloudID, "distance", minDistance)
			return spatialmath.Compose(closestPose, LocalInverse(closest.LocalPoint(), closest.LocalQuaternion))
		}
	}

	logger.Warnw("no map anchor resolved, using first resolved anchor as origin approximation",
		"anchor", resolved[0].CloudID)
	return resolved[0].Pose
}

// LocalInverse returns the inverse of the local transform (t, q): rotation conjugated, renormalized
// and defaulted to identity when malformed, translation rotated back and negated.
func LocalInverse(t r3.Vector, xyzw [4]float64) spatialmath.Pose {
	inv := spatialmath.InverseOrientationOrIdentity(xyzw)
	rotated := spatialmath.TransformPoint(spatialmath.NewPose(r3.Vector{}, inv), t)
	return spatialmath.NewPose(rotated.Mul(-1), inv)
}

// WorldToLocal expresses a world pose's translation in the frame of origin.
func WorldToLocal(pose, origin spatialmath.Pose) r3.Vector {
	return spatialmath.Compose(spatialmath.PoseInverse(origin), pose).Point()
}

// WorldToLocalPose expresses a world pose in the frame of origin.
func WorldToLocalPose(pose, origin spatialmath.Pose) spatialmath.Pose {
	return spatialmath.Compose(spatialmath.PoseInverse(origin), pose)
}

// LocalToWorld places a local translation, with no rotation, in the world.
func LocalToWorld(local r3.Vector, origin spatialmath.Pose) spatialmath.Pose {
	return spatialmath.Compose(origin, spatialmath.NewPoseFromPoint(local))
}

// NewAnchor builds the stored form of a hosted anchor at world pose. With no origin the anchor
// becomes the origin itself.
func NewAnchor(cloudID, name string, world, origin spatialmath.Pose, now time.Time) Anchor {
	pt := world.Point()
	a := Anchor{
		CloudID:         cloudID,
		Name:            name,
		WorldX:          pt.X,
		WorldY:          pt.Y,
		WorldZ:          pt.Z,
		LocalQuaternion: [4]float64{0, 0, 0, 1},
		CreatedAt:       now,
	}
	if origin == nil {
		return a
	}
	local := WorldToLocalPose(world, origin)
	a.LocalX, a.LocalY, a.LocalZ = local.Point().X, local.Point().Y, local.Point().Z
	a.LocalQuaternion = spatialmath.QuatToXYZW(local.Orientation().Quaternion())
	return a
}
