// Package tracking declares what the anchoring and mapping code needs from an AR tracking
// session. Implementations live with the platform integration; tests use the fake package.
package tracking

import (
	"image"

	"github.com/pkg/errors"

	"go.viam.com/anchormap/rimage"
	"go.viam.com/anchormap/rimage/transform"
	"go.viam.com/anchormap/spatialmath"
)

// ErrNotYetAvailable is returned when a sensor image is not ready for the current frame.
var ErrNotYetAvailable = errors.New("image not yet available")

// Frame is one update of the tracking session.
type Frame interface {
	CameraPose() spatialmath.Pose
	// Intrinsics are expressed at the color image resolution.
	Intrinsics() (*transform.PinholeCameraIntrinsics, error)
	AcquireDepthImage() (*rimage.DepthMap, error)
	AcquireConfidenceImage() (*image.Gray, error)
	AcquireColorImage() (*image.YCbCr, error)
}

// Anchor is a tracked world space reference point.
type Anchor interface {
	// Pose is only meaningful while the session that created it is alive.
	Pose() spatialmath.Pose
	// Detach stops tracking the anchor and releases it.
	Detach()
}

// Session creates anchors at world poses.
type Session interface {
	CreateAnchor(pose spatialmath.Pose) (Anchor, error)
}
