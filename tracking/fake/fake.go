// Package fake implements in-memory tracking collaborators for tests and offline tools.
package fake

import (
	"image"
	"sync"

	"go.viam.com/anchormap/rimage"
	"go.viam.com/anchormap/rimage/transform"
	"go.viam.com/anchormap/spatialmath"
	"go.viam.com/anchormap/tracking"
)

// Frame is a tracking.Frame whose images are fixed fields. A nil image reports
// tracking.ErrNotYetAvailable, except Confidence and Color which are optional.
type Frame struct {
	Pose        spatialmath.Pose
	Camera      *transform.PinholeCameraIntrinsics
	Depth       *rimage.DepthMap
	Confidence  *image.Gray
	Color       *image.YCbCr
	DepthErr    error
	ColorErr    error
	PanicOnPose bool
}

// CameraPose returns the fixed pose.
func (f *Frame) CameraPose() spatialmath.Pose {
	if f.PanicOnPose {
		panic("fake frame pose")
	}
	if f.Pose == nil {
		return spatialmath.NewZeroPose()
	}
	return f.Pose
}

// Intrinsics returns the fixed intrinsics.
func (f *Frame) Intrinsics() (*transform.PinholeCameraIntrinsics, error) {
	if f.Camera == nil {
		return nil, transform.NewNoIntrinsicsError("fake frame has no intrinsics")
	}
	return f.Camera, nil
}

// AcquireDepthImage returns the fixed depth map.
func (f *Frame) AcquireDepthImage() (*rimage.DepthMap, error) {
	if f.DepthErr != nil {
		return nil, f.DepthErr
	}
	if f.Depth == nil {
		return nil, tracking.ErrNotYetAvailable
	}
	return f.Depth, nil
}

// AcquireConfidenceImage returns the fixed confidence image, which may be nil.
func (f *Frame) AcquireConfidenceImage() (*image.Gray, error) {
	return f.Confidence, nil
}

// AcquireColorImage returns the fixed color image, which may be nil.
func (f *Frame) AcquireColorImage() (*image.YCbCr, error) {
	if f.ColorErr != nil {
		return nil, f.ColorErr
	}
	if f.Color == nil {
		return nil, tracking.ErrNotYetAvailable
	}
	return f.Color, nil
}

// Anchor is a tracking.Anchor at a fixed pose.
type Anchor struct {
	mu       sync.Mutex
	pose     spatialmath.Pose
	detached bool
}

// NewAnchor returns an anchor at pose.
func NewAnchor(pose spatialmath.Pose) *Anchor {
	return &Anchor{pose: pose}
}

// Pose returns the anchor pose.
func (a *Anchor) Pose() spatialmath.Pose {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pose
}

// SetPose moves the anchor, as a tracking session does when it refines its map.
func (a *Anchor) SetPose(pose spatialmath.Pose) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pose = pose
}

// Detach marks the anchor released.
func (a *Anchor) Detach() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.detached = true
}

// Detached returns whether Detach was called.
func (a *Anchor) Detached() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.detached
}

// Session creates fake anchors and remembers them.
type Session struct {
	mu      sync.Mutex
	Anchors []*Anchor
}

// CreateAnchor returns a new anchor at pose.
func (s *Session) CreateAnchor(pose spatialmath.Pose) (tracking.Anchor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := NewAnchor(pose)
	s.Anchors = append(s.Anchors, a)
	return a, nil
}
