// Package spatialmap holds persisted maps of cloud anchors and waypoints and the math that moves
// poses between a live tracking session's world frame and a map's local frame.
package spatialmap

import (
	"math"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/anchormap/spatialmath"
)

// Map is a named set of anchors and waypoints. Anchor cloud ids and waypoint ids are unique
// within a map.
type Map struct {
	ID        string         `json:"id" bson:"_id"`
	Name      string         `json:"name" bson:"name"`
	CreatorID string         `json:"creatorId" bson:"creatorId"`
	Anchors   []Anchor       `json:"anchors" bson:"anchors"`
	Waypoints []WaypointData `json:"waypoints" bson:"waypoints"`
	CreatedAt time.Time      `json:"createdAt" bson:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt" bson:"updatedAt"`
}

// Anchor is a hosted cloud anchor as stored in a map. Local coordinates and rotation are relative
// to the map origin; the world position is where the anchor was when it was hosted and is only
// informational.
type Anchor struct {
	CloudID string `json:"cloudAnchorId" bson:"cloudAnchorId"`
	Name    string `json:"name" bson:"name"`

	WorldX float64 `json:"tx" bson:"tx"`
	WorldY float64 `json:"ty" bson:"ty"`
	WorldZ float64 `json:"tz" bson:"tz"`

	LocalX float64 `json:"localX" bson:"localX"`
	LocalY float64 `json:"localY" bson:"localY"`
	LocalZ float64 `json:"localZ" bson:"localZ"`
	// LocalQuaternion is ordered x, y, z, w.
	LocalQuaternion [4]float64 `json:"localQuaternion" bson:"localQuaternion"`

	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
}

// LocalPoint returns the anchor's local translation.
func (a *Anchor) LocalPoint() r3.Vector {
	return r3.Vector{X: a.LocalX, Y: a.LocalY, Z: a.LocalZ}
}

// IsOrigin returns whether the anchor sits exactly at the local origin.
func (a *Anchor) IsOrigin() bool {
	return a.LocalX == 0 && a.LocalY == 0 && a.LocalZ == 0
}

// DistanceToOrigin is the Euclidean length of the local translation.
func (a *Anchor) DistanceToOrigin() float64 {
	return a.LocalPoint().Norm()
}

// WaypointData is the persisted form of a Waypoint. The pose is stored twice: relative to the
// reference anchor and as a translation from the map origin.
type WaypointData struct {
	ID                  string    `json:"id" bson:"id"`
	ReferenceAnchorID   string    `json:"referenceAnchorId" bson:"referenceAnchorId"`
	RelativeTranslation []float64 `json:"relativeTranslation" bson:"relativeTranslation"`
	// RelativeRotation is ordered x, y, z, w.
	RelativeRotation     []float64 `json:"relativeRotation" bson:"relativeRotation"`
	ConnectedWaypointIDs []string  `json:"connectedWaypointIds" bson:"connectedWaypointIds"`
	LocalTranslation     []float64 `json:"localTranslation,omitempty" bson:"localTranslation,omitempty"`
	CreatedAt            time.Time `json:"createdAt" bson:"createdAt"`
}

// HasLocalTranslation reports whether the origin relative translation is usable.
func (w *WaypointData) HasLocalTranslation() bool {
	if len(w.LocalTranslation) != 3 {
		return false
	}
	for _, v := range w.LocalTranslation {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// RelativePose rebuilds the anchor relative pose. Missing rotation means identity.
func (w *WaypointData) RelativePose() (spatialmath.Pose, error) {
	if len(w.RelativeTranslation) != 3 {
		return nil, errors.Errorf("waypoint %q has %d relative translation values", w.ID, len(w.RelativeTranslation))
	}
	var xyzw [4]float64
	switch len(w.RelativeRotation) {
	case 0:
		xyzw = [4]float64{0, 0, 0, 1}
	case 4:
		copy(xyzw[:], w.RelativeRotation)
	default:
		return nil, errors.Errorf("waypoint %q has %d relative rotation values", w.ID, len(w.RelativeRotation))
	}
	return spatialmath.NewPoseFromXYZW(
		[3]float64{w.RelativeTranslation[0], w.RelativeTranslation[1], w.RelativeTranslation[2]},
		xyzw,
	), nil
}

// Validate checks that anchor and waypoint ids are unique and present.
func (m *Map) Validate() error {
	if m.ID == "" {
		return errors.New("map id is required")
	}
	anchors := make(map[string]struct{}, len(m.Anchors))
	for i, a := range m.Anchors {
		if a.CloudID == "" {
			return errors.Errorf("map %q anchor %d has no cloud id", m.ID, i)
		}
		if _, ok := anchors[a.CloudID]; ok {
			return errors.Errorf("map %q has duplicate anchor %q", m.ID, a.CloudID)
		}
		anchors[a.CloudID] = struct{}{}
	}
	waypoints := make(map[string]struct{}, len(m.Waypoints))
	for i, w := range m.Waypoints {
		if w.ID == "" {
			return errors.Errorf("map %q waypoint %d has no id", m.ID, i)
		}
		if _, ok := waypoints[w.ID]; ok {
			return errors.Errorf("map %q has duplicate waypoint %q", m.ID, w.ID)
		}
		waypoints[w.ID] = struct{}{}
	}
	return nil
}

// Anchor returns the anchor with the given cloud id.
func (m *Map) Anchor(cloudID string) (*Anchor, bool) {
	for i := range m.Anchors {
		if m.Anchors[i].CloudID == cloudID {
			return &m.Anchors[i], true
		}
	}
	return nil, false
}

// OriginAnchor returns the first anchor whose local coordinates are exactly zero.
func (m *Map) OriginAnchor() (*Anchor, bool) {
	for i := range m.Anchors {
		if m.Anchors[i].IsOrigin() {
			return &m.Anchors[i], true
		}
	}
	return nil, false
}
