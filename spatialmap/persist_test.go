package spatialmap

import (
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/anchormap/logging"
	"go.viam.com/anchormap/spatialmath"
	"go.viam.com/anchormap/tracking/fake"
)

func TestSaveLoadWaypoints(t *testing.T) {
	logger := logging.NewTestLogger(t)
	origin := spatialmath.NewPose(r3.Vector{X: 1, Y: 1}, yaw(0.4))
	anchorPose := spatialmath.NewPose(r3.Vector{X: 2}, yaw(-0.2))

	g := NewWaypointGraph()
	a := g.AddWaypoint(pointPose(3, 0, 0), "anchor", anchorPose)
	b := g.AddWaypoint(pointPose(3, 2, 0), "anchor", anchorPose)
	c := g.AddWaypoint(pointPose(0, 2, 1), "anchor", anchorPose)
	_, err := g.Connect(a.ID, b.ID)
	test.That(t, err, test.ShouldBeNil)
	_, err = g.Connect(b.ID, c.ID)
	test.That(t, err, test.ShouldBeNil)

	data := SaveWaypoints(g, origin)
	test.That(t, len(data), test.ShouldEqual, 3)
	test.That(t, len(data[0].LocalTranslation), test.ShouldEqual, 3)
	test.That(t, data[1].ConnectedWaypointIDs, test.ShouldHaveLength, 2)

	// a new session: different origin and anchor poses, same relationship between them
	shift := spatialmath.NewPose(r3.Vector{Z: 10}, yaw(1))
	newOrigin := spatialmath.Compose(shift, origin)
	newAnchor := spatialmath.Compose(shift, anchorPose)

	session := &fake.Session{}
	loaded := NewWaypointGraph()
	n, err := LoadWaypoints(loaded, data, newOrigin, []ResolvedPose{{CloudID: "anchor", Pose: newAnchor}}, session, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, n, test.ShouldEqual, 3)
	test.That(t, loaded.ConnectionCount(), test.ShouldEqual, 2)
	test.That(t, len(session.Anchors), test.ShouldEqual, 3)

	w, ok := loaded.Waypoint(a.ID)
	test.That(t, ok, test.ShouldBeTrue)
	expected := spatialmath.Compose(shift, pointPose(3, 0, 0))
	test.That(t, spatialmath.PoseAlmostCoincidentEps(w.WorldPose, expected, 1e-9), test.ShouldBeTrue)
	test.That(t, w.Anchor, test.ShouldNotBeNil)
}

func TestLoadWaypointsFallsBackToAnchor(t *testing.T) {
	logger := logging.NewTestLogger(t)
	anchorPose := spatialmath.NewPose(r3.Vector{X: 1}, yaw(0.5))
	relative := spatialmath.NewPose(r3.Vector{Y: 2}, yaw(0.25))
	xyzw := spatialmath.QuatToXYZW(relative.Orientation().Quaternion())
	data := []WaypointData{
		{
			ID:                   "w1",
			ReferenceAnchorID:    "a",
			RelativeTranslation:  []float64{0, 2, 0},
			RelativeRotation:     xyzw[:],
			ConnectedWaypointIDs: []string{"w2", "ghost"},
		},
		{
			ID:                   "w2",
			ReferenceAnchorID:    "a",
			RelativeTranslation:  []float64{0, 0, 0},
			LocalTranslation:     []float64{1, 2},
			ConnectedWaypointIDs: []string{"w1"},
		},
		{ID: "orphan", ReferenceAnchorID: "unresolved", RelativeTranslation: []float64{0, 0, 0}},
	}
	g := NewWaypointGraph()
	n, err := LoadWaypoints(g, data, nil, []ResolvedPose{{CloudID: "a", Pose: anchorPose}}, nil, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, n, test.ShouldEqual, 2)
	test.That(t, g.ConnectionCount(), test.ShouldEqual, 1)

	w1, ok := g.Waypoint("w1")
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, spatialmath.PoseAlmostEqual(w1.WorldPose, spatialmath.Compose(anchorPose, relative)), test.ShouldBeTrue)
	test.That(t, w1.ConnectedIDs(), test.ShouldResemble, []string{"w2"})

	_, ok = g.Waypoint("orphan")
	test.That(t, ok, test.ShouldBeFalse)
}

func TestLoadWaypointsBadRelativePose(t *testing.T) {
	logger := logging.NewTestLogger(t)
	data := []WaypointData{{ID: "bad", ReferenceAnchorID: "a", RelativeTranslation: []float64{1}}}
	g := NewWaypointGraph()
	n, err := LoadWaypoints(g, data, nil, []ResolvedPose{{CloudID: "a", Pose: spatialmath.NewZeroPose()}}, nil, logger)
	test.That(t, n, test.ShouldEqual, 0)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "relative translation")
}
