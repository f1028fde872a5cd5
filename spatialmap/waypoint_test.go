package spatialmap

import (
	"sync"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/anchormap/spatialmath"
	"go.viam.com/anchormap/tracking/fake"
)

func pointPose(x, y, z float64) spatialmath.Pose {
	return spatialmath.NewPoseFromPoint(r3.Vector{X: x, Y: y, Z: z})
}

func TestNewWaypointRelativePose(t *testing.T) {
	anchor := spatialmath.NewPose(r3.Vector{X: 1}, yaw(1.0))
	world := spatialmath.NewPose(r3.Vector{X: 2, Y: 3}, yaw(0.5))
	w := NewWaypoint(world, "a", anchor)
	test.That(t, w.ID, test.ShouldNotBeEmpty)
	test.That(t, spatialmath.PoseAlmostEqual(spatialmath.Compose(anchor, w.RelativeToAnchorPose), world), test.ShouldBeTrue)

	w = NewWaypoint(world, "", nil)
	test.That(t, w.RelativeToAnchorPose, test.ShouldEqual, world)
}

func TestConnectIsIdempotent(t *testing.T) {
	g := NewWaypointGraph()
	a := g.AddWaypoint(pointPose(0, 0, 0), "", nil)
	b := g.AddWaypoint(pointPose(1, 0, 0), "", nil)

	added, err := g.Connect(a.ID, b.ID)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, added, test.ShouldBeTrue)

	added, err = g.Connect(b.ID, a.ID)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, added, test.ShouldBeFalse)
	test.That(t, g.ConnectionCount(), test.ShouldEqual, 1)

	wa, ok := g.Waypoint(a.ID)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, wa.ConnectedIDs(), test.ShouldResemble, []string{b.ID})

	_, err = g.Connect(a.ID, a.ID)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = g.Connect(a.ID, "missing")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, ErrWaypointNotFound.Error())
}

func TestConnectionCountAndRemove(t *testing.T) {
	g := NewWaypointGraph()
	var ids []string
	for i := 0; i < 4; i++ {
		ids = append(ids, g.AddWaypoint(pointPose(float64(i), 0, 0), "", nil).ID)
	}
	for _, pair := range [][2]int{{0, 1}, {1, 2}, {2, 3}, {3, 0}, {0, 2}} {
		_, err := g.Connect(ids[pair[0]], ids[pair[1]])
		test.That(t, err, test.ShouldBeNil)
	}
	test.That(t, g.ConnectionCount(), test.ShouldEqual, 5)

	test.That(t, g.Disconnect(ids[0], ids[2]), test.ShouldBeTrue)
	test.That(t, g.Disconnect(ids[0], ids[2]), test.ShouldBeFalse)
	test.That(t, g.ConnectionCount(), test.ShouldEqual, 4)

	test.That(t, g.Remove(ids[1]), test.ShouldBeTrue)
	test.That(t, g.Remove(ids[1]), test.ShouldBeFalse)
	test.That(t, g.Len(), test.ShouldEqual, 3)
	test.That(t, g.ConnectionCount(), test.ShouldEqual, 2)
	w0, _ := g.Waypoint(ids[0])
	test.That(t, w0.IsConnected(ids[1]), test.ShouldBeFalse)
}

func TestFindClosest(t *testing.T) {
	g := NewWaypointGraph()
	first := g.AddWaypoint(pointPose(1, 0, 0), "", nil)
	g.AddWaypoint(pointPose(-1, 0, 0), "", nil)
	far := g.AddWaypoint(pointPose(5, 0, 0), "", nil)

	w, ok := g.FindClosest(pointPose(0, 0, 0), 2)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, w.ID, test.ShouldEqual, first.ID)

	// strictly closer than the limit
	_, ok = g.FindClosest(pointPose(0, 0, 0), 1)
	test.That(t, ok, test.ShouldBeFalse)

	w, ok = g.FindClosest(pointPose(4.5, 0, 0), 10)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, w.ID, test.ShouldEqual, far.ID)
}

func TestFindClosestUsesPinnedAnchor(t *testing.T) {
	g := NewWaypointGraph()
	anchor := fake.NewAnchor(pointPose(0, 0, 0))
	w := NewWaypoint(pointPose(0, 0, 0), "", nil)
	w.Anchor = anchor
	test.That(t, g.Add(w), test.ShouldBeNil)
	test.That(t, g.Add(w), test.ShouldNotBeNil)

	anchor.SetPose(pointPose(10, 0, 0))
	_, ok := g.FindClosest(pointPose(0, 0, 0), 1)
	test.That(t, ok, test.ShouldBeFalse)
	_, ok = g.FindClosest(pointPose(10, 0, 0), 1)
	test.That(t, ok, test.ShouldBeTrue)

	g.Clear()
	test.That(t, anchor.Detached(), test.ShouldBeTrue)
	test.That(t, g.Len(), test.ShouldEqual, 0)
}

func TestWaypointCopies(t *testing.T) {
	g := NewWaypointGraph()
	a := g.AddWaypoint(pointPose(0, 0, 0), "", nil)
	b := g.AddWaypoint(pointPose(1, 0, 0), "", nil)
	snapshot := g.Waypoints()
	_, err := g.Connect(a.ID, b.ID)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, snapshot[0].ConnectedIDs(), test.ShouldBeEmpty)
	test.That(t, snapshot[0].ID, test.ShouldEqual, a.ID)
}

func TestGraphConcurrentAccess(t *testing.T) {
	g := NewWaypointGraph()
	root := g.AddWaypoint(pointPose(0, 0, 0), "", nil)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			w := g.AddWaypoint(pointPose(float64(i), 1, 0), "", nil)
			_, err := g.Connect(root.ID, w.ID)
			test.That(t, err, test.ShouldBeNil)
			g.FindClosest(pointPose(0, 0, 0), 100)
			g.ConnectionCount()
		}(i)
	}
	wg.Wait()
	test.That(t, g.ConnectionCount(), test.ShouldEqual, 8)
}
