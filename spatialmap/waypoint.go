package spatialmap

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.viam.com/utils"

	"go.viam.com/anchormap/spatialmath"
	"go.viam.com/anchormap/tracking"
)

// ErrWaypointNotFound is returned when a waypoint id is not in the graph.
var ErrWaypointNotFound = errors.New("waypoint not found")

// Waypoint is a navigation point stored relative to a reference anchor. Connections are by id.
type Waypoint struct {
	ID                   string
	WorldPose            spatialmath.Pose
	ReferenceAnchorID    string
	RelativeToAnchorPose spatialmath.Pose
	CreatedAt            time.Time
	// Anchor optionally pins the waypoint in the live tracking session.
	Anchor tracking.Anchor

	connected map[string]struct{}
}

// NewWaypoint creates a waypoint with a fresh id at world. The anchor relative pose is
// anchorPose⁻¹ ∘ world, or world itself when there is no reference anchor.
func NewWaypoint(world spatialmath.Pose, referenceAnchorID string, anchorPose spatialmath.Pose) *Waypoint {
	return newWaypoint(uuid.NewString(), world, referenceAnchorID, anchorPose)
}

func newWaypoint(id string, world spatialmath.Pose, referenceAnchorID string, anchorPose spatialmath.Pose) *Waypoint {
	relative := world
	if anchorPose != nil {
		relative = spatialmath.PoseBetween(anchorPose, world)
	}
	return &Waypoint{
		ID:                   id,
		WorldPose:            world,
		ReferenceAnchorID:    referenceAnchorID,
		RelativeToAnchorPose: relative,
		CreatedAt:            time.Now(),
		connected:            map[string]struct{}{},
	}
}

// CurrentPose is the pinned anchor's pose when there is one, else the creation world pose.
func (w *Waypoint) CurrentPose() spatialmath.Pose {
	if w.Anchor != nil {
		return w.Anchor.Pose()
	}
	return w.WorldPose
}

// ConnectedIDs returns the ids this waypoint is connected to, sorted.
func (w *Waypoint) ConnectedIDs() []string {
	ids := lo.Keys(w.connected)
	sort.Strings(ids)
	return ids
}

// IsConnected returns whether w has an edge to id.
func (w *Waypoint) IsConnected(id string) bool {
	_, ok := w.connected[id]
	return ok
}

func (w *Waypoint) clone() Waypoint {
	cp := *w
	cp.connected = make(map[string]struct{}, len(w.connected))
	for id := range w.connected {
		cp.connected[id] = struct{}{}
	}
	return cp
}

// WaypointGraph is an undirected graph of waypoints indexed by id. Iteration follows insertion
// order. All methods are safe for concurrent use and return copies.
type WaypointGraph struct {
	mu        sync.Mutex
	waypoints map[string]*Waypoint
	order     []string
}

// NewWaypointGraph returns an empty graph.
func NewWaypointGraph() *WaypointGraph {
	return &WaypointGraph{waypoints: map[string]*Waypoint{}}
}

// Add inserts w. Its existing connections are kept only for waypoints already in the graph, and
// are mirrored on them.
func (g *WaypointGraph) Add(w *Waypoint) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.waypoints[w.ID]; ok {
		return errors.Errorf("waypoint %q already exists", w.ID)
	}
	if w.connected == nil {
		w.connected = map[string]struct{}{}
	}
	for id := range w.connected {
		other, ok := g.waypoints[id]
		if !ok {
			delete(w.connected, id)
			continue
		}
		other.connected[w.ID] = struct{}{}
	}
	g.waypoints[w.ID] = w
	g.order = append(g.order, w.ID)
	return nil
}

// AddWaypoint creates and inserts a waypoint, returning a copy of it.
func (g *WaypointGraph) AddWaypoint(world spatialmath.Pose, referenceAnchorID string, anchorPose spatialmath.Pose) Waypoint {
	w := NewWaypoint(world, referenceAnchorID, anchorPose)
	// fresh uuid, cannot collide
	utils.UncheckedError(g.Add(w))
	return w.clone()
}

// Waypoint returns a copy of the waypoint with the given id.
func (g *WaypointGraph) Waypoint(id string) (Waypoint, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	w, ok := g.waypoints[id]
	if !ok {
		return Waypoint{}, false
	}
	return w.clone(), true
}

// Waypoints returns copies of every waypoint in insertion order.
func (g *WaypointGraph) Waypoints() []Waypoint {
	g.mu.Lock()
	defer g.mu.Unlock()
	return lo.Map(g.order, func(id string, _ int) Waypoint {
		return g.waypoints[id].clone()
	})
}

// Len returns the number of waypoints.
func (g *WaypointGraph) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.order)
}

// Remove deletes a waypoint and every edge touching it, detaching its anchor.
func (g *WaypointGraph) Remove(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	w, ok := g.waypoints[id]
	if !ok {
		return false
	}
	for other := range w.connected {
		delete(g.waypoints[other].connected, id)
	}
	if w.Anchor != nil {
		w.Anchor.Detach()
	}
	delete(g.waypoints, id)
	g.order = lo.Without(g.order, id)
	return true
}

// Connect adds an undirected edge between a and b. It returns whether a new edge was added.
func (g *WaypointGraph) Connect(a, b string) (bool, error) {
	if a == b {
		return false, errors.Errorf("cannot connect waypoint %q to itself", a)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	wa, ok := g.waypoints[a]
	if !ok {
		return false, errors.Wrap(ErrWaypointNotFound, a)
	}
	wb, ok := g.waypoints[b]
	if !ok {
		return false, errors.Wrap(ErrWaypointNotFound, b)
	}
	_, hadA := wa.connected[b]
	_, hadB := wb.connected[a]
	wa.connected[b] = struct{}{}
	wb.connected[a] = struct{}{}
	return !hadA || !hadB, nil
}

// Disconnect removes the edge between a and b, returning whether one existed.
func (g *WaypointGraph) Disconnect(a, b string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	wa, okA := g.waypoints[a]
	wb, okB := g.waypoints[b]
	if !okA || !okB {
		return false
	}
	_, had := wa.connected[b]
	delete(wa.connected, b)
	delete(wb.connected, a)
	return had
}

// FindClosest returns the waypoint whose current position is nearest to pose and strictly closer
// than maxDistance. Ties go to the earliest inserted waypoint.
func (g *WaypointGraph) FindClosest(pose spatialmath.Pose, maxDistance float64) (Waypoint, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var closest *Waypoint
	best := maxDistance
	for _, id := range g.order {
		w := g.waypoints[id]
		if d := w.CurrentPose().Point().Distance(pose.Point()); d < best {
			closest, best = w, d
		}
	}
	if closest == nil {
		return Waypoint{}, false
	}
	return closest.clone(), true
}

// ConnectionCount returns the number of undirected edges, each counted once.
func (g *WaypointGraph) ConnectionCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	edges := map[[2]string]struct{}{}
	for id, w := range g.waypoints {
		for other := range w.connected {
			key := [2]string{id, other}
			if other < id {
				key = [2]string{other, id}
			}
			edges[key] = struct{}{}
		}
	}
	return len(edges)
}

// Clear removes every waypoint and detaches their anchors.
func (g *WaypointGraph) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, w := range g.waypoints {
		if w.Anchor != nil {
			w.Anchor.Detach()
		}
	}
	g.waypoints = map[string]*Waypoint{}
	g.order = nil
}
