package spatialmap

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/multierr"

	"go.viam.com/anchormap/logging"
	"go.viam.com/anchormap/spatialmath"
	"go.viam.com/anchormap/tracking"
)

// LoadWaypoints replaces the contents of graph with data. A waypoint's world pose comes from its
// local translation and origin when both are available, otherwise from its resolved reference
// anchor and anchor relative pose; waypoints with neither are skipped. Connections are only made
// between waypoints that were loaded. When session is non-nil each waypoint is pinned with a new
// anchor. Returns the number of waypoints loaded.
func LoadWaypoints(
	graph *WaypointGraph,
	data []WaypointData,
	origin spatialmath.Pose,
	resolved []ResolvedPose,
	session tracking.Session,
	logger logging.Logger,
) (int, error) {
	graph.Clear()
	anchorPoses := lo.SliceToMap(resolved, func(r ResolvedPose) (string, spatialmath.Pose) {
		return r.CloudID, r.Pose
	})

	var errs error
	created := make(map[string]struct{}, len(data))
	for _, wd := range data {
		anchorPose := anchorPoses[wd.ReferenceAnchorID]

		var world spatialmath.Pose
		switch {
		case origin != nil && wd.HasLocalTranslation():
			world = LocalToWorld(r3FromSlice(wd.LocalTranslation), origin)
		case anchorPose != nil:
			relative, err := wd.RelativePose()
			if err != nil {
				errs = multierr.Append(errs, err)
				continue
			}
			world = spatialmath.Compose(anchorPose, relative)
		default:
			logger.Warnw("skipping waypoint with no local coordinates and no resolved anchor",
				"waypoint", wd.ID, "anchor", wd.ReferenceAnchorID)
			continue
		}

		w := newWaypoint(wd.ID, world, wd.ReferenceAnchorID, anchorPose)
		if !wd.CreatedAt.IsZero() {
			w.CreatedAt = wd.CreatedAt
		}
		if session != nil {
			anchor, err := session.CreateAnchor(world)
			if err != nil {
				logger.Warnw("cannot pin waypoint", "waypoint", wd.ID, "error", err)
			} else {
				w.Anchor = anchor
			}
		}
		if err := graph.Add(w); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		created[wd.ID] = struct{}{}
	}

	for _, wd := range data {
		if _, ok := created[wd.ID]; !ok {
			continue
		}
		for _, other := range wd.ConnectedWaypointIDs {
			if _, ok := created[other]; !ok || other == wd.ID {
				continue
			}
			if _, err := graph.Connect(wd.ID, other); err != nil {
				errs = multierr.Append(errs, err)
			}
		}
	}

	logger.Infow("loaded waypoints", "waypoints", graph.Len(), "connections", graph.ConnectionCount())
	return len(created), errors.Wrap(errs, "loading waypoints")
}

// SaveWaypoints converts graph to its persisted form. Local translations are only written when
// origin is known.
func SaveWaypoints(graph *WaypointGraph, origin spatialmath.Pose) []WaypointData {
	return lo.Map(graph.Waypoints(), func(w Waypoint, _ int) WaypointData {
		relative := w.RelativeToAnchorPose
		if relative == nil {
			relative = w.CurrentPose()
		}
		t := relative.Point()
		xyzw := spatialmath.QuatToXYZW(relative.Orientation().Quaternion())
		wd := WaypointData{
			ID:                   w.ID,
			ReferenceAnchorID:    w.ReferenceAnchorID,
			RelativeTranslation:  []float64{t.X, t.Y, t.Z},
			RelativeRotation:     xyzw[:],
			ConnectedWaypointIDs: w.ConnectedIDs(),
			CreatedAt:            w.CreatedAt,
		}
		if origin != nil {
			local := WorldToLocal(w.CurrentPose(), origin)
			wd.LocalTranslation = []float64{local.X, local.Y, local.Z}
		}
		return wd
	})
}

func r3FromSlice(v []float64) r3.Vector {
	return r3.Vector{X: v[0], Y: v[1], Z: v[2]}
}
