package cloudanchor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/samber/lo"

	"go.viam.com/anchormap/logging"
	"go.viam.com/anchormap/spatialmap"
	"go.viam.com/anchormap/spatialmath"
	"go.viam.com/anchormap/tracking"
)

const (
	// MaxAnchors caps the anchors hosted by one registry, counting requests still in flight.
	MaxAnchors = 30
	// DefaultTimeout is how long a request waits for the service before failing with
	// StateErrorTimeout.
	DefaultTimeout = time.Minute
	// DefaultTTLDays is the lifetime requested for hosted anchors.
	DefaultTTLDays = 365
)

// ErrMaxAnchorsReached is returned by Host once MaxAnchors anchors are hosted or being hosted.
var ErrMaxAnchorsReached = errors.Errorf("maximum number of anchors (%d) reached", MaxAnchors)

// Anchor is a tracked anchor and its cloud id. Pose is the anchor's pose when it was added.
type Anchor struct {
	CloudID string
	Anchor  tracking.Anchor
	Pose    spatialmath.Pose
}

type request struct {
	cloudID    string
	generation uint64
	anchor     tracking.Anchor
	timer      *clock.Timer
	cancel     context.CancelFunc
}

// Options configures a Registry. Zero values select the defaults.
type Options struct {
	Clock   clock.Clock
	Timeout time.Duration
	TTLDays int
}

// Registry tracks host and resolve requests made against a Service and the anchors they
// produce. The first anchor added becomes the origin and stays so for the life of the registry.
// A single mutex guards all state; callbacks run without it held.
type Registry struct {
	mu         sync.Mutex
	service    Service
	clock      clock.Clock
	timeout    time.Duration
	ttlDays    int
	logger     logging.Logger
	generation uint64

	pendingHosts    map[string]*request
	pendingResolves map[string]*request
	hosted          []Anchor
	resolved        []Anchor
	origin          *Anchor
}

// NewRegistry returns a registry using service, which may be nil until SetService is called.
func NewRegistry(service Service, opts Options, logger logging.Logger) *Registry {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.TTLDays <= 0 {
		opts.TTLDays = DefaultTTLDays
	}
	return &Registry{
		service:         service,
		clock:           opts.Clock,
		timeout:         opts.Timeout,
		ttlDays:         opts.TTLDays,
		logger:          logger,
		pendingHosts:    map[string]*request{},
		pendingResolves: map[string]*request{},
	}
}

// SetService replaces the service used by new requests.
func (r *Registry) SetService(service Service) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.service = service
}

// Host publishes anchor. It fails synchronously with ErrMaxAnchorsReached when the cap is
// reached; every other outcome is delivered to done exactly once, unless Clear drops the request
// first, in which case done is never called.
func (r *Registry) Host(ctx context.Context, anchor tracking.Anchor, done HostCallback) error {
	r.mu.Lock()
	if len(r.hosted)+len(r.pendingHosts) >= MaxAnchors {
		r.mu.Unlock()
		r.logger.Warnw("maximum number of anchors reached", "max", MaxAnchors)
		return ErrMaxAnchorsReached
	}
	service := r.service
	if service == nil {
		r.mu.Unlock()
		r.logger.Error("cannot host cloud anchor, no service")
		done("", StateErrorInternal)
		return nil
	}

	id := uuid.NewString()
	reqCtx, cancel := context.WithCancel(ctx)
	req := &request{generation: r.generation, anchor: anchor, cancel: cancel}
	r.pendingHosts[id] = req
	req.timer = r.clock.AfterFunc(r.timeout, func() {
		r.finishHost(id, req.generation, "", StateErrorTimeout, done)
	})
	ttl := r.ttlDays
	r.mu.Unlock()

	r.logger.Debugw("hosting cloud anchor", "request", id, "ttl_days", ttl)
	service.HostAnchor(reqCtx, anchor, ttl, func(cloudID string, state State) {
		r.finishHost(id, req.generation, cloudID, state, done)
	})
	return nil
}

func (r *Registry) finishHost(id string, generation uint64, cloudID string, state State, done HostCallback) {
	r.mu.Lock()
	req, ok := r.pendingHosts[id]
	if !ok || generation != r.generation {
		r.mu.Unlock()
		r.logger.Debugw("ignoring late host result", "request", id, "state", state)
		return
	}
	delete(r.pendingHosts, id)
	req.timer.Stop()
	req.cancel()

	if state == StateSuccess && cloudID == "" {
		state = StateErrorInternal
	}
	if state == StateSuccess {
		r.add(&r.hosted, Anchor{CloudID: cloudID, Anchor: req.anchor, Pose: req.anchor.Pose()})
		r.logger.Infow("hosted cloud anchor", "cloud_id", cloudID, "hosted", len(r.hosted))
	} else {
		cloudID = ""
		r.logger.Warnw("hosting cloud anchor failed", "state", state)
	}
	r.mu.Unlock()
	done(cloudID, state)
}

// Resolve fetches the anchor published as cloudID and delivers the outcome to done exactly once.
// A request dropped by Clear never calls done.
func (r *Registry) Resolve(ctx context.Context, cloudID string, done ResolveCallback) {
	r.mu.Lock()
	service := r.service
	if service == nil {
		r.mu.Unlock()
		r.logger.Errorw("cannot resolve cloud anchor, no service", "cloud_id", cloudID)
		done(nil, StateErrorInternal)
		return
	}

	id := uuid.NewString()
	reqCtx, cancel := context.WithCancel(ctx)
	req := &request{cloudID: cloudID, generation: r.generation, cancel: cancel}
	r.pendingResolves[id] = req
	req.timer = r.clock.AfterFunc(r.timeout, func() {
		r.finishResolve(id, req.generation, nil, StateErrorTimeout, done)
	})
	r.mu.Unlock()

	r.logger.Debugw("resolving cloud anchor", "request", id, "cloud_id", cloudID)
	service.ResolveAnchor(reqCtx, cloudID, func(anchor tracking.Anchor, state State) {
		r.finishResolve(id, req.generation, anchor, state, done)
	})
}

// ResolveAll calls Resolve for each id with the same callback.
func (r *Registry) ResolveAll(ctx context.Context, cloudIDs []string, done func(cloudID string, anchor tracking.Anchor, state State)) {
	if len(cloudIDs) == 0 {
		r.logger.Warn("no cloud anchor ids to resolve")
		return
	}
	for _, cloudID := range cloudIDs {
		r.Resolve(ctx, cloudID, func(anchor tracking.Anchor, state State) {
			done(cloudID, anchor, state)
		})
	}
}

func (r *Registry) finishResolve(id string, generation uint64, anchor tracking.Anchor, state State, done ResolveCallback) {
	r.mu.Lock()
	req, ok := r.pendingResolves[id]
	if !ok || generation != r.generation {
		r.mu.Unlock()
		r.logger.Debugw("ignoring late resolve result", "request", id, "state", state)
		// nobody will own an anchor produced after the request was dropped
		if anchor != nil {
			anchor.Detach()
		}
		return
	}
	delete(r.pendingResolves, id)
	req.timer.Stop()
	req.cancel()

	if state == StateSuccess && anchor == nil {
		state = StateErrorInternal
	}
	if state == StateSuccess {
		r.add(&r.resolved, Anchor{CloudID: req.cloudID, Anchor: anchor, Pose: anchor.Pose()})
		r.logger.Infow("resolved cloud anchor", "cloud_id", req.cloudID, "resolved", len(r.resolved))
	} else {
		if anchor != nil {
			anchor.Detach()
			anchor = nil
		}
		r.logger.Warnw("resolving cloud anchor failed", "cloud_id", req.cloudID, "state", state)
	}
	r.mu.Unlock()
	done(anchor, state)
}

// add must be called with mu held.
func (r *Registry) add(list *[]Anchor, a Anchor) {
	*list = append(*list, a)
	if r.origin == nil {
		origin := a
		r.origin = &origin
		r.logger.Infow("origin anchor set", "cloud_id", a.CloudID)
	}
}

// HostedAnchors returns a copy of the hosted anchors in completion order.
func (r *Registry) HostedAnchors() []Anchor {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Anchor(nil), r.hosted...)
}

// ResolvedAnchors returns a copy of the resolved anchors in completion order.
func (r *Registry) ResolvedAnchors() []Anchor {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Anchor(nil), r.resolved...)
}

// ResolvedAnchor returns the first resolved anchor with the given cloud id.
func (r *Registry) ResolvedAnchor(cloudID string) (Anchor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return lo.Find(r.resolved, func(a Anchor) bool { return a.CloudID == cloudID })
}

// IsResolved returns whether cloudID has been resolved.
func (r *Registry) IsResolved(cloudID string) bool {
	_, ok := r.ResolvedAnchor(cloudID)
	return ok
}

// ResolvedPoses returns the current pose of every resolved anchor, in resolution order.
func (r *Registry) ResolvedPoses() []spatialmap.ResolvedPose {
	return lo.Map(r.ResolvedAnchors(), func(a Anchor, _ int) spatialmap.ResolvedPose {
		return spatialmap.ResolvedPose{CloudID: a.CloudID, Pose: a.Anchor.Pose()}
	})
}

// Origin returns the first anchor ever added to the registry.
func (r *Registry) Origin() (Anchor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.origin == nil {
		return Anchor{}, false
	}
	return *r.origin, true
}

// MapAnchors converts the hosted anchors to their stored form, with local coordinates relative
// to the origin anchor's pose. The origin anchor itself is stored at exactly (0,0,0) with the
// identity rotation.
func (r *Registry) MapAnchors(now time.Time) []spatialmap.Anchor {
	o, hasOrigin := r.Origin()
	return lo.Map(r.HostedAnchors(), func(a Anchor, i int) spatialmap.Anchor {
		var origin spatialmath.Pose
		if hasOrigin && a.CloudID != o.CloudID {
			origin = o.Pose
		}
		return spatialmap.NewAnchor(a.CloudID, fmt.Sprintf("Anchor %d", i+1), a.Pose, origin, now)
	})
}

// PendingCount returns the number of host and resolve requests still waiting on the service.
func (r *Registry) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pendingHosts) + len(r.pendingResolves)
}

// AnchorCount returns the number of hosted anchors.
func (r *Registry) AnchorCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.hosted)
}

// Clear detaches every tracked anchor, including those still being hosted, and drops all
// pending requests. Results that arrive for dropped requests are ignored. The origin is kept.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.generation++
	for _, a := range r.hosted {
		a.Anchor.Detach()
	}
	for _, a := range r.resolved {
		a.Anchor.Detach()
	}
	for _, req := range r.pendingHosts {
		req.timer.Stop()
		req.cancel()
		req.anchor.Detach()
	}
	for _, req := range r.pendingResolves {
		req.timer.Stop()
		req.cancel()
	}
	r.hosted = nil
	r.resolved = nil
	r.pendingHosts = map[string]*request{}
	r.pendingResolves = map[string]*request{}
	r.logger.Debug("cleared all anchors and pending requests")
}
