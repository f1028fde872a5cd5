// Package fake implements a cloud anchor service whose requests are answered by the caller.
package fake

import (
	"context"
	"fmt"
	"sync"

	"go.viam.com/anchormap/cloudanchor"
	"go.viam.com/anchormap/spatialmath"
	"go.viam.com/anchormap/tracking"
	trackingfake "go.viam.com/anchormap/tracking/fake"
)

// HostRequest is a host call waiting for an answer.
type HostRequest struct {
	Ctx     context.Context
	Anchor  tracking.Anchor
	TTLDays int
	Done    cloudanchor.HostCallback
}

// ResolveRequest is a resolve call waiting for an answer.
type ResolveRequest struct {
	Ctx     context.Context
	CloudID string
	Done    cloudanchor.ResolveCallback
}

// Service records requests. With AutoComplete set it answers them immediately instead: hosts
// succeed with a generated cloud id and resolves succeed for ids present in Poses.
type Service struct {
	AutoComplete bool
	Poses        map[string]spatialmath.Pose

	mu       sync.Mutex
	hosted   int
	hosts    []*HostRequest
	resolves []*ResolveRequest
}

// HostAnchor implements cloudanchor.Service.
func (s *Service) HostAnchor(ctx context.Context, anchor tracking.Anchor, ttlDays int, done cloudanchor.HostCallback) {
	s.mu.Lock()
	s.hosted++
	n := s.hosted
	if !s.AutoComplete {
		s.hosts = append(s.hosts, &HostRequest{Ctx: ctx, Anchor: anchor, TTLDays: ttlDays, Done: done})
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	done(fmt.Sprintf("cloud-%d", n), cloudanchor.StateSuccess)
}

// ResolveAnchor implements cloudanchor.Service.
func (s *Service) ResolveAnchor(ctx context.Context, cloudID string, done cloudanchor.ResolveCallback) {
	s.mu.Lock()
	if !s.AutoComplete {
		s.resolves = append(s.resolves, &ResolveRequest{Ctx: ctx, CloudID: cloudID, Done: done})
		s.mu.Unlock()
		return
	}
	pose, ok := s.Poses[cloudID]
	s.mu.Unlock()
	if !ok {
		done(nil, cloudanchor.StateErrorCloudIDNotFound)
		return
	}
	done(trackingfake.NewAnchor(pose), cloudanchor.StateSuccess)
}

// HostCalls returns how many times HostAnchor was called.
func (s *Service) HostCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hosted
}

// Hosts returns the recorded host requests.
func (s *Service) Hosts() []*HostRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*HostRequest(nil), s.hosts...)
}

// Resolves returns the recorded resolve requests.
func (s *Service) Resolves() []*ResolveRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*ResolveRequest(nil), s.resolves...)
}
