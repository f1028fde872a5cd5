// Package cloudanchor coordinates host and resolve requests against a cloud anchor service and
// tracks the anchors they produce.
package cloudanchor

import (
	"context"

	"github.com/pkg/errors"

	"go.viam.com/anchormap/tracking"
)

// State is the outcome of a host or resolve request. Host and resolve failures share one set of
// states.
type State int

// The states a request can finish in.
const (
	StateSuccess State = iota
	StateErrorServiceUnavailable
	StateErrorCloudIDNotFound
	StateErrorResourceExhausted
	StateErrorInternal
	StateErrorTimeout
)

var (
	// ErrServiceUnavailable is reported when the cloud anchor service cannot be reached.
	ErrServiceUnavailable = errors.New("cloud anchor service unavailable")
	// ErrCloudIDNotFound is reported when a cloud id is unknown to the service.
	ErrCloudIDNotFound = errors.New("cloud anchor id not found")
	// ErrResourceExhausted is reported when the service quota is used up.
	ErrResourceExhausted = errors.New("cloud anchor resources exhausted")
	// ErrInternal covers any other failure, including requests made with no service attached.
	ErrInternal = errors.New("cloud anchor internal error")
	// ErrTimeout is reported when the service does not answer in time.
	ErrTimeout = errors.New("cloud anchor request timed out")
)

func (s State) String() string {
	switch s {
	case StateSuccess:
		return "SUCCESS"
	case StateErrorServiceUnavailable:
		return "ERROR_SERVICE_UNAVAILABLE"
	case StateErrorCloudIDNotFound:
		return "ERROR_CLOUD_ID_NOT_FOUND"
	case StateErrorResourceExhausted:
		return "ERROR_RESOURCE_EXHAUSTED"
	case StateErrorInternal:
		return "ERROR_INTERNAL"
	case StateErrorTimeout:
		return "ERROR_TIMEOUT"
	default:
		return "UNKNOWN"
	}
}

// Err returns nil for StateSuccess and the matching sentinel error otherwise.
func (s State) Err() error {
	switch s {
	case StateSuccess:
		return nil
	case StateErrorServiceUnavailable:
		return ErrServiceUnavailable
	case StateErrorCloudIDNotFound:
		return ErrCloudIDNotFound
	case StateErrorResourceExhausted:
		return ErrResourceExhausted
	case StateErrorTimeout:
		return ErrTimeout
	case StateErrorInternal:
		return ErrInternal
	default:
		return errors.Wrapf(ErrInternal, "unknown state %d", int(s))
	}
}

// HostCallback receives the outcome of a host request. cloudID is empty unless state is
// StateSuccess.
type HostCallback func(cloudID string, state State)

// ResolveCallback receives the outcome of a resolve request. anchor is nil unless state is
// StateSuccess.
type ResolveCallback func(anchor tracking.Anchor, state State)

// Service is the external cloud anchor service. Both calls return immediately and invoke done
// at most once, from any goroutine. ctx is canceled once the registry stops waiting for an
// answer.
type Service interface {
	HostAnchor(ctx context.Context, anchor tracking.Anchor, ttlDays int, done HostCallback)
	ResolveAnchor(ctx context.Context, cloudID string, done ResolveCallback)
}
