// Package mapstore persists spatial maps in a document store.
package mapstore

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.viam.com/utils"

	"go.viam.com/anchormap/logging"
	"go.viam.com/anchormap/spatialmap"
)

// ErrNotFound is returned when no map has the requested id.
var ErrNotFound = errors.New("map not found")

// Store persists maps by id.
type Store interface {
	// Upsert inserts m or replaces the map with the same id.
	Upsert(ctx context.Context, m *spatialmap.Map) error
	Get(ctx context.Context, id string) (*spatialmap.Map, error)
	Delete(ctx context.Context, id string) error
	// List returns every map ordered by id.
	List(ctx context.Context) ([]*spatialmap.Map, error)
	Close(ctx context.Context) error
}

// Backend names accepted by Config.
const (
	BackendMemory = "memory"
	BackendMongo  = "mongo"
	BackendSQLite = "sqlite"
)

// DefaultMongoDatabase is used when a mongo config names no database.
const DefaultMongoDatabase = "anchormap"

// Config selects and configures a Store backend.
type Config struct {
	Backend        string `json:"backend"`
	URI            string `json:"uri,omitempty"`
	Database       string `json:"database,omitempty"`
	Path           string `json:"path,omitempty"`
	ConnectTimeout string `json:"connect_timeout,omitempty"`
}

// Validate checks that the fields the chosen backend needs are set.
func (cfg *Config) Validate(path string) error {
	switch cfg.Backend {
	case "", BackendMemory:
	case BackendMongo:
		if cfg.URI == "" {
			return utils.NewConfigValidationFieldRequiredError(path, "uri")
		}
	case BackendSQLite:
		if cfg.Path == "" {
			return utils.NewConfigValidationFieldRequiredError(path, "path")
		}
	default:
		return utils.NewConfigValidationError(path, errors.Errorf("unknown backend %q", cfg.Backend))
	}
	if cfg.ConnectTimeout != "" {
		if _, err := time.ParseDuration(cfg.ConnectTimeout); err != nil {
			return utils.NewConfigValidationError(path, errors.Wrap(err, "connect_timeout"))
		}
	}
	return nil
}

// Open returns the store described by cfg.
func Open(ctx context.Context, cfg Config, logger logging.Logger) (Store, error) {
	if err := cfg.Validate("map_store"); err != nil {
		return nil, err
	}
	logger = logger.Sublogger("mapstore")
	switch cfg.Backend {
	case BackendMongo:
		timeout := 10 * time.Second
		if cfg.ConnectTimeout != "" {
			// already validated
			timeout, _ = time.ParseDuration(cfg.ConnectTimeout)
		}
		connectCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return NewMongoStore(connectCtx, cfg.URI, lo.Ternary(cfg.Database == "", DefaultMongoDatabase, cfg.Database), logger)
	case BackendSQLite:
		return NewSQLiteStore(ctx, cfg.Path, logger)
	default:
		return NewMemoryStore(), nil
	}
}

func validateForWrite(m *spatialmap.Map) error {
	if m == nil {
		return errors.New("cannot store a nil map")
	}
	return m.Validate()
}

func cloneMap(m *spatialmap.Map) *spatialmap.Map {
	cp := *m
	cp.Anchors = cloneSlice(m.Anchors)
	cp.Waypoints = lo.Map(m.Waypoints, func(w spatialmap.WaypointData, _ int) spatialmap.WaypointData {
		w.RelativeTranslation = cloneSlice(w.RelativeTranslation)
		w.RelativeRotation = cloneSlice(w.RelativeRotation)
		w.ConnectedWaypointIDs = cloneSlice(w.ConnectedWaypointIDs)
		w.LocalTranslation = cloneSlice(w.LocalTranslation)
		return w
	})
	if m.Waypoints == nil {
		cp.Waypoints = nil
	}
	return &cp
}

func cloneSlice[T any](s []T) []T {
	if s == nil {
		return nil
	}
	return append(make([]T, 0, len(s)), s...)
}
