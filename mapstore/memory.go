package mapstore

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"go.viam.com/anchormap/spatialmap"
)

type memoryStore struct {
	mu   sync.Mutex
	maps map[string]*spatialmap.Map
}

// NewMemoryStore returns a Store that keeps maps in process memory.
func NewMemoryStore() Store {
	return &memoryStore{maps: map[string]*spatialmap.Map{}}
}

func (s *memoryStore) Upsert(ctx context.Context, m *spatialmap.Map) error {
	if err := validateForWrite(m); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maps[m.ID] = cloneMap(m)
	return nil
}

func (s *memoryStore) Get(ctx context.Context, id string) (*spatialmap.Map, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.maps[id]
	if !ok {
		return nil, errors.Wrap(ErrNotFound, id)
	}
	return cloneMap(m), nil
}

func (s *memoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.maps[id]; !ok {
		return errors.Wrap(ErrNotFound, id)
	}
	delete(s.maps, id)
	return nil
}

func (s *memoryStore) List(ctx context.Context) ([]*spatialmap.Map, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	maps := make([]*spatialmap.Map, 0, len(s.maps))
	for _, m := range s.maps {
		maps = append(maps, cloneMap(m))
	}
	sort.Slice(maps, func(i, j int) bool { return maps[i].ID < maps[j].ID })
	return maps, nil
}

func (s *memoryStore) Close(ctx context.Context) error {
	return nil
}
