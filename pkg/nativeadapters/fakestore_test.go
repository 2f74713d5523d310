package nativeadapters_test

import (
	"context"
	"strings"
	"sync"

	"github.com/provhub/hub/pkg/entity"
	"github.com/provhub/hub/pkg/entitystore"
)

// fakeStore is a minimal in-memory entitystore.Store for adapter tests.
type fakeStore struct {
	mu   sync.Mutex
	rows map[string]entity.Entity
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[string]entity.Entity)}
}

func (s *fakeStore) Get(ctx context.Context, id string) (entity.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.rows[id]
	if !ok {
		return entity.Entity{}, entitystore.ErrNotFound
	}
	return e, nil
}

func (s *fakeStore) ListBySourceAndTagLike(ctx context.Context, source, tagFragment string) ([]entity.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []entity.Entity
	for _, e := range s.rows {
		if e.Source != source {
			continue
		}
		for _, tag := range e.Tags {
			if strings.Contains(tag, tagFragment) {
				out = append(out, e)
				break
			}
		}
	}
	return out, nil
}

func (s *fakeStore) Upsert(ctx context.Context, e entity.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[e.ID] = e
	return nil
}

func (s *fakeStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, id)
	return nil
}

var _ entitystore.Store = (*fakeStore)(nil)
