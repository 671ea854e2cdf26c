// Package memory provides a fingerprint store that lives in process memory.
package memory

import (
	"context"
	"sync"

	"github.com/Ahmed-Sermani/fscrawler/fingerprint"
)

var _ fingerprint.Store = (*InMemoryStore)(nil)

// InMemoryStore keeps fingerprint sets in a map. It is safe for concurrent
// use; sets are copied on the way in and out.
type InMemoryStore struct {
	mu   sync.RWMutex
	sets map[string]*fingerprint.Set
}

// NewInMemoryStore returns an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sets: make(map[string]*fingerprint.Set)}
}

func (s *InMemoryStore) Load(_ context.Context, root string) (*fingerprint.Set, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if set, found := s.sets[root]; found {
		return set.Clone(), nil
	}
	return fingerprint.NewSet(""), nil
}

func (s *InMemoryStore) Save(_ context.Context, root string, set *fingerprint.Set) error {
	cp := set.Clone()
	s.mu.Lock()
	s.sets[root] = cp
	s.mu.Unlock()
	return nil
}

func (s *InMemoryStore) Close() error { return nil }
