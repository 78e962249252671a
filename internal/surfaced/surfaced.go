// Package surfaced persists, per identity, the notification ids that were
// already shown to the user. The record is append-only: concurrent writers
// for one identity merge by set union and entries are only removed by Reset.
package surfaced

import (
	"context"
	"sync"
)

type Store interface {
	Load(ctx context.Context, identity string) ([]string, error)
	Append(ctx context.Context, identity string, ids ...string) error
	Reset(ctx context.Context, identity string) error
}

// Set is the in-memory view of one identity's record.
type Set struct {
	mu  sync.RWMutex
	ids map[string]struct{}
}

func NewSet(ids ...string) *Set {
	s := &Set{ids: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		s.ids[id] = struct{}{}
	}
	return s
}

func (s *Set) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ids[id]
	return ok
}

// Add returns true when id was not present yet.
func (s *Set) Add(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[id]; ok {
		return false
	}
	s.ids[id] = struct{}{}
	return true
}

func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ids)
}

func (s *Set) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = make(map[string]struct{})
}
