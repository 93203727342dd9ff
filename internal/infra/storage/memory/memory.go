// Package memory provides an in-process ActionStore. Not durable across
// restarts; used when no redis or database is configured, and in tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/vietddude/uplink/internal/core/domain"
)

type Store struct {
	mu      sync.RWMutex
	actions map[string]*domain.QueuedAction
}

func NewStore() *Store {
	return &Store{actions: make(map[string]*domain.QueuedAction)}
}

func (s *Store) Put(ctx context.Context, action *domain.QueuedAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *action
	cp.Dependencies = append([]string(nil), action.Dependencies...)
	s.actions[action.ID] = &cp
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*domain.QueuedAction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.actions[id]
	if !ok {
		return nil, nil
	}
	cp := *a
	cp.Dependencies = append([]string(nil), a.Dependencies...)
	return &cp, nil
}

func (s *Store) GetAll(ctx context.Context) ([]*domain.QueuedAction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]*domain.QueuedAction, 0, len(s.actions))
	for _, a := range s.actions {
		cp := *a
		cp.Dependencies = append([]string(nil), a.Dependencies...)
		res = append(res, &cp)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].EnqueuedAt.Before(res[j].EnqueuedAt) })
	return res, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.actions, id)
	return nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.actions), nil
}
