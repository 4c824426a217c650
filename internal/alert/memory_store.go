package alert

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound is returned when an alert ID does not exist.
var ErrNotFound = errors.New("alert: not found")

// MemoryStore is an in-memory Store for single-process deployments and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	byID   map[string]*Alert
	sorted []*Alert // insertion order == emission order
}

// NewMemoryStore creates an empty in-memory alert store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]*Alert)}
}

func (s *MemoryStore) Record(ctx context.Context, a *Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *a
	cp.Rules = append([]string(nil), a.Rules...)
	s.byID[cp.ID] = &cp
	s.sorted = append(s.sorted, &cp)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	cp.Rules = append([]string(nil), a.Rules...)
	return &cp, nil
}

func (s *MemoryStore) List(ctx context.Context, opts ListOptions) ([]*Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}

	out := make([]*Alert, 0, limit)
	for i := len(s.sorted) - 1; i >= 0 && len(out) < limit; i-- {
		a := s.sorted[i]
		if opts.AccountID != "" && a.AccountID != opts.AccountID {
			continue
		}
		cp := *a
		cp.Rules = append([]string(nil), a.Rules...)
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sorted), nil
}
