// Package memory provides a generic thread-safe in-memory store used by the
// repository adapters.
package memory

import (
	"context"
	"errors"
	"slices"
	"sync"
)

// ErrNotFound is returned by Store when the requested key does not exist.
var ErrNotFound = errors.New("not found")

// Store is a keyed store that lists values in insertion order. Replacing a
// value keeps its original position.
type Store[V any] struct {
	mu      sync.RWMutex
	data    map[string]V
	order   []string
	keyFunc func(V) string
}

func New[V any](keyFunc func(V) string) *Store[V] {
	return &Store[V]{
		data:    make(map[string]V),
		keyFunc: keyFunc,
	}
}

// Set inserts or replaces v under keyFunc(v).
func (s *Store[V]) Set(_ context.Context, v V) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := s.keyFunc(v)
	if _, ok := s.data[key]; !ok {
		s.order = append(s.order, key)
	}
	s.data[key] = v
	return nil
}

func (s *Store[V]) Get(_ context.Context, key string) (V, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	if !ok {
		var zero V
		return zero, ErrNotFound
	}
	return v, nil
}

// Delete removes key, returning ErrNotFound if absent.
func (s *Store[V]) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[key]; !ok {
		return ErrNotFound
	}
	delete(s.data, key)
	s.order = slices.DeleteFunc(s.order, func(k string) bool { return k == key })
	return nil
}

// All returns every value in insertion order.
func (s *Store[V]) All(_ context.Context) ([]V, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]V, 0, len(s.order))
	for _, k := range s.order {
		out = append(out, s.data[k])
	}
	return out, nil
}

// Filter returns, in insertion order, the values pred accepts.
func (s *Store[V]) Filter(_ context.Context, pred func(V) bool) ([]V, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []V
	for _, k := range s.order {
		if v := s.data[k]; pred(v) {
			out = append(out, v)
		}
	}
	return out, nil
}

// Evict drops the oldest entries until at most limit remain.
func (s *Store[V]) Evict(limit int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.order) > limit {
		delete(s.data, s.order[0])
		s.order = s.order[1:]
	}
}

func (s *Store[V]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}
