// Package cache provides a read-through cache wrapper for a single store.
// The composition pipeline layers it over every (possibly buffered) store
// unconditionally: repeated point reads of hot keys dominate graph
// traversal workloads.
//
// The cache holds positive Get results only and drops everything it knows
// about a key when that key is mutated through the wrapper or reported
// changed beneath it via InvalidateKey.
package cache

import (
	"context"
	"sync"

	"github.com/thicket-db/thicket/internal/kcv"
)

type store struct {
	kcv.Store

	mu      sync.RWMutex
	entries map[string]map[string][]byte // key -> column -> value
}

// New wraps s with a read-through cache.
func New(s kcv.Store) kcv.Store {
	return &store{
		Store:   s,
		entries: make(map[string]map[string][]byte),
	}
}

func (s *store) Get(ctx context.Context, key, column []byte, tx kcv.Tx) ([]byte, error) {
	s.mu.RLock()
	if cols, ok := s.entries[string(key)]; ok {
		if v, ok := cols[string(column)]; ok {
			s.mu.RUnlock()
			return v, nil
		}
	}
	s.mu.RUnlock()

	v, err := s.Store.Get(ctx, key, column, tx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	cols, ok := s.entries[string(key)]
	if !ok {
		cols = make(map[string][]byte)
		s.entries[string(key)] = cols
	}
	cols[string(column)] = v
	s.mu.Unlock()
	return v, nil
}

func (s *store) Mutate(ctx context.Context, key []byte, m kcv.Mutation, tx kcv.Tx) error {
	s.InvalidateKey(key)
	return s.Store.Mutate(ctx, key, m, tx)
}

// InvalidateKey drops everything cached for key. Transaction machinery
// below this layer calls it when key changes without passing through
// Mutate, such as a buffered batch flush.
func (s *store) InvalidateKey(key []byte) {
	s.mu.Lock()
	delete(s.entries, string(key))
	s.mu.Unlock()
}
