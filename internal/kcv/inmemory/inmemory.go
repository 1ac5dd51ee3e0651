// Package inmemory provides a process-local key-column-value backend. It
// advertises consistent-key operations and batch mutation but no native
// locking or transactions, which makes it the reference backend for the
// consistent-key emulation paths.
package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/thicket-db/thicket/internal/kcv"
)

// Manager is the in-memory backend registered under "inmemory".
type Manager struct {
	mu         sync.RWMutex
	stores     map[string]*store
	properties map[string]string
}

// New constructs an empty manager. opts is accepted for factory-signature
// compatibility and ignored.
func New(opts map[string]string) (*Manager, error) {
	return &Manager{
		stores:     make(map[string]*store),
		properties: make(map[string]string),
	}, nil
}

// Features implements kcv.Manager.
func (m *Manager) Features() kcv.Features {
	return kcv.Features{
		ConsistentKey: true,
		BatchMutation: true,
	}
}

// OpenStore returns the named store, creating it on first open.
func (m *Manager) OpenStore(ctx context.Context, name string, opts kcv.StoreOptions) (kcv.Store, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.stores[name]; ok {
		return s, nil
	}
	s := &store{
		name:     name,
		keyWidth: opts.FixedKeyLength,
		rows:     make(map[string]map[string][]byte),
	}
	m.stores[name] = s
	return s, nil
}

// BeginTx returns a no-op transaction: without native transactions every
// mutation applies immediately; atomicity comes from the per-store mutex.
func (m *Manager) BeginTx(ctx context.Context, level kcv.Consistency) (kcv.Tx, error) {
	return noopTx{}, nil
}

// MutateMany applies a batch of mutations across stores in one call.
func (m *Manager) MutateMany(ctx context.Context, batch map[string]map[string]kcv.Mutation, tx kcv.Tx) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for storeName, byKey := range batch {
		s, ok := m.stores[storeName]
		if !ok {
			return fmt.Errorf("inmemory: unknown store %q in batch", storeName)
		}
		for key, mut := range byKey {
			if err := s.Mutate(ctx, []byte(key), mut, tx); err != nil {
				return err
			}
		}
	}
	return nil
}

// GetProperty implements kcv.PropertyStore.
func (m *Manager) GetProperty(ctx context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.properties[key], nil
}

// SetProperty implements kcv.PropertyStore.
func (m *Manager) SetProperty(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.properties[key] = value
	return nil
}

func (m *Manager) Close() error { return nil }

// ClearStorage drops every store and property.
func (m *Manager) ClearStorage(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stores = make(map[string]*store)
	m.properties = make(map[string]string)
	return nil
}

type noopTx struct{}

func (noopTx) Commit(ctx context.Context) error   { return nil }
func (noopTx) Rollback(ctx context.Context) error { return nil }

type store struct {
	name     string
	keyWidth int

	mu   sync.RWMutex
	rows map[string]map[string][]byte // key -> column -> value
}

func (s *store) Name() string { return s.name }

func (s *store) checkKey(key []byte) error {
	if s.keyWidth > 0 && len(key) != s.keyWidth {
		return fmt.Errorf("inmemory: store %q requires %d-byte keys, got %d", s.name, s.keyWidth, len(key))
	}
	return nil
}

func (s *store) Get(ctx context.Context, key, column []byte, tx kcv.Tx) ([]byte, error) {
	if err := s.checkKey(key); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	cols, ok := s.rows[string(key)]
	if !ok {
		return nil, kcv.ErrKeyNotFound
	}
	v, ok := cols[string(column)]
	if !ok {
		return nil, kcv.ErrKeyNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (s *store) Slice(ctx context.Context, key []byte, q kcv.SliceQuery, tx kcv.Tx) ([]kcv.Entry, error) {
	if err := s.checkKey(key); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	cols, ok := s.rows[string(key)]
	if !ok {
		return nil, nil
	}
	names := make([]string, 0, len(cols))
	for c := range cols {
		if q.Start != nil && c < string(q.Start) {
			continue
		}
		if q.End != nil && c >= string(q.End) {
			continue
		}
		names = append(names, c)
	}
	sort.Strings(names)
	if q.Limit > 0 && len(names) > q.Limit {
		names = names[:q.Limit]
	}
	entries := make([]kcv.Entry, 0, len(names))
	for _, c := range names {
		v := cols[c]
		out := make([]byte, len(v))
		copy(out, v)
		entries = append(entries, kcv.Entry{Column: []byte(c), Value: out})
	}
	return entries, nil
}

func (s *store) ContainsKey(ctx context.Context, key []byte, tx kcv.Tx) (bool, error) {
	if err := s.checkKey(key); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	cols, ok := s.rows[string(key)]
	return ok && len(cols) > 0, nil
}

func (s *store) Mutate(ctx context.Context, key []byte, m kcv.Mutation, tx kcv.Tx) error {
	if err := s.checkKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cols, ok := s.rows[string(key)]
	if !ok {
		cols = make(map[string][]byte)
		s.rows[string(key)] = cols
	}
	for _, d := range m.Deletions {
		delete(cols, string(d))
	}
	for _, e := range m.Additions {
		v := make([]byte, len(e.Value))
		copy(v, e.Value)
		cols[string(e.Column)] = v
	}
	if len(cols) == 0 {
		delete(s.rows, string(key))
	}
	return nil
}

// AcquireLock performs an atomic compare against the current value; the
// store-level mutex gives the strict per-key atomicity that consistent-key
// emulation relies on.
func (s *store) AcquireLock(ctx context.Context, key, column, expected []byte, tx kcv.Tx) error {
	if err := s.checkKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var cur []byte
	if cols, ok := s.rows[string(key)]; ok {
		cur = cols[string(column)]
	}
	if string(cur) != string(expected) {
		return fmt.Errorf("inmemory: expected value mismatch on %q", s.name)
	}
	return nil
}

func (s *store) Close() error { return nil }
