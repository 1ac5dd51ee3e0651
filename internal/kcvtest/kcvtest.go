// Package kcvtest provides configurable fakes for the key-column-value
// contract: a manager with a settable capability profile, recording
// stores, and scripted property failures for retry tests.
package kcvtest

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/thicket-db/thicket/internal/kcv"
)

// Manager is a fake kcv.Manager whose capability profile is set by the
// test. It records every opened store, every transaction, and every
// batch flush.
type Manager struct {
	Feats kcv.Features

	mu      sync.Mutex
	stores  map[string]*Store
	opened  map[string]kcv.StoreOptions
	txs     []*Tx
	batches []map[string]map[string]kcv.Mutation
	props   map[string]string

	// PropGetErrs are returned, in order, by successive GetProperty
	// calls before real reads resume.
	PropGetErrs []error

	closed  bool
	cleared bool
}

// NewManager returns a fake manager advertising feats.
func NewManager(feats kcv.Features) *Manager {
	return &Manager{
		Feats:  feats,
		stores: make(map[string]*Store),
		opened: make(map[string]kcv.StoreOptions),
		props:  make(map[string]string),
	}
}

func (m *Manager) Features() kcv.Features { return m.Feats }

func (m *Manager) OpenStore(ctx context.Context, name string, opts kcv.StoreOptions) (kcv.Store, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opened[name] = opts
	if s, ok := m.stores[name]; ok {
		return s, nil
	}
	s := &Store{name: name, rows: make(map[string]map[string][]byte)}
	m.stores[name] = s
	return s, nil
}

// OpenedStores returns the names of all opened stores, sorted.
func (m *Manager) OpenedStores() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.opened))
	for n := range m.opened {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// OpenedOptions returns the options the named store was opened with.
func (m *Manager) OpenedOptions(name string) (kcv.StoreOptions, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	opts, ok := m.opened[name]
	return opts, ok
}

// Store returns the named fake store, or nil.
func (m *Manager) Store(name string) *Store {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stores[name]
}

func (m *Manager) BeginTx(ctx context.Context, level kcv.Consistency) (kcv.Tx, error) {
	tx := &Tx{Level: level}
	m.mu.Lock()
	m.txs = append(m.txs, tx)
	m.mu.Unlock()
	return tx, nil
}

// Txs returns every transaction handed out, in creation order.
func (m *Manager) Txs() []*Tx {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Tx, len(m.txs))
	copy(out, m.txs)
	return out
}

// MutateMany implements kcv.BatchMutator, recording the batch and
// applying it to the fake stores.
func (m *Manager) MutateMany(ctx context.Context, batch map[string]map[string]kcv.Mutation, tx kcv.Tx) error {
	m.mu.Lock()
	snapshot := make(map[string]map[string]kcv.Mutation, len(batch))
	for s, byKey := range batch {
		cp := make(map[string]kcv.Mutation, len(byKey))
		for k, mut := range byKey {
			cp[k] = mut
		}
		snapshot[s] = cp
	}
	m.batches = append(m.batches, snapshot)
	stores := make(map[string]*Store, len(batch))
	for s := range batch {
		stores[s] = m.stores[s]
	}
	m.mu.Unlock()

	for storeName, byKey := range batch {
		s := stores[storeName]
		if s == nil {
			return fmt.Errorf("kcvtest: batch references unopened store %q", storeName)
		}
		for key, mut := range byKey {
			if err := s.Mutate(ctx, []byte(key), mut, tx); err != nil {
				return err
			}
		}
	}
	return nil
}

// Batches returns every batch flushed through MutateMany.
func (m *Manager) Batches() []map[string]map[string]kcv.Mutation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]map[string]map[string]kcv.Mutation, len(m.batches))
	copy(out, m.batches)
	return out
}

// GetProperty implements kcv.PropertyStore, consuming scripted errors
// first.
func (m *Manager) GetProperty(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.PropGetErrs) > 0 {
		err := m.PropGetErrs[0]
		m.PropGetErrs = m.PropGetErrs[1:]
		return "", err
	}
	return m.props[key], nil
}

// SetProperty implements kcv.PropertyStore.
func (m *Manager) SetProperty(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.props[key] = value
	return nil
}

// Property returns the stored property value without consuming scripted
// errors.
func (m *Manager) Property(key string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.props[key]
}

// SeedProperty stores a property directly.
func (m *Manager) SeedProperty(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.props[key] = value
}

func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *Manager) ClearStorage(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleared = true
	m.stores = make(map[string]*Store)
	m.props = make(map[string]string)
	return nil
}

// Closed reports whether Close was called.
func (m *Manager) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Cleared reports whether ClearStorage was called.
func (m *Manager) Cleared() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cleared
}

// Tx is a fake transaction recording its consistency level and outcome.
type Tx struct {
	Level      kcv.Consistency
	Committed  bool
	RolledBack bool
}

func (t *Tx) Commit(ctx context.Context) error   { t.Committed = true; return nil }
func (t *Tx) Rollback(ctx context.Context) error { t.RolledBack = true; return nil }

// Store is a fake map-backed store that records mutations.
type Store struct {
	name string

	mu        sync.Mutex
	rows      map[string]map[string][]byte
	mutations int
	closed    bool
}

func (s *Store) Name() string { return s.name }

// MutationCount returns how many Mutate calls reached this store.
func (s *Store) MutationCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mutations
}

// Closed reports whether Close was called.
func (s *Store) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Store) Get(ctx context.Context, key, column []byte, tx kcv.Tx) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cols, ok := s.rows[string(key)]
	if !ok {
		return nil, kcv.ErrKeyNotFound
	}
	v, ok := cols[string(column)]
	if !ok {
		return nil, kcv.ErrKeyNotFound
	}
	return v, nil
}

func (s *Store) Slice(ctx context.Context, key []byte, q kcv.SliceQuery, tx kcv.Tx) ([]kcv.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cols := s.rows[string(key)]
	names := make([]string, 0, len(cols))
	for c := range cols {
		names = append(names, c)
	}
	sort.Strings(names)
	var entries []kcv.Entry
	for _, c := range names {
		entries = append(entries, kcv.Entry{Column: []byte(c), Value: cols[c]})
	}
	return entries, nil
}

func (s *Store) ContainsKey(ctx context.Context, key []byte, tx kcv.Tx) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.rows[string(key)]
	return ok, nil
}

func (s *Store) Mutate(ctx context.Context, key []byte, m kcv.Mutation, tx kcv.Tx) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mutations++
	cols, ok := s.rows[string(key)]
	if !ok {
		cols = make(map[string][]byte)
		s.rows[string(key)] = cols
	}
	for _, d := range m.Deletions {
		delete(cols, string(d))
	}
	for _, e := range m.Additions {
		cols[string(e.Column)] = e.Value
	}
	return nil
}

func (s *Store) AcquireLock(ctx context.Context, key, column, expected []byte, tx kcv.Tx) error {
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
