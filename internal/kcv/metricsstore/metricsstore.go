// Package metricsstore attaches basic call/error counters to a store. The
// wrapper is the outermost layer of the composition pipeline; whether it is
// applied at all, and whether stores share one merged metric name or get
// their own, is decided by the Backend from its configuration.
//
// Counters are published through expvar under
// "<metricName>.<operation>.calls" and "<metricName>.<operation>.errors".
package metricsstore

import (
	"context"
	"expvar"
	"sync"

	"github.com/thicket-db/thicket/internal/kcv"
)

var (
	mu   sync.Mutex
	maps = make(map[string]*expvar.Map)
)

// metricMap returns the published map for name, creating it once.
// expvar panics on duplicate names, so lookups are memoized.
func metricMap(name string) *expvar.Map {
	mu.Lock()
	defer mu.Unlock()
	if m, ok := maps[name]; ok {
		return m
	}
	m := expvar.NewMap(name)
	maps[name] = m
	return m
}

type store struct {
	kcv.Store
	metrics *expvar.Map
}

// New wraps s with counters published under metricName. Stores may share a
// metricName; their counts merge.
func New(s kcv.Store, metricName string) kcv.Store {
	return &store{Store: s, metrics: metricMap(metricName)}
}

func (s *store) record(op string, err error) {
	s.metrics.Add(op+".calls", 1)
	if err != nil {
		s.metrics.Add(op+".errors", 1)
	}
}

func (s *store) Get(ctx context.Context, key, column []byte, tx kcv.Tx) ([]byte, error) {
	v, err := s.Store.Get(ctx, key, column, tx)
	s.record("get", err)
	return v, err
}

func (s *store) Slice(ctx context.Context, key []byte, q kcv.SliceQuery, tx kcv.Tx) ([]kcv.Entry, error) {
	v, err := s.Store.Slice(ctx, key, q, tx)
	s.record("slice", err)
	return v, err
}

func (s *store) ContainsKey(ctx context.Context, key []byte, tx kcv.Tx) (bool, error) {
	v, err := s.Store.ContainsKey(ctx, key, tx)
	s.record("containsKey", err)
	return v, err
}

func (s *store) Mutate(ctx context.Context, key []byte, m kcv.Mutation, tx kcv.Tx) error {
	err := s.Store.Mutate(ctx, key, m, tx)
	s.record("mutate", err)
	return err
}

func (s *store) AcquireLock(ctx context.Context, key, column, expected []byte, tx kcv.Tx) error {
	err := s.Store.AcquireLock(ctx, key, column, expected, tx)
	s.record("acquireLock", err)
	return err
}
