// Package hashprefix de-skews load on ordered, distributed keyspaces by
// prepending a fixed-width hash of each key to the key itself. Sequential
// keys that would otherwise cluster on one partition are spread across the
// whole ring, at the cost of losing meaningful key order inside the store.
//
// The prefix width is fixed at 4 bytes. It is part of the on-disk key
// layout: changing it, or the hash function, breaks every existing store.
package hashprefix

import (
	"context"
	"encoding/binary"
	"hash/fnv"

	"github.com/thicket-db/thicket/internal/kcv"
)

// PrefixLength is the fixed width of the hash prefix in bytes.
const PrefixLength = 4

type store struct {
	kcv.Store
}

// New wraps s so that every key is stored under its 4-byte fnv-32a prefix.
func New(s kcv.Store) kcv.Store {
	return &store{Store: s}
}

// PrefixKey returns key with its hash prefix prepended.
func PrefixKey(key []byte) []byte {
	h := fnv.New32a()
	h.Write(key)
	out := make([]byte, PrefixLength+len(key))
	binary.BigEndian.PutUint32(out, h.Sum32())
	copy(out[PrefixLength:], key)
	return out
}

func (s *store) Get(ctx context.Context, key, column []byte, tx kcv.Tx) ([]byte, error) {
	return s.Store.Get(ctx, PrefixKey(key), column, tx)
}

func (s *store) Slice(ctx context.Context, key []byte, q kcv.SliceQuery, tx kcv.Tx) ([]kcv.Entry, error) {
	return s.Store.Slice(ctx, PrefixKey(key), q, tx)
}

func (s *store) ContainsKey(ctx context.Context, key []byte, tx kcv.Tx) (bool, error) {
	return s.Store.ContainsKey(ctx, PrefixKey(key), tx)
}

func (s *store) Mutate(ctx context.Context, key []byte, m kcv.Mutation, tx kcv.Tx) error {
	return s.Store.Mutate(ctx, PrefixKey(key), m, tx)
}

func (s *store) AcquireLock(ctx context.Context, key, column, expected []byte, tx kcv.Tx) error {
	return s.Store.AcquireLock(ctx, PrefixKey(key), column, expected, tx)
}
