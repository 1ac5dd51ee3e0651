// Package buffer provides write coalescing for backends that support batch
// mutation. A buffered store routes its mutations into the batching
// transaction instead of issuing them one by one; the transaction flushes
// the accumulated batch as a whole, at the latest on commit. A read under
// the same transaction forces an early flush when the batch holds
// mutations for the requested key, so a transaction observes its own
// writes.
//
// Mutations belonging to two different logical transactions are never
// merged: each Tx owns its own batch.
package buffer

import (
	"context"
	"fmt"
	"time"

	"github.com/thicket-db/thicket/internal/kcv"
)

// store wraps an inner store and diverts Mutate calls into a batching Tx.
type store struct {
	kcv.Store
}

// New wraps s so that mutations issued under a *Tx are coalesced into that
// transaction's batch. Reads pass through to the backend after any
// buffered mutations for the requested key have been flushed.
func New(s kcv.Store) kcv.Store {
	return &store{Store: s}
}

// resolve walks the transaction chain down to the batching transaction,
// or returns nil when tx does not carry one. Lock emulation and other
// decorators sit above the batching transaction; the store must see
// through them.
func resolve(tx kcv.Tx) *Tx {
	for t := tx; t != nil; t = kcv.Unwrap(t) {
		if btx, ok := t.(*Tx); ok {
			return btx
		}
	}
	return nil
}

func (s *store) Get(ctx context.Context, key, column []byte, tx kcv.Tx) ([]byte, error) {
	if btx := resolve(tx); btx != nil {
		if err := btx.flushPending(ctx, s.Name(), key); err != nil {
			return nil, err
		}
	}
	return s.Store.Get(ctx, key, column, tx)
}

func (s *store) Slice(ctx context.Context, key []byte, q kcv.SliceQuery, tx kcv.Tx) ([]kcv.Entry, error) {
	if btx := resolve(tx); btx != nil {
		if err := btx.flushPending(ctx, s.Name(), key); err != nil {
			return nil, err
		}
	}
	return s.Store.Slice(ctx, key, q, tx)
}

func (s *store) ContainsKey(ctx context.Context, key []byte, tx kcv.Tx) (bool, error) {
	if btx := resolve(tx); btx != nil {
		if err := btx.flushPending(ctx, s.Name(), key); err != nil {
			return false, err
		}
	}
	return s.Store.ContainsKey(ctx, key, tx)
}

func (s *store) Mutate(ctx context.Context, key []byte, m kcv.Mutation, tx kcv.Tx) error {
	if btx := resolve(tx); btx != nil {
		return btx.add(ctx, s.Name(), key, m)
	}
	return s.Store.Mutate(ctx, key, m, tx)
}

// Tx is a batching transaction. It accumulates mutations per store and key
// and flushes them through the manager's batch mutator, either when the
// buffer reaches its configured size or at commit.
type Tx struct {
	inner         kcv.Tx
	flusher       kcv.BatchMutator
	size          int
	writeAttempts int
	attemptWait   time.Duration
	caches        map[string]kcv.KeyInvalidator

	batch    map[string]map[string]kcv.Mutation
	buffered int
	flushed  map[string][]string
}

// NewTx wraps inner in a batching transaction. size must be > 1 and
// writeAttempts must be positive; both are checked by the composition
// pipeline before a Tx is ever constructed. caches maps store names to
// the read caches that must drop entries for keys the batch flushes
// beneath them; it may be nil.
func NewTx(inner kcv.Tx, flusher kcv.BatchMutator, size, writeAttempts int, attemptWait time.Duration, caches map[string]kcv.KeyInvalidator) *Tx {
	return &Tx{
		inner:         inner,
		flusher:       flusher,
		size:          size,
		writeAttempts: writeAttempts,
		attemptWait:   attemptWait,
		caches:        caches,
		batch:         make(map[string]map[string]kcv.Mutation),
		flushed:       make(map[string][]string),
	}
}

// Inner returns the wrapped transaction.
func (t *Tx) Inner() kcv.Tx { return t.inner }

func (t *Tx) add(ctx context.Context, storeName string, key []byte, m kcv.Mutation) error {
	if m.IsEmpty() {
		return nil
	}
	byKey, ok := t.batch[storeName]
	if !ok {
		byKey = make(map[string]kcv.Mutation)
		t.batch[storeName] = byKey
	}
	cur := byKey[string(key)]
	cur.Additions = append(cur.Additions, m.Additions...)
	cur.Deletions = append(cur.Deletions, m.Deletions...)
	byKey[string(key)] = cur

	t.buffered += len(m.Additions) + len(m.Deletions)
	if t.buffered >= t.size {
		return t.flush(ctx)
	}
	return nil
}

// flushPending flushes the whole batch when it holds mutations for
// storeName/key, so a read inside the transaction observes writes issued
// earlier under the same transaction.
func (t *Tx) flushPending(ctx context.Context, storeName string, key []byte) error {
	if byKey, ok := t.batch[storeName]; ok {
		if _, ok := byKey[string(key)]; ok {
			return t.flush(ctx)
		}
	}
	return nil
}

// flush pushes the accumulated batch through the manager with bounded
// retries on transient failures. Exhaustion is terminal.
func (t *Tx) flush(ctx context.Context) error {
	if t.buffered == 0 {
		return nil
	}
	var lastErr error
	for attempt := 1; attempt <= t.writeAttempts; attempt++ {
		lastErr = t.flusher.MutateMany(ctx, t.batch, t.inner)
		if lastErr == nil {
			t.noteFlushed()
			t.batch = make(map[string]map[string]kcv.Mutation)
			t.buffered = 0
			return nil
		}
		if !kcv.IsTransient(lastErr) {
			return lastErr
		}
		if attempt < t.writeAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(t.attemptWait):
			}
		}
	}
	return fmt.Errorf("buffer flush failed after %d attempts: %w", t.writeAttempts, lastErr)
}

// noteFlushed invalidates cached reads for every key the batch just wrote
// beneath the caches, and remembers the keys so a rollback can invalidate
// them again after the backend reverts the writes.
func (t *Tx) noteFlushed() {
	for storeName, byKey := range t.batch {
		inv, ok := t.caches[storeName]
		if !ok {
			continue
		}
		for key := range byKey {
			inv.InvalidateKey([]byte(key))
			t.flushed[storeName] = append(t.flushed[storeName], key)
		}
	}
}

// Commit flushes any remaining buffered mutations, then commits the inner
// transaction.
func (t *Tx) Commit(ctx context.Context) error {
	if err := t.flush(ctx); err != nil {
		return err
	}
	return t.inner.Commit(ctx)
}

// Rollback drops the buffered mutations and rolls back the inner
// transaction. Keys already flushed may be reverted by the inner
// rollback; cached reads for them are invalidated either way.
func (t *Tx) Rollback(ctx context.Context) error {
	t.batch = make(map[string]map[string]kcv.Mutation)
	t.buffered = 0
	for storeName, keys := range t.flushed {
		inv := t.caches[storeName]
		for _, key := range keys {
			inv.InvalidateKey([]byte(key))
		}
	}
	t.flushed = make(map[string][]string)
	return t.inner.Rollback(ctx)
}
