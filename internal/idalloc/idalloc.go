// Package idalloc hands out exclusive identifier blocks from a dedicated
// id store. Allocated blocks are monotonically progressing and gap
// tolerant: a block claimed but never used is skipped.
//
// Two allocators exist, selected from the backend's capability profile the
// same way lock emulation is: transactional backends increment the block
// counter inside a native transaction; consistent-key backends claim blocks
// with timestamped claim records and seniority checks.
package idalloc

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/thicket-db/thicket/internal/kcv"
)

// ErrUnsupported is returned by New when the backend supports neither
// transactions nor consistent-key operations.
var ErrUnsupported = errors.New("idalloc: backend supports neither transactional nor consistent-key id allocation")

// ErrExhausted is returned when the configured retry budget runs out
// before a block is secured.
var ErrExhausted = errors.New("idalloc: retries exhausted")

var counterColumn = []byte("counter")

// Block is a half-open identifier range [Start, End) owned exclusively by
// the caller.
type Block struct {
	Start uint64
	End   uint64
}

// Authority allocates identifier blocks. Implementations are safe for
// concurrent use by multiple goroutines of one process; cross-process
// exclusivity comes from the underlying storage primitive.
type Authority interface {
	NextBlock(ctx context.Context, partition uint32) (Block, error)
	Close() error
}

// Config tunes block size and claim retries.
type Config struct {
	BlockSize uint64
	Retries   int
	Wait      time.Duration
	RID       uuid.UUID
}

// DefaultConfig returns the standard allocation parameters.
func DefaultConfig() Config {
	return Config{
		BlockSize: 10000,
		Retries:   5,
		Wait:      100 * time.Millisecond,
		RID:       uuid.New(),
	}
}

// New selects the allocation strategy for the manager's capability profile
// and binds it to idStore. Transactions win over consistent-key operations;
// a backend with neither yields ErrUnsupported.
func New(manager kcv.Manager, idStore kcv.Store, cfg Config) (Authority, error) {
	f := manager.Features()
	switch {
	case f.Transactions:
		return &txAllocator{manager: manager, store: idStore, cfg: cfg}, nil
	case f.ConsistentKey:
		return &ckAllocator{manager: manager, store: idStore, cfg: cfg}, nil
	default:
		return nil, ErrUnsupported
	}
}

func partitionKey(partition uint32) []byte {
	var k [4]byte
	binary.BigEndian.PutUint32(k[:], partition)
	return k[:]
}

// readCounter returns the current top of the counter for a partition, zero
// when the partition was never touched.
func readCounter(ctx context.Context, store kcv.Store, partition uint32, tx kcv.Tx) (uint64, error) {
	v, err := store.Get(ctx, partitionKey(partition), counterColumn, tx)
	if errors.Is(err, kcv.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(v) != 8 {
		return 0, fmt.Errorf("idalloc: malformed counter value (%d bytes)", len(v))
	}
	return binary.BigEndian.Uint64(v), nil
}

func counterValue(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}

// txAllocator increments the partition counter inside a native transaction.
// Conflicting allocations surface as transient commit failures and are
// retried within the configured budget.
type txAllocator struct {
	manager kcv.Manager
	store   kcv.Store
	cfg     Config
}

func (a *txAllocator) NextBlock(ctx context.Context, partition uint32) (Block, error) {
	var lastErr error
	for attempt := 0; attempt < a.cfg.Retries; attempt++ {
		block, err := a.tryAllocate(ctx, partition)
		if err == nil {
			return block, nil
		}
		if !kcv.IsTransient(err) {
			return Block{}, err
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return Block{}, ctx.Err()
		case <-time.After(a.cfg.Wait):
		}
	}
	return Block{}, fmt.Errorf("%w: %w", ErrExhausted, lastErr)
}

func (a *txAllocator) tryAllocate(ctx context.Context, partition uint32) (Block, error) {
	tx, err := a.manager.BeginTx(ctx, kcv.ConsistencyDefault)
	if err != nil {
		return Block{}, err
	}
	cur, err := readCounter(ctx, a.store, partition, tx)
	if err != nil {
		_ = tx.Rollback(ctx)
		return Block{}, err
	}
	next := cur + a.cfg.BlockSize
	m := kcv.Mutation{Additions: []kcv.Entry{{Column: counterColumn, Value: counterValue(next)}}}
	if err := a.store.Mutate(ctx, partitionKey(partition), m, tx); err != nil {
		_ = tx.Rollback(ctx)
		return Block{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Block{}, err
	}
	return Block{Start: cur, End: next}, nil
}

func (a *txAllocator) Close() error { return a.store.Close() }

// ckAllocator claims blocks with timestamped claim columns at the
// key-consistent level. The senior unexpired claim for a block wins; losers
// abandon the block and try the next one (gaps are tolerated by contract).
type ckAllocator struct {
	manager kcv.Manager
	store   kcv.Store
	cfg     Config
}

func (a *ckAllocator) NextBlock(ctx context.Context, partition uint32) (Block, error) {
	var lastErr error
	for attempt := 0; attempt < a.cfg.Retries; attempt++ {
		block, err := a.tryClaim(ctx, partition)
		if err == nil {
			return block, nil
		}
		if !kcv.IsTransient(err) && !errors.Is(err, errClaimLost) {
			return Block{}, err
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return Block{}, ctx.Err()
		case <-time.After(a.cfg.Wait):
		}
	}
	return Block{}, fmt.Errorf("%w: %w", ErrExhausted, lastErr)
}

var errClaimLost = errors.New("idalloc: block claimed by senior contender")

func (a *ckAllocator) tryClaim(ctx context.Context, partition uint32) (Block, error) {
	tx, err := a.manager.BeginTx(ctx, kcv.ConsistencyKeyConsistent)
	if err != nil {
		return Block{}, err
	}
	defer func() { _ = tx.Commit(ctx) }()

	cur, err := readCounter(ctx, a.store, partition, tx)
	if err != nil {
		return Block{}, err
	}
	next := cur + a.cfg.BlockSize

	// Claim column: target block end, then timestamp, then rid. Columns
	// sort by block first, so contenders for the same block are adjacent.
	now := time.Now()
	claim := make([]byte, 8+8+16)
	binary.BigEndian.PutUint64(claim, next)
	binary.BigEndian.PutUint64(claim[8:], uint64(now.UnixNano()))
	copy(claim[16:], a.cfg.RID[:])

	m := kcv.Mutation{Additions: []kcv.Entry{{Column: claim, Value: a.cfg.RID[:]}}}
	if err := a.store.Mutate(ctx, partitionKey(partition), m, tx); err != nil {
		return Block{}, err
	}
	if a.cfg.Wait > 0 {
		select {
		case <-ctx.Done():
			return Block{}, ctx.Err()
		case <-time.After(a.cfg.Wait):
		}
	}

	entries, err := a.store.Slice(ctx, partitionKey(partition), kcv.SliceQuery{}, tx)
	if err != nil {
		return Block{}, err
	}
	for _, e := range entries {
		if len(e.Column) != 8+8+16 {
			continue
		}
		end := binary.BigEndian.Uint64(e.Column)
		if end != next {
			continue
		}
		ts := time.Unix(0, int64(binary.BigEndian.Uint64(e.Column[8:])))
		var rid uuid.UUID
		copy(rid[:], e.Column[16:])
		if rid == a.cfg.RID {
			continue
		}
		if now.Sub(ts) < a.cfg.Wait*10 && ts.Before(now) {
			return Block{}, errClaimLost
		}
	}

	// Claim won: advance the counter so the next claimant starts above us.
	adv := kcv.Mutation{Additions: []kcv.Entry{{Column: counterColumn, Value: counterValue(next)}}}
	if err := a.store.Mutate(ctx, partitionKey(partition), adv, tx); err != nil {
		return Block{}, err
	}
	return Block{Start: cur, End: next}, nil
}

func (a *ckAllocator) Close() error { return a.store.Close() }
