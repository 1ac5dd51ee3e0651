// Package locking emulates distributed locks for backends that lack them.
//
// Two strategies exist, chosen once per Backend from the capability
// profile:
//
//   - transactional: the backend's own transaction isolation already yields
//     locking semantics, so lock requests pass straight through.
//   - consistent-key: lock claims are written as timestamped records to a
//     dedicated lock store through an auxiliary, key-consistent
//     transaction; seniority among claims decides the winner.
//
// The exact bytes of the claim protocol are deliberately minimal: a claim
// column is the big-endian nanosecond timestamp followed by the 16-byte
// instance rid. The package routes to the right emulation; it does not
// arbitrate contention beyond claim seniority.
package locking

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/thicket-db/thicket/internal/kcv"
)

var (
	// ErrContention is returned when a senior live claim by another
	// instance holds the requested lock.
	ErrContention = errors.New("locking: lock held by another transaction")

	// ErrExpectedValueMismatch is returned when the value guarded by the
	// lock changed before the lock was acquired.
	ErrExpectedValueMismatch = errors.New("locking: expected value mismatch")
)

// Config governs consistent-key lock emulation. It is constructed at most
// once per Backend lifetime and shared by all lock-wrapped stores.
type Config struct {
	// RID identifies this Backend instance inside lock claims.
	RID uuid.UUID

	// LockExpire bounds how long a claim is honored; stale claims are
	// ignored by contenders.
	LockExpire time.Duration

	// LockWait is the pause between claim write and seniority check,
	// giving concurrent claimants time to become visible.
	LockWait time.Duration
}

// DefaultConfig returns a Config with a fresh instance rid.
func DefaultConfig() Config {
	return Config{
		RID:        uuid.New(),
		LockExpire: 5 * time.Minute,
		LockWait:   100 * time.Millisecond,
	}
}

// transactional is the pass-through wrapper used when the backend's native
// transactions already provide locking.
type transactional struct {
	kcv.Store
}

// NewTransactional wraps s for backends whose transactions subsume locks.
func NewTransactional(s kcv.Store) kcv.Store {
	return &transactional{Store: s}
}

// consistentKey emulates locks with claim records. With a nil lockStore the
// wrapper runs the record-free variant: expected values are still verified,
// but no claim is persisted (used for derived stores that tolerate relaxed
// locking).
type consistentKey struct {
	kcv.Store
	lockStore kcv.Store
	cfg       Config
}

// NewConsistentKey wraps s with consistent-key lock emulation. lockStore
// holds the claim records and may be nil for the record-free variant.
func NewConsistentKey(s kcv.Store, lockStore kcv.Store, cfg Config) kcv.Store {
	return &consistentKey{Store: s, lockStore: lockStore, cfg: cfg}
}

func (s *consistentKey) AcquireLock(ctx context.Context, key, column, expected []byte, tx kcv.Tx) error {
	ltx, ok := tx.(*Tx)
	if !ok {
		return fmt.Errorf("locking: consistent-key lock requires a lock transaction, got %T", tx)
	}

	// Verify the guarded value before claiming.
	cur, err := s.Store.Get(ctx, key, column, ltx.aux)
	if err != nil && !errors.Is(err, kcv.ErrKeyNotFound) {
		return err
	}
	if !bytes.Equal(cur, expected) {
		return ErrExpectedValueMismatch
	}

	if s.lockStore == nil {
		return nil
	}

	now := time.Now()
	claimCol := claimColumn(now, s.cfg.RID)
	claim := kcv.Mutation{Additions: []kcv.Entry{{Column: claimCol, Value: s.cfg.RID[:]}}}
	if err := s.lockStore.Mutate(ctx, lockKey(key, column), claim, ltx.aux); err != nil {
		return err
	}
	ltx.recordClaim(s.lockStore, lockKey(key, column), claimCol)

	if s.cfg.LockWait > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.cfg.LockWait):
		}
	}
	return s.checkSeniority(ctx, lockKey(key, column), now, ltx)
}

// checkSeniority scans the claim records for the lock key. Another
// instance's unexpired claim with an earlier timestamp wins.
func (s *consistentKey) checkSeniority(ctx context.Context, lkey []byte, claimed time.Time, ltx *Tx) error {
	entries, err := s.lockStore.Slice(ctx, lkey, kcv.SliceQuery{}, ltx.aux)
	if err != nil {
		return err
	}
	oldest := claimed.Add(-s.cfg.LockExpire)
	for _, e := range entries {
		ts, rid, ok := parseClaim(e.Column)
		if !ok || rid == s.cfg.RID {
			continue
		}
		if ts.Before(oldest) {
			continue // expired claim
		}
		if ts.Before(claimed) {
			return ErrContention
		}
	}
	return nil
}

// lockKey derives the claim record key for a key/column pair. Key and
// column are length-prefixed so distinct pairs never collide.
func lockKey(key, column []byte) []byte {
	out := make([]byte, 0, 4+len(key)+len(column))
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(key)))
	out = append(out, n[:]...)
	out = append(out, key...)
	out = append(out, column...)
	return out
}

func claimColumn(ts time.Time, rid uuid.UUID) []byte {
	out := make([]byte, 8+len(rid))
	binary.BigEndian.PutUint64(out, uint64(ts.UnixNano()))
	copy(out[8:], rid[:])
	return out
}

func parseClaim(col []byte) (time.Time, uuid.UUID, bool) {
	if len(col) != 8+16 {
		return time.Time{}, uuid.UUID{}, false
	}
	ts := time.Unix(0, int64(binary.BigEndian.Uint64(col)))
	var rid uuid.UUID
	copy(rid[:], col[8:])
	return ts, rid, true
}
