package kcv

import (
	"context"
	"errors"
)

// Consistency selects the isolation level a transaction is opened at.
type Consistency int

const (
	// ConsistencyDefault is the backend's normal read/write level.
	ConsistencyDefault Consistency = iota

	// ConsistencyKeyConsistent demands strict per-key atomicity at the
	// strongest level the backend offers. Lock bookkeeping runs at this
	// level.
	ConsistencyKeyConsistent
)

func (c Consistency) String() string {
	if c == ConsistencyKeyConsistent {
		return "key-consistent"
	}
	return "default"
}

// Entry is a single column/value pair under some key.
type Entry struct {
	Column []byte
	Value  []byte
}

// Mutation is the unit of change for one key: columns to add or overwrite,
// and columns to delete. Deletions are applied before additions.
type Mutation struct {
	Additions []Entry
	Deletions [][]byte
}

// IsEmpty reports whether the mutation changes nothing.
func (m Mutation) IsEmpty() bool {
	return len(m.Additions) == 0 && len(m.Deletions) == 0
}

// SliceQuery selects a column range [Start, End) under one key.
// A zero Limit means unbounded.
type SliceQuery struct {
	Start []byte
	End   []byte
	Limit int
}

// Tx is one backend transaction. Implementations are not safe for
// concurrent use; each logical unit of work owns its own Tx.
type Tx interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// TxWrapper is implemented by transactions that decorate another
// transaction. A store that must recognize its own transaction type walks
// the chain with Unwrap instead of asserting on the outermost handle.
type TxWrapper interface {
	Inner() Tx
}

// Unwrap returns the transaction tx decorates, or nil when tx is not a
// wrapper.
func Unwrap(tx Tx) Tx {
	if w, ok := tx.(TxWrapper); ok {
		return w.Inner()
	}
	return nil
}

// KeyInvalidator is implemented by store wrappers that hold derived
// per-key state and must drop it when the key changes beneath them.
type KeyInvalidator interface {
	InvalidateKey(key []byte)
}

// Store is one named logical store. All reads and writes are routed through
// the transaction that the caller opened on the owning Manager; wrappers
// decorate this interface without changing it.
type Store interface {
	// Name returns the store's fixed name. Wrappers preserve it.
	Name() string

	Get(ctx context.Context, key, column []byte, tx Tx) ([]byte, error)
	Slice(ctx context.Context, key []byte, q SliceQuery, tx Tx) ([]Entry, error)
	ContainsKey(ctx context.Context, key []byte, tx Tx) (bool, error)
	Mutate(ctx context.Context, key []byte, m Mutation, tx Tx) error

	// AcquireLock claims key/column for this transaction, asserting the
	// column currently holds expected (nil for absent). How the claim is
	// honored depends on the backend or the lock-emulation wrapper above
	// this store.
	AcquireLock(ctx context.Context, key, column, expected []byte, tx Tx) error

	Close() error
}

// Features is the immutable capability profile of a backend. It is queried
// once at Backend construction; every composition decision downstream is a
// pure function of this value.
type Features struct {
	// Locking: the backend provides distributed locks natively.
	Locking bool

	// Transactions: the backend provides native transactions whose
	// isolation already yields locking semantics.
	Transactions bool

	// ConsistentKey: the backend supports atomic, strongly-consistent
	// read-modify-write on a single key.
	ConsistentKey bool

	// BatchMutation: the manager implements BatchMutator.
	BatchMutation bool

	// Distributed: data is partitioned across machines.
	Distributed bool

	// KeyOrdered: keys are stored in byte order (clustering keyspace).
	KeyOrdered bool
}

// StoreOptions carries per-store open parameters.
type StoreOptions struct {
	// FixedKeyLength pins keys of this store to an exact byte width.
	// Zero means variable-length keys.
	FixedKeyLength int
}

// Manager is a backend's top-level handle: it opens named stores, starts
// transactions, and owns teardown. Managers must be safe for concurrent
// BeginTx calls.
type Manager interface {
	Features() Features
	OpenStore(ctx context.Context, name string, opts StoreOptions) (Store, error)
	BeginTx(ctx context.Context, level Consistency) (Tx, error)
	Close() error

	// ClearStorage irreversibly deletes all data held by this backend.
	ClearStorage(ctx context.Context) error
}

// BatchMutator is implemented by managers that can apply a batch of
// mutations across stores and keys in one physical call. The batch maps
// store name -> string(key) -> mutation.
type BatchMutator interface {
	MutateMany(ctx context.Context, batch map[string]map[string]Mutation, tx Tx) error
}

// PropertyStore is implemented by managers that persist small named
// configuration properties (used for the compatibility version marker).
// GetProperty returns ("", nil) when the property was never set.
type PropertyStore interface {
	GetProperty(ctx context.Context, key string) (string, error)
	SetProperty(ctx context.Context, key, value string) error
}

// ErrKeyNotFound is returned by Get when the key/column does not exist.
var ErrKeyNotFound = errors.New("kcv: key not found")

type transientError struct {
	err error
}

func (e *transientError) Error() string { return "transient: " + e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient marks err as retryable by bounded-retry callers.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err (or anything it wraps) was marked with
// Transient.
func IsTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}
