package backend

import (
	"context"
	"time"

	"github.com/thicket-db/thicket/internal/index"
	"github.com/thicket-db/thicket/internal/kcv"
	"github.com/thicket-db/thicket/internal/kcv/buffer"
	"github.com/thicket-db/thicket/internal/locking"
)

// BackendTx is one logical unit of work spanning the primary store
// transaction (buffered when buffering is active), the optional auxiliary
// key-consistent transaction for lock bookkeeping, and one transaction
// per registered index provider. Instances share no mutable state;
// arbitrarily many may be open concurrently.
type BackendTx struct {
	tx kcv.Tx

	edgeStore        kcv.Store
	vertexIndexStore kcv.Store
	edgeIndexStore   kcv.Store

	indexTx map[string]*index.Tx

	readAttempts int
	attemptWait  time.Duration
}

// Tx returns the primary transaction handle that store operations under
// this unit of work must be issued with.
func (t *BackendTx) Tx() kcv.Tx { return t.tx }

// Aux returns the auxiliary key-consistent transaction, or nil when the
// capability profile does not require one.
func (t *BackendTx) Aux() kcv.Tx {
	if ltx, ok := t.tx.(*locking.Tx); ok {
		return ltx.Aux()
	}
	return nil
}

// EdgeStore returns the decorated edge data store.
func (t *BackendTx) EdgeStore() kcv.Store { return t.edgeStore }

// VertexIndexStore returns the decorated vertex index store.
func (t *BackendTx) VertexIndexStore() kcv.Store { return t.vertexIndexStore }

// EdgeIndexStore returns the decorated edge index store.
func (t *BackendTx) EdgeIndexStore() kcv.Store { return t.edgeIndexStore }

// IndexTx returns the transaction of the named index provider, or nil.
func (t *BackendTx) IndexTx(name string) *index.Tx { return t.indexTx[name] }

// IndexTxs returns the per-provider transaction mapping.
func (t *BackendTx) IndexTxs() map[string]*index.Tx { return t.indexTx }

// ReadAttempts returns the retry bound for downstream read operations.
func (t *BackendTx) ReadAttempts() int { return t.readAttempts }

// AttemptWait returns the inter-attempt wait for downstream operations.
func (t *BackendTx) AttemptWait() time.Duration { return t.attemptWait }

// Commit commits the primary transaction (flushing any buffered
// mutations as a whole), then every index transaction. The first error is
// reported; index transactions are still attempted after a failure so
// providers can release resources.
func (t *BackendTx) Commit(ctx context.Context) error {
	firstErr := t.tx.Commit(ctx)
	for _, itx := range t.indexTx {
		if err := itx.Commit(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Rollback rolls back everything, best effort. The first error is
// reported; all participants are attempted.
func (t *BackendTx) Rollback(ctx context.Context) error {
	firstErr := t.tx.Rollback(ctx)
	for _, itx := range t.indexTx {
		if err := itx.Rollback(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// BeginTx opens a new logical transaction against all registered backend
// systems. Safe for concurrent use; the Backend itself takes no locks
// here and relies on the storage manager and index providers being safe
// for concurrent transaction creation.
func (b *Backend) BeginTx(ctx context.Context) (*BackendTx, error) {
	if !b.initialized {
		return nil, storageErr("begin transaction", "backend is not initialized", nil)
	}

	tx, err := b.manager.BeginTx(ctx, kcv.ConsistencyDefault)
	if err != nil {
		return nil, storageErr("begin transaction", "primary transaction", err)
	}

	if b.bufferSize > 1 {
		tx = buffer.NewTx(tx, b.batcher, b.bufferSize, b.writeAttempts, b.attemptWait, b.caches)
	}

	if b.needsAux {
		aux, err := b.manager.BeginTx(ctx, kcv.ConsistencyKeyConsistent)
		if err != nil {
			_ = tx.Rollback(ctx)
			return nil, storageErr("begin transaction", "auxiliary key-consistent transaction", err)
		}
		tx = locking.NewTx(tx, aux)
	}

	indexTx := make(map[string]*index.Tx, len(b.indexes))
	for name, provider := range b.indexes {
		indexTx[name] = index.NewTx(provider)
	}

	return &BackendTx{
		tx:               tx,
		edgeStore:        b.edgeStore,
		vertexIndexStore: b.vertexIndexStore,
		edgeIndexStore:   b.edgeIndexStore,
		indexTx:          indexTx,
		readAttempts:     b.readAttempts,
		attemptWait:      b.attemptWait,
	}, nil
}
