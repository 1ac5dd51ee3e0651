package locking

import (
	"context"

	"github.com/thicket-db/thicket/internal/kcv"
)

// claimRef remembers a written claim so it can be cleaned up at the end of
// the transaction.
type claimRef struct {
	store  kcv.Store
	key    []byte
	column []byte
}

// Tx pairs the primary transaction with the auxiliary key-consistent
// transaction that consistent-key lock emulation requires. Claims written
// during the transaction are deleted, best effort, on commit and rollback.
type Tx struct {
	inner  kcv.Tx
	aux    kcv.Tx
	claims []claimRef
}

// NewTx builds the lock transaction around the primary transaction (inner,
// possibly already buffered) and the auxiliary key-consistent transaction.
func NewTx(inner, aux kcv.Tx) *Tx {
	return &Tx{inner: inner, aux: aux}
}

// Inner returns the wrapped primary transaction.
func (t *Tx) Inner() kcv.Tx { return t.inner }

// Aux returns the auxiliary key-consistent transaction.
func (t *Tx) Aux() kcv.Tx { return t.aux }

func (t *Tx) recordClaim(store kcv.Store, key, column []byte) {
	t.claims = append(t.claims, claimRef{store: store, key: key, column: column})
}

// releaseClaims deletes every claim written under this transaction. Errors
// are ignored: an orphaned claim expires on its own after LockExpire.
func (t *Tx) releaseClaims(ctx context.Context) {
	for _, c := range t.claims {
		m := kcv.Mutation{Deletions: [][]byte{c.column}}
		_ = c.store.Mutate(ctx, c.key, m, t.aux)
	}
	t.claims = nil
}

// Commit commits the primary transaction first, then releases claims and
// commits the auxiliary transaction. A primary failure leaves claims in
// place for expiry rather than releasing locks under a half-applied write.
func (t *Tx) Commit(ctx context.Context) error {
	if err := t.inner.Commit(ctx); err != nil {
		_ = t.aux.Rollback(ctx)
		return err
	}
	t.releaseClaims(ctx)
	return t.aux.Commit(ctx)
}

// Rollback releases claims, then rolls back the auxiliary and primary
// transactions. The first error is reported; all steps are attempted.
func (t *Tx) Rollback(ctx context.Context) error {
	t.releaseClaims(ctx)
	auxErr := t.aux.Commit(ctx) // claim deletions must still apply
	innerErr := t.inner.Rollback(ctx)
	if innerErr != nil {
		return innerErr
	}
	return auxErr
}
