package backend

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thicket-db/thicket/internal/index"
	"github.com/thicket-db/thicket/internal/kcv"
	"github.com/thicket-db/thicket/internal/kcvtest"
)

func TestBeginTxOpensAuxiliaryForConsistentKeyEmulation(t *testing.T) {
	ctx := context.Background()
	b, mgr := newTestBackend(t, kcv.Features{ConsistentKey: true, BatchMutation: true}, nil)
	require.NoError(t, b.Initialize(ctx))

	tx, err := b.BeginTx(ctx)
	require.NoError(t, err)
	require.NotNil(t, tx.Aux())

	txs := mgr.Txs()
	require.Len(t, txs, 2)
	assert.Equal(t, kcv.ConsistencyDefault, txs[0].Level)
	assert.Equal(t, kcv.ConsistencyKeyConsistent, txs[1].Level)

	require.NoError(t, tx.Rollback(ctx))
}

func TestBeginTxNoAuxiliaryWithNativeTransactions(t *testing.T) {
	ctx := context.Background()
	b, mgr := newTestBackend(t, kcv.Features{Transactions: true, BatchMutation: true}, nil)
	require.NoError(t, b.Initialize(ctx))

	tx, err := b.BeginTx(ctx)
	require.NoError(t, err)
	assert.Nil(t, tx.Aux())
	require.Len(t, mgr.Txs(), 1)

	require.NoError(t, tx.Rollback(ctx))
}

func TestBufferedWritesFlushOnCommit(t *testing.T) {
	ctx := context.Background()
	b, mgr := newTestBackend(t, kcv.Features{Transactions: true, BatchMutation: true}, func(c *Config) {
		c.BufferSize = 100
	})
	require.NoError(t, b.Initialize(ctx))

	tx, err := b.BeginTx(ctx)
	require.NoError(t, err)

	mut := kcv.Mutation{Additions: []kcv.Entry{{Column: []byte("c"), Value: []byte("v")}}}
	require.NoError(t, tx.EdgeStore().Mutate(ctx, []byte("key-0000"), mut, tx.Tx()))

	// Nothing reaches the backend before commit.
	assert.Empty(t, mgr.Batches())
	assert.Equal(t, 0, mgr.Store(EdgeStoreName).MutationCount())

	require.NoError(t, tx.Commit(ctx))
	require.Len(t, mgr.Batches(), 1)
	assert.Equal(t, 1, mgr.Store(EdgeStoreName).MutationCount())
}

func TestBufferedWritesDroppedOnRollback(t *testing.T) {
	ctx := context.Background()
	b, mgr := newTestBackend(t, kcv.Features{Transactions: true, BatchMutation: true}, func(c *Config) {
		c.BufferSize = 100
	})
	require.NoError(t, b.Initialize(ctx))

	tx, err := b.BeginTx(ctx)
	require.NoError(t, err)

	mut := kcv.Mutation{Additions: []kcv.Entry{{Column: []byte("c"), Value: []byte("v")}}}
	require.NoError(t, tx.EdgeStore().Mutate(ctx, []byte("key-0000"), mut, tx.Tx()))
	require.NoError(t, tx.Rollback(ctx))

	assert.Empty(t, mgr.Batches())
	assert.Equal(t, 0, mgr.Store(EdgeStoreName).MutationCount())
}

func TestBufferingComposesWithLockEmulation(t *testing.T) {
	ctx := context.Background()
	b, mgr := newTestBackend(t, kcv.Features{ConsistentKey: true, BatchMutation: true}, func(c *Config) {
		c.BufferSize = 100
	})
	require.NoError(t, b.Initialize(ctx))

	tx, err := b.BeginTx(ctx)
	require.NoError(t, err)
	require.NotNil(t, tx.Aux())

	mut := kcv.Mutation{Additions: []kcv.Entry{{Column: []byte("c"), Value: []byte("v")}}}
	require.NoError(t, tx.EdgeStore().Mutate(ctx, []byte("key-0000"), mut, tx.Tx()))

	// The auxiliary wrapper must not defeat buffering: nothing reaches
	// the backend before commit.
	assert.Empty(t, mgr.Batches())
	assert.Equal(t, 0, mgr.Store(EdgeStoreName).MutationCount())

	require.NoError(t, tx.Commit(ctx))
	require.Len(t, mgr.Batches(), 1)
	assert.Equal(t, 1, mgr.Store(EdgeStoreName).MutationCount())
}

func TestBufferedWritesDroppedOnRollbackUnderLockEmulation(t *testing.T) {
	ctx := context.Background()
	b, mgr := newTestBackend(t, kcv.Features{ConsistentKey: true, BatchMutation: true}, func(c *Config) {
		c.BufferSize = 100
	})
	require.NoError(t, b.Initialize(ctx))

	tx, err := b.BeginTx(ctx)
	require.NoError(t, err)

	mut := kcv.Mutation{Additions: []kcv.Entry{{Column: []byte("c"), Value: []byte("v")}}}
	require.NoError(t, tx.EdgeStore().Mutate(ctx, []byte("key-0000"), mut, tx.Tx()))
	require.NoError(t, tx.Rollback(ctx))

	assert.Empty(t, mgr.Batches())
	assert.Equal(t, 0, mgr.Store(EdgeStoreName).MutationCount())
}

func TestBufferedWritesVisibleInsideOwnTransaction(t *testing.T) {
	ctx := context.Background()
	b, mgr := newTestBackend(t, kcv.Features{Transactions: true, BatchMutation: true}, func(c *Config) {
		c.BufferSize = 100
	})
	require.NoError(t, b.Initialize(ctx))

	key, col := []byte("key-0000"), []byte("c")
	seed := kcv.Mutation{Additions: []kcv.Entry{{Column: col, Value: []byte("v1")}}}
	require.NoError(t, mgr.Store(EdgeStoreName).Mutate(ctx, key, seed, nil))

	tx, err := b.BeginTx(ctx)
	require.NoError(t, err)
	mut := kcv.Mutation{Additions: []kcv.Entry{{Column: col, Value: []byte("v2")}}}
	require.NoError(t, tx.EdgeStore().Mutate(ctx, key, mut, tx.Tx()))

	v, err := tx.EdgeStore().Get(ctx, key, col, tx.Tx())
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), v)
	require.NoError(t, tx.Commit(ctx))
}

func TestBufferedCommitInvalidatesSharedReadCache(t *testing.T) {
	ctx := context.Background()
	b, mgr := newTestBackend(t, kcv.Features{Transactions: true, BatchMutation: true}, func(c *Config) {
		c.BufferSize = 100
	})
	require.NoError(t, b.Initialize(ctx))

	key, col := []byte("key-0000"), []byte("c")
	seed := kcv.Mutation{Additions: []kcv.Entry{{Column: col, Value: []byte("v1")}}}
	require.NoError(t, mgr.Store(EdgeStoreName).Mutate(ctx, key, seed, nil))

	txA, err := b.BeginTx(ctx)
	require.NoError(t, err)
	mut := kcv.Mutation{Additions: []kcv.Entry{{Column: col, Value: []byte("v2")}}}
	require.NoError(t, txA.EdgeStore().Mutate(ctx, key, mut, txA.Tx()))

	// A second transaction reads while the replacement still sits in the
	// first one's buffer; the old value lands in the shared cache.
	txB, err := b.BeginTx(ctx)
	require.NoError(t, err)
	v, err := txB.EdgeStore().Get(ctx, key, col, txB.Tx())
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), v)
	require.NoError(t, txB.Rollback(ctx))

	require.NoError(t, txA.Commit(ctx))

	// The commit flushed the batch beneath the cache; the cached value
	// must not survive it.
	txC, err := b.BeginTx(ctx)
	require.NoError(t, err)
	v, err = txC.EdgeStore().Get(ctx, key, col, txC.Tx())
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), v)
	require.NoError(t, txC.Rollback(ctx))
}

func TestBeginTxRequiresInitialize(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBackend(t, kcv.Features{Transactions: true, BatchMutation: true}, nil)

	tx, err := b.BeginTx(ctx)
	require.Error(t, err)
	assert.Nil(t, tx)
	assert.True(t, IsStorage(err))
	assert.Contains(t, err.Error(), "not initialized")
}

func TestConcurrentTransactionsAreIndependent(t *testing.T) {
	ctx := context.Background()
	b, mgr := newTestBackend(t, kcv.Features{Transactions: true, BatchMutation: true}, func(c *Config) {
		c.BufferSize = 100
	})
	require.NoError(t, b.Initialize(ctx))

	const n = 16
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tx, err := b.BeginTx(ctx)
			if err != nil {
				errs[i] = err
				return
			}
			key := []byte(fmt.Sprintf("key-%04d", i))
			mut := kcv.Mutation{Additions: []kcv.Entry{{Column: []byte("c"), Value: []byte("v")}}}
			if err := tx.EdgeStore().Mutate(ctx, key, mut, tx.Tx()); err != nil {
				errs[i] = err
				return
			}
			// Even-numbered transactions commit, odd ones roll back.
			if i%2 == 0 {
				errs[i] = tx.Commit(ctx)
			} else {
				errs[i] = tx.Rollback(ctx)
			}
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "transaction %d", i)
	}

	raw := mgr.Store(EdgeStoreName)
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key-%04d", i))
		ok, err := raw.ContainsKey(ctx, key, nil)
		require.NoError(t, err)
		assert.Equal(t, i%2 == 0, ok, "key-%04d", i)
	}
}

func TestCommitSpansIndexTransactions(t *testing.T) {
	ctx := context.Background()
	mgr := kcvtest.NewManager(kcv.Features{Transactions: true, BatchMutation: true})
	inner := &recordingProvider{}
	cfg := DefaultConfig()
	b, err := assemble(cfg, mgr, map[string]index.Provider{"search": inner})
	require.NoError(t, err)
	require.NoError(t, b.Initialize(ctx))

	tx, err := b.BeginTx(ctx)
	require.NoError(t, err)
	require.NotNil(t, tx.IndexTx("search"))
	assert.Nil(t, tx.IndexTx("missing"))
	assert.Len(t, tx.IndexTxs(), 1)

	tx.IndexTx("search").Add(VertexIndexStoreName, "doc-1", index.Entry{Field: "name", Value: "a"})
	require.NoError(t, tx.Commit(ctx))
}

func TestTxCarriesRetryTuning(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBackend(t, kcv.Features{Transactions: true, BatchMutation: true}, func(c *Config) {
		c.ReadAttempts = 7
	})
	require.NoError(t, b.Initialize(ctx))

	tx, err := b.BeginTx(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, tx.ReadAttempts())
	assert.Equal(t, b.attemptWait, tx.AttemptWait())
	require.NoError(t, tx.Rollback(ctx))
}
