package backend

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thicket-db/thicket/internal/index"
	"github.com/thicket-db/thicket/internal/kcv"
	"github.com/thicket-db/thicket/internal/kcvtest"
)

// newTestBackend assembles a Backend around a fake manager with the given
// capability profile. Waits are shortened so retry tests stay fast.
func newTestBackend(t *testing.T, feats kcv.Features, edit func(*Config)) (*Backend, *kcvtest.Manager) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.AttemptWait = 5 * time.Millisecond
	cfg.SetupWait = 20 * time.Millisecond
	if edit != nil {
		edit(&cfg)
	}
	mgr := kcvtest.NewManager(feats)
	b, err := assemble(cfg, mgr, nil)
	require.NoError(t, err)
	return b, mgr
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WriteAttempts = 0
	b, err := New(cfg)
	require.Error(t, err)
	assert.Nil(t, b)
	assert.True(t, IsConfiguration(err))
}

func TestNewUnknownBackendIsConfigurationError(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backend = "no-such-backend"
	b, err := New(cfg)
	require.Error(t, err)
	assert.Nil(t, b)
	assert.True(t, IsConfiguration(err))
}

func TestNewUnknownIndexIsConfigurationError(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Index = map[string]IndexConfig{"search": {Backend: "no-such-index"}}
	b, err := New(cfg)
	require.Error(t, err)
	assert.Nil(t, b)
	assert.True(t, IsConfiguration(err))
}

func TestNewAgainstInMemoryBackend(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Index = map[string]IndexConfig{"search": {Backend: "inmemory"}}
	b, err := New(cfg)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, b.Initialize(ctx))
	assert.Equal(t, "consistent-key", b.LockStrategy())
	assert.Equal(t, []string{"search"}, b.IndexNames())
	assert.NotNil(t, b.IDAuthority())

	tx, err := b.BeginTx(ctx)
	require.NoError(t, err)
	require.NotNil(t, tx.Aux())
	require.NoError(t, tx.Rollback(ctx))

	require.NoError(t, b.Close())
}

func TestBufferSizeClampedWithoutBatchMutation(t *testing.T) {
	b, _ := newTestBackend(t, kcv.Features{Transactions: true}, func(c *Config) {
		c.BufferSize = 1024
	})
	assert.Equal(t, 0, b.bufferSize)
	assert.NotContains(t, b.Plan(EdgeStoreName, true, false), "buffer(size=1024)")
}

func TestBufferSizeOneDisablesBuffering(t *testing.T) {
	b, _ := newTestBackend(t, kcv.Features{Transactions: true, BatchMutation: true}, func(c *Config) {
		c.BufferSize = 1
	})
	assert.Equal(t, 1, b.bufferSize)
	for _, step := range b.Plan(EdgeStoreName, true, false) {
		assert.NotContains(t, step, "buffer")
	}
}

func TestHashPrefixRequiresDistributedAndOrdered(t *testing.T) {
	tests := []struct {
		name  string
		feats kcv.Features
		want  bool
	}{
		{"both", kcv.Features{ConsistentKey: true, Distributed: true, KeyOrdered: true}, true},
		{"distributed only", kcv.Features{ConsistentKey: true, Distributed: true}, false},
		{"ordered only", kcv.Features{ConsistentKey: true, KeyOrdered: true}, false},
		{"neither", kcv.Features{ConsistentKey: true}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, _ := newTestBackend(t, tt.feats, nil)
			assert.Equal(t, tt.want, b.HashPrefixIndex())
		})
	}
}

func TestInitializeFailsWithoutIDAllocationCapability(t *testing.T) {
	b, _ := newTestBackend(t, kcv.Features{Locking: true}, nil)
	err := b.Initialize(context.Background())
	require.Error(t, err)
	assert.True(t, IsCapability(err))
}

func TestIDAuthorityPanicsBeforeInitialize(t *testing.T) {
	b, _ := newTestBackend(t, kcv.Features{Transactions: true}, nil)
	assert.Panics(t, func() { b.IDAuthority() })
}

type recordingProvider struct {
	clearErr error
	closed   bool
	cleared  bool
}

func (p *recordingProvider) Mutate(ctx context.Context, store, docID string, additions []index.Entry, deletions []string) error {
	return nil
}
func (p *recordingProvider) Close() error { p.closed = true; return nil }
func (p *recordingProvider) ClearStorage(ctx context.Context) error {
	p.cleared = true
	return p.clearErr
}

func TestCloseClosesEverything(t *testing.T) {
	mgr := kcvtest.NewManager(kcv.Features{Transactions: true, BatchMutation: true})
	provider := &recordingProvider{}
	cfg := DefaultConfig()
	b, err := assemble(cfg, mgr, map[string]index.Provider{"search": provider})
	require.NoError(t, err)
	require.NoError(t, b.Initialize(context.Background()))

	require.NoError(t, b.Close())
	assert.True(t, mgr.Closed())
	assert.True(t, provider.closed)
}

func TestClearStorageBestEffort(t *testing.T) {
	mgr := kcvtest.NewManager(kcv.Features{Transactions: true, BatchMutation: true})
	failing := &recordingProvider{clearErr: errors.New("index teardown failed")}
	healthy := &recordingProvider{}
	cfg := DefaultConfig()
	b, err := assemble(cfg, mgr, map[string]index.Provider{
		"broken":  failing,
		"healthy": healthy,
	})
	require.NoError(t, err)
	require.NoError(t, b.Initialize(context.Background()))

	err = b.ClearStorage(context.Background())
	require.Error(t, err)

	// The failure does not stop later steps: the manager and the healthy
	// provider are still cleared.
	assert.True(t, mgr.Cleared())
	assert.True(t, failing.cleared)
	assert.True(t, healthy.cleared)
}

func TestFeaturesCapturedOnce(t *testing.T) {
	mgr := kcvtest.NewManager(kcv.Features{Transactions: true})
	cfg := DefaultConfig()
	b, err := assemble(cfg, mgr, nil)
	require.NoError(t, err)

	// Flipping the fake's profile after construction must not change the
	// backend's captured profile.
	mgr.Feats = kcv.Features{Locking: true}
	assert.Equal(t, kcv.Features{Transactions: true}, b.Features())
	assert.Equal(t, "transactional", b.LockStrategy())
}

func TestBatcherAssertedAtConstruction(t *testing.T) {
	// A manager advertising batch mutation but not implementing the
	// batcher contract is rejected up front.
	mgr := &managerWithoutExtras{kcvtest.NewManager(kcv.Features{Transactions: true, BatchMutation: true})}
	cfg := DefaultConfig()
	b, err := assemble(cfg, mgr, nil)
	require.Error(t, err)
	assert.Nil(t, b)
	assert.True(t, IsCapability(err))
	assert.Contains(t, err.Error(), "batch mutation")
}

// managerWithoutExtras hides the fake's optional interfaces
// (BatchMutator, PropertyStore) behind the plain manager contract.
type managerWithoutExtras struct {
	inner *kcvtest.Manager
}

func (m *managerWithoutExtras) Features() kcv.Features { return m.inner.Features() }
func (m *managerWithoutExtras) OpenStore(ctx context.Context, name string, opts kcv.StoreOptions) (kcv.Store, error) {
	return m.inner.OpenStore(ctx, name, opts)
}
func (m *managerWithoutExtras) BeginTx(ctx context.Context, level kcv.Consistency) (kcv.Tx, error) {
	return m.inner.BeginTx(ctx, level)
}
func (m *managerWithoutExtras) Close() error { return m.inner.Close() }
func (m *managerWithoutExtras) ClearStorage(ctx context.Context) error {
	return m.inner.ClearStorage(ctx)
}

func TestIndexNamesSorted(t *testing.T) {
	mgr := kcvtest.NewManager(kcv.Features{Transactions: true})
	providers := map[string]index.Provider{}
	for i := 0; i < 3; i++ {
		providers[fmt.Sprintf("idx%d", i)] = &recordingProvider{}
	}
	cfg := DefaultConfig()
	b, err := assemble(cfg, mgr, providers)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"idx0", "idx1", "idx2"}, b.IndexNames())
}
