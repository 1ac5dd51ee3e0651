package backend

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thicket-db/thicket/internal/kcv"
	"github.com/thicket-db/thicket/internal/kcvtest"
)

func TestBuildStoreOutermostWrapper(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		feats   kcv.Features
		edit    func(*Config)
		wantTyp string
	}{
		{
			"native locking passes through to cache",
			kcv.Features{Locking: true, Transactions: true},
			func(c *Config) { c.BufferSize = 0 },
			"*cache.store",
		},
		{
			"transactional emulation",
			kcv.Features{Transactions: true},
			func(c *Config) { c.BufferSize = 0 },
			"*locking.transactional",
		},
		{
			"consistent-key emulation",
			kcv.Features{ConsistentKey: true},
			func(c *Config) { c.BufferSize = 0 },
			"*locking.consistentKey",
		},
		{
			"metrics outermost when enabled",
			kcv.Features{Transactions: true},
			func(c *Config) { c.BufferSize = 0; c.BasicMetrics = true },
			"*metricsstore.store",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, _ := newTestBackend(t, tt.feats, tt.edit)
			store, err := b.buildStore(ctx, EdgeStoreName, true, false)
			require.NoError(t, err)
			assert.Equal(t, tt.wantTyp, fmt.Sprintf("%T", store))
		})
	}
}

func TestConsistentKeyLockStoreOpened(t *testing.T) {
	ctx := context.Background()
	b, mgr := newTestBackend(t, kcv.Features{ConsistentKey: true, BatchMutation: true}, nil)
	require.NoError(t, b.Initialize(ctx))

	opened := mgr.OpenedStores()
	assert.Contains(t, opened, EdgeStoreName+LockStoreSuffix)
	assert.Contains(t, opened, VertexIndexStoreName+LockStoreSuffix)

	// The edge index store runs with relaxed lock emulation: no record
	// store is opened for it.
	assert.NotContains(t, opened, EdgeIndexStoreName+LockStoreSuffix)
}

func TestNoLockStoreForTransactionalEmulation(t *testing.T) {
	ctx := context.Background()
	b, mgr := newTestBackend(t, kcv.Features{Transactions: true, BatchMutation: true}, nil)
	require.NoError(t, b.Initialize(ctx))

	for _, name := range mgr.OpenedStores() {
		assert.NotContains(t, name, LockStoreSuffix)
	}
}

func TestApplyLockingUnsupported(t *testing.T) {
	ctx := context.Background()
	b := &Backend{strategy: lockUnsupported}
	raw, err := kcvtest.NewManager(kcv.Features{}).OpenStore(ctx, EdgeStoreName, kcv.StoreOptions{})
	require.NoError(t, err)

	store, err := b.applyLocking(ctx, raw, true)
	require.Error(t, err)
	assert.Nil(t, store)
	assert.True(t, IsCapability(err))
	assert.Contains(t, err.Error(), "no usable locking strategy")
}

func TestStaticKeyWidthsApplied(t *testing.T) {
	ctx := context.Background()
	b, mgr := newTestBackend(t, kcv.Features{ConsistentKey: true, BatchMutation: true}, nil)
	require.NoError(t, b.Initialize(ctx))

	tests := []struct {
		store string
		width int
	}{
		{EdgeStoreName, 8},
		{EdgeStoreName + LockStoreSuffix, 8},
		{IDStoreName, 4},
		{VertexIndexStoreName, 0},
		{EdgeIndexStoreName, 0},
	}
	for _, tt := range tests {
		opts, ok := mgr.OpenedOptions(tt.store)
		require.True(t, ok, "store %q was never opened", tt.store)
		assert.Equal(t, tt.width, opts.FixedKeyLength, "store %q", tt.store)
	}
}

func TestMetricsName(t *testing.T) {
	b := &Backend{}
	assert.Equal(t, "thicket.edgestore", b.metricsName(EdgeStoreName))

	b.mergeBasicMetrics = true
	assert.Equal(t, "thicket.stores", b.metricsName(EdgeStoreName))
	assert.Equal(t, "thicket.stores", b.metricsName(VertexIndexStoreName))
}

// renderPlans writes the three logical stores' wrapper chains in a fixed
// layout for golden comparison.
func renderPlans(b *Backend) []byte {
	var buf bytes.Buffer
	stores := []struct {
		name        string
		lockEnabled bool
		hashPrefix  bool
	}{
		{EdgeStoreName, true, false},
		{VertexIndexStoreName, true, b.HashPrefixIndex()},
		{EdgeIndexStoreName, false, b.HashPrefixIndex()},
	}
	for _, s := range stores {
		fmt.Fprintf(&buf, "%s:\n", s.name)
		for _, step := range b.Plan(s.name, s.lockEnabled, s.hashPrefix) {
			fmt.Fprintf(&buf, "  %s\n", step)
		}
	}
	return buf.Bytes()
}

func TestCompositionPlanGolden(t *testing.T) {
	tests := []struct {
		name  string
		feats kcv.Features
		edit  func(*Config)
	}{
		{
			"composition_native",
			kcv.Features{Locking: true, Transactions: true, BatchMutation: true},
			func(c *Config) { c.BufferSize = 1024; c.BasicMetrics = true },
		},
		{
			"composition_transactional",
			kcv.Features{Transactions: true},
			func(c *Config) { c.BufferSize = 1024 },
		},
		{
			"composition_consistent_key",
			kcv.Features{ConsistentKey: true, BatchMutation: true},
			func(c *Config) { c.BufferSize = 512 },
		},
		{
			"composition_distributed_ordered",
			kcv.Features{ConsistentKey: true, BatchMutation: true, Distributed: true, KeyOrdered: true},
			func(c *Config) {
				c.BufferSize = 0
				c.BasicMetrics = true
				c.MergeBasicMetrics = true
			},
		},
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, _ := newTestBackend(t, tt.feats, tt.edit)
			g.Assert(t, tt.name, renderPlans(b))
		})
	}
}
