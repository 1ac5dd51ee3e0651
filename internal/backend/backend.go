package backend

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/thicket-db/thicket/internal/idalloc"
	"github.com/thicket-db/thicket/internal/index"
	"github.com/thicket-db/thicket/internal/kcv"
	"github.com/thicket-db/thicket/internal/kcv/metricsstore"
	"github.com/thicket-db/thicket/internal/locking"
)

// Backend orchestrates and configures all storage systems: the primary
// key-column-value backend and every registered index provider. It is
// single-writer during construction and initialization and effectively
// read-only afterwards; BeginTx may be called concurrently from
// arbitrarily many goroutines.
type Backend struct {
	manager  kcv.Manager
	features kcv.Features
	batcher  kcv.BatchMutator
	indexes  map[string]index.Provider

	edgeStore        kcv.Store
	vertexIndexStore kcv.Store
	edgeIndexStore   kcv.Store
	idAuthority      idalloc.Authority
	caches           map[string]kcv.KeyInvalidator

	strategy lockStrategy
	needsAux bool
	lockCfg  *locking.Config
	rid      uuid.UUID

	bufferSize        int
	hashPrefixIndex   bool
	basicMetrics      bool
	mergeBasicMetrics bool

	writeAttempts int
	readAttempts  int
	attemptWait   time.Duration
	setupWait     time.Duration
	idBlockSize   uint64

	log         *slog.Logger
	initialized bool
}

// New resolves and instantiates the configured storage backend and index
// providers, captures the capability profile, and derives every
// capability-conditioned setting. No store is opened yet; call Initialize.
func New(cfg Config) (*Backend, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	manager, err := ResolveManager(cfg.Backend, cfg.StorageOptions)
	if err != nil {
		return nil, err
	}

	indexes := make(map[string]index.Provider, len(cfg.Index))
	for name, idxCfg := range cfg.Index {
		provider, err := ResolveIndex(idxCfg.Backend, idxCfg.Options)
		if err != nil {
			return nil, err
		}
		indexes[name] = provider
	}

	return assemble(cfg, manager, indexes)
}

// assemble wires an already-instantiated manager and index providers into
// a Backend, deriving every capability-conditioned setting.
func assemble(cfg Config, manager kcv.Manager, indexes map[string]index.Provider) (*Backend, error) {
	b := &Backend{
		manager:           manager,
		features:          manager.Features(),
		indexes:           indexes,
		caches:            make(map[string]kcv.KeyInvalidator),
		rid:               uuid.New(),
		basicMetrics:      cfg.BasicMetrics,
		mergeBasicMetrics: cfg.MergeBasicMetrics,
		writeAttempts:     cfg.WriteAttempts,
		readAttempts:      cfg.ReadAttempts,
		attemptWait:       cfg.AttemptWait,
		setupWait:         cfg.SetupWait,
		idBlockSize:       cfg.IDBlockSize,
		log:               slog.Default().With("component", "backend"),
	}

	b.strategy = selectLockStrategy(b.features)
	b.needsAux = needsAuxTx(b.features)

	// Buffering is clamped to the backend: without batch mutation the
	// buffer size is forced to 0.
	if b.features.BatchMutation {
		b.bufferSize = cfg.BufferSize
	} else {
		b.bufferSize = 0
		if cfg.BufferSize > 1 {
			b.log.Debug("buffering disabled: backend does not support batch mutation")
		}
	}
	if b.bufferSize > 1 {
		batcher, ok := manager.(kcv.BatchMutator)
		if !ok {
			return nil, capabilityErr("construct",
				"backend advertises batch mutation but does not implement BatchMutator")
		}
		b.batcher = batcher
	}

	// The lock configuration exists only when emulation (not native
	// locking) is required.
	if b.strategy == lockConsistentKey {
		lc := locking.DefaultConfig()
		lc.RID = b.rid
		b.lockCfg = &lc
	}

	b.hashPrefixIndex = b.features.Distributed && b.features.KeyOrdered
	if b.hashPrefixIndex {
		b.log.Debug("index stores will be hash-prefixed")
	}

	return b, nil
}

// Initialize opens and decorates the stores, builds the id authority, and
// runs the version gate. Must be called before BeginTx.
func (b *Backend) Initialize(ctx context.Context) error {
	idStore, err := b.openStore(ctx, IDStoreName)
	if err != nil {
		return err
	}
	if b.basicMetrics {
		idStore = metricsstore.New(idStore, b.metricsName(IDStoreName))
	}
	authority, err := idalloc.New(b.manager, idStore, idalloc.Config{
		BlockSize: b.idBlockSize,
		Retries:   b.writeAttempts,
		Wait:      b.attemptWait,
		RID:       b.rid,
	})
	if err != nil {
		return capabilityErr("initialize",
			"backend must support transactional or consistent-key operations for id allocation")
	}
	b.idAuthority = authority

	// The second index store is derived and rebuildable, so it runs with
	// lock emulation relaxed.
	if b.edgeStore, err = b.buildStore(ctx, EdgeStoreName, true, false); err != nil {
		return err
	}
	if b.vertexIndexStore, err = b.buildStore(ctx, VertexIndexStoreName, true, b.hashPrefixIndex); err != nil {
		return err
	}
	if b.edgeIndexStore, err = b.buildStore(ctx, EdgeIndexStoreName, false, b.hashPrefixIndex); err != nil {
		return err
	}

	if err := b.runVersionGate(ctx); err != nil {
		return err
	}

	b.initialized = true
	b.log.Info("backend initialized",
		"locking", b.strategy.String(),
		"buffer_size", b.bufferSize,
		"hash_prefix_index", b.hashPrefixIndex,
		"indexes", len(b.indexes))
	return nil
}

// Features returns the capability profile of the configured backend.
func (b *Backend) Features() kcv.Features { return b.features }

// IDAuthority returns the configured id authority.
func (b *Backend) IDAuthority() idalloc.Authority {
	if b.idAuthority == nil {
		panic("backend: not initialized")
	}
	return b.idAuthority
}

// HashPrefixIndex reports whether the index stores are hash-prefixed.
func (b *Backend) HashPrefixIndex() bool { return b.hashPrefixIndex }

// LockStrategy names the locking strategy selected for this backend.
func (b *Backend) LockStrategy() string { return b.strategy.String() }

// IndexNames returns the names of all registered index providers.
func (b *Backend) IndexNames() []string {
	names := make([]string, 0, len(b.indexes))
	for name := range b.indexes {
		names = append(names, name)
	}
	return names
}

// Close tears down the stores, the id authority, the storage manager, and
// every index provider. Every step is attempted even if an earlier one
// fails; the first error is reported.
func (b *Backend) Close() error {
	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	record(closeStore(b.edgeStore))
	record(closeStore(b.vertexIndexStore))
	record(closeStore(b.edgeIndexStore))
	if b.idAuthority != nil {
		record(b.idAuthority.Close())
	}
	record(b.manager.Close())
	for name, provider := range b.indexes {
		if err := provider.Close(); err != nil {
			record(fmt.Errorf("close index %q: %w", name, err))
		}
	}
	return firstErr
}

// ClearStorage closes everything and then irreversibly clears the storage
// manager's data and every index provider's data. ALL persisted data is
// lost and cannot be recovered. Best effort: every step is attempted, the
// first error is reported.
func (b *Backend) ClearStorage(ctx context.Context) error {
	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	record(closeStore(b.edgeStore))
	record(closeStore(b.vertexIndexStore))
	record(closeStore(b.edgeIndexStore))
	if b.idAuthority != nil {
		record(b.idAuthority.Close())
	}
	record(b.manager.ClearStorage(ctx))
	for name, provider := range b.indexes {
		if err := provider.ClearStorage(ctx); err != nil {
			record(fmt.Errorf("clear index %q: %w", name, err))
		}
	}
	return firstErr
}

func closeStore(s kcv.Store) error {
	if s == nil {
		return nil
	}
	return s.Close()
}
