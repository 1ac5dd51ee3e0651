package backend

import (
	"context"
	"fmt"

	"github.com/thicket-db/thicket/internal/kcv"
	"github.com/thicket-db/thicket/internal/kcv/buffer"
	"github.com/thicket-db/thicket/internal/kcv/cache"
	"github.com/thicket-db/thicket/internal/kcv/hashprefix"
	"github.com/thicket-db/thicket/internal/kcv/metricsstore"
	"github.com/thicket-db/thicket/internal/locking"
)

// openStore opens the raw backend store for name, applying the fixed key
// width when the name has one. No decoration.
func (b *Backend) openStore(ctx context.Context, name string) (kcv.Store, error) {
	store, err := b.manager.OpenStore(ctx, name, kcv.StoreOptions{
		FixedKeyLength: StaticKeyLengths[name],
	})
	if err != nil {
		return nil, storageErr("open store", fmt.Sprintf("store %q", name), err)
	}
	return store, nil
}

// openBufferedStore opens the raw store, wraps it with the write buffer
// when buffering is active, and always layers the read cache on top.
//
// Requesting buffering against a backend without batch mutation is a
// programming error: construction clamps the buffer size, so a violation
// here means the invariant was broken after construction.
func (b *Backend) openBufferedStore(ctx context.Context, name string) (kcv.Store, error) {
	if b.bufferSize > 1 && !b.features.BatchMutation {
		panic("backend: buffering requested against a backend without batch mutation")
	}
	store, err := b.openStore(ctx, name)
	if err != nil {
		return nil, err
	}
	if b.bufferSize > 1 {
		store = buffer.New(store)
	}
	cached := cache.New(store)
	// Batch flushes land beneath the cache; the batching transaction
	// invalidates the affected keys through this registration.
	if inv, ok := cached.(kcv.KeyInvalidator); ok {
		b.caches[name] = inv
	}
	return cached, nil
}

// applyLocking wraps store with the lock strategy selected at
// construction. For consistent-key emulation with lockEnabled, a
// secondary store named <name>+"_lock_" is opened to hold the lock
// records; with lockEnabled false the record-free variant is used.
func (b *Backend) applyLocking(ctx context.Context, store kcv.Store, lockEnabled bool) (kcv.Store, error) {
	switch b.strategy {
	case lockNative:
		return store, nil
	case lockTransactional:
		return locking.NewTransactional(store), nil
	case lockConsistentKey:
		if !lockEnabled {
			return locking.NewConsistentKey(store, nil, *b.lockCfg), nil
		}
		lockStore, err := b.openStore(ctx, store.Name()+LockStoreSuffix)
		if err != nil {
			return nil, err
		}
		return locking.NewConsistentKey(store, lockStore, *b.lockCfg), nil
	default:
		return nil, capabilityErr("apply locking",
			fmt.Sprintf("store %q: no usable locking strategy (backend supports neither locking, transactions, nor consistent-key operations)", store.Name()))
	}
}

// buildStore composes one logical store in the fixed wrapper order:
// buffering (optional) -> caching -> hash-prefixing (optional) -> lock
// emulation -> metrics (optional). The order is part of the on-disk key
// layout contract; do not reorder.
func (b *Backend) buildStore(ctx context.Context, name string, lockEnabled, hashPrefix bool) (kcv.Store, error) {
	store, err := b.openBufferedStore(ctx, name)
	if err != nil {
		return nil, err
	}
	if hashPrefix {
		store = hashprefix.New(store)
	}
	store, err = b.applyLocking(ctx, store, lockEnabled)
	if err != nil {
		return nil, err
	}
	if b.basicMetrics {
		store = metricsstore.New(store, b.metricsName(name))
	}
	return store, nil
}

// metricsName returns the metric name a store is instrumented under:
// merged into one shared name, or per store.
func (b *Backend) metricsName(storeName string) string {
	if b.mergeBasicMetrics {
		return metricsPrefix + mergedMetrics
	}
	return metricsPrefix + storeName
}

// Plan describes the wrapper chain a store with the given role would
// receive, innermost first. It is a pure function of the capability
// profile and configuration and is usable before Initialize.
func (b *Backend) Plan(name string, lockEnabled, hashPrefix bool) []string {
	plan := []string{"raw"}
	if b.bufferSize > 1 {
		plan = append(plan, fmt.Sprintf("buffer(size=%d)", b.bufferSize))
	}
	plan = append(plan, "cache")
	if hashPrefix {
		plan = append(plan, fmt.Sprintf("hashprefix(%d)", hashprefix.PrefixLength))
	}
	switch b.strategy {
	case lockNative:
		// native locking: no wrapper
	case lockTransactional:
		plan = append(plan, "lock(transactional)")
	case lockConsistentKey:
		if lockEnabled {
			plan = append(plan, fmt.Sprintf("lock(consistent-key, records=%s%s)", name, LockStoreSuffix))
		} else {
			plan = append(plan, "lock(consistent-key, relaxed)")
		}
	case lockUnsupported:
		plan = append(plan, "lock(UNSUPPORTED)")
	}
	if b.basicMetrics {
		plan = append(plan, fmt.Sprintf("metrics(%s)", b.metricsName(name)))
	}
	return plan
}
