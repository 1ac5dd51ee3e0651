package backend

import "github.com/thicket-db/thicket/internal/kcv"

// lockStrategy enumerates the four applyLocking outcomes. The strategy is
// a pure function of the capability profile, computed once and applied
// identically to every lock-enabled store for the Backend's lifetime.
type lockStrategy int

const (
	// lockNative: the backend locks natively; stores pass through.
	lockNative lockStrategy = iota

	// lockTransactional: lock state derives from the backend's own
	// transaction isolation.
	lockTransactional

	// lockConsistentKey: locks are emulated with claim records on
	// consistent-key operations.
	lockConsistentKey

	// lockUnsupported: no usable locking strategy exists.
	lockUnsupported
)

func (s lockStrategy) String() string {
	switch s {
	case lockNative:
		return "native"
	case lockTransactional:
		return "transactional"
	case lockConsistentKey:
		return "consistent-key"
	default:
		return "unsupported"
	}
}

// selectLockStrategy applies the ordered capability rule: native locking
// beats transactions, transactions beat consistent-key operations, and a
// backend with none of the three cannot lock at all.
func selectLockStrategy(f kcv.Features) lockStrategy {
	switch {
	case f.Locking:
		return lockNative
	case f.Transactions:
		return lockTransactional
	case f.ConsistentKey:
		return lockConsistentKey
	default:
		return lockUnsupported
	}
}

// needsAuxTx reports whether every logical transaction must carry an
// auxiliary key-consistent transaction for lock bookkeeping. True exactly
// when consistent-key lock emulation is in effect.
func needsAuxTx(f kcv.Features) bool {
	return !f.Locking && !f.Transactions && f.ConsistentKey
}
