// Package backend orchestrates and configures all storage systems: the
// primary key-column-value backend and all external index providers.
//
// The core job is a capability-to-behavior decision table plus a layered
// composition protocol. A backend adapter advertises, once, which
// guarantees it provides natively (locking, transactions, consistent-key
// operations, batch mutation, distribution, key ordering); this package
// deterministically composes a chain of behavior-adding wrappers around
// each logical store so that everything above it sees one uniform store
// contract, and emulates whatever guarantee is missing, chiefly
// distributed locking, on top of the primitives the backend does have.
//
// # Composition order
//
// Wrapping order is fixed and is part of the on-disk key layout contract:
//
//	buffering (optional) -> caching -> hash-prefixing (optional)
//	  -> lock emulation (optional) -> metrics (optional)
//
// Buffering is active iff the configured buffer size exceeds 1 and the
// backend supports batch mutation. Hash-prefixing is active iff the
// backend is distributed and key-ordered, and applies to the two index
// stores only.
//
// # Locking
//
// applyLocking follows an ordered rule: native locking passes through;
// otherwise native transactions select transactional emulation; otherwise
// consistent-key operations select claim-record emulation; otherwise no
// usable strategy exists and composition fails. When consistent-key
// emulation is in effect, every logical transaction additionally carries
// an auxiliary key-consistent transaction for lock bookkeeping.
//
// # Lifecycle
//
// New resolves the configured implementations and derives all
// capability-conditioned settings; Initialize opens and decorates the
// stores, constructs the id authority, and runs the version gate; BeginTx
// assembles one logical transaction spanning every registered system.
// Close and ClearStorage tear everything down best effort.
package backend
