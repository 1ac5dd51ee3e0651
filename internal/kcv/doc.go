// Package kcv defines the key-column-value storage contract that every
// backend adapter implements and every wrapper decorates.
//
// The model is the classic BigTable-style layout: a store maps a key to an
// ordered set of columns, each column carrying one value. A backend exposes
// a Manager that opens named stores and starts transactions; the Features
// struct advertises, once, which guarantees the backend provides natively.
// Everything the orchestration core decides (buffering, caching, lock
// emulation, hash prefixing) is a pure function of that profile.
//
// # Capability profile
//
// Features is read exactly once at Backend construction and never
// re-evaluated. Adapters must report a stable profile for the lifetime of
// the Manager.
//
// # Optional manager capabilities
//
//   - BatchMutator: the manager can apply mutations to many stores/keys in
//     one physical call. Required for write buffering.
//   - PropertyStore: the manager persists small named configuration
//     properties. Required for the compatibility version gate.
//
// # Transience
//
// Adapters wrap retryable failures (timeouts, contended writes) with
// Transient so bounded-retry callers can distinguish them from logic
// errors. Anything not marked transient fails fast.
package kcv
