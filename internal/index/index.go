// Package index defines the contract for external full-text/index
// providers and the per-provider transaction that batches document
// mutations until commit. Query execution semantics belong to the
// providers; the core only composes their transactions into the logical
// backend transaction.
package index

import "context"

// Entry is one indexed field/value pair of a document.
type Entry struct {
	Field string
	Value string
}

// Provider is an external index backend. Implementations must be safe for
// concurrent transaction creation.
type Provider interface {
	// Mutate applies additions and field deletions to one document of one
	// index store.
	Mutate(ctx context.Context, store, docID string, additions []Entry, deletions []string) error

	Close() error

	// ClearStorage irreversibly deletes all indexed data.
	ClearStorage(ctx context.Context) error
}

// mutation accumulates changes to one document.
type mutation struct {
	additions []Entry
	deletions []string
}

// Tx batches document mutations for one provider and flushes them on
// commit. The wrapper is stateless apart from its buffer; one Tx is opened
// per provider per logical transaction.
type Tx struct {
	provider Provider
	pending  map[string]map[string]*mutation // store -> docID -> mutation
}

// NewTx opens a transaction against provider.
func NewTx(provider Provider) *Tx {
	return &Tx{
		provider: provider,
		pending:  make(map[string]map[string]*mutation),
	}
}

// Add stages field additions for a document.
func (t *Tx) Add(store, docID string, entries ...Entry) {
	m := t.mutation(store, docID)
	m.additions = append(m.additions, entries...)
}

// Delete stages field deletions for a document.
func (t *Tx) Delete(store, docID string, fields ...string) {
	m := t.mutation(store, docID)
	m.deletions = append(m.deletions, fields...)
}

func (t *Tx) mutation(store, docID string) *mutation {
	byDoc, ok := t.pending[store]
	if !ok {
		byDoc = make(map[string]*mutation)
		t.pending[store] = byDoc
	}
	m, ok := byDoc[docID]
	if !ok {
		m = &mutation{}
		byDoc[docID] = m
	}
	return m
}

// Commit flushes all staged mutations to the provider. The buffer is
// dropped afterwards regardless of outcome.
func (t *Tx) Commit(ctx context.Context) error {
	defer func() { t.pending = make(map[string]map[string]*mutation) }()
	for store, byDoc := range t.pending {
		for docID, m := range byDoc {
			if err := t.provider.Mutate(ctx, store, docID, m.additions, m.deletions); err != nil {
				return err
			}
		}
	}
	return nil
}

// Rollback drops all staged mutations.
func (t *Tx) Rollback(ctx context.Context) error {
	t.pending = make(map[string]map[string]*mutation)
	return nil
}
