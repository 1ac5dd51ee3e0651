// Package inmemory provides a process-local index provider. It keeps an
// inverted field index per store and exists for tests, examples, and
// single-node deployments that do not run an external search backend.
package inmemory

import (
	"context"
	"sync"

	"github.com/thicket-db/thicket/internal/index"
)

// Provider is the in-memory index provider registered under "inmemory".
type Provider struct {
	mu     sync.RWMutex
	stores map[string]map[string]map[string]string // store -> docID -> field -> value
}

// New constructs an empty provider. opts is accepted for factory-signature
// compatibility and ignored.
func New(opts map[string]string) (*Provider, error) {
	return &Provider{stores: make(map[string]map[string]map[string]string)}, nil
}

// Mutate implements index.Provider.
func (p *Provider) Mutate(ctx context.Context, store, docID string, additions []index.Entry, deletions []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	docs, ok := p.stores[store]
	if !ok {
		docs = make(map[string]map[string]string)
		p.stores[store] = docs
	}
	doc, ok := docs[docID]
	if !ok {
		doc = make(map[string]string)
		docs[docID] = doc
	}
	for _, f := range deletions {
		delete(doc, f)
	}
	for _, e := range additions {
		doc[e.Field] = e.Value
	}
	if len(doc) == 0 {
		delete(docs, docID)
	}
	return nil
}

// Lookup returns the docIDs of store whose field equals value.
func (p *Provider) Lookup(store, field, value string) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var ids []string
	for docID, doc := range p.stores[store] {
		if doc[field] == value {
			ids = append(ids, docID)
		}
	}
	return ids
}

func (p *Provider) Close() error { return nil }

// ClearStorage drops every indexed document.
func (p *Provider) ClearStorage(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stores = make(map[string]map[string]map[string]string)
	return nil
}
