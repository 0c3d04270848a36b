// Package memory provides in-memory store implementations intended for
// tests and dev environments.
package memory

import (
	"context"
	"sync"

	"github.com/BrandonDHaskell/Clavis/server/internal/clavis/store"
	"github.com/BrandonDHaskell/Clavis/server/internal/clavis/types"
)

// DocumentBackend keeps lock documents in a map.  Load and Save deep-copy so
// callers never share memory with the backend.
type DocumentBackend struct {
	mu   sync.RWMutex
	docs map[string]*types.LockDocument
}

func NewDocumentBackend() *DocumentBackend {
	return &DocumentBackend{docs: make(map[string]*types.LockDocument)}
}

func (b *DocumentBackend) Load(_ context.Context, lockID string) (*types.LockDocument, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	doc, ok := b.docs[lockID]
	if !ok {
		return nil, nil
	}
	return store.CloneDocument(doc), nil
}

func (b *DocumentBackend) Save(_ context.Context, lockID string, doc *types.LockDocument) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.docs[lockID] = store.CloneDocument(doc)
	return nil
}

// SaveCount returns how many documents are held.  Test-only helper.
func (b *DocumentBackend) SaveCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.docs)
}
