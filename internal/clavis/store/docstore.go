package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/BrandonDHaskell/Clavis/server/internal/clavis/types"
)

// Store manages the in-memory document for one lock and persists it through
// a DocumentBackend.  Accessors hand out copies so readers never share
// memory with the engine's mutations; the engine mutates by Put/Delete and
// then calls Save.
//
// Load never fails: the document is a cache of user intent, and anything the
// backend cannot produce (missing, unreadable, corrupt) is treated as "no
// prior data".  Save failures are returned to the caller: losing a write
// silently would desynchronize intent from what the user believes was saved.
type Store struct {
	backend DocumentBackend
	lockID  string
	log     *zap.Logger

	mu  sync.RWMutex
	doc *types.LockDocument
}

func New(backend DocumentBackend, lockID string, log *zap.Logger) *Store {
	return &Store{
		backend: backend,
		lockID:  lockID,
		log:     log,
		doc:     types.NewLockDocument(lockID),
	}
}

func (s *Store) LockID() string { return s.lockID }

// Load replaces the in-memory document with the persisted one.  A missing or
// unreadable document leaves a fresh empty one in place.
func (s *Store) Load(ctx context.Context) {
	doc, err := s.backend.Load(ctx, s.lockID)
	if err != nil {
		s.log.Warn("document load failed, starting with empty slot cache",
			zap.String("lock", s.lockID), zap.Error(err))
		doc = nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if doc == nil {
		s.doc = types.NewLockDocument(s.lockID)
		return
	}
	if doc.Users == nil {
		doc.Users = make(map[string]*types.SlotRecord)
	}
	if doc.Version == 0 {
		doc.Version = types.DocumentVersion
	}
	if doc.LockIdentity != "" && doc.LockIdentity != s.lockID {
		s.log.Warn("document identity does not match configured lock, adopting configured identity",
			zap.String("lock", s.lockID), zap.String("document_identity", doc.LockIdentity))
	}
	doc.LockIdentity = s.lockID
	s.doc = doc
}

// Save persists a snapshot of the current document.
func (s *Store) Save(ctx context.Context) error {
	s.mu.RLock()
	snapshot := CloneDocument(s.doc)
	s.mu.RUnlock()

	if err := s.backend.Save(ctx, s.lockID, snapshot); err != nil {
		return fmt.Errorf("save document for %s: %w", s.lockID, err)
	}
	return nil
}

// User returns a copy of the record in the given slot.
func (s *Store) User(slot int) (*types.SlotRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.doc.Users[types.SlotKey(slot)]
	if !ok {
		return nil, false
	}
	return rec.Clone(), true
}

// Users returns copies of all records, ordered by slot.
func (s *Store) Users() []types.SlotRecord {
	s.mu.RLock()
	out := make([]types.SlotRecord, 0, len(s.doc.Users))
	for _, rec := range s.doc.Users {
		out = append(out, *rec.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Slot < out[j].Slot })
	return out
}

func (s *Store) UserCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.doc.Users)
}

// PutUser stores a copy of rec in its slot, creating or replacing.
func (s *Store) PutUser(rec *types.SlotRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Users[types.SlotKey(rec.Slot)] = rec.Clone()
}

// DeleteUser removes the record in the given slot, if any.
func (s *Store) DeleteUser(slot int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.doc.Users, types.SlotKey(slot))
}

// Clear empties the slot map but keeps the document wrapper.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Users = make(map[string]*types.SlotRecord)
}

// Export returns a deep copy of the whole document.
func (s *Store) Export() *types.LockDocument {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return CloneDocument(s.doc)
}
