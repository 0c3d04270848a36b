package store

import (
	"context"
	"time"

	"github.com/BrandonDHaskell/Clavis/server/internal/clavis/types"
)

// DocumentBackend persists whole lock documents.  Load returns (nil, nil)
// when no document exists for the lock; Save replaces the stored document
// wholesale.
type DocumentBackend interface {
	Load(ctx context.Context, lockID string) (*types.LockDocument, error)
	Save(ctx context.Context, lockID string, doc *types.LockDocument) error
}

// AccessRecord captures a single lock operation for the history log.
// Slot 0 means the operation was not slot-attributed (manual, remote or
// auto-relock operations carry no user slot).
type AccessRecord struct {
	LockID     string             `json:"lock_id"`
	Slot       int                `json:"slot"`
	UserName   string             `json:"user_name,omitempty"`
	Method     types.AccessMethod `json:"method"`
	UsageCount int                `json:"usage_count,omitempty"`
	OccurredAt time.Time          `json:"occurred_at"`
}

// AccessLog persists lock operations as an append-only history.
type AccessLog interface {
	Append(ctx context.Context, rec AccessRecord) error
	Recent(ctx context.Context, lockID string, limit int) ([]AccessRecord, error)
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// CloneDocument returns a deep copy of doc, cloning every slot record.
func CloneDocument(doc *types.LockDocument) *types.LockDocument {
	if doc == nil {
		return nil
	}
	out := &types.LockDocument{
		Version:      doc.Version,
		LockIdentity: doc.LockIdentity,
		Users:        make(map[string]*types.SlotRecord, len(doc.Users)),
	}
	for k, rec := range doc.Users {
		out.Users[k] = rec.Clone()
	}
	return out
}
