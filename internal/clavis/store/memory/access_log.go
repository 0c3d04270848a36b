package memory

import (
	"context"
	"sync"
	"time"

	"github.com/BrandonDHaskell/Clavis/server/internal/clavis/store"
)

// AccessLog is an in-memory append-only log of access events.
type AccessLog struct {
	mu      sync.Mutex
	records []store.AccessRecord
}

func NewAccessLog() *AccessLog {
	return &AccessLog{}
}

func (l *AccessLog) Append(_ context.Context, rec store.AccessRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, rec)
	return nil
}

// Recent returns up to limit records for the lock, newest first.
func (l *AccessLog) Recent(_ context.Context, lockID string, limit int) ([]store.AccessRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]store.AccessRecord, 0, limit)
	for i := len(l.records) - 1; i >= 0 && len(out) < limit; i-- {
		if l.records[i].LockID == lockID {
			out = append(out, l.records[i])
		}
	}
	return out, nil
}

func (l *AccessLog) PruneOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.records[:0]
	var pruned int64
	for _, rec := range l.records {
		if rec.OccurredAt.Before(cutoff) {
			pruned++
			continue
		}
		kept = append(kept, rec)
	}
	l.records = kept
	return pruned, nil
}

// Records returns a copy of all recorded events.  Test-only helper.
func (l *AccessLog) Records() []store.AccessRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]store.AccessRecord, len(l.records))
	copy(out, l.records)
	return out
}
