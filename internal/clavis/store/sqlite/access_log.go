package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/BrandonDHaskell/Clavis/server/internal/clavis/store"
	"github.com/BrandonDHaskell/Clavis/server/internal/clavis/types"
	dbpkg "github.com/BrandonDHaskell/Clavis/server/internal/db"
)

type AccessLog struct {
	db     *sql.DB
	writer *dbpkg.Writer
}

func NewAccessLog(db *sql.DB, writer *dbpkg.Writer) *AccessLog {
	return &AccessLog{db: db, writer: writer}
}

func (l *AccessLog) Append(ctx context.Context, rec store.AccessRecord) error {
	if rec.OccurredAt.IsZero() {
		rec.OccurredAt = time.Now().UTC()
	}
	occurredMs := rec.OccurredAt.UTC().UnixMilli()

	return l.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO access_events(lock_id, slot, user_name, method, usage_count, occurred_at_ms)
VALUES (?, ?, ?, ?, ?, ?);
`, rec.LockID, rec.Slot, rec.UserName, string(rec.Method), rec.UsageCount, occurredMs); err != nil {
			return fmt.Errorf("Append insert: %w", err)
		}
		return nil
	})
}

// Recent returns up to limit events for the lock, newest first.
func (l *AccessLog) Recent(ctx context.Context, lockID string, limit int) ([]store.AccessRecord, error) {
	rows, err := l.db.QueryContext(ctx, `
SELECT lock_id, slot, user_name, method, usage_count, occurred_at_ms
FROM access_events
WHERE lock_id = ?
ORDER BY occurred_at_ms DESC, id DESC
LIMIT ?;
`, lockID, limit)
	if err != nil {
		return nil, fmt.Errorf("Recent query: %w", err)
	}
	defer rows.Close()

	var out []store.AccessRecord
	for rows.Next() {
		var rec store.AccessRecord
		var method string
		var occurredMs int64
		if err := rows.Scan(&rec.LockID, &rec.Slot, &rec.UserName, &method, &rec.UsageCount, &occurredMs); err != nil {
			return nil, fmt.Errorf("Recent scan: %w", err)
		}
		rec.Method = types.AccessMethod(method)
		rec.OccurredAt = time.UnixMilli(occurredMs).UTC()
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("Recent rows: %w", err)
	}
	return out, nil
}

// PruneOlderThan deletes access events that occurred before the cutoff.
// Returns the number of rows deleted.
func (l *AccessLog) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	cutoffMs := cutoff.UTC().UnixMilli()

	var deleted int64
	err := l.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
DELETE FROM access_events WHERE occurred_at_ms < ?;
`, cutoffMs)
		if err != nil {
			return fmt.Errorf("PruneOlderThan: %w", err)
		}
		deleted, _ = res.RowsAffected()
		return nil
	})
	return deleted, err
}
