package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SeedDev gives an empty dev database a little access history so the
// history endpoints show something before a real lock reports anything.
// Locks that already have events are left alone.
func SeedDev(ctx context.Context, sqldb *sql.DB, lockID string) error {
	var n int
	err := sqldb.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM access_events WHERE lock_id = ?`, lockID).Scan(&n)
	if err != nil {
		return fmt.Errorf("seed count: %w", err)
	}
	if n > 0 {
		return nil
	}

	now := time.Now().UTC()
	rows := []struct {
		slot   int
		name   string
		method string
		count  int
		at     time.Time
	}{
		{1, "Dev User", "pin", 1, now.Add(-48 * time.Hour)},
		{1, "Dev User", "pin", 2, now.Add(-24 * time.Hour)},
		{0, "", "manual", 0, now.Add(-2 * time.Hour)},
	}
	for _, r := range rows {
		if _, err := sqldb.ExecContext(ctx, `
INSERT INTO access_events(lock_id, slot, user_name, method, usage_count, occurred_at_ms)
VALUES (?, ?, ?, ?, ?, ?);`,
			lockID, r.slot, r.name, r.method, r.count, r.at.UnixMilli()); err != nil {
			return fmt.Errorf("seed access event: %w", err)
		}
	}
	return nil
}
