// Package sqlite implements the document and access-log stores on SQLite.
// Reads go straight to the connection; writes are funneled through the
// shared db.Writer.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/BrandonDHaskell/Clavis/server/internal/clavis/types"
	dbpkg "github.com/BrandonDHaskell/Clavis/server/internal/db"
)

type DocumentBackend struct {
	db     *sql.DB
	writer *dbpkg.Writer
}

func NewDocumentBackend(db *sql.DB, writer *dbpkg.Writer) *DocumentBackend {
	return &DocumentBackend{db: db, writer: writer}
}

func (b *DocumentBackend) Load(ctx context.Context, lockID string) (*types.LockDocument, error) {
	var payload string
	err := b.db.QueryRowContext(ctx, `
SELECT payload FROM lock_documents WHERE lock_id = ?;
`, lockID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("Load query: %w", err)
	}

	var doc types.LockDocument
	if err := json.Unmarshal([]byte(payload), &doc); err != nil {
		return nil, fmt.Errorf("Load decode payload: %w", err)
	}
	return &doc, nil
}

func (b *DocumentBackend) Save(ctx context.Context, lockID string, doc *types.LockDocument) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("Save encode payload: %w", err)
	}
	nowMs := time.Now().UTC().UnixMilli()

	return b.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO lock_documents(lock_id, version, payload, updated_at_ms)
VALUES (?, ?, ?, ?)
ON CONFLICT(lock_id) DO UPDATE SET
  version = excluded.version,
  payload = excluded.payload,
  updated_at_ms = excluded.updated_at_ms;
`, lockID, doc.Version, string(payload), nowMs); err != nil {
			return fmt.Errorf("Save upsert: %w", err)
		}
		return nil
	})
}
