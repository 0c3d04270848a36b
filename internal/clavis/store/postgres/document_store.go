// Package postgres implements the document backend on PostgreSQL, for
// deployments that already run one and want lock documents off the host.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"

	"github.com/BrandonDHaskell/Clavis/server/internal/clavis/types"
)

const (
	documentsTableName = "clavis_documents"
	operationTimeout   = 5 * time.Second
)

var ErrEmptyDSN = errors.New("postgres: empty dsn")

// DocumentBackend stores one row per lock.  The schema is created lazily on
// first use so operators only need to hand us a DSN.
type DocumentBackend struct {
	dsn string

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func NewDocumentBackend(dsn string) (*DocumentBackend, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrEmptyDSN
	}
	return &DocumentBackend{dsn: dsn}, nil
}

func (b *DocumentBackend) Load(ctx context.Context, lockID string) (*types.LockDocument, error) {
	if err := b.ensureReady(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()

	var payload string
	err := b.db.QueryRowContext(ctx,
		`SELECT payload FROM `+documentsTableName+` WHERE lock_id = $1`, lockID,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres load: %w", err)
	}

	var doc types.LockDocument
	if err := json.Unmarshal([]byte(payload), &doc); err != nil {
		return nil, fmt.Errorf("postgres decode payload: %w", err)
	}
	return &doc, nil
}

func (b *DocumentBackend) Save(ctx context.Context, lockID string, doc *types.LockDocument) error {
	if err := b.ensureReady(); err != nil {
		return err
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("postgres encode payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()

	_, err = b.db.ExecContext(ctx, `
INSERT INTO `+documentsTableName+` (lock_id, version, payload, updated_at)
VALUES ($1, $2, $3, NOW())
ON CONFLICT (lock_id)
DO UPDATE SET version = EXCLUDED.version, payload = EXCLUDED.payload, updated_at = NOW()`,
		lockID, doc.Version, string(payload))
	if err != nil {
		return fmt.Errorf("postgres save: %w", err)
	}
	return nil
}

func (b *DocumentBackend) Close() error {
	if b.db == nil {
		return nil
	}
	return b.db.Close()
}

func (b *DocumentBackend) ensureReady() error {
	b.initOnce.Do(func() {
		db, err := sql.Open("postgres", b.dsn)
		if err != nil {
			b.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
		defer cancel()

		if _, err := db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS `+documentsTableName+` (
  lock_id    TEXT PRIMARY KEY,
  version    INTEGER NOT NULL,
  payload    TEXT NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`); err != nil {
			_ = db.Close()
			b.initErr = err
			return
		}
		b.db = db
	})
	return b.initErr
}
