// Package file persists lock documents as one JSON file per lock.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BrandonDHaskell/Clavis/server/internal/clavis/types"
)

// DocumentBackend stores each lock's document at <dir>/<lockID>.json.
// Saves go through a temp file and rename so a crash mid-write never leaves
// a truncated document behind. Files are 0600 since documents contain codes.
type DocumentBackend struct {
	dir string
}

func NewDocumentBackend(dir string) *DocumentBackend {
	return &DocumentBackend{dir: dir}
}

func (b *DocumentBackend) path(lockID string) string {
	return filepath.Join(b.dir, lockID+".json")
}

func (b *DocumentBackend) Load(_ context.Context, lockID string) (*types.LockDocument, error) {
	data, err := os.ReadFile(b.path(lockID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read document file: %w", err)
	}
	var doc types.LockDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode document file: %w", err)
	}
	return &doc, nil
}

func (b *DocumentBackend) Save(_ context.Context, lockID string, doc *types.LockDocument) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	if err := os.MkdirAll(b.dir, 0o700); err != nil {
		return fmt.Errorf("create document dir: %w", err)
	}
	path := b.path(lockID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write document file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace document file: %w", err)
	}
	return nil
}
