package db

import (
	"context"
	"database/sql"
	"errors"
	"sync"
)

// ErrWriterClosed is returned by Do after Close has been called.
var ErrWriterClosed = errors.New("db: writer closed")

type TxFn func(ctx context.Context, tx *sql.Tx) error

type writeReq struct {
	ctx  context.Context
	fn   TxFn
	done chan error
}

// Writer funnels all write transactions through one goroutine.  SQLite
// permits a single writer at a time; serializing writes here keeps
// concurrent request handlers from tripping over SQLITE_BUSY.
type Writer struct {
	db *sql.DB

	mu     sync.RWMutex
	closed bool
	reqs   chan writeReq
	done   chan struct{}
}

func NewWriter(db *sql.DB) *Writer {
	w := &Writer{
		db:   db,
		reqs: make(chan writeReq, 256),
		done: make(chan struct{}),
	}
	go w.loop()
	return w
}

// Do runs fn inside a transaction on the writer goroutine and returns its
// result.  It honors ctx both while queued and while waiting for the result.
func (w *Writer) Do(ctx context.Context, fn TxFn) error {
	done := make(chan error, 1)

	w.mu.RLock()
	if w.closed {
		w.mu.RUnlock()
		return ErrWriterClosed
	}
	select {
	case w.reqs <- writeReq{ctx: ctx, fn: fn, done: done}:
		w.mu.RUnlock()
	case <-ctx.Done():
		w.mu.RUnlock()
		return ctx.Err()
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		// The loop still finishes the transaction; the result lands in the
		// buffered done channel and is dropped.
		return ctx.Err()
	}
}

// Close stops accepting work and waits for queued transactions to finish.
func (w *Writer) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	close(w.reqs)
	w.mu.Unlock()

	<-w.done
}

func (w *Writer) loop() {
	defer close(w.done)
	for req := range w.reqs {
		req.done <- w.runTx(req.ctx, req.fn)
	}
}

func (w *Writer) runTx(ctx context.Context, fn TxFn) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(ctx, tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
