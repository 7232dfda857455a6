package pebblestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"
)

// ErrTxDone is returned when a Tx is used after commit or rollback.
var ErrTxDone = errors.New("pebble: transaction already finished")

// Tx is a unit of work against the store. Writes are buffered in an indexed
// batch so reads within the transaction observe them; nothing is visible to
// other readers until commit.
type Tx struct {
	db    *DB
	batch *pebble.Batch
	done  bool
}

// Begin starts a transaction. Callers must Commit or Rollback; prefer WithTransaction.
func (db *DB) Begin() *Tx {
	return &Tx{db: db, batch: db.inner.NewIndexedBatch()}
}

// Get reads key through the transaction's pending writes. Returns ErrNotFound when absent.
func (tx *Tx) Get(key []byte) ([]byte, error) {
	if tx.done {
		return nil, ErrTxDone
	}
	start := time.Now()
	val, closer, err := tx.batch.Get(key)
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	buf := append([]byte(nil), val...)
	tx.db.hook.ObserveRead(time.Since(start), len(buf))
	return buf, nil
}

// Set buffers a write of key.
func (tx *Tx) Set(key, value []byte) error {
	if tx.done {
		return ErrTxDone
	}
	return tx.batch.Set(key, value, nil)
}

// Delete buffers a removal of key.
func (tx *Tx) Delete(key []byte) error {
	if tx.done {
		return ErrTxDone
	}
	return tx.batch.Delete(key, nil)
}

// NewIter iterates the store merged with the transaction's pending writes.
func (tx *Tx) NewIter(opts *pebble.IterOptions) (*pebble.Iterator, error) {
	if tx.done {
		return nil, ErrTxDone
	}
	return tx.batch.NewIter(opts)
}

// Commit applies all buffered writes atomically.
func (tx *Tx) Commit(ctx context.Context) error {
	if tx.done {
		return ErrTxDone
	}
	tx.done = true
	defer tx.batch.Close()
	if tx.batch.Empty() {
		return nil
	}
	return tx.db.commit(ctx, tx.batch)
}

// Rollback discards all buffered writes. Safe to call after Commit.
func (tx *Tx) Rollback() {
	if tx.done {
		return
	}
	tx.done = true
	_ = tx.batch.Close()
	tx.db.hook.ObserveRollback()
}

// WithTransaction runs fn inside a transaction. The transaction commits when
// fn returns a nil error and rolls back otherwise. A panic in fn rolls back
// and is re-raised.
func WithTransaction[T any](ctx context.Context, db *DB, fn func(tx *Tx) (T, error)) (result T, err error) {
	tx := db.Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	result, err = fn(tx)
	if err != nil {
		tx.Rollback()
		var zero T
		return zero, err
	}
	if err := tx.Commit(ctx); err != nil {
		var zero T
		return zero, fmt.Errorf("commit: %w", err)
	}
	return result, nil
}
