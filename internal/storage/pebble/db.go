package pebblestore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
)

// ErrNotFound is returned by point reads of absent keys.
var ErrNotFound = pebble.ErrNotFound

// groupCommitWindow bounds WAL sync coalescing in interval mode.
const groupCommitWindow = 5 * time.Millisecond

// FsyncMode selects when committed writes reach stable storage.
type FsyncMode int

const (
	FsyncModeUnspecified FsyncMode = iota
	// FsyncModeAlways syncs the WAL on every commit.
	FsyncModeAlways
	// FsyncModeInterval lets Pebble group WAL syncs of concurrent commits.
	FsyncModeInterval
	// FsyncModeNever leaves syncing to Pebble.
	FsyncModeNever
)

var fsyncModes = map[string]FsyncMode{
	"":         FsyncModeAlways,
	"always":   FsyncModeAlways,
	"interval": FsyncModeInterval,
	"never":    FsyncModeNever,
}

// ParseFsyncMode maps always|interval|never to a FsyncMode.
func ParseFsyncMode(s string) (FsyncMode, error) {
	if m, ok := fsyncModes[s]; ok {
		return m, nil
	}
	return FsyncModeUnspecified, fmt.Errorf("unknown fsync mode %q (always|interval|never)", s)
}

// Options configures Open.
type Options struct {
	// DataDir is created when absent.
	DataDir string
	Fsync   FsyncMode
	// FsyncInterval overrides the group-commit window of FsyncModeInterval.
	FsyncInterval time.Duration
	// Metrics is optional.
	Metrics MetricsHook
}

// MetricsHook observes store traffic.
type MetricsHook interface {
	ObserveWrite(elapsed time.Duration, bytes int)
	ObserveRead(elapsed time.Duration, bytes int)
	ObserveBatchCommit(elapsed time.Duration, numOps int, bytes int)
	ObserveRollback()
}

type nopHook struct{}

func (nopHook) ObserveWrite(time.Duration, int)            {}
func (nopHook) ObserveRead(time.Duration, int)             {}
func (nopHook) ObserveBatchCommit(time.Duration, int, int) {}
func (nopHook) ObserveRollback()                           {}

// DB is the Pebble instance backing every aggregation repository of a node.
// Writes go through transactions; see WithTransaction.
type DB struct {
	inner *pebble.DB
	sync  bool
	hook  MetricsHook

	dirMu sync.Mutex
}

// Open creates or opens the store under opts.DataDir.
func Open(opts Options) (*DB, error) {
	if opts.DataDir == "" {
		return nil, errors.New("pebble: data dir is required")
	}
	po := &pebble.Options{}
	if opts.Fsync != FsyncModeAlways && opts.Fsync != FsyncModeNever {
		window := opts.FsyncInterval
		if window <= 0 {
			window = groupCommitWindow
		}
		po.WALMinSyncInterval = func() time.Duration { return window }
	}
	inner, err := pebble.Open(opts.DataDir, po)
	if err != nil {
		return nil, fmt.Errorf("pebble: open %s: %w", opts.DataDir, err)
	}
	db := &DB{inner: inner, sync: opts.Fsync == FsyncModeAlways, hook: opts.Metrics}
	if db.hook == nil {
		db.hook = nopHook{}
	}
	return db, nil
}

// Close releases the store. A nil or closed DB is a no-op.
func (db *DB) Close() error {
	if db == nil || db.inner == nil {
		return nil
	}
	err := db.inner.Close()
	db.inner = nil
	return err
}

// NewSnapshot pins a point-in-time view. Callers close it.
func (db *DB) NewSnapshot() *pebble.Snapshot { return db.inner.NewSnapshot() }

// NewIter iterates committed state.
func (db *DB) NewIter(opts *pebble.IterOptions) (*pebble.Iterator, error) {
	if db.inner == nil {
		return nil, pebble.ErrClosed
	}
	return db.inner.NewIter(opts)
}

// Get returns a copy of the committed value of key.
func (db *DB) Get(key []byte) ([]byte, error) {
	start := time.Now()
	v, closer, err := db.inner.Get(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(v))
	copy(out, v)
	_ = closer.Close()
	db.hook.ObserveRead(time.Since(start), len(out))
	return out, nil
}

// commit applies b honoring the fsync policy.
func (db *DB) commit(ctx context.Context, b *pebble.Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	opt := pebble.NoSync
	if db.sync {
		opt = pebble.Sync
	}
	start := time.Now()
	ops, size := int(b.Count()), b.Len()
	if err := b.Commit(opt); err != nil {
		return err
	}
	elapsed := time.Since(start)
	db.hook.ObserveBatchCommit(elapsed, ops, size)
	db.hook.ObserveWrite(elapsed, size)
	return nil
}
