package pebblestore

import (
	"context"
	"errors"
	"testing"
)

func TestWithTransactionCommits(t *testing.T) {
	db, metrics := newTestDB(t)
	ctx := context.Background()

	got, err := WithTransaction(ctx, db, func(tx *Tx) (string, error) {
		if err := tx.Set([]byte("a"), []byte("1")); err != nil {
			return "", err
		}
		// read-your-writes inside the transaction
		v, err := tx.Get([]byte("a"))
		if err != nil {
			return "", err
		}
		return string(v), nil
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}
	if got != "1" {
		t.Fatalf("read inside tx got %q", got)
	}
	v, err := db.Get([]byte("a"))
	if err != nil || string(v) != "1" {
		t.Fatalf("after commit got %q, %v", v, err)
	}
	if metrics.commits != 1 {
		t.Fatalf("want 1 commit, got %d", metrics.commits)
	}
}

func TestWithTransactionRollsBackOnError(t *testing.T) {
	db, metrics := newTestDB(t)
	ctx := context.Background()
	put(t, db, "k", "old")

	boom := errors.New("boom")
	_, err := WithTransaction(ctx, db, func(tx *Tx) (struct{}, error) {
		if err := tx.Set([]byte("k"), []byte("new")); err != nil {
			return struct{}{}, err
		}
		if err := tx.Delete([]byte("k")); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("want boom, got %v", err)
	}
	v, err := db.Get([]byte("k"))
	if err != nil || string(v) != "old" {
		t.Fatalf("rollback leaked mutation: %q, %v", v, err)
	}
	if metrics.rollbacks != 1 {
		t.Fatalf("want 1 rollback, got %d", metrics.rollbacks)
	}
}

func TestWithTransactionRollsBackOnPanic(t *testing.T) {
	db, _ := newTestDB(t)
	ctx := context.Background()

	func() {
		defer func() {
			if recover() == nil {
				t.Fatalf("expected panic to propagate")
			}
		}()
		_, _ = WithTransaction(ctx, db, func(tx *Tx) (int, error) {
			_ = tx.Set([]byte("p"), []byte("x"))
			panic("kaboom")
		})
	}()

	if _, err := db.Get([]byte("p")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want not found after panic rollback, got %v", err)
	}
}

func TestTxUnusableAfterCommit(t *testing.T) {
	db, _ := newTestDB(t)
	tx := db.Begin()
	if err := tx.Commit(context.Background()); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := tx.Set([]byte("x"), nil); !errors.Is(err, ErrTxDone) {
		t.Fatalf("want ErrTxDone, got %v", err)
	}
	tx.Rollback()
}

func TestDirectoryAllocatesStableIDs(t *testing.T) {
	db, _ := newTestDB(t)
	ctx := context.Background()

	a, err := db.Directory(ctx, "orders")
	if err != nil {
		t.Fatalf("dir: %v", err)
	}
	b, err := db.Directory(ctx, "invoices")
	if err != nil {
		t.Fatalf("dir: %v", err)
	}
	again, err := db.Directory(ctx, "orders")
	if err != nil {
		t.Fatalf("dir: %v", err)
	}
	if a == b {
		t.Fatalf("distinct names share id %d", a)
	}
	if a != again {
		t.Fatalf("id not stable: %d then %d", a, again)
	}

	names, err := db.Directories()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(names) != 2 {
		t.Fatalf("want 2 directory entries, got %v", names)
	}
}

func TestDirectorySurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	db, err := Open(Options{DataDir: dir, Fsync: FsyncModeAlways})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	id, err := db.Directory(ctx, "orders")
	if err != nil {
		t.Fatalf("dir: %v", err)
	}
	_ = db.Close()

	db, err = Open(Options{DataDir: dir, Fsync: FsyncModeAlways})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()
	again, err := db.Directory(ctx, "orders")
	if err != nil {
		t.Fatalf("dir: %v", err)
	}
	if id != again {
		t.Fatalf("id changed across reopen: %d vs %d", id, again)
	}
}

func TestParseFsyncMode(t *testing.T) {
	if m, err := ParseFsyncMode("interval"); err != nil || m != FsyncModeInterval {
		t.Fatalf("interval: %v %v", m, err)
	}
	if _, err := ParseFsyncMode("sometimes"); err == nil {
		t.Fatalf("expected error")
	}
}
