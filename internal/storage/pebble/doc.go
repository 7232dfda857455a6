// Package pebblestore is the paged backing store of the aggregation
// repositories: a thin wrapper around Pebble with fsync policy, snapshots,
// transactions and a top-level directory index.
//
// File layout:
//
//	dir/{name}                 -> 8-byte repository id (directory index)
//	dirseq                     -> last allocated repository id
//	repo/{id}/...              -> per-repository key/value indices
//
// Usage:
//
//	db, err := pebblestore.Open(pebblestore.Options{
//	    DataDir: "./data",
//	    Fsync:   pebblestore.FsyncModeInterval,
//	})
//	if err != nil { /* handle */ }
//	defer db.Close()
//
//	id, _ := db.Directory(ctx, "orders")
//	prefix := pebblestore.RepoPrefix(id)
//
//	// Work committed on nil error, rolled back otherwise
//	prev, err := pebblestore.WithTransaction(ctx, db, func(tx *pebblestore.Tx) ([]byte, error) {
//	    old, _ := tx.Get(append(prefix, 'k'))
//	    return old, tx.Set(append(prefix, 'k'), []byte("v"))
//	})
package pebblestore
