package pebblestore

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
)

var (
	dirPrefix  = []byte("dir/")
	dirSeqKey  = []byte("dirseq")
	repoPrefix = []byte("repo/")
)

func dirKey(name string) []byte {
	k := make([]byte, 0, len(dirPrefix)+len(name))
	k = append(k, dirPrefix...)
	return append(k, name...)
}

// RepoPrefix returns the key prefix owning every index of repository id.
// Format: repo/{id:8 bytes BE}/
func RepoPrefix(id uint64) []byte {
	k := make([]byte, len(repoPrefix)+8+1)
	copy(k, repoPrefix)
	binary.BigEndian.PutUint64(k[len(repoPrefix):], id)
	k[len(k)-1] = '/'
	return k
}

// Directory returns the id registered for name in the top-level directory
// index, allocating and persisting a new one on first use.
func (db *DB) Directory(ctx context.Context, name string) (uint64, error) {
	if name == "" {
		return 0, errors.New("pebble: directory name is required")
	}
	if b, err := db.Get(dirKey(name)); err == nil && len(b) == 8 {
		return binary.BigEndian.Uint64(b), nil
	} else if err != nil && !errors.Is(err, pebble.ErrNotFound) {
		return 0, err
	}

	db.dirMu.Lock()
	defer db.dirMu.Unlock()
	return WithTransaction(ctx, db, func(tx *Tx) (uint64, error) {
		if b, err := tx.Get(dirKey(name)); err == nil && len(b) == 8 {
			return binary.BigEndian.Uint64(b), nil
		}
		var last uint64
		if b, err := tx.Get(dirSeqKey); err == nil && len(b) == 8 {
			last = binary.BigEndian.Uint64(b)
		} else if err != nil && !errors.Is(err, pebble.ErrNotFound) {
			return 0, fmt.Errorf("read directory sequence: %w", err)
		}
		id := last + 1
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], id)
		if err := tx.Set(dirSeqKey, buf[:]); err != nil {
			return 0, err
		}
		if err := tx.Set(dirKey(name), buf[:]); err != nil {
			return 0, err
		}
		return id, nil
	})
}

// Directories lists the names registered in the directory index.
func (db *DB) Directories() ([]string, error) {
	upper := append(append([]byte(nil), dirPrefix...), 0xff)
	it, err := db.NewIter(&pebble.IterOptions{LowerBound: dirPrefix, UpperBound: upper})
	if err != nil {
		return nil, err
	}
	defer it.Close()
	var names []string
	for it.First(); it.Valid(); it.Next() {
		names = append(names, string(it.Key()[len(dirPrefix):]))
	}
	return names, it.Error()
}
