package aggregation

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

const defaultStripes = 256

// keyLocks serializes work per key by hashing keys onto a fixed set of
// mutexes. Distinct keys may share a stripe; the same key always does.
type keyLocks struct {
	stripes []sync.Mutex
}

func newKeyLocks(n int) *keyLocks {
	if n <= 0 {
		n = defaultStripes
	}
	return &keyLocks{stripes: make([]sync.Mutex, n)}
}

func (l *keyLocks) lock(key []byte) func() {
	m := &l.stripes[xxhash.Sum64(key)%uint64(len(l.stripes))]
	m.Lock()
	return m.Unlock
}
