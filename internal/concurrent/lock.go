package concurrent

import (
	"sync"
	"sync/atomic"
)

// RWLocker is the lock surface the scoped helpers operate on.
// *sync.RWMutex and *StampedLock both satisfy it.
type RWLocker interface {
	Lock()
	Unlock()
	RLock()
	RUnlock()
}

// Stamp is an optimistic read token issued by StampedLock.
type Stamp uint64

// StampedLock is a read/write lock that also issues optimistic read
// stamps. A stamp stays valid until the next write lock is acquired.
type StampedLock struct {
	mu sync.RWMutex
	// version is odd while a writer holds the lock.
	version atomic.Uint64
}

func (l *StampedLock) Lock() {
	l.mu.Lock()
	l.version.Add(1)
}

func (l *StampedLock) Unlock() {
	l.version.Add(1)
	l.mu.Unlock()
}

func (l *StampedLock) RLock()   { l.mu.RLock() }
func (l *StampedLock) RUnlock() { l.mu.RUnlock() }

// TryOptimisticRead returns a stamp for a lock-free read, or 0 when a
// writer currently holds the lock.
func (l *StampedLock) TryOptimisticRead() Stamp {
	v := l.version.Load()
	if v%2 == 1 {
		return 0
	}
	return Stamp(v + 2)
}

// Validate reports whether no write happened since stamp was issued.
func (l *StampedLock) Validate(s Stamp) bool {
	return s != 0 && uint64(s) == l.version.Load()+2
}

// WithReadLock runs fn holding the read lock.
func WithReadLock(l RWLocker, fn func()) {
	l.RLock()
	defer l.RUnlock()
	fn()
}

// WithWriteLock runs fn holding the write lock.
func WithWriteLock(l RWLocker, fn func()) {
	l.Lock()
	defer l.Unlock()
	fn()
}

// TryWithReadLock runs fn holding the read lock and returns its error.
func TryWithReadLock(l RWLocker, fn func() error) error {
	l.RLock()
	defer l.RUnlock()
	return fn()
}

// TryWithWriteLock runs fn holding the write lock and returns its error.
func TryWithWriteLock(l RWLocker, fn func() error) error {
	l.Lock()
	defer l.Unlock()
	return fn()
}

// CallWithReadLock returns fn's result computed under the read lock.
func CallWithReadLock[T any](l RWLocker, fn func() (T, error)) (T, error) {
	l.RLock()
	defer l.RUnlock()
	return fn()
}

// CallWithWriteLock returns fn's result computed under the write lock.
func CallWithWriteLock[T any](l RWLocker, fn func() (T, error)) (T, error) {
	l.Lock()
	defer l.Unlock()
	return fn()
}

// CallOptimistic runs fn without locking and keeps the result if no writer
// intervened; otherwise fn is re-run under the read lock. fn must tolerate
// observing torn state on the optimistic pass.
func CallOptimistic[T any](l *StampedLock, fn func() T) T {
	if s := l.TryOptimisticRead(); s != 0 {
		v := fn()
		if l.Validate(s) {
			return v
		}
	}
	l.RLock()
	defer l.RUnlock()
	return fn()
}
