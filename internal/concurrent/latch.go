package concurrent

import (
	"context"
	"sync"
	"time"
)

// Latch is a counter that waiters can block on until it reaches zero.
// The zero value is ready to use.
// Unlike a one-shot countdown latch it can be incremented and decremented
// any number of times, may go negative transiently, and releases waiters
// each time the count transitions to zero.
type Latch struct {
	mu    sync.Mutex
	count int64
	// zero is closed while count == 0 and replaced when count leaves zero.
	// Created on first use.
	zero chan struct{}
}

// NewLatch returns a latch with count 0.
func NewLatch() *Latch { return &Latch{} }

// lazyInit must be called with mu held.
func (l *Latch) lazyInit() {
	if l.zero != nil {
		return
	}
	l.zero = make(chan struct{})
	if l.count == 0 {
		close(l.zero)
	}
}

// Increment adds one to the count.
func (l *Latch) Increment() { l.add(1) }

// Decrement subtracts one from the count.
func (l *Latch) Decrement() { l.add(-1) }

func (l *Latch) add(delta int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lazyInit()
	prev := l.count
	l.count += delta
	switch {
	case prev == 0 && l.count != 0:
		l.zero = make(chan struct{})
	case prev != 0 && l.count == 0:
		close(l.zero)
	}
}

// Count returns the current count.
func (l *Latch) Count() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

func (l *Latch) wait() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lazyInit()
	return l.zero
}

// Await blocks until the count is zero or ctx is done, returning ctx.Err()
// in the latter case.
func (l *Latch) Await(ctx context.Context) error {
	select {
	case <-l.wait():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AwaitTimeout blocks until the count is zero or d elapses. It reports
// whether zero was reached.
func (l *Latch) AwaitTimeout(d time.Duration) bool {
	ch := l.wait()
	if d <= 0 {
		select {
		case <-ch:
			return true
		default:
			return false
		}
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ch:
		return true
	case <-t.C:
		return false
	}
}
