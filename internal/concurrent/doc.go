// Package concurrent provides the synchronization primitives used by
// Conduit's workers: a re-armable bidirectional latch and scoped lock
// helpers over a read/write lock with optimistic read stamps.
package concurrent
