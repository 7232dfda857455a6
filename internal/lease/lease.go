package lease

import (
	"context"
	"errors"
	"time"
)

// ID identifies a granted lease. NoLease is the zero value.
type ID int64

const NoLease ID = 0

var (
	// ErrLeaseNotFound is returned by KeepAliveOnce when the lease expired or was revoked.
	ErrLeaseNotFound = errors.New("lease: not found")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("lease: client closed")
)

// Client is the distributed lease and key-value collaborator.
type Client interface {
	// Grant creates a lease living ttl unless renewed.
	Grant(ctx context.Context, ttl time.Duration) (ID, error)
	// KeepAliveOnce renews id once.
	KeepAliveOnce(ctx context.Context, id ID) error
	// Revoke drops id and every key attached to it.
	Revoke(ctx context.Context, id ID) error
	// PutIfAbsent stores key=value bound to id only if key does not exist.
	// It reports whether the put happened.
	PutIfAbsent(ctx context.Context, key, value string, id ID) (bool, error)
	Close() error
}

func ttlSeconds(ttl time.Duration) int64 {
	s := int64(ttl / time.Second)
	if s < 1 {
		s = 1
	}
	return s
}
