package lease

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

type binding struct {
	value string
	lease ID
}

// MemoryStore is an in-process lease and key store shared by memory
// clients. Leases expire after their TTL unless kept alive. A key bound to
// an expired lease reads as absent; keys are only checked against the
// lease cache while mu is held, never the other way round.
type MemoryStore struct {
	leases *ttlcache.Cache[ID, time.Duration]
	nextID atomic.Int64

	mu   sync.Mutex
	keys map[string]binding
}

// NewMemoryStore returns a store and starts its expiry loop.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		leases: ttlcache.New[ID, time.Duration](
			ttlcache.WithDisableTouchOnHit[ID, time.Duration](),
		),
		keys: make(map[string]binding),
	}
	go s.leases.Start()
	return s
}

// Close stops the expiry loop.
func (s *MemoryStore) Close() { s.leases.Stop() }

func (s *MemoryStore) alive(id ID) bool {
	return id != NoLease && s.leases.Get(id) != nil
}

func (s *MemoryStore) dropKeys(id ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, b := range s.keys {
		if b.lease == id {
			delete(s.keys, k)
		}
	}
}

// Expire ends lease id immediately as if its TTL had elapsed.
func (s *MemoryStore) Expire(id ID) {
	s.leases.Delete(id)
	s.dropKeys(id)
}

// Value returns the value stored under key while its lease is alive.
func (s *MemoryStore) Value(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.keys[key]
	if !ok || (b.lease != NoLease && !s.alive(b.lease)) {
		return "", false
	}
	return b.value, true
}

// MemoryClient is a Client over a MemoryStore.
type MemoryClient struct {
	store  *MemoryStore
	closed atomic.Bool
}

// NewMemoryClient returns a client of store.
func NewMemoryClient(store *MemoryStore) *MemoryClient {
	return &MemoryClient{store: store}
}

func (c *MemoryClient) check(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}
	return ctx.Err()
}

func (c *MemoryClient) Grant(ctx context.Context, ttl time.Duration) (ID, error) {
	if err := c.check(ctx); err != nil {
		return NoLease, err
	}
	ttl = time.Duration(ttlSeconds(ttl)) * time.Second
	id := ID(c.store.nextID.Add(1))
	c.store.leases.Set(id, ttl, ttl)
	return id, nil
}

func (c *MemoryClient) KeepAliveOnce(ctx context.Context, id ID) error {
	if err := c.check(ctx); err != nil {
		return err
	}
	it := c.store.leases.Get(id)
	if it == nil {
		return ErrLeaseNotFound
	}
	c.store.leases.Set(id, it.Value(), it.Value())
	return nil
}

func (c *MemoryClient) Revoke(ctx context.Context, id ID) error {
	if err := c.check(ctx); err != nil {
		return err
	}
	c.store.Expire(id)
	return nil
}

func (c *MemoryClient) PutIfAbsent(ctx context.Context, key, value string, id ID) (bool, error) {
	if err := c.check(ctx); err != nil {
		return false, err
	}
	s := c.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.keys[key]; ok && (b.lease == NoLease || s.alive(b.lease)) {
		return false, nil
	}
	if id != NoLease && !s.alive(id) {
		return false, ErrLeaseNotFound
	}
	s.keys[key] = binding{value: value, lease: id}
	return true, nil
}

// Close marks the client closed; the shared store stays open.
func (c *MemoryClient) Close() error {
	c.closed.Store(true)
	return nil
}
