package lease

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryPutIfAbsentSingleWinner(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	defer store.Close()
	a, b := NewMemoryClient(store), NewMemoryClient(store)

	la, err := a.Grant(ctx, time.Minute)
	require.NoError(t, err)
	lb, err := b.Grant(ctx, time.Minute)
	require.NoError(t, err)
	assert.NotEqual(t, la, lb)

	ok, err := a.PutIfAbsent(ctx, "/svc", "node-a", la)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = b.PutIfAbsent(ctx, "/svc", "node-b", lb)
	require.NoError(t, err)
	assert.False(t, ok)

	v, found := store.Value("/svc")
	assert.True(t, found)
	assert.Equal(t, "node-a", v)
}

func TestMemoryExpireReleasesKey(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	defer store.Close()
	a, b := NewMemoryClient(store), NewMemoryClient(store)

	la, _ := a.Grant(ctx, time.Minute)
	ok, _ := a.PutIfAbsent(ctx, "/svc", "node-a", la)
	require.True(t, ok)

	store.Expire(la)
	assert.ErrorIs(t, a.KeepAliveOnce(ctx, la), ErrLeaseNotFound)

	lb, _ := b.Grant(ctx, time.Minute)
	ok, err := b.PutIfAbsent(ctx, "/svc", "node-b", lb)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryLeaseTimesOut(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	defer store.Close()
	c := NewMemoryClient(store)

	id, err := c.Grant(ctx, time.Second)
	require.NoError(t, err)
	ok, _ := c.PutIfAbsent(ctx, "/k", "v", id)
	require.True(t, ok)
	require.NoError(t, c.KeepAliveOnce(ctx, id))

	require.Eventually(t, func() bool {
		_, found := store.Value("/k")
		return !found
	}, 3*time.Second, 50*time.Millisecond)
	assert.ErrorIs(t, c.KeepAliveOnce(ctx, id), ErrLeaseNotFound)
}

func TestMemoryRevokeAndClose(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	defer store.Close()
	c := NewMemoryClient(store)

	id, _ := c.Grant(ctx, time.Minute)
	require.NoError(t, c.Revoke(ctx, id))
	ok, err := c.PutIfAbsent(ctx, "/k", "v", id)
	assert.ErrorIs(t, err, ErrLeaseNotFound)
	assert.False(t, ok)

	require.NoError(t, c.Close())
	_, err = c.Grant(ctx, time.Minute)
	assert.ErrorIs(t, err, ErrClosed)

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	_, err = NewMemoryClient(store).Grant(cctx, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}
