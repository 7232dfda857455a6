package leader

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzbill/conduit/internal/event"
	"github.com/rzbill/conduit/internal/lease"
	"github.com/rzbill/conduit/internal/route"
)

type fakeConsumer struct {
	mu       sync.Mutex
	running  bool
	starts   int
	stops    int
	startErr error
}

func (c *fakeConsumer) Start(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.starts++
	if c.startErr != nil {
		return c.startErr
	}
	c.running = true
	return nil
}

func (c *fakeConsumer) Stop(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stops++
	c.running = false
	return nil
}

func (c *fakeConsumer) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

type capturingHandler struct {
	mu   sync.Mutex
	errs []error
}

func (h *capturingHandler) HandleError(_ context.Context, _ route.Route, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errs = append(h.errs, err)
}

func newPolicy(t *testing.T, store *lease.MemoryStore, name string, with ...Option) *Policy {
	t.Helper()
	opts := DefaultOptions()
	opts.TTL = time.Second
	opts.Timeout = time.Second
	opts.ServiceName = name
	opts.ServicePath = "/conduit/leader/orders"
	p, err := New(opts, append([]Option{WithClient(lease.NewMemoryClient(store))}, with...)...)
	require.NoError(t, err)
	return p
}

func TestAtMostOneLeader(t *testing.T) {
	store := lease.NewMemoryStore()
	defer store.Close()
	ctx := context.Background()
	a := newPolicy(t, store, "node-a")
	b := newPolicy(t, store, "node-b")

	for i := 0; i < 5; i++ {
		a.Evaluate(ctx)
		b.Evaluate(ctx)
		assert.False(t, a.IsLeader() && b.IsLeader(), "round %d: two leaders", i)
	}
	assert.True(t, a.IsLeader())
	assert.False(t, b.IsLeader())
	v, ok := store.Value("/conduit/leader/orders")
	require.True(t, ok)
	assert.Equal(t, "node-a", v)
}

func TestLeaseExpiryHandsOver(t *testing.T) {
	store := lease.NewMemoryStore()
	defer store.Close()
	ctx := context.Background()
	a := newPolicy(t, store, "node-a")
	b := newPolicy(t, store, "node-b")

	a.Evaluate(ctx)
	require.True(t, a.IsLeader())
	held := a.LeaseID()
	require.NotEqual(t, lease.NoLease, held)

	store.Expire(held)
	b.Evaluate(ctx)
	assert.True(t, b.IsLeader())

	a.Evaluate(ctx)
	assert.False(t, a.IsLeader())
	assert.Equal(t, lease.NoLease, a.LeaseID(), "lease id is reset after lease-not-found")
	select {
	case v := <-a.Leadership():
		assert.False(t, v)
	default:
		t.Fatal("no leadership change delivered")
	}
}

func TestScheduledEvaluationTakesOverWithinTTL(t *testing.T) {
	store := lease.NewMemoryStore()
	defer store.Close()
	ctx := context.Background()
	a := newPolicy(t, store, "node-a")
	require.NoError(t, a.Start(ctx))
	require.Eventually(t, a.IsLeader, 2*time.Second, 10*time.Millisecond)

	b := newPolicy(t, store, "node-b")
	require.NoError(t, b.Start(ctx))
	defer b.Close()

	// simulate a crashed leader: stop renewing without releasing the lease
	a.task.Cancel()
	<-a.task.Done()
	require.Eventually(t, b.IsLeader, 4*time.Second, 20*time.Millisecond)
	require.NoError(t, a.Close())
}

func TestOnStartSuspendsUntilLeader(t *testing.T) {
	store := lease.NewMemoryStore()
	defer store.Close()
	ctx := context.Background()
	events := event.NewDispatcher(nil, nil)
	seen := &event.Collector{}
	events.Add(seen)

	rival := newPolicy(t, store, "rival")
	rival.Evaluate(ctx)
	require.True(t, rival.IsLeader())

	p := newPolicy(t, store, "node-a", WithEvents(events))
	p.Evaluate(ctx)
	require.False(t, p.IsLeader())

	c := &fakeConsumer{}
	r := route.New("orders", c, p)
	require.NoError(t, r.Start(ctx))
	assert.False(t, c.Running(), "consumer must be stopped while not leader")
	assert.Equal(t, []string{"orders"}, p.Suspended())

	p.OnStart(r)
	assert.Equal(t, 1, c.stops, "suspending is idempotent")

	store.Expire(rival.LeaseID())
	p.Evaluate(ctx)
	require.True(t, p.IsLeader())
	assert.True(t, c.Running())
	assert.Empty(t, p.Suspended())
	assert.Equal(t, 1, seen.Count(event.RouteStopped))
	assert.Equal(t, 1, seen.Count(event.RouteStarted))

	// losing leadership does not stop consumers on its own
	store.Expire(p.LeaseID())
	rival.Evaluate(ctx)
	p.Evaluate(ctx)
	assert.False(t, p.IsLeader())
	assert.True(t, c.Running())
}

func TestOnStopAndSuspendForgetRoute(t *testing.T) {
	store := lease.NewMemoryStore()
	defer store.Close()
	rival := newPolicy(t, store, "rival")
	rival.Evaluate(context.Background())

	p := newPolicy(t, store, "node-a")
	r := route.New("r", &fakeConsumer{}, p)
	p.OnStart(r)
	require.Len(t, p.Suspended(), 1)
	p.OnStop(r)
	assert.Empty(t, p.Suspended())

	p.OnStart(r)
	p.OnSuspend(r)
	assert.Empty(t, p.Suspended())
}

func TestShouldStopConsumerDisabled(t *testing.T) {
	store := lease.NewMemoryStore()
	defer store.Close()
	opts := DefaultOptions()
	opts.ServiceName, opts.ServicePath = "n", "/p"
	opts.ShouldStopConsumer = false
	p, err := New(opts, WithClient(lease.NewMemoryClient(store)))
	require.NoError(t, err)

	c := &fakeConsumer{}
	require.NoError(t, route.New("r", c, p).Start(context.Background()))
	assert.True(t, c.Running())
	assert.Empty(t, p.Suspended())
}

func TestConsumerStartErrorGoesToHandler(t *testing.T) {
	store := lease.NewMemoryStore()
	defer store.Close()
	ctx := context.Background()
	rival := newPolicy(t, store, "rival")
	rival.Evaluate(ctx)

	h := &capturingHandler{}
	p := newPolicy(t, store, "node-a", WithErrorHandler(h))
	c := &fakeConsumer{}
	r := route.New("r", c, p)
	p.OnStart(r)

	c.startErr = errors.New("port busy")
	store.Expire(rival.LeaseID())
	assert.NotPanics(t, func() { p.Evaluate(ctx) })
	assert.True(t, p.IsLeader())
	require.Len(t, h.errs, 1)
	assert.ErrorIs(t, h.errs[0], c.startErr)
	assert.Empty(t, p.Suspended())
}

type failingClient struct{ lease.Client }

func (failingClient) Grant(ctx context.Context, _ time.Duration) (lease.ID, error) {
	<-ctx.Done()
	return lease.NoLease, ctx.Err()
}

func TestAcquireTimeoutIsNotLeader(t *testing.T) {
	opts := Options{ServiceName: "n", ServicePath: "/p", Timeout: 20 * time.Millisecond}
	p, err := New(opts, WithClient(failingClient{}))
	require.NoError(t, err)
	assert.NotPanics(t, func() { p.Evaluate(context.Background()) })
	assert.False(t, p.IsLeader())
}

func TestOptions(t *testing.T) {
	assert.Equal(t, 40*time.Second, DefaultOptions().Interval())
	assert.Equal(t, time.Second, Options{TTL: time.Second}.Interval())
	assert.Equal(t, 2*time.Second, Options{TTL: 3 * time.Second}.Interval())
	assert.Equal(t, []string{"http://a:2379", "http://b:2379"}, ParseEndpoints(" http://a:2379, ,http://b:2379"))

	_, err := New(Options{ServicePath: "/p"})
	assert.Error(t, err)
	_, err = New(Options{ServiceName: "n"})
	assert.Error(t, err)
}
