package aggregation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzbill/conduit/internal/event"
	"github.com/rzbill/conduit/internal/exchange"
	"github.com/rzbill/conduit/internal/executor"
)

type sinkRecorder struct {
	mu   sync.Mutex
	got  []*exchange.Exchange
	fail error
}

func (s *sinkRecorder) sink(_ context.Context, ex *exchange.Exchange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.got = append(s.got, ex)
	return nil
}

func (s *sinkRecorder) setFail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = err
}

func (s *sinkRecorder) received() []*exchange.Exchange {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*exchange.Exchange(nil), s.got...)
}

func newTestAggregator(t *testing.T, opts AggregatorOptions) (*Aggregator, *sinkRecorder) {
	t.Helper()
	rec := &sinkRecorder{}
	if opts.Repository == nil {
		opts.Repository = openTestRepo(t, openTestDB(t), nil)
	}
	if opts.Sink == nil {
		opts.Sink = rec.sink
	}
	a, err := NewAggregator(opts)
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	t.Cleanup(func() { _ = a.Close() })
	return a, rec
}

func TestAggregatorCompletesBySize(t *testing.T) {
	ctx := context.Background()
	a, rec := newTestAggregator(t, AggregatorOptions{Strategy: GroupedBodies, CompletionSize: 3})

	for _, body := range []string{"a", "b"} {
		out, err := a.Process(ctx, "order-1", exchange.New(body))
		require.NoError(t, err)
		assert.Nil(t, out)
	}
	keys, err := a.Repository().Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Key{"order-1"}, keys)

	out, err := a.Process(ctx, "order-1", exchange.New("c"))
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, []any{"a", "b", "c"}, out.Body)
	assert.Equal(t, CompletedBySize, out.StringProperty(exchange.PropertyAggregatedCompletedBy))
	assert.Equal(t, 3, out.IntProperty(exchange.PropertyAggregatedSize, 0))
	assert.Equal(t, "order-1", out.StringProperty(exchange.PropertyAggregatedKey))

	require.Len(t, rec.received(), 1)
	keys, err = a.Repository().Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
	parked, err := a.Repository().Scan(ctx)
	require.NoError(t, err)
	assert.Empty(t, parked, "delivered aggregates are confirmed")
}

func TestAggregatorCompletesByPredicate(t *testing.T) {
	ctx := context.Background()
	pred, err := CompilePredicate(`has(headers.last) && headers.last == true`)
	require.NoError(t, err)
	a, rec := newTestAggregator(t, AggregatorOptions{CompletionPredicate: pred, CompletionSize: 100})

	_, err = a.Process(ctx, "k", exchange.New("one"))
	require.NoError(t, err)
	last := exchange.New("two")
	last.SetHeader("last", true)
	out, err := a.Process(ctx, "k", last)
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, "two", out.Body)
	assert.Equal(t, CompletedByPredicate, out.StringProperty(exchange.PropertyAggregatedCompletedBy))
	assert.Equal(t, 2, out.IntProperty(exchange.PropertyAggregatedSize, 0))
	assert.Len(t, rec.received(), 1)
}

func TestAggregatorCompletesByStrategyFlag(t *testing.T) {
	ctx := context.Background()
	a, _ := newTestAggregator(t, AggregatorOptions{Strategy: GroupedBodies, CompletionSize: 10})

	_, err := a.Process(ctx, "k", exchange.New(1))
	require.NoError(t, err)
	closing := exchange.New(2)
	closing.SetProperty(exchange.PropertyCompleteCurrentGroup, true)
	out, err := a.Process(ctx, "k", closing)
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, CompletedByStrategy, out.StringProperty(exchange.PropertyAggregatedCompletedBy))
	_, flagged := out.Property(exchange.PropertyCompleteCurrentGroup)
	assert.False(t, flagged)
}

func TestAggregatorForceCompletion(t *testing.T) {
	ctx := context.Background()
	a, rec := newTestAggregator(t, AggregatorOptions{CompletionSize: 10})
	for _, k := range []Key{"a", "b", "c"} {
		_, err := a.Process(ctx, k, exchange.New(string(k)))
		require.NoError(t, err)
	}
	n, err := a.ForceCompletion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	for _, ex := range rec.received() {
		assert.Equal(t, CompletedByForce, ex.StringProperty(exchange.PropertyAggregatedCompletedBy))
	}

	ok, err := a.ForceCompletionOfKey(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAggregatorCompletionTimeout(t *testing.T) {
	ctx := context.Background()
	a, rec := newTestAggregator(t, AggregatorOptions{CompletionTimeout: 50 * time.Millisecond})
	_, err := a.Process(ctx, "slow", exchange.New("x"))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(rec.received()) == 1 }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, CompletedByTimeout, rec.received()[0].StringProperty(exchange.PropertyAggregatedCompletedBy))
}

func TestAggregatorCompletionInterval(t *testing.T) {
	ctx := context.Background()
	sched, err := executor.NewScheduledPool("interval", 1)
	require.NoError(t, err)
	defer sched.Shutdown()
	a, rec := newTestAggregator(t, AggregatorOptions{CompletionInterval: 30 * time.Millisecond, Scheduler: sched})
	_, err = a.Process(ctx, "k", exchange.New("x"))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(rec.received()) == 1 }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, CompletedByInterval, rec.received()[0].StringProperty(exchange.PropertyAggregatedCompletedBy))
}

func TestAggregatorFailedDeliveryStaysParked(t *testing.T) {
	ctx := context.Background()
	events := event.NewDispatcher(nil, nil)
	seen := &event.Collector{}
	events.Add(seen)
	a, rec := newTestAggregator(t, AggregatorOptions{CompletionSize: 1, Events: events})
	rec.setFail(errors.New("downstream unavailable"))

	out, err := a.Process(ctx, "k", exchange.New("x"))
	require.NoError(t, err)
	require.NotNil(t, out)

	parked, err := a.Repository().Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{out.ID}, parked)
	assert.Equal(t, 1, seen.Count(event.ExchangeFailed))
	assert.Zero(t, seen.Count(event.ExchangeCompleted))
}

func TestAggregatorOptionsValidation(t *testing.T) {
	repo := openTestRepo(t, openTestDB(t), nil)
	sink := func(context.Context, *exchange.Exchange) error { return nil }

	_, err := NewAggregator(AggregatorOptions{Sink: sink, CompletionSize: 1})
	assert.Error(t, err)
	_, err = NewAggregator(AggregatorOptions{Repository: repo, CompletionSize: 1})
	assert.Error(t, err)
	_, err = NewAggregator(AggregatorOptions{Repository: repo, Sink: sink})
	assert.Error(t, err)
	_, err = NewAggregator(AggregatorOptions{Repository: repo, Sink: sink, CompletionInterval: time.Second})
	assert.Error(t, err)
}

func TestAggregatorStrategyErrors(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")
	a, _ := newTestAggregator(t, AggregatorOptions{
		CompletionSize: 2,
		Strategy:       StrategyFunc(func(_, _ *exchange.Exchange) (*exchange.Exchange, error) { return nil, boom }),
	})
	_, err := a.Process(ctx, "k", exchange.New("x"))
	assert.ErrorIs(t, err, boom)

	b, _ := newTestAggregator(t, AggregatorOptions{
		CompletionSize: 2,
		Strategy:       StrategyFunc(func(_, _ *exchange.Exchange) (*exchange.Exchange, error) { return nil, nil }),
	})
	_, err = b.Process(ctx, "k", exchange.New("x"))
	assert.Error(t, err)
	keys, err := b.Repository().Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestAggregatorConcurrentSameKey(t *testing.T) {
	ctx := context.Background()
	a, rec := newTestAggregator(t, AggregatorOptions{Strategy: GroupedBodies, CompletionSize: 50})
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := a.Process(ctx, "hot", exchange.New(i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()
	got := rec.received()
	require.Len(t, got, 1)
	assert.Len(t, got[0].Body, 50)
}

type countingExecutor struct {
	executor.Executor
	calls atomic.Int32
}

func (c *countingExecutor) Execute(task func()) error {
	c.calls.Add(1)
	return c.Executor.Execute(task)
}

func TestAggregatorTimeoutRunsOnWorkers(t *testing.T) {
	ctx := context.Background()
	pool, err := executor.NewFixedPool("timeouts", 1)
	require.NoError(t, err)
	t.Cleanup(pool.Shutdown)
	workers := &countingExecutor{Executor: pool}

	a, rec := newTestAggregator(t, AggregatorOptions{CompletionTimeout: 30 * time.Millisecond, Workers: workers})
	_, err = a.Process(ctx, "slow", exchange.New("x"))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(rec.received()) == 1 }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), workers.calls.Load())
}

func TestAggregatorCloseWaitsForTimeoutCompletion(t *testing.T) {
	ctx := context.Background()
	entered := make(chan struct{})
	release := make(chan struct{})
	a, err := NewAggregator(AggregatorOptions{
		Repository:        openTestRepo(t, openTestDB(t), nil),
		CompletionTimeout: 30 * time.Millisecond,
		Sink: func(context.Context, *exchange.Exchange) error {
			close(entered)
			<-release
			return nil
		},
	})
	require.NoError(t, err)
	require.NoError(t, a.Start(ctx))
	_, err = a.Process(ctx, "slow", exchange.New("x"))
	require.NoError(t, err)

	select {
	case <-entered:
	case <-time.After(3 * time.Second):
		t.Fatal("timeout completion never reached the sink")
	}

	closed := make(chan error, 1)
	go func() { closed <- a.Close() }()
	select {
	case <-closed:
		t.Fatal("Close returned while a completion was running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case err := <-closed:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Close did not return")
	}
	assert.NoError(t, a.Close())
}

func TestAggregatorCloseWithoutStart(t *testing.T) {
	a, err := NewAggregator(AggregatorOptions{
		Repository:        openTestRepo(t, openTestDB(t), nil),
		CompletionTimeout: time.Second,
		Sink:              func(context.Context, *exchange.Exchange) error { return nil },
	})
	require.NoError(t, err)
	assert.NoError(t, a.Close())
}
