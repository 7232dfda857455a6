package route

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzbill/conduit/internal/exchange"
)

type fakeConsumer struct {
	starts, stops int
	startErr      error
}

func (c *fakeConsumer) Start(context.Context) error { c.starts++; return c.startErr }
func (c *fakeConsumer) Stop(context.Context) error  { c.stops++; return nil }

type recordingPolicy struct{ calls []string }

func (p *recordingPolicy) OnInit(Route)    { p.calls = append(p.calls, "init") }
func (p *recordingPolicy) OnRemove(Route)  { p.calls = append(p.calls, "remove") }
func (p *recordingPolicy) OnStart(Route)   { p.calls = append(p.calls, "start") }
func (p *recordingPolicy) OnStop(Route)    { p.calls = append(p.calls, "stop") }
func (p *recordingPolicy) OnSuspend(Route) { p.calls = append(p.calls, "suspend") }
func (p *recordingPolicy) OnResume(Route)  { p.calls = append(p.calls, "resume") }

func TestDefaultRouteLifecycle(t *testing.T) {
	ctx := context.Background()
	c := &fakeConsumer{}
	p := &recordingPolicy{}
	r := New("r1", c, p)
	assert.Equal(t, StatusStopped, r.Status())

	require.NoError(t, r.Start(ctx))
	require.NoError(t, r.Start(ctx))
	assert.Equal(t, 1, c.starts)
	assert.Equal(t, StatusStarted, r.Status())

	require.NoError(t, r.Suspend(ctx))
	assert.Equal(t, StatusSuspended, r.Status())
	require.NoError(t, r.Start(ctx))
	require.NoError(t, r.Remove(ctx))
	assert.ErrorIs(t, r.Start(ctx), ErrRemoved)

	assert.Equal(t, []string{"init", "start", "suspend", "resume", "stop", "remove"}, p.calls)
	assert.Equal(t, 2, c.stops)
}

func TestDefaultRouteStartFailure(t *testing.T) {
	boom := errors.New("boom")
	p := &recordingPolicy{}
	r := New("r2", &fakeConsumer{startErr: boom}, p)
	assert.ErrorIs(t, r.Start(context.Background()), boom)
	assert.Equal(t, StatusStopped, r.Status())
	assert.Equal(t, []string{"init"}, p.calls)
}

type hop struct{ next Processor }

func (h *hop) Process(ctx context.Context, ex *exchange.Exchange) error { return h.next.Process(ctx, ex) }
func (h *hop) Next() Processor                                          { return h.next }

func TestUnwrap(t *testing.T) {
	end := ProcessorFunc(func(context.Context, *exchange.Exchange) error { return nil })
	got := Unwrap(&hop{next: &hop{next: end}})
	_, isHop := got.(*hop)
	assert.False(t, isHop)
	require.NotNil(t, got)

	// a self-referencing delegate must not loop forever
	loop := &hop{}
	loop.next = loop
	assert.Same(t, loop, Unwrap(loop))
}
