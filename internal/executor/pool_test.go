package executor

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFixedPoolRunsTasks(t *testing.T) {
	p, err := NewFixedPool("fixed", 4)
	require.NoError(t, err)
	require.Len(t, p.Workers(), 4)

	var n atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		require.NoError(t, p.Execute(func() {
			defer wg.Done()
			n.Add(1)
		}))
	}
	wg.Wait()
	assert.Equal(t, int32(100), n.Load())

	p.Shutdown()
	assert.True(t, p.IsShutdown())
	assert.ErrorIs(t, p.Execute(func() {}), ErrShutdown)
	require.NoError(t, p.AwaitTermination(context.Background()))
}

func TestSinglePoolPreservesOrder(t *testing.T) {
	p, err := NewSinglePool("single")
	require.NoError(t, err)
	var got []int
	for i := 0; i < 20; i++ {
		i := i
		require.NoError(t, p.Execute(func() { got = append(got, i) }))
	}
	p.Shutdown()
	require.NoError(t, p.AwaitTermination(context.Background()))
	for i, v := range got {
		assert.Equal(t, i, v)
	}
	assert.Len(t, got, 20)
}

func TestPoolSurvivesPanic(t *testing.T) {
	p, err := NewSinglePool("panicky")
	require.NoError(t, err)
	done := make(chan struct{})
	require.NoError(t, p.Execute(func() { panic("boom") }))
	require.NoError(t, p.Execute(func() { close(done) }))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker died after panic")
	}
	p.Shutdown()
}

func TestPoolRejectsWhenFull(t *testing.T) {
	p, err := NewSinglePool("full", WithQueueSize(1))
	require.NoError(t, err)
	block := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, p.Execute(func() { close(started); <-block }))
	<-started
	require.NoError(t, p.Execute(func() {}))
	assert.ErrorIs(t, p.Execute(func() {}), ErrRejected)
	close(block)
	p.Shutdown()
	require.NoError(t, p.AwaitTermination(context.Background()))
}

func TestPoolInvalidPattern(t *testing.T) {
	_, err := NewFixedPool("bad", 2, WithPattern("${bogus}"))
	assert.ErrorIs(t, err, ErrInvalidPattern)
	_, err = NewFixedPool("zero", 0)
	assert.Error(t, err)
}

func TestSynchronousExecutorRunsInline(t *testing.T) {
	var e SynchronousExecutor
	ran := false
	require.NoError(t, e.Execute(func() { ran = true }))
	assert.True(t, ran, "task must complete before Execute returns")

	e.Shutdown()
	assert.True(t, e.IsShutdown())
	ran = false
	require.NoError(t, e.Execute(func() { ran = true }))
	assert.True(t, ran)
}
