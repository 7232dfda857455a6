package executor

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduleAtFixedRateRepeats(t *testing.T) {
	s, err := NewScheduledPool("sched", 1)
	require.NoError(t, err)
	defer s.Shutdown()

	var runs atomic.Int32
	var worker atomic.Value
	task, err := s.ScheduleAtFixedRate(context.Background(), 0, 10*time.Millisecond, func(ctx context.Context) {
		worker.Store(WorkerName(ctx))
		runs.Add(1)
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return runs.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	task.Cancel()
	select {
	case <-task.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("task did not stop")
	}
	assert.Equal(t, task.Worker(), worker.Load())
	assert.True(t, strings.HasSuffix(task.Worker(), " - sched"))

	n := runs.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, runs.Load())
}

func TestScheduledPanicDoesNotStopTask(t *testing.T) {
	s, err := NewScheduledPool("sched-panic", 1)
	require.NoError(t, err)
	var runs atomic.Int32
	_, err = s.ScheduleAtFixedRate(context.Background(), 0, 5*time.Millisecond, func(context.Context) {
		if runs.Add(1) == 1 {
			panic("first run fails")
		}
	})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return runs.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	s.Shutdown()
	require.NoError(t, s.AwaitTermination(context.Background()))
}

func TestScheduledShutdownCancelsTasks(t *testing.T) {
	s, err := NewScheduledPool("sched-stop", 2)
	require.NoError(t, err)
	task, err := s.ScheduleAtFixedRate(context.Background(), time.Hour, time.Hour, func(context.Context) {})
	require.NoError(t, err)

	s.Shutdown()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.AwaitTermination(ctx))
	<-task.Done()

	_, err = s.ScheduleAtFixedRate(context.Background(), 0, time.Second, func(context.Context) {})
	assert.ErrorIs(t, err, ErrShutdown)
	assert.ErrorIs(t, s.Execute(func() {}), ErrShutdown)
}

func TestManagerShutdownAll(t *testing.T) {
	m, err := NewManager("", nil)
	require.NoError(t, err)
	p, err := m.NewFixedPool("m-fixed", 2)
	require.NoError(t, err)
	s, err := m.NewScheduledPool("m-sched", 1)
	require.NoError(t, err)
	_, err = s.ScheduleAtFixedRate(context.Background(), 0, time.Millisecond, func(context.Context) {})
	require.NoError(t, err)

	require.NoError(t, m.ShutdownAll(context.Background()))
	assert.True(t, p.IsShutdown())
	assert.True(t, s.IsShutdown())

	_, err = NewManager("${nope}", nil)
	assert.ErrorIs(t, err, ErrInvalidPattern)
}

func TestManagerShutdownAllTimesOut(t *testing.T) {
	m, err := NewManager("", nil)
	require.NoError(t, err)
	p, err := m.NewSinglePool("stuck")
	require.NoError(t, err)
	release := make(chan struct{})
	defer close(release)
	require.NoError(t, p.Execute(func() { <-release }))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = m.ShutdownAll(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
