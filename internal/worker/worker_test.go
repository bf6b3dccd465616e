package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func fixedInterval(d time.Duration) func() time.Duration {
	return func() time.Duration { return d }
}

func TestWorkerRunsBodyUntilStopped(t *testing.T) {
	var calls atomic.Int64
	w := New("counter", func(ctx context.Context) {
		calls.Add(1)
	}, fixedInterval(time.Millisecond), nil)

	require.NoError(t, w.Start())
	assert.True(t, w.Running())
	assert.False(t, w.StopRequested())

	require.Eventually(t, func() bool { return calls.Load() >= 5 }, time.Second, time.Millisecond)

	w.Stop()
	require.True(t, w.Wait(time.Second))
	assert.False(t, w.Running())
	assert.True(t, w.StopRequested())

	after := calls.Load()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, after, calls.Load(), "body must not run after the worker stopped")
	assert.Equal(t, uint64(after), w.Cycles())
}

func TestWorkerStartTwice(t *testing.T) {
	w := New("twice", func(ctx context.Context) {}, fixedInterval(time.Millisecond), nil)

	require.NoError(t, w.Start())
	assert.ErrorIs(t, w.Start(), ErrAlreadyRunning)

	w.Stop()
	w.Join()
}

func TestWorkerRestart(t *testing.T) {
	var calls atomic.Int64
	w := New("restart", func(ctx context.Context) {
		calls.Add(1)
	}, fixedInterval(time.Millisecond), nil)

	for i := 0; i < 3; i++ {
		require.NoError(t, w.Start(), "start %d", i)
		require.Eventually(t, func() bool { return w.Cycles() > 0 }, time.Second, time.Millisecond)
		w.Stop()
		w.Join()
		assert.False(t, w.Running())
	}
}

func TestWorkerStopInterruptsInterval(t *testing.T) {
	entered := make(chan struct{}, 1)
	w := New("sleepy", func(ctx context.Context) {
		select {
		case entered <- struct{}{}:
		default:
		}
	}, fixedInterval(time.Hour), nil)

	require.NoError(t, w.Start())
	<-entered

	start := time.Now()
	w.Stop()
	require.True(t, w.Wait(time.Second), "stop must not wait out the interval")
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestWorkerWaitTimeout(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	w := New("blocked", func(ctx context.Context) {
		close(entered)
		<-release
	}, nil, nil)

	require.NoError(t, w.Start())
	<-entered
	w.Stop()

	assert.False(t, w.Wait(20*time.Millisecond), "body ignores ctx so wait must time out")
	assert.True(t, w.Running())

	close(release)
	w.Join()
	assert.False(t, w.Running())
}

func TestWorkerZeroIntervalSpins(t *testing.T) {
	var calls atomic.Int64
	w := New("spin", func(ctx context.Context) {
		calls.Add(1)
	}, fixedInterval(0), nil)

	require.NoError(t, w.Start())
	require.Eventually(t, func() bool { return calls.Load() > 100 }, time.Second, time.Millisecond)
	w.Stop()
	w.Join()
}

func TestWorkerIntervalReadEachCycle(t *testing.T) {
	var interval atomic.Int64
	interval.Store(int64(time.Hour))

	var calls atomic.Int64
	w := New("dynamic", func(ctx context.Context) {
		calls.Add(1)
	}, func() time.Duration { return time.Duration(interval.Load()) }, nil)

	// First cycle runs immediately and then sleeps an hour unless the
	// interval is shortened before it is read
	interval.Store(int64(time.Millisecond))
	require.NoError(t, w.Start())
	require.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, time.Millisecond)

	w.Stop()
	w.Join()
}

func TestWaitWithoutStart(t *testing.T) {
	w := New("idle", func(ctx context.Context) {}, nil, nil)

	assert.True(t, w.Wait(time.Millisecond))
	w.Stop()
	w.Join()
	assert.False(t, w.Running())
	assert.Equal(t, "idle", w.Name())
}
