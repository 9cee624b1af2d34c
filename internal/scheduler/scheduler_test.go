package scheduler

import (
	"context"
	"errors"
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

func TestEveryRunsImmediatelyAndRepeats(t *testing.T) {
	var ticks atomic.Int32
	h := Every(context.Background(), "count", 5*time.Millisecond, nil, func(ctx context.Context) error {
		ticks.Add(1)
		return nil
	})
	defer h.Stop()

	require.Eventually(t, func() bool { return ticks.Load() >= 3 }, time.Second, time.Millisecond)
}

func TestEveryKeepsGoingAfterErrors(t *testing.T) {
	var ticks atomic.Int32
	h := Every(context.Background(), "flaky", time.Millisecond, nil, func(ctx context.Context) error {
		ticks.Add(1)
		return errors.New("boom")
	})
	defer h.Stop()

	require.Eventually(t, func() bool { return ticks.Load() >= 2 }, time.Second, time.Millisecond)
}

func TestErrStopEndsTheLoop(t *testing.T) {
	var ticks atomic.Int32
	h := Every(context.Background(), "once", time.Millisecond, nil, func(ctx context.Context) error {
		ticks.Add(1)
		return ErrStop
	})

	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatal("task did not stop")
	}
	assert.Equal(t, int32(1), ticks.Load())
	h.Stop()
}

func TestStopWaitsForTask(t *testing.T) {
	h := Every(context.Background(), "slow", time.Hour, nil, func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})
	h.Stop()
	h.Stop()

	select {
	case <-h.Done():
	default:
		t.Fatal("handle not done after Stop")
	}
}

func TestAfterFiresOnceUnlessStopped(t *testing.T) {
	fired := make(chan struct{}, 1)
	h := After(context.Background(), "timeout", time.Millisecond, func(ctx context.Context) {
		fired <- struct{}{}
	})
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
	h.Stop()

	var called atomic.Bool
	stopped := After(context.Background(), "cancelled", time.Hour, func(ctx context.Context) {
		called.Store(true)
	})
	stopped.Stop()
	assert.False(t, called.Load())
}

func TestGroupReplacesAndStopsAll(t *testing.T) {
	g := NewGroup()
	block := func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	}

	first := Every(context.Background(), "a", time.Hour, nil, block)
	g.Add("a", first)
	g.Add("a", Every(context.Background(), "a", time.Hour, nil, block))
	g.Add("b", Every(context.Background(), "b", time.Hour, nil, block))

	select {
	case <-first.Done():
	default:
		t.Fatal("replaced handle still running")
	}
	assert.True(t, g.Has("a"))
	assert.Equal(t, 2, g.Len())

	g.Remove("b")
	g.Remove("missing")
	assert.False(t, g.Has("b"))
	assert.Equal(t, 1, g.Len())

	g.StopAll()
	assert.False(t, g.Has("a"))
	assert.Zero(t, g.Len())
}
