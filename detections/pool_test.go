package detections

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func emptySessions() SessionFactory {
	return func() (*ModelSession, error) { return &ModelSession{}, nil }
}

func TestPoolAcquireRelease(t *testing.T) {
	pool, err := NewModelSessionPool(emptySessions(), 2)
	require.NoError(t, err)
	defer pool.Destroy()

	a, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	b, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, a, b)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = pool.Acquire(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	m := pool.GetMetrics()
	assert.Equal(t, 2, m.InUse)
	assert.EqualValues(t, 2, m.TotalAcquired)

	pool.Release(a)
	pool.Release(b)
	m = pool.GetMetrics()
	assert.Equal(t, 0, m.InUse)
	assert.EqualValues(t, 2, m.TotalReleased)
}

func TestPoolFactoryFailure(t *testing.T) {
	calls := 0
	_, err := NewModelSessionPool(func() (*ModelSession, error) {
		calls++
		if calls == 2 {
			return nil, errors.New("no model")
		}
		return &ModelSession{}, nil
	}, 3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session 1")
}

func TestPoolClosed(t *testing.T) {
	pool, err := NewModelSessionPool(emptySessions(), 1)
	require.NoError(t, err)

	s, err := pool.Acquire(context.Background())
	require.NoError(t, err)

	pool.Destroy()
	pool.Destroy()

	_, err = pool.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrPoolClosed)

	// Releasing into a closed pool destroys the session instead of panicking.
	pool.Release(s)
}

func TestPoolReleaseAfterReplenishDoesNotBlock(t *testing.T) {
	pool, err := NewModelSessionPool(emptySessions(), 1)
	require.NoError(t, err)
	defer pool.Destroy()

	s, err := pool.Acquire(context.Background())
	require.NoError(t, err)

	// The health loop refills the slot before the caller hands its session back.
	pool.metrics.mu.Lock()
	pool.metrics.InUse--
	pool.metrics.mu.Unlock()
	pool.replenish()
	require.Len(t, pool.sessions, 1)
	pool.metrics.mu.Lock()
	pool.metrics.InUse++
	pool.metrics.mu.Unlock()

	released := make(chan struct{})
	go func() {
		pool.Release(s)
		close(released)
	}()

	select {
	case <-released:
	case <-time.After(time.Second):
		t.Fatal("Release blocked on a full pool")
	}
	assert.Len(t, pool.sessions, 1)
	assert.Equal(t, 0, pool.GetMetrics().InUse)

	// The pool lock is free again.
	pool.replenish()
	assert.Len(t, pool.sessions, 1)
}

func TestPoolRecordsFactoryErrors(t *testing.T) {
	fail := false
	pool, err := NewModelSessionPool(func() (*ModelSession, error) {
		if fail {
			return nil, errors.New("model file gone")
		}
		return &ModelSession{}, nil
	}, 1)
	require.NoError(t, err)
	defer pool.Destroy()

	fail = true
	<-pool.sessions
	pool.replenish()

	errs := pool.LastErrors()
	require.Len(t, errs, 1)
	assert.EqualError(t, errs[0], "model file gone")
	assert.Equal(t, []string{"model file gone"}, pool.GetMetrics().LastErrors)
}

func TestPoolReplenish(t *testing.T) {
	pool, err := NewModelSessionPool(emptySessions(), 2)
	require.NoError(t, err)
	defer pool.Destroy()

	// Simulate a session lost by a caller that never released it.
	<-pool.sessions
	pool.replenish()
	assert.Len(t, pool.sessions, 2)

	pool.replenish()
	assert.Len(t, pool.sessions, 2)
}
