package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAcquireWithinBurstDoesNotBlock(t *testing.T) {
	l := New(Config{Default: Limit{RPS: 1, Burst: 3}})
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, l.Acquire(ctx, "serp"))
	}
	require.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestAcquireBlocksUntilRefill(t *testing.T) {
	l := New(Config{Default: Limit{RPS: 20, Burst: 1}})
	ctx := context.Background()

	require.NoError(t, l.Acquire(ctx, "serp"))
	start := time.Now()
	require.NoError(t, l.Acquire(ctx, "serp"))
	require.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)
}

func TestAcquireRejectsWhenQueueFull(t *testing.T) {
	l := New(Config{Default: Limit{RPS: 0.001, Burst: 1}, MaxWaiters: 2})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, l.Acquire(ctx, "serp"))

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.Acquire(ctx, "serp")
		}()
	}
	// Let both waiters enqueue before the third tries.
	time.Sleep(50 * time.Millisecond)

	err := l.Acquire(ctx, "serp")
	require.ErrorIs(t, err, ErrQueueFull)

	cancel()
	wg.Wait()
}

func TestAcquireHonorsContext(t *testing.T) {
	l := New(Config{Default: Limit{RPS: 0.001, Burst: 1}})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	require.NoError(t, l.Acquire(context.Background(), "serp"))
	err := l.Acquire(ctx, "serp")
	require.Error(t, err)
}

func TestSetLimitOverridesKey(t *testing.T) {
	l := New(Config{Default: Limit{RPS: 0.001, Burst: 1}})
	l.SetLimit("fast", Limit{RPS: 100, Burst: 10})
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 10; i++ {
		require.NoError(t, l.Acquire(ctx, "fast"))
	}
	require.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestKeysAreIndependent(t *testing.T) {
	l := New(Config{Default: Limit{RPS: 0.001, Burst: 1}})
	ctx := context.Background()

	require.NoError(t, l.Acquire(ctx, "a"))
	require.NoError(t, l.Acquire(ctx, "b"), "draining one key must not affect another")
}
