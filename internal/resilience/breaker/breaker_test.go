package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var errRemote = errors.New("remote failure")

func failing(context.Context) error    { return errRemote }
func succeeding(context.Context) error { return nil }

func newTestBreaker(clock *fakeClock) *Breaker {
	b := New("serp", Config{
		FailureThreshold: 3,
		VolumeThreshold:  3,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
	}, zap.NewNop())
	b.SetClock(clock.Now)
	return b
}

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func TestBreakerOpensAfterThreshold(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Unix(1000, 0)}
	b := newTestBreaker(clock)

	for i := 0; i < 3; i++ {
		require.ErrorIs(t, b.Execute(ctx, failing), errRemote)
	}
	require.Equal(t, StateOpen, b.State())

	invoked := false
	err := b.Execute(ctx, func(context.Context) error {
		invoked = true
		return nil
	})
	require.ErrorIs(t, err, ErrOpen)
	require.False(t, invoked, "open circuit must not invoke the wrapped call")
}

func TestBreakerStaysClosedBelowVolume(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Unix(1000, 0)}
	b := New("serp", Config{
		FailureThreshold: 2,
		VolumeThreshold:  10,
		SuccessThreshold: 1,
		Timeout:          time.Minute,
	}, zap.NewNop())
	b.SetClock(clock.Now)

	for i := 0; i < 5; i++ {
		require.ErrorIs(t, b.Execute(ctx, failing), errRemote)
	}
	require.Equal(t, StateClosed, b.State(), "low traffic must not trip the circuit")
}

func TestBreakerHalfOpenAfterTimeout(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Unix(1000, 0)}
	b := newTestBreaker(clock)

	for i := 0; i < 3; i++ {
		_ = b.Execute(ctx, failing)
	}
	require.Equal(t, StateOpen, b.State())

	clock.Advance(31 * time.Second)
	require.Equal(t, StateHalfOpen, b.State())

	// Two consecutive successes close the circuit.
	require.NoError(t, b.Execute(ctx, succeeding))
	require.Equal(t, StateHalfOpen, b.State())
	require.NoError(t, b.Execute(ctx, succeeding))
	require.Equal(t, StateClosed, b.State())
}

func TestBreakerReopensOnHalfOpenFailure(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Unix(1000, 0)}
	b := newTestBreaker(clock)

	for i := 0; i < 3; i++ {
		_ = b.Execute(ctx, failing)
	}
	clock.Advance(31 * time.Second)
	require.Equal(t, StateHalfOpen, b.State())

	require.ErrorIs(t, b.Execute(ctx, failing), errRemote)
	require.Equal(t, StateOpen, b.State(), "a single trial failure reopens the circuit")
}

func TestBreakerSuccessResetsFailureStreak(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Unix(1000, 0)}
	b := newTestBreaker(clock)

	_ = b.Execute(ctx, failing)
	_ = b.Execute(ctx, failing)
	require.NoError(t, b.Execute(ctx, succeeding))
	_ = b.Execute(ctx, failing)
	require.Equal(t, StateClosed, b.State(), "non-consecutive failures must not open the circuit")
}

func TestBreakerErrorFilter(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Unix(1000, 0)}
	errBadInput := errors.New("bad input")
	b := New("serp", Config{
		FailureThreshold: 2,
		VolumeThreshold:  2,
		SuccessThreshold: 1,
		Timeout:          time.Minute,
		IsFailure: func(err error) bool {
			return !errors.Is(err, errBadInput)
		},
	}, zap.NewNop())
	b.SetClock(clock.Now)

	for i := 0; i < 5; i++ {
		require.ErrorIs(t, b.Execute(ctx, func(context.Context) error { return errBadInput }), errBadInput)
	}
	require.Equal(t, StateClosed, b.State(), "filtered errors must not count as failures")
}

func TestRegistryReturnsSameBreakerPerKey(t *testing.T) {
	r := NewRegistry(Config{}, zap.NewNop())
	require.Same(t, r.Get("a"), r.Get("a"))
	require.NotSame(t, r.Get("a"), r.Get("b"))
}
