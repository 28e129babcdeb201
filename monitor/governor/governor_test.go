package governor

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestAcquireFirstTokenImmediate(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g := New(ctx, zerolog.Nop())

	start := time.Now()
	require.NoError(t, g.Acquire(ctx))
	require.Less(t, time.Since(start), 200*time.Millisecond)
}

func TestAcquireEnforcesSteadyRate(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g := New(ctx, zerolog.Nop())

	start := time.Now()
	require.NoError(t, g.Acquire(ctx))
	require.NoError(t, g.Acquire(ctx))
	// The second token waits for the 1 req/s steady refill.
	require.GreaterOrEqual(t, time.Since(start), 900*time.Millisecond)
}

func TestThrottleBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g := New(ctx, zerolog.Nop())

	g.Throttled()
	// Give the owner goroutine a moment to process the signal.
	require.Eventually(t, func() bool {
		return g.State().ThrottleActive
	}, time.Second, 10*time.Millisecond)

	err := g.Acquire(ctx)
	var be *BackoffError
	require.ErrorAs(t, err, &be)
	require.Greater(t, be.Remaining, 50*time.Second)

	snap := g.State()
	require.True(t, snap.ThrottleActive)
	require.Greater(t, snap.ThrottleRemaining, 50*time.Second)
}

func TestAcquireHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g := New(ctx, zerolog.Nop())

	// Drain the immediate token so the next acquire has to wait.
	require.NoError(t, g.Acquire(ctx))

	callCtx, callCancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		done <- g.Acquire(callCtx)
	}()
	callCancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled acquire did not return")
	}
}

func TestSnapshotCountsGrants(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g := New(ctx, zerolog.Nop())

	require.NoError(t, g.Acquire(ctx))
	snap := g.State()
	require.GreaterOrEqual(t, snap.BurstWindowUsed, 1)
	require.False(t, snap.ThrottleActive)
}
