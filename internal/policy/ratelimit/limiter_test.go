package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimiter_Wait(t *testing.T) {
	t.Parallel()

	// 10 RPS with burst 1 = one token every 100ms.
	l := New(Config{RPS: 10, Burst: 1})
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://origin.test/a.css"))
	if time.Since(start) > 10*time.Millisecond {
		t.Logf("warning: first wait took %v", time.Since(start))
	}

	start = time.Now()
	require.NoError(t, l.Wait(ctx, "https://origin.test/b.png"))
	if dur := time.Since(start); dur < 80*time.Millisecond {
		t.Errorf("expected wait ~100ms, got %v", dur)
	}
}

func TestLimiter_DifferentHosts(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 1, Burst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://a.test/1"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://b.test/1"))
	if time.Since(start) > 10*time.Millisecond {
		t.Errorf("host b blocked unexpectedly")
	}
}

func TestLimiter_Unlimited(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	ctx := context.Background()
	start := time.Now()
	for range 50 {
		require.NoError(t, l.Wait(ctx, "https://origin.test/"))
	}
	require.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiter_CanceledContext(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 0.1, Burst: 1})
	require.NoError(t, l.Wait(context.Background(), "https://origin.test/"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := l.Wait(ctx, "https://origin.test/")
	require.Error(t, err)
	require.ErrorIs(t, err, context.Canceled)
}
