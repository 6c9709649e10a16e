package connector

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbot-io/arbot/internal/config"
)

func TestNewLimiterKinds(t *testing.T) {
	_, err := NewLimiter(config.RateLimitConfig{Kind: "weight", Limit: 1200, WindowSec: 60})
	require.NoError(t, err)
	_, err = NewLimiter(config.RateLimitConfig{Kind: "count", Limit: 600, WindowSec: 5})
	require.NoError(t, err)
	_, err = NewLimiter(config.RateLimitConfig{Kind: "token_bucket", Capacity: 15, RefillPS: 0.33})
	require.NoError(t, err)
	_, err = NewLimiter(config.RateLimitConfig{Kind: "leaky"})
	assert.Error(t, err)
}

func TestWindowLimiterWithinBudget(t *testing.T) {
	lim := newWindowLimiter(10, time.Minute)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, lim.Acquire(ctx, 2))
	}
	// budget exhausted: next acquire must block until the window slides
	done := make(chan error, 1)
	cctx, cancel := context.WithCancel(ctx)
	go func() { done <- lim.Acquire(cctx, 1) }()

	select {
	case err := <-done:
		t.Fatalf("acquire should have blocked, got %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestWindowLimiterSlides(t *testing.T) {
	now := time.Unix(0, 0)
	lim := newWindowLimiter(2, time.Second)
	lim.now = func() time.Time { return now }
	slept := 0
	lim.sleep = func(ctx context.Context, d time.Duration) error {
		slept++
		now = now.Add(d)
		return nil
	}

	ctx := context.Background()
	require.NoError(t, lim.Acquire(ctx, 1))
	require.NoError(t, lim.Acquire(ctx, 1))
	// third request waits for the first event to expire
	require.NoError(t, lim.Acquire(ctx, 1))
	assert.GreaterOrEqual(t, slept, 1)
}

func TestWindowLimiterOversizedCost(t *testing.T) {
	lim := newWindowLimiter(10, time.Second)
	err := lim.Acquire(context.Background(), 11)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds window budget")
}

func TestBucketLimiter(t *testing.T) {
	lim, err := NewLimiter(config.RateLimitConfig{Kind: "token_bucket", Capacity: 5, RefillPS: 100})
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for i := 0; i < 5; i++ {
		require.NoError(t, lim.Acquire(ctx, 1))
	}
}
