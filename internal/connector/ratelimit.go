package connector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/arbot-io/arbot/internal/config"
)

// Limiter gates outbound exchange requests. Acquire blocks until the
// request's cost fits the budget or the context is canceled.
type Limiter interface {
	Acquire(ctx context.Context, cost int) error
}

// NewLimiter builds the limiter described by the exchange rate limit
// policy: "weight" and "count" use a sliding window, "token_bucket"
// wraps x/time rate.
func NewLimiter(cfg config.RateLimitConfig) (Limiter, error) {
	switch cfg.Kind {
	case "weight", "count":
		return newWindowLimiter(cfg.Limit, time.Duration(cfg.WindowSec*float64(time.Second))), nil
	case "token_bucket":
		return &bucketLimiter{
			lim: rate.NewLimiter(rate.Limit(cfg.RefillPS), int(cfg.Capacity)),
		}, nil
	default:
		return nil, fmt.Errorf("unknown rate limit kind %q", cfg.Kind)
	}
}

// windowLimiter enforces a total cost budget over a sliding time window.
// Count policies use cost=1 per request; weight policies pass the
// endpoint's documented weight.
type windowLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	events []limitEvent

	// injectable for tests
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

type limitEvent struct {
	at   time.Time
	cost int
}

func newWindowLimiter(limit int, window time.Duration) *windowLimiter {
	return &windowLimiter{
		limit:  limit,
		window: window,
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (w *windowLimiter) Acquire(ctx context.Context, cost int) error {
	if cost > w.limit {
		return fmt.Errorf("request cost %d exceeds window budget %d", cost, w.limit)
	}
	for {
		w.mu.Lock()
		now := w.now()
		w.expire(now)

		used := 0
		for _, e := range w.events {
			used += e.cost
		}
		if used+cost <= w.limit {
			w.events = append(w.events, limitEvent{at: now, cost: cost})
			w.mu.Unlock()
			return nil
		}

		// wait until the oldest event leaves the window
		wait := w.events[0].at.Add(w.window).Sub(now)
		w.mu.Unlock()
		if wait < time.Millisecond {
			wait = time.Millisecond
		}
		if err := w.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (w *windowLimiter) expire(now time.Time) {
	cut := now.Add(-w.window)
	i := 0
	for i < len(w.events) && w.events[i].at.Before(cut) {
		i++
	}
	if i > 0 {
		w.events = append(w.events[:0], w.events[i:]...)
	}
}

type bucketLimiter struct {
	lim *rate.Limiter
}

func (b *bucketLimiter) Acquire(ctx context.Context, cost int) error {
	if cost < 1 {
		cost = 1
	}
	return b.lim.WaitN(ctx, cost)
}
