// Package risk gates signals between detection and execution: position
// and exposure limits, daily loss and drawdown monitoring, price
// anomaly detection, and a consecutive-loss circuit breaker.
package risk

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/arbot-io/arbot/internal/config"
	"github.com/arbot-io/arbot/internal/metrics"
)

// BreakerState is the loss circuit breaker state.
type BreakerState int

const (
	BreakerNormal BreakerState = iota
	BreakerWarning
	BreakerTriggered
)

// String returns the uppercase state name.
func (s BreakerState) String() string {
	switch s {
	case BreakerNormal:
		return "NORMAL"
	case BreakerWarning:
		return "WARNING"
	case BreakerTriggered:
		return "TRIGGERED"
	default:
		return "UNKNOWN"
	}
}

// LossBreaker counts consecutive losing trades. Crossing the warning
// threshold halves position sizing; reaching the limit trips the
// breaker, which blocks trading until the cooldown elapses (or an
// operator resets it), at which point the streak clears and trading
// resumes at full size.
type LossBreaker struct {
	mu  sync.Mutex
	log zerolog.Logger

	limit        int
	warnAt       int
	cooldown     time.Duration
	losses       int
	state        BreakerState
	trippedAt    time.Time
	manualReason string

	now func() time.Time
}

// NewLossBreaker builds the breaker from config. The warning threshold
// is a percentage of the loss limit.
func NewLossBreaker(cfg config.CircuitBreakerConfig, log zerolog.Logger) *LossBreaker {
	warnAt := int(float64(cfg.ConsecutiveLossLimit) * cfg.WarningThresholdPct / 100)
	if warnAt < 1 {
		warnAt = 1
	}
	return &LossBreaker{
		log:      log.With().Str("component", "loss_breaker").Logger(),
		limit:    cfg.ConsecutiveLossLimit,
		warnAt:   warnAt,
		cooldown: cfg.Cooldown(),
		state:    BreakerNormal,
		now:      time.Now,
	}
}

// ApplyConfig swaps the limits without touching the loss streak or the
// current state.
func (b *LossBreaker) ApplyConfig(cfg config.CircuitBreakerConfig) {
	warnAt := int(float64(cfg.ConsecutiveLossLimit) * cfg.WarningThresholdPct / 100)
	if warnAt < 1 {
		warnAt = 1
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.limit = cfg.ConsecutiveLossLimit
	b.warnAt = warnAt
	b.cooldown = cfg.Cooldown()
}

// RecordResult feeds one trade outcome into the breaker.
func (b *LossBreaker) RecordResult(pnl decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()

	state := b.stateLocked()

	if pnl.Sign() >= 0 {
		b.losses = 0
		if state == BreakerWarning {
			b.transition(BreakerNormal, "win resets loss streak")
		}
		metrics.ConsecutiveLosses.Set(0)
		return
	}

	b.losses++
	metrics.ConsecutiveLosses.Set(float64(b.losses))

	switch {
	case b.losses >= b.limit && state != BreakerTriggered:
		b.trippedAt = b.now()
		b.transition(BreakerTriggered, "consecutive loss limit reached")
	case b.losses >= b.warnAt && state == BreakerNormal:
		b.transition(BreakerWarning, "loss streak at warning threshold")
	}
}

// State returns the current state, returning a TRIGGERED breaker to
// NORMAL once the cooldown has elapsed.
func (b *LossBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked()
}

func (b *LossBreaker) stateLocked() BreakerState {
	if b.state == BreakerTriggered && b.now().Sub(b.trippedAt) >= b.cooldown {
		b.losses = 0
		metrics.ConsecutiveLosses.Set(0)
		b.transition(BreakerNormal, "cooldown elapsed, trading resumed")
	}
	return b.state
}

// PositionScale returns the sizing multiplier for the current state:
// 1.0 normal, 0.5 warning, 0.0 triggered.
func (b *LossBreaker) PositionScale() decimal.Decimal {
	switch b.State() {
	case BreakerNormal:
		return decimal.NewFromInt(1)
	case BreakerWarning:
		return decimal.NewFromFloat(0.5)
	default:
		return decimal.Zero
	}
}

// Reset clears the breaker, typically from the control API.
func (b *LossBreaker) Reset(reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.losses = 0
	b.manualReason = reason
	metrics.ConsecutiveLosses.Set(0)
	b.transition(BreakerNormal, "manual reset: "+reason)
}

// Losses returns the current consecutive loss count.
func (b *LossBreaker) Losses() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.losses
}

func (b *LossBreaker) transition(to BreakerState, why string) {
	if b.state == to {
		return
	}
	b.log.Warn().
		Str("from", b.state.String()).
		Str("to", to.String()).
		Int("losses", b.losses).
		Str("reason", why).
		Msg("Circuit breaker transition")
	b.state = to
	metrics.CircuitBreakerState.Set(float64(to))
}
