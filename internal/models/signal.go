package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Strategy identifies the detector that produced a signal.
type Strategy string

const (
	StrategySpatial    Strategy = "spatial"
	StrategyTriangular Strategy = "triangular"
)

// SignalStatus tracks a signal through the pipeline.
type SignalStatus string

const (
	SignalPending  SignalStatus = "pending"
	SignalApproved SignalStatus = "approved"
	SignalRejected SignalStatus = "rejected"
	SignalExecuted SignalStatus = "executed"
	SignalExpired  SignalStatus = "expired"
	SignalFailed   SignalStatus = "failed"
	SignalMissed   SignalStatus = "missed"
)

// Leg is one order the executor must place to realize a signal.
type Leg struct {
	Exchange string          `json:"exchange"`
	Symbol   string          `json:"symbol"`
	Side     OrderSide       `json:"side"`
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
}

// Signal is an actionable arbitrage opportunity emitted by a detector.
// ExpectedProfitPct is net of taker fees on every leg. Confidence blends
// the spread magnitude with available depth relative to the requested
// size, in [0,1].
type Signal struct {
	ID       string   `json:"id"`
	Strategy Strategy `json:"strategy"`
	Symbol   string   `json:"symbol"`
	Legs     []Leg    `json:"legs"`

	ExpectedProfitPct decimal.Decimal `json:"expected_profit_pct"`
	ExpectedProfitUSD decimal.Decimal `json:"expected_profit_usd"`
	SizeUSD           decimal.Decimal `json:"size_usd"`
	Confidence        decimal.Decimal `json:"confidence"`

	Status    SignalStatus `json:"status"`
	Reason    string       `json:"reason,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	ExpiresAt time.Time    `json:"expires_at"`
}

// NewSignal constructs a pending signal with a fresh id and timestamps.
func NewSignal(strategy Strategy, symbol string, ttl time.Duration) *Signal {
	now := time.Now().UTC()
	return &Signal{
		ID:        uuid.NewString(),
		Strategy:  strategy,
		Symbol:    symbol,
		Status:    SignalPending,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

// Expired reports whether the signal has outlived its TTL.
func (s *Signal) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Key returns the dedup/backpressure key: one slot per (strategy, symbol).
func (s *Signal) Key() string {
	return string(s.Strategy) + ":" + s.Symbol
}

// Reject marks the signal rejected with a reason.
func (s *Signal) Reject(reason string) {
	s.Status = SignalRejected
	s.Reason = reason
}
