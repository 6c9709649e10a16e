// Package ledger is the book of record for executed trades: balances,
// realized PnL in cumulative and daily UTC buckets, and the per-day
// performance rollup persisted for later analysis.
package ledger

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/arbot-io/arbot/internal/metrics"
	"github.com/arbot-io/arbot/internal/models"
)

// TradeStore durably appends ledger records. Implemented by internal/db;
// a nil store keeps the ledger purely in memory.
type TradeStore interface {
	SaveTrade(ctx context.Context, result *models.TradeResult) error
	SaveDailyPerformance(ctx context.Context, perf models.DailyPerformance) error
}

// Ledger accumulates trade results. All reads return copies so callers
// never observe a half-applied trade.
type Ledger struct {
	store TradeStore
	log   zerolog.Logger
	now   func() time.Time

	mu          sync.Mutex
	seenOrders  map[string]bool // applied exchange order ids, for idempotent replay
	realizedPnL decimal.Decimal
	totalFees   decimal.Decimal

	day        time.Time // current UTC day bucket
	dayPnL     decimal.Decimal
	dayFees    decimal.Decimal
	dayTrades  int
	dayWins    int
	dayReturns []float64 // per-trade pnl series for the sharpe rollup

	tradeCount int
	winCount   int

	byStrategy map[models.Strategy]*StrategyStats
	byExchange map[string]*StrategyStats
}

// StrategyStats is the win/loss/pnl tally for one grouping key.
type StrategyStats struct {
	Trades int             `json:"trades"`
	Wins   int             `json:"wins"`
	PnL    decimal.Decimal `json:"pnl"`
	Fees   decimal.Decimal `json:"fees"`
}

// New builds a ledger over an optional durable store.
func New(store TradeStore, log zerolog.Logger) *Ledger {
	l := &Ledger{
		store:      store,
		log:        log.With().Str("component", "ledger").Logger(),
		now:        time.Now,
		seenOrders: make(map[string]bool),
		byStrategy: make(map[models.Strategy]*StrategyStats),
		byExchange: make(map[string]*StrategyStats),
	}
	l.day = l.today()
	return l
}

func (l *Ledger) today() time.Time {
	return l.now().UTC().Truncate(24 * time.Hour)
}

// RecordTrade folds one execution result into the books and appends it
// to the durable store. Replaying a result whose orders were already
// applied is a no-op, so crash-recovery double-delivery is safe.
func (l *Ledger) RecordTrade(ctx context.Context, result *models.TradeResult) error {
	l.mu.Lock()

	fresh := false
	for _, o := range result.Orders {
		id := o.ExchangeOrderID
		if id == "" {
			id = o.ID
		}
		if !l.seenOrders[id] {
			l.seenOrders[id] = true
			fresh = true
		}
	}
	if !fresh {
		l.mu.Unlock()
		l.log.Debug().Str("signal_id", result.SignalID).Msg("Trade already recorded, skipping")
		return nil
	}

	l.rollDayLocked()

	win := result.RealizedPnL.Sign() >= 0
	l.realizedPnL = l.realizedPnL.Add(result.RealizedPnL)
	l.totalFees = l.totalFees.Add(result.TotalFees)
	l.dayPnL = l.dayPnL.Add(result.RealizedPnL)
	l.dayFees = l.dayFees.Add(result.TotalFees)
	l.dayTrades++
	l.tradeCount++
	if win {
		l.dayWins++
		l.winCount++
	}
	pnl, _ := result.RealizedPnL.Float64()
	l.dayReturns = append(l.dayReturns, pnl)

	l.bump(l.strategyStats(result.Strategy), result, win)
	for _, o := range result.Orders {
		l.bumpExchange(o.Exchange, result, win)
	}

	total, _ := l.realizedPnL.Float64()
	daily, _ := l.dayPnL.Float64()
	metrics.TotalPnL.Set(total)
	metrics.DailyPnL.Set(daily)
	if l.tradeCount > 0 {
		metrics.WinRate.Set(float64(l.winCount) / float64(l.tradeCount))
	}
	l.mu.Unlock()

	l.log.Info().
		Str("signal_id", result.SignalID).
		Str("strategy", string(result.Strategy)).
		Str("pnl", result.RealizedPnL.String()).
		Str("fees", result.TotalFees.String()).
		Bool("hedged", result.Hedged).
		Msg("Trade recorded")

	if l.store != nil {
		if err := l.store.SaveTrade(ctx, result); err != nil {
			l.log.Error().Err(err).Str("signal_id", result.SignalID).Msg("Trade persist failed")
			return err
		}
	}
	return nil
}

// rollDayLocked closes out the previous day bucket when the UTC date has
// advanced, persisting the rollup before the counters reset.
func (l *Ledger) rollDayLocked() {
	today := l.today()
	if !today.After(l.day) {
		return
	}

	perf := l.rollupLocked()
	l.day = today
	l.dayPnL = decimal.Zero
	l.dayFees = decimal.Zero
	l.dayTrades = 0
	l.dayWins = 0
	l.dayReturns = nil

	if l.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := l.store.SaveDailyPerformance(ctx, perf); err != nil {
			l.log.Error().Err(err).Time("date", perf.Date).Msg("Daily rollup persist failed")
		}
	}
}

// rollupLocked builds the performance record for the current day bucket.
func (l *Ledger) rollupLocked() models.DailyPerformance {
	perf := models.DailyPerformance{
		Date:       l.day,
		TradeCount: l.dayTrades,
		WinCount:   l.dayWins,
		GrossPnL:   l.dayPnL.Add(l.dayFees),
		TotalFees:  l.dayFees,
		NetPnL:     l.dayPnL,
	}
	if l.dayTrades > 0 {
		perf.WinRate = decimal.NewFromInt(int64(l.dayWins)).
			Div(decimal.NewFromInt(int64(l.dayTrades)))
	}
	if sharpe, ok := sharpeRatio(l.dayReturns); ok {
		perf.SharpeRatio = decimal.NewFromFloat(sharpe)
	}
	return perf
}

// sharpeRatio is mean/stddev of the per-trade pnl series, scaled by
// sqrt(n). Needs at least two trades and nonzero variance.
func sharpeRatio(returns []float64) (float64, bool) {
	n := len(returns)
	if n < 2 {
		return 0, false
	}
	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(n)
	var variance float64
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(n - 1)
	if variance == 0 {
		return 0, false
	}
	return mean / math.Sqrt(variance) * math.Sqrt(float64(n)), true
}

func (l *Ledger) strategyStats(s models.Strategy) *StrategyStats {
	st, ok := l.byStrategy[s]
	if !ok {
		st = &StrategyStats{}
		l.byStrategy[s] = st
	}
	return st
}

func (l *Ledger) bump(st *StrategyStats, result *models.TradeResult, win bool) {
	st.Trades++
	if win {
		st.Wins++
	}
	st.PnL = st.PnL.Add(result.RealizedPnL)
	st.Fees = st.Fees.Add(result.TotalFees)
}

func (l *Ledger) bumpExchange(exchange string, result *models.TradeResult, win bool) {
	st, ok := l.byExchange[exchange]
	if !ok {
		st = &StrategyStats{}
		l.byExchange[exchange] = st
	}
	// pnl is attributed per signal, not split across venues
	st.Trades++
	if win {
		st.Wins++
	}
}

// RealizedPnL returns cumulative realized PnL since start.
func (l *Ledger) RealizedPnL() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.realizedPnL
}

// DailyPnL returns the current UTC day bucket, rolling it first.
func (l *Ledger) DailyPnL() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollDayLocked()
	return l.dayPnL
}

// WinRate returns wins/trades since start, zero before any trade.
func (l *Ledger) WinRate() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.tradeCount == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(l.winCount)).Div(decimal.NewFromInt(int64(l.tradeCount)))
}

// TodayPerformance returns the rollup of the current day so far.
func (l *Ledger) TodayPerformance() models.DailyPerformance {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollDayLocked()
	return l.rollupLocked()
}

// StatsByStrategy returns a copy of the per-strategy tallies.
func (l *Ledger) StatsByStrategy() map[models.Strategy]StrategyStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[models.Strategy]StrategyStats, len(l.byStrategy))
	for k, v := range l.byStrategy {
		out[k] = *v
	}
	return out
}

// StatsByExchange returns a copy of the per-exchange tallies.
func (l *Ledger) StatsByExchange() map[string]StrategyStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]StrategyStats, len(l.byExchange))
	for k, v := range l.byExchange {
		out[k] = *v
	}
	return out
}
