package risk

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/arbot-io/arbot/internal/metrics"
)

// DrawdownMonitor tracks portfolio equity against its high-water mark
// and the realized loss since 00:00 UTC. The day rolls over at midnight
// UTC; the high-water mark does not reset with the day.
type DrawdownMonitor struct {
	mu  sync.Mutex
	log zerolog.Logger

	highWaterMark  decimal.Decimal
	equity         decimal.Decimal
	dailyPnL       decimal.Decimal
	dayStartEquity decimal.Decimal
	day            time.Time // UTC midnight of the current day

	now func() time.Time
}

// NewDrawdownMonitor seeds the monitor with starting equity.
func NewDrawdownMonitor(initialEquity decimal.Decimal, log zerolog.Logger) *DrawdownMonitor {
	m := &DrawdownMonitor{
		log:            log.With().Str("component", "drawdown_monitor").Logger(),
		highWaterMark:  initialEquity,
		equity:         initialEquity,
		dayStartEquity: initialEquity,
		now:            time.Now,
	}
	m.day = midnightUTC(m.now())
	return m
}

func midnightUTC(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// RecordPnL folds one realized trade result into equity and the daily
// tally, rolling the day first if midnight UTC has passed.
func (m *DrawdownMonitor) RecordPnL(pnl decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollDayLocked()

	m.equity = m.equity.Add(pnl)
	m.dailyPnL = m.dailyPnL.Add(pnl)
	if m.equity.GreaterThan(m.highWaterMark) {
		m.highWaterMark = m.equity
	}

	metrics.EquityUSD.Set(m.equity.InexactFloat64())
	metrics.DailyPnL.Set(m.dailyPnL.InexactFloat64())
	metrics.DrawdownPct.Set(m.drawdownPctLocked().InexactFloat64())
}

// SetEquity replaces the equity valuation, e.g. after a balance refresh.
func (m *DrawdownMonitor) SetEquity(equity decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollDayLocked()
	m.equity = equity
	if equity.GreaterThan(m.highWaterMark) {
		m.highWaterMark = equity
	}
	metrics.EquityUSD.Set(equity.InexactFloat64())
	metrics.DrawdownPct.Set(m.drawdownPctLocked().InexactFloat64())
}

func (m *DrawdownMonitor) rollDayLocked() {
	today := midnightUTC(m.now())
	if today.After(m.day) {
		m.log.Info().
			Str("day", m.day.Format("2006-01-02")).
			Str("daily_pnl", m.dailyPnL.StringFixed(2)).
			Msg("Daily PnL rollover")
		m.day = today
		m.dailyPnL = decimal.Zero
		m.dayStartEquity = m.equity
	}
}

// DrawdownPct returns the current drawdown from the high-water mark as
// a percentage, zero when at or above the mark.
func (m *DrawdownMonitor) DrawdownPct() decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.drawdownPctLocked()
}

func (m *DrawdownMonitor) drawdownPctLocked() decimal.Decimal {
	if m.highWaterMark.Sign() <= 0 || m.equity.GreaterThanOrEqual(m.highWaterMark) {
		return decimal.Zero
	}
	return m.highWaterMark.Sub(m.equity).Div(m.highWaterMark).Mul(decimal.NewFromInt(100))
}

// DailyPnL returns realized PnL since 00:00 UTC.
func (m *DrawdownMonitor) DailyPnL() decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollDayLocked()
	return m.dailyPnL
}

// DayStartEquity returns the equity at the most recent midnight UTC,
// the base for percentage daily loss limits.
func (m *DrawdownMonitor) DayStartEquity() decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollDayLocked()
	return m.dayStartEquity
}

// Equity returns the current equity valuation.
func (m *DrawdownMonitor) Equity() decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.equity
}

// HighWaterMark returns the running equity peak.
func (m *DrawdownMonitor) HighWaterMark() decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.highWaterMark
}
