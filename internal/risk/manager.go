package risk

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/arbot-io/arbot/internal/config"
	"github.com/arbot-io/arbot/internal/market"
	"github.com/arbot-io/arbot/internal/metrics"
	"github.com/arbot-io/arbot/internal/models"
)

// Manager runs every approved-path check, in order: signal freshness,
// confidence, breaker sizing, per-coin / per-exchange / total exposure
// limits, daily loss, drawdown, and price anomaly per leg. The first
// failure rejects the signal with that reason. A signal too large for
// the remaining headroom is scaled down rather than rejected, as long
// as the fit stays economically meaningful.
type Manager struct {
	mode  models.ExecutionMode
	state *market.State
	log   zerolog.Logger

	Breaker  *LossBreaker
	Drawdown *DrawdownMonitor
	Anomaly  *AnomalyDetector

	mu            sync.Mutex
	cfg           config.RiskConfig
	open          map[string]reservation
	exposure      decimal.Decimal
	coinExposure  map[string]decimal.Decimal
	venueExposure map[string]decimal.Decimal
	halted        bool
	haltWhy       string

	now func() time.Time
}

// reservation is one in-flight signal's booked exposure.
type reservation struct {
	total  decimal.Decimal
	coin   string
	venues []string
}

// NewManager wires the risk pipeline.
func NewManager(cfg config.RiskConfig, mode models.ExecutionMode, state *market.State,
	initialEquity decimal.Decimal, log zerolog.Logger) *Manager {
	log = log.With().Str("component", "risk_manager").Logger()
	return &Manager{
		cfg:           cfg,
		mode:          mode,
		state:         state,
		log:           log,
		Breaker:       NewLossBreaker(cfg.CircuitBreaker, log),
		Drawdown:      NewDrawdownMonitor(initialEquity, log),
		Anomaly:       NewAnomalyDetector(cfg.Anomaly),
		open:          make(map[string]reservation),
		coinExposure:  make(map[string]decimal.Decimal),
		venueExposure: make(map[string]decimal.Decimal),
		now:           time.Now,
	}
}

// ApplyConfig swaps the limit set for subsequent checks and pushes the
// sub-detectors' thresholds through. Reserved exposure is untouched.
func (m *Manager) ApplyConfig(cfg config.RiskConfig) {
	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()

	m.Breaker.ApplyConfig(cfg.CircuitBreaker)
	m.Anomaly.ApplyConfig(cfg.Anomaly)
	m.log.Info().Msg("Risk limits reloaded")
}

// Halt stops all approvals, e.g. from the emergency-stop endpoint.
func (m *Manager) Halt(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.halted = true
	m.haltWhy = reason
	m.log.Warn().Str("reason", reason).Msg("Trading halted")
}

// Resume lifts a halt.
func (m *Manager) Resume() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.halted = false
	m.haltWhy = ""
	m.log.Info().Msg("Trading resumed")
}

// Halted reports the halt flag and its reason.
func (m *Manager) Halted() (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.halted, m.haltWhy
}

// Check evaluates a pending signal. On approval the signal's size may
// have been scaled down by the breaker's warning state or by exposure
// headroom; its exposure is reserved until Release or ReleaseUntraded
// is called. On rejection the signal carries the reason.
func (m *Manager) Check(sig *models.Signal) error {
	if err := m.check(sig); err != nil {
		sig.Reject(err.Error())
		metrics.SignalsRejected.WithLabelValues(metrics.NormalizeRejection(err.Error())).Inc()
		m.log.Info().
			Str("signal_id", sig.ID).
			Str("strategy", string(sig.Strategy)).
			Err(err).
			Msg("Signal rejected")
		return err
	}

	sig.Status = models.SignalApproved
	return nil
}

func (m *Manager) check(sig *models.Signal) error {
	now := m.now()

	if halted, why := m.Halted(); halted {
		return fmt.Errorf("halted: %s", why)
	}

	if sig.Expired(now) {
		return fmt.Errorf("expired: signal ttl elapsed")
	}

	m.mu.Lock()
	cfg := m.cfg
	m.mu.Unlock()

	minConf := decimal.NewFromFloat(cfg.MinConfidence)
	if sig.Confidence.LessThan(minConf) {
		return fmt.Errorf("confidence %s below minimum %s",
			sig.Confidence.StringFixed(2), minConf.StringFixed(2))
	}

	// breaker warning halves sizing before the limit checks see it
	scale := m.Breaker.PositionScale()
	breakerState := m.Breaker.State()
	if scale.IsZero() {
		if m.mode == models.ModePaper {
			// paper keeps trading through a tripped breaker so the loss
			// streak accounting stays observable end to end
			m.log.Warn().
				Str("signal_id", sig.ID).
				Str("breaker", breakerState.String()).
				Msg("Breaker tripped; paper mode continues")
			scale = decimal.NewFromInt(1)
		} else {
			return fmt.Errorf("circuit breaker %s: trading blocked", breakerState)
		}
	}
	if !scale.Equal(decimal.NewFromInt(1)) {
		scaleSignal(sig, scale)
	}

	if err := m.fitToHeadroom(sig, cfg); err != nil {
		return err
	}

	maxDaily := decimal.NewFromFloat(cfg.MaxDailyLossUSD)
	dailyLoss := m.Drawdown.DailyPnL().Neg()
	if dailyLoss.GreaterThanOrEqual(maxDaily) {
		return fmt.Errorf("daily loss limit reached: %s", m.Drawdown.DailyPnL().StringFixed(2))
	}
	if cfg.MaxDailyLossPct > 0 {
		if dayStart := m.Drawdown.DayStartEquity(); dayStart.Sign() > 0 {
			limit := dayStart.Mul(decimal.NewFromFloat(cfg.MaxDailyLossPct)).
				Div(decimal.NewFromInt(100))
			if dailyLoss.GreaterThanOrEqual(limit) {
				return fmt.Errorf("daily loss limit reached: %s is %s%%+ of day-start equity %s",
					m.Drawdown.DailyPnL().StringFixed(2),
					decimal.NewFromFloat(cfg.MaxDailyLossPct).String(),
					dayStart.StringFixed(2))
			}
		}
	}

	maxDD := decimal.NewFromFloat(cfg.MaxDrawdownPct)
	if dd := m.Drawdown.DrawdownPct(); dd.GreaterThanOrEqual(maxDD) {
		return fmt.Errorf("drawdown %s%% at or above limit %s%%",
			dd.StringFixed(2), maxDD.StringFixed(2))
	}

	// anomaly check against the current book behind every leg
	for _, leg := range sig.Legs {
		snap, ok := m.state.Get(leg.Exchange, leg.Symbol)
		if !ok || !snap.Fresh {
			return fmt.Errorf("stale data: no fresh book for %s %s", leg.Exchange, leg.Symbol)
		}
		if err := m.Anomaly.Check(snap.Book); err != nil {
			return err
		}
	}

	return nil
}

// fitToHeadroom enforces the per-coin, per-exchange and total exposure
// limits. The signal is shrunk to the tightest remaining headroom when
// it does not fit outright; below the minimum economic notional it is
// rejected instead. Crossing the warning fraction of any limit emits a
// warning event but does not block.
func (m *Manager) fitToHeadroom(sig *models.Signal, cfg config.RiskConfig) error {
	coin := baseAsset(sig.Symbol)

	m.mu.Lock()
	openCount := len(m.open)
	exposure := m.exposure
	coinExp := m.coinExposure[coin]
	venueExp := make(map[string]decimal.Decimal)
	for _, ex := range signalVenues(sig) {
		venueExp[ex] = m.venueExposure[ex]
	}
	m.mu.Unlock()

	if openCount >= cfg.MaxOpenSignals {
		return fmt.Errorf("position limit: %d signals already in flight", openCount)
	}

	allowed := decimal.NewFromFloat(cfg.MaxPositionPerCoinUSD).Sub(coinExp)
	tightest := "position_per_coin"
	if h := decimal.NewFromFloat(cfg.MaxTotalExposureUSD).Sub(exposure); h.LessThan(allowed) {
		allowed = h
		tightest = "total_exposure"
	}
	for ex, used := range venueExp {
		if h := decimal.NewFromFloat(cfg.MaxPositionPerExchangeUSD).Sub(used); h.LessThan(allowed) {
			allowed = h
			tightest = "position_per_exchange:" + ex
		}
	}

	minNotional := decimal.NewFromFloat(cfg.MinNotionalUSD)
	if allowed.LessThan(minNotional) || allowed.Sign() <= 0 {
		if strings.HasPrefix(tightest, "position_per_exchange") {
			return fmt.Errorf("exposure limit: headroom %s on %s below minimum notional %s",
				allowed.StringFixed(2), strings.TrimPrefix(tightest, "position_per_exchange:"),
				minNotional.StringFixed(2))
		}
		return fmt.Errorf("position limit: %s headroom %s below minimum notional %s",
			tightest, allowed.StringFixed(2), minNotional.StringFixed(2))
	}

	if sig.SizeUSD.GreaterThan(allowed) {
		ratio := allowed.Div(sig.SizeUSD)
		scaleSignal(sig, ratio)
		sig.SizeUSD = allowed
		m.log.Info().
			Str("signal_id", sig.ID).
			Str("limit", tightest).
			Str("resized_usd", sig.SizeUSD.StringFixed(2)).
			Msg("Signal scaled down to exposure headroom")
	}

	m.warnNearLimits(sig, cfg, exposure, coinExp, venueExp, coin)
	return nil
}

// warnNearLimits emits one warning event per limit whose projected
// utilization crosses the warning fraction once this signal reserves.
func (m *Manager) warnNearLimits(sig *models.Signal, cfg config.RiskConfig,
	exposure, coinExp decimal.Decimal, venueExp map[string]decimal.Decimal, coin string) {
	warnPct := decimal.NewFromFloat(cfg.LimitWarningPct)
	if warnPct.Sign() <= 0 {
		return
	}

	check := func(limit string, used decimal.Decimal, max float64) {
		if max <= 0 {
			return
		}
		util := used.Add(sig.SizeUSD).Div(decimal.NewFromFloat(max)).Mul(decimal.NewFromInt(100))
		if util.GreaterThanOrEqual(warnPct) {
			metrics.RiskLimitWarnings.WithLabelValues(limit).Inc()
			m.log.Warn().
				Str("signal_id", sig.ID).
				Str("limit", limit).
				Str("utilization_pct", util.StringFixed(1)).
				Msg("Exposure limit utilization past warning threshold")
		}
	}

	check("position_per_coin", coinExp, cfg.MaxPositionPerCoinUSD)
	check("total_exposure", exposure, cfg.MaxTotalExposureUSD)
	for ex, used := range venueExp {
		check("position_per_exchange:"+ex, used, cfg.MaxPositionPerExchangeUSD)
	}
}

// scaleSignal shrinks the signal's size and leg quantities in place.
func scaleSignal(sig *models.Signal, scale decimal.Decimal) {
	sig.SizeUSD = sig.SizeUSD.Mul(scale)
	sig.ExpectedProfitUSD = sig.ExpectedProfitUSD.Mul(scale)
	for i := range sig.Legs {
		sig.Legs[i].Quantity = sig.Legs[i].Quantity.Mul(scale)
	}
}

// baseAsset returns the coin a symbol trades, the whole symbol when the
// separator is missing.
func baseAsset(symbol string) string {
	if i := strings.IndexByte(symbol, '/'); i > 0 {
		return symbol[:i]
	}
	return symbol
}

// signalVenues returns the distinct exchanges across the signal's legs.
func signalVenues(sig *models.Signal) []string {
	seen := make(map[string]struct{}, len(sig.Legs))
	var venues []string
	for _, leg := range sig.Legs {
		if _, ok := seen[leg.Exchange]; ok {
			continue
		}
		seen[leg.Exchange] = struct{}{}
		venues = append(venues, leg.Exchange)
	}
	return venues
}

// Reserve books the signal's notional as in-flight exposure against the
// total, its coin, and every venue it touches.
func (m *Manager) Reserve(sig *models.Signal) {
	coin := baseAsset(sig.Symbol)
	venues := signalVenues(sig)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.open[sig.ID] = reservation{total: sig.SizeUSD, coin: coin, venues: venues}
	m.exposure = m.exposure.Add(sig.SizeUSD)
	m.coinExposure[coin] = m.coinExposure[coin].Add(sig.SizeUSD)
	for _, ex := range venues {
		m.venueExposure[ex] = m.venueExposure[ex].Add(sig.SizeUSD)
	}
	metrics.OpenExposureUSD.Set(m.exposure.InexactFloat64())
}

// Release frees the exposure and feeds the realized result into the
// drawdown monitor and loss breaker.
func (m *Manager) Release(sigID string, pnl decimal.Decimal) {
	m.free(sigID)
	m.Drawdown.RecordPnL(pnl)
	m.Breaker.RecordResult(pnl)
}

// ReleaseUntraded frees the exposure of a signal that never touched the
// market. Nothing is fed to the loss breaker or the drawdown monitor: a
// missed opportunity is not a win and must not reset a loss streak.
func (m *Manager) ReleaseUntraded(sigID string) {
	m.free(sigID)
}

func (m *Manager) free(sigID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.open[sigID]
	if !ok {
		return
	}
	delete(m.open, sigID)
	m.exposure = m.exposure.Sub(r.total)
	m.coinExposure[r.coin] = m.coinExposure[r.coin].Sub(r.total)
	for _, ex := range r.venues {
		m.venueExposure[ex] = m.venueExposure[ex].Sub(r.total)
	}
	metrics.OpenExposureUSD.Set(m.exposure.InexactFloat64())
}

// OpenExposure returns the reserved in-flight notional.
func (m *Manager) OpenExposure() decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.exposure
}
