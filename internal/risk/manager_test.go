package risk

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbot-io/arbot/internal/config"
	"github.com/arbot-io/arbot/internal/market"
	"github.com/arbot-io/arbot/internal/models"
)

func testRiskConfig() config.RiskConfig {
	return config.RiskConfig{
		MaxPositionPerCoinUSD:     5000,
		MaxPositionPerExchangeUSD: 6000,
		MaxTotalExposureUSD:       8000,
		MaxOpenSignals:            2,
		MaxDailyLossUSD:           500,
		MaxDailyLossPct:           50,
		MaxDrawdownPct:            10,
		LimitWarningPct:           70,
		MinNotionalUSD:            100,
		MinConfidence:             0.3,
		Anomaly: config.AnomalyConfig{
			MaxSpreadPct:       5,
			PriceDeviationPct:  10,
			SpreadStdThreshold: 3,
			FlashCrashPct:      10,
			WindowSize:         10,
			MinWindowFill:      3,
		},
		CircuitBreaker: config.CircuitBreakerConfig{
			ConsecutiveLossLimit: 10,
			WarningThresholdPct:  70,
			CooldownMinutes:      30,
		},
	}
}

func putBook(st *market.State, exchange, symbol string, bid, ask int64) {
	now := time.Now().UnixMilli()
	st.Put(&models.OrderBook{
		Exchange:  exchange,
		Symbol:    symbol,
		Bids:      []models.Level{{Price: decimal.NewFromInt(bid), Quantity: decimal.NewFromInt(10)}},
		Asks:      []models.Level{{Price: decimal.NewFromInt(ask), Quantity: decimal.NewFromInt(10)}},
		EventTS:   now,
		IngressTS: now,
	})
}

func freshState(t *testing.T) *market.State {
	t.Helper()
	st := market.NewState(30*time.Second, time.Second)
	putBook(st, "binance", "BTC/USDT", 50000, 50010)
	putBook(st, "bybit", "BTC/USDT", 50100, 50110)
	putBook(st, "binance", "ETH/USDT", 3000, 3001)
	putBook(st, "bybit", "ETH/USDT", 3005, 3006)
	return st
}

func spatialSig(symbol string, sizeUSD int64) *models.Signal {
	sig := models.NewSignal(models.StrategySpatial, symbol, 2*time.Second)
	qty := decimal.NewFromFloat(0.02)
	sig.Legs = []models.Leg{
		{Exchange: "binance", Symbol: symbol, Side: models.OrderSideBuy, Price: decimal.NewFromInt(50010), Quantity: qty},
		{Exchange: "bybit", Symbol: symbol, Side: models.OrderSideSell, Price: decimal.NewFromInt(50100), Quantity: qty},
	}
	sig.SizeUSD = decimal.NewFromInt(sizeUSD)
	sig.Confidence = decimal.NewFromFloat(0.8)
	sig.ExpectedProfitPct = decimal.NewFromFloat(0.15)
	sig.ExpectedProfitUSD = decimal.NewFromFloat(1.5)
	return sig
}

func approvableSignal() *models.Signal {
	return spatialSig("BTC/USDT", 1000)
}

func newTestManager(t *testing.T, mode models.ExecutionMode) *Manager {
	t.Helper()
	return NewManager(testRiskConfig(), mode, freshState(t),
		decimal.NewFromInt(10000), zerolog.Nop())
}

func TestManagerApproves(t *testing.T) {
	m := newTestManager(t, models.ModePaper)
	sig := approvableSignal()
	require.NoError(t, m.Check(sig))
	assert.Equal(t, models.SignalApproved, sig.Status)
	assert.True(t, sig.SizeUSD.Equal(decimal.NewFromInt(1000)), "fits outright, no resize")
}

func TestManagerRejectsExpired(t *testing.T) {
	m := newTestManager(t, models.ModePaper)
	sig := approvableSignal()
	sig.ExpiresAt = time.Now().Add(-time.Second)
	err := m.Check(sig)
	require.Error(t, err)
	assert.Equal(t, models.SignalRejected, sig.Status)
	assert.Contains(t, sig.Reason, "expired")
}

func TestManagerRejectsLowConfidence(t *testing.T) {
	m := newTestManager(t, models.ModePaper)
	sig := approvableSignal()
	sig.Confidence = decimal.NewFromFloat(0.1)
	err := m.Check(sig)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "confidence")
}

func TestManagerScalesOversizedToCoinLimit(t *testing.T) {
	m := newTestManager(t, models.ModePaper)
	sig := spatialSig("BTC/USDT", 6000)
	require.NoError(t, m.Check(sig))
	assert.True(t, sig.SizeUSD.Equal(decimal.NewFromInt(5000)), "got %s", sig.SizeUSD)
	// leg quantities shrink with the notional
	assert.True(t, sig.Legs[0].Quantity.LessThan(decimal.RequireFromString("0.02")))
}

func TestManagerScalesToRemainingHeadroom(t *testing.T) {
	m := newTestManager(t, models.ModePaper)

	a := spatialSig("BTC/USDT", 4000)
	require.NoError(t, m.Check(a))
	m.Reserve(a)

	// 4000 BTC already open: coin headroom is 1000, the tightest limit
	b := spatialSig("BTC/USDT", 5000)
	require.NoError(t, m.Check(b))
	assert.True(t, b.SizeUSD.Equal(decimal.NewFromInt(1000)), "got %s", b.SizeUSD)
}

func TestManagerPerExchangeLimit(t *testing.T) {
	m := newTestManager(t, models.ModePaper)

	cfg := testRiskConfig()
	cfg.MaxPositionPerExchangeUSD = 4050
	m.ApplyConfig(cfg)

	a := spatialSig("BTC/USDT", 4000)
	require.NoError(t, m.Check(a))
	m.Reserve(a)

	// each venue now holds 4000 of 4050: headroom 50 is below the
	// minimum notional, so a different coin on the same venues rejects
	b := spatialSig("ETH/USDT", 1000)
	err := m.Check(b)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exposure limit")
}

func TestManagerRejectsBelowMinNotional(t *testing.T) {
	m := newTestManager(t, models.ModePaper)

	a := spatialSig("BTC/USDT", 4950)
	require.NoError(t, m.Check(a))
	m.Reserve(a)

	// coin headroom 50 < min_notional 100: reject, not a dust-sized trade
	b := spatialSig("BTC/USDT", 500)
	err := m.Check(b)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "minimum notional")
}

func TestManagerOpenSlotsAndRelease(t *testing.T) {
	m := newTestManager(t, models.ModePaper)

	a := spatialSig("BTC/USDT", 2000)
	require.NoError(t, m.Check(a))
	m.Reserve(a)
	b := spatialSig("ETH/USDT", 2000)
	require.NoError(t, m.Check(b))
	m.Reserve(b)

	// open-slot cap: two in flight
	c := spatialSig("BTC/USDT", 100)
	err := m.Check(c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "in flight")

	// releasing frees both the slot and the exposure
	m.Release(a.ID, decimal.NewFromInt(10))
	require.NoError(t, m.Check(c))
	assert.True(t, m.OpenExposure().Equal(decimal.NewFromInt(2000)))
}

func TestManagerReleaseUntradedKeepsLossStreak(t *testing.T) {
	m := newTestManager(t, models.ModePaper)
	m.Breaker.RecordResult(decimal.NewFromInt(-10))
	m.Breaker.RecordResult(decimal.NewFromInt(-10))

	sig := approvableSignal()
	require.NoError(t, m.Check(sig))
	m.Reserve(sig)
	require.True(t, m.OpenExposure().Sign() > 0)

	// nothing filled: the exposure comes back but the breaker and the
	// daily tally never hear about it
	m.ReleaseUntraded(sig.ID)
	assert.True(t, m.OpenExposure().IsZero())
	assert.Equal(t, 2, m.Breaker.Losses())
	assert.True(t, m.Drawdown.DailyPnL().IsZero())
}

func TestManagerDailyLossGate(t *testing.T) {
	m := newTestManager(t, models.ModePaper)
	m.Drawdown.RecordPnL(decimal.NewFromInt(-500))

	err := m.Check(approvableSignal())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "daily loss")
}

func TestManagerDailyLossPctGate(t *testing.T) {
	m := newTestManager(t, models.ModePaper)
	cfg := testRiskConfig()
	cfg.MaxDailyLossUSD = 1_000_000
	cfg.MaxDailyLossPct = 1.0
	m.ApplyConfig(cfg)

	// -150 is 1.5% of the 10000 day-start equity
	m.Drawdown.RecordPnL(decimal.NewFromInt(-150))

	err := m.Check(approvableSignal())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "day-start equity")
}

func TestManagerApplyConfigTakesEffect(t *testing.T) {
	m := newTestManager(t, models.ModePaper)
	require.NoError(t, m.Check(approvableSignal()))

	cfg := testRiskConfig()
	cfg.MinConfidence = 0.9
	m.ApplyConfig(cfg)

	err := m.Check(approvableSignal())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "confidence")
}

func TestManagerDrawdownGate(t *testing.T) {
	m := newTestManager(t, models.ModePaper)
	// 12% below the 10000 high-water mark
	m.Drawdown.SetEquity(decimal.NewFromInt(8800))

	// keep daily loss out of the way: SetEquity does not touch daily pnl
	err := m.Check(approvableSignal())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "drawdown")
}

func TestManagerStaleBookGate(t *testing.T) {
	m := newTestManager(t, models.ModePaper)
	sig := approvableSignal()
	sig.Legs[1].Exchange = "okx" // no book stored for okx
	err := m.Check(sig)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stale data")
}

func TestManagerBreakerBlocksLiveButNotPaper(t *testing.T) {
	live := newTestManager(t, models.ModeLive)
	for i := 0; i < 10; i++ {
		live.Breaker.RecordResult(decimal.NewFromInt(-10))
	}
	err := live.Check(approvableSignal())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circuit breaker")

	paper := newTestManager(t, models.ModePaper)
	for i := 0; i < 10; i++ {
		paper.Breaker.RecordResult(decimal.NewFromInt(-10))
	}
	assert.NoError(t, paper.Check(approvableSignal()), "paper mode logs but keeps trading")
}

func TestManagerWarningScalesSize(t *testing.T) {
	m := newTestManager(t, models.ModePaper)
	for i := 0; i < 7; i++ {
		m.Breaker.RecordResult(decimal.NewFromInt(-10))
	}
	require.Equal(t, BreakerWarning, m.Breaker.State())

	sig := approvableSignal()
	require.NoError(t, m.Check(sig))
	assert.True(t, sig.SizeUSD.Equal(decimal.NewFromInt(500)), "got %s", sig.SizeUSD)
	assert.True(t, sig.Legs[0].Quantity.Equal(decimal.NewFromFloat(0.01)))
}

func TestManagerHalt(t *testing.T) {
	m := newTestManager(t, models.ModePaper)
	m.Halt("emergency stop")
	err := m.Check(approvableSignal())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "halted")

	m.Resume()
	assert.NoError(t, m.Check(approvableSignal()))
}
