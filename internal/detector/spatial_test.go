package detector

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

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func testFees() map[string]decimal.Decimal {
	return map[string]decimal.Decimal{
		"binance": dec("0.001"),
		"bybit":   dec("0.001"),
	}
}

// book builds a one-level-per-side book deep enough for the test size.
func book(exchange, symbol, bid, ask string) *models.OrderBook {
	now := time.Now().UnixMilli()
	return &models.OrderBook{
		Exchange: exchange,
		Symbol:   symbol,
		Bids:     []models.Level{{Price: dec(bid), Quantity: dec("10")}},
		Asks:     []models.Level{{Price: dec(ask), Quantity: dec("10")}},
		EventTS:  now,
		IngressTS: now,
	}
}

func newSpatialFixture(t *testing.T, minProfitPct float64) (*market.State, *SpatialDetector) {
	t.Helper()
	st := market.NewState(30*time.Second, time.Second)
	d := NewSpatialDetector(st, config.SpatialConfig{
		Enabled:       true,
		MinProfitPct:  minProfitPct,
		TradeSizeUSD:  1000,
		MinDepthRatio: 1.0,
	}, 2*time.Second, testFees(), zerolog.Nop())
	return st, d
}

func TestSpatialScanFindsSpread(t *testing.T) {
	st, d := newSpatialFixture(t, 0.1)

	// binance ask 50000, bybit bid 50200: gross 0.4%, fees 2x0.1% -> ~0.2% net
	st.Put(book("binance", "BTC/USDT", "49990", "50000"))
	st.Put(book("bybit", "BTC/USDT", "50200", "50210"))

	sig := d.Scan("BTC/USDT")
	require.NotNil(t, sig)
	assert.Equal(t, models.StrategySpatial, sig.Strategy)
	require.Len(t, sig.Legs, 2)
	assert.Equal(t, "binance", sig.Legs[0].Exchange)
	assert.Equal(t, models.OrderSideBuy, sig.Legs[0].Side)
	assert.Equal(t, "bybit", sig.Legs[1].Exchange)
	assert.Equal(t, models.OrderSideSell, sig.Legs[1].Side)

	assert.True(t, sig.ExpectedProfitPct.GreaterThan(dec("0.15")), "net %s", sig.ExpectedProfitPct)
	assert.True(t, sig.ExpectedProfitPct.LessThan(dec("0.25")))
	assert.True(t, sig.Confidence.GreaterThan(decimal.Zero))
	assert.True(t, sig.Confidence.LessThanOrEqual(dec("1")))
	// legs sized from the buy VWAP
	assert.True(t, sig.Legs[0].Quantity.Equal(dec("1000").Div(dec("50000"))))
}

func TestSpatialScanRespectsFees(t *testing.T) {
	st, d := newSpatialFixture(t, 0.1)

	// gross spread 0.1% is eaten by 0.2% of fees
	st.Put(book("binance", "BTC/USDT", "49990", "50000"))
	st.Put(book("bybit", "BTC/USDT", "50050", "50060"))

	assert.Nil(t, d.Scan("BTC/USDT"))
}

func TestSpatialScanNeedsTwoFreshBooks(t *testing.T) {
	st, d := newSpatialFixture(t, 0.1)

	st.Put(book("binance", "BTC/USDT", "49990", "50000"))
	assert.Nil(t, d.Scan("BTC/USDT"), "one venue is not an arbitrage")

	// second venue present but stale
	stale := book("bybit", "BTC/USDT", "50500", "50510")
	stale.EventTS = time.Now().Add(-time.Minute).UnixMilli()
	stale.IngressTS = stale.EventTS
	st.Put(stale)
	assert.Nil(t, d.Scan("BTC/USDT"), "stale books must be ignored")
}

func TestSpatialScanDepthGate(t *testing.T) {
	st := market.NewState(30*time.Second, time.Second)
	d := NewSpatialDetector(st, config.SpatialConfig{
		MinProfitPct:  0.1,
		TradeSizeUSD:  1000,
		MinDepthRatio: 1.0,
	}, 2*time.Second, testFees(), zerolog.Nop())

	// huge spread but only ~$50 of depth on the sell side
	thin := book("bybit", "BTC/USDT", "51000", "51010")
	thin.Bids[0].Quantity = dec("0.001")
	st.Put(book("binance", "BTC/USDT", "49990", "50000"))
	st.Put(thin)

	assert.Nil(t, d.Scan("BTC/USDT"))
}

func TestSpatialTieBreakWeighsFillableDepth(t *testing.T) {
	st := market.NewState(30*time.Second, time.Second)
	d := NewSpatialDetector(st, config.SpatialConfig{
		MinProfitPct:  0.1,
		TradeSizeUSD:  1000,
		MinDepthRatio: 0.5,
	}, 2*time.Second, testFees(), zerolog.Nop())

	st.Put(book("binance", "BTC/USDT", "49990", "50000"))

	// bybit shows the wider spread but only ~$605 of bid depth
	thin := book("bybit", "BTC/USDT", "50400", "50410")
	thin.Bids[0].Quantity = dec("0.012")
	st.Put(thin)
	// okx spread is narrower but can absorb the whole trade size
	st.Put(book("okx", "BTC/USDT", "50300", "50310"))

	// net * fillable: okx ~0.40% * 1000 beats bybit ~0.60% * 605
	sig := d.Scan("BTC/USDT")
	require.NotNil(t, sig)
	assert.Equal(t, "okx", sig.Legs[1].Exchange, "deeper route carries more edge")
}

func TestSpatialPairCooldown(t *testing.T) {
	st := market.NewState(30*time.Second, time.Second)
	d := NewSpatialDetector(st, config.SpatialConfig{
		MinProfitPct:   0.1,
		TradeSizeUSD:   1000,
		MinDepthRatio:  1.0,
		PairCooldownMS: 10_000,
	}, 2*time.Second, testFees(), zerolog.Nop())

	now := time.Unix(1_700_000_000, 0)
	d.now = func() time.Time { return now }

	st.Put(book("binance", "BTC/USDT", "49990", "50000"))
	st.Put(book("bybit", "BTC/USDT", "50200", "50210"))

	require.NotNil(t, d.Scan("BTC/USDT"))

	// the route just emitted: the spread is still there but held off
	assert.Nil(t, d.Scan("BTC/USDT"))

	now = now.Add(11 * time.Second)
	assert.NotNil(t, d.Scan("BTC/USDT"), "cooldown elapsed, route eligible again")
}

func TestSpatialCooldownIsPerRoute(t *testing.T) {
	st := market.NewState(30*time.Second, time.Second)
	d := NewSpatialDetector(st, config.SpatialConfig{
		MinProfitPct:   0.1,
		TradeSizeUSD:   1000,
		MinDepthRatio:  1.0,
		PairCooldownMS: 10_000,
	}, 2*time.Second, testFees(), zerolog.Nop())

	st.Put(book("binance", "BTC/USDT", "49990", "50000"))
	st.Put(book("bybit", "BTC/USDT", "50200", "50210"))

	first := d.Scan("BTC/USDT")
	require.NotNil(t, first)

	// the reverse direction opens up: a different route, not throttled
	st.Put(book("binance", "BTC/USDT", "50400", "50410"))
	second := d.Scan("BTC/USDT")
	require.NotNil(t, second)
	assert.Equal(t, "bybit", second.Legs[0].Exchange)
	assert.Equal(t, "binance", second.Legs[1].Exchange)
}

func TestSpatialScanPicksBestPair(t *testing.T) {
	st, d := newSpatialFixture(t, 0.1)

	st.Put(book("binance", "BTC/USDT", "49990", "50000"))
	st.Put(book("bybit", "BTC/USDT", "50300", "50310"))
	// third venue with a smaller edge
	st.Put(book("okx", "BTC/USDT", "50150", "50160"))

	sig := d.Scan("BTC/USDT")
	require.NotNil(t, sig)
	assert.Equal(t, "bybit", sig.Legs[1].Exchange, "must sell on the richest bid")
}
