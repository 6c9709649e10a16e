package risk

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbot-io/arbot/internal/config"
	"github.com/arbot-io/arbot/internal/models"
)

func anomalyConfig() config.AnomalyConfig {
	return config.AnomalyConfig{
		MaxSpreadPct:       5.0,
		PriceDeviationPct:  10.0,
		SpreadStdThreshold: 3.0,
		FlashCrashPct:      10.0,
		WindowSize:         10,
		MinWindowFill:      3,
	}
}

func bookOn(exchange, symbol, bid, ask string) *models.OrderBook {
	b, _ := decimal.NewFromString(bid)
	a, _ := decimal.NewFromString(ask)
	return &models.OrderBook{
		Exchange: exchange,
		Symbol:   symbol,
		Bids:     []models.Level{{Price: b, Quantity: decimal.NewFromInt(1)}},
		Asks:     []models.Level{{Price: a, Quantity: decimal.NewFromInt(1)}},
	}
}

func bookAt(bid, ask string) *models.OrderBook {
	return bookOn("binance", "BTC/USDT", bid, ask)
}

func TestAnomalySpreadCheck(t *testing.T) {
	d := NewAnomalyDetector(anomalyConfig())

	assert.NoError(t, d.Check(bookAt("50000", "50010")))

	// ~6% spread on mid
	err := d.Check(bookAt("48500", "51500"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "spread")
}

func TestAnomalySpreadOutlier(t *testing.T) {
	d := NewAnomalyDetector(anomalyConfig())

	// establish a tight, slightly varying spread baseline
	d.Observe(bookAt("50000", "50010"))
	d.Observe(bookAt("50000", "50012"))
	d.Observe(bookAt("50000", "50008"))
	d.Observe(bookAt("50000", "50011"))

	// ~1% spread: well under the absolute cap but a huge outlier
	// against the windowed spreads
	err := d.Check(bookAt("49750", "50250"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "std devs")

	// in line with the baseline: passes
	assert.NoError(t, d.Check(bookAt("50000", "50010")))
}

func TestAnomalyFlashCrash(t *testing.T) {
	d := NewAnomalyDetector(anomalyConfig())

	for i := 0; i < 5; i++ {
		d.Observe(bookAt("100", "100.02"))
	}

	// mid 80 is 20% below the windowed peak of ~100
	err := d.Check(bookAt("79.99", "80.01"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "flash crash")

	// a 5% dip stays under the 10% threshold
	assert.NoError(t, d.Check(bookAt("94.99", "95.01")))
}

func TestAnomalyCrossExchangeMedian(t *testing.T) {
	d := NewAnomalyDetector(anomalyConfig())

	d.Observe(bookOn("binance", "BTC/USDT", "50000", "50010"))
	d.Observe(bookOn("bybit", "BTC/USDT", "50050", "50060"))
	d.Observe(bookOn("okx", "BTC/USDT", "49950", "49960"))

	// okx quoting 20% over the three-venue median is rejected
	err := d.Check(bookOn("okx", "BTC/USDT", "60000", "60010"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cross-exchange median")

	// close to the median: passes
	assert.NoError(t, d.Check(bookOn("okx", "BTC/USDT", "50100", "50110")))
}

func TestAnomalyMedianNeedsTwoVenues(t *testing.T) {
	d := NewAnomalyDetector(anomalyConfig())

	d.Observe(bookOn("binance", "ETH/USDT", "3000", "3001"))

	// single venue: no median to compare against, wild price passes
	wild := bookOn("binance", "ETH/USDT", "4000", "4001")
	assert.NoError(t, d.Check(wild))
}

func TestAnomalyRollingChecksNeedWarmWindow(t *testing.T) {
	d := NewAnomalyDetector(anomalyConfig())

	d.Observe(bookAt("100", "100.02"))
	d.Observe(bookAt("100", "100.02"))

	// only two samples: flash-crash and outlier checks stay off
	assert.NoError(t, d.Check(bookAt("79.99", "80.01")))
}

func TestAnomalyWindowSlides(t *testing.T) {
	d := NewAnomalyDetector(config.AnomalyConfig{
		MaxSpreadPct:       5,
		PriceDeviationPct:  10,
		SpreadStdThreshold: 3,
		FlashCrashPct:      10,
		WindowSize:         4,
		MinWindowFill:      2,
	})

	for i := 0; i < 4; i++ {
		d.Observe(bookAt("60000", "60010"))
	}
	// the market drifts down; the old peak rolls out of the window
	for i := 0; i < 8; i++ {
		d.Observe(bookAt("54000", "54010"))
	}
	assert.NoError(t, d.Check(bookAt("54000", "54010")))
}

func TestAnomalyApplyConfigKeepsWindows(t *testing.T) {
	d := NewAnomalyDetector(anomalyConfig())

	for i := 0; i < 5; i++ {
		d.Observe(bookAt("100", "100.02"))
	}

	// loosening the flash-crash threshold takes effect immediately,
	// without restarting the warmup
	cfg := anomalyConfig()
	cfg.FlashCrashPct = 50.0
	d.ApplyConfig(cfg)

	assert.NoError(t, d.Check(bookAt("79.99", "80.01")))

	cfg.FlashCrashPct = 10.0
	d.ApplyConfig(cfg)
	require.Error(t, d.Check(bookAt("79.99", "80.01")))
}
