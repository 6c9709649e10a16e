package execution

import (
	"context"
	"math/rand"
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

func paperFixture(t *testing.T, slip config.SlippageConfig) (*PaperExecutor, *market.State) {
	t.Helper()
	state := market.NewState(30*time.Second, 0)
	now := time.Now().UnixMilli()

	require.True(t, state.Put(&models.OrderBook{
		Exchange: "binance", Symbol: "BTC/USDT",
		Bids:    []models.Level{{Price: dec(t, "49990"), Quantity: dec(t, "2")}},
		Asks:    []models.Level{{Price: dec(t, "50000"), Quantity: dec(t, "2")}},
		Seq:     1, EventTS: now, IngressTS: now,
	}))
	require.True(t, state.Put(&models.OrderBook{
		Exchange: "bybit", Symbol: "BTC/USDT",
		Bids:    []models.Level{{Price: dec(t, "50100"), Quantity: dec(t, "2")}},
		Asks:    []models.Level{{Price: dec(t, "50110"), Quantity: dec(t, "2")}},
		Seq:     1, EventTS: now, IngressTS: now,
	}))

	sim := NewFillSimulator(slip, map[string]decimal.Decimal{
		"binance": decimal.Zero,
		"bybit":   decimal.Zero,
	})
	sim.rng = rand.New(rand.NewSource(7))

	exec := NewPaperExecutor(state, sim, []string{"binance", "bybit"},
		decimal.NewFromInt(10000), zerolog.Nop())
	return exec, state
}

func spatialSignal(t *testing.T) *models.Signal {
	t.Helper()
	sig := models.NewSignal(models.StrategySpatial, "BTC/USDT", time.Second)
	sig.Legs = []models.Leg{
		{Exchange: "binance", Symbol: "BTC/USDT", Side: models.OrderSideBuy, Price: dec(t, "50000"), Quantity: dec(t, "0.1")},
		{Exchange: "bybit", Symbol: "BTC/USDT", Side: models.OrderSideSell, Price: dec(t, "50100"), Quantity: dec(t, "0.1")},
	}
	return sig
}

func TestPaperExecuteCapturesSpread(t *testing.T) {
	exec, _ := paperFixture(t, config.SlippageConfig{MinFillRatio: 0.3})

	sig := spatialSignal(t)
	result, err := exec.Execute(context.Background(), sig)
	require.NoError(t, err)

	require.Len(t, result.Orders, 2)
	assert.True(t, result.Success)
	assert.False(t, result.Hedged)
	assert.Equal(t, models.SignalExecuted, sig.Status)

	// buy 0.1 @ 50000, sell 0.1 @ 50100 with no slippage or fees:
	// the BTC positions net out, leaving exactly the spread in USDT
	assert.True(t, result.RealizedPnL.Equal(dec(t, "10")), "got %s", result.RealizedPnL)
	assert.True(t, exec.EquityUSD().Equal(dec(t, "20010")))
	assert.Equal(t, models.OrderStatusFilled, result.Orders[0].Status)
}

func TestPaperExecuteTracksBalances(t *testing.T) {
	exec, _ := paperFixture(t, config.SlippageConfig{MinFillRatio: 0.3})

	_, err := exec.Execute(context.Background(), spatialSignal(t))
	require.NoError(t, err)

	balances := exec.Balances()
	require.Contains(t, balances, "binance")
	require.Contains(t, balances, "bybit")

	assert.True(t, balances["binance"].Assets["USDT"].Free.Equal(dec(t, "5000")))
	assert.True(t, balances["binance"].Assets["BTC"].Free.Equal(dec(t, "0.1")))
	assert.True(t, balances["bybit"].Assets["USDT"].Free.Equal(dec(t, "15010")))
	assert.True(t, balances["bybit"].Assets["BTC"].Free.Equal(dec(t, "-0.1")))
}

func TestPaperExecuteHedgesPartialImbalance(t *testing.T) {
	exec, _ := paperFixture(t, config.SlippageConfig{
		PartialFillProb: 1, // every fill is partial, legs end uneven
		MinFillRatio:    0.3,
	})

	result, err := exec.Execute(context.Background(), spatialSignal(t))
	require.NoError(t, err)

	assert.True(t, result.Hedged)
	assert.Greater(t, len(result.Orders), 2, "hedge orders appended after the legs")
}

func TestPaperExecuteNoFreshBook(t *testing.T) {
	state := market.NewState(30*time.Second, 0)
	sim := NewFillSimulator(config.SlippageConfig{MinFillRatio: 0.3}, nil)
	exec := NewPaperExecutor(state, sim, []string{"binance", "bybit"},
		decimal.NewFromInt(10000), zerolog.Nop())

	result, err := exec.Execute(context.Background(), spatialSignal(t))
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Contains(t, result.Reason, "no fresh book")
	require.Len(t, result.Orders, 1)
	assert.Equal(t, models.OrderStatusRejected, result.Orders[0].Status)
}

func TestPaperSnapshot(t *testing.T) {
	exec, _ := paperFixture(t, config.SlippageConfig{MinFillRatio: 0.3})

	snap := exec.Snapshot()
	assert.True(t, snap.EquityUSD.Equal(dec(t, "20000")))
	assert.Len(t, snap.Balances, 2)
}
