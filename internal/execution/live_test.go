package execution

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbot-io/arbot/internal/config"
	"github.com/arbot-io/arbot/internal/models"
)

// fakeGateway fills orders at placement time according to fillRatio.
type fakeGateway struct {
	name      string
	fillRatio decimal.Decimal

	mu       sync.Mutex
	placed   []*models.Order
	canceled []string
}

func (g *fakeGateway) Exchange() string { return g.name }

func (g *fakeGateway) PlaceOrder(_ context.Context, order *models.Order) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	order.ExchangeOrderID = "fake-" + order.ClientOrderID
	order.FilledQuantity = order.Quantity.Mul(g.fillRatio)
	order.AvgFillPrice = order.Price
	if g.fillRatio.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		order.Status = models.OrderStatusFilled
	} else if g.fillRatio.Sign() > 0 {
		order.Status = models.OrderStatusPartiallyFilled
	}
	g.placed = append(g.placed, order)
	return nil
}

func (g *fakeGateway) CancelOrder(_ context.Context, order *models.Order) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.canceled = append(g.canceled, order.ClientOrderID)
	order.Status = models.OrderStatusCanceled
	return nil
}

func (g *fakeGateway) FetchOrder(_ context.Context, _ *models.Order) error { return nil }

func liveFixture(binanceFill, bybitFill string) (*LiveExecutor, *fakeGateway, *fakeGateway) {
	binance := &fakeGateway{name: "binance", fillRatio: decimal.RequireFromString(binanceFill)}
	bybit := &fakeGateway{name: "bybit", fillRatio: decimal.RequireFromString(bybitFill)}
	exec := NewLiveExecutor(
		map[string]Gateway{"binance": binance, "bybit": bybit},
		config.ExecutionConfig{Mode: "live", OrderTimeoutMS: 50, MaxHedgeAttempts: 2},
		zerolog.Nop(),
	)
	return exec, binance, bybit
}

func TestLiveExecuteBothLegsFilled(t *testing.T) {
	exec, binance, bybit := liveFixture("1", "1")

	result, err := exec.Execute(context.Background(), spatialSignal(t))
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.False(t, result.Hedged)
	require.Len(t, result.Orders, 2)
	assert.Len(t, binance.placed, 1)
	assert.Len(t, bybit.placed, 1)
	assert.Empty(t, binance.canceled)
	assert.Empty(t, bybit.canceled)
}

func TestLiveExecuteHedgesPartialLeg(t *testing.T) {
	// buy leg fills fully, sell leg only 40%: the excess 60% of the buy
	// must be flattened with a market sell back on binance
	exec, binance, bybit := liveFixture("1", "0.4")

	sig := spatialSignal(t)
	result, err := exec.Execute(context.Background(), sig)
	require.NoError(t, err)

	assert.True(t, result.Hedged)
	require.Len(t, result.Orders, 3)

	// the working sell order was canceled at the timeout
	assert.Len(t, bybit.canceled, 1)

	require.Len(t, binance.placed, 2)
	hedge := binance.placed[1]
	assert.Equal(t, models.OrderTypeMarket, hedge.Type)
	assert.Equal(t, models.OrderSideSell, hedge.Side)
	assert.True(t, hedge.Quantity.Equal(dec(t, "0.06")), "0.1 * (1 - 0.4), got %s", hedge.Quantity)
}

func TestLiveExecuteBooksRealizedLoss(t *testing.T) {
	// both legs fill, but the buy reconciles above the sell: the result
	// must carry the negative quote flow so the loss breaker sees it
	exec, _, _ := liveFixture("1", "1")

	sig := models.NewSignal(models.StrategySpatial, "BTC/USDT", 0)
	sig.Legs = []models.Leg{
		{Exchange: "binance", Symbol: "BTC/USDT", Side: models.OrderSideBuy, Price: dec(t, "101"), Quantity: dec(t, "1")},
		{Exchange: "bybit", Symbol: "BTC/USDT", Side: models.OrderSideSell, Price: dec(t, "100"), Quantity: dec(t, "1")},
	}

	result, err := exec.Execute(context.Background(), sig)
	require.NoError(t, err)

	assert.True(t, result.RealizedPnL.Equal(dec(t, "-1")), "sell 100 - buy 101, got %s", result.RealizedPnL)
	assert.Equal(t, models.SignalExecuted, sig.Status)
}

func TestLiveExecuteProfitNetOfFees(t *testing.T) {
	exec, _, _ := liveFixture("1", "1")

	result, err := exec.Execute(context.Background(), spatialSignal(t))
	require.NoError(t, err)

	// buy 0.1 @ 50000, sell 0.1 @ 50100, no fees reported by the fake
	assert.True(t, result.RealizedPnL.Equal(dec(t, "10")), "got %s", result.RealizedPnL)
}

func TestLiveExecuteNothingFilledIsMissed(t *testing.T) {
	exec, _, _ := liveFixture("0", "0")

	sig := spatialSignal(t)
	result, err := exec.Execute(context.Background(), sig)
	require.NoError(t, err)

	assert.Equal(t, models.SignalMissed, sig.Status)
	assert.True(t, result.RealizedPnL.IsZero())
}

func TestLiveExecuteMissingGateway(t *testing.T) {
	exec, _, _ := liveFixture("1", "1")

	sig := models.NewSignal(models.StrategySpatial, "BTC/USDT", 0)
	sig.Legs = []models.Leg{
		{Exchange: "kraken", Symbol: "BTC/USDT", Side: models.OrderSideBuy, Price: dec(t, "1"), Quantity: dec(t, "1")},
	}

	result, err := exec.Execute(context.Background(), sig)
	require.Error(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, models.OrderStatusRejected, result.Orders[0].Status)
}

func TestLiveCancelAll(t *testing.T) {
	exec, binance, _ := liveFixture("0", "0")

	order := models.NewOrder("sig", models.Leg{
		Exchange: "binance", Symbol: "BTC/USDT",
		Side: models.OrderSideBuy, Price: dec(t, "50000"), Quantity: dec(t, "1"),
	}, models.OrderTypeLimit)
	exec.track(order)

	canceled := exec.CancelAll(context.Background())
	assert.Equal(t, 1, canceled)
	assert.Len(t, binance.canceled, 1)
}
