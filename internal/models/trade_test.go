package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyFill(t *testing.T) {
	leg := Leg{
		Exchange: "binance",
		Symbol:   "BTC/USDT",
		Side:     OrderSideBuy,
		Price:    dec("50000"),
		Quantity: dec("1.0"),
	}
	o := NewOrder("sig-1", leg, OrderTypeLimit)
	require.Equal(t, OrderStatusNew, o.Status)
	require.True(t, o.RemainingQuantity().Equal(dec("1.0")))

	o.ApplyFill(Fill{
		OrderID:   o.ID,
		Price:     dec("50000"),
		Quantity:  dec("0.4"),
		Fee:       dec("0.0004"),
		FeeAsset:  "BTC",
		Timestamp: time.Now(),
	})
	assert.Equal(t, OrderStatusPartiallyFilled, o.Status)
	assert.True(t, o.FilledQuantity.Equal(dec("0.4")))
	assert.True(t, o.AvgFillPrice.Equal(dec("50000")))
	assert.True(t, o.FillRatio().Equal(dec("0.4")))

	o.ApplyFill(Fill{
		OrderID:  o.ID,
		Price:    dec("50010"),
		Quantity: dec("0.6"),
		Fee:      dec("0.0006"),
		FeeAsset: "BTC",
	})
	assert.Equal(t, OrderStatusFilled, o.Status)
	assert.True(t, o.RemainingQuantity().IsZero())
	// avg = (0.4*50000 + 0.6*50010) / 1.0 = 50006
	assert.True(t, o.AvgFillPrice.Equal(dec("50006")), "got %s", o.AvgFillPrice)
	assert.True(t, o.FeePaid.Equal(dec("0.001")))
	assert.Equal(t, "BTC", o.FeeAsset)
}

func TestOrderStatusTerminal(t *testing.T) {
	assert.False(t, OrderStatusNew.Terminal())
	assert.False(t, OrderStatusPartiallyFilled.Terminal())
	assert.True(t, OrderStatusFilled.Terminal())
	assert.True(t, OrderStatusCanceled.Terminal())
	assert.True(t, OrderStatusRejected.Terminal())
	assert.True(t, OrderStatusExpired.Terminal())
}

func TestOrderSideOpposite(t *testing.T) {
	assert.Equal(t, OrderSideSell, OrderSideBuy.Opposite())
	assert.Equal(t, OrderSideBuy, OrderSideSell.Opposite())
}

func TestSignalLifecycle(t *testing.T) {
	s := NewSignal(StrategySpatial, "BTC/USDT", 2*time.Second)
	require.NotEmpty(t, s.ID)
	assert.Equal(t, SignalPending, s.Status)
	assert.Equal(t, "spatial:BTC/USDT", s.Key())
	assert.False(t, s.Expired(s.CreatedAt.Add(time.Second)))
	assert.True(t, s.Expired(s.CreatedAt.Add(3*time.Second)))

	s.Reject("position limit")
	assert.Equal(t, SignalRejected, s.Status)
	assert.Equal(t, "position limit", s.Reason)
}
