package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderSide is the direction of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// Opposite returns the counter side, used when hedging imbalances.
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// OrderType is the execution style of an order.
type OrderType string

const (
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeIOC    OrderType = "IOC"
)

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCanceled        OrderStatus = "CANCELED"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
)

// Terminal reports whether no further fills can arrive for this status.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected, OrderStatusExpired:
		return true
	}
	return false
}

// ExecutionMode selects paper or live order routing.
type ExecutionMode string

const (
	ModePaper ExecutionMode = "paper"
	ModeLive  ExecutionMode = "live"
)

// Order is a single exchange order derived from a signal leg.
type Order struct {
	ID              string          `json:"id"`
	ClientOrderID   string          `json:"client_order_id"`
	ExchangeOrderID string          `json:"exchange_order_id,omitempty"`
	SignalID        string          `json:"signal_id"`
	Exchange        string          `json:"exchange"`
	Symbol          string          `json:"symbol"`
	Side            OrderSide       `json:"side"`
	Type            OrderType       `json:"type"`
	Price           decimal.Decimal `json:"price"`
	Quantity        decimal.Decimal `json:"quantity"`
	FilledQuantity  decimal.Decimal `json:"filled_quantity"`
	AvgFillPrice    decimal.Decimal `json:"avg_fill_price"`
	FeePaid         decimal.Decimal `json:"fee_paid"`
	FeeAsset        string          `json:"fee_asset,omitempty"`
	Status          OrderStatus     `json:"status"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// NewOrder constructs a NEW order for a signal leg.
func NewOrder(signalID string, leg Leg, typ OrderType) *Order {
	now := time.Now().UTC()
	id := uuid.NewString()
	return &Order{
		ID:            id,
		ClientOrderID: "arbot-" + id[:8],
		SignalID:      signalID,
		Exchange:      leg.Exchange,
		Symbol:        leg.Symbol,
		Side:          leg.Side,
		Type:          typ,
		Price:         leg.Price,
		Quantity:      leg.Quantity,
		Status:        OrderStatusNew,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// RemainingQuantity returns quantity minus filled quantity.
func (o *Order) RemainingQuantity() decimal.Decimal {
	return o.Quantity.Sub(o.FilledQuantity)
}

// FillRatio returns filled/total quantity in [0,1].
func (o *Order) FillRatio() decimal.Decimal {
	if o.Quantity.IsZero() {
		return decimal.Zero
	}
	return o.FilledQuantity.Div(o.Quantity)
}

// ApplyFill folds a fill into the order's running totals and status.
func (o *Order) ApplyFill(f Fill) {
	prevNotional := o.AvgFillPrice.Mul(o.FilledQuantity)
	o.FilledQuantity = o.FilledQuantity.Add(f.Quantity)
	if o.FilledQuantity.Sign() > 0 {
		o.AvgFillPrice = prevNotional.Add(f.Price.Mul(f.Quantity)).Div(o.FilledQuantity)
	}
	o.FeePaid = o.FeePaid.Add(f.Fee)
	if f.FeeAsset != "" {
		o.FeeAsset = f.FeeAsset
	}
	if o.FilledQuantity.GreaterThanOrEqual(o.Quantity) {
		o.Status = OrderStatusFilled
	} else {
		o.Status = OrderStatusPartiallyFilled
	}
	o.UpdatedAt = time.Now().UTC()
}

// Fill is a single execution against an order.
type Fill struct {
	OrderID   string          `json:"order_id"`
	TradeID   string          `json:"trade_id"`
	Price     decimal.Decimal `json:"price"`
	Quantity  decimal.Decimal `json:"quantity"`
	Fee       decimal.Decimal `json:"fee"`
	FeeAsset  string          `json:"fee_asset"`
	Timestamp time.Time       `json:"timestamp"`
}

// TradeResult is the final accounting of one executed signal: all orders,
// realized PnL net of fees, and how the execution concluded.
type TradeResult struct {
	SignalID    string          `json:"signal_id"`
	Strategy    Strategy        `json:"strategy"`
	Symbol      string          `json:"symbol"`
	Mode        ExecutionMode   `json:"mode"`
	Orders      []*Order        `json:"orders"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
	TotalFees   decimal.Decimal `json:"total_fees"`
	Hedged      bool            `json:"hedged"`
	Success     bool            `json:"success"`
	Reason      string          `json:"reason,omitempty"`
	ExecutedAt  time.Time       `json:"executed_at"`
	DurationMS  int64           `json:"duration_ms"`
}
