// Package models defines the shared data types flowing through the
// arbitrage pipeline: order books, signals, orders, fills, and balances.
// All prices and quantities are fixed-point decimals.
package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Level is a single price level in an order book side.
type Level struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
}

// NotionalUSD returns price * quantity for this level.
func (l Level) NotionalUSD() decimal.Decimal {
	return l.Price.Mul(l.Quantity)
}

// Side identifies a side of the book.
type Side string

const (
	SideBid Side = "bid"
	SideAsk Side = "ask"
)

// OrderBook is a normalized snapshot of an exchange order book.
// Bids are sorted by price descending (best bid first), asks ascending
// (best ask first). A book is exclusively owned by its connector; all
// other stages receive immutable copies.
type OrderBook struct {
	Exchange string  `json:"exchange"`
	Symbol   string  `json:"symbol"`
	Bids     []Level `json:"bids"`
	Asks     []Level `json:"asks"`

	// Seq is the exchange-assigned sequence number of the last applied
	// update, used for gap detection on incremental feeds.
	Seq int64 `json:"seq"`

	// EventTS is the exchange event timestamp in Unix milliseconds.
	// IngressTS is stamped at parse completion on our side.
	EventTS   int64 `json:"event_ts"`
	IngressTS int64 `json:"ingress_ts"`
}

// BestBid returns the highest bid, or zero if the bid side is empty.
func (b *OrderBook) BestBid() decimal.Decimal {
	if len(b.Bids) == 0 {
		return decimal.Zero
	}
	return b.Bids[0].Price
}

// BestAsk returns the lowest ask, or zero if the ask side is empty.
func (b *OrderBook) BestAsk() decimal.Decimal {
	if len(b.Asks) == 0 {
		return decimal.Zero
	}
	return b.Asks[0].Price
}

// BestBidQty returns the quantity at the best bid.
func (b *OrderBook) BestBidQty() decimal.Decimal {
	if len(b.Bids) == 0 {
		return decimal.Zero
	}
	return b.Bids[0].Quantity
}

// BestAskQty returns the quantity at the best ask.
func (b *OrderBook) BestAskQty() decimal.Decimal {
	if len(b.Asks) == 0 {
		return decimal.Zero
	}
	return b.Asks[0].Quantity
}

// MidPrice returns (best_bid + best_ask) / 2, or zero when either side
// is empty.
func (b *OrderBook) MidPrice() decimal.Decimal {
	if len(b.Bids) == 0 || len(b.Asks) == 0 {
		return decimal.Zero
	}
	return b.BestBid().Add(b.BestAsk()).Div(decimal.NewFromInt(2))
}

// SpreadPct returns the bid/ask spread as a percentage of the mid price.
func (b *OrderBook) SpreadPct() decimal.Decimal {
	mid := b.MidPrice()
	if mid.IsZero() {
		return decimal.Zero
	}
	spread := b.BestAsk().Sub(b.BestBid())
	return spread.Div(mid).Mul(decimal.NewFromInt(100))
}

// Latency returns ingress minus event timestamp in milliseconds.
func (b *OrderBook) Latency() int64 {
	return b.IngressTS - b.EventTS
}

// Age returns how old the book's event timestamp is relative to now.
func (b *OrderBook) Age(now time.Time) time.Duration {
	return now.Sub(time.UnixMilli(b.EventTS))
}

// Validate checks the normalization invariants: at least one level per
// side, bids strictly descending, asks strictly ascending, and
// best_bid < best_ask.
func (b *OrderBook) Validate() error {
	if len(b.Bids) == 0 || len(b.Asks) == 0 {
		return fmt.Errorf("orderbook %s %s: empty side (bids=%d asks=%d)",
			b.Exchange, b.Symbol, len(b.Bids), len(b.Asks))
	}
	for i := 1; i < len(b.Bids); i++ {
		if b.Bids[i].Price.GreaterThanOrEqual(b.Bids[i-1].Price) {
			return fmt.Errorf("orderbook %s %s: bids not descending at level %d",
				b.Exchange, b.Symbol, i)
		}
	}
	for i := 1; i < len(b.Asks); i++ {
		if b.Asks[i].Price.LessThanOrEqual(b.Asks[i-1].Price) {
			return fmt.Errorf("orderbook %s %s: asks not ascending at level %d",
				b.Exchange, b.Symbol, i)
		}
	}
	if b.BestBid().GreaterThanOrEqual(b.BestAsk()) {
		return fmt.Errorf("orderbook %s %s: crossed book bid=%s ask=%s",
			b.Exchange, b.Symbol, b.BestBid(), b.BestAsk())
	}
	return nil
}

// VWAPForQuote walks the given side of the book consuming up to
// quoteAmount (in quote currency, e.g. USD) and returns the
// volume-weighted average price for the consumed depth. Returns zero
// when the side is empty or quoteAmount is non-positive.
func (b *OrderBook) VWAPForQuote(side Side, quoteAmount decimal.Decimal) decimal.Decimal {
	if quoteAmount.Sign() <= 0 {
		return decimal.Zero
	}
	levels := b.Asks
	if side == SideBid {
		levels = b.Bids
	}
	if len(levels) == 0 {
		return decimal.Zero
	}

	remaining := quoteAmount
	totalQty := decimal.Zero
	totalCost := decimal.Zero

	for _, lvl := range levels {
		levelUSD := lvl.NotionalUSD()
		if levelUSD.LessThanOrEqual(remaining) {
			totalQty = totalQty.Add(lvl.Quantity)
			totalCost = totalCost.Add(levelUSD)
			remaining = remaining.Sub(levelUSD)
			continue
		}
		partialQty := remaining.Div(lvl.Price)
		totalQty = totalQty.Add(partialQty)
		totalCost = totalCost.Add(remaining)
		remaining = decimal.Zero
		break
	}

	if totalQty.IsZero() {
		return decimal.Zero
	}
	return totalCost.Div(totalQty)
}

// DepthUSD returns the total quote-currency liquidity on a side.
func (b *OrderBook) DepthUSD(side Side) decimal.Decimal {
	levels := b.Asks
	if side == SideBid {
		levels = b.Bids
	}
	total := decimal.Zero
	for _, lvl := range levels {
		total = total.Add(lvl.NotionalUSD())
	}
	return total
}

// Clone returns a deep copy safe to hand to another stage.
func (b *OrderBook) Clone() *OrderBook {
	cp := *b
	cp.Bids = make([]Level, len(b.Bids))
	copy(cp.Bids, b.Bids)
	cp.Asks = make([]Level, len(b.Asks))
	copy(cp.Asks, b.Asks)
	return &cp
}

// TopOfBook is the derived best-bid/best-ask view of a book.
type TopOfBook struct {
	Exchange   string          `json:"exchange"`
	Symbol     string          `json:"symbol"`
	BestBid    decimal.Decimal `json:"best_bid"`
	BestBidQty decimal.Decimal `json:"best_bid_qty"`
	BestAsk    decimal.Decimal `json:"best_ask"`
	BestAskQty decimal.Decimal `json:"best_ask_qty"`
	EventTS    int64           `json:"event_ts"`
	IngressTS  int64           `json:"ingress_ts"`
}

// Top derives the TopOfBook view from the full book.
func (b *OrderBook) Top() TopOfBook {
	return TopOfBook{
		Exchange:   b.Exchange,
		Symbol:     b.Symbol,
		BestBid:    b.BestBid(),
		BestBidQty: b.BestBidQty(),
		BestAsk:    b.BestAsk(),
		BestAskQty: b.BestAskQty(),
		EventTS:    b.EventTS,
		IngressTS:  b.IngressTS,
	}
}
