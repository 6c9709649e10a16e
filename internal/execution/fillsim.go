// Package execution turns approved signals into orders: simulated fills
// against live books in paper mode, real exchange orders in live mode,
// with partial-fill reconciliation and hedging in both.
package execution

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/arbot-io/arbot/internal/config"
	"github.com/arbot-io/arbot/internal/models"
)

// FillSimulator produces realistic fills for paper trading: VWAP pricing
// against the current book, slippage that grows with order size relative
// to displayed depth, occasional partial fills, and the taker fee
// charged on the received asset (base for buys, quote for sells).
type FillSimulator struct {
	mu   sync.Mutex
	cfg  config.SlippageConfig
	fees map[string]decimal.Decimal // taker fee per exchange

	// rng is injectable for deterministic tests
	rng *rand.Rand
}

// NewFillSimulator builds a simulator with its own RNG.
func NewFillSimulator(cfg config.SlippageConfig, fees map[string]decimal.Decimal) *FillSimulator {
	return &FillSimulator{
		cfg:  cfg,
		fees: fees,
		rng:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetSlippage swaps the slippage model, e.g. after a config reload.
func (s *FillSimulator) SetSlippage(cfg config.SlippageConfig) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

// Simulate fills an order against the book. The returned fill is ready
// to fold into the order with ApplyFill. Returns an error when the book
// cannot price the order at all.
func (s *FillSimulator) Simulate(order *models.Order, book *models.OrderBook) (models.Fill, error) {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	side := models.SideAsk
	if order.Side == models.OrderSideSell {
		side = models.SideBid
	}

	ref := book.BestAsk()
	if order.Side == models.OrderSideSell {
		ref = book.BestBid()
	}
	if ref.IsZero() {
		return models.Fill{}, fmt.Errorf("empty %s side for %s %s", side, order.Exchange, order.Symbol)
	}

	notional := order.Quantity.Mul(ref)
	vwap := book.VWAPForQuote(side, notional)
	if vwap.IsZero() {
		return models.Fill{}, fmt.Errorf("cannot price %s %s for %s", order.Exchange, order.Symbol, notional)
	}

	price := applySlippage(cfg, vwap, notional, book.DepthUSD(side), order.Side)

	qty := order.RemainingQuantity()
	if s.rng.Float64() < cfg.PartialFillProb {
		span := 1 - cfg.MinFillRatio
		ratio := decimal.NewFromFloat(cfg.MinFillRatio + s.rng.Float64()*span)
		qty = qty.Mul(ratio)
	}

	fee, feeAsset := s.fee(order, price, qty)

	return models.Fill{
		OrderID:   order.ID,
		TradeID:   fmt.Sprintf("sim-%d", s.rng.Int63()),
		Price:     price,
		Quantity:  qty,
		Fee:       fee,
		FeeAsset:  feeAsset,
		Timestamp: time.Now().UTC(),
	}, nil
}

// applySlippage worsens the VWAP by base slippage plus market impact
// proportional to the order's share of displayed depth, capped.
func applySlippage(cfg config.SlippageConfig, vwap, notional, depthUSD decimal.Decimal, side models.OrderSide) decimal.Decimal {
	slip := decimal.NewFromFloat(cfg.BasePct)
	if depthUSD.Sign() > 0 {
		impact := notional.Div(depthUSD).Mul(decimal.NewFromFloat(cfg.ImpactCoeff)).Mul(decimal.NewFromInt(100))
		slip = slip.Add(impact)
	}
	max := decimal.NewFromFloat(cfg.MaxPct)
	if slip.GreaterThan(max) {
		slip = max
	}
	frac := slip.Div(decimal.NewFromInt(100))
	if side == models.OrderSideBuy {
		return vwap.Mul(decimal.NewFromInt(1).Add(frac))
	}
	return vwap.Mul(decimal.NewFromInt(1).Sub(frac))
}

// fee charges the taker fee on the received asset.
func (s *FillSimulator) fee(order *models.Order, price, qty decimal.Decimal) (decimal.Decimal, string) {
	rate, ok := s.fees[order.Exchange]
	if !ok {
		rate = decimal.NewFromFloat(0.001)
	}
	base, quote, err := splitSymbol(order.Symbol)
	if err != nil {
		return decimal.Zero, ""
	}
	if order.Side == models.OrderSideBuy {
		return qty.Mul(rate), base
	}
	return qty.Mul(price).Mul(rate), quote
}

func splitSymbol(symbol string) (string, string, error) {
	for i := 0; i < len(symbol); i++ {
		if symbol[i] == '/' {
			if i == 0 || i == len(symbol)-1 {
				break
			}
			return symbol[:i], symbol[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("malformed symbol %q", symbol)
}
