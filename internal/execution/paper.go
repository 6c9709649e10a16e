package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/arbot-io/arbot/internal/config"
	"github.com/arbot-io/arbot/internal/market"
	"github.com/arbot-io/arbot/internal/metrics"
	"github.com/arbot-io/arbot/internal/models"
)

// stableAssets are valued 1:1 against USD when marking equity.
var stableAssets = map[string]bool{
	"USDT": true, "USDC": true, "BUSD": true, "TUSD": true, "USD": true, "DAI": true,
}

// PaperExecutor simulates executions against live books while tracking
// virtual per-exchange balances. Realized PnL is the change in marked
// equity across the execution, so triangular cycles and base-asset fees
// are accounted without special cases.
type PaperExecutor struct {
	state *market.State
	sim   *FillSimulator
	log   zerolog.Logger

	mu       sync.Mutex
	balances map[string]map[string]decimal.Decimal // exchange -> asset -> free
}

// NewPaperExecutor seeds every exchange with the initial capital in USDT.
func NewPaperExecutor(state *market.State, sim *FillSimulator, exchanges []string,
	initialCapitalUSD decimal.Decimal, log zerolog.Logger) *PaperExecutor {
	balances := make(map[string]map[string]decimal.Decimal, len(exchanges))
	for _, ex := range exchanges {
		balances[ex] = map[string]decimal.Decimal{"USDT": initialCapitalUSD}
	}
	return &PaperExecutor{
		state:    state,
		sim:      sim,
		log:      log.With().Str("component", "paper_executor").Logger(),
		balances: balances,
	}
}

// Mode implements Executor.
func (e *PaperExecutor) Mode() models.ExecutionMode { return models.ModePaper }

// SetSlippage pushes a reloaded slippage model into the fill simulator.
func (e *PaperExecutor) SetSlippage(cfg config.SlippageConfig) {
	e.sim.SetSlippage(cfg)
}

// Execute fills every leg, hedges any imbalance, and reports the equity
// delta as realized PnL.
func (e *PaperExecutor) Execute(ctx context.Context, sig *models.Signal) (*models.TradeResult, error) {
	started := time.Now()
	equityBefore := e.EquityUSD()

	result := &models.TradeResult{
		SignalID:   sig.ID,
		Strategy:   sig.Strategy,
		Symbol:     sig.Symbol,
		Mode:       models.ModePaper,
		ExecutedAt: started.UTC(),
	}

	for _, leg := range sig.Legs {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		order := models.NewOrder(sig.ID, leg, models.OrderTypeLimit)
		if err := e.fillOrder(order); err != nil {
			order.Status = models.OrderStatusRejected
			result.Orders = append(result.Orders, order)
			result.Reason = err.Error()
			break
		}
		result.Orders = append(result.Orders, order)
		metrics.OrdersPlaced.WithLabelValues(order.Exchange, string(order.Side)).Inc()
	}

	// flatten whatever one side filled that the other did not
	hedgeFailed := false
	for _, h := range computeHedges(result.Orders) {
		order := models.NewOrder(sig.ID, h.leg, models.OrderTypeMarket)
		if err := e.fillOrder(order); err != nil {
			e.log.Warn().Err(err).Str("signal_id", sig.ID).Msg("Paper hedge failed")
			result.Reason = "hedge failed: " + err.Error()
			result.Orders = append(result.Orders, order)
			hedgeFailed = true
			continue
		}
		result.Hedged = true
		result.Orders = append(result.Orders, order)
		metrics.HedgesPlaced.WithLabelValues(order.Exchange).Inc()
	}

	result.RealizedPnL = e.EquityUSD().Sub(equityBefore)
	result.TotalFees = totalFeesUSD(result.Orders)
	result.Success = result.Reason == "" && result.RealizedPnL.Sign() >= 0
	result.DurationMS = time.Since(started).Milliseconds()

	outcome := "loss"
	if result.RealizedPnL.Sign() >= 0 {
		outcome = "win"
	}
	metrics.TradesExecuted.WithLabelValues(string(sig.Strategy), outcome).Inc()
	metrics.ExecutionDuration.WithLabelValues(string(models.ModePaper)).Observe(float64(result.DurationMS))

	classifyOutcome(sig, result.Orders, hedgeFailed)
	return result, nil
}

// fillOrder simulates one fill and settles it against virtual balances.
// Partial fills are retried once to mimic working the remainder; what is
// still unfilled after that stays unfilled.
func (e *PaperExecutor) fillOrder(order *models.Order) error {
	for attempt := 0; attempt < 2 && !order.Status.Terminal(); attempt++ {
		snap, ok := e.state.Get(order.Exchange, order.Symbol)
		if !ok || !snap.Fresh {
			return fmt.Errorf("no fresh book for %s %s", order.Exchange, order.Symbol)
		}
		fill, err := e.sim.Simulate(order, snap.Book)
		if err != nil {
			return err
		}
		if fill.Quantity.Sign() <= 0 {
			break
		}
		order.ApplyFill(fill)
		e.settle(order, fill)
	}
	if order.FilledQuantity.IsZero() {
		return fmt.Errorf("order %s filled nothing", order.ID)
	}
	return nil
}

// settle applies one fill's asset flows to the virtual balances. The
// taker fee is deducted from the received asset.
func (e *PaperExecutor) settle(order *models.Order, fill models.Fill) {
	base, quote, err := splitSymbol(order.Symbol)
	if err != nil {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	bal, ok := e.balances[order.Exchange]
	if !ok {
		bal = make(map[string]decimal.Decimal)
		e.balances[order.Exchange] = bal
	}

	notional := fill.Price.Mul(fill.Quantity)
	if order.Side == models.OrderSideBuy {
		bal[quote] = bal[quote].Sub(notional)
		bal[base] = bal[base].Add(fill.Quantity).Sub(fill.Fee)
	} else {
		bal[base] = bal[base].Sub(fill.Quantity)
		bal[quote] = bal[quote].Add(notional).Sub(fill.Fee)
	}
}

// Balances returns a deep copy of the virtual balance sheet.
func (e *PaperExecutor) Balances() map[string]*models.ExchangeBalance {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make(map[string]*models.ExchangeBalance, len(e.balances))
	for ex, assets := range e.balances {
		eb := &models.ExchangeBalance{
			Exchange:  ex,
			Assets:    make(map[string]models.AssetBalance, len(assets)),
			UpdatedAt: time.Now().UTC(),
		}
		for asset, free := range assets {
			eb.Assets[asset] = models.AssetBalance{Asset: asset, Free: free}
		}
		out[ex] = eb
	}
	return out
}

// EquityUSD marks every balance to USD: stables at par, other assets at
// the freshest mid price available on any exchange.
func (e *PaperExecutor) EquityUSD() decimal.Decimal {
	e.mu.Lock()
	defer e.mu.Unlock()

	total := decimal.Zero
	for _, assets := range e.balances {
		for asset, qty := range assets {
			if qty.IsZero() {
				continue
			}
			if stableAssets[asset] {
				total = total.Add(qty)
				continue
			}
			if px := e.markPrice(asset); !px.IsZero() {
				total = total.Add(qty.Mul(px))
			}
		}
	}
	return total
}

// markPrice finds a fresh ASSET/stable mid anywhere.
func (e *PaperExecutor) markPrice(asset string) decimal.Decimal {
	for stable := range stableAssets {
		snaps := e.state.BySymbol(asset + "/" + stable)
		for _, snap := range snaps {
			if mid := snap.Book.MidPrice(); !mid.IsZero() {
				return mid
			}
		}
	}
	return decimal.Zero
}

// Snapshot builds a portfolio snapshot for the drawdown monitor.
func (e *PaperExecutor) Snapshot() models.PortfolioSnapshot {
	return models.PortfolioSnapshot{
		Balances:  e.Balances(),
		EquityUSD: e.EquityUSD(),
		Timestamp: time.Now().UTC(),
	}
}
