package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/arbot-io/arbot/internal/config"
	"github.com/arbot-io/arbot/internal/metrics"
	"github.com/arbot-io/arbot/internal/models"
)

// orderPollInterval is how often a working order is re-fetched while
// waiting for fills.
const orderPollInterval = 250 * time.Millisecond

// LiveExecutor routes signal legs to real exchange gateways. Legs are
// placed concurrently, worked until filled or the order timeout, then
// any fill imbalance is flattened with market counter-orders.
type LiveExecutor struct {
	gateways map[string]Gateway
	cfg      config.ExecutionConfig
	log      zerolog.Logger

	mu   sync.Mutex
	open map[string]*models.Order // working orders by client id, for emergency cancel
}

// NewLiveExecutor builds an executor over the given gateways.
func NewLiveExecutor(gateways map[string]Gateway, cfg config.ExecutionConfig, log zerolog.Logger) *LiveExecutor {
	return &LiveExecutor{
		gateways: gateways,
		cfg:      cfg,
		log:      log.With().Str("component", "live_executor").Logger(),
		open:     make(map[string]*models.Order),
	}
}

// Mode implements Executor.
func (e *LiveExecutor) Mode() models.ExecutionMode { return models.ModeLive }

// Execute implements Executor. Realized PnL is the gross quote flow of
// the reconciled fills, hedges included, minus fees; it feeds the
// drawdown monitor and loss breaker the same way paper results do.
func (e *LiveExecutor) Execute(ctx context.Context, sig *models.Signal) (*models.TradeResult, error) {
	started := time.Now()
	result := &models.TradeResult{
		SignalID:   sig.ID,
		Strategy:   sig.Strategy,
		Symbol:     sig.Symbol,
		Mode:       models.ModeLive,
		ExecutedAt: started.UTC(),
	}

	orders := make([]*models.Order, len(sig.Legs))
	g, gctx := errgroup.WithContext(ctx)
	for i, leg := range sig.Legs {
		orders[i] = models.NewOrder(sig.ID, leg, models.OrderTypeLimit)
		order := orders[i]
		g.Go(func() error {
			return e.workOrder(gctx, order)
		})
	}
	err := g.Wait()
	result.Orders = append(result.Orders, orders...)
	if err != nil {
		result.Reason = err.Error()
	}

	hedgeFailed := false
	for _, h := range computeHedges(orders) {
		order, herr := e.placeHedge(ctx, sig.ID, h.leg)
		if order != nil {
			result.Orders = append(result.Orders, order)
		}
		if herr != nil {
			e.log.Error().Err(herr).Str("signal_id", sig.ID).
				Str("exchange", h.leg.Exchange).Str("symbol", h.leg.Symbol).
				Msg("Hedge failed, position left open")
			result.Reason = "hedge failed: " + herr.Error()
			hedgeFailed = true
			continue
		}
		result.Hedged = true
	}

	result.TotalFees = totalFeesUSD(result.Orders)
	if anyFilled(result.Orders) {
		result.RealizedPnL = grossNotionalPnL(result.Orders).Sub(result.TotalFees)
	}
	result.Success = err == nil && result.Reason == ""
	result.DurationMS = time.Since(started).Milliseconds()

	outcome := "loss"
	if result.RealizedPnL.Sign() >= 0 && result.Success {
		outcome = "win"
	}
	metrics.TradesExecuted.WithLabelValues(string(sig.Strategy), outcome).Inc()
	metrics.ExecutionDuration.WithLabelValues(string(models.ModeLive)).Observe(float64(result.DurationMS))

	classifyOutcome(sig, result.Orders, hedgeFailed)
	if err != nil {
		return result, err
	}
	return result, nil
}

// workOrder places one order and polls it until terminal or the order
// timeout, cancelling whatever is still working at the deadline.
func (e *LiveExecutor) workOrder(ctx context.Context, order *models.Order) error {
	gw, ok := e.gateways[order.Exchange]
	if !ok {
		order.Status = models.OrderStatusRejected
		return fmt.Errorf("no gateway for %s", order.Exchange)
	}

	if err := gw.PlaceOrder(ctx, order); err != nil {
		order.Status = models.OrderStatusRejected
		return err
	}
	metrics.OrdersPlaced.WithLabelValues(order.Exchange, string(order.Side)).Inc()
	e.track(order)
	defer e.untrack(order)

	deadline := time.NewTimer(e.cfg.OrderTimeout())
	defer deadline.Stop()
	tick := time.NewTicker(orderPollInterval)
	defer tick.Stop()

	for !order.Status.Terminal() {
		select {
		case <-ctx.Done():
			e.cancelQuiet(order, gw)
			return ctx.Err()
		case <-deadline.C:
			e.cancelQuiet(order, gw)
			e.log.Warn().Str("order_id", order.ID).Str("exchange", order.Exchange).
				Str("filled", order.FilledQuantity.String()).
				Msg("Order timed out, canceled remainder")
			return nil
		case <-tick.C:
			if err := gw.FetchOrder(ctx, order); err != nil {
				e.log.Warn().Err(err).Str("order_id", order.ID).Msg("Order poll failed")
			}
		}
	}
	return nil
}

// placeHedge flattens a partial-fill imbalance with a market order,
// retrying up to the configured attempt budget.
func (e *LiveExecutor) placeHedge(ctx context.Context, signalID string, leg models.Leg) (*models.Order, error) {
	gw, ok := e.gateways[leg.Exchange]
	if !ok {
		return nil, fmt.Errorf("no gateway for %s", leg.Exchange)
	}

	attempts := e.cfg.MaxHedgeAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		order := models.NewOrder(signalID, leg, models.OrderTypeMarket)
		if err := gw.PlaceOrder(ctx, order); err != nil {
			lastErr = err
			continue
		}
		// market orders settle immediately; one fetch confirms the fill
		if err := gw.FetchOrder(ctx, order); err != nil {
			e.log.Warn().Err(err).Str("order_id", order.ID).Msg("Hedge confirm failed")
		}
		metrics.HedgesPlaced.WithLabelValues(leg.Exchange).Inc()
		return order, nil
	}
	return nil, lastErr
}

// CancelAll cancels every working order, used by the emergency stop.
func (e *LiveExecutor) CancelAll(ctx context.Context) int {
	e.mu.Lock()
	working := make([]*models.Order, 0, len(e.open))
	for _, o := range e.open {
		working = append(working, o)
	}
	e.mu.Unlock()

	canceled := 0
	for _, order := range working {
		gw, ok := e.gateways[order.Exchange]
		if !ok {
			continue
		}
		if err := gw.CancelOrder(ctx, order); err != nil {
			e.log.Error().Err(err).Str("order_id", order.ID).Msg("Emergency cancel failed")
			continue
		}
		canceled++
	}
	e.log.Info().Int("canceled", canceled).Int("working", len(working)).Msg("Emergency cancel complete")
	return canceled
}

func (e *LiveExecutor) track(order *models.Order) {
	e.mu.Lock()
	e.open[order.ClientOrderID] = order
	e.mu.Unlock()
}

func (e *LiveExecutor) untrack(order *models.Order) {
	e.mu.Lock()
	delete(e.open, order.ClientOrderID)
	e.mu.Unlock()
}

// cancelQuiet cancels with a short detached context so shutdown paths
// still reach the exchange.
func (e *LiveExecutor) cancelQuiet(order *models.Order, gw Gateway) {
	cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := gw.CancelOrder(cctx, order); err != nil {
		e.log.Error().Err(err).Str("order_id", order.ID).Msg("Cancel failed")
	}
}
