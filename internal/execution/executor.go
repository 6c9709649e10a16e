package execution

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/arbot-io/arbot/internal/models"
)

// Executor turns an approved signal into a completed trade result.
type Executor interface {
	Execute(ctx context.Context, sig *models.Signal) (*models.TradeResult, error)
	Mode() models.ExecutionMode
}

// hedge is a counter-order needed to flatten a partial-fill imbalance.
type hedge struct {
	leg    models.Leg
	excess decimal.Decimal
}

// computeHedges compares fill ratios across the signal's legs. Every leg
// that filled more than the thinnest leg is carrying inventory the
// opposite leg never matched; the excess is flattened with a counter
// order on the same market.
func computeHedges(orders []*models.Order) []hedge {
	if len(orders) < 2 {
		return nil
	}

	minRatio := orders[0].FillRatio()
	for _, o := range orders[1:] {
		if r := o.FillRatio(); r.LessThan(minRatio) {
			minRatio = r
		}
	}

	var hedges []hedge
	for _, o := range orders {
		excessRatio := o.FillRatio().Sub(minRatio)
		if excessRatio.Sign() <= 0 {
			continue
		}
		excess := o.Quantity.Mul(excessRatio)
		if excess.Sign() <= 0 {
			continue
		}
		hedges = append(hedges, hedge{
			leg: models.Leg{
				Exchange: o.Exchange,
				Symbol:   o.Symbol,
				Side:     o.Side.Opposite(),
				Price:    o.AvgFillPrice,
				Quantity: excess,
			},
			excess: excess,
		})
	}
	return hedges
}

// grossNotionalPnL sums the quote flow across all fills: sells add
// AvgFillPrice * FilledQuantity, buys subtract it. Hedge orders are in
// the slice too, so a flattened imbalance nets out against the leg that
// over-filled. Unhedged residual inventory is not marked here.
func grossNotionalPnL(orders []*models.Order) decimal.Decimal {
	pnl := decimal.Zero
	for _, o := range orders {
		notional := o.AvgFillPrice.Mul(o.FilledQuantity)
		if o.Side == models.OrderSideSell {
			pnl = pnl.Add(notional)
		} else {
			pnl = pnl.Sub(notional)
		}
	}
	return pnl
}

// anyFilled reports whether at least one order got any fill.
func anyFilled(orders []*models.Order) bool {
	for _, o := range orders {
		if o.FilledQuantity.Sign() > 0 {
			return true
		}
	}
	return false
}

// classifyOutcome sets the signal's terminal status from what actually
// happened on the exchange: no fills anywhere means the opportunity was
// missed, a failed hedge leaves an open position behind, anything else
// executed (possibly at a loss).
func classifyOutcome(sig *models.Signal, orders []*models.Order, hedgeFailed bool) {
	switch {
	case !anyFilled(orders):
		sig.Status = models.SignalMissed
	case hedgeFailed:
		sig.Status = models.SignalFailed
	default:
		sig.Status = models.SignalExecuted
	}
}

// totalFeesUSD values every order's fee in quote terms, pricing base
// denominated fees at the order's average fill.
func totalFeesUSD(orders []*models.Order) decimal.Decimal {
	total := decimal.Zero
	for _, o := range orders {
		if o.FeePaid.IsZero() {
			continue
		}
		base, _, err := splitSymbol(o.Symbol)
		if err != nil {
			continue
		}
		if o.FeeAsset == base && !o.AvgFillPrice.IsZero() {
			total = total.Add(o.FeePaid.Mul(o.AvgFillPrice))
		} else {
			total = total.Add(o.FeePaid)
		}
	}
	return total
}
