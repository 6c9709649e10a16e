// Package detector scans the shared market state for arbitrage
// opportunities and emits signals: spatial (same symbol across two
// exchanges) and triangular (a three-leg cycle on one exchange).
package detector

import (
	"github.com/shopspring/decimal"

	"github.com/arbot-io/arbot/internal/models"
)

var (
	oneHundred = decimal.NewFromInt(100)
	one        = decimal.NewFromInt(1)
	half       = decimal.NewFromFloat(0.5)
)

// legQuote is an executable price for one side of a spatial trade:
// the VWAP for consuming sizeUSD of depth, plus the depth actually
// available on that side.
type legQuote struct {
	vwap     decimal.Decimal
	depthUSD decimal.Decimal
}

// quoteLeg prices sizeUSD against one side of a book. ok is false when
// the side cannot be priced at all.
func quoteLeg(book *models.OrderBook, side models.Side, sizeUSD decimal.Decimal) (legQuote, bool) {
	vwap := book.VWAPForQuote(side, sizeUSD)
	if vwap.IsZero() {
		return legQuote{}, false
	}
	return legQuote{vwap: vwap, depthUSD: book.DepthUSD(side)}, true
}

// netSpreadPct returns the profit of buying at buyVWAP and selling at
// sellVWAP with a taker fee on each leg, as a percentage of the buy
// price. Fees are fractions (0.001 = 10 bps).
func netSpreadPct(buyVWAP, sellVWAP, buyFee, sellFee decimal.Decimal) decimal.Decimal {
	cost := buyVWAP.Mul(one.Add(buyFee))
	proceeds := sellVWAP.Mul(one.Sub(sellFee))
	return proceeds.Sub(cost).Div(cost).Mul(oneHundred)
}

// confidence blends spread quality and depth coverage into [0,1]:
// half the score from the net spread relative to a 1% reference, half
// from how much of the requested size both sides can absorb.
func confidence(netPct, sizeUSD, buyDepthUSD, sellDepthUSD decimal.Decimal) decimal.Decimal {
	spreadScore := netPct.Div(one) // 1% net spread scores 1.0
	if spreadScore.GreaterThan(one) {
		spreadScore = one
	}
	if spreadScore.Sign() < 0 {
		spreadScore = decimal.Zero
	}

	minDepth := buyDepthUSD
	if sellDepthUSD.LessThan(minDepth) {
		minDepth = sellDepthUSD
	}
	depthScore := one
	if sizeUSD.Sign() > 0 {
		depthScore = minDepth.Div(sizeUSD)
		if depthScore.GreaterThan(one) {
			depthScore = one
		}
	}

	return spreadScore.Mul(half).Add(depthScore.Mul(half))
}
