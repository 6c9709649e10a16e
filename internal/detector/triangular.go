package detector

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/arbot-io/arbot/internal/config"
	"github.com/arbot-io/arbot/internal/market"
	"github.com/arbot-io/arbot/internal/metrics"
	"github.com/arbot-io/arbot/internal/models"
)

// startAssetPreference orders which asset a cycle should start from, so
// sizing stays in a stable quote currency.
var startAssetPreference = []string{"USDT", "USDC", "BUSD", "USD", "DAI"}

// TriPath is a validated triangular cycle: three symbols over exactly
// three assets, each asset appearing in exactly two symbols.
type TriPath struct {
	Symbols [3]string
	Start   string
	// cycleA and cycleB are the two traversal orders of the non-start
	// assets.
	cycleA [2]string
	cycleB [2]string
	// edge maps an unordered asset pair to its symbol.
	edges map[[2]string]string
}

// ValidatePath checks the closed-cycle requirements and resolves the
// start asset. Ambiguous paths (no preferred stable asset) are rejected.
func ValidatePath(symbols []string) (*TriPath, error) {
	if len(symbols) != 3 {
		return nil, fmt.Errorf("path needs exactly 3 symbols, got %d", len(symbols))
	}

	occurrences := make(map[string]int)
	edges := make(map[[2]string]string)
	for _, sym := range symbols {
		base, quote, err := SplitSymbol(sym)
		if err != nil {
			return nil, err
		}
		occurrences[base]++
		occurrences[quote]++
		edges[pairKey(base, quote)] = sym
	}

	if len(occurrences) != 3 {
		return nil, fmt.Errorf("path %v spans %d assets, want 3", symbols, len(occurrences))
	}
	for asset, n := range occurrences {
		if n != 2 {
			return nil, fmt.Errorf("path %v: asset %s appears in %d symbols, want 2", symbols, asset, n)
		}
	}
	if len(edges) != 3 {
		return nil, fmt.Errorf("path %v contains a duplicate pair", symbols)
	}

	var start string
	for _, pref := range startAssetPreference {
		if _, ok := occurrences[pref]; ok {
			start = pref
			break
		}
	}
	if start == "" {
		return nil, fmt.Errorf("path %v has no stable start asset", symbols)
	}

	var others []string
	for asset := range occurrences {
		if asset != start {
			others = append(others, asset)
		}
	}

	p := &TriPath{
		Symbols: [3]string{symbols[0], symbols[1], symbols[2]},
		Start:   start,
		cycleA:  [2]string{others[0], others[1]},
		cycleB:  [2]string{others[1], others[0]},
		edges:   edges,
	}
	return p, nil
}

func pairKey(a, b string) [2]string {
	if a < b {
		return [2]string{a, b}
	}
	return [2]string{b, a}
}

// SplitSymbol splits "BASE/QUOTE".
func SplitSymbol(symbol string) (string, string, error) {
	for i := 0; i < len(symbol); i++ {
		if symbol[i] == '/' {
			base, quote := symbol[:i], symbol[i+1:]
			if base == "" || quote == "" {
				break
			}
			return base, quote, nil
		}
	}
	return "", "", fmt.Errorf("malformed symbol %q", symbol)
}

// TriangularDetector simulates validated cycles against one exchange's
// fresh books, both directions, taker fee charged on every hop.
type TriangularDetector struct {
	state *market.State
	fees  map[string]decimal.Decimal
	log   zerolog.Logger

	paths        []*TriPath
	minProfitPct decimal.Decimal
	tradeSizeUSD decimal.Decimal
	signalTTL    time.Duration
}

// NewTriangularDetector validates the configured paths and builds the
// detector. Invalid paths fail construction rather than being skipped.
func NewTriangularDetector(state *market.State, cfg config.TriangularConfig, ttl time.Duration,
	fees map[string]decimal.Decimal, log zerolog.Logger) (*TriangularDetector, error) {
	paths := make([]*TriPath, 0, len(cfg.Paths))
	for _, raw := range cfg.Paths {
		p, err := ValidatePath(raw)
		if err != nil {
			return nil, fmt.Errorf("triangular path: %w", err)
		}
		paths = append(paths, p)
	}
	return &TriangularDetector{
		state:        state,
		fees:         fees,
		log:          log.With().Str("component", "triangular_detector").Logger(),
		paths:        paths,
		minProfitPct: decimal.NewFromFloat(cfg.MinProfitPct),
		tradeSizeUSD: decimal.NewFromFloat(cfg.TradeSizeUSD),
		signalTTL:    ttl,
	}, nil
}

// Scan evaluates every path on one exchange and returns the best signal.
func (d *TriangularDetector) Scan(exchange string) *models.Signal {
	started := time.Now()
	defer func() {
		metrics.DetectionDuration.WithLabelValues(string(models.StrategyTriangular)).
			Observe(float64(time.Since(started).Microseconds()) / 1000)
	}()

	books := d.state.ByExchange(exchange)
	if len(books) == 0 {
		return nil
	}
	fee := d.fee(exchange)

	var (
		best    *models.Signal
		bestNet decimal.Decimal
	)
	for _, path := range d.paths {
		for _, cycle := range [][2]string{path.cycleA, path.cycleB} {
			final, legs, ok := d.simulate(exchange, books, path, cycle, fee)
			if !ok {
				continue
			}
			net := final.Sub(d.tradeSizeUSD).Div(d.tradeSizeUSD).Mul(oneHundred)
			if net.LessThan(d.minProfitPct) {
				continue
			}
			if best != nil && net.LessThanOrEqual(bestNet) {
				continue
			}

			sig := models.NewSignal(models.StrategyTriangular, path.Symbols[0], d.signalTTL)
			sig.Legs = legs
			sig.ExpectedProfitPct = net
			sig.SizeUSD = d.tradeSizeUSD
			sig.ExpectedProfitUSD = final.Sub(d.tradeSizeUSD)
			sig.Confidence = confidence(net, d.tradeSizeUSD, d.cycleDepth(books, path), d.tradeSizeUSD)

			best = sig
			bestNet = net
		}
	}

	if best != nil {
		metrics.SignalsGenerated.WithLabelValues(string(models.StrategyTriangular)).Inc()
		d.log.Debug().
			Str("exchange", exchange).
			Str("net_pct", bestNet.StringFixed(4)).
			Msg("Triangular opportunity")
	}
	return best
}

// simulate walks start -> a -> b -> start converting the full amount at
// each hop. Returns the final amount in the start asset.
func (d *TriangularDetector) simulate(exchange string, books map[string]market.Snapshot,
	path *TriPath, cycle [2]string, fee decimal.Decimal) (decimal.Decimal, []models.Leg, bool) {

	order := []string{path.Start, cycle[0], cycle[1], path.Start}
	amount := d.tradeSizeUSD // in start asset units
	legs := make([]models.Leg, 0, 3)

	for i := 0; i < 3; i++ {
		from, to := order[i], order[i+1]
		sym, ok := path.edges[pairKey(from, to)]
		if !ok {
			return decimal.Zero, nil, false
		}
		snap, ok := books[sym]
		if !ok {
			return decimal.Zero, nil, false
		}
		book := snap.Book
		base, _, err := SplitSymbol(sym)
		if err != nil {
			return decimal.Zero, nil, false
		}

		if to == base {
			// holding quote, buying base at the ask
			vwap := book.VWAPForQuote(models.SideAsk, amount)
			if vwap.IsZero() {
				return decimal.Zero, nil, false
			}
			qty := amount.Div(vwap)
			legs = append(legs, models.Leg{
				Exchange: exchange, Symbol: sym, Side: models.OrderSideBuy,
				Price: vwap, Quantity: qty,
			})
			amount = qty.Mul(one.Sub(fee))
		} else {
			// holding base, selling into the bid
			notional := amount.Mul(book.BestBid())
			vwap := book.VWAPForQuote(models.SideBid, notional)
			if vwap.IsZero() {
				return decimal.Zero, nil, false
			}
			legs = append(legs, models.Leg{
				Exchange: exchange, Symbol: sym, Side: models.OrderSideSell,
				Price: vwap, Quantity: amount,
			})
			amount = amount.Mul(vwap).Mul(one.Sub(fee))
		}
	}

	return amount, legs, true
}

// cycleDepth is the thinnest quote-side liquidity across the cycle,
// used for the confidence blend.
func (d *TriangularDetector) cycleDepth(books map[string]market.Snapshot, path *TriPath) decimal.Decimal {
	min := decimal.Zero
	first := true
	for _, sym := range path.Symbols {
		snap, ok := books[sym]
		if !ok {
			return decimal.Zero
		}
		depth := snap.Book.DepthUSD(models.SideAsk)
		if first || depth.LessThan(min) {
			min = depth
			first = false
		}
	}
	return min
}

func (d *TriangularDetector) fee(exchange string) decimal.Decimal {
	if f, ok := d.fees[exchange]; ok {
		return f
	}
	return decimal.NewFromFloat(0.001)
}
