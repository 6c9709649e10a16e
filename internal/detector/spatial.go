package detector

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/arbot-io/arbot/internal/config"
	"github.com/arbot-io/arbot/internal/market"
	"github.com/arbot-io/arbot/internal/metrics"
	"github.com/arbot-io/arbot/internal/models"
)

// SpatialDetector finds the same symbol priced differently on two
// exchanges: buy where the ask is low, sell where the bid is high. A
// route that just emitted is held off for the pair cooldown so the same
// spread is not chased again before the first attempt settles.
type SpatialDetector struct {
	state *market.State
	fees  map[string]decimal.Decimal // taker fee per exchange
	log   zerolog.Logger

	minProfitPct  decimal.Decimal
	tradeSizeUSD  decimal.Decimal
	minDepthRatio decimal.Decimal
	signalTTL     time.Duration
	pairCooldown  time.Duration

	mu        sync.Mutex
	cooldowns map[string]time.Time // route key -> earliest next emission

	now func() time.Time
}

// NewSpatialDetector builds a detector over the shared state.
func NewSpatialDetector(state *market.State, cfg config.SpatialConfig, ttl time.Duration,
	fees map[string]decimal.Decimal, log zerolog.Logger) *SpatialDetector {
	return &SpatialDetector{
		state:         state,
		fees:          fees,
		log:           log.With().Str("component", "spatial_detector").Logger(),
		minProfitPct:  decimal.NewFromFloat(cfg.MinProfitPct),
		tradeSizeUSD:  decimal.NewFromFloat(cfg.TradeSizeUSD),
		minDepthRatio: decimal.NewFromFloat(cfg.MinDepthRatio),
		signalTTL:     ttl,
		pairCooldown:  cfg.PairCooldown(),
		cooldowns:     make(map[string]time.Time),
		now:           time.Now,
	}
}

func routeKey(buyEx, sellEx, symbol string) string {
	return buyEx + ">" + sellEx + "|" + symbol
}

// Scan evaluates one symbol across every ordered exchange pair with
// fresh books and returns the best signal, if any clears the threshold.
// Candidates are ranked by executable edge: net spread times the
// notional actually fillable on the thinner side.
func (d *SpatialDetector) Scan(symbol string) *models.Signal {
	started := time.Now()
	defer func() {
		metrics.DetectionDuration.WithLabelValues(string(models.StrategySpatial)).
			Observe(float64(time.Since(started).Microseconds()) / 1000)
	}()

	books := d.state.BySymbol(symbol)
	if len(books) < 2 {
		return nil
	}
	now := d.now()

	var (
		best      *models.Signal
		bestNet   decimal.Decimal
		bestScore decimal.Decimal
	)

	for buyEx, buySnap := range books {
		buyQuote, ok := quoteLeg(buySnap.Book, models.SideAsk, d.tradeSizeUSD)
		if !ok {
			continue
		}
		for sellEx, sellSnap := range books {
			if sellEx == buyEx {
				continue
			}
			if d.onCooldown(buyEx, sellEx, symbol, now) {
				continue
			}
			sellQuote, ok := quoteLeg(sellSnap.Book, models.SideBid, d.tradeSizeUSD)
			if !ok {
				continue
			}

			net := netSpreadPct(buyQuote.vwap, sellQuote.vwap, d.fee(buyEx), d.fee(sellEx))
			if net.LessThan(d.minProfitPct) {
				continue
			}

			// both sides must hold enough depth for the requested size
			required := d.tradeSizeUSD.Mul(d.minDepthRatio)
			if buyQuote.depthUSD.LessThan(required) || sellQuote.depthUSD.LessThan(required) {
				continue
			}

			fillable := decimal.Min(buyQuote.depthUSD, sellQuote.depthUSD, d.tradeSizeUSD)
			score := net.Mul(fillable)
			if best != nil && score.LessThanOrEqual(bestScore) {
				continue
			}

			qty := d.tradeSizeUSD.Div(buyQuote.vwap)
			sig := models.NewSignal(models.StrategySpatial, symbol, d.signalTTL)
			sig.Legs = []models.Leg{
				{Exchange: buyEx, Symbol: symbol, Side: models.OrderSideBuy, Price: buyQuote.vwap, Quantity: qty},
				{Exchange: sellEx, Symbol: symbol, Side: models.OrderSideSell, Price: sellQuote.vwap, Quantity: qty},
			}
			sig.ExpectedProfitPct = net
			sig.SizeUSD = d.tradeSizeUSD
			sig.ExpectedProfitUSD = d.tradeSizeUSD.Mul(net).Div(oneHundred)
			sig.Confidence = confidence(net, d.tradeSizeUSD, buyQuote.depthUSD, sellQuote.depthUSD)

			best = sig
			bestNet = net
			bestScore = score
		}
	}

	if best != nil {
		d.armCooldown(best.Legs[0].Exchange, best.Legs[1].Exchange, symbol, now)
		metrics.SignalsGenerated.WithLabelValues(string(models.StrategySpatial)).Inc()
		metrics.SpreadObserved.WithLabelValues(symbol).Set(bestNet.InexactFloat64())
		d.log.Debug().
			Str("symbol", symbol).
			Str("buy", best.Legs[0].Exchange).
			Str("sell", best.Legs[1].Exchange).
			Str("net_pct", bestNet.StringFixed(4)).
			Msg("Spatial opportunity")
	}
	return best
}

// onCooldown reports whether the route emitted within the cooldown.
func (d *SpatialDetector) onCooldown(buyEx, sellEx, symbol string, now time.Time) bool {
	if d.pairCooldown <= 0 {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	until, ok := d.cooldowns[routeKey(buyEx, sellEx, symbol)]
	return ok && now.Before(until)
}

func (d *SpatialDetector) armCooldown(buyEx, sellEx, symbol string, now time.Time) {
	if d.pairCooldown <= 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cooldowns[routeKey(buyEx, sellEx, symbol)] = now.Add(d.pairCooldown)
}

func (d *SpatialDetector) fee(exchange string) decimal.Decimal {
	if f, ok := d.fees[exchange]; ok {
		return f
	}
	// unknown venue: assume a conservative 10 bps taker fee
	return decimal.NewFromFloat(0.001)
}
