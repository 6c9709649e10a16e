package risk

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/arbot-io/arbot/internal/config"
	"github.com/arbot-io/arbot/internal/models"
)

// AnomalyDetector rejects signals priced against books that look broken.
// Four checks, cheapest first: a bid/ask spread wider than any sane
// market, a spread that is a statistical outlier against its own rolling
// window, a flash crash from the recent price peak, and a mid price that
// has drifted too far from the cross-exchange median for the symbol.
// Rolling checks only engage once the window holds a minimum number of
// samples.
type AnomalyDetector struct {
	mu sync.Mutex

	maxSpreadPct  float64
	deviationPct  float64
	spreadStd     float64
	flashCrashPct float64
	windowSize    int
	minFill       int

	windows map[string]*obsWindow
	// latest mid per symbol per exchange, for the median check
	latest map[string]map[string]float64
}

// obsWindow is a fixed-size ring of observed mids and spreads for one
// (exchange, symbol).
type obsWindow struct {
	mids    []float64
	spreads []float64
	next    int
	filled  int
}

func (w *obsWindow) push(mid, spread float64) {
	w.mids[w.next] = mid
	w.spreads[w.next] = spread
	w.next = (w.next + 1) % len(w.mids)
	if w.filled < len(w.mids) {
		w.filled++
	}
}

// peak returns the highest mid currently in the window.
func (w *obsWindow) peak() float64 {
	max := 0.0
	for i := 0; i < w.filled; i++ {
		if w.mids[i] > max {
			max = w.mids[i]
		}
	}
	return max
}

// spreadStats returns mean and standard deviation of the windowed spreads.
func (w *obsWindow) spreadStats() (float64, float64) {
	if w.filled == 0 {
		return 0, 0
	}
	sum := 0.0
	for i := 0; i < w.filled; i++ {
		sum += w.spreads[i]
	}
	mean := sum / float64(w.filled)
	varsum := 0.0
	for i := 0; i < w.filled; i++ {
		d := w.spreads[i] - mean
		varsum += d * d
	}
	return mean, math.Sqrt(varsum / float64(w.filled))
}

// NewAnomalyDetector builds the detector from config.
func NewAnomalyDetector(cfg config.AnomalyConfig) *AnomalyDetector {
	d := &AnomalyDetector{
		windows: make(map[string]*obsWindow),
		latest:  make(map[string]map[string]float64),
	}
	d.applyLocked(cfg)
	return d
}

// ApplyConfig swaps the thresholds in place, keeping the accumulated
// windows so a reload does not restart the warmup.
func (d *AnomalyDetector) ApplyConfig(cfg config.AnomalyConfig) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.applyLocked(cfg)
}

func (d *AnomalyDetector) applyLocked(cfg config.AnomalyConfig) {
	d.maxSpreadPct = cfg.MaxSpreadPct
	d.deviationPct = cfg.PriceDeviationPct
	d.spreadStd = cfg.SpreadStdThreshold
	d.flashCrashPct = cfg.FlashCrashPct
	d.windowSize = cfg.WindowSize
	d.minFill = cfg.MinWindowFill
}

// Observe feeds a book's mid and spread into the rolling window and the
// cross-exchange mid table. Call this for every accepted book so the
// baselines track the market.
func (d *AnomalyDetector) Observe(book *models.OrderBook) {
	mid := book.MidPrice()
	if mid.IsZero() {
		return
	}
	midF := mid.InexactFloat64()
	spreadF := book.SpreadPct().InexactFloat64()
	key := book.Exchange + "|" + book.Symbol

	d.mu.Lock()
	defer d.mu.Unlock()

	w, ok := d.windows[key]
	if !ok || len(w.mids) != d.windowSize {
		w = &obsWindow{
			mids:    make([]float64, d.windowSize),
			spreads: make([]float64, d.windowSize),
		}
		d.windows[key] = w
	}
	w.push(midF, spreadF)

	bySym, ok := d.latest[book.Symbol]
	if !ok {
		bySym = make(map[string]float64)
		d.latest[book.Symbol] = bySym
	}
	bySym[book.Exchange] = midF
}

// Check validates one book. A nil error means the book looks sane.
func (d *AnomalyDetector) Check(book *models.OrderBook) error {
	spread := book.SpreadPct().InexactFloat64()
	if spread > d.maxSpreadPct {
		return fmt.Errorf("anomaly: %s %s spread %.2f%% exceeds %.2f%%",
			book.Exchange, book.Symbol, spread, d.maxSpreadPct)
	}

	mid := book.MidPrice()
	if mid.IsZero() {
		return fmt.Errorf("anomaly: %s %s has no mid price", book.Exchange, book.Symbol)
	}
	midF := mid.InexactFloat64()

	d.mu.Lock()
	defer d.mu.Unlock()

	if w, ok := d.windows[book.Exchange+"|"+book.Symbol]; ok && w.filled >= d.minFill {
		if mean, std := w.spreadStats(); std > 0 {
			if z := (spread - mean) / std; z >= d.spreadStd {
				return fmt.Errorf("anomaly: %s %s spread %.2f%% is %.1f std devs above its mean",
					book.Exchange, book.Symbol, spread, z)
			}
		}
		if peak := w.peak(); peak > 0 && midF < peak {
			if drop := (peak - midF) / peak * 100; drop >= d.flashCrashPct {
				return fmt.Errorf("anomaly: flash crash on %s %s, mid %.2f down %.2f%% from recent peak %.2f",
					book.Exchange, book.Symbol, midF, drop, peak)
			}
		}
	}

	if median, ok := d.crossMedianLocked(book.Symbol); ok && median > 0 {
		if dev := math.Abs(midF-median) / median * 100; dev > d.deviationPct {
			return fmt.Errorf("anomaly: %s %s mid %.2f deviates %.2f%% from cross-exchange median %.2f",
				book.Exchange, book.Symbol, midF, dev, median)
		}
	}
	return nil
}

// crossMedianLocked computes the median of the latest mids across
// exchanges for a symbol. Needs at least two venues to be meaningful.
func (d *AnomalyDetector) crossMedianLocked(symbol string) (float64, bool) {
	bySym, ok := d.latest[symbol]
	if !ok || len(bySym) < 2 {
		return 0, false
	}
	mids := make([]float64, 0, len(bySym))
	for _, m := range bySym {
		mids = append(mids, m)
	}
	sort.Float64s(mids)
	n := len(mids)
	if n%2 == 1 {
		return mids[n/2], true
	}
	return (mids[n/2-1] + mids[n/2]) / 2, true
}
