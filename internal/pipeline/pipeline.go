// Package pipeline wires the stages together: connectors feed the
// shared market state, detectors scan it on a timer, the risk manager
// gates the signal queue, and the executor's results flow into the
// ledger. Stages are errgroup-supervised; one fatal stage stops all.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/arbot-io/arbot/internal/alerts"
	"github.com/arbot-io/arbot/internal/api"
	"github.com/arbot-io/arbot/internal/config"
	"github.com/arbot-io/arbot/internal/connector"
	"github.com/arbot-io/arbot/internal/detector"
	"github.com/arbot-io/arbot/internal/execution"
	"github.com/arbot-io/arbot/internal/ledger"
	"github.com/arbot-io/arbot/internal/market"
	"github.com/arbot-io/arbot/internal/metrics"
	"github.com/arbot-io/arbot/internal/models"
	"github.com/arbot-io/arbot/internal/risk"
)

// SignalStore persists signal lifecycle records; nil disables it.
type SignalStore interface {
	InsertSignal(ctx context.Context, sig *models.Signal) error
	UpdateSignalStatus(ctx context.Context, id string, status models.SignalStatus, reason string) error
}

// EventStore persists operational markers such as the emergency-stop
// record. Implemented by the Postgres store alongside SignalStore.
type EventStore interface {
	RecordSystemEvent(ctx context.Context, kind, detail string) error
}

// Canceller is implemented by the live executor; the paper executor has
// nothing to cancel.
type Canceller interface {
	CancelAll(ctx context.Context) int
}

// Pipeline owns the runtime stages and implements api.Controller.
type Pipeline struct {
	cfgStore  *config.Store
	registry  *connector.Registry
	state     *market.State
	cache     *market.RedisCache // optional mirror
	queue     *detector.Queue
	risk      *risk.Manager
	executor  execution.Executor
	ledger    *ledger.Ledger
	stats     *ledger.PipelineStats
	alerter   *alerts.Manager
	signals   SignalStore
	books     chan *models.OrderBook
	fees      map[string]decimal.Decimal
	log       zerolog.Logger
	startedAt time.Time

	// detectors are rebuilt on config reload; stageMu keeps the scan
	// loop off a half-swapped pair
	stageMu sync.RWMutex
	spatial *detector.SpatialDetector
	tri     *detector.TriangularDetector

	running atomic.Bool
	cancel  context.CancelFunc
}

// Options collects the pre-built stages.
type Options struct {
	ConfigStore *config.Store
	Registry    *connector.Registry
	State       *market.State
	Cache       *market.RedisCache
	Spatial     *detector.SpatialDetector
	Triangular  *detector.TriangularDetector
	Queue       *detector.Queue
	Risk        *risk.Manager
	Executor    execution.Executor
	Ledger      *ledger.Ledger
	Alerter     *alerts.Manager
	Signals     SignalStore
	Books       chan *models.OrderBook
	Fees        map[string]decimal.Decimal // taker fee per exchange, for detector rebuilds
	Log         zerolog.Logger
}

// New assembles a pipeline from its stages.
func New(opts Options) *Pipeline {
	return &Pipeline{
		cfgStore: opts.ConfigStore,
		registry: opts.Registry,
		state:    opts.State,
		cache:    opts.Cache,
		spatial:  opts.Spatial,
		tri:      opts.Triangular,
		queue:    opts.Queue,
		risk:     opts.Risk,
		executor: opts.Executor,
		ledger:   opts.Ledger,
		stats:    ledger.NewPipelineStats(),
		alerter:  opts.Alerter,
		signals:  opts.Signals,
		books:    opts.Books,
		fees:     opts.Fees,
		log:      opts.Log.With().Str("component", "pipeline").Logger(),
	}
}

// Run blocks until the context is cancelled or a stage fails fatally.
func (p *Pipeline) Run(ctx context.Context) error {
	ctx, p.cancel = context.WithCancel(ctx)
	defer p.cancel()

	p.startedAt = time.Now()
	p.running.Store(true)
	defer p.running.Store(false)

	g, gctx := errgroup.WithContext(ctx)

	if p.registry != nil {
		g.Go(func() error { return p.registry.Run(gctx) })
	}
	g.Go(func() error { return p.feedLoop(gctx) })
	g.Go(func() error { return p.detectLoop(gctx) })
	g.Go(func() error { return p.executeLoop(gctx) })

	p.log.Info().
		Str("mode", string(p.executor.Mode())).
		Strs("exchanges", p.exchangeNames()).
		Msg("Pipeline started")

	err := g.Wait()
	p.log.Info().Err(err).Msg("Pipeline stopped")
	if err != nil && err != context.Canceled {
		return fmt.Errorf("pipeline: %w", err)
	}
	return nil
}

// feedLoop drains connector books into the market state, feeds the
// anomaly window, and mirrors to Redis when configured.
func (p *Pipeline) feedLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case book, ok := <-p.books:
			if !ok {
				return nil
			}
			if !p.state.Put(book) {
				continue
			}
			p.risk.Anomaly.Observe(book)
			if p.cache != nil {
				if err := p.cache.Mirror(ctx, book); err != nil {
					p.log.Debug().Err(err).Msg("Redis mirror failed")
				}
			}
		}
	}
}

// detectLoop scans the market state on the evaluate interval and pushes
// emitted signals into the bounded queue.
func (p *Pipeline) detectLoop(ctx context.Context) error {
	cfg := p.cfgStore.Get()
	interval := time.Duration(cfg.Detector.EvaluateInterval) * time.Millisecond
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.scanOnce(ctx)
		}
	}
}

func (p *Pipeline) scanOnce(ctx context.Context) {
	cfg := p.cfgStore.Get()

	p.stageMu.RLock()
	spatial, tri := p.spatial, p.tri
	p.stageMu.RUnlock()

	if cfg.Detector.Spatial.Enabled && spatial != nil {
		for _, symbol := range p.state.Symbols() {
			if sig := spatial.Scan(symbol); sig != nil {
				p.emit(ctx, sig)
			}
		}
	}
	if cfg.Detector.Triangular.Enabled && tri != nil {
		for _, exchange := range p.exchangeNames() {
			if sig := tri.Scan(exchange); sig != nil {
				p.emit(ctx, sig)
			}
		}
	}
}

func (p *Pipeline) emit(ctx context.Context, sig *models.Signal) {
	p.stats.Detected()
	if p.signals != nil {
		if err := p.signals.InsertSignal(ctx, sig); err != nil {
			p.log.Warn().Err(err).Str("signal_id", sig.ID).Msg("Signal persist failed")
		}
	}
	p.queue.Push(sig)
}

// executeLoop pops approved signals through risk into the executor and
// folds results into the ledger.
func (p *Pipeline) executeLoop(ctx context.Context) error {
	for {
		sig := p.queue.Pop()
		if sig == nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-p.queue.Wait():
				continue
			}
		}
		p.process(ctx, sig)
	}
}

// exchangeNames tolerates a nil registry so tests can run the pipeline
// against pre-seeded state without live connectors.
func (p *Pipeline) exchangeNames() []string {
	if p.registry == nil {
		return nil
	}
	return p.registry.Names()
}

func (p *Pipeline) process(ctx context.Context, sig *models.Signal) {
	if err := p.risk.Check(sig); err != nil {
		p.stats.Rejected(metrics.NormalizeRejection(err.Error()))
		p.persistStatus(ctx, sig)
		return
	}
	p.stats.Approved()
	p.risk.Reserve(sig)

	result, err := p.executor.Execute(ctx, sig)
	if err != nil {
		p.stats.Failed()
		if result == nil {
			p.risk.ReleaseUntraded(sig.ID)
		} else {
			p.risk.Release(sig.ID, pnlOf(result))
		}
		p.log.Error().Err(err).Str("signal_id", sig.ID).Msg("Execution failed")
		p.alertExecutionFailure(ctx, sig, err)
		p.persistStatus(ctx, sig)
		return
	}

	switch sig.Status {
	case models.SignalMissed:
		// no leg filled: the spread was gone by the time orders landed.
		// Nothing traded, so neither the breaker nor the drawdown
		// monitor hears about it.
		p.stats.Missed()
		p.risk.ReleaseUntraded(sig.ID)
		p.persistStatus(ctx, sig)
		return
	case models.SignalFailed:
		p.stats.Failed()
		p.alertExecutionFailure(ctx, sig, fmt.Errorf("%s", result.Reason))
	default:
		p.stats.Executed()
	}

	p.risk.Release(sig.ID, result.RealizedPnL)
	p.persistStatus(ctx, sig)

	if err := p.ledger.RecordTrade(ctx, result); err != nil {
		p.log.Error().Err(err).Str("signal_id", sig.ID).Msg("Ledger record failed")
	}
	p.afterTrade(ctx, result)
}

// afterTrade refreshes equity marks and fires breaker state alerts.
func (p *Pipeline) afterTrade(ctx context.Context, result *models.TradeResult) {
	if paper, ok := p.executor.(*execution.PaperExecutor); ok {
		p.risk.Drawdown.SetEquity(paper.EquityUSD())
	}

	state := p.risk.Breaker.State()
	switch state {
	case risk.BreakerTriggered:
		p.alerter.Critical(ctx, alerts.CategoryCircuitBreaker, "loss_breaker",
			"Circuit breaker triggered",
			fmt.Sprintf("%d consecutive losses, trading paused", p.risk.Breaker.Losses()),
			map[string]any{"consecutive_losses": p.risk.Breaker.Losses()})
	case risk.BreakerWarning:
		p.alerter.Warning(ctx, alerts.CategoryCircuitBreaker, "loss_breaker",
			"Circuit breaker warning",
			fmt.Sprintf("%d consecutive losses, sizing halved", p.risk.Breaker.Losses()),
			map[string]any{"consecutive_losses": p.risk.Breaker.Losses()})
	}

	if result.RealizedPnL.Sign() < 0 {
		dd := p.risk.Drawdown.DrawdownPct()
		maxDD := p.cfgStore.Get().Risk.MaxDrawdownPct
		if dd.InexactFloat64() >= maxDD*0.8 {
			p.alerter.Warning(ctx, alerts.CategoryDrawdown, "drawdown",
				"Drawdown approaching limit",
				fmt.Sprintf("drawdown %s%% of %.1f%% limit", dd.StringFixed(2), maxDD),
				map[string]any{"drawdown_pct": dd.InexactFloat64()})
		}
	}
}

func (p *Pipeline) alertExecutionFailure(ctx context.Context, sig *models.Signal, err error) {
	p.alerter.Critical(ctx, alerts.CategoryExecution, sig.Symbol,
		"Execution failed",
		fmt.Sprintf("%s %s: %v", sig.Strategy, sig.Symbol, err),
		map[string]any{"signal_id": sig.ID})
}

func (p *Pipeline) persistStatus(ctx context.Context, sig *models.Signal) {
	if p.signals == nil {
		return
	}
	if err := p.signals.UpdateSignalStatus(ctx, sig.ID, sig.Status, sig.Reason); err != nil {
		p.log.Warn().Err(err).Str("signal_id", sig.ID).Msg("Signal status persist failed")
	}
}

func pnlOf(result *models.TradeResult) decimal.Decimal {
	if result != nil {
		return result.RealizedPnL
	}
	return decimal.Zero
}

var _ api.Controller = (*Pipeline)(nil)
