package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/arbot-io/arbot/internal/api"
	"github.com/arbot-io/arbot/internal/detector"
	"github.com/arbot-io/arbot/internal/execution"
	"github.com/arbot-io/arbot/internal/risk"
)

// reloadableSections always take effect on a successful reload; the
// rest need a restart and come back in the skipped list.
var reloadableSections = []string{
	"detector", "risk", "execution.slippage", "alerts", "app.log_level",
}

// Status implements api.Controller.
func (p *Pipeline) Status() api.Status {
	cfg := p.cfgStore.Get()
	halted, _ := p.risk.Halted()

	connectors := make(map[string]string)
	if p.registry != nil {
		for _, st := range p.registry.Stats() {
			connectors[st.Exchange] = st.State
		}
	}

	perf := p.ledger.TodayPerformance()
	status := api.Status{
		App:        cfg.App.Name,
		Version:    cfg.App.Version,
		Mode:       string(p.executor.Mode()),
		Running:    p.running.Load(),
		Halted:     halted,
		Connectors: connectors,
		Breaker: api.BreakerStatus{
			State:             p.risk.Breaker.State().String(),
			ConsecutiveLosses: p.risk.Breaker.Losses(),
		},
		PnL: api.PnLStatus{
			TotalUSD:    p.ledger.RealizedPnL().StringFixed(2),
			DailyUSD:    perf.NetPnL.StringFixed(2),
			WinRate:     p.ledger.WinRate().StringFixed(4),
			EquityUSD:   p.risk.Drawdown.Equity().StringFixed(2),
			DrawdownPct: p.risk.Drawdown.DrawdownPct().StringFixed(2),
		},
		Pipeline: p.stats.Snapshot(),
	}
	if !p.startedAt.IsZero() {
		status.UptimeSec = int64(time.Since(p.startedAt).Seconds())
	}
	return status
}

// Stop implements api.Controller: graceful shutdown, letting in-flight
// executions drain via context cancellation downstream.
func (p *Pipeline) Stop(_ context.Context) error {
	if !p.running.Load() {
		return fmt.Errorf("pipeline not running")
	}
	p.risk.Halt("operator stop")
	if p.cancel != nil {
		p.cancel()
	}
	return nil
}

// EmergencyStop implements api.Controller: halt approvals, cancel every
// working order, persist the stop marker, then tear the pipeline down.
// The marker survives the process so an operator restarting the bot can
// see it went down on purpose.
func (p *Pipeline) EmergencyStop(ctx context.Context) error {
	p.risk.Halt("emergency stop")

	if canceller, ok := p.executor.(Canceller); ok {
		canceled := canceller.CancelAll(ctx)
		p.log.Warn().Int("canceled", canceled).Msg("Emergency stop canceled working orders")
	}
	if events, ok := p.signals.(EventStore); ok {
		if err := events.RecordSystemEvent(ctx, "emergency_stop", "operator request"); err != nil {
			p.log.Error().Err(err).Msg("Emergency stop marker persist failed")
		}
	}
	if p.cancel != nil {
		p.cancel()
	}
	return nil
}

// ResetBreaker implements api.Controller. Only a TRIGGERED breaker can
// be reset; resetting a healthy breaker is an operator mistake worth
// surfacing.
func (p *Pipeline) ResetBreaker(reason string) error {
	state := p.risk.Breaker.State()
	if state != risk.BreakerTriggered {
		return fmt.Errorf("breaker is %s, nothing to reset", state)
	}
	p.risk.Breaker.Reset(reason)
	return nil
}

// ReloadConfig implements api.Controller. Components that copy
// thresholds at construction are rebuilt or pushed the new values here;
// a reload that only swapped the snapshot would change nothing.
func (p *Pipeline) ReloadConfig() ([]string, []string, error) {
	skipped, err := p.cfgStore.Reload()
	if err != nil {
		return nil, nil, err
	}
	cfg := p.cfgStore.Get()

	tri, err := detector.NewTriangularDetector(p.state, cfg.Detector.Triangular,
		cfg.Detector.SignalTTL(), p.fees, p.log)
	if err != nil {
		return nil, nil, fmt.Errorf("rebuild triangular detector: %w", err)
	}
	spatial := detector.NewSpatialDetector(p.state, cfg.Detector.Spatial,
		cfg.Detector.SignalTTL(), p.fees, p.log)

	p.stageMu.Lock()
	p.spatial = spatial
	p.tri = tri
	p.stageMu.Unlock()

	p.risk.ApplyConfig(cfg.Risk)
	if paper, ok := p.executor.(*execution.PaperExecutor); ok {
		paper.SetSlippage(cfg.Execution.Slippage)
	}
	p.alerter.SetThrottle(time.Duration(cfg.Alerts.ThrottleSeconds) * time.Second)
	if level, perr := zerolog.ParseLevel(strings.ToLower(cfg.App.LogLevel)); perr == nil {
		zerolog.SetGlobalLevel(level)
	}

	p.log.Info().Strs("skipped", skipped).Msg("Config reloaded")
	return reloadableSections, skipped, nil
}
