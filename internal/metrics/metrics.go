// Package metrics defines the Prometheus instrumentation for the
// arbitrage engine and serves it over HTTP.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Bounded cardinality constants for metric labels. Rejection reasons and
// error categories are normalized to these sets so label values never grow
// without bound.
const (
	// Signal rejection reasons (bounded set)
	RejectPositionLimit  = "position_limit"
	RejectExposureLimit  = "exposure_limit"
	RejectDailyLoss      = "daily_loss"
	RejectDrawdown       = "drawdown"
	RejectAnomaly        = "anomaly"
	RejectCircuitBreaker = "circuit_breaker"
	RejectLowConfidence  = "low_confidence"
	RejectStaleData      = "stale_data"
	RejectExpired        = "expired"
	RejectOther          = "other"

	// Exchange API error categories (bounded set)
	ExchangeErrorTimeout     = "timeout"
	ExchangeErrorRateLimit   = "rate_limit"
	ExchangeErrorAuth        = "authentication"
	ExchangeErrorNetwork     = "network"
	ExchangeErrorInvalidReq  = "invalid_request"
	ExchangeErrorServerError = "server_error"
	ExchangeErrorOther       = "other"
)

// NormalizeRejection maps arbitrary rejection reasons to the bounded set
func NormalizeRejection(reason string) string {
	lower := strings.ToLower(reason)
	switch {
	case strings.Contains(lower, "position"):
		return RejectPositionLimit
	case strings.Contains(lower, "exposure"):
		return RejectExposureLimit
	case strings.Contains(lower, "daily"):
		return RejectDailyLoss
	case strings.Contains(lower, "drawdown"):
		return RejectDrawdown
	case strings.Contains(lower, "anomaly") || strings.Contains(lower, "spread") || strings.Contains(lower, "deviation"):
		return RejectAnomaly
	case strings.Contains(lower, "breaker") || strings.Contains(lower, "halt"):
		return RejectCircuitBreaker
	case strings.Contains(lower, "confidence"):
		return RejectLowConfidence
	case strings.Contains(lower, "stale") || strings.Contains(lower, "latency"):
		return RejectStaleData
	case strings.Contains(lower, "expired") || strings.Contains(lower, "ttl"):
		return RejectExpired
	default:
		return RejectOther
	}
}

// NormalizeExchangeError maps arbitrary error messages to the bounded set
func NormalizeExchangeError(err error) string {
	if err == nil {
		return ""
	}
	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline"):
		return ExchangeErrorTimeout
	case strings.Contains(errStr, "rate") || strings.Contains(errStr, "429"):
		return ExchangeErrorRateLimit
	case strings.Contains(errStr, "auth") || strings.Contains(errStr, "401") || strings.Contains(errStr, "403"):
		return ExchangeErrorAuth
	case strings.Contains(errStr, "network") || strings.Contains(errStr, "connection"):
		return ExchangeErrorNetwork
	case strings.Contains(errStr, "400") || strings.Contains(errStr, "invalid"):
		return ExchangeErrorInvalidReq
	case strings.Contains(errStr, "500") || strings.Contains(errStr, "502") || strings.Contains(errStr, "503"):
		return ExchangeErrorServerError
	default:
		return ExchangeErrorOther
	}
}

// Market data metrics
var (
	OrderBookUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arbot_orderbook_updates_total",
		Help: "Order book updates applied, by exchange and symbol",
	}, []string{"exchange", "symbol"})

	OrderBookLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "arbot_orderbook_latency_ms",
		Help:    "Event-to-ingress latency of order book updates in milliseconds",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
	}, []string{"exchange"})

	StaleBooks = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "arbot_stale_books",
		Help: "Books currently considered stale, by exchange",
	}, []string{"exchange"})

	WSReconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arbot_ws_reconnects_total",
		Help: "Websocket reconnect attempts, by exchange",
	}, []string{"exchange"})

	ConnectorState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "arbot_connector_state",
		Help: "Connector state (0=disconnected 1=connecting 2=subscribed 3=streaming 4=reconnecting 5=degraded 6=closed)",
	}, []string{"exchange"})
)

// Detection metrics
var (
	SignalsGenerated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arbot_signals_generated_total",
		Help: "Signals emitted by detectors, by strategy",
	}, []string{"strategy"})

	SignalsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arbot_signals_dropped_total",
		Help: "Signals dropped under backpressure, by strategy",
	}, []string{"strategy"})

	DetectionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "arbot_detection_duration_ms",
		Help:    "Duration of one detector evaluation pass in milliseconds",
		Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 25, 50, 100},
	}, []string{"strategy"})

	SpreadObserved = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "arbot_spread_pct",
		Help: "Best observed cross-exchange spread percent, by symbol",
	}, []string{"symbol"})
)

// Risk metrics
var (
	SignalsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arbot_signals_rejected_total",
		Help: "Signals rejected by the risk pipeline, by normalized reason",
	}, []string{"reason"})

	RiskLimitWarnings = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arbot_risk_limit_warnings_total",
		Help: "Approvals whose projected exposure crossed the warning fraction of a limit",
	}, []string{"limit"})

	CircuitBreakerState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "arbot_circuit_breaker_state",
		Help: "Loss circuit breaker state (0=normal 1=warning 2=triggered)",
	})

	ConsecutiveLosses = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "arbot_consecutive_losses",
		Help: "Current consecutive loss count",
	})

	DrawdownPct = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "arbot_drawdown_pct",
		Help: "Current drawdown from the equity high-water mark, percent",
	})

	TransportBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "arbot_transport_breaker_state",
		Help: "Per-exchange transport circuit breaker state (0=closed 1=half-open 2=open)",
	}, []string{"exchange"})
)

// Execution metrics
var (
	TradesExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arbot_trades_executed_total",
		Help: "Completed trade executions, by strategy and result",
	}, []string{"strategy", "result"})

	OrdersPlaced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arbot_orders_placed_total",
		Help: "Orders placed, by exchange and side",
	}, []string{"exchange", "side"})

	HedgesPlaced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arbot_hedges_placed_total",
		Help: "Counter-orders placed to flatten partial-fill imbalances",
	}, []string{"exchange"})

	ExecutionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "arbot_execution_duration_ms",
		Help:    "Signal-to-completion execution latency in milliseconds",
		Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
	}, []string{"mode"})

	ExchangeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arbot_exchange_errors_total",
		Help: "Exchange API errors, by exchange and normalized category",
	}, []string{"exchange", "category"})
)

// Portfolio metrics
var (
	TotalPnL = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "arbot_total_pnl_usd",
		Help: "Realized profit and loss in USD since start",
	})

	DailyPnL = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "arbot_daily_pnl_usd",
		Help: "Realized profit and loss in USD since 00:00 UTC",
	})

	EquityUSD = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "arbot_equity_usd",
		Help: "Current portfolio equity valuation in USD",
	})

	WinRate = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "arbot_win_rate",
		Help: "Win rate as a ratio (0.0 to 1.0)",
	})

	OpenExposureUSD = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "arbot_open_exposure_usd",
		Help: "Notional value of in-flight executions in USD",
	})
)
