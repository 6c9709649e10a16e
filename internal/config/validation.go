package config

import (
	"fmt"
	"strings"
)

// Validate checks the configuration for values that would make the
// engine misbehave rather than merely perform badly.
func (c *Config) Validate() error {
	var errs []string

	switch c.App.Environment {
	case "development", "staging", "production":
	default:
		errs = append(errs, fmt.Sprintf("app.environment %q must be development, staging or production", c.App.Environment))
	}

	switch c.Execution.Mode {
	case "paper", "live":
	default:
		errs = append(errs, fmt.Sprintf("execution.mode %q must be paper or live", c.Execution.Mode))
	}
	if c.Execution.InitialCapitalUSD <= 0 {
		errs = append(errs, "execution.initial_capital_usd must be positive")
	}
	if c.Execution.Slippage.MinFillRatio < 0 || c.Execution.Slippage.MinFillRatio > 1 {
		errs = append(errs, "execution.slippage.min_fill_ratio must be in [0,1]")
	}
	if c.Execution.Slippage.PartialFillProb < 0 || c.Execution.Slippage.PartialFillProb > 1 {
		errs = append(errs, "execution.slippage.partial_fill_prob must be in [0,1]")
	}

	if c.Market.StaleThresholdSeconds <= 0 {
		errs = append(errs, "market.stale_threshold_seconds must be positive")
	}
	if c.Market.MaxLatencyMS <= 0 {
		errs = append(errs, "market.max_latency_ms must be positive")
	}

	if c.Detector.SignalTTLMS <= 0 {
		errs = append(errs, "detector.signal_ttl_ms must be positive")
	}
	if c.Detector.QueueSize <= 0 {
		errs = append(errs, "detector.queue_size must be positive")
	}
	if c.Detector.Spatial.Enabled && c.Detector.Spatial.TradeSizeUSD <= 0 {
		errs = append(errs, "detector.spatial.trade_size_usd must be positive")
	}
	if c.Detector.Triangular.Enabled && c.Detector.Triangular.TradeSizeUSD <= 0 {
		errs = append(errs, "detector.triangular.trade_size_usd must be positive")
	}
	for i, path := range c.Detector.Triangular.Paths {
		if len(path) != 3 {
			errs = append(errs, fmt.Sprintf("detector.triangular.paths[%d] must list exactly 3 symbols", i))
		}
	}

	if c.Risk.MaxPositionPerCoinUSD <= 0 {
		errs = append(errs, "risk.max_position_per_coin_usd must be positive")
	}
	if c.Risk.MaxPositionPerExchangeUSD < c.Risk.MaxPositionPerCoinUSD {
		errs = append(errs, "risk.max_position_per_exchange_usd must be >= risk.max_position_per_coin_usd")
	}
	if c.Risk.MaxTotalExposureUSD < c.Risk.MaxPositionPerCoinUSD {
		errs = append(errs, "risk.max_total_exposure_usd must be >= risk.max_position_per_coin_usd")
	}
	if c.Risk.MaxDailyLossUSD <= 0 {
		errs = append(errs, "risk.max_daily_loss_usd must be positive")
	}
	if c.Risk.MaxDailyLossPct <= 0 || c.Risk.MaxDailyLossPct > 100 {
		errs = append(errs, "risk.max_daily_loss_pct must be in (0,100]")
	}
	if c.Risk.MaxDrawdownPct <= 0 || c.Risk.MaxDrawdownPct > 100 {
		errs = append(errs, "risk.max_drawdown_pct must be in (0,100]")
	}
	if c.Risk.LimitWarningPct <= 0 || c.Risk.LimitWarningPct >= 100 {
		errs = append(errs, "risk.limit_warning_pct must be in (0,100)")
	}
	if c.Risk.MinNotionalUSD < 0 {
		errs = append(errs, "risk.min_notional_usd must not be negative")
	}
	if c.Risk.CircuitBreaker.ConsecutiveLossLimit <= 0 {
		errs = append(errs, "risk.circuit_breaker.consecutive_loss_limit must be positive")
	}
	if c.Risk.CircuitBreaker.WarningThresholdPct <= 0 || c.Risk.CircuitBreaker.WarningThresholdPct >= 100 {
		errs = append(errs, "risk.circuit_breaker.warning_threshold_pct must be in (0,100)")
	}

	enabled := 0
	for name, ex := range c.Exchanges {
		if !ex.Enabled {
			continue
		}
		enabled++
		if ex.WSURL == "" {
			errs = append(errs, fmt.Sprintf("exchanges.%s.ws_url is required", name))
		}
		if len(ex.Symbols) == 0 {
			errs = append(errs, fmt.Sprintf("exchanges.%s.symbols must not be empty", name))
		}
		if ex.TakerFee < 0 || ex.TakerFee > 0.1 {
			errs = append(errs, fmt.Sprintf("exchanges.%s.taker_fee %v out of range", name, ex.TakerFee))
		}
		if ex.WebSocket.ReconnectDelaySec <= 0 {
			errs = append(errs, fmt.Sprintf("exchanges.%s.websocket.reconnect_delay_s must be positive", name))
		}
		if ex.WebSocket.MaxReconnectAttempts <= 0 {
			errs = append(errs, fmt.Sprintf("exchanges.%s.websocket.max_reconnect_attempts must be positive", name))
		}
		switch ex.RateLimit.Kind {
		case "weight", "count":
			if ex.RateLimit.Limit <= 0 || ex.RateLimit.WindowSec <= 0 {
				errs = append(errs, fmt.Sprintf("exchanges.%s.rate_limit needs positive limit and window", name))
			}
		case "token_bucket":
			if ex.RateLimit.Capacity <= 0 || ex.RateLimit.RefillPS <= 0 {
				errs = append(errs, fmt.Sprintf("exchanges.%s.rate_limit needs positive capacity and refill", name))
			}
		default:
			errs = append(errs, fmt.Sprintf("exchanges.%s.rate_limit.kind %q unknown", name, ex.RateLimit.Kind))
		}
		if c.Execution.Mode == "live" && !ex.HasCredentials() {
			errs = append(errs, fmt.Sprintf("exchanges.%s: live mode requires API credentials in the environment", name))
		}
	}
	if c.Detector.Spatial.Enabled && enabled < 2 {
		errs = append(errs, "spatial detection requires at least 2 enabled exchanges")
	}
	if enabled == 0 {
		errs = append(errs, "at least one exchange must be enabled")
	}

	if c.Alerts.Enabled && c.Alerts.TelegramToken == "" {
		errs = append(errs, "alerts enabled but ARBOT_ALERTS_TELEGRAM_TOKEN is not set")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
