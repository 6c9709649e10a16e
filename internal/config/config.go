// Package config loads and validates application configuration from
// YAML files and ARBOT_-prefixed environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App        AppConfig                 `mapstructure:"app"`
	Database   DatabaseConfig            `mapstructure:"database"`
	Redis      RedisConfig               `mapstructure:"redis"`
	Exchanges  map[string]ExchangeConfig `mapstructure:"exchanges"`
	Market     MarketConfig              `mapstructure:"market"`
	Detector   DetectorConfig            `mapstructure:"detector"`
	Risk       RiskConfig                `mapstructure:"risk"`
	Execution  ExecutionConfig           `mapstructure:"execution"`
	Alerts     AlertsConfig              `mapstructure:"alerts"`
	API        APIConfig                 `mapstructure:"api"`
	Monitoring MonitoringConfig          `mapstructure:"monitoring"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"` // development, staging, production
	LogLevel    string `mapstructure:"log_level"`
	LogFormat   string `mapstructure:"log_format"` // "json" or "console"
}

// DatabaseConfig contains PostgreSQL settings. Password comes from the
// environment only (ARBOT_DATABASE_PASSWORD), never from file.
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"-"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
	PoolSize int    `mapstructure:"pool_size"`
	Enabled  bool   `mapstructure:"enabled"`
}

// RedisConfig contains Redis settings for the market data mirror.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"-"`
	DB       int    `mapstructure:"db"`
	Enabled  bool   `mapstructure:"enabled"`
}

// RateLimitConfig describes one exchange's request budget.
type RateLimitConfig struct {
	Kind      string  `mapstructure:"kind"` // "weight", "count", "token_bucket"
	Limit     int     `mapstructure:"limit"`
	WindowSec float64 `mapstructure:"window_sec"`
	Capacity  float64 `mapstructure:"capacity"`     // token_bucket only
	RefillPS  float64 `mapstructure:"refill_per_s"` // token_bucket only
}

// WebSocketConfig controls one exchange's stream reconnect policy.
type WebSocketConfig struct {
	ReconnectDelaySec    int `mapstructure:"reconnect_delay_s"`
	MaxReconnectAttempts int `mapstructure:"max_reconnect_attempts"`
}

// ReconnectDelay returns the base reconnect backoff as a duration.
func (c WebSocketConfig) ReconnectDelay() time.Duration {
	return time.Duration(c.ReconnectDelaySec) * time.Second
}

// ExchangeConfig contains per-exchange settings. Credentials are loaded
// from the environment only: ARBOT_EXCHANGES_<NAME>_API_KEY,
// _API_SECRET, and _PASSPHRASE.
type ExchangeConfig struct {
	Enabled    bool            `mapstructure:"enabled"`
	WSURL      string          `mapstructure:"ws_url"`
	RESTURL    string          `mapstructure:"rest_url"`
	Symbols    []string        `mapstructure:"symbols"`
	Depth      int             `mapstructure:"depth"`
	TakerFee   float64         `mapstructure:"taker_fee"`
	MakerFee   float64         `mapstructure:"maker_fee"`
	RateLimit  RateLimitConfig `mapstructure:"rate_limit"`
	WebSocket  WebSocketConfig `mapstructure:"websocket"`
	APIKey     string          `mapstructure:"-"`
	APISecret  string          `mapstructure:"-"`
	Passphrase string          `mapstructure:"-"`
	Testnet    bool            `mapstructure:"testnet"`
}

// MarketConfig contains shared market state settings.
type MarketConfig struct {
	StaleThresholdSeconds int `mapstructure:"stale_threshold_seconds"`
	MaxLatencyMS          int `mapstructure:"max_latency_ms"`
}

// SpatialConfig contains cross-exchange detector settings.
type SpatialConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	MinProfitPct   float64 `mapstructure:"min_profit_pct"`
	TradeSizeUSD   float64 `mapstructure:"trade_size_usd"`
	MinDepthRatio  float64 `mapstructure:"min_depth_ratio"`
	PairCooldownMS int     `mapstructure:"pair_cooldown_ms"`
}

// PairCooldown returns the per-(route, symbol) re-emission holdoff.
func (c SpatialConfig) PairCooldown() time.Duration {
	return time.Duration(c.PairCooldownMS) * time.Millisecond
}

// TriangularConfig contains single-exchange cycle detector settings.
type TriangularConfig struct {
	Enabled      bool       `mapstructure:"enabled"`
	MinProfitPct float64    `mapstructure:"min_profit_pct"`
	TradeSizeUSD float64    `mapstructure:"trade_size_usd"`
	Paths        [][]string `mapstructure:"paths"`
}

// DetectorConfig contains detector settings.
type DetectorConfig struct {
	Spatial          SpatialConfig    `mapstructure:"spatial"`
	Triangular       TriangularConfig `mapstructure:"triangular"`
	SignalTTLMS      int              `mapstructure:"signal_ttl_ms"`
	QueueSize        int              `mapstructure:"queue_size"`
	EvaluateInterval int              `mapstructure:"evaluate_interval_ms"`
}

// AnomalyConfig contains price anomaly detector settings.
type AnomalyConfig struct {
	MaxSpreadPct       float64 `mapstructure:"max_spread_pct"`
	PriceDeviationPct  float64 `mapstructure:"price_deviation_threshold_pct"`
	SpreadStdThreshold float64 `mapstructure:"spread_std_threshold"`
	FlashCrashPct      float64 `mapstructure:"flash_crash_pct"`
	WindowSize         int     `mapstructure:"window_size"`
	MinWindowFill      int     `mapstructure:"min_window_fill"`
}

// CircuitBreakerConfig contains loss circuit breaker settings.
type CircuitBreakerConfig struct {
	ConsecutiveLossLimit int     `mapstructure:"consecutive_loss_limit"`
	WarningThresholdPct  float64 `mapstructure:"warning_threshold_pct"`
	CooldownMinutes      int     `mapstructure:"cooldown_minutes"`
}

// RiskConfig contains the risk pipeline settings.
type RiskConfig struct {
	MaxPositionPerCoinUSD     float64              `mapstructure:"max_position_per_coin_usd"`
	MaxPositionPerExchangeUSD float64              `mapstructure:"max_position_per_exchange_usd"`
	MaxTotalExposureUSD       float64              `mapstructure:"max_total_exposure_usd"`
	MaxOpenSignals            int                  `mapstructure:"max_open_signals"`
	MaxDailyLossUSD           float64              `mapstructure:"max_daily_loss_usd"`
	MaxDailyLossPct           float64              `mapstructure:"max_daily_loss_pct"`
	MaxDrawdownPct            float64              `mapstructure:"max_drawdown_pct"`
	LimitWarningPct           float64              `mapstructure:"limit_warning_pct"`
	MinNotionalUSD            float64              `mapstructure:"min_notional_usd"`
	MinConfidence             float64              `mapstructure:"min_confidence"`
	Anomaly                   AnomalyConfig        `mapstructure:"anomaly"`
	CircuitBreaker            CircuitBreakerConfig `mapstructure:"circuit_breaker"`
}

// SlippageConfig contains the paper fill simulator slippage model.
type SlippageConfig struct {
	BasePct         float64 `mapstructure:"base_pct"`
	ImpactCoeff     float64 `mapstructure:"impact_coeff"`
	MaxPct          float64 `mapstructure:"max_pct"`
	PartialFillProb float64 `mapstructure:"partial_fill_prob"`
	MinFillRatio    float64 `mapstructure:"min_fill_ratio"`
}

// ExecutionConfig contains executor settings.
type ExecutionConfig struct {
	Mode              string         `mapstructure:"mode"` // "paper" or "live"
	InitialCapitalUSD float64        `mapstructure:"initial_capital_usd"`
	OrderTimeoutMS    int            `mapstructure:"order_timeout_ms"`
	MaxHedgeAttempts  int            `mapstructure:"max_hedge_attempts"`
	Slippage          SlippageConfig `mapstructure:"slippage"`
}

// AlertsConfig contains alerting settings. The Telegram bot token comes
// from ARBOT_ALERTS_TELEGRAM_TOKEN only.
type AlertsConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	TelegramChatID  int64  `mapstructure:"telegram_chat_id"`
	TelegramToken   string `mapstructure:"-"`
	ThrottleSeconds int    `mapstructure:"throttle_seconds"`
}

// APIConfig contains control API settings.
type APIConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// MonitoringConfig contains metrics settings.
type MonitoringConfig struct {
	PrometheusPort int  `mapstructure:"prometheus_port"`
	EnableMetrics  bool `mapstructure:"enable_metrics"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	// Enable environment variable overrides
	v.AutomaticEnv()
	v.SetEnvPrefix("ARBOT")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; using defaults and environment variables
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Credentials and passwords never live in files
	loadSecrets(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "arbot")
	v.SetDefault("app.version", "0.1.0")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.log_format", "json")

	// Database defaults
	v.SetDefault("database.enabled", true)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.database", "arbot")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.pool_size", 10)

	// Redis defaults
	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	// Market state defaults
	v.SetDefault("market.stale_threshold_seconds", 30)
	v.SetDefault("market.max_latency_ms", 1000)

	// Detector defaults
	v.SetDefault("detector.spatial.enabled", true)
	v.SetDefault("detector.spatial.min_profit_pct", 0.1)
	v.SetDefault("detector.spatial.trade_size_usd", 1000.0)
	v.SetDefault("detector.spatial.min_depth_ratio", 1.0)
	v.SetDefault("detector.spatial.pair_cooldown_ms", 10000)
	v.SetDefault("detector.triangular.enabled", true)
	v.SetDefault("detector.triangular.min_profit_pct", 0.15)
	v.SetDefault("detector.triangular.trade_size_usd", 1000.0)
	v.SetDefault("detector.signal_ttl_ms", 2000)
	v.SetDefault("detector.queue_size", 256)
	v.SetDefault("detector.evaluate_interval_ms", 100)

	// Risk defaults
	v.SetDefault("risk.max_position_per_coin_usd", 5000.0)
	v.SetDefault("risk.max_position_per_exchange_usd", 10000.0)
	v.SetDefault("risk.max_total_exposure_usd", 20000.0)
	v.SetDefault("risk.max_open_signals", 3)
	v.SetDefault("risk.max_daily_loss_usd", 500.0)
	v.SetDefault("risk.max_daily_loss_pct", 1.0)
	v.SetDefault("risk.max_drawdown_pct", 10.0)
	v.SetDefault("risk.limit_warning_pct", 70.0)
	v.SetDefault("risk.min_notional_usd", 100.0)
	v.SetDefault("risk.min_confidence", 0.3)
	v.SetDefault("risk.anomaly.max_spread_pct", 5.0)
	v.SetDefault("risk.anomaly.price_deviation_threshold_pct", 10.0)
	v.SetDefault("risk.anomaly.spread_std_threshold", 3.0)
	v.SetDefault("risk.anomaly.flash_crash_pct", 10.0)
	v.SetDefault("risk.anomaly.window_size", 100)
	v.SetDefault("risk.anomaly.min_window_fill", 10)
	v.SetDefault("risk.circuit_breaker.consecutive_loss_limit", 10)
	v.SetDefault("risk.circuit_breaker.warning_threshold_pct", 70.0)
	v.SetDefault("risk.circuit_breaker.cooldown_minutes", 30)

	// Execution defaults
	v.SetDefault("execution.mode", "paper")
	v.SetDefault("execution.initial_capital_usd", 10000.0)
	v.SetDefault("execution.order_timeout_ms", 5000)
	v.SetDefault("execution.max_hedge_attempts", 3)
	v.SetDefault("execution.slippage.base_pct", 0.02)
	v.SetDefault("execution.slippage.impact_coeff", 0.1)
	v.SetDefault("execution.slippage.max_pct", 0.5)
	v.SetDefault("execution.slippage.partial_fill_prob", 0.1)
	v.SetDefault("execution.slippage.min_fill_ratio", 0.3)

	// Alerts defaults
	v.SetDefault("alerts.enabled", false)
	v.SetDefault("alerts.throttle_seconds", 60)

	// API defaults
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8081)

	// Monitoring defaults
	v.SetDefault("monitoring.prometheus_port", 9100)
	v.SetDefault("monitoring.enable_metrics", true)

	// Exchange defaults: Binance weight budget, Bybit/OKX count windows
	v.SetDefault("exchanges.binance.enabled", true)
	v.SetDefault("exchanges.binance.ws_url", "wss://stream.binance.com:9443/ws")
	v.SetDefault("exchanges.binance.rest_url", "https://api.binance.com")
	v.SetDefault("exchanges.binance.symbols", []string{"BTC/USDT", "ETH/USDT"})
	v.SetDefault("exchanges.binance.depth", 20)
	v.SetDefault("exchanges.binance.taker_fee", 0.001)
	v.SetDefault("exchanges.binance.maker_fee", 0.001)
	v.SetDefault("exchanges.binance.rate_limit.kind", "weight")
	v.SetDefault("exchanges.binance.rate_limit.limit", 1200)
	v.SetDefault("exchanges.binance.rate_limit.window_sec", 60)
	v.SetDefault("exchanges.binance.websocket.reconnect_delay_s", 5)
	v.SetDefault("exchanges.binance.websocket.max_reconnect_attempts", 10)

	v.SetDefault("exchanges.bybit.enabled", true)
	v.SetDefault("exchanges.bybit.ws_url", "wss://stream.bybit.com/v5/public/spot")
	v.SetDefault("exchanges.bybit.rest_url", "https://api.bybit.com")
	v.SetDefault("exchanges.bybit.symbols", []string{"BTC/USDT", "ETH/USDT"})
	v.SetDefault("exchanges.bybit.depth", 20)
	v.SetDefault("exchanges.bybit.taker_fee", 0.001)
	v.SetDefault("exchanges.bybit.maker_fee", 0.001)
	v.SetDefault("exchanges.bybit.rate_limit.kind", "count")
	v.SetDefault("exchanges.bybit.rate_limit.limit", 600)
	v.SetDefault("exchanges.bybit.rate_limit.window_sec", 5)
	v.SetDefault("exchanges.bybit.websocket.reconnect_delay_s", 5)
	v.SetDefault("exchanges.bybit.websocket.max_reconnect_attempts", 10)

	v.SetDefault("exchanges.okx.enabled", true)
	v.SetDefault("exchanges.okx.ws_url", "wss://ws.okx.com:8443/ws/v5/public")
	v.SetDefault("exchanges.okx.rest_url", "https://www.okx.com")
	v.SetDefault("exchanges.okx.symbols", []string{"BTC/USDT", "ETH/USDT"})
	v.SetDefault("exchanges.okx.depth", 20)
	v.SetDefault("exchanges.okx.taker_fee", 0.001)
	v.SetDefault("exchanges.okx.maker_fee", 0.0008)
	v.SetDefault("exchanges.okx.rate_limit.kind", "count")
	v.SetDefault("exchanges.okx.rate_limit.limit", 20)
	v.SetDefault("exchanges.okx.rate_limit.window_sec", 2)
	v.SetDefault("exchanges.okx.websocket.reconnect_delay_s", 5)
	v.SetDefault("exchanges.okx.websocket.max_reconnect_attempts", 10)
}

// GetDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// GetRedisAddr returns the Redis address
func (c *RedisConfig) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GetAPIAddr returns the control API listen address
func (c *APIConfig) GetAPIAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// StaleThreshold returns the market staleness cutoff as a duration.
func (c *MarketConfig) StaleThreshold() time.Duration {
	return time.Duration(c.StaleThresholdSeconds) * time.Second
}

// MaxLatency returns the event-to-ingress latency cutoff.
func (c *MarketConfig) MaxLatency() time.Duration {
	return time.Duration(c.MaxLatencyMS) * time.Millisecond
}

// SignalTTL returns the detector signal time-to-live.
func (c *DetectorConfig) SignalTTL() time.Duration {
	return time.Duration(c.SignalTTLMS) * time.Millisecond
}

// OrderTimeout returns the live order timeout as a duration.
func (c *ExecutionConfig) OrderTimeout() time.Duration {
	return time.Duration(c.OrderTimeoutMS) * time.Millisecond
}

// Cooldown returns the circuit breaker cooldown as a duration.
func (c *CircuitBreakerConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownMinutes) * time.Minute
}
