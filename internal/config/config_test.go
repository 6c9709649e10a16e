package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "arbot", cfg.App.Name)
	assert.Equal(t, "paper", cfg.Execution.Mode)
	assert.Equal(t, 30, cfg.Market.StaleThresholdSeconds)
	assert.Equal(t, 10, cfg.Risk.CircuitBreaker.ConsecutiveLossLimit)
	assert.Equal(t, 70.0, cfg.Risk.CircuitBreaker.WarningThresholdPct)

	bn, ok := cfg.Exchanges["binance"]
	require.True(t, ok)
	assert.Equal(t, "weight", bn.RateLimit.Kind)
	assert.Equal(t, 1200, bn.RateLimit.Limit)
	assert.Equal(t, 5, bn.WebSocket.ReconnectDelaySec)
	assert.Equal(t, 10, bn.WebSocket.MaxReconnectAttempts)

	ok2 := cfg.Exchanges["okx"]
	assert.Equal(t, 20, ok2.RateLimit.Limit)
	assert.Equal(t, 2.0, ok2.RateLimit.WindowSec)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
app:
  log_level: debug
execution:
  mode: paper
  initial_capital_usd: 25000
detector:
  spatial:
    min_profit_pct: 0.25
risk:
  max_daily_loss_usd: 750
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.App.LogLevel)
	assert.Equal(t, 25000.0, cfg.Execution.InitialCapitalUSD)
	assert.Equal(t, 0.25, cfg.Detector.Spatial.MinProfitPct)
	assert.Equal(t, 750.0, cfg.Risk.MaxDailyLossUSD)
	// untouched keys keep defaults
	assert.Equal(t, 0.15, cfg.Detector.Triangular.MinProfitPct)
}

func TestSecretsFromEnvOnly(t *testing.T) {
	t.Setenv("ARBOT_DATABASE_PASSWORD", "pg-secret")
	t.Setenv("ARBOT_EXCHANGES_BINANCE_API_KEY", "key-123")
	t.Setenv("ARBOT_EXCHANGES_BINANCE_API_SECRET", "sec-456")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "pg-secret", cfg.Database.Password)
	bn := cfg.Exchanges["binance"]
	assert.Equal(t, "key-123", bn.APIKey)
	assert.Equal(t, "sec-456", bn.APISecret)
	assert.True(t, bn.HasCredentials())
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{
			name:   "bad mode",
			mutate: func(c *Config) { c.Execution.Mode = "dry-run" },
			want:   "execution.mode",
		},
		{
			name:   "zero capital",
			mutate: func(c *Config) { c.Execution.InitialCapitalUSD = 0 },
			want:   "initial_capital_usd",
		},
		{
			name:   "negative staleness",
			mutate: func(c *Config) { c.Market.StaleThresholdSeconds = -1 },
			want:   "stale_threshold_seconds",
		},
		{
			name: "spatial needs two exchanges",
			mutate: func(c *Config) {
				for name, ex := range c.Exchanges {
					if name != "binance" {
						ex.Enabled = false
						c.Exchanges[name] = ex
					}
				}
			},
			want: "at least 2 enabled exchanges",
		},
		{
			name: "unknown rate limit kind",
			mutate: func(c *Config) {
				ex := c.Exchanges["binance"]
				ex.RateLimit.Kind = "leaky"
				c.Exchanges["binance"] = ex
			},
			want: "rate_limit.kind",
		},
		{
			name: "bad triangular path",
			mutate: func(c *Config) {
				c.Detector.Triangular.Paths = [][]string{{"BTC/USDT", "ETH/BTC"}}
			},
			want: "exactly 3 symbols",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("")
			require.NoError(t, err)
			tt.mutate(cfg)
			err = cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestStoreReloadAppliesNonDisruptiveOnly(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("risk:\n  max_daily_loss_usd: 500\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	store := NewStore(cfg, path)

	// change a risk limit (applied) and the api port (skipped)
	next := `
risk:
  max_daily_loss_usd: 900
api:
  port: 9999
`
	require.NoError(t, os.WriteFile(path, []byte(next), 0o644))

	skipped, err := store.Reload()
	require.NoError(t, err)
	assert.Contains(t, skipped, "api")

	got := store.Get()
	assert.Equal(t, 900.0, got.Risk.MaxDailyLossUSD)
	assert.Equal(t, 8081, got.API.Port, "disruptive api change must not apply")
}

func TestStoreReloadRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("app:\n  log_level: info\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	store := NewStore(cfg, path)

	require.NoError(t, os.WriteFile(path, []byte("execution:\n  mode: bogus\n"), 0o644))
	_, err = store.Reload()
	require.Error(t, err)

	// old config still active
	assert.Equal(t, "paper", store.Get().Execution.Mode)
}
