package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// AssetBalance is the free/locked split for one asset on one exchange.
type AssetBalance struct {
	Asset  string          `json:"asset"`
	Free   decimal.Decimal `json:"free"`
	Locked decimal.Decimal `json:"locked"`
}

// Total returns free + locked.
func (a AssetBalance) Total() decimal.Decimal {
	return a.Free.Add(a.Locked)
}

// ExchangeBalance is the full balance sheet for one exchange.
type ExchangeBalance struct {
	Exchange  string                  `json:"exchange"`
	Assets    map[string]AssetBalance `json:"assets"`
	UpdatedAt time.Time               `json:"updated_at"`
}

// Get returns the balance for an asset, zero-valued when absent.
func (e *ExchangeBalance) Get(asset string) AssetBalance {
	if b, ok := e.Assets[asset]; ok {
		return b
	}
	return AssetBalance{Asset: asset}
}

// PortfolioSnapshot is a point-in-time valuation across all exchanges,
// taken for drawdown tracking and the daily performance rollup.
type PortfolioSnapshot struct {
	Balances  map[string]*ExchangeBalance `json:"balances"`
	EquityUSD decimal.Decimal             `json:"equity_usd"`
	Timestamp time.Time                   `json:"timestamp"`
}

// DailyPerformance is the 00:00 UTC rollup of one trading day.
type DailyPerformance struct {
	Date          time.Time       `json:"date"`
	TradeCount    int             `json:"trade_count"`
	WinCount      int             `json:"win_count"`
	GrossPnL      decimal.Decimal `json:"gross_pnl"`
	TotalFees     decimal.Decimal `json:"total_fees"`
	NetPnL        decimal.Decimal `json:"net_pnl"`
	MaxDrawdownPct decimal.Decimal `json:"max_drawdown_pct"`
	WinRate       decimal.Decimal `json:"win_rate"`
	SharpeRatio   decimal.Decimal `json:"sharpe_ratio"`
	EndEquityUSD  decimal.Decimal `json:"end_equity_usd"`
}
