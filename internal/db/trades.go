package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/arbot-io/arbot/internal/models"
)

// SaveTrade appends one execution result. Implements ledger.TradeStore;
// replays upsert so the ledger's idempotent recovery works end to end.
func (db *DB) SaveTrade(ctx context.Context, result *models.TradeResult) error {
	orders, err := json.Marshal(result.Orders)
	if err != nil {
		return fmt.Errorf("marshal orders: %w", err)
	}

	_, err = db.pool.Exec(ctx, `
		INSERT INTO trades (
			signal_id, strategy, symbol, mode, orders, realized_pnl,
			total_fees, hedged, success, reason, executed_at, duration_ms
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (signal_id) DO UPDATE SET
			orders = EXCLUDED.orders,
			realized_pnl = EXCLUDED.realized_pnl,
			total_fees = EXCLUDED.total_fees,
			hedged = EXCLUDED.hedged,
			success = EXCLUDED.success,
			reason = EXCLUDED.reason`,
		result.SignalID,
		string(result.Strategy),
		result.Symbol,
		string(result.Mode),
		orders,
		result.RealizedPnL,
		result.TotalFees,
		result.Hedged,
		result.Success,
		result.Reason,
		result.ExecutedAt,
		result.DurationMS,
	)
	if err != nil {
		return fmt.Errorf("save trade %s: %w", result.SignalID, err)
	}
	return nil
}

// SaveDailyPerformance upserts one day's rollup. Implements
// ledger.TradeStore.
func (db *DB) SaveDailyPerformance(ctx context.Context, perf models.DailyPerformance) error {
	_, err := db.pool.Exec(ctx, `
		INSERT INTO daily_performance (
			date, trade_count, win_count, gross_pnl, total_fees, net_pnl,
			max_drawdown_pct, win_rate, sharpe_ratio, end_equity_usd
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (date) DO UPDATE SET
			trade_count = EXCLUDED.trade_count,
			win_count = EXCLUDED.win_count,
			gross_pnl = EXCLUDED.gross_pnl,
			total_fees = EXCLUDED.total_fees,
			net_pnl = EXCLUDED.net_pnl,
			max_drawdown_pct = EXCLUDED.max_drawdown_pct,
			win_rate = EXCLUDED.win_rate,
			sharpe_ratio = EXCLUDED.sharpe_ratio,
			end_equity_usd = EXCLUDED.end_equity_usd`,
		perf.Date,
		perf.TradeCount,
		perf.WinCount,
		perf.GrossPnL,
		perf.TotalFees,
		perf.NetPnL,
		perf.MaxDrawdownPct,
		perf.WinRate,
		perf.SharpeRatio,
		perf.EndEquityUSD,
	)
	if err != nil {
		return fmt.Errorf("save daily performance %s: %w", perf.Date.Format("2006-01-02"), err)
	}
	return nil
}

// TotalRealizedPnL sums persisted trade pnl, used on startup to seed
// the drawdown monitor after a restart.
func (db *DB) TotalRealizedPnL(ctx context.Context) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := db.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(realized_pnl), 0) FROM trades`).Scan(&total)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum realized pnl: %w", err)
	}
	return total, nil
}
