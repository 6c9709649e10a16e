package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbot-io/arbot/internal/models"
)

type memStore struct {
	trades  []*models.TradeResult
	dailies []models.DailyPerformance
}

func (m *memStore) SaveTrade(_ context.Context, result *models.TradeResult) error {
	m.trades = append(m.trades, result)
	return nil
}

func (m *memStore) SaveDailyPerformance(_ context.Context, perf models.DailyPerformance) error {
	m.dailies = append(m.dailies, perf)
	return nil
}

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

func tradeResult(id, orderID, pnl, fees string) *models.TradeResult {
	return &models.TradeResult{
		SignalID: id,
		Strategy: models.StrategySpatial,
		Symbol:   "BTC/USDT",
		Mode:     models.ModePaper,
		Orders: []*models.Order{
			{ID: orderID, Exchange: "binance", Symbol: "BTC/USDT"},
		},
		RealizedPnL: decimal.RequireFromString(pnl),
		TotalFees:   decimal.RequireFromString(fees),
		Success:     true,
		ExecutedAt:  time.Now().UTC(),
	}
}

func TestRecordTradeAccumulates(t *testing.T) {
	store := &memStore{}
	l := New(store, zerolog.Nop())

	require.NoError(t, l.RecordTrade(context.Background(), tradeResult("s1", "o1", "10", "1")))
	require.NoError(t, l.RecordTrade(context.Background(), tradeResult("s2", "o2", "-4", "1")))

	assert.True(t, l.RealizedPnL().Equal(dec(t, "6")))
	assert.True(t, l.DailyPnL().Equal(dec(t, "6")))
	assert.True(t, l.WinRate().Equal(dec(t, "0.5")))
	assert.Len(t, store.trades, 2)

	byStrategy := l.StatsByStrategy()
	require.Contains(t, byStrategy, models.StrategySpatial)
	assert.Equal(t, 2, byStrategy[models.StrategySpatial].Trades)
	assert.Equal(t, 1, byStrategy[models.StrategySpatial].Wins)
	assert.True(t, byStrategy[models.StrategySpatial].PnL.Equal(dec(t, "6")))

	byExchange := l.StatsByExchange()
	assert.Equal(t, 2, byExchange["binance"].Trades)
}

func TestRecordTradeIdempotent(t *testing.T) {
	l := New(nil, zerolog.Nop())

	result := tradeResult("s1", "o1", "10", "1")
	require.NoError(t, l.RecordTrade(context.Background(), result))
	require.NoError(t, l.RecordTrade(context.Background(), result))

	assert.True(t, l.RealizedPnL().Equal(dec(t, "10")), "replay must not double-count")
}

func TestDailyRolloverPersistsAndResets(t *testing.T) {
	store := &memStore{}
	l := New(store, zerolog.Nop())

	day1 := time.Date(2026, 8, 24, 23, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return day1 }
	l.day = l.today()

	require.NoError(t, l.RecordTrade(context.Background(), tradeResult("s1", "o1", "10", "1")))
	require.NoError(t, l.RecordTrade(context.Background(), tradeResult("s2", "o2", "5", "1")))

	l.now = func() time.Time { return day1.Add(2 * time.Hour) } // past midnight UTC
	require.NoError(t, l.RecordTrade(context.Background(), tradeResult("s3", "o3", "3", "1")))

	require.Len(t, store.dailies, 1)
	perf := store.dailies[0]
	assert.Equal(t, 2, perf.TradeCount)
	assert.Equal(t, 2, perf.WinCount)
	assert.True(t, perf.NetPnL.Equal(dec(t, "15")))
	assert.True(t, perf.TotalFees.Equal(dec(t, "2")))
	assert.True(t, perf.WinRate.Equal(dec(t, "1")))

	// new bucket holds only the post-midnight trade
	assert.True(t, l.DailyPnL().Equal(dec(t, "3")))
	assert.True(t, l.RealizedPnL().Equal(dec(t, "18")), "cumulative keeps running across days")
}

func TestTodayPerformanceSharpe(t *testing.T) {
	l := New(nil, zerolog.Nop())

	require.NoError(t, l.RecordTrade(context.Background(), tradeResult("s1", "o1", "10", "0")))
	require.NoError(t, l.RecordTrade(context.Background(), tradeResult("s2", "o2", "12", "0")))
	require.NoError(t, l.RecordTrade(context.Background(), tradeResult("s3", "o3", "8", "0")))

	perf := l.TodayPerformance()
	assert.Equal(t, 3, perf.TradeCount)
	assert.True(t, perf.SharpeRatio.GreaterThan(decimal.Zero), "positive mean pnl yields positive sharpe")
}

func TestSharpeRatioDegenerate(t *testing.T) {
	_, ok := sharpeRatio([]float64{5})
	assert.False(t, ok, "one sample has no variance")

	_, ok = sharpeRatio([]float64{5, 5, 5})
	assert.False(t, ok, "zero variance")
}
