package market

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbot-io/arbot/internal/models"
)

func makeBook(exchange, symbol string, eventTS int64, seq int64) *models.OrderBook {
	return &models.OrderBook{
		Exchange: exchange,
		Symbol:   symbol,
		Bids: []models.Level{
			{Price: decimal.NewFromInt(50000), Quantity: decimal.NewFromInt(1)},
		},
		Asks: []models.Level{
			{Price: decimal.NewFromInt(50010), Quantity: decimal.NewFromInt(1)},
		},
		Seq:       seq,
		EventTS:   eventTS,
		IngressTS: eventTS + 5,
	}
}

func TestStatePutAndGet(t *testing.T) {
	now := time.UnixMilli(1_700_000_010_000)
	st := NewState(30*time.Second, time.Second)
	st.now = func() time.Time { return now }

	book := makeBook("binance", "BTC/USDT", now.UnixMilli()-1000, 1)
	require.True(t, st.Put(book))

	snap, ok := st.Get("binance", "BTC/USDT")
	require.True(t, ok)
	assert.True(t, snap.Fresh)
	assert.Equal(t, uint64(1), snap.Version)
	assert.Equal(t, time.Second, snap.Age)

	_, ok = st.Get("bybit", "BTC/USDT")
	assert.False(t, ok)
}

func TestStateRejectsOlderEvents(t *testing.T) {
	now := time.UnixMilli(1_700_000_010_000)
	st := NewState(30*time.Second, time.Second)
	st.now = func() time.Time { return now }

	require.True(t, st.Put(makeBook("binance", "BTC/USDT", 2000, 10)))
	// older event timestamp
	assert.False(t, st.Put(makeBook("binance", "BTC/USDT", 1000, 11)))
	// same event timestamp, stale sequence
	assert.False(t, st.Put(makeBook("binance", "BTC/USDT", 2000, 9)))
	// newer event advances the version
	assert.True(t, st.Put(makeBook("binance", "BTC/USDT", 3000, 12)))

	snap, _ := st.Get("binance", "BTC/USDT")
	assert.Equal(t, uint64(2), snap.Version)
	assert.Equal(t, int64(3000), snap.Book.EventTS)
}

func TestStalenessEvaluatedAtReadTime(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	st := NewState(30*time.Second, time.Second)
	st.now = func() time.Time { return now }

	require.True(t, st.Put(makeBook("binance", "BTC/USDT", now.UnixMilli(), 1)))

	snap, _ := st.Get("binance", "BTC/USDT")
	assert.True(t, snap.Fresh)

	// no new writes; the clock advances past the threshold
	now = now.Add(31 * time.Second)
	snap, _ = st.Get("binance", "BTC/USDT")
	assert.False(t, snap.Fresh)
	assert.Equal(t, 31*time.Second, snap.Age)
}

func TestLatencyCutoff(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	st := NewState(30*time.Second, 100*time.Millisecond)
	st.now = func() time.Time { return now }

	book := makeBook("binance", "BTC/USDT", now.UnixMilli(), 1)
	book.IngressTS = book.EventTS + 500 // 500ms transit
	require.True(t, st.Put(book))

	snap, _ := st.Get("binance", "BTC/USDT")
	assert.False(t, snap.Fresh, "high-latency book must not be fresh")
}

func TestBySymbolOmitsStale(t *testing.T) {
	now := time.UnixMilli(1_700_000_100_000)
	st := NewState(30*time.Second, time.Second)
	st.now = func() time.Time { return now }

	st.Put(makeBook("binance", "BTC/USDT", now.UnixMilli()-1000, 1))
	st.Put(makeBook("bybit", "BTC/USDT", now.UnixMilli()-40_000, 1)) // stale
	st.Put(makeBook("okx", "ETH/USDT", now.UnixMilli()-1000, 1))     // other symbol

	got := st.BySymbol("BTC/USDT")
	require.Len(t, got, 1)
	_, ok := got["binance"]
	assert.True(t, ok)

	counts := st.StaleCount()
	assert.Equal(t, 1, counts["bybit"])
	assert.Equal(t, 0, counts["binance"])
}

func TestConcurrentPutAndGet(t *testing.T) {
	st := NewState(30*time.Second, time.Second)

	done := make(chan struct{})
	go func() {
		defer close(done)
		base := time.Now().UnixMilli()
		for i := int64(0); i < 1000; i++ {
			st.Put(makeBook("binance", "BTC/USDT", base+i, i+1))
		}
	}()

	// readers must always observe a complete book and a monotonic version;
	// run with -race to catch snapshots taken outside the shard lock
	var lastVersion uint64
	for i := 0; i < 1000; i++ {
		if snap, ok := st.Get("binance", "BTC/USDT"); ok {
			assert.NotEmpty(t, snap.Book.Bids)
			assert.GreaterOrEqual(t, snap.Version, lastVersion)
			lastVersion = snap.Version
		}
		st.BySymbol("BTC/USDT")
	}
	<-done
}

func TestByExchangeAndSymbols(t *testing.T) {
	now := time.UnixMilli(1_700_000_100_000)
	st := NewState(30*time.Second, time.Second)
	st.now = func() time.Time { return now }

	st.Put(makeBook("okx", "BTC/USDT", now.UnixMilli()-1000, 1))
	st.Put(makeBook("okx", "ETH/USDT", now.UnixMilli()-1000, 1))

	got := st.ByExchange("okx")
	assert.Len(t, got, 2)
	assert.ElementsMatch(t, []string{"BTC/USDT", "ETH/USDT"}, st.Symbols())
}
