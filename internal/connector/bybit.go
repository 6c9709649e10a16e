package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/arbot-io/arbot/internal/config"
	"github.com/arbot-io/arbot/internal/metrics"
	"github.com/arbot-io/arbot/internal/models"
)

// BybitConnector streams the v5 spot order book channel. Bybit sends one
// snapshot then deltas, so the connector maintains a local book per
// symbol and emits a fresh snapshot after each applied delta.
type BybitConnector struct {
	cfg   config.ExchangeConfig
	sink  BookSink
	log   zerolog.Logger
	state *stateVar
	ws    *WSManager

	rest    *resty.Client
	limiter Limiter
	breaker *gobreaker.CircuitBreaker

	// books is only touched from the ws read loop
	books map[string]*localBook

	booksEmitted atomic.Uint64
	parseErrors  atomic.Uint64
}

// localBook holds mutable depth maps keyed by price string.
type localBook struct {
	bids map[string]models.Level
	asks map[string]models.Level
	seq  int64
}

type bybitFrame struct {
	Topic string `json:"topic"`
	Type  string `json:"type"` // "snapshot" or "delta"
	TS    int64  `json:"ts"`
	Data  struct {
		Symbol string      `json:"s"`
		Bids   [][2]string `json:"b"`
		Asks   [][2]string `json:"a"`
		Update int64       `json:"u"`
		Seq    int64       `json:"seq"`
	} `json:"data"`
}

type bybitRESTBook struct {
	Result struct {
		Symbol string      `json:"s"`
		Bids   [][2]string `json:"b"`
		Asks   [][2]string `json:"a"`
		TS     int64       `json:"ts"`
	} `json:"result"`
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
}

// NewBybitConnector builds the connector.
func NewBybitConnector(cfg config.ExchangeConfig, sink BookSink, log zerolog.Logger) (*BybitConnector, error) {
	limiter, err := NewLimiter(cfg.RateLimit)
	if err != nil {
		return nil, fmt.Errorf("bybit limiter: %w", err)
	}

	c := &BybitConnector{
		cfg:   cfg,
		sink:  sink,
		log:   log,
		state: &stateVar{},
		rest: resty.New().
			SetBaseURL(cfg.RESTURL).
			SetTimeout(10 * time.Second).
			SetRetryCount(2),
		limiter: limiter,
		breaker: NewTransportBreaker("bybit", log),
		books:   make(map[string]*localBook),
	}

	c.ws = NewWSManager("bybit", cfg.WSURL, cfg.WebSocket, c.state, log)
	c.ws.OnConnect = c.subscribe
	c.ws.OnMessage = c.handleMessage
	return c, nil
}

// Name implements Connector.
func (c *BybitConnector) Name() string { return "bybit" }

// State implements Connector.
func (c *BybitConnector) State() State { return c.state.get() }

// Stats implements Connector.
func (c *BybitConnector) Stats() Stats {
	return Stats{
		Exchange:      "bybit",
		State:         c.state.get().String(),
		MessagesRecv:  c.ws.MessagesReceived(),
		BooksEmitted:  c.booksEmitted.Load(),
		ParseErrors:   c.parseErrors.Load(),
		Reconnects:    c.ws.Reconnects(),
		LastMessageTS: c.ws.LastMessageTS(),
	}
}

// Run seeds books over REST, then streams until ctx cancels.
func (c *BybitConnector) Run(ctx context.Context) error {
	c.seedBooks(ctx)
	return c.ws.Run(ctx)
}

// subscribe re-sends subscriptions after every (re)connect. Local books
// are reset because the server replays a snapshot per topic.
func (c *BybitConnector) subscribe(ctx context.Context, ws *websocket.Conn) error {
	c.books = make(map[string]*localBook)
	args := make([]string, 0, len(c.cfg.Symbols))
	for _, s := range c.cfg.Symbols {
		args = append(args, fmt.Sprintf("orderbook.%d.%s", c.cfg.Depth, ToBybit(s)))
	}
	return WriteJSON(ws, map[string]any{"op": "subscribe", "args": args})
}

func (c *BybitConnector) seedBooks(ctx context.Context) {
	for _, symbol := range c.cfg.Symbols {
		if err := c.limiter.Acquire(ctx, 1); err != nil {
			return
		}
		sym := symbol
		_, err := c.breaker.Execute(func() (any, error) {
			var out bybitRESTBook
			resp, err := c.rest.R().
				SetContext(ctx).
				SetQueryParams(map[string]string{
					"category": "spot",
					"symbol":   ToBybit(sym),
					"limit":    fmt.Sprint(c.cfg.Depth),
				}).
				SetResult(&out).
				Get("/v5/market/orderbook")
			if err != nil {
				return nil, err
			}
			if resp.IsError() || out.RetCode != 0 {
				return nil, fmt.Errorf("bybit orderbook: http %d retCode %d %s",
					resp.StatusCode(), out.RetCode, out.RetMsg)
			}
			book := &models.OrderBook{
				Exchange:  "bybit",
				Symbol:    sym,
				EventTS:   out.Result.TS,
				IngressTS: time.Now().UnixMilli(),
			}
			var perr error
			if book.Bids, perr = parseLevels(out.Result.Bids); perr != nil {
				return nil, perr
			}
			if book.Asks, perr = parseLevels(out.Result.Asks); perr != nil {
				return nil, perr
			}
			c.emit(book)
			return nil, nil
		})
		if err != nil {
			metrics.ExchangeErrors.WithLabelValues("bybit", metrics.NormalizeExchangeError(err)).Inc()
			c.log.Warn().Err(err).Str("symbol", sym).Msg("REST depth seed failed")
		}
	}
}

func (c *BybitConnector) handleMessage(data []byte) error {
	var frame bybitFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		c.parseErrors.Add(1)
		return fmt.Errorf("bybit frame: %w", err)
	}
	if frame.Topic == "" || frame.Data.Symbol == "" {
		// op acks and pongs
		return nil
	}

	symbol, err := FromBybit(frame.Data.Symbol)
	if err != nil {
		c.parseErrors.Add(1)
		return err
	}

	lb, ok := c.books[symbol]
	switch {
	case frame.Type == "snapshot":
		lb = &localBook{
			bids: make(map[string]models.Level),
			asks: make(map[string]models.Level),
		}
		c.books[symbol] = lb
	case !ok:
		// delta before any snapshot, wait for the server's snapshot
		return nil
	case frame.Data.Seq != 0 && frame.Data.Seq <= lb.seq:
		// out of order delta, already applied
		return nil
	case frame.Data.Seq != 0 && lb.seq != 0 && frame.Data.Seq > lb.seq+1:
		// the stream skipped updates; the local book cannot be patched
		// back to consistency, only a fresh snapshot can
		delete(c.books, symbol)
		c.log.Warn().
			Str("symbol", symbol).
			Int64("have_seq", lb.seq).
			Int64("got_seq", frame.Data.Seq).
			Msg("Sequence gap, forcing book resync")
		return fmt.Errorf("bybit %s: sequence gap %d -> %d: %w",
			symbol, lb.seq, frame.Data.Seq, errResyncNeeded)
	}

	if err := applyDelta(lb.bids, frame.Data.Bids); err != nil {
		c.parseErrors.Add(1)
		return err
	}
	if err := applyDelta(lb.asks, frame.Data.Asks); err != nil {
		c.parseErrors.Add(1)
		return err
	}
	lb.seq = frame.Data.Seq

	book := lb.snapshot("bybit", symbol, frame.TS, c.cfg.Depth)
	c.emit(book)
	return nil
}

func (c *BybitConnector) emit(book *models.OrderBook) {
	if err := book.Validate(); err != nil {
		c.parseErrors.Add(1)
		c.log.Debug().Err(err).Msg("Dropping invalid book")
		return
	}
	select {
	case c.sink <- book:
		c.booksEmitted.Add(1)
		metrics.OrderBookUpdates.WithLabelValues("bybit", book.Symbol).Inc()
		metrics.OrderBookLatency.WithLabelValues("bybit").Observe(float64(book.Latency()))
	default:
	}
}

// applyDelta folds [price, qty] rows into a depth map; qty 0 removes.
func applyDelta(side map[string]models.Level, rows [][2]string) error {
	for _, row := range rows {
		lvl, err := parseLevel(row[0], row[1])
		if err != nil {
			return err
		}
		if lvl.Quantity.IsZero() {
			delete(side, row[0])
		} else {
			side[row[0]] = lvl
		}
	}
	return nil
}

// snapshot renders the depth maps as a sorted, truncated OrderBook.
func (lb *localBook) snapshot(exchange, symbol string, eventTS int64, depth int) *models.OrderBook {
	book := &models.OrderBook{
		Exchange:  exchange,
		Symbol:    symbol,
		Seq:       lb.seq,
		EventTS:   eventTS,
		IngressTS: time.Now().UnixMilli(),
	}
	for _, lvl := range lb.bids {
		book.Bids = append(book.Bids, lvl)
	}
	for _, lvl := range lb.asks {
		book.Asks = append(book.Asks, lvl)
	}
	sort.Slice(book.Bids, func(i, j int) bool {
		return book.Bids[i].Price.GreaterThan(book.Bids[j].Price)
	})
	sort.Slice(book.Asks, func(i, j int) bool {
		return book.Asks[i].Price.LessThan(book.Asks[j].Price)
	})
	if len(book.Bids) > depth {
		book.Bids = book.Bids[:depth]
	}
	if len(book.Asks) > depth {
		book.Asks = book.Asks[:depth]
	}
	return book
}

func parseLevels(rows [][2]string) ([]models.Level, error) {
	out := make([]models.Level, 0, len(rows))
	for _, row := range rows {
		lvl, err := parseLevel(row[0], row[1])
		if err != nil {
			return nil, err
		}
		if lvl.Quantity.Sign() > 0 {
			out = append(out, lvl)
		}
	}
	return out, nil
}
