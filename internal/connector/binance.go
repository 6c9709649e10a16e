package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"

	"github.com/arbot-io/arbot/internal/config"
	"github.com/arbot-io/arbot/internal/metrics"
	"github.com/arbot-io/arbot/internal/models"
)

// BinanceConnector streams partial book depth from Binance spot. It uses
// the combined stream endpoint so every frame carries its stream name,
// and seeds books from REST before the stream warms up.
type BinanceConnector struct {
	cfg   config.ExchangeConfig
	sink  BookSink
	log   zerolog.Logger
	state *stateVar
	ws    *WSManager

	rest    *binance.Client
	limiter Limiter
	breaker *gobreaker.CircuitBreaker

	booksEmitted atomic.Uint64
	parseErrors  atomic.Uint64
}

// binanceDepthFrame is one combined-stream frame.
type binanceDepthFrame struct {
	Stream string `json:"stream"`
	Data   struct {
		LastUpdateID int64       `json:"lastUpdateId"`
		Bids         [][2]string `json:"bids"`
		Asks         [][2]string `json:"asks"`
	} `json:"data"`
}

// NewBinanceConnector builds the connector. Credentials may be empty for
// market data only.
func NewBinanceConnector(cfg config.ExchangeConfig, sink BookSink, log zerolog.Logger) (*BinanceConnector, error) {
	limiter, err := NewLimiter(cfg.RateLimit)
	if err != nil {
		return nil, fmt.Errorf("binance limiter: %w", err)
	}

	c := &BinanceConnector{
		cfg:     cfg,
		sink:    sink,
		log:     log,
		state:   &stateVar{},
		rest:    binance.NewClient(cfg.APIKey, cfg.APISecret),
		limiter: limiter,
		breaker: NewTransportBreaker("binance", log),
	}
	if cfg.RESTURL != "" {
		c.rest.BaseURL = cfg.RESTURL
	}

	c.ws = NewWSManager("binance", c.streamURL(), cfg.WebSocket, c.state, log)
	c.ws.OnMessage = c.handleMessage
	return c, nil
}

// streamURL builds the combined partial-depth stream URL, e.g.
// wss://stream.binance.com:9443/stream?streams=btcusdt@depth20@100ms/...
func (c *BinanceConnector) streamURL() string {
	streams := make([]string, 0, len(c.cfg.Symbols))
	for _, s := range c.cfg.Symbols {
		streams = append(streams,
			fmt.Sprintf("%s@depth%d@100ms", strings.ToLower(ToBinance(s)), c.cfg.Depth))
	}
	base := strings.TrimSuffix(c.cfg.WSURL, "/ws")
	return base + "/stream?streams=" + strings.Join(streams, "/")
}

// Name implements Connector.
func (c *BinanceConnector) Name() string { return "binance" }

// State implements Connector.
func (c *BinanceConnector) State() State { return c.state.get() }

// Stats implements Connector.
func (c *BinanceConnector) Stats() Stats {
	return Stats{
		Exchange:      "binance",
		State:         c.state.get().String(),
		MessagesRecv:  c.ws.MessagesReceived(),
		BooksEmitted:  c.booksEmitted.Load(),
		ParseErrors:   c.parseErrors.Load(),
		Reconnects:    c.ws.Reconnects(),
		LastMessageTS: c.ws.LastMessageTS(),
	}
}

// Run seeds books over REST, then streams until ctx cancels.
func (c *BinanceConnector) Run(ctx context.Context) error {
	c.seedBooks(ctx)
	return c.ws.Run(ctx)
}

// seedBooks fetches one REST snapshot per symbol so detectors have data
// before the first stream frame. Failures are logged, not fatal.
func (c *BinanceConnector) seedBooks(ctx context.Context) {
	for _, symbol := range c.cfg.Symbols {
		// depth endpoint weight at <=100 levels is 1
		if err := c.limiter.Acquire(ctx, 1); err != nil {
			return
		}
		sym := symbol
		_, err := c.breaker.Execute(func() (any, error) {
			res, err := c.rest.NewDepthService().
				Symbol(ToBinance(sym)).
				Limit(c.cfg.Depth).
				Do(ctx)
			if err != nil {
				return nil, err
			}
			book := &models.OrderBook{
				Exchange:  "binance",
				Symbol:    sym,
				Seq:       res.LastUpdateID,
				EventTS:   time.Now().UnixMilli(),
				IngressTS: time.Now().UnixMilli(),
			}
			for _, b := range res.Bids {
				lvl, perr := parseLevel(b.Price, b.Quantity)
				if perr != nil {
					return nil, perr
				}
				book.Bids = append(book.Bids, lvl)
			}
			for _, a := range res.Asks {
				lvl, perr := parseLevel(a.Price, a.Quantity)
				if perr != nil {
					return nil, perr
				}
				book.Asks = append(book.Asks, lvl)
			}
			c.emit(book)
			return nil, nil
		})
		if err != nil {
			metrics.ExchangeErrors.WithLabelValues("binance", metrics.NormalizeExchangeError(err)).Inc()
			c.log.Warn().Err(err).Str("symbol", sym).Msg("REST depth seed failed")
		}
	}
}

func (c *BinanceConnector) handleMessage(data []byte) error {
	var frame binanceDepthFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		c.parseErrors.Add(1)
		return fmt.Errorf("binance depth frame: %w", err)
	}
	if frame.Stream == "" {
		// subscription ack or other control payload
		return nil
	}

	rawSym, _, ok := strings.Cut(frame.Stream, "@")
	if !ok {
		c.parseErrors.Add(1)
		return fmt.Errorf("unexpected stream name %q", frame.Stream)
	}
	symbol, err := FromBinance(rawSym)
	if err != nil {
		c.parseErrors.Add(1)
		return err
	}

	book := &models.OrderBook{
		Exchange: "binance",
		Symbol:   symbol,
		Seq:      frame.Data.LastUpdateID,
		// partial depth frames carry no event time; the 100ms cadence
		// makes ingress a close stand-in
		EventTS:   time.Now().UnixMilli(),
		IngressTS: time.Now().UnixMilli(),
	}
	for _, b := range frame.Data.Bids {
		lvl, perr := parseLevel(b[0], b[1])
		if perr != nil {
			c.parseErrors.Add(1)
			return perr
		}
		if lvl.Quantity.Sign() > 0 {
			book.Bids = append(book.Bids, lvl)
		}
	}
	for _, a := range frame.Data.Asks {
		lvl, perr := parseLevel(a[0], a[1])
		if perr != nil {
			c.parseErrors.Add(1)
			return perr
		}
		if lvl.Quantity.Sign() > 0 {
			book.Asks = append(book.Asks, lvl)
		}
	}

	c.emit(book)
	return nil
}

// emit validates and forwards a book, dropping malformed ones.
func (c *BinanceConnector) emit(book *models.OrderBook) {
	if err := book.Validate(); err != nil {
		c.parseErrors.Add(1)
		c.log.Debug().Err(err).Msg("Dropping invalid book")
		return
	}
	select {
	case c.sink <- book:
		c.booksEmitted.Add(1)
		metrics.OrderBookUpdates.WithLabelValues("binance", book.Symbol).Inc()
		metrics.OrderBookLatency.WithLabelValues("binance").Observe(float64(book.Latency()))
	default:
		// sink full: drop, the next 100ms frame supersedes this one
	}
}

func parseLevel(price, qty string) (models.Level, error) {
	p, err := decimal.NewFromString(price)
	if err != nil {
		return models.Level{}, fmt.Errorf("bad price %q: %w", price, err)
	}
	q, err := decimal.NewFromString(qty)
	if err != nil {
		return models.Level{}, fmt.Errorf("bad quantity %q: %w", qty, err)
	}
	return models.Level{Price: p, Quantity: q}, nil
}
