package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
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

// OKXConnector streams the books5 channel, which delivers full 5-level
// snapshots on every tick so no local book maintenance is needed.
type OKXConnector struct {
	cfg   config.ExchangeConfig
	sink  BookSink
	log   zerolog.Logger
	state *stateVar
	ws    *WSManager

	rest    *resty.Client
	limiter Limiter
	breaker *gobreaker.CircuitBreaker

	booksEmitted atomic.Uint64
	parseErrors  atomic.Uint64
}

type okxFrame struct {
	Event string `json:"event,omitempty"`
	Arg   struct {
		Channel string `json:"channel"`
		InstID  string `json:"instId"`
	} `json:"arg"`
	Data []struct {
		Asks  [][]string `json:"asks"`
		Bids  [][]string `json:"bids"`
		TS    string     `json:"ts"`
		SeqID int64      `json:"seqId"`
	} `json:"data"`
}

type okxRESTBook struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
	Data []struct {
		Asks [][]string `json:"asks"`
		Bids [][]string `json:"bids"`
		TS   string     `json:"ts"`
	} `json:"data"`
}

// NewOKXConnector builds the connector.
func NewOKXConnector(cfg config.ExchangeConfig, sink BookSink, log zerolog.Logger) (*OKXConnector, error) {
	limiter, err := NewLimiter(cfg.RateLimit)
	if err != nil {
		return nil, fmt.Errorf("okx limiter: %w", err)
	}

	c := &OKXConnector{
		cfg:   cfg,
		sink:  sink,
		log:   log,
		state: &stateVar{},
		rest: resty.New().
			SetBaseURL(cfg.RESTURL).
			SetTimeout(10 * time.Second).
			SetRetryCount(2),
		limiter: limiter,
		breaker: NewTransportBreaker("okx", log),
	}

	c.ws = NewWSManager("okx", cfg.WSURL, cfg.WebSocket, c.state, log)
	c.ws.OnConnect = c.subscribe
	c.ws.OnMessage = c.handleMessage
	return c, nil
}

// Name implements Connector.
func (c *OKXConnector) Name() string { return "okx" }

// State implements Connector.
func (c *OKXConnector) State() State { return c.state.get() }

// Stats implements Connector.
func (c *OKXConnector) Stats() Stats {
	return Stats{
		Exchange:      "okx",
		State:         c.state.get().String(),
		MessagesRecv:  c.ws.MessagesReceived(),
		BooksEmitted:  c.booksEmitted.Load(),
		ParseErrors:   c.parseErrors.Load(),
		Reconnects:    c.ws.Reconnects(),
		LastMessageTS: c.ws.LastMessageTS(),
	}
}

// Run seeds books over REST, then streams until ctx cancels.
func (c *OKXConnector) Run(ctx context.Context) error {
	c.seedBooks(ctx)
	return c.ws.Run(ctx)
}

func (c *OKXConnector) subscribe(ctx context.Context, ws *websocket.Conn) error {
	args := make([]map[string]string, 0, len(c.cfg.Symbols))
	for _, s := range c.cfg.Symbols {
		args = append(args, map[string]string{
			"channel": "books5",
			"instId":  ToOKX(s),
		})
	}
	return WriteJSON(ws, map[string]any{"op": "subscribe", "args": args})
}

func (c *OKXConnector) seedBooks(ctx context.Context) {
	for _, symbol := range c.cfg.Symbols {
		if err := c.limiter.Acquire(ctx, 1); err != nil {
			return
		}
		sym := symbol
		_, err := c.breaker.Execute(func() (any, error) {
			var out okxRESTBook
			resp, err := c.rest.R().
				SetContext(ctx).
				SetQueryParams(map[string]string{
					"instId": ToOKX(sym),
					"sz":     fmt.Sprint(c.cfg.Depth),
				}).
				SetResult(&out).
				Get("/api/v5/market/books")
			if err != nil {
				return nil, err
			}
			if resp.IsError() || out.Code != "0" || len(out.Data) == 0 {
				return nil, fmt.Errorf("okx books: http %d code %s %s",
					resp.StatusCode(), out.Code, out.Msg)
			}
			book, perr := c.buildBook(sym, out.Data[0].Bids, out.Data[0].Asks, out.Data[0].TS, 0)
			if perr != nil {
				return nil, perr
			}
			c.emit(book)
			return nil, nil
		})
		if err != nil {
			metrics.ExchangeErrors.WithLabelValues("okx", metrics.NormalizeExchangeError(err)).Inc()
			c.log.Warn().Err(err).Str("symbol", sym).Msg("REST depth seed failed")
		}
	}
}

func (c *OKXConnector) handleMessage(data []byte) error {
	var frame okxFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		c.parseErrors.Add(1)
		return fmt.Errorf("okx frame: %w", err)
	}
	if frame.Event != "" || len(frame.Data) == 0 {
		// subscribe acks and errors
		if frame.Event == "error" {
			c.log.Warn().RawJSON("frame", data).Msg("OKX subscription error")
		}
		return nil
	}

	symbol, err := FromOKX(frame.Arg.InstID)
	if err != nil {
		c.parseErrors.Add(1)
		return err
	}

	d := frame.Data[0]
	book, err := c.buildBook(symbol, d.Bids, d.Asks, d.TS, d.SeqID)
	if err != nil {
		c.parseErrors.Add(1)
		return err
	}
	c.emit(book)
	return nil
}

// buildBook converts OKX [px, sz, ...] rows; rows carry extra columns
// (liquidated orders, order count) which are ignored.
func (c *OKXConnector) buildBook(symbol string, bids, asks [][]string, ts string, seq int64) (*models.OrderBook, error) {
	eventTS, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("bad okx ts %q: %w", ts, err)
	}
	book := &models.OrderBook{
		Exchange:  "okx",
		Symbol:    symbol,
		Seq:       seq,
		EventTS:   eventTS,
		IngressTS: time.Now().UnixMilli(),
	}
	for _, row := range bids {
		if len(row) < 2 {
			return nil, fmt.Errorf("short okx bid row")
		}
		lvl, perr := parseLevel(row[0], row[1])
		if perr != nil {
			return nil, perr
		}
		if lvl.Quantity.Sign() > 0 {
			book.Bids = append(book.Bids, lvl)
		}
	}
	for _, row := range asks {
		if len(row) < 2 {
			return nil, fmt.Errorf("short okx ask row")
		}
		lvl, perr := parseLevel(row[0], row[1])
		if perr != nil {
			return nil, perr
		}
		if lvl.Quantity.Sign() > 0 {
			book.Asks = append(book.Asks, lvl)
		}
	}
	return book, nil
}

func (c *OKXConnector) emit(book *models.OrderBook) {
	if err := book.Validate(); err != nil {
		c.parseErrors.Add(1)
		c.log.Debug().Err(err).Msg("Dropping invalid book")
		return
	}
	select {
	case c.sink <- book:
		c.booksEmitted.Add(1)
		metrics.OrderBookUpdates.WithLabelValues("okx", book.Symbol).Inc()
		metrics.OrderBookLatency.WithLabelValues("okx").Observe(float64(book.Latency()))
	default:
	}
}
