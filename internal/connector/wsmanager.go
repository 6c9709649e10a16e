package connector

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
	"github.com/rs/zerolog"

	"github.com/arbot-io/arbot/internal/config"
	"github.com/arbot-io/arbot/internal/metrics"
)

const (
	wsDialTimeout  = 10 * time.Second
	wsWriteTimeout = 5 * time.Second
	wsPongWait     = 30 * time.Second
	wsPingInterval = 15 * time.Second
	wsReadLimit    = 1 << 22 // 4 MiB, deep books on busy symbols
	wsMaxBackoff   = 60 * time.Second

	// fallbacks when the per-exchange websocket block is absent
	wsDefaultMinBackoff    = 500 * time.Millisecond
	wsDefaultDegradedAfter = 5
)

// errResyncNeeded is returned by a message handler when its local book
// state can no longer be trusted. The session is torn down; the
// reconnect replays subscriptions and the server sends fresh snapshots.
var errResyncNeeded = errors.New("book resync needed")

// WSManager owns one websocket connection: dialing, the heartbeat,
// reconnection with exponential backoff, and re-subscription after each
// reconnect. Message parsing stays in the per-exchange connector via
// OnMessage.
type WSManager struct {
	url   string
	log   zerolog.Logger
	state *stateVar

	// OnConnect is called after each successful dial to (re)send
	// subscriptions. OnMessage is called for every text/binary frame.
	OnConnect func(ctx context.Context, ws *websocket.Conn) error
	OnMessage func(data []byte) error

	exchange      string
	minBackoff    time.Duration
	degradedAfter int
	reconnects    atomic.Uint64
	msgsRecv      atomic.Uint64
	lastMsgTS     atomic.Int64
}

// NewWSManager creates a manager for the given endpoint. The exchange's
// websocket block sets the first reconnect delay and how many straight
// failures mark the connector degraded.
func NewWSManager(exchange, url string, cfg config.WebSocketConfig, state *stateVar, log zerolog.Logger) *WSManager {
	minBackoff := cfg.ReconnectDelay()
	if minBackoff <= 0 {
		minBackoff = wsDefaultMinBackoff
	}
	degradedAfter := cfg.MaxReconnectAttempts
	if degradedAfter <= 0 {
		degradedAfter = wsDefaultDegradedAfter
	}
	return &WSManager{
		url:           url,
		log:           log.With().Str("ws_url", url).Logger(),
		state:         state,
		exchange:      exchange,
		minBackoff:    minBackoff,
		degradedAfter: degradedAfter,
	}
}

// Run dials and pumps the connection until ctx is canceled, reconnecting
// on any failure. It only returns the context's error.
func (m *WSManager) Run(ctx context.Context) error {
	bo := &backoff.Backoff{
		Min:    m.minBackoff,
		Max:    wsMaxBackoff,
		Factor: 2,
		Jitter: true,
	}

	failures := 0
	for {
		if ctx.Err() != nil {
			m.state.set(StateClosed)
			return ctx.Err()
		}

		m.state.set(StateConnecting)
		metrics.ConnectorState.WithLabelValues(m.exchange).Set(float64(StateConnecting))

		streamed, err := m.runOnce(ctx)
		if ctx.Err() != nil {
			m.state.set(StateClosed)
			return ctx.Err()
		}

		// a session that streamed data resets the failure streak
		if streamed {
			failures = 0
			bo.Reset()
		}
		failures++
		m.reconnects.Add(1)
		metrics.WSReconnects.WithLabelValues(m.exchange).Inc()

		if failures >= m.degradedAfter {
			m.state.set(StateDegraded)
		} else {
			m.state.set(StateReconnecting)
		}
		metrics.ConnectorState.WithLabelValues(m.exchange).Set(float64(m.state.get()))

		wait := bo.Duration()
		m.log.Warn().
			Err(err).
			Int("consecutive_failures", failures).
			Dur("backoff", wait).
			Msg("Websocket disconnected, reconnecting")

		if err := sleepCtx(ctx, wait); err != nil {
			m.state.set(StateClosed)
			return err
		}
	}
}

func (m *WSManager) runOnce(ctx context.Context) (streamed bool, err error) {
	dialCtx, cancel := context.WithTimeout(ctx, wsDialTimeout)
	ws, _, err := websocket.DefaultDialer.DialContext(dialCtx, m.url, nil)
	cancel()
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	defer ws.Close()

	ws.SetReadLimit(wsReadLimit)
	ws.SetReadDeadline(time.Now().Add(wsPongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	if m.OnConnect != nil {
		if err := m.OnConnect(ctx, ws); err != nil {
			return false, fmt.Errorf("subscribe: %w", err)
		}
	}
	m.state.set(StateSubscribed)
	metrics.ConnectorState.WithLabelValues(m.exchange).Set(float64(StateSubscribed))
	m.log.Info().Msg("Websocket subscribed")

	// heartbeat
	pingCtx, stopPing := context.WithCancel(ctx)
	defer stopPing()
	go func() {
		t := time.NewTicker(wsPingInterval)
		defer t.Stop()
		for {
			select {
			case <-pingCtx.Done():
				return
			case <-t.C:
				ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
					ws.Close()
					return
				}
			}
		}
	}()

	// close the socket when ctx is canceled so ReadMessage unblocks
	go func() {
		<-pingCtx.Done()
		ws.Close()
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return streamed, fmt.Errorf("read: %w", err)
		}
		ws.SetReadDeadline(time.Now().Add(wsPongWait))
		m.msgsRecv.Add(1)
		m.lastMsgTS.Store(time.Now().UnixMilli())

		if !streamed {
			streamed = true
			m.state.set(StateStreaming)
			metrics.ConnectorState.WithLabelValues(m.exchange).Set(float64(StateStreaming))
		}

		if m.OnMessage != nil {
			if err := m.OnMessage(data); err != nil {
				if errors.Is(err, errResyncNeeded) {
					return streamed, err
				}
				m.log.Debug().Err(err).Msg("Message handler error")
			}
		}
	}
}

// MessagesReceived returns the frame counter.
func (m *WSManager) MessagesReceived() uint64 { return m.msgsRecv.Load() }

// Reconnects returns the reconnect counter.
func (m *WSManager) Reconnects() uint64 { return m.reconnects.Load() }

// LastMessageTS returns the Unix milli timestamp of the last frame.
func (m *WSManager) LastMessageTS() int64 { return m.lastMsgTS.Load() }

// WriteJSON writes a JSON control frame with the standard write timeout.
func WriteJSON(ws *websocket.Conn, v any) error {
	ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return ws.WriteJSON(v)
}
