// Package connector maintains websocket market data feeds to exchanges
// and normalizes their order book streams into a single internal form.
package connector

import (
	"context"
	"sync/atomic"

	"github.com/arbot-io/arbot/internal/models"
)

// State is the connector lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateSubscribed
	StateStreaming
	StateReconnecting
	StateDegraded
	StateClosed
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	case StateStreaming:
		return "streaming"
	case StateReconnecting:
		return "reconnecting"
	case StateDegraded:
		return "degraded"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Stats carries per-connector counters for the control surface.
type Stats struct {
	Exchange      string `json:"exchange"`
	State         string `json:"state"`
	MessagesRecv  uint64 `json:"messages_received"`
	BooksEmitted  uint64 `json:"books_emitted"`
	ParseErrors   uint64 `json:"parse_errors"`
	Reconnects    uint64 `json:"reconnects"`
	LastMessageTS int64  `json:"last_message_ts"`
}

// Connector is a market data feed for one exchange. Run blocks until the
// context is canceled, emitting normalized books on the channel passed at
// construction. Implementations own their reconnect loop.
type Connector interface {
	Name() string
	Run(ctx context.Context) error
	State() State
	Stats() Stats
}

// stateVar is an atomically readable connector state.
type stateVar struct {
	v atomic.Int32
}

func (s *stateVar) set(st State) { s.v.Store(int32(st)) }
func (s *stateVar) get() State   { return State(s.v.Load()) }

// BookSink receives normalized order books from connectors.
type BookSink chan<- *models.OrderBook
