package connector

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/arbot-io/arbot/internal/config"
)

// Registry builds and supervises one connector per enabled exchange.
type Registry struct {
	connectors map[string]Connector
}

// NewRegistry constructs connectors for every enabled exchange in the
// config, all writing into the same sink.
func NewRegistry(exchanges map[string]config.ExchangeConfig, sink BookSink) (*Registry, error) {
	r := &Registry{connectors: make(map[string]Connector)}

	for name, cfg := range exchanges {
		if !cfg.Enabled {
			continue
		}
		log := config.NewExchangeLogger(name)

		var (
			c   Connector
			err error
		)
		switch name {
		case "binance":
			c, err = NewBinanceConnector(cfg, sink, log)
		case "bybit":
			c, err = NewBybitConnector(cfg, sink, log)
		case "okx":
			c, err = NewOKXConnector(cfg, sink, log)
		default:
			return nil, fmt.Errorf("unsupported exchange %q", name)
		}
		if err != nil {
			return nil, fmt.Errorf("build connector %s: %w", name, err)
		}
		r.connectors[name] = c
	}

	if len(r.connectors) == 0 {
		return nil, fmt.Errorf("no exchanges enabled")
	}
	return r, nil
}

// Run starts every connector and blocks until the context is canceled.
// Connectors own their reconnect loops, so a returned error is terminal.
func (r *Registry) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, c := range r.connectors {
		conn := c
		g.Go(func() error {
			return conn.Run(ctx)
		})
	}
	return g.Wait()
}

// Get returns the connector for an exchange, if present.
func (r *Registry) Get(exchange string) (Connector, bool) {
	c, ok := r.connectors[exchange]
	return c, ok
}

// Names returns the enabled exchange names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.connectors))
	for name := range r.connectors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Stats returns a stats snapshot per connector, sorted by exchange.
func (r *Registry) Stats() []Stats {
	out := make([]Stats, 0, len(r.connectors))
	for _, name := range r.Names() {
		out = append(out, r.connectors[name].Stats())
	}
	return out
}
