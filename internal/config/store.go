package config

import (
	"fmt"
	"sync/atomic"
)

// Store holds the live configuration behind an atomic pointer so that
// readers never block and never see a half-applied reload.
//
// Reload replaces only the non-disruptive sections: detector thresholds,
// risk limits, slippage model, and alert settings. Sections that would
// require tearing down connections or listeners (exchanges, database,
// redis, api, monitoring, execution mode) keep their boot-time values;
// changed values there are reported back so the operator knows a restart
// is needed.
type Store struct {
	current atomic.Pointer[Config]
	path    string
}

// NewStore creates a store seeded with the boot configuration.
func NewStore(cfg *Config, path string) *Store {
	s := &Store{path: path}
	s.current.Store(cfg)
	return s
}

// Get returns the current configuration snapshot.
func (s *Store) Get() *Config {
	return s.current.Load()
}

// Reload re-reads the config file, validates it, and swaps in the
// non-disruptive sections. Returns the names of changed sections that
// were NOT applied because they require a restart.
func (s *Store) Reload() ([]string, error) {
	fresh, err := Load(s.path)
	if err != nil {
		return nil, fmt.Errorf("reload rejected: %w", err)
	}

	old := s.current.Load()
	next := *old
	next.Detector = fresh.Detector
	next.Risk = fresh.Risk
	next.Execution.Slippage = fresh.Execution.Slippage
	next.Alerts = fresh.Alerts
	next.App.LogLevel = fresh.App.LogLevel

	var skipped []string
	if fresh.Execution.Mode != old.Execution.Mode {
		skipped = append(skipped, "execution.mode")
	}
	if fresh.Database != old.Database {
		skipped = append(skipped, "database")
	}
	if fresh.Redis != old.Redis {
		skipped = append(skipped, "redis")
	}
	if fresh.API != old.API {
		skipped = append(skipped, "api")
	}
	if fresh.Monitoring != old.Monitoring {
		skipped = append(skipped, "monitoring")
	}
	if len(fresh.Exchanges) != len(old.Exchanges) {
		skipped = append(skipped, "exchanges")
	} else {
		for name := range fresh.Exchanges {
			if !exchangeEqual(fresh.Exchanges[name], old.Exchanges[name]) {
				skipped = append(skipped, "exchanges."+name)
			}
		}
	}

	s.current.Store(&next)
	return skipped, nil
}

func exchangeEqual(a, b ExchangeConfig) bool {
	if a.Enabled != b.Enabled || a.WSURL != b.WSURL || a.RESTURL != b.RESTURL ||
		a.Depth != b.Depth || a.TakerFee != b.TakerFee || a.MakerFee != b.MakerFee ||
		a.RateLimit != b.RateLimit || a.WebSocket != b.WebSocket || a.Testnet != b.Testnet {
		return false
	}
	if len(a.Symbols) != len(b.Symbols) {
		return false
	}
	for i := range a.Symbols {
		if a.Symbols[i] != b.Symbols[i] {
			return false
		}
	}
	return true
}
