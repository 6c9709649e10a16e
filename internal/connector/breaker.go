package connector

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/arbot-io/arbot/internal/metrics"
)

// NewTransportBreaker builds the circuit breaker guarding one exchange's
// REST transport. It opens after 5 consecutive failures or a >60%
// failure ratio, holds open for 30s, then probes with 3 half-open
// requests.
func NewTransportBreaker(exchange string, log zerolog.Logger) *gobreaker.CircuitBreaker {
	settings := gobreaker.Settings{
		Name:        exchange + "-rest",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.ConsecutiveFailures >= 5 {
				return true
			}
			if counts.Requests < 10 {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio > 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Transport breaker state change")
			metrics.TransportBreakerState.WithLabelValues(exchange).Set(breakerStateValue(to))
		},
	}
	return gobreaker.NewCircuitBreaker(settings)
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 2
	}
}
