// Package alerts fans operational alerts out to the configured sinks,
// coalescing repeats of the same category and key within the throttle
// window so a flapping connector cannot flood Telegram.
package alerts

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Severity levels for alerts.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// Alert categories used by the pipeline.
const (
	CategoryCircuitBreaker = "circuit_breaker"
	CategoryDrawdown       = "drawdown"
	CategoryConnector      = "connector"
	CategoryExecution      = "execution"
	CategorySystem         = "system"
)

// Alert is one operational event worth a human's attention. Category
// and Key identify the throttle bucket: repeats of the same pair inside
// the window are dropped.
type Alert struct {
	Category  string
	Key       string
	Title     string
	Message   string
	Severity  Severity
	Timestamp time.Time
	Fields    map[string]any
}

// Alerter delivers an alert to one sink.
type Alerter interface {
	Send(ctx context.Context, alert Alert) error
}

// Manager throttles and fans alerts out to every sink.
type Manager struct {
	alerters []Alerter
	throttle time.Duration
	log      zerolog.Logger
	now      func() time.Time

	mu       sync.Mutex
	lastSent map[string]time.Time
}

// NewManager creates a manager with the given throttle window. A zero
// window disables coalescing.
func NewManager(throttle time.Duration, log zerolog.Logger, alerters ...Alerter) *Manager {
	return &Manager{
		alerters: alerters,
		throttle: throttle,
		log:      log.With().Str("component", "alerts").Logger(),
		now:      time.Now,
		lastSent: make(map[string]time.Time),
	}
}

// SetThrottle swaps the coalescing window, e.g. after a config reload.
func (m *Manager) SetThrottle(throttle time.Duration) {
	m.mu.Lock()
	m.throttle = throttle
	m.mu.Unlock()
}

// Send delivers one alert unless an identical category+key fired within
// the throttle window. Returns the last sink error, if any.
func (m *Manager) Send(ctx context.Context, alert Alert) error {
	if alert.Timestamp.IsZero() {
		alert.Timestamp = m.now().UTC()
	}

	if m.throttled(alert) {
		m.log.Debug().
			Str("category", alert.Category).
			Str("key", alert.Key).
			Msg("Alert throttled")
		return nil
	}

	var lastErr error
	for _, alerter := range m.alerters {
		if err := alerter.Send(ctx, alert); err != nil {
			m.log.Error().Err(err).Str("title", alert.Title).Msg("Alert delivery failed")
			lastErr = err
		}
	}
	return lastErr
}

func (m *Manager) throttled(alert Alert) bool {
	bucket := alert.Category + "|" + alert.Key

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.throttle <= 0 {
		return false
	}

	now := m.now()
	if last, ok := m.lastSent[bucket]; ok && now.Sub(last) < m.throttle {
		return true
	}
	m.lastSent[bucket] = now
	return false
}

// Critical sends a CRITICAL alert.
func (m *Manager) Critical(ctx context.Context, category, key, title, message string, fields map[string]any) error {
	return m.Send(ctx, Alert{
		Category: category, Key: key,
		Title: title, Message: message,
		Severity: SeverityCritical, Fields: fields,
	})
}

// Warning sends a WARNING alert.
func (m *Manager) Warning(ctx context.Context, category, key, title, message string, fields map[string]any) error {
	return m.Send(ctx, Alert{
		Category: category, Key: key,
		Title: title, Message: message,
		Severity: SeverityWarning, Fields: fields,
	})
}

// Info sends an INFO alert.
func (m *Manager) Info(ctx context.Context, category, key, title, message string, fields map[string]any) error {
	return m.Send(ctx, Alert{
		Category: category, Key: key,
		Title: title, Message: message,
		Severity: SeverityInfo, Fields: fields,
	})
}

// LogAlerter writes alerts to the structured log. Always configured, so
// every alert leaves a trace even when Telegram is down.
type LogAlerter struct {
	log zerolog.Logger
}

// NewLogAlerter creates a log-backed sink.
func NewLogAlerter(log zerolog.Logger) *LogAlerter {
	return &LogAlerter{log: log}
}

// Send implements Alerter.
func (l *LogAlerter) Send(_ context.Context, alert Alert) error {
	var event *zerolog.Event
	switch alert.Severity {
	case SeverityCritical:
		event = l.log.Error()
	case SeverityWarning:
		event = l.log.Warn()
	default:
		event = l.log.Info()
	}

	for key, value := range alert.Fields {
		event = event.Interface(key, value)
	}
	event.
		Str("alert_category", alert.Category).
		Str("alert_title", alert.Title).
		Str("alert_severity", string(alert.Severity)).
		Msg(alert.Message)
	return nil
}
