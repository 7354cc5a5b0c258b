// Package notify fans trading events out to the configured notification
// providers. Delivery is best effort: a failing provider is logged and never
// blocks the trading path.
package notify

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// EventType classifies a notification.
type EventType string

const (
	EventSignalConfirmed EventType = "signal_confirmed"
	EventOrderCancelled  EventType = "order_cancelled"
	EventTradeClosed     EventType = "trade_closed"
	EventWorkerDown      EventType = "worker_down"
	EventInfo            EventType = "info"
)

// Notification is one event delivered to all providers.
type Notification struct {
	Type      EventType              `json:"type"`
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	Symbol    string                 `json:"symbol,omitempty"`
	Price     float64                `json:"price,omitempty"`
	ProfitPct float64                `json:"profit_pct,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Extra     map[string]interface{} `json:"extra,omitempty"`
}

// Notifier is one delivery provider.
type Notifier interface {
	Send(n *Notification) error
	Name() string
	Enabled() bool
}

// Manager fans notifications out to every enabled provider.
type Manager struct {
	notifiers []Notifier
	logger    zerolog.Logger
}

// NewManager creates an empty notification manager.
func NewManager(logger zerolog.Logger) *Manager {
	return &Manager{
		logger: logger.With().Str("component", "NotificationManager").Logger(),
	}
}

// Add registers a provider.
func (m *Manager) Add(n Notifier) {
	m.notifiers = append(m.notifiers, n)
}

// Send delivers the notification to all enabled providers. Provider failures
// are logged; the last one is returned for callers that care.
func (m *Manager) Send(n *Notification) error {
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}

	var lastErr error
	for _, notifier := range m.notifiers {
		if !notifier.Enabled() {
			continue
		}
		if err := notifier.Send(n); err != nil {
			m.logger.Error().
				Err(err).
				Str("provider", notifier.Name()).
				Str("type", string(n.Type)).
				Msg("Notification delivery failed")
			lastErr = err
		}
	}
	return lastErr
}

// SendSignalConfirmed reports a signal reaching the confirmation threshold.
func (m *Manager) SendSignalConfirmed(symbol, action string, price, entryPrice float64) error {
	return m.Send(&Notification{
		Type:    EventSignalConfirmed,
		Title:   fmt.Sprintf("Signal confirmed: %s", symbol),
		Message: fmt.Sprintf("%s %s @ %.4f\nOptimal entry: %.4f", action, symbol, price, entryPrice),
		Symbol:  symbol,
		Price:   price,
		Extra: map[string]interface{}{
			"action":      action,
			"entry_price": entryPrice,
		},
	})
}

// SendOrderCancelled reports a pending order pulled by the cancel policy.
func (m *Manager) SendOrderCancelled(symbol, orderID, reason string) error {
	return m.Send(&Notification{
		Type:    EventOrderCancelled,
		Title:   fmt.Sprintf("Order cancelled: %s", symbol),
		Message: fmt.Sprintf("Order %s cancelled\nReason: %s", orderID, reason),
		Symbol:  symbol,
		Extra:   map[string]interface{}{"order_id": orderID, "reason": reason},
	})
}

// SendTradeClosed reports a position exit with its realized result.
func (m *Manager) SendTradeClosed(symbol, reason string, entryPrice, closePrice, profitPct float64) error {
	return m.Send(&Notification{
		Type:      EventTradeClosed,
		Title:     fmt.Sprintf("Trade closed: %s", symbol),
		Message:   fmt.Sprintf("Entry %.4f, exit %.4f (%.2f%%)\nReason: %s", entryPrice, closePrice, profitPct, reason),
		Symbol:    symbol,
		Price:     closePrice,
		ProfitPct: profitPct,
		Extra:     map[string]interface{}{"reason": reason, "entry_price": entryPrice},
	})
}

// SendWorkerDown reports a supervised worker dying.
func (m *Manager) SendWorkerDown(worker string, err error) error {
	return m.Send(&Notification{
		Type:    EventWorkerDown,
		Title:   fmt.Sprintf("Worker down: %s", worker),
		Message: err.Error(),
		Extra:   map[string]interface{}{"worker": worker},
	})
}
