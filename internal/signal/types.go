// Package signal implements debounced signal confirmation: repeated raw
// trading signals for the same symbol and direction collapse into a single
// tracked signal that is promoted once it reaches the confirmation threshold.
package signal

import (
	"time"

	"github.com/baouih/binance-sub015/internal/market"
)

// Action is the trade direction a signal proposes.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
)

// Status is the lifecycle state of a tracked signal.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusExecuted  Status = "executed"
	StatusExpired   Status = "expired"
)

// PartialEntry is one tranche of the staged entry plan.
type PartialEntry struct {
	Portion float64 `json:"portion"` // Fraction of total size, 0..1
	Price   float64 `json:"price"`
}

// OptimalEntry is the computed entry adjustment for a confirmed signal.
type OptimalEntry struct {
	Price     float64        `json:"price"`
	OffsetPct float64        `json:"offset_pct"`
	Rationale string         `json:"rationale"`
	Plan      []PartialEntry `json:"plan"`
}

// Signal is one deduplicated trading signal. At most one signal per
// (symbol, action) is in pending or confirmed state at a time.
type Signal struct {
	ID            string            `json:"id"`
	Symbol        string            `json:"symbol"`
	Action        Action            `json:"action"`
	Price         float64           `json:"price"` // Last observed reference price
	Indicators    market.Indicators `json:"indicators"`
	Confirmations int               `json:"confirmations"`
	Sources       []string          `json:"sources"`
	Status        Status            `json:"status"`
	CreatedAt     time.Time         `json:"created_at"`
	ExpiresAt     time.Time         `json:"expires_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
	Entry         *OptimalEntry     `json:"entry,omitempty"`
}

// Expired reports whether the signal's validity window has elapsed.
func (s *Signal) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// clone returns a deep copy safe to hand outside the manager's lock.
func (s *Signal) clone() *Signal {
	cp := *s
	cp.Sources = append([]string(nil), s.Sources...)
	if s.Entry != nil {
		entry := *s.Entry
		entry.Plan = append([]PartialEntry(nil), s.Entry.Plan...)
		cp.Entry = &entry
	}
	return &cp
}

// Persister receives signal snapshots after mutations. Implementations must
// not block; the manager invokes them outside its lock on copied data.
type Persister interface {
	PersistSignals(pending, confirmed map[string]Signal)
}
