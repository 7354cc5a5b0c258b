package signal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/baouih/binance-sub015/config"
	"github.com/baouih/binance-sub015/internal/market"
)

// Validation errors returned by Register. They never escalate further; a
// rejected call simply produces no signal.
var (
	ErrEmptySymbol   = errors.New("symbol must not be empty")
	ErrInvalidAction = errors.New("action must be BUY or SELL")
	ErrInvalidPrice  = errors.New("price must be positive")
	ErrNotFound      = errors.New("signal not found")
)

// Manager deduplicates and confirms trading signals per (symbol, action).
type Manager struct {
	mu        sync.Mutex
	active    map[string]*Signal // key: symbol|action, pending + confirmed only
	byID      map[string]*Signal
	cfg       config.SignalConfig
	persister Persister
	logger    zerolog.Logger
	now       func() time.Time
}

// NewManager creates a signal manager. persister may be nil.
func NewManager(cfg config.SignalConfig, persister Persister, logger zerolog.Logger) *Manager {
	return &Manager{
		active:    make(map[string]*Signal),
		byID:      make(map[string]*Signal),
		cfg:       cfg,
		persister: persister,
		logger:    logger.With().Str("component", "SignalManager").Logger(),
		now:       time.Now,
	}
}

func key(symbol string, action Action) string {
	return symbol + "|" + string(action)
}

// Restore loads a persisted snapshot into an empty manager at startup.
// Already-expired signals are dropped rather than revived.
func (m *Manager) Restore(pending, confirmed map[string]Signal) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	restored := 0
	for _, set := range []map[string]Signal{pending, confirmed} {
		for _, snap := range set {
			if snap.Expired(now) {
				continue
			}
			sig := snap
			m.active[key(sig.Symbol, sig.Action)] = &sig
			m.byID[sig.ID] = &sig
			restored++
		}
	}
	if restored > 0 {
		m.logger.Info().Int("count", restored).Msg("Signals restored from snapshot")
	}
	return restored
}

// Register records one observation of a raw trading signal. Repeated
// observations for the same (symbol, action) increment the confirmation
// counter; reaching the threshold promotes the signal to confirmed and
// computes its optimal entry.
func (m *Manager) Register(symbol string, action Action, price float64, indicators market.Indicators, source string) (*Signal, error) {
	if symbol == "" {
		return nil, ErrEmptySymbol
	}
	if action != ActionBuy && action != ActionSell {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAction, action)
	}
	if price <= 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrice, price)
	}

	m.mu.Lock()
	now := m.now()

	sig, exists := m.active[key(symbol, action)]
	if exists && sig.Expired(now) {
		m.expireLocked(sig, now)
		exists = false
	}

	switch {
	case !exists:
		sig = &Signal{
			ID:            uuid.NewString(),
			Symbol:        symbol,
			Action:        action,
			Price:         price,
			Indicators:    indicators,
			Confirmations: 1,
			Sources:       []string{source},
			Status:        StatusPending,
			CreatedAt:     now,
			ExpiresAt:     now.Add(m.cfg.ValidPeriod()),
			UpdatedAt:     now,
		}
		m.active[key(symbol, action)] = sig
		m.byID[sig.ID] = sig
		m.logger.Info().
			Str("signal_id", sig.ID).
			Str("symbol", symbol).
			Str("action", string(action)).
			Float64("price", price).
			Msg("New signal registered")

	case sig.Status == StatusConfirmed:
		// Confirmed signals are immutable; further observations are no-ops.

	default:
		sig.Confirmations++
		sig.Price = price
		sig.Indicators = indicators
		sig.UpdatedAt = now
		if !containsSource(sig.Sources, source) {
			sig.Sources = append(sig.Sources, source)
		}

		if sig.Confirmations >= m.cfg.ConfirmationThreshold {
			sig.Entry = computeOptimalEntry(action, price, m.cfg.BaseEntryOffsetPct, indicators)
			sig.Status = StatusConfirmed
			m.logger.Info().
				Str("signal_id", sig.ID).
				Str("symbol", symbol).
				Str("action", string(action)).
				Int("confirmations", sig.Confirmations).
				Float64("entry_price", sig.Entry.Price).
				Str("rationale", sig.Entry.Rationale).
				Msg("Signal confirmed")
		} else {
			m.logger.Debug().
				Str("signal_id", sig.ID).
				Int("confirmations", sig.Confirmations).
				Int("threshold", m.cfg.ConfirmationThreshold).
				Msg("Signal confirmation recorded")
		}
	}

	result := sig.clone()
	pending, confirmed := m.snapshotLocked()
	m.mu.Unlock()

	m.persist(pending, confirmed)
	return result, nil
}

// Executable returns all confirmed, non-expired signals. Expired entries
// found along the way are marked and dropped from the active set.
func (m *Manager) Executable() []*Signal {
	m.mu.Lock()
	now := m.now()

	var out []*Signal
	for _, sig := range m.active {
		if sig.Expired(now) {
			m.expireLocked(sig, now)
			continue
		}
		if sig.Status == StatusConfirmed {
			out = append(out, sig.clone())
		}
	}
	m.mu.Unlock()
	return out
}

// MarkExecuted transitions a confirmed signal to executed, removing it from
// the active set. Called by the order tracker on entry fill.
func (m *Manager) MarkExecuted(id string) error {
	m.mu.Lock()

	sig, ok := m.byID[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	sig.Status = StatusExecuted
	sig.UpdatedAt = m.now()
	delete(m.active, key(sig.Symbol, sig.Action))
	delete(m.byID, id)

	m.logger.Info().
		Str("signal_id", id).
		Str("symbol", sig.Symbol).
		Msg("Signal executed")

	pending, confirmed := m.snapshotLocked()
	m.mu.Unlock()

	m.persist(pending, confirmed)
	return nil
}

// HasActive reports whether a non-expired pending or confirmed signal exists
// for the symbol and action. The order tracker uses this to detect an
// opposite-direction signal against a resting order.
func (m *Manager) HasActive(symbol string, action Action) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	sig, ok := m.active[key(symbol, action)]
	return ok && !sig.Expired(m.now())
}

// SweepExpired drops expired pending signals and marks expired confirmed
// signals. Returns the number of signals swept.
func (m *Manager) SweepExpired() int {
	m.mu.Lock()
	now := m.now()

	swept := 0
	for _, sig := range m.active {
		if sig.Expired(now) {
			m.expireLocked(sig, now)
			swept++
		}
	}

	var pending, confirmed map[string]Signal
	if swept > 0 {
		pending, confirmed = m.snapshotLocked()
	}
	m.mu.Unlock()

	if swept > 0 {
		m.logger.Info().Int("count", swept).Msg("Expired signals swept")
		m.persist(pending, confirmed)
	}
	return swept
}

// Run executes the expiry sweep loop until the context is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.SweepInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.SweepExpired()
		}
	}
}

// Snapshot returns copies of all active signals, for the status surface.
func (m *Manager) Snapshot() []*Signal {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*Signal, 0, len(m.active))
	for _, sig := range m.active {
		out = append(out, sig.clone())
	}
	return out
}

// expireLocked finalizes one expired signal. Caller holds the lock.
func (m *Manager) expireLocked(sig *Signal, now time.Time) {
	sig.Status = StatusExpired
	sig.UpdatedAt = now
	delete(m.active, key(sig.Symbol, sig.Action))
	delete(m.byID, sig.ID)
	m.logger.Debug().
		Str("signal_id", sig.ID).
		Str("symbol", sig.Symbol).
		Msg("Signal expired")
}

// snapshotLocked copies active signals split by status. Caller holds the lock.
func (m *Manager) snapshotLocked() (pending, confirmed map[string]Signal) {
	pending = make(map[string]Signal)
	confirmed = make(map[string]Signal)
	for _, sig := range m.active {
		cp := *sig.clone()
		if sig.Status == StatusConfirmed {
			confirmed[sig.ID] = cp
		} else {
			pending[sig.ID] = cp
		}
	}
	return pending, confirmed
}

// persist hands copied state to the persister off the hot path. Snapshot
// failures are the store's concern; in-memory state stays authoritative.
func (m *Manager) persist(pending, confirmed map[string]Signal) {
	if m.persister == nil {
		return
	}
	m.persister.PersistSignals(pending, confirmed)
}

func containsSource(sources []string, source string) bool {
	for _, s := range sources {
		if s == source {
			return true
		}
	}
	return false
}
