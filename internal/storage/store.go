// Package storage persists manager state snapshots so a restarted service
// can resume tracking. Managers hand copied state to the store on every
// mutation; writes to the backend are batched by a dirty-flag flusher.
package storage

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/baouih/binance-sub015/internal/orders"
	"github.com/baouih/binance-sub015/internal/signal"
	"github.com/baouih/binance-sub015/internal/trailing"
)

// State is the combined manager snapshot written to the state file.
type State struct {
	PendingSignals   map[string]signal.Signal       `json:"pending_signals"`
	ConfirmedSignals map[string]signal.Signal       `json:"confirmed_signals"`
	PendingOrders    map[string]orders.PendingOrder `json:"pending_orders"`
	UpdatedAt        time.Time                      `json:"updated_at"`
}

// Backend writes and reads snapshots. Implementations: file, redis.
type Backend interface {
	SaveState(state State) error
	LoadState() (*State, error)
	SavePositions(positions []trailing.Position) error
	LoadPositions() ([]trailing.Position, error)
}

// Store implements the persister interfaces of the signal and order managers
// and buffers snapshots until the next flush.
type Store struct {
	mu             sync.Mutex
	state          State
	positions      []trailing.Position
	dirtyState     bool
	dirtyPositions bool

	backend Backend
	logger  zerolog.Logger
}

// NewStore creates a snapshot store over the given backend.
func NewStore(backend Backend, logger zerolog.Logger) *Store {
	return &Store{
		backend: backend,
		logger:  logger.With().Str("component", "SnapshotStore").Logger(),
	}
}

// PersistSignals buffers the latest signal snapshot.
func (s *Store) PersistSignals(pending, confirmed map[string]signal.Signal) {
	s.mu.Lock()
	s.state.PendingSignals = pending
	s.state.ConfirmedSignals = confirmed
	s.state.UpdatedAt = time.Now()
	s.dirtyState = true
	s.mu.Unlock()
}

// PersistOrders buffers the latest pending order snapshot.
func (s *Store) PersistOrders(orderSet map[string]orders.PendingOrder) {
	s.mu.Lock()
	s.state.PendingOrders = orderSet
	s.state.UpdatedAt = time.Now()
	s.dirtyState = true
	s.mu.Unlock()
}

// PersistPositions buffers the latest tracked position snapshot.
func (s *Store) PersistPositions(positions []trailing.Position) {
	s.mu.Lock()
	s.positions = positions
	s.dirtyPositions = true
	s.mu.Unlock()
}

// Flush writes any dirty snapshots to the backend. In-memory manager state
// stays authoritative; a failed write is logged and retried on the next
// flush because the dirty flag is only cleared on success.
func (s *Store) Flush() {
	s.mu.Lock()
	writeState := s.dirtyState
	writePositions := s.dirtyPositions
	state := s.state
	positions := s.positions
	s.mu.Unlock()

	if writeState {
		if err := s.backend.SaveState(state); err != nil {
			s.logger.Error().Err(err).Msg("State snapshot write failed")
		} else {
			s.mu.Lock()
			s.dirtyState = false
			s.mu.Unlock()
		}
	}
	if writePositions {
		if err := s.backend.SavePositions(positions); err != nil {
			s.logger.Error().Err(err).Msg("Position snapshot write failed")
		} else {
			s.mu.Lock()
			s.dirtyPositions = false
			s.mu.Unlock()
		}
	}
}

// Run flushes on a fixed cadence until the context is cancelled, then does a
// final flush so shutdown never loses the last snapshot.
func (s *Store) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.Flush()
			return ctx.Err()
		case <-ticker.C:
			s.Flush()
		}
	}
}

// Load reads the last saved state from the backend, for startup restore.
// A missing snapshot returns nil state and no error.
func (s *Store) Load() (*State, error) {
	return s.backend.LoadState()
}

// LoadPositions reads the last saved position set from the backend.
func (s *Store) LoadPositions() ([]trailing.Position, error) {
	return s.backend.LoadPositions()
}
