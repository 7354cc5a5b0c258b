// Package orders tracks pending entry orders from placement until they fill,
// cancel, or expire, and evaluates the cancellation policy against live
// market and indicator snapshots.
package orders

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/baouih/binance-sub015/config"
	"github.com/baouih/binance-sub015/internal/market"
	"github.com/baouih/binance-sub015/internal/signal"
)

// OrderStatus is the lifecycle state of a pending order.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusExpired   OrderStatus = "expired"
)

// PendingOrder is an entry order awaiting a fill. Terminal orders are not
// retained; only pending orders live in the tracker.
type PendingOrder struct {
	ID         string        `json:"id"`
	Symbol     string        `json:"symbol"`
	Action     signal.Action `json:"action"`
	Price      float64       `json:"price"`
	Quantity   float64       `json:"quantity"`
	StopLoss   float64       `json:"stop_loss"`
	TakeProfit float64       `json:"take_profit"`
	Status     OrderStatus   `json:"status"`
	SignalID   string        `json:"signal_id,omitempty"`
	// Indicators is the originating signal's last indicator snapshot,
	// used as a fallback when no fresher snapshot reaches CheckCancel.
	Indicators market.Indicators `json:"indicators,omitempty"`
	FillPrice  float64           `json:"fill_price,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	ExpiresAt  time.Time         `json:"expires_at"`
}

// CancelDecision pairs an order with the first cancellation rule it matched.
type CancelDecision struct {
	Order  PendingOrder
	Reason string
}

// SignalBackRef is the slice of the signal manager the tracker needs: marking
// an originating signal executed on fill, and spotting opposite-direction
// signals against a resting order.
type SignalBackRef interface {
	MarkExecuted(id string) error
	HasActive(symbol string, action signal.Action) bool
}

// Persister receives order snapshots after mutations, outside the lock.
type Persister interface {
	PersistOrders(orders map[string]PendingOrder)
}

// Errors returned by the tracker.
var (
	ErrOrderNotFound = errors.New("pending order not found")
	ErrOrderExists   = errors.New("order already tracked")
	ErrBadOrderInput = errors.New("invalid order input")
)

// Tracker owns the active pending order set.
type Tracker struct {
	mu        sync.Mutex
	orders    map[string]*PendingOrder
	cfg       config.OrderConfig
	signals   SignalBackRef
	persister Persister
	logger    zerolog.Logger
	now       func() time.Time
}

// NewTracker creates a pending order tracker. signals and persister may be nil.
func NewTracker(cfg config.OrderConfig, signals SignalBackRef, persister Persister, logger zerolog.Logger) *Tracker {
	return &Tracker{
		orders:    make(map[string]*PendingOrder),
		cfg:       cfg,
		signals:   signals,
		persister: persister,
		logger:    logger.With().Str("component", "PendingOrderTracker").Logger(),
		now:       time.Now,
	}
}

// Restore loads a persisted snapshot into an empty tracker at startup.
// Orders already past expiry are dropped rather than revived.
func (t *Tracker) Restore(snapshot map[string]PendingOrder) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	restored := 0
	for id, snap := range snapshot {
		if now.After(snap.ExpiresAt) || snap.Status != OrderStatusPending {
			continue
		}
		order := snap
		t.orders[id] = &order
		restored++
	}
	if restored > 0 {
		t.logger.Info().Int("count", restored).Msg("Pending orders restored from snapshot")
	}
	return restored
}

// Register starts tracking a newly placed order. signalID may be empty for
// orders placed outside the signal flow; indicators carries the originating
// signal's snapshot for the cancellation policy.
func (t *Tracker) Register(symbol string, action signal.Action, price, qty, stopLoss, takeProfit float64, orderID, signalID string, indicators market.Indicators) (*PendingOrder, error) {
	if symbol == "" || orderID == "" {
		return nil, fmt.Errorf("%w: symbol and order id are required", ErrBadOrderInput)
	}
	if price <= 0 || qty <= 0 {
		return nil, fmt.Errorf("%w: price and quantity must be positive", ErrBadOrderInput)
	}

	t.mu.Lock()
	if _, ok := t.orders[orderID]; ok {
		t.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrOrderExists, orderID)
	}

	now := t.now()
	order := &PendingOrder{
		ID:         orderID,
		Symbol:     symbol,
		Action:     action,
		Price:      price,
		Quantity:   qty,
		StopLoss:   stopLoss,
		TakeProfit: takeProfit,
		Status:     OrderStatusPending,
		SignalID:   signalID,
		Indicators: indicators,
		CreatedAt:  now,
		ExpiresAt:  now.Add(t.cfg.Timeout()),
	}
	t.orders[orderID] = order

	result := *order
	snapshot := t.snapshotLocked()
	t.mu.Unlock()

	t.logger.Info().
		Str("order_id", orderID).
		Str("symbol", symbol).
		Str("action", string(action)).
		Float64("price", price).
		Float64("quantity", qty).
		Str("signal_id", signalID).
		Msg("Pending order registered")

	t.persist(snapshot)
	return &result, nil
}

// UpdateStatus applies a lifecycle transition. A fill records the fill price
// and marks the originating signal executed; any terminal status removes the
// order from the active set.
func (t *Tracker) UpdateStatus(orderID string, status OrderStatus, fillPrice float64) error {
	t.mu.Lock()
	order, ok := t.orders[orderID]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}

	order.Status = status
	signalID := order.SignalID
	if status == OrderStatusFilled {
		order.FillPrice = fillPrice
	}
	if status != OrderStatusPending {
		delete(t.orders, orderID)
	}

	snapshot := t.snapshotLocked()
	t.mu.Unlock()

	t.logger.Info().
		Str("order_id", orderID).
		Str("status", string(status)).
		Float64("fill_price", fillPrice).
		Msg("Order status updated")

	if status == OrderStatusFilled && signalID != "" && t.signals != nil {
		if err := t.signals.MarkExecuted(signalID); err != nil {
			t.logger.Warn().
				Err(err).
				Str("signal_id", signalID).
				Msg("Could not mark originating signal executed")
		}
	}

	t.persist(snapshot)
	return nil
}

// Active returns copies of all tracked orders.
func (t *Tracker) Active() []PendingOrder {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]PendingOrder, 0, len(t.orders))
	for _, o := range t.orders {
		out = append(out, *o)
	}
	return out
}

// SweepExpired removes orders past their expiry and returns them so the
// caller can cancel them on the exchange.
func (t *Tracker) SweepExpired() []PendingOrder {
	t.mu.Lock()
	now := t.now()

	var expired []PendingOrder
	for id, o := range t.orders {
		if now.After(o.ExpiresAt) {
			o.Status = OrderStatusExpired
			expired = append(expired, *o)
			delete(t.orders, id)
		}
	}

	var snapshot map[string]PendingOrder
	if len(expired) > 0 {
		snapshot = t.snapshotLocked()
	}
	t.mu.Unlock()

	if len(expired) > 0 {
		t.logger.Info().Int("count", len(expired)).Msg("Expired pending orders swept")
		t.persist(snapshot)
	}
	return expired
}

// Run executes the expiry sweep loop until the context is cancelled. Expired
// orders found here are surfaced through the onExpired callback.
func (t *Tracker) Run(ctx context.Context, onExpired func([]PendingOrder)) error {
	ticker := time.NewTicker(t.cfg.SweepInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if expired := t.SweepExpired(); len(expired) > 0 && onExpired != nil {
				onExpired(expired)
			}
		}
	}
}

func (t *Tracker) snapshotLocked() map[string]PendingOrder {
	snapshot := make(map[string]PendingOrder, len(t.orders))
	for id, o := range t.orders {
		snapshot[id] = *o
	}
	return snapshot
}

func (t *Tracker) persist(snapshot map[string]PendingOrder) {
	if t.persister == nil {
		return
	}
	t.persister.PersistOrders(snapshot)
}
