// Package trailing tracks open positions as price ticks arrive and ratchets
// exit stops in the position's favor. Exits fire on take-profit, stop-loss,
// trailing-stop cross, or manual close.
package trailing

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/baouih/binance-sub015/config"
)

// Direction is the side of a tracked position.
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// CloseReason labels why a position was closed.
type CloseReason string

const (
	CloseStopLoss    CloseReason = "stop_loss"
	CloseTakeProfit  CloseReason = "take_profit"
	CloseTrailing    CloseReason = "trailing_stop"
	CloseEndOfPeriod CloseReason = "end_of_period"
)

// manualReason prefixes an operator-supplied close reason.
func manualReason(reason string) CloseReason {
	return CloseReason("manual_" + strings.ReplaceAll(reason, " ", "_"))
}

// Position is one tracked open position.
type Position struct {
	TrackingID     string    `json:"tracking_id"`
	Symbol         string    `json:"symbol"`
	OrderID        string    `json:"order_id"`
	EntryPrice     float64   `json:"entry_price"`
	Size           float64   `json:"size"`
	Direction      Direction `json:"direction"`
	StopLoss       float64   `json:"stop_loss"`
	TakeProfit     float64   `json:"take_profit"`
	HighestPrice   float64   `json:"highest_price"`
	LowestPrice    float64   `json:"lowest_price"`
	TrailingActive bool      `json:"trailing_active"`
	TrailingStop   float64   `json:"trailing_stop"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ClosedPosition is the record produced when a position exits.
type ClosedPosition struct {
	Position
	ClosePrice float64     `json:"close_price"`
	Reason     CloseReason `json:"reason"`
	ProfitPct  float64     `json:"profit_pct"`
	ClosedAt   time.Time   `json:"closed_at"`
}

// Stats aggregates trailing performance across closed positions.
type Stats struct {
	TrailingExits     int     `json:"trailing_exits"`
	TrailingProfitPct float64 `json:"trailing_profit_pct"` // Cumulative realized profit on trailing exits
	PreservedPct      float64 `json:"preserved_pct"`       // Profit beyond a naive exit at activation
}

// ExchangeCloser closes a position on the exchange. Calls are best effort:
// failures are logged and never block the internal state transition.
type ExchangeCloser interface {
	ClosePosition(symbol string, direction Direction, size float64) error
}

// Errors returned by the engine.
var (
	ErrBadPosition = errors.New("invalid position input")
)

type pricePoint struct {
	price float64
	time  time.Time
}

// Engine owns the active position set and per-symbol price history.
type Engine struct {
	mu        sync.Mutex
	positions map[string]*Position            // tracking id -> position
	bySymbol  map[string]map[string]*Position // symbol -> tracking id set
	history   map[string][]pricePoint
	lastPrice map[string]float64
	closed    []ClosedPosition
	stats     Stats

	cfg    config.TrailingConfig
	closer ExchangeCloser
	logger zerolog.Logger
	now    func() time.Time

	// OnClose, when set, observes every closed position (notifications,
	// journal). Invoked outside the engine lock.
	OnClose func(ClosedPosition)
}

// NewEngine creates a trailing stop engine. closer may be nil for paper runs.
func NewEngine(cfg config.TrailingConfig, closer ExchangeCloser, logger zerolog.Logger) *Engine {
	return &Engine{
		positions: make(map[string]*Position),
		bySymbol:  make(map[string]map[string]*Position),
		history:   make(map[string][]pricePoint),
		lastPrice: make(map[string]float64),
		cfg:       cfg,
		closer:    closer,
		logger:    logger.With().Str("component", "TrailingStopEngine").Logger(),
		now:       time.Now,
	}
}

// Register begins tracking a filled position. A zero stopLoss defaults to the
// configured percentage from entry; a zero takeProfit disables that exit.
func (e *Engine) Register(symbol, orderID string, entryPrice, size float64, direction Direction, stopLoss, takeProfit float64) (string, error) {
	if symbol == "" {
		return "", fmt.Errorf("%w: symbol is required", ErrBadPosition)
	}
	if direction != DirectionLong && direction != DirectionShort {
		return "", fmt.Errorf("%w: direction %q", ErrBadPosition, direction)
	}
	if entryPrice <= 0 || size <= 0 {
		return "", fmt.Errorf("%w: entry price and size must be positive", ErrBadPosition)
	}

	if stopLoss == 0 {
		if direction == DirectionLong {
			stopLoss = entryPrice * (1 - e.cfg.DefaultStopLossPct/100)
		} else {
			stopLoss = entryPrice * (1 + e.cfg.DefaultStopLossPct/100)
		}
	}

	now := e.now()
	pos := &Position{
		TrackingID:   uuid.NewString(),
		Symbol:       symbol,
		OrderID:      orderID,
		EntryPrice:   entryPrice,
		Size:         size,
		Direction:    direction,
		StopLoss:     stopLoss,
		TakeProfit:   takeProfit,
		HighestPrice: entryPrice,
		LowestPrice:  entryPrice,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	e.mu.Lock()
	e.positions[pos.TrackingID] = pos
	if e.bySymbol[symbol] == nil {
		e.bySymbol[symbol] = make(map[string]*Position)
	}
	e.bySymbol[symbol][pos.TrackingID] = pos
	e.mu.Unlock()

	e.logger.Info().
		Str("tracking_id", pos.TrackingID).
		Str("symbol", symbol).
		Str("direction", string(direction)).
		Float64("entry_price", entryPrice).
		Float64("stop_loss", stopLoss).
		Float64("take_profit", takeProfit).
		Msg("Position registered for trailing")

	return pos.TrackingID, nil
}

// Restore loads a persisted position snapshot into an empty engine at
// startup so open positions keep their trailing state across restarts.
func (e *Engine) Restore(positions []Position) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	restored := 0
	for _, snap := range positions {
		if snap.TrackingID == "" || snap.Symbol == "" {
			continue
		}
		pos := snap
		e.positions[pos.TrackingID] = &pos
		if e.bySymbol[pos.Symbol] == nil {
			e.bySymbol[pos.Symbol] = make(map[string]*Position)
		}
		e.bySymbol[pos.Symbol][pos.TrackingID] = &pos
		restored++
	}
	if restored > 0 {
		e.logger.Info().Int("count", restored).Msg("Positions restored from snapshot")
	}
	return restored
}

// IsTracked reports whether any tracked position originated from the order.
func (e *Engine) IsTracked(symbol, orderID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, pos := range e.bySymbol[symbol] {
		if pos.OrderID == orderID {
			return true
		}
	}
	return false
}

// UpdatePrice records a tick and evaluates exits for every position on the
// symbol. All positions sharing the symbol are updated atomically relative to
// this tick; different symbols may interleave.
func (e *Engine) UpdatePrice(symbol string, price float64, ts time.Time) {
	if price <= 0 {
		e.logger.Warn().Str("symbol", symbol).Float64("price", price).Msg("Ignoring non-positive price")
		return
	}

	e.mu.Lock()
	e.lastPrice[symbol] = price
	e.appendHistoryLocked(symbol, price, ts)

	var exits []ClosedPosition
	for _, pos := range e.bySymbol[symbol] {
		if exit := e.evaluateLocked(pos, price, ts); exit != nil {
			exits = append(exits, *exit)
		}
	}
	for _, exit := range exits {
		e.removeLocked(exit.TrackingID)
		e.recordCloseLocked(exit)
	}
	e.mu.Unlock()

	for _, exit := range exits {
		e.finalizeClose(exit)
	}
}

// evaluateLocked applies the exit precedence to one position and returns the
// exit record if any condition fired. Caller holds the lock.
func (e *Engine) evaluateLocked(pos *Position, price float64, ts time.Time) *ClosedPosition {
	pos.UpdatedAt = ts

	// 1. Take profit.
	if pos.TakeProfit > 0 {
		if (pos.Direction == DirectionLong && price >= pos.TakeProfit) ||
			(pos.Direction == DirectionShort && price <= pos.TakeProfit) {
			return e.exitLocked(pos, price, CloseTakeProfit, ts)
		}
	}

	// 2. Static stop loss.
	if (pos.Direction == DirectionLong && price <= pos.StopLoss) ||
		(pos.Direction == DirectionShort && price >= pos.StopLoss) {
		return e.exitLocked(pos, price, CloseStopLoss, ts)
	}

	// Track favorable extremes before trailing decisions.
	if price > pos.HighestPrice {
		pos.HighestPrice = price
	}
	if price < pos.LowestPrice {
		pos.LowestPrice = price
	}

	profitPct := profitPercent(pos, price)

	// 3. Activation: once profit clears the threshold, seed a trailing stop
	// tighter than the static stop.
	if !pos.TrailingActive && profitPct >= e.cfg.ActivationPct {
		pos.TrailingActive = true
		pos.TrailingStop = e.trailingLevel(pos)
		e.logger.Info().
			Str("tracking_id", pos.TrackingID).
			Str("symbol", pos.Symbol).
			Float64("profit_pct", profitPct).
			Float64("trailing_stop", pos.TrailingStop).
			Msg("Trailing stop activated")
	}

	// 4. Ratchet and cross check.
	if pos.TrailingActive {
		level := e.trailingLevel(pos)
		if pos.Direction == DirectionLong && level > pos.TrailingStop {
			e.logger.Debug().
				Str("tracking_id", pos.TrackingID).
				Float64("old", pos.TrailingStop).
				Float64("new", level).
				Msg("Trailing stop raised")
			pos.TrailingStop = level
		}
		if pos.Direction == DirectionShort && level < pos.TrailingStop {
			e.logger.Debug().
				Str("tracking_id", pos.TrackingID).
				Float64("old", pos.TrailingStop).
				Float64("new", level).
				Msg("Trailing stop lowered")
			pos.TrailingStop = level
		}

		if (pos.Direction == DirectionLong && price <= pos.TrailingStop) ||
			(pos.Direction == DirectionShort && price >= pos.TrailingStop) {
			return e.exitLocked(pos, price, CloseTrailing, ts)
		}
	}

	return nil
}

// trailingLevel computes the stop implied by the favorable extreme, bounded
// by the minimum-profit protection floor.
func (e *Engine) trailingLevel(pos *Position) float64 {
	if pos.Direction == DirectionLong {
		level := pos.HighestPrice * (1 - e.cfg.TrailingStepPct/100)
		floor := pos.EntryPrice * (1 + e.cfg.MinProfitPct/100)
		if level < floor {
			level = floor
		}
		return level
	}
	level := pos.LowestPrice * (1 + e.cfg.TrailingStepPct/100)
	ceil := pos.EntryPrice * (1 - e.cfg.MinProfitPct/100)
	if level > ceil {
		level = ceil
	}
	return level
}

// ManualClose forces an exit outside the price-driven path. An unknown
// tracking id is a no-op with a warning, never an error.
func (e *Engine) ManualClose(trackingID, reason string) *ClosedPosition {
	e.mu.Lock()
	pos, ok := e.positions[trackingID]
	if !ok {
		e.mu.Unlock()
		e.logger.Warn().Str("tracking_id", trackingID).Msg("Manual close for unknown tracking id")
		return nil
	}

	price, ok := e.lastPrice[pos.Symbol]
	if !ok {
		price = pos.EntryPrice
	}
	exit := e.exitLocked(pos, price, manualReason(reason), e.now())
	e.removeLocked(trackingID)
	e.recordCloseLocked(*exit)
	e.mu.Unlock()

	e.finalizeClose(*exit)
	return exit
}

// CloseAll force-closes every tracked position, used at end of a run.
func (e *Engine) CloseAll(reason CloseReason) []ClosedPosition {
	e.mu.Lock()
	var exits []ClosedPosition
	for _, pos := range e.positions {
		price, ok := e.lastPrice[pos.Symbol]
		if !ok {
			price = pos.EntryPrice
		}
		exit := e.exitLocked(pos, price, reason, e.now())
		exits = append(exits, *exit)
	}
	for _, exit := range exits {
		e.removeLocked(exit.TrackingID)
		e.recordCloseLocked(exit)
	}
	e.mu.Unlock()

	for _, exit := range exits {
		e.finalizeClose(exit)
	}
	return exits
}

// exitLocked builds the close record for a position. Caller holds the lock.
func (e *Engine) exitLocked(pos *Position, price float64, reason CloseReason, ts time.Time) *ClosedPosition {
	return &ClosedPosition{
		Position:   *pos,
		ClosePrice: price,
		Reason:     reason,
		ProfitPct:  profitPercent(pos, price),
		ClosedAt:   ts,
	}
}

func (e *Engine) removeLocked(trackingID string) {
	pos, ok := e.positions[trackingID]
	if !ok {
		return
	}
	delete(e.positions, trackingID)
	if set := e.bySymbol[pos.Symbol]; set != nil {
		delete(set, trackingID)
		if len(set) == 0 {
			delete(e.bySymbol, pos.Symbol)
		}
	}
}

func (e *Engine) recordCloseLocked(exit ClosedPosition) {
	e.closed = append(e.closed, exit)
	if exit.Reason == CloseTrailing {
		e.stats.TrailingExits++
		e.stats.TrailingProfitPct += exit.ProfitPct
		e.stats.PreservedPct += exit.ProfitPct - e.cfg.ActivationPct
	}
}

// finalizeClose runs the best-effort exchange close and the observer hook.
func (e *Engine) finalizeClose(exit ClosedPosition) {
	e.logger.Info().
		Str("tracking_id", exit.TrackingID).
		Str("symbol", exit.Symbol).
		Str("reason", string(exit.Reason)).
		Float64("close_price", exit.ClosePrice).
		Float64("profit_pct", exit.ProfitPct).
		Msg("Position closed")

	if e.closer != nil {
		if err := e.closer.ClosePosition(exit.Symbol, exit.Direction, exit.Size); err != nil {
			e.logger.Error().
				Err(err).
				Str("tracking_id", exit.TrackingID).
				Str("symbol", exit.Symbol).
				Msg("Exchange close failed; internal state already transitioned")
		}
	}
	if e.OnClose != nil {
		e.OnClose(exit)
	}
}

// appendHistoryLocked stores a tick, keeping the bounded window.
func (e *Engine) appendHistoryLocked(symbol string, price float64, ts time.Time) {
	h := append(e.history[symbol], pricePoint{price: price, time: ts})
	if limit := e.cfg.PriceHistoryCap; limit > 0 && len(h) > limit {
		h = h[len(h)-limit:]
	}
	e.history[symbol] = h
}

// HistoryLen reports the retained sample count for a symbol.
func (e *Engine) HistoryLen(symbol string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.history[symbol])
}

// Snapshot returns copies of all tracked positions.
func (e *Engine) Snapshot() []Position {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Position, 0, len(e.positions))
	for _, pos := range e.positions {
		out = append(out, *pos)
	}
	return out
}

// ClosedPositions returns copies of all close records from this run.
func (e *Engine) ClosedPositions() []ClosedPosition {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]ClosedPosition(nil), e.closed...)
}

// Stats returns the aggregate trailing performance counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

func profitPercent(pos *Position, price float64) float64 {
	if pos.Direction == DirectionLong {
		return (price - pos.EntryPrice) / pos.EntryPrice * 100
	}
	return (pos.EntryPrice - price) / pos.EntryPrice * 100
}
