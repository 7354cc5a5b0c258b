package orders

import (
	"fmt"
	"math"
	"time"

	"github.com/baouih/binance-sub015/internal/market"
	"github.com/baouih/binance-sub015/internal/signal"
)

// CheckCancel evaluates every active order against the cancellation policy
// and returns the orders that should be pulled, each with the first matching
// reason. Rule order is fixed; evaluation short-circuits per order. Missing
// market or indicator data for a symbol is treated as no opinion; when the
// caller has no fresh indicators the snapshot captured at registration is
// used instead.
func (t *Tracker) CheckCancel(marketData map[string]market.Data, indicators map[string]market.Indicators) []CancelDecision {
	t.mu.Lock()
	now := t.now()
	active := make([]PendingOrder, 0, len(t.orders))
	for _, o := range t.orders {
		active = append(active, *o)
	}
	t.mu.Unlock()

	var decisions []CancelDecision
	for _, order := range active {
		data, hasData := marketData[order.Symbol]
		ind, hasInd := indicators[order.Symbol]
		if !hasInd {
			// A zero snapshot carries no opinion, so this never cancels
			// an order registered without indicators.
			ind, hasInd = order.Indicators, true
		}

		reason := t.cancelReason(order, now, data, hasData, ind, hasInd)
		if reason == "" {
			continue
		}

		t.logger.Info().
			Str("order_id", order.ID).
			Str("symbol", order.Symbol).
			Str("reason", reason).
			Msg("Order flagged for cancellation")
		decisions = append(decisions, CancelDecision{Order: order, Reason: reason})
	}
	return decisions
}

// cancelReason returns the first matching cancellation reason, or "".
func (t *Tracker) cancelReason(order PendingOrder, now time.Time, data market.Data, hasData bool, ind market.Indicators, hasInd bool) string {
	long := order.Action == signal.ActionBuy

	// 1. Expiry reached.
	if now.After(order.ExpiresAt) {
		return fmt.Sprintf("order expired after %s", now.Sub(order.CreatedAt).Round(time.Second))
	}

	// 2. Volatile regime.
	if hasInd && ind.Regime == market.RegimeVolatile {
		return "market regime turned volatile"
	}

	// 3. Opposite-direction signal for the same symbol.
	if t.signals != nil {
		opposite := signal.ActionSell
		if !long {
			opposite = signal.ActionBuy
		}
		if t.signals.HasActive(order.Symbol, opposite) {
			return fmt.Sprintf("opposite %s signal observed", opposite)
		}
	}

	// 4. RSI crossing the opposite extreme.
	if hasInd && ind.RSI != nil {
		rsi := *ind.RSI
		if long && rsi > t.cfg.RSIOverbought {
			return fmt.Sprintf("RSI %.1f crossed overbought while buy pending", rsi)
		}
		if !long && rsi < t.cfg.RSIOversold {
			return fmt.Sprintf("RSI %.1f crossed oversold while sell pending", rsi)
		}
	}

	// 5. MACD crossing against the order direction.
	if hasInd && ind.MACD != nil && ind.MACDSignal != nil {
		macd, sig := *ind.MACD, *ind.MACDSignal
		if long && macd < sig {
			return fmt.Sprintf("MACD %.4f crossed below signal %.4f against buy", macd, sig)
		}
		if !long && macd > sig {
			return fmt.Sprintf("MACD %.4f crossed above signal %.4f against sell", macd, sig)
		}
	}

	if hasData && data.Price > 0 && order.Price > 0 {
		movePct := (data.Price - order.Price) / order.Price * 100

		// 6. Price moved adversely beyond tolerance: away from a buy,
		// into a sell.
		if long && movePct > t.cfg.AdverseMovePct {
			return fmt.Sprintf("price moved %.2f%% above buy order price", movePct)
		}
		if !long && movePct < -t.cfg.AdverseMovePct {
			return fmt.Sprintf("price moved %.2f%% below sell order price", -movePct)
		}

		// 7. Drift guard: too far in either direction.
		if math.Abs(movePct) > t.cfg.DriftGuardPct {
			return fmt.Sprintf("price drifted %.2f%% from order price", math.Abs(movePct))
		}
	}

	// 8. Volume spike instability guard.
	if hasData && data.AvgVolume > 0 && data.Volume > t.cfg.VolumeSpikeMultiple*data.AvgVolume {
		return fmt.Sprintf("volume %.0f exceeds %.1fx rolling average %.0f",
			data.Volume, t.cfg.VolumeSpikeMultiple, data.AvgVolume)
	}

	return ""
}
