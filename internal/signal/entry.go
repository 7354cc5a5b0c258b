package signal

import (
	"fmt"
	"strings"

	"github.com/baouih/binance-sub015/internal/market"
)

// Partial entry plan portions. The execution layer treats these as guidance,
// not as three separate orders.
var entryPlanPortions = [3]float64{0.40, 0.30, 0.30}

// computeOptimalEntry derives an entry price offset from the indicator
// context. The offset pulls the entry in the favorable direction: below the
// reference price for buys, above it for sells. RSI near an extreme means the
// move is likely already underway, so the offset tightens; a neutral RSI
// leaves more room to wait for a better fill.
func computeOptimalEntry(action Action, price, baseOffsetPct float64, ind market.Indicators) *OptimalEntry {
	offset := baseOffsetPct
	var notes []string

	if ind.RSI != nil {
		rsi := *ind.RSI
		switch {
		case rsi <= 30 || rsi >= 70:
			offset *= 0.33
			notes = append(notes, fmt.Sprintf("RSI %.0f at extreme, tight offset", rsi))
		case rsi <= 40 || rsi >= 60:
			offset *= 0.66
			notes = append(notes, fmt.Sprintf("RSI %.0f leaning, reduced offset", rsi))
		default:
			notes = append(notes, fmt.Sprintf("RSI %.0f neutral, full offset", rsi))
		}
	} else {
		notes = append(notes, "no RSI, full offset")
	}

	if trendAligned(action, ind.Trend) {
		offset *= 0.5
		notes = append(notes, fmt.Sprintf("%s aligned with %s, halved offset", ind.Trend, action))
	}
	if ind.Regime == market.RegimeVolatile {
		offset *= 1.5
		notes = append(notes, "volatile regime, widened offset")
	}

	entryPrice := price * (1 - offset/100)
	if action == ActionSell {
		entryPrice = price * (1 + offset/100)
	}

	return &OptimalEntry{
		Price:     entryPrice,
		OffsetPct: offset,
		Rationale: strings.Join(notes, "; "),
		Plan:      buildEntryPlan(action, entryPrice, offset),
	}
}

// buildEntryPlan staggers the remaining tranches further from the market so
// a deeper pullback improves the average fill.
func buildEntryPlan(action Action, entryPrice, offsetPct float64) []PartialEntry {
	step := offsetPct / 2
	if step == 0 {
		step = 0.1
	}

	plan := make([]PartialEntry, 0, len(entryPlanPortions))
	for i, portion := range entryPlanPortions {
		adj := step * float64(i) / 100
		price := entryPrice * (1 - adj)
		if action == ActionSell {
			price = entryPrice * (1 + adj)
		}
		plan = append(plan, PartialEntry{Portion: portion, Price: price})
	}
	return plan
}

func trendAligned(action Action, trend market.Trend) bool {
	return (action == ActionBuy && trend == market.TrendUp) ||
		(action == ActionSell && trend == market.TrendDown)
}
