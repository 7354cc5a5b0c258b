// Package market holds the snapshot types shared by signal confirmation and
// the order cancellation policy. Fields are optional where an indicator source
// may legitimately have no value; absent data never triggers a decision.
package market

import "time"

// Trend labels the detected directional regime for a symbol.
type Trend string

const (
	TrendUp       Trend = "uptrend"
	TrendDown     Trend = "downtrend"
	TrendSideways Trend = "sideways"
)

// Regime labels the detected volatility regime for a symbol.
type Regime string

const (
	RegimeNeutral  Regime = "neutral"
	RegimeTrending Regime = "trending"
	RegimeVolatile Regime = "volatile"
)

// Indicators is a point-in-time indicator snapshot for one symbol.
// Nil pointers mean the upstream analyzer produced no value.
type Indicators struct {
	RSI        *float64 `json:"rsi,omitempty"`
	MACD       *float64 `json:"macd,omitempty"`
	MACDSignal *float64 `json:"macd_signal,omitempty"`
	Trend      Trend    `json:"trend,omitempty"`
	Regime     Regime   `json:"regime,omitempty"`
}

// Float is a convenience constructor for optional indicator values.
func Float(v float64) *float64 { return &v }

// Data is a point-in-time market snapshot for one symbol.
type Data struct {
	Symbol        string    `json:"symbol"`
	Price         float64   `json:"price"`
	Volume        float64   `json:"volume"`
	AvgVolume     float64   `json:"avg_volume"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Tick is a single price observation pushed by the market feed.
type Tick struct {
	Symbol string
	Price  float64
	Time   time.Time
}
