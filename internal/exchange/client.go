// Package exchange defines the capability interface the core consumes from
// the futures exchange, plus the go-binance adapter and a mock for tests.
// The core never retries calls itself; callers apply a RetryPolicy.
package exchange

import "context"

// Side is the order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType is the exchange order type.
type OrderType string

const (
	OrderTypeLimit      OrderType = "LIMIT"
	OrderTypeMarket     OrderType = "MARKET"
	OrderTypeStopMarket OrderType = "STOP_MARKET"
)

// OrderRequest carries the parameters for a new order. Price and StopPrice
// are ignored for order types that do not use them.
type OrderRequest struct {
	Symbol        string
	Side          Side
	Type          OrderType
	Quantity      float64
	Price         float64
	StopPrice     float64
	ClientOrderID string
}

// OrderInfo is the exchange's view of a placed order.
type OrderInfo struct {
	OrderID       int64
	ClientOrderID string
	Symbol        string
	Side          Side
	Type          OrderType
	Price         float64
	Quantity      float64
	Status        string
}

// Position is one entry from the position risk endpoint.
type Position struct {
	Symbol        string
	PositionSide  string // LONG or SHORT
	PositionAmt   float64
	EntryPrice    float64
	MarkPrice     float64
	UnrealizedPnL float64
	Leverage      int
}

// Client is the exchange capability consumed by the core. All methods fail
// with *ExchangeError.
type Client interface {
	GetTicker(ctx context.Context, symbol string) (float64, error)
	CreateOrder(ctx context.Context, req OrderRequest) (*OrderInfo, error)
	CancelOrder(ctx context.Context, symbol string, orderID int64) error
	GetPositionRisk(ctx context.Context, symbol string) ([]Position, error)
}
