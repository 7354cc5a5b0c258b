package exchange

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/rs/zerolog"
)

// BinanceFutures adapts the go-binance futures client to the core's Client
// interface. It is a thin translation layer; retry and rate limiting stay
// with the caller.
type BinanceFutures struct {
	client *futures.Client
	logger zerolog.Logger
}

// NewBinanceFutures creates the adapter. Testnet routing is decided once at
// construction, before the underlying client is built.
func NewBinanceFutures(apiKey, secretKey string, testnet bool, logger zerolog.Logger) *BinanceFutures {
	if testnet {
		futures.UseTestnet = true
	}
	return &BinanceFutures{
		client: binance.NewFuturesClient(apiKey, secretKey),
		logger: logger.With().Str("component", "BinanceFutures").Logger(),
	}
}

var _ Client = (*BinanceFutures)(nil)

// GetTicker returns the latest price for a symbol.
func (b *BinanceFutures) GetTicker(ctx context.Context, symbol string) (float64, error) {
	prices, err := b.client.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, classify("get ticker", err)
	}
	if len(prices) == 0 {
		return 0, NewError(ErrKindUnknown, fmt.Sprintf("no price returned for %s", symbol), nil)
	}
	price, err := strconv.ParseFloat(prices[0].Price, 64)
	if err != nil {
		return 0, NewError(ErrKindUnknown, fmt.Sprintf("unparseable price %q for %s", prices[0].Price, symbol), err)
	}
	return price, nil
}

// CreateOrder places a new futures order.
func (b *BinanceFutures) CreateOrder(ctx context.Context, req OrderRequest) (*OrderInfo, error) {
	svc := b.client.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(futures.SideType(req.Side)).
		Type(futures.OrderType(req.Type)).
		Quantity(formatQty(req.Quantity))

	switch req.Type {
	case OrderTypeLimit:
		svc = svc.Price(formatPrice(req.Price)).TimeInForce(futures.TimeInForceTypeGTC)
	case OrderTypeStopMarket:
		svc = svc.StopPrice(formatPrice(req.StopPrice))
	}
	if req.ClientOrderID != "" {
		svc = svc.NewClientOrderID(req.ClientOrderID)
	}

	res, err := svc.Do(ctx)
	if err != nil {
		return nil, classify("create order", err)
	}

	price, _ := strconv.ParseFloat(res.Price, 64)
	qty, _ := strconv.ParseFloat(res.OrigQuantity, 64)

	b.logger.Info().
		Str("symbol", req.Symbol).
		Str("side", string(req.Side)).
		Str("type", string(req.Type)).
		Int64("order_id", res.OrderID).
		Msg("Order placed")

	return &OrderInfo{
		OrderID:       res.OrderID,
		ClientOrderID: res.ClientOrderID,
		Symbol:        res.Symbol,
		Side:          Side(res.Side),
		Type:          OrderType(res.Type),
		Price:         price,
		Quantity:      qty,
		Status:        string(res.Status),
	}, nil
}

// CancelOrder cancels an open order.
func (b *BinanceFutures) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	if _, err := b.client.NewCancelOrderService().Symbol(symbol).OrderID(orderID).Do(ctx); err != nil {
		return classify("cancel order", err)
	}
	return nil
}

// GetPositionRisk returns open positions; symbol may be empty for all.
func (b *BinanceFutures) GetPositionRisk(ctx context.Context, symbol string) ([]Position, error) {
	svc := b.client.NewGetPositionRiskService()
	if symbol != "" {
		svc = svc.Symbol(symbol)
	}
	risks, err := svc.Do(ctx)
	if err != nil {
		return nil, classify("get position risk", err)
	}

	positions := make([]Position, 0, len(risks))
	for _, r := range risks {
		amt, _ := strconv.ParseFloat(r.PositionAmt, 64)
		if amt == 0 {
			continue
		}
		entry, _ := strconv.ParseFloat(r.EntryPrice, 64)
		mark, _ := strconv.ParseFloat(r.MarkPrice, 64)
		pnl, _ := strconv.ParseFloat(r.UnRealizedProfit, 64)
		leverage, _ := strconv.Atoi(r.Leverage)

		side := "LONG"
		if amt < 0 {
			side = "SHORT"
		}
		if r.PositionSide != "" && r.PositionSide != "BOTH" {
			side = r.PositionSide
		}

		positions = append(positions, Position{
			Symbol:        r.Symbol,
			PositionSide:  side,
			PositionAmt:   amt,
			EntryPrice:    entry,
			MarkPrice:     mark,
			UnrealizedPnL: pnl,
			Leverage:      leverage,
		})
	}
	return positions, nil
}

// classify maps go-binance errors onto the core error taxonomy.
func classify(op string, err error) *ExchangeError {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case -1003, -1015:
			return NewError(ErrKindRateLimit, op, err)
		case -1022, -2014, -2015:
			return NewError(ErrKindAuth, op, err)
		case -2018, -2019, -4131:
			return NewError(ErrKindBalance, op, err)
		case -1013, -1111, -2010, -2011, -4164:
			return NewError(ErrKindInvalidOrder, op, err)
		default:
			return NewError(ErrKindUnknown, op, err)
		}
	}
	return NewError(ErrKindNetwork, op, err)
}

func formatQty(q float64) string {
	return strconv.FormatFloat(q, 'f', -1, 64)
}

func formatPrice(p float64) string {
	return strconv.FormatFloat(p, 'f', -1, 64)
}
