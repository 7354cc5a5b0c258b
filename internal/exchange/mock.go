package exchange

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// MockClient is an in-memory exchange used in mock mode and in tests. Prices
// are set explicitly; orders fill only through test helpers.
type MockClient struct {
	mu        sync.RWMutex
	prices    map[string]float64
	orders    map[int64]*OrderInfo
	positions map[string]Position
	nextID    atomic.Int64

	// FailNext, when set, makes the next call return the given error.
	failNext *ExchangeError
}

// NewMockClient creates a mock exchange with no prices loaded.
func NewMockClient() *MockClient {
	return &MockClient{
		prices:    make(map[string]float64),
		orders:    make(map[int64]*OrderInfo),
		positions: make(map[string]Position),
	}
}

var _ Client = (*MockClient)(nil)

// SetPrice sets the ticker price for a symbol.
func (m *MockClient) SetPrice(symbol string, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[symbol] = price
}

// SetPosition installs a position returned by GetPositionRisk.
func (m *MockClient) SetPosition(p Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[p.Symbol] = p
}

// FailNext makes the next API call fail with the given kind.
func (m *MockClient) FailNext(kind ErrorKind, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = NewError(kind, message, nil)
}

func (m *MockClient) takeFailure() *ExchangeError {
	m.mu.Lock()
	defer m.mu.Unlock()
	err := m.failNext
	m.failNext = nil
	return err
}

// GetTicker returns the configured price for a symbol.
func (m *MockClient) GetTicker(ctx context.Context, symbol string) (float64, error) {
	if err := m.takeFailure(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	price, ok := m.prices[symbol]
	if !ok {
		return 0, NewError(ErrKindUnknown, fmt.Sprintf("no price for %s", symbol), nil)
	}
	return price, nil
}

// CreateOrder records the order and returns it as NEW.
func (m *MockClient) CreateOrder(ctx context.Context, req OrderRequest) (*OrderInfo, error) {
	if err := m.takeFailure(); err != nil {
		return nil, err
	}
	if req.Quantity <= 0 {
		return nil, NewError(ErrKindInvalidOrder, "quantity must be positive", nil)
	}

	id := m.nextID.Add(1)
	clientID := req.ClientOrderID
	if clientID == "" {
		clientID = fmt.Sprintf("mock-%d", id)
	}
	info := &OrderInfo{
		OrderID:       id,
		ClientOrderID: clientID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          req.Type,
		Price:         req.Price,
		Quantity:      req.Quantity,
		Status:        "NEW",
	}

	m.mu.Lock()
	m.orders[id] = info
	m.mu.Unlock()
	return info, nil
}

// CancelOrder removes an order; unknown IDs fail as invalid orders.
func (m *MockClient) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	if err := m.takeFailure(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[orderID]; !ok {
		return NewError(ErrKindInvalidOrder, fmt.Sprintf("order %d not found", orderID), nil)
	}
	delete(m.orders, orderID)
	return nil
}

// GetPositionRisk returns the configured positions.
func (m *MockClient) GetPositionRisk(ctx context.Context, symbol string) ([]Position, error) {
	if err := m.takeFailure(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Position
	for _, p := range m.positions {
		if symbol == "" || p.Symbol == symbol {
			out = append(out, p)
		}
	}
	return out, nil
}

// OpenOrderCount reports the number of live mock orders.
func (m *MockClient) OpenOrderCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.orders)
}
