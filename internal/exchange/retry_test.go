package exchange

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
	}
}

func TestRetryableClassification(t *testing.T) {
	tests := []struct {
		kind ErrorKind
		want bool
	}{
		{ErrKindNetwork, true},
		{ErrKindRateLimit, true},
		{ErrKindUnknown, true},
		{ErrKindAuth, false},
		{ErrKindBalance, false},
		{ErrKindInvalidOrder, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			if got := Retryable(NewError(tt.kind, "x", nil)); got != tt.want {
				t.Errorf("Retryable(%s) = %v, want %v", tt.kind, got, tt.want)
			}
		})
	}
	if !Retryable(errors.New("plain error")) {
		t.Error("Unclassified errors default to retryable")
	}
}

func TestDoRetriesTransientFailures(t *testing.T) {
	calls := 0
	err := fastPolicy().Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return NewError(ErrKindNetwork, "connection reset", nil)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Expected success after retries, got %v", err)
	}
	if calls != 3 {
		t.Errorf("Expected 3 attempts, got %d", calls)
	}
}

func TestDoStopsOnPermanentFailure(t *testing.T) {
	calls := 0
	err := fastPolicy().Do(context.Background(), func() error {
		calls++
		return NewError(ErrKindAuth, "bad api key", nil)
	})
	if err == nil {
		t.Fatal("Expected error")
	}
	if calls != 1 {
		t.Errorf("Auth failure must not be retried, got %d attempts", calls)
	}

	var exErr *ExchangeError
	if !errors.As(err, &exErr) || exErr.Kind != ErrKindAuth {
		t.Errorf("Original error should surface, got %v", err)
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	calls := 0
	err := fastPolicy().Do(context.Background(), func() error {
		calls++
		return NewError(ErrKindRateLimit, "too many requests", nil)
	})
	if err == nil {
		t.Fatal("Expected error after exhausting retries")
	}
	if calls != 3 {
		t.Errorf("Expected 3 attempts, got %d", calls)
	}
}

func TestDoHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := fastPolicy().Do(ctx, func() error {
		return NewError(ErrKindNetwork, "down", nil)
	})
	if err == nil {
		t.Fatal("Cancelled context should abort the retry loop")
	}
}

func TestMockClientFailureInjection(t *testing.T) {
	m := NewMockClient()
	m.SetPrice("BTCUSDT", 84000)

	m.FailNext(ErrKindRateLimit, "throttled")
	if _, err := m.GetTicker(context.Background(), "BTCUSDT"); err == nil {
		t.Fatal("Injected failure should surface")
	}

	price, err := m.GetTicker(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("Failure should be consumed after one call, got %v", err)
	}
	if price != 84000 {
		t.Errorf("Expected price 84000, got %v", price)
	}
}

func TestMockClientOrderLifecycle(t *testing.T) {
	m := NewMockClient()

	info, err := m.CreateOrder(context.Background(), OrderRequest{
		Symbol:        "BTCUSDT",
		Side:          SideBuy,
		Type:          OrderTypeLimit,
		Quantity:      0.01,
		Price:         83800,
		ClientOrderID: "S15-1a2b3c4d-T1-9f3e",
	})
	if err != nil {
		t.Fatalf("CreateOrder failed: %v", err)
	}
	if info.ClientOrderID != "S15-1a2b3c4d-T1-9f3e" {
		t.Errorf("Client order ID should round-trip, got %q", info.ClientOrderID)
	}
	if m.OpenOrderCount() != 1 {
		t.Errorf("Expected 1 open order, got %d", m.OpenOrderCount())
	}

	if err := m.CancelOrder(context.Background(), "BTCUSDT", info.OrderID); err != nil {
		t.Fatalf("CancelOrder failed: %v", err)
	}
	if err := m.CancelOrder(context.Background(), "BTCUSDT", info.OrderID); err == nil {
		t.Error("Cancelling twice should fail")
	}
}
