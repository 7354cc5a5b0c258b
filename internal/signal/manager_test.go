package signal

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/baouih/binance-sub015/config"
	"github.com/baouih/binance-sub015/internal/market"
)

func testConfig() config.SignalConfig {
	return config.SignalConfig{
		ConfirmationThreshold: 2,
		ValidPeriodSec:        300,
		SweepIntervalSec:      30,
		BaseEntryOffsetPct:    0.3,
	}
}

func newTestManager() *Manager {
	return NewManager(testConfig(), nil, zerolog.Nop())
}

func TestRegisterCreatesPendingSignal(t *testing.T) {
	m := newTestManager()

	sig, err := m.Register("BTCUSDT", ActionBuy, 84000, market.Indicators{}, "rsi_scanner")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if sig.Status != StatusPending {
		t.Errorf("Expected status %s, got %s", StatusPending, sig.Status)
	}
	if sig.Confirmations != 1 {
		t.Errorf("Expected 1 confirmation, got %d", sig.Confirmations)
	}
	if sig.ID == "" {
		t.Error("Signal ID should not be empty")
	}
	if !sig.ExpiresAt.After(sig.CreatedAt) {
		t.Error("Expiry should be after creation")
	}
}

func TestRegisterValidation(t *testing.T) {
	m := newTestManager()

	tests := []struct {
		name    string
		symbol  string
		action  Action
		price   float64
		wantErr error
	}{
		{"empty symbol", "", ActionBuy, 100, ErrEmptySymbol},
		{"bad action", "BTCUSDT", Action("HOLD"), 100, ErrInvalidAction},
		{"zero price", "BTCUSDT", ActionBuy, 0, ErrInvalidPrice},
		{"negative price", "BTCUSDT", ActionSell, -5, ErrInvalidPrice},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Register(tt.symbol, tt.action, tt.price, market.Indicators{}, "test")
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestRegisterDeduplicatesPerSymbolAction(t *testing.T) {
	m := newTestManager()

	first, _ := m.Register("BTCUSDT", ActionBuy, 84000, market.Indicators{}, "a")
	second, err := m.Register("BTCUSDT", ActionBuy, 84100, market.Indicators{}, "b")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if first.ID != second.ID {
		t.Errorf("Expected same signal ID, got %s and %s", first.ID, second.ID)
	}
	if len(m.Snapshot()) != 1 {
		t.Errorf("Expected 1 active signal, got %d", len(m.Snapshot()))
	}
}

func TestRegisterPromotesAtThreshold(t *testing.T) {
	m := newTestManager()

	m.Register("BTCUSDT", ActionBuy, 84000, market.Indicators{}, "a")
	sig, _ := m.Register("BTCUSDT", ActionBuy, 84000, market.Indicators{RSI: market.Float(32)}, "b")

	if sig.Status != StatusConfirmed {
		t.Fatalf("Expected confirmed at threshold 2, got %s", sig.Status)
	}
	if sig.Entry == nil {
		t.Fatal("Confirmed signal should carry an optimal entry")
	}
	if sig.Entry.Price >= 84000 {
		t.Errorf("Buy entry should be below reference price, got %.2f", sig.Entry.Price)
	}
	if len(sig.Sources) != 2 {
		t.Errorf("Expected 2 sources, got %d", len(sig.Sources))
	}
}

func TestConfirmationAfterPromotionIsNoOp(t *testing.T) {
	m := newTestManager()

	m.Register("BTCUSDT", ActionBuy, 84000, market.Indicators{}, "a")
	promoted, _ := m.Register("BTCUSDT", ActionBuy, 84000, market.Indicators{}, "b")
	extra, _ := m.Register("BTCUSDT", ActionBuy, 84500, market.Indicators{}, "c")

	if extra.Confirmations != promoted.Confirmations {
		t.Errorf("Confirmation count changed after promotion: %d -> %d",
			promoted.Confirmations, extra.Confirmations)
	}
	if extra.Price != promoted.Price {
		t.Error("Confirmed signal price should be immutable")
	}
}

func TestExecutableReturnsOnlyConfirmed(t *testing.T) {
	m := newTestManager()

	m.Register("BTCUSDT", ActionBuy, 84000, market.Indicators{}, "a")
	m.Register("ETHUSDT", ActionSell, 2200, market.Indicators{}, "a")
	m.Register("ETHUSDT", ActionSell, 2200, market.Indicators{}, "b")

	execs := m.Executable()
	if len(execs) != 1 {
		t.Fatalf("Expected 1 executable signal, got %d", len(execs))
	}
	if execs[0].Symbol != "ETHUSDT" {
		t.Errorf("Expected ETHUSDT, got %s", execs[0].Symbol)
	}
}

func TestExpiredSignalNeverExecutable(t *testing.T) {
	m := newTestManager()
	now := time.Now()
	m.now = func() time.Time { return now }

	m.Register("BTCUSDT", ActionBuy, 84000, market.Indicators{}, "a")
	m.Register("BTCUSDT", ActionBuy, 84000, market.Indicators{}, "b")

	// Advance past the validity window.
	m.now = func() time.Time { return now.Add(10 * time.Minute) }

	if execs := m.Executable(); len(execs) != 0 {
		t.Fatalf("Expected no executable signals after expiry, got %d", len(execs))
	}
	if len(m.Snapshot()) != 0 {
		t.Error("Expired signal should leave the active set")
	}
}

func TestExpiredPendingIsReplacedByFreshSignal(t *testing.T) {
	m := newTestManager()
	now := time.Now()
	m.now = func() time.Time { return now }

	first, _ := m.Register("BTCUSDT", ActionBuy, 84000, market.Indicators{}, "a")

	m.now = func() time.Time { return now.Add(10 * time.Minute) }
	second, _ := m.Register("BTCUSDT", ActionBuy, 85000, market.Indicators{}, "a")

	if first.ID == second.ID {
		t.Error("Expired signal should not absorb a new observation")
	}
	if second.Confirmations != 1 {
		t.Errorf("Fresh signal should start at 1 confirmation, got %d", second.Confirmations)
	}
}

func TestSweepExpired(t *testing.T) {
	m := newTestManager()
	now := time.Now()
	m.now = func() time.Time { return now }

	m.Register("BTCUSDT", ActionBuy, 84000, market.Indicators{}, "a")
	m.Register("ETHUSDT", ActionSell, 2200, market.Indicators{}, "a")

	m.now = func() time.Time { return now.Add(10 * time.Minute) }

	if swept := m.SweepExpired(); swept != 2 {
		t.Errorf("Expected 2 swept, got %d", swept)
	}
	if swept := m.SweepExpired(); swept != 0 {
		t.Errorf("Second sweep should find nothing, got %d", swept)
	}
}

func TestMarkExecuted(t *testing.T) {
	m := newTestManager()

	m.Register("BTCUSDT", ActionBuy, 84000, market.Indicators{}, "a")
	sig, _ := m.Register("BTCUSDT", ActionBuy, 84000, market.Indicators{}, "b")

	if err := m.MarkExecuted(sig.ID); err != nil {
		t.Fatalf("MarkExecuted failed: %v", err)
	}
	if len(m.Executable()) != 0 {
		t.Error("Executed signal should not be executable")
	}
	if err := m.MarkExecuted(sig.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Second MarkExecuted should report not found, got %v", err)
	}
}

func TestHasActive(t *testing.T) {
	m := newTestManager()

	m.Register("BTCUSDT", ActionSell, 84000, market.Indicators{}, "a")

	if !m.HasActive("BTCUSDT", ActionSell) {
		t.Error("Expected active SELL signal")
	}
	if m.HasActive("BTCUSDT", ActionBuy) {
		t.Error("No BUY signal should be active")
	}
}

func TestOptimalEntryOffsetBuckets(t *testing.T) {
	base := 0.3

	tests := []struct {
		name string
		ind  market.Indicators
		want float64
	}{
		{"extreme RSI tightens", market.Indicators{RSI: market.Float(28)}, base * 0.33},
		{"leaning RSI reduces", market.Indicators{RSI: market.Float(38)}, base * 0.66},
		{"neutral RSI full", market.Indicators{RSI: market.Float(50)}, base},
		{"aligned trend halves", market.Indicators{RSI: market.Float(50), Trend: market.TrendUp}, base * 0.5},
		{"volatile widens", market.Indicators{RSI: market.Float(50), Regime: market.RegimeVolatile}, base * 1.5},
		{
			"aligned and volatile compose",
			market.Indicators{RSI: market.Float(50), Trend: market.TrendUp, Regime: market.RegimeVolatile},
			base * 0.5 * 1.5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := computeOptimalEntry(ActionBuy, 100, base, tt.ind)
			if diff := entry.OffsetPct - tt.want; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("Expected offset %.4f, got %.4f", tt.want, entry.OffsetPct)
			}
			if entry.Rationale == "" {
				t.Error("Rationale should not be empty")
			}
		})
	}
}

func TestOptimalEntryPlanPortions(t *testing.T) {
	entry := computeOptimalEntry(ActionBuy, 84000, 0.3, market.Indicators{RSI: market.Float(32)})

	if len(entry.Plan) != 3 {
		t.Fatalf("Expected 3 tranches, got %d", len(entry.Plan))
	}
	wantPortions := []float64{0.40, 0.30, 0.30}
	total := 0.0
	for i, tranche := range entry.Plan {
		if tranche.Portion != wantPortions[i] {
			t.Errorf("Tranche %d portion = %.2f, want %.2f", i, tranche.Portion, wantPortions[i])
		}
		total += tranche.Portion
	}
	if total != 1.0 {
		t.Errorf("Plan portions should sum to 1.0, got %.2f", total)
	}
	// Later buy tranches sit deeper below the first.
	if !(entry.Plan[1].Price < entry.Plan[0].Price && entry.Plan[2].Price < entry.Plan[1].Price) {
		t.Error("Buy tranches should stagger downward")
	}
}

func TestOptimalEntrySellAboveReference(t *testing.T) {
	entry := computeOptimalEntry(ActionSell, 2200, 0.3, market.Indicators{RSI: market.Float(72)})
	if entry.Price <= 2200 {
		t.Errorf("Sell entry should be above reference price, got %.2f", entry.Price)
	}
}
