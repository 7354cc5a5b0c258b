package orders

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/baouih/binance-sub015/config"
	"github.com/baouih/binance-sub015/internal/market"
	"github.com/baouih/binance-sub015/internal/signal"
)

// fakeSignals records MarkExecuted calls and serves opposite-signal lookups.
type fakeSignals struct {
	executed   []string
	executeErr error
	active     map[string]bool // symbol|action
}

func (f *fakeSignals) MarkExecuted(id string) error {
	f.executed = append(f.executed, id)
	return f.executeErr
}

func (f *fakeSignals) HasActive(symbol string, action signal.Action) bool {
	return f.active[symbol+"|"+string(action)]
}

func testOrderConfig() config.OrderConfig {
	return config.OrderConfig{
		TimeoutSec:          300,
		SweepIntervalSec:    30,
		AdverseMovePct:      2.0,
		DriftGuardPct:       2.0,
		VolumeSpikeMultiple: 3.0,
		RSIOverbought:       70,
		RSIOversold:         30,
	}
}

func newTestTracker(signals SignalBackRef) *Tracker {
	return NewTracker(testOrderConfig(), signals, nil, zerolog.Nop())
}

func register(t *testing.T, tr *Tracker, symbol string, action signal.Action, price float64, orderID, signalID string) *PendingOrder {
	t.Helper()
	order, err := tr.Register(symbol, action, price, 0.01, price*0.98, price*1.03, orderID, signalID, market.Indicators{})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	return order
}

func TestRegisterTracksOrder(t *testing.T) {
	tr := newTestTracker(nil)

	order := register(t, tr, "BTCUSDT", signal.ActionBuy, 84000, "ord-1", "sig-1")

	if order.Status != OrderStatusPending {
		t.Errorf("Expected status %s, got %s", OrderStatusPending, order.Status)
	}
	if !order.ExpiresAt.After(order.CreatedAt) {
		t.Error("Expiry should be after creation")
	}
	if len(tr.Active()) != 1 {
		t.Errorf("Expected 1 active order, got %d", len(tr.Active()))
	}
}

func TestRegisterRejectsBadInput(t *testing.T) {
	tr := newTestTracker(nil)

	if _, err := tr.Register("", signal.ActionBuy, 1, 1, 0, 0, "ord-1", "", market.Indicators{}); !errors.Is(err, ErrBadOrderInput) {
		t.Errorf("Expected ErrBadOrderInput for empty symbol, got %v", err)
	}
	if _, err := tr.Register("BTCUSDT", signal.ActionBuy, 0, 1, 0, 0, "ord-1", "", market.Indicators{}); !errors.Is(err, ErrBadOrderInput) {
		t.Errorf("Expected ErrBadOrderInput for zero price, got %v", err)
	}

	register(t, tr, "BTCUSDT", signal.ActionBuy, 84000, "ord-1", "")
	if _, err := tr.Register("BTCUSDT", signal.ActionBuy, 84000, 0.01, 0, 0, "ord-1", "", market.Indicators{}); !errors.Is(err, ErrOrderExists) {
		t.Errorf("Expected ErrOrderExists, got %v", err)
	}
}

func TestFillMarksSignalExecuted(t *testing.T) {
	signals := &fakeSignals{}
	tr := newTestTracker(signals)

	register(t, tr, "BTCUSDT", signal.ActionBuy, 84000, "ord-1", "sig-1")

	if err := tr.UpdateStatus("ord-1", OrderStatusFilled, 84055); err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}
	if len(signals.executed) != 1 || signals.executed[0] != "sig-1" {
		t.Errorf("Expected signal sig-1 marked executed, got %v", signals.executed)
	}
	if len(tr.Active()) != 0 {
		t.Error("Filled order should leave the active set")
	}
}

func TestSignalConfirmationThroughFill(t *testing.T) {
	signals := signal.NewManager(config.SignalConfig{
		ConfirmationThreshold: 2,
		ValidPeriodSec:        300,
		SweepIntervalSec:      30,
		BaseEntryOffsetPct:    0.3,
	}, nil, zerolog.Nop())
	tr := newTestTracker(signals)

	indicators := market.Indicators{RSI: market.Float(32), Trend: market.TrendUp}

	first, err := signals.Register("BTCUSDT", signal.ActionBuy, 84000, indicators, "rsi_scanner")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if first.Status != signal.StatusPending {
		t.Fatalf("First observation should stay pending, got %s", first.Status)
	}

	second, err := signals.Register("BTCUSDT", signal.ActionBuy, 84000, indicators, "macd_scanner")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if second.Status != signal.StatusConfirmed {
		t.Fatalf("Second observation should confirm, got %s", second.Status)
	}
	if second.Entry == nil {
		t.Fatal("Confirmed signal should carry an entry plan")
	}

	executable := signals.Executable()
	if len(executable) != 1 {
		t.Fatalf("Expected 1 executable signal, got %d", len(executable))
	}

	register(t, tr, "BTCUSDT", signal.ActionBuy, second.Entry.Price, "ord-1", second.ID)
	if err := tr.UpdateStatus("ord-1", OrderStatusFilled, 84055); err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}

	if len(signals.Executable()) != 0 {
		t.Error("Executed signal should leave the executable set")
	}
	if signals.HasActive("BTCUSDT", signal.ActionBuy) {
		t.Error("Executed signal should no longer be active")
	}
}

func TestTerminalStatusRemovesOrder(t *testing.T) {
	for _, status := range []OrderStatus{OrderStatusCancelled, OrderStatusExpired} {
		t.Run(string(status), func(t *testing.T) {
			tr := newTestTracker(nil)
			register(t, tr, "BTCUSDT", signal.ActionSell, 84000, "ord-1", "")

			if err := tr.UpdateStatus("ord-1", status, 0); err != nil {
				t.Fatalf("UpdateStatus failed: %v", err)
			}
			if len(tr.Active()) != 0 {
				t.Errorf("Order in %s should leave the active set", status)
			}
		})
	}
}

func TestUpdateStatusUnknownOrder(t *testing.T) {
	tr := newTestTracker(nil)
	if err := tr.UpdateStatus("missing", OrderStatusFilled, 100); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("Expected ErrOrderNotFound, got %v", err)
	}
}

func TestSweepExpired(t *testing.T) {
	tr := newTestTracker(nil)
	now := time.Now()
	tr.now = func() time.Time { return now }

	register(t, tr, "BTCUSDT", signal.ActionBuy, 84000, "ord-1", "")
	register(t, tr, "ETHUSDT", signal.ActionSell, 2200, "ord-2", "")

	tr.now = func() time.Time { return now.Add(10 * time.Minute) }

	expired := tr.SweepExpired()
	if len(expired) != 2 {
		t.Fatalf("Expected 2 expired orders, got %d", len(expired))
	}
	for _, o := range expired {
		if o.Status != OrderStatusExpired {
			t.Errorf("Expected status %s, got %s", OrderStatusExpired, o.Status)
		}
	}
	if len(tr.Active()) != 0 {
		t.Error("Expired orders should leave the active set")
	}
}

func TestCheckCancelRules(t *testing.T) {
	rsi := func(v float64) *float64 { return market.Float(v) }

	tests := []struct {
		name       string
		action     signal.Action
		orderPrice float64
		data       *market.Data
		ind        *market.Indicators
		opposite   bool
		wantCancel bool
	}{
		{
			name:       "within tolerance neutral regime",
			action:     signal.ActionBuy,
			orderPrice: 84000,
			data:       &market.Data{Price: 84500, Volume: 100, AvgVolume: 100},
			ind:        &market.Indicators{RSI: rsi(50), Regime: market.RegimeNeutral},
			wantCancel: false,
		},
		{
			name:       "volatile regime",
			action:     signal.ActionBuy,
			orderPrice: 84000,
			ind:        &market.Indicators{Regime: market.RegimeVolatile},
			wantCancel: true,
		},
		{
			name:       "opposite signal",
			action:     signal.ActionBuy,
			orderPrice: 84000,
			opposite:   true,
			wantCancel: true,
		},
		{
			name:       "rsi overbought against buy",
			action:     signal.ActionBuy,
			orderPrice: 84000,
			ind:        &market.Indicators{RSI: rsi(74)},
			wantCancel: true,
		},
		{
			name:       "rsi oversold against sell",
			action:     signal.ActionSell,
			orderPrice: 84000,
			ind:        &market.Indicators{RSI: rsi(25)},
			wantCancel: true,
		},
		{
			name:       "macd crossed against buy",
			action:     signal.ActionBuy,
			orderPrice: 84000,
			ind:        &market.Indicators{MACD: rsi(-0.5), MACDSignal: rsi(0.2)},
			wantCancel: true,
		},
		{
			name:       "adverse move above buy",
			action:     signal.ActionBuy,
			orderPrice: 84000,
			data:       &market.Data{Price: 86000},
			wantCancel: true,
		},
		{
			name:       "adverse move below sell",
			action:     signal.ActionSell,
			orderPrice: 84000,
			data:       &market.Data{Price: 82000},
			wantCancel: true,
		},
		{
			name:       "drift below buy",
			action:     signal.ActionBuy,
			orderPrice: 84000,
			data:       &market.Data{Price: 82000},
			wantCancel: true,
		},
		{
			name:       "volume spike",
			action:     signal.ActionBuy,
			orderPrice: 84000,
			data:       &market.Data{Price: 84100, Volume: 500, AvgVolume: 100},
			wantCancel: true,
		},
		{
			name:       "missing data is no opinion",
			action:     signal.ActionBuy,
			orderPrice: 84000,
			wantCancel: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			signals := &fakeSignals{active: map[string]bool{}}
			if tt.opposite {
				opp := signal.ActionSell
				if tt.action == signal.ActionSell {
					opp = signal.ActionBuy
				}
				signals.active["BTCUSDT|"+string(opp)] = true
			}

			tr := newTestTracker(signals)
			register(t, tr, "BTCUSDT", tt.action, tt.orderPrice, "ord-1", "")

			marketData := map[string]market.Data{}
			if tt.data != nil {
				d := *tt.data
				d.Symbol = "BTCUSDT"
				marketData["BTCUSDT"] = d
			}
			indicators := map[string]market.Indicators{}
			if tt.ind != nil {
				indicators["BTCUSDT"] = *tt.ind
			}

			decisions := tr.CheckCancel(marketData, indicators)
			if tt.wantCancel && len(decisions) == 0 {
				t.Fatal("Expected a cancel decision, got none")
			}
			if !tt.wantCancel && len(decisions) != 0 {
				t.Fatalf("Expected no cancel, got %q", decisions[0].Reason)
			}
			if tt.wantCancel && decisions[0].Reason == "" {
				t.Error("Cancel reason should not be empty")
			}
		})
	}
}

func TestCheckCancelFallsBackToRegisteredIndicators(t *testing.T) {
	tr := newTestTracker(nil)

	overbought := market.Indicators{RSI: market.Float(74)}
	if _, err := tr.Register("BTCUSDT", signal.ActionBuy, 84000, 0.01, 0, 0, "ord-1", "sig-1", overbought); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	// No fresh indicator snapshot: the one captured at registration applies.
	decisions := tr.CheckCancel(nil, nil)
	if len(decisions) != 1 {
		t.Fatalf("Expected 1 cancel decision from the registered snapshot, got %d", len(decisions))
	}
	if !strings.Contains(decisions[0].Reason, "overbought") {
		t.Errorf("Expected an RSI overbought reason, got %q", decisions[0].Reason)
	}

	// A zero snapshot at registration carries no opinion.
	tr2 := newTestTracker(nil)
	register(t, tr2, "ETHUSDT", signal.ActionBuy, 2200, "ord-2", "")
	if decisions := tr2.CheckCancel(nil, nil); len(decisions) != 0 {
		t.Errorf("Expected no decision without indicator data, got %q", decisions[0].Reason)
	}
}

func TestCheckCancelExpiryTakesPrecedence(t *testing.T) {
	tr := newTestTracker(nil)
	now := time.Now()
	tr.now = func() time.Time { return now }

	register(t, tr, "BTCUSDT", signal.ActionBuy, 84000, "ord-1", "")
	tr.now = func() time.Time { return now.Add(10 * time.Minute) }

	// Volatile regime would also match, but expiry is rule one.
	decisions := tr.CheckCancel(nil, map[string]market.Indicators{
		"BTCUSDT": {Regime: market.RegimeVolatile},
	})
	if len(decisions) != 1 {
		t.Fatalf("Expected 1 decision, got %d", len(decisions))
	}
	if got := decisions[0].Reason; got == "market regime turned volatile" {
		t.Errorf("Expiry should short-circuit ahead of regime, got %q", got)
	}
}
