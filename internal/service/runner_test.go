package service

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/baouih/binance-sub015/config"
	"github.com/baouih/binance-sub015/internal/exchange"
	"github.com/baouih/binance-sub015/internal/market"
	"github.com/baouih/binance-sub015/internal/signal"
	"github.com/baouih/binance-sub015/internal/trailing"
)

func newTestRunner(t *testing.T) *Runner {
	t.Helper()

	cfg := config.Default()
	cfg.BinanceConfig.MockMode = true
	cfg.ServerConfig.Enabled = false
	cfg.FeedConfig.Enabled = false

	dir := t.TempDir()
	cfg.StorageConfig.StateFile = filepath.Join(dir, "state.json")
	cfg.StorageConfig.PositionsFile = filepath.Join(dir, "positions.json")
	cfg.ServiceConfig.PIDFile = filepath.Join(dir, "service.pid")
	cfg.ServiceConfig.SchedulerPIDFile = filepath.Join(dir, "scheduler.pid")

	r, err := NewRunner(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewRunner failed: %v", err)
	}
	return r
}

func TestCheckFillsHonorsTrancheQuantities(t *testing.T) {
	r := newTestRunner(t)
	mock := r.client.(*exchange.MockClient)
	ctx := context.Background()

	// Two staggered entry tranches from one signal, both resting.
	if _, err := r.orders.Register("BTCUSDT", signal.ActionBuy, 83800, 0.004, 0, 0, "1001", "sig-1", market.Indicators{}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if _, err := r.orders.Register("BTCUSDT", signal.ActionBuy, 83500, 0.003, 0, 0, "1002", "sig-1", market.Indicators{}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	// Only the first tranche has filled on the exchange.
	mock.SetPosition(exchange.Position{Symbol: "BTCUSDT", PositionAmt: 0.004, EntryPrice: 83800})
	r.checkFills(ctx)

	if n := len(r.trailing.Snapshot()); n != 1 {
		t.Fatalf("Expected 1 tracked position after the first fill, got %d", n)
	}
	active := r.orders.Active()
	if len(active) != 1 || active[0].ID != "1002" {
		t.Fatalf("Second tranche should still be resting, active = %v", active)
	}

	// Re-running against the same position must not fill anything more.
	r.checkFills(ctx)
	if n := len(r.orders.Active()); n != 1 {
		t.Fatalf("Resting tranche consumed without a larger position, active = %d", n)
	}

	// The position grows to cover the second tranche.
	mock.SetPosition(exchange.Position{Symbol: "BTCUSDT", PositionAmt: 0.007, EntryPrice: 83670})
	r.checkFills(ctx)

	if n := len(r.trailing.Snapshot()); n != 2 {
		t.Errorf("Expected 2 tracked positions after both fills, got %d", n)
	}
	if n := len(r.orders.Active()); n != 0 {
		t.Errorf("Expected no resting orders after both fills, got %d", n)
	}
}

func TestCancelPolicyUsesRegisteredIndicators(t *testing.T) {
	r := newTestRunner(t)
	mock := r.client.(*exchange.MockClient)
	ctx := context.Background()

	overbought := market.Indicators{RSI: market.Float(74)}
	if _, err := r.orders.Register("BTCUSDT", signal.ActionBuy, 84000, 0.01, 0, 0, "2001", "sig-1", overbought); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	mock.SetPrice("BTCUSDT", 84100)

	r.applyCancelPolicy(ctx)

	if n := len(r.orders.Active()); n != 0 {
		t.Errorf("Overbought RSI from registration should cancel the buy, %d orders still active", n)
	}
}

func TestStartupContinuesWithoutJournal(t *testing.T) {
	r := newTestRunner(t)
	r.cfg.JournalConfig.Enabled = true
	r.cfg.JournalConfig.DatabaseURL = "://not-a-database"

	r.journal = r.openJournal(context.Background())
	if r.journal != nil {
		t.Fatal("Unreachable journal should yield a nil handle, not an error")
	}

	// Closing trades still works without the journal.
	pos, err := r.trailing.Register("BTCUSDT", "3001", 84000, 0.01, trailing.DirectionLong, 0, 0)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if exit := r.trailing.ManualClose(pos, "operator close"); exit == nil {
		t.Fatal("ManualClose should close the tracked position")
	}
}
