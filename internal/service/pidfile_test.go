package service

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/baouih/binance-sub015/config"
)

func TestPIDFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "service.pid")

	if err := WritePIDFile(path, 12345); err != nil {
		t.Fatalf("WritePIDFile failed: %v", err)
	}
	pid, err := ReadPIDFile(path)
	if err != nil {
		t.Fatalf("ReadPIDFile failed: %v", err)
	}
	if pid != 12345 {
		t.Errorf("Expected PID 12345, got %d", pid)
	}

	if err := RemovePIDFile(path); err != nil {
		t.Fatalf("RemovePIDFile failed: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("PID file should be gone")
	}
}

func TestReadMissingPIDFile(t *testing.T) {
	pid, err := ReadPIDFile(filepath.Join(t.TempDir(), "absent.pid"))
	if err != nil {
		t.Fatalf("Missing PID file should not error, got %v", err)
	}
	if pid != 0 {
		t.Errorf("Expected PID 0 for missing file, got %d", pid)
	}
}

func TestReadCorruptPIDFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "service.pid")
	if err := os.WriteFile(path, []byte("not-a-pid"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadPIDFile(path); err == nil {
		t.Error("Corrupt PID file should surface an error")
	}
}

func TestRemoveMissingPIDFileIsNoOp(t *testing.T) {
	if err := RemovePIDFile(filepath.Join(t.TempDir(), "absent.pid")); err != nil {
		t.Errorf("Removing a missing PID file should be a no-op, got %v", err)
	}
}

func TestProcessAlive(t *testing.T) {
	if !ProcessAlive(os.Getpid()) {
		t.Error("Our own process should be alive")
	}
	if ProcessAlive(0) || ProcessAlive(-1) {
		t.Error("Non-positive PIDs are never alive")
	}
	// PID near the max is vanishingly unlikely to exist.
	if ProcessAlive(1 << 22) {
		t.Skip("Improbable PID is in use on this host")
	}
}

func testServiceConfig(t *testing.T) config.ServiceConfig {
	t.Helper()
	dir := t.TempDir()
	return config.ServiceConfig{
		PIDFile:          filepath.Join(dir, "service.pid"),
		SchedulerPIDFile: filepath.Join(dir, "scheduler.pid"),
		IntervalSec:      60,
		ScheduleSec:      300,
		StopGraceSec:     1,
	}
}

func TestStopWithoutPIDFileIsNoOp(t *testing.T) {
	o := NewOrchestrator(testServiceConfig(t), zerolog.Nop())
	if err := o.Stop(); err != nil {
		t.Errorf("Stop without a PID file should succeed, got %v", err)
	}
}

func TestStopRemovesStalePIDFile(t *testing.T) {
	cfg := testServiceConfig(t)
	o := NewOrchestrator(cfg, zerolog.Nop())

	// A PID that cannot be alive.
	if err := WritePIDFile(cfg.PIDFile, 1<<22); err != nil {
		t.Fatal(err)
	}
	if err := o.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if _, err := os.Stat(cfg.PIDFile); !os.IsNotExist(err) {
		t.Error("Stale PID file should be removed")
	}
}

func TestStatusReportsLiveness(t *testing.T) {
	cfg := testServiceConfig(t)
	o := NewOrchestrator(cfg, zerolog.Nop())

	st := o.Status()
	if st.ServiceRunning || st.SchedulerRunning {
		t.Error("Nothing should be running with no PID files")
	}

	// Our own PID stands in for a live service.
	WritePIDFile(cfg.PIDFile, os.Getpid())
	WritePIDFile(cfg.SchedulerPIDFile, 1<<22)

	st = o.Status()
	if !st.ServiceRunning {
		t.Error("Service with a live PID should report running")
	}
	if st.SchedulerRunning {
		t.Error("Scheduler with a dead PID should not report running")
	}
	if st.ServicePID != os.Getpid() {
		t.Errorf("Expected service PID %d, got %d", os.Getpid(), st.ServicePID)
	}
}

func TestTerminateDeadProcess(t *testing.T) {
	// Terminating an already-gone process should not hang for the full grace
	// period waiting on a corpse.
	start := time.Now()
	_ = TerminateProcess(1<<22, 5*time.Second)
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Terminate of a dead process took %v", elapsed)
	}
}
