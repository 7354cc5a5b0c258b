package service

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/baouih/binance-sub015/config"
)

// Status describes the liveness of the service and scheduler processes.
type Status struct {
	ServiceRunning   bool `json:"service_running"`
	ServicePID       int  `json:"service_pid,omitempty"`
	SchedulerRunning bool `json:"scheduler_running"`
	SchedulerPID     int  `json:"scheduler_pid,omitempty"`
}

// Orchestrator manages the service process from the CLI side: it spawns the
// detached runner, enforces the PID-file singleton, and stops old instances.
type Orchestrator struct {
	cfg     config.ServiceConfig
	logFile string
	logger  zerolog.Logger

	// spawn launches the detached service process and returns its PID.
	// Overridable in tests.
	spawn func(interval time.Duration) (int, error)
}

// NewOrchestrator creates a process orchestrator.
func NewOrchestrator(cfg config.ServiceConfig, logger zerolog.Logger) *Orchestrator {
	o := &Orchestrator{
		cfg:     cfg,
		logFile: "trading_service.log",
		logger:  logger.With().Str("component", "ServiceOrchestrator").Logger(),
	}
	o.spawn = o.spawnService
	return o
}

// Start launches a detached `run` process and records its PID. A running
// instance is stopped first, so Start never produces two services.
func (o *Orchestrator) Start(interval time.Duration) error {
	if pid, _ := ReadPIDFile(o.cfg.PIDFile); pid != 0 && ProcessAlive(pid) {
		o.logger.Info().Int("pid", pid).Msg("Service already running, stopping old instance")
		if err := o.Stop(); err != nil {
			return fmt.Errorf("failed to stop old instance: %w", err)
		}
	}

	pid, err := o.spawn(interval)
	if err != nil {
		return err
	}

	// The runner writes its own PID too, but recording it here closes the
	// window where a quick `stop` would find nothing.
	if err := WritePIDFile(o.cfg.PIDFile, pid); err != nil {
		return err
	}

	o.logger.Info().Int("pid", pid).Msg("Service started")
	return nil
}

// spawnService runs `<executable> run` detached, with output appended to the
// service log file.
func (o *Orchestrator) spawnService(interval time.Duration) (int, error) {
	executable, err := os.Executable()
	if err != nil {
		return 0, fmt.Errorf("failed to resolve executable path: %w", err)
	}

	logOut, err := os.OpenFile(o.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return 0, fmt.Errorf("failed to open service log: %w", err)
	}
	defer logOut.Close()

	args := []string{"run"}
	if interval > 0 {
		args = append(args, "--interval", strconv.Itoa(int(interval.Seconds())))
	}

	cmd := exec.Command(executable, args...)
	cmd.Stdout = logOut
	cmd.Stderr = logOut
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("failed to spawn service process: %w", err)
	}
	pid := cmd.Process.Pid

	if err := cmd.Process.Release(); err != nil {
		o.logger.Warn().Err(err).Msg("Could not release spawned process handle")
	}
	return pid, nil
}

// Stop terminates the running service. With no PID file this is a no-op; a
// stale PID file is removed.
func (o *Orchestrator) Stop() error {
	pid, err := ReadPIDFile(o.cfg.PIDFile)
	if err != nil {
		return err
	}
	if pid == 0 {
		o.logger.Info().Msg("No PID file, service not running")
		return nil
	}

	if !ProcessAlive(pid) {
		o.logger.Info().Int("pid", pid).Msg("Removing stale PID file")
		return RemovePIDFile(o.cfg.PIDFile)
	}

	grace := time.Duration(o.cfg.StopGraceSec) * time.Second
	if err := TerminateProcess(pid, grace); err != nil {
		return err
	}
	if err := RemovePIDFile(o.cfg.PIDFile); err != nil {
		return err
	}

	o.logger.Info().Int("pid", pid).Msg("Service stopped")
	return nil
}

// Restart stops any running instance and starts a fresh one.
func (o *Orchestrator) Restart(interval time.Duration) error {
	if err := o.Stop(); err != nil {
		return err
	}
	return o.Start(interval)
}

// Status reports whether the service and scheduler processes are alive.
func (o *Orchestrator) Status() Status {
	var st Status
	if pid, err := ReadPIDFile(o.cfg.PIDFile); err == nil && pid != 0 {
		st.ServicePID = pid
		st.ServiceRunning = ProcessAlive(pid)
	}
	if pid, err := ReadPIDFile(o.cfg.SchedulerPIDFile); err == nil && pid != 0 {
		st.SchedulerPID = pid
		st.SchedulerRunning = ProcessAlive(pid)
	}
	return st
}
