// Command binance-sub015 runs the trade execution service: signal
// confirmation, pending order management, and trailing stops, controlled
// through start/stop/restart/status/add/schedule subcommands.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/baouih/binance-sub015/config"
	"github.com/baouih/binance-sub015/internal/api"
	"github.com/baouih/binance-sub015/internal/logging"
	"github.com/baouih/binance-sub015/internal/service"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: %s <command> [flags]

Commands:
  start     Start the trading service in the background
  stop      Stop the running service
  restart   Restart the service
  status    Show service and position status
  add       Submit a trading signal to the running service
  run       Run the service in the foreground (used by start)
  schedule  Run the watchdog scheduler in the foreground

Flags:
  --config <path>              Config file (default config.json)
  --interval <seconds>         Service loop interval
  --schedule-interval <seconds> Scheduler poll interval
  --symbol <symbol>            Signal symbol (add)
  --side <BUY|SELL>            Signal side (add)
  --price <price>              Signal reference price (add)
`, os.Args[0])
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	command := os.Args[1]

	flags := flag.NewFlagSet(command, flag.ExitOnError)
	configPath := flags.String("config", "config.json", "config file path")
	interval := flags.Int("interval", 0, "service loop interval in seconds")
	scheduleInterval := flags.Int("schedule-interval", 30, "scheduler poll interval in seconds")
	symbol := flags.String("symbol", "", "signal symbol")
	side := flags.String("side", "", "signal side, BUY or SELL")
	price := flags.Float64("price", 0, "signal reference price")
	flags.Parse(os.Args[2:])

	// Environment overrides come from .env when present.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}
	if *interval > 0 {
		cfg.ServiceConfig.IntervalSec = *interval
	}

	logger := logging.New(cfg.LoggingConfig)
	orchestrator := service.NewOrchestrator(cfg.ServiceConfig, logger)

	switch command {
	case "start":
		if err := orchestrator.Start(time.Duration(*interval) * time.Second); err != nil {
			fmt.Fprintf(os.Stderr, "Start failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Service started")

	case "stop":
		if err := orchestrator.Stop(); err != nil {
			fmt.Fprintf(os.Stderr, "Stop failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Service stopped")

	case "restart":
		if err := orchestrator.Restart(time.Duration(*interval) * time.Second); err != nil {
			fmt.Fprintf(os.Stderr, "Restart failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Service restarted")

	case "status":
		printStatus(cfg, orchestrator)

	case "add":
		if err := submitSignal(cfg, *symbol, *side, *price); err != nil {
			fmt.Fprintf(os.Stderr, "Add failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Signal submitted: %s %s @ %g\n", *side, *symbol, *price)

	case "run":
		runner, err := service.NewRunner(cfg, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Startup failed: %v\n", err)
			os.Exit(1)
		}
		if err := runForeground(runner.Run); err != nil {
			fmt.Fprintf(os.Stderr, "Service exited: %v\n", err)
			os.Exit(1)
		}

	case "schedule":
		scheduler := service.NewScheduler(orchestrator)
		poll := time.Duration(*scheduleInterval) * time.Second
		if err := runForeground(func(ctx context.Context) error {
			return scheduler.Run(ctx, poll)
		}); err != nil {
			fmt.Fprintf(os.Stderr, "Scheduler exited: %v\n", err)
			os.Exit(1)
		}

	default:
		usage()
		os.Exit(1)
	}
}

// runForeground executes fn until SIGINT or SIGTERM arrives. A context
// cancelled by the signal is a clean exit.
func runForeground(fn func(ctx context.Context) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := fn(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// submitSignal posts a signal to the running service's intake endpoint.
// Repeated submissions for the same symbol and side count as confirmations.
func submitSignal(cfg *config.Config, symbol, side string, price float64) error {
	if symbol == "" || side == "" || price <= 0 {
		return fmt.Errorf("add requires --symbol, --side and a positive --price")
	}
	if !cfg.ServerConfig.Enabled {
		return fmt.Errorf("signal intake needs the monitoring API enabled in config")
	}

	body, err := json.Marshal(api.SubmitSignalRequest{
		Symbol: strings.ToUpper(symbol),
		Action: strings.ToUpper(side),
		Price:  price,
		Source: "cli",
	})
	if err != nil {
		return err
	}

	addr := cfg.ServerConfig.Addr
	if strings.HasPrefix(addr, ":") {
		addr = "127.0.0.1" + addr
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Post("http://"+addr+"/api/signals", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("is the service running? %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("service rejected the signal: %s", string(msg))
	}
	return nil
}

// printStatus writes the human-readable status report.
func printStatus(cfg *config.Config, orchestrator *service.Orchestrator) {
	st := orchestrator.Status()

	if st.ServiceRunning {
		fmt.Printf("Service:   running (pid %d)\n", st.ServicePID)
	} else {
		fmt.Println("Service:   stopped")
	}
	if st.SchedulerRunning {
		fmt.Printf("Scheduler: running (pid %d)\n", st.SchedulerPID)
	} else {
		fmt.Println("Scheduler: stopped")
	}

	positions, err := service.SnapshotPositions(cfg.StorageConfig)
	if err != nil {
		fmt.Printf("Positions: unavailable (%v)\n", err)
		return
	}
	if len(positions) == 0 {
		fmt.Println("Positions: none tracked")
		return
	}
	fmt.Printf("Positions: %d tracked\n", len(positions))
	for _, pos := range positions {
		line := fmt.Sprintf("  %-10s %-5s entry %.4f stop %.4f", pos.Symbol, pos.Direction, pos.EntryPrice, pos.StopLoss)
		if pos.TrailingActive {
			line += fmt.Sprintf(" trailing %.4f", pos.TrailingStop)
		}
		fmt.Println(line)
	}
}
