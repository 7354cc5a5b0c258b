package service

import (
	"context"
	"math"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/baouih/binance-sub015/config"
	"github.com/baouih/binance-sub015/internal/api"
	"github.com/baouih/binance-sub015/internal/exchange"
	"github.com/baouih/binance-sub015/internal/feed"
	"github.com/baouih/binance-sub015/internal/journal"
	"github.com/baouih/binance-sub015/internal/market"
	"github.com/baouih/binance-sub015/internal/notify"
	"github.com/baouih/binance-sub015/internal/orders"
	"github.com/baouih/binance-sub015/internal/signal"
	"github.com/baouih/binance-sub015/internal/storage"
	"github.com/baouih/binance-sub015/internal/supervisor"
	"github.com/baouih/binance-sub015/internal/trailing"
)

// Runner hosts every manager loop inside the long-lived service process.
type Runner struct {
	cfg    *config.Config
	logger zerolog.Logger

	client     exchange.Client
	retry      exchange.RetryPolicy
	signals    *signal.Manager
	orders     *orders.Tracker
	trailing   *trailing.Engine
	store      *storage.Store
	notifier   *notify.Manager
	journal    *journal.Journal
	supervisor *supervisor.Supervisor
	server     *api.Server
	priceFeed  *feed.Feed
}

// positionCloser adapts the exchange client to the trailing engine's
// best-effort close hook: a reduce-only market order against the position.
type positionCloser struct {
	client exchange.Client
	retry  exchange.RetryPolicy
}

func (c *positionCloser) ClosePosition(symbol string, direction trailing.Direction, size float64) error {
	side := exchange.SideSell
	if direction == trailing.DirectionShort {
		side = exchange.SideBuy
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return c.retry.Do(ctx, func() error {
		_, err := c.client.CreateOrder(ctx, exchange.OrderRequest{
			Symbol:   symbol,
			Side:     side,
			Type:     exchange.OrderTypeMarket,
			Quantity: size,
		})
		return err
	})
}

// NewRunner builds the full object graph for the service process.
func NewRunner(cfg *config.Config, logger zerolog.Logger) (*Runner, error) {
	r := &Runner{
		cfg:    cfg,
		logger: logger.With().Str("component", "ServiceRunner").Logger(),
		retry:  exchange.DefaultRetryPolicy(),
	}

	// Exchange client.
	if cfg.BinanceConfig.MockMode {
		r.logger.Warn().Msg("Running with the mock exchange client")
		r.client = exchange.NewMockClient()
	} else {
		r.client = exchange.NewBinanceFutures(
			cfg.BinanceConfig.APIKey,
			cfg.BinanceConfig.SecretKey,
			cfg.BinanceConfig.TestNet,
			logger,
		)
	}

	// Snapshot storage.
	var backend storage.Backend
	switch cfg.StorageConfig.Backend {
	case "redis":
		redisBackend, err := storage.NewRedisBackend(cfg.StorageConfig)
		if err != nil {
			return nil, err
		}
		backend = redisBackend
	default:
		backend = storage.NewFileBackend(cfg.StorageConfig.StateFile, cfg.StorageConfig.PositionsFile)
	}
	r.store = storage.NewStore(backend, logger)

	// Notifications.
	r.notifier = notify.NewManager(logger)
	if cfg.NotificationConfig.Enabled {
		r.notifier.Add(notify.NewTelegramNotifier(cfg.NotificationConfig.Telegram))
		kafkaNotifier, err := notify.NewKafkaNotifier(cfg.NotificationConfig.Kafka)
		if err != nil {
			return nil, err
		}
		r.notifier.Add(kafkaNotifier)
	}

	// Core managers.
	r.signals = signal.NewManager(cfg.SignalConfig, r.store, logger)
	r.orders = orders.NewTracker(cfg.OrderConfig, r.signals, r.store, logger)
	r.trailing = trailing.NewEngine(
		cfg.TrailingConfig,
		&positionCloser{client: r.client, retry: r.retry},
		logger,
	)
	r.trailing.OnClose = r.onPositionClosed

	r.supervisor = supervisor.New(logger)
	r.supervisor.OnWorkerDown = func(name string, err error) {
		r.notifier.SendWorkerDown(name, err)
	}

	if cfg.ServerConfig.Enabled {
		r.server = api.NewServer(cfg.ServerConfig, r.signals, r.orders, r.trailing, r.supervisor, logger)
	}
	if cfg.FeedConfig.Enabled {
		r.priceFeed = feed.NewFeed(cfg.FeedConfig, r.trailing.UpdatePrice, logger)
	}

	return r, nil
}

// Signals returns the signal manager, for external signal sources.
func (r *Runner) Signals() *signal.Manager { return r.signals }

// Run executes the service until the context is cancelled. It owns the PID
// file for the lifetime of the process.
func (r *Runner) Run(ctx context.Context) error {
	if err := WritePIDFile(r.cfg.ServiceConfig.PIDFile, os.Getpid()); err != nil {
		return err
	}
	defer RemovePIDFile(r.cfg.ServiceConfig.PIDFile)

	r.journal = r.openJournal(ctx)
	defer r.journal.Close()

	r.restoreState()

	interval := time.Duration(r.cfg.ServiceConfig.IntervalSec) * time.Second

	r.supervisor.Register("signal-sweeper", r.signals.Run)
	r.supervisor.Register("order-sweeper", func(ctx context.Context) error {
		return r.orders.Run(ctx, func(expired []orders.PendingOrder) {
			r.cancelOnExchange(ctx, expired, "order expired")
		})
	})
	r.supervisor.Register("trading-loop", func(ctx context.Context) error {
		return r.tradeLoop(ctx, interval)
	})
	r.supervisor.Register("state-flusher", func(ctx context.Context) error {
		return r.store.Run(ctx, 10*time.Second)
	})
	r.supervisor.Register("health-monitor", func(ctx context.Context) error {
		return r.supervisor.Monitor(ctx, time.Minute)
	})
	if r.priceFeed != nil {
		r.supervisor.Register("price-feed", r.priceFeed.Run)
	}
	if r.server != nil {
		r.supervisor.Register("monitor-api", r.server.Run)
	}

	r.supervisor.Start(ctx)
	r.logger.Info().Int("pid", os.Getpid()).Msg("Service running")

	<-ctx.Done()
	r.logger.Info().Msg("Shutting down")
	r.supervisor.Wait()

	r.store.PersistPositions(r.trailing.Snapshot())
	r.store.Flush()
	return ctx.Err()
}

// openJournal connects the best-effort trade journal. An unreachable journal
// is logged and skipped; closed trades then go unrecorded but the service
// still trades.
func (r *Runner) openJournal(ctx context.Context) *journal.Journal {
	j, err := journal.Open(ctx, r.cfg.JournalConfig, r.logger)
	if err != nil {
		r.logger.Error().Err(err).Msg("Trade journal unavailable, continuing without it")
		return nil
	}
	return j
}

// restoreState reloads persisted snapshots so a restart resumes tracking.
func (r *Runner) restoreState() {
	state, err := r.store.Load()
	if err != nil {
		r.logger.Error().Err(err).Msg("Could not load state snapshot, starting fresh")
	} else if state != nil {
		r.signals.Restore(state.PendingSignals, state.ConfirmedSignals)
		r.orders.Restore(state.PendingOrders)
	}

	positions, err := r.store.LoadPositions()
	if err != nil {
		r.logger.Error().Err(err).Msg("Could not load position snapshot, starting fresh")
	} else {
		r.trailing.Restore(positions)
	}
}

// tradeLoop drives the periodic trading actions: execute confirmed signals,
// detect fills, apply the cancel policy, and poll prices for trailing when
// the websocket feed is off.
func (r *Runner) tradeLoop(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.executeSignals(ctx)
			r.checkFills(ctx)
			r.applyCancelPolicy(ctx)
			if r.priceFeed == nil {
				r.pollPrices(ctx)
			}
			r.store.PersistPositions(r.trailing.Snapshot())
		}
	}
}

// executeSignals places the staggered entry orders for every confirmed
// signal, then marks the signal executed so it is placed exactly once.
func (r *Runner) executeSignals(ctx context.Context) {
	for _, sig := range r.signals.Executable() {
		if sig.Entry == nil {
			continue
		}

		side := exchange.SideBuy
		if sig.Action == signal.ActionSell {
			side = exchange.SideSell
		}

		placed := 0
		for i, tranche := range sig.Entry.Plan {
			qty := r.cfg.OrderConfig.DefaultQuantity * tranche.Portion

			var info *exchange.OrderInfo
			err := r.retry.Do(ctx, func() error {
				var opErr error
				info, opErr = r.client.CreateOrder(ctx, exchange.OrderRequest{
					Symbol:        sig.Symbol,
					Side:          side,
					Type:          exchange.OrderTypeLimit,
					Quantity:      qty,
					Price:         tranche.Price,
					ClientOrderID: orders.BuildClientOrderID(sig.ID, i+1),
				})
				return opErr
			})
			if err != nil {
				r.logger.Error().
					Err(err).
					Str("symbol", sig.Symbol).
					Float64("price", tranche.Price).
					Msg("Entry order placement failed")
				continue
			}

			orderID := strconv.FormatInt(info.OrderID, 10)
			if _, err := r.orders.Register(sig.Symbol, sig.Action, tranche.Price, qty, 0, 0, orderID, sig.ID, sig.Indicators); err != nil {
				r.logger.Error().Err(err).Str("order_id", orderID).Msg("Could not track placed order")
			}
			placed++
		}

		if placed > 0 {
			r.notifier.SendSignalConfirmed(sig.Symbol, string(sig.Action), sig.Price, sig.Entry.Price)
			if err := r.signals.MarkExecuted(sig.ID); err != nil {
				r.logger.Warn().Err(err).Str("signal_id", sig.ID).Msg("Could not mark signal executed")
			}
		}
	}
}

// checkFills looks for exchange positions matching tracked orders and hands
// filled positions to the trailing engine. An order only counts as filled
// when the position is large enough to cover it on top of the tranches
// already attached, so a partially built position never drags the still
// resting tranches along with it.
func (r *Runner) checkFills(ctx context.Context) {
	const qtyEpsilon = 1e-9

	// Size already attached to the trailing engine, per symbol and side.
	attached := make(map[string]float64)
	for _, pos := range r.trailing.Snapshot() {
		attached[pos.Symbol+"|"+string(pos.Direction)] += pos.Size
	}

	// Earlier tranches rest closer to the market and fill first.
	active := r.orders.Active()
	sort.Slice(active, func(i, j int) bool {
		if !active[i].CreatedAt.Equal(active[j].CreatedAt) {
			return active[i].CreatedAt.Before(active[j].CreatedAt)
		}
		return active[i].ID < active[j].ID
	})

	positionsBySymbol := make(map[string][]exchange.Position)
	for _, order := range active {
		positions, ok := positionsBySymbol[order.Symbol]
		if !ok {
			err := r.retry.Do(ctx, func() error {
				var opErr error
				positions, opErr = r.client.GetPositionRisk(ctx, order.Symbol)
				return opErr
			})
			if err != nil {
				r.logger.Warn().Err(err).Str("symbol", order.Symbol).Msg("Position check failed")
				continue
			}
			positionsBySymbol[order.Symbol] = positions
		}

		long := order.Action == signal.ActionBuy
		direction := trailing.DirectionLong
		if !long {
			direction = trailing.DirectionShort
		}
		sideKey := order.Symbol + "|" + string(direction)

		for _, pos := range positions {
			if pos.PositionAmt == 0 || (pos.PositionAmt > 0) != long {
				continue
			}
			if r.trailing.IsTracked(order.Symbol, order.ID) {
				break
			}
			if math.Abs(pos.PositionAmt)+qtyEpsilon < attached[sideKey]+order.Quantity {
				// The position does not cover this tranche yet; it is
				// still resting on the book.
				break
			}

			fillPrice := pos.EntryPrice
			if fillPrice <= 0 {
				fillPrice = order.Price
			}
			if err := r.orders.UpdateStatus(order.ID, orders.OrderStatusFilled, fillPrice); err != nil {
				r.logger.Warn().Err(err).Str("order_id", order.ID).Msg("Could not mark order filled")
				break
			}

			if _, err := r.trailing.Register(order.Symbol, order.ID, fillPrice, order.Quantity, direction, order.StopLoss, order.TakeProfit); err != nil {
				r.logger.Error().Err(err).Str("order_id", order.ID).Msg("Could not attach trailing stop")
			}
			attached[sideKey] += order.Quantity
			break
		}
	}
}

// applyCancelPolicy evaluates the cancellation rules against fresh tickers
// and pulls flagged orders from the exchange.
func (r *Runner) applyCancelPolicy(ctx context.Context) {
	marketData := make(map[string]market.Data)
	for _, order := range r.orders.Active() {
		if _, ok := marketData[order.Symbol]; ok {
			continue
		}
		var price float64
		err := r.retry.Do(ctx, func() error {
			var opErr error
			price, opErr = r.client.GetTicker(ctx, order.Symbol)
			return opErr
		})
		if err != nil {
			r.logger.Warn().Err(err).Str("symbol", order.Symbol).Msg("Ticker fetch failed")
			continue
		}
		marketData[order.Symbol] = market.Data{Symbol: order.Symbol, Price: price, UpdatedAt: time.Now()}
	}

	decisions := r.orders.CheckCancel(marketData, nil)
	var flagged []orders.PendingOrder
	for _, d := range decisions {
		flagged = append(flagged, d.Order)
		r.notifier.SendOrderCancelled(d.Order.Symbol, d.Order.ID, d.Reason)
	}
	if len(flagged) > 0 {
		r.cancelOnExchange(ctx, flagged, "cancel policy")
	}
}

// cancelOnExchange pulls orders from the exchange and records the terminal
// status. Exchange failures are logged; local state still transitions so a
// stuck order cannot wedge the tracker.
func (r *Runner) cancelOnExchange(ctx context.Context, toCancel []orders.PendingOrder, why string) {
	for _, order := range toCancel {
		if orderID, err := strconv.ParseInt(order.ID, 10, 64); err == nil {
			cancelErr := r.retry.Do(ctx, func() error {
				return r.client.CancelOrder(ctx, order.Symbol, orderID)
			})
			if cancelErr != nil {
				r.logger.Error().
					Err(cancelErr).
					Str("order_id", order.ID).
					Str("why", why).
					Msg("Exchange cancel failed")
			}
		}
		if order.Status == orders.OrderStatusPending {
			if err := r.orders.UpdateStatus(order.ID, orders.OrderStatusCancelled, 0); err != nil {
				r.logger.Warn().Err(err).Str("order_id", order.ID).Msg("Could not record cancellation")
			}
		}
	}
}

// pollPrices feeds ticker prices to the trailing engine when no websocket
// feed is running.
func (r *Runner) pollPrices(ctx context.Context) {
	seen := make(map[string]bool)
	for _, pos := range r.trailing.Snapshot() {
		if seen[pos.Symbol] {
			continue
		}
		seen[pos.Symbol] = true

		var price float64
		err := r.retry.Do(ctx, func() error {
			var opErr error
			price, opErr = r.client.GetTicker(ctx, pos.Symbol)
			return opErr
		})
		if err != nil {
			r.logger.Warn().Err(err).Str("symbol", pos.Symbol).Msg("Price poll failed")
			continue
		}
		r.trailing.UpdatePrice(pos.Symbol, price, time.Now())
	}
}

// onPositionClosed fans a position exit out to notifications and the journal.
func (r *Runner) onPositionClosed(exit trailing.ClosedPosition) {
	r.notifier.SendTradeClosed(exit.Symbol, string(exit.Reason), exit.EntryPrice, exit.ClosePrice, exit.ProfitPct)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.journal.RecordClose(ctx, exit); err != nil {
		r.logger.Error().Err(err).Str("tracking_id", exit.TrackingID).Msg("Journal write failed")
	}

	r.store.PersistPositions(r.trailing.Snapshot())
}
