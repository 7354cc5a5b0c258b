// Package api serves the monitoring and signal-intake endpoints for the
// trading service: signal, order, and position snapshots, worker health,
// and signal submission.
package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/baouih/binance-sub015/config"
	"github.com/baouih/binance-sub015/internal/market"
	"github.com/baouih/binance-sub015/internal/orders"
	"github.com/baouih/binance-sub015/internal/signal"
	"github.com/baouih/binance-sub015/internal/supervisor"
	"github.com/baouih/binance-sub015/internal/trailing"
)

// Server exposes the monitoring API over HTTP.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server

	signals    *signal.Manager
	orders     *orders.Tracker
	trailing   *trailing.Engine
	supervisor *supervisor.Supervisor

	logger    zerolog.Logger
	startedAt time.Time
}

// NewServer builds the router. Any of the manager handles may be nil; the
// corresponding endpoint then serves an empty snapshot.
func NewServer(
	cfg config.ServerConfig,
	signals *signal.Manager,
	orderTracker *orders.Tracker,
	trailingEngine *trailing.Engine,
	sup *supervisor.Supervisor,
	logger zerolog.Logger,
) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type"}
	router.Use(cors.New(corsConfig))

	s := &Server{
		router: router,
		httpServer: &http.Server{
			Addr:    cfg.Addr,
			Handler: router,
		},
		signals:    signals,
		orders:     orderTracker,
		trailing:   trailingEngine,
		supervisor: sup,
		logger:     logger.With().Str("component", "MonitorAPI").Logger(),
		startedAt:  time.Now(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	api := s.router.Group("/api")
	{
		api.GET("/status", s.handleStatus)
		api.GET("/signals", s.handleSignals)
		api.POST("/signals", s.handleSubmitSignal)
		api.GET("/orders", s.handleOrders)
		api.GET("/positions", s.handlePositions)
		api.GET("/trades", s.handleTrades)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(s.startedAt).Round(time.Second).String(),
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	status := gin.H{
		"uptime": time.Since(s.startedAt).Round(time.Second).String(),
	}
	if s.signals != nil {
		status["active_signals"] = len(s.signals.Snapshot())
	}
	if s.orders != nil {
		status["pending_orders"] = len(s.orders.Active())
	}
	if s.trailing != nil {
		status["tracked_positions"] = len(s.trailing.Snapshot())
		status["trailing_stats"] = s.trailing.Stats()
	}
	if s.supervisor != nil {
		status["workers"] = s.supervisor.Records()
		status["dead_workers"] = s.supervisor.DeadWorkers()
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) handleSignals(c *gin.Context) {
	if s.signals == nil {
		c.JSON(http.StatusOK, []interface{}{})
		return
	}
	c.JSON(http.StatusOK, s.signals.Snapshot())
}

// SubmitSignalRequest is the body accepted by POST /api/signals. Repeated
// submissions for the same symbol and action count as confirmations.
type SubmitSignalRequest struct {
	Symbol     string            `json:"symbol" binding:"required"`
	Action     string            `json:"action" binding:"required"`
	Price      float64           `json:"price" binding:"required"`
	Source     string            `json:"source"`
	Indicators market.Indicators `json:"indicators"`
}

func (s *Server) handleSubmitSignal(c *gin.Context) {
	if s.signals == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "signal manager not running"})
		return
	}

	var req SubmitSignalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	action := signal.Action(strings.ToUpper(req.Action))
	if action != signal.ActionBuy && action != signal.ActionSell {
		c.JSON(http.StatusBadRequest, gin.H{"error": "action must be BUY or SELL"})
		return
	}
	source := req.Source
	if source == "" {
		source = "api"
	}

	sig, err := s.signals.Register(req.Symbol, action, req.Price, req.Indicators, source)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, sig)
}

func (s *Server) handleOrders(c *gin.Context) {
	if s.orders == nil {
		c.JSON(http.StatusOK, []interface{}{})
		return
	}
	c.JSON(http.StatusOK, s.orders.Active())
}

func (s *Server) handlePositions(c *gin.Context) {
	if s.trailing == nil {
		c.JSON(http.StatusOK, []interface{}{})
		return
	}
	c.JSON(http.StatusOK, s.trailing.Snapshot())
}

func (s *Server) handleTrades(c *gin.Context) {
	if s.trailing == nil {
		c.JSON(http.StatusOK, []interface{}{})
		return
	}
	c.JSON(http.StatusOK, s.trailing.ClosedPositions())
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.httpServer.Addr).Msg("Monitoring API listening")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error().Err(err).Msg("API shutdown failed")
		}
		return ctx.Err()
	}
}
