// Package journal records closed trades in PostgreSQL for later analysis.
// The journal is optional; a nil *Journal is safe to call everywhere.
package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/baouih/binance-sub015/config"
	"github.com/baouih/binance-sub015/internal/trailing"
)

// Journal wraps the PostgreSQL connection pool.
type Journal struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// Open connects to the journal database and ensures the schema exists.
// Returns nil without error when the journal is disabled.
func Open(ctx context.Context, cfg config.JournalConfig, logger zerolog.Logger) (*Journal, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("unable to parse journal database config: %w", err)
	}
	poolConfig.MaxConns = 5
	poolConfig.MaxConnLifetime = time.Hour

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create journal connection pool: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping journal database: %w", err)
	}

	j := &Journal{
		pool:   pool,
		logger: logger.With().Str("component", "TradeJournal").Logger(),
	}
	if err := j.migrate(connectCtx); err != nil {
		pool.Close()
		return nil, err
	}

	j.logger.Info().Msg("Trade journal connected")
	return j, nil
}

// migrate creates the closed trades table.
func (j *Journal) migrate(ctx context.Context) error {
	migration := `
		CREATE TABLE IF NOT EXISTS closed_trades (
			id SERIAL PRIMARY KEY,
			tracking_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			direction TEXT NOT NULL,
			entry_price DOUBLE PRECISION NOT NULL,
			close_price DOUBLE PRECISION NOT NULL,
			size DOUBLE PRECISION NOT NULL,
			profit_pct DOUBLE PRECISION NOT NULL,
			close_reason TEXT NOT NULL,
			opened_at TIMESTAMPTZ NOT NULL,
			closed_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_closed_trades_symbol ON closed_trades(symbol);
		CREATE INDEX IF NOT EXISTS idx_closed_trades_closed_at ON closed_trades(closed_at);
	`
	if _, err := j.pool.Exec(ctx, migration); err != nil {
		return fmt.Errorf("journal migration failed: %w", err)
	}
	return nil
}

// RecordClose inserts a closed trade. Safe on a nil journal.
func (j *Journal) RecordClose(ctx context.Context, exit trailing.ClosedPosition) error {
	if j == nil {
		return nil
	}

	query := `
		INSERT INTO closed_trades
			(tracking_id, symbol, direction, entry_price, close_price, size, profit_pct, close_reason, opened_at, closed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := j.pool.Exec(ctx, query,
		exit.TrackingID,
		exit.Symbol,
		string(exit.Direction),
		exit.EntryPrice,
		exit.ClosePrice,
		exit.Size,
		exit.ProfitPct,
		string(exit.Reason),
		exit.CreatedAt,
		exit.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record closed trade: %w", err)
	}
	return nil
}

// Close releases the connection pool. Safe on a nil journal.
func (j *Journal) Close() {
	if j == nil || j.pool == nil {
		return
	}
	j.pool.Close()
	j.logger.Info().Msg("Trade journal closed")
}
