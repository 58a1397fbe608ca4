// Package database persists the closed-trade journal to Postgres. The
// journal is optional: when no DSN is configured the bot trades without it.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"futures-trading-bot/internal/position"
)

// TradeRecord is one journaled trade.
type TradeRecord struct {
	ID          int64     `json:"id"`
	Symbol      string    `json:"symbol"`
	Side        string    `json:"side"`
	EntryPrice  float64   `json:"entry_price"`
	ExitPrice   float64   `json:"exit_price"`
	Quantity    float64   `json:"quantity"`
	StopLoss    float64   `json:"stop_loss"`
	TakeProfit  float64   `json:"take_profit"`
	PnL         float64   `json:"pnl"`
	PnLPercent  float64   `json:"pnl_percent"`
	CloseReason string    `json:"close_reason"`
	EntryTime   time.Time `json:"entry_time"`
	ExitTime    time.Time `json:"exit_time"`
}

// Journal writes closed trades to Postgres.
type Journal struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewJournal connects to Postgres and runs the schema migration.
func NewJournal(ctx context.Context, dsn string, logger zerolog.Logger) (*Journal, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("error parsing database DSN: %w", err)
	}
	poolCfg.MaxConns = 4
	poolCfg.MinConns = 1
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("error creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}

	j := &Journal{
		pool:   pool,
		logger: logger.With().Str("component", "trade_journal").Logger(),
	}
	if err := j.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	j.logger.Info().Msg("trade journal connected")
	return j, nil
}

func (j *Journal) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS trades (
		id BIGSERIAL PRIMARY KEY,
		symbol VARCHAR(20) NOT NULL,
		side VARCHAR(10) NOT NULL,
		entry_price DOUBLE PRECISION NOT NULL,
		exit_price DOUBLE PRECISION NOT NULL,
		quantity DOUBLE PRECISION NOT NULL,
		stop_loss DOUBLE PRECISION,
		take_profit DOUBLE PRECISION,
		pnl DOUBLE PRECISION NOT NULL,
		pnl_percent DOUBLE PRECISION NOT NULL,
		close_reason VARCHAR(50),
		entry_time TIMESTAMPTZ NOT NULL,
		exit_time TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol);
	CREATE INDEX IF NOT EXISTS idx_trades_exit_time ON trades(exit_time);`

	if _, err := j.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("error running trade journal migration: %w", err)
	}
	return nil
}

// RecordClose journals one closed position.
func (j *Journal) RecordClose(ctx context.Context, closed *position.ClosedPosition) error {
	pnlPct := 0.0
	if closed.EntryPrice != 0 && closed.Quantity != 0 {
		pnlPct = closed.RealizedPnL / (closed.EntryPrice * closed.Quantity) * 100
	}

	_, err := j.pool.Exec(ctx, `
		INSERT INTO trades
			(symbol, side, entry_price, exit_price, quantity, stop_loss,
			 take_profit, pnl, pnl_percent, close_reason, entry_time, exit_time)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		closed.Symbol, string(closed.Side), closed.EntryPrice, closed.ExitPrice,
		closed.Quantity, closed.StopLoss, closed.TakeProfit, closed.RealizedPnL,
		pnlPct, closed.CloseReason, closed.EntryTime, closed.ExitTime)
	if err != nil {
		return fmt.Errorf("error journaling trade for %s: %w", closed.Symbol, err)
	}
	return nil
}

// RecentTrades returns the most recently closed trades, newest first.
func (j *Journal) RecentTrades(ctx context.Context, limit int) ([]TradeRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := j.pool.Query(ctx, `
		SELECT id, symbol, side, entry_price, exit_price, quantity,
		       COALESCE(stop_loss, 0), COALESCE(take_profit, 0),
		       pnl, pnl_percent, COALESCE(close_reason, ''), entry_time, exit_time
		FROM trades
		ORDER BY exit_time DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("error querying trades: %w", err)
	}
	defer rows.Close()

	var trades []TradeRecord
	for rows.Next() {
		var t TradeRecord
		if err := rows.Scan(&t.ID, &t.Symbol, &t.Side, &t.EntryPrice, &t.ExitPrice,
			&t.Quantity, &t.StopLoss, &t.TakeProfit, &t.PnL, &t.PnLPercent,
			&t.CloseReason, &t.EntryTime, &t.ExitTime); err != nil {
			return nil, fmt.Errorf("error scanning trade row: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// Close releases the connection pool.
func (j *Journal) Close() {
	j.pool.Close()
}
