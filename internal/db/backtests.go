package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/signalhound/signalhound/internal/market"
)

// BacktestStatus is the lifecycle state of a backtest run.
type BacktestStatus string

const (
	BacktestPending   BacktestStatus = "PENDING"
	BacktestRunning   BacktestStatus = "RUNNING"
	BacktestCompleted BacktestStatus = "COMPLETED"
	BacktestFailed    BacktestStatus = "FAILED"
)

// BacktestRun is a historical evaluation of one engine configuration.
// Strategy parameters and result metrics are stored as JSONB so parameter
// sweeps do not need schema changes.
type BacktestRun struct {
	ID             uuid.UUID        `db:"id"`
	Name           string           `db:"name"`
	Symbols        []string         `db:"symbols"`
	Market         market.Kind      `db:"market"`
	Timeframe      market.Timeframe `db:"timeframe"`
	StartDate      time.Time        `db:"start_date"`
	EndDate        time.Time        `db:"end_date"`
	StrategyParams json.RawMessage  `db:"strategy_params"`
	InitialCapital decimal.Decimal  `db:"initial_capital"`
	PositionSize   decimal.Decimal  `db:"position_size"`
	Status         BacktestStatus   `db:"status"`
	Results        json.RawMessage  `db:"results"`
	ErrorMessage   *string          `db:"error_message"`
	CreatedAt      time.Time        `db:"created_at"`
	StartedAt      *time.Time       `db:"started_at"`
	CompletedAt    *time.Time       `db:"completed_at"`
}

// BacktestTrade is one simulated trade from a backtest run.
type BacktestTrade struct {
	ID          uuid.UUID        `db:"id"`
	RunID       uuid.UUID        `db:"run_id"`
	Symbol      string           `db:"symbol"`
	Direction   market.Direction `db:"direction"`
	Entry       decimal.Decimal  `db:"entry_price"`
	ExitPrice   decimal.Decimal  `db:"exit_price"`
	Size        decimal.Decimal  `db:"size"`
	Leverage    int              `db:"leverage"`
	PnL         decimal.Decimal  `db:"pnl"`
	Status      TradeStatus      `db:"status"`
	Confidence  float64          `db:"confidence"`
	EntryTime   time.Time        `db:"entry_time"`
	ExitTime    time.Time        `db:"exit_time"`
}

const backtestColumns = `
	id, name, symbols, market, timeframe, start_date, end_date,
	strategy_params, initial_capital, position_size, status, results,
	error_message, created_at, started_at, completed_at`

func scanBacktest(row pgx.Row) (*BacktestRun, error) {
	var r BacktestRun
	err := row.Scan(
		&r.ID, &r.Name, &r.Symbols, &r.Market, &r.Timeframe,
		&r.StartDate, &r.EndDate, &r.StrategyParams, &r.InitialCapital,
		&r.PositionSize, &r.Status, &r.Results, &r.ErrorMessage,
		&r.CreatedAt, &r.StartedAt, &r.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// CreateBacktestRun inserts a new run in PENDING status.
func (db *DB) CreateBacktestRun(ctx context.Context, r *BacktestRun) error {
	query := `
		INSERT INTO backtest_runs (
			id, name, symbols, market, timeframe, start_date, end_date,
			strategy_params, initial_capital, position_size, status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.Status == "" {
		r.Status = BacktestPending
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}

	_, err := db.pool.Exec(ctx, query,
		r.ID, r.Name, r.Symbols, r.Market, r.Timeframe, r.StartDate, r.EndDate,
		r.StrategyParams, r.InitialCapital, r.PositionSize, r.Status, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create backtest run: %w", err)
	}
	return nil
}

// GetBacktestRun retrieves a backtest run by ID
func (db *DB) GetBacktestRun(ctx context.Context, id uuid.UUID) (*BacktestRun, error) {
	query := `SELECT` + backtestColumns + ` FROM backtest_runs WHERE id = $1`

	r, err := scanBacktest(db.pool.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("backtest run %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get backtest run: %w", err)
	}
	return r, nil
}

// ListBacktestRuns returns recent runs, newest first.
func (db *DB) ListBacktestRuns(ctx context.Context, limit int) ([]*BacktestRun, error) {
	query := `SELECT` + backtestColumns + `
		FROM backtest_runs ORDER BY created_at DESC LIMIT $1`

	rows, err := db.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query backtest runs: %w", err)
	}
	defer rows.Close()

	var runs []*BacktestRun
	for rows.Next() {
		r, err := scanBacktest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan backtest run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating backtest runs: %w", err)
	}
	return runs, nil
}

// StartBacktestRun transitions a PENDING run to RUNNING.
func (db *DB) StartBacktestRun(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE backtest_runs SET status = 'RUNNING', started_at = $2
		WHERE id = $1 AND status = 'PENDING'
	`

	result, err := db.pool.Exec(ctx, query, id, time.Now())
	if err != nil {
		return fmt.Errorf("failed to start backtest run: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("backtest run %s not pending: %w", id, ErrConcurrentUpdate)
	}
	return nil
}

// CompleteBacktestRun stores the result metrics and marks the run COMPLETED.
func (db *DB) CompleteBacktestRun(ctx context.Context, id uuid.UUID, results json.RawMessage) error {
	query := `
		UPDATE backtest_runs SET status = 'COMPLETED', results = $2, completed_at = $3
		WHERE id = $1 AND status = 'RUNNING'
	`

	result, err := db.pool.Exec(ctx, query, id, results, time.Now())
	if err != nil {
		return fmt.Errorf("failed to complete backtest run: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("backtest run %s not running: %w", id, ErrConcurrentUpdate)
	}
	return nil
}

// FailBacktestRun marks the run FAILED with an error message.
func (db *DB) FailBacktestRun(ctx context.Context, id uuid.UUID, message string) error {
	query := `
		UPDATE backtest_runs SET status = 'FAILED', error_message = $2, completed_at = $3
		WHERE id = $1 AND status IN ('PENDING', 'RUNNING')
	`

	result, err := db.pool.Exec(ctx, query, id, message, time.Now())
	if err != nil {
		return fmt.Errorf("failed to fail backtest run: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("backtest run %s already finished: %w", id, ErrConcurrentUpdate)
	}
	return nil
}

// InsertBacktestTrades bulk-inserts the trade log of one run.
func (db *DB) InsertBacktestTrades(ctx context.Context, runID uuid.UUID, trades []*BacktestTrade) error {
	if len(trades) == 0 {
		return nil
	}

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin trade log transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO backtest_trades (
			id, run_id, symbol, direction, entry_price, exit_price, size,
			leverage, pnl, status, confidence, entry_time, exit_time
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	for _, t := range trades {
		if t.ID == uuid.Nil {
			t.ID = uuid.New()
		}
		t.RunID = runID
		_, err := tx.Exec(ctx, query,
			t.ID, t.RunID, t.Symbol, t.Direction, t.Entry, t.ExitPrice,
			t.Size, t.Leverage, t.PnL, t.Status, t.Confidence,
			t.EntryTime, t.ExitTime,
		)
		if err != nil {
			return fmt.Errorf("failed to insert backtest trade: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit trade log: %w", err)
	}
	return nil
}

// ListBacktestTrades returns the trade log of one run in entry-time order.
func (db *DB) ListBacktestTrades(ctx context.Context, runID uuid.UUID) ([]*BacktestTrade, error) {
	query := `
		SELECT id, run_id, symbol, direction, entry_price, exit_price, size,
			leverage, pnl, status, confidence, entry_time, exit_time
		FROM backtest_trades
		WHERE run_id = $1
		ORDER BY entry_time
	`

	rows, err := db.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query backtest trades: %w", err)
	}
	defer rows.Close()

	var trades []*BacktestTrade
	for rows.Next() {
		var t BacktestTrade
		if err := rows.Scan(&t.ID, &t.RunID, &t.Symbol, &t.Direction, &t.Entry,
			&t.ExitPrice, &t.Size, &t.Leverage, &t.PnL, &t.Status, &t.Confidence,
			&t.EntryTime, &t.ExitTime); err != nil {
			return nil, fmt.Errorf("failed to scan backtest trade: %w", err)
		}
		trades = append(trades, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating backtest trades: %w", err)
	}
	return trades, nil
}
