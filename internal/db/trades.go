package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/signalhound/signalhound/internal/market"
)

// TradeStatus is the lifecycle state of a paper trade.
type TradeStatus string

const (
	TradePending       TradeStatus = "PENDING"
	TradeOpen          TradeStatus = "OPEN"
	TradeClosedTP      TradeStatus = "CLOSED_TP"
	TradeClosedSL      TradeStatus = "CLOSED_SL"
	TradeClosedManual  TradeStatus = "CLOSED_MANUAL"
	TradeClosedExpired TradeStatus = "CLOSED_EXPIRED"
	TradeCancelled     TradeStatus = "CANCELLED"
)

// Closed reports whether the status is a terminal CLOSED_* state.
func (s TradeStatus) Closed() bool {
	switch s {
	case TradeClosedTP, TradeClosedSL, TradeClosedManual, TradeClosedExpired:
		return true
	}
	return false
}

// PaperTrade is a simulated position linked to one signal and one account.
type PaperTrade struct {
	ID          uuid.UUID        `db:"id"`
	AccountID   uuid.UUID        `db:"account_id"`
	SignalID    *uuid.UUID       `db:"signal_id"`
	Symbol      string           `db:"symbol"`
	Market      market.Kind      `db:"market"`
	Direction   market.Direction `db:"direction"`
	Entry       decimal.Decimal  `db:"entry_price"`
	StopLoss    decimal.Decimal  `db:"stop_loss"`
	TakeProfit  decimal.Decimal  `db:"take_profit"`
	Size        decimal.Decimal  `db:"size"`
	Leverage    int              `db:"leverage"`
	Status      TradeStatus      `db:"status"`
	EntryTime   time.Time        `db:"entry_time"`
	ExitTime    *time.Time       `db:"exit_time"`
	ExitPrice   *decimal.Decimal `db:"exit_price"`
	RealizedPnL *decimal.Decimal `db:"realized_pnl"`
	CloseReason *string          `db:"close_reason"`
	CreatedAt   time.Time        `db:"created_at"`
	UpdatedAt   time.Time        `db:"updated_at"`
}

const tradeColumns = `
	id, account_id, signal_id, symbol, market, direction, entry_price,
	stop_loss, take_profit, size, leverage, status, entry_time, exit_time,
	exit_price, realized_pnl, close_reason, created_at, updated_at`

func scanTrade(row pgx.Row) (*PaperTrade, error) {
	var t PaperTrade
	err := row.Scan(
		&t.ID, &t.AccountID, &t.SignalID, &t.Symbol, &t.Market, &t.Direction,
		&t.Entry, &t.StopLoss, &t.TakeProfit, &t.Size, &t.Leverage, &t.Status,
		&t.EntryTime, &t.ExitTime, &t.ExitPrice, &t.RealizedPnL, &t.CloseReason,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// InsertTrade inserts a new paper trade into the database
func (db *DB) InsertTrade(ctx context.Context, t *PaperTrade) error {
	query := `
		INSERT INTO paper_trades (
			id, account_id, signal_id, symbol, market, direction, entry_price,
			stop_loss, take_profit, size, leverage, status, entry_time,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15
		)
	`

	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.Status == "" {
		t.Status = TradeOpen
	}
	now := time.Now()
	if t.EntryTime.IsZero() {
		t.EntryTime = now
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = now
	}

	_, err := db.pool.Exec(ctx, query,
		t.ID, t.AccountID, t.SignalID, t.Symbol, t.Market, t.Direction,
		t.Entry, t.StopLoss, t.TakeProfit, t.Size, t.Leverage, t.Status,
		t.EntryTime, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert trade: %w", err)
	}
	return nil
}

// GetTrade retrieves a paper trade by ID
func (db *DB) GetTrade(ctx context.Context, id uuid.UUID) (*PaperTrade, error) {
	query := `SELECT` + tradeColumns + ` FROM paper_trades WHERE id = $1`

	t, err := scanTrade(db.pool.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("trade %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get trade: %w", err)
	}
	return t, nil
}

// CloseTrade transitions an OPEN trade to a CLOSED_* state and applies the
// realized P/L to the owning account balance in the same transaction. The
// conditional update serialises concurrent close attempts: the loser sees
// ErrConcurrentUpdate.
func (db *DB) CloseTrade(ctx context.Context, id uuid.UUID, status TradeStatus,
	exitPrice, realizedPnL decimal.Decimal, reason string) error {

	if !status.Closed() {
		return fmt.Errorf("close trade %s: %s is not a closed status", id, status)
	}

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin close transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now()

	var accountID uuid.UUID
	err = tx.QueryRow(ctx, `
		UPDATE paper_trades SET
			status = $2,
			exit_price = $3,
			exit_time = $4,
			realized_pnl = $5,
			close_reason = $6,
			updated_at = $4
		WHERE id = $1 AND status = 'OPEN'
		RETURNING account_id
	`, id, status, exitPrice, now, realizedPnL, reason).Scan(&accountID)
	if err != nil {
		if err == pgx.ErrNoRows {
			return fmt.Errorf("trade %s not open: %w", id, ErrConcurrentUpdate)
		}
		return fmt.Errorf("failed to close trade: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE paper_accounts SET current_balance = current_balance + $2, updated_at = $3
		WHERE id = $1
	`, accountID, realizedPnL, now)
	if err != nil {
		return fmt.Errorf("failed to apply realized pnl: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit close: %w", err)
	}
	return nil
}

// CancelTrade cancels a PENDING or OPEN trade without touching the account
// balance.
func (db *DB) CancelTrade(ctx context.Context, id uuid.UUID, reason string) error {
	query := `
		UPDATE paper_trades SET
			status = 'CANCELLED',
			close_reason = $2,
			exit_time = $3,
			updated_at = $3
		WHERE id = $1 AND status IN ('PENDING', 'OPEN')
	`

	result, err := db.pool.Exec(ctx, query, id, reason, time.Now())
	if err != nil {
		return fmt.Errorf("failed to cancel trade: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("trade %s not cancellable: %w", id, ErrConcurrentUpdate)
	}
	return nil
}

// ListOpenTrades returns all OPEN trades, oldest entry first.
func (db *DB) ListOpenTrades(ctx context.Context) ([]*PaperTrade, error) {
	query := `SELECT` + tradeColumns + `
		FROM paper_trades
		WHERE status = 'OPEN'
		ORDER BY entry_time
	`

	rows, err := db.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query open trades: %w", err)
	}
	defer rows.Close()
	return collectTrades(rows)
}

// ListAccountTrades returns the recent trades of one account, newest first.
func (db *DB) ListAccountTrades(ctx context.Context, accountID uuid.UUID, limit int) ([]*PaperTrade, error) {
	query := `SELECT` + tradeColumns + `
		FROM paper_trades
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := db.pool.Query(ctx, query, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query account trades: %w", err)
	}
	defer rows.Close()
	return collectTrades(rows)
}

// CountOpenTrades returns the number of OPEN trades on one account.
func (db *DB) CountOpenTrades(ctx context.Context, accountID uuid.UUID) (int, error) {
	query := `SELECT count(*) FROM paper_trades WHERE account_id = $1 AND status = 'OPEN'`

	var count int
	if err := db.pool.QueryRow(ctx, query, accountID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count open trades: %w", err)
	}
	return count, nil
}

// ClosedTradeStats returns the closed-trade count, win count and average
// win/loss magnitudes for one account. Used for Kelly sizing.
func (db *DB) ClosedTradeStats(ctx context.Context, accountID uuid.UUID) (total, wins int, avgWin, avgLoss decimal.Decimal, err error) {
	query := `
		SELECT
			count(*),
			count(*) FILTER (WHERE realized_pnl > 0),
			coalesce(avg(realized_pnl) FILTER (WHERE realized_pnl > 0), 0),
			coalesce(avg(-realized_pnl) FILTER (WHERE realized_pnl < 0), 0)
		FROM paper_trades
		WHERE account_id = $1
			AND status IN ('CLOSED_TP', 'CLOSED_SL', 'CLOSED_MANUAL', 'CLOSED_EXPIRED')
	`

	err = db.pool.QueryRow(ctx, query, accountID).Scan(&total, &wins, &avgWin, &avgLoss)
	if err != nil {
		return 0, 0, decimal.Zero, decimal.Zero, fmt.Errorf("failed to query trade stats: %w", err)
	}
	return total, wins, avgWin, avgLoss, nil
}

func collectTrades(rows pgx.Rows) ([]*PaperTrade, error) {
	var trades []*PaperTrade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trades: %w", err)
	}
	return trades, nil
}
