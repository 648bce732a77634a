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

// SignalStatus is the lifecycle state of a signal.
type SignalStatus string

const (
	SignalActive    SignalStatus = "ACTIVE"
	SignalExecuted  SignalStatus = "EXECUTED"
	SignalExpired   SignalStatus = "EXPIRED"
	SignalCancelled SignalStatus = "CANCELLED"
	SignalHitTP     SignalStatus = "HIT_TP"
	SignalHitSL     SignalStatus = "HIT_SL"
)

// Terminal reports whether the status can never change again.
func (s SignalStatus) Terminal() bool {
	switch s {
	case SignalHitTP, SignalHitSL, SignalExpired, SignalCancelled:
		return true
	}
	return false
}

// TradingType classifies the expected holding style of a signal.
type TradingType string

const (
	TradingScalping TradingType = "SCALPING"
	TradingDay      TradingType = "DAY"
	TradingSwing    TradingType = "SWING"
)

// Signal is a detected trade opportunity.
type Signal struct {
	ID            uuid.UUID        `db:"id"`
	Symbol        string           `db:"symbol"`
	Market        market.Kind      `db:"market"`
	Direction     market.Direction `db:"direction"`
	Timeframe     market.Timeframe `db:"timeframe"`
	Entry         decimal.Decimal  `db:"entry_price"`
	StopLoss      decimal.Decimal  `db:"stop_loss"`
	TakeProfit    decimal.Decimal  `db:"take_profit"`
	CurrentPrice  *decimal.Decimal `db:"current_price"`
	Confidence    float64          `db:"confidence"`
	Status        SignalStatus     `db:"status"`
	TradingType   TradingType      `db:"trading_type"`
	DurationHours float64          `db:"duration_hours"`
	Leverage      int              `db:"leverage"`
	RiskReward    float64          `db:"risk_reward"`
	Description   string           `db:"description"`
	CreatedAt     time.Time        `db:"created_at"`
	UpdatedAt     time.Time        `db:"updated_at"`
}

const signalColumns = `
	id, symbol, market, direction, timeframe, entry_price, stop_loss,
	take_profit, current_price, confidence, status, trading_type,
	duration_hours, leverage, risk_reward, description, created_at, updated_at`

func scanSignal(row pgx.Row) (*Signal, error) {
	var s Signal
	err := row.Scan(
		&s.ID, &s.Symbol, &s.Market, &s.Direction, &s.Timeframe,
		&s.Entry, &s.StopLoss, &s.TakeProfit, &s.CurrentPrice,
		&s.Confidence, &s.Status, &s.TradingType, &s.DurationHours,
		&s.Leverage, &s.RiskReward, &s.Description, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// InsertSignal inserts a new signal into the database
func (db *DB) InsertSignal(ctx context.Context, s *Signal) error {
	query := `
		INSERT INTO signals (
			id, symbol, market, direction, timeframe, entry_price, stop_loss,
			take_profit, current_price, confidence, status, trading_type,
			duration_hours, leverage, risk_reward, description, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18
		)
	`

	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.Status == "" {
		s.Status = SignalActive
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = s.CreatedAt
	}

	_, err := db.pool.Exec(ctx, query,
		s.ID, s.Symbol, s.Market, s.Direction, s.Timeframe,
		s.Entry, s.StopLoss, s.TakeProfit, s.CurrentPrice,
		s.Confidence, s.Status, s.TradingType, s.DurationHours,
		s.Leverage, s.RiskReward, s.Description, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert signal: %w", err)
	}
	return nil
}

// GetSignal retrieves a signal by ID
func (db *DB) GetSignal(ctx context.Context, id uuid.UUID) (*Signal, error) {
	query := `SELECT` + signalColumns + ` FROM signals WHERE id = $1`

	s, err := scanSignal(db.pool.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("signal %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get signal: %w", err)
	}
	return s, nil
}

// UpdateSignalStatus transitions a signal from one expected status to the
// next. Returns ErrConcurrentUpdate if the row is no longer in the expected
// status.
func (db *DB) UpdateSignalStatus(ctx context.Context, id uuid.UUID, expected, next SignalStatus) error {
	query := `
		UPDATE signals SET status = $3, updated_at = $4
		WHERE id = $1 AND status = $2
	`

	result, err := db.pool.Exec(ctx, query, id, expected, next, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update signal status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("signal %s %s -> %s: %w", id, expected, next, ErrConcurrentUpdate)
	}
	return nil
}

// UpdateSignalPrice records the latest observed market price for an active
// signal.
func (db *DB) UpdateSignalPrice(ctx context.Context, id uuid.UUID, price decimal.Decimal) error {
	query := `
		UPDATE signals SET current_price = $2, updated_at = $3
		WHERE id = $1 AND status = 'ACTIVE'
	`

	_, err := db.pool.Exec(ctx, query, id, price, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update signal price: %w", err)
	}
	return nil
}

// FindDupSignal looks for a recent equivalent ACTIVE signal: same symbol,
// market, direction and timeframe, created within the window, entry within
// 1%. A signal that already hit SL/TP or was cancelled does not suppress a
// new emission.
func (db *DB) FindDupSignal(ctx context.Context, symbol string, kind market.Kind,
	dir market.Direction, tf market.Timeframe, entry decimal.Decimal, within time.Duration) (*Signal, error) {

	query := `SELECT` + signalColumns + `
		FROM signals
		WHERE symbol = $1 AND market = $2 AND direction = $3 AND timeframe = $4
			AND status = 'ACTIVE'
			AND created_at > $5
			AND abs(entry_price - $6) / $6 <= 0.01
		ORDER BY created_at DESC
		LIMIT 1
	`

	cutoff := time.Now().Add(-within)
	s, err := scanSignal(db.pool.QueryRow(ctx, query, symbol, kind, dir, tf, cutoff, entry))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find duplicate signal: %w", err)
	}
	return s, nil
}

// ListActiveSignals returns all signals still in ACTIVE status, optionally
// filtered by market, newest first.
func (db *DB) ListActiveSignals(ctx context.Context, kind market.Kind) ([]*Signal, error) {
	query := `SELECT` + signalColumns + `
		FROM signals
		WHERE status = 'ACTIVE' AND ($1 = '' OR market = $1)
		ORDER BY created_at DESC
	`

	rows, err := db.pool.Query(ctx, query, string(kind))
	if err != nil {
		return nil, fmt.Errorf("failed to query active signals: %w", err)
	}
	defer rows.Close()
	return collectSignals(rows)
}

// ListActiveSignalsForSymbol returns the ACTIVE signals of one symbol and
// market, used for cross-timeframe priority checks.
func (db *DB) ListActiveSignalsForSymbol(ctx context.Context, symbol string, kind market.Kind) ([]*Signal, error) {
	query := `SELECT` + signalColumns + `
		FROM signals
		WHERE symbol = $1 AND market = $2 AND status = 'ACTIVE'
		ORDER BY created_at DESC
	`

	rows, err := db.pool.Query(ctx, query, symbol, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to query signals for %s: %w", symbol, err)
	}
	defer rows.Close()
	return collectSignals(rows)
}

// ListSignals returns the recent signal feed across all statuses.
func (db *DB) ListSignals(ctx context.Context, limit int) ([]*Signal, error) {
	query := `SELECT` + signalColumns + `
		FROM signals
		ORDER BY created_at DESC
		LIMIT $1
	`

	rows, err := db.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query signals: %w", err)
	}
	defer rows.Close()
	return collectSignals(rows)
}

func collectSignals(rows pgx.Rows) ([]*Signal, error) {
	var signals []*Signal
	for rows.Next() {
		s, err := scanSignal(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan signal: %w", err)
		}
		signals = append(signals, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating signals: %w", err)
	}
	return signals, nil
}
