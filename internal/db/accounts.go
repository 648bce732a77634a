package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// SizingMode selects how a paper account sizes new positions.
type SizingMode string

const (
	SizingFixed   SizingMode = "FIXED"
	SizingPercent SizingMode = "PERCENT"
	SizingKelly   SizingMode = "KELLY"
)

// PaperAccount is a virtual balance container for simulated trades.
type PaperAccount struct {
	ID             uuid.UUID       `db:"id"`
	Name           string          `db:"name"`
	InitialBalance decimal.Decimal `db:"initial_balance"`
	CurrentBalance decimal.Decimal `db:"current_balance"`
	MaxTrades      int             `db:"max_trades"`
	MinConfidence  float64         `db:"min_confidence"`
	AutoTrading    bool            `db:"auto_trading"`
	SizingMode     SizingMode      `db:"sizing_mode"`
	SizingValue    decimal.Decimal `db:"sizing_value"`
	CreatedAt      time.Time       `db:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at"`
}

const accountColumns = `
	id, name, initial_balance, current_balance, max_trades, min_confidence,
	auto_trading, sizing_mode, sizing_value, created_at, updated_at`

func scanAccount(row pgx.Row) (*PaperAccount, error) {
	var a PaperAccount
	err := row.Scan(
		&a.ID, &a.Name, &a.InitialBalance, &a.CurrentBalance, &a.MaxTrades,
		&a.MinConfidence, &a.AutoTrading, &a.SizingMode, &a.SizingValue,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// SeedAccount creates an account by name if it does not exist yet. Existing
// accounts keep their balance and trade history.
func (db *DB) SeedAccount(ctx context.Context, a *PaperAccount) error {
	query := `
		INSERT INTO paper_accounts (
			id, name, initial_balance, current_balance, max_trades, min_confidence,
			auto_trading, sizing_mode, sizing_value, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (name) DO NOTHING
	`

	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.CurrentBalance.IsZero() {
		a.CurrentBalance = a.InitialBalance
	}
	now := time.Now()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = now
	}

	_, err := db.pool.Exec(ctx, query,
		a.ID, a.Name, a.InitialBalance, a.CurrentBalance, a.MaxTrades,
		a.MinConfidence, a.AutoTrading, a.SizingMode, a.SizingValue,
		a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to seed account %s: %w", a.Name, err)
	}
	return nil
}

// GetAccount retrieves a paper account by ID
func (db *DB) GetAccount(ctx context.Context, id uuid.UUID) (*PaperAccount, error) {
	query := `SELECT` + accountColumns + ` FROM paper_accounts WHERE id = $1`

	a, err := scanAccount(db.pool.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("account %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return a, nil
}

// ListAccounts returns all paper accounts.
func (db *DB) ListAccounts(ctx context.Context) ([]*PaperAccount, error) {
	query := `SELECT` + accountColumns + ` FROM paper_accounts ORDER BY created_at`

	rows, err := db.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*PaperAccount
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating accounts: %w", err)
	}
	return accounts, nil
}

// UpdateAccountConfig updates the tunable fields of an account.
func (db *DB) UpdateAccountConfig(ctx context.Context, a *PaperAccount) error {
	query := `
		UPDATE paper_accounts SET
			max_trades = $2,
			min_confidence = $3,
			auto_trading = $4,
			sizing_mode = $5,
			sizing_value = $6,
			updated_at = $7
		WHERE id = $1
	`

	a.UpdatedAt = time.Now()

	result, err := db.pool.Exec(ctx, query,
		a.ID, a.MaxTrades, a.MinConfidence, a.AutoTrading,
		a.SizingMode, a.SizingValue, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("account %s: %w", a.ID, ErrNotFound)
	}
	return nil
}

// ResetAccount restores the initial balance and cancels every non-terminal
// trade of the account, in a single transaction.
func (db *DB) ResetAccount(ctx context.Context, id uuid.UUID) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin reset transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now()

	_, err = tx.Exec(ctx, `
		UPDATE paper_trades SET
			status = 'CANCELLED',
			close_reason = 'account reset',
			exit_time = $2,
			updated_at = $2
		WHERE account_id = $1 AND status IN ('PENDING', 'OPEN')
	`, id, now)
	if err != nil {
		return fmt.Errorf("failed to cancel open trades: %w", err)
	}

	result, err := tx.Exec(ctx, `
		UPDATE paper_accounts SET current_balance = initial_balance, updated_at = $2
		WHERE id = $1
	`, id, now)
	if err != nil {
		return fmt.Errorf("failed to reset balance: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("account %s: %w", id, ErrNotFound)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit reset: %w", err)
	}
	return nil
}
