package db

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/signalhound/signalhound/internal/market"
)

// Symbol is an exchange trading pair tracked by the scanner.
type Symbol struct {
	Symbol      string          `db:"symbol"`
	Market      market.Kind     `db:"market"`
	BaseAsset   string          `db:"base_asset"`
	QuoteAsset  string          `db:"quote_asset"`
	Active      bool            `db:"active"`
	QuoteVolume decimal.Decimal `db:"quote_volume_24h"`
	SyncedAt    time.Time       `db:"synced_at"`
}

// UpsertSymbol inserts or refreshes one symbol row. Safe to call on every
// sync pass.
func (db *DB) UpsertSymbol(ctx context.Context, s *Symbol) error {
	query := `
		INSERT INTO symbols (symbol, market, base_asset, quote_asset, active, quote_volume_24h, synced_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (symbol, market) DO UPDATE SET
			base_asset = EXCLUDED.base_asset,
			quote_asset = EXCLUDED.quote_asset,
			active = EXCLUDED.active,
			quote_volume_24h = EXCLUDED.quote_volume_24h,
			synced_at = EXCLUDED.synced_at
	`

	if s.SyncedAt.IsZero() {
		s.SyncedAt = time.Now()
	}

	_, err := db.pool.Exec(ctx, query,
		s.Symbol, s.Market, s.BaseAsset, s.QuoteAsset, s.Active, s.QuoteVolume, s.SyncedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert symbol %s: %w", s.Symbol, err)
	}
	return nil
}

// DeactivateMissing marks symbols of one market inactive when they are not
// in the freshly synced set.
func (db *DB) DeactivateMissing(ctx context.Context, kind market.Kind, keep []string) (int64, error) {
	query := `
		UPDATE symbols SET active = false
		WHERE market = $1 AND active = true AND NOT (symbol = ANY($2))
	`

	result, err := db.pool.Exec(ctx, query, kind, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate symbols: %w", err)
	}
	return result.RowsAffected(), nil
}

// ListActiveSymbols returns the active symbols of one market ordered by
// 24h quote volume, highest first.
func (db *DB) ListActiveSymbols(ctx context.Context, kind market.Kind, limit int) ([]*Symbol, error) {
	query := `
		SELECT symbol, market, base_asset, quote_asset, active, quote_volume_24h, synced_at
		FROM symbols
		WHERE market = $1 AND active = true
		ORDER BY quote_volume_24h DESC
		LIMIT $2
	`

	rows, err := db.pool.Query(ctx, query, kind, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query active symbols: %w", err)
	}
	defer rows.Close()

	var symbols []*Symbol
	for rows.Next() {
		var s Symbol
		if err := rows.Scan(&s.Symbol, &s.Market, &s.BaseAsset, &s.QuoteAsset,
			&s.Active, &s.QuoteVolume, &s.SyncedAt); err != nil {
			return nil, fmt.Errorf("failed to scan symbol: %w", err)
		}
		symbols = append(symbols, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating symbols: %w", err)
	}
	return symbols, nil
}
