package db

import (
	"context"
	"fmt"
	"time"

	"github.com/signalhound/signalhound/internal/market"
)

// UpsertCandles stores a batch of candles for (symbol, market, timeframe).
// Re-synced bars overwrite the stored row, so partial final candles heal on
// the next pass.
func (db *DB) UpsertCandles(ctx context.Context, symbol string, kind market.Kind,
	tf market.Timeframe, candles []market.Candle) error {

	if len(candles) == 0 {
		return nil
	}

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin candle transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO candles (
			symbol, market, timeframe, open_time, close_time,
			open, high, low, close, volume
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (symbol, market, timeframe, open_time) DO UPDATE SET
			close_time = EXCLUDED.close_time,
			open = EXCLUDED.open,
			high = EXCLUDED.high,
			low = EXCLUDED.low,
			close = EXCLUDED.close,
			volume = EXCLUDED.volume
	`

	for _, c := range candles {
		_, err := tx.Exec(ctx, query,
			symbol, kind, tf, c.OpenTime, c.CloseTime,
			c.Open, c.High, c.Low, c.Close, c.Volume,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert candle %s %s: %w", symbol, c.OpenTime, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit candles: %w", err)
	}
	return nil
}

// GetCandles returns the stored candles for a symbol in [from, to), oldest
// first.
func (db *DB) GetCandles(ctx context.Context, symbol string, kind market.Kind,
	tf market.Timeframe, from, to time.Time) ([]market.Candle, error) {

	query := `
		SELECT open_time, close_time, open, high, low, close, volume
		FROM candles
		WHERE symbol = $1 AND market = $2 AND timeframe = $3
			AND open_time >= $4 AND open_time < $5
		ORDER BY open_time
	`

	rows, err := db.pool.Query(ctx, query, symbol, kind, tf, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query candles: %w", err)
	}
	defer rows.Close()

	var candles []market.Candle
	for rows.Next() {
		var c market.Candle
		if err := rows.Scan(&c.OpenTime, &c.CloseTime,
			&c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("failed to scan candle: %w", err)
		}
		candles = append(candles, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating candles: %w", err)
	}
	return candles, nil
}
