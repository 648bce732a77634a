package exchange

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/signalhound/signalhound/internal/market"
)

// BatchGetKlines fetches candle windows for many symbols. Symbols are
// processed in batches of cfg.BatchSize with a quiet period between
// batches; within a batch fetches run in parallel. A failed symbol is
// logged and omitted from the result so siblings are unaffected.
func (c *BinanceClient) BatchGetKlines(ctx context.Context, kind market.Kind, symbols []string, tf market.Timeframe, limit int) (map[string][]market.Candle, error) {
	result := make(map[string][]market.Candle, len(symbols))
	var mu sync.Mutex

	for start := 0; start < len(symbols); start += c.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			// Deadline hit mid-universe: return what we have.
			log.Warn().
				Err(err).
				Int("fetched", len(result)).
				Int("total", len(symbols)).
				Msg("Batch kline fetch cut short")
			return result, nil
		}

		end := start + c.cfg.BatchSize
		if end > len(symbols) {
			end = len(symbols)
		}

		g, gctx := errgroup.WithContext(ctx)
		for _, symbol := range symbols[start:end] {
			g.Go(func() error {
				candles, err := c.GetKlines(gctx, kind, symbol, tf, limit)
				if err != nil {
					log.Warn().
						Err(err).
						Str("symbol", symbol).
						Str("timeframe", string(tf)).
						Msg("Kline fetch failed, skipping symbol")
					return nil
				}
				mu.Lock()
				result[symbol] = candles
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return result, err
		}

		if end < len(symbols) && c.cfg.BatchDelay > 0 {
			select {
			case <-ctx.Done():
				return result, nil
			case <-time.After(c.cfg.BatchDelay):
			}
		}
	}

	return result, nil
}
