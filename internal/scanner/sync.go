package scanner

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/signalhound/signalhound/internal/db"
	"github.com/signalhound/signalhound/internal/market"
)

// SyncSymbols refreshes the symbol table and the 24h volume cache from the
// exchange, for both markets. Idempotent: re-running changes nothing when
// the exchange state is unchanged.
func (s *Scanner) SyncSymbols(ctx context.Context) error {
	for _, kind := range []market.Kind{market.Spot, market.Futures} {
		if err := s.syncMarket(ctx, kind); err != nil {
			return fmt.Errorf("sync %s symbols: %w", kind, err)
		}
	}
	return nil
}

func (s *Scanner) syncMarket(ctx context.Context, kind market.Kind) error {
	pairs, err := s.client.ListUSDTPairs(ctx, kind)
	if err != nil {
		return err
	}

	volumes, err := s.client.Get24hVolumes(ctx, kind)
	if err != nil {
		log.Warn().Err(err).Str("market", string(kind)).Msg("24h volume fetch failed, keeping stale volumes")
		volumes = nil
	}

	var active []string
	for _, pair := range pairs {
		sym := &db.Symbol{
			Symbol:     pair.Name,
			Market:     kind,
			BaseAsset:  pair.BaseAsset,
			QuoteAsset: pair.QuoteAsset,
			Active:     pair.Active,
		}
		if vol, ok := volumes[pair.Name]; ok {
			sym.QuoteVolume = decimal.NewFromFloat(vol)
		}
		if err := s.store.UpsertSymbol(ctx, sym); err != nil {
			return err
		}
		if pair.Active {
			active = append(active, pair.Name)
		}
	}

	deactivated, err := s.store.DeactivateMissing(ctx, kind, active)
	if err != nil {
		return err
	}

	if s.volumes != nil && len(volumes) > 0 {
		s.volumes.SetAll(ctx, kind, volumes)
	}

	log.Info().
		Str("market", string(kind)).
		Int("pairs", len(pairs)).
		Int("active", len(active)).
		Int64("deactivated", deactivated).
		Msg("Symbol sync complete")
	return nil
}
