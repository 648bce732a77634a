package scanner

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/signalhound/signalhound/internal/db"
	"github.com/signalhound/signalhound/internal/fanout"
	"github.com/signalhound/signalhound/internal/market"
	"github.com/signalhound/signalhound/internal/metrics"
	"github.com/signalhound/signalhound/internal/signal"
)

// Summary is the per-tick outcome record.
type Summary struct {
	Track      string        `json:"track"`
	Symbols    int           `json:"symbols"`
	Created    int           `json:"created"`
	Updated    int           `json:"updated"`
	Expired    int           `json:"expired"`
	Cancelled  int           `json:"cancelled"`
	SkippedDup int           `json:"skipped_dup"`
	Errors     int           `json:"errors"`
	Elapsed    time.Duration `json:"elapsed_ns"`
}

// RunTrack executes one tick of a track. A tick whose predecessor is still
// running is skipped, not queued; the tick deadline equals one timeframe
// period so a stalled tick can never overlap two cadences.
func (s *Scanner) RunTrack(ctx context.Context, track *Track) *Summary {
	select {
	case track.running <- struct{}{}:
	default:
		metrics.ScanTicksSkipped.WithLabelValues(track.Name).Inc()
		log.Warn().Str("track", track.Name).Msg("Previous tick still running, skipping")
		return nil
	}
	defer func() { <-track.running }()

	ctx, cancel := context.WithTimeout(ctx, track.Timeframe.Duration())
	defer cancel()

	start := time.Now()
	summary := &Summary{Track: track.Name}
	defer func() { track.setSummary(summary) }()

	symbols, err := s.store.ListActiveSymbols(ctx, track.Market, universeLimit)
	if err != nil {
		log.Error().Err(err).Str("track", track.Name).Msg("Failed to load symbol universe")
		return summary
	}
	if len(symbols) == 0 {
		log.Warn().Str("track", track.Name).Msg("Empty symbol universe, run symbol sync")
		return summary
	}

	names := s.rankUniverse(ctx, track.Market, symbols)
	summary.Symbols = len(names)

	klines, err := s.client.BatchGetKlines(ctx, track.Market, names, track.Timeframe, track.CandleLimit)
	if err != nil {
		log.Error().Err(err).Str("track", track.Name).Msg("Kline batch failed")
		return summary
	}

	results := make(chan signal.Result, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)

	for _, name := range names {
		candles, ok := klines[name]
		if !ok || len(candles) == 0 {
			continue
		}
		name, candles := name, candles
		g.Go(func() error {
			res, err := s.processSymbol(gctx, track, name, candles)
			if err != nil {
				metrics.SymbolErrors.WithLabelValues(track.Name).Inc()
				log.Warn().Err(err).
					Str("track", track.Name).
					Str("symbol", name).
					Msg("Symbol processing failed")
				return nil // one symbol never aborts the tick
			}
			results <- res
			return nil
		})
	}

	_ = g.Wait()
	close(results)

	for res := range results {
		s.tally(track, summary, res)
	}

	summary.Elapsed = time.Since(start)
	metrics.ScanTickDuration.WithLabelValues(track.Name).Observe(summary.Elapsed.Seconds())

	log.Info().
		Str("track", track.Name).
		Int("symbols", summary.Symbols).
		Int("created", summary.Created).
		Int("updated", summary.Updated).
		Int("expired", summary.Expired).
		Int("cancelled", summary.Cancelled).
		Dur("elapsed", summary.Elapsed).
		Msg("Scan tick complete")

	return summary
}

// rankUniverse orders the tick's symbols by 24h quote volume, highest
// first. The cached value is preferred over the quote_volume_24h column,
// which is only as fresh as the last symbol sync; ties keep store order so
// reruns are stable.
func (s *Scanner) rankUniverse(ctx context.Context, kind market.Kind, symbols []*db.Symbol) []string {
	type ranked struct {
		name   string
		volume float64
	}

	universe := make([]ranked, len(symbols))
	for i, sym := range symbols {
		vol, _ := sym.QuoteVolume.Float64()
		if s.volumes != nil {
			if cached, ok := s.volumes.Get(ctx, kind, sym.Symbol); ok {
				vol = cached
			}
		}
		universe[i] = ranked{name: sym.Symbol, volume: vol}
	}

	sort.SliceStable(universe, func(i, j int) bool {
		return universe[i].volume > universe[j].volume
	})

	names := make([]string, len(universe))
	for i, r := range universe {
		names[i] = r.name
	}
	return names
}

// processSymbol runs the engine for one symbol and reacts to the outcome.
func (s *Scanner) processSymbol(ctx context.Context, track *Track, symbol string,
	candles []market.Candle) (signal.Result, error) {

	track.cache.Put(symbol, candles)

	if s.persistCandles {
		if err := s.store.UpsertCandles(ctx, symbol, track.Market, track.Timeframe, candles); err != nil {
			log.Warn().Err(err).Str("symbol", symbol).Msg("Candle persistence failed")
		}
	}

	res, err := s.engine.ProcessSymbol(ctx, symbol, track.Market, track.Timeframe, candles)
	if err != nil {
		return res, err
	}

	switch res.Action {
	case signal.ActionCreated:
		s.publishSignal(fanout.EventSignalCreated, res.Signal)
		if s.trades != nil {
			if _, err := s.trades.OnSignalCreated(ctx, res.Signal); err != nil {
				log.Warn().Err(err).Str("symbol", symbol).Msg("Paper trade open pass failed")
			}
		}
	case signal.ActionUpdatedPrice:
		s.publishSignal(fanout.EventSignalUpdated, res.Signal)
	}

	for _, closed := range res.Closed {
		s.publishSignal(fanout.EventSignalClosed, closed)
	}
	for _, cancelled := range res.Cancelled {
		s.publishSignal(fanout.EventSignalClosed, cancelled)
	}

	return res, nil
}

func (s *Scanner) tally(track *Track, summary *Summary, res signal.Result) {
	metrics.SignalActions.WithLabelValues(track.Name, string(res.Action)).Inc()
	switch res.Action {
	case signal.ActionCreated:
		summary.Created++
	case signal.ActionUpdatedPrice:
		summary.Updated++
	}
	for _, closed := range res.Closed {
		if closed.Status == db.SignalExpired {
			summary.Expired++
		}
	}
	summary.Cancelled += len(res.Cancelled)
}

func (s *Scanner) publishSignal(eventType fanout.EventType, sig *db.Signal) {
	if s.hub == nil || sig == nil {
		return
	}
	event, err := fanout.SignalEvent(eventType, sig)
	if err != nil {
		log.Error().Err(err).Msg("Failed to build signal event")
		return
	}
	s.hub.Publish(event)
}
