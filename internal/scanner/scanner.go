// Package scanner runs the signal engine across the symbol universe on
// per-(market, timeframe) cron tracks, and keeps the symbol table synced
// with the exchange.
package scanner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/signalhound/signalhound/internal/config"
	"github.com/signalhound/signalhound/internal/db"
	"github.com/signalhound/signalhound/internal/exchange"
	"github.com/signalhound/signalhound/internal/fanout"
	"github.com/signalhound/signalhound/internal/market"
	"github.com/signalhound/signalhound/internal/paper"
	"github.com/signalhound/signalhound/internal/signal"
)

// universeLimit caps how many symbols one track scans, highest 24h volume
// first.
const universeLimit = 1000

// Store is the persistence surface the scanner needs.
type Store interface {
	UpsertSymbol(ctx context.Context, s *db.Symbol) error
	DeactivateMissing(ctx context.Context, kind market.Kind, keep []string) (int64, error)
	ListActiveSymbols(ctx context.Context, kind market.Kind, limit int) ([]*db.Symbol, error)
	UpsertCandles(ctx context.Context, symbol string, kind market.Kind,
		tf market.Timeframe, candles []market.Candle) error
}

// Track is one resolved scan track.
type Track struct {
	Name        string
	Market      market.Kind
	Timeframe   market.Timeframe
	Schedule    string
	CandleLimit int

	running chan struct{}
	cache   *market.CandleCache

	mu   sync.Mutex
	last *Summary
}

// LastSummary returns the outcome of the most recent completed tick, or nil
// before the first one.
func (t *Track) LastSummary() *Summary {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}

func (t *Track) setSummary(s *Summary) {
	t.mu.Lock()
	t.last = s
	t.mu.Unlock()
}

// Scanner coordinates the scan tracks and the symbol sync task.
type Scanner struct {
	client         exchange.MarketData
	store          Store
	engine         *signal.Engine
	trades         *paper.Manager
	hub            *fanout.Hub
	volumes        *market.VolumeCache
	tracks         []*Track
	parallelism    int
	syncSchedule   string
	persistCandles bool

	cron    *cron.Cron
	baseCtx context.Context
}

// New builds a scanner from the resolved configuration.
func New(cfg *config.ScannerConfig, client exchange.MarketData, store Store,
	engine *signal.Engine, trades *paper.Manager, hub *fanout.Hub,
	volumes *market.VolumeCache) (*Scanner, error) {

	parallelism := cfg.Parallelism
	if parallelism <= 0 {
		parallelism = 8
	}

	s := &Scanner{
		client:         client,
		store:          store,
		engine:         engine,
		trades:         trades,
		hub:            hub,
		volumes:        volumes,
		parallelism:    parallelism,
		syncSchedule:   cfg.SyncSchedule,
		persistCandles: cfg.PersistCandles,
		cron:           cron.New(cron.WithLocation(time.UTC)),
	}

	for name, tc := range cfg.Tracks {
		if !tc.Enabled {
			continue
		}
		tf, err := market.ParseTimeframe(tc.Timeframe)
		if err != nil {
			return nil, fmt.Errorf("track %s: %w", name, err)
		}
		kind := market.Kind(tc.Market)
		if kind != market.Spot && kind != market.Futures {
			return nil, fmt.Errorf("track %s: unknown market %q", name, tc.Market)
		}
		if tc.CandleLimit < 50 {
			return nil, fmt.Errorf("track %s: candle limit %d too small", name, tc.CandleLimit)
		}
		track := &Track{
			Name:        name,
			Market:      kind,
			Timeframe:   tf,
			Schedule:    tc.Schedule,
			CandleLimit: tc.CandleLimit,
			running:     make(chan struct{}, 1),
			cache:       market.NewCandleCache(),
		}
		s.tracks = append(s.tracks, track)
	}

	return s, nil
}

// Start registers the cron entries and begins scheduling. ctx bounds the
// lifetime of all ticks.
func (s *Scanner) Start(ctx context.Context) error {
	s.baseCtx = ctx

	for _, track := range s.tracks {
		track := track
		if _, err := s.cron.AddFunc(track.Schedule, func() {
			s.RunTrack(s.baseCtx, track)
		}); err != nil {
			return fmt.Errorf("schedule track %s (%q): %w", track.Name, track.Schedule, err)
		}
		log.Info().
			Str("track", track.Name).
			Str("schedule", track.Schedule).
			Str("market", string(track.Market)).
			Str("timeframe", string(track.Timeframe)).
			Msg("Scan track registered")
	}

	if s.syncSchedule != "" {
		if _, err := s.cron.AddFunc(s.syncSchedule, func() {
			if err := s.SyncSymbols(s.baseCtx); err != nil {
				log.Error().Err(err).Msg("Symbol sync failed")
			}
		}); err != nil {
			return fmt.Errorf("schedule symbol sync (%q): %w", s.syncSchedule, err)
		}
	}

	s.cron.Start()
	log.Info().Int("tracks", len(s.tracks)).Msg("Scanner started")
	return nil
}

// Stop halts scheduling and waits for running jobs to finish.
func (s *Scanner) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Info().Msg("Scanner stopped")
}

// Tracks returns the resolved scan tracks.
func (s *Scanner) Tracks() []*Track {
	return s.tracks
}

// TrackByName finds a track for the manual-scan endpoint.
func (s *Scanner) TrackByName(name string) *Track {
	for _, t := range s.tracks {
		if t.Name == name {
			return t
		}
	}
	return nil
}
