package scanner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalhound/signalhound/internal/config"
	"github.com/signalhound/signalhound/internal/db"
	"github.com/signalhound/signalhound/internal/exchange"
	"github.com/signalhound/signalhound/internal/market"
	"github.com/signalhound/signalhound/internal/signal"
)

// fakeStore implements Store in memory.
type fakeStore struct {
	symbols     map[string]*db.Symbol
	deactivated []string
	candles     int
}

func newFakeStore() *fakeStore {
	return &fakeStore{symbols: map[string]*db.Symbol{}}
}

func (f *fakeStore) UpsertSymbol(_ context.Context, s *db.Symbol) error {
	f.symbols[string(s.Market)+":"+s.Symbol] = s
	return nil
}

func (f *fakeStore) DeactivateMissing(_ context.Context, kind market.Kind, keep []string) (int64, error) {
	keepSet := map[string]bool{}
	for _, s := range keep {
		keepSet[s] = true
	}
	var n int64
	for _, sym := range f.symbols {
		if sym.Market == kind && sym.Active && !keepSet[sym.Symbol] {
			sym.Active = false
			f.deactivated = append(f.deactivated, sym.Symbol)
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) ListActiveSymbols(_ context.Context, kind market.Kind, _ int) ([]*db.Symbol, error) {
	var out []*db.Symbol
	for _, sym := range f.symbols {
		if sym.Market == kind && sym.Active {
			out = append(out, sym)
		}
	}
	return out, nil
}

func (f *fakeStore) UpsertCandles(_ context.Context, _ string, _ market.Kind,
	_ market.Timeframe, candles []market.Candle) error {
	f.candles += len(candles)
	return nil
}

// nullSignalStore satisfies signal.Store with no persistence.
type nullSignalStore struct{}

func (nullSignalStore) InsertSignal(context.Context, *db.Signal) error { return nil }
func (nullSignalStore) FindDupSignal(context.Context, string, market.Kind, market.Direction,
	market.Timeframe, decimal.Decimal, time.Duration) (*db.Signal, error) {
	return nil, nil
}
func (nullSignalStore) ListActiveSignalsForSymbol(context.Context, string, market.Kind) ([]*db.Signal, error) {
	return nil, nil
}
func (nullSignalStore) UpdateSignalStatus(context.Context, uuid.UUID, db.SignalStatus, db.SignalStatus) error {
	return nil
}
func (nullSignalStore) UpdateSignalPrice(context.Context, uuid.UUID, decimal.Decimal) error {
	return nil
}

func flatCandles(n int) []market.Candle {
	candles := make([]market.Candle, n)
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for i := range candles {
		candles[i] = market.Candle{
			OpenTime:  base.Add(time.Duration(i) * time.Hour),
			CloseTime: base.Add(time.Duration(i+1) * time.Hour),
			Open:      100, High: 100.5, Low: 99.5, Close: 100, Volume: 1000,
		}
	}
	return candles
}

func testScanner(t *testing.T, client exchange.MarketData, store Store) *Scanner {
	t.Helper()
	engine, err := signal.NewEngine(signal.DefaultConfig(), nullSignalStore{})
	require.NoError(t, err)

	cfg := &config.ScannerConfig{
		Tracks: map[string]config.TrackConfig{
			"spot-1h": {
				Enabled:     true,
				Market:      "SPOT",
				Timeframe:   "1h",
				Schedule:    "5 * * * *",
				CandleLimit: 200,
			},
		},
		Parallelism:  4,
		SyncSchedule: "0 3 * * *",
	}

	s, err := New(cfg, client, store, engine, nil, nil, nil)
	require.NoError(t, err)
	return s
}

func TestNewRejectsBadTrack(t *testing.T) {
	engine, err := signal.NewEngine(signal.DefaultConfig(), nullSignalStore{})
	require.NoError(t, err)

	cfg := &config.ScannerConfig{
		Tracks: map[string]config.TrackConfig{
			"bad": {Enabled: true, Market: "SPOT", Timeframe: "7m", Schedule: "* * * * *", CandleLimit: 200},
		},
	}
	_, err = New(cfg, exchange.NewMockClient(), newFakeStore(), engine, nil, nil, nil)
	assert.Error(t, err)

	cfg.Tracks["bad"] = config.TrackConfig{Enabled: true, Market: "MARGIN", Timeframe: "1h", Schedule: "* * * * *", CandleLimit: 200}
	_, err = New(cfg, exchange.NewMockClient(), newFakeStore(), engine, nil, nil, nil)
	assert.Error(t, err)

	cfg.Tracks["bad"] = config.TrackConfig{Enabled: true, Market: "SPOT", Timeframe: "1h", Schedule: "* * * * *", CandleLimit: 10}
	_, err = New(cfg, exchange.NewMockClient(), newFakeStore(), engine, nil, nil, nil)
	assert.Error(t, err)
}

func TestNewSkipsDisabledTracks(t *testing.T) {
	engine, err := signal.NewEngine(signal.DefaultConfig(), nullSignalStore{})
	require.NoError(t, err)

	cfg := &config.ScannerConfig{
		Tracks: map[string]config.TrackConfig{
			"off": {Enabled: false, Market: "FUTURES", Timeframe: "5m", Schedule: "*/5 * * * *", CandleLimit: 300},
			"on":  {Enabled: true, Market: "FUTURES", Timeframe: "1h", Schedule: "15 * * * *", CandleLimit: 200},
		},
	}
	s, err := New(cfg, exchange.NewMockClient(), newFakeStore(), engine, nil, nil, nil)
	require.NoError(t, err)
	require.Len(t, s.Tracks(), 1)
	assert.Equal(t, "on", s.Tracks()[0].Name)
	assert.Nil(t, s.TrackByName("off"))
	assert.NotNil(t, s.TrackByName("on"))
}

func TestSyncSymbolsIdempotent(t *testing.T) {
	client := exchange.NewMockClient()
	client.SetPairs(market.Spot, []exchange.SymbolInfo{
		{Name: "BTCUSDT", QuoteAsset: "USDT", Market: market.Spot, Active: true},
		{Name: "ETHUSDT", QuoteAsset: "USDT", Market: market.Spot, Active: true},
		{Name: "OLDUSDT", QuoteAsset: "USDT", Market: market.Spot, Active: false},
	})
	client.SetVolumes(market.Spot, map[string]float64{"BTCUSDT": 5e9, "ETHUSDT": 2e9})

	store := newFakeStore()
	s := testScanner(t, client, store)

	require.NoError(t, s.SyncSymbols(context.Background()))
	assert.Len(t, store.symbols, 3)
	assert.True(t, store.symbols["SPOT:BTCUSDT"].Active)
	assert.False(t, store.symbols["SPOT:OLDUSDT"].Active)
	assert.True(t, store.symbols["SPOT:BTCUSDT"].QuoteVolume.Equal(decimal.NewFromFloat(5e9)))

	require.NoError(t, s.SyncSymbols(context.Background()))
	assert.Len(t, store.symbols, 3)
}

func TestSyncDeactivatesDelistedSymbol(t *testing.T) {
	client := exchange.NewMockClient()
	client.SetPairs(market.Spot, []exchange.SymbolInfo{
		{Name: "BTCUSDT", QuoteAsset: "USDT", Market: market.Spot, Active: true},
	})

	store := newFakeStore()
	store.symbols["SPOT:GONEUSDT"] = &db.Symbol{Symbol: "GONEUSDT", Market: market.Spot, Active: true}

	s := testScanner(t, client, store)
	require.NoError(t, s.SyncSymbols(context.Background()))
	assert.Contains(t, store.deactivated, "GONEUSDT")
}

func TestRunTrackFlatMarketNoSignals(t *testing.T) {
	client := exchange.NewMockClient()
	store := newFakeStore()
	store.symbols["SPOT:BTCUSDT"] = &db.Symbol{Symbol: "BTCUSDT", Market: market.Spot, Active: true}
	client.SetKlines(market.Spot, "BTCUSDT", market.TF1h, flatCandles(200))

	s := testScanner(t, client, store)
	track := s.TrackByName("spot-1h")
	require.NotNil(t, track)

	summary := s.RunTrack(context.Background(), track)
	require.NotNil(t, summary)
	assert.Equal(t, 1, summary.Symbols)
	assert.Equal(t, 0, summary.Created)

	cached, ok := track.cache.Get("BTCUSDT")
	assert.True(t, ok)
	assert.Len(t, cached, 200)
}

func TestRankUniversePrefersCachedVolumes(t *testing.T) {
	s := testScanner(t, exchange.NewMockClient(), newFakeStore())
	s.volumes = market.NewVolumeCache(nil, time.Minute)

	symbols := []*db.Symbol{
		{Symbol: "AAAUSDT", Market: market.Spot, QuoteVolume: decimal.NewFromInt(100)},
		{Symbol: "BBBUSDT", Market: market.Spot, QuoteVolume: decimal.NewFromInt(900)},
		{Symbol: "CCCUSDT", Market: market.Spot, QuoteVolume: decimal.NewFromInt(500)},
	}

	// Empty cache: the quote_volume_24h column decides the order.
	names := s.rankUniverse(context.Background(), market.Spot, symbols)
	assert.Equal(t, []string{"BBBUSDT", "CCCUSDT", "AAAUSDT"}, names)

	// Fresher cached volumes override the column for the symbols they cover.
	s.volumes.SetAll(context.Background(), market.Spot, map[string]float64{
		"AAAUSDT": 5000,
		"CCCUSDT": 50,
	})
	names = s.rankUniverse(context.Background(), market.Spot, symbols)
	assert.Equal(t, []string{"AAAUSDT", "BBBUSDT", "CCCUSDT"}, names)
}

func TestRankUniverseWithoutCache(t *testing.T) {
	s := testScanner(t, exchange.NewMockClient(), newFakeStore())
	require.Nil(t, s.volumes)

	symbols := []*db.Symbol{
		{Symbol: "AAAUSDT", Market: market.Spot, QuoteVolume: decimal.NewFromInt(1)},
		{Symbol: "BBBUSDT", Market: market.Spot, QuoteVolume: decimal.NewFromInt(2)},
	}
	names := s.rankUniverse(context.Background(), market.Spot, symbols)
	assert.Equal(t, []string{"BBBUSDT", "AAAUSDT"}, names)
}

func TestRunTrackIsolatesSymbolFailure(t *testing.T) {
	client := exchange.NewMockClient()
	store := newFakeStore()
	store.symbols["SPOT:BTCUSDT"] = &db.Symbol{Symbol: "BTCUSDT", Market: market.Spot, Active: true}
	store.symbols["SPOT:BADUSDT"] = &db.Symbol{Symbol: "BADUSDT", Market: market.Spot, Active: true}
	client.SetKlines(market.Spot, "BTCUSDT", market.TF1h, flatCandles(200))
	client.FailSymbol("BADUSDT", errors.New("boom"))

	s := testScanner(t, client, store)
	summary := s.RunTrack(context.Background(), s.TrackByName("spot-1h"))
	require.NotNil(t, summary)
	assert.Equal(t, 2, summary.Symbols)

	// The healthy symbol was still processed.
	_, ok := s.TrackByName("spot-1h").cache.Get("BTCUSDT")
	assert.True(t, ok)
}

func TestRunTrackSkipsWhenOverlapping(t *testing.T) {
	s := testScanner(t, exchange.NewMockClient(), newFakeStore())
	track := s.TrackByName("spot-1h")

	track.running <- struct{}{} // simulate a tick in flight
	assert.Nil(t, s.RunTrack(context.Background(), track))
	<-track.running
}

func TestRunTrackPersistsCandlesWhenEnabled(t *testing.T) {
	client := exchange.NewMockClient()
	store := newFakeStore()
	store.symbols["SPOT:BTCUSDT"] = &db.Symbol{Symbol: "BTCUSDT", Market: market.Spot, Active: true}
	client.SetKlines(market.Spot, "BTCUSDT", market.TF1h, flatCandles(200))

	s := testScanner(t, client, store)
	s.persistCandles = true

	require.NotNil(t, s.RunTrack(context.Background(), s.TrackByName("spot-1h")))
	assert.Equal(t, 200, store.candles)
}
