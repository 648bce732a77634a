package signal

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalhound/signalhound/internal/db"
	"github.com/signalhound/signalhound/internal/indicators"
	"github.com/signalhound/signalhound/internal/market"
)

// fakeStore is an in-memory Store for engine tests.
type fakeStore struct {
	dup       *db.Signal
	dupErr    error
	active    []*db.Signal
	inserted  []*db.Signal
	statusLog map[uuid.UUID]db.SignalStatus
	priceLog  map[uuid.UUID]decimal.Decimal
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		statusLog: make(map[uuid.UUID]db.SignalStatus),
		priceLog:  make(map[uuid.UUID]decimal.Decimal),
	}
}

func (f *fakeStore) InsertSignal(_ context.Context, s *db.Signal) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	f.inserted = append(f.inserted, s)
	return nil
}

func (f *fakeStore) FindDupSignal(_ context.Context, _ string, _ market.Kind,
	_ market.Direction, _ market.Timeframe, _ decimal.Decimal, _ time.Duration) (*db.Signal, error) {
	return f.dup, f.dupErr
}

func (f *fakeStore) ListActiveSignalsForSymbol(_ context.Context, _ string, _ market.Kind) ([]*db.Signal, error) {
	return f.active, nil
}

func (f *fakeStore) UpdateSignalStatus(_ context.Context, id uuid.UUID, _, next db.SignalStatus) error {
	f.statusLog[id] = next
	return nil
}

func (f *fakeStore) UpdateSignalPrice(_ context.Context, id uuid.UUID, price decimal.Decimal) error {
	f.priceLog[id] = price
	return nil
}

func newTestEngine(t *testing.T, store Store) *Engine {
	t.Helper()
	e, err := NewEngine(DefaultConfig(), store)
	require.NoError(t, err)
	return e
}

// bullishSeries hand-builds an indicator series whose last row satisfies
// every bullish predicate under the default config.
func bullishSeries(n int) *indicators.Series {
	candles := make([]market.Candle, n)
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for i := range candles {
		candles[i] = market.Candle{
			OpenTime:  base.Add(time.Duration(i) * 4 * time.Hour),
			CloseTime: base.Add(time.Duration(i+1) * 4 * time.Hour),
			Open:      100, High: 102, Low: 99, Close: 101, Volume: 1000,
		}
	}

	s := &indicators.Series{Candles: candles}
	fill := func(v float64) []float64 {
		col := make([]float64, n)
		for i := range col {
			col[i] = v
		}
		return col
	}

	s.RSI = fill(30)
	s.MACDHist = fill(0.5)
	s.MACDHist[n-2] = -0.1 // crossed up on the last bar
	s.MACD = fill(0.5)
	s.MACDSignal = fill(0)
	s.ADX = fill(25)
	s.PlusDI = fill(30)
	s.MinusDI = fill(10)
	s.ATR = fill(1.2) // 1.19% of close
	s.EMA9 = fill(100.5)
	s.EMA21 = fill(100.2)
	s.EMA50 = fill(99.8)
	s.BBUpper = fill(103)
	s.BBMiddle = fill(100)
	s.BBLower = fill(98)
	s.PercentB = fill(0.45)
	s.StochK = fill(40)
	s.StochD = fill(38)
	s.VolumeSMA = fill(650)
	s.VolumeRatio = fill(1.6)

	// Bullish HA bar with no lower wick.
	s.HAOpen = fill(100)
	s.HAClose = fill(101)
	s.HAHigh = fill(101.5)
	s.HALow = fill(100)

	return s
}

func TestProcessSeriesEmitsLongSignal(t *testing.T) {
	store := newFakeStore()
	e := newTestEngine(t, store)
	series := bullishSeries(200)

	res, err := e.ProcessSeries(context.Background(), "BTCUSDT", market.Futures, market.TF4h, series)
	require.NoError(t, err)
	require.Equal(t, ActionCreated, res.Action)
	require.NotNil(t, res.Signal)

	sig := res.Signal
	assert.Equal(t, market.Long, sig.Direction)
	assert.GreaterOrEqual(t, sig.Confidence, 0.85)

	// entry = close, SL = entry - 1.5*ATR, TP = entry + 5.25*ATR
	assert.True(t, sig.Entry.Equal(decimal.NewFromFloat(101)), sig.Entry.String())
	assert.True(t, sig.StopLoss.Equal(decimal.NewFromFloat(101-1.5*1.2)), sig.StopLoss.String())
	assert.True(t, sig.TakeProfit.Equal(decimal.NewFromFloat(101+5.25*1.2)), sig.TakeProfit.String())
	assert.InDelta(t, 3.5, sig.RiskReward, 0.001)

	assert.Equal(t, db.TradingSwing, sig.TradingType)
	assert.InDelta(t, 16.8, sig.DurationHours, 0.001) // 24h * 0.7
	assert.Equal(t, 10, sig.Leverage)
	assert.NotEmpty(t, sig.Description)
	assert.Len(t, store.inserted, 1)
}

func TestProcessSeriesSpotLeverageIsOne(t *testing.T) {
	store := newFakeStore()
	e := newTestEngine(t, store)

	res, err := e.ProcessSeries(context.Background(), "BTCUSDT", market.Spot, market.TF4h, bullishSeries(200))
	require.NoError(t, err)
	require.Equal(t, ActionCreated, res.Action)
	assert.Equal(t, 1, res.Signal.Leverage)
}

func TestProcessSymbolShortSeries(t *testing.T) {
	store := newFakeStore()
	e := newTestEngine(t, store)

	candles := make([]market.Candle, 50)
	base := time.Now().Add(-50 * time.Hour)
	for i := range candles {
		candles[i] = market.Candle{
			OpenTime: base.Add(time.Duration(i) * time.Hour),
			Open:     100, High: 101, Low: 99, Close: 100, Volume: 10,
		}
	}

	res, err := e.ProcessSymbol(context.Background(), "BTCUSDT", market.Spot, market.TF1h, candles)
	require.NoError(t, err)
	assert.Equal(t, ActionNone, res.Action)
	assert.Empty(t, store.inserted)
}

func TestEmitSuppressedByDuplicate(t *testing.T) {
	store := newFakeStore()
	store.dup = &db.Signal{ID: uuid.New()}
	e := newTestEngine(t, store)

	res, err := e.ProcessSeries(context.Background(), "BTCUSDT", market.Futures, market.TF4h, bullishSeries(200))
	require.NoError(t, err)
	assert.Equal(t, ActionNone, res.Action)
	assert.Empty(t, store.inserted)
}

func TestEmitSuppressedWhenDedupLookupFails(t *testing.T) {
	store := newFakeStore()
	store.dupErr = context.DeadlineExceeded
	e := newTestEngine(t, store)

	res, err := e.ProcessSeries(context.Background(), "BTCUSDT", market.Futures, market.TF4h, bullishSeries(200))
	assert.Error(t, err)
	assert.Equal(t, ActionNone, res.Action)
	assert.Empty(t, store.inserted)
}

func TestEmitSuppressedByHigherTimeframe(t *testing.T) {
	store := newFakeStore()
	store.active = []*db.Signal{{
		ID:        uuid.New(),
		Direction: market.Long,
		Timeframe: market.TF1d,
		Status:    db.SignalActive,
	}}
	e := newTestEngine(t, store)

	res, err := e.ProcessSeries(context.Background(), "BTCUSDT", market.Futures, market.TF4h, bullishSeries(200))
	require.NoError(t, err)
	assert.Equal(t, ActionNone, res.Action)
	assert.Empty(t, store.inserted)
}

func TestEmitCancelsLowerTimeframe(t *testing.T) {
	lower := &db.Signal{
		ID:        uuid.New(),
		Direction: market.Long,
		Timeframe: market.TF15m,
		Status:    db.SignalActive,
	}
	store := newFakeStore()
	store.active = []*db.Signal{lower}
	e := newTestEngine(t, store)

	res, err := e.ProcessSeries(context.Background(), "BTCUSDT", market.Futures, market.TF4h, bullishSeries(200))
	require.NoError(t, err)
	assert.Equal(t, ActionCreated, res.Action)
	assert.Len(t, store.inserted, 1)
	assert.Equal(t, db.SignalCancelled, store.statusLog[lower.ID])
	require.Len(t, res.Cancelled, 1)
	assert.Equal(t, lower.ID, res.Cancelled[0].ID)
}

func TestConfidenceExactlyAtThresholdEmits(t *testing.T) {
	store := newFakeStore()
	cfg := DefaultConfig()
	// Fail the volume (1.4), percent-B (0.8), HA (1.6) and ATR band (0.5)
	// predicates so the score is exactly 9.2, then set the threshold there.
	cfg.MinConfidence = 9.2 / 13.5
	e, err := NewEngine(cfg, store)
	require.NoError(t, err)

	series := bullishSeries(200)
	n := series.Len()
	for i := 0; i < n; i++ {
		series.VolumeRatio[i] = 1.0        // volume predicate fails
		series.PercentB[i] = 0.9           // percent-B fails
		series.HAClose[i] = series.HAOpen[i] // HA neutral
		series.ATR[i] = 0.1                // ATR band fails (0.099%)
	}

	res, err := e.ProcessSeries(context.Background(), "BTCUSDT", market.Futures, market.TF4h, series)
	require.NoError(t, err)
	assert.Equal(t, ActionCreated, res.Action)
	assert.InDelta(t, 9.2/13.5, res.Signal.Confidence, 1e-9)
}

// quietSeries builds a series that scores nothing, so a process pass falls
// through to signal maintenance. Candles close at 101 with high 102, low 99.
func quietSeries(n int) *indicators.Series {
	series := bullishSeries(n)
	for i := 0; i < series.Len(); i++ {
		series.RSI[i] = 50
		series.MACDHist[i] = -0.1
		series.ADX[i] = 5
		series.EMA50[i] = 200
		series.EMA9[i] = 100
		series.EMA21[i] = 150
		series.PlusDI[i] = 10
		series.MinusDI[i] = 10
		series.VolumeRatio[i] = 0.5
		series.PercentB[i] = 0.9
		series.ATR[i] = math.NaN()
		series.HAClose[i] = series.HAOpen[i]
	}
	return series
}

func TestMaintainUpdatesPrice(t *testing.T) {
	sig := &db.Signal{
		ID:         uuid.New(),
		Direction:  market.Long,
		Timeframe:  market.TF4h,
		Entry:      decimal.NewFromInt(100),
		StopLoss:   decimal.NewFromInt(95),
		TakeProfit: decimal.NewFromInt(110),
		Status:     db.SignalActive,
		CreatedAt:  time.Now().Add(-time.Hour),
	}
	store := newFakeStore()
	store.active = []*db.Signal{sig}
	e := newTestEngine(t, store)

	res, err := e.ProcessSeries(context.Background(), "BTCUSDT", market.Futures, market.TF4h, quietSeries(200))
	require.NoError(t, err)
	assert.Equal(t, ActionUpdatedPrice, res.Action)
	price, ok := store.priceLog[sig.ID]
	require.True(t, ok)
	assert.True(t, price.Equal(decimal.NewFromFloat(101)))
}

func TestMaintainChecksEveryActiveSignal(t *testing.T) {
	long := &db.Signal{
		ID:         uuid.New(),
		Direction:  market.Long,
		Timeframe:  market.TF4h,
		Entry:      decimal.NewFromInt(100),
		StopLoss:   decimal.NewFromInt(95),
		TakeProfit: decimal.NewFromInt(110),
		Status:     db.SignalActive,
		CreatedAt:  time.Now().Add(-time.Hour),
	}
	// Listed after the LONG; its SL 101 is breached by the candle high 102.
	short := &db.Signal{
		ID:         uuid.New(),
		Direction:  market.Short,
		Timeframe:  market.TF4h,
		Entry:      decimal.NewFromInt(100),
		StopLoss:   decimal.NewFromInt(101),
		TakeProfit: decimal.NewFromInt(80),
		Status:     db.SignalActive,
		CreatedAt:  time.Now().Add(-time.Hour),
	}
	store := newFakeStore()
	store.active = []*db.Signal{long, short}
	e := newTestEngine(t, store)

	res, err := e.ProcessSeries(context.Background(), "BTCUSDT", market.Futures, market.TF4h, quietSeries(200))
	require.NoError(t, err)

	// The LONG stays active and gets its price refreshed.
	assert.Equal(t, ActionUpdatedPrice, res.Action)
	require.NotNil(t, res.Signal)
	assert.Equal(t, long.ID, res.Signal.ID)
	_, ok := store.priceLog[long.ID]
	assert.True(t, ok)

	// The SHORT's stop breach is seen in the same pass.
	assert.Equal(t, db.SignalHitSL, store.statusLog[short.ID])
	require.Len(t, res.Closed, 1)
	assert.Equal(t, short.ID, res.Closed[0].ID)
	assert.Equal(t, db.SignalHitSL, res.Closed[0].Status)
}

func TestMaintainAggregatesExpiry(t *testing.T) {
	stale := &db.Signal{
		ID:         uuid.New(),
		Direction:  market.Long,
		Timeframe:  market.TF4h,
		Entry:      decimal.NewFromInt(100),
		StopLoss:   decimal.NewFromInt(95),
		TakeProfit: decimal.NewFromInt(110),
		Status:     db.SignalActive,
		CreatedAt:  time.Now().Add(-200 * time.Hour),
	}
	store := newFakeStore()
	store.active = []*db.Signal{stale}
	e := newTestEngine(t, store)

	res, err := e.ProcessSeries(context.Background(), "BTCUSDT", market.Futures, market.TF4h, quietSeries(200))
	require.NoError(t, err)
	assert.Equal(t, ActionNone, res.Action)
	require.Len(t, res.Closed, 1)
	assert.Equal(t, db.SignalExpired, res.Closed[0].Status)
	assert.Equal(t, db.SignalExpired, store.statusLog[stale.ID])
}

func TestConfigValidation(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	bad := cfg
	bad.MinConfidence = 0
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.MinConfidence = 1.2
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.LongRSIMin = 40
	bad.LongRSIMax = 30
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.SLATRMultiplier = -1
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.TPATRMultiplier = 0
	assert.Error(t, bad.Validate())

	_, err := NewEngine(bad, newFakeStore())
	assert.Error(t, err)
}

func TestClassify(t *testing.T) {
	tt, hours := classify(market.TF5m, 0.72)
	assert.Equal(t, db.TradingScalping, tt)
	assert.InDelta(t, 0.65, hours, 0.001) // 0.5 * 1.3

	tt, hours = classify(market.TF1h, 0.80)
	assert.Equal(t, db.TradingDay, tt)
	assert.InDelta(t, 6.0, hours, 0.001)

	tt, hours = classify(market.TF4h, 0.90)
	assert.Equal(t, db.TradingSwing, tt)
	assert.InDelta(t, 16.8, hours, 0.001)

	tt, hours = classify(market.TF1d, 0.70)
	assert.Equal(t, db.TradingSwing, tt)
	assert.InDelta(t, 156.0, hours, 0.001) // 120 * 1.3
}
