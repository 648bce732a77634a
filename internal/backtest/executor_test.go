package backtest

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalhound/signalhound/internal/db"
	"github.com/signalhound/signalhound/internal/market"
)

// runStore is an in-memory Store.
type runStore struct {
	runs    map[uuid.UUID]*db.BacktestRun
	trades  map[uuid.UUID][]*db.BacktestTrade
	candles map[string][]market.Candle
}

func newRunStore() *runStore {
	return &runStore{
		runs:    map[uuid.UUID]*db.BacktestRun{},
		trades:  map[uuid.UUID][]*db.BacktestTrade{},
		candles: map[string][]market.Candle{},
	}
}

func (s *runStore) GetBacktestRun(_ context.Context, id uuid.UUID) (*db.BacktestRun, error) {
	r, ok := s.runs[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return r, nil
}

func (s *runStore) StartBacktestRun(_ context.Context, id uuid.UUID) error {
	r := s.runs[id]
	if r.Status != db.BacktestPending {
		return db.ErrConcurrentUpdate
	}
	r.Status = db.BacktestRunning
	return nil
}

func (s *runStore) CompleteBacktestRun(_ context.Context, id uuid.UUID, results json.RawMessage) error {
	r := s.runs[id]
	if r.Status != db.BacktestRunning {
		return db.ErrConcurrentUpdate
	}
	r.Status = db.BacktestCompleted
	r.Results = results
	return nil
}

func (s *runStore) FailBacktestRun(_ context.Context, id uuid.UUID, message string) error {
	r := s.runs[id]
	r.Status = db.BacktestFailed
	r.ErrorMessage = &message
	return nil
}

func (s *runStore) InsertBacktestTrades(_ context.Context, runID uuid.UUID, trades []*db.BacktestTrade) error {
	s.trades[runID] = append(s.trades[runID], trades...)
	return nil
}

func (s *runStore) GetCandles(_ context.Context, symbol string, _ market.Kind,
	_ market.Timeframe, _, _ time.Time) ([]market.Candle, error) {
	return s.candles[symbol], nil
}

func seedRun(store *runStore, symbols ...string) *db.BacktestRun {
	run := &db.BacktestRun{
		ID:             uuid.New(),
		Name:           "test run",
		Symbols:        symbols,
		Market:         market.Spot,
		Timeframe:      market.TF4h,
		StartDate:      time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:        time.Date(2024, 11, 1, 0, 0, 0, 0, time.UTC),
		InitialCapital: decimal.NewFromInt(10000),
		PositionSize:   decimal.NewFromInt(100),
		Status:         db.BacktestPending,
	}
	store.runs[run.ID] = run
	return run
}

func quietCandles(n int) []market.Candle {
	candles := make([]market.Candle, n)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range candles {
		candles[i] = market.Candle{
			OpenTime:  base.Add(time.Duration(i) * 4 * time.Hour),
			CloseTime: base.Add(time.Duration(i+1) * 4 * time.Hour),
			Open:      100, High: 100.4, Low: 99.6, Close: 100, Volume: 500,
		}
	}
	return candles
}

func TestExecuteQuietMarketCompletesWithNoTrades(t *testing.T) {
	store := newRunStore()
	run := seedRun(store, "BTCUSDT")
	store.candles["BTCUSDT"] = quietCandles(300)

	require.NoError(t, NewExecutor(store).Execute(context.Background(), run.ID))

	assert.Equal(t, db.BacktestCompleted, run.Status)
	assert.Empty(t, store.trades[run.ID])

	var m Metrics
	require.NoError(t, json.Unmarshal(run.Results, &m))
	assert.Zero(t, m.TotalTrades)
	assert.True(t, m.FinalEquity.Equal(run.InitialCapital))
}

func TestExecuteFailsOnInsufficientData(t *testing.T) {
	store := newRunStore()
	run := seedRun(store, "BTCUSDT")
	store.candles["BTCUSDT"] = quietCandles(30)

	err := NewExecutor(store).Execute(context.Background(), run.ID)
	require.Error(t, err)

	assert.Equal(t, db.BacktestFailed, run.Status)
	require.NotNil(t, run.ErrorMessage)
	assert.Contains(t, *run.ErrorMessage, "insufficient data")
	assert.Empty(t, store.trades[run.ID])
}

func TestExecuteFailsOnMalformedCandle(t *testing.T) {
	store := newRunStore()
	run := seedRun(store, "BTCUSDT")
	candles := quietCandles(100)
	candles[40].High = 90 // high below low
	store.candles["BTCUSDT"] = candles

	err := NewExecutor(store).Execute(context.Background(), run.ID)
	require.Error(t, err)

	assert.Equal(t, db.BacktestFailed, run.Status)
	require.NotNil(t, run.ErrorMessage)
	assert.Contains(t, *run.ErrorMessage, "invalid candles")
}

func TestExecuteFailsOnBadStrategyParams(t *testing.T) {
	store := newRunStore()
	run := seedRun(store, "BTCUSDT")
	run.StrategyParams = json.RawMessage(`{"min_confidence": 2.5}`)
	store.candles["BTCUSDT"] = quietCandles(100)

	err := NewExecutor(store).Execute(context.Background(), run.ID)
	require.Error(t, err)
	assert.Equal(t, db.BacktestFailed, run.Status)
}

func TestExecuteRejectsNonPendingRun(t *testing.T) {
	store := newRunStore()
	run := seedRun(store, "BTCUSDT")
	run.Status = db.BacktestRunning

	err := NewExecutor(store).Execute(context.Background(), run.ID)
	assert.ErrorIs(t, err, db.ErrConcurrentUpdate)
}

func TestExecuteDeterministic(t *testing.T) {
	candles := quietCandles(300)

	var results []json.RawMessage
	for i := 0; i < 2; i++ {
		store := newRunStore()
		run := seedRun(store, "BTCUSDT", "ETHUSDT")
		store.candles["BTCUSDT"] = candles
		store.candles["ETHUSDT"] = candles

		require.NoError(t, NewExecutor(store).Execute(context.Background(), run.ID))
		results = append(results, run.Results)
	}

	assert.Equal(t, string(results[0]), string(results[1]))
}

func resolveRun() *db.BacktestRun {
	return &db.BacktestRun{
		ID:           uuid.New(),
		Market:       market.Spot,
		PositionSize: decimal.NewFromInt(100),
	}
}

func longSignal() *db.Signal {
	return &db.Signal{
		Symbol:     "BTCUSDT",
		Direction:  market.Long,
		Entry:      decimal.NewFromInt(100),
		StopLoss:   decimal.NewFromInt(95),
		TakeProfit: decimal.NewFromInt(110),
		Confidence: 0.8,
	}
}

func TestResolveTradeLongTakeProfit(t *testing.T) {
	candles := quietCandles(20)
	candles[5].High = 111

	trade, exitIdx := resolveTrade(resolveRun(), longSignal(), candles, 2, 1, 10)

	assert.Equal(t, db.TradeClosedTP, trade.Status)
	assert.Equal(t, 5, exitIdx)
	assert.True(t, trade.ExitPrice.Equal(decimal.NewFromInt(110)))
	// (110-100) * 100 / 100
	assert.True(t, trade.PnL.Equal(decimal.NewFromInt(10)), trade.PnL.String())
	assert.Equal(t, candles[2].CloseTime, trade.EntryTime)
	assert.Equal(t, candles[5].CloseTime, trade.ExitTime)
}

func TestResolveTradeAdverseFillSameBar(t *testing.T) {
	candles := quietCandles(20)
	candles[4].High = 112
	candles[4].Low = 94 // SL and TP both inside the bar

	trade, _ := resolveTrade(resolveRun(), longSignal(), candles, 2, 1, 10)

	assert.Equal(t, db.TradeClosedSL, trade.Status)
	assert.True(t, trade.ExitPrice.Equal(decimal.NewFromInt(95)))
	assert.True(t, trade.PnL.Equal(decimal.NewFromInt(-5)))
}

func TestResolveTradeExpiresAtLastClose(t *testing.T) {
	candles := quietCandles(20)

	trade, exitIdx := resolveTrade(resolveRun(), longSignal(), candles, 2, 1, 10)

	assert.Equal(t, db.TradeClosedExpired, trade.Status)
	assert.Equal(t, 12, exitIdx)
	assert.True(t, trade.ExitPrice.Equal(decimal.NewFromInt(100)))
	assert.True(t, trade.PnL.IsZero())
}

func TestResolveTradeExpiryTruncatedAtSeriesEnd(t *testing.T) {
	candles := quietCandles(8)

	trade, exitIdx := resolveTrade(resolveRun(), longSignal(), candles, 2, 1, 10)

	assert.Equal(t, db.TradeClosedExpired, trade.Status)
	assert.Equal(t, 7, exitIdx)
}

func TestResolveTradeShortWithLeverage(t *testing.T) {
	sig := &db.Signal{
		Symbol:     "BTCUSDT",
		Direction:  market.Short,
		Entry:      decimal.NewFromInt(100),
		StopLoss:   decimal.NewFromInt(105),
		TakeProfit: decimal.NewFromInt(90),
		Confidence: 0.8,
	}
	candles := quietCandles(20)
	candles[6].Low = 89

	run := resolveRun()
	run.Market = market.Futures

	trade, _ := resolveTrade(run, sig, candles, 2, 10, 10)

	assert.Equal(t, db.TradeClosedTP, trade.Status)
	assert.Equal(t, 10, trade.Leverage)
	// (90-100) * -1 * 100 * 10 / 100
	assert.True(t, trade.PnL.Equal(decimal.NewFromInt(100)), trade.PnL.String())
}
