// Package backtest replays stored candles through the detection engine and
// produces a deterministic performance report for one run configuration.
package backtest

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/signalhound/signalhound/internal/db"
	"github.com/signalhound/signalhound/internal/indicators"
	"github.com/signalhound/signalhound/internal/market"
	"github.com/signalhound/signalhound/internal/signal"
)

const (
	// windowSize is the rolling indicator window fed to the engine at each
	// replay step.
	windowSize = 200

	// minHistory is the smallest candle set a symbol may contribute; less
	// fails the whole run.
	minHistory = 50

	// defaultTimeout bounds one run end to end.
	defaultTimeout = time.Hour
)

// Store is the persistence surface the executor needs.
type Store interface {
	GetBacktestRun(ctx context.Context, id uuid.UUID) (*db.BacktestRun, error)
	StartBacktestRun(ctx context.Context, id uuid.UUID) error
	CompleteBacktestRun(ctx context.Context, id uuid.UUID, results json.RawMessage) error
	FailBacktestRun(ctx context.Context, id uuid.UUID, message string) error
	InsertBacktestTrades(ctx context.Context, runID uuid.UUID, trades []*db.BacktestTrade) error
	GetCandles(ctx context.Context, symbol string, kind market.Kind,
		tf market.Timeframe, from, to time.Time) ([]market.Candle, error)
}

// Executor runs backtests to completion, one at a time.
type Executor struct {
	store   Store
	timeout time.Duration
}

// NewExecutor builds an executor over the given store.
func NewExecutor(store Store) *Executor {
	return &Executor{store: store, timeout: defaultTimeout}
}

// Execute loads a PENDING run, replays it, and persists the trade log and
// metrics. Any failure transitions the run to FAILED and discards partial
// results.
func (x *Executor) Execute(ctx context.Context, runID uuid.UUID) error {
	run, err := x.store.GetBacktestRun(ctx, runID)
	if err != nil {
		return err
	}
	if err := x.store.StartBacktestRun(ctx, run.ID); err != nil {
		return err
	}

	runCtx, cancel := context.WithTimeout(ctx, x.timeout)
	defer cancel()

	start := time.Now()
	results, trades, err := x.replay(runCtx, run)
	if err != nil {
		return x.fail(ctx, run.ID, err)
	}

	if err := x.store.InsertBacktestTrades(ctx, run.ID, trades); err != nil {
		return x.fail(ctx, run.ID, err)
	}
	if err := x.store.CompleteBacktestRun(ctx, run.ID, results); err != nil {
		return err
	}

	log.Info().
		Str("run_id", run.ID.String()).
		Int("trades", len(trades)).
		Dur("elapsed", time.Since(start)).
		Msg("Backtest run completed")
	return nil
}

// fail records the failure on the run; the write uses a fresh context so a
// replay timeout cannot also kill the status update.
func (x *Executor) fail(ctx context.Context, runID uuid.UUID, cause error) error {
	failCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err := x.store.FailBacktestRun(failCtx, runID, cause.Error()); err != nil {
		log.Error().Err(err).Str("run_id", runID.String()).Msg("Failed to record backtest failure")
	}
	return fmt.Errorf("backtest run %s: %w", runID, cause)
}

// replay walks every symbol's candles through the engine and returns the
// marshalled metrics plus the full trade log, sorted by entry time.
func (x *Executor) replay(ctx context.Context, run *db.BacktestRun) (json.RawMessage, []*db.BacktestTrade, error) {
	cfg, err := resolveConfig(run.StrategyParams)
	if err != nil {
		return nil, nil, err
	}

	// The replay only scores; it never touches signal persistence.
	engine, err := signal.NewEngine(cfg, nil)
	if err != nil {
		return nil, nil, err
	}

	var trades []*db.BacktestTrade
	for _, symbol := range run.Symbols {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		candles, err := x.store.GetCandles(ctx, symbol, run.Market, run.Timeframe, run.StartDate, run.EndDate)
		if err != nil {
			return nil, nil, fmt.Errorf("load candles for %s: %w", symbol, err)
		}
		if len(candles) < minHistory {
			return nil, nil, fmt.Errorf("insufficient data for %s: %d candles, need %d",
				symbol, len(candles), minHistory)
		}
		if err := market.ValidateSeries(candles); err != nil {
			return nil, nil, fmt.Errorf("invalid candles for %s: %w", symbol, err)
		}

		trades = append(trades, simulate(engine, run, symbol, candles)...)
	}

	sort.SliceStable(trades, func(i, j int) bool {
		if !trades[i].EntryTime.Equal(trades[j].EntryTime) {
			return trades[i].EntryTime.Before(trades[j].EntryTime)
		}
		return trades[i].Symbol < trades[j].Symbol
	})

	metrics := ComputeMetrics(run.InitialCapital, run.StartDate, run.EndDate, trades)
	results, err := json.Marshal(metrics)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal results: %w", err)
	}
	return results, trades, nil
}

// resolveConfig overlays the run's strategy parameters on the defaults.
// Volatility-aware stop scaling is always off so the run's parameters are
// respected verbatim.
func resolveConfig(params json.RawMessage) (signal.Config, error) {
	cfg := signal.DefaultConfig()
	if len(params) > 0 {
		if err := json.Unmarshal(params, &cfg); err != nil {
			return cfg, fmt.Errorf("parse strategy params: %w", err)
		}
	}
	cfg.UseVolatilityAware = false
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("strategy params: %w", err)
	}
	return cfg, nil
}

// simulate replays one symbol. De-duplication is bypassed, but at most one
// simulated trade per direction is open at a time; emissions while one is
// open are skipped.
func simulate(engine *signal.Engine, run *db.BacktestRun, symbol string,
	candles []market.Candle) []*db.BacktestTrade {

	leverage := 1
	if run.Market == market.Futures {
		leverage = engine.Config().FuturesLeverage
	}
	expiry := engine.Config().ExpiryFactor

	var trades []*db.BacktestTrade
	openUntil := map[market.Direction]int{market.Long: -1, market.Short: -1}

	for i := range candles {
		lo := 0
		if i+1 > windowSize {
			lo = i + 1 - windowSize
		}
		window := candles[lo : i+1]

		series, err := indicators.Compute(window)
		if err != nil {
			continue
		}
		sig, ok := engine.Evaluate(symbol, run.Market, run.Timeframe, series, series.Last())
		if !ok {
			continue
		}
		if i <= openUntil[sig.Direction] {
			continue
		}

		trade, exitIdx := resolveTrade(run, sig, candles, i, leverage, expiry)
		openUntil[sig.Direction] = exitIdx
		trades = append(trades, trade)
	}
	return trades
}

// resolveTrade scans forward from the entry candle to the trade's exit. SL
// is checked before TP inside each bar: when both levels fall in one
// candle's range the adverse fill wins. Neither hit within the expiry
// horizon exits at the last scanned close.
func resolveTrade(run *db.BacktestRun, sig *db.Signal, candles []market.Candle,
	entryIdx, leverage, expiry int) (*db.BacktestTrade, int) {

	last := entryIdx + expiry
	if last > len(candles)-1 {
		last = len(candles) - 1
	}

	sl, _ := sig.StopLoss.Float64()
	tp, _ := sig.TakeProfit.Float64()

	status := db.TradeClosedExpired
	exitPrice := decimal.NewFromFloat(candles[last].Close)
	exitIdx := last

scan:
	for j := entryIdx + 1; j <= last; j++ {
		c := candles[j]
		if sig.Direction == market.Long {
			switch {
			case c.Low <= sl:
				status, exitPrice, exitIdx = db.TradeClosedSL, sig.StopLoss, j
				break scan
			case c.High >= tp:
				status, exitPrice, exitIdx = db.TradeClosedTP, sig.TakeProfit, j
				break scan
			}
		} else {
			switch {
			case c.High >= sl:
				status, exitPrice, exitIdx = db.TradeClosedSL, sig.StopLoss, j
				break scan
			case c.Low <= tp:
				status, exitPrice, exitIdx = db.TradeClosedTP, sig.TakeProfit, j
				break scan
			}
		}
	}

	size := run.PositionSize
	dirSign := decimal.NewFromInt(1)
	if sig.Direction == market.Short {
		dirSign = decimal.NewFromInt(-1)
	}
	pnl := exitPrice.Sub(sig.Entry).
		Mul(dirSign).
		Mul(size).
		Mul(decimal.NewFromInt(int64(leverage))).
		Div(sig.Entry)

	return &db.BacktestTrade{
		RunID:      run.ID,
		Symbol:     sig.Symbol,
		Direction:  sig.Direction,
		Entry:      sig.Entry,
		ExitPrice:  exitPrice,
		Size:       size,
		Leverage:   leverage,
		PnL:        pnl,
		Status:     status,
		Confidence: sig.Confidence,
		EntryTime:  candles[entryIdx].CloseTime,
		ExitTime:   candles[exitIdx].CloseTime,
	}, exitIdx
}
