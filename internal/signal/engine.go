// Package signal implements the weighted multi-indicator detection engine.
// It scores the most recent closed candle of a (symbol, timeframe) series
// against a bullish and a bearish predicate set, derives entry/SL/TP from
// ATR, and applies de-duplication and cross-timeframe priority before a
// signal is persisted.
package signal

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/signalhound/signalhound/internal/db"
	"github.com/signalhound/signalhound/internal/indicators"
	"github.com/signalhound/signalhound/internal/market"
)

// minCandles is the shortest series the engine scores. EMA50 plus MACD
// signal warm-up leaves nothing defined on shorter windows.
const minCandles = 60

// Action describes the outcome of one process pass.
type Action string

const (
	ActionCreated      Action = "created"
	ActionUpdatedPrice Action = "updated_price"
	ActionNone         Action = "none"
)

// Store is the persistence surface the engine needs.
type Store interface {
	InsertSignal(ctx context.Context, s *db.Signal) error
	FindDupSignal(ctx context.Context, symbol string, kind market.Kind,
		dir market.Direction, tf market.Timeframe, entry decimal.Decimal,
		within time.Duration) (*db.Signal, error)
	ListActiveSignalsForSymbol(ctx context.Context, symbol string, kind market.Kind) ([]*db.Signal, error)
	UpdateSignalStatus(ctx context.Context, id uuid.UUID, expected, next db.SignalStatus) error
	UpdateSignalPrice(ctx context.Context, id uuid.UUID, price decimal.Decimal) error
}

// Result carries the action of one pass and the affected signal, if any.
// Closed holds the signals that reached a terminal lifecycle status this
// pass (HIT_SL, HIT_TP, EXPIRED); Cancelled holds lower-timeframe signals
// superseded by a new emission.
type Result struct {
	Action    Action
	Signal    *db.Signal
	Closed    []*db.Signal
	Cancelled []*db.Signal
}

// Engine is the detection engine. Safe for concurrent use: all state lives
// in the store, the config is immutable.
type Engine struct {
	cfg   Config
	store Store
	now   func() time.Time
}

// NewEngine constructs an engine with a validated config.
func NewEngine(cfg Config, store Store) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}
	return &Engine{cfg: cfg, store: store, now: time.Now}, nil
}

// Config returns the engine parameters.
func (e *Engine) Config() Config {
	return e.cfg
}

// ProcessSymbol scores the latest closed candle of the series and either
// emits a new signal or maintains the existing ACTIVE one.
func (e *Engine) ProcessSymbol(ctx context.Context, symbol string, kind market.Kind,
	tf market.Timeframe, candles []market.Candle) (Result, error) {

	if len(candles) < minCandles {
		return Result{Action: ActionNone}, nil
	}

	series, err := indicators.Compute(candles)
	if err != nil {
		return Result{Action: ActionNone}, fmt.Errorf("indicator computation for %s: %w", symbol, err)
	}

	return e.ProcessSeries(ctx, symbol, kind, tf, series)
}

// ProcessSeries is ProcessSymbol over a precomputed indicator series.
func (e *Engine) ProcessSeries(ctx context.Context, symbol string, kind market.Kind,
	tf market.Timeframe, series *indicators.Series) (Result, error) {

	if series.Len() < minCandles {
		return Result{Action: ActionNone}, nil
	}

	i := series.Last()
	score := e.bestScore(series, i)

	if score.Confidence >= e.cfg.MinConfidence {
		return e.emit(ctx, symbol, kind, tf, series, i, score)
	}

	return e.maintain(ctx, symbol, kind, tf, series.Candles[i])
}

// Evaluate scores candle i of a precomputed series and returns the signal
// that would be emitted, without persistence, de-duplication or priority
// checks. The backtest replay runs on this path; CreatedAt is left zero for
// the caller to stamp with simulation time.
func (e *Engine) Evaluate(symbol string, kind market.Kind, tf market.Timeframe,
	series *indicators.Series, i int) (*db.Signal, bool) {

	if series.Len() < minCandles || i < minCandles-1 {
		return nil, false
	}
	score := e.bestScore(series, i)
	if score.Confidence < e.cfg.MinConfidence {
		return nil, false
	}
	sig := e.buildSignal(symbol, kind, tf, series, i, score)
	sig.CreatedAt = time.Time{}
	return sig, true
}

// bestScore evaluates both directions and returns the stronger one.
func (e *Engine) bestScore(series *indicators.Series, i int) Score {
	long := e.scoreLong(series, i)
	short := e.scoreShort(series, i)
	if short.Total > long.Total {
		return short
	}
	return long
}

// emit builds the signal, runs de-duplication and cross-timeframe priority,
// and persists it.
func (e *Engine) emit(ctx context.Context, symbol string, kind market.Kind,
	tf market.Timeframe, series *indicators.Series, i int, score Score) (Result, error) {

	sig := e.buildSignal(symbol, kind, tf, series, i, score)

	// A de-dup lookup that cannot run suppresses emission.
	dup, err := e.store.FindDupSignal(ctx, symbol, kind, sig.Direction, tf, sig.Entry, tf.DedupWindow())
	if err != nil {
		return Result{Action: ActionNone}, fmt.Errorf("dedup lookup for %s: %w", symbol, err)
	}
	if dup != nil {
		log.Debug().
			Str("symbol", symbol).
			Str("timeframe", string(tf)).
			Str("dup_id", dup.ID.String()).
			Msg("Signal suppressed as duplicate")
		return Result{Action: ActionNone}, nil
	}

	active, err := e.store.ListActiveSignalsForSymbol(ctx, symbol, kind)
	if err != nil {
		return Result{Action: ActionNone}, fmt.Errorf("priority lookup for %s: %w", symbol, err)
	}

	var cancelled []*db.Signal
	for _, other := range active {
		if other.Direction != sig.Direction {
			continue
		}
		switch {
		case other.Timeframe.Priority() > tf.Priority():
			log.Debug().
				Str("symbol", symbol).
				Str("timeframe", string(tf)).
				Str("held_by", string(other.Timeframe)).
				Msg("Signal suppressed by higher timeframe")
			return Result{Action: ActionNone}, nil
		case other.Timeframe.Priority() < tf.Priority():
			if err := e.store.UpdateSignalStatus(ctx, other.ID, db.SignalActive, db.SignalCancelled); err != nil {
				log.Warn().Err(err).
					Str("signal_id", other.ID.String()).
					Msg("Failed to cancel lower-timeframe signal")
				continue
			}
			other.Status = db.SignalCancelled
			cancelled = append(cancelled, other)
		}
	}

	if err := e.store.InsertSignal(ctx, sig); err != nil {
		return Result{Action: ActionNone}, fmt.Errorf("persist signal for %s: %w", symbol, err)
	}

	log.Info().
		Str("symbol", symbol).
		Str("market", string(kind)).
		Str("direction", string(sig.Direction)).
		Str("timeframe", string(tf)).
		Float64("confidence", sig.Confidence).
		Str("entry", sig.Entry.String()).
		Msg("Signal created")

	return Result{Action: ActionCreated, Signal: sig, Cancelled: cancelled}, nil
}

// buildSignal derives the full signal attributes from the scored candle.
func (e *Engine) buildSignal(symbol string, kind market.Kind, tf market.Timeframe,
	series *indicators.Series, i int, score Score) *db.Signal {

	closePrice := series.Candles[i].Close
	atr := series.ATR[i]

	slMult, tpMult := e.cfg.SLATRMultiplier, e.cfg.TPATRMultiplier
	if e.cfg.UseVolatilityAware {
		slMult, tpMult = volatilityAdjusted(slMult, tpMult, atr/closePrice)
	}

	entry := decimal.NewFromFloat(closePrice)
	slDelta := decimal.NewFromFloat(atr * slMult)
	tpDelta := decimal.NewFromFloat(atr * tpMult)

	var sl, tp decimal.Decimal
	if score.Direction == market.Long {
		sl = entry.Sub(slDelta)
		tp = entry.Add(tpDelta)
	} else {
		sl = entry.Add(slDelta)
		tp = entry.Sub(tpDelta)
	}

	leverage := 1
	if kind == market.Futures {
		leverage = e.cfg.FuturesLeverage
	}

	riskReward := 0.0
	if risk := entry.Sub(sl).Abs(); !risk.IsZero() {
		riskReward, _ = tp.Sub(entry).Abs().Div(risk).Float64()
	}

	tradingType, durationHours := classify(tf, score.Confidence)

	return &db.Signal{
		Symbol:        symbol,
		Market:        kind,
		Direction:     score.Direction,
		Timeframe:     tf,
		Entry:         entry,
		StopLoss:      sl,
		TakeProfit:    tp,
		Confidence:    score.Confidence,
		Status:        db.SignalActive,
		TradingType:   tradingType,
		DurationHours: durationHours,
		Leverage:      leverage,
		RiskReward:    riskReward,
		Description:   strings.Join(score.Reasons, "; "),
		CreatedAt:     e.now(),
	}
}

// maintain re-evaluates the existing ACTIVE signals of this (symbol,
// timeframe) against the latest candle when no new signal was emitted.
func (e *Engine) maintain(ctx context.Context, symbol string, kind market.Kind,
	tf market.Timeframe, latest market.Candle) (Result, error) {

	active, err := e.store.ListActiveSignalsForSymbol(ctx, symbol, kind)
	if err != nil {
		return Result{Action: ActionNone}, fmt.Errorf("active lookup for %s: %w", symbol, err)
	}

	// Both a LONG and a SHORT can be ACTIVE on one (symbol, timeframe);
	// every one of them gets a lifecycle check before the pass ends.
	res := Result{Action: ActionNone}
	for _, sig := range active {
		if sig.Timeframe != tf {
			continue
		}

		next := EvaluateLifecycle(sig, latest, e.cfg.ExpiryFactor, e.now())
		if next == db.SignalActive {
			price := decimal.NewFromFloat(latest.Close)
			if err := e.store.UpdateSignalPrice(ctx, sig.ID, price); err != nil {
				return Result{Action: ActionNone}, err
			}
			sig.CurrentPrice = &price
			if res.Action == ActionNone {
				res.Action = ActionUpdatedPrice
				res.Signal = sig
			}
			continue
		}

		if err := e.store.UpdateSignalStatus(ctx, sig.ID, db.SignalActive, next); err != nil {
			// Another worker already transitioned it.
			log.Debug().Err(err).Str("signal_id", sig.ID.String()).Msg("Lifecycle transition lost race")
			continue
		}
		sig.Status = next
		res.Closed = append(res.Closed, sig)

		log.Info().
			Str("symbol", symbol).
			Str("signal_id", sig.ID.String()).
			Str("status", string(next)).
			Msg("Signal lifecycle transition")
	}

	return res, nil
}

// volatilityAdjusted widens stops in rough markets and tightens them in
// quiet ones, pivoting around a 2% ATR/price ratio.
func volatilityAdjusted(slMult, tpMult, atrPct float64) (float64, float64) {
	switch {
	case atrPct > 0.02:
		return slMult * 1.25, tpMult * 1.1
	case atrPct < 0.01:
		return slMult * 0.85, tpMult * 0.95
	}
	return slMult, tpMult
}
