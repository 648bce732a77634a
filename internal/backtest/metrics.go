package backtest

import (
	"encoding/json"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/signalhound/signalhound/internal/db"
)

// Ratio marshals ±Inf as strings, since JSON has no infinity literal and a
// zero-loss run has an infinite profit factor.
type Ratio float64

func (r Ratio) MarshalJSON() ([]byte, error) {
	v := float64(r)
	switch {
	case math.IsInf(v, 1):
		return []byte(`"inf"`), nil
	case math.IsInf(v, -1):
		return []byte(`"-inf"`), nil
	case math.IsNaN(v):
		return []byte(`"nan"`), nil
	}
	return json.Marshal(v)
}

func (r *Ratio) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case `"inf"`:
		*r = Ratio(math.Inf(1))
		return nil
	case `"-inf"`:
		*r = Ratio(math.Inf(-1))
		return nil
	case `"nan"`:
		*r = Ratio(math.NaN())
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*r = Ratio(v)
	return nil
}

// Metrics is the aggregate performance report of one run, persisted as the
// run's JSONB results.
type Metrics struct {
	TotalTrades   int     `json:"total_trades"`
	WinningTrades int     `json:"winning_trades"`
	LosingTrades  int     `json:"losing_trades"`
	WinRatePct    float64 `json:"win_rate_pct"`

	TotalPnL       decimal.Decimal `json:"total_pnl"`
	ROIPct         float64         `json:"roi_pct"`
	InitialCapital decimal.Decimal `json:"initial_capital"`
	FinalEquity    decimal.Decimal `json:"final_equity"`

	ProfitFactor   Ratio   `json:"profit_factor"`
	MaxDrawdownPct float64 `json:"max_drawdown_pct"`
	SharpeRatio    float64 `json:"sharpe_ratio"`

	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
}

// ComputeMetrics aggregates the trade log of a run. Deterministic: the same
// trades in the same order always yield the same report.
func ComputeMetrics(initialCapital decimal.Decimal, start, end time.Time,
	trades []*db.BacktestTrade) *Metrics {

	m := &Metrics{
		TotalTrades:    len(trades),
		InitialCapital: initialCapital,
		FinalEquity:    initialCapital,
		StartDate:      start,
		EndDate:        end,
	}

	totalWin := decimal.Zero
	totalLoss := decimal.Zero
	for _, t := range trades {
		m.TotalPnL = m.TotalPnL.Add(t.PnL)
		if t.PnL.IsPositive() {
			m.WinningTrades++
			totalWin = totalWin.Add(t.PnL)
		} else {
			m.LosingTrades++
			totalLoss = totalLoss.Add(t.PnL)
		}
	}
	m.FinalEquity = initialCapital.Add(m.TotalPnL)

	if m.TotalTrades > 0 {
		m.WinRatePct = float64(m.WinningTrades) / float64(m.TotalTrades) * 100
	}
	if !initialCapital.IsZero() {
		roi, _ := m.TotalPnL.Div(initialCapital).Float64()
		m.ROIPct = roi * 100
	}

	switch {
	case totalLoss.IsZero() && totalWin.IsPositive():
		m.ProfitFactor = Ratio(math.Inf(1))
	case totalLoss.IsZero():
		m.ProfitFactor = 0
	default:
		pf, _ := totalWin.Div(totalLoss.Abs()).Float64()
		m.ProfitFactor = Ratio(pf)
	}

	m.MaxDrawdownPct = maxDrawdownPct(initialCapital, trades)
	m.SharpeRatio = sharpeRatio(trades, end.Sub(start))

	return m
}

// maxDrawdownPct walks the equity curve in exit-time order and returns the
// largest peak-to-trough decline, in percent.
func maxDrawdownPct(initialCapital decimal.Decimal, trades []*db.BacktestTrade) float64 {
	if len(trades) == 0 || initialCapital.IsZero() {
		return 0
	}

	byExit := make([]*db.BacktestTrade, len(trades))
	copy(byExit, trades)
	sort.SliceStable(byExit, func(i, j int) bool {
		if !byExit[i].ExitTime.Equal(byExit[j].ExitTime) {
			return byExit[i].ExitTime.Before(byExit[j].ExitTime)
		}
		return byExit[i].Symbol < byExit[j].Symbol
	})

	equity := initialCapital
	peak := initialCapital
	maxDD := decimal.Zero
	for _, t := range byExit {
		equity = equity.Add(t.PnL)
		if equity.GreaterThan(peak) {
			peak = equity
			continue
		}
		if peak.IsPositive() {
			dd := peak.Sub(equity).Div(peak)
			if dd.GreaterThan(maxDD) {
				maxDD = dd
			}
		}
	}

	dd, _ := maxDD.Float64()
	return dd * 100
}

// sharpeRatio is mean trade return over its standard deviation, annualised
// from the observed trade frequency. Returns are measured against position
// size, so runs with different capital are comparable.
func sharpeRatio(trades []*db.BacktestTrade, span time.Duration) float64 {
	if len(trades) < 2 {
		return 0
	}

	returns := make([]float64, len(trades))
	for i, t := range trades {
		if t.Size.IsZero() {
			continue
		}
		r, _ := t.PnL.Div(t.Size).Float64()
		returns[i] = r
	}

	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(len(returns))

	var sq float64
	for _, r := range returns {
		d := r - mean
		sq += d * d
	}
	stdev := math.Sqrt(sq / float64(len(returns)))
	if stdev == 0 {
		return 0
	}

	sharpe := mean / stdev
	years := span.Hours() / 24 / 365.25
	if years > 0 {
		tradesPerYear := float64(len(trades)) / years
		sharpe *= math.Sqrt(tradesPerYear)
	}
	return sharpe
}
