// Package indicators computes technical indicator columns over a finite
// ordered candle sequence. Every column is aligned with the input: index i
// of a column describes candle i, with NaN for leading rows where the
// indicator is undefined. All results are deterministic functions of the
// input series.
package indicators

import (
	"fmt"
	"math"

	"github.com/signalhound/signalhound/internal/market"
)

// Canonical indicator parameters.
const (
	RSIPeriod        = 14
	MACDFast         = 12
	MACDSlow         = 26
	MACDSignalPeriod = 9
	ADXPeriod        = 14
	ATRPeriod        = 14
	EMAFastPeriod    = 9
	EMAMidPeriod     = 21
	EMASlowPeriod    = 50
	BollingerPeriod  = 20
	StochPeriod      = 14
	StochSmoothK     = 3
	StochSmoothD     = 3
	VolumeSMAPeriod  = 20
)

// Series holds the indicator columns for one candle window.
type Series struct {
	Candles []market.Candle

	RSI []float64

	MACD       []float64
	MACDSignal []float64
	MACDHist   []float64

	ADX     []float64
	PlusDI  []float64
	MinusDI []float64

	ATR []float64

	EMA9  []float64
	EMA21 []float64
	EMA50 []float64

	BBUpper  []float64
	BBMiddle []float64
	BBLower  []float64
	PercentB []float64

	StochK []float64
	StochD []float64

	HAOpen  []float64
	HAHigh  []float64
	HALow   []float64
	HAClose []float64

	VolumeSMA   []float64
	VolumeRatio []float64
}

// Len returns the number of rows.
func (s *Series) Len() int {
	return len(s.Candles)
}

// Last returns the index of the most recent row.
func (s *Series) Last() int {
	return len(s.Candles) - 1
}

// Compute builds the full indicator series for a candle window.
func Compute(candles []market.Candle) (*Series, error) {
	if len(candles) < 2 {
		return nil, fmt.Errorf("need at least 2 candles, got %d", len(candles))
	}

	closes := make([]float64, len(candles))
	highs := make([]float64, len(candles))
	lows := make([]float64, len(candles))
	volumes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
		highs[i] = c.High
		lows[i] = c.Low
		volumes[i] = c.Volume
	}

	s := &Series{Candles: candles}

	s.RSI = computeRSI(closes, RSIPeriod)
	s.MACD, s.MACDSignal, s.MACDHist = computeMACD(closes, MACDFast, MACDSlow, MACDSignalPeriod)
	s.EMA9 = computeEMA(closes, EMAFastPeriod)
	s.EMA21 = computeEMA(closes, EMAMidPeriod)
	s.EMA50 = computeEMA(closes, EMASlowPeriod)
	s.BBUpper, s.BBMiddle, s.BBLower, s.PercentB = computeBollinger(closes, BollingerPeriod)
	s.ATR = computeATR(highs, lows, closes, ATRPeriod)
	s.ADX, s.PlusDI, s.MinusDI = computeADX(highs, lows, closes, ADXPeriod)
	s.StochK, s.StochD = computeStochastic(highs, lows, closes, StochPeriod, StochSmoothK, StochSmoothD)
	s.HAOpen, s.HAHigh, s.HALow, s.HAClose = computeHeikinAshi(candles)
	s.VolumeSMA, s.VolumeRatio = computeVolumeTrend(volumes, VolumeSMAPeriod)

	return s, nil
}

// padLeft re-aligns an indicator result with its input series: the leading
// rows the indicator dropped become NaN.
func padLeft(values []float64, n int) []float64 {
	out := make([]float64, n)
	missing := n - len(values)
	for i := 0; i < missing; i++ {
		out[i] = math.NaN()
	}
	copy(out[missing:], values)
	return out
}

// drain feeds a slice through a cinar streaming indicator and collects the
// output back into a slice.
func drain(values []float64, compute func(<-chan float64) <-chan float64) []float64 {
	in := make(chan float64, len(values))
	for _, v := range values {
		in <- v
	}
	close(in)

	var out []float64
	for v := range compute(in) {
		out = append(out, v)
	}
	return out
}

// nanSlice returns a slice of n NaN values.
func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

// Defined reports whether v carries a real indicator value.
func Defined(v float64) bool {
	return !math.IsNaN(v)
}
