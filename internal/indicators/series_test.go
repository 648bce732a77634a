package indicators

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalhound/signalhound/internal/market"
)

// trendCandles builds n hourly candles whose close moves by step each bar.
func trendCandles(n int, start, step float64) []market.Candle {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	candles := make([]market.Candle, n)
	for i := range candles {
		open := start + step*float64(i)
		close := open + step
		high := math.Max(open, close) + 0.2
		low := math.Min(open, close) - 0.2
		candles[i] = market.Candle{
			OpenTime:  base.Add(time.Duration(i) * time.Hour),
			CloseTime: base.Add(time.Duration(i+1) * time.Hour),
			Open:      open,
			High:      high,
			Low:       low,
			Close:     close,
			Volume:    1000,
		}
	}
	return candles
}

func TestComputeRejectsTinyInput(t *testing.T) {
	_, err := Compute([]market.Candle{{Close: 100}})
	assert.Error(t, err)
}

func TestComputeAlignsAllColumns(t *testing.T) {
	candles := trendCandles(80, 100, 0.5)
	s, err := Compute(candles)
	require.NoError(t, err)

	n := s.Len()
	assert.Equal(t, 80, n)
	assert.Equal(t, 79, s.Last())

	for name, col := range map[string][]float64{
		"rsi": s.RSI, "macd": s.MACD, "macd_signal": s.MACDSignal,
		"adx": s.ADX, "atr": s.ATR, "ema9": s.EMA9, "ema50": s.EMA50,
		"bb_upper": s.BBUpper, "percent_b": s.PercentB,
		"stoch_k": s.StochK, "stoch_d": s.StochD,
		"ha_close": s.HAClose, "volume_ratio": s.VolumeRatio,
	} {
		assert.Len(t, col, n, "column %s", name)
	}

	// Warmup rows are NaN, the last row is fully defined.
	assert.False(t, Defined(s.RSI[0]))
	assert.False(t, Defined(s.ADX[5]))
	last := s.Last()
	assert.True(t, Defined(s.RSI[last]))
	assert.True(t, Defined(s.ADX[last]))
	assert.True(t, Defined(s.ATR[last]))
	assert.True(t, Defined(s.EMA50[last]))
	assert.True(t, Defined(s.StochD[last]))
}

func TestRSIExtremesOnMonotonicSeries(t *testing.T) {
	up, err := Compute(trendCandles(60, 100, 1))
	require.NoError(t, err)
	assert.Greater(t, up.RSI[up.Last()], 90.0)

	down, err := Compute(trendCandles(60, 200, -1))
	require.NoError(t, err)
	assert.Less(t, down.RSI[down.Last()], 10.0)
}

func TestATRTracksBarRange(t *testing.T) {
	// Flat closes with a constant 0.4 high-low range.
	s, err := Compute(trendCandles(60, 100, 0))
	require.NoError(t, err)
	atr := s.ATR[s.Last()]
	assert.InDelta(t, 0.4, atr, 0.05)
}

func TestEMAConvergesOnFlatSeries(t *testing.T) {
	s, err := Compute(trendCandles(120, 100, 0))
	require.NoError(t, err)
	last := s.Last()
	assert.InDelta(t, 100, s.EMA9[last], 0.01)
	assert.InDelta(t, 100, s.EMA21[last], 0.01)
	assert.InDelta(t, 100, s.EMA50[last], 0.1)
}

func TestHeikinAshiTrendColor(t *testing.T) {
	up, err := Compute(trendCandles(60, 100, 1))
	require.NoError(t, err)
	assert.True(t, up.HABullish(up.Last()))
	assert.False(t, up.HABearish(up.Last()))

	down, err := Compute(trendCandles(60, 200, -1))
	require.NoError(t, err)
	assert.True(t, down.HABearish(down.Last()))
	assert.False(t, down.HABullish(down.Last()))

	// Out-of-range indexes are never bullish or bearish.
	assert.False(t, up.HABullish(-1))
	assert.False(t, up.HABullish(up.Len()))
}

func TestStochasticBounds(t *testing.T) {
	s, err := Compute(trendCandles(60, 100, 1))
	require.NoError(t, err)
	for i := range s.StochK {
		if !Defined(s.StochK[i]) {
			continue
		}
		assert.GreaterOrEqual(t, s.StochK[i], 0.0)
		assert.LessOrEqual(t, s.StochK[i], 100.0)
	}
}

func TestVolumeRatioFlatVolume(t *testing.T) {
	s, err := Compute(trendCandles(60, 100, 0.5))
	require.NoError(t, err)
	assert.InDelta(t, 1.0, s.VolumeRatio[s.Last()], 1e-9)
}

func TestComputeIsDeterministic(t *testing.T) {
	candles := trendCandles(80, 100, 0.7)
	a, err := Compute(candles)
	require.NoError(t, err)
	b, err := Compute(candles)
	require.NoError(t, err)

	for i := range a.RSI {
		if Defined(a.RSI[i]) || Defined(b.RSI[i]) {
			assert.Equal(t, a.RSI[i], b.RSI[i])
		}
		if Defined(a.MACDHist[i]) || Defined(b.MACDHist[i]) {
			assert.Equal(t, a.MACDHist[i], b.MACDHist[i])
		}
	}
}
