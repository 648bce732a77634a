package indicators

import (
	"math"

	"github.com/signalhound/signalhound/internal/market"
)

// computeHeikinAshi derives Heikin-Ashi OHLC columns from raw candles.
// HA close is the bar average; HA open is the midpoint of the previous HA
// bar, seeded from the first raw candle.
func computeHeikinAshi(candles []market.Candle) (haOpen, haHigh, haLow, haClose []float64) {
	n := len(candles)
	haOpen = make([]float64, n)
	haHigh = make([]float64, n)
	haLow = make([]float64, n)
	haClose = make([]float64, n)

	for i, c := range candles {
		haClose[i] = (c.Open + c.High + c.Low + c.Close) / 4
		if i == 0 {
			haOpen[i] = (c.Open + c.Close) / 2
		} else {
			haOpen[i] = (haOpen[i-1] + haClose[i-1]) / 2
		}
		haHigh[i] = math.Max(c.High, math.Max(haOpen[i], haClose[i]))
		haLow[i] = math.Min(c.Low, math.Min(haOpen[i], haClose[i]))
	}
	return haOpen, haHigh, haLow, haClose
}

// HABullish reports whether row i is a bullish Heikin-Ashi candle with a
// small lower wick (body-confirming, not indecisive).
func (s *Series) HABullish(i int) bool {
	if i < 0 || i >= s.Len() {
		return false
	}
	body := s.HAClose[i] - s.HAOpen[i]
	if body <= 0 {
		return false
	}
	lowerWick := s.HAOpen[i] - s.HALow[i]
	return lowerWick <= body*0.5
}

// HABearish reports whether row i is a bearish Heikin-Ashi candle with a
// small upper wick.
func (s *Series) HABearish(i int) bool {
	if i < 0 || i >= s.Len() {
		return false
	}
	body := s.HAOpen[i] - s.HAClose[i]
	if body <= 0 {
		return false
	}
	upperWick := s.HAHigh[i] - s.HAOpen[i]
	return upperWick <= body*0.5
}

// computeVolumeTrend returns the rolling volume SMA and the ratio of
// current volume to that average.
func computeVolumeTrend(volumes []float64, period int) (sma, ratio []float64) {
	sma = smaNaN(volumes, period)
	ratio = nanSlice(len(volumes))
	for i := range volumes {
		if Defined(sma[i]) && sma[i] > 0 {
			ratio[i] = volumes[i] / sma[i]
		}
	}
	return sma, ratio
}
