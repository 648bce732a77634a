package signal

import (
	"fmt"

	"github.com/signalhound/signalhound/internal/indicators"
	"github.com/signalhound/signalhound/internal/market"
)

// Predicate weights. The maximum total is 13.5.
const (
	weightMACDCross    = 2.0
	weightRSI          = 1.5
	weightPriceVsEMA50 = 1.8
	weightADX          = 1.7
	weightHeikinAshi   = 1.6
	weightVolume       = 1.4
	weightEMAAlign     = 1.2
	weightDI           = 1.0
	weightPercentB     = 0.8
	weightATRBand      = 0.5

	maxScore = weightMACDCross + weightRSI + weightPriceVsEMA50 + weightADX +
		weightHeikinAshi + weightVolume + weightEMAAlign + weightDI +
		weightPercentB + weightATRBand
)

// Score is the weighted predicate evaluation of one candle.
type Score struct {
	Direction  market.Direction
	Total      float64
	Confidence float64
	Reasons    []string
}

// scoreLong evaluates the bullish predicate set at row i.
func (e *Engine) scoreLong(s *indicators.Series, i int) Score {
	sc := Score{Direction: market.Long}
	close := s.Candles[i].Close

	if macdCrossedUp(s, i) {
		sc.add(weightMACDCross, "MACD histogram crossed above zero")
	}
	if indicators.Defined(s.RSI[i]) && s.RSI[i] >= e.cfg.LongRSIMin && s.RSI[i] <= e.cfg.LongRSIMax {
		sc.add(weightRSI, fmt.Sprintf("RSI %.1f in oversold band", s.RSI[i]))
	}
	if indicators.Defined(s.EMA50[i]) && close > s.EMA50[i] {
		sc.add(weightPriceVsEMA50, "close above EMA50")
	}
	if indicators.Defined(s.ADX[i]) && s.ADX[i] >= e.cfg.LongADXMin {
		sc.add(weightADX, fmt.Sprintf("ADX %.1f confirms trend", s.ADX[i]))
	}
	if s.HABullish(i) {
		sc.add(weightHeikinAshi, "bullish Heikin-Ashi candle")
	}
	if indicators.Defined(s.VolumeRatio[i]) && s.VolumeRatio[i] >= e.cfg.LongVolumeMultiplier {
		sc.add(weightVolume, fmt.Sprintf("volume %.1fx average", s.VolumeRatio[i]))
	}
	if emaAlignedUp(s, i) {
		sc.add(weightEMAAlign, "EMA9 > EMA21 > EMA50")
	}
	if indicators.Defined(s.PlusDI[i]) && indicators.Defined(s.MinusDI[i]) && s.PlusDI[i] > s.MinusDI[i] {
		sc.add(weightDI, "+DI above -DI")
	}
	if percentBInBand(s, i) {
		sc.add(weightPercentB, "percent-B away from band extremes")
	}
	if atrInBand(s, i, close) {
		sc.add(weightATRBand, "ATR in tradable volatility range")
	}

	sc.Confidence = sc.Total / maxScore
	return sc
}

// scoreShort evaluates the bearish predicate set at row i. Symmetric to
// scoreLong with inverted predicates.
func (e *Engine) scoreShort(s *indicators.Series, i int) Score {
	sc := Score{Direction: market.Short}
	close := s.Candles[i].Close

	if macdCrossedDown(s, i) {
		sc.add(weightMACDCross, "MACD histogram crossed below zero")
	}
	if indicators.Defined(s.RSI[i]) && s.RSI[i] >= e.cfg.ShortRSIMin && s.RSI[i] <= e.cfg.ShortRSIMax {
		sc.add(weightRSI, fmt.Sprintf("RSI %.1f in overbought band", s.RSI[i]))
	}
	if indicators.Defined(s.EMA50[i]) && close < s.EMA50[i] {
		sc.add(weightPriceVsEMA50, "close below EMA50")
	}
	if indicators.Defined(s.ADX[i]) && s.ADX[i] >= e.cfg.ShortADXMin {
		sc.add(weightADX, fmt.Sprintf("ADX %.1f confirms trend", s.ADX[i]))
	}
	if s.HABearish(i) {
		sc.add(weightHeikinAshi, "bearish Heikin-Ashi candle")
	}
	if indicators.Defined(s.VolumeRatio[i]) && s.VolumeRatio[i] >= e.cfg.ShortVolumeMultiplier {
		sc.add(weightVolume, fmt.Sprintf("volume %.1fx average", s.VolumeRatio[i]))
	}
	if emaAlignedDown(s, i) {
		sc.add(weightEMAAlign, "EMA9 < EMA21 < EMA50")
	}
	if indicators.Defined(s.PlusDI[i]) && indicators.Defined(s.MinusDI[i]) && s.MinusDI[i] > s.PlusDI[i] {
		sc.add(weightDI, "-DI above +DI")
	}
	if percentBInBand(s, i) {
		sc.add(weightPercentB, "percent-B away from band extremes")
	}
	if atrInBand(s, i, close) {
		sc.add(weightATRBand, "ATR in tradable volatility range")
	}

	sc.Confidence = sc.Total / maxScore
	return sc
}

func (sc *Score) add(weight float64, reason string) {
	sc.Total += weight
	sc.Reasons = append(sc.Reasons, reason)
}

// macdCrossedUp reports whether the MACD histogram moved above zero within
// the last one or two candles.
func macdCrossedUp(s *indicators.Series, i int) bool {
	if i < 2 || !indicators.Defined(s.MACDHist[i]) || s.MACDHist[i] <= 0 {
		return false
	}
	return (indicators.Defined(s.MACDHist[i-1]) && s.MACDHist[i-1] <= 0) ||
		(indicators.Defined(s.MACDHist[i-2]) && s.MACDHist[i-2] <= 0)
}

func macdCrossedDown(s *indicators.Series, i int) bool {
	if i < 2 || !indicators.Defined(s.MACDHist[i]) || s.MACDHist[i] >= 0 {
		return false
	}
	return (indicators.Defined(s.MACDHist[i-1]) && s.MACDHist[i-1] >= 0) ||
		(indicators.Defined(s.MACDHist[i-2]) && s.MACDHist[i-2] >= 0)
}

func emaAlignedUp(s *indicators.Series, i int) bool {
	return indicators.Defined(s.EMA9[i]) && indicators.Defined(s.EMA21[i]) &&
		indicators.Defined(s.EMA50[i]) &&
		s.EMA9[i] > s.EMA21[i] && s.EMA21[i] > s.EMA50[i]
}

func emaAlignedDown(s *indicators.Series, i int) bool {
	return indicators.Defined(s.EMA9[i]) && indicators.Defined(s.EMA21[i]) &&
		indicators.Defined(s.EMA50[i]) &&
		s.EMA9[i] < s.EMA21[i] && s.EMA21[i] < s.EMA50[i]
}

// percentBInBand accepts closes sitting in the middle of the Bollinger
// channel, not pinned to either band.
func percentBInBand(s *indicators.Series, i int) bool {
	return indicators.Defined(s.PercentB[i]) && s.PercentB[i] >= 0.30 && s.PercentB[i] <= 0.70
}

// atrInBand accepts ATR between 0.5% and 4% of price: enough movement to
// reach TP, not so much that the SL is noise.
func atrInBand(s *indicators.Series, i int, price float64) bool {
	if !indicators.Defined(s.ATR[i]) || price <= 0 {
		return false
	}
	pct := s.ATR[i] / price
	return pct >= 0.005 && pct <= 0.04
}
