package indicators

import (
	"github.com/cinar/indicator/v2/momentum"
	"github.com/cinar/indicator/v2/trend"
	"github.com/cinar/indicator/v2/volatility"
)

// computeRSI calculates the Relative Strength Index with Wilder's smoothing.
func computeRSI(closes []float64, period int) []float64 {
	if len(closes) <= period {
		return nanSlice(len(closes))
	}

	rsi := momentum.NewRsiWithPeriod[float64](period)
	values := drain(closes, func(in <-chan float64) <-chan float64 {
		return rsi.Compute(in)
	})

	return padLeft(values, len(closes))
}

// computeEMA calculates the Exponential Moving Average.
func computeEMA(closes []float64, period int) []float64 {
	if len(closes) < period {
		return nanSlice(len(closes))
	}

	ema := trend.NewEmaWithPeriod[float64](period)
	values := drain(closes, func(in <-chan float64) <-chan float64 {
		return ema.Compute(in)
	})

	return padLeft(values, len(closes))
}

// computeMACD calculates MACD line, signal line and histogram.
func computeMACD(closes []float64, fast, slow, signalPeriod int) (macdOut, signalOut, histOut []float64) {
	n := len(closes)
	if n < slow+signalPeriod {
		return nanSlice(n), nanSlice(n), nanSlice(n)
	}

	in := make(chan float64, n)
	for _, v := range closes {
		in <- v
	}
	close(in)

	macd := trend.NewMacdWithPeriod[float64](fast, slow, signalPeriod)
	macdChan, signalChan := macd.Compute(in)

	var macdValues, signalValues []float64
	for {
		m, mok := <-macdChan
		s, sok := <-signalChan
		if !mok || !sok {
			break
		}
		macdValues = append(macdValues, m)
		signalValues = append(signalValues, s)
	}

	macdOut = padLeft(macdValues, n)
	signalOut = padLeft(signalValues, n)
	histOut = make([]float64, n)
	for i := range histOut {
		histOut[i] = macdOut[i] - signalOut[i]
	}
	return macdOut, signalOut, histOut
}

// computeBollinger calculates Bollinger Bands (2 std dev) and the percent-B
// position of the close within the bands.
func computeBollinger(closes []float64, period int) (upper, middle, lower, percentB []float64) {
	n := len(closes)
	if n < period {
		return nanSlice(n), nanSlice(n), nanSlice(n), nanSlice(n)
	}

	in := make(chan float64, n)
	for _, v := range closes {
		in <- v
	}
	close(in)

	bb := volatility.NewBollingerBandsWithPeriod[float64](period)
	lowerChan, middleChan, upperChan := bb.Compute(in)

	var lowerValues, middleValues, upperValues []float64
	for {
		l, lok := <-lowerChan
		m, mok := <-middleChan
		u, uok := <-upperChan
		if !lok || !mok || !uok {
			break
		}
		lowerValues = append(lowerValues, l)
		middleValues = append(middleValues, m)
		upperValues = append(upperValues, u)
	}

	upper = padLeft(upperValues, n)
	middle = padLeft(middleValues, n)
	lower = padLeft(lowerValues, n)

	percentB = make([]float64, n)
	for i := range percentB {
		width := upper[i] - lower[i]
		if !Defined(upper[i]) || width == 0 {
			percentB[i] = 0.5
			if !Defined(upper[i]) {
				percentB[i] = upper[i] // propagate NaN
			}
			continue
		}
		percentB[i] = (closes[i] - lower[i]) / width
	}
	return upper, middle, lower, percentB
}
