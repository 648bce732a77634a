package indicators

import "math"

// trueRange returns the per-candle true range series. Index 0 uses the
// plain high-low range since there is no prior close.
func trueRange(highs, lows, closes []float64) []float64 {
	n := len(closes)
	tr := make([]float64, n)
	tr[0] = highs[0] - lows[0]
	for i := 1; i < n; i++ {
		tr[i] = math.Max(highs[i]-lows[i],
			math.Max(math.Abs(highs[i]-closes[i-1]),
				math.Abs(lows[i]-closes[i-1])))
	}
	return tr
}

// wilderSmooth applies Wilder's smoothing: the first defined value at index
// period-1 is the simple average of the first period samples, later values
// blend in each new sample at weight 1/period. Leading rows are NaN.
func wilderSmooth(data []float64, period int) []float64 {
	n := len(data)
	out := nanSlice(n)
	if n < period {
		return out
	}

	sum := 0.0
	for i := 0; i < period; i++ {
		sum += data[i]
	}
	out[period-1] = sum / float64(period)

	for i := period; i < n; i++ {
		out[i] = (out[i-1]*float64(period-1) + data[i]) / float64(period)
	}
	return out
}

// computeATR calculates the Average True Range with Wilder's smoothing.
func computeATR(highs, lows, closes []float64, period int) []float64 {
	return wilderSmooth(trueRange(highs, lows, closes), period)
}

// computeADX calculates ADX, +DI and -DI using Wilder's DMI. ADX needs a
// second smoothing pass, so it is undefined until index 2*period-2.
func computeADX(highs, lows, closes []float64, period int) (adx, plusDI, minusDI []float64) {
	n := len(closes)
	adx = nanSlice(n)
	plusDI = nanSlice(n)
	minusDI = nanSlice(n)
	if n < 2*period {
		return adx, plusDI, minusDI
	}

	tr := trueRange(highs, lows, closes)
	plusDM := make([]float64, n)
	minusDM := make([]float64, n)
	for i := 1; i < n; i++ {
		upMove := highs[i] - highs[i-1]
		downMove := lows[i-1] - lows[i]
		if upMove > downMove && upMove > 0 {
			plusDM[i] = upMove
		}
		if downMove > upMove && downMove > 0 {
			minusDM[i] = downMove
		}
	}

	smoothTR := wilderSmooth(tr, period)
	smoothPlusDM := wilderSmooth(plusDM, period)
	smoothMinusDM := wilderSmooth(minusDM, period)

	dx := make([]float64, n)
	for i := period - 1; i < n; i++ {
		if smoothTR[i] != 0 {
			plusDI[i] = 100 * smoothPlusDM[i] / smoothTR[i]
			minusDI[i] = 100 * smoothMinusDM[i] / smoothTR[i]

			diSum := plusDI[i] + minusDI[i]
			if diSum != 0 {
				dx[i] = 100 * math.Abs(plusDI[i]-minusDI[i]) / diSum
			}
		} else {
			plusDI[i] = 0
			minusDI[i] = 0
		}
	}

	// Second Wilder pass over DX, offset past the first smoothing window.
	smoothed := wilderSmooth(dx[period-1:], period)
	for i, v := range smoothed {
		adx[period-1+i] = v
	}
	return adx, plusDI, minusDI
}

// computeStochastic calculates the slow stochastic oscillator %K and %D.
func computeStochastic(highs, lows, closes []float64, period, smoothK, smoothD int) (k, d []float64) {
	n := len(closes)
	rawK := nanSlice(n)
	for i := period - 1; i < n; i++ {
		hh := highs[i]
		ll := lows[i]
		for j := i - period + 1; j <= i; j++ {
			if highs[j] > hh {
				hh = highs[j]
			}
			if lows[j] < ll {
				ll = lows[j]
			}
		}
		if hh == ll {
			rawK[i] = 50
			continue
		}
		rawK[i] = 100 * (closes[i] - ll) / (hh - ll)
	}

	k = smaNaN(rawK, smoothK)
	d = smaNaN(k, smoothD)
	return k, d
}

// smaNaN computes a simple moving average over a series with a NaN prefix;
// the output stays NaN until period defined samples are available.
func smaNaN(data []float64, period int) []float64 {
	n := len(data)
	out := nanSlice(n)
	for i := period - 1; i < n; i++ {
		sum := 0.0
		ok := true
		for j := i - period + 1; j <= i; j++ {
			if math.IsNaN(data[j]) {
				ok = false
				break
			}
			sum += data[j]
		}
		if ok {
			out[i] = sum / float64(period)
		}
	}
	return out
}
