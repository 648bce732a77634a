package signal

import (
	"github.com/signalhound/signalhound/internal/db"
	"github.com/signalhound/signalhound/internal/market"
)

// classify maps a timeframe to a trading style and base holding duration,
// then scales the duration by confidence: high-conviction setups are
// expected to resolve faster.
func classify(tf market.Timeframe, confidence float64) (db.TradingType, float64) {
	var tradingType db.TradingType
	var baseHours float64

	switch tf {
	case market.TF1m, market.TF5m:
		tradingType = db.TradingScalping
		baseHours = 0.5
	case market.TF15m, market.TF30m, market.TF1h:
		tradingType = db.TradingDay
		baseHours = 6
	case market.TF4h:
		tradingType = db.TradingSwing
		baseHours = 24
	default: // 1d, 1w
		tradingType = db.TradingSwing
		baseHours = 120
	}

	switch {
	case confidence >= 0.85:
		baseHours *= 0.7
	case confidence >= 0.75:
		// unchanged
	default:
		baseHours *= 1.3
	}

	return tradingType, baseHours
}
