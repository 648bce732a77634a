package signal

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/signalhound/signalhound/internal/db"
	"github.com/signalhound/signalhound/internal/market"
)

// EvaluateLifecycle decides the next status of an ACTIVE signal given the
// latest closed candle. TP and SL checks use the candle's extremes; if both
// were touched inside one candle the stop wins, matching the adverse fill
// rule of the backtester. Returns SignalActive when nothing changes.
func EvaluateLifecycle(sig *db.Signal, latest market.Candle, expiryFactor int, now time.Time) db.SignalStatus {
	if sig.Status != db.SignalActive {
		return sig.Status
	}

	high := decimal.NewFromFloat(latest.High)
	low := decimal.NewFromFloat(latest.Low)

	if sig.Direction == market.Long {
		if low.LessThanOrEqual(sig.StopLoss) {
			return db.SignalHitSL
		}
		if high.GreaterThanOrEqual(sig.TakeProfit) {
			return db.SignalHitTP
		}
	} else {
		if high.GreaterThanOrEqual(sig.StopLoss) {
			return db.SignalHitSL
		}
		if low.LessThanOrEqual(sig.TakeProfit) {
			return db.SignalHitTP
		}
	}

	expiry := sig.CreatedAt.Add(time.Duration(expiryFactor) * sig.Timeframe.Duration())
	if now.After(expiry) {
		return db.SignalExpired
	}

	return db.SignalActive
}
