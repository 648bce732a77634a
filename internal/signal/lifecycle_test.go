package signal

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/signalhound/signalhound/internal/db"
	"github.com/signalhound/signalhound/internal/market"
)

func lifecycleSignal(dir market.Direction) *db.Signal {
	sig := &db.Signal{
		Direction: dir,
		Timeframe: market.TF1h,
		Status:    db.SignalActive,
		CreatedAt: time.Now().Add(-time.Hour),
	}
	if dir == market.Long {
		sig.Entry = decimal.NewFromInt(100)
		sig.StopLoss = decimal.NewFromInt(95)
		sig.TakeProfit = decimal.NewFromInt(110)
	} else {
		sig.Entry = decimal.NewFromInt(100)
		sig.StopLoss = decimal.NewFromInt(105)
		sig.TakeProfit = decimal.NewFromInt(90)
	}
	return sig
}

func TestEvaluateLifecycleLongTP(t *testing.T) {
	sig := lifecycleSignal(market.Long)
	candle := market.Candle{Open: 105, High: 111, Low: 104, Close: 110}
	assert.Equal(t, db.SignalHitTP, EvaluateLifecycle(sig, candle, 10, time.Now()))
}

func TestEvaluateLifecycleLongSL(t *testing.T) {
	sig := lifecycleSignal(market.Long)
	candle := market.Candle{Open: 97, High: 98, Low: 94, Close: 95}
	assert.Equal(t, db.SignalHitSL, EvaluateLifecycle(sig, candle, 10, time.Now()))
}

func TestEvaluateLifecycleAdverseFill(t *testing.T) {
	// Both extremes touched in one candle: the stop wins.
	sig := lifecycleSignal(market.Long)
	candle := market.Candle{Open: 100, High: 112, Low: 94, Close: 100}
	assert.Equal(t, db.SignalHitSL, EvaluateLifecycle(sig, candle, 10, time.Now()))

	short := lifecycleSignal(market.Short)
	assert.Equal(t, db.SignalHitSL, EvaluateLifecycle(short, candle, 10, time.Now()))
}

func TestEvaluateLifecycleShortTP(t *testing.T) {
	sig := lifecycleSignal(market.Short)
	candle := market.Candle{Open: 92, High: 93, Low: 89, Close: 90}
	assert.Equal(t, db.SignalHitTP, EvaluateLifecycle(sig, candle, 10, time.Now()))
}

func TestEvaluateLifecycleExpiry(t *testing.T) {
	sig := lifecycleSignal(market.Long)
	sig.CreatedAt = time.Now().Add(-11 * time.Hour) // past 10 x 1h

	candle := market.Candle{Open: 100, High: 101, Low: 99, Close: 100}
	assert.Equal(t, db.SignalExpired, EvaluateLifecycle(sig, candle, 10, time.Now()))
}

func TestEvaluateLifecycleStillActive(t *testing.T) {
	sig := lifecycleSignal(market.Long)
	candle := market.Candle{Open: 100, High: 102, Low: 98, Close: 101}
	assert.Equal(t, db.SignalActive, EvaluateLifecycle(sig, candle, 10, time.Now()))
}

func TestEvaluateLifecycleTerminalUnchanged(t *testing.T) {
	sig := lifecycleSignal(market.Long)
	sig.Status = db.SignalHitTP
	candle := market.Candle{Open: 90, High: 91, Low: 89, Close: 90}
	assert.Equal(t, db.SignalHitTP, EvaluateLifecycle(sig, candle, 10, time.Now()))
}
