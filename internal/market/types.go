package market

import (
	"fmt"
	"time"
)

// Kind identifies which Binance market a symbol trades on.
type Kind string

const (
	Spot    Kind = "SPOT"
	Futures Kind = "FUTURES"
)

// Direction is the trade side of a signal.
type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
)

// Sign returns +1 for LONG and -1 for SHORT.
func (d Direction) Sign() float64 {
	if d == Short {
		return -1
	}
	return 1
}

// Opposite returns the inverse direction.
func (d Direction) Opposite() Direction {
	if d == Long {
		return Short
	}
	return Long
}

// Timeframe is a candle period.
type Timeframe string

const (
	TF1m  Timeframe = "1m"
	TF5m  Timeframe = "5m"
	TF15m Timeframe = "15m"
	TF30m Timeframe = "30m"
	TF1h  Timeframe = "1h"
	TF4h  Timeframe = "4h"
	TF1d  Timeframe = "1d"
	TF1w  Timeframe = "1w"
)

var timeframeDurations = map[Timeframe]time.Duration{
	TF1m:  time.Minute,
	TF5m:  5 * time.Minute,
	TF15m: 15 * time.Minute,
	TF30m: 30 * time.Minute,
	TF1h:  time.Hour,
	TF4h:  4 * time.Hour,
	TF1d:  24 * time.Hour,
	TF1w:  7 * 24 * time.Hour,
}

// Priority order for cross-timeframe signal replacement: higher timeframes win.
var timeframePriorities = map[Timeframe]int{
	TF1m:  0,
	TF5m:  1,
	TF15m: 2,
	TF30m: 3,
	TF1h:  4,
	TF4h:  5,
	TF1d:  6,
	TF1w:  7,
}

// Dedup lookup windows, roughly 90% of one candle period.
var dedupWindows = map[Timeframe]time.Duration{
	TF5m:  4 * time.Minute,
	TF15m: 13 * time.Minute,
	TF1h:  55 * time.Minute,
	TF4h:  230 * time.Minute,
	TF1d:  23 * time.Hour,
}

// ParseTimeframe validates a timeframe string.
func ParseTimeframe(s string) (Timeframe, error) {
	tf := Timeframe(s)
	if _, ok := timeframeDurations[tf]; !ok {
		return "", fmt.Errorf("unknown timeframe: %q", s)
	}
	return tf, nil
}

// Duration returns the candle period length.
func (tf Timeframe) Duration() time.Duration {
	return timeframeDurations[tf]
}

// Priority returns the cross-timeframe rank. Higher values supersede lower ones.
func (tf Timeframe) Priority() int {
	return timeframePriorities[tf]
}

// DedupWindow returns how far back to look for duplicate signals on this timeframe.
func (tf Timeframe) DedupWindow() time.Duration {
	if w, ok := dedupWindows[tf]; ok {
		return w
	}
	return tf.Duration() * 9 / 10
}

// Valid reports whether the timeframe is one of the supported periods.
func (tf Timeframe) Valid() bool {
	_, ok := timeframeDurations[tf]
	return ok
}

// Candle is one OHLCV bar for a (symbol, timeframe, open time).
type Candle struct {
	OpenTime  time.Time `json:"open_time"`
	CloseTime time.Time `json:"close_time"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// Validate checks the OHLC ordering invariant.
func (c Candle) Validate() error {
	if c.Low < 0 {
		return fmt.Errorf("negative low %.8f", c.Low)
	}
	if c.High < c.Open || c.High < c.Close {
		return fmt.Errorf("high %.8f below open/close", c.High)
	}
	if c.Low > c.Open || c.Low > c.Close {
		return fmt.Errorf("low %.8f above open/close", c.Low)
	}
	return nil
}

// ValidateSeries checks per-candle invariants and open-time monotonicity.
func ValidateSeries(candles []Candle) error {
	for i, c := range candles {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("candle %d: %w", i, err)
		}
		if i > 0 && !candles[i-1].OpenTime.Before(c.OpenTime) {
			return fmt.Errorf("candle %d: open time %s not after previous %s",
				i, c.OpenTime, candles[i-1].OpenTime)
		}
	}
	return nil
}
