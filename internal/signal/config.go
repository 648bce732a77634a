package signal

import "fmt"

// Config is the parameter block of the detection engine. A Config is
// validated at construction and never mutated afterwards; backtests clone
// it with sweep overrides.
type Config struct {
	MinConfidence float64 `json:"min_confidence"`

	LongRSIMin  float64 `json:"long_rsi_min"`
	LongRSIMax  float64 `json:"long_rsi_max"`
	ShortRSIMin float64 `json:"short_rsi_min"`
	ShortRSIMax float64 `json:"short_rsi_max"`

	LongADXMin  float64 `json:"long_adx_min"`
	ShortADXMin float64 `json:"short_adx_min"`

	LongVolumeMultiplier  float64 `json:"long_volume_multiplier"`
	ShortVolumeMultiplier float64 `json:"short_volume_multiplier"`

	SLATRMultiplier float64 `json:"sl_atr_multiplier"`
	TPATRMultiplier float64 `json:"tp_atr_multiplier"`

	FuturesLeverage int `json:"futures_leverage"`

	// ExpiryFactor bounds a signal's life to this many timeframe periods.
	ExpiryFactor int `json:"expiry_factor"`

	// UseVolatilityAware scales the SL/TP multipliers with the ATR/price
	// ratio. Always disabled in backtests so sweep results stay comparable.
	UseVolatilityAware bool `json:"use_volatility_aware"`
}

// DefaultConfig returns the canonical engine parameters.
func DefaultConfig() Config {
	return Config{
		MinConfidence:         0.70,
		LongRSIMin:            25,
		LongRSIMax:            35,
		ShortRSIMin:           65,
		ShortRSIMax:           75,
		LongADXMin:            20,
		ShortADXMin:           20,
		LongVolumeMultiplier:  1.5,
		ShortVolumeMultiplier: 1.5,
		SLATRMultiplier:       1.5,
		TPATRMultiplier:       5.25,
		FuturesLeverage:       10,
		ExpiryFactor:          10,
	}
}

// Validate checks the engine parameter invariants.
func (c Config) Validate() error {
	if c.MinConfidence <= 0 || c.MinConfidence > 1 {
		return fmt.Errorf("min_confidence must be in (0, 1], got %v", c.MinConfidence)
	}
	if c.LongRSIMin >= c.LongRSIMax {
		return fmt.Errorf("long RSI range invalid: [%v, %v]", c.LongRSIMin, c.LongRSIMax)
	}
	if c.ShortRSIMin >= c.ShortRSIMax {
		return fmt.Errorf("short RSI range invalid: [%v, %v]", c.ShortRSIMin, c.ShortRSIMax)
	}
	if c.LongRSIMin < 0 || c.LongRSIMax > 100 || c.ShortRSIMin < 0 || c.ShortRSIMax > 100 {
		return fmt.Errorf("RSI bounds must stay within [0, 100]")
	}
	if c.SLATRMultiplier <= 0 {
		return fmt.Errorf("sl_atr_multiplier must be positive, got %v", c.SLATRMultiplier)
	}
	if c.TPATRMultiplier <= 0 {
		return fmt.Errorf("tp_atr_multiplier must be positive, got %v", c.TPATRMultiplier)
	}
	if c.LongVolumeMultiplier <= 0 || c.ShortVolumeMultiplier <= 0 {
		return fmt.Errorf("volume multipliers must be positive")
	}
	if c.FuturesLeverage < 1 {
		return fmt.Errorf("futures_leverage must be at least 1, got %d", c.FuturesLeverage)
	}
	if c.ExpiryFactor < 1 {
		return fmt.Errorf("expiry_factor must be at least 1, got %d", c.ExpiryFactor)
	}
	return nil
}
