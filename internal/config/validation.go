package config

import (
	"fmt"
	"strings"

	"github.com/signalhound/signalhound/internal/market"
)

// ValidationError describes a rejected configuration field. Configuration
// errors are fatal at startup.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// Validate checks the whole bundle and returns the first violation.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return &ValidationError{Field: "database.url", Message: "is required"}
	}
	if c.Database.PoolSize < 1 {
		return &ValidationError{Field: "database.pool_size", Message: "must be at least 1"}
	}

	if c.Exchange.SpotBudget < 1 || c.Exchange.FuturesBudget < 1 {
		return &ValidationError{Field: "exchange", Message: "rate budgets must be positive"}
	}
	if c.Exchange.RequestTimeoutMS < 1 {
		return &ValidationError{Field: "exchange.request_timeout_ms", Message: "must be positive"}
	}
	if c.Exchange.BatchSize < 1 {
		return &ValidationError{Field: "exchange.batch_size", Message: "must be at least 1"}
	}

	if err := c.Engine.Validate(); err != nil {
		return err
	}

	if c.Scanner.Parallelism < 1 {
		return &ValidationError{Field: "scanner.parallelism", Message: "must be at least 1"}
	}
	for name, track := range c.Scanner.Tracks {
		if !track.Enabled {
			continue
		}
		kind := market.Kind(strings.ToUpper(track.Market))
		if kind != market.Spot && kind != market.Futures {
			return &ValidationError{
				Field:   fmt.Sprintf("scanner.tracks.%s.market", name),
				Message: fmt.Sprintf("unknown market %q", track.Market),
			}
		}
		if _, err := market.ParseTimeframe(track.Timeframe); err != nil {
			return &ValidationError{
				Field:   fmt.Sprintf("scanner.tracks.%s.timeframe", name),
				Message: err.Error(),
			}
		}
		if track.Schedule == "" {
			return &ValidationError{
				Field:   fmt.Sprintf("scanner.tracks.%s.schedule", name),
				Message: "is required",
			}
		}
		if track.CandleLimit < 50 {
			return &ValidationError{
				Field:   fmt.Sprintf("scanner.tracks.%s.candle_limit", name),
				Message: "must be at least 50",
			}
		}
	}

	if c.Paper.MarkToMarketSec < 1 {
		return &ValidationError{Field: "paper.mark_to_market_sec", Message: "must be positive"}
	}
	if c.Paper.SignalExpiryFactor < 1 {
		return &ValidationError{Field: "paper.signal_expiry_factor", Message: "must be positive"}
	}
	for i, acct := range c.Paper.Accounts {
		if acct.Name == "" {
			return &ValidationError{
				Field:   fmt.Sprintf("paper.accounts[%d].name", i),
				Message: "is required",
			}
		}
		if acct.InitialBalance <= 0 {
			return &ValidationError{
				Field:   fmt.Sprintf("paper.accounts[%d].initial_balance", i),
				Message: "must be positive",
			}
		}
		switch strings.ToUpper(acct.SizingMode) {
		case "FIXED", "PERCENT", "KELLY":
		default:
			return &ValidationError{
				Field:   fmt.Sprintf("paper.accounts[%d].sizing_mode", i),
				Message: fmt.Sprintf("unknown sizing mode %q", acct.SizingMode),
			}
		}
		if acct.MinConfidence < 0 || acct.MinConfidence > 1 {
			return &ValidationError{
				Field:   fmt.Sprintf("paper.accounts[%d].min_confidence", i),
				Message: "must be within [0, 1]",
			}
		}
	}

	if c.Fanout.BufferSize < 1 {
		return &ValidationError{Field: "fanout.buffer_size", Message: "must be positive"}
	}
	if c.Fanout.HeartbeatSec < 1 {
		return &ValidationError{Field: "fanout.heartbeat_sec", Message: "must be positive"}
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		return &ValidationError{Field: "api.port", Message: "must be a valid port"}
	}

	return nil
}

// Validate checks the signal-engine parameter block.
func (c *EngineConfig) Validate() error {
	if c.MinConfidence <= 0 || c.MinConfidence > 1 {
		return &ValidationError{Field: "engine.min_confidence", Message: "must be within (0, 1]"}
	}
	if c.LongRSIMin < 0 || c.LongRSIMax > 100 || c.LongRSIMin >= c.LongRSIMax {
		return &ValidationError{Field: "engine.long_rsi", Message: "min must be below max within [0, 100]"}
	}
	if c.ShortRSIMin < 0 || c.ShortRSIMax > 100 || c.ShortRSIMin >= c.ShortRSIMax {
		return &ValidationError{Field: "engine.short_rsi", Message: "min must be below max within [0, 100]"}
	}
	if c.LongADXMin < 0 || c.ShortADXMin < 0 {
		return &ValidationError{Field: "engine.adx_min", Message: "must not be negative"}
	}
	if c.SLATRMultiplier <= 0 {
		return &ValidationError{Field: "engine.sl_atr_multiplier", Message: "must be positive"}
	}
	if c.TPATRMultiplier <= 0 {
		return &ValidationError{Field: "engine.tp_atr_multiplier", Message: "must be positive"}
	}
	if c.FuturesLeverage < 1 {
		return &ValidationError{Field: "engine.futures_leverage", Message: "must be at least 1"}
	}
	return nil
}
