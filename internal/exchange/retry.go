package exchange

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/rs/zerolog/log"
)

// RetryConfig configures retry behavior for exchange requests.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
}

// DefaultRetryConfig returns the default retry configuration: up to 3
// attempts with exponential backoff.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		BackoffFactor:  2.0,
	}
}

// Binance API error codes that indicate throttling or server trouble.
var transientAPICodes = map[int64]bool{
	-1003: true, // too many requests
	-1015: true, // too many orders / rate limit
	-1001: true, // internal error
	-1021: true, // timestamp outside recvWindow
}

// classify wraps err as TransientError or PermanentError for the operation.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		if transientAPICodes[apiErr.Code] {
			return &TransientError{Op: op, Err: err}
		}
		// 5xx surfaces as a positive code mirror or a generic server error.
		if apiErr.Code >= 500 && apiErr.Code < 600 {
			return &TransientError{Op: op, Err: err}
		}
		return &PermanentError{Op: op, Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return &TransientError{Op: op, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TransientError{Op: op, Err: err}
	}

	// Unclassified transport failures get one more chance.
	return &TransientError{Op: op, Err: err}
}

// withRetry runs op with exponential backoff for transient failures.
// Permanent errors abort immediately. A Retry-After hint on the error
// overrides the computed backoff.
func withRetry(ctx context.Context, cfg RetryConfig, opName string, op func() error) error {
	var lastErr error
	backoff := cfg.InitialBackoff

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := classify(opName, op())
		if err == nil {
			if attempt > 0 {
				log.Debug().
					Str("op", opName).
					Int("attempt", attempt+1).
					Msg("Exchange request succeeded after retry")
			}
			return nil
		}

		lastErr = err

		if IsPermanent(err) {
			return err
		}
		if attempt == cfg.MaxRetries {
			break
		}

		wait := backoff
		var hint backoffHint
		if errors.As(err, &hint) && hint.RetryAfter() > wait {
			wait = hint.RetryAfter()
		}

		log.Warn().
			Err(err).
			Str("op", opName).
			Int("attempt", attempt+1).
			Int("max_attempts", cfg.MaxRetries+1).
			Dur("backoff", wait).
			Msg("Exchange request failed, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}

		backoff = time.Duration(float64(backoff) * cfg.BackoffFactor)
		if backoff > cfg.MaxBackoff {
			backoff = cfg.MaxBackoff
		}
	}

	return lastErr
}
