package exchange

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// Request weights follow the Binance published table: heavier endpoints
// consume proportionally more of the 60-second budget.
const (
	weightExchangeInfo = 10
	weightTicker24h    = 40
	weightTickerPrice  = 2
)

// RateLimiter is the process-wide token bucket for one market. Every
// exchange-facing operation acquires tokens before issuing the request;
// callers block in FIFO order rather than failing.
type RateLimiter struct {
	limiter *rate.Limiter
	budget  int
}

// NewRateLimiter creates a limiter capped at budget requests per 60 seconds.
func NewRateLimiter(budget int) *RateLimiter {
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(float64(budget)/60.0), budget),
		budget:  budget,
	}
}

// Acquire blocks until n weight tokens are available or the context ends.
func (r *RateLimiter) Acquire(ctx context.Context, n int) error {
	if n > r.budget {
		return fmt.Errorf("request weight %d exceeds budget %d", n, r.budget)
	}
	if err := r.limiter.WaitN(ctx, n); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return nil
}

// Budget returns the configured requests-per-minute cap.
func (r *RateLimiter) Budget() int {
	return r.budget
}

// Tokens returns the currently available token count.
func (r *RateLimiter) Tokens() float64 {
	return r.limiter.Tokens()
}

// klineWeight returns the token cost of a klines request for the given limit.
func klineWeight(limit int) int {
	switch {
	case limit <= 100:
		return 1
	case limit <= 500:
		return 2
	case limit <= 1000:
		return 5
	default:
		return 10
	}
}

// backoffHint is implemented by errors carrying a server Retry-After hint.
type backoffHint interface {
	RetryAfter() time.Duration
}
