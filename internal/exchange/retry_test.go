package exchange

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry(maxRetries int) RetryConfig {
	return RetryConfig{
		MaxRetries:     maxRetries,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		BackoffFactor:  2.0,
	}
}

func TestClassify(t *testing.T) {
	assert.NoError(t, classify("op", nil))

	throttled := classify("op", &common.APIError{Code: -1003, Message: "too many requests"})
	assert.True(t, IsTransient(throttled))
	assert.False(t, IsPermanent(throttled))

	badSymbol := classify("op", &common.APIError{Code: -1121, Message: "invalid symbol"})
	assert.True(t, IsPermanent(badSymbol))

	serverSide := classify("op", &common.APIError{Code: 503, Message: "service unavailable"})
	assert.True(t, IsTransient(serverSide))

	timeout := classify("op", context.DeadlineExceeded)
	assert.True(t, IsTransient(timeout))

	unknown := classify("op", errors.New("connection reset"))
	assert.True(t, IsTransient(unknown))
}

func TestWithRetryRecoversFromTransient(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), fastRetry(3), "klines", func() error {
		calls++
		if calls < 3 {
			return &common.APIError{Code: -1003, Message: "throttled"}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithRetryStopsOnPermanent(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), fastRetry(3), "klines", func() error {
		calls++
		return &common.APIError{Code: -1121, Message: "invalid symbol"}
	})
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
	assert.Equal(t, 1, calls)
}

func TestWithRetryExhaustsBudget(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), fastRetry(2), "klines", func() error {
		calls++
		return &common.APIError{Code: -1003, Message: "throttled"}
	})
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.Equal(t, 3, calls)
}

func TestWithRetryHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := withRetry(ctx, fastRetry(3), "klines", func() error {
		return &common.APIError{Code: -1003}
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRateLimiterAcquire(t *testing.T) {
	rl := NewRateLimiter(1200)
	assert.Equal(t, 1200, rl.Budget())

	require.NoError(t, rl.Acquire(context.Background(), 40))

	err := rl.Acquire(context.Background(), 1201)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds budget")
}

func TestRateLimiterBlocksWhenDrained(t *testing.T) {
	rl := NewRateLimiter(60)
	require.NoError(t, rl.Acquire(context.Background(), 60))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := rl.Acquire(ctx, 30)
	assert.Error(t, err)
}

func TestKlineWeight(t *testing.T) {
	assert.Equal(t, 1, klineWeight(100))
	assert.Equal(t, 2, klineWeight(200))
	assert.Equal(t, 5, klineWeight(1000))
	assert.Equal(t, 10, klineWeight(1500))
}
