package exchange

import (
	"context"
	"errors"
	"fmt"

	"github.com/signalhound/signalhound/internal/market"
)

// SymbolInfo describes one tradable instrument from exchangeInfo.
type SymbolInfo struct {
	Name       string
	BaseAsset  string
	QuoteAsset string
	Market     market.Kind
	Active     bool
}

// MarketData is the read-only surface the scanner, paper trader and
// backtest loader consume. BinanceClient is the production implementation.
type MarketData interface {
	ListUSDTPairs(ctx context.Context, kind market.Kind) ([]SymbolInfo, error)
	Get24hVolumes(ctx context.Context, kind market.Kind) (map[string]float64, error)
	GetKlines(ctx context.Context, kind market.Kind, symbol string, tf market.Timeframe, limit int) ([]market.Candle, error)
	BatchGetKlines(ctx context.Context, kind market.Kind, symbols []string, tf market.Timeframe, limit int) (map[string][]market.Candle, error)
	GetTicker(ctx context.Context, kind market.Kind, symbol string) (float64, error)
	GetBatchTickers(ctx context.Context, kind market.Kind, symbols []string) (map[string]float64, error)
}

// TransientError marks a failure worth retrying: timeouts, 5xx, 429.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient exchange error in %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a failure that must not be retried: invalid symbol,
// 4xx other than 429.
type PermanentError struct {
	Op  string
	Err error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent exchange error in %s: %v", e.Op, e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsPermanent reports whether err is a classified permanent failure.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
