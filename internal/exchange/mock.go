package exchange

import (
	"context"
	"fmt"
	"sync"

	"github.com/signalhound/signalhound/internal/market"
)

// MockClient is an in-memory MarketData implementation for tests and for
// running the scanner without network access.
type MockClient struct {
	mu       sync.RWMutex
	pairs    map[market.Kind][]SymbolInfo
	volumes  map[market.Kind]map[string]float64
	klines   map[string][]market.Candle
	tickers  map[string]float64
	failures map[string]error
}

// NewMockClient creates an empty mock market-data source.
func NewMockClient() *MockClient {
	return &MockClient{
		pairs:    make(map[market.Kind][]SymbolInfo),
		volumes:  make(map[market.Kind]map[string]float64),
		klines:   make(map[string][]market.Candle),
		tickers:  make(map[string]float64),
		failures: make(map[string]error),
	}
}

func mockKey(kind market.Kind, symbol string, tf market.Timeframe) string {
	return fmt.Sprintf("%s:%s:%s", kind, symbol, tf)
}

// SetPairs seeds the symbol universe for a market.
func (m *MockClient) SetPairs(kind market.Kind, pairs []SymbolInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pairs[kind] = pairs
}

// SetVolumes seeds 24h quote volumes for a market.
func (m *MockClient) SetVolumes(kind market.Kind, volumes map[string]float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.volumes[kind] = volumes
}

// SetKlines seeds a candle window.
func (m *MockClient) SetKlines(kind market.Kind, symbol string, tf market.Timeframe, candles []market.Candle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.klines[mockKey(kind, symbol, tf)] = candles
}

// SetTicker seeds the last price for a symbol.
func (m *MockClient) SetTicker(symbol string, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tickers[symbol] = price
}

// FailSymbol makes every kline fetch for symbol return err.
func (m *MockClient) FailSymbol(symbol string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[symbol] = err
}

func (m *MockClient) ListUSDTPairs(_ context.Context, kind market.Kind) ([]SymbolInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]SymbolInfo(nil), m.pairs[kind]...), nil
}

func (m *MockClient) Get24hVolumes(_ context.Context, kind market.Kind) (map[string]float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]float64, len(m.volumes[kind]))
	for k, v := range m.volumes[kind] {
		out[k] = v
	}
	return out, nil
}

func (m *MockClient) GetKlines(_ context.Context, kind market.Kind, symbol string, tf market.Timeframe, limit int) ([]market.Candle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err, ok := m.failures[symbol]; ok {
		return nil, err
	}
	candles, ok := m.klines[mockKey(kind, symbol, tf)]
	if !ok {
		return nil, &PermanentError{Op: "klines", Err: fmt.Errorf("unknown symbol %s", symbol)}
	}
	if limit > 0 && len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	return append([]market.Candle(nil), candles...), nil
}

func (m *MockClient) BatchGetKlines(ctx context.Context, kind market.Kind, symbols []string, tf market.Timeframe, limit int) (map[string][]market.Candle, error) {
	result := make(map[string][]market.Candle, len(symbols))
	for _, symbol := range symbols {
		candles, err := m.GetKlines(ctx, kind, symbol, tf, limit)
		if err != nil {
			continue
		}
		result[symbol] = candles
	}
	return result, nil
}

func (m *MockClient) GetTicker(_ context.Context, _ market.Kind, symbol string) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	price, ok := m.tickers[symbol]
	if !ok {
		return 0, &PermanentError{Op: "ticker", Err: fmt.Errorf("unknown symbol %s", symbol)}
	}
	return price, nil
}

func (m *MockClient) GetBatchTickers(ctx context.Context, kind market.Kind, symbols []string) (map[string]float64, error) {
	result := make(map[string]float64, len(symbols))
	for _, symbol := range symbols {
		price, err := m.GetTicker(ctx, kind, symbol)
		if err != nil {
			continue
		}
		result[symbol] = price
	}
	return result, nil
}
