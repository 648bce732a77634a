package market

import (
	"sync"
)

// CandleCache holds the candle windows fetched for one scan tick.
// The track's tick goroutine is the only writer; symbol workers read
// concurrently for the duration of the tick.
type CandleCache struct {
	mu      sync.RWMutex
	windows map[string][]Candle
}

// NewCandleCache creates an empty candle cache.
func NewCandleCache() *CandleCache {
	return &CandleCache{
		windows: make(map[string][]Candle),
	}
}

// Put stores the candle window for a symbol, replacing any previous window.
func (c *CandleCache) Put(symbol string, candles []Candle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.windows[symbol] = candles
}

// Get returns the cached window for a symbol.
func (c *CandleCache) Get(symbol string) ([]Candle, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	candles, ok := c.windows[symbol]
	return candles, ok
}

// Latest returns the most recent candle for a symbol.
func (c *CandleCache) Latest(symbol string) (Candle, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	candles, ok := c.windows[symbol]
	if !ok || len(candles) == 0 {
		return Candle{}, false
	}
	return candles[len(candles)-1], true
}

// Symbols returns all symbols with a cached window.
func (c *CandleCache) Symbols() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	symbols := make([]string, 0, len(c.windows))
	for s := range c.windows {
		symbols = append(symbols, s)
	}
	return symbols
}

// Reset drops all cached windows.
func (c *CandleCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.windows = make(map[string][]Candle)
}
