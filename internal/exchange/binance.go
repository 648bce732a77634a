package exchange

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	binance "github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/rs/zerolog/log"

	"github.com/signalhound/signalhound/internal/market"
)

// BinanceConfig contains configuration for the market-data client.
type BinanceConfig struct {
	SpotBaseURL    string
	FuturesBaseURL string
	SpotBudget     int
	FuturesBudget  int
	RequestTimeout time.Duration
	BatchSize      int
	BatchDelay     time.Duration
	Retry          RetryConfig
}

// BinanceClient implements MarketData over the Binance spot and
// USDT-perpetual futures REST endpoints. No authentication is needed for
// the read endpoints used here.
//
// The client owns its HTTP connection pools; Close releases them and must
// be called on every exit path.
type BinanceClient struct {
	spot        *binance.Client
	fut         *futures.Client
	spotHTTP    *http.Client
	futHTTP     *http.Client
	spotLimiter *RateLimiter
	futLimiter  *RateLimiter
	cfg         BinanceConfig
	closeOnce   sync.Once
}

// NewBinanceClient creates a market-data client with one rate limiter per
// market. Base URLs are overridable for tests.
func NewBinanceClient(cfg BinanceConfig) *BinanceClient {
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.SpotBudget == 0 {
		cfg.SpotBudget = 1200
	}
	if cfg.FuturesBudget == 0 {
		cfg.FuturesBudget = 2400
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 10
	}
	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry = DefaultRetryConfig()
	}

	spotHTTP := &http.Client{Timeout: cfg.RequestTimeout}
	futHTTP := &http.Client{Timeout: cfg.RequestTimeout}

	spot := binance.NewClient("", "")
	spot.HTTPClient = spotHTTP
	if cfg.SpotBaseURL != "" {
		spot.BaseURL = cfg.SpotBaseURL
	}

	fut := futures.NewClient("", "")
	fut.HTTPClient = futHTTP
	if cfg.FuturesBaseURL != "" {
		fut.BaseURL = cfg.FuturesBaseURL
	}

	log.Info().
		Int("spot_budget", cfg.SpotBudget).
		Int("futures_budget", cfg.FuturesBudget).
		Dur("request_timeout", cfg.RequestTimeout).
		Msg("Binance market-data client initialized")

	return &BinanceClient{
		spot:        spot,
		fut:         fut,
		spotHTTP:    spotHTTP,
		futHTTP:     futHTTP,
		spotLimiter: NewRateLimiter(cfg.SpotBudget),
		futLimiter:  NewRateLimiter(cfg.FuturesBudget),
		cfg:         cfg,
	}
}

// Close releases the client's connection pools. Safe to call more than once.
func (c *BinanceClient) Close() {
	c.closeOnce.Do(func() {
		c.spotHTTP.CloseIdleConnections()
		c.futHTTP.CloseIdleConnections()
		log.Debug().Msg("Binance client connection pools released")
	})
}

func (c *BinanceClient) limiter(kind market.Kind) *RateLimiter {
	if kind == market.Futures {
		return c.futLimiter
	}
	return c.spotLimiter
}

// Limiter exposes the per-market token bucket, mostly for tests and stats.
func (c *BinanceClient) Limiter(kind market.Kind) *RateLimiter {
	return c.limiter(kind)
}

// ListUSDTPairs returns the active instruments whose quote asset is USDT.
// For futures this is restricted to perpetual contracts.
func (c *BinanceClient) ListUSDTPairs(ctx context.Context, kind market.Kind) ([]SymbolInfo, error) {
	if err := c.limiter(kind).Acquire(ctx, weightExchangeInfo); err != nil {
		return nil, err
	}

	var pairs []SymbolInfo
	err := withRetry(ctx, c.cfg.Retry, "exchangeInfo", func() error {
		reqCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()

		if kind == market.Futures {
			info, err := c.fut.NewExchangeInfoService().Do(reqCtx)
			if err != nil {
				return err
			}
			pairs = pairs[:0]
			for _, s := range info.Symbols {
				if s.QuoteAsset != "USDT" || s.ContractType != "PERPETUAL" {
					continue
				}
				pairs = append(pairs, SymbolInfo{
					Name:       s.Symbol,
					BaseAsset:  s.BaseAsset,
					QuoteAsset: s.QuoteAsset,
					Market:     market.Futures,
					Active:     s.Status == "TRADING",
				})
			}
			return nil
		}

		info, err := c.spot.NewExchangeInfoService().Do(reqCtx)
		if err != nil {
			return err
		}
		pairs = pairs[:0]
		for _, s := range info.Symbols {
			if s.QuoteAsset != "USDT" {
				continue
			}
			pairs = append(pairs, SymbolInfo{
				Name:       s.Symbol,
				BaseAsset:  s.BaseAsset,
				QuoteAsset: s.QuoteAsset,
				Market:     market.Spot,
				Active:     s.Status == "TRADING",
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Debug().
		Str("market", string(kind)).
		Int("pairs", len(pairs)).
		Msg("Listed USDT pairs")

	return pairs, nil
}

// Get24hVolumes returns 24-hour quote volume for every USDT symbol on the
// market. One heavy request covers the whole universe.
func (c *BinanceClient) Get24hVolumes(ctx context.Context, kind market.Kind) (map[string]float64, error) {
	if err := c.limiter(kind).Acquire(ctx, weightTicker24h); err != nil {
		return nil, err
	}

	volumes := make(map[string]float64)
	err := withRetry(ctx, c.cfg.Retry, "ticker24h", func() error {
		reqCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()

		if kind == market.Futures {
			stats, err := c.fut.NewListPriceChangeStatsService().Do(reqCtx)
			if err != nil {
				return err
			}
			for _, s := range stats {
				if !strings.HasSuffix(s.Symbol, "USDT") {
					continue
				}
				if v, perr := strconv.ParseFloat(s.QuoteVolume, 64); perr == nil {
					volumes[s.Symbol] = v
				}
			}
			return nil
		}

		stats, err := c.spot.NewListPriceChangeStatsService().Do(reqCtx)
		if err != nil {
			return err
		}
		for _, s := range stats {
			if !strings.HasSuffix(s.Symbol, "USDT") {
				continue
			}
			if v, perr := strconv.ParseFloat(s.QuoteVolume, 64); perr == nil {
				volumes[s.Symbol] = v
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return volumes, nil
}

// GetKlines fetches up to limit candles for (symbol, timeframe), oldest
// first, newest last.
func (c *BinanceClient) GetKlines(ctx context.Context, kind market.Kind, symbol string, tf market.Timeframe, limit int) ([]market.Candle, error) {
	if err := c.limiter(kind).Acquire(ctx, klineWeight(limit)); err != nil {
		return nil, err
	}

	var candles []market.Candle
	err := withRetry(ctx, c.cfg.Retry, "klines", func() error {
		reqCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()

		if kind == market.Futures {
			klines, err := c.fut.NewKlinesService().
				Symbol(symbol).
				Interval(string(tf)).
				Limit(limit).
				Do(reqCtx)
			if err != nil {
				return err
			}
			candles = make([]market.Candle, 0, len(klines))
			for _, k := range klines {
				candle, perr := parseKline(k.OpenTime, k.CloseTime, k.Open, k.High, k.Low, k.Close, k.Volume)
				if perr != nil {
					return perr
				}
				candles = append(candles, candle)
			}
			return nil
		}

		klines, err := c.spot.NewKlinesService().
			Symbol(symbol).
			Interval(string(tf)).
			Limit(limit).
			Do(reqCtx)
		if err != nil {
			return err
		}
		candles = make([]market.Candle, 0, len(klines))
		for _, k := range klines {
			candle, perr := parseKline(k.OpenTime, k.CloseTime, k.Open, k.High, k.Low, k.Close, k.Volume)
			if perr != nil {
				return perr
			}
			candles = append(candles, candle)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("klines %s %s %s: %w", kind, symbol, tf, err)
	}

	return candles, nil
}

// GetKlinesRange fetches up to limit candles opening in [start, end),
// oldest first. One request returns at most 1000 candles; callers page by
// advancing start past the last returned open time.
func (c *BinanceClient) GetKlinesRange(ctx context.Context, kind market.Kind, symbol string,
	tf market.Timeframe, start, end time.Time, limit int) ([]market.Candle, error) {

	if err := c.limiter(kind).Acquire(ctx, klineWeight(limit)); err != nil {
		return nil, err
	}

	// Binance treats endTime as inclusive.
	startMS := start.UnixMilli()
	endMS := end.UnixMilli() - 1

	var candles []market.Candle
	err := withRetry(ctx, c.cfg.Retry, "klines", func() error {
		reqCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()

		if kind == market.Futures {
			klines, err := c.fut.NewKlinesService().
				Symbol(symbol).
				Interval(string(tf)).
				StartTime(startMS).
				EndTime(endMS).
				Limit(limit).
				Do(reqCtx)
			if err != nil {
				return err
			}
			candles = make([]market.Candle, 0, len(klines))
			for _, k := range klines {
				candle, perr := parseKline(k.OpenTime, k.CloseTime, k.Open, k.High, k.Low, k.Close, k.Volume)
				if perr != nil {
					return perr
				}
				candles = append(candles, candle)
			}
			return nil
		}

		klines, err := c.spot.NewKlinesService().
			Symbol(symbol).
			Interval(string(tf)).
			StartTime(startMS).
			EndTime(endMS).
			Limit(limit).
			Do(reqCtx)
		if err != nil {
			return err
		}
		candles = make([]market.Candle, 0, len(klines))
		for _, k := range klines {
			candle, perr := parseKline(k.OpenTime, k.CloseTime, k.Open, k.High, k.Low, k.Close, k.Volume)
			if perr != nil {
				return perr
			}
			candles = append(candles, candle)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("klines %s %s %s: %w", kind, symbol, tf, err)
	}

	return candles, nil
}

// GetTicker returns the last trade price for a symbol.
func (c *BinanceClient) GetTicker(ctx context.Context, kind market.Kind, symbol string) (float64, error) {
	if err := c.limiter(kind).Acquire(ctx, 1); err != nil {
		return 0, err
	}

	var price float64
	err := withRetry(ctx, c.cfg.Retry, "ticker", func() error {
		reqCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()

		if kind == market.Futures {
			prices, err := c.fut.NewListPricesService().Symbol(symbol).Do(reqCtx)
			if err != nil {
				return err
			}
			if len(prices) == 0 {
				return fmt.Errorf("no price for %s", symbol)
			}
			p, perr := strconv.ParseFloat(prices[0].Price, 64)
			if perr != nil {
				return perr
			}
			price = p
			return nil
		}

		prices, err := c.spot.NewListPricesService().Symbol(symbol).Do(reqCtx)
		if err != nil {
			return err
		}
		if len(prices) == 0 {
			return fmt.Errorf("no price for %s", symbol)
		}
		p, perr := strconv.ParseFloat(prices[0].Price, 64)
		if perr != nil {
			return perr
		}
		price = p
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("ticker %s %s: %w", kind, symbol, err)
	}

	return price, nil
}

// GetBatchTickers returns last prices for a set of symbols with a single
// all-symbols request, filtered locally.
func (c *BinanceClient) GetBatchTickers(ctx context.Context, kind market.Kind, symbols []string) (map[string]float64, error) {
	if len(symbols) == 0 {
		return map[string]float64{}, nil
	}

	if err := c.limiter(kind).Acquire(ctx, weightTickerPrice); err != nil {
		return nil, err
	}

	wanted := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		wanted[s] = true
	}

	result := make(map[string]float64, len(symbols))
	err := withRetry(ctx, c.cfg.Retry, "batchTickers", func() error {
		reqCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()

		if kind == market.Futures {
			prices, err := c.fut.NewListPricesService().Do(reqCtx)
			if err != nil {
				return err
			}
			for _, p := range prices {
				if !wanted[p.Symbol] {
					continue
				}
				if v, perr := strconv.ParseFloat(p.Price, 64); perr == nil {
					result[p.Symbol] = v
				}
			}
			return nil
		}

		prices, err := c.spot.NewListPricesService().Do(reqCtx)
		if err != nil {
			return err
		}
		for _, p := range prices {
			if !wanted[p.Symbol] {
				continue
			}
			if v, perr := strconv.ParseFloat(p.Price, 64); perr == nil {
				result[p.Symbol] = v
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("batch tickers %s: %w", kind, err)
	}

	return result, nil
}

// parseKline converts go-binance string fields into a candle.
func parseKline(openTime, closeTime int64, open, high, low, closePx, volume string) (market.Candle, error) {
	o, err := strconv.ParseFloat(open, 64)
	if err != nil {
		return market.Candle{}, fmt.Errorf("parse open: %w", err)
	}
	h, err := strconv.ParseFloat(high, 64)
	if err != nil {
		return market.Candle{}, fmt.Errorf("parse high: %w", err)
	}
	l, err := strconv.ParseFloat(low, 64)
	if err != nil {
		return market.Candle{}, fmt.Errorf("parse low: %w", err)
	}
	cl, err := strconv.ParseFloat(closePx, 64)
	if err != nil {
		return market.Candle{}, fmt.Errorf("parse close: %w", err)
	}
	v, err := strconv.ParseFloat(volume, 64)
	if err != nil {
		return market.Candle{}, fmt.Errorf("parse volume: %w", err)
	}

	return market.Candle{
		OpenTime:  time.UnixMilli(openTime),
		CloseTime: time.UnixMilli(closeTime),
		Open:      o,
		High:      h,
		Low:       l,
		Close:     cl,
		Volume:    v,
	}, nil
}
