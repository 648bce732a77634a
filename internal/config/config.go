package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration. The bundle is loaded once at
// startup and read-only afterwards.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Exchange ExchangeConfig `mapstructure:"exchange"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Scanner  ScannerConfig  `mapstructure:"scanner"`
	Paper    PaperConfig    `mapstructure:"paper"`
	Fanout   FanoutConfig   `mapstructure:"fanout"`
	API      APIConfig      `mapstructure:"api"`
}

// AppConfig contains application-level settings.
type AppConfig struct {
	Name      string `mapstructure:"name"`
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"` // "json" or "console"
}

// DatabaseConfig contains PostgreSQL settings.
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	PoolSize int    `mapstructure:"pool_size"`
}

// RedisConfig contains optional Redis settings for the volume cache.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// GetRedisAddr returns the Redis address.
func (c *RedisConfig) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ExchangeConfig contains Binance endpoint and rate-budget settings.
type ExchangeConfig struct {
	SpotBaseURL      string `mapstructure:"spot_base_url"`
	FuturesBaseURL   string `mapstructure:"futures_base_url"`
	SpotBudget       int    `mapstructure:"spot_budget"`       // requests per 60s
	FuturesBudget    int    `mapstructure:"futures_budget"`    // requests per 60s
	RequestTimeoutMS int    `mapstructure:"request_timeout_ms"`
	BatchSize        int    `mapstructure:"batch_size"`
	BatchDelayMS     int    `mapstructure:"batch_delay_ms"`
}

// RequestTimeout returns the per-request wall clock timeout.
func (c *ExchangeConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMS) * time.Millisecond
}

// BatchDelay returns the quiet period between kline fetch batches.
func (c *ExchangeConfig) BatchDelay() time.Duration {
	return time.Duration(c.BatchDelayMS) * time.Millisecond
}

// EngineConfig carries the default signal-engine parameters.
type EngineConfig struct {
	MinConfidence        float64 `mapstructure:"min_confidence"`
	LongRSIMin           float64 `mapstructure:"long_rsi_min"`
	LongRSIMax           float64 `mapstructure:"long_rsi_max"`
	ShortRSIMin          float64 `mapstructure:"short_rsi_min"`
	ShortRSIMax          float64 `mapstructure:"short_rsi_max"`
	LongADXMin           float64 `mapstructure:"long_adx_min"`
	ShortADXMin          float64 `mapstructure:"short_adx_min"`
	LongVolumeMultiplier float64 `mapstructure:"long_volume_multiplier"`
	ShortVolumeMultiplier float64 `mapstructure:"short_volume_multiplier"`
	SLATRMultiplier      float64 `mapstructure:"sl_atr_multiplier"`
	TPATRMultiplier      float64 `mapstructure:"tp_atr_multiplier"`
	FuturesLeverage      int     `mapstructure:"futures_leverage"`
	UseVolatilityAware   bool    `mapstructure:"use_volatility_aware"`
}

// TrackConfig configures one scan track.
type TrackConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Market      string `mapstructure:"market"`
	Timeframe   string `mapstructure:"timeframe"`
	Schedule    string `mapstructure:"schedule"` // cron expression
	CandleLimit int    `mapstructure:"candle_limit"`
}

// ScannerConfig contains scan track and symbol sync settings.
type ScannerConfig struct {
	Tracks         map[string]TrackConfig `mapstructure:"tracks"`
	Parallelism    int                    `mapstructure:"parallelism"`
	SyncSchedule   string                 `mapstructure:"sync_schedule"`
	PersistCandles bool                   `mapstructure:"persist_candles"`
}

// AccountSeed describes a paper account created at first startup.
type AccountSeed struct {
	Name           string  `mapstructure:"name"`
	InitialBalance float64 `mapstructure:"initial_balance"`
	MaxTrades      int     `mapstructure:"max_trades"`
	MinConfidence  float64 `mapstructure:"min_confidence"`
	AutoTrading    bool    `mapstructure:"auto_trading"`
	SizingMode     string  `mapstructure:"sizing_mode"` // FIXED, PERCENT, KELLY
	SizingValue    float64 `mapstructure:"sizing_value"`
}

// PaperConfig contains paper-trading settings.
type PaperConfig struct {
	Accounts           []AccountSeed `mapstructure:"accounts"`
	MarkToMarketSec    int           `mapstructure:"mark_to_market_sec"`
	SignalExpiryFactor int           `mapstructure:"signal_expiry_factor"` // timeframe multiples
}

// MarkToMarketInterval returns the mark-to-market cadence.
func (c *PaperConfig) MarkToMarketInterval() time.Duration {
	return time.Duration(c.MarkToMarketSec) * time.Second
}

// FanoutConfig contains event delivery settings.
type FanoutConfig struct {
	WebhookURL      string `mapstructure:"webhook_url"`
	BufferSize      int    `mapstructure:"buffer_size"`
	HeartbeatSec    int    `mapstructure:"heartbeat_sec"`
	WebhookTimeoutMS int   `mapstructure:"webhook_timeout_ms"`
}

// APIConfig contains listen settings for the WebSocket/control server.
type APIConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// GetAPIAddr returns the API server address.
func (c *APIConfig) GetAPIAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Load loads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("SIGNALHOUND")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; using defaults and environment variables.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "signalhound")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.log_format", "json")

	// Database defaults
	v.SetDefault("database.url", "postgres://postgres@localhost:5432/signalhound?sslmode=disable")
	v.SetDefault("database.pool_size", 10)

	// Redis defaults
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	// Exchange defaults
	v.SetDefault("exchange.spot_base_url", "https://api.binance.com")
	v.SetDefault("exchange.futures_base_url", "https://fapi.binance.com")
	v.SetDefault("exchange.spot_budget", 1200)
	v.SetDefault("exchange.futures_budget", 2400)
	v.SetDefault("exchange.request_timeout_ms", 10000)
	v.SetDefault("exchange.batch_size", 10)
	v.SetDefault("exchange.batch_delay_ms", 250)

	// Engine defaults
	v.SetDefault("engine.min_confidence", 0.70)
	v.SetDefault("engine.long_rsi_min", 25.0)
	v.SetDefault("engine.long_rsi_max", 35.0)
	v.SetDefault("engine.short_rsi_min", 65.0)
	v.SetDefault("engine.short_rsi_max", 75.0)
	v.SetDefault("engine.long_adx_min", 20.0)
	v.SetDefault("engine.short_adx_min", 20.0)
	v.SetDefault("engine.long_volume_multiplier", 1.5)
	v.SetDefault("engine.short_volume_multiplier", 1.5)
	v.SetDefault("engine.sl_atr_multiplier", 1.5)
	v.SetDefault("engine.tp_atr_multiplier", 5.25)
	v.SetDefault("engine.futures_leverage", 10)
	v.SetDefault("engine.use_volatility_aware", false)

	// Scanner defaults
	v.SetDefault("scanner.parallelism", 8)
	v.SetDefault("scanner.sync_schedule", "0 3 * * *")
	v.SetDefault("scanner.persist_candles", false)
	v.SetDefault("scanner.tracks", map[string]any{
		"spot-5m":     map[string]any{"enabled": true, "market": "SPOT", "timeframe": "5m", "schedule": "*/5 * * * *", "candle_limit": 200},
		"spot-1h":     map[string]any{"enabled": true, "market": "SPOT", "timeframe": "1h", "schedule": "5 * * * *", "candle_limit": 200},
		"futures-5m":  map[string]any{"enabled": false, "market": "FUTURES", "timeframe": "5m", "schedule": "*/5 * * * *", "candle_limit": 300},
		"futures-15m": map[string]any{"enabled": true, "market": "FUTURES", "timeframe": "15m", "schedule": "*/15 * * * *", "candle_limit": 200},
		"futures-1h":  map[string]any{"enabled": true, "market": "FUTURES", "timeframe": "1h", "schedule": "15 * * * *", "candle_limit": 200},
		"futures-4h":  map[string]any{"enabled": true, "market": "FUTURES", "timeframe": "4h", "schedule": "15 */4 * * *", "candle_limit": 150},
		"futures-1d":  map[string]any{"enabled": true, "market": "FUTURES", "timeframe": "1d", "schedule": "15 0 * * *", "candle_limit": 100},
	})

	// Paper trading defaults
	v.SetDefault("paper.mark_to_market_sec", 30)
	v.SetDefault("paper.signal_expiry_factor", 10)
	v.SetDefault("paper.accounts", []map[string]any{
		{
			"name":            "default",
			"initial_balance": 10000.0,
			"max_trades":      10,
			"min_confidence":  0.70,
			"auto_trading":    true,
			"sizing_mode":     "FIXED",
			"sizing_value":    100.0,
		},
	})

	// Fanout defaults
	v.SetDefault("fanout.buffer_size", 256)
	v.SetDefault("fanout.heartbeat_sec", 30)
	v.SetDefault("fanout.webhook_timeout_ms", 5000)

	// API defaults
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8080)
}
