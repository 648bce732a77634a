// Command scanner is the signalhound daemon: it syncs the symbol universe,
// runs the scan tracks on their cron schedules, manages paper trades, fans
// out events over WebSocket and webhooks, and serves the control API.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/signalhound/signalhound/internal/api"
	"github.com/signalhound/signalhound/internal/backtest"
	"github.com/signalhound/signalhound/internal/config"
	"github.com/signalhound/signalhound/internal/db"
	"github.com/signalhound/signalhound/internal/exchange"
	"github.com/signalhound/signalhound/internal/fanout"
	"github.com/signalhound/signalhound/internal/market"
	"github.com/signalhound/signalhound/internal/paper"
	"github.com/signalhound/signalhound/internal/scanner"
	sig "github.com/signalhound/signalhound/internal/signal"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	config.InitLogger(cfg.App.LogLevel, cfg.App.LogFormat)

	log.Info().Str("app", cfg.App.Name).Msg("Starting signalhound scanner")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	database, err := db.New(ctx, cfg.Database.URL, cfg.Database.PoolSize)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer database.Close()

	if err := db.NewMigrator(database).Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to run migrations")
	}

	for _, seed := range cfg.Paper.Accounts {
		account := &db.PaperAccount{
			Name:           seed.Name,
			InitialBalance: decimal.NewFromFloat(seed.InitialBalance),
			MaxTrades:      seed.MaxTrades,
			MinConfidence:  seed.MinConfidence,
			AutoTrading:    seed.AutoTrading,
			SizingMode:     db.SizingMode(seed.SizingMode),
			SizingValue:    decimal.NewFromFloat(seed.SizingValue),
		}
		if err := database.SeedAccount(ctx, account); err != nil {
			log.Fatal().Err(err).Str("account", seed.Name).Msg("Failed to seed paper account")
		}
	}

	client := exchange.NewBinanceClient(exchange.BinanceConfig{
		SpotBaseURL:    cfg.Exchange.SpotBaseURL,
		FuturesBaseURL: cfg.Exchange.FuturesBaseURL,
		SpotBudget:     cfg.Exchange.SpotBudget,
		FuturesBudget:  cfg.Exchange.FuturesBudget,
		RequestTimeout: cfg.Exchange.RequestTimeout(),
		BatchSize:      cfg.Exchange.BatchSize,
		BatchDelay:     cfg.Exchange.BatchDelay(),
	})
	defer client.Close()

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.GetRedisAddr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Warn().Err(err).Msg("Redis unreachable, volume cache falls back to memory")
		}
	}
	volumes := market.NewVolumeCache(redisClient, 10*time.Minute)

	engine, err := sig.NewEngine(engineConfig(cfg), database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build signal engine")
	}

	webhook := fanout.NewWebhookSender(cfg.Fanout.WebhookURL, time.Duration(cfg.Fanout.WebhookTimeoutMS)*time.Millisecond)
	hub := fanout.NewHub(cfg.Fanout.BufferSize, time.Duration(cfg.Fanout.HeartbeatSec)*time.Second, webhook)
	go hub.Run(ctx)
	if webhook != nil {
		go webhook.Run()
		defer webhook.Close()
	}

	trades := paper.NewManager(database, client, hub, cfg.Paper.MarkToMarketInterval())
	go trades.Run(ctx)

	scan, err := scanner.New(&cfg.Scanner, client, database, engine, trades, hub, volumes)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build scanner")
	}

	// Populate the symbol table before the first tick fires.
	if err := scan.SyncSymbols(ctx); err != nil {
		log.Error().Err(err).Msg("Initial symbol sync failed")
	}

	if err := scan.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start scanner")
	}

	serverCfg := api.Config{
		Host:      cfg.API.Host,
		Port:      cfg.API.Port,
		Store:     database,
		Trades:    trades,
		Scanner:   scan,
		Backtests: backtest.NewExecutor(database),
		Hub:       hub,
	}
	if redisClient != nil {
		serverCfg.RedisPing = func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}
	}
	server := api.NewServer(serverCfg)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- server.Start()
	}()

	select {
	case err := <-serverErrors:
		log.Error().Err(err).Msg("API server error")
	case <-ctx.Done():
		log.Info().Msg("Received shutdown signal")
	}

	scan.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Failed to stop API server gracefully")
		os.Exit(1)
	}

	log.Info().Msg("Scanner stopped")
}

// engineConfig maps the loaded configuration onto the engine parameters.
func engineConfig(cfg *config.Config) sig.Config {
	return sig.Config{
		MinConfidence:         cfg.Engine.MinConfidence,
		LongRSIMin:            cfg.Engine.LongRSIMin,
		LongRSIMax:            cfg.Engine.LongRSIMax,
		ShortRSIMin:           cfg.Engine.ShortRSIMin,
		ShortRSIMax:           cfg.Engine.ShortRSIMax,
		LongADXMin:            cfg.Engine.LongADXMin,
		ShortADXMin:           cfg.Engine.ShortADXMin,
		LongVolumeMultiplier:  cfg.Engine.LongVolumeMultiplier,
		ShortVolumeMultiplier: cfg.Engine.ShortVolumeMultiplier,
		SLATRMultiplier:       cfg.Engine.SLATRMultiplier,
		TPATRMultiplier:       cfg.Engine.TPATRMultiplier,
		FuturesLeverage:       cfg.Engine.FuturesLeverage,
		ExpiryFactor:          cfg.Paper.SignalExpiryFactor,
		UseVolatilityAware:    cfg.Engine.UseVolatilityAware,
	}
}
