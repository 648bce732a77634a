// Command backtest creates a backtest run, optionally backfills its candle
// history from Binance, executes it, and prints the resulting metrics.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/signalhound/signalhound/internal/backtest"
	"github.com/signalhound/signalhound/internal/config"
	"github.com/signalhound/signalhound/internal/db"
	"github.com/signalhound/signalhound/internal/exchange"
	"github.com/signalhound/signalhound/internal/market"
)

const fetchPageSize = 1000

func main() {
	configPath := flag.String("config", "", "path to config file")
	name := flag.String("name", "", "run name")
	symbols := flag.String("symbols", "", "comma-separated symbols, e.g. BTCUSDT,ETHUSDT")
	marketFlag := flag.String("market", "SPOT", "SPOT or FUTURES")
	timeframe := flag.String("timeframe", "4h", "candle timeframe")
	start := flag.String("start", "", "start date (YYYY-MM-DD)")
	end := flag.String("end", "", "end date (YYYY-MM-DD)")
	capital := flag.Float64("capital", 10000, "initial capital in USDT")
	size := flag.Float64("size", 100, "position size in USDT")
	params := flag.String("params", "", "strategy parameter overrides as JSON")
	fetch := flag.Bool("fetch", true, "backfill candles from Binance before running")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	config.InitLogger(cfg.App.LogLevel, cfg.App.LogFormat)

	run, err := buildRun(*name, *symbols, *marketFlag, *timeframe, *start, *end, *capital, *size, *params)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid run parameters")
	}

	ctx := context.Background()

	database, err := db.New(ctx, cfg.Database.URL, cfg.Database.PoolSize)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer database.Close()

	if err := db.NewMigrator(database).Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to run migrations")
	}

	if *fetch {
		if err := backfill(ctx, cfg, database, run); err != nil {
			log.Fatal().Err(err).Msg("Candle backfill failed")
		}
	}

	if err := database.CreateBacktestRun(ctx, run); err != nil {
		log.Fatal().Err(err).Msg("Failed to create backtest run")
	}
	log.Info().Str("run_id", run.ID.String()).Str("name", run.Name).Msg("Backtest run created")

	if err := backtest.NewExecutor(database).Execute(ctx, run.ID); err != nil {
		log.Fatal().Err(err).Msg("Backtest execution failed")
	}

	done, err := database.GetBacktestRun(ctx, run.ID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load completed run")
	}

	var pretty map[string]any
	if err := json.Unmarshal(done.Results, &pretty); err != nil {
		log.Fatal().Err(err).Msg("Failed to decode run results")
	}
	out, _ := json.MarshalIndent(pretty, "", "  ")
	fmt.Println(string(out))
}

// buildRun validates the flags into an unsaved run.
func buildRun(name, symbols, marketFlag, timeframe, start, end string,
	capital, size float64, params string) (*db.BacktestRun, error) {

	if name == "" {
		name = fmt.Sprintf("cli-%s", time.Now().UTC().Format("20060102-150405"))
	}
	if symbols == "" {
		return nil, fmt.Errorf("at least one symbol is required")
	}

	kind := market.Kind(marketFlag)
	if kind != market.Spot && kind != market.Futures {
		return nil, fmt.Errorf("unknown market %q", marketFlag)
	}
	tf, err := market.ParseTimeframe(timeframe)
	if err != nil {
		return nil, err
	}

	startDate, err := time.Parse("2006-01-02", start)
	if err != nil {
		return nil, fmt.Errorf("invalid start date: %w", err)
	}
	endDate, err := time.Parse("2006-01-02", end)
	if err != nil {
		return nil, fmt.Errorf("invalid end date: %w", err)
	}
	if !endDate.After(startDate) {
		return nil, fmt.Errorf("end date must be after start date")
	}

	var overrides json.RawMessage
	if params != "" {
		if !json.Valid([]byte(params)) {
			return nil, fmt.Errorf("strategy params are not valid JSON")
		}
		overrides = json.RawMessage(params)
	}

	return &db.BacktestRun{
		Name:           name,
		Symbols:        strings.Split(symbols, ","),
		Market:         kind,
		Timeframe:      tf,
		StartDate:      startDate,
		EndDate:        endDate,
		StrategyParams: overrides,
		InitialCapital: decimal.NewFromFloat(capital),
		PositionSize:   decimal.NewFromFloat(size),
	}, nil
}

// backfill pages historical klines from Binance into the candle table for
// every symbol of the run.
func backfill(ctx context.Context, cfg *config.Config, database *db.DB, run *db.BacktestRun) error {
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

	for _, symbol := range run.Symbols {
		total := 0
		cursor := run.StartDate
		for cursor.Before(run.EndDate) {
			candles, err := client.GetKlinesRange(ctx, run.Market, symbol, run.Timeframe,
				cursor, run.EndDate, fetchPageSize)
			if err != nil {
				return fmt.Errorf("fetch %s: %w", symbol, err)
			}
			if len(candles) == 0 {
				break
			}
			if err := database.UpsertCandles(ctx, symbol, run.Market, run.Timeframe, candles); err != nil {
				return fmt.Errorf("store %s: %w", symbol, err)
			}
			total += len(candles)
			cursor = candles[len(candles)-1].OpenTime.Add(run.Timeframe.Duration())
		}
		log.Info().
			Str("symbol", symbol).
			Str("timeframe", string(run.Timeframe)).
			Int("candles", total).
			Msg("Candle history backfilled")
	}
	return nil
}
