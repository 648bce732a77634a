// Command migrate applies the embedded schema migrations, or reports the
// current schema version with -command status.
package main

import (
	"context"
	"flag"

	"github.com/rs/zerolog/log"

	"github.com/signalhound/signalhound/internal/config"
	"github.com/signalhound/signalhound/internal/db"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	command := flag.String("command", "migrate", "migrate or status")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	config.InitLogger(cfg.App.LogLevel, cfg.App.LogFormat)

	ctx := context.Background()

	database, err := db.New(ctx, cfg.Database.URL, cfg.Database.PoolSize)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer database.Close()

	migrator := db.NewMigrator(database)

	switch *command {
	case "migrate":
		if err := migrator.Migrate(ctx); err != nil {
			log.Fatal().Err(err).Msg("Migration failed")
		}
	case "status":
		current, pending, err := migrator.Status(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to read schema status")
		}
		log.Info().
			Int("version", current).
			Int("pending", pending).
			Msg("Schema status")
	default:
		log.Fatal().Str("command", *command).Msg("Unknown command")
	}
}
