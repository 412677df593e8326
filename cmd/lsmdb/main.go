// Command lsmdb opens a database directory and serves nothing beyond
// what its embedders wire up; CLI, options parsing, and statistics are
// explicitly out of scope (§1). This binary only opens the database, waits
// for SIGINT or SIGTERM, and closes it cleanly; it issues no reads or
// writes of its own.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/goccy/go-yaml"
	"github.com/rs/zerolog"

	"lsmdb/pkg/dbconfig"
	"lsmdb/pkg/store"
)

func main() {
	dataDir := flag.String("data-dir", "", "database directory (overrides the config file's data_dir)")
	configPath := flag.String("config", "", "path to a YAML dbconfig.Options file")
	flag.Parse()

	log := zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Str("component", "lsmdb-cli").Logger()

	opts := dbconfig.Default()
	if *configPath != "" {
		data, err := os.ReadFile(*configPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", *configPath).Msg("read config")
		}
		if err := yaml.Unmarshal(data, &opts); err != nil {
			log.Fatal().Err(err).Msg("parse config")
		}
	}
	if *dataDir != "" {
		opts.DataDir = *dataDir
	}

	db, err := store.Open(opts.DataDir, opts)
	if err != nil {
		log.Fatal().Err(err).Str("data_dir", opts.DataDir).Msg("open database")
	}
	log.Info().Str("data_dir", opts.DataDir).Msg("lsmdb ready")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	<-ctx.Done()

	if err := db.Close(); err != nil {
		log.Error().Err(err).Msg("close database")
	}
	log.Info().Msg("lsmdb stopped")
}
