package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/curvestream/indexer/internal/config"
	"github.com/curvestream/indexer/internal/processor"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	tokenID := flag.Int64("token", 0, "token id to sync")
	flag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if *tokenID <= 0 {
		fmt.Fprintln(os.Stderr, "usage: sync_token --config config.yaml --token <id>")
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := processor.Open(ctx, cfg, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to start")
	}

	log.Info().Int64("token_id", *tokenID).Msg("Syncing token")
	err = rt.Pipeline.SyncToken(ctx, *tokenID)
	rt.Close()
	if err != nil {
		log.Fatal().Err(err).Int64("token_id", *tokenID).Msg("Token sync finished with errors")
	}
	log.Info().Int64("token_id", *tokenID).Msg("Token synced")
}
