package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/curvestream/indexer/internal/api"
	"github.com/curvestream/indexer/internal/config"
	"github.com/curvestream/indexer/internal/database"
	"github.com/curvestream/indexer/internal/lock"
	"github.com/curvestream/indexer/internal/metrics"
	"github.com/curvestream/indexer/internal/processor"
	"github.com/curvestream/indexer/internal/scheduler"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath string
		schedule   bool
		tokenID    int64
		fromID     int64
		toID       int64
		chainID    int64
		graduated  string
	)
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.BoolVar(&schedule, "schedule", false, "Keep running on the configured interval instead of once")
	flag.Int64Var(&tokenID, "token", 0, "Only process this token id")
	flag.Int64Var(&fromID, "from-id", 0, "Lowest token id to process")
	flag.Int64Var(&toID, "to-id", 0, "Highest token id to process")
	flag.Int64Var(&chainID, "chain", 0, "Only process this chain id")
	flag.StringVar(&graduated, "graduated", "", "Filter by graduation: true, false or any")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return 1
	}
	if tokenID > 0 {
		cfg.Filters.TokenID = tokenID
	}
	if fromID > 0 {
		cfg.Filters.FromID = fromID
	}
	if toID > 0 {
		cfg.Filters.ToID = toID
	}
	if chainID > 0 {
		cfg.Filters.ChainID = chainID
	}
	if graduated != "" {
		cfg.Filters.Graduated = graduated
	}

	logger := setupLogger(cfg.Logging)
	logger.Info().
		Str("config", configPath).
		Bool("schedule", schedule).
		Msg("Starting launchpad indexer")

	filter, err := processor.FilterFrom(cfg.Filters)
	if err != nil {
		logger.Error().Err(err).Msg("Invalid filters")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := processor.Open(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to start")
		return 1
	}
	defer rt.Close()

	locker, err := lock.New(cfg.Lock, rt.DB.Pool(), logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to set up run lock")
		return 1
	}

	if !schedule {
		if err := runOnce(ctx, rt.Pipeline, locker, filter, cfg.Metrics, logger); err != nil {
			logger.Error().Err(err).Msg("Run failed")
			return 1
		}
		return 0
	}

	sched, err := scheduler.New(cfg.Schedule.Interval, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create scheduler")
		return 1
	}
	err = sched.Start(ctx, "pipeline-run", func(ctx context.Context) {
		if err := runOnce(ctx, rt.Pipeline, locker, filter, cfg.Metrics, logger); err != nil {
			logger.Error().Err(err).Msg("Scheduled run failed")
		}
	})
	if err != nil {
		logger.Error().Err(err).Msg("Failed to start scheduler")
		return 1
	}

	if cfg.Metrics.ListenAddr != "" {
		health := api.NewHealthServer(rt.DB.Pool(), rt.Pipeline, 3*cfg.Schedule.Interval, logger)
		go func() {
			if err := health.Serve(ctx, cfg.Metrics.ListenAddr); err != nil {
				logger.Error().Err(err).Msg("Health server failed")
			}
		}()
	}

	<-ctx.Done()
	sched.Stop()
	logger.Info().Msg("Indexer shutdown complete")
	return 0
}

// runOnce takes the run lock, runs the pipeline and pushes metrics. A lock
// held elsewhere is not an error: the run is simply skipped.
func runOnce(ctx context.Context, p *processor.Pipeline, locker lock.Locker, filter database.TokenFilter, mcfg config.MetricsConfig, logger zerolog.Logger) error {
	release, err := locker.TryAcquire(ctx)
	if errors.Is(err, lock.ErrLockHeld) {
		logger.Info().Msg("Another run holds the lock, exiting")
		metrics.RunsTotal.WithLabelValues("locked").Inc()
		pushMetrics(mcfg, logger)
		return nil
	}
	if err != nil {
		return fmt.Errorf("acquire run lock: %w", err)
	}
	defer func() {
		if err := release(context.Background()); err != nil {
			logger.Warn().Err(err).Msg("Failed to release run lock")
		}
	}()

	_, err = p.Run(ctx, filter)
	pushMetrics(mcfg, logger)
	return err
}

func pushMetrics(cfg config.MetricsConfig, logger zerolog.Logger) {
	if err := metrics.Push(cfg.PushgatewayURL, cfg.Job); err != nil {
		logger.Warn().Err(err).Msg("Failed to push metrics")
	}
}

func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.Format == "console" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05.000",
		}
		logger = zerolog.New(output).Level(level).With().Timestamp().Caller().Logger()
	} else {
		logger = zerolog.New(os.Stdout).Level(level).With().Timestamp().Caller().Logger()
	}

	return logger
}
