package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/lmkt/candle-indexer/internal/api"
	"github.com/lmkt/candle-indexer/internal/candles"
	"github.com/lmkt/candle-indexer/internal/config"
	"github.com/lmkt/candle-indexer/internal/database"
	"github.com/lmkt/candle-indexer/internal/database/memory"
	"github.com/lmkt/candle-indexer/internal/metrics"
	"github.com/lmkt/candle-indexer/internal/modules/lmkt"
	"github.com/lmkt/candle-indexer/internal/pricing"
	"github.com/lmkt/candle-indexer/internal/processor"
	"github.com/lmkt/candle-indexer/internal/registry"
	"github.com/lmkt/candle-indexer/internal/rpc"
)

// store is what the indexer needs from a storage adapter.
type store interface {
	database.Store
	api.Pinger
}

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.Logging)

	logger.Info().
		Str("version", "0.1.0").
		Str("config", configPath).
		Str("treasury", cfg.Contracts.Treasury).
		Msg("Starting LMKT candle indexer")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("Indexer failed")
	}

	logger.Info().Msg("Indexer shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	db, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	client, err := rpc.NewClient(cfg.Chain.RPCEndpoint, cfg.Chain.ChainID, logger)
	if err != nil {
		return fmt.Errorf("failed to create RPC client: %w", err)
	}
	defer client.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	engine := candles.NewEngine(&cfg.Candles, logger)
	logger.Info().Ints64("intervals", engine.Intervals()).Msg("Candle intervals")

	module := lmkt.NewModule(
		&cfg.Contracts,
		db,
		registry.New(rpc.NewERC20Reader(client), logger),
		pricing.NewResolver(client, common.HexToAddress(cfg.Contracts.Treasury), pricing.RetryPolicyFromConfig(&cfg.Pricing), logger),
		engine,
		m,
		logger,
	)

	indexer := processor.NewIndexer(cfg, client, module, db, m, logger)
	health := api.NewHealthServer(db, client, indexer, reg, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return health.Start(gctx, fmt.Sprintf(":%d", cfg.Server.MetricsPort))
	})
	g.Go(func() error {
		return indexer.Run(gctx)
	})

	return g.Wait()
}

func openStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (store, error) {
	switch cfg.Database.Driver {
	case "memory":
		logger.Warn().Msg("Using in-memory storage, candles are lost on restart")
		return memory.NewStore(), nil
	default:
		migrateCtx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()
		if err := database.RunMigrations(migrateCtx, &cfg.Database, logger); err != nil {
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}

		db, err := database.New(ctx, &cfg.Database, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		return db, nil
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
