// Package main provides the pool metrics entry point.
// "snapshot run" executes a single run; without arguments the process runs
// on RUN_INTERVAL and serves the HTTP API until SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/pool-metrics/internal/adapter"
	"github.com/pool-metrics/internal/api"
	"github.com/pool-metrics/internal/config"
	"github.com/pool-metrics/internal/fixedpoint"
	"github.com/pool-metrics/internal/logging"
	"github.com/pool-metrics/internal/registry"
	"github.com/pool-metrics/internal/service"
	"github.com/pool-metrics/internal/storage"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logging.InitGlobalLogger(logging.Options{
		Level:      logging.ParseLogLevel(cfg.Logging.Level),
		Format:     logging.ParseLogFormat(cfg.Logging.Format),
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	logger := logging.GetGlobalLogger()

	ctx, cancel := context.WithCancel(logging.WithLogger(context.Background(), logger))
	defer cancel()

	app, err := newApp(ctx, cfg)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize")
	}
	defer app.close()

	if len(os.Args) > 1 && os.Args[1] == "run" {
		logger.Info("Running snapshot once")
		if _, _, err := app.snapshots.Run(ctx); err != nil {
			app.close()
			logger.WithError(err).Fatal("Snapshot run failed")
		}
		logger.Info("Snapshot complete")
		return
	}

	server := api.NewServer(
		api.DefaultServerConfig(cfg.Server.Host, cfg.Server.Port),
		app.snapshots,
		app.registry,
		app.starknet,
	)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("API server stopped")
			cancel()
		}
	}()

	if err := app.snapshots.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start snapshot scheduler")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	_ = app.snapshots.Stop()
	if err := server.Shutdown(context.Background()); err != nil {
		logger.WithError(err).Warn("API server shutdown")
	}
	cancel()
	logger.Info("Stopped")
}

// app holds the wired components and the connections to release on exit
type app struct {
	registry  *registry.Registry
	snapshots *service.SnapshotService
	starknet  *adapter.StarknetClient
	closers   []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logger := logging.FromContext(ctx)
	a := &app{registry: registry.Default()}

	amm, err := fixedpoint.ParseHexInt(cfg.Starknet.AMMAddress)
	if err != nil {
		return nil, fmt.Errorf("invalid AMM address: %w", err)
	}

	provider, err := adapter.NewEndpointProvider(cfg.Starknet.RPCPrimary, cfg.Starknet.RPCSecondary)
	if err != nil {
		return nil, err
	}
	a.starknet = adapter.NewStarknetClient(provider, cfg.Starknet.CallTimeout)
	a.closers = append(a.closers, a.starknet.Close)

	prices := adapter.NewPriceClient(adapter.PriceClientConfig{
		BaseURL:           cfg.Prices.BaseURL,
		APIKey:            cfg.Prices.APIKey,
		VsCurrency:        cfg.Prices.VsCurrency,
		Timeout:           cfg.Prices.Timeout,
		RequestsPerSecond: cfg.Prices.RequestsPerSecond,
	})
	events := adapter.NewEventClient(adapter.EventClientConfig{
		BaseURL:           cfg.EventAPI.BaseURL,
		Timeout:           cfg.EventAPI.Timeout,
		RequestsPerSecond: cfg.EventAPI.RequestsPerSecond,
	})

	var cache service.PriceCache
	if cfg.Database.Redis.Enabled {
		redisCache, err := storage.NewRedisCache(&cfg.Database.Redis, cfg.Prices.CacheTTL)
		if err != nil {
			a.close()
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = redisCache.Close() })
		cache = redisCache
		logger.Info("Price cache enabled")
	}

	jsonStore := storage.NewJSONStore(cfg.Output.JSONPath)
	logger.WithField("path", jsonStore.Path()).Info("JSON sink enabled")
	var secondary []service.SnapshotSink

	if cfg.Database.Postgres.Enabled {
		db, err := storage.NewPostgresDB(&cfg.Database.Postgres)
		if err != nil {
			a.close()
			return nil, err
		}
		a.closers = append(a.closers, db.Close)
		secondary = append(secondary, storage.NewSnapshotRepository(db.Pool()))
		logger.Info("Postgres sink enabled")
	}

	if cfg.S3.Enabled {
		publisher, err := storage.NewS3Publisher(ctx, &cfg.S3)
		if err != nil {
			a.close()
			return nil, err
		}
		secondary = append(secondary, publisher)
		logger.WithField("bucket", cfg.S3.Bucket).Info("S3 sink enabled")
	}

	a.snapshots = service.NewSnapshotService(
		a.registry,
		service.NewPriceSampler(prices, cache, a.registry, cfg.Prices.WindowDays),
		service.NewPositionReader(a.starknet, amm),
		service.NewEventIngestor(events, a.registry),
		jsonStore,
		service.SnapshotServiceConfig{
			Mode:           cfg.EventAPI.Mode,
			MaxConcurrency: cfg.Run.MaxConcurrency,
			Interval:       cfg.Run.Interval,
		},
		secondary...,
	)
	a.snapshots.SetLoader(jsonStore)

	return a, nil
}
