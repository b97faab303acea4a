package main

import (
	"context"
	"net/http"

	"github.com/vllry/transit-archive/pkg/archive"
	"github.com/vllry/transit-archive/pkg/config"
	"github.com/vllry/transit-archive/pkg/fetch"
	"github.com/vllry/transit-archive/pkg/ledger"
	"github.com/vllry/transit-archive/pkg/orchestrate"
	"github.com/vllry/transit-archive/pkg/routes"
	"github.com/vllry/transit-archive/pkg/store"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// App holds the wired archivers and the resources they share.
type App struct {
	config       *config.Config
	logger       *zap.Logger
	orchestrator *orchestrate.Orchestrator

	closers []func()
}

func NewApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	app := &App{config: cfg, logger: logger}

	secrets, err := config.LoadSecrets(cfg.SecretsPath)
	if err != nil {
		return nil, err
	}

	batcher, err := app.batcher()
	if err != nil {
		return nil, err
	}

	gcs, err := store.NewGCSStore(ctx, cfg.BucketID)
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, func() { _ = gcs.Close() })

	var l ledger.Ledger = ledger.Nop{}
	if cfg.PostgresURL != "" {
		pg, err := ledger.NewPostgresLedger(ctx, cfg.PostgresURL)
		if err != nil {
			app.Close()
			return nil, err
		}
		app.closers = append(app.closers, pg.Close)
		l = pg
	}

	client := fetch.NewClient(
		fetch.WithHTTPClient(&http.Client{Timeout: cfg.HTTPTimeout}),
		fetch.WithMaxAttempts(cfg.RetryMaxAttempts),
		fetch.WithLogger(logger),
	)
	deps := func(name string) archive.Deps {
		return archive.Deps{Client: client, Store: gcs, Ledger: l, Logger: logger.Named(name)}
	}

	rail := archive.NewRailArchiver(archive.RailConfig{
		URL:    cfg.TrainTrackerURL,
		APIKey: secrets.TrainTrackerAPIKey,
	}, deps("rail"))
	bus := archive.NewBusArchiver(archive.BusConfig{
		URL:         cfg.BusTrackerURL,
		APIKey:      secrets.BusTrackerAPIKey,
		Batches:     batcher.Batches(),
		Concurrency: cfg.BusConcurrency,
	}, deps("bus"))
	static := archive.NewStaticArchiver(archive.StaticConfig{
		URL: cfg.StaticGTFSURL,
	}, deps("static"))

	logger.Info("Archivers configured",
		zap.String("bucket", cfg.BucketID),
		zap.Int("bus_routes", batcher.Len()),
		zap.Int("bus_batches", len(batcher.Batches())),
		zap.Bool("ledger", cfg.PostgresURL != ""),
	)

	app.orchestrator = orchestrate.New(rail, bus, static, logger)
	return app, nil
}

func (app *App) batcher() (*routes.Batcher, error) {
	if app.config.BusRoutesFile == "" {
		return routes.NewDefaultBatcher()
	}
	b, err := routes.NewBatcherFromFile(app.config.BusRoutesFile)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load bus routes")
	}
	return b, nil
}

// Serve consumes triggers from Kafka until ctx is done.
func (app *App) Serve(ctx context.Context) error {
	k, err := app.config.Kafka()
	if err != nil {
		return err
	}
	c, err := NewConsumer(k, app.orchestrator, app.logger)
	if err != nil {
		return err
	}
	return c.Run(ctx)
}

func (app *App) Close() {
	for i := len(app.closers) - 1; i >= 0; i-- {
		app.closers[i]()
	}
	_ = app.logger.Sync()
}
