package main

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"

	"github.com/chhayvoinvy/promptexify-sub001/cleanup"
	"github.com/chhayvoinvy/promptexify-sub001/media"
	"github.com/chhayvoinvy/promptexify-sub001/records"
	"github.com/chhayvoinvy/promptexify-sub001/settings"
	"github.com/chhayvoinvy/promptexify-sub001/storage"
)

// App holds the wired service components shared by the CLI commands.
type App struct {
	DB       *gorm.DB
	Store    *records.Store
	Settings *records.SettingsSource
	Provider *settings.Provider
	Selector *storage.Selector
	Pipeline *media.Pipeline
	Cascade  *cleanup.Cascade
	Reaper   *cleanup.Reaper
	Metrics  *serviceMetrics
	Logger   *slog.Logger
}

func NewApp(ctx context.Context, cfg *Config, db *gorm.DB, reg prometheus.Registerer, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	observer, err := storage.NewPrometheusObserver("", reg)
	if err != nil {
		return nil, err
	}
	metrics, err := newServiceMetrics(reg)
	if err != nil {
		return nil, err
	}

	store := records.NewStore(db)
	source := records.NewSettingsSource(db)
	provider := settings.NewProvider(source, settings.WithLogger(logger))
	selector := storage.NewSelector(func(ctx context.Context, sc settings.StorageConfig) (storage.Adapter, error) {
		a, err := storage.New(ctx, sc, logger)
		if err != nil {
			return nil, err
		}
		return storage.Instrument(a, observer), nil
	})

	opts := []media.Option{
		media.WithRecords(store),
		media.WithLogger(logger),
		media.WithVideoProcessor(media.NewFFmpeg(cfg.FFmpegPath, cfg.FFprobePath)),
	}
	if cfg.ClamdSocket != "" {
		scanner, err := media.NewClamdScanner(ctx, cfg.ClamdSocket, logger)
		if err != nil {
			logger.Warn("clamd scanner unavailable, uploads will not be scanned", "error", err)
		} else {
			opts = append(opts, media.WithScanner(scanner))
		}
	}

	return &App{
		DB:       db,
		Store:    store,
		Settings: source,
		Provider: provider,
		Selector: selector,
		Pipeline: media.NewPipeline(provider, selector, opts...),
		Cascade:  cleanup.NewCascade(provider, selector, logger),
		Reaper: cleanup.NewReaper(store, provider, selector,
			cleanup.WithRetention(cfg.Retention()),
			cleanup.WithBatchSize(cfg.Cleanup.BatchSize),
			cleanup.WithBatchDelay(cfg.BatchDelay()),
			cleanup.WithLogger(logger),
		),
		Metrics: metrics,
		Logger:  logger,
	}, nil
}
