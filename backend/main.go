package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/chhayvoinvy/promptexify-sub001/records"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string
	var logger *slog.Logger

	root := &cobra.Command{
		Use:           "mediastore",
		Short:         "Media storage service: uploads, derivatives, cleanup",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := LoadConfig(configPath); err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger = InitLogger(AppConfig.Log.Level)
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.json", "Path to the JSON config file")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP server and the scheduled orphan cleanup",
			RunE: func(cmd *cobra.Command, args []string) error {
				return serve(cmd.Context(), AppConfig, logger)
			},
		},
		newCleanupCommand(&logger),
		&cobra.Command{
			Use:   "env",
			Short: "Print the environment variables the service reads",
			// Skip config loading; the guide is static.
			PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
			Run: func(cmd *cobra.Command, args []string) {
				printEnvGuide(cmd.OutOrStdout())
			},
		},
	)
	return root
}

func newCleanupCommand(logger **slog.Logger) *cobra.Command {
	var dryRun, previews bool
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Run the orphan reaper once and print its report",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, closeDB, err := buildApp(ctx, AppConfig, prometheus.NewRegistry(), *logger)
			if err != nil {
				return err
			}
			defer closeDB()

			var report any
			if previews {
				report, err = app.Reaper.CleanupOrphanedPreviewFiles(ctx, dryRun)
			} else {
				report, err = app.Reaper.CleanupOrphanedMedia(ctx, dryRun)
			}
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report candidates without deleting anything")
	cmd.Flags().BoolVar(&previews, "previews", false, "Scan local preview files instead of media records")
	return cmd
}

func buildApp(ctx context.Context, cfg *Config, reg *prometheus.Registry, logger *slog.Logger) (*App, func(), error) {
	db, err := records.Connect(cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("database: %w", err)
	}
	closeDB := func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	}
	app, err := NewApp(ctx, cfg, db, reg, logger)
	if err != nil {
		closeDB()
		return nil, nil, err
	}
	return app, closeDB, nil
}

func serve(ctx context.Context, cfg *Config, logger *slog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	app, closeDB, err := buildApp(ctx, cfg, reg, logger)
	if err != nil {
		return err
	}
	defer closeDB()

	if cfg.Cleanup.Enabled {
		scheduler, err := StartCleanupScheduler(app, cfg.Cleanup.Schedule)
		if err != nil {
			return err
		}
		defer func() { <-scheduler.Stop().Done() }()
	}

	srv := &http.Server{
		Addr:        ":" + cfg.ServerPort,
		Handler:     newRouter(app, cfg, reg),
		ReadTimeout: 2 * time.Minute,
		IdleTimeout: 60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	errCh := make(chan error, 1)

	go func() {
		storageCfg := app.Provider.Get(ctx)
		logger.Info("server listening", "address", srv.Addr, "storage", storageCfg.Variant, "database", cfg.Database.Type)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-quit:
		logger.Info("shutting down gracefully")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}
