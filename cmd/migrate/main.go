// Package main provides a CLI tool for running the Postgres migrations.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/pool-metrics/internal/config"
	"github.com/pool-metrics/internal/logging"
	"github.com/pool-metrics/internal/storage"
)

func main() {
	action := flag.String("action", "up", "Migration action: up, down, version")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logging.InitGlobalLogger(logging.Options{
		Level:  logging.ParseLogLevel(cfg.Logging.Level),
		Format: logging.ParseLogFormat(cfg.Logging.Format),
	})
	logger := logging.GetGlobalLogger().WithField("migrations", cfg.Database.Postgres.MigrationsPath)

	if err := runPostgresMigrations(storage.NewMigrator(&cfg.Database.Postgres), *action, logger); err != nil {
		logger.WithError(err).Fatal("Postgres migration failed")
	}
}

func runPostgresMigrations(m *storage.Migrator, action string, logger *logging.Logger) error {
	switch action {
	case "up":
		logger.Info("Running Postgres migrations")
		if err := m.Up(); err != nil {
			return err
		}
		logger.Info("Postgres migrations completed")

	case "down":
		logger.Info("Rolling back Postgres migration")
		if err := m.Down(); err != nil {
			return err
		}
		logger.Info("Postgres migration rolled back")

	case "version":
		version, dirty, err := m.Version()
		if err != nil {
			return err
		}
		logger.WithFields(map[string]interface{}{
			"version": version,
			"dirty":   dirty,
		}).Info("Current Postgres migration version")

	default:
		return fmt.Errorf("unknown action: %s", action)
	}

	return nil
}
