package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/bazaar/pkg/config"
	"github.com/platinummonkey/bazaar/pkg/marketplace"
	"github.com/platinummonkey/bazaar/pkg/observability"
	"github.com/platinummonkey/bazaar/pkg/storage/sqldb"
)

var runOnce = flag.Bool("run-once", false, "Run every job once and exit")

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}
	logger := setupLogger(cfg.Observability.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sqldb.Open(ctx, cfg.Database.SQL())
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := sqldb.Migrate(ctx, db); err != nil {
		logger.Fatalf("Failed to migrate database: %v", err)
	}

	// the janitor never touches bundles, so no blob store
	service := marketplace.NewService(db, nil,
		observability.NewLogger(cfg.Observability.Level(), os.Stdout),
		marketplace.Config{
			APIKeyLifetimeDays:    cfg.Auth.APIKeyLifetimeDays,
			APIKeyMaxLifetimeDays: cfg.Auth.APIKeyMaxLifetimeDays,
		})

	j := &janitor{service: service, logger: logger, keyRetention: cfg.Janitor.KeyRetention}

	if *runOnce {
		if err := j.runAll(ctx); err != nil {
			logger.Fatalf("Janitor run failed: %v", err)
		}
		logger.Info("Janitor run completed")
		return
	}

	c := cron.New(
		cron.WithLogger(cron.PrintfLogger(logger)),
		cron.WithChain(cron.Recover(cron.PrintfLogger(logger)), cron.SkipIfStillRunning(cron.PrintfLogger(logger))),
	)
	if _, err := c.AddFunc(cfg.Janitor.Schedule, func() {
		if err := j.runAll(ctx); err != nil {
			logger.Errorf("Janitor run failed: %v", err)
		}
	}); err != nil {
		logger.Fatalf("Failed to schedule janitor: %v", err)
	}

	c.Start()
	logger.WithField("schedule", cfg.Janitor.Schedule).Info("Bazaar janitor started")

	<-ctx.Done()
	logger.Info("Shutting down gracefully...")

	stopped := c.Stop()
	<-stopped.Done()
	logger.Info("Janitor stopped")
}

func setupLogger(logLevel string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339,
	})

	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	return logger
}

type janitor struct {
	service      *marketplace.Service
	logger       *logrus.Logger
	keyRetention time.Duration
}

// runAll runs every maintenance job, continuing past failures. It returns
// the first error.
func (j *janitor) runAll(ctx context.Context) error {
	var firstErr error

	start := time.Now()
	purged, err := j.service.PurgeExpiredAPIKeys(ctx, j.keyRetention)
	if err != nil {
		j.logger.WithError(err).Error("API key purge failed")
		firstErr = err
	} else {
		j.logger.WithFields(logrus.Fields{
			"purged":      purged,
			"retention":   j.keyRetention.String(),
			"duration_ms": time.Since(start).Milliseconds(),
		}).Info("Purged expired API keys")
	}

	start = time.Now()
	reconciled, err := j.service.ReconcileExtensionStatus(ctx)
	if err != nil {
		j.logger.WithError(err).Error("Extension status reconciliation failed")
		if firstErr == nil {
			firstErr = err
		}
	} else {
		j.logger.WithFields(logrus.Fields{
			"reconciled":  reconciled,
			"duration_ms": time.Since(start).Milliseconds(),
		}).Info("Reconciled extension status")
	}

	return firstErr
}
