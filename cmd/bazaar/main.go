package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/bazaar/pkg/async"
	"github.com/platinummonkey/bazaar/pkg/auth"
	"github.com/platinummonkey/bazaar/pkg/cache"
	"github.com/platinummonkey/bazaar/pkg/config"
	"github.com/platinummonkey/bazaar/pkg/httputil"
	"github.com/platinummonkey/bazaar/pkg/marketplace"
	"github.com/platinummonkey/bazaar/pkg/middleware"
	"github.com/platinummonkey/bazaar/pkg/observability"
	"github.com/platinummonkey/bazaar/pkg/storage/blob"
	"github.com/platinummonkey/bazaar/pkg/storage/sqldb"
)

// blobMountPath is where the filesystem store's download handler is served
const blobMountPath = "/blobs"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "bazaar: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.Level(), os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Error("bazaar exited with error")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *observability.Logger) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	otelProviders, err := observability.InitOTel(ctx, cfg.Observability.OTel(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	db, err := sqldb.Open(ctx, cfg.Database.SQL())
	if err != nil {
		return err
	}
	if err := sqldb.Migrate(ctx, db); err != nil {
		db.Close()
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	logger.WithField("driver", cfg.Database.Driver).Info("Database ready")

	blobs, blobHandler, err := openBlobStore(ctx, cfg.Blob, metrics)
	if err != nil {
		db.Close()
		return err
	}

	extCache, err := cache.New(ctx, cfg.Cache.Cache(), metrics)
	if err != nil {
		db.Close()
		return fmt.Errorf("failed to initialize cache: %w", err)
	}

	sessions, err := openSessionVerifier(ctx, cfg.Auth)
	if err != nil {
		db.Close()
		return err
	}

	// detached from ctx so queued events survive the signal; drained on shutdown
	downloads := async.NewWorkerPool(context.WithoutCancel(ctx), cfg.Server.DownloadWorkers, cfg.Server.DownloadQueueSize,
		"download recording", 10*time.Second, logger)
	tasks := async.NewDispatcher(logger, metrics, 5*time.Second)

	service := marketplace.NewService(db, blobs, logger, marketplace.Config{
		SignedURLTTL:          cfg.Blob.SignedURLTTL,
		APIKeyLifetimeDays:    cfg.Auth.APIKeyLifetimeDays,
		APIKeyMaxLifetimeDays: cfg.Auth.APIKeyMaxLifetimeDays,
	},
		marketplace.WithCache(extCache),
		marketplace.WithDownloadPool(downloads),
		marketplace.WithMetrics(metrics),
	)

	resolver := auth.NewResolver(sessions, service, tasks, logger)
	authn := middleware.NewAuthenticator(resolver, metrics)

	router := mux.NewRouter()
	marketplace.NewHandlers(service, authn, cfg.Server.MaxBundleBytes).RegisterRoutes(router)
	if blobHandler != nil {
		router.PathPrefix(blobMountPath + "/").Handler(http.StripPrefix(blobMountPath, blobHandler))
	}

	handler := httputil.Chain(
		httputil.RequestIDMiddleware(logger),
		httputil.RecoveryMiddleware,
		httputil.LoggingMiddleware,
		observability.HTTPMetricsMiddleware(metrics),
	)(router)

	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      otelhttp.NewHandler(handler, "bazaar"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	deps := []observability.Dependency{
		observability.DatabaseDependency(db),
		{Name: "blob", Critical: true, Check: blobs.HealthCheck},
	}
	if redisCache, ok := extCache.(*cache.RedisCache); ok {
		deps = append(deps, observability.RedisDependency(redisCache.Client()))
	}
	health := observability.NewHealthChecker(cfg.Observability.OTelServiceVersion, deps...)

	opsMux := http.NewServeMux()
	opsMux.HandleFunc("/healthz", health.Liveness)
	opsMux.HandleFunc("/readyz", health.Readiness)
	if cfg.Observability.MetricsEnabled {
		opsMux.Handle("/metrics", observability.MetricsHandler(registry))
	}
	opsServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:           opsMux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := opsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("Health server failed")
		}
	}()

	shutdown := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)
	shutdown.Register("health server", opsServer.Shutdown)
	shutdown.Register("download pool", func(ctx context.Context) error {
		return downloads.Shutdown(remaining(ctx))
	})
	shutdown.Register("background tasks", tasks.Wait)
	shutdown.Register("cache", func(context.Context) error { return extCache.Close() })
	shutdown.Register("database", func(context.Context) error { return db.Close() })
	shutdown.Register("opentelemetry", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, otelProviders)
	})

	logger.WithFields(map[string]interface{}{
		"addr":        server.Addr,
		"health_addr": opsServer.Addr,
		"blob_type":   cfg.Blob.Type,
	}).Info("Starting bazaar")

	return shutdown.Run(ctx, server.ListenAndServe)
}

// openBlobStore returns the configured store and, for the filesystem
// backend, the handler that serves its signed URLs
func openBlobStore(ctx context.Context, cfg config.BlobConfig, metrics *observability.Metrics) (blob.Store, http.Handler, error) {
	switch cfg.Type {
	case config.BlobTypeFilesystem:
		store, err := blob.NewFilesystemStore(cfg.Filesystem(), metrics)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize filesystem blob store: %w", err)
		}
		return store, store.Handler(), nil
	default:
		store, err := blob.NewS3Store(ctx, cfg.S3(), metrics)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize s3 blob store: %w", err)
		}
		return store, nil, nil
	}
}

func openSessionVerifier(ctx context.Context, cfg config.AuthConfig) (auth.SessionVerifier, error) {
	switch cfg.Provider {
	case config.AuthProviderHMAC:
		v, err := auth.NewHMACVerifier(cfg.HMACSecret, cfg.IssuerURL)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize hmac sessions: %w", err)
		}
		return v, nil
	default:
		v, err := auth.NewOIDCVerifier(ctx, cfg.IssuerURL, cfg.ClientID)
		if err != nil {
			return nil, err
		}
		return v, nil
	}
}

// remaining is the time left before ctx's deadline
func remaining(ctx context.Context) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		return time.Until(deadline)
	}
	return 30 * time.Second
}
