package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/bms/pkg/api"
	"github.com/platinummonkey/bms/pkg/async"
	"github.com/platinummonkey/bms/pkg/billing"
	"github.com/platinummonkey/bms/pkg/catalogfile"
	"github.com/platinummonkey/bms/pkg/config"
	"github.com/platinummonkey/bms/pkg/notify"
	"github.com/platinummonkey/bms/pkg/observability"
	"github.com/platinummonkey/bms/pkg/render"
	"github.com/platinummonkey/bms/pkg/storage/archive"
	"github.com/platinummonkey/bms/pkg/storage/cache"
	"github.com/platinummonkey/bms/pkg/storage/sqlstore"
)

var version = "dev"

var (
	port        = flag.String("port", "", "API port (overrides BMS_PORT)")
	healthPort  = flag.String("health-port", "", "Health and metrics port (overrides BMS_HEALTH_PORT)")
	dbDriver    = flag.String("db-driver", "", "Database driver: postgres, sqlite3 or memory (overrides BMS_DB_DRIVER)")
	dbDSN       = flag.String("db-dsn", "", "Database connection string (overrides BMS_DB_DSN)")
	catalogPath = flag.String("catalog", "", "Plan catalog file to apply and watch (overrides BMS_CATALOG_FILE)")
	logLevel    = flag.String("log-level", "", "Log level (overrides BMS_LOG_LEVEL)")
	migrate     = flag.Bool("migrate", true, "Apply database migrations on startup")
)

func main() {
	flag.Parse()
	applyFlags()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Observability.LogLevel,
		Format: cfg.Observability.LogFormat,
	})
	async.SetLogger(logger)

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("Server exited with error")
	}
	logger.Info("Server stopped")
}

// applyFlags copies explicitly set flags over the environment so
// config.LoadConfig sees a single source
func applyFlags() {
	overrides := map[string]*string{
		"BMS_PORT":         port,
		"BMS_HEALTH_PORT":  healthPort,
		"BMS_DB_DRIVER":    dbDriver,
		"BMS_DB_DSN":       dbDSN,
		"BMS_CATALOG_FILE": catalogPath,
		"BMS_LOG_LEVEL":    logLevel,
	}
	for key, value := range overrides {
		if *value != "" {
			os.Setenv(key, *value)
		}
	}
}

func run(cfg *config.Config, logger *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout)
	defer func() {
		if err := shutdown.Shutdown(); err != nil {
			logger.WithError(err).Error("Shutdown incomplete")
		}
	}()

	tp, err := observability.InitTracing(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}, logger)
	if err != nil {
		return err
	}
	shutdown.RegisterStage(observability.StageDrain, "tracing", func(ctx context.Context) error {
		return observability.ShutdownTracing(ctx, tp, logger)
	})

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(registry)

	var (
		store   billing.Store
		sqlDB   *sqlstore.Store
		redisDB *redis.Client
	)
	if cfg.Database.Driver == config.DriverMemory {
		logger.Warn("Using in-memory store; data is lost on restart")
		store = billing.NewMemoryStore()
	} else {
		sqlDB, err = sqlstore.Open(cfg.Database, logger)
		if err != nil {
			return err
		}
		shutdown.RegisterStage(observability.StageRelease, "database", func(context.Context) error { return sqlDB.Close() })
		if *migrate {
			if err := sqlDB.Migrate(ctx); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
		}
		store = sqlDB
	}

	if cfg.Redis.URL != "" {
		redisDB, err = cache.NewRedisClient(cfg.Redis)
		if err != nil {
			return err
		}
		shutdown.RegisterStage(observability.StageRelease, "redis", func(context.Context) error { return redisDB.Close() })
	}
	if cfg.Cache.Enabled {
		store = cache.New(store, redisDB, cfg.Cache.Config, logger)
	}

	docs, err := archive.New(ctx, cfg.Archive)
	if err != nil {
		return fmt.Errorf("archive: %w", err)
	}

	notifier := notify.New(ctx, notify.DefaultConfig(), logger)
	notifier.Start(ctx)
	shutdown.RegisterStage(observability.StageDrain, "notifier", func(context.Context) error { return notifier.Close(10 * time.Second) })
	if cfg.Webhook.URL != "" {
		if err := notifier.Register(&notify.Endpoint{
			URL:         cfg.Webhook.URL,
			Secret:      cfg.Webhook.Secret,
			Events:      cfg.Webhook.Events,
			Description: "configured at startup",
		}); err != nil {
			return fmt.Errorf("webhook: %w", err)
		}
	}

	opts := []billing.Option{
		billing.WithLogger(logger),
		billing.WithRecorder(metrics),
		billing.WithNotifier(notifier),
		billing.WithInvoiceDueDays(cfg.Billing.InvoiceDueDays),
		billing.WithDefaultCurrency(cfg.Billing.DefaultCurrency),
		billing.WithRenderer(render.NewPDFRenderer(render.Issuer{
			Name:    cfg.Billing.IssuerName,
			Address: cfg.Billing.IssuerAddress,
			Email:   cfg.Billing.IssuerEmail,
		})),
	}
	if docs != nil {
		opts = append(opts, billing.WithArchive(docs))
	}
	svc := billing.NewService(store, opts...)

	var db *sql.DB
	if sqlDB != nil {
		db = sqlDB.DB()
	}
	health := observability.NewHealthChecker(db, redisDB, version)
	if docs != nil {
		health.AddOptional("archive", docs)
	}

	apiOpts := []api.Option{
		api.WithWebhooks(notifier),
		api.WithRouteMiddleware(mux.MiddlewareFunc(observability.HTTPMetricsMiddleware(metrics))),
	}
	if cfg.Billing.GatewaySecret != "" {
		apiOpts = append(apiOpts, api.WithGatewaySecret(cfg.Billing.GatewaySecret))
	}
	if len(cfg.Server.CORSOrigins) > 0 {
		apiOpts = append(apiOpts, api.WithCORS(cfg.Server.CORSOrigins...))
	}
	server := api.NewServer(svc, logger, apiOpts...)

	apiServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      otelhttp.NewHandler(server.Handler(), "bms-api"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, health)
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthMux, registry)
	}
	healthServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:           healthMux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	shutdown.Register("api server", apiServer.Shutdown)
	shutdown.Register("health server", healthServer.Shutdown)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithField("addr", apiServer.Addr).Info("Starting billing API server")
		return serve(apiServer)
	})
	g.Go(func() error {
		logger.WithField("addr", healthServer.Addr).Info("Starting health server")
		return serve(healthServer)
	})
	if cfg.Catalog.Path != "" {
		watcher := catalogfile.NewWatcher(cfg.Catalog.Path, catalogfile.NewSyncer(svc.Catalog, logger), cfg.Catalog.Debounce)
		watcher.OnSync = func(report *catalogfile.Report, err error) {
			if err == nil {
				err = report.Err()
			}
			if err != nil {
				logger.WithError(err).Warn("Catalog sync incomplete")
			}
		}
		g.Go(func() error { return watcher.Run(gctx) })
	}
	if sqlDB != nil {
		g.Go(func() error {
			ticker := time.NewTicker(15 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					metrics.UpdateDBStats(sqlDB.Stats())
				}
			}
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")
		return shutdown.Shutdown()
	})

	return g.Wait()
}

func serve(srv *http.Server) error {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
