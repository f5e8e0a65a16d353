package main

import (
	"context"
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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/bms/pkg/async"
	"github.com/platinummonkey/bms/pkg/billing"
	"github.com/platinummonkey/bms/pkg/config"
	"github.com/platinummonkey/bms/pkg/notify"
	"github.com/platinummonkey/bms/pkg/observability"
	"github.com/platinummonkey/bms/pkg/scheduler"
	"github.com/platinummonkey/bms/pkg/storage/cache"
	"github.com/platinummonkey/bms/pkg/storage/sqlstore"
)

var version = "dev"

var (
	runOnce              = flag.Bool("run-once", false, "Run both sweeps once and exit")
	subscriptionSchedule = flag.String("subscription-schedule", "", "Cron schedule for the subscription sweep (overrides BMS_SUBSCRIPTION_SWEEP_SCHEDULE)")
	invoiceSchedule      = flag.String("invoice-schedule", "", "Cron schedule for the invoice sweep (overrides BMS_INVOICE_SWEEP_SCHEDULE)")
	dbDSN                = flag.String("db-dsn", "", "Database connection string (overrides BMS_DB_DSN)")
)

func main() {
	flag.Parse()
	for key, value := range map[string]*string{
		"BMS_SUBSCRIPTION_SWEEP_SCHEDULE": subscriptionSchedule,
		"BMS_INVOICE_SWEEP_SCHEDULE":      invoiceSchedule,
		"BMS_DB_DSN":                      dbDSN,
	} {
		if *value != "" {
			os.Setenv(key, *value)
		}
	}

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
		logger.WithError(err).Fatal("Sweeper exited with error")
	}
}

func run(cfg *config.Config, logger *logrus.Logger) error {
	if cfg.Database.Driver == config.DriverMemory {
		return errors.New("the sweeper needs a shared database; BMS_DB_DRIVER=memory is not supported")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := sqlstore.Open(cfg.Database, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	var redisDB *redis.Client
	locker := scheduler.Locker(scheduler.LocalLocker{})
	if cfg.Redis.URL != "" {
		redisDB, err = cache.NewRedisClient(cfg.Redis)
		if err != nil {
			return err
		}
		defer redisDB.Close()
		locker = scheduler.NewRedisLocker(redisDB, cfg.Cache.KeyPrefix)
	} else {
		logger.Warn("No Redis configured; run a single sweeper replica")
	}

	notifier := notify.New(ctx, notify.DefaultConfig(), logger)
	defer func() { _ = notifier.Close(10 * time.Second) }()
	if cfg.Webhook.URL != "" {
		if err := notifier.Register(&notify.Endpoint{
			URL:    cfg.Webhook.URL,
			Secret: cfg.Webhook.Secret,
			Events: cfg.Webhook.Events,
		}); err != nil {
			return fmt.Errorf("webhook: %w", err)
		}
	}

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	svc := billing.NewService(store,
		billing.WithLogger(logger),
		billing.WithRecorder(metrics),
		billing.WithNotifier(notifier),
		billing.WithInvoiceDueDays(cfg.Billing.InvoiceDueDays),
		billing.WithDefaultCurrency(cfg.Billing.DefaultCurrency),
	)

	sched, err := scheduler.New(svc.Sweeper, locker, metrics, cfg.Scheduler, logger)
	if err != nil {
		return err
	}

	if *runOnce {
		report, err := sched.RunOnce(ctx)
		if err != nil {
			return err
		}
		if len(report.Failures) > 0 {
			return fmt.Errorf("%d sweep failures", len(report.Failures))
		}
		return nil
	}

	notifier.Start(ctx)

	health := observability.NewHealthChecker(store.DB(), redisDB, version)
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
	go func() {
		if err := healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("Health server failed")
		}
	}()

	sched.Start()
	logger.WithField("version", version).Info("Billing sweeper started")

	<-ctx.Done()
	logger.Info("Shutting down gracefully...")

	<-sched.Stop().Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Health server shutdown failed")
	}
	logger.Info("Sweeper stopped")
	return nil
}
