// Package scheduler runs billing sweeps on cron schedules. When several
// sweeper replicas share a Redis instance only one of them runs each sweep.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/bms/pkg/billing"
)

// Job names
const (
	JobSubscriptions = "subscriptions"
	JobInvoices      = "invoices"
)

// SweepFunc runs one sweep
type SweepFunc func(ctx context.Context) (billing.SweepReport, error)

// Observer receives the outcome of every sweep run
type Observer interface {
	ObserveSweep(job string, duration time.Duration, err error)
}

// Config holds schedules and run limits
type Config struct {
	SubscriptionSchedule string
	InvoiceSchedule      string
	// Timeout bounds a single sweep run
	Timeout time.Duration
	// LockTTL must exceed Timeout so a lease outlives the run it guards
	LockTTL time.Duration
}

// DefaultConfig sweeps subscriptions daily at 00:05 UTC and invoices hourly
func DefaultConfig() Config {
	return Config{
		SubscriptionSchedule: "5 0 * * *",
		InvoiceSchedule:      "15 * * * *",
		Timeout:              10 * time.Minute,
		LockTTL:              15 * time.Minute,
	}
}

// Validate checks that both schedules parse
func (c Config) Validate() error {
	if err := ValidateSchedule(c.SubscriptionSchedule); err != nil {
		return fmt.Errorf("subscription schedule: %w", err)
	}
	if err := ValidateSchedule(c.InvoiceSchedule); err != nil {
		return fmt.Errorf("invoice schedule: %w", err)
	}
	if c.Timeout > 0 && c.LockTTL > 0 && c.LockTTL <= c.Timeout {
		return fmt.Errorf("lock TTL (%v) must exceed timeout (%v)", c.LockTTL, c.Timeout)
	}
	return nil
}

// ValidateSchedule parses a standard five-field cron expression or descriptor
func ValidateSchedule(expr string) error {
	if _, err := cron.ParseStandard(expr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return nil
}

// Scheduler triggers the sweeper's jobs
type Scheduler struct {
	sweeper  *billing.Sweeper
	locker   Locker
	observer Observer
	logger   *logrus.Logger
	config   Config
	cron     *cron.Cron
}

// New creates a scheduler. A nil locker means a single instance.
func New(sweeper *billing.Sweeper, locker Locker, observer Observer, config Config, logger *logrus.Logger) (*Scheduler, error) {
	defaults := DefaultConfig()
	if config.SubscriptionSchedule == "" {
		config.SubscriptionSchedule = defaults.SubscriptionSchedule
	}
	if config.InvoiceSchedule == "" {
		config.InvoiceSchedule = defaults.InvoiceSchedule
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.LockTTL <= 0 {
		config.LockTTL = config.Timeout + 5*time.Minute
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if locker == nil {
		locker = LocalLocker{}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	cronLogger := cron.PrintfLogger(logger)
	s := &Scheduler{
		sweeper:  sweeper,
		locker:   locker,
		observer: observer,
		logger:   logger,
		config:   config,
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
	}

	jobs := []struct {
		name     string
		schedule string
		fn       SweepFunc
	}{
		{JobSubscriptions, config.SubscriptionSchedule, sweeper.SweepSubscriptions},
		{JobInvoices, config.InvoiceSchedule, sweeper.SweepInvoices},
	}
	for _, job := range jobs {
		if _, err := s.cron.AddFunc(job.schedule, func() {
			_, _ = s.RunJob(context.Background(), job.name, job.fn)
		}); err != nil {
			return nil, fmt.Errorf("failed to schedule %s sweep: %w", job.name, err)
		}
	}
	return s, nil
}

// Start begins firing scheduled jobs
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.WithFields(logrus.Fields{
		"subscriptions": s.config.SubscriptionSchedule,
		"invoices":      s.config.InvoiceSchedule,
	}).Info("Sweep scheduler started")
}

// Stop stops the cron and returns a context that is done once running jobs finish
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// RunOnce performs both sweeps immediately under the same per-job locks the
// cron jobs take, so it never overlaps a scheduled run on another replica.
// A sweep whose lock is held elsewhere is skipped.
func (s *Scheduler) RunOnce(ctx context.Context) (billing.SweepReport, error) {
	start := time.Now()
	report, err := s.RunJob(ctx, JobSubscriptions, s.sweeper.SweepSubscriptions)
	if err != nil {
		return report, err
	}
	inv, err := s.RunJob(ctx, JobInvoices, s.sweeper.SweepInvoices)
	report.Merge(inv)
	report.Duration = time.Since(start)
	return report, err
}

// RunJob runs fn under the job's lock and timeout. A run skipped because
// another replica holds the lock returns an empty report and no error.
func (s *Scheduler) RunJob(ctx context.Context, name string, fn SweepFunc) (billing.SweepReport, error) {
	log := s.logger.WithField("job", name)

	release, ok, err := s.locker.Acquire(ctx, "sweep:"+name, s.config.LockTTL)
	if err != nil {
		log.WithError(err).Error("Sweep lock unavailable, skipping run")
		s.observe(name, 0, err)
		return billing.SweepReport{}, err
	}
	if !ok {
		log.Info("Sweep already running elsewhere, skipping")
		return billing.SweepReport{}, nil
	}
	defer release()

	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	start := time.Now()
	log.Info("Sweep started")
	report, err := fn(ctx)
	elapsed := time.Since(start)
	s.observe(name, elapsed, err)

	fields := logrus.Fields{
		"renewed":   report.Renewed,
		"expired":   report.Expired,
		"activated": report.Activated,
		"invoices":  report.Materialized,
		"overdue":   report.Overdue,
		"warnings":  report.Warnings,
		"failures":  len(report.Failures),
		"duration":  elapsed.String(),
	}
	switch {
	case err != nil:
		log.WithFields(fields).WithError(err).Error("Sweep failed")
	case len(report.Failures) > 0:
		log.WithFields(fields).Warn("Sweep finished with failures")
	default:
		log.WithFields(fields).Info("Sweep finished")
	}
	return report, err
}

func (s *Scheduler) observe(name string, d time.Duration, err error) {
	if s.observer != nil {
		s.observer.ObserveSweep(name, d, err)
	}
}
