package notify

import (
	"context"
	"errors"
	"math"
	"runtime/debug"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// RetryConfig configures retry behavior
type RetryConfig struct {
	MaxAttempts       int           `json:"max_attempts"`
	InitialDelay      time.Duration `json:"initial_delay"`
	MaxDelay          time.Duration `json:"max_delay"`
	BackoffMultiplier float64       `json:"backoff_multiplier"`
}

// DefaultRetryConfig returns the default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       5,
		InitialDelay:      1 * time.Second,
		MaxDelay:          5 * time.Minute,
		BackoffMultiplier: 2.0,
	}
}

// permanentError marks a failure that retrying cannot fix
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func permanent(err error) error { return &permanentError{err: err} }

// RetryPolicy implements exponential backoff
type RetryPolicy struct {
	config RetryConfig
}

// NewRetryPolicy creates a retry policy, filling in defaults
func NewRetryPolicy(config RetryConfig) *RetryPolicy {
	defaults := DefaultRetryConfig()
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = defaults.InitialDelay
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = defaults.MaxDelay
	}
	if config.BackoffMultiplier <= 1.0 {
		config.BackoffMultiplier = defaults.BackoffMultiplier
	}
	return &RetryPolicy{config: config}
}

// ShouldRetry reports whether a delivery that failed with err after the
// given number of attempts should be tried again
func (p *RetryPolicy) ShouldRetry(attempts int, err error) bool {
	if err == nil {
		return false
	}
	var perm *permanentError
	if errors.As(err, &perm) {
		return false
	}
	return attempts < p.config.MaxAttempts
}

// NextRetryDelay is initialDelay * multiplier^(attempts-1), capped at MaxDelay
func (p *RetryPolicy) NextRetryDelay(attempts int) time.Duration {
	if attempts <= 0 {
		return p.config.InitialDelay
	}
	delay := float64(p.config.InitialDelay) * math.Pow(p.config.BackoffMultiplier, float64(attempts-1))
	if delay > float64(p.config.MaxDelay) {
		return p.config.MaxDelay
	}
	return time.Duration(delay)
}

// NextRetryTime calculates when the next retry should occur
func (p *RetryPolicy) NextRetryTime(attempts int) time.Time {
	return time.Now().UTC().Add(p.NextRetryDelay(attempts))
}

// RetryWorker resubmits due deliveries to the notifier's pool
type RetryWorker struct {
	notifier   *Notifier
	deliveries *DeliveryLogStore

	mu     sync.Mutex
	stopCh chan struct{}
}

// NewRetryWorker creates a retry worker
func NewRetryWorker(n *Notifier, deliveries *DeliveryLogStore) *RetryWorker {
	return &RetryWorker{notifier: n, deliveries: deliveries}
}

// Start polls for due retries every interval until ctx ends or Stop is called
func (w *RetryWorker) Start(ctx context.Context, interval time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopCh != nil {
		return
	}
	stopCh := make(chan struct{})
	w.stopCh = stopCh

	go func() {
		defer func() {
			if r := recover(); r != nil {
				w.notifier.logger.WithFields(logrus.Fields{
					"panic": r,
					"stack": string(debug.Stack()),
				}).Error("Panic in webhook retry worker")
			}
		}()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			case <-ticker.C:
				w.processRetries(time.Now().UTC())
			}
		}
	}()
}

// Stop stops the retry worker. It is safe to call more than once.
func (w *RetryWorker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopCh != nil {
		close(w.stopCh)
		w.stopCh = nil
	}
}

// processRetries queues every delivery due at now. Deliveries whose
// endpoint was removed or deactivated are marked failed.
func (w *RetryWorker) processRetries(now time.Time) int {
	queued := 0
	for _, log := range w.deliveries.GetPendingRetries(now) {
		ep, err := w.notifier.Endpoint(log.EndpointID)
		if err != nil || !ep.Active {
			msg := "endpoint is inactive"
			if err != nil {
				msg = err.Error()
			}
			log.Status = DeliveryStatusFailed
			log.ErrorMessage = msg
			log.NextRetryAt = nil
			log.CompletedAt = &now
			w.deliveries.Update(log)
			continue
		}

		// claim the entry so the next tick does not queue it twice
		log.Status = DeliveryStatusPending
		log.NextRetryAt = nil
		w.deliveries.Update(log)

		retry := log
		if err := w.notifier.pool.Submit(func(ctx context.Context) error {
			return w.notifier.attempt(ctx, ep, retry)
		}); err != nil {
			retry.Status = DeliveryStatusFailed
			retry.ErrorMessage = err.Error()
			retry.CompletedAt = &now
			w.deliveries.Update(retry)
			continue
		}
		queued++
	}
	return queued
}
