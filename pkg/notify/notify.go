package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/bms/pkg/async"
	"github.com/platinummonkey/bms/pkg/billing"
)

const (
	HeaderEvent     = "X-BMS-Event"
	HeaderEventID   = "X-BMS-Event-ID"
	HeaderDelivery  = "X-BMS-Delivery"
	HeaderTimestamp = "X-BMS-Timestamp"
	HeaderSignature = "X-BMS-Signature"

	maxResponseBody = 1024
)

// ErrEndpointNotFound is returned for unknown endpoint IDs
var ErrEndpointNotFound = errors.New("endpoint not found")

// Endpoint is a receiver of billing events
type Endpoint struct {
	ID          string              `json:"id"`
	URL         string              `json:"url"`
	Events      []billing.EventType `json:"events"`
	Secret      string              `json:"-"`
	Active      bool                `json:"active"`
	Description string              `json:"description,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

// Subscribed reports whether the endpoint wants events of type t.
// An endpoint without an event list receives everything.
func (e *Endpoint) Subscribed(t billing.EventType) bool {
	if len(e.Events) == 0 {
		return true
	}
	for _, et := range e.Events {
		if et == t {
			return true
		}
	}
	return false
}

// Config controls delivery behavior
type Config struct {
	Workers       int
	Timeout       time.Duration
	RateLimit     int
	RatePeriod    time.Duration
	MaxLogs       int
	RetryInterval time.Duration
	Retry         RetryConfig
}

// DefaultConfig returns the delivery defaults
func DefaultConfig() Config {
	return Config{
		Workers:       4,
		Timeout:       10 * time.Second,
		RateLimit:     100,
		RatePeriod:    time.Minute,
		MaxLogs:       1000,
		RetryInterval: 30 * time.Second,
		Retry:         DefaultRetryConfig(),
	}
}

// Notifier delivers billing events to registered HTTP endpoints.
// Deliveries run on a worker pool so Notify never blocks on the network;
// failed deliveries are retried with exponential backoff.
type Notifier struct {
	mu        sync.RWMutex
	endpoints map[string]*Endpoint

	client     *http.Client
	deliveries *DeliveryLogStore
	policy     *RetryPolicy
	limiter    *RateLimiter
	pool       *async.WorkerPool
	retries    *RetryWorker
	logger     *logrus.Logger
	config     Config
}

var _ billing.Notifier = (*Notifier)(nil)

// New creates a Notifier and starts its delivery workers
func New(ctx context.Context, config Config, logger *logrus.Logger) *Notifier {
	defaults := DefaultConfig()
	if config.Workers <= 0 {
		config.Workers = defaults.Workers
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.RateLimit <= 0 {
		config.RateLimit = defaults.RateLimit
	}
	if config.RatePeriod <= 0 {
		config.RatePeriod = defaults.RatePeriod
	}
	if config.RetryInterval <= 0 {
		config.RetryInterval = defaults.RetryInterval
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	n := &Notifier{
		endpoints:  make(map[string]*Endpoint),
		client:     &http.Client{Timeout: config.Timeout},
		deliveries: NewDeliveryLogStore(config.MaxLogs),
		policy:     NewRetryPolicy(config.Retry),
		limiter:    NewRateLimiter(config.RateLimit, config.RatePeriod),
		pool:       async.NewWorkerPool(ctx, config.Workers, "webhook delivery", config.Timeout),
		logger:     logger,
		config:     config,
	}
	n.retries = NewRetryWorker(n, n.deliveries)
	return n
}

// Start launches the retry worker. It stops when ctx is cancelled or on Close.
func (n *Notifier) Start(ctx context.Context) {
	n.retries.Start(ctx, n.config.RetryInterval)
}

// Close stops the retry worker and drains queued deliveries
func (n *Notifier) Close(timeout time.Duration) error {
	n.retries.Stop()
	return n.pool.Shutdown(timeout)
}

// Register adds an endpoint. A missing ID is generated.
func (n *Notifier) Register(ep *Endpoint) error {
	if ep.URL == "" {
		return fmt.Errorf("endpoint URL is required")
	}
	if ep.ID == "" {
		ep.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	ep.Active = true
	ep.CreatedAt = now
	ep.UpdatedAt = now

	n.mu.Lock()
	defer n.mu.Unlock()
	n.endpoints[ep.ID] = ep
	return nil
}

// Unregister removes an endpoint
func (n *Notifier) Unregister(id string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.endpoints[id]; !ok {
		return ErrEndpointNotFound
	}
	delete(n.endpoints, id)
	n.limiter.Reset(id)
	return nil
}

// SetActive enables or disables delivery to an endpoint
func (n *Notifier) SetActive(id string, active bool) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	ep, ok := n.endpoints[id]
	if !ok {
		return ErrEndpointNotFound
	}
	ep.Active = active
	ep.UpdatedAt = time.Now().UTC()
	return nil
}

// Endpoint returns a copy of a registered endpoint
func (n *Notifier) Endpoint(id string) (Endpoint, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	ep, ok := n.endpoints[id]
	if !ok {
		return Endpoint{}, ErrEndpointNotFound
	}
	return *ep, nil
}

// Endpoints lists registered endpoints ordered by creation time
func (n *Notifier) Endpoints() []Endpoint {
	n.mu.RLock()
	out := make([]Endpoint, 0, len(n.endpoints))
	for _, ep := range n.endpoints {
		out = append(out, *ep)
	}
	n.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Deliveries returns the most recent delivery logs for an endpoint
func (n *Notifier) Deliveries(endpointID string, limit int) []DeliveryLog {
	return n.deliveries.GetByEndpoint(endpointID, limit)
}

// Stats returns delivery statistics for an endpoint
func (n *Notifier) Stats(endpointID string) DeliveryStats {
	return n.deliveries.GetStats(endpointID)
}

// Notify implements billing.Notifier. It queues one delivery per subscribed
// endpoint and returns once they are queued.
func (n *Notifier) Notify(ctx context.Context, event billing.Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	n.mu.RLock()
	targets := make([]Endpoint, 0, len(n.endpoints))
	for _, ep := range n.endpoints {
		if ep.Active && ep.Subscribed(event.Type) {
			targets = append(targets, *ep)
		}
	}
	n.mu.RUnlock()

	var errs []error
	for _, ep := range targets {
		log := DeliveryLog{
			ID:         uuid.NewString(),
			EndpointID: ep.ID,
			EventID:    event.ID,
			EventType:  event.Type,
			URL:        ep.URL,
			Status:     DeliveryStatusPending,
			Payload:    payload,
			CreatedAt:  time.Now().UTC(),
		}
		n.deliveries.Add(log)

		endpoint := ep
		if err := n.pool.Submit(func(ctx context.Context) error {
			return n.attempt(ctx, endpoint, log)
		}); err != nil {
			log.Status = DeliveryStatusFailed
			log.ErrorMessage = err.Error()
			n.deliveries.Update(log)
			errs = append(errs, fmt.Errorf("endpoint %s: %w", ep.ID, err))
		}
	}

	n.logger.WithFields(logrus.Fields{
		"event":       event.Type,
		"event_id":    event.ID,
		"customer_id": event.CustomerID,
		"endpoints":   len(targets),
	}).Debug("Dispatched event")
	return errors.Join(errs...)
}

// attempt sends one delivery and records the outcome in the log
func (n *Notifier) attempt(ctx context.Context, ep Endpoint, log DeliveryLog) error {
	log.Attempts++
	start := time.Now()
	err := n.send(ctx, ep, &log)
	log.Duration = time.Since(start)

	now := time.Now().UTC()
	switch {
	case err == nil:
		log.Status = DeliveryStatusSuccess
		log.ErrorMessage = ""
		log.NextRetryAt = nil
		log.CompletedAt = &now
	case n.policy.ShouldRetry(log.Attempts, err):
		log.Status = DeliveryStatusRetrying
		next := n.policy.NextRetryTime(log.Attempts)
		log.NextRetryAt = &next
		log.ErrorMessage = err.Error()
	default:
		log.Status = DeliveryStatusFailed
		log.ErrorMessage = err.Error()
		log.NextRetryAt = nil
		log.CompletedAt = &now
	}
	n.deliveries.Update(log)

	if err != nil {
		n.logger.WithFields(logrus.Fields{
			"endpoint_id": ep.ID,
			"delivery_id": log.ID,
			"event":       log.EventType,
			"attempts":    log.Attempts,
			"status":      log.Status,
		}).WithError(err).Warn("Webhook delivery failed")
	}
	return err
}

// send posts the stored payload to the endpoint
func (n *Notifier) send(ctx context.Context, ep Endpoint, log *DeliveryLog) error {
	if !n.limiter.Allow(ep.ID) {
		return fmt.Errorf("rate limit exceeded for endpoint %s", ep.ID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(log.Payload))
	if err != nil {
		return permanent(fmt.Errorf("failed to create request: %w", err))
	}

	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "bms-webhooks/1")
	req.Header.Set(HeaderEvent, string(log.EventType))
	req.Header.Set(HeaderEventID, log.EventID)
	req.Header.Set(HeaderDelivery, log.ID)
	req.Header.Set(HeaderTimestamp, timestamp)
	if ep.Secret != "" {
		req.Header.Set(HeaderSignature, Sign(log.Payload, ep.Secret))
	}

	log.RequestHeaders = make(map[string]string, len(req.Header))
	for key, values := range req.Header {
		if len(values) > 0 && key != HeaderSignature {
			log.RequestHeaders[key] = values[0]
		}
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	log.StatusCode = resp.StatusCode
	log.ResponseBody = string(body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := fmt.Errorf("webhook returned non-2xx status: %d", resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 &&
			resp.StatusCode != http.StatusRequestTimeout && resp.StatusCode != http.StatusTooManyRequests {
			return permanent(err)
		}
		return err
	}
	return nil
}

// Sign returns the signature header value for payload
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a signature produced by Sign
func VerifySignature(payload []byte, signature, secret string) bool {
	return hmac.Equal([]byte(Sign(payload, secret)), []byte(signature))
}
