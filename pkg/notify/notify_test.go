package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/bms/pkg/billing"
)

type received struct {
	header http.Header
	body   []byte
}

type recordingServer struct {
	*httptest.Server
	mu       sync.Mutex
	requests []received
	statuses []int
}

// newRecordingServer answers with statuses in order, repeating the last one
func newRecordingServer(t *testing.T, statuses ...int) *recordingServer {
	t.Helper()
	rs := &recordingServer{statuses: statuses}
	rs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		rs.mu.Lock()
		rs.requests = append(rs.requests, received{header: r.Header.Clone(), body: body})
		status := http.StatusOK
		if n := len(rs.requests); len(rs.statuses) > 0 {
			status = rs.statuses[min(n, len(rs.statuses))-1]
		}
		rs.mu.Unlock()
		w.WriteHeader(status)
		_, _ = w.Write([]byte("ack"))
	}))
	t.Cleanup(rs.Close)
	return rs
}

func (rs *recordingServer) received() []received {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return append([]received(nil), rs.requests...)
}

func newTestNotifier(t *testing.T) *Notifier {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	n := New(context.Background(), Config{Workers: 2, Timeout: 2 * time.Second}, logger)
	t.Cleanup(func() { _ = n.Close(time.Second) })
	return n
}

func testEvent(t billing.EventType) billing.Event {
	return billing.Event{
		ID:         "evt-1",
		Type:       t,
		CustomerID: "cust-1",
		InvoiceID:  "inv-1",
		OccurredAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Data:       map[string]string{"total_amount": "108.25"},
	}
}

func waitForStatus(t *testing.T, n *Notifier, endpointID string, status DeliveryStatus) DeliveryLog {
	t.Helper()
	var last DeliveryLog
	require.Eventually(t, func() bool {
		logs := n.Deliveries(endpointID, 1)
		if len(logs) == 0 {
			return false
		}
		last = logs[0]
		return last.Status == status
	}, 2*time.Second, 10*time.Millisecond)
	return last
}

func TestNotifier_Register(t *testing.T) {
	n := newTestNotifier(t)

	err := n.Register(&Endpoint{})
	assert.Error(t, err)

	ep := &Endpoint{URL: "https://example.com/hook", Events: []billing.EventType{billing.EventInvoicePaid}}
	require.NoError(t, n.Register(ep))
	assert.NotEmpty(t, ep.ID)
	assert.True(t, ep.Active)

	got, err := n.Endpoint(ep.ID)
	require.NoError(t, err)
	assert.Equal(t, ep.URL, got.URL)
	assert.Len(t, n.Endpoints(), 1)

	require.NoError(t, n.SetActive(ep.ID, false))
	got, _ = n.Endpoint(ep.ID)
	assert.False(t, got.Active)

	require.NoError(t, n.Unregister(ep.ID))
	_, err = n.Endpoint(ep.ID)
	assert.ErrorIs(t, err, ErrEndpointNotFound)
	assert.ErrorIs(t, n.Unregister(ep.ID), ErrEndpointNotFound)
	assert.ErrorIs(t, n.SetActive(ep.ID, true), ErrEndpointNotFound)
}

func TestNotifier_DeliversSignedEvent(t *testing.T) {
	server := newRecordingServer(t)
	n := newTestNotifier(t)
	ep := &Endpoint{URL: server.URL, Secret: "s3cret", Events: []billing.EventType{billing.EventInvoicePaid}}
	require.NoError(t, n.Register(ep))

	require.NoError(t, n.Notify(context.Background(), testEvent(billing.EventInvoicePaid)))

	log := waitForStatus(t, n, ep.ID, DeliveryStatusSuccess)
	assert.Equal(t, 1, log.Attempts)
	assert.Equal(t, http.StatusOK, log.StatusCode)
	assert.Equal(t, "ack", log.ResponseBody)
	assert.NotContains(t, log.RequestHeaders, HeaderSignature)

	reqs := server.received()
	require.Len(t, reqs, 1)
	req := reqs[0]
	assert.Equal(t, "invoice.paid", req.header.Get(HeaderEvent))
	assert.Equal(t, "evt-1", req.header.Get(HeaderEventID))
	assert.Equal(t, log.ID, req.header.Get(HeaderDelivery))
	assert.NotEmpty(t, req.header.Get(HeaderTimestamp))
	assert.True(t, VerifySignature(req.body, req.header.Get(HeaderSignature), "s3cret"))
	assert.False(t, VerifySignature(req.body, req.header.Get(HeaderSignature), "other"))

	var event billing.Event
	require.NoError(t, json.Unmarshal(req.body, &event))
	assert.Equal(t, billing.EventInvoicePaid, event.Type)
	assert.Equal(t, "inv-1", event.InvoiceID)
}

func TestNotifier_FiltersEndpoints(t *testing.T) {
	server := newRecordingServer(t)
	n := newTestNotifier(t)

	paid := &Endpoint{URL: server.URL, Events: []billing.EventType{billing.EventInvoicePaid}}
	all := &Endpoint{URL: server.URL}
	inactive := &Endpoint{URL: server.URL}
	for _, ep := range []*Endpoint{paid, all, inactive} {
		require.NoError(t, n.Register(ep))
	}
	require.NoError(t, n.SetActive(inactive.ID, false))

	require.NoError(t, n.Notify(context.Background(), testEvent(billing.EventSubscriptionRenewed)))

	waitForStatus(t, n, all.ID, DeliveryStatusSuccess)
	assert.Empty(t, n.Deliveries(paid.ID, 0))
	assert.Empty(t, n.Deliveries(inactive.ID, 0))
	assert.Len(t, server.received(), 1)
}

func TestNotifier_NotifyFillsEventIdentity(t *testing.T) {
	server := newRecordingServer(t)
	n := newTestNotifier(t)
	ep := &Endpoint{URL: server.URL}
	require.NoError(t, n.Register(ep))

	require.NoError(t, n.Notify(context.Background(), billing.Event{Type: billing.EventInvoiceSent, CustomerID: "c"}))
	log := waitForStatus(t, n, ep.ID, DeliveryStatusSuccess)
	assert.NotEmpty(t, log.EventID)

	var event billing.Event
	require.NoError(t, json.Unmarshal(server.received()[0].body, &event))
	assert.Equal(t, log.EventID, event.ID)
	assert.False(t, event.OccurredAt.IsZero())
}

func TestNotifier_RetriesServerErrors(t *testing.T) {
	server := newRecordingServer(t, http.StatusServiceUnavailable, http.StatusOK)
	n := newTestNotifier(t)
	ep := &Endpoint{URL: server.URL, Secret: "k"}
	require.NoError(t, n.Register(ep))

	require.NoError(t, n.Notify(context.Background(), testEvent(billing.EventInvoiceOverdue)))
	log := waitForStatus(t, n, ep.ID, DeliveryStatusRetrying)
	require.NotNil(t, log.NextRetryAt)
	assert.Equal(t, http.StatusServiceUnavailable, log.StatusCode)

	// not due yet
	assert.Equal(t, 0, n.retries.processRetries(time.Now().UTC()))
	assert.Equal(t, 1, n.retries.processRetries(log.NextRetryAt.Add(time.Second)))

	log = waitForStatus(t, n, ep.ID, DeliveryStatusSuccess)
	assert.Equal(t, 2, log.Attempts)
	assert.Empty(t, log.ErrorMessage)

	reqs := server.received()
	require.Len(t, reqs, 2)
	assert.Equal(t, reqs[0].body, reqs[1].body)
	assert.Equal(t, reqs[0].header.Get(HeaderDelivery), reqs[1].header.Get(HeaderDelivery))
	assert.True(t, VerifySignature(reqs[1].body, reqs[1].header.Get(HeaderSignature), "k"))

	stats := n.Stats(ep.ID)
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.Successful)
	assert.Equal(t, 1.0, stats.SuccessRate)
}

func TestNotifier_ClientErrorIsPermanent(t *testing.T) {
	server := newRecordingServer(t, http.StatusBadRequest)
	n := newTestNotifier(t)
	ep := &Endpoint{URL: server.URL}
	require.NoError(t, n.Register(ep))

	require.NoError(t, n.Notify(context.Background(), testEvent(billing.EventInvoiceSent)))
	log := waitForStatus(t, n, ep.ID, DeliveryStatusFailed)
	assert.Equal(t, 1, log.Attempts)
	assert.NotNil(t, log.CompletedAt)
	assert.Contains(t, log.ErrorMessage, "400")
}

func TestNotifier_RetryForRemovedEndpointFails(t *testing.T) {
	server := newRecordingServer(t, http.StatusInternalServerError)
	n := newTestNotifier(t)
	ep := &Endpoint{URL: server.URL}
	require.NoError(t, n.Register(ep))

	require.NoError(t, n.Notify(context.Background(), testEvent(billing.EventInvoiceSent)))
	log := waitForStatus(t, n, ep.ID, DeliveryStatusRetrying)

	require.NoError(t, n.SetActive(ep.ID, false))
	assert.Equal(t, 0, n.retries.processRetries(log.NextRetryAt.Add(time.Second)))

	got, ok := n.deliveries.Get(log.ID)
	require.True(t, ok)
	assert.Equal(t, DeliveryStatusFailed, got.Status)
	assert.Equal(t, "endpoint is inactive", got.ErrorMessage)
}

func TestNotifier_RateLimited(t *testing.T) {
	server := newRecordingServer(t)
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	n := New(context.Background(), Config{Workers: 1, RateLimit: 1, RatePeriod: time.Hour}, logger)
	t.Cleanup(func() { _ = n.Close(time.Second) })

	ep := &Endpoint{URL: server.URL}
	require.NoError(t, n.Register(ep))

	require.NoError(t, n.Notify(context.Background(), testEvent(billing.EventInvoiceSent)))
	waitForStatus(t, n, ep.ID, DeliveryStatusSuccess)

	event := testEvent(billing.EventInvoicePaid)
	event.ID = "evt-2"
	require.NoError(t, n.Notify(context.Background(), event))
	log := waitForStatus(t, n, ep.ID, DeliveryStatusRetrying)
	assert.Contains(t, log.ErrorMessage, "rate limit")
	assert.Len(t, server.received(), 1)
}

func TestNotifier_NotifyAfterClose(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	n := New(context.Background(), DefaultConfig(), logger)
	require.NoError(t, n.Register(&Endpoint{URL: "http://127.0.0.1:1"}))
	require.NoError(t, n.Close(time.Second))

	err := n.Notify(context.Background(), testEvent(billing.EventInvoiceSent))
	assert.Error(t, err)
}

func TestNotifier_StartStop(t *testing.T) {
	server := newRecordingServer(t, http.StatusBadGateway, http.StatusOK)
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	n := New(context.Background(), Config{
		Workers:       1,
		RetryInterval: 10 * time.Millisecond,
		Retry:         RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
	}, logger)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	n.Start(ctx)
	n.Start(ctx)
	t.Cleanup(func() { _ = n.Close(time.Second) })

	ep := &Endpoint{URL: server.URL}
	require.NoError(t, n.Register(ep))
	require.NoError(t, n.Notify(context.Background(), testEvent(billing.EventInvoiceSent)))

	log := waitForStatus(t, n, ep.ID, DeliveryStatusSuccess)
	assert.Equal(t, 2, log.Attempts)
}

func TestSign(t *testing.T) {
	payload := []byte(`{"id":"evt-1"}`)
	sig := Sign(payload, "secret")
	assert.Regexp(t, `^sha256=[0-9a-f]{64}$`, sig)
	assert.True(t, VerifySignature(payload, sig, "secret"))
	assert.False(t, VerifySignature([]byte(`{"id":"evt-2"}`), sig, "secret"))
}

func TestEndpoint_Subscribed(t *testing.T) {
	ep := Endpoint{}
	assert.True(t, ep.Subscribed(billing.EventPaymentRefunded))

	ep.Events = []billing.EventType{billing.EventInvoicePaid}
	assert.True(t, ep.Subscribed(billing.EventInvoicePaid))
	assert.False(t, ep.Subscribed(billing.EventPaymentRefunded))
}

func TestRetryPolicy(t *testing.T) {
	p := NewRetryPolicy(RetryConfig{})

	assert.Equal(t, time.Second, p.NextRetryDelay(0))
	assert.Equal(t, time.Second, p.NextRetryDelay(1))
	assert.Equal(t, 2*time.Second, p.NextRetryDelay(2))
	assert.Equal(t, 8*time.Second, p.NextRetryDelay(4))
	assert.Equal(t, 5*time.Minute, p.NextRetryDelay(20))

	assert.False(t, p.ShouldRetry(1, nil))
	assert.True(t, p.ShouldRetry(1, assert.AnError))
	assert.False(t, p.ShouldRetry(5, assert.AnError))
	assert.False(t, p.ShouldRetry(1, permanent(assert.AnError)))

	before := time.Now()
	next := p.NextRetryTime(3)
	assert.WithinDuration(t, before.Add(4*time.Second), next, time.Second)
}

func TestRateLimiter(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(2, time.Minute)
	rl.now = func() time.Time { return now }

	assert.Equal(t, 2, rl.Remaining("a"))
	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"))

	now = now.Add(90 * time.Second)
	assert.Equal(t, 1, rl.Remaining("a"))
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))

	now = now.Add(time.Hour)
	assert.Equal(t, 2, rl.Remaining("a"))

	rl.Reset("b")
	assert.Equal(t, 2, rl.Remaining("b"))
}

func TestDeliveryLogStore(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewDeliveryLogStore(10)

	for i := 0; i < 10; i++ {
		s.Add(DeliveryLog{
			ID:         string(rune('a' + i)),
			EndpointID: "ep",
			EventID:    "evt",
			Status:     DeliveryStatusSuccess,
			Duration:   time.Duration(i+1) * time.Millisecond,
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		})
	}
	s.Add(DeliveryLog{ID: "k", EndpointID: "ep", Status: DeliveryStatusFailed, CreatedAt: base.Add(time.Hour)})

	_, ok := s.Get("a")
	assert.False(t, ok, "oldest entry evicted")

	logs := s.GetByEndpoint("ep", 3)
	require.Len(t, logs, 3)
	assert.Equal(t, "k", logs[0].ID)
	assert.Equal(t, "j", logs[1].ID)

	assert.Len(t, s.GetByEvent("evt"), 9)

	stats := s.GetStats("ep")
	assert.Equal(t, 10, stats.Total)
	assert.Equal(t, 9, stats.Successful)
	assert.Equal(t, 1, stats.Failed)
	assert.InDelta(t, 0.9, stats.SuccessRate, 1e-9)
	assert.Equal(t, 6*time.Millisecond, stats.AverageDuration)

	s.Update(DeliveryLog{ID: "a", Status: DeliveryStatusSuccess})
	_, ok = s.Get("a")
	assert.False(t, ok, "update does not resurrect evicted entries")
}

func TestDeliveryLogStore_PendingRetriesAreCopies(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	due := now.Add(-time.Second)
	later := now.Add(time.Minute)
	s := NewDeliveryLogStore(0)
	s.Add(DeliveryLog{ID: "due", Status: DeliveryStatusRetrying, NextRetryAt: &due})
	s.Add(DeliveryLog{ID: "later", Status: DeliveryStatusRetrying, NextRetryAt: &later})
	s.Add(DeliveryLog{ID: "done", Status: DeliveryStatusSuccess})

	pending := s.GetPendingRetries(now)
	require.Len(t, pending, 1)
	assert.Equal(t, "due", pending[0].ID)

	*pending[0].NextRetryAt = later
	got, _ := s.Get("due")
	assert.Equal(t, due, *got.NextRetryAt)
}

func TestNotifier_ConcurrentNotify(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	n := newTestNotifier(t)
	require.NoError(t, n.Register(&Endpoint{URL: server.URL}))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, n.Notify(context.Background(), billing.Event{Type: billing.EventInvoiceSent}))
		}()
	}
	wg.Wait()

	assert.Eventually(t, func() bool { return hits.Load() == 20 }, 2*time.Second, 10*time.Millisecond)
}
