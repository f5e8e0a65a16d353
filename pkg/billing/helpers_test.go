package billing

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(date string) *testClock {
	t, err := time.Parse(time.DateOnly, date)
	if err != nil {
		panic(err)
	}
	return &testClock{now: t.Add(9 * time.Hour)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(date string) {
	t, err := time.Parse(time.DateOnly, date)
	if err != nil {
		panic(err)
	}
	c.mu.Lock()
	c.now = t.Add(9 * time.Hour)
	c.mu.Unlock()
}

// mockNotifier is a mock implementation of Notifier
type mockNotifier struct {
	mu         sync.Mutex
	events     []Event
	notifyFunc func(ctx context.Context, event Event) error
}

func (m *mockNotifier) Notify(ctx context.Context, event Event) error {
	m.mu.Lock()
	m.events = append(m.events, event)
	m.mu.Unlock()
	if m.notifyFunc != nil {
		return m.notifyFunc(ctx, event)
	}
	return nil
}

func (m *mockNotifier) types() []EventType {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]EventType, 0, len(m.events))
	for _, e := range m.events {
		out = append(out, e.Type)
	}
	return out
}

// mockRenderer is a mock implementation of DocumentRenderer
type mockRenderer struct {
	renderFunc func(ctx context.Context, inv *Invoice, customer *Customer) ([]byte, error)
}

func (m *mockRenderer) RenderInvoice(ctx context.Context, inv *Invoice, customer *Customer) ([]byte, error) {
	if m.renderFunc != nil {
		return m.renderFunc(ctx, inv, customer)
	}
	return []byte("%PDF-1.3 " + inv.ID), nil
}

func (m *mockRenderer) ContentType() string { return "application/pdf" }

// mockArchive is a mock implementation of DocumentArchive
type mockArchive struct {
	mu      sync.Mutex
	objects map[string][]byte
	putFunc func(ctx context.Context, key string, data []byte) error
}

func (m *mockArchive) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if m.putFunc != nil {
		if err := m.putFunc(ctx, key, data); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.objects == nil {
		m.objects = make(map[string][]byte)
	}
	m.objects[key] = data
	return nil
}

// faultyStore wraps MemoryStore and lets tests fail selected writes
type faultyStore struct {
	*MemoryStore
	createInvoiceFunc func(ctx context.Context, inv *Invoice) error
	createPaymentFunc func(ctx context.Context, p *Payment) error
}

func (f *faultyStore) CreateInvoice(ctx context.Context, inv *Invoice) error {
	if f.createInvoiceFunc != nil {
		if err := f.createInvoiceFunc(ctx, inv); err != nil {
			return err
		}
	}
	return f.MemoryStore.CreateInvoice(ctx, inv)
}

func (f *faultyStore) CreatePayment(ctx context.Context, p *Payment) error {
	if f.createPaymentFunc != nil {
		if err := f.createPaymentFunc(ctx, p); err != nil {
			return err
		}
	}
	return f.MemoryStore.CreatePayment(ctx, p)
}

var errStoreDown = errors.New("store unavailable")

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type fixture struct {
	svc      *Service
	store    *MemoryStore
	clock    *testClock
	notifier *mockNotifier
	customer *Customer
	plan     *Plan
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	store := NewMemoryStore()
	return newFixtureWithStore(t, store, store, opts...)
}

func newFixtureWithStore(t *testing.T, store Store, mem *MemoryStore, opts ...Option) *fixture {
	t.Helper()
	clock := newTestClock("2024-01-01")
	notifier := &mockNotifier{}
	base := []Option{
		WithClock(clock.Now),
		WithLogger(quietLogger()),
		WithNotifier(notifier),
	}
	svc := NewService(store, append(base, opts...)...)

	ctx := context.Background()
	customer, err := svc.Customers.CreateCustomer(ctx, CustomerSpec{
		ID:    "cust-c",
		Name:  "Customer C",
		Email: "c@example.com",
	})
	require.NoError(t, err)
	plan, err := svc.Catalog.CreatePlan(ctx, PlanSpec{
		ID:           "plan-p",
		Name:         "Plan P",
		Amount:       decimal.NewFromInt(100),
		Currency:     "USD",
		BillingCycle: BillingCycleMonthly,
	})
	require.NoError(t, err)

	return &fixture{svc: svc, store: mem, clock: clock, notifier: notifier, customer: customer, plan: plan}
}

func date(s string) time.Time {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return t
}

func boolPtr(b bool) *bool { return &b }

// enroll subscribes the fixture customer to the fixture plan from 2024-01-01
func (f *fixture) enroll(t *testing.T) *SubscriptionResult {
	t.Helper()
	res, err := f.svc.Subscriptions.Enroll(context.Background(), EnrollRequest{
		CustomerID: f.customer.ID,
		PlanID:     f.plan.ID,
		StartDate:  date("2024-01-01"),
	})
	require.NoError(t, err)
	return res
}

// sentInvoice enrolls and sends the first invoice
func (f *fixture) sentInvoice(t *testing.T) *Invoice {
	t.Helper()
	res := f.enroll(t)
	require.NotNil(t, res.Invoice)
	sent, err := f.svc.Invoices.Send(context.Background(), res.Invoice.ID)
	require.NoError(t, err)
	return sent.Invoice
}
