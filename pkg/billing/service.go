package billing

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("github.com/platinummonkey/bms/pkg/billing")

// EventType names a notification emitted after a committed transition
type EventType string

const (
	EventInvoiceSent           EventType = "invoice.sent"
	EventInvoicePaid           EventType = "invoice.paid"
	EventInvoiceOverdue        EventType = "invoice.overdue"
	EventSubscriptionCancelled EventType = "subscription.cancelled"
	EventSubscriptionRenewed   EventType = "subscription.renewed"
	EventSubscriptionExpired   EventType = "subscription.expired"
	EventPaymentRefunded       EventType = "payment.refunded"
)

// Event is delivered to the Notifier
type Event struct {
	ID             string    `json:"id"`
	Type           EventType `json:"type"`
	CustomerID     string    `json:"customer_id"`
	SubscriptionID string    `json:"subscription_id,omitempty"`
	InvoiceID      string    `json:"invoice_id,omitempty"`
	PaymentID      string    `json:"payment_id,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
	Data           any       `json:"data,omitempty"`
}

// Notifier delivers events to customers or downstream systems
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// DocumentRenderer produces the printable form of an invoice
type DocumentRenderer interface {
	RenderInvoice(ctx context.Context, inv *Invoice, customer *Customer) ([]byte, error)
	ContentType() string
}

// DocumentArchive stores rendered documents
type DocumentArchive interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

// Recorder receives transition outcomes for metrics
type Recorder interface {
	RecordTransition(entity, operation, result string)
	RecordWarning(step string)
}

type nopRecorder struct{}

func (nopRecorder) RecordTransition(string, string, string) {}
func (nopRecorder) RecordWarning(string)                    {}

// Clock returns the current time
type Clock func() time.Time

// Option configures a Service
type Option func(*env)

// WithClock overrides the time source used for dates and sweeps
func WithClock(clock Clock) Option {
	return func(e *env) { e.clock = clock }
}

// WithLogger sets the logger
func WithLogger(logger *logrus.Logger) Option {
	return func(e *env) { e.logger = logger }
}

// WithRecorder sets the metrics recorder
func WithRecorder(r Recorder) Option {
	return func(e *env) { e.recorder = r }
}

// WithNotifier sets the notification collaborator
func WithNotifier(n Notifier) Option {
	return func(e *env) { e.notifier = n }
}

// WithRenderer sets the invoice document renderer
func WithRenderer(r DocumentRenderer) Option {
	return func(e *env) { e.renderer = r }
}

// WithArchive sets where rendered invoices are stored on send
func WithArchive(a DocumentArchive) Option {
	return func(e *env) { e.archive = a }
}

// WithInvoiceDueDays sets the payment term applied to new invoices
func WithInvoiceDueDays(days int) Option {
	return func(e *env) { e.dueDays = days }
}

// WithDefaultCurrency sets the currency applied to plans that omit one
func WithDefaultCurrency(code string) Option {
	return func(e *env) { e.defaultCurrency = code }
}

type env struct {
	store           Store
	clock           Clock
	logger          *logrus.Logger
	recorder        Recorder
	notifier        Notifier
	renderer        DocumentRenderer
	archive         DocumentArchive
	dueDays         int
	defaultCurrency string
}

// Service wires the billing components around a shared Store
type Service struct {
	Catalog       *Catalog
	Customers     *Customers
	Subscriptions *Lifecycle
	Invoices      *InvoiceGenerator
	Ledger        *Ledger
	Gateway       *Gateway
	Sweeper       *Sweeper
}

// NewService creates a Service backed by store
func NewService(store Store, opts ...Option) *Service {
	e := &env{
		store:           store,
		clock:           func() time.Time { return time.Now().UTC() },
		logger:          logrus.StandardLogger(),
		recorder:        nopRecorder{},
		defaultCurrency: "USD",
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.dueDays < 0 {
		e.dueDays = 0
	}

	s := &Service{
		Catalog:   &Catalog{env: e},
		Customers: &Customers{env: e},
	}
	s.Invoices = &InvoiceGenerator{env: e}
	s.Ledger = &Ledger{env: e, invoices: s.Invoices}
	s.Subscriptions = &Lifecycle{env: e, catalog: s.Catalog, invoices: s.Invoices}
	s.Invoices.ledger = s.Ledger
	s.Invoices.subscriptions = s.Subscriptions
	s.Gateway = &Gateway{env: e, subscriptions: s.Subscriptions, invoices: s.Invoices, ledger: s.Ledger}
	s.Sweeper = &Sweeper{env: e, subscriptions: s.Subscriptions, invoices: s.Invoices}
	return s
}

func (e *env) now() time.Time {
	return e.clock().UTC()
}

func (e *env) today() time.Time {
	return DateOf(e.now())
}

// begin opens a span for a transition. The returned func records the outcome
// and must be deferred with a pointer to the named error result.
func (e *env) begin(ctx context.Context, entity, op, id string) (context.Context, func(*error)) {
	ctx, span := tracer.Start(ctx, "billing."+entity+"."+op)
	if id != "" {
		span.SetAttributes(attribute.String(entity+".id", id))
	}
	return ctx, func(errp *error) {
		result := "success"
		if errp != nil && *errp != nil {
			result = Outcome(*errp)
			span.RecordError(*errp)
			span.SetStatus(codes.Error, (*errp).Error())
		}
		e.recorder.RecordTransition(entity, op, result)
		span.End()
	}
}

// warn records a failed side effect without failing the transition
func (e *env) warn(warnings *[]Warning, step string, err error, retryable bool, fields logrus.Fields) {
	e.logger.WithFields(fields).WithError(err).Warnf("%s step failed after commit", step)
	e.recorder.RecordWarning(step)
	*warnings = append(*warnings, Warning{Step: step, Message: err.Error(), Retryable: retryable})
}

func (e *env) notify(ctx context.Context, warnings *[]Warning, event Event) {
	if e.notifier == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = e.now()
	}
	if err := e.notifier.Notify(ctx, event); err != nil {
		e.warn(warnings, "notification", err, false, logrus.Fields{
			"event":       event.Type,
			"customer_id": event.CustomerID,
		})
	}
}

// Outcome classifies an error into a short label for metrics and logs
func Outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrEligibility):
		return "eligibility"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrImmutableField):
		return "immutable_field"
	case errors.Is(err, ErrConcurrentModification):
		return "conflict"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
