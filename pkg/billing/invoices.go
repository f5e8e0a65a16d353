package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// StandaloneInvoiceRequest asks for an invoice that is not tied to a subscription
type StandaloneInvoiceRequest struct {
	CustomerID  string          `json:"customer_id"`
	Description string          `json:"description,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	TaxAmount   decimal.Decimal `json:"tax_amount"`
	Currency    string          `json:"currency"`
	InvoiceDate time.Time       `json:"invoice_date,omitempty"`
}

// InvoiceGenerator derives invoices from subscriptions and drives their status
type InvoiceGenerator struct {
	env           *env
	ledger        *Ledger
	subscriptions *Lifecycle
}

// DocumentKey is the archive key of an invoice's rendered document
func DocumentKey(invoiceID string) string {
	return "invoices/" + invoiceID + ".pdf"
}

// CreateInvoice materializes the Draft invoice for the subscription's current
// period. The invoice identity is derived from the subscription and period
// start, so repeated calls return the same invoice.
func (g *InvoiceGenerator) CreateInvoice(ctx context.Context, subscriptionID string) (res *InvoiceResult, err error) {
	ctx, done := g.env.begin(ctx, "invoice", "create", "")
	defer done(&err)

	sub, err := g.env.store.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	if sub.Status != SubscriptionStatusTrial && sub.Status != SubscriptionStatusActive {
		return nil, &InvalidStateError{Entity: "subscription", ID: sub.ID, Operation: "invoice", State: string(sub.Status)}
	}
	inv, _, err := g.createForPeriod(ctx, sub)
	if err != nil {
		return nil, err
	}
	return &InvoiceResult{Invoice: inv}, nil
}

// createForPeriod stores the period invoice, or returns the existing one.
// The bool reports whether this call created it.
func (g *InvoiceGenerator) createForPeriod(ctx context.Context, sub *Subscription) (*Invoice, bool, error) {
	start := DateOf(sub.StartDate)
	end := DateOf(sub.EndDate)
	inv := &Invoice{
		ID:             PeriodInvoiceID(sub.ID, start),
		SubscriptionID: sub.ID,
		CustomerID:     sub.CustomerID,
		PlanID:         sub.Plan.PlanID,
		PlanName:       sub.Plan.PlanName,
		Currency:       sub.Plan.Currency,
		Status:         InvoiceStatusDraft,
		InvoiceDate:    start,
		DueDate:        start.AddDate(0, 0, g.env.dueDays),
		PeriodStart:    &start,
		PeriodEnd:      &end,
	}
	if err := inv.SetAmounts(sub.Plan.Amount, decimal.Zero); err != nil {
		return nil, false, err
	}

	err := g.env.store.CreateInvoice(ctx, inv)
	if errors.Is(err, ErrAlreadyExists) {
		existing, gerr := g.env.store.GetInvoice(ctx, inv.ID)
		if gerr != nil {
			return nil, false, fmt.Errorf("failed to get invoice: %w", gerr)
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to create invoice: %w", err)
	}

	g.env.logger.WithFields(logrus.Fields{
		"invoice_id":      inv.ID,
		"subscription_id": sub.ID,
		"total":           inv.TotalAmount.String(),
	}).Info("Invoice created")
	return inv, true, nil
}

// CreateStandaloneInvoice stores a Draft invoice with no subscription
func (g *InvoiceGenerator) CreateStandaloneInvoice(ctx context.Context, req StandaloneInvoiceRequest) (res *InvoiceResult, err error) {
	ctx, done := g.env.begin(ctx, "invoice", "create_standalone", "")
	defer done(&err)

	if err := requireText("customer_id", req.CustomerID); err != nil {
		return nil, err
	}
	currency := strings.ToUpper(req.Currency)
	if currency == "" {
		currency = g.env.defaultCurrency
	}
	if err := validateCurrency(currency); err != nil {
		return nil, err
	}
	if _, err := g.env.store.GetCustomer(ctx, req.CustomerID); err != nil {
		return nil, fmt.Errorf("failed to get customer: %w", err)
	}

	date := req.InvoiceDate
	if date.IsZero() {
		date = g.env.today()
	}
	date = DateOf(date)
	inv := &Invoice{
		ID:          uuid.NewString(),
		CustomerID:  req.CustomerID,
		Description: req.Description,
		Currency:    currency,
		Status:      InvoiceStatusDraft,
		InvoiceDate: date,
		DueDate:     date.AddDate(0, 0, g.env.dueDays),
	}
	if err := inv.SetAmounts(req.Amount, req.TaxAmount); err != nil {
		return nil, err
	}
	if err := g.env.store.CreateInvoice(ctx, inv); err != nil {
		return nil, fmt.Errorf("failed to create invoice: %w", err)
	}
	return &InvoiceResult{Invoice: inv}, nil
}

// Send moves a Draft invoice to Sent. Rendering, archiving and the customer
// notification are best effort and reported as warnings.
func (g *InvoiceGenerator) Send(ctx context.Context, id string) (res *InvoiceResult, err error) {
	ctx, done := g.env.begin(ctx, "invoice", "send", id)
	defer done(&err)

	inv, err := g.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if inv.Status != InvoiceStatusDraft {
		return nil, &InvalidStateError{Entity: "invoice", ID: inv.ID, Operation: "send", State: string(inv.Status)}
	}

	res = &InvoiceResult{}
	inv.Status = InvoiceStatusSent
	if key, ok := g.publishDocument(ctx, inv, &res.Warnings); ok {
		inv.DocumentKey = key
	}
	if err := g.env.store.UpdateInvoice(ctx, inv); err != nil {
		return nil, fmt.Errorf("failed to send invoice: %w", err)
	}
	res.Invoice = inv
	g.env.logger.WithField("invoice_id", inv.ID).Info("Invoice sent")

	g.env.notify(ctx, &res.Warnings, Event{
		Type:           EventInvoiceSent,
		CustomerID:     inv.CustomerID,
		SubscriptionID: inv.SubscriptionID,
		InvoiceID:      inv.ID,
		Data:           map[string]string{"total_amount": inv.TotalAmount.String(), "currency": inv.Currency},
	})
	return res, nil
}

// publishDocument renders and archives the invoice document
func (g *InvoiceGenerator) publishDocument(ctx context.Context, inv *Invoice, warnings *[]Warning) (string, bool) {
	if g.env.renderer == nil || g.env.archive == nil {
		return "", false
	}
	fields := logrus.Fields{"invoice_id": inv.ID}
	data, err := g.render(ctx, inv)
	if err != nil {
		g.env.warn(warnings, "render", err, false, fields)
		return "", false
	}
	key := DocumentKey(inv.ID)
	if err := g.env.archive.Put(ctx, key, data, g.env.renderer.ContentType()); err != nil {
		g.env.warn(warnings, "archive", err, false, fields)
		return "", false
	}
	return key, true
}

func (g *InvoiceGenerator) render(ctx context.Context, inv *Invoice) ([]byte, error) {
	customer, err := g.env.store.GetCustomer(ctx, inv.CustomerID)
	if err != nil {
		return nil, fmt.Errorf("failed to get customer: %w", err)
	}
	return g.env.renderer.RenderInvoice(ctx, inv, customer)
}

// RenderPDF renders the invoice document on demand
func (g *InvoiceGenerator) RenderPDF(ctx context.Context, id string) ([]byte, string, error) {
	if g.env.renderer == nil {
		return nil, "", fmt.Errorf("document renderer: %w", ErrUnavailable)
	}
	inv, err := g.load(ctx, id)
	if err != nil {
		return nil, "", err
	}
	data, err := g.render(ctx, inv)
	if err != nil {
		return nil, "", fmt.Errorf("failed to render invoice: %w", err)
	}
	return data, g.env.renderer.ContentType(), nil
}

// MarkPaid settles a Sent or Overdue invoice and then records a Completed
// payment for its total in the ledger
func (g *InvoiceGenerator) MarkPaid(ctx context.Context, id, method, reference string) (res *InvoiceResult, err error) {
	ctx, done := g.env.begin(ctx, "invoice", "mark_paid", id)
	defer done(&err)

	if err := requireText("payment_method", method); err != nil {
		return nil, err
	}
	inv, err := g.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return g.settle(ctx, inv, nil, true, method, reference)
}

// settle moves the invoice to Paid. With record set, the ledger entry for the
// full total is written afterwards as a separate step; otherwise existing
// payments already cover the invoice.
func (g *InvoiceGenerator) settle(ctx context.Context, inv *Invoice, settlement *Payment, record bool, method, reference string) (*InvoiceResult, error) {
	if inv.Status != InvoiceStatusSent && inv.Status != InvoiceStatusOverdue {
		return nil, &InvalidStateError{Entity: "invoice", ID: inv.ID, Operation: "mark paid", State: string(inv.Status)}
	}

	now := g.env.now()
	inv.Status = InvoiceStatusPaid
	inv.PaidAt = &now
	if err := g.env.store.UpdateInvoice(ctx, inv); err != nil {
		return nil, fmt.Errorf("failed to mark invoice paid: %w", err)
	}
	log := g.env.logger.WithField("invoice_id", inv.ID)
	log.Info("Invoice paid")

	res := &InvoiceResult{Invoice: inv, Payment: settlement}
	if record {
		p, err := g.ledger.recordSettlement(ctx, inv, method, reference)
		if err != nil {
			g.env.warn(&res.Warnings, "ledger", err, true, logrus.Fields{"invoice_id": inv.ID})
		}
		res.Payment = p
	}

	g.activateTrial(ctx, inv, &res.Warnings)
	g.env.notify(ctx, &res.Warnings, Event{
		Type:           EventInvoicePaid,
		CustomerID:     inv.CustomerID,
		SubscriptionID: inv.SubscriptionID,
		InvoiceID:      inv.ID,
	})
	return res, nil
}

// activateTrial converts the invoice's subscription to Active once it is paid
func (g *InvoiceGenerator) activateTrial(ctx context.Context, inv *Invoice, warnings *[]Warning) {
	if inv.SubscriptionID == "" {
		return
	}
	sub, err := g.env.store.GetSubscription(ctx, inv.SubscriptionID)
	if err != nil {
		g.env.warn(warnings, "activation", err, true, logrus.Fields{"subscription_id": inv.SubscriptionID})
		return
	}
	if sub.Status != SubscriptionStatusTrial {
		return
	}
	if err := g.subscriptions.activate(ctx, sub); err != nil {
		g.env.warn(warnings, "activation", err, true, logrus.Fields{"subscription_id": sub.ID})
	}
}

// Reconcile repairs an invoice whose settlement was interrupted after commit.
// A Paid invoice without covering payments gets its settlement entry; a Sent
// or Overdue invoice already covered by payments is marked Paid.
func (g *InvoiceGenerator) Reconcile(ctx context.Context, id string) (res *InvoiceResult, err error) {
	ctx, done := g.env.begin(ctx, "invoice", "reconcile", id)
	defer done(&err)

	inv, err := g.load(ctx, id)
	if err != nil {
		return nil, err
	}
	net, gross, err := g.ledger.settledAmount(ctx, inv.ID)
	if err != nil {
		return nil, err
	}

	switch {
	case inv.Status == InvoiceStatusPaid && gross.LessThan(inv.TotalAmount):
		res = &InvoiceResult{Invoice: inv}
		p, err := g.ledger.recordSettlement(ctx, inv, "", "")
		if err != nil {
			return nil, err
		}
		res.Payment = p
		return res, nil
	case (inv.Status == InvoiceStatusSent || inv.Status == InvoiceStatusOverdue) && net.GreaterThanOrEqual(inv.TotalAmount):
		return g.settle(ctx, inv, nil, false, "", "")
	default:
		return &InvoiceResult{Invoice: inv}, nil
	}
}

// MarkOverdue moves a Sent invoice past its due date to Overdue
func (g *InvoiceGenerator) MarkOverdue(ctx context.Context, id string) (res *InvoiceResult, err error) {
	ctx, done := g.env.begin(ctx, "invoice", "mark_overdue", id)
	defer done(&err)

	inv, err := g.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if inv.Status != InvoiceStatusSent {
		return nil, &InvalidStateError{Entity: "invoice", ID: inv.ID, Operation: "mark overdue", State: string(inv.Status)}
	}
	if !g.env.today().After(DateOf(inv.DueDate)) {
		return nil, &InvalidStateError{Entity: "invoice", ID: inv.ID, Operation: "mark overdue", State: string(inv.Status),
			Reason: "due " + inv.DueDate.Format(time.DateOnly)}
	}

	inv.Status = InvoiceStatusOverdue
	if err := g.env.store.UpdateInvoice(ctx, inv); err != nil {
		return nil, fmt.Errorf("failed to mark invoice overdue: %w", err)
	}
	g.env.logger.WithField("invoice_id", inv.ID).Info("Invoice overdue")

	res = &InvoiceResult{Invoice: inv}
	g.env.notify(ctx, &res.Warnings, Event{
		Type:           EventInvoiceOverdue,
		CustomerID:     inv.CustomerID,
		SubscriptionID: inv.SubscriptionID,
		InvoiceID:      inv.ID,
		Data:           map[string]string{"due_date": inv.DueDate.Format(time.DateOnly)},
	})
	return res, nil
}

// Cancel voids an invoice that has not been paid
func (g *InvoiceGenerator) Cancel(ctx context.Context, id string) (res *InvoiceResult, err error) {
	ctx, done := g.env.begin(ctx, "invoice", "cancel", id)
	defer done(&err)

	inv, err := g.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if inv.Status == InvoiceStatusPaid || inv.Status == InvoiceStatusCancelled {
		return nil, &InvalidStateError{Entity: "invoice", ID: inv.ID, Operation: "cancel", State: string(inv.Status)}
	}
	inv.Status = InvoiceStatusCancelled
	if err := g.env.store.UpdateInvoice(ctx, inv); err != nil {
		return nil, fmt.Errorf("failed to cancel invoice: %w", err)
	}
	g.env.logger.WithField("invoice_id", inv.ID).Info("Invoice cancelled")
	return &InvoiceResult{Invoice: inv}, nil
}

// SetAmounts changes the amount and tax of a Draft invoice; the total is
// recomputed in the same write
func (g *InvoiceGenerator) SetAmounts(ctx context.Context, id string, amount, tax decimal.Decimal) (res *InvoiceResult, err error) {
	ctx, done := g.env.begin(ctx, "invoice", "set_amounts", id)
	defer done(&err)

	inv, err := g.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if inv.Status != InvoiceStatusDraft {
		return nil, &InvalidStateError{Entity: "invoice", ID: inv.ID, Operation: "change amounts of", State: string(inv.Status)}
	}
	if err := inv.SetAmounts(amount, tax); err != nil {
		return nil, err
	}
	if err := g.env.store.UpdateInvoice(ctx, inv); err != nil {
		return nil, fmt.Errorf("failed to update invoice: %w", err)
	}
	return &InvoiceResult{Invoice: inv}, nil
}

// PaymentStatus reports how much of an invoice has been settled
func (g *InvoiceGenerator) PaymentStatus(ctx context.Context, id string) (*PaymentStatusReport, error) {
	inv, err := g.load(ctx, id)
	if err != nil {
		return nil, err
	}
	paid, _, err := g.ledger.settledAmount(ctx, inv.ID)
	if err != nil {
		return nil, err
	}
	remaining := inv.TotalAmount.Sub(paid)
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	return &PaymentStatusReport{
		InvoiceID:   inv.ID,
		TotalAmount: inv.TotalAmount,
		PaidAmount:  paid,
		Remaining:   remaining,
		FullyPaid:   paid.GreaterThanOrEqual(inv.TotalAmount),
		Status:      inv.Status,
	}, nil
}

// Get retrieves an invoice by ID
func (g *InvoiceGenerator) Get(ctx context.Context, id string) (*Invoice, error) {
	return g.load(ctx, id)
}

// ListByCustomer returns a customer's invoices, oldest first
func (g *InvoiceGenerator) ListByCustomer(ctx context.Context, customerID string) ([]*Invoice, error) {
	invoices, err := g.env.store.ListInvoices(ctx, InvoiceFilter{CustomerID: customerID})
	if err != nil {
		return nil, fmt.Errorf("failed to list invoices: %w", err)
	}
	return invoices, nil
}

func (g *InvoiceGenerator) load(ctx context.Context, id string) (*Invoice, error) {
	inv, err := g.env.store.GetInvoice(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get invoice: %w", err)
	}
	return inv, nil
}
