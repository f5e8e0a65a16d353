package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// RecordPaymentRequest describes money received against an invoice
type RecordPaymentRequest struct {
	InvoiceID string          `json:"invoice_id"`
	Amount    decimal.Decimal `json:"amount"`
	Method    string          `json:"payment_method"`
	Reference string          `json:"reference,omitempty"`

	// ExternalID is the payment provider's charge identity. A payment
	// already recorded under it is returned instead of a second entry.
	ExternalID string `json:"external_id,omitempty"`
}

// Ledger records payments and refunds against invoices
type Ledger struct {
	env      *env
	invoices *InvoiceGenerator
}

// RecordPayment stores a Completed payment. Once the invoice's settled
// payments reach its total the invoice is marked Paid without another
// ledger entry; a smaller amount leaves the invoice Sent or Overdue.
func (l *Ledger) RecordPayment(ctx context.Context, req RecordPaymentRequest) (res *PaymentResult, err error) {
	ctx, done := l.env.begin(ctx, "payment", "record", req.InvoiceID)
	defer done(&err)

	if err := requireText("invoice_id", req.InvoiceID); err != nil {
		return nil, err
	}
	if err := requireText("payment_method", req.Method); err != nil {
		return nil, err
	}
	inv, err := l.invoices.load(ctx, req.InvoiceID)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	if req.ExternalID != "" {
		id = ExternalPaymentID(req.ExternalID)
		existing, err := l.env.store.GetPayment(ctx, id)
		if err == nil {
			return &PaymentResult{Payment: existing, Invoice: inv}, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("failed to get payment: %w", err)
		}
	}

	p, err := NewPayment(PaymentTypePayment, req.Amount, inv.Currency)
	if err != nil {
		return nil, err
	}
	if inv.Status != InvoiceStatusSent && inv.Status != InvoiceStatusOverdue {
		return nil, &InvalidStateError{Entity: "invoice", ID: inv.ID, Operation: "record payment against", State: string(inv.Status)}
	}

	p.ID = id
	l.attach(p, inv)
	p.Status = PaymentStatusCompleted
	p.Method = req.Method
	p.Reference = req.Reference
	p.PaymentDate = l.env.now()
	if err := l.env.store.CreatePayment(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to record payment: %w", err)
	}
	l.env.logger.WithFields(logrus.Fields{
		"payment_id": p.ID,
		"invoice_id": inv.ID,
		"amount":     p.Amount.String(),
	}).Info("Payment recorded")

	res = &PaymentResult{Payment: p, Invoice: inv}
	settled, _, err := l.settledAmount(ctx, inv.ID)
	if err != nil {
		l.env.warn(&res.Warnings, "invoice", err, true, logrus.Fields{"invoice_id": inv.ID})
		return res, nil
	}
	if settled.LessThan(inv.TotalAmount) {
		return res, nil
	}

	ir, err := l.invoices.settle(ctx, inv, p, false, req.Method, req.Reference)
	if err != nil {
		l.env.warn(&res.Warnings, "invoice", err, true, logrus.Fields{"invoice_id": inv.ID})
		return res, nil
	}
	res.Invoice = ir.Invoice
	res.Warnings = append(res.Warnings, ir.Warnings...)
	return res, nil
}

// recordSettlement writes the Completed payment covering what is still owed
// on an invoice after earlier partial payments. Its identity is derived from
// the invoice so a retry never duplicates it. Nothing is written when the
// invoice is already covered.
func (l *Ledger) recordSettlement(ctx context.Context, inv *Invoice, method, reference string) (*Payment, error) {
	id := SettlementPaymentID(inv.ID)
	existing, err := l.env.store.GetPayment(ctx, id)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("failed to get settlement: %w", err)
	}

	net, _, err := l.settledAmount(ctx, inv.ID)
	if err != nil {
		return nil, err
	}
	outstanding := inv.TotalAmount.Sub(net)
	if !outstanding.IsPositive() {
		return nil, nil
	}

	p, err := NewPayment(PaymentTypePayment, outstanding, inv.Currency)
	if err != nil {
		return nil, err
	}
	p.ID = id
	l.attach(p, inv)
	p.Status = PaymentStatusCompleted
	p.Method = method
	p.Reference = reference
	p.PaymentDate = l.env.now()

	err = l.env.store.CreatePayment(ctx, p)
	if errors.Is(err, ErrAlreadyExists) {
		return l.load(ctx, p.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to record settlement: %w", err)
	}
	l.env.logger.WithFields(logrus.Fields{
		"payment_id": p.ID,
		"invoice_id": inv.ID,
	}).Info("Settlement recorded")
	return p, nil
}

func (l *Ledger) attach(p *Payment, inv *Invoice) {
	p.InvoiceID = inv.ID
	p.SubscriptionID = inv.SubscriptionID
	p.CustomerID = inv.CustomerID
}

// ProcessRefund reverses a Completed payment. The original is marked
// Refunded first; the negative refund entry is then written as a separate
// step whose identity derives from the original payment. The invoice
// status is left unchanged.
func (l *Ledger) ProcessRefund(ctx context.Context, paymentID, reason string) (res *PaymentResult, err error) {
	ctx, done := l.env.begin(ctx, "payment", "refund", paymentID)
	defer done(&err)

	if err := requireText("refund_reason", reason); err != nil {
		return nil, err
	}
	original, err := l.load(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if original.Type != PaymentTypePayment {
		return nil, &InvalidStateError{Entity: "payment", ID: original.ID, Operation: "refund", State: string(original.Status),
			Reason: "only payments of type payment can be refunded"}
	}
	if original.Status != PaymentStatusCompleted {
		return nil, &InvalidStateError{Entity: "payment", ID: original.ID, Operation: "refund", State: string(original.Status)}
	}

	now := l.env.now()
	original.Status = PaymentStatusRefunded
	original.RefundReason = strings.TrimSpace(reason)
	original.RefundedAt = &now
	if err := l.env.store.UpdatePayment(ctx, original); err != nil {
		return nil, fmt.Errorf("failed to refund payment: %w", err)
	}
	l.env.logger.WithFields(logrus.Fields{
		"payment_id": original.ID,
		"reason":     original.RefundReason,
	}).Info("Payment refunded")

	res = &PaymentResult{Payment: original}
	refund, err := l.recordRefund(ctx, original)
	if err != nil {
		l.env.warn(&res.Warnings, "refund", err, true, logrus.Fields{"payment_id": original.ID})
	}
	res.Refund = refund

	l.env.notify(ctx, &res.Warnings, Event{
		Type:           EventPaymentRefunded,
		CustomerID:     original.CustomerID,
		SubscriptionID: original.SubscriptionID,
		InvoiceID:      original.InvoiceID,
		PaymentID:      original.ID,
		Data:           map[string]string{"amount": original.Amount.String(), "reason": original.RefundReason},
	})
	return res, nil
}

func (l *Ledger) recordRefund(ctx context.Context, original *Payment) (*Payment, error) {
	refund, err := NewPayment(PaymentTypeRefund, original.Amount.Neg(), original.Currency)
	if err != nil {
		return nil, err
	}
	refund.ID = RefundPaymentID(original.ID)
	refund.InvoiceID = original.InvoiceID
	refund.SubscriptionID = original.SubscriptionID
	refund.CustomerID = original.CustomerID
	refund.Status = PaymentStatusCompleted
	refund.Method = original.Method
	refund.Reference = original.Reference
	refund.RefundOf = original.ID
	refund.RefundReason = original.RefundReason
	refund.PaymentDate = l.env.now()

	err = l.env.store.CreatePayment(ctx, refund)
	if errors.Is(err, ErrAlreadyExists) {
		return l.load(ctx, refund.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to record refund: %w", err)
	}
	return refund, nil
}

// EnsureRefund writes the refund entry for a Refunded payment if an earlier
// attempt did not
func (l *Ledger) EnsureRefund(ctx context.Context, paymentID string) (res *PaymentResult, err error) {
	ctx, done := l.env.begin(ctx, "payment", "ensure_refund", paymentID)
	defer done(&err)

	original, err := l.load(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if original.Status != PaymentStatusRefunded {
		return nil, &InvalidStateError{Entity: "payment", ID: original.ID, Operation: "complete refund of", State: string(original.Status)}
	}
	refund, err := l.recordRefund(ctx, original)
	if err != nil {
		return nil, err
	}
	return &PaymentResult{Payment: original, Refund: refund}, nil
}

// settledAmount totals the money held against an invoice. gross counts
// completed payments including ones later refunded; net also subtracts
// completed reversals.
func (l *Ledger) settledAmount(ctx context.Context, invoiceID string) (net, gross decimal.Decimal, err error) {
	payments, err := l.env.store.ListPayments(ctx, PaymentFilter{InvoiceID: invoiceID})
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("failed to list payments: %w", err)
	}
	net, gross = decimal.Zero, decimal.Zero
	for _, p := range payments {
		if !counts(p) {
			continue
		}
		net = net.Add(p.Amount)
		if p.Type == PaymentTypePayment {
			gross = gross.Add(p.Amount)
		}
	}
	return net, gross, nil
}

func counts(p *Payment) bool {
	switch p.Type {
	case PaymentTypePayment:
		return p.Status == PaymentStatusCompleted || p.Status == PaymentStatusRefunded
	case PaymentTypeRefund, PaymentTypeChargeback:
		return p.Status == PaymentStatusCompleted
	}
	return false
}

// Summary aggregates a customer's payments and refunds
func (l *Ledger) Summary(ctx context.Context, customerID string) (*PaymentSummary, error) {
	payments, err := l.env.store.ListPayments(ctx, PaymentFilter{CustomerID: customerID})
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	summary := &PaymentSummary{
		CustomerID:    customerID,
		TotalPaid:     decimal.Zero,
		TotalRefunded: decimal.Zero,
	}
	for _, p := range payments {
		if !counts(p) {
			continue
		}
		if p.Type == PaymentTypePayment {
			summary.TotalPaid = summary.TotalPaid.Add(p.Amount)
			summary.PaymentCount++
		} else {
			summary.TotalRefunded = summary.TotalRefunded.Add(p.Amount.Abs())
			summary.RefundCount++
		}
	}
	summary.NetAmount = summary.TotalPaid.Sub(summary.TotalRefunded)
	return summary, nil
}

// Get retrieves a payment by ID
func (l *Ledger) Get(ctx context.Context, id string) (*Payment, error) {
	return l.load(ctx, id)
}

// ListByCustomer returns a customer's payments and refunds, oldest first
func (l *Ledger) ListByCustomer(ctx context.Context, customerID string) ([]*Payment, error) {
	payments, err := l.env.store.ListPayments(ctx, PaymentFilter{CustomerID: customerID})
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	return payments, nil
}

func (l *Ledger) load(ctx context.Context, id string) (*Payment, error) {
	p, err := l.env.store.GetPayment(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return p, nil
}
