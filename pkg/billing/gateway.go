package billing

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// ChargeEventType names an event reported by the payment provider
type ChargeEventType string

const (
	// ChargeSucceeded reports a one-off charge against an invoice
	ChargeSucceeded ChargeEventType = "charge.succeeded"
	// ChargeSubscription reports a recurring charge for a subscription period
	ChargeSubscription ChargeEventType = "subscription.charged"
	// ChargeSubscriptionCancelled reports a mandate cancelled at the provider
	ChargeSubscriptionCancelled ChargeEventType = "subscription.cancelled"
)

const defaultGatewayMethod = "Payment Gateway"

// ChargeEvent is the provider-neutral form of an inbound payment event.
// PaymentID is the provider's charge identity and makes redelivery safe.
type ChargeEvent struct {
	ID             string          `json:"id"`
	Type           ChargeEventType `json:"type"`
	PaymentID      string          `json:"payment_id,omitempty"`
	InvoiceID      string          `json:"invoice_id,omitempty"`
	SubscriptionID string          `json:"subscription_id,omitempty"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency,omitempty"`
	Method         string          `json:"payment_method,omitempty"`
	Reason         string          `json:"reason,omitempty"`
}

// ChargeResult reports what an inbound event changed. Ignored is set for
// event types the service does not act on and for cancellations of
// subscriptions that already ended.
type ChargeResult struct {
	Event        ChargeEventType `json:"event"`
	Ignored      bool            `json:"ignored"`
	Subscription *Subscription   `json:"subscription,omitempty"`
	Invoice      *Invoice        `json:"invoice,omitempty"`
	Payment      *Payment        `json:"payment,omitempty"`
	Warnings     []Warning       `json:"warnings,omitempty"`
}

// Gateway applies payment provider events to the ledger and lifecycle
type Gateway struct {
	env           *env
	subscriptions *Lifecycle
	invoices      *InvoiceGenerator
	ledger        *Ledger
}

// HandleCharge dispatches a provider event. Unknown event types are
// acknowledged and ignored.
func (g *Gateway) HandleCharge(ctx context.Context, ev ChargeEvent) (res *ChargeResult, err error) {
	ctx, done := g.env.begin(ctx, "gateway", "charge", ev.ID)
	defer done(&err)

	log := g.env.logger.WithFields(logrus.Fields{
		"event":      ev.Type,
		"event_id":   ev.ID,
		"payment_id": ev.PaymentID,
	})

	switch ev.Type {
	case ChargeSucceeded:
		res, err = g.chargeInvoice(ctx, ev)
	case ChargeSubscription:
		res, err = g.chargeSubscription(ctx, ev)
	case ChargeSubscriptionCancelled:
		res, err = g.cancelSubscription(ctx, ev)
	default:
		log.Debug("Ignoring payment provider event")
		return &ChargeResult{Event: ev.Type, Ignored: true}, nil
	}
	if err != nil {
		return nil, err
	}
	res.Event = ev.Type
	log.Info("Payment provider event applied")
	return res, nil
}

func (g *Gateway) chargeInvoice(ctx context.Context, ev ChargeEvent) (*ChargeResult, error) {
	if err := requireText("invoice_id", ev.InvoiceID); err != nil {
		return nil, err
	}
	inv, err := g.invoices.load(ctx, ev.InvoiceID)
	if err != nil {
		return nil, err
	}
	return g.pay(ctx, ev, inv, &ChargeResult{})
}

// chargeSubscription applies a recurring charge. A charge arriving after
// the current period ended renews the subscription first, so the payment
// lands on the new period's invoice. A Draft period invoice is sent before
// it is paid.
func (g *Gateway) chargeSubscription(ctx context.Context, ev ChargeEvent) (*ChargeResult, error) {
	if err := requireText("subscription_id", ev.SubscriptionID); err != nil {
		return nil, err
	}
	if err := requireText("payment_id", ev.PaymentID); err != nil {
		return nil, err
	}
	res := &ChargeResult{}

	if existing, err := g.env.store.GetPayment(ctx, ExternalPaymentID(ev.PaymentID)); err == nil {
		res.Payment = existing
		return res, nil
	}

	sub, err := g.subscriptions.load(ctx, ev.SubscriptionID)
	if err != nil {
		return nil, err
	}
	if sub.Status == SubscriptionStatusActive && sub.AutoRenewal && g.env.today().After(sub.EndDate) {
		renewed, err := g.subscriptions.renew(ctx, sub)
		if err != nil {
			return nil, err
		}
		sub = renewed.Subscription
		res.Warnings = append(res.Warnings, renewed.Warnings...)
	}
	res.Subscription = sub

	created, err := g.invoices.CreateInvoice(ctx, sub.ID)
	if err != nil {
		return nil, err
	}
	inv := created.Invoice
	if inv.Status == InvoiceStatusDraft {
		sent, err := g.invoices.Send(ctx, inv.ID)
		if err != nil {
			return nil, err
		}
		inv = sent.Invoice
		res.Warnings = append(res.Warnings, sent.Warnings...)
	}
	return g.pay(ctx, ev, inv, res)
}

func (g *Gateway) pay(ctx context.Context, ev ChargeEvent, inv *Invoice, res *ChargeResult) (*ChargeResult, error) {
	if err := requireText("payment_id", ev.PaymentID); err != nil {
		return nil, err
	}
	if ev.Currency != "" && !strings.EqualFold(ev.Currency, inv.Currency) {
		return nil, &ValidationError{Field: "currency", Reason: fmt.Sprintf("%s does not match invoice currency %s", strings.ToUpper(ev.Currency), inv.Currency)}
	}
	method := ev.Method
	if strings.TrimSpace(method) == "" {
		method = defaultGatewayMethod
	}

	paid, err := g.ledger.RecordPayment(ctx, RecordPaymentRequest{
		InvoiceID:  inv.ID,
		Amount:     ev.Amount,
		Method:     method,
		Reference:  ev.PaymentID,
		ExternalID: ev.PaymentID,
	})
	if err != nil {
		return nil, err
	}
	res.Payment = paid.Payment
	res.Invoice = paid.Invoice
	res.Warnings = append(res.Warnings, paid.Warnings...)
	return res, nil
}

func (g *Gateway) cancelSubscription(ctx context.Context, ev ChargeEvent) (*ChargeResult, error) {
	if err := requireText("subscription_id", ev.SubscriptionID); err != nil {
		return nil, err
	}
	sub, err := g.subscriptions.load(ctx, ev.SubscriptionID)
	if err != nil {
		return nil, err
	}
	if sub.Status != SubscriptionStatusTrial && sub.Status != SubscriptionStatusActive {
		return &ChargeResult{Ignored: true, Subscription: sub}, nil
	}
	reason := ev.Reason
	if strings.TrimSpace(reason) == "" {
		reason = "cancelled at payment provider"
	}
	cancelled, err := g.subscriptions.Cancel(ctx, sub.ID, reason)
	if err != nil {
		return nil, err
	}
	return &ChargeResult{Subscription: cancelled.Subscription, Warnings: cancelled.Warnings}, nil
}
