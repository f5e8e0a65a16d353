package billing

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGateway_ChargeSucceeded(t *testing.T) {
	ctx := context.Background()

	t.Run("success - pays the invoice and ignores redelivery", func(t *testing.T) {
		f := newFixture(t)
		inv := f.sentInvoice(t)
		ev := ChargeEvent{ID: "evt_1", Type: ChargeSucceeded, PaymentID: "pay_1", InvoiceID: inv.ID,
			Amount: decimal.NewFromInt(100), Currency: "usd", Method: "Card"}

		res, err := f.svc.Gateway.HandleCharge(ctx, ev)
		require.NoError(t, err)
		assert.False(t, res.Ignored)
		assert.Equal(t, ChargeSucceeded, res.Event)
		require.NotNil(t, res.Payment)
		assert.Equal(t, ExternalPaymentID("pay_1"), res.Payment.ID)
		assert.Equal(t, "pay_1", res.Payment.Reference)
		assert.Equal(t, InvoiceStatusPaid, res.Invoice.Status)

		again, err := f.svc.Gateway.HandleCharge(ctx, ev)
		require.NoError(t, err)
		assert.Equal(t, res.Payment.ID, again.Payment.ID)

		payments, err := f.svc.Ledger.ListByCustomer(ctx, f.customer.ID)
		require.NoError(t, err)
		assert.Len(t, payments, 1)
	})

	t.Run("success - method defaults", func(t *testing.T) {
		f := newFixture(t)
		inv := f.sentInvoice(t)
		res, err := f.svc.Gateway.HandleCharge(ctx, ChargeEvent{Type: ChargeSucceeded, PaymentID: "pay_2", InvoiceID: inv.ID,
			Amount: decimal.NewFromInt(30)})
		require.NoError(t, err)
		assert.Equal(t, defaultGatewayMethod, res.Payment.Method)
		assert.Equal(t, InvoiceStatusSent, res.Invoice.Status)
	})

	t.Run("error - currency mismatch", func(t *testing.T) {
		f := newFixture(t)
		inv := f.sentInvoice(t)
		_, err := f.svc.Gateway.HandleCharge(ctx, ChargeEvent{Type: ChargeSucceeded, PaymentID: "pay_3", InvoiceID: inv.ID,
			Amount: decimal.NewFromInt(8300), Currency: "INR"})
		assert.ErrorIs(t, err, ErrValidation)

		payments, err := f.svc.Ledger.ListByCustomer(ctx, f.customer.ID)
		require.NoError(t, err)
		assert.Empty(t, payments)
	})

	t.Run("error - missing provider payment id", func(t *testing.T) {
		f := newFixture(t)
		inv := f.sentInvoice(t)
		_, err := f.svc.Gateway.HandleCharge(ctx, ChargeEvent{Type: ChargeSucceeded, InvoiceID: inv.ID, Amount: decimal.NewFromInt(100)})
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("error - unknown invoice", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Gateway.HandleCharge(ctx, ChargeEvent{Type: ChargeSucceeded, PaymentID: "pay_4", InvoiceID: "ghost",
			Amount: decimal.NewFromInt(100)})
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestGateway_ChargeSubscription(t *testing.T) {
	ctx := context.Background()

	t.Run("success - sends and pays the current period invoice", func(t *testing.T) {
		f := newFixture(t)
		enrolled := f.enroll(t)

		res, err := f.svc.Gateway.HandleCharge(ctx, ChargeEvent{Type: ChargeSubscription, PaymentID: "pay_1",
			SubscriptionID: enrolled.Subscription.ID, Amount: decimal.NewFromInt(100)})
		require.NoError(t, err)
		assert.Equal(t, enrolled.Invoice.ID, res.Invoice.ID)
		assert.Equal(t, InvoiceStatusPaid, res.Invoice.Status)
		assert.Equal(t, []EventType{EventInvoiceSent, EventInvoicePaid}, f.notifier.types())

		sub, err := f.svc.Subscriptions.Get(ctx, enrolled.Subscription.ID)
		require.NoError(t, err)
		assert.Equal(t, date("2024-02-01"), sub.EndDate)
	})

	t.Run("success - charge after the period ends renews first", func(t *testing.T) {
		f := newFixture(t)
		enrolled := f.enroll(t)
		f.clock.Set("2024-02-02")

		ev := ChargeEvent{Type: ChargeSubscription, PaymentID: "pay_2", SubscriptionID: enrolled.Subscription.ID,
			Amount: decimal.NewFromInt(100)}
		res, err := f.svc.Gateway.HandleCharge(ctx, ev)
		require.NoError(t, err)
		require.NotNil(t, res.Subscription)
		assert.Equal(t, date("2024-02-01"), res.Subscription.StartDate)
		assert.Equal(t, date("2024-03-01"), res.Subscription.EndDate)
		assert.Equal(t, PeriodInvoiceID(enrolled.Subscription.ID, date("2024-02-01")), res.Invoice.ID)
		assert.Equal(t, InvoiceStatusPaid, res.Invoice.Status)
		assert.Contains(t, f.notifier.types(), EventSubscriptionRenewed)

		first, err := f.svc.Invoices.Get(ctx, enrolled.Invoice.ID)
		require.NoError(t, err)
		assert.Equal(t, InvoiceStatusDraft, first.Status)

		again, err := f.svc.Gateway.HandleCharge(ctx, ev)
		require.NoError(t, err)
		assert.Equal(t, res.Payment.ID, again.Payment.ID)
		sub, err := f.svc.Subscriptions.Get(ctx, enrolled.Subscription.ID)
		require.NoError(t, err)
		assert.Equal(t, date("2024-03-01"), sub.EndDate)
	})

	t.Run("success - paying a trial activates it", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Catalog.CreatePlan(ctx, PlanSpec{ID: "trial", Name: "Trial", Amount: decimal.NewFromInt(30),
			BillingCycle: BillingCycleMonthly, TrialPeriodDays: 7})
		require.NoError(t, err)
		enrolled, err := f.svc.Subscriptions.Enroll(ctx, EnrollRequest{CustomerID: f.customer.ID, PlanID: "trial", Trial: true})
		require.NoError(t, err)

		_, err = f.svc.Gateway.HandleCharge(ctx, ChargeEvent{Type: ChargeSubscription, PaymentID: "pay_3",
			SubscriptionID: enrolled.Subscription.ID, Amount: decimal.NewFromInt(30)})
		require.NoError(t, err)

		sub, err := f.svc.Subscriptions.Get(ctx, enrolled.Subscription.ID)
		require.NoError(t, err)
		assert.Equal(t, SubscriptionStatusActive, sub.Status)
	})

	t.Run("error - cancelled subscription", func(t *testing.T) {
		f := newFixture(t)
		sub := f.enroll(t).Subscription
		_, err := f.svc.Subscriptions.Cancel(ctx, sub.ID, "moving on")
		require.NoError(t, err)

		_, err = f.svc.Gateway.HandleCharge(ctx, ChargeEvent{Type: ChargeSubscription, PaymentID: "pay_4",
			SubscriptionID: sub.ID, Amount: decimal.NewFromInt(100)})
		assert.ErrorIs(t, err, ErrInvalidState)
	})
}

func TestGateway_SubscriptionCancelled(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sub := f.enroll(t).Subscription
	ev := ChargeEvent{Type: ChargeSubscriptionCancelled, SubscriptionID: sub.ID}

	res, err := f.svc.Gateway.HandleCharge(ctx, ev)
	require.NoError(t, err)
	assert.False(t, res.Ignored)
	assert.Equal(t, SubscriptionStatusCancelled, res.Subscription.Status)
	assert.Equal(t, "cancelled at payment provider", res.Subscription.CancellationReason)

	again, err := f.svc.Gateway.HandleCharge(ctx, ev)
	require.NoError(t, err)
	assert.True(t, again.Ignored)
}

func TestGateway_UnknownEvent(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.Gateway.HandleCharge(context.Background(), ChargeEvent{Type: "subscription.paused"})
	require.NoError(t, err)
	assert.True(t, res.Ignored)
	assert.Equal(t, ChargeEventType("subscription.paused"), res.Event)
}
