package billing

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// paidInvoice runs the enroll, send and mark_paid scenario and returns the settlement payment
func (f *fixture) paidInvoice(t *testing.T) (*Invoice, *Payment) {
	t.Helper()
	inv := f.sentInvoice(t)
	res, err := f.svc.Invoices.MarkPaid(context.Background(), inv.ID, "Bank Transfer", "TX-1")
	require.NoError(t, err)
	require.NotNil(t, res.Payment)
	return res.Invoice, res.Payment
}

func TestLedger_ProcessRefund(t *testing.T) {
	ctx := context.Background()

	t.Run("success - original refunded and negative entry recorded", func(t *testing.T) {
		f := newFixture(t)
		inv, payment := f.paidInvoice(t)

		res, err := f.svc.Ledger.ProcessRefund(ctx, payment.ID, "duplicate charge")
		require.NoError(t, err)
		assert.Empty(t, res.Warnings)

		assert.Equal(t, PaymentStatusRefunded, res.Payment.Status)
		assert.Equal(t, "duplicate charge", res.Payment.RefundReason)
		assert.NotNil(t, res.Payment.RefundedAt)

		require.NotNil(t, res.Refund)
		refund := res.Refund
		assert.Equal(t, RefundPaymentID(payment.ID), refund.ID)
		assert.Equal(t, PaymentTypeRefund, refund.Type)
		assert.Equal(t, PaymentStatusCompleted, refund.Status)
		assert.True(t, refund.Amount.Equal(decimal.NewFromInt(-100)))
		assert.Equal(t, payment.ID, refund.RefundOf)
		assert.Equal(t, inv.ID, refund.InvoiceID)

		stored, err := f.svc.Invoices.Get(ctx, inv.ID)
		require.NoError(t, err)
		assert.Equal(t, InvoiceStatusPaid, stored.Status)
		assert.Contains(t, f.notifier.types(), EventPaymentRefunded)
	})

	t.Run("error - refunding twice", func(t *testing.T) {
		f := newFixture(t)
		_, payment := f.paidInvoice(t)
		_, err := f.svc.Ledger.ProcessRefund(ctx, payment.ID, "duplicate charge")
		require.NoError(t, err)

		_, err = f.svc.Ledger.ProcessRefund(ctx, payment.ID, "again")
		assert.ErrorIs(t, err, ErrInvalidState)

		payments, err := f.svc.Ledger.ListByCustomer(ctx, f.customer.ID)
		require.NoError(t, err)
		assert.Len(t, payments, 2)
	})

	t.Run("error - refund entries cannot be refunded", func(t *testing.T) {
		f := newFixture(t)
		_, payment := f.paidInvoice(t)
		res, err := f.svc.Ledger.ProcessRefund(ctx, payment.ID, "duplicate charge")
		require.NoError(t, err)

		_, err = f.svc.Ledger.ProcessRefund(ctx, res.Refund.ID, "refund the refund")
		assert.ErrorIs(t, err, ErrInvalidState)
	})

	t.Run("error - reason required", func(t *testing.T) {
		f := newFixture(t)
		_, payment := f.paidInvoice(t)
		_, err := f.svc.Ledger.ProcessRefund(ctx, payment.ID, "")
		assert.ErrorIs(t, err, ErrValidation)

		stored, err := f.svc.Ledger.Get(ctx, payment.ID)
		require.NoError(t, err)
		assert.Equal(t, PaymentStatusCompleted, stored.Status)
	})

	t.Run("error - unknown payment", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Ledger.ProcessRefund(ctx, "missing", "reason")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("success - failed refund entry is retried by EnsureRefund", func(t *testing.T) {
		mem := NewMemoryStore()
		store := &faultyStore{MemoryStore: mem}
		f := newFixtureWithStore(t, store, mem)
		_, payment := f.paidInvoice(t)

		store.createPaymentFunc = func(ctx context.Context, p *Payment) error { return errStoreDown }
		res, err := f.svc.Ledger.ProcessRefund(ctx, payment.ID, "duplicate charge")
		require.NoError(t, err)
		assert.Nil(t, res.Refund)
		require.Len(t, res.Warnings, 1)
		assert.Equal(t, "refund", res.Warnings[0].Step)
		assert.True(t, res.Warnings[0].Retryable)

		store.createPaymentFunc = nil
		first, err := f.svc.Ledger.EnsureRefund(ctx, payment.ID)
		require.NoError(t, err)
		second, err := f.svc.Ledger.EnsureRefund(ctx, payment.ID)
		require.NoError(t, err)
		assert.Equal(t, first.Refund.ID, second.Refund.ID)

		payments, err := f.svc.Ledger.ListByCustomer(ctx, f.customer.ID)
		require.NoError(t, err)
		assert.Len(t, payments, 2)
	})

	t.Run("error - EnsureRefund on a completed payment", func(t *testing.T) {
		f := newFixture(t)
		_, payment := f.paidInvoice(t)
		_, err := f.svc.Ledger.EnsureRefund(ctx, payment.ID)
		assert.ErrorIs(t, err, ErrInvalidState)
	})
}

func TestLedger_RecordPayment(t *testing.T) {
	ctx := context.Background()

	t.Run("success - partial payments accumulate until paid", func(t *testing.T) {
		f := newFixture(t)
		inv := f.sentInvoice(t)

		first, err := f.svc.Ledger.RecordPayment(ctx, RecordPaymentRequest{InvoiceID: inv.ID, Amount: decimal.NewFromInt(60), Method: "Card"})
		require.NoError(t, err)
		assert.Equal(t, PaymentStatusCompleted, first.Payment.Status)
		assert.Equal(t, InvoiceStatusSent, first.Invoice.Status)

		second, err := f.svc.Ledger.RecordPayment(ctx, RecordPaymentRequest{InvoiceID: inv.ID, Amount: decimal.NewFromInt(40), Method: "Card"})
		require.NoError(t, err)
		assert.Equal(t, InvoiceStatusPaid, second.Invoice.Status)
		assert.Contains(t, f.notifier.types(), EventInvoicePaid)

		payments, err := f.svc.Ledger.ListByCustomer(ctx, f.customer.ID)
		require.NoError(t, err)
		assert.Len(t, payments, 2)

		_, err = f.svc.Ledger.RecordPayment(ctx, RecordPaymentRequest{InvoiceID: inv.ID, Amount: decimal.NewFromInt(1), Method: "Card"})
		assert.ErrorIs(t, err, ErrInvalidState)
	})

	t.Run("error - negative amount", func(t *testing.T) {
		f := newFixture(t)
		inv := f.sentInvoice(t)
		_, err := f.svc.Ledger.RecordPayment(ctx, RecordPaymentRequest{InvoiceID: inv.ID, Amount: decimal.NewFromInt(-5), Method: "Card"})
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("error - draft invoice", func(t *testing.T) {
		f := newFixture(t)
		inv := f.enroll(t).Invoice
		_, err := f.svc.Ledger.RecordPayment(ctx, RecordPaymentRequest{InvoiceID: inv.ID, Amount: decimal.NewFromInt(5), Method: "Card"})
		assert.ErrorIs(t, err, ErrInvalidState)
	})

	t.Run("error - method required", func(t *testing.T) {
		f := newFixture(t)
		inv := f.sentInvoice(t)
		_, err := f.svc.Ledger.RecordPayment(ctx, RecordPaymentRequest{InvoiceID: inv.ID, Amount: decimal.NewFromInt(5)})
		assert.ErrorIs(t, err, ErrValidation)
	})
}

func TestLedger_Summary(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, payment := f.paidInvoice(t)
	_, err := f.svc.Ledger.ProcessRefund(ctx, payment.ID, "duplicate charge")
	require.NoError(t, err)

	summary, err := f.svc.Ledger.Summary(ctx, f.customer.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.PaymentCount)
	assert.Equal(t, 1, summary.RefundCount)
	assert.True(t, summary.TotalPaid.Equal(decimal.NewFromInt(100)))
	assert.True(t, summary.TotalRefunded.Equal(decimal.NewFromInt(100)))
	assert.True(t, summary.NetAmount.IsZero())

	empty, err := f.svc.Ledger.Summary(ctx, "nobody")
	require.NoError(t, err)
	assert.True(t, empty.TotalPaid.IsZero())
	assert.Zero(t, empty.PaymentCount)
}

func TestSettledAmount(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	inv, payment := f.paidInvoice(t)

	net, gross, err := f.svc.Ledger.settledAmount(ctx, inv.ID)
	require.NoError(t, err)
	assert.True(t, net.Equal(decimal.NewFromInt(100)))
	assert.True(t, gross.Equal(decimal.NewFromInt(100)))

	_, err = f.svc.Ledger.ProcessRefund(ctx, payment.ID, "duplicate charge")
	require.NoError(t, err)

	net, gross, err = f.svc.Ledger.settledAmount(ctx, inv.ID)
	require.NoError(t, err)
	assert.True(t, net.IsZero())
	assert.True(t, gross.Equal(decimal.NewFromInt(100)))

	rec, err := f.svc.Invoices.Reconcile(ctx, inv.ID)
	require.NoError(t, err)
	assert.Nil(t, rec.Payment)

	payments, err := f.svc.Ledger.ListByCustomer(ctx, f.customer.ID)
	require.NoError(t, err)
	assert.Len(t, payments, 2)
}
