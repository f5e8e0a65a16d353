package billing

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscriptionStatuses(t *testing.T) {
	assert.Equal(t, SubscriptionStatus("trial"), SubscriptionStatusTrial)
	assert.Equal(t, SubscriptionStatus("active"), SubscriptionStatusActive)
	assert.Equal(t, SubscriptionStatus("cancelled"), SubscriptionStatusCancelled)
	assert.Equal(t, SubscriptionStatus("expired"), SubscriptionStatusExpired)
	assert.Equal(t, SubscriptionStatus("suspended"), SubscriptionStatusSuspended)

	assert.True(t, SubscriptionStatusCancelled.Terminal())
	assert.True(t, SubscriptionStatusExpired.Terminal())
	assert.False(t, SubscriptionStatusTrial.Terminal())
	assert.False(t, SubscriptionStatusActive.Terminal())
}

func TestInvoiceStatuses(t *testing.T) {
	assert.Equal(t, InvoiceStatus("draft"), InvoiceStatusDraft)
	assert.Equal(t, InvoiceStatus("sent"), InvoiceStatusSent)
	assert.Equal(t, InvoiceStatus("paid"), InvoiceStatusPaid)
	assert.Equal(t, InvoiceStatus("overdue"), InvoiceStatusOverdue)
	assert.Equal(t, InvoiceStatus("cancelled"), InvoiceStatusCancelled)
}

func TestNewPayment(t *testing.T) {
	t.Run("success - positive payment", func(t *testing.T) {
		p, err := NewPayment(PaymentTypePayment, decimal.NewFromInt(100), "USD")
		require.NoError(t, err)
		assert.Equal(t, PaymentTypePayment, p.Type)
		assert.True(t, p.Amount.Equal(decimal.NewFromInt(100)))
		assert.Equal(t, PaymentStatusPending, p.Status)
	})

	t.Run("success - negative refund", func(t *testing.T) {
		p, err := NewPayment(PaymentTypeRefund, decimal.NewFromInt(-100), "USD")
		require.NoError(t, err)
		assert.True(t, p.Amount.IsNegative())
	})

	t.Run("success - negative chargeback", func(t *testing.T) {
		_, err := NewPayment(PaymentTypeChargeback, decimal.NewFromInt(-5), "USD")
		require.NoError(t, err)
	})

	rejected := []struct {
		name   string
		typ    PaymentType
		amount decimal.Decimal
	}{
		{"negative payment", PaymentTypePayment, decimal.NewFromInt(-100)},
		{"zero payment", PaymentTypePayment, decimal.Zero},
		{"positive refund", PaymentTypeRefund, decimal.NewFromInt(100)},
		{"zero refund", PaymentTypeRefund, decimal.Zero},
		{"positive chargeback", PaymentTypeChargeback, decimal.NewFromInt(5)},
		{"unknown type", PaymentType("gift"), decimal.NewFromInt(5)},
	}
	for _, tt := range rejected {
		t.Run("error - "+tt.name, func(t *testing.T) {
			p, err := NewPayment(tt.typ, tt.amount, "USD")
			assert.Nil(t, p)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}

	t.Run("error - sign is never flipped", func(t *testing.T) {
		amount := decimal.NewFromInt(-42)
		_, err := NewPayment(PaymentTypePayment, amount, "USD")
		require.Error(t, err)
		assert.True(t, amount.Equal(decimal.NewFromInt(-42)))
		var verr *ValidationError
		require.True(t, errors.As(err, &verr))
		assert.Equal(t, "amount", verr.Field)
	})

	t.Run("error - bad currency", func(t *testing.T) {
		_, err := NewPayment(PaymentTypePayment, decimal.NewFromInt(1), "dollars")
		assert.ErrorIs(t, err, ErrValidation)
	})
}

func TestInvoiceSetAmounts(t *testing.T) {
	inv := &Invoice{}
	require.NoError(t, inv.SetAmounts(decimal.RequireFromString("100.10"), decimal.RequireFromString("8.25")))
	assert.Equal(t, "108.35", inv.TotalAmount.StringFixed(2))

	require.NoError(t, inv.SetAmounts(decimal.NewFromInt(50), decimal.Zero))
	assert.True(t, inv.TotalAmount.Equal(inv.Amount.Add(inv.TaxAmount)))

	t.Run("rejected amounts leave the invoice unchanged", func(t *testing.T) {
		err := inv.SetAmounts(decimal.Zero, decimal.NewFromInt(1))
		assert.ErrorIs(t, err, ErrValidation)
		err = inv.SetAmounts(decimal.NewFromInt(10), decimal.NewFromInt(-1))
		assert.ErrorIs(t, err, ErrValidation)
		assert.True(t, inv.Amount.Equal(decimal.NewFromInt(50)))
		assert.True(t, inv.TotalAmount.Equal(inv.Amount.Add(inv.TaxAmount)))
	})
}

func TestSubscriptionReschedule(t *testing.T) {
	t.Run("unsaved subscription recomputes end date", func(t *testing.T) {
		sub := &Subscription{Plan: PlanSnapshot{BillingCycle: BillingCycleMonthly}}
		require.NoError(t, sub.Reschedule(date("2024-01-01"), BillingCycleMonthly))
		assert.Equal(t, date("2024-02-01"), sub.EndDate)

		require.NoError(t, sub.Reschedule(date("2024-01-01"), BillingCycleAnnual))
		assert.Equal(t, date("2025-01-01"), sub.EndDate)
		assert.Equal(t, BillingCycleAnnual, sub.Plan.BillingCycle)

		require.NoError(t, sub.Reschedule(date("2024-03-31"), BillingCycleQuarterly))
		assert.Equal(t, date("2024-06-30"), sub.EndDate)
	})
}

func TestSubscriptionReschedulePersisted(t *testing.T) {
	sub := &Subscription{Plan: PlanSnapshot{BillingCycle: BillingCycleMonthly}}
	require.NoError(t, sub.Reschedule(date("2024-01-01"), BillingCycleMonthly))
	sub.Version = 1

	err := sub.Reschedule(date("2024-01-05"), BillingCycleMonthly)
	var ierr *ImmutableFieldError
	require.True(t, errors.As(err, &ierr))
	assert.Equal(t, "start_date", ierr.Field)

	err = sub.Reschedule(date("2024-01-01"), BillingCycleAnnual)
	require.True(t, errors.As(err, &ierr))
	assert.Equal(t, "billing_cycle", ierr.Field)
	assert.ErrorIs(t, err, ErrImmutableField)

	assert.NoError(t, sub.Reschedule(date("2024-01-01"), BillingCycleMonthly))
	assert.Equal(t, date("2024-02-01"), sub.EndDate)
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, "success", Outcome(nil))
	assert.Equal(t, "validation", Outcome(&ValidationError{Field: "x"}))
	assert.Equal(t, "eligibility", Outcome(&EligibilityError{}))
	assert.Equal(t, "invalid_state", Outcome(&InvalidStateError{}))
	assert.Equal(t, "immutable_field", Outcome(&ImmutableFieldError{}))
	assert.Equal(t, "conflict", Outcome(Conflict("invoice", "1")))
	assert.Equal(t, "not_found", Outcome(NotFound("invoice", "1")))
	assert.Equal(t, "error", Outcome(errors.New("boom")))
}
