package render

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/bms/pkg/billing"
)

func testInvoice() *billing.Invoice {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	return &billing.Invoice{
		ID:          "inv-1",
		CustomerID:  "cust-1",
		PlanName:    "Team",
		Amount:      decimal.RequireFromString("100"),
		TaxAmount:   decimal.RequireFromString("8.25"),
		TotalAmount: decimal.RequireFromString("108.25"),
		Currency:    "USD",
		Status:      billing.InvoiceStatusSent,
		InvoiceDate: start,
		DueDate:     start.AddDate(0, 0, 14),
		PeriodStart: &start,
		PeriodEnd:   &end,
	}
}

func TestPDFRenderer_RenderInvoice(t *testing.T) {
	r := NewPDFRenderer(Issuer{Name: "Acme Billing", Email: "billing@acme.test"})
	customer := &billing.Customer{ID: "cust-1", Name: "Zoë Müller", Email: "zoe@example.com", CompanyName: "Müller GmbH"}

	tests := []struct {
		name     string
		mutate   func(inv *billing.Invoice)
		customer *billing.Customer
	}{
		{name: "sent", customer: customer},
		{name: "without customer record"},
		{name: "paid", customer: customer, mutate: func(inv *billing.Invoice) {
			paid := inv.DueDate
			inv.Status = billing.InvoiceStatusPaid
			inv.PaidAt = &paid
		}},
		{name: "standalone", customer: customer, mutate: func(inv *billing.Invoice) {
			inv.PlanName = ""
			inv.Description = "Onboarding services"
			inv.PeriodStart = nil
			inv.PeriodEnd = nil
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := testInvoice()
			if tt.mutate != nil {
				tt.mutate(inv)
			}
			data, err := r.RenderInvoice(context.Background(), inv, tt.customer)
			require.NoError(t, err)
			assert.True(t, bytes.HasPrefix(data, []byte("%PDF")))
			assert.Greater(t, len(data), 500)
		})
	}
}

func TestPDFRenderer_Errors(t *testing.T) {
	r := NewPDFRenderer(Issuer{})
	assert.Equal(t, "application/pdf", r.ContentType())

	_, err := r.RenderInvoice(context.Background(), nil, nil)
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.RenderInvoice(ctx, testInvoice(), nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLineDescription(t *testing.T) {
	inv := testInvoice()
	assert.Equal(t, "Team (Jan 1, 2024 - Feb 1, 2024)", lineDescription(inv))

	inv.PlanName = ""
	inv.PeriodStart = nil
	assert.Equal(t, "Charge", lineDescription(inv))
}
