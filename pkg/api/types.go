package api

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/platinummonkey/bms/pkg/billing"
)

// Date is a calendar date encoded as YYYY-MM-DD. RFC 3339 timestamps are
// accepted on input and truncated to their date.
type Date struct {
	time.Time
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Format(time.DateOnly))
}

func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("date must be a string: %w", err)
	}
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		d.Time = t
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return fmt.Errorf("invalid date %q: want YYYY-MM-DD", s)
	}
	d.Time = billing.DateOf(t)
	return nil
}

func (d *Date) ptr() *time.Time {
	if d == nil {
		return nil
	}
	t := d.Time
	return &t
}

func (d *Date) value() time.Time {
	if d == nil {
		return time.Time{}
	}
	return d.Time
}

type activeRequest struct {
	Active *bool `json:"active"`
}

type visibilityRequest struct {
	Visibility       billing.PlanVisibility `json:"visibility"`
	AllowedCustomers []string               `json:"allowed_customers,omitempty"`
}

type enrollRequest struct {
	CustomerID  string `json:"customer_id"`
	PlanID      string `json:"plan_id"`
	StartDate   *Date  `json:"start_date,omitempty"`
	Trial       bool   `json:"trial,omitempty"`
	AutoRenewal *bool  `json:"auto_renewal,omitempty"`
}

type subscriptionPatch struct {
	StartDate    *Date                 `json:"start_date,omitempty"`
	BillingCycle *billing.BillingCycle `json:"billing_cycle,omitempty"`
	AutoRenewal  *bool                 `json:"auto_renewal,omitempty"`
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

type standaloneInvoiceRequest struct {
	CustomerID  string          `json:"customer_id"`
	Description string          `json:"description,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	TaxAmount   decimal.Decimal `json:"tax_amount"`
	Currency    string          `json:"currency,omitempty"`
	InvoiceDate *Date           `json:"invoice_date,omitempty"`
}

type amountsRequest struct {
	Amount    *decimal.Decimal `json:"amount"`
	TaxAmount *decimal.Decimal `json:"tax_amount"`
}

type markPaidRequest struct {
	Method    string `json:"payment_method"`
	Reference string `json:"reference,omitempty"`
}

type paymentRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	Method    string          `json:"payment_method"`
	Reference string          `json:"reference,omitempty"`
}

type listResponse[T any] struct {
	Items []T `json:"items"`
	Count int `json:"count"`
}

func list[T any](items []T) listResponse[T] {
	if items == nil {
		items = []T{}
	}
	return listResponse[T]{Items: items, Count: len(items)}
}
