package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

// BillingCycle is the recurrence period of a plan
type BillingCycle string

const (
	BillingCycleMonthly    BillingCycle = "monthly"
	BillingCycleQuarterly  BillingCycle = "quarterly"
	BillingCycleSemiAnnual BillingCycle = "semi_annual"
	BillingCycleAnnual     BillingCycle = "annual"
	BillingCycleOneTime    BillingCycle = "one_time"
)

// PlanVisibility controls which customers may enroll in a plan
type PlanVisibility string

const (
	PlanVisibilityAllCustomers      PlanVisibility = "all_customers"
	PlanVisibilitySpecificCustomers PlanVisibility = "specific_customers"
)

// PlanFeature is an informational line item shown alongside a plan
type PlanFeature struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Included    bool   `json:"included" yaml:"included"`
	LimitValue  string `json:"limit_value,omitempty" yaml:"limit_value,omitempty"`
}

// Plan is a billable product offered to customers
type Plan struct {
	ID               string          `json:"id"`
	Name             string          `json:"name"`
	Description      string          `json:"description,omitempty"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	BillingCycle     BillingCycle    `json:"billing_cycle"`
	TrialPeriodDays  int             `json:"trial_period_days"`
	Visibility       PlanVisibility  `json:"visibility"`
	AllowedCustomers []string        `json:"allowed_customers,omitempty"`
	AutoRenewal      bool            `json:"auto_renewal"`
	MaxUsers         int             `json:"max_users,omitempty"`
	StorageLimitGB   int             `json:"storage_limit_gb,omitempty"`
	APICallsLimit    int             `json:"api_calls_limit,omitempty"`
	SupportLevel     string          `json:"support_level,omitempty"`
	Features         []PlanFeature   `json:"features,omitempty"`
	Active           bool            `json:"active"`
	Version          int64           `json:"version"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// CustomerType distinguishes individuals from companies
type CustomerType string

const (
	CustomerTypeIndividual CustomerType = "individual"
	CustomerTypeCompany    CustomerType = "company"
)

// CustomerStatus represents the status of a customer
type CustomerStatus string

const (
	CustomerStatusActive   CustomerStatus = "active"
	CustomerStatusInactive CustomerStatus = "inactive"
)

// Customer is the root aggregate referenced by subscriptions, invoices and payments
type Customer struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Email         string         `json:"email"`
	Phone         string         `json:"phone,omitempty"`
	Type          CustomerType   `json:"customer_type"`
	CompanyName   string         `json:"company_name,omitempty"`
	ContactPerson string         `json:"contact_person,omitempty"`
	Status        CustomerStatus `json:"status"`
	Version       int64          `json:"version"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// SubscriptionStatus represents the status of a subscription
type SubscriptionStatus string

const (
	SubscriptionStatusTrial     SubscriptionStatus = "trial"
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
	SubscriptionStatusExpired   SubscriptionStatus = "expired"
	// SubscriptionStatusSuspended is reserved; no transition produces it.
	SubscriptionStatusSuspended SubscriptionStatus = "suspended"
)

// Terminal reports whether no further transition is legal
func (s SubscriptionStatus) Terminal() bool {
	return s == SubscriptionStatusCancelled || s == SubscriptionStatusExpired
}

// PlanSnapshot is the copy of plan pricing taken at enrollment
type PlanSnapshot struct {
	PlanID       string          `json:"plan_id"`
	PlanName     string          `json:"plan_name"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency"`
	BillingCycle BillingCycle    `json:"billing_cycle"`
}

// SnapshotOf copies the priced fields of a plan
func SnapshotOf(p *Plan) PlanSnapshot {
	return PlanSnapshot{
		PlanID:       p.ID,
		PlanName:     p.Name,
		Amount:       p.Amount,
		Currency:     p.Currency,
		BillingCycle: p.BillingCycle,
	}
}

// Subscription is a customer's enrollment in a plan
type Subscription struct {
	ID                 string             `json:"id"`
	CustomerID         string             `json:"customer_id"`
	Plan               PlanSnapshot       `json:"plan"`
	Status             SubscriptionStatus `json:"status"`
	StartDate          time.Time          `json:"start_date"`
	EndDate            time.Time          `json:"end_date"`
	TrialEndDate       *time.Time         `json:"trial_end_date,omitempty"`
	AutoRenewal        bool               `json:"auto_renewal"`
	CancellationReason string             `json:"cancellation_reason,omitempty"`
	CancelledAt        *time.Time         `json:"cancelled_at,omitempty"`
	Version            int64              `json:"version"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

// Persisted reports whether the subscription has been stored
func (s *Subscription) Persisted() bool {
	return s.Version > 0
}

// Reschedule changes the start date and billing cycle of an unsaved
// subscription and recomputes its end date. Persisted subscriptions
// reject the change with an ImmutableFieldError.
func (s *Subscription) Reschedule(start time.Time, cycle BillingCycle) error {
	if s.Persisted() {
		if !sameDay(start, s.StartDate) {
			return &ImmutableFieldError{Entity: "subscription", Field: "start_date"}
		}
		if cycle != s.Plan.BillingCycle {
			return &ImmutableFieldError{Entity: "subscription", Field: "billing_cycle"}
		}
		return nil
	}

	end, err := PeriodEnd(start, cycle)
	if err != nil {
		return err
	}
	s.StartDate = DateOf(start)
	s.Plan.BillingCycle = cycle
	s.EndDate = end
	return nil
}

// InvoiceStatus represents the status of an invoice
type InvoiceStatus string

const (
	InvoiceStatusDraft     InvoiceStatus = "draft"
	InvoiceStatusSent      InvoiceStatus = "sent"
	InvoiceStatusPaid      InvoiceStatus = "paid"
	InvoiceStatusOverdue   InvoiceStatus = "overdue"
	InvoiceStatusCancelled InvoiceStatus = "cancelled"
)

// Invoice is a bill for a subscription period or a standalone charge
type Invoice struct {
	ID             string          `json:"id"`
	SubscriptionID string          `json:"subscription_id,omitempty"`
	CustomerID     string          `json:"customer_id"`
	PlanID         string          `json:"plan_id,omitempty"`
	PlanName       string          `json:"plan_name,omitempty"`
	Description    string          `json:"description,omitempty"`
	Amount         decimal.Decimal `json:"amount"`
	TaxAmount      decimal.Decimal `json:"tax_amount"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	Currency       string          `json:"currency"`
	Status         InvoiceStatus   `json:"status"`
	InvoiceDate    time.Time       `json:"invoice_date"`
	DueDate        time.Time       `json:"due_date"`
	PeriodStart    *time.Time      `json:"period_start,omitempty"`
	PeriodEnd      *time.Time      `json:"period_end,omitempty"`
	PaidAt         *time.Time      `json:"paid_at,omitempty"`
	DocumentKey    string          `json:"document_key,omitempty"`
	Version        int64           `json:"version"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// SetAmounts replaces amount and tax and recomputes the total in the same step
func (inv *Invoice) SetAmounts(amount, tax decimal.Decimal) error {
	if !amount.IsPositive() {
		return &ValidationError{Field: "amount", Reason: "must be greater than zero"}
	}
	if tax.IsNegative() {
		return &ValidationError{Field: "tax_amount", Reason: "must not be negative"}
	}
	inv.Amount = amount
	inv.TaxAmount = tax
	inv.TotalAmount = amount.Add(tax)
	return nil
}

// PaymentType distinguishes settlements from reversals
type PaymentType string

const (
	PaymentTypePayment    PaymentType = "payment"
	PaymentTypeRefund     PaymentType = "refund"
	PaymentTypeChargeback PaymentType = "chargeback"
)

// PaymentStatus represents the status of a payment
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusCancelled PaymentStatus = "cancelled"
	PaymentStatusRefunded  PaymentStatus = "refunded"
)

// Payment is a ledger entry against an invoice
type Payment struct {
	ID             string          `json:"id"`
	InvoiceID      string          `json:"invoice_id"`
	SubscriptionID string          `json:"subscription_id,omitempty"`
	CustomerID     string          `json:"customer_id"`
	Type           PaymentType     `json:"payment_type"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	Status         PaymentStatus   `json:"status"`
	Method         string          `json:"payment_method,omitempty"`
	Reference      string          `json:"reference,omitempty"`
	PaymentDate    time.Time       `json:"payment_date"`
	RefundOf       string          `json:"refund_of,omitempty"`
	RefundReason   string          `json:"refund_reason,omitempty"`
	RefundedAt     *time.Time      `json:"refunded_at,omitempty"`
	Version        int64           `json:"version"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// NewPayment builds a ledger entry and enforces the sign convention of its type
func NewPayment(typ PaymentType, amount decimal.Decimal, currency string) (*Payment, error) {
	switch typ {
	case PaymentTypePayment:
		if !amount.IsPositive() {
			return nil, &ValidationError{Field: "amount", Reason: "payment amount must be positive"}
		}
	case PaymentTypeRefund, PaymentTypeChargeback:
		if !amount.IsNegative() {
			return nil, &ValidationError{Field: "amount", Reason: string(typ) + " amount must be negative"}
		}
	default:
		return nil, &ValidationError{Field: "payment_type", Reason: "unknown payment type " + string(typ)}
	}
	if err := validateCurrency(currency); err != nil {
		return nil, err
	}
	return &Payment{
		Type:     typ,
		Amount:   amount,
		Currency: currency,
		Status:   PaymentStatusPending,
	}, nil
}

// PaymentStatusReport summarizes how much of an invoice has been settled
type PaymentStatusReport struct {
	InvoiceID   string          `json:"invoice_id"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	PaidAmount  decimal.Decimal `json:"paid_amount"`
	Remaining   decimal.Decimal `json:"remaining_amount"`
	FullyPaid   bool            `json:"is_fully_paid"`
	Status      InvoiceStatus   `json:"status"`
}

// PaymentSummary aggregates a customer's ledger
type PaymentSummary struct {
	CustomerID    string          `json:"customer_id"`
	TotalPaid     decimal.Decimal `json:"total_paid"`
	TotalRefunded decimal.Decimal `json:"total_refunded"`
	NetAmount     decimal.Decimal `json:"net_amount"`
	PaymentCount  int             `json:"payment_count"`
	RefundCount   int             `json:"refund_count"`
}

// Warning reports a best-effort side effect that failed after the
// primary transition had already committed
type Warning struct {
	Step      string `json:"step"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

// SubscriptionResult is returned by lifecycle transitions
type SubscriptionResult struct {
	Subscription *Subscription `json:"subscription"`
	Invoice      *Invoice      `json:"invoice,omitempty"`
	Warnings     []Warning     `json:"warnings,omitempty"`
}

// InvoiceResult is returned by invoice transitions
type InvoiceResult struct {
	Invoice  *Invoice  `json:"invoice"`
	Payment  *Payment  `json:"payment,omitempty"`
	Warnings []Warning `json:"warnings,omitempty"`
}

// PaymentResult is returned by ledger operations
type PaymentResult struct {
	Payment  *Payment  `json:"payment"`
	Refund   *Payment  `json:"refund,omitempty"`
	Invoice  *Invoice  `json:"invoice,omitempty"`
	Warnings []Warning `json:"warnings,omitempty"`
}
