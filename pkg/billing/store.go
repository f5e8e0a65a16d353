package billing

import (
	"context"
	"time"
)

// Store persists billing entities.
//
// Create methods set Version to 1 and fail with ErrAlreadyExists when the ID
// is taken. Update methods treat the entity's Version as the expected stored
// version: on a match the row is written and Version is incremented, otherwise
// they fail with ErrConcurrentModification. Get methods fail with ErrNotFound.
type Store interface {
	CreatePlan(ctx context.Context, p *Plan) error
	GetPlan(ctx context.Context, id string) (*Plan, error)
	UpdatePlan(ctx context.Context, p *Plan) error
	ListPlans(ctx context.Context, filter PlanFilter) ([]*Plan, error)

	CreateCustomer(ctx context.Context, c *Customer) error
	GetCustomer(ctx context.Context, id string) (*Customer, error)
	ListCustomers(ctx context.Context) ([]*Customer, error)

	CreateSubscription(ctx context.Context, s *Subscription) error
	GetSubscription(ctx context.Context, id string) (*Subscription, error)
	UpdateSubscription(ctx context.Context, s *Subscription) error
	ListSubscriptions(ctx context.Context, filter SubscriptionFilter) ([]*Subscription, error)

	CreateInvoice(ctx context.Context, inv *Invoice) error
	GetInvoice(ctx context.Context, id string) (*Invoice, error)
	UpdateInvoice(ctx context.Context, inv *Invoice) error
	ListInvoices(ctx context.Context, filter InvoiceFilter) ([]*Invoice, error)

	CreatePayment(ctx context.Context, p *Payment) error
	GetPayment(ctx context.Context, id string) (*Payment, error)
	UpdatePayment(ctx context.Context, p *Payment) error
	ListPayments(ctx context.Context, filter PaymentFilter) ([]*Payment, error)
}

// PlanFilter narrows ListPlans
type PlanFilter struct {
	ActiveOnly bool
}

// SubscriptionFilter narrows ListSubscriptions. Zero fields match everything.
type SubscriptionFilter struct {
	CustomerID string
	PlanID     string
	Statuses   []SubscriptionStatus
	EndsBefore *time.Time
	Limit      int
}

// InvoiceFilter narrows ListInvoices. Zero fields match everything.
type InvoiceFilter struct {
	CustomerID     string
	SubscriptionID string
	Statuses       []InvoiceStatus
	DueBefore      *time.Time
}

// PaymentFilter narrows ListPayments. Zero fields match everything.
type PaymentFilter struct {
	CustomerID string
	InvoiceID  string
	Types      []PaymentType
	Statuses   []PaymentStatus
}

// Matches reports whether s satisfies the filter
func (f SubscriptionFilter) Matches(s *Subscription) bool {
	if f.CustomerID != "" && s.CustomerID != f.CustomerID {
		return false
	}
	if f.PlanID != "" && s.Plan.PlanID != f.PlanID {
		return false
	}
	if len(f.Statuses) > 0 && !contains(f.Statuses, s.Status) {
		return false
	}
	if f.EndsBefore != nil && !s.EndDate.Before(*f.EndsBefore) {
		return false
	}
	return true
}

// Matches reports whether inv satisfies the filter
func (f InvoiceFilter) Matches(inv *Invoice) bool {
	if f.CustomerID != "" && inv.CustomerID != f.CustomerID {
		return false
	}
	if f.SubscriptionID != "" && inv.SubscriptionID != f.SubscriptionID {
		return false
	}
	if len(f.Statuses) > 0 && !contains(f.Statuses, inv.Status) {
		return false
	}
	if f.DueBefore != nil && !inv.DueDate.Before(*f.DueBefore) {
		return false
	}
	return true
}

// Matches reports whether p satisfies the filter
func (f PaymentFilter) Matches(p *Payment) bool {
	if f.CustomerID != "" && p.CustomerID != f.CustomerID {
		return false
	}
	if f.InvoiceID != "" && p.InvoiceID != f.InvoiceID {
		return false
	}
	if len(f.Types) > 0 && !contains(f.Types, p.Type) {
		return false
	}
	if len(f.Statuses) > 0 && !contains(f.Statuses, p.Status) {
		return false
	}
	return true
}

func contains[T comparable](list []T, v T) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
