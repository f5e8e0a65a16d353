package billing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// EnrollRequest asks to subscribe a customer to a plan
type EnrollRequest struct {
	CustomerID string    `json:"customer_id"`
	PlanID     string    `json:"plan_id"`
	StartDate  time.Time `json:"start_date"`
	// Trial starts the subscription in Trial when the plan offers trial days
	Trial bool `json:"trial"`
	// AutoRenewal overrides the plan default when set
	AutoRenewal *bool `json:"auto_renewal,omitempty"`
}

// SubscriptionChanges is a partial update of a subscription's schedule
type SubscriptionChanges struct {
	StartDate    *time.Time    `json:"start_date,omitempty"`
	BillingCycle *BillingCycle `json:"billing_cycle,omitempty"`
	AutoRenewal  *bool         `json:"auto_renewal,omitempty"`
}

// Lifecycle moves subscriptions through Trial, Active, Cancelled and Expired
type Lifecycle struct {
	env      *env
	catalog  *Catalog
	invoices *InvoiceGenerator
}

// Enroll creates a subscription and then materializes the invoice for its
// first period. A failed invoice step is reported as a retryable warning.
func (l *Lifecycle) Enroll(ctx context.Context, req EnrollRequest) (res *SubscriptionResult, err error) {
	ctx, done := l.env.begin(ctx, "subscription", "enroll", "")
	defer done(&err)

	if err := requireText("customer_id", req.CustomerID); err != nil {
		return nil, err
	}
	if err := requireText("plan_id", req.PlanID); err != nil {
		return nil, err
	}

	customer, err := l.env.store.GetCustomer(ctx, req.CustomerID)
	if err != nil {
		return nil, fmt.Errorf("failed to get customer: %w", err)
	}
	plan, err := l.env.store.GetPlan(ctx, req.PlanID)
	if err != nil {
		return nil, fmt.Errorf("failed to get plan: %w", err)
	}
	if customer.Status != CustomerStatusActive {
		return nil, &EligibilityError{PlanID: plan.ID, CustomerID: customer.ID, Reason: "customer is inactive"}
	}
	if !plan.Active {
		return nil, &EligibilityError{PlanID: plan.ID, CustomerID: customer.ID, Reason: "plan is inactive"}
	}
	if !l.catalog.IsEligible(plan, customer.ID) {
		return nil, &EligibilityError{PlanID: plan.ID, CustomerID: customer.ID}
	}

	start := req.StartDate
	if start.IsZero() {
		start = l.env.today()
	}

	sub := &Subscription{
		ID:          uuid.NewString(),
		CustomerID:  customer.ID,
		Plan:        SnapshotOf(plan),
		Status:      SubscriptionStatusActive,
		AutoRenewal: plan.AutoRenewal,
	}
	if req.AutoRenewal != nil {
		sub.AutoRenewal = *req.AutoRenewal
	}
	if err := sub.Reschedule(start, plan.BillingCycle); err != nil {
		return nil, err
	}
	if req.Trial && plan.TrialPeriodDays > 0 {
		trialEnd := TrialEnd(sub.StartDate, plan.TrialPeriodDays)
		sub.Status = SubscriptionStatusTrial
		sub.TrialEndDate = &trialEnd
	}

	if err := l.env.store.CreateSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("failed to create subscription: %w", err)
	}

	log := l.env.logger.WithFields(logrus.Fields{
		"subscription_id": sub.ID,
		"customer_id":     sub.CustomerID,
		"plan_id":         sub.Plan.PlanID,
	})
	log.WithField("status", sub.Status).Info("Subscription enrolled")

	res = &SubscriptionResult{Subscription: sub}
	res.Invoice = l.materialize(ctx, sub, &res.Warnings)
	return res, nil
}

// materialize runs the downstream invoice step for the current period
func (l *Lifecycle) materialize(ctx context.Context, sub *Subscription, warnings *[]Warning) *Invoice {
	inv, _, err := l.invoices.createForPeriod(ctx, sub)
	if err != nil {
		l.env.warn(warnings, "invoice", err, true, logrus.Fields{"subscription_id": sub.ID})
		return nil
	}
	return inv
}

// Activate moves a Trial subscription to Active
func (l *Lifecycle) Activate(ctx context.Context, id string) (res *SubscriptionResult, err error) {
	ctx, done := l.env.begin(ctx, "subscription", "activate", id)
	defer done(&err)

	sub, err := l.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := l.activate(ctx, sub); err != nil {
		return nil, err
	}
	return &SubscriptionResult{Subscription: sub}, nil
}

func (l *Lifecycle) activate(ctx context.Context, sub *Subscription) error {
	if sub.Status != SubscriptionStatusTrial {
		return &InvalidStateError{Entity: "subscription", ID: sub.ID, Operation: "activate", State: string(sub.Status)}
	}
	sub.Status = SubscriptionStatusActive
	if err := l.env.store.UpdateSubscription(ctx, sub); err != nil {
		return fmt.Errorf("failed to activate subscription: %w", err)
	}
	l.env.logger.WithField("subscription_id", sub.ID).Info("Subscription activated")
	return nil
}

// Cancel ends a Trial or Active subscription. Invoices already issued are left as they are.
func (l *Lifecycle) Cancel(ctx context.Context, id, reason string) (res *SubscriptionResult, err error) {
	ctx, done := l.env.begin(ctx, "subscription", "cancel", id)
	defer done(&err)

	if err := requireText("cancellation_reason", reason); err != nil {
		return nil, err
	}
	sub, err := l.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.Status != SubscriptionStatusTrial && sub.Status != SubscriptionStatusActive {
		return nil, &InvalidStateError{Entity: "subscription", ID: sub.ID, Operation: "cancel", State: string(sub.Status)}
	}

	now := l.env.now()
	sub.Status = SubscriptionStatusCancelled
	sub.CancellationReason = strings.TrimSpace(reason)
	sub.CancelledAt = &now
	sub.AutoRenewal = false
	if err := l.env.store.UpdateSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("failed to cancel subscription: %w", err)
	}
	l.env.logger.WithFields(logrus.Fields{
		"subscription_id": sub.ID,
		"reason":          sub.CancellationReason,
	}).Info("Subscription cancelled")

	res = &SubscriptionResult{Subscription: sub}
	l.env.notify(ctx, &res.Warnings, Event{
		Type:           EventSubscriptionCancelled,
		CustomerID:     sub.CustomerID,
		SubscriptionID: sub.ID,
		Data:           map[string]string{"reason": sub.CancellationReason},
	})
	return res, nil
}

// Renew advances an Active subscription to its next period and then
// materializes the invoice for that period
func (l *Lifecycle) Renew(ctx context.Context, id string) (res *SubscriptionResult, err error) {
	ctx, done := l.env.begin(ctx, "subscription", "renew", id)
	defer done(&err)

	sub, err := l.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return l.renew(ctx, sub)
}

func (l *Lifecycle) renew(ctx context.Context, sub *Subscription) (*SubscriptionResult, error) {
	if sub.Status != SubscriptionStatusActive {
		return nil, &InvalidStateError{Entity: "subscription", ID: sub.ID, Operation: "renew", State: string(sub.Status)}
	}
	if sub.Plan.BillingCycle == BillingCycleOneTime {
		return nil, &InvalidStateError{Entity: "subscription", ID: sub.ID, Operation: "renew", State: string(sub.Status), Reason: "one-time subscriptions do not renew"}
	}

	start := sub.EndDate
	end, err := PeriodEnd(start, sub.Plan.BillingCycle)
	if err != nil {
		return nil, err
	}
	sub.StartDate = start
	sub.EndDate = end
	if err := l.env.store.UpdateSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("failed to renew subscription: %w", err)
	}
	l.env.logger.WithFields(logrus.Fields{
		"subscription_id": sub.ID,
		"start_date":      sub.StartDate.Format(time.DateOnly),
		"end_date":        sub.EndDate.Format(time.DateOnly),
	}).Info("Subscription renewed")

	res := &SubscriptionResult{Subscription: sub}
	res.Invoice = l.materialize(ctx, sub, &res.Warnings)
	l.env.notify(ctx, &res.Warnings, Event{
		Type:           EventSubscriptionRenewed,
		CustomerID:     sub.CustomerID,
		SubscriptionID: sub.ID,
	})
	return res, nil
}

// Expire ends a Trial or Active subscription whose period has passed and
// which does not auto-renew
func (l *Lifecycle) Expire(ctx context.Context, id string) (res *SubscriptionResult, err error) {
	ctx, done := l.env.begin(ctx, "subscription", "expire", id)
	defer done(&err)

	sub, err := l.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return l.expire(ctx, sub)
}

func (l *Lifecycle) expire(ctx context.Context, sub *Subscription) (*SubscriptionResult, error) {
	if sub.Status != SubscriptionStatusTrial && sub.Status != SubscriptionStatusActive {
		return nil, &InvalidStateError{Entity: "subscription", ID: sub.ID, Operation: "expire", State: string(sub.Status)}
	}
	if !l.env.today().After(sub.EndDate) {
		return nil, &InvalidStateError{Entity: "subscription", ID: sub.ID, Operation: "expire", State: string(sub.Status),
			Reason: "period ends " + sub.EndDate.Format(time.DateOnly)}
	}
	if sub.AutoRenewal && sub.Plan.BillingCycle != BillingCycleOneTime {
		return nil, &InvalidStateError{Entity: "subscription", ID: sub.ID, Operation: "expire", State: string(sub.Status),
			Reason: "auto-renewing subscriptions are renewed instead"}
	}

	sub.Status = SubscriptionStatusExpired
	if err := l.env.store.UpdateSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("failed to expire subscription: %w", err)
	}
	l.env.logger.WithField("subscription_id", sub.ID).Info("Subscription expired")

	res := &SubscriptionResult{Subscription: sub}
	l.env.notify(ctx, &res.Warnings, Event{
		Type:           EventSubscriptionExpired,
		CustomerID:     sub.CustomerID,
		SubscriptionID: sub.ID,
	})
	return res, nil
}

// Update applies schedule changes. Start date and billing cycle are frozen
// once a subscription is stored; auto-renewal may be toggled while the
// subscription is Trial or Active.
func (l *Lifecycle) Update(ctx context.Context, id string, changes SubscriptionChanges) (res *SubscriptionResult, err error) {
	ctx, done := l.env.begin(ctx, "subscription", "update", id)
	defer done(&err)

	sub, err := l.load(ctx, id)
	if err != nil {
		return nil, err
	}

	start, cycle := sub.StartDate, sub.Plan.BillingCycle
	if changes.StartDate != nil {
		start = *changes.StartDate
	}
	if changes.BillingCycle != nil {
		cycle = *changes.BillingCycle
	}
	if err := sub.Reschedule(start, cycle); err != nil {
		return nil, err
	}

	if changes.AutoRenewal != nil && *changes.AutoRenewal != sub.AutoRenewal {
		if sub.Status.Terminal() {
			return nil, &InvalidStateError{Entity: "subscription", ID: sub.ID, Operation: "change auto-renewal of", State: string(sub.Status)}
		}
		sub.AutoRenewal = *changes.AutoRenewal
		if err := l.env.store.UpdateSubscription(ctx, sub); err != nil {
			return nil, fmt.Errorf("failed to update subscription: %w", err)
		}
	}
	return &SubscriptionResult{Subscription: sub}, nil
}

// Get retrieves a subscription by ID
func (l *Lifecycle) Get(ctx context.Context, id string) (*Subscription, error) {
	return l.load(ctx, id)
}

// ListByCustomer returns a customer's subscriptions, oldest first
func (l *Lifecycle) ListByCustomer(ctx context.Context, customerID string) ([]*Subscription, error) {
	subs, err := l.env.store.ListSubscriptions(ctx, SubscriptionFilter{CustomerID: customerID})
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	return subs, nil
}

func (l *Lifecycle) load(ctx context.Context, id string) (*Subscription, error) {
	sub, err := l.env.store.GetSubscription(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return sub, nil
}
