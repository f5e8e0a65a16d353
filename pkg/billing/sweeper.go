package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// SweepFailure records one entity a sweep could not process
type SweepFailure struct {
	EntityID  string `json:"entity_id"`
	Operation string `json:"operation"`
	Error     string `json:"error"`
}

// SweepReport summarizes a sweep run
type SweepReport struct {
	Renewed      int            `json:"renewed"`
	Expired      int            `json:"expired"`
	Activated    int            `json:"activated"`
	Materialized int            `json:"invoices_materialized"`
	Overdue      int            `json:"overdue"`
	Warnings     int            `json:"warnings"`
	Failures     []SweepFailure `json:"failures,omitempty"`
	Duration     time.Duration  `json:"duration"`
}

func (r *SweepReport) fail(id, op string, err error) {
	r.Failures = append(r.Failures, SweepFailure{EntityID: id, Operation: op, Error: err.Error()})
}

// Merge adds another report's counts and failures to r
func (r *SweepReport) Merge(o SweepReport) {
	r.Renewed += o.Renewed
	r.Expired += o.Expired
	r.Activated += o.Activated
	r.Materialized += o.Materialized
	r.Overdue += o.Overdue
	r.Warnings += o.Warnings
	r.Failures = append(r.Failures, o.Failures...)
}

// Sweeper runs the system-driven transitions: expiry, auto-renewal and overdue marking
type Sweeper struct {
	env           *env
	subscriptions *Lifecycle
	invoices      *InvoiceGenerator
}

// Run performs both sweeps
func (s *Sweeper) Run(ctx context.Context) (SweepReport, error) {
	start := time.Now()
	report, err := s.SweepSubscriptions(ctx)
	if err != nil {
		return report, err
	}
	inv, err := s.SweepInvoices(ctx)
	report.Merge(inv)
	report.Duration = time.Since(start)
	return report, err
}

// SweepSubscriptions handles Trial and Active subscriptions whose period has
// ended: auto-renewing ones are renewed (a Trial is activated first), the
// rest expire. It then retries missing period invoices for the remaining
// live subscriptions. One failing subscription does not stop the sweep.
func (s *Sweeper) SweepSubscriptions(ctx context.Context) (report SweepReport, err error) {
	ctx, done := s.env.begin(ctx, "sweep", "subscriptions", "")
	defer done(&err)

	today := s.env.today()
	live := []SubscriptionStatus{SubscriptionStatusTrial, SubscriptionStatusActive}
	ended, err := s.env.store.ListSubscriptions(ctx, SubscriptionFilter{Statuses: live, EndsBefore: &today})
	if err != nil {
		return report, fmt.Errorf("failed to list ended subscriptions: %w", err)
	}

	for _, sub := range ended {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		s.settleEnded(ctx, sub, &report)
	}

	current, err := s.env.store.ListSubscriptions(ctx, SubscriptionFilter{Statuses: live})
	if err != nil {
		return report, fmt.Errorf("failed to list live subscriptions: %w", err)
	}
	for _, sub := range current {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		if _, created, err := s.invoices.createForPeriod(ctx, sub); err != nil {
			report.fail(sub.ID, "invoice", err)
		} else if created {
			report.Materialized++
		}
	}

	s.env.logger.WithFields(logrus.Fields{
		"renewed":   report.Renewed,
		"expired":   report.Expired,
		"activated": report.Activated,
		"invoices":  report.Materialized,
		"failures":  len(report.Failures),
	}).Info("Subscription sweep complete")
	return report, nil
}

func (s *Sweeper) settleEnded(ctx context.Context, sub *Subscription, report *SweepReport) {
	renews := sub.AutoRenewal && sub.Plan.BillingCycle != BillingCycleOneTime
	if !renews {
		res, err := s.subscriptions.expire(ctx, sub)
		if err != nil {
			report.fail(sub.ID, "expire", err)
			return
		}
		report.Expired++
		report.Warnings += len(res.Warnings)
		return
	}

	if sub.Status == SubscriptionStatusTrial {
		if err := s.subscriptions.activate(ctx, sub); err != nil {
			report.fail(sub.ID, "activate", err)
			return
		}
		report.Activated++
	}
	res, err := s.subscriptions.renew(ctx, sub)
	if err != nil {
		report.fail(sub.ID, "renew", err)
		return
	}
	report.Renewed++
	report.Warnings += len(res.Warnings)
	if res.Invoice != nil {
		report.Materialized++
	}
}

// SweepInvoices marks Sent invoices past their due date as Overdue
func (s *Sweeper) SweepInvoices(ctx context.Context) (report SweepReport, err error) {
	ctx, done := s.env.begin(ctx, "sweep", "invoices", "")
	defer done(&err)

	today := s.env.today()
	due, err := s.env.store.ListInvoices(ctx, InvoiceFilter{
		Statuses:  []InvoiceStatus{InvoiceStatusSent},
		DueBefore: &today,
	})
	if err != nil {
		return report, fmt.Errorf("failed to list due invoices: %w", err)
	}
	for _, inv := range due {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		res, err := s.invoices.MarkOverdue(ctx, inv.ID)
		if err != nil {
			report.fail(inv.ID, "mark_overdue", err)
			continue
		}
		report.Overdue++
		report.Warnings += len(res.Warnings)
	}

	s.env.logger.WithFields(logrus.Fields{
		"overdue":  report.Overdue,
		"failures": len(report.Failures),
	}).Info("Invoice sweep complete")
	return report, nil
}
