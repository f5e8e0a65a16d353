package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"github.com/platinummonkey/bms/pkg/billing"
)

const subscriptionColumns = `id, customer_id, plan_id, plan_name, plan_amount, plan_currency, billing_cycle,
	status, start_date, end_date, trial_end_date, auto_renewal, cancellation_reason, cancelled_at,
	version, created_at, updated_at`

func (s *Store) CreateSubscription(ctx context.Context, sub *billing.Subscription) error {
	created, now := s.stamps(sub.CreatedAt)
	err := s.insert(ctx, "subscription", sub.ID, `INSERT INTO subscriptions (`+subscriptionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.CustomerID, sub.Plan.PlanID, sub.Plan.PlanName, sub.Plan.Amount, sub.Plan.Currency,
		string(sub.Plan.BillingCycle), string(sub.Status), sub.StartDate.UTC(), sub.EndDate.UTC(),
		nullTime(sub.TrialEndDate), sub.AutoRenewal, sub.CancellationReason, nullTime(sub.CancelledAt),
		int64(1), created, now,
	)
	if err != nil {
		return err
	}
	sub.Version, sub.CreatedAt, sub.UpdatedAt = 1, created, now
	return nil
}

func (s *Store) GetSubscription(ctx context.Context, id string) (sub *billing.Subscription, err error) {
	ctx, span := s.span(ctx, "select", "subscriptions")
	defer func() { endSpan(span, err) }()

	row := s.db.QueryRowContext(ctx, s.dialect.rebind(`SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = ?`), id)
	sub, err = scanSubscription(row)
	if err == sql.ErrNoRows {
		return nil, billing.NotFound("subscription", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return sub, nil
}

// UpdateSubscription writes the mutable columns. The plan snapshot and
// customer are fixed at enrollment and never rewritten.
func (s *Store) UpdateSubscription(ctx context.Context, sub *billing.Subscription) error {
	now := s.now()
	err := s.update(ctx, "subscription", "subscriptions", sub.ID, `UPDATE subscriptions SET
		status = ?, start_date = ?, end_date = ?, trial_end_date = ?, auto_renewal = ?,
		cancellation_reason = ?, cancelled_at = ?, version = ?, updated_at = ?
		WHERE id = ? AND version = ?`,
		string(sub.Status), sub.StartDate.UTC(), sub.EndDate.UTC(), nullTime(sub.TrialEndDate), sub.AutoRenewal,
		sub.CancellationReason, nullTime(sub.CancelledAt), sub.Version+1, now,
		sub.ID, sub.Version,
	)
	if err != nil {
		return err
	}
	sub.Version++
	sub.UpdatedAt = now
	return nil
}

func (s *Store) ListSubscriptions(ctx context.Context, filter billing.SubscriptionFilter) (subs []*billing.Subscription, err error) {
	ctx, span := s.span(ctx, "select", "subscriptions")
	defer func() { endSpan(span, err) }()

	var w where
	w.eq("customer_id", filter.CustomerID)
	w.eq("plan_id", filter.PlanID)
	whereIn(&w, "status", filter.Statuses)
	w.before("end_date", filter.EndsBefore)

	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions` + w.String() + ` ORDER BY created_at, id`
	if filter.Limit > 0 {
		query += ` LIMIT ` + strconv.Itoa(filter.Limit)
	}
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(query), w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	defer rows.Close()

	subs = make([]*billing.Subscription, 0)
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	return subs, nil
}

func scanSubscription(row scanner) (*billing.Subscription, error) {
	var (
		sub                 billing.Subscription
		cycle, status       string
		trialEnd, cancelled sql.NullTime
	)
	err := row.Scan(
		&sub.ID, &sub.CustomerID, &sub.Plan.PlanID, &sub.Plan.PlanName, &sub.Plan.Amount, &sub.Plan.Currency, &cycle,
		&status, &sub.StartDate, &sub.EndDate, &trialEnd, &sub.AutoRenewal, &sub.CancellationReason, &cancelled,
		&sub.Version, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	sub.Plan.BillingCycle = billing.BillingCycle(cycle)
	sub.Status = billing.SubscriptionStatus(status)
	sub.StartDate = sub.StartDate.UTC()
	sub.EndDate = sub.EndDate.UTC()
	sub.TrialEndDate = timePtr(trialEnd)
	sub.CancelledAt = timePtr(cancelled)
	sub.CreatedAt = sub.CreatedAt.UTC()
	sub.UpdatedAt = sub.UpdatedAt.UTC()
	return &sub, nil
}
