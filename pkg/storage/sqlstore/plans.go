package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/platinummonkey/bms/pkg/billing"
)

const planColumns = `id, name, description, amount, currency, billing_cycle, trial_period_days,
	visibility, allowed_customers, auto_renewal, max_users, storage_limit_gb, api_calls_limit,
	support_level, features, active, version, created_at, updated_at`

func (s *Store) CreatePlan(ctx context.Context, p *billing.Plan) error {
	allowed, err := encodeJSON(p.AllowedCustomers)
	if err != nil {
		return err
	}
	features, err := encodeJSON(p.Features)
	if err != nil {
		return err
	}
	created, now := s.stamps(p.CreatedAt)

	err = s.insert(ctx, "plan", p.ID, `INSERT INTO plans (`+planColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Description, p.Amount, p.Currency, string(p.BillingCycle), p.TrialPeriodDays,
		string(p.Visibility), allowed, p.AutoRenewal, p.MaxUsers, p.StorageLimitGB, p.APICallsLimit,
		p.SupportLevel, features, p.Active, int64(1), created, now,
	)
	if err != nil {
		return err
	}
	p.Version, p.CreatedAt, p.UpdatedAt = 1, created, now
	return nil
}

func (s *Store) GetPlan(ctx context.Context, id string) (p *billing.Plan, err error) {
	ctx, span := s.span(ctx, "select", "plans")
	defer func() { endSpan(span, err) }()

	row := s.db.QueryRowContext(ctx, s.dialect.rebind(`SELECT `+planColumns+` FROM plans WHERE id = ?`), id)
	p, err = scanPlan(row)
	if err == sql.ErrNoRows {
		return nil, billing.NotFound("plan", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get plan: %w", err)
	}
	return p, nil
}

func (s *Store) UpdatePlan(ctx context.Context, p *billing.Plan) error {
	allowed, err := encodeJSON(p.AllowedCustomers)
	if err != nil {
		return err
	}
	features, err := encodeJSON(p.Features)
	if err != nil {
		return err
	}
	now := s.now()

	err = s.update(ctx, "plan", "plans", p.ID, `UPDATE plans SET
		name = ?, description = ?, amount = ?, currency = ?, billing_cycle = ?, trial_period_days = ?,
		visibility = ?, allowed_customers = ?, auto_renewal = ?, max_users = ?, storage_limit_gb = ?,
		api_calls_limit = ?, support_level = ?, features = ?, active = ?, version = ?, updated_at = ?
		WHERE id = ? AND version = ?`,
		p.Name, p.Description, p.Amount, p.Currency, string(p.BillingCycle), p.TrialPeriodDays,
		string(p.Visibility), allowed, p.AutoRenewal, p.MaxUsers, p.StorageLimitGB,
		p.APICallsLimit, p.SupportLevel, features, p.Active, p.Version+1, now,
		p.ID, p.Version,
	)
	if err != nil {
		return err
	}
	p.Version++
	p.UpdatedAt = now
	return nil
}

func (s *Store) ListPlans(ctx context.Context, filter billing.PlanFilter) (plans []*billing.Plan, err error) {
	ctx, span := s.span(ctx, "select", "plans")
	defer func() { endSpan(span, err) }()

	var w where
	if filter.ActiveOnly {
		w.raw("active = ?", true)
	}
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(`SELECT `+planColumns+` FROM plans`+w.String()+` ORDER BY created_at, id`), w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	defer rows.Close()

	plans = make([]*billing.Plan, 0)
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan plan: %w", err)
		}
		plans = append(plans, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	return plans, nil
}

func scanPlan(row scanner) (*billing.Plan, error) {
	var (
		p                 billing.Plan
		cycle, visibility string
		allowed, features string
	)
	err := row.Scan(
		&p.ID, &p.Name, &p.Description, &p.Amount, &p.Currency, &cycle, &p.TrialPeriodDays,
		&visibility, &allowed, &p.AutoRenewal, &p.MaxUsers, &p.StorageLimitGB, &p.APICallsLimit,
		&p.SupportLevel, &features, &p.Active, &p.Version, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.BillingCycle = billing.BillingCycle(cycle)
	p.Visibility = billing.PlanVisibility(visibility)
	if err := decodeJSON(allowed, &p.AllowedCustomers); err != nil {
		return nil, err
	}
	if err := decodeJSON(features, &p.Features); err != nil {
		return nil, err
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}
