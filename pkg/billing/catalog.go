package billing

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// PlanSpec describes a plan to create
type PlanSpec struct {
	ID               string          `json:"id,omitempty"`
	Name             string          `json:"name" validate:"required,max=140"`
	Description      string          `json:"description,omitempty"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency,omitempty"`
	BillingCycle     BillingCycle    `json:"billing_cycle" validate:"required"`
	TrialPeriodDays  int             `json:"trial_period_days"`
	Visibility       PlanVisibility  `json:"visibility,omitempty" validate:"omitempty,oneof=all_customers specific_customers"`
	AllowedCustomers []string        `json:"allowed_customers,omitempty"`
	AutoRenewal      *bool           `json:"auto_renewal,omitempty"`
	MaxUsers         int             `json:"max_users,omitempty" validate:"gte=0"`
	StorageLimitGB   int             `json:"storage_limit_gb,omitempty" validate:"gte=0"`
	APICallsLimit    int             `json:"api_calls_limit,omitempty" validate:"gte=0"`
	SupportLevel     string          `json:"support_level,omitempty"`
	Features         []PlanFeature   `json:"features,omitempty"`
}

// PlanChanges is a partial update of a plan. Nil fields are left unchanged.
type PlanChanges struct {
	Name             *string          `json:"name,omitempty"`
	Description      *string          `json:"description,omitempty"`
	Amount           *decimal.Decimal `json:"amount,omitempty"`
	Currency         *string          `json:"currency,omitempty"`
	BillingCycle     *BillingCycle    `json:"billing_cycle,omitempty"`
	TrialPeriodDays  *int             `json:"trial_period_days,omitempty"`
	AutoRenewal      *bool            `json:"auto_renewal,omitempty"`
	MaxUsers         *int             `json:"max_users,omitempty"`
	StorageLimitGB   *int             `json:"storage_limit_gb,omitempty"`
	APICallsLimit    *int             `json:"api_calls_limit,omitempty"`
	SupportLevel     *string          `json:"support_level,omitempty"`
	Features         *[]PlanFeature   `json:"features,omitempty"`
	Visibility       *PlanVisibility  `json:"visibility,omitempty"`
	AllowedCustomers *[]string        `json:"allowed_customers,omitempty"`
	Active           *bool            `json:"active,omitempty"`
}

// frozenField names the first field that may not change once a plan is referenced
func (c PlanChanges) frozenField() string {
	switch {
	case c.Name != nil:
		return "name"
	case c.Description != nil:
		return "description"
	case c.Amount != nil:
		return "amount"
	case c.Currency != nil:
		return "currency"
	case c.BillingCycle != nil:
		return "billing_cycle"
	case c.TrialPeriodDays != nil:
		return "trial_period_days"
	case c.AutoRenewal != nil:
		return "auto_renewal"
	case c.MaxUsers != nil:
		return "max_users"
	case c.StorageLimitGB != nil:
		return "storage_limit_gb"
	case c.APICallsLimit != nil:
		return "api_calls_limit"
	case c.SupportLevel != nil:
		return "support_level"
	case c.Features != nil:
		return "features"
	}
	return ""
}

// Catalog defines the plans customers can subscribe to
type Catalog struct {
	env *env
}

// CreatePlan validates spec and stores a new active plan
func (c *Catalog) CreatePlan(ctx context.Context, spec PlanSpec) (plan *Plan, err error) {
	ctx, done := c.env.begin(ctx, "plan", "create", spec.ID)
	defer done(&err)

	if err := checkStruct(spec); err != nil {
		return nil, err
	}

	plan = &Plan{
		ID:               spec.ID,
		Name:             strings.TrimSpace(spec.Name),
		Description:      spec.Description,
		Amount:           spec.Amount,
		Currency:         strings.ToUpper(spec.Currency),
		BillingCycle:     spec.BillingCycle,
		TrialPeriodDays:  spec.TrialPeriodDays,
		Visibility:       spec.Visibility,
		AllowedCustomers: dedupe(spec.AllowedCustomers),
		AutoRenewal:      true,
		MaxUsers:         spec.MaxUsers,
		StorageLimitGB:   spec.StorageLimitGB,
		APICallsLimit:    spec.APICallsLimit,
		SupportLevel:     spec.SupportLevel,
		Features:         spec.Features,
		Active:           true,
	}
	if plan.ID == "" {
		plan.ID = uuid.NewString()
	}
	if plan.Currency == "" {
		plan.Currency = c.env.defaultCurrency
	}
	if plan.Visibility == "" {
		plan.Visibility = PlanVisibilityAllCustomers
	}
	if spec.AutoRenewal != nil {
		plan.AutoRenewal = *spec.AutoRenewal
	}
	if err := validatePlan(plan); err != nil {
		return nil, err
	}

	if err := c.env.store.CreatePlan(ctx, plan); err != nil {
		return nil, fmt.Errorf("failed to create plan: %w", err)
	}

	c.env.logger.WithFields(logrus.Fields{
		"plan_id": plan.ID,
		"amount":  plan.Amount.String(),
		"cycle":   plan.BillingCycle,
	}).Info("Plan created")
	return plan, nil
}

func validatePlan(p *Plan) error {
	if err := requireText("name", p.Name); err != nil {
		return err
	}
	if !p.Amount.IsPositive() {
		return &ValidationError{Field: "amount", Reason: "must be greater than zero"}
	}
	if p.TrialPeriodDays < 0 {
		return &ValidationError{Field: "trial_period_days", Reason: "must not be negative"}
	}
	if _, err := p.BillingCycle.Months(); err != nil {
		return err
	}
	if err := validateCurrency(p.Currency); err != nil {
		return err
	}
	switch p.Visibility {
	case PlanVisibilityAllCustomers:
	case PlanVisibilitySpecificCustomers:
		if len(p.AllowedCustomers) == 0 {
			return &ValidationError{Field: "allowed_customers", Reason: "must not be empty when visibility is specific_customers"}
		}
	default:
		return &ValidationError{Field: "visibility", Reason: fmt.Sprintf("unknown visibility %q", p.Visibility)}
	}
	return nil
}

// GetPlan retrieves a plan by ID
func (c *Catalog) GetPlan(ctx context.Context, id string) (*Plan, error) {
	plan, err := c.env.store.GetPlan(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get plan: %w", err)
	}
	return plan, nil
}

// ListPlans returns all plans, or only active ones
func (c *Catalog) ListPlans(ctx context.Context, activeOnly bool) ([]*Plan, error) {
	plans, err := c.env.store.ListPlans(ctx, PlanFilter{ActiveOnly: activeOnly})
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	return plans, nil
}

// UpdatePlan applies changes to a plan. Once any subscription references the
// plan only visibility, the allow-list and the active flag may change.
func (c *Catalog) UpdatePlan(ctx context.Context, id string, changes PlanChanges) (plan *Plan, err error) {
	ctx, done := c.env.begin(ctx, "plan", "update", id)
	defer done(&err)

	plan, err = c.env.store.GetPlan(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get plan: %w", err)
	}

	if field := changes.frozenField(); field != "" {
		inUse, err := c.referenced(ctx, id)
		if err != nil {
			return nil, err
		}
		if inUse {
			return nil, &ImmutableFieldError{Entity: "plan", Field: field}
		}
	}

	applyPlanChanges(plan, changes)
	if err := validatePlan(plan); err != nil {
		return nil, err
	}

	if err := c.env.store.UpdatePlan(ctx, plan); err != nil {
		return nil, fmt.Errorf("failed to update plan: %w", err)
	}
	return plan, nil
}

func applyPlanChanges(p *Plan, c PlanChanges) {
	if c.Name != nil {
		p.Name = strings.TrimSpace(*c.Name)
	}
	if c.Description != nil {
		p.Description = *c.Description
	}
	if c.Amount != nil {
		p.Amount = *c.Amount
	}
	if c.Currency != nil {
		p.Currency = strings.ToUpper(*c.Currency)
	}
	if c.BillingCycle != nil {
		p.BillingCycle = *c.BillingCycle
	}
	if c.TrialPeriodDays != nil {
		p.TrialPeriodDays = *c.TrialPeriodDays
	}
	if c.AutoRenewal != nil {
		p.AutoRenewal = *c.AutoRenewal
	}
	if c.MaxUsers != nil {
		p.MaxUsers = *c.MaxUsers
	}
	if c.StorageLimitGB != nil {
		p.StorageLimitGB = *c.StorageLimitGB
	}
	if c.APICallsLimit != nil {
		p.APICallsLimit = *c.APICallsLimit
	}
	if c.SupportLevel != nil {
		p.SupportLevel = *c.SupportLevel
	}
	if c.Features != nil {
		p.Features = *c.Features
	}
	if c.Visibility != nil {
		p.Visibility = *c.Visibility
	}
	if c.AllowedCustomers != nil {
		p.AllowedCustomers = dedupe(*c.AllowedCustomers)
	}
	if c.Active != nil {
		p.Active = *c.Active
	}
}

// SetPlanActive activates or deactivates a plan. Plans are never deleted.
func (c *Catalog) SetPlanActive(ctx context.Context, id string, active bool) (*Plan, error) {
	return c.UpdatePlan(ctx, id, PlanChanges{Active: &active})
}

// SetPlanVisibility changes who may enroll in a plan
func (c *Catalog) SetPlanVisibility(ctx context.Context, id string, visibility PlanVisibility, allowed []string) (*Plan, error) {
	if allowed == nil {
		allowed = []string{}
	}
	return c.UpdatePlan(ctx, id, PlanChanges{Visibility: &visibility, AllowedCustomers: &allowed})
}

func (c *Catalog) referenced(ctx context.Context, planID string) (bool, error) {
	subs, err := c.env.store.ListSubscriptions(ctx, SubscriptionFilter{PlanID: planID, Limit: 1})
	if err != nil {
		return false, fmt.Errorf("failed to check plan usage: %w", err)
	}
	return len(subs) > 0, nil
}

// IsEligible reports whether customerID may enroll in plan
func (c *Catalog) IsEligible(plan *Plan, customerID string) bool {
	switch plan.Visibility {
	case PlanVisibilityAllCustomers:
		return true
	case PlanVisibilitySpecificCustomers:
		for _, id := range plan.AllowedCustomers {
			if id == customerID {
				return true
			}
		}
	}
	return false
}

// ListEligiblePlans returns the active plans a customer may enroll in,
// cheapest first
func (c *Catalog) ListEligiblePlans(ctx context.Context, customerID string) ([]*Plan, error) {
	plans, err := c.ListPlans(ctx, true)
	if err != nil {
		return nil, err
	}
	eligible := make([]*Plan, 0, len(plans))
	for _, p := range plans {
		if c.IsEligible(p, customerID) {
			eligible = append(eligible, p)
		}
	}
	SortByAmount(eligible)
	return eligible, nil
}

// SortByAmount orders plans by ascending amount, then name
func SortByAmount(plans []*Plan) {
	sort.SliceStable(plans, func(i, j int) bool {
		if cmp := plans[i].Amount.Cmp(plans[j].Amount); cmp != 0 {
			return cmp < 0
		}
		return plans[i].Name < plans[j].Name
	})
}

func dedupe(ids []string) []string {
	if ids == nil {
		return nil
	}
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
