package catalogfile

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/bms/pkg/billing"
)

// Report lists what a sync did, by plan ID
type Report struct {
	Created     []string         `json:"created,omitempty"`
	Updated     []string         `json:"updated,omitempty"`
	Unchanged   []string         `json:"unchanged,omitempty"`
	Deactivated []string         `json:"deactivated,omitempty"`
	Failed      map[string]error `json:"-"`
}

// Err joins the per-plan failures, or returns nil
func (r *Report) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	ids := make([]string, 0, len(r.Failed))
	for id := range r.Failed {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	errs := make([]error, 0, len(ids))
	for _, id := range ids {
		errs = append(errs, fmt.Errorf("plan %s: %w", id, r.Failed[id]))
	}
	return errors.Join(errs...)
}

// Syncer applies catalog files to a billing catalog
type Syncer struct {
	catalog *billing.Catalog
	logger  *logrus.Logger
}

// NewSyncer creates a Syncer
func NewSyncer(catalog *billing.Catalog, logger *logrus.Logger) *Syncer {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Syncer{catalog: catalog, logger: logger}
}

// Sync creates missing plans and updates changed ones. A plan that fails
// (for example because priced fields changed on a plan that is already in
// use) is recorded in the report and does not stop the others.
func (s *Syncer) Sync(ctx context.Context, f *File) (*Report, error) {
	existing, err := s.catalog.ListPlans(ctx, false)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*billing.Plan, len(existing))
	for _, p := range existing {
		byID[p.ID] = p
	}

	report := &Report{Failed: make(map[string]error)}
	inFile := make(map[string]struct{}, len(f.Plans))

	for _, entry := range f.Plans {
		inFile[entry.ID] = struct{}{}
		if err := ctx.Err(); err != nil {
			return report, err
		}

		current, ok := byID[entry.ID]
		if !ok {
			if err := s.create(ctx, entry, f.Currency); err != nil {
				report.Failed[entry.ID] = err
				continue
			}
			report.Created = append(report.Created, entry.ID)
			continue
		}

		changes, changed, err := diff(current, entry, f.Currency)
		if err != nil {
			report.Failed[entry.ID] = err
			continue
		}
		if !changed {
			report.Unchanged = append(report.Unchanged, entry.ID)
			continue
		}
		if _, err := s.catalog.UpdatePlan(ctx, entry.ID, changes); err != nil {
			report.Failed[entry.ID] = err
			continue
		}
		report.Updated = append(report.Updated, entry.ID)
	}

	if f.Prune {
		for _, p := range existing {
			if _, ok := inFile[p.ID]; ok || !p.Active {
				continue
			}
			if _, err := s.catalog.SetPlanActive(ctx, p.ID, false); err != nil {
				report.Failed[p.ID] = err
				continue
			}
			report.Deactivated = append(report.Deactivated, p.ID)
		}
	}

	entry := s.logger.WithFields(logrus.Fields{
		"created":     len(report.Created),
		"updated":     len(report.Updated),
		"unchanged":   len(report.Unchanged),
		"deactivated": len(report.Deactivated),
		"failed":      len(report.Failed),
	})
	if len(report.Failed) > 0 {
		entry.WithError(report.Err()).Warn("Catalog sync finished with failures")
	} else {
		entry.Info("Catalog sync finished")
	}
	return report, nil
}

func (s *Syncer) create(ctx context.Context, entry Entry, currency string) error {
	spec, err := entry.spec(currency)
	if err != nil {
		return err
	}
	if _, err := s.catalog.CreatePlan(ctx, spec); err != nil {
		return err
	}
	if entry.Active != nil && !*entry.Active {
		if _, err := s.catalog.SetPlanActive(ctx, entry.ID, false); err != nil {
			return err
		}
	}
	return nil
}

// diff builds the partial update that makes p match entry. Name, currency,
// billing cycle and auto_renewal keep their stored value when the entry
// leaves them empty.
func diff(p *billing.Plan, entry Entry, defaultCurrency string) (billing.PlanChanges, bool, error) {
	var c billing.PlanChanges
	changed := false

	amount, err := entry.amount()
	if err != nil {
		return c, false, err
	}

	if name := strings.TrimSpace(entry.Name); name != "" && name != p.Name {
		c.Name = &name
		changed = true
	}
	if entry.Description != p.Description {
		c.Description = &entry.Description
		changed = true
	}
	if !amount.Equal(p.Amount) {
		c.Amount = &amount
		changed = true
	}
	currency := entry.Currency
	if currency == "" {
		currency = defaultCurrency
	}
	if currency = strings.ToUpper(currency); currency != "" && currency != p.Currency {
		c.Currency = &currency
		changed = true
	}
	if entry.BillingCycle != "" && entry.BillingCycle != p.BillingCycle {
		c.BillingCycle = &entry.BillingCycle
		changed = true
	}
	if entry.TrialPeriodDays != p.TrialPeriodDays {
		c.TrialPeriodDays = &entry.TrialPeriodDays
		changed = true
	}
	if entry.AutoRenewal != nil && *entry.AutoRenewal != p.AutoRenewal {
		c.AutoRenewal = entry.AutoRenewal
		changed = true
	}
	if entry.MaxUsers != p.MaxUsers {
		c.MaxUsers = &entry.MaxUsers
		changed = true
	}
	if entry.StorageLimitGB != p.StorageLimitGB {
		c.StorageLimitGB = &entry.StorageLimitGB
		changed = true
	}
	if entry.APICallsLimit != p.APICallsLimit {
		c.APICallsLimit = &entry.APICallsLimit
		changed = true
	}
	if entry.SupportLevel != p.SupportLevel {
		c.SupportLevel = &entry.SupportLevel
		changed = true
	}
	if !slices.Equal(entry.Features, p.Features) {
		features := slices.Clone(entry.Features)
		c.Features = &features
		changed = true
	}

	visibility := entry.Visibility
	if visibility == "" {
		visibility = billing.PlanVisibilityAllCustomers
	}
	if visibility != p.Visibility {
		c.Visibility = &visibility
		changed = true
	}
	if !slices.Equal(entry.AllowedCustomers, p.AllowedCustomers) {
		allowed := slices.Clone(entry.AllowedCustomers)
		if allowed == nil {
			allowed = []string{}
		}
		c.AllowedCustomers = &allowed
		changed = true
	}
	if entry.Active != nil && *entry.Active != p.Active {
		c.Active = entry.Active
		changed = true
	}
	return c, changed, nil
}
