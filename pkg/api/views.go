package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/platinummonkey/bms/pkg/billing"
	"github.com/platinummonkey/bms/pkg/httputil"
)

// PlanSource fetches the plans a listing starts from
type PlanSource func(ctx context.Context) ([]*billing.Plan, error)

// PlanFilter keeps the plans it returns true for
type PlanFilter func(p *billing.Plan) bool

// PlanListing composes a plan fetch, an optional filter and a view
type PlanListing struct {
	Fetch  PlanSource
	Filter PlanFilter
	View   PlanView
}

// Run fetches, filters and renders. Fetch order is preserved.
func (l PlanListing) Run(ctx context.Context) (any, error) {
	plans, err := l.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	if l.Filter != nil {
		kept := make([]*billing.Plan, 0, len(plans))
		for _, p := range plans {
			if l.Filter(p) {
				kept = append(kept, p)
			}
		}
		plans = kept
	}
	return l.View.Render(plans), nil
}

// listingFromQuery builds a listing over fetch from ?view=, ?billing_cycle=
// and ?currency=
func listingFromQuery(r *http.Request, fetch PlanSource) (PlanListing, error) {
	view, err := planViewFor(httputil.ParseQueryString(r, "view", "list"))
	if err != nil {
		return PlanListing{}, err
	}
	var filters []PlanFilter
	if raw := httputil.ParseQueryString(r, "billing_cycle", ""); raw != "" {
		cycle := billing.BillingCycle(strings.ToLower(raw))
		if !cycle.Valid() {
			return PlanListing{}, fmt.Errorf("unknown billing_cycle %q", raw)
		}
		filters = append(filters, func(p *billing.Plan) bool { return p.BillingCycle == cycle })
	}
	if currency := httputil.ParseQueryString(r, "currency", ""); currency != "" {
		filters = append(filters, func(p *billing.Plan) bool { return strings.EqualFold(p.Currency, currency) })
	}
	return PlanListing{Fetch: fetch, Filter: allOf(filters...), View: view}, nil
}

func allOf(filters ...PlanFilter) PlanFilter {
	if len(filters) == 0 {
		return nil
	}
	return func(p *billing.Plan) bool {
		for _, f := range filters {
			if !f(p) {
				return false
			}
		}
		return true
	}
}

// PlanView renders a plan listing. The view is chosen per request.
type PlanView interface {
	Name() string
	Render(plans []*billing.Plan) any
}

var planViews = map[string]PlanView{
	"list":    listView{},
	"pricing": pricingView{},
}

// planViewFor resolves a view name; empty selects the list view
func planViewFor(name string) (PlanView, error) {
	if name == "" {
		name = "list"
	}
	v, ok := planViews[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("unknown view %q: want list or pricing", name)
	}
	return v, nil
}

type listView struct{}

func (listView) Name() string { return "list" }

func (listView) Render(plans []*billing.Plan) any {
	return list(plans)
}

// PricingCard is one plan in the pricing view
type PricingCard struct {
	PlanID      string          `json:"plan_id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Period      string          `json:"period"`
	PriceLabel  string          `json:"price_label"`
	Features    []string        `json:"features"`
	TrialDays   int             `json:"trial_days,omitempty"`
	Featured    bool            `json:"featured"`
}

type pricingView struct{}

func (pricingView) Name() string { return "pricing" }

// Render builds cards cheapest first. The second card is featured.
func (pricingView) Render(plans []*billing.Plan) any {
	sorted := append([]*billing.Plan(nil), plans...)
	billing.SortByAmount(sorted)

	cards := make([]PricingCard, 0, len(sorted))
	for i, p := range sorted {
		period := periodLabel(p.BillingCycle)
		label := fmt.Sprintf("%s %s", p.Currency, p.Amount.StringFixed(2))
		if period != "" {
			label += " / " + period
		}
		cards = append(cards, PricingCard{
			PlanID:      p.ID,
			Name:        p.Name,
			Description: p.Description,
			Amount:      p.Amount,
			Currency:    p.Currency,
			Period:      period,
			PriceLabel:  label,
			Features:    cardFeatures(p),
			TrialDays:   p.TrialPeriodDays,
			Featured:    i == 1,
		})
	}
	return list(cards)
}

func periodLabel(cycle billing.BillingCycle) string {
	switch cycle {
	case billing.BillingCycleMonthly:
		return "month"
	case billing.BillingCycleQuarterly:
		return "quarter"
	case billing.BillingCycleSemiAnnual:
		return "6 months"
	case billing.BillingCycleAnnual:
		return "year"
	default:
		return ""
	}
}

func cardFeatures(p *billing.Plan) []string {
	features := make([]string, 0, len(p.Features)+4)
	for _, f := range p.Features {
		if !f.Included {
			continue
		}
		if f.LimitValue != "" {
			features = append(features, fmt.Sprintf("%s: %s", f.Name, f.LimitValue))
		} else {
			features = append(features, f.Name)
		}
	}
	if p.MaxUsers > 0 {
		features = append(features, fmt.Sprintf("%d Users", p.MaxUsers))
	}
	if p.StorageLimitGB > 0 {
		features = append(features, fmt.Sprintf("%d GB Storage", p.StorageLimitGB))
	}
	if p.APICallsLimit > 0 {
		features = append(features, fmt.Sprintf("%d API Calls", p.APICallsLimit))
	}
	if p.TrialPeriodDays > 0 {
		features = append(features, fmt.Sprintf("%d Days Free Trial", p.TrialPeriodDays))
	}
	if p.SupportLevel != "" {
		features = append(features, p.SupportLevel+" Support")
	}
	return features
}
