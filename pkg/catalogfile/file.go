// Package catalogfile seeds the plan catalog from a YAML file and keeps it
// in sync when the file changes.
//
// Example file:
//
//	currency: USD
//	prune: false
//	plans:
//	  - id: team-monthly
//	    name: Team
//	    amount: "49.00"
//	    billing_cycle: monthly
//	    trial_period_days: 14
//	    features:
//	      - name: Seats
//	        included: true
//	        limit_value: "10"
package catalogfile

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/bms/pkg/billing"
)

// File is the parsed catalog seed
type File struct {
	// Currency applies to plans that leave theirs empty
	Currency string `yaml:"currency,omitempty"`
	// Prune deactivates stored plans that are missing from the file
	Prune bool    `yaml:"prune,omitempty"`
	Plans []Entry `yaml:"plans"`

	hash string
}

// Entry is one plan in the seed file. ID is required so repeated syncs
// address the same stored plan.
type Entry struct {
	ID               string                 `yaml:"id"`
	Name             string                 `yaml:"name"`
	Description      string                 `yaml:"description,omitempty"`
	Amount           string                 `yaml:"amount"`
	Currency         string                 `yaml:"currency,omitempty"`
	BillingCycle     billing.BillingCycle   `yaml:"billing_cycle"`
	TrialPeriodDays  int                    `yaml:"trial_period_days,omitempty"`
	Visibility       billing.PlanVisibility `yaml:"visibility,omitempty"`
	AllowedCustomers []string               `yaml:"allowed_customers,omitempty"`
	AutoRenewal      *bool                  `yaml:"auto_renewal,omitempty"`
	MaxUsers         int                    `yaml:"max_users,omitempty"`
	StorageLimitGB   int                    `yaml:"storage_limit_gb,omitempty"`
	APICallsLimit    int                    `yaml:"api_calls_limit,omitempty"`
	SupportLevel     string                 `yaml:"support_level,omitempty"`
	Features         []billing.PlanFeature  `yaml:"features,omitempty"`
	Active           *bool                  `yaml:"active,omitempty"`
}

// Load reads and parses a catalog file
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Parse decodes a catalog document and checks that plan IDs are present and unique
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}

	seen := make(map[string]int, len(f.Plans))
	for i, e := range f.Plans {
		id := strings.TrimSpace(e.ID)
		if id == "" {
			return nil, fmt.Errorf("plans[%d]: id is required", i)
		}
		if prev, dup := seen[id]; dup {
			return nil, fmt.Errorf("plans[%d]: duplicate id %q (first at plans[%d])", i, id, prev)
		}
		seen[id] = i
		f.Plans[i].ID = id

		if _, err := e.amount(); err != nil {
			return nil, fmt.Errorf("plans[%d] (%s): %w", i, id, err)
		}
	}

	sum := sha256.Sum256(data)
	f.hash = hex.EncodeToString(sum[:])
	return &f, nil
}

// Hash is the SHA-256 of the document the file was parsed from
func (f *File) Hash() string {
	return f.hash
}

func (e Entry) amount() (decimal.Decimal, error) {
	if strings.TrimSpace(e.Amount) == "" {
		return decimal.Zero, fmt.Errorf("amount is required")
	}
	d, err := decimal.NewFromString(strings.TrimSpace(e.Amount))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", e.Amount, err)
	}
	return d, nil
}

// spec converts the entry into a create request, applying the file currency
func (e Entry) spec(defaultCurrency string) (billing.PlanSpec, error) {
	amount, err := e.amount()
	if err != nil {
		return billing.PlanSpec{}, err
	}
	currency := e.Currency
	if currency == "" {
		currency = defaultCurrency
	}
	return billing.PlanSpec{
		ID:               e.ID,
		Name:             e.Name,
		Description:      e.Description,
		Amount:           amount,
		Currency:         currency,
		BillingCycle:     e.BillingCycle,
		TrialPeriodDays:  e.TrialPeriodDays,
		Visibility:       e.Visibility,
		AllowedCustomers: e.AllowedCustomers,
		AutoRenewal:      e.AutoRenewal,
		MaxUsers:         e.MaxUsers,
		StorageLimitGB:   e.StorageLimitGB,
		APICallsLimit:    e.APICallsLimit,
		SupportLevel:     e.SupportLevel,
		Features:         e.Features,
	}, nil
}
