package catalogfile

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/bms/pkg/billing"
)

const seed = `
currency: eur
plans:
  - id: starter
    name: Starter
    amount: "9.99"
    billing_cycle: monthly
  - id: team
    name: Team
    amount: "49"
    billing_cycle: annual
    trial_period_days: 14
    support_level: business
    features:
      - name: Seats
        included: true
        limit_value: "10"
  - id: legacy
    name: Legacy
    amount: "5"
    currency: usd
    billing_cycle: monthly
    active: false
`

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newService() *billing.Service {
	clock := func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	return billing.NewService(billing.NewMemoryStore(), billing.WithLogger(quietLogger()), billing.WithClock(clock))
}

func TestParse(t *testing.T) {
	f, err := Parse([]byte(seed))
	require.NoError(t, err)
	assert.Equal(t, "eur", f.Currency)
	require.Len(t, f.Plans, 3)
	assert.Equal(t, billing.BillingCycleAnnual, f.Plans[1].BillingCycle)
	assert.Equal(t, "10", f.Plans[1].Features[0].LimitValue)
	assert.Len(t, f.Hash(), 64)

	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"missing id", "plans:\n  - name: X\n    amount: \"1\"\n", "id is required"},
		{"duplicate id", "plans:\n  - id: a\n    amount: \"1\"\n  - id: a\n    amount: \"2\"\n", "duplicate id"},
		{"missing amount", "plans:\n  - id: a\n", "amount is required"},
		{"bad amount", "plans:\n  - id: a\n    amount: ten\n", "invalid amount"},
		{"bad yaml", "plans: [", "failed to parse catalog"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestSyncer_CreatesPlans(t *testing.T) {
	ctx := context.Background()
	svc := newService()
	s := NewSyncer(svc.Catalog, quietLogger())

	f, err := Parse([]byte(seed))
	require.NoError(t, err)
	report, err := s.Sync(ctx, f)
	require.NoError(t, err)
	require.NoError(t, report.Err())
	assert.ElementsMatch(t, []string{"starter", "team", "legacy"}, report.Created)

	team, err := svc.Catalog.GetPlan(ctx, "team")
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("49").Equal(team.Amount))
	assert.Equal(t, "EUR", team.Currency)
	assert.Equal(t, 14, team.TrialPeriodDays)
	assert.Equal(t, billing.PlanVisibilityAllCustomers, team.Visibility)

	legacy, err := svc.Catalog.GetPlan(ctx, "legacy")
	require.NoError(t, err)
	assert.Equal(t, "USD", legacy.Currency)
	assert.False(t, legacy.Active)

	// a second pass is a no-op
	report, err = s.Sync(ctx, f)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"starter", "team", "legacy"}, report.Unchanged)
	assert.Empty(t, report.Created)
	assert.Empty(t, report.Updated)
}

func TestSyncer_UpdatesAndPrunes(t *testing.T) {
	ctx := context.Background()
	svc := newService()
	s := NewSyncer(svc.Catalog, quietLogger())

	f, err := Parse([]byte(seed))
	require.NoError(t, err)
	_, err = s.Sync(ctx, f)
	require.NoError(t, err)

	next, err := Parse([]byte(`
currency: eur
prune: true
plans:
  - id: starter
    name: Starter Plus
    amount: "12.50"
    billing_cycle: monthly
    visibility: specific_customers
    allowed_customers: [cust-1]
`))
	require.NoError(t, err)
	report, err := s.Sync(ctx, next)
	require.NoError(t, err)
	require.NoError(t, report.Err())
	assert.Equal(t, []string{"starter"}, report.Updated)
	assert.Equal(t, []string{"team"}, report.Deactivated)

	starter, err := svc.Catalog.GetPlan(ctx, "starter")
	require.NoError(t, err)
	assert.Equal(t, "Starter Plus", starter.Name)
	assert.True(t, decimal.RequireFromString("12.50").Equal(starter.Amount))
	assert.Equal(t, []string{"cust-1"}, starter.AllowedCustomers)

	team, err := svc.Catalog.GetPlan(ctx, "team")
	require.NoError(t, err)
	assert.False(t, team.Active)
}

func TestSyncer_FrozenPlanReportsFailure(t *testing.T) {
	ctx := context.Background()
	svc := newService()
	s := NewSyncer(svc.Catalog, quietLogger())

	f, err := Parse([]byte(seed))
	require.NoError(t, err)
	_, err = s.Sync(ctx, f)
	require.NoError(t, err)

	_, err = svc.Customers.CreateCustomer(ctx, billing.CustomerSpec{ID: "cust-1", Name: "Ada", Email: "ada@example.com"})
	require.NoError(t, err)
	_, err = svc.Subscriptions.Enroll(ctx, billing.EnrollRequest{CustomerID: "cust-1", PlanID: "starter"})
	require.NoError(t, err)

	f.Plans[0].Amount = "19.99"
	f.Plans[1].Amount = "59"
	report, err := s.Sync(ctx, f)
	require.NoError(t, err)

	assert.Equal(t, []string{"team"}, report.Updated)
	require.Contains(t, report.Failed, "starter")
	assert.ErrorIs(t, report.Failed["starter"], billing.ErrImmutableField)
	assert.ErrorIs(t, report.Err(), billing.ErrImmutableField)

	starter, err := svc.Catalog.GetPlan(ctx, "starter")
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("9.99").Equal(starter.Amount))
}

func TestSyncer_InvalidPlanFails(t *testing.T) {
	svc := newService()
	s := NewSyncer(svc.Catalog, quietLogger())

	f, err := Parse([]byte("plans:\n  - id: bad\n    name: Bad\n    amount: \"-1\"\n    billing_cycle: monthly\n"))
	require.NoError(t, err)
	report, err := s.Sync(context.Background(), f)
	require.NoError(t, err)
	assert.ErrorIs(t, report.Failed["bad"], billing.ErrValidation)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	tmp := path + ".tmp"
	require.NoError(t, os.WriteFile(tmp, []byte(content), 0o644))
	require.NoError(t, os.Rename(tmp, path))
}

func TestWatcher_SyncNowSkipsUnchangedContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	writeFile(t, path, seed)

	svc := newService()
	w := NewWatcher(path, NewSyncer(svc.Catalog, quietLogger()), 10*time.Millisecond)

	report, err := w.SyncNow(context.Background())
	require.NoError(t, err)
	assert.Len(t, report.Created, 3)

	report, err = w.SyncNow(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Created)
	assert.Empty(t, report.Unchanged)

	_, err = NewWatcher(filepath.Join(t.TempDir(), "missing.yaml"), NewSyncer(svc.Catalog, nil), 0).SyncNow(context.Background())
	assert.Error(t, err)
}

func TestWatcher_ReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	writeFile(t, path, seed)

	svc := newService()
	w := NewWatcher(path, NewSyncer(svc.Catalog, quietLogger()), 20*time.Millisecond)
	reports := make(chan *Report, 4)
	w.OnSync = func(r *Report, err error) {
		if err == nil {
			reports <- r
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, err := svc.Catalog.GetPlan(context.Background(), "team")
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
	// let the watcher register the directory before changing the file
	time.Sleep(100 * time.Millisecond)

	writeFile(t, path, seed+`  - id: enterprise
    name: Enterprise
    amount: "499"
    billing_cycle: annual
`)

	select {
	case r := <-reports:
		assert.Equal(t, []string{"enterprise"}, r.Created)
	case <-time.After(3 * time.Second):
		t.Fatal("watcher did not reload the catalog")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestWatcher_RunFailsOnBrokenInitialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	writeFile(t, path, "plans: [")

	w := NewWatcher(path, NewSyncer(newService().Catalog, quietLogger()), 0)
	err := w.Run(context.Background())
	assert.ErrorContains(t, err, "initial catalog sync")
}

func TestWatcher_Due(t *testing.T) {
	w := NewWatcher("catalog.yaml", NewSyncer(newService().Catalog, quietLogger()), time.Second)
	now := time.Now()
	assert.False(t, w.due(now))

	w.pending = now
	assert.False(t, w.due(now.Add(500*time.Millisecond)))
	assert.True(t, w.due(now.Add(time.Second)))
	assert.False(t, w.due(now.Add(2*time.Second)), "pending change is consumed")
}
