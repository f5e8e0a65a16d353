package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/bms/pkg/billing"
)

func TestCustomerHandlers_Create(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(http.MethodPost, "/api/v1/customers", map[string]any{
		"name":           "Globex",
		"email":          "Billing@Globex.example",
		"customer_type":  "company",
		"company_name":   "Globex Corporation",
		"contact_person": "Hank Scorpio",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	customer := decode[billing.Customer](t, rec)
	assert.Equal(t, "billing@globex.example", customer.Email)
	assert.Equal(t, billing.CustomerStatusActive, customer.Status)

	rec = ts.do(http.MethodGet, "/api/v1/customers/"+customer.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(http.MethodGet, "/api/v1/customers", nil)
	assert.Equal(t, 1, decode[listResponse[billing.Customer]](t, rec).Count)

	rec = ts.do(http.MethodPost, "/api/v1/customers", map[string]any{
		"name":          "Initech",
		"email":         "ap@initech.example",
		"customer_type": "company",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(http.MethodPost, "/api/v1/customers", map[string]any{"name": "Bob", "email": "not-an-email"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCustomerHandlers_EligiblePlanViews(t *testing.T) {
	ts := newTestServer(t, nil)
	_, cust := ts.seed()

	for _, p := range []map[string]any{
		{"id": "basic", "name": "Basic", "amount": "9.00", "billing_cycle": "monthly", "max_users": 3},
		{"id": "yearly", "name": "Yearly", "amount": "290.00", "billing_cycle": "annual", "trial_period_days": 30},
		{"id": "vip", "name": "VIP", "amount": "15.00", "billing_cycle": "monthly", "visibility": "specific_customers", "allowed_customers": []string{"someone-else"}},
	} {
		rec := ts.do(http.MethodPost, "/api/v1/plans", p)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}

	rec := ts.do(http.MethodGet, "/api/v1/customers/"+cust+"/plans", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	plans := decode[listResponse[billing.Plan]](t, rec)
	require.Equal(t, 3, plans.Count)
	assert.Equal(t, []string{"basic", "pro", "yearly"}, []string{plans.Items[0].ID, plans.Items[1].ID, plans.Items[2].ID})

	rec = ts.do(http.MethodGet, "/api/v1/customers/"+cust+"/plans?view=pricing", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cards := decode[listResponse[PricingCard]](t, rec)
	require.Equal(t, 3, cards.Count)
	assert.Equal(t, "USD 9.00 / month", cards.Items[0].PriceLabel)
	assert.Contains(t, cards.Items[0].Features, "3 Users")
	assert.True(t, cards.Items[1].Featured)
	assert.False(t, cards.Items[0].Featured)
	assert.Equal(t, "USD 290.00 / year", cards.Items[2].PriceLabel)
	assert.Contains(t, cards.Items[2].Features, "30 Days Free Trial")

	rec = ts.do(http.MethodGet, "/api/v1/customers/"+cust+"/plans?view=pricing&billing_cycle=annual", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cards = decode[listResponse[PricingCard]](t, rec)
	require.Equal(t, 1, cards.Count)
	assert.Equal(t, "yearly", cards.Items[0].PlanID)
	assert.False(t, cards.Items[0].Featured)

	rec = ts.do(http.MethodGet, "/api/v1/customers/"+cust+"/plans?billing_cycle=weekly", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(http.MethodGet, "/api/v1/customers/"+cust+"/plans?view=grid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(http.MethodGet, "/api/v1/customers/ghost/plans", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCustomerHandlers_Queries(t *testing.T) {
	ts := newTestServer(t, nil)
	plan, cust := ts.seed()
	res := ts.enroll(plan, cust)

	ts.do(http.MethodPost, "/api/v1/invoices/"+res.Invoice.ID+"/send", nil)
	rec := ts.do(http.MethodPost, "/api/v1/invoices/"+res.Invoice.ID+"/mark-paid", map[string]any{"payment_method": "card"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(http.MethodGet, "/api/v1/customers/"+cust+"/subscriptions", nil)
	assert.Equal(t, 1, decode[listResponse[billing.Subscription]](t, rec).Count)

	rec = ts.do(http.MethodGet, "/api/v1/customers/"+cust+"/invoices", nil)
	assert.Equal(t, 1, decode[listResponse[billing.Invoice]](t, rec).Count)

	rec = ts.do(http.MethodGet, "/api/v1/customers/"+cust+"/payments", nil)
	assert.Equal(t, 1, decode[listResponse[billing.Payment]](t, rec).Count)

	rec = ts.do(http.MethodGet, "/api/v1/customers/"+cust+"/payments/summary", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	summary := decode[billing.PaymentSummary](t, rec)
	assert.Equal(t, "29", summary.TotalPaid.String())
	assert.Equal(t, 1, summary.PaymentCount)
}
