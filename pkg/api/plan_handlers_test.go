package api

import (
	"net/http"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/bms/pkg/billing"
)

func TestPlanHandlers_CRUD(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(http.MethodPost, "/api/v1/plans", map[string]any{
		"id":                "starter",
		"name":              "Starter",
		"amount":            "9.99",
		"billing_cycle":     "monthly",
		"trial_period_days": 14,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	plan := decode[billing.Plan](t, rec)
	assert.Equal(t, "USD", plan.Currency)
	assert.True(t, plan.Active)
	assert.True(t, decimal.RequireFromString("9.99").Equal(plan.Amount))

	rec = ts.do(http.MethodGet, "/api/v1/plans/starter", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Starter", decode[billing.Plan](t, rec).Name)

	rec = ts.do(http.MethodPatch, "/api/v1/plans/starter", map[string]any{"name": "Starter Plus"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Starter Plus", decode[billing.Plan](t, rec).Name)

	rec = ts.do(http.MethodPut, "/api/v1/plans/starter/active", map[string]any{"active": false})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[billing.Plan](t, rec).Active)

	rec = ts.do(http.MethodGet, "/api/v1/plans?active=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, decode[listResponse[billing.Plan]](t, rec).Count)

	rec = ts.do(http.MethodGet, "/api/v1/plans", nil)
	assert.Equal(t, 1, decode[listResponse[billing.Plan]](t, rec).Count)
}

func TestPlanHandlers_Errors(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.seed()

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"zero amount", http.MethodPost, "/api/v1/plans", map[string]any{"name": "Free", "amount": "0", "billing_cycle": "monthly"}, http.StatusBadRequest, "validation_failed"},
		{"negative trial", http.MethodPost, "/api/v1/plans", map[string]any{"name": "T", "amount": "5", "billing_cycle": "monthly", "trial_period_days": -1}, http.StatusBadRequest, "validation_failed"},
		{"unknown field", http.MethodPost, "/api/v1/plans", `{"name":"X","price":"5"}`, http.StatusBadRequest, ""},
		{"missing plan", http.MethodGet, "/api/v1/plans/ghost", nil, http.StatusNotFound, "not_found"},
		{"active required", http.MethodPut, "/api/v1/plans/pro/active", map[string]any{}, http.StatusBadRequest, ""},
		{"empty allow list", http.MethodPut, "/api/v1/plans/pro/visibility", map[string]any{"visibility": "specific_customers"}, http.StatusBadRequest, "validation_failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			if tt.code != "" {
				assert.Equal(t, tt.code, decode[errorBody](t, rec).Code)
			}
		})
	}
}

func TestPlanHandlers_FrozenOnceReferenced(t *testing.T) {
	ts := newTestServer(t, nil)
	plan, cust := ts.seed()
	ts.enroll(plan, cust)

	rec := ts.do(http.MethodPatch, "/api/v1/plans/"+plan, map[string]any{"amount": "39.00"})
	require.Equal(t, http.StatusConflict, rec.Code)
	body := decode[errorBody](t, rec)
	assert.Equal(t, "immutable_field", body.Code)
	assert.Equal(t, "amount", body.Field)

	rec = ts.do(http.MethodPut, "/api/v1/plans/"+plan+"/visibility", map[string]any{
		"visibility":        "specific_customers",
		"allowed_customers": []string{cust},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []string{cust}, decode[billing.Plan](t, rec).AllowedCustomers)
}
