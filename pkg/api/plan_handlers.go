package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/bms/pkg/billing"
	"github.com/platinummonkey/bms/pkg/httputil"
)

// PlanHandlers handles plan catalog requests
type PlanHandlers struct {
	catalog *billing.Catalog
	logger  *logrus.Logger
}

// NewPlanHandlers creates a new PlanHandlers
func NewPlanHandlers(catalog *billing.Catalog, logger *logrus.Logger) *PlanHandlers {
	return &PlanHandlers{catalog: catalog, logger: logger}
}

// RegisterRoutes registers plan routes
func (h *PlanHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/plans", h.CreatePlan).Methods("POST")
	router.HandleFunc("/plans", h.ListPlans).Methods("GET")
	router.HandleFunc("/plans/{id}", h.GetPlan).Methods("GET")
	router.HandleFunc("/plans/{id}", h.UpdatePlan).Methods("PATCH")
	router.HandleFunc("/plans/{id}/active", h.SetActive).Methods("PUT")
	router.HandleFunc("/plans/{id}/visibility", h.SetVisibility).Methods("PUT")
}

// CreatePlan creates a new plan
func (h *PlanHandlers) CreatePlan(w http.ResponseWriter, r *http.Request) {
	var spec billing.PlanSpec
	if !httputil.ParseJSONOrError(w, r, &spec) {
		return
	}
	plan, err := h.catalog.CreatePlan(r.Context(), spec)
	if err != nil {
		fail(h.logger, w, r, err)
		return
	}
	httputil.WriteCreated(w, plan)
}

// ListPlans lists plans, optionally only active ones, through the listing
// described by the query
func (h *PlanHandlers) ListPlans(w http.ResponseWriter, r *http.Request) {
	activeOnly, err := httputil.ParseQueryBool(r, "active", false)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	listing, err := listingFromQuery(r, func(ctx context.Context) ([]*billing.Plan, error) {
		return h.catalog.ListPlans(ctx, activeOnly)
	})
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	out, err := listing.Run(r.Context())
	if err != nil {
		fail(h.logger, w, r, err)
		return
	}
	httputil.WriteSuccess(w, out)
}

// GetPlan retrieves a plan
func (h *PlanHandlers) GetPlan(w http.ResponseWriter, r *http.Request) {
	plan, err := h.catalog.GetPlan(r.Context(), httputil.PathVar(r, "id"))
	if err != nil {
		fail(h.logger, w, r, err)
		return
	}
	httputil.WriteSuccess(w, plan)
}

// UpdatePlan applies a partial update
func (h *PlanHandlers) UpdatePlan(w http.ResponseWriter, r *http.Request) {
	var changes billing.PlanChanges
	if !httputil.ParseJSONOrError(w, r, &changes) {
		return
	}
	plan, err := h.catalog.UpdatePlan(r.Context(), httputil.PathVar(r, "id"), changes)
	if err != nil {
		fail(h.logger, w, r, err)
		return
	}
	httputil.WriteSuccess(w, plan)
}

// SetActive activates or deactivates a plan
func (h *PlanHandlers) SetActive(w http.ResponseWriter, r *http.Request) {
	var req activeRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Active == nil {
		httputil.WriteBadRequest(w, "active is required")
		return
	}
	plan, err := h.catalog.SetPlanActive(r.Context(), httputil.PathVar(r, "id"), *req.Active)
	if err != nil {
		fail(h.logger, w, r, err)
		return
	}
	httputil.WriteSuccess(w, plan)
}

// SetVisibility changes who may enroll in a plan
func (h *PlanHandlers) SetVisibility(w http.ResponseWriter, r *http.Request) {
	var req visibilityRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	plan, err := h.catalog.SetPlanVisibility(r.Context(), httputil.PathVar(r, "id"), req.Visibility, req.AllowedCustomers)
	if err != nil {
		fail(h.logger, w, r, err)
		return
	}
	httputil.WriteSuccess(w, plan)
}
