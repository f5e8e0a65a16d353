package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/bms/pkg/billing"
	"github.com/platinummonkey/bms/pkg/httputil"
)

// SubscriptionHandlers handles enrollment and subscription transitions
type SubscriptionHandlers struct {
	svc    *billing.Service
	logger *logrus.Logger
}

// NewSubscriptionHandlers creates a new SubscriptionHandlers
func NewSubscriptionHandlers(svc *billing.Service, logger *logrus.Logger) *SubscriptionHandlers {
	return &SubscriptionHandlers{svc: svc, logger: logger}
}

// RegisterRoutes registers subscription routes
func (h *SubscriptionHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/subscriptions", h.Enroll).Methods("POST")
	router.HandleFunc("/subscriptions/{id}", h.GetSubscription).Methods("GET")
	router.HandleFunc("/subscriptions/{id}", h.UpdateSubscription).Methods("PATCH")
	router.HandleFunc("/subscriptions/{id}/activate", h.Activate).Methods("POST")
	router.HandleFunc("/subscriptions/{id}/cancel", h.Cancel).Methods("POST")
	router.HandleFunc("/subscriptions/{id}/renew", h.Renew).Methods("POST")
	router.HandleFunc("/subscriptions/{id}/expire", h.Expire).Methods("POST")
	router.HandleFunc("/subscriptions/{id}/invoice", h.EnsureInvoice).Methods("POST")
}

// Enroll subscribes a customer to a plan
func (h *SubscriptionHandlers) Enroll(w http.ResponseWriter, r *http.Request) {
	var req enrollRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	res, err := h.svc.Subscriptions.Enroll(r.Context(), billing.EnrollRequest{
		CustomerID:  req.CustomerID,
		PlanID:      req.PlanID,
		StartDate:   req.StartDate.value(),
		Trial:       req.Trial,
		AutoRenewal: req.AutoRenewal,
	})
	if err != nil {
		fail(h.logger, w, r, err)
		return
	}
	httputil.WriteCreated(w, res)
}

// GetSubscription retrieves a subscription
func (h *SubscriptionHandlers) GetSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := h.svc.Subscriptions.Get(r.Context(), httputil.PathVar(r, "id"))
	if err != nil {
		fail(h.logger, w, r, err)
		return
	}
	httputil.WriteSuccess(w, sub)
}

// UpdateSubscription toggles auto-renewal. Schedule changes are rejected
// once the subscription exists.
func (h *SubscriptionHandlers) UpdateSubscription(w http.ResponseWriter, r *http.Request) {
	var req subscriptionPatch
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	res, err := h.svc.Subscriptions.Update(r.Context(), httputil.PathVar(r, "id"), billing.SubscriptionChanges{
		StartDate:    req.StartDate.ptr(),
		BillingCycle: req.BillingCycle,
		AutoRenewal:  req.AutoRenewal,
	})
	h.respond(w, r, res, err)
}

// Activate moves a Trial subscription to Active
func (h *SubscriptionHandlers) Activate(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Subscriptions.Activate(r.Context(), httputil.PathVar(r, "id"))
	h.respond(w, r, res, err)
}

// Cancel cancels a subscription with a reason
func (h *SubscriptionHandlers) Cancel(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	res, err := h.svc.Subscriptions.Cancel(r.Context(), httputil.PathVar(r, "id"), req.Reason)
	h.respond(w, r, res, err)
}

// Renew starts the next billing period
func (h *SubscriptionHandlers) Renew(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Subscriptions.Renew(r.Context(), httputil.PathVar(r, "id"))
	h.respond(w, r, res, err)
}

// Expire ends a lapsed subscription
func (h *SubscriptionHandlers) Expire(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Subscriptions.Expire(r.Context(), httputil.PathVar(r, "id"))
	h.respond(w, r, res, err)
}

// EnsureInvoice materializes the invoice for the current period. Repeated
// calls return the same invoice.
func (h *SubscriptionHandlers) EnsureInvoice(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Invoices.CreateInvoice(r.Context(), httputil.PathVar(r, "id"))
	if err != nil {
		fail(h.logger, w, r, err)
		return
	}
	httputil.WriteSuccess(w, res)
}

func (h *SubscriptionHandlers) respond(w http.ResponseWriter, r *http.Request, res *billing.SubscriptionResult, err error) {
	if err != nil {
		fail(h.logger, w, r, err)
		return
	}
	httputil.WriteSuccess(w, res)
}
