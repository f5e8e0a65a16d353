package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/bms/pkg/billing"
	"github.com/platinummonkey/bms/pkg/httputil"
	"github.com/platinummonkey/bms/pkg/notify"
)

// WebhookHandlers manages notification endpoints
type WebhookHandlers struct {
	notifier *notify.Notifier
}

// NewWebhookHandlers creates a new WebhookHandlers
func NewWebhookHandlers(notifier *notify.Notifier) *WebhookHandlers {
	return &WebhookHandlers{notifier: notifier}
}

// RegisterRoutes registers webhook routes
func (h *WebhookHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/webhooks", h.CreateWebhook).Methods("POST")
	router.HandleFunc("/webhooks", h.ListWebhooks).Methods("GET")
	router.HandleFunc("/webhooks/{id}", h.GetWebhook).Methods("GET")
	router.HandleFunc("/webhooks/{id}", h.DeleteWebhook).Methods("DELETE")
	router.HandleFunc("/webhooks/{id}/active", h.SetActive).Methods("PUT")
	router.HandleFunc("/webhooks/{id}/deliveries", h.ListDeliveries).Methods("GET")
	router.HandleFunc("/webhooks/{id}/stats", h.GetStats).Methods("GET")
}

type createWebhookRequest struct {
	URL         string              `json:"url"`
	Events      []billing.EventType `json:"events,omitempty"`
	Secret      string              `json:"secret"`
	Description string              `json:"description,omitempty"`
}

// CreateWebhook registers an endpoint
func (h *WebhookHandlers) CreateWebhook(w http.ResponseWriter, r *http.Request) {
	var req createWebhookRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Secret == "" {
		httputil.WriteBadRequest(w, "secret is required")
		return
	}
	ep := &notify.Endpoint{
		URL:         req.URL,
		Events:      req.Events,
		Secret:      req.Secret,
		Description: req.Description,
	}
	if err := h.notifier.Register(ep); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	httputil.WriteCreated(w, ep)
}

// ListWebhooks lists endpoints
func (h *WebhookHandlers) ListWebhooks(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, list(h.notifier.Endpoints()))
}

// GetWebhook retrieves an endpoint
func (h *WebhookHandlers) GetWebhook(w http.ResponseWriter, r *http.Request) {
	ep, err := h.notifier.Endpoint(httputil.PathVar(r, "id"))
	if err != nil {
		writeNotifyError(w, err)
		return
	}
	httputil.WriteSuccess(w, ep)
}

// DeleteWebhook removes an endpoint
func (h *WebhookHandlers) DeleteWebhook(w http.ResponseWriter, r *http.Request) {
	if err := h.notifier.Unregister(httputil.PathVar(r, "id")); err != nil {
		writeNotifyError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// SetActive pauses or resumes delivery
func (h *WebhookHandlers) SetActive(w http.ResponseWriter, r *http.Request) {
	var req activeRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Active == nil {
		httputil.WriteBadRequest(w, "active is required")
		return
	}
	id := httputil.PathVar(r, "id")
	if err := h.notifier.SetActive(id, *req.Active); err != nil {
		writeNotifyError(w, err)
		return
	}
	ep, err := h.notifier.Endpoint(id)
	if err != nil {
		writeNotifyError(w, err)
		return
	}
	httputil.WriteSuccess(w, ep)
}

// ListDeliveries lists recent deliveries, newest first
func (h *WebhookHandlers) ListDeliveries(w http.ResponseWriter, r *http.Request) {
	id := httputil.PathVar(r, "id")
	if _, err := h.notifier.Endpoint(id); err != nil {
		writeNotifyError(w, err)
		return
	}
	limit, err := httputil.ParseQueryInt(r, "limit", 50)
	if err != nil || limit < 1 {
		httputil.WriteBadRequest(w, "limit must be a positive integer")
		return
	}
	httputil.WriteSuccess(w, list(h.notifier.Deliveries(id, limit)))
}

// GetStats reports delivery statistics
func (h *WebhookHandlers) GetStats(w http.ResponseWriter, r *http.Request) {
	id := httputil.PathVar(r, "id")
	if _, err := h.notifier.Endpoint(id); err != nil {
		writeNotifyError(w, err)
		return
	}
	httputil.WriteSuccess(w, h.notifier.Stats(id))
}

func writeNotifyError(w http.ResponseWriter, err error) {
	if errors.Is(err, notify.ErrEndpointNotFound) {
		httputil.WriteErrorMessage(w, http.StatusNotFound, err.Error())
		return
	}
	httputil.WriteServiceError(w, err)
}
