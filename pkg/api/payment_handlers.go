package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/bms/pkg/billing"
	"github.com/platinummonkey/bms/pkg/httputil"
)

// PaymentHandlers handles payment lookups and refunds
type PaymentHandlers struct {
	ledger *billing.Ledger
	logger *logrus.Logger
}

// NewPaymentHandlers creates a new PaymentHandlers
func NewPaymentHandlers(ledger *billing.Ledger, logger *logrus.Logger) *PaymentHandlers {
	return &PaymentHandlers{ledger: ledger, logger: logger}
}

// RegisterRoutes registers payment routes
func (h *PaymentHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/payments/{id}", h.GetPayment).Methods("GET")
	router.HandleFunc("/payments/{id}/refund", h.Refund).Methods("POST")
	router.HandleFunc("/payments/{id}/ensure-refund", h.EnsureRefund).Methods("POST")
}

// GetPayment retrieves a payment
func (h *PaymentHandlers) GetPayment(w http.ResponseWriter, r *http.Request) {
	p, err := h.ledger.Get(r.Context(), httputil.PathVar(r, "id"))
	if err != nil {
		fail(h.logger, w, r, err)
		return
	}
	httputil.WriteSuccess(w, p)
}

// Refund refunds a completed payment in full
func (h *PaymentHandlers) Refund(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	res, err := h.ledger.ProcessRefund(r.Context(), httputil.PathVar(r, "id"), req.Reason)
	h.respond(w, r, res, err)
}

// EnsureRefund retries the refund entry of a payment already marked Refunded
func (h *PaymentHandlers) EnsureRefund(w http.ResponseWriter, r *http.Request) {
	res, err := h.ledger.EnsureRefund(r.Context(), httputil.PathVar(r, "id"))
	h.respond(w, r, res, err)
}

func (h *PaymentHandlers) respond(w http.ResponseWriter, r *http.Request, res *billing.PaymentResult, err error) {
	if err != nil {
		fail(h.logger, w, r, err)
		return
	}
	httputil.WriteSuccess(w, res)
}
