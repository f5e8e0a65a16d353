package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/bms/pkg/billing"
	"github.com/platinummonkey/bms/pkg/httputil"
)

// InvoiceHandlers handles invoice requests
type InvoiceHandlers struct {
	svc    *billing.Service
	logger *logrus.Logger
}

// NewInvoiceHandlers creates a new InvoiceHandlers
func NewInvoiceHandlers(svc *billing.Service, logger *logrus.Logger) *InvoiceHandlers {
	return &InvoiceHandlers{svc: svc, logger: logger}
}

// RegisterRoutes registers invoice routes
func (h *InvoiceHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/invoices", h.CreateInvoice).Methods("POST")
	router.HandleFunc("/invoices/{id}", h.GetInvoice).Methods("GET")
	router.HandleFunc("/invoices/{id}", h.SetAmounts).Methods("PATCH")
	router.HandleFunc("/invoices/{id}/pdf", h.DownloadPDF).Methods("GET")
	router.HandleFunc("/invoices/{id}/payment-status", h.PaymentStatus).Methods("GET")
	router.HandleFunc("/invoices/{id}/send", h.Send).Methods("POST")
	router.HandleFunc("/invoices/{id}/mark-paid", h.MarkPaid).Methods("POST")
	router.HandleFunc("/invoices/{id}/mark-overdue", h.MarkOverdue).Methods("POST")
	router.HandleFunc("/invoices/{id}/cancel", h.Cancel).Methods("POST")
	router.HandleFunc("/invoices/{id}/reconcile", h.Reconcile).Methods("POST")
	router.HandleFunc("/invoices/{id}/payments", h.RecordPayment).Methods("POST")
}

// CreateInvoice creates a Draft invoice that is not tied to a subscription
func (h *InvoiceHandlers) CreateInvoice(w http.ResponseWriter, r *http.Request) {
	var req standaloneInvoiceRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	res, err := h.svc.Invoices.CreateStandaloneInvoice(r.Context(), billing.StandaloneInvoiceRequest{
		CustomerID:  req.CustomerID,
		Description: req.Description,
		Amount:      req.Amount,
		TaxAmount:   req.TaxAmount,
		Currency:    req.Currency,
		InvoiceDate: req.InvoiceDate.value(),
	})
	if err != nil {
		fail(h.logger, w, r, err)
		return
	}
	httputil.WriteCreated(w, res)
}

// GetInvoice retrieves an invoice
func (h *InvoiceHandlers) GetInvoice(w http.ResponseWriter, r *http.Request) {
	inv, err := h.svc.Invoices.Get(r.Context(), httputil.PathVar(r, "id"))
	if err != nil {
		fail(h.logger, w, r, err)
		return
	}
	httputil.WriteSuccess(w, inv)
}

// SetAmounts changes the amounts of a Draft invoice
func (h *InvoiceHandlers) SetAmounts(w http.ResponseWriter, r *http.Request) {
	var req amountsRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Amount == nil || req.TaxAmount == nil {
		httputil.WriteBadRequest(w, "amount and tax_amount are required")
		return
	}
	res, err := h.svc.Invoices.SetAmounts(r.Context(), httputil.PathVar(r, "id"), *req.Amount, *req.TaxAmount)
	h.respond(w, r, res, err)
}

// DownloadPDF renders the invoice document
func (h *InvoiceHandlers) DownloadPDF(w http.ResponseWriter, r *http.Request) {
	id := httputil.PathVar(r, "id")
	data, contentType, err := h.svc.Invoices.RenderPDF(r.Context(), id)
	if err != nil {
		fail(h.logger, w, r, err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="invoice-`+id+`.pdf"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// PaymentStatus reports how much of the invoice has been paid
func (h *InvoiceHandlers) PaymentStatus(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.Invoices.PaymentStatus(r.Context(), httputil.PathVar(r, "id"))
	if err != nil {
		fail(h.logger, w, r, err)
		return
	}
	httputil.WriteSuccess(w, report)
}

// Send issues a Draft invoice
func (h *InvoiceHandlers) Send(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Invoices.Send(r.Context(), httputil.PathVar(r, "id"))
	h.respond(w, r, res, err)
}

// MarkPaid settles an invoice in full
func (h *InvoiceHandlers) MarkPaid(w http.ResponseWriter, r *http.Request) {
	var req markPaidRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	res, err := h.svc.Invoices.MarkPaid(r.Context(), httputil.PathVar(r, "id"), req.Method, req.Reference)
	h.respond(w, r, res, err)
}

// MarkOverdue flags a Sent invoice as overdue
func (h *InvoiceHandlers) MarkOverdue(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Invoices.MarkOverdue(r.Context(), httputil.PathVar(r, "id"))
	h.respond(w, r, res, err)
}

// Cancel voids an unpaid invoice
func (h *InvoiceHandlers) Cancel(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Invoices.Cancel(r.Context(), httputil.PathVar(r, "id"))
	h.respond(w, r, res, err)
}

// Reconcile retries the settlement entry of a Paid invoice
func (h *InvoiceHandlers) Reconcile(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Invoices.Reconcile(r.Context(), httputil.PathVar(r, "id"))
	h.respond(w, r, res, err)
}

// RecordPayment records money received against the invoice
func (h *InvoiceHandlers) RecordPayment(w http.ResponseWriter, r *http.Request) {
	var req paymentRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	res, err := h.svc.Ledger.RecordPayment(r.Context(), billing.RecordPaymentRequest{
		InvoiceID: httputil.PathVar(r, "id"),
		Amount:    req.Amount,
		Method:    req.Method,
		Reference: req.Reference,
	})
	if err != nil {
		fail(h.logger, w, r, err)
		return
	}
	httputil.WriteCreated(w, res)
}

func (h *InvoiceHandlers) respond(w http.ResponseWriter, r *http.Request, res *billing.InvoiceResult, err error) {
	if err != nil {
		fail(h.logger, w, r, err)
		return
	}
	httputil.WriteSuccess(w, res)
}
