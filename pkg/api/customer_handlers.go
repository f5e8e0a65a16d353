package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/bms/pkg/billing"
	"github.com/platinummonkey/bms/pkg/httputil"
)

// CustomerHandlers handles customer requests and per-customer queries
type CustomerHandlers struct {
	svc    *billing.Service
	logger *logrus.Logger
}

// NewCustomerHandlers creates a new CustomerHandlers
func NewCustomerHandlers(svc *billing.Service, logger *logrus.Logger) *CustomerHandlers {
	return &CustomerHandlers{svc: svc, logger: logger}
}

// RegisterRoutes registers customer routes
func (h *CustomerHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/customers", h.CreateCustomer).Methods("POST")
	router.HandleFunc("/customers", h.ListCustomers).Methods("GET")
	router.HandleFunc("/customers/{id}", h.GetCustomer).Methods("GET")
	router.HandleFunc("/customers/{id}/plans", h.ListEligiblePlans).Methods("GET")
	router.HandleFunc("/customers/{id}/subscriptions", h.ListSubscriptions).Methods("GET")
	router.HandleFunc("/customers/{id}/invoices", h.ListInvoices).Methods("GET")
	router.HandleFunc("/customers/{id}/payments", h.ListPayments).Methods("GET")
	router.HandleFunc("/customers/{id}/payments/summary", h.PaymentSummary).Methods("GET")
}

// CreateCustomer creates a new customer
func (h *CustomerHandlers) CreateCustomer(w http.ResponseWriter, r *http.Request) {
	var spec billing.CustomerSpec
	if !httputil.ParseJSONOrError(w, r, &spec) {
		return
	}
	customer, err := h.svc.Customers.CreateCustomer(r.Context(), spec)
	if err != nil {
		fail(h.logger, w, r, err)
		return
	}
	httputil.WriteCreated(w, customer)
}

// ListCustomers lists all customers
func (h *CustomerHandlers) ListCustomers(w http.ResponseWriter, r *http.Request) {
	customers, err := h.svc.Customers.ListCustomers(r.Context())
	if err != nil {
		fail(h.logger, w, r, err)
		return
	}
	httputil.WriteSuccess(w, list(customers))
}

// GetCustomer retrieves a customer
func (h *CustomerHandlers) GetCustomer(w http.ResponseWriter, r *http.Request) {
	customer, err := h.svc.Customers.GetCustomer(r.Context(), httputil.PathVar(r, "id"))
	if err != nil {
		fail(h.logger, w, r, err)
		return
	}
	httputil.WriteSuccess(w, customer)
}

// ListEligiblePlans lists the plans a customer may enroll in, cheapest
// first, through the listing described by the query
func (h *CustomerHandlers) ListEligiblePlans(w http.ResponseWriter, r *http.Request) {
	customer, err := h.svc.Customers.GetCustomer(r.Context(), httputil.PathVar(r, "id"))
	if err != nil {
		fail(h.logger, w, r, err)
		return
	}
	listing, err := listingFromQuery(r, func(ctx context.Context) ([]*billing.Plan, error) {
		return h.svc.Catalog.ListEligiblePlans(ctx, customer.ID)
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

// ListSubscriptions lists a customer's subscriptions
func (h *CustomerHandlers) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	subs, err := h.svc.Subscriptions.ListByCustomer(r.Context(), httputil.PathVar(r, "id"))
	if err != nil {
		fail(h.logger, w, r, err)
		return
	}
	httputil.WriteSuccess(w, list(subs))
}

// ListInvoices lists a customer's invoices
func (h *CustomerHandlers) ListInvoices(w http.ResponseWriter, r *http.Request) {
	invoices, err := h.svc.Invoices.ListByCustomer(r.Context(), httputil.PathVar(r, "id"))
	if err != nil {
		fail(h.logger, w, r, err)
		return
	}
	httputil.WriteSuccess(w, list(invoices))
}

// ListPayments lists a customer's payments and refunds
func (h *CustomerHandlers) ListPayments(w http.ResponseWriter, r *http.Request) {
	payments, err := h.svc.Ledger.ListByCustomer(r.Context(), httputil.PathVar(r, "id"))
	if err != nil {
		fail(h.logger, w, r, err)
		return
	}
	httputil.WriteSuccess(w, list(payments))
}

// PaymentSummary totals a customer's payments and refunds
func (h *CustomerHandlers) PaymentSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.svc.Ledger.Summary(r.Context(), httputil.PathVar(r, "id"))
	if err != nil {
		fail(h.logger, w, r, err)
		return
	}
	httputil.WriteSuccess(w, summary)
}
