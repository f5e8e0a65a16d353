package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/bms/pkg/billing"
	"github.com/platinummonkey/bms/pkg/httputil"
	"github.com/platinummonkey/bms/pkg/notify"
	"github.com/platinummonkey/bms/pkg/observability"
)

const maxBodyBytes = 1 << 20

// RouteRegistrar is an interface for types that can register routes
type RouteRegistrar interface {
	RegisterRoutes(router *mux.Router)
}

// Server represents our API server
type Server struct {
	svc           *billing.Service
	webhooks      *notify.Notifier
	gatewaySecret string
	logger        *logrus.Logger
	router        *mux.Router
	middleware    []mux.MiddlewareFunc
	corsOrigins   []string
}

// Option configures a Server
type Option func(*Server)

// WithWebhooks exposes endpoint management for the notifier
func WithWebhooks(n *notify.Notifier) Option {
	return func(s *Server) { s.webhooks = n }
}

// WithGatewaySecret accepts payment provider callbacks signed with secret
func WithGatewaySecret(secret string) Option {
	return func(s *Server) { s.gatewaySecret = secret }
}

// WithRouteMiddleware adds middleware that runs after route matching, so
// mux.CurrentRoute is available to it
func WithRouteMiddleware(mw ...mux.MiddlewareFunc) Option {
	return func(s *Server) { s.middleware = append(s.middleware, mw...) }
}

// WithCORS allows cross-origin requests from the given origins
func WithCORS(origins ...string) Option {
	return func(s *Server) { s.corsOrigins = origins }
}

// NewServer creates a new API server
func NewServer(svc *billing.Service, logger *logrus.Logger, opts ...Option) *Server {
	s := &Server{
		svc:    svc,
		logger: logger,
		router: mux.NewRouter(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	s.router.Use(observability.RecoveryMiddleware(s.logger))
	for _, mw := range s.middleware {
		s.router.Use(mw)
	}
	notFound := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteErrorMessage(w, http.StatusNotFound, "route not found")
	})
	methodNotAllowed := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteErrorMessage(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	s.router.NotFoundHandler = notFound
	s.router.MethodNotAllowedHandler = methodNotAllowed

	// mux resolves unmatched requests on the innermost router, so the
	// subrouter needs its own handlers
	v1 := s.router.PathPrefix("/api/v1").Subrouter()
	v1.NotFoundHandler = notFound
	v1.MethodNotAllowedHandler = methodNotAllowed
	registrars := []RouteRegistrar{
		NewPlanHandlers(s.svc.Catalog, s.logger),
		NewCustomerHandlers(s.svc, s.logger),
		NewSubscriptionHandlers(s.svc, s.logger),
		NewInvoiceHandlers(s.svc, s.logger),
		NewPaymentHandlers(s.svc.Ledger, s.logger),
	}
	if s.webhooks != nil {
		registrars = append(registrars, NewWebhookHandlers(s.webhooks))
	}
	if s.gatewaySecret != "" {
		registrars = append(registrars, NewGatewayHandlers(s.svc.Gateway, s.gatewaySecret, s.logger))
	}
	for _, r := range registrars {
		r.RegisterRoutes(v1)
	}
}

// Router returns the underlying router
func (s *Server) Router() *mux.Router {
	return s.router
}

// Handler wraps the router with request ID, logging and body limits
func (s *Server) Handler() http.Handler {
	chain := []func(http.Handler) http.Handler{
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(s.logger),
	}
	if len(s.corsOrigins) > 0 {
		chain = append(chain, httputil.CORSMiddleware(s.corsOrigins))
	}
	chain = append(chain,
		httputil.ContentTypeMiddleware,
		httputil.MaxBytesMiddleware(maxBodyBytes),
	)
	return httputil.Chain(chain...)(s.router)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// fail writes err and logs it when it is not a client error
func fail(logger *logrus.Logger, w http.ResponseWriter, r *http.Request, err error) {
	status := httputil.WriteServiceError(w, err)
	entry := logger.WithFields(logrus.Fields{
		"method": r.Method,
		"path":   r.URL.Path,
		"status": status,
	})
	if id := observability.GetRequestID(r.Context()); id != "" {
		entry = entry.WithField("request_id", id)
	}
	if status >= http.StatusInternalServerError {
		entry.WithError(err).Error("Request failed")
		return
	}
	entry.WithError(err).Debug("Request rejected")
}
