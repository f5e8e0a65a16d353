package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/bms/pkg/billing"
	"github.com/platinummonkey/bms/pkg/httputil"
	"github.com/platinummonkey/bms/pkg/notify"
)

// HeaderGatewaySignature carries the payment provider's HMAC of the request body
const HeaderGatewaySignature = "X-Gateway-Signature"

// GatewayHandlers receives signed payment provider callbacks
type GatewayHandlers struct {
	gateway *billing.Gateway
	secret  string
	logger  *logrus.Logger
}

// NewGatewayHandlers creates a new GatewayHandlers
func NewGatewayHandlers(gateway *billing.Gateway, secret string, logger *logrus.Logger) *GatewayHandlers {
	return &GatewayHandlers{gateway: gateway, secret: secret, logger: logger}
}

// RegisterRoutes registers the provider callback route
func (h *GatewayHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/gateway/events", h.HandleEvent).Methods("POST")
}

// HandleEvent verifies the signature before decoding, so an unsigned body
// never reaches the ledger
func (h *GatewayHandlers) HandleEvent(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		httputil.WriteBadRequest(w, "failed to read request body")
		return
	}
	if !notify.VerifySignature(payload, r.Header.Get(HeaderGatewaySignature), h.secret) {
		h.logger.WithField("remote_addr", r.RemoteAddr).Warn("Rejected payment provider event with bad signature")
		httputil.WriteErrorMessage(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	var ev billing.ChargeEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		httputil.WriteBadRequest(w, "invalid JSON: "+err.Error())
		return
	}
	if ev.Type == "" {
		httputil.WriteBadRequest(w, "type is required")
		return
	}

	res, err := h.gateway.HandleCharge(r.Context(), ev)
	if err != nil {
		fail(h.logger, w, r, err)
		return
	}
	httputil.WriteSuccess(w, res)
}
