package api

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/piggybank/onboarding-service/internal/app"
	"github.com/piggybank/onboarding-service/internal/domain"
)

// WebhookHandler receives ledger webhook deliveries.
type WebhookHandler struct {
	reconciler *app.Reconciler
	logger     *slog.Logger
}

// NewWebhookHandler creates a new handler for the webhook endpoint.
func NewWebhookHandler(reconciler *app.Reconciler, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{reconciler: reconciler, logger: logger.With("component", "webhook_api")}
}

// ServeHTTP acknowledges applied or ignored events with 200. A signed event
// that cannot be parsed is logged and acknowledged as well, since redelivery
// would never succeed. Bad signatures get a plain-text 400 and store failures
// a 500, both of which the ledger retries.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := h.logger.With("request_id", middleware.GetReqID(r.Context()))

	// The signature covers the raw bytes, so the body is read once, unparsed.
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		logger.Warn("cannot read webhook body", "error", err)
		http.Error(w, "Cannot read request body", http.StatusBadRequest)
		return
	}

	err = h.reconciler.Handle(r.Context(), r.Header.Get(app.SignatureHeader), body)
	if err != nil {
		switch domain.KindOf(err) {
		case domain.KindSignatureInvalid:
			http.Error(w, "Webhook Error: invalid signature", http.StatusBadRequest)
		case domain.KindValidation:
			http.Error(w, "Webhook Error: malformed event", http.StatusBadRequest)
		default:
			http.Error(w, "Webhook Error: could not apply event", http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}
