/**
 * @description
 * This file sets up the HTTP router for the onboarding-service using the go-chi/chi router.
 * It defines the API routes, applies middleware for logging, CORS, and authentication,
 * and maps the routes to their corresponding handler functions.
 */
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new Chi router and registers the onboarding-service routes.
// guards (authentication first) wrap every /v1 route; the webhook is
// authenticated by its signature instead.
func NewRouter(h *Handler, webhook *WebhookHandler, allowedOrigins []string, guards ...func(http.Handler) http.Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300, // Maximum value not ignored by any major browsers
	}))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	r.Post("/webhooks/ledger", webhook.ServeHTTP)

	r.Route("/v1", func(r chi.Router) {
		r.Use(guards...)

		r.Route("/onboarding", func(r chi.Router) {
			r.Get("/status", h.handleGetStatus)
			r.Post("/account", h.handleCreateAccount)
			r.Post("/account-link", h.handleCreateAccountLink)
			r.Post("/bank-account", h.handleLinkBankAccount)
			r.Post("/capabilities", h.handleRequestCapabilities)
			r.Post("/refresh", h.handleRefresh)
			r.Post("/cardholder", h.handleCreateCardholder)
		})

		r.Route("/card", func(r chi.Router) {
			r.Post("/", h.handleIssueCard)
			r.Post("/funding", h.handleEnsureFunds)
			r.Get("/transactions", h.handleCardTransactions)
		})

		r.Route("/funding", func(r chi.Router) {
			r.Get("/balance", h.handleGetBalance)
			r.Post("/payouts", h.handlePayout)
		})
	})

	return r
}
