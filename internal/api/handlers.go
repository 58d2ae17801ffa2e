/**
 * @description
 * This file defines the HTTP handlers for the onboarding flow. Every handler
 * opens one orchestrator session for the authenticated user, runs a single
 * step and renders either the result or one classified error.
 */
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/piggybank/onboarding-service/internal/app"
	"github.com/piggybank/onboarding-service/internal/domain"
	"github.com/piggybank/onboarding-service/pkg/middleware"
)

const maxBodyBytes = 1 << 20

// Handler holds the dependencies for the onboarding handlers.
type Handler struct {
	orchestrator *app.Orchestrator
	logger       *slog.Logger
}

// NewHandler creates a new Handler.
func NewHandler(orchestrator *app.Orchestrator, logger *slog.Logger) *Handler {
	return &Handler{orchestrator: orchestrator, logger: logger.With("component", "api")}
}

type requestCapabilitiesRequest struct {
	Capabilities []string `json:"capabilities"`
}

type ensureFundsRequest struct {
	MinimumCents int64 `json:"minimum_cents"`
}

type payoutRequest struct {
	AmountCents int64 `json:"amount_cents"`
}

type issueCardResponse struct {
	CardID string `json:"card_id"`
}

// withSession resolves the caller and opens a session for the duration of fn.
func (h *Handler) withSession(w http.ResponseWriter, r *http.Request, fn func(*app.Session) (int, any, error)) {
	userID := middleware.GetUserIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	logger := h.logger.With("user_id", userID, "path", r.URL.Path)

	session, err := h.orchestrator.Open(r.Context(), userID)
	if err != nil {
		writeError(w, logger, err)
		return
	}
	defer session.Close()

	status, body, err := fn(session)
	if err != nil {
		writeError(w, logger, err)
		return
	}
	writeJSON(w, status, body)
}

// decodeBody decodes an optional JSON body into dst. An empty body leaves dst untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return domain.ValidationError("body", "request body is not valid JSON")
	}
	return nil
}

func (h *Handler) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, r, func(s *app.Session) (int, any, error) {
		view, err := s.AccountStatus(r.Context())
		return http.StatusOK, view, err
	})
}

func (h *Handler) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var profile domain.Profile
	if err := decodeBody(w, r, &profile); err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.withSession(w, r, func(s *app.Session) (int, any, error) {
		view, err := s.CreateAccount(r.Context(), profile)
		return http.StatusCreated, view, err
	})
}

func (h *Handler) handleCreateAccountLink(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, r, func(s *app.Session) (int, any, error) {
		link, err := s.CreateOnboardingLink(r.Context())
		return http.StatusOK, link, err
	})
}

func (h *Handler) handleLinkBankAccount(w http.ResponseWriter, r *http.Request) {
	var in domain.BankAccountInput
	if err := decodeBody(w, r, &in); err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.withSession(w, r, func(s *app.Session) (int, any, error) {
		view, err := s.LinkBankAccount(r.Context(), in)
		return http.StatusOK, view, err
	})
}

func (h *Handler) handleRequestCapabilities(w http.ResponseWriter, r *http.Request) {
	var req requestCapabilitiesRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.withSession(w, r, func(s *app.Session) (int, any, error) {
		view, err := s.RequestCapabilities(r.Context(), req.Capabilities...)
		return http.StatusOK, view, err
	})
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, r, func(s *app.Session) (int, any, error) {
		view, err := s.PollStatus(r.Context())
		return http.StatusOK, view, err
	})
}

func (h *Handler) handleCreateCardholder(w http.ResponseWriter, r *http.Request) {
	var details domain.CardholderDetails
	if err := decodeBody(w, r, &details); err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.withSession(w, r, func(s *app.Session) (int, any, error) {
		view, err := s.CreateCardholder(r.Context(), details)
		return http.StatusCreated, view, err
	})
}

func (h *Handler) handleEnsureFunds(w http.ResponseWriter, r *http.Request) {
	var req ensureFundsRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.withSession(w, r, func(s *app.Session) (int, any, error) {
		result, err := s.EnsureFundsForCard(r.Context(), req.MinimumCents)
		return http.StatusOK, result, err
	})
}

func (h *Handler) handleIssueCard(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, r, func(s *app.Session) (int, any, error) {
		cardID, err := s.IssueCard(r.Context())
		return http.StatusCreated, issueCardResponse{CardID: cardID}, err
	})
}

func (h *Handler) handleCardTransactions(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, h.logger, domain.ValidationError("limit", "limit must be a positive number"))
			return
		}
		limit = parsed
	}
	h.withSession(w, r, func(s *app.Session) (int, any, error) {
		txns, err := s.CardTransactions(r.Context(), limit)
		return http.StatusOK, map[string]any{"data": txns}, err
	})
}

func (h *Handler) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, r, func(s *app.Session) (int, any, error) {
		balance, err := s.FundingBalance(r.Context())
		return http.StatusOK, balance, err
	})
}

func (h *Handler) handlePayout(w http.ResponseWriter, r *http.Request) {
	var req payoutRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.withSession(w, r, func(s *app.Session) (int, any, error) {
		payout, err := s.Payout(r.Context(), req.AmountCents)
		return http.StatusCreated, payout, err
	})
}
