package app

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/piggybank/onboarding-service/internal/domain"
)

// AccountEventHandler reacts to internal onboarding events.
type AccountEventHandler struct {
	orchestrator *Orchestrator
	logger       *slog.Logger
	timeout      time.Duration
}

// NewAccountEventHandler creates a new instance of AccountEventHandler.
func NewAccountEventHandler(orchestrator *Orchestrator, logger *slog.Logger) *AccountEventHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AccountEventHandler{
		orchestrator: orchestrator,
		logger:       logger.With("component", "account_event_handler"),
		timeout:      45 * time.Second,
	}
}

// HandleAccountApproved requests card_issuing once an account is approved.
// It returns false only for failures worth redelivering.
func (h *AccountEventHandler) HandleAccountApproved(body []byte) bool {
	var event domain.AccountApprovedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		h.logger.Error("failed to unmarshal account.approved event", "error", err)
		return true // Acknowledge malformed message.
	}
	if event.UserID == "" {
		h.logger.Warn("account.approved event missing user id; acking")
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	logger := h.logger.With("user_id", event.UserID, "account_id", event.ExternalAccountID)
	session, err := h.orchestrator.Open(ctx, event.UserID)
	if err != nil {
		logger.Error("failed to open session for approved account", "error", err)
		return false
	}
	defer session.Close()

	view, err := session.RequestCapabilities(ctx, domain.CapabilityCardIssuing)
	if err != nil {
		switch domain.KindOf(err) {
		case domain.KindRateLimited, domain.KindUnknown:
			logger.Warn("transient failure requesting card_issuing; requeueing", "error", err)
			return false
		default:
			logger.Error("could not request card_issuing", "kind", domain.KindOf(err), "error", err)
			return true
		}
	}
	logger.Info("requested card_issuing after approval", "card_issuing", view.Capability(domain.CapabilityCardIssuing))
	return true
}
