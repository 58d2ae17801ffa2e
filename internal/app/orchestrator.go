/**
 * @description
 * This file contains the OnboardingOrchestrator: the account lifecycle state
 * machine that drives a user from NO_ACCOUNT through PENDING to APPROVED and
 * on to a cardholder and a virtual card.
 *
 * @notes
 * - Callers open a Session per user flow instead of sharing a global store.
 * - Commit-on-success only: no mirror field is written until the ledger call
 *   it depends on has returned successfully.
 * - The orchestrator never retries a ledger call. The one absorbed failure is
 *   the duplicate card, surfaced by the ledger client as a tagged result.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/piggybank/onboarding-service/internal/domain"
	"github.com/piggybank/onboarding-service/internal/store"
)

const scopeCreateAccount = "create_account"

// OrchestratorConfig holds the settings the orchestrator consumes.
type OrchestratorConfig struct {
	CardCurrency  string
	PublicBaseURL string
}

// Orchestrator owns the onboarding state machine.
type Orchestrator struct {
	mirrors   store.MirrorStore
	ledger    Ledger
	keys      IdempotencyKeys
	publisher EventPublisher
	logger    *slog.Logger
	config    OrchestratorConfig
	now       func() time.Time
}

// NewOrchestrator creates a new Orchestrator. publisher may be nil.
func NewOrchestrator(mirrors store.MirrorStore, ledger Ledger, keys IdempotencyKeys, publisher EventPublisher, logger *slog.Logger, cfg OrchestratorConfig) *Orchestrator {
	if keys == nil {
		keys = NewMemoryIdempotencyKeys(time.Hour)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CardCurrency == "" {
		cfg.CardCurrency = "usd"
	}
	cfg.CardCurrency = strings.ToLower(cfg.CardCurrency)
	return &Orchestrator{
		mirrors:   mirrors,
		ledger:    ledger,
		keys:      keys,
		publisher: publisher,
		logger:    logger.With("component", "orchestrator"),
		config:    cfg,
		now:       time.Now,
	}
}

// Open starts a session for userID, creating the default mirror on first use.
func (o *Orchestrator) Open(ctx context.Context, userID string) (*Session, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, domain.ValidationError("userId", "user id is required")
	}
	if _, err := o.mirrors.GetOrCreateMirror(ctx, userID); err != nil {
		return nil, fmt.Errorf("failed to open onboarding session: %w", err)
	}
	return &Session{orchestrator: o, userID: userID, logger: o.logger.With("user_id", userID)}, nil
}

// applyState writes an account state and announces a transition into
// approved. A failed announcement is logged; the mirror write stands.
func applyState(ctx context.Context, mirrors store.MirrorStore, publisher EventPublisher, logger *slog.Logger, state domain.AccountState) (domain.AccountStateChange, error) {
	change, err := mirrors.ApplyAccountState(ctx, state)
	if err != nil {
		return change, err
	}
	if !change.Applied {
		logger.Info("skipped stale account state", "account_id", state.ExternalAccountID, "observed_at", state.ObservedAt)
		return change, nil
	}
	if change.Previous != change.Current {
		logger.Info("kyc status changed", "user_id", change.UserID, "account_id", state.ExternalAccountID, "from", change.Previous, "to", change.Current)
	}
	if change.BecameApproved() && publisher != nil {
		event := domain.AccountApprovedEvent{UserID: change.UserID, ExternalAccountID: state.ExternalAccountID}
		if err := publisher.Publish(ctx, domain.OnboardingExchange, domain.RoutingKeyAccountApproved, event); err != nil {
			logger.Error("failed to publish account approved event", "user_id", change.UserID, "error", err)
		}
	}
	return change, nil
}

// Session is one user's handle on the orchestrator. Steps within a session
// run one at a time.
type Session struct {
	orchestrator *Orchestrator
	userID       string
	logger       *slog.Logger

	mu     sync.Mutex
	closed bool
}

// UserID returns the session's user.
func (s *Session) UserID() string { return s.userID }

// Close ends the session. Later calls fail with a precondition error.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// begin serializes steps and reloads the mirror, since the reconciler may
// have written to it since the last step.
func (s *Session) begin(ctx context.Context) (*domain.AccountMirror, func(), error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, nil, domain.PreconditionError("onboarding session is closed")
	}
	mirror, err := s.orchestrator.mirrors.GetMirror(ctx, s.userID)
	if err != nil {
		s.mu.Unlock()
		return nil, nil, fmt.Errorf("failed to load account mirror: %w", err)
	}
	return mirror, s.mu.Unlock, nil
}

func (s *Session) view(ctx context.Context) (*domain.AccountStatusView, error) {
	mirror, err := s.orchestrator.mirrors.GetMirror(ctx, s.userID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload account mirror: %w", err)
	}
	v := mirror.View()
	return &v, nil
}

func requireAccount(mirror *domain.AccountMirror) error {
	if !mirror.HasAccount() {
		return domain.PreconditionError("no ledger account exists yet; create the account first")
	}
	return nil
}

// isConflict reports a lost race on a write-once field group.
func isConflict(err error) bool {
	return errors.Is(err, store.ErrFieldGroupConflict)
}
