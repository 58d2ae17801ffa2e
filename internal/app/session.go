package app

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/piggybank/onboarding-service/internal/domain"
	"github.com/piggybank/onboarding-service/pkg/ledgerclient"
)

// initialCapabilities are requested when the account is created.
var initialCapabilities = []string{domain.CapabilityTransfers, domain.CapabilityCardPayments}

// FundingResult reports what EnsureFundsForCard did.
type FundingResult struct {
	Balance       domain.FundingBalance `json:"balance"`
	ToppedUpCents int64                 `json:"topped_up_cents"`
	TopupID       string                `json:"topup_id,omitempty"`
}

// CreateAccount validates the profile locally and creates the ledger account.
// On success the mirror holds the account id and profile snapshot and the
// account is PENDING.
func (s *Session) CreateAccount(ctx context.Context, profile domain.Profile) (*domain.AccountStatusView, error) {
	mirror, done, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer done()
	o := s.orchestrator

	if mirror.HasAccount() {
		return nil, domain.PreconditionError("a ledger account already exists for this user")
	}
	normalized, err := profile.Normalize()
	if err != nil {
		return nil, err
	}

	key, err := o.keys.Reserve(ctx, scopeCreateAccount, s.userID)
	if err != nil {
		return nil, domain.UnknownError("could not start account creation, try again", err)
	}

	params := ledgerclient.CreateAccountParams{
		Profile:        normalized,
		Capabilities:   initialCapabilities,
		IdempotencyKey: key,
	}
	if normalized.TOSAcceptedIP != "" {
		params.TOSAcceptedAt = o.now().Unix()
	}

	acct, err := o.ledger.CreateAccount(ctx, params)
	if err != nil {
		kind := domain.KindOf(err)
		// After a timeout or throttle the account may exist on the ledger, so
		// the retry keeps the key. A definitive rejection frees it for a
		// corrected retry with different params.
		if releasesCreateKey(kind) {
			if relErr := o.keys.Release(ctx, scopeCreateAccount, s.userID); relErr != nil {
				s.logger.Warn("failed to release idempotency key", "error", relErr)
			}
		}
		s.logger.Warn("ledger account creation failed", "kind", kind, "field", domain.FieldOf(err))
		return nil, err
	}

	if err := o.mirrors.SetExternalAccount(ctx, s.userID, acct.ID, normalized.Snapshot()); err != nil {
		if isConflict(err) {
			return nil, domain.PreconditionError("a different ledger account is already linked to this user")
		}
		return nil, fmt.Errorf("failed to store external account: %w", err)
	}
	s.logger.Info("created ledger account", "account_id", acct.ID)

	state := acct.State(o.now().Unix())
	state.ExternalAccountID = acct.ID
	if _, err := applyState(ctx, o.mirrors, o.publisher, s.logger, state); err != nil {
		// The account id is committed; the next poll or pending sweep fills in
		// the capability group.
		s.logger.Error("failed to store initial account state", "account_id", acct.ID, "error", err)
	}
	return s.view(ctx)
}

func releasesCreateKey(kind domain.ErrorKind) bool {
	switch kind {
	case domain.KindUnknown, domain.KindRateLimited:
		return false
	default:
		return true
	}
}

// CreateOnboardingLink returns a hosted link where the user can satisfy the
// ledger's outstanding requirements.
func (s *Session) CreateOnboardingLink(ctx context.Context) (*ledgerclient.AccountLink, error) {
	mirror, done, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer done()
	if err := requireAccount(mirror); err != nil {
		return nil, err
	}
	o := s.orchestrator
	if o.config.PublicBaseURL == "" {
		return nil, &domain.Error{Kind: domain.KindCapabilityNotEnabled, Message: "onboarding links are not configured"}
	}
	refreshURL := o.config.PublicBaseURL + "/onboarding/refresh"
	returnURL := o.config.PublicBaseURL + "/onboarding/return"
	return o.ledger.CreateAccountLink(ctx, *mirror.ExternalAccountID, refreshURL, returnURL)
}

// LinkBankAccount validates the bank details locally and attaches them.
func (s *Session) LinkBankAccount(ctx context.Context, in domain.BankAccountInput) (*domain.AccountStatusView, error) {
	mirror, done, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer done()
	if err := requireAccount(mirror); err != nil {
		return nil, err
	}
	normalized, err := in.Normalize()
	if err != nil {
		return nil, err
	}

	o := s.orchestrator
	bank, err := o.ledger.AddBankAccount(ctx, *mirror.ExternalAccountID, normalized, uuid.NewString())
	if err != nil {
		return nil, err
	}
	if err := o.mirrors.SetBankAccount(ctx, s.userID, bank.ID); err != nil {
		return nil, fmt.Errorf("failed to store bank account: %w", err)
	}
	s.logger.Info("linked bank account", "bank_account_id", bank.ID)
	return s.view(ctx)
}

// RequestCapabilities requests the named capabilities, all managed ones when
// none are given, then refreshes the mirror. Active capabilities are skipped.
func (s *Session) RequestCapabilities(ctx context.Context, names ...string) (*domain.AccountStatusView, error) {
	mirror, done, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer done()
	if err := requireAccount(mirror); err != nil {
		return nil, err
	}
	if len(names) == 0 {
		names = domain.AllCapabilities
	}
	for _, name := range names {
		if !isManagedCapability(name) {
			return nil, domain.ValidationError("capabilities", "unknown capability %q", name)
		}
	}

	o := s.orchestrator
	accountID := *mirror.ExternalAccountID
	for _, name := range names {
		if mirror.Capability(name) == domain.CapabilityActive {
			continue
		}
		if _, err := o.ledger.RequestCapability(ctx, accountID, name); err != nil {
			return nil, err
		}
		s.logger.Info("requested capability", "account_id", accountID, "capability", name)
	}
	return s.pollLocked(ctx, accountID)
}

// PollStatus pulls the account from the ledger and overwrites the capability
// group as one unit.
func (s *Session) PollStatus(ctx context.Context) (*domain.AccountStatusView, error) {
	mirror, done, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer done()
	if err := requireAccount(mirror); err != nil {
		return nil, err
	}
	return s.pollLocked(ctx, *mirror.ExternalAccountID)
}

func (s *Session) pollLocked(ctx context.Context, accountID string) (*domain.AccountStatusView, error) {
	o := s.orchestrator
	acct, err := o.ledger.RetrieveAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	state := acct.State(o.now().Unix())
	state.ExternalAccountID = accountID
	if _, err := applyState(ctx, o.mirrors, o.publisher, s.logger, state); err != nil {
		return nil, fmt.Errorf("failed to store account state: %w", err)
	}
	return s.view(ctx)
}

// CreateCardholder creates the issuing cardholder from the stored profile,
// overridden field by field by details.
func (s *Session) CreateCardholder(ctx context.Context, details domain.CardholderDetails) (*domain.AccountStatusView, error) {
	mirror, done, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer done()
	if err := requireAccount(mirror); err != nil {
		return nil, err
	}
	if mirror.KYCStatus() != domain.KYCApproved {
		return nil, domain.PreconditionError("account is not approved yet (status %s)", mirror.KYCStatus())
	}
	if mirror.CardholderID != nil {
		return nil, domain.PreconditionError("a cardholder already exists for this account")
	}

	holder, missing := domain.ResolveCardholder(mirror.Profile, details)
	if len(missing) > 0 {
		return nil, domain.IncompleteProfileError(missing)
	}

	o := s.orchestrator
	cardholderID, err := o.ledger.CreateCardholder(ctx, *mirror.ExternalAccountID, holder, uuid.NewString())
	if err != nil {
		return nil, err
	}
	if err := o.mirrors.SetCardholder(ctx, s.userID, cardholderID); err != nil {
		if isConflict(err) {
			return nil, domain.PreconditionError("a cardholder already exists for this account")
		}
		return nil, fmt.Errorf("failed to store cardholder: %w", err)
	}
	s.logger.Info("created cardholder", "cardholder_id", cardholderID)
	return s.view(ctx)
}

// EnsureFundsForCard tops up the issuing balance by the shortfall against
// minimumCents. It makes at most one top-up.
func (s *Session) EnsureFundsForCard(ctx context.Context, minimumCents int64) (*FundingResult, error) {
	if minimumCents < 0 {
		return nil, domain.ValidationError("minimumCents", "minimum must not be negative")
	}
	mirror, done, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer done()
	if err := requireAccount(mirror); err != nil {
		return nil, err
	}

	o := s.orchestrator
	accountID := *mirror.ExternalAccountID
	balance, err := o.ledger.RetrieveBalance(ctx, accountID, o.config.CardCurrency)
	if err != nil {
		return nil, err
	}
	if balance.LedgerCents >= minimumCents {
		return &FundingResult{Balance: balance}, nil
	}

	shortfall := minimumCents - balance.LedgerCents
	topup, err := o.ledger.CreateTopup(ctx, accountID, shortfall, o.config.CardCurrency, uuid.NewString())
	if err != nil {
		s.logger.Warn("card funding top-up failed", "account_id", accountID, "shortfall_cents", shortfall, "kind", domain.KindOf(err))
		return nil, err
	}
	s.logger.Info("topped up card funding", "account_id", accountID, "amount_cents", shortfall, "topup_id", topup.ID)
	return &FundingResult{
		Balance:       domain.NewFundingBalance(minimumCents, balance.Currency),
		ToppedUpCents: shortfall,
		TopupID:       topup.ID,
	}, nil
}

// IssueCard issues the virtual card, or returns the one already issued.
func (s *Session) IssueCard(ctx context.Context) (string, error) {
	mirror, done, err := s.begin(ctx)
	if err != nil {
		return "", err
	}
	defer done()
	if mirror.CardholderID == nil {
		return "", domain.PreconditionError("create a cardholder before issuing a card")
	}
	if mirror.VirtualCardID != nil {
		return *mirror.VirtualCardID, nil
	}

	o := s.orchestrator
	result, err := o.ledger.CreateCard(ctx, *mirror.ExternalAccountID, *mirror.CardholderID, o.config.CardCurrency, uuid.NewString())
	if err != nil {
		return "", err
	}
	if result.Outcome == ledgerclient.CardAlreadyExists {
		s.logger.Info("card already existed on the ledger", "card_id", result.CardID)
	}

	if err := o.mirrors.SetVirtualCard(ctx, s.userID, result.CardID); err != nil {
		if isConflict(err) {
			current, loadErr := o.mirrors.GetMirror(ctx, s.userID)
			if loadErr == nil && current.VirtualCardID != nil {
				return *current.VirtualCardID, nil
			}
		}
		return "", fmt.Errorf("failed to store virtual card: %w", err)
	}
	s.logger.Info("issued virtual card", "card_id", result.CardID)
	return result.CardID, nil
}

// AccountStatus returns the mirror with its derived KYC status.
func (s *Session) AccountStatus(ctx context.Context) (*domain.AccountStatusView, error) {
	_, done, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer done()
	return s.view(ctx)
}

// FundingBalance reads the issuing balance straight from the ledger.
func (s *Session) FundingBalance(ctx context.Context) (domain.FundingBalance, error) {
	mirror, done, err := s.begin(ctx)
	if err != nil {
		return domain.FundingBalance{}, err
	}
	defer done()
	if err := requireAccount(mirror); err != nil {
		return domain.FundingBalance{}, err
	}
	o := s.orchestrator
	return o.ledger.RetrieveBalance(ctx, *mirror.ExternalAccountID, o.config.CardCurrency)
}

// Payout sends amountCents to the linked bank account.
func (s *Session) Payout(ctx context.Context, amountCents int64) (*ledgerclient.Payout, error) {
	if amountCents <= 0 {
		return nil, domain.ValidationError("amountCents", "payout amount must be positive")
	}
	mirror, done, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer done()
	if err := requireAccount(mirror); err != nil {
		return nil, err
	}
	if mirror.BankAccountID == nil {
		return nil, domain.PreconditionError("link a bank account before requesting a payout")
	}
	if mirror.Capability(domain.CapabilityTransfers) != domain.CapabilityActive {
		return nil, domain.PreconditionError("payouts are available once the account is approved")
	}

	o := s.orchestrator
	payout, err := o.ledger.CreatePayout(ctx, *mirror.ExternalAccountID, *mirror.BankAccountID, amountCents, o.config.CardCurrency, uuid.NewString())
	if err != nil {
		return nil, err
	}
	s.logger.Info("created payout", "payout_id", payout.ID, "amount_cents", amountCents)
	return payout, nil
}

// CardTransactions lists recent transactions on the issued card.
func (s *Session) CardTransactions(ctx context.Context, limit int) ([]ledgerclient.CardTransaction, error) {
	mirror, done, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer done()
	if mirror.VirtualCardID == nil {
		return nil, domain.PreconditionError("no card has been issued yet")
	}
	return s.orchestrator.ledger.ListCardTransactions(ctx, *mirror.ExternalAccountID, *mirror.VirtualCardID, limit)
}

func isManagedCapability(name string) bool {
	for _, c := range domain.AllCapabilities {
		if c == name {
			return true
		}
	}
	return false
}
