/**
 * @description
 * This file defines the persistence contracts for the onboarding service: the
 * account mirror and the ledger payment records.
 *
 * @notes
 * - Every mirror write touches exactly one field group, so a webhook write to
 *   the capability group can never clobber a concurrent card write and vice
 *   versa. There is no whole-record replacement.
 */
package store

import (
	"context"
	"errors"

	"github.com/piggybank/onboarding-service/internal/domain"
)

var (
	// ErrMirrorNotFound is returned when no mirror matches the lookup.
	ErrMirrorNotFound = errors.New("account mirror not found")
	// ErrFieldGroupConflict is returned when a write-once field group is
	// already set to a different value, or its prerequisite group is unset.
	ErrFieldGroupConflict = errors.New("account mirror field group conflict")
)

// MirrorStore persists AccountMirror records.
type MirrorStore interface {
	// GetOrCreateMirror returns the user's mirror, creating the default one
	// on first use.
	GetOrCreateMirror(ctx context.Context, userID string) (*domain.AccountMirror, error)
	GetMirror(ctx context.Context, userID string) (*domain.AccountMirror, error)
	FindMirrorByAccountID(ctx context.Context, externalAccountID string) (*domain.AccountMirror, error)

	// {externalAccountId, profile}
	SetExternalAccount(ctx context.Context, userID, externalAccountID string, profile domain.ProfileSnapshot) error
	// {capabilities, currentlyDue, disabledReason, stateEventAt}
	ApplyAccountState(ctx context.Context, state domain.AccountState) (domain.AccountStateChange, error)
	// {bankAccountId}
	SetBankAccount(ctx context.Context, userID, bankAccountID string) error
	// {cardholderId}
	SetCardholder(ctx context.Context, userID, cardholderID string) error
	// {virtualCardId}
	SetVirtualCard(ctx context.Context, userID, cardID string) error

	// ListPendingMirrors returns mirrors with an account that is neither
	// approved nor rejected, least recently synced first.
	ListPendingMirrors(ctx context.Context, limit int) ([]*domain.AccountMirror, error)
}

// PaymentStore persists immutable ledger payment records.
type PaymentStore interface {
	// RecordPayment inserts the record keyed by its ledger id. It reports
	// whether anything was written: a duplicate delivery is a no-op, and a
	// failed record may only be upgraded to succeeded.
	RecordPayment(ctx context.Context, record domain.PaymentRecord) (bool, error)
	GetPayment(ctx context.Context, id string) (*domain.PaymentRecord, error)
}

// ShouldApplyState reports whether a state observed at observedAt may replace
// the stored state written at storedAt. Equal timestamps are applied so that
// a redelivered event and a same-second poll converge on the latest arrival.
func ShouldApplyState(storedAt, observedAt int64) bool {
	if observedAt == 0 {
		return true
	}
	return observedAt >= storedAt
}
