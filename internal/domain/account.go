/**
 * @description
 * This file defines the AccountMirror: the local, eventually-consistent copy of
 * a user's external ledger account, and the rule that derives the KYC status
 * from it.
 *
 * @notes
 * - KYCStatus is never stored. It is recomputed from the capability flags and
 *   the disabled reason every time a mirror is read.
 * - The mirror is written in disjoint field groups (see store.MirrorStore).
 */
package domain

import (
	"strings"
	"time"
)

// Capability names requested on the external account.
const (
	CapabilityTransfers    = "transfers"
	CapabilityCardPayments = "card_payments"
	CapabilityCardIssuing  = "card_issuing"
)

// AllCapabilities lists every capability the onboarding flow manages.
var AllCapabilities = []string{CapabilityTransfers, CapabilityCardPayments, CapabilityCardIssuing}

// CapabilityStatus is the normalized status of one capability.
type CapabilityStatus string

const (
	CapabilityInactive CapabilityStatus = "inactive"
	CapabilityPending  CapabilityStatus = "pending"
	CapabilityActive   CapabilityStatus = "active"
)

// NormalizeCapabilityStatus folds the ledger's status vocabulary into the
// three values the mirror tracks.
func NormalizeCapabilityStatus(raw string) CapabilityStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "active":
		return CapabilityActive
	case "pending":
		return CapabilityPending
	default:
		// "inactive", "unrequested", "disabled" and anything new.
		return CapabilityInactive
	}
}

// KYCStatus is the derived onboarding status.
type KYCStatus string

const (
	KYCNoAccount KYCStatus = "no_account"
	KYCPending   KYCStatus = "pending"
	KYCApproved  KYCStatus = "approved"
	KYCRejected  KYCStatus = "rejected"
)

// AccountMirror is the local view of a user's external account.
type AccountMirror struct {
	UserID            string                      `json:"user_id"`
	ExternalAccountID *string                     `json:"external_account_id"`
	CardholderID      *string                     `json:"cardholder_id"`
	VirtualCardID     *string                     `json:"virtual_card_id"`
	BankAccountID     *string                     `json:"bank_account_id"`
	Capabilities      map[string]CapabilityStatus `json:"capabilities"`
	CurrentlyDue      []string                    `json:"currently_due"`
	DisabledReason    string                      `json:"disabled_reason,omitempty"`
	Profile           *ProfileSnapshot            `json:"profile,omitempty"`
	StateEventAt      int64                       `json:"-"`
	LastSyncedAt      *time.Time                  `json:"last_synced_at"`
	CreatedAt         time.Time                   `json:"created_at"`
	UpdatedAt         time.Time                   `json:"updated_at"`
}

// NewAccountMirror returns the default mirror created when a user first
// begins onboarding.
func NewAccountMirror(userID string) *AccountMirror {
	return &AccountMirror{
		UserID:       userID,
		Capabilities: DefaultCapabilities(),
		CurrentlyDue: []string{},
	}
}

// DefaultCapabilities returns every managed capability as inactive.
func DefaultCapabilities() map[string]CapabilityStatus {
	caps := make(map[string]CapabilityStatus, len(AllCapabilities))
	for _, name := range AllCapabilities {
		caps[name] = CapabilityInactive
	}
	return caps
}

// Capability returns the status of name, inactive when unknown.
func (m *AccountMirror) Capability(name string) CapabilityStatus {
	if m == nil || m.Capabilities == nil {
		return CapabilityInactive
	}
	if status, ok := m.Capabilities[name]; ok {
		return status
	}
	return CapabilityInactive
}

// KYCStatus derives the onboarding status from the mirror's fields.
func (m *AccountMirror) KYCStatus() KYCStatus {
	return DeriveKYCStatus(m.ExternalAccountID, m.Capabilities, m.DisabledReason)
}

// DeriveKYCStatus is the single derivation rule for KYCStatus.
func DeriveKYCStatus(externalAccountID *string, caps map[string]CapabilityStatus, disabledReason string) KYCStatus {
	if externalAccountID == nil || *externalAccountID == "" {
		return KYCNoAccount
	}
	if caps[CapabilityTransfers] == CapabilityActive {
		return KYCApproved
	}
	if IsTerminalDisabledReason(disabledReason) {
		return KYCRejected
	}
	return KYCPending
}

// IsTerminalDisabledReason reports whether the ledger has permanently
// rejected the account.
func IsTerminalDisabledReason(reason string) bool {
	return strings.HasPrefix(strings.TrimSpace(reason), "rejected.")
}

// HasAccount reports whether the external account exists.
func (m *AccountMirror) HasAccount() bool {
	return m != nil && m.ExternalAccountID != nil && *m.ExternalAccountID != ""
}

// AccountState is the reconcilable part of the external account: the
// {capabilities, currentlyDue} field group plus the disabled reason it is
// derived with.
type AccountState struct {
	ExternalAccountID string
	Capabilities      map[string]CapabilityStatus
	CurrentlyDue      []string
	DisabledReason    string
	// ObservedAt is ledger time (unix seconds) of the state. Zero means
	// unknown and is always applied.
	ObservedAt int64
}

// AccountStateChange reports what an ApplyAccountState write did.
type AccountStateChange struct {
	UserID   string
	Applied  bool
	Previous KYCStatus
	Current  KYCStatus
}

// BecameApproved reports a transition into the approved state.
func (c AccountStateChange) BecameApproved() bool {
	return c.Applied && c.Previous != KYCApproved && c.Current == KYCApproved
}

// AccountStatusView is the read-only snapshot returned to the UI layer.
type AccountStatusView struct {
	*AccountMirror
	KYCStatus KYCStatus `json:"kyc_status"`
}

// View builds the UI snapshot with the derived status attached.
func (m *AccountMirror) View() AccountStatusView {
	return AccountStatusView{AccountMirror: m, KYCStatus: m.KYCStatus()}
}

// FundingBalance is a transient balance read. It is never cached.
type FundingBalance struct {
	AvailableCents int64  `json:"available_cents"`
	Currency       string `json:"currency"`
	Display        string `json:"display"`
	// LedgerCents is the unclamped ledger amount, negative when the issuing
	// balance is overdrawn.
	LedgerCents    int64  `json:"-"`
}
