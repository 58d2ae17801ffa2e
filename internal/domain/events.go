/**
 * @description
 * This file defines the inbound ledger webhook envelope, the payment record the
 * reconciler persists, and the internal events published to RabbitMQ.
 */
package domain

import (
	"encoding/json"
	"time"
)

// Ledger event types handled by the webhook reconciler.
const (
	EventAccountUpdated   = "account.updated"
	EventPaymentSucceeded = "payment_intent.succeeded"
	EventPaymentFailed    = "payment_intent.payment_failed"
)

// LedgerEvent is the webhook envelope: { type, data: { object } }.
type LedgerEvent struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Created int64           `json:"created"`
	Account string          `json:"account,omitempty"`
	Data    LedgerEventData `json:"data"`
}

// LedgerEventData carries the ledger-specific payload undecoded.
type LedgerEventData struct {
	Object json.RawMessage `json:"object"`
}

// LedgerAccountObject is the subset of the account payload the reconciler reads.
type LedgerAccountObject struct {
	ID           string            `json:"id"`
	Capabilities map[string]string `json:"capabilities"`
	Requirements struct {
		CurrentlyDue   []string `json:"currently_due"`
		DisabledReason string   `json:"disabled_reason"`
	} `json:"requirements"`
}

// State converts the payload into the mirror's reconcilable field group.
func (o LedgerAccountObject) State(observedAt int64) AccountState {
	caps := DefaultCapabilities()
	for name, raw := range o.Capabilities {
		caps[name] = NormalizeCapabilityStatus(raw)
	}
	due := o.Requirements.CurrentlyDue
	if due == nil {
		due = []string{}
	}
	return AccountState{
		ExternalAccountID: o.ID,
		Capabilities:      caps,
		CurrentlyDue:      due,
		DisabledReason:    o.Requirements.DisabledReason,
		ObservedAt:        observedAt,
	}
}

// LedgerPaymentObject is the subset of the payment payload the reconciler reads.
type LedgerPaymentObject struct {
	ID               string            `json:"id"`
	Amount           int64             `json:"amount"`
	AmountReceived   int64             `json:"amount_received"`
	Currency         string            `json:"currency"`
	Metadata         map[string]string `json:"metadata"`
	LastPaymentError *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"last_payment_error"`
}

// PaymentStatus is the state of a persisted payment record.
type PaymentStatus string

const (
	PaymentSucceeded PaymentStatus = "succeeded"
	PaymentFailed    PaymentStatus = "failed"
)

// PaymentRecord is the immutable record of a ledger payment, keyed by the
// ledger's payment id.
type PaymentRecord struct {
	ID             string        `json:"id"`
	UserID         *string       `json:"user_id"`
	AmountCents    int64         `json:"amount_cents"`
	Currency       string        `json:"currency"`
	Status         PaymentStatus `json:"status"`
	FailureMessage *string       `json:"failure_message,omitempty"`
	EventID        string        `json:"event_id"`
	ReceivedAt     time.Time     `json:"received_at"`
}

// Internal routing keys published on the onboarding exchange.
const (
	OnboardingExchange         = "onboarding_events"
	RoutingKeyAccountApproved  = "account.approved"
	RoutingKeyPaymentSucceeded = "payment.succeeded"
)

// AccountApprovedEvent is published when a mirror transitions into approved.
type AccountApprovedEvent struct {
	UserID            string `json:"user_id"`
	ExternalAccountID string `json:"external_account_id"`
}

// PaymentSucceededEvent is published once per newly recorded payment.
type PaymentSucceededEvent struct {
	PaymentID   string  `json:"payment_id"`
	UserID      *string `json:"user_id,omitempty"`
	AmountCents int64   `json:"amount_cents"`
	Currency    string  `json:"currency"`
}
