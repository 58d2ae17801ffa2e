/**
 * @description
 * This file defines the closed error taxonomy shared by the orchestrator, the
 * ledger client and the webhook reconciler. Every failure that can reach a
 * caller is an *Error carrying exactly one ErrorKind.
 *
 * @notes
 * - Ledger errors are classified once, inside pkg/ledgerclient, and are passed
 *   up unchanged. Nothing above that boundary inspects raw ledger payloads.
 * - A non-empty Field means the UI can attach the message to one input.
 */
package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind enumerates every failure class a caller can observe.
type ErrorKind string

const (
	KindValidation           ErrorKind = "validation"
	KindLedgerRejected       ErrorKind = "ledger_rejected"
	KindCapabilityNotEnabled ErrorKind = "capability_not_enabled"
	KindResourceMissing      ErrorKind = "resource_missing"
	KindInsufficientFunds    ErrorKind = "insufficient_funds"
	KindRateLimited          ErrorKind = "rate_limited"
	KindIncompleteProfile    ErrorKind = "incomplete_profile"
	KindPrecondition         ErrorKind = "precondition_failed"
	KindSignatureInvalid     ErrorKind = "signature_invalid"
	KindUnknown              ErrorKind = "unknown"
)

// Error is the tagged error value. Code holds the ledger's own error code when
// the failure came from the ledger.
type Error struct {
	Kind    ErrorKind
	Field   string
	Code    string
	Message string
	Missing []string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Field != "" {
		b.WriteString(" [")
		b.WriteString(e.Field)
		b.WriteString("]")
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of err, or KindUnknown for errors that were never
// classified.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindUnknown
}

// FieldOf returns the field attribution of err, if any.
func FieldOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Field
	}
	return ""
}

// ValidationError builds a locally detected, field-scoped error.
func ValidationError(field, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Field: field, Message: fmt.Sprintf(format, args...)}
}

// PreconditionError reports an operation invoked from the wrong state.
func PreconditionError(format string, args ...any) *Error {
	return &Error{Kind: KindPrecondition, Message: fmt.Sprintf(format, args...)}
}

// IncompleteProfileError aggregates every missing sub-field into one message.
func IncompleteProfileError(missing []string) *Error {
	return &Error{
		Kind:    KindIncompleteProfile,
		Message: "profile is missing: " + strings.Join(missing, ", "),
		Missing: missing,
	}
}

// UnknownError wraps an unclassified failure such as a timeout.
func UnknownError(message string, err error) *Error {
	return &Error{Kind: KindUnknown, Message: message, Err: err}
}
