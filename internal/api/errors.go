package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/piggybank/onboarding-service/internal/domain"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind    domain.ErrorKind `json:"kind"`
	Field   string           `json:"field,omitempty"`
	Missing []string         `json:"missing,omitempty"`
	Message string           `json:"message"`
}

// statusForKind maps each error kind to exactly one HTTP status.
func statusForKind(err *domain.Error) int {
	switch err.Kind {
	case domain.KindValidation, domain.KindIncompleteProfile:
		return http.StatusUnprocessableEntity
	case domain.KindLedgerRejected:
		if err.Field != "" {
			return http.StatusUnprocessableEntity
		}
		return http.StatusBadRequest
	case domain.KindInsufficientFunds:
		return http.StatusPaymentRequired
	case domain.KindResourceMissing:
		return http.StatusGone
	case domain.KindCapabilityNotEnabled:
		return http.StatusServiceUnavailable
	case domain.KindRateLimited:
		return http.StatusTooManyRequests
	case domain.KindPrecondition:
		return http.StatusConflict
	case domain.KindSignatureInvalid:
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}

// writeError renders err as the single user-visible outcome of a request.
// Unclassified errors are internal and their text is not exposed.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var de *domain.Error
	if !errors.As(err, &de) {
		logger.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: errorDetail{
			Kind:    domain.KindUnknown,
			Message: "something went wrong, try again",
		}})
		return
	}

	status := statusForKind(de)
	if status >= http.StatusInternalServerError {
		logger.Warn("ledger request failed", "kind", de.Kind, "code", de.Code, "error", err)
	}
	writeJSON(w, status, errorBody{Error: errorDetail{
		Kind:    de.Kind,
		Field:   de.Field,
		Missing: de.Missing,
		Message: de.Message,
	}})
}

// writeJSON is a helper to write JSON responses.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
