package ledgerclient

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/piggybank/onboarding-service/internal/domain"
)

// Ledger error codes the classifier reacts to.
const (
	CodeCardAlreadyExists   = "card_already_exists"
	CodeResourceMissing     = "resource_missing"
	CodeRateLimit           = "rate_limit"
	CodeBalanceInsufficient = "balance_insufficient"
	CodeInsufficientFunds   = "insufficient_funds"
	CodeCardDeclined        = "card_declined"
	CodeCapabilityDisabled  = "capability_disabled"
	CodeAccountInvalid      = "account_invalid"
)

// ErrorResponse represents an error from the ledger API.
type ErrorResponse struct {
	Error struct {
		Type        string `json:"type"`
		Code        string `json:"code"`
		DeclineCode string `json:"decline_code"`
		Param       string `json:"param"`
		Message     string `json:"message"`
	} `json:"error"`
}

// paramFields maps the ledger's form parameter names back to the input field
// names the UI knows.
var paramFields = map[string]string{
	"individual[first_name]":                "firstName",
	"individual[last_name]":                 "lastName",
	"individual[email]":                     "email",
	"email":                                 "email",
	"individual[phone]":                     "phone",
	"phone_number":                          "phone",
	"individual[ssn_last_4]":                "ssnLast4",
	"individual[dob][day]":                  "dob.day",
	"individual[dob][month]":                "dob.month",
	"individual[dob][year]":                 "dob.year",
	"individual[address][line1]":            "address.line1",
	"individual[address][city]":             "address.city",
	"individual[address][state]":            "address.state",
	"individual[address][postal_code]":      "address.postalCode",
	"individual[address][country]":          "address.country",
	"external_account[routing_number]":      "routingNumber",
	"external_account[account_number]":      "accountNumber",
	"external_account[account_holder_name]": "holderName",
	"billing[address][line1]":               "billing.line1",
	"billing[address][city]":                "billing.city",
	"billing[address][state]":               "billing.state",
	"billing[address][postal_code]":         "billing.postalCode",
	"billing[address][country]":             "billing.country",
	"amount":                                "amount",
}

// FieldForParam returns the UI field for a ledger parameter, if one is known.
func FieldForParam(param string) (string, bool) {
	field, ok := paramFields[param]
	return field, ok
}

// classifyResponse turns a non-2xx ledger response into exactly one kind.
func classifyResponse(status int, body []byte) *domain.Error {
	var envelope ErrorResponse
	if err := json.Unmarshal(body, &envelope); err != nil || (envelope.Error.Message == "" && envelope.Error.Code == "") {
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = http.StatusText(status)
		}
		return classify(status, "", "", "", "", msg)
	}
	e := envelope.Error
	return classify(status, e.Type, e.Code, e.DeclineCode, e.Param, e.Message)
}

func classify(status int, errType, code, declineCode, param, message string) *domain.Error {
	out := &domain.Error{Code: code, Message: message}

	switch {
	case status == http.StatusTooManyRequests || code == CodeRateLimit:
		out.Kind = domain.KindRateLimited
	case code == CodeBalanceInsufficient || code == CodeInsufficientFunds ||
		declineCode == CodeInsufficientFunds || code == CodeCardDeclined:
		out.Kind = domain.KindInsufficientFunds
	case status == http.StatusNotFound || code == CodeResourceMissing:
		out.Kind = domain.KindResourceMissing
	case status == http.StatusUnauthorized || status == http.StatusForbidden ||
		errType == "permission_error" || code == CodeCapabilityDisabled || code == CodeAccountInvalid:
		out.Kind = domain.KindCapabilityNotEnabled
	case status >= 500:
		out.Kind = domain.KindUnknown
	case status >= 400:
		if field, ok := FieldForParam(param); ok {
			out.Kind = domain.KindValidation
			out.Field = field
		} else {
			out.Kind = domain.KindLedgerRejected
		}
	default:
		out.Kind = domain.KindUnknown
	}
	return out
}
