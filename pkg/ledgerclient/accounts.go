package ledgerclient

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/piggybank/onboarding-service/internal/domain"
)

// CreateAccountParams is the input of CreateAccount.
type CreateAccountParams struct {
	Profile        domain.Profile
	Capabilities   []string
	IdempotencyKey string
	// TOSAcceptedAt is the unix time the user accepted the ledger terms.
	TOSAcceptedAt int64
}

// AccountLink is a hosted onboarding URL for the connected account.
type AccountLink struct {
	URL       string `json:"url"`
	ExpiresAt int64  `json:"expires_at"`
}

// BankAccount is an external bank account attached to a connected account.
type BankAccount struct {
	ID       string `json:"id"`
	Last4    string `json:"last4"`
	BankName string `json:"bank_name"`
	Status   string `json:"status"`
}

// CreateAccount creates a custom connected account for an individual and
// requests the given capabilities.
func (c *Client) CreateAccount(ctx context.Context, params CreateAccountParams) (*domain.LedgerAccountObject, error) {
	p := params.Profile
	form := url.Values{}
	form.Set("type", "custom")
	form.Set("country", p.Address.Country)
	form.Set("business_type", "individual")
	form.Set("email", p.Email)
	form.Set("individual[first_name]", p.FirstName)
	form.Set("individual[last_name]", p.LastName)
	form.Set("individual[email]", p.Email)
	form.Set("individual[phone]", p.Phone)
	form.Set("individual[ssn_last_4]", p.SSNLast4)
	form.Set("individual[dob][day]", strconv.Itoa(p.DateOfBirth.Day))
	form.Set("individual[dob][month]", strconv.Itoa(p.DateOfBirth.Month))
	form.Set("individual[dob][year]", strconv.Itoa(p.DateOfBirth.Year))
	setAddress(form, "individual[address]", p.Address)
	for _, name := range params.Capabilities {
		form.Set("capabilities["+name+"][requested]", "true")
	}
	if params.TOSAcceptedAt > 0 {
		form.Set("tos_acceptance[date]", strconv.FormatInt(params.TOSAcceptedAt, 10))
		form.Set("tos_acceptance[ip]", p.TOSAcceptedIP)
	}

	var resp domain.LedgerAccountObject
	err := c.do(ctx, request{
		op:             "create_account",
		method:         http.MethodPost,
		path:           "/v1/accounts",
		form:           form,
		idempotencyKey: params.IdempotencyKey,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// RetrieveAccount fetches the current state of a connected account.
func (c *Client) RetrieveAccount(ctx context.Context, accountID string) (*domain.LedgerAccountObject, error) {
	var resp domain.LedgerAccountObject
	err := c.do(ctx, request{
		op:     "retrieve_account",
		method: http.MethodGet,
		path:   "/v1/accounts/" + pathEscape(accountID),
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// CreateAccountLink creates a hosted onboarding link used to collect
// requirements the ledger still has outstanding.
func (c *Client) CreateAccountLink(ctx context.Context, accountID, refreshURL, returnURL string) (*AccountLink, error) {
	form := url.Values{}
	form.Set("account", accountID)
	form.Set("refresh_url", refreshURL)
	form.Set("return_url", returnURL)
	form.Set("type", "account_onboarding")

	var resp AccountLink
	err := c.do(ctx, request{
		op:     "create_account_link",
		method: http.MethodPost,
		path:   "/v1/account_links",
		form:   form,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// RequestCapability requests one capability. Re-requesting an active
// capability is a no-op on the ledger side.
func (c *Client) RequestCapability(ctx context.Context, accountID, capability string) (domain.CapabilityStatus, error) {
	form := url.Values{}
	form.Set("requested", "true")

	var resp struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	err := c.do(ctx, request{
		op:     "request_capability",
		method: http.MethodPost,
		path:   "/v1/accounts/" + pathEscape(accountID) + "/capabilities/" + pathEscape(capability),
		form:   form,
	}, &resp)
	if err != nil {
		return "", err
	}
	return domain.NormalizeCapabilityStatus(resp.Status), nil
}

// AddBankAccount attaches a US bank account as the payout destination.
func (c *Client) AddBankAccount(ctx context.Context, accountID string, in domain.BankAccountInput, idempotencyKey string) (*BankAccount, error) {
	form := url.Values{}
	form.Set("external_account[object]", "bank_account")
	form.Set("external_account[country]", "US")
	form.Set("external_account[currency]", "usd")
	form.Set("external_account[routing_number]", in.RoutingNumber)
	form.Set("external_account[account_number]", in.AccountNumber)
	form.Set("external_account[account_holder_name]", in.HolderName)
	form.Set("external_account[account_holder_type]", "individual")
	form.Set("default_for_currency", "true")

	var resp BankAccount
	err := c.do(ctx, request{
		op:             "add_bank_account",
		method:         http.MethodPost,
		path:           "/v1/accounts/" + pathEscape(accountID) + "/external_accounts",
		form:           form,
		idempotencyKey: idempotencyKey,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func setAddress(form url.Values, prefix string, a domain.Address) {
	form.Set(prefix+"[line1]", a.Line1)
	if a.Line2 != "" {
		form.Set(prefix+"[line2]", a.Line2)
	}
	form.Set(prefix+"[city]", a.City)
	form.Set(prefix+"[state]", a.State)
	form.Set(prefix+"[postal_code]", a.PostalCode)
	form.Set(prefix+"[country]", a.Country)
}
