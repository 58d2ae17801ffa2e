package ledgerclient

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/piggybank/onboarding-service/internal/domain"
)

// Topup is a transfer from the linked bank into the issuing balance.
type Topup struct {
	ID             string `json:"id"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	Status         string `json:"status"`
	FailureCode    string `json:"failure_code"`
	FailureMessage string `json:"failure_message"`
}

// Payout moves funds from the connected account to its linked bank.
type Payout struct {
	ID          string `json:"id"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	Status      string `json:"status"`
	ArrivalDate int64  `json:"arrival_date"`
	Destination string `json:"destination"`
}

type balanceAmount struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type balanceResponse struct {
	Available []balanceAmount `json:"available"`
	Issuing   struct {
		Available []balanceAmount `json:"available"`
	} `json:"issuing"`
}

// RetrieveBalance reads the connected account's issuing balance in currency.
func (c *Client) RetrieveBalance(ctx context.Context, accountID, currency string) (domain.FundingBalance, error) {
	var resp balanceResponse
	err := c.do(ctx, request{
		op:      "retrieve_balance",
		method:  http.MethodGet,
		path:    "/v1/balance",
		account: accountID,
	}, &resp)
	if err != nil {
		return domain.FundingBalance{}, err
	}

	var cents int64
	for _, b := range resp.Issuing.Available {
		if strings.EqualFold(b.Currency, currency) {
			cents += b.Amount
		}
	}
	return domain.NewFundingBalance(cents, currency), nil
}

// CreateTopup funds the issuing balance from the linked bank. A top-up the
// ledger accepts but immediately marks failed is reported as
// InsufficientFunds, like a declined one.
func (c *Client) CreateTopup(ctx context.Context, accountID string, amountCents int64, currency, idempotencyKey string) (*Topup, error) {
	if amountCents <= 0 {
		return nil, domain.ValidationError("amount", "top-up amount must be positive")
	}
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(amountCents, 10))
	form.Set("currency", strings.ToLower(currency))
	form.Set("destination_balance", "issuing")
	form.Set("description", "Card funding top-up")

	var resp Topup
	err := c.do(ctx, request{
		op:             "create_topup",
		method:         http.MethodPost,
		path:           "/v1/topups",
		form:           form,
		account:        accountID,
		idempotencyKey: idempotencyKey,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.Status == "failed" || resp.Status == "canceled" {
		msg := resp.FailureMessage
		if msg == "" {
			msg = "top-up was declined by the bank"
		}
		return &resp, &domain.Error{Kind: domain.KindInsufficientFunds, Code: resp.FailureCode, Message: msg}
	}
	return &resp, nil
}

// CreatePayout pays amountCents out to the given bank account.
func (c *Client) CreatePayout(ctx context.Context, accountID, bankAccountID string, amountCents int64, currency, idempotencyKey string) (*Payout, error) {
	if amountCents <= 0 {
		return nil, domain.ValidationError("amount", "payout amount must be positive")
	}
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(amountCents, 10))
	form.Set("currency", strings.ToLower(currency))
	if bankAccountID != "" {
		form.Set("destination", bankAccountID)
	}

	var resp Payout
	err := c.do(ctx, request{
		op:             "create_payout",
		method:         http.MethodPost,
		path:           "/v1/payouts",
		form:           form,
		account:        accountID,
		idempotencyKey: idempotencyKey,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}
