package ledgerclient

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/piggybank/onboarding-service/internal/domain"
)

// CardOutcome tells whether CreateCard made a new card.
type CardOutcome int

const (
	CardCreated CardOutcome = iota
	CardAlreadyExists
)

// CardResult is the tagged result of CreateCard. Both outcomes carry the id of
// the card the cardholder now has.
type CardResult struct {
	Outcome CardOutcome
	CardID  string
}

// Card is an issuing card.
type Card struct {
	ID         string `json:"id"`
	Cardholder struct {
		ID string `json:"id"`
	} `json:"cardholder"`
	Type     string `json:"type"`
	Status   string `json:"status"`
	Last4    string `json:"last4"`
	Currency string `json:"currency"`
}

// CardTransaction is one settled issuing transaction.
type CardTransaction struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Type     string `json:"type"`
	Created  int64  `json:"created"`
	Merchant struct {
		Name string `json:"name"`
		City string `json:"city"`
	} `json:"merchant_data"`
}

type listResponse[T any] struct {
	Data    []T  `json:"data"`
	HasMore bool `json:"has_more"`
}

// CreateCardholder creates the individual cardholder on the connected account.
func (c *Client) CreateCardholder(ctx context.Context, accountID string, holder domain.ProfileSnapshot, idempotencyKey string) (string, error) {
	form := url.Values{}
	form.Set("type", "individual")
	form.Set("name", strings.TrimSpace(holder.FirstName+" "+holder.LastName))
	form.Set("email", holder.Email)
	if holder.Phone != "" {
		form.Set("phone_number", holder.Phone)
	}
	form.Set("individual[first_name]", holder.FirstName)
	form.Set("individual[last_name]", holder.LastName)
	if holder.DateOfBirth.Year > 0 {
		form.Set("individual[dob][day]", strconv.Itoa(holder.DateOfBirth.Day))
		form.Set("individual[dob][month]", strconv.Itoa(holder.DateOfBirth.Month))
		form.Set("individual[dob][year]", strconv.Itoa(holder.DateOfBirth.Year))
	}
	setAddress(form, "billing[address]", holder.Address)
	form.Set("status", "active")

	var resp struct {
		ID string `json:"id"`
	}
	err := c.do(ctx, request{
		op:             "create_cardholder",
		method:         http.MethodPost,
		path:           "/v1/issuing/cardholders",
		form:           form,
		account:        accountID,
		idempotencyKey: idempotencyKey,
	}, &resp)
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

// CreateCard issues an active virtual card. When the ledger reports that the
// cardholder already has a card, the existing card's id is looked up and
// returned as CardAlreadyExists instead of an error.
func (c *Client) CreateCard(ctx context.Context, accountID, cardholderID, currency, idempotencyKey string) (CardResult, error) {
	form := url.Values{}
	form.Set("cardholder", cardholderID)
	form.Set("currency", strings.ToLower(currency))
	form.Set("type", "virtual")
	form.Set("status", "active")

	var resp Card
	err := c.do(ctx, request{
		op:             "create_card",
		method:         http.MethodPost,
		path:           "/v1/issuing/cards",
		form:           form,
		account:        accountID,
		idempotencyKey: idempotencyKey,
	}, &resp)
	if err == nil {
		return CardResult{Outcome: CardCreated, CardID: resp.ID}, nil
	}

	var de *domain.Error
	if !errors.As(err, &de) || de.Code != CodeCardAlreadyExists {
		return CardResult{}, err
	}

	existing, lookupErr := c.findCard(ctx, accountID, cardholderID)
	if lookupErr != nil {
		return CardResult{}, lookupErr
	}
	if existing == "" {
		return CardResult{}, &domain.Error{
			Kind:    domain.KindResourceMissing,
			Code:    CodeCardAlreadyExists,
			Message: "ledger reported an existing card but none could be found",
		}
	}
	c.logger.Info("absorbed duplicate card creation", "cardholder_id", cardholderID, "card_id", existing)
	return CardResult{Outcome: CardAlreadyExists, CardID: existing}, nil
}

// findCard returns the cardholder's first card that is not canceled.
func (c *Client) findCard(ctx context.Context, accountID, cardholderID string) (string, error) {
	query := url.Values{}
	query.Set("cardholder", cardholderID)
	query.Set("type", "virtual")
	query.Set("limit", "10")

	var resp listResponse[Card]
	err := c.do(ctx, request{
		op:      "list_cards",
		method:  http.MethodGet,
		path:    "/v1/issuing/cards",
		query:   query,
		account: accountID,
	}, &resp)
	if err != nil {
		return "", err
	}
	for _, card := range resp.Data {
		if card.Status != "canceled" {
			return card.ID, nil
		}
	}
	return "", nil
}

// ListCardTransactions lists the most recent transactions on a card.
func (c *Client) ListCardTransactions(ctx context.Context, accountID, cardID string, limit int) ([]CardTransaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 25
	}
	query := url.Values{}
	query.Set("card", cardID)
	query.Set("limit", strconv.Itoa(limit))

	var resp listResponse[CardTransaction]
	err := c.do(ctx, request{
		op:      "list_card_transactions",
		method:  http.MethodGet,
		path:    "/v1/issuing/transactions",
		query:   query,
		account: accountID,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.Data == nil {
		return []CardTransaction{}, nil
	}
	return resp.Data, nil
}
