package app

import (
	"context"

	"github.com/piggybank/onboarding-service/internal/domain"
	"github.com/piggybank/onboarding-service/pkg/ledgerclient"
)

// Ledger is the subset of the ledger client the service drives. Every method
// is one network round trip and returns errors already classified as
// *domain.Error.
type Ledger interface {
	CreateAccount(ctx context.Context, params ledgerclient.CreateAccountParams) (*domain.LedgerAccountObject, error)
	RetrieveAccount(ctx context.Context, accountID string) (*domain.LedgerAccountObject, error)
	CreateAccountLink(ctx context.Context, accountID, refreshURL, returnURL string) (*ledgerclient.AccountLink, error)
	RequestCapability(ctx context.Context, accountID, capability string) (domain.CapabilityStatus, error)
	AddBankAccount(ctx context.Context, accountID string, in domain.BankAccountInput, idempotencyKey string) (*ledgerclient.BankAccount, error)
	CreateCardholder(ctx context.Context, accountID string, holder domain.ProfileSnapshot, idempotencyKey string) (string, error)
	CreateCard(ctx context.Context, accountID, cardholderID, currency, idempotencyKey string) (ledgerclient.CardResult, error)
	RetrieveBalance(ctx context.Context, accountID, currency string) (domain.FundingBalance, error)
	CreateTopup(ctx context.Context, accountID string, amountCents int64, currency, idempotencyKey string) (*ledgerclient.Topup, error)
	CreatePayout(ctx context.Context, accountID, bankAccountID string, amountCents int64, currency, idempotencyKey string) (*ledgerclient.Payout, error)
	ListCardTransactions(ctx context.Context, accountID, cardID string, limit int) ([]ledgerclient.CardTransaction, error)
}

// EventPublisher publishes internal domain events.
type EventPublisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
}
