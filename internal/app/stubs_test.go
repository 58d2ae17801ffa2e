package app

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/piggybank/onboarding-service/internal/domain"
	"github.com/piggybank/onboarding-service/internal/store"
	"github.com/piggybank/onboarding-service/pkg/ledgerclient"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func strPtr(v string) *string { return &v }

// memoryMirrorStore mirrors the field-group rules of the Postgres store.
type memoryMirrorStore struct {
	mu      sync.Mutex
	mirrors  map[string]*domain.AccountMirror
	listErr  error
	applyErr error
}

func newMemoryMirrorStore() *memoryMirrorStore {
	return &memoryMirrorStore{mirrors: make(map[string]*domain.AccountMirror)}
}

func cloneMirror(m *domain.AccountMirror) *domain.AccountMirror {
	c := *m
	c.Capabilities = make(map[string]domain.CapabilityStatus, len(m.Capabilities))
	for k, v := range m.Capabilities {
		c.Capabilities[k] = v
	}
	c.CurrentlyDue = append([]string{}, m.CurrentlyDue...)
	if m.Profile != nil {
		p := *m.Profile
		c.Profile = &p
	}
	return &c
}

func (s *memoryMirrorStore) put(m *domain.AccountMirror) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mirrors[m.UserID] = cloneMirror(m)
}

func (s *memoryMirrorStore) GetOrCreateMirror(ctx context.Context, userID string) (*domain.AccountMirror, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.mirrors[userID]; ok {
		return cloneMirror(m), nil
	}
	m := domain.NewAccountMirror(userID)
	m.CreatedAt = time.Now()
	s.mirrors[userID] = m
	return cloneMirror(m), nil
}

func (s *memoryMirrorStore) GetMirror(ctx context.Context, userID string) (*domain.AccountMirror, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.mirrors[userID]
	if !ok {
		return nil, store.ErrMirrorNotFound
	}
	return cloneMirror(m), nil
}

func (s *memoryMirrorStore) FindMirrorByAccountID(ctx context.Context, accountID string) (*domain.AccountMirror, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.mirrors {
		if m.ExternalAccountID != nil && *m.ExternalAccountID == accountID {
			return cloneMirror(m), nil
		}
	}
	return nil, store.ErrMirrorNotFound
}

func (s *memoryMirrorStore) SetExternalAccount(ctx context.Context, userID, accountID string, profile domain.ProfileSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.mirrors[userID]
	if !ok {
		return store.ErrMirrorNotFound
	}
	if m.ExternalAccountID != nil && *m.ExternalAccountID != accountID {
		return store.ErrFieldGroupConflict
	}
	m.ExternalAccountID = strPtr(accountID)
	m.Profile = &profile
	return nil
}

func (s *memoryMirrorStore) ApplyAccountState(ctx context.Context, state domain.AccountState) (domain.AccountStateChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.applyErr != nil {
		return domain.AccountStateChange{}, s.applyErr
	}
	for _, m := range s.mirrors {
		if m.ExternalAccountID == nil || *m.ExternalAccountID != state.ExternalAccountID {
			continue
		}
		change := domain.AccountStateChange{UserID: m.UserID, Previous: m.KYCStatus()}
		if !store.ShouldApplyState(m.StateEventAt, state.ObservedAt) {
			change.Current = change.Previous
			return change, nil
		}
		m.Capabilities = state.Capabilities
		m.CurrentlyDue = state.CurrentlyDue
		m.DisabledReason = state.DisabledReason
		if state.ObservedAt > m.StateEventAt {
			m.StateEventAt = state.ObservedAt
		}
		now := time.Now()
		m.LastSyncedAt = &now
		change.Applied = true
		change.Current = m.KYCStatus()
		return change, nil
	}
	return domain.AccountStateChange{}, store.ErrMirrorNotFound
}

func (s *memoryMirrorStore) SetBankAccount(ctx context.Context, userID, bankAccountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.mirrors[userID]
	if !ok {
		return store.ErrMirrorNotFound
	}
	if m.ExternalAccountID == nil {
		return store.ErrFieldGroupConflict
	}
	m.BankAccountID = strPtr(bankAccountID)
	return nil
}

func (s *memoryMirrorStore) SetCardholder(ctx context.Context, userID, cardholderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.mirrors[userID]
	if !ok {
		return store.ErrMirrorNotFound
	}
	if m.ExternalAccountID == nil || (m.CardholderID != nil && *m.CardholderID != cardholderID) {
		return store.ErrFieldGroupConflict
	}
	m.CardholderID = strPtr(cardholderID)
	return nil
}

func (s *memoryMirrorStore) SetVirtualCard(ctx context.Context, userID, cardID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.mirrors[userID]
	if !ok {
		return store.ErrMirrorNotFound
	}
	if m.CardholderID == nil || (m.VirtualCardID != nil && *m.VirtualCardID != cardID) {
		return store.ErrFieldGroupConflict
	}
	m.VirtualCardID = strPtr(cardID)
	return nil
}

func (s *memoryMirrorStore) ListPendingMirrors(ctx context.Context, limit int) ([]*domain.AccountMirror, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.AccountMirror
	for _, m := range s.mirrors {
		if m.HasAccount() && m.KYCStatus() == domain.KYCPending {
			out = append(out, cloneMirror(m))
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// memoryPaymentStore applies the same conflict rule as the SQL upsert.
type memoryPaymentStore struct {
	mu      sync.Mutex
	records map[string]domain.PaymentRecord
}

func newMemoryPaymentStore() *memoryPaymentStore {
	return &memoryPaymentStore{records: make(map[string]domain.PaymentRecord)}
}

func (s *memoryPaymentStore) RecordPayment(ctx context.Context, record domain.PaymentRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.records[record.ID]
	if !ok {
		s.records[record.ID] = record
		return true, nil
	}
	if existing.Status == domain.PaymentFailed && record.Status == domain.PaymentSucceeded {
		record.FailureMessage = nil
		record.UserID = existing.UserID
		s.records[record.ID] = record
		return true, nil
	}
	return false, nil
}

func (s *memoryPaymentStore) GetPayment(ctx context.Context, id string) (*domain.PaymentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, store.ErrPaymentNotFound
	}
	return &rec, nil
}

// fakeLedger records every call and returns canned results.
type fakeLedger struct {
	mu    sync.Mutex
	calls map[string]int

	account       domain.LedgerAccountObject
	createErr     error
	retrieveErr   error
	capabilityErr error
	requested     []string
	bankErr       error
	cardholderID  string
	cardholderErr error
	cardResults   []ledgerclient.CardResult
	cardErr       error
	balanceCents  int64
	balanceErr    error
	topupErr      error
	topupAmounts  []int64
	payoutErr     error
	lastCreate    ledgerclient.CreateAccountParams
	transactions  []ledgerclient.CardTransaction
}

func newFakeLedger() *fakeLedger {
	f := &fakeLedger{calls: make(map[string]int), cardholderID: "ich_123"}
	f.account = domain.LedgerAccountObject{
		ID:           "acct_123",
		Capabilities: map[string]string{"transfers": "pending", "card_payments": "pending"},
	}
	return f
}

func (f *fakeLedger) record(op string) {
	f.mu.Lock()
	f.calls[op]++
	f.mu.Unlock()
}

func (f *fakeLedger) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeLedger) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *fakeLedger) CreateAccount(ctx context.Context, params ledgerclient.CreateAccountParams) (*domain.LedgerAccountObject, error) {
	f.record("create_account")
	f.lastCreate = params
	if f.createErr != nil {
		return nil, f.createErr
	}
	acct := f.account
	return &acct, nil
}

func (f *fakeLedger) RetrieveAccount(ctx context.Context, accountID string) (*domain.LedgerAccountObject, error) {
	f.record("retrieve_account")
	if f.retrieveErr != nil {
		return nil, f.retrieveErr
	}
	acct := f.account
	return &acct, nil
}

func (f *fakeLedger) CreateAccountLink(ctx context.Context, accountID, refreshURL, returnURL string) (*ledgerclient.AccountLink, error) {
	f.record("create_account_link")
	return &ledgerclient.AccountLink{URL: "https://connect.example.com/setup/" + accountID + "?return=" + returnURL, ExpiresAt: 1}, nil
}

func (f *fakeLedger) RequestCapability(ctx context.Context, accountID, capability string) (domain.CapabilityStatus, error) {
	f.record("request_capability")
	if f.capabilityErr != nil {
		return "", f.capabilityErr
	}
	f.mu.Lock()
	f.requested = append(f.requested, capability)
	f.mu.Unlock()
	return domain.CapabilityPending, nil
}

func (f *fakeLedger) AddBankAccount(ctx context.Context, accountID string, in domain.BankAccountInput, key string) (*ledgerclient.BankAccount, error) {
	f.record("add_bank_account")
	if f.bankErr != nil {
		return nil, f.bankErr
	}
	return &ledgerclient.BankAccount{ID: "ba_123", Last4: in.AccountNumber[len(in.AccountNumber)-4:]}, nil
}

func (f *fakeLedger) CreateCardholder(ctx context.Context, accountID string, holder domain.ProfileSnapshot, key string) (string, error) {
	f.record("create_cardholder")
	if f.cardholderErr != nil {
		return "", f.cardholderErr
	}
	return f.cardholderID, nil
}

func (f *fakeLedger) CreateCard(ctx context.Context, accountID, cardholderID, currency, key string) (ledgerclient.CardResult, error) {
	f.record("create_card")
	if f.cardErr != nil {
		return ledgerclient.CardResult{}, f.cardErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.cardResults) == 0 {
		return ledgerclient.CardResult{Outcome: ledgerclient.CardCreated, CardID: "ic_default"}, nil
	}
	res := f.cardResults[0]
	f.cardResults = f.cardResults[1:]
	return res, nil
}

func (f *fakeLedger) RetrieveBalance(ctx context.Context, accountID, currency string) (domain.FundingBalance, error) {
	f.record("retrieve_balance")
	if f.balanceErr != nil {
		return domain.FundingBalance{}, f.balanceErr
	}
	return domain.NewFundingBalance(f.balanceCents, currency), nil
}

func (f *fakeLedger) CreateTopup(ctx context.Context, accountID string, amountCents int64, currency, key string) (*ledgerclient.Topup, error) {
	f.record("create_topup")
	f.mu.Lock()
	f.topupAmounts = append(f.topupAmounts, amountCents)
	f.mu.Unlock()
	if f.topupErr != nil {
		return nil, f.topupErr
	}
	return &ledgerclient.Topup{ID: "tu_123", Amount: amountCents, Currency: currency, Status: "pending"}, nil
}

func (f *fakeLedger) CreatePayout(ctx context.Context, accountID, bankAccountID string, amountCents int64, currency, key string) (*ledgerclient.Payout, error) {
	f.record("create_payout")
	if f.payoutErr != nil {
		return nil, f.payoutErr
	}
	return &ledgerclient.Payout{ID: "po_123", Amount: amountCents, Currency: currency, Destination: bankAccountID, Status: "pending"}, nil
}

func (f *fakeLedger) ListCardTransactions(ctx context.Context, accountID, cardID string, limit int) ([]ledgerclient.CardTransaction, error) {
	f.record("list_card_transactions")
	return f.transactions, nil
}

type publishedEvent struct {
	exchange   string
	routingKey string
	body       interface{}
}

type publisherStub struct {
	mu     sync.Mutex
	events []publishedEvent
	err    error
}

func (p *publisherStub) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, publishedEvent{exchange: exchange, routingKey: routingKey, body: body})
	return nil
}

func (p *publisherStub) byKey(routingKey string) []publishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []publishedEvent
	for _, e := range p.events {
		if e.routingKey == routingKey {
			out = append(out, e)
		}
	}
	return out
}
