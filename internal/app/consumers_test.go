package app

import (
	"encoding/json"
	"testing"

	"github.com/piggybank/onboarding-service/internal/domain"
)

func approvedEventBody(t *testing.T, userID string) []byte {
	t.Helper()
	body, err := json.Marshal(domain.AccountApprovedEvent{UserID: userID, ExternalAccountID: "acct_123"})
	if err != nil {
		t.Fatalf("failed to marshal event: %v", err)
	}
	return body
}

func TestHandleAccountApproved(t *testing.T) {
	tests := []struct {
		name          string
		body          func(t *testing.T) []byte
		capabilityErr error
		wantAck       bool
		wantRequested []string
	}{
		{
			name:          "requests card issuing",
			body:          func(t *testing.T) []byte { return approvedEventBody(t, testUser) },
			wantAck:       true,
			wantRequested: []string{domain.CapabilityCardIssuing},
		},
		{
			name:    "malformed body is acknowledged",
			body:    func(t *testing.T) []byte { return []byte("{") },
			wantAck: true,
		},
		{
			name:    "missing user id is acknowledged",
			body:    func(t *testing.T) []byte { return approvedEventBody(t, "") },
			wantAck: true,
		},
		{
			name:          "rate limit is requeued",
			body:          func(t *testing.T) []byte { return approvedEventBody(t, testUser) },
			capabilityErr: &domain.Error{Kind: domain.KindRateLimited, Message: "slow down"},
			wantAck:       false,
		},
		{
			name:          "permanent rejection is acknowledged",
			body:          func(t *testing.T) []byte { return approvedEventBody(t, testUser) },
			capabilityErr: &domain.Error{Kind: domain.KindCapabilityNotEnabled, Message: "issuing is not enabled"},
			wantAck:       true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger := newFakeLedger()
			ledger.capabilityErr = tt.capabilityErr
			mirrors := newMemoryMirrorStore()
			mirrors.put(approvedMirror())
			handler := NewAccountEventHandler(newTestOrchestrator(ledger, mirrors, nil), discardLogger())

			if got := handler.HandleAccountApproved(tt.body(t)); got != tt.wantAck {
				t.Fatalf("expected ack=%v, got %v", tt.wantAck, got)
			}
			if len(ledger.requested) != len(tt.wantRequested) {
				t.Fatalf("expected requests %v, got %v", tt.wantRequested, ledger.requested)
			}
			for i, name := range tt.wantRequested {
				if ledger.requested[i] != name {
					t.Fatalf("expected request %q, got %q", name, ledger.requested[i])
				}
			}
		})
	}
}
