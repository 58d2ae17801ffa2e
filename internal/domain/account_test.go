package domain

import "testing"

func strPtr(v string) *string { return &v }

func TestDeriveKYCStatus(t *testing.T) {
	tests := []struct {
		name           string
		accountID      *string
		caps           map[string]CapabilityStatus
		disabledReason string
		want           KYCStatus
	}{
		{
			name: "no account",
			want: KYCNoAccount,
		},
		{
			name:      "empty account id counts as no account",
			accountID: strPtr(""),
			want:      KYCNoAccount,
		},
		{
			name:      "account with inactive transfers is pending",
			accountID: strPtr("acct_1"),
			caps:      DefaultCapabilities(),
			want:      KYCPending,
		},
		{
			name:      "active transfers is approved",
			accountID: strPtr("acct_1"),
			caps:      map[string]CapabilityStatus{CapabilityTransfers: CapabilityActive},
			want:      KYCApproved,
		},
		{
			name:           "terminal disabled reason is rejected",
			accountID:      strPtr("acct_1"),
			caps:           map[string]CapabilityStatus{CapabilityTransfers: CapabilityInactive},
			disabledReason: "rejected.fraud",
			want:           KYCRejected,
		},
		{
			name:           "non-terminal disabled reason stays pending",
			accountID:      strPtr("acct_1"),
			disabledReason: "requirements.past_due",
			want:           KYCPending,
		},
		{
			name:           "active transfers wins over a stale disabled reason",
			accountID:      strPtr("acct_1"),
			caps:           map[string]CapabilityStatus{CapabilityTransfers: CapabilityActive},
			disabledReason: "rejected.other",
			want:           KYCApproved,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DeriveKYCStatus(tt.accountID, tt.caps, tt.disabledReason)
			if got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestKYCStatusRecomputedFromCapabilities(t *testing.T) {
	mirror := NewAccountMirror("user-1")
	mirror.ExternalAccountID = strPtr("acct_1")
	if got := mirror.KYCStatus(); got != KYCPending {
		t.Fatalf("expected pending before activation, got %q", got)
	}

	mirror.Capabilities[CapabilityTransfers] = CapabilityActive

	if got := mirror.View().KYCStatus; got != KYCApproved {
		t.Fatalf("expected approved after activating transfers, got %q", got)
	}
}

func TestNormalizeCapabilityStatus(t *testing.T) {
	tests := map[string]CapabilityStatus{
		"active":      CapabilityActive,
		" ACTIVE ":    CapabilityActive,
		"pending":     CapabilityPending,
		"inactive":    CapabilityInactive,
		"unrequested": CapabilityInactive,
		"disabled":    CapabilityInactive,
		"":            CapabilityInactive,
	}
	for raw, want := range tests {
		if got := NormalizeCapabilityStatus(raw); got != want {
			t.Fatalf("NormalizeCapabilityStatus(%q) = %q, want %q", raw, got, want)
		}
	}
}

func TestAccountStateChangeBecameApproved(t *testing.T) {
	change := AccountStateChange{Applied: true, Previous: KYCPending, Current: KYCApproved}
	if !change.BecameApproved() {
		t.Fatal("expected pending -> approved to be reported")
	}
	change.Previous = KYCApproved
	if change.BecameApproved() {
		t.Fatal("approved -> approved must not be reported as a transition")
	}
	change = AccountStateChange{Applied: false, Previous: KYCPending, Current: KYCApproved}
	if change.BecameApproved() {
		t.Fatal("a skipped write must not be reported as a transition")
	}
}

func TestLedgerAccountObjectState(t *testing.T) {
	obj := LedgerAccountObject{
		ID:           "acct_9",
		Capabilities: map[string]string{"transfers": "active", "card_payments": "pending"},
	}
	state := obj.State(1700000000)

	if state.Capabilities[CapabilityTransfers] != CapabilityActive {
		t.Fatalf("expected transfers active, got %q", state.Capabilities[CapabilityTransfers])
	}
	if state.Capabilities[CapabilityCardIssuing] != CapabilityInactive {
		t.Fatalf("expected unreported card_issuing to default to inactive, got %q", state.Capabilities[CapabilityCardIssuing])
	}
	if state.CurrentlyDue == nil {
		t.Fatal("expected currently due to be an empty slice, not nil")
	}
	if state.ObservedAt != 1700000000 {
		t.Fatalf("expected observed at to be carried through, got %d", state.ObservedAt)
	}
}
