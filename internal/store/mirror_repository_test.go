package store

import (
	"testing"

	"github.com/piggybank/onboarding-service/internal/domain"
)

func TestShouldApplyState(t *testing.T) {
	tests := []struct {
		name       string
		storedAt   int64
		observedAt int64
		want       bool
	}{
		{"newer event applies", 100, 200, true},
		{"same second applies", 200, 200, true},
		{"stale event is skipped", 200, 100, false},
		{"unknown observation time always applies", 200, 0, true},
		{"first write applies", 0, 50, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ShouldApplyState(tt.storedAt, tt.observedAt); got != tt.want {
				t.Fatalf("ShouldApplyState(%d, %d) = %v, want %v", tt.storedAt, tt.observedAt, got, tt.want)
			}
		})
	}
}

func TestDecodeCapabilitiesFillsDefaults(t *testing.T) {
	caps, err := decodeCapabilities([]byte(`{"transfers":"active","card_payments":"unrequested"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if caps[domain.CapabilityTransfers] != domain.CapabilityActive {
		t.Fatalf("expected transfers active, got %q", caps[domain.CapabilityTransfers])
	}
	if caps[domain.CapabilityCardPayments] != domain.CapabilityInactive {
		t.Fatalf("expected card_payments inactive, got %q", caps[domain.CapabilityCardPayments])
	}
	if caps[domain.CapabilityCardIssuing] != domain.CapabilityInactive {
		t.Fatalf("expected missing card_issuing to default inactive, got %q", caps[domain.CapabilityCardIssuing])
	}

	if _, err := decodeCapabilities([]byte(`not json`)); err == nil {
		t.Fatal("expected error for malformed capabilities")
	}
}

func TestDecodeCurrentlyDueAndProfile(t *testing.T) {
	due, err := decodeCurrentlyDue([]byte(`null`))
	if err != nil || due == nil || len(due) != 0 {
		t.Fatalf("expected empty non-nil slice, got %v (%v)", due, err)
	}

	profile, err := decodeProfile([]byte(`null`))
	if err != nil || profile != nil {
		t.Fatalf("expected nil profile, got %+v (%v)", profile, err)
	}

	profile, err = decodeProfile([]byte(`{"first_name":"Dana","address":{"city":"Austin"}}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if profile.FirstName != "Dana" || profile.Address.City != "Austin" {
		t.Fatalf("unexpected profile %+v", profile)
	}
}
