package domain

import (
	"errors"
	"testing"
	"time"
)

func validProfile() Profile {
	return Profile{
		FirstName:   "Dana",
		LastName:    "Levi",
		DateOfBirth: DateOfBirth{Day: 14, Month: 3, Year: 1988},
		Address: Address{
			Line1:      "1 Market St",
			City:       "San Francisco",
			State:      "ca",
			PostalCode: "94105-1234",
		},
		SSNLast4: "0000",
		Email:    "Dana@Example.com",
		Phone:    "+14155550100",
	}
}

func TestProfileNormalize(t *testing.T) {
	got, err := validProfile().Normalize()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Address.PostalCode != "94105" {
		t.Fatalf("expected normalized ZIP 94105, got %q", got.Address.PostalCode)
	}
	if got.Address.Country != "US" || got.Address.State != "CA" {
		t.Fatalf("expected defaulted country and upper-cased state, got %q/%q", got.Address.Country, got.Address.State)
	}
	if got.Email != "dana@example.com" {
		t.Fatalf("expected lower-cased email, got %q", got.Email)
	}
}

func TestProfileNormalizeFieldErrors(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(p *Profile)
		wantField string
	}{
		{"missing first name", func(p *Profile) { p.FirstName = " " }, "firstName"},
		{"missing city", func(p *Profile) { p.Address.City = "" }, "address.city"},
		{"missing ssn", func(p *Profile) { p.SSNLast4 = "" }, "ssnLast4"},
		{"bad zip", func(p *Profile) { p.Address.PostalCode = "9410" }, "address.postalCode"},
		{"bad ssn", func(p *Profile) { p.SSNLast4 = "12a4" }, "ssnLast4"},
		{"month out of range", func(p *Profile) { p.DateOfBirth.Month = 13 }, "dob.month"},
		{"day out of range", func(p *Profile) { p.DateOfBirth = DateOfBirth{Day: 30, Month: 2, Year: 1990} }, "dob.day"},
		{"non-us address", func(p *Profile) { p.Address.Country = "CA" }, "address.country"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validProfile()
			tt.mutate(&p)
			_, err := p.Normalize()
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			var de *Error
			if !errors.As(err, &de) || de.Kind != KindValidation {
				t.Fatalf("expected validation error, got %v", err)
			}
			if de.Field != tt.wantField {
				t.Fatalf("expected field %q, got %q", tt.wantField, de.Field)
			}
		})
	}
}

func TestDateOfBirthValidate(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		dob     DateOfBirth
		wantErr bool
	}{
		{"leap day in leap year", DateOfBirth{Day: 29, Month: 2, Year: 2000}, false},
		{"leap day in common year", DateOfBirth{Day: 29, Month: 2, Year: 2001}, true},
		{"april has 30 days", DateOfBirth{Day: 31, Month: 4, Year: 1990}, true},
		{"minor", DateOfBirth{Day: 1, Month: 1, Year: 2015}, true},
		{"future year", DateOfBirth{Day: 1, Month: 1, Year: 2030}, true},
		{"zero day", DateOfBirth{Day: 0, Month: 1, Year: 1990}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.dob.Validate(now)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNormalizeZIP(t *testing.T) {
	tests := []struct {
		input  string
		want   string
		wantOK bool
	}{
		{"94105", "94105", true},
		{" 94105 ", "94105", true},
		{"94105-1234", "94105", true},
		{"941051234", "94105", true},
		{"9410", "", false},
		{"94105-12", "", false},
		{"ABCDE", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := NormalizeZIP(tt.input)
			if ok != tt.wantOK || got != tt.want {
				t.Fatalf("NormalizeZIP(%q) = %q, %v; want %q, %v", tt.input, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestBankAccountInputNormalize(t *testing.T) {
	valid := BankAccountInput{RoutingNumber: "110000000", AccountNumber: "000123456789", HolderName: "Dana Levi"}
	if _, err := valid.Normalize(); err != nil {
		t.Fatalf("expected valid bank details, got %v", err)
	}

	tests := []struct {
		name      string
		input     BankAccountInput
		wantField string
	}{
		{"8 digit routing", BankAccountInput{RoutingNumber: "11000000", AccountNumber: "000123456789", HolderName: "x"}, "routingNumber"},
		{"alpha routing", BankAccountInput{RoutingNumber: "11000000a", AccountNumber: "000123456789", HolderName: "x"}, "routingNumber"},
		{"short account", BankAccountInput{RoutingNumber: "110000000", AccountNumber: "123", HolderName: "x"}, "accountNumber"},
		{"missing holder", BankAccountInput{RoutingNumber: "110000000", AccountNumber: "1234"}, "holderName"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.input.Normalize()
			if KindOf(err) != KindValidation || FieldOf(err) != tt.wantField {
				t.Fatalf("expected validation error on %q, got %v", tt.wantField, err)
			}
		})
	}
}

func TestResolveCardholder(t *testing.T) {
	stored := validProfile().Snapshot()
	stored.Address.Country = "US"

	resolved, missing := ResolveCardholder(&stored, CardholderDetails{Email: "Other@Example.com"})
	if len(missing) != 0 {
		t.Fatalf("expected complete profile, missing %v", missing)
	}
	if resolved.Email != "other@example.com" {
		t.Fatalf("expected override email, got %q", resolved.Email)
	}

	stored.Address.City = ""
	stored.Address.PostalCode = ""
	_, missing = ResolveCardholder(&stored, CardholderDetails{})
	if len(missing) != 2 || missing[0] != "billing.city" || missing[1] != "billing.postalCode" {
		t.Fatalf("expected aggregated billing gaps, got %v", missing)
	}

	_, missing = ResolveCardholder(nil, CardholderDetails{})
	if len(missing) != 8 {
		t.Fatalf("expected every field missing without a stored profile, got %v", missing)
	}
}

func TestFormatMinorUnits(t *testing.T) {
	if got := FormatMinorUnits(1250, "usd"); got != "12.50 USD" {
		t.Fatalf("expected 12.50 USD, got %q", got)
	}
	if got := FormatMinorUnits(5, ""); got != "0.05" {
		t.Fatalf("expected 0.05, got %q", got)
	}
	got := NewFundingBalance(-10, "USD")
	if got.AvailableCents != 0 || got.Display != "0.00 USD" || got.Currency != "usd" {
		t.Fatalf("expected clamped balance, got %+v", got)
	}
	if got.LedgerCents != -10 {
		t.Fatalf("expected raw ledger cents -10, got %d", got.LedgerCents)
	}
}
