/**
 * @description
 * This file defines the personal-info bundle collected during onboarding and
 * the local, pre-flight validation performed on it before any ledger call.
 *
 * @notes
 * - Validation errors are field-scoped so the UI can re-prompt one input.
 * - The SSN digits are sent to the ledger once and never persisted; the mirror
 *   keeps a ProfileSnapshot without them.
 */
package domain

import (
	"strings"
	"time"
)

// Address is a US physical address.
type Address struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// DateOfBirth is kept as separate calendar components, the way the ledger
// expects them.
type DateOfBirth struct {
	Day   int `json:"day"`
	Month int `json:"month"`
	Year  int `json:"year"`
}

// Profile is the KYC bundle submitted with CreateAccount.
type Profile struct {
	FirstName   string      `json:"first_name"`
	LastName    string      `json:"last_name"`
	DateOfBirth DateOfBirth `json:"dob"`
	Address     Address     `json:"address"`
	SSNLast4    string      `json:"ssn_last_4"`
	Email       string      `json:"email"`
	Phone       string      `json:"phone"`
	// Acceptance of the ledger's terms, captured by the client.
	TOSAcceptedIP string `json:"tos_accepted_ip"`
}

// ProfileSnapshot is the part of the profile persisted on the mirror and
// reused as the cardholder's billing identity.
type ProfileSnapshot struct {
	FirstName   string      `json:"first_name"`
	LastName    string      `json:"last_name"`
	DateOfBirth DateOfBirth `json:"dob"`
	Address     Address     `json:"address"`
	Email       string      `json:"email"`
	Phone       string      `json:"phone"`
}

// Snapshot strips the fields that must not be persisted.
func (p Profile) Snapshot() ProfileSnapshot {
	return ProfileSnapshot{
		FirstName:   p.FirstName,
		LastName:    p.LastName,
		DateOfBirth: p.DateOfBirth,
		Address:     p.Address,
		Email:       p.Email,
		Phone:       p.Phone,
	}
}

// Normalize trims every field and canonicalizes the postal code and country.
// It returns the first validation error it meets.
func (p Profile) Normalize() (Profile, error) {
	p.FirstName = strings.TrimSpace(p.FirstName)
	p.LastName = strings.TrimSpace(p.LastName)
	p.SSNLast4 = strings.TrimSpace(p.SSNLast4)
	p.Email = strings.TrimSpace(strings.ToLower(p.Email))
	p.Phone = strings.TrimSpace(p.Phone)
	p.TOSAcceptedIP = strings.TrimSpace(p.TOSAcceptedIP)
	p.Address = p.Address.trimmed()

	required := []struct {
		field string
		value string
	}{
		{"firstName", p.FirstName},
		{"lastName", p.LastName},
		{"address.line1", p.Address.Line1},
		{"address.city", p.Address.City},
		{"address.state", p.Address.State},
		{"address.postalCode", p.Address.PostalCode},
		{"ssnLast4", p.SSNLast4},
		{"email", p.Email},
		{"phone", p.Phone},
	}
	for _, r := range required {
		if r.value == "" {
			return p, ValidationError(r.field, "%s is required", r.field)
		}
	}

	if err := p.DateOfBirth.Validate(time.Now()); err != nil {
		return p, err
	}

	zip, ok := NormalizeZIP(p.Address.PostalCode)
	if !ok {
		return p, ValidationError("address.postalCode", "postal code must be a 5-digit US ZIP code")
	}
	p.Address.PostalCode = zip

	if len(p.SSNLast4) != 4 || !allDigits(p.SSNLast4) {
		return p, ValidationError("ssnLast4", "ssn last 4 must be exactly 4 digits")
	}
	if !strings.Contains(p.Email, "@") {
		return p, ValidationError("email", "email address is not valid")
	}
	if p.Address.Country == "" {
		p.Address.Country = "US"
	}
	if p.Address.Country != "US" {
		return p, ValidationError("address.country", "only US addresses are supported")
	}
	return p, nil
}

func (a Address) trimmed() Address {
	return Address{
		Line1:      strings.TrimSpace(a.Line1),
		Line2:      strings.TrimSpace(a.Line2),
		City:       strings.TrimSpace(a.City),
		State:      strings.ToUpper(strings.TrimSpace(a.State)),
		PostalCode: strings.TrimSpace(a.PostalCode),
		Country:    strings.ToUpper(strings.TrimSpace(a.Country)),
	}
}

// MissingFields lists the empty billing sub-fields, prefixed with prefix.
func (a Address) MissingFields(prefix string) []string {
	var missing []string
	check := func(name, value string) {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, prefix+name)
		}
	}
	check("line1", a.Line1)
	check("city", a.City)
	check("state", a.State)
	check("postalCode", a.PostalCode)
	check("country", a.Country)
	return missing
}

// Validate checks that the components form a real calendar date in the past
// and that the person is an adult relative to now.
func (d DateOfBirth) Validate(now time.Time) error {
	if d.Year < 1900 || d.Year > now.Year() {
		return ValidationError("dob.year", "year of birth is out of range")
	}
	if d.Month < 1 || d.Month > 12 {
		return ValidationError("dob.month", "month of birth must be between 1 and 12")
	}
	if d.Day < 1 || d.Day > daysIn(time.Month(d.Month), d.Year) {
		return ValidationError("dob.day", "day of birth is not valid for the given month")
	}
	born := time.Date(d.Year, time.Month(d.Month), d.Day, 0, 0, 0, 0, time.UTC)
	if !born.AddDate(18, 0, 0).Before(now) {
		return ValidationError("dob", "account holder must be at least 18 years old")
	}
	return nil
}

func daysIn(m time.Month, year int) int {
	return time.Date(year, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// NormalizeZIP accepts "12345", "12345-6789" and "123456789" and returns the
// 5-digit form.
func NormalizeZIP(raw string) (string, bool) {
	clean := strings.ReplaceAll(strings.TrimSpace(raw), " ", "")
	switch {
	case len(clean) == 5 && allDigits(clean):
		return clean, true
	case len(clean) == 10 && clean[5] == '-' && allDigits(clean[:5]) && allDigits(clean[6:]):
		return clean[:5], true
	case len(clean) == 9 && allDigits(clean):
		return clean[:5], true
	}
	return "", false
}

// BankAccountInput is the payload of LinkBankAccount.
type BankAccountInput struct {
	RoutingNumber string `json:"routing_number"`
	AccountNumber string `json:"account_number"`
	HolderName    string `json:"holder_name"`
}

// Normalize validates the bank details locally. Bank-side correctness is the
// ledger's job.
func (b BankAccountInput) Normalize() (BankAccountInput, error) {
	b.RoutingNumber = strings.TrimSpace(b.RoutingNumber)
	b.AccountNumber = strings.TrimSpace(b.AccountNumber)
	b.HolderName = strings.TrimSpace(b.HolderName)

	if len(b.RoutingNumber) != 9 || !allDigits(b.RoutingNumber) {
		return b, ValidationError("routingNumber", "routing number must be exactly 9 digits")
	}
	if len(b.AccountNumber) < 4 || !allDigits(b.AccountNumber) {
		return b, ValidationError("accountNumber", "account number must be at least 4 digits")
	}
	if b.HolderName == "" {
		return b, ValidationError("holderName", "account holder name is required")
	}
	return b, nil
}

// CardholderDetails optionally overrides the stored profile when creating the
// cardholder. Empty fields fall back to the mirror's snapshot.
type CardholderDetails struct {
	FirstName string   `json:"first_name"`
	LastName  string   `json:"last_name"`
	Email     string   `json:"email"`
	Phone     string   `json:"phone"`
	Billing   *Address `json:"billing,omitempty"`
}

// ResolveCardholder merges details over the stored snapshot and reports every
// missing field at once.
func ResolveCardholder(stored *ProfileSnapshot, details CardholderDetails) (ProfileSnapshot, []string) {
	var resolved ProfileSnapshot
	if stored != nil {
		resolved = *stored
	}
	if v := strings.TrimSpace(details.FirstName); v != "" {
		resolved.FirstName = v
	}
	if v := strings.TrimSpace(details.LastName); v != "" {
		resolved.LastName = v
	}
	if v := strings.TrimSpace(details.Email); v != "" {
		resolved.Email = strings.ToLower(v)
	}
	if v := strings.TrimSpace(details.Phone); v != "" {
		resolved.Phone = v
	}
	if details.Billing != nil {
		resolved.Address = details.Billing.trimmed()
	}

	var missing []string
	if resolved.FirstName == "" {
		missing = append(missing, "firstName")
	}
	if resolved.LastName == "" {
		missing = append(missing, "lastName")
	}
	if resolved.Email == "" || !strings.Contains(resolved.Email, "@") {
		missing = append(missing, "email")
	}
	missing = append(missing, resolved.Address.MissingFields("billing.")...)
	return resolved, missing
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
