package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// FormatMinorUnits renders an integer amount of cents for display, e.g.
// 1250 "usd" -> "12.50 USD". Arithmetic on money stays in int64 cents.
func FormatMinorUnits(cents int64, currency string) string {
	amount := decimal.New(cents, -2).StringFixed(2)
	if currency == "" {
		return amount
	}
	return amount + " " + strings.ToUpper(currency)
}

// NewFundingBalance builds the transient balance view. The displayed amount
// is clamped at zero; LedgerCents keeps the raw value for funding math.
func NewFundingBalance(ledgerCents int64, currency string) FundingBalance {
	available := ledgerCents
	if available < 0 {
		available = 0
	}
	return FundingBalance{
		AvailableCents: available,
		Currency:       strings.ToLower(currency),
		Display:        FormatMinorUnits(available, currency),
		LedgerCents:    ledgerCents,
	}
}
