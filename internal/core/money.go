// Package core provides the ledger's domain types and money handling.
//
// Amounts are shopspring decimals throughout; go-money is consulted only for
// currency facts (fraction digits, symbol) and for display formatting.
package core

import (
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// ParseAmount converts a user supplied string into a strictly positive decimal.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators. Signs,
// thousands separators and exponents are rejected.
//
// Examples:
//
//	ParseAmount("12.34") -> 12.34, nil
//	ParseAmount("12,34") -> 12.34, nil
//	ParseAmount("0")     -> 0, ErrInvalidAmount
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", ".")
	if strings.Count(s, ".") > 1 {
		return decimal.Zero, ErrInvalidAmount
	}
	for _, r := range s {
		if (r < '0' || r > '9') && r != '.' {
			return decimal.Zero, ErrInvalidAmount
		}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	if err := ValidateAmount(d); err != nil {
		return decimal.Zero, err
	}
	return d, nil
}

// ValidateAmount rejects zero and negative amounts.
func ValidateAmount(d decimal.Decimal) error {
	if !d.IsPositive() {
		return ErrInvalidAmount
	}
	return nil
}

// KnownCurrency reports whether code is an ISO 4217 currency go-money knows.
func KnownCurrency(code string) bool {
	return money.GetCurrency(NormalizeCurrency(code)) != nil
}

// CurrencySymbol returns the display grapheme for code, or the code itself
// when the currency is unknown.
func CurrencySymbol(code string) string {
	if cur := money.GetCurrency(NormalizeCurrency(code)); cur != nil {
		return cur.Grapheme
	}
	return code
}

// CurrencyFraction returns the number of minor-unit digits for code (2 when unknown).
func CurrencyFraction(code string) int {
	if cur := money.GetCurrency(NormalizeCurrency(code)); cur != nil {
		return cur.Fraction
	}
	return 2
}

// FormatAmount renders amount in code using the currency's own template,
// e.g. "$1,234.50" or "1.234,50 €". Amounts are rounded half-up to the
// currency's minor unit for display only.
func FormatAmount(amount decimal.Decimal, code string) string {
	code = NormalizeCurrency(code)
	cur := money.GetCurrency(code)
	if cur == nil {
		return amount.StringFixed(2) + " " + code
	}
	minor := amount.Shift(int32(cur.Fraction)).Round(0).IntPart()
	return money.New(minor, code).Display()
}
