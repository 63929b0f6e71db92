// Package types provides value types shared by the parking packages.
package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Money is an amount in the smallest unit of its currency. Fees are always
// computed with integer arithmetic.
//
//	USD(500) = $5.00
//	INR(4000) = ₹40.00
type Money struct {
	Amount   int64  `json:"amount"`   // smallest unit (cents, paise, ...)
	Currency string `json:"currency"` // ISO 4217, lowercase
}

// New creates a Money value, normalizing the currency code.
func New(amount int64, currency string) Money {
	return Money{Amount: amount, Currency: strings.ToLower(currency)}
}

// USD creates a Money value in US dollars (cents).
func USD(cents int64) Money { return Money{Amount: cents, Currency: "usd"} }

// EUR creates a Money value in euros (cents).
func EUR(cents int64) Money { return Money{Amount: cents, Currency: "eur"} }

// GBP creates a Money value in pounds (pence).
func GBP(pence int64) Money { return Money{Amount: pence, Currency: "gbp"} }

// INR creates a Money value in Indian rupees (paise).
func INR(paise int64) Money { return Money{Amount: paise, Currency: "inr"} }

// JPY creates a Money value in yen.
func JPY(yen int64) Money { return Money{Amount: yen, Currency: "jpy"} }

// Zero returns zero in the given currency.
func Zero(currency string) Money { return New(0, currency) }

// Add returns m + other. Panics on a currency mismatch.
func (m Money) Add(other Money) Money {
	m.mustMatch(other)
	return Money{Amount: m.Amount + other.Amount, Currency: m.Currency}
}

// Multiply returns m × qty.
func (m Money) Multiply(qty int64) Money {
	return Money{Amount: m.Amount * qty, Currency: m.Currency}
}

// IsZero reports whether the amount is zero.
func (m Money) IsZero() bool { return m.Amount == 0 }

// IsNegative reports whether the amount is below zero.
func (m Money) IsNegative() bool { return m.Amount < 0 }

// Equal reports whether amount and currency both match.
func (m Money) Equal(other Money) bool {
	return m.Amount == other.Amount && m.Currency == other.Currency
}

// SameCurrency reports whether both values use the same currency.
func (m Money) SameCurrency(other Money) bool { return m.Currency == other.Currency }

// FormatMajor renders the amount in major units without a symbol:
// "5.00" for USD(500), "100" for JPY(100).
func (m Money) FormatMajor() string {
	decimals := currencyDecimals(m.Currency)
	if decimals == 0 {
		return fmt.Sprintf("%d", m.Amount)
	}

	abs := m.Amount
	sign := ""
	if abs < 0 {
		abs, sign = -abs, "-"
	}

	divisor := int64(1)
	for range decimals {
		divisor *= 10
	}
	return fmt.Sprintf("%s%d.%0*d", sign, abs/divisor, decimals, abs%divisor)
}

// String returns the amount with its currency symbol, e.g. "$8.00".
func (m Money) String() string {
	return currencySymbol(m.Currency) + m.FormatMajor()
}

// MarshalJSON adds a display string next to amount and currency.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
		Display  string `json:"display"`
	}{m.Amount, m.Currency, m.String()})
}

// UnmarshalJSON accepts the shape produced by MarshalJSON; display is ignored.
func (m *Money) UnmarshalJSON(data []byte) error {
	var raw struct {
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*m = New(raw.Amount, raw.Currency)
	return nil
}

func (m Money) mustMatch(other Money) {
	if m.Currency != other.Currency {
		panic(fmt.Sprintf("money: currency mismatch: %s != %s", m.Currency, other.Currency))
	}
}

var symbols = map[string]string{
	"usd": "$",
	"eur": "€",
	"gbp": "£",
	"inr": "₹",
	"jpy": "¥",
}

func currencySymbol(currency string) string {
	if sym, ok := symbols[currency]; ok {
		return sym
	}
	return strings.ToUpper(currency) + " "
}

func currencyDecimals(currency string) int {
	switch currency {
	case "jpy", "krw", "vnd", "clp":
		return 0
	default:
		return 2
	}
}
