// Package money provides an immutable minor-unit currency amount.
//
// Amounts never pass through floating point: arithmetic is on int64 minor
// units and provider round-trips use MajorString/ParseMajor, which format
// and parse decimal strings with integer math pinned to the currency's
// exponent.
package money

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Currency represents an ISO 4217 currency code.
type Currency string

const (
	NGN Currency = "NGN"
	USD Currency = "USD"
	GBP Currency = "GBP"
	EUR Currency = "EUR"
	KES Currency = "KES"
	GHS Currency = "GHS"
	ZAR Currency = "ZAR"
)

// CurrencyInfo contains metadata about a currency.
type CurrencyInfo struct {
	Code       Currency
	MinorUnits int // number of decimal places
	Symbol     string
}

var currencies = map[Currency]CurrencyInfo{
	NGN: {Code: NGN, MinorUnits: 2, Symbol: "₦"},
	USD: {Code: USD, MinorUnits: 2, Symbol: "$"},
	GBP: {Code: GBP, MinorUnits: 2, Symbol: "£"},
	EUR: {Code: EUR, MinorUnits: 2, Symbol: "€"},
	KES: {Code: KES, MinorUnits: 2, Symbol: "KSh"},
	GHS: {Code: GHS, MinorUnits: 2, Symbol: "GH₵"},
	ZAR: {Code: ZAR, MinorUnits: 2, Symbol: "R"},
}

// GetCurrencyInfo returns info about a currency.
func GetCurrencyInfo(c Currency) (CurrencyInfo, bool) {
	info, ok := currencies[c]
	return info, ok
}

// IsSupported reports whether the currency code is known.
func IsSupported(c Currency) bool {
	_, ok := currencies[c]
	return ok
}

func exponent(c Currency) int {
	if info, ok := currencies[c]; ok {
		return info.MinorUnits
	}
	return 2
}

func pow10(n int) int64 {
	v := int64(1)
	for i := 0; i < n; i++ {
		v *= 10
	}
	return v
}

// Money represents a monetary amount in minor units (kobo, cents, pence).
type Money struct {
	AmountMinor int64    `json:"amount_minor"`
	Currency    Currency `json:"currency"`
}

// New creates a Money value from minor units.
func New(amountMinor int64, currency Currency) Money {
	return Money{AmountMinor: amountMinor, Currency: currency}
}

// Zero returns a zero amount for a currency.
func Zero(currency Currency) Money {
	return Money{AmountMinor: 0, Currency: currency}
}

// ParseMajor parses a major-unit decimal string ("5000", "5000.00",
// "12.5") into Money using integer math only. Fractional digits beyond
// the currency exponent are rejected.
func ParseMajor(s string, currency Currency) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Money{}, errors.New("money: empty amount")
	}

	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}

	whole, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole, frac = s[:i], s[i+1:]
	}
	if whole == "" {
		whole = "0"
	}

	exp := exponent(currency)
	if len(frac) > exp {
		return Money{}, fmt.Errorf("money: %q has more than %d decimal places for %s", s, exp, currency)
	}
	// Pad the fraction to the currency exponent.
	frac += strings.Repeat("0", exp-len(frac))

	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return Money{}, fmt.Errorf("money: invalid amount %q: %w", s, err)
	}
	minor := w * pow10(exp)
	if frac != "" {
		f, err := strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return Money{}, fmt.Errorf("money: invalid amount %q: %w", s, err)
		}
		minor += f
	}
	if neg {
		minor = -minor
	}

	return Money{AmountMinor: minor, Currency: currency}, nil
}

// MajorString formats the amount in major units pinned to the currency's
// decimal precision, e.g. 500000 minor NGN -> "5000.00".
func (m Money) MajorString() string {
	exp := exponent(m.Currency)
	div := pow10(exp)

	minor := m.AmountMinor
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}

	if exp == 0 {
		return sign + strconv.FormatInt(minor, 10)
	}
	return fmt.Sprintf("%s%d.%0*d", sign, minor/div, exp, minor%div)
}

// IsZero reports whether the amount is zero.
func (m Money) IsZero() bool { return m.AmountMinor == 0 }

// IsPositive reports whether the amount is positive.
func (m Money) IsPositive() bool { return m.AmountMinor > 0 }

// IsNegative reports whether the amount is negative.
func (m Money) IsNegative() bool { return m.AmountMinor < 0 }

// Negate returns the negated amount.
func (m Money) Negate() Money {
	return Money{AmountMinor: -m.AmountMinor, Currency: m.Currency}
}

// Add adds two money values (must be same currency).
func (m Money) Add(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, fmt.Errorf("money: currency mismatch: %s vs %s", m.Currency, other.Currency)
	}
	return Money{AmountMinor: m.AmountMinor + other.AmountMinor, Currency: m.Currency}, nil
}

// Sub subtracts two money values (must be same currency).
func (m Money) Sub(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, fmt.Errorf("money: currency mismatch: %s vs %s", m.Currency, other.Currency)
	}
	return Money{AmountMinor: m.AmountMinor - other.AmountMinor, Currency: m.Currency}, nil
}

// Compare returns -1, 0, or 1.
func (m Money) Compare(other Money) (int, error) {
	if m.Currency != other.Currency {
		return 0, fmt.Errorf("money: currency mismatch: %s vs %s", m.Currency, other.Currency)
	}
	switch {
	case m.AmountMinor < other.AmountMinor:
		return -1, nil
	case m.AmountMinor > other.AmountMinor:
		return 1, nil
	default:
		return 0, nil
	}
}

// Equal checks equality.
func (m Money) Equal(other Money) bool {
	return m.AmountMinor == other.AmountMinor && m.Currency == other.Currency
}

// GreaterThan checks if m > other.
func (m Money) GreaterThan(other Money) bool {
	cmp, err := m.Compare(other)
	return err == nil && cmp > 0
}

// LessThan checks if m < other.
func (m Money) LessThan(other Money) bool {
	cmp, err := m.Compare(other)
	return err == nil && cmp < 0
}

// String returns a human-readable representation.
func (m Money) String() string {
	info, ok := currencies[m.Currency]
	if !ok {
		return fmt.Sprintf("%d %s (minor)", m.AmountMinor, m.Currency)
	}
	return info.Symbol + m.MajorString()
}

// Sum adds up multiple money values.
func Sum(amounts ...Money) (Money, error) {
	if len(amounts) == 0 {
		return Money{}, nil
	}
	result := amounts[0]
	for _, a := range amounts[1:] {
		var err error
		result, err = result.Add(a)
		if err != nil {
			return Money{}, err
		}
	}
	return result, nil
}

// MarshalJSON implements json.Marshaler.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		AmountMinor int64  `json:"amount_minor"`
		Currency    string `json:"currency"`
	}{
		AmountMinor: m.AmountMinor,
		Currency:    string(m.Currency),
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *Money) UnmarshalJSON(data []byte) error {
	var v struct {
		AmountMinor int64  `json:"amount_minor"`
		Currency    string `json:"currency"`
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	m.AmountMinor = v.AmountMinor
	m.Currency = Currency(v.Currency)
	return nil
}

// Scan implements sql.Scanner.
func (m *Money) Scan(src interface{}) error {
	if src == nil {
		*m = Money{}
		return nil
	}
	switch v := src.(type) {
	case int64:
		m.AmountMinor = v
		return nil
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	default:
		return errors.New("money: cannot scan into Money")
	}
}

// Value implements driver.Valuer.
func (m Money) Value() (driver.Value, error) {
	return json.Marshal(m)
}
