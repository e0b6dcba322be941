// Package core provides money parsing and handling utilities.
//
// This file contains the fixed-point Money type. Amounts are stored as integer
// minor units (paise, cents) tagged with an ISO 4217 currency; no float ever
// takes part in arithmetic.
package core

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// DefaultCurrency is used when a caller does not name one.
var DefaultCurrency = currency.INR

type Money struct {
	Minor    int64
	Currency currency.Unit
}

// NewMoney builds a Money from an integer amount of minor units.
func NewMoney(minor int64, cur currency.Unit) Money {
	return Money{Minor: minor, Currency: cur}
}

// ParseCurrency validates an ISO 4217 code such as "INR" or "eur".
func ParseCurrency(code string) (currency.Unit, error) {
	u, err := currency.ParseISO(strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return currency.Unit{}, fmt.Errorf("%w: %q", ErrInvalidCurrency, code)
	}
	return u, nil
}

// Scale returns the number of fractional digits of the currency's minor unit.
func Scale(cur currency.Unit) int {
	scale, _ := currency.Standard.Rounding(cur)
	return scale
}

// ParseMoney converts a decimal string to Money in the given currency.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators and an
// optional leading sign. Input with more fractional digits than the currency's
// minor unit is rejected rather than rounded, so every accepted string is
// represented exactly.
//
// Examples:
//
//	ParseMoney("12.34", currency.INR) -> INR 12.34
//	ParseMoney("-5", currency.INR)    -> INR -5.00
//	ParseMoney("1.005", currency.INR) -> ErrInvalidAmount
func ParseMoney(s string, cur currency.Unit) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Money{}, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", ".")

	neg := false
	switch s[0] {
	case '-':
		neg = true
		s = s[1:]
	case '+':
		s = s[1:]
	}

	intPart, fracPart, hasFrac := strings.Cut(s, ".")
	if intPart == "" && fracPart == "" {
		return Money{}, ErrInvalidAmount
	}
	if hasFrac && fracPart == "" {
		return Money{}, ErrInvalidAmount
	}
	if intPart == "" {
		intPart = "0"
	}
	if !isDigits(intPart) || !isDigits(fracPart) {
		return Money{}, ErrInvalidAmount
	}

	scale := Scale(cur)
	if len(fracPart) > scale {
		return Money{}, fmt.Errorf("%w: more than %d decimal places", ErrInvalidAmount, scale)
	}
	fracPart += strings.Repeat("0", scale-len(fracPart))

	minor, err := strconv.ParseInt(intPart+fracPart, 10, 64)
	if err != nil {
		return Money{}, ErrInvalidAmount
	}
	if neg {
		minor = -minor
	}
	return Money{Minor: minor, Currency: cur}, nil
}

// ParseAmount is ParseMoney restricted to strictly positive amounts, the
// form every expense and settlement amount must take.
func ParseAmount(s string, cur currency.Unit) (Money, error) {
	m, err := ParseMoney(s, cur)
	if err != nil {
		return Money{}, err
	}
	if err := m.Validate(); err != nil {
		return Money{}, err
	}
	return m, nil
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// Validate requires a strictly positive amount.
func (m Money) Validate() error {
	if m.Minor <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

func (m Money) Add(o Money) Money {
	return Money{Minor: m.Minor + o.Minor, Currency: m.pick(o)}
}

// CheckedAdd is Add that fails with ErrInvalidAmount when the sum does not
// fit in int64 minor units.
func (m Money) CheckedAdd(o Money) (Money, error) {
	sum := m.Minor + o.Minor
	if (o.Minor > 0 && sum < m.Minor) || (o.Minor < 0 && sum > m.Minor) {
		return Money{}, fmt.Errorf("%w: %s + %s overflows", ErrInvalidAmount, m.Decimal(), o.Decimal())
	}
	return Money{Minor: sum, Currency: m.pick(o)}, nil
}

func (m Money) Sub(o Money) Money {
	return Money{Minor: m.Minor - o.Minor, Currency: m.pick(o)}
}

func (m Money) Neg() Money {
	return Money{Minor: -m.Minor, Currency: m.Currency}
}

func (m Money) Abs() Money {
	if m.Minor < 0 {
		return m.Neg()
	}
	return m
}

// Scale multiplies m by num/den, returning the floored quotient and the
// remainder in units of 1/den minor units. It is the primitive behind the
// largest-remainder split; callers that need sum preservation must distribute
// the remainders themselves.
func (m Money) Scale(num, den int64) (Money, int64) {
	if den <= 0 {
		panic("core: Money.Scale with non-positive denominator")
	}
	p := new(big.Int).Mul(big.NewInt(m.Minor), big.NewInt(num))
	q, r := new(big.Int).DivMod(p, big.NewInt(den), new(big.Int))
	return Money{Minor: q.Int64(), Currency: m.Currency}, r.Int64()
}

// Cmp compares amounts: -1 if m < o, 0 if equal, +1 if m > o.
func (m Money) Cmp(o Money) int {
	switch {
	case m.Minor < o.Minor:
		return -1
	case m.Minor > o.Minor:
		return 1
	default:
		return 0
	}
}

func (m Money) IsZero() bool     { return m.Minor == 0 }
func (m Money) IsPositive() bool { return m.Minor > 0 }
func (m Money) IsNegative() bool { return m.Minor < 0 }

// SameCurrency reports whether both amounts carry the same currency tag.
func (m Money) SameCurrency(o Money) bool {
	return m.Currency == o.Currency
}

// pick keeps the currency of whichever operand has one, so a zero Money can
// seed a sum.
func (m Money) pick(o Money) currency.Unit {
	if m.Currency == (currency.Unit{}) {
		return o.Currency
	}
	return m.Currency
}

// Decimal renders the amount without currency, e.g. "-12.50".
func (m Money) Decimal() string {
	scale := Scale(m.Currency)
	mag := uint64(m.Minor)
	sign := ""
	if m.Minor < 0 {
		sign = "-"
		mag = -mag
	}
	if scale == 0 {
		return sign + strconv.FormatUint(mag, 10)
	}
	div := uint64(1)
	for i := 0; i < scale; i++ {
		div *= 10
	}
	return fmt.Sprintf("%s%d.%0*d", sign, mag/div, scale, mag%div)
}

// String renders the amount with its ISO code, e.g. "INR 100.00".
func (m Money) String() string {
	return m.Currency.String() + " " + m.Decimal()
}

// Major returns the amount in major units for display purposes only.
// Use Minor for calculations.
func (m Money) Major() float64 {
	f, _ := strconv.ParseFloat(m.Decimal(), 64)
	return f
}

// Display formats the amount with the local currency symbol for the given
// language, e.g. "₹ 1,250.00".
func (m Money) Display(tag language.Tag) string {
	p := message.NewPrinter(tag)
	return p.Sprint(currency.Symbol(m.Currency.Amount(m.Major())))
}
