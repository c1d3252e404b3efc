package corebank

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Currency is an ISO-4217 code (e.g. "USD", "EGP").
type Currency string

// currencyExponents holds the minor-unit exponent per currency; currencies
// not listed default to 2 (the common case). Extend as new currencies are
// onboarded — this is a compile-time registration table, not reflection.
var currencyExponents = map[Currency]int32{
	"JPY": 0,
	"KWD": 3,
	"BHD": 3,
}

// Exponent returns the number of fractional minor-unit digits for c.
func (c Currency) Exponent() int32 {
	if e, ok := currencyExponents[c]; ok {
		return e
	}
	return 2
}

// MoneyValue is a currency-tagged fixed-point amount, stored as an integer
// count of minor units (cents, piasters, fils, ...). Arithmetic between
// different currencies is refused; multiplication/division take
// dimensionless decimal.Decimal rationals and round half-to-even to the
// currency's exponent on the way back out.
type MoneyValue struct {
	Minor    int64
	Currency Currency
}

// NewMoney constructs a MoneyValue from an integer count of minor units.
func NewMoney(minor int64, currency Currency) MoneyValue {
	return MoneyValue{Minor: minor, Currency: currency}
}

// NewMoneyFromDecimal quantizes a decimal major-unit amount to the
// currency's minor-unit exponent, rounding half-to-even.
func NewMoneyFromDecimal(amount decimal.Decimal, currency Currency) MoneyValue {
	scaled := amount.Shift(currency.Exponent())
	return MoneyValue{Minor: scaled.RoundBank(0).IntPart(), Currency: currency}
}

// Decimal returns the amount as a major-unit decimal, e.g. 1050 minor units
// of USD (exponent 2) becomes 10.50.
func (m MoneyValue) Decimal() decimal.Decimal {
	return decimal.New(m.Minor, 0).Shift(-m.Currency.Exponent())
}

func (m MoneyValue) String() string {
	return fmt.Sprintf("%s %s", m.Decimal().StringFixed(m.Currency.Exponent()), m.Currency)
}

func (m MoneyValue) sameCurrency(op string, other MoneyValue) error {
	if m.Currency != other.Currency {
		return validationErr(op, fmt.Sprintf("currency mismatch: %s vs %s", m.Currency, other.Currency), nil)
	}
	return nil
}

// Add returns m+other. Both operands must share a currency.
func (m MoneyValue) Add(other MoneyValue) (MoneyValue, error) {
	if err := m.sameCurrency("MoneyValue.Add", other); err != nil {
		return MoneyValue{}, err
	}
	return MoneyValue{Minor: m.Minor + other.Minor, Currency: m.Currency}, nil
}

// Sub returns m-other. Both operands must share a currency.
func (m MoneyValue) Sub(other MoneyValue) (MoneyValue, error) {
	if err := m.sameCurrency("MoneyValue.Sub", other); err != nil {
		return MoneyValue{}, err
	}
	return MoneyValue{Minor: m.Minor - other.Minor, Currency: m.Currency}, nil
}

// Negate returns -m.
func (m MoneyValue) Negate() MoneyValue {
	return MoneyValue{Minor: -m.Minor, Currency: m.Currency}
}

// MulRat multiplies m by a dimensionless rational, rounding half-to-even to
// the currency's exponent.
func (m MoneyValue) MulRat(rat decimal.Decimal) MoneyValue {
	product := m.Decimal().Mul(rat)
	return NewMoneyFromDecimal(product, m.Currency)
}

// DivRat divides m by a dimensionless rational, rounding half-to-even to the
// currency's exponent.
func (m MoneyValue) DivRat(rat decimal.Decimal) (MoneyValue, error) {
	if rat.IsZero() {
		return MoneyValue{}, validationErr("MoneyValue.DivRat", "division by zero", nil)
	}
	quotient := m.Decimal().Div(rat)
	return NewMoneyFromDecimal(quotient, m.Currency), nil
}

// Compare returns -1, 0, or 1 for m<other, m==other, m>other. Requires the
// same currency.
func (m MoneyValue) Compare(other MoneyValue) (int, error) {
	if err := m.sameCurrency("MoneyValue.Compare", other); err != nil {
		return 0, err
	}
	switch {
	case m.Minor < other.Minor:
		return -1, nil
	case m.Minor > other.Minor:
		return 1, nil
	default:
		return 0, nil
	}
}

// IsZero reports whether the amount is exactly zero (currency irrelevant).
func (m MoneyValue) IsZero() bool { return m.Minor == 0 }

// Equal requires the same currency and the same exact minor-unit amount.
func (m MoneyValue) Equal(other MoneyValue) bool {
	return m.Currency == other.Currency && m.Minor == other.Minor
}

// Min returns whichever of m, other compares lower. Requires the same
// currency.
func Min(m, other MoneyValue) (MoneyValue, error) {
	c, err := m.Compare(other)
	if err != nil {
		return MoneyValue{}, err
	}
	if c <= 0 {
		return m, nil
	}
	return other, nil
}

// Max returns whichever of m, other compares higher. Requires the same
// currency.
func Max(m, other MoneyValue) (MoneyValue, error) {
	c, err := m.Compare(other)
	if err != nil {
		return MoneyValue{}, err
	}
	if c >= 0 {
		return m, nil
	}
	return other, nil
}
