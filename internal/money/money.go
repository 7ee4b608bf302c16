// Package money implements exact fixed-point monetary amounts held in
// integer minor units. Arithmetic across currencies is rejected, never
// silently coerced.
package money

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrCurrencyMismatch = errors.New("currency_mismatch")
	ErrInvalidCurrency  = errors.New("invalid_currency")
	ErrInvalidAmount    = errors.New("invalid_amount")
)

// Currency is an ISO 4217 code from the configured currency list.
type Currency string

const (
	EUR Currency = "EUR"
	USD Currency = "USD"
	XOF Currency = "XOF"
	XAF Currency = "XAF"
)

// minorExponent maps each supported currency to its minor-unit exponent.
// The CFA francs have no minor unit.
var minorExponent = map[Currency]int32{
	EUR: 2,
	USD: 2,
	XOF: 0,
	XAF: 0,
}

// ParseCurrency normalizes and validates a currency code.
func ParseCurrency(raw string) (Currency, error) {
	code := Currency(strings.ToUpper(strings.TrimSpace(raw)))
	if _, ok := minorExponent[code]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidCurrency, raw)
	}
	return code, nil
}

// Exponent returns the currency's minor-unit exponent.
func (c Currency) Exponent() (int32, error) {
	exp, ok := minorExponent[c]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidCurrency, string(c))
	}
	return exp, nil
}

// Money is an exact amount in minor units of a single currency.
type Money struct {
	AmountMinor int64
	Currency    Currency
}

func New(amountMinor int64, currency Currency) (Money, error) {
	if _, ok := minorExponent[currency]; !ok {
		return Money{}, fmt.Errorf("%w: %q", ErrInvalidCurrency, string(currency))
	}
	return Money{AmountMinor: amountMinor, Currency: currency}, nil
}

// MustNew panics on an unknown currency. For constants and tests only.
func MustNew(amountMinor int64, currency Currency) Money {
	m, err := New(amountMinor, currency)
	if err != nil {
		panic(err)
	}
	return m
}

// FromMajorUnits converts a provider-native major-unit amount into minor
// units. The decimal string form keeps operators that bill in whole francs
// and processors that bill in cents on one code path.
func FromMajorUnits(amount string, currency Currency) (Money, error) {
	exp, err := currency.Exponent()
	if err != nil {
		return Money{}, err
	}
	value, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return Money{}, fmt.Errorf("%w: %q", ErrInvalidAmount, amount)
	}
	minor := value.Shift(exp)
	if !minor.IsInteger() {
		return Money{}, fmt.Errorf("%w: %q has sub-minor precision for %s", ErrInvalidAmount, amount, currency)
	}
	return Money{AmountMinor: minor.IntPart(), Currency: currency}, nil
}

func (m Money) IsZero() bool     { return m.AmountMinor == 0 }
func (m Money) IsNegative() bool { return m.AmountMinor < 0 }

func (m Money) sameCurrency(other Money) error {
	if m.Currency != other.Currency {
		return fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, m.Currency, other.Currency)
	}
	return nil
}

func (m Money) Add(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	return Money{AmountMinor: m.AmountMinor + other.AmountMinor, Currency: m.Currency}, nil
}

func (m Money) Sub(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	return Money{AmountMinor: m.AmountMinor - other.AmountMinor, Currency: m.Currency}, nil
}

// MulQuantity scales a unit price by a line quantity.
func (m Money) MulQuantity(quantity int64) Money {
	return Money{AmountMinor: m.AmountMinor * quantity, Currency: m.Currency}
}

// ApplyRate multiplies the amount by a decimal rate and rounds to the
// currency's minor unit using banker's rounding. Used for royalty rates so
// repeated half-cent cases do not drift in either party's favor.
func (m Money) ApplyRate(rate decimal.Decimal) Money {
	scaled := decimal.New(m.AmountMinor, 0).Mul(rate).RoundBank(0)
	return Money{AmountMinor: scaled.IntPart(), Currency: m.Currency}
}

// MajorUnits renders the amount in the provider-native major-unit form,
// the inverse of FromMajorUnits.
func (m Money) MajorUnits() (string, error) {
	exp, err := m.Currency.Exponent()
	if err != nil {
		return "", err
	}
	return decimal.New(m.AmountMinor, -exp).StringFixed(exp), nil
}

func (m Money) String() string {
	exp, err := m.Currency.Exponent()
	if err != nil {
		return fmt.Sprintf("%d %s", m.AmountMinor, m.Currency)
	}
	return decimal.New(m.AmountMinor, -exp).StringFixed(exp) + " " + string(m.Currency)
}
