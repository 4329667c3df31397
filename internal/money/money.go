// Package money provides the fixed-point decimal type used for every
// monetary value in the system.
//
// Design rules:
//   - No binary floating point on money, ever.
//   - All arithmetic rounds to 2 decimal places (paise).
//   - The zero value is a valid zero amount.
package money

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Places is the number of decimal places money is rounded to (paise).
const Places = 2

// Decimal wraps shopspring/decimal.Decimal so every monetary field in the
// system shares one type, one rounding rule, and one JSON/KV encoding.
type Decimal struct {
	d decimal.Decimal
}

// Zero is the additive identity.
var Zero = Decimal{}

// New builds a Decimal from an integer rupee amount.
func New(rupees int64) Decimal {
	return Decimal{d: decimal.NewFromInt(rupees)}
}

// NewFromFloat builds a Decimal from a float64, rounding to Places.
// Use only at system boundaries (config parsing, broker JSON) — never
// for intermediate arithmetic.
func NewFromFloat(f float64) Decimal {
	return Decimal{d: decimal.NewFromFloat(f).Round(Places)}
}

// Parse parses a decimal string such as "1234.56".
func Parse(s string) (Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Zero, fmt.Errorf("money: parse %q: %w", s, err)
	}
	return Decimal{d: d.Round(Places)}, nil
}

func (m Decimal) Add(o Decimal) Decimal { return Decimal{d: m.d.Add(o.d).Round(Places)} }
func (m Decimal) Sub(o Decimal) Decimal { return Decimal{d: m.d.Sub(o.d).Round(Places)} }
func (m Decimal) Mul(o Decimal) Decimal { return Decimal{d: m.d.Mul(o.d).Round(Places)} }

// MulFloat multiplies by a plain float64 scale factor (e.g. an allocation
// percentage or slippage buffer) and rounds the result.
func (m Decimal) MulFloat(f float64) Decimal {
	return Decimal{d: m.d.Mul(decimal.NewFromFloat(f)).Round(Places)}
}

// Div divides by another Decimal, rounding the result. Division by zero
// returns Zero rather than panicking — callers in the hot path (sizer,
// PnL %) must not be able to crash the risk loop on a zero denominator.
func (m Decimal) Div(o Decimal) Decimal {
	if o.IsZero() {
		return Zero
	}
	return Decimal{d: m.d.Div(o.d).Round(Places)}
}

func (m Decimal) Neg() Decimal { return Decimal{d: m.d.Neg()} }

func (m Decimal) IsZero() bool          { return m.d.IsZero() }
func (m Decimal) IsNegative() bool      { return m.d.IsNegative() }
func (m Decimal) IsPositive() bool      { return m.d.IsPositive() }
func (m Decimal) GreaterThan(o Decimal) bool      { return m.d.GreaterThan(o.d) }
func (m Decimal) GreaterOrEqual(o Decimal) bool    { return m.d.GreaterThanOrEqual(o.d) }
func (m Decimal) LessThan(o Decimal) bool          { return m.d.LessThan(o.d) }
func (m Decimal) LessOrEqual(o Decimal) bool       { return m.d.LessThanOrEqual(o.d) }
func (m Decimal) Equal(o Decimal) bool             { return m.d.Equal(o.d) }

// Float64 returns the underlying value as a float64. Use only for display,
// metrics export, or interop with broker APIs that require it — never feed
// it back into money arithmetic.
func (m Decimal) Float64() float64 {
	f, _ := m.d.Float64()
	return f
}

func (m Decimal) String() string { return m.d.StringFixed(Places) }

func (m Decimal) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.d.StringFixed(Places))
}

func (m *Decimal) UnmarshalJSON(b []byte) error {
	// Accept either a JSON string ("123.45") or a bare JSON number (123.45),
	// since broker/KV payloads are inconsistent about quoting money fields.
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return fmt.Errorf("money: unmarshal %q: %w", s, err)
		}
		m.d = d.Round(Places)
		return nil
	}

	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return fmt.Errorf("money: unmarshal %s: %w", string(b), err)
	}
	m.d = decimal.NewFromFloat(f).Round(Places)
	return nil
}

// Min returns the smaller of two Decimals.
func Min(a, b Decimal) Decimal {
	if a.LessOrEqual(b) {
		return a
	}
	return b
}

// Max returns the larger of two Decimals.
func Max(a, b Decimal) Decimal {
	if a.GreaterOrEqual(b) {
		return a
	}
	return b
}

// Sum adds a slice of Decimals.
func Sum(ds []Decimal) Decimal {
	total := Zero
	for _, d := range ds {
		total = total.Add(d)
	}
	return total
}
