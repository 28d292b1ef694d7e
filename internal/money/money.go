// Package money represents INR amounts in integer paise.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Paise is an amount in minor units. It is stored as a number and rendered
// in JSON as rupees with two decimals.
type Paise int64

var hundred = decimal.NewFromInt(100)

// FromRupees converts a rupee amount, rounding half away from zero to the nearest paisa.
func FromRupees(r decimal.Decimal) Paise {
	return Paise(r.Mul(hundred).Round(0).IntPart())
}

// Rupees returns the amount as a decimal rupee value.
func (p Paise) Rupees() decimal.Decimal {
	return decimal.NewFromInt(int64(p)).Div(hundred)
}

// Mul multiplies by an integer quantity.
func (p Paise) Mul(qty int) Paise { return p * Paise(qty) }

func (p Paise) String() string { return p.Rupees().StringFixed(2) }

func (p Paise) MarshalJSON() ([]byte, error) {
	return []byte(p.Rupees().StringFixed(2)), nil
}

func (p *Paise) UnmarshalJSON(b []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(b); err != nil {
		return fmt.Errorf("amount: %w", err)
	}
	*p = FromRupees(d)
	return nil
}

// Split divides p into n shares that sum to p exactly. Leftover paise go to the
// earliest shares.
func (p Paise) Split(n int) []Paise {
	if n <= 0 {
		return nil
	}
	base := p / Paise(n)
	rem := int(p % Paise(n))
	out := make([]Paise, n)
	for i := range out {
		out[i] = base
		if i < rem {
			out[i]++
		}
	}
	return out
}

// Abs returns the absolute value.
func (p Paise) Abs() Paise {
	if p < 0 {
		return -p
	}
	return p
}
