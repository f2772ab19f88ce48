// Package amount implements the unsigned fixed-point token arithmetic used
// across the ledger and the exchange. Every quantity in the system is an
// integer scaled by 10^18 (18 decimal places). All arithmetic is checked:
// wrapping on add/sub/mul is reported as ErrOverflow, never silently applied.
package amount

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

// Decimals is the fixed decimal scale for every asset in the system.
const Decimals = 18

// ErrOverflow is returned when a checked operation would wrap.
var ErrOverflow = errors.New("arithmetic overflow")

var (
	scale   = uint256.NewInt(1_000_000_000_000_000_000) // 10^18
	hundred = uint256.NewInt(100)
)

// Amount is an unsigned 256-bit integer scaled by 10^18.
// It is a comparable value type and safe to use as a map value.
type Amount struct {
	v uint256.Int
}

// Zero returns the zero amount.
func Zero() Amount {
	return Amount{}
}

// FromUint64 returns an amount holding the raw (already scaled) value n.
func FromUint64(n uint64) Amount {
	var a Amount
	a.v.SetUint64(n)
	return a
}

// Tokens returns n whole tokens, i.e. n * 10^18.
func Tokens(n uint64) Amount {
	var a Amount
	a.v.SetUint64(n)
	a.v.Mul(&a.v, scale) // cannot wrap: uint64 * 10^18 < 2^256
	return a
}

// Parse parses a raw decimal string (already scaled by 10^18).
func Parse(s string) (Amount, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return Amount{}, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return Amount{v: *v}, nil
}

// MustParse parses a raw decimal string and panics on malformed input.
// For constants in tests and genesis config only.
func MustParse(s string) Amount {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

// Add returns a+b, or ErrOverflow if the sum wraps.
func (a Amount) Add(b Amount) (Amount, error) {
	var sum Amount
	if _, carry := sum.v.AddOverflow(&a.v, &b.v); carry {
		return Amount{}, fmt.Errorf("%s + %s: %w", a, b, ErrOverflow)
	}
	return sum, nil
}

// Sub returns a-b, or ErrOverflow if b > a (unsigned underflow).
func (a Amount) Sub(b Amount) (Amount, error) {
	var diff Amount
	if _, borrow := diff.v.SubOverflow(&a.v, &b.v); borrow {
		return Amount{}, fmt.Errorf("%s - %s: %w", a, b, ErrOverflow)
	}
	return diff, nil
}

// FeePortion returns a*percent/100 with truncating integer division.
func (a Amount) FeePortion(percent uint64) (Amount, error) {
	var fee Amount
	pct := uint256.NewInt(percent)
	if _, overflow := fee.v.MulOverflow(&a.v, pct); overflow {
		return Amount{}, fmt.Errorf("%s * %d%%: %w", a, percent, ErrOverflow)
	}
	fee.v.Div(&fee.v, hundred)
	return fee, nil
}

// Cmp returns -1, 0 or +1 comparing a against b.
func (a Amount) Cmp(b Amount) int {
	return a.v.Cmp(&b.v)
}

// Lt reports whether a < b.
func (a Amount) Lt(b Amount) bool {
	return a.v.Lt(&b.v)
}

// IsZero reports whether a == 0.
func (a Amount) IsZero() bool {
	return a.v.IsZero()
}

// Uint64 returns the low 64 bits of the raw scaled value. Callers use it
// only for values known to fit.
func (a Amount) Uint64() uint64 {
	return a.v.Uint64()
}

// String renders the raw scaled value in decimal.
func (a Amount) String() string {
	return a.v.Dec()
}

// MarshalJSON encodes the amount as a decimal string to avoid precision
// loss in JSON consumers.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.v.Dec() + `"`), nil
}

// UnmarshalJSON accepts a quoted decimal string.
func (a *Amount) UnmarshalJSON(data []byte) error {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return fmt.Errorf("amount must be a decimal string, got %s", data)
	}
	parsed, err := Parse(string(data[1 : len(data)-1]))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
