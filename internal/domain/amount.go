package domain

import (
	"encoding/json"
	"math"
	"strings"

	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

const (
	// RateBase is the fixed-point scale of exchange rates (1.0 == RateBase).
	RateBase uint64 = 100_000_000
	// BasisPoints is the scale of every ratio/fee field.
	BasisPoints uint64 = 10_000
)

// Amount is an exact integer quantity of minor units tagged with its denomination.
type Amount struct {
	Quantity int64        `json:"quantity"`
	Denom    Denomination `json:"denom"`
}

// NewAmount creates an Amount in minor units.
func NewAmount(quantity int64, denom Denomination) Amount {
	return Amount{Quantity: quantity, Denom: denom}
}

// ZeroAmount returns a zero Amount of the given denomination.
func ZeroAmount(denom Denomination) Amount {
	return Amount{Denom: denom}
}

// ParseAmount parses the "100.0000 EOS" text form. Precision is taken from the fractional digits.
func ParseAmount(s string) (Amount, error) {
	fields := strings.Fields(s)
	if len(fields) != 2 {
		return Amount{}, Validationf("invalid amount %q, expected <quantity> <code>", s)
	}

	precision := 0
	if dot := strings.IndexByte(fields[0], '.'); dot >= 0 {
		precision = len(fields[0]) - dot - 1
	}
	if precision > maxPrecision {
		return Amount{}, Validationf("amount %q has too many fractional digits", s)
	}

	denom, err := NewDenomination(fields[1], uint8(precision))
	if err != nil {
		return Amount{}, err
	}

	d, err := decimal.NewFromString(fields[0])
	if err != nil {
		return Amount{}, Validationf("invalid amount quantity %q", fields[0])
	}

	return AmountFromDecimal(d, denom)
}

// AmountFromDecimal converts a decimal value into minor units of denom.
func AmountFromDecimal(d decimal.Decimal, denom Denomination) (Amount, error) {
	shifted := d.Shift(int32(denom.Precision))
	if !shifted.IsInteger() {
		return Amount{}, Validationf("%s has more than %d fractional digits", d.String(), denom.Precision)
	}
	if shifted.GreaterThan(decimal.NewFromInt(math.MaxInt64)) || shifted.LessThan(decimal.NewFromInt(math.MinInt64)) {
		return Amount{}, Validationf("%s overflows %s", d.String(), denom.Code)
	}

	return Amount{Quantity: shifted.IntPart(), Denom: denom}, nil
}

// MustAmount parses s and panics on error. Intended for constants and tests.
func MustAmount(s string) Amount {
	a, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return a
}

// Decimal returns the amount in major units.
func (a Amount) Decimal() decimal.Decimal {
	return decimal.New(a.Quantity, -int32(a.Denom.Precision))
}

// String returns the "100.0000 EOS" text form.
func (a Amount) String() string {
	return a.Decimal().StringFixed(int32(a.Denom.Precision)) + " " + a.Denom.Code
}

// IsPositive reports whether the quantity is > 0.
func (a Amount) IsPositive() bool {
	return a.Quantity > 0
}

// IsZero reports whether the quantity is 0.
func (a Amount) IsZero() bool {
	return a.Quantity == 0
}

// SameDenom reports whether both amounts share a denomination.
func (a Amount) SameDenom(b Amount) bool {
	return a.Denom == b.Denom
}

// Add returns a+b. Denominations must match; overflow fails.
func (a Amount) Add(b Amount) (Amount, error) {
	if err := a.checkDenom(b); err != nil {
		return Amount{}, err
	}
	sum := a.Quantity + b.Quantity
	if (b.Quantity > 0 && sum < a.Quantity) || (b.Quantity < 0 && sum > a.Quantity) {
		return Amount{}, Validationf("addition overflow: %s + %s", a, b)
	}

	return Amount{Quantity: sum, Denom: a.Denom}, nil
}

// Sub returns a-b. Denominations must match; overflow fails.
func (a Amount) Sub(b Amount) (Amount, error) {
	if err := a.checkDenom(b); err != nil {
		return Amount{}, err
	}
	diff := a.Quantity - b.Quantity
	if (b.Quantity > 0 && diff > a.Quantity) || (b.Quantity < 0 && diff < a.Quantity) {
		return Amount{}, Validationf("subtraction overflow: %s - %s", a, b)
	}

	return Amount{Quantity: diff, Denom: a.Denom}, nil
}

// Neg returns -a.
func (a Amount) Neg() (Amount, error) {
	if a.Quantity == math.MinInt64 {
		return Amount{}, Validationf("negation overflow: %s", a)
	}
	return Amount{Quantity: -a.Quantity, Denom: a.Denom}, nil
}

// Cmp compares two amounts of the same denomination.
func (a Amount) Cmp(b Amount) (int, error) {
	if err := a.checkDenom(b); err != nil {
		return 0, err
	}
	switch {
	case a.Quantity < b.Quantity:
		return -1, nil
	case a.Quantity > b.Quantity:
		return 1, nil
	default:
		return 0, nil
	}
}

// MulDiv returns a*num/den rounded down. The quantity must be non-negative.
func (a Amount) MulDiv(num, den uint64) (Amount, error) {
	if a.Quantity < 0 {
		return Amount{}, Validationf("cannot scale negative amount %s", a)
	}
	q, err := MulDivU64(uint64(a.Quantity), num, den)
	if err != nil {
		return Amount{}, err
	}
	if q > math.MaxInt64 {
		return Amount{}, Validationf("scaled amount overflows: %s * %d / %d", a, num, den)
	}

	return Amount{Quantity: int64(q), Denom: a.Denom}, nil
}

// WithDenom returns the same quantity re-tagged. Precisions must match.
func (a Amount) WithDenom(denom Denomination) (Amount, error) {
	if a.Denom.Precision != denom.Precision {
		return Amount{}, Validationf("precision mismatch: %s vs %s", a.Denom, denom)
	}
	return Amount{Quantity: a.Quantity, Denom: denom}, nil
}

func (a Amount) checkDenom(b Amount) error {
	if a.Denom != b.Denom {
		return Validationf("denomination mismatch: %s vs %s", a.Denom, b.Denom)
	}
	return nil
}

// MarshalJSON encodes the amount in its text form.
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON decodes the text form.
func (a *Amount) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return errors.Wrap(err, "decode amount")
	}
	parsed, err := ParseAmount(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// MulDivU64 computes x*y/d with a 256-bit intermediate product.
func MulDivU64(x, y, d uint64) (uint64, error) {
	if d == 0 {
		return 0, Validationf("division by zero: %d * %d / 0", x, y)
	}

	z, overflow := new(uint256.Int).MulDivOverflow(uint256.NewInt(x), uint256.NewInt(y), uint256.NewInt(d))
	if overflow || !z.IsUint64() {
		return 0, Validationf("mul-div overflow: %d * %d / %d", x, y, d)
	}

	return z.Uint64(), nil
}
