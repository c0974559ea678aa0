// Package domain defines core data structures used throughout the vault.
package domain

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	maxCodeLength = 7
	maxPrecision  = 18
	maxQuantity   = int64(^uint64(0) >> 1)

	receiptPrefix = "S"
)

// AccountID identifies an account on the host ledger.
type AccountID string

// String returns the string representation.
func (a AccountID) String() string {
	return string(a)
}

// Denomination is a currency symbol together with its decimal precision.
type Denomination struct {
	Code      string `json:"code"`
	Precision uint8  `json:"precision"`
}

// NewDenomination creates a validated Denomination.
func NewDenomination(code string, precision uint8) (Denomination, error) {
	d := Denomination{Code: code, Precision: precision}
	if err := d.Validate(); err != nil {
		return Denomination{}, err
	}

	return d, nil
}

// ParseDenomination parses the "4,EOS" text form.
func ParseDenomination(s string) (Denomination, error) {
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 2 {
		return Denomination{}, Validationf("invalid denomination %q, expected <precision>,<code>", s)
	}

	precision, err := strconv.ParseUint(strings.TrimSpace(parts[0]), 10, 8)
	if err != nil {
		return Denomination{}, Validationf("invalid denomination precision %q", parts[0])
	}

	return NewDenomination(strings.TrimSpace(parts[1]), uint8(precision))
}

// Validate checks code charset/length and precision bounds.
func (d Denomination) Validate() error {
	if d.Code == "" || len(d.Code) > maxCodeLength {
		return Validationf("denomination code %q must be 1..%d characters", d.Code, maxCodeLength)
	}
	for _, r := range d.Code {
		if r < 'A' || r > 'Z' {
			return Validationf("denomination code %q must contain only A-Z", d.Code)
		}
	}
	if d.Precision > maxPrecision {
		return Validationf("denomination precision %d exceeds %d", d.Precision, maxPrecision)
	}

	return nil
}

// IsZero reports whether the denomination is unset.
func (d Denomination) IsZero() bool {
	return d.Code == "" && d.Precision == 0
}

// Receipt returns the receipt denomination minted against this one.
func (d Denomination) Receipt() (Denomination, error) {
	return NewDenomination(receiptPrefix+d.Code, d.Precision)
}

// String returns the "4,EOS" text form.
func (d Denomination) String() string {
	return fmt.Sprintf("%d,%s", d.Precision, d.Code)
}

// Currency identifies a token on the ledger by its contract and denomination.
type Currency struct {
	Contract AccountID    `json:"contract"`
	Denom    Denomination `json:"denom"`
}

// String returns the "contract:4,EOS" representation used for index keys and logs.
func (c Currency) String() string {
	return fmt.Sprintf("%s:%s", c.Contract, c.Denom.String())
}
