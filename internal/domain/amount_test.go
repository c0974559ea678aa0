package domain

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var eos = Denomination{Code: "EOS", Precision: 4}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected Amount
		wantErr  bool
	}{
		{name: "four decimals", input: "100.0000 EOS", expected: Amount{Quantity: 1_000_000, Denom: eos}},
		{name: "integer", input: "5 ABC", expected: Amount{Quantity: 5, Denom: Denomination{Code: "ABC"}}},
		{name: "negative", input: "-0.5000 EOS", expected: Amount{Quantity: -5000, Denom: eos}},
		{name: "missing code", input: "1.0000", wantErr: true},
		{name: "lower case code", input: "1.0000 eos", wantErr: true},
		{name: "garbage quantity", input: "1.x EOS", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAmount(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestAmountFromDecimal_RejectsExtraPrecision(t *testing.T) {
	_, err := AmountFromDecimal(decimal.RequireFromString("1.00001"), eos)
	require.ErrorIs(t, err, ErrValidation)

	a, err := AmountFromDecimal(decimal.RequireFromString("1.5"), eos)
	require.NoError(t, err)
	assert.Equal(t, int64(15000), a.Quantity)
}

func TestAmount_String(t *testing.T) {
	assert.Equal(t, "100.0000 EOS", NewAmount(1_000_000, eos).String())
	assert.Equal(t, "0.0001 EOS", NewAmount(1, eos).String())
	assert.Equal(t, "7 XYZ", NewAmount(7, Denomination{Code: "XYZ"}).String())
}

func TestAmount_Arithmetic(t *testing.T) {
	a := NewAmount(100, eos)
	b := NewAmount(30, eos)

	sum, err := a.Add(b)
	require.NoError(t, err)
	assert.Equal(t, int64(130), sum.Quantity)

	diff, err := a.Sub(b)
	require.NoError(t, err)
	assert.Equal(t, int64(70), diff.Quantity)

	neg, err := a.Neg()
	require.NoError(t, err)
	assert.Equal(t, int64(-100), neg.Quantity)

	cmp, err := b.Cmp(a)
	require.NoError(t, err)
	assert.Equal(t, -1, cmp)
}

func TestAmount_DenominationMismatch(t *testing.T) {
	a := NewAmount(100, eos)
	other := NewAmount(100, Denomination{Code: "SEOS", Precision: 4})

	_, err := a.Add(other)
	assert.ErrorIs(t, err, ErrValidation)
	_, err = a.Sub(other)
	assert.ErrorIs(t, err, ErrValidation)
	_, err = a.Cmp(other)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestAmount_OverflowFails(t *testing.T) {
	hi := NewAmount(math.MaxInt64, eos)
	lo := NewAmount(math.MinInt64, eos)
	one := NewAmount(1, eos)

	_, err := hi.Add(one)
	assert.ErrorIs(t, err, ErrValidation)
	_, err = lo.Sub(one)
	assert.ErrorIs(t, err, ErrValidation)
	_, err = lo.Neg()
	assert.ErrorIs(t, err, ErrValidation)
}

func TestAmount_MulDiv(t *testing.T) {
	a := NewAmount(1_000_000, eos)

	got, err := a.MulDiv(RateBase, 120_000_000)
	require.NoError(t, err)
	assert.Equal(t, int64(833_333), got.Quantity)

	// intermediate product exceeds 64 bits
	big := NewAmount(math.MaxInt64/2, eos)
	got, err = big.MulDiv(RateBase, RateBase)
	require.NoError(t, err)
	assert.Equal(t, big.Quantity, got.Quantity)

	_, err = big.MulDiv(4, 1)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = a.MulDiv(1, 0)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = NewAmount(-1, eos).MulDiv(1, 1)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestMulDivU64(t *testing.T) {
	got, err := MulDivU64(math.MaxUint64, 3, 3)
	require.NoError(t, err)
	assert.Equal(t, uint64(math.MaxUint64), got)

	_, err = MulDivU64(math.MaxUint64, 2, 1)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestAmount_JSON(t *testing.T) {
	a := NewAmount(12345, eos)

	data, err := json.Marshal(a)
	require.NoError(t, err)
	assert.JSONEq(t, `"1.2345 EOS"`, string(data))

	var decoded Amount
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, a, decoded)
}
