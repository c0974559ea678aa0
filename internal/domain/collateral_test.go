package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validCollateral() Collateral {
	return Collateral{
		ID:              1,
		DepositContract: "eosio.token",
		DepositDenom:    eos,
		ReceiptDenom:    Denomination{Code: "SEOS", Precision: 4},
		IncomeAccount:   "income",
		FeesAccount:     "fees",
		MinimumDeposit:  NewAmount(10_000, eos),
		IncomeRatio:     1000,
		ReleaseFeeBP:    100,
		RefundRatioBP:   5000,
	}
}

func TestCollateral_Validate(t *testing.T) {
	require.NoError(t, validCollateral().Validate())

	tests := []struct {
		name   string
		mutate func(c *Collateral)
	}{
		{"ratio above scale", func(c *Collateral) { c.ReleaseFeeBP = 10_001 }},
		{"wrong receipt code", func(c *Collateral) { c.ReceiptDenom.Code = "XEOS" }},
		{"wrong receipt precision", func(c *Collateral) { c.ReceiptDenom.Precision = 2 }},
		{"minimum deposit denomination", func(c *Collateral) { c.MinimumDeposit = NewAmount(1, Denomination{Code: "ABC", Precision: 4}) }},
		{"missing contract", func(c *Collateral) { c.DepositContract = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validCollateral()
			tt.mutate(&c)
			assert.ErrorIs(t, c.Validate(), ErrValidation)
		})
	}
}

func TestPendingRedemption_State(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	r := PendingRedemption{MaturityTime: now.Add(time.Hour)}

	assert.Equal(t, RedemptionStatePending, r.State(now))
	assert.Equal(t, RedemptionStateMature, r.State(now.Add(time.Hour)))
}

func TestVaultStatus_NextRedemptionID(t *testing.T) {
	s := DefaultVaultStatus()
	assert.True(t, s.DepositEnabled && s.WithdrawEnabled && s.TransferEnabled)
	assert.Equal(t, uint64(1), s.NextRedemptionID())
	assert.Equal(t, uint64(2), s.NextRedemptionID())
}
