package domain

import "time"

// Collateral links an accepted deposit currency to the receipt currency minted against it.
type Collateral struct {
	ID              uint64       `json:"id"`
	DepositContract AccountID    `json:"deposit_contract"`
	DepositDenom    Denomination `json:"deposit_denom"`
	ReceiptDenom    Denomination `json:"receipt_denom"`
	IncomeAccount   AccountID    `json:"income_account"`
	FeesAccount     AccountID    `json:"fees_account"`
	MinimumDeposit  Amount       `json:"minimum_deposit"`
	IncomeRatio     uint16       `json:"income_ratio"`
	ReleaseFeeBP    uint16       `json:"release_fee_bp"`
	RefundRatioBP   uint16       `json:"refund_ratio_bp"`
	LastIncome      Amount       `json:"last_income"`
	TotalIncome     Amount       `json:"total_income"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// DepositCurrency returns the ledger currency accepted as deposit.
func (c Collateral) DepositCurrency() Currency {
	return Currency{Contract: c.DepositContract, Denom: c.DepositDenom}
}

// Validate checks the denomination pairing and ratio bounds.
func (c Collateral) Validate() error {
	if c.DepositContract == "" {
		return Validationf("collateral %d has no deposit contract", c.ID)
	}
	if err := c.DepositDenom.Validate(); err != nil {
		return err
	}

	receipt, err := c.DepositDenom.Receipt()
	if err != nil {
		return err
	}
	if c.ReceiptDenom != receipt {
		return Validationf("receipt denomination %s must be %s", c.ReceiptDenom, receipt)
	}
	if c.MinimumDeposit.Denom != c.DepositDenom {
		return Validationf("minimum deposit %s does not match deposit denomination %s", c.MinimumDeposit, c.DepositDenom)
	}
	if c.MinimumDeposit.Quantity < 0 {
		return Validationf("minimum deposit %s must not be negative", c.MinimumDeposit)
	}

	return ValidateRatios(c.IncomeRatio, c.ReleaseFeeBP, c.RefundRatioBP)
}

// ValidateRatios checks that every ratio lies in [0, BasisPoints].
func ValidateRatios(incomeRatio, releaseFeeBP, refundRatioBP uint16) error {
	ratios := []struct {
		name  string
		value uint16
	}{
		{"income_ratio", incomeRatio},
		{"release_fee_bp", releaseFeeBP},
		{"refund_ratio_bp", refundRatioBP},
	}
	for _, r := range ratios {
		if uint64(r.value) > BasisPoints {
			return Validationf("%s %d exceeds %d", r.name, r.value, BasisPoints)
		}
	}

	return nil
}
