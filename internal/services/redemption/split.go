package redemption

import (
	"github.com/vadiminshakov/svault/internal/domain"
)

// Breakdown is the exact integer split of one settlement.
type Breakdown struct {
	SettleRate      uint64
	WithdrawAtLock  domain.Amount
	WithdrawAtNow   domain.Amount
	Fee             domain.Amount
	Net             domain.Amount
	FeeToIncome     domain.Amount
	FeeToTreasury   domain.Amount
	Bonus           domain.Amount
	BonusToIncome   domain.Amount
	BonusToTreasury domain.Amount
}

// Split computes the payout of quantity receipt units in the payout denomination.
// The settle rate never falls below locked; division remainders go to the treasury share.
func Split(quantity domain.Amount, payout domain.Denomination, locked, current uint64, feeBP, refundBP uint16) (Breakdown, error) {
	if quantity.Quantity < 0 {
		return Breakdown{}, domain.Validationf("negative redemption quantity %s", quantity)
	}
	if err := domain.ValidateRatios(0, feeBP, refundBP); err != nil {
		return Breakdown{}, err
	}
	if locked == 0 {
		return Breakdown{}, domain.Validationf("locked rate must be positive")
	}

	rate := max(locked, current)
	payoutQty := domain.NewAmount(quantity.Quantity, payout)

	atLock, err := payoutQty.MulDiv(locked, domain.RateBase)
	if err != nil {
		return Breakdown{}, err
	}
	atNow, err := payoutQty.MulDiv(rate, domain.RateBase)
	if err != nil {
		return Breakdown{}, err
	}

	fee, err := atLock.MulDiv(uint64(feeBP), domain.BasisPoints)
	if err != nil {
		return Breakdown{}, err
	}
	net, err := atLock.Sub(fee)
	if err != nil {
		return Breakdown{}, err
	}
	feeToIncome, err := fee.MulDiv(uint64(refundBP), domain.BasisPoints)
	if err != nil {
		return Breakdown{}, err
	}
	feeToTreasury, err := fee.Sub(feeToIncome)
	if err != nil {
		return Breakdown{}, err
	}

	bonus, err := atNow.Sub(atLock)
	if err != nil {
		return Breakdown{}, err
	}
	bonusToIncome, err := bonus.MulDiv(uint64(refundBP), domain.BasisPoints)
	if err != nil {
		return Breakdown{}, err
	}
	bonusToTreasury, err := bonus.Sub(bonusToIncome)
	if err != nil {
		return Breakdown{}, err
	}

	return Breakdown{
		SettleRate:      rate,
		WithdrawAtLock:  atLock,
		WithdrawAtNow:   atNow,
		Fee:             fee,
		Net:             net,
		FeeToIncome:     feeToIncome,
		FeeToTreasury:   feeToTreasury,
		Bonus:           bonus,
		BonusToIncome:   bonusToIncome,
		BonusToTreasury: bonusToTreasury,
	}, nil
}

