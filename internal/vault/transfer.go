package vault

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/svault/internal/domain"
	"github.com/vadiminshakov/svault/internal/storage/state"
)

const memoDeposit = "deposit"

// OnIncomingTransfer handles a transfer that credited the vault. Receipt tokens start a
// redemption, a registered deposit currency mints receipts. An error makes the ledger revert
// the transfer. The ledger credits the vault inside Exclusive, so the balance the rate is
// priced from holds no later, unpriced deposit.
func (v *Vault) OnIncomingTransfer(ctx context.Context, notice domain.TransferNotice) error {
	if v.ignored(notice) {
		v.logger.Debug("ignoring incoming transfer",
			zap.String("from", notice.From.String()),
			zap.String("quantity", notice.Quantity.String()),
			zap.String("memo", notice.Memo))
		return nil
	}

	return v.Exclusive(ctx, func(ctx context.Context) error {
		if notice.Contract == v.cfg.ReceiptContract {
			return v.commit(ctx, "withdraw", func(tx *state.Tx, status *domain.VaultStatus, now time.Time) (domain.Effects, error) {
				return v.withdraw(ctx, tx, status, notice, now)
			})
		}

		return v.commit(ctx, "deposit", func(tx *state.Tx, status *domain.VaultStatus, now time.Time) (domain.Effects, error) {
			return v.deposit(ctx, status, notice, now)
		})
	})
}

// ignored filters transfers the vault itself caused: pool withdrawals, income awards and
// movements between privileged accounts.
func (v *Vault) ignored(n domain.TransferNotice) bool {
	if n.To != v.cfg.Vault {
		return true
	}
	switch n.From {
	case v.cfg.Vault, v.cfg.Admin, v.cfg.System, v.cfg.Staking:
		return true
	}
	if c, ok := v.registry.ByDeposit(n.Currency()); ok && n.From == c.IncomeAccount {
		return true
	}
	return false
}

func (v *Vault) deposit(ctx context.Context, status *domain.VaultStatus, n domain.TransferNotice, now time.Time) (domain.Effects, error) {
	var effects domain.Effects

	c, ok := v.registry.ByDeposit(n.Currency())
	if !ok {
		return effects, domain.NotFoundf("no collateral accepts %s", n.Currency())
	}
	if !status.DepositEnabled {
		return effects, domain.Pausedf("deposit")
	}
	if n.Quantity.Quantity < c.MinimumDeposit.Quantity {
		return effects, domain.Validationf("deposit %s is below the minimum %s", n.Quantity, c.MinimumDeposit)
	}

	rate, err := v.oracle.Rate(ctx, c, -n.Quantity.Quantity)
	if err != nil {
		return effects, err
	}
	if rate == 0 {
		return effects, domain.Statef("%s has no backing", c.ReceiptDenom)
	}
	minted, err := n.Quantity.MulDiv(domain.RateBase, rate)
	if err != nil {
		return effects, err
	}
	if minted, err = minted.WithDenom(c.ReceiptDenom); err != nil {
		return effects, err
	}
	if !minted.IsPositive() {
		return effects, domain.Validationf("deposit %s mints nothing at rate %d", n.Quantity, rate)
	}

	effects.AddCommands(domain.NewIssueCommand(v.cfg.ReceiptContract, n.From, minted, memoDeposit))
	effects.AddEvents(domain.DepositCompleted{
		Timestamp:    now,
		Owner:        n.From,
		CollateralID: c.ID,
		Quantity:     n.Quantity,
		Rate:         rate,
		Minted:       minted,
	})

	v.logger.Info("deposit minted",
		zap.String("owner", n.From.String()),
		zap.String("quantity", n.Quantity.String()),
		zap.Uint64("rate", rate),
		zap.String("minted", minted.String()))

	if v.oracle.IsReserve(c) {
		stake, err := v.rebalancer.Buy(ctx, domain.ZeroAmount(c.DepositDenom))
		if err != nil {
			return effects, errors.Wrap(err, "stake deposited reserve")
		}
		effects.Merge(stake)
	}

	return effects, nil
}

func (v *Vault) withdraw(ctx context.Context, tx *state.Tx, status *domain.VaultStatus, n domain.TransferNotice, now time.Time) (domain.Effects, error) {
	var effects domain.Effects

	if !status.WithdrawEnabled {
		return effects, domain.Pausedf("withdraw")
	}
	c, ok := v.registry.ByReceipt(n.Quantity.Denom)
	if !ok {
		return effects, domain.NotFoundf("no collateral issues %s", n.Quantity.Denom)
	}
	rate, err := v.oracle.Rate(ctx, c, 0)
	if err != nil {
		return effects, err
	}

	_, ev, err := v.queue.Enqueue(tx, status, n.From, c, n.Quantity, rate, now)
	if err != nil {
		return effects, err
	}
	effects.AddEvents(ev)

	return effects, nil
}

// AllowTransfer gates receipt-token transfers: while transfers are disabled only transfers
// to or from the vault pass.
func (v *Vault) AllowTransfer(from, to domain.AccountID) error {
	status := v.status.Load()
	if status != nil && status.TransferEnabled {
		return nil
	}
	if from == v.cfg.Vault || to == v.cfg.Vault {
		return nil
	}
	return domain.Pausedf("receipt transfers")
}
