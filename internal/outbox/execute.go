package outbox

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/svault/internal/domain"
)

// execute performs one command against its collaborator, re-validating what it depends on.
func (d *Dispatcher) execute(ctx context.Context, cmd domain.Command) error {
	switch cmd.Kind {
	case domain.CommandCreateCurrency:
		return d.ledger.Create(ctx, cmd.Contract, cmd.From, cmd.Quantity)
	case domain.CommandIssue:
		return d.ledger.Issue(ctx, cmd.Contract, cmd.To, cmd.Quantity, cmd.Memo)
	case domain.CommandRetire:
		return d.ledger.Retire(ctx, cmd.Contract, cmd.Quantity, cmd.Memo)
	case domain.CommandTransfer:
		return d.transfer(ctx, cmd, cmd.Quantity)
	case domain.CommandSettleTransfer:
		return d.settleTransfer(ctx, cmd)
	case domain.CommandPoolDeposit:
		return d.pool.Deposit(ctx, cmd.From, cmd.Quantity)
	case domain.CommandPoolStake:
		return d.pool.Stake(ctx, cmd.From, cmd.Quantity)
	case domain.CommandPoolUnstake:
		return d.unstake(ctx, cmd)
	case domain.CommandPoolWithdraw:
		got, err := d.pool.Withdraw(ctx, cmd.From, domain.ZeroAmount(cmd.Quantity.Denom))
		if err != nil {
			return err
		}
		d.logger.Info("pool fund withdrawn",
			zap.String("account", cmd.From.String()),
			zap.String("estimate", cmd.Quantity.String()),
			zap.String("received", got.String()))
		return nil
	case domain.CommandDelegateVote:
		return d.governance.Delegate(ctx, cmd.From, cmd.To)
	default:
		return domain.Validationf("unknown command kind %q", cmd.Kind)
	}
}

func (d *Dispatcher) transfer(ctx context.Context, cmd domain.Command, quantity domain.Amount) error {
	if err := d.ledger.Transfer(ctx, cmd.Contract, cmd.From, cmd.To, quantity, cmd.Memo); err != nil {
		return err
	}
	// income awards into the vault are audited by the harvest itself
	if cmd.From != d.vault {
		return nil
	}

	d.recorder.Record(domain.WithdrawalExecuted{
		Timestamp: d.clock(),
		CommandID: cmd.ID,
		Contract:  cmd.Contract,
		From:      cmd.From,
		To:        cmd.To,
		Quantity:  quantity,
		Memo:      cmd.Memo,
	})
	return nil
}

// settleTransfer pays out after pool settlement. A shortfall below the tolerance sends the
// available balance instead.
func (d *Dispatcher) settleTransfer(ctx context.Context, cmd domain.Command) error {
	currency := domain.Currency{Contract: cmd.Contract, Denom: cmd.Quantity.Denom}
	balance, err := d.ledger.BalanceOf(ctx, currency, cmd.From)
	if err != nil {
		return errors.Wrapf(err, "balance of %s", cmd.From)
	}

	quantity := cmd.Quantity
	if balance.Quantity < quantity.Quantity {
		if quantity.Quantity-balance.Quantity >= cmd.Tolerance || !balance.IsPositive() {
			return domain.Shortfallf("%s holds %s, settle transfer needs %s", cmd.From, balance, quantity)
		}
		d.logger.Warn("settle transfer short within tolerance, sending available balance",
			zap.String("requested", quantity.String()),
			zap.String("available", balance.String()))
		quantity = balance
	}

	return d.transfer(ctx, cmd, quantity)
}

// unstake sells at most the account's currently matured units.
func (d *Dispatcher) unstake(ctx context.Context, cmd domain.Command) error {
	units, err := d.pool.AccountStakeUnits(ctx, cmd.From)
	if err != nil {
		return errors.Wrapf(err, "stake units of %s", cmd.From)
	}

	sell := min(cmd.Units, units.Matured(d.clock()))
	if sell == 0 {
		return domain.Statef("%s has no matured units to sell", cmd.From)
	}

	proceeds, err := d.pool.Unstake(ctx, cmd.From, sell)
	if err != nil {
		return err
	}
	d.logger.Info("pool units sold",
		zap.String("account", cmd.From.String()),
		zap.Uint64("units", sell),
		zap.String("proceeds", proceeds.String()))

	return nil
}
