package vault

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/vadiminshakov/svault/internal/domain"
	"github.com/vadiminshakov/svault/internal/services/registry"
	"github.com/vadiminshakov/svault/internal/storage/state"
)

// StatusUpdate is the full set of global switches.
type StatusUpdate struct {
	TransferEnabled bool
	DepositEnabled  bool
	WithdrawEnabled bool
}

// SetStatus replaces the global switches.
func (v *Vault) SetStatus(ctx context.Context, caller domain.AccountID, u StatusUpdate) error {
	return v.execute(ctx, OpSetStatus, caller, func(_ *state.Tx, status *domain.VaultStatus, now time.Time) (domain.Effects, error) {
		var effects domain.Effects

		status.TransferEnabled = u.TransferEnabled
		status.DepositEnabled = u.DepositEnabled
		status.WithdrawEnabled = u.WithdrawEnabled

		effects.AddEvents(domain.StatusChanged{
			Timestamp:       now,
			TransferEnabled: u.TransferEnabled,
			DepositEnabled:  u.DepositEnabled,
			WithdrawEnabled: u.WithdrawEnabled,
		})
		v.logger.Info("vault status changed",
			zap.Bool("transfer", u.TransferEnabled),
			zap.Bool("deposit", u.DepositEnabled),
			zap.Bool("withdraw", u.WithdrawEnabled))

		return effects, nil
	})
}

// RegisterCollateral adds a deposit currency and creates its receipt currency.
func (v *Vault) RegisterCollateral(ctx context.Context, caller domain.AccountID, req registry.RegisterRequest) (domain.Collateral, error) {
	var registered domain.Collateral
	err := v.execute(ctx, OpRegisterCollateral, caller, func(tx *state.Tx, _ *domain.VaultStatus, now time.Time) (domain.Effects, error) {
		c, effects, err := v.registry.Register(ctx, tx, req, now)
		registered = c
		return effects, err
	})
	if err != nil {
		return domain.Collateral{}, err
	}
	return registered, nil
}

// UpdateCollateral changes the mutable parameters of a registered collateral.
func (v *Vault) UpdateCollateral(ctx context.Context, caller domain.AccountID, req registry.UpdateRequest) (domain.Collateral, error) {
	var updated domain.Collateral
	err := v.execute(ctx, OpUpdateCollateral, caller, func(tx *state.Tx, _ *domain.VaultStatus, now time.Time) (domain.Effects, error) {
		c, effects, err := v.registry.Update(ctx, tx, req, now)
		updated = c
		return effects, err
	})
	if err != nil {
		return domain.Collateral{}, err
	}
	return updated, nil
}

// SetVotingDelegate forwards the vault's staking votes to delegate.
func (v *Vault) SetVotingDelegate(ctx context.Context, caller, delegate domain.AccountID) error {
	return v.execute(ctx, OpSetVotingDelegate, caller, func(_ *state.Tx, status *domain.VaultStatus, now time.Time) (domain.Effects, error) {
		var effects domain.Effects

		if delegate == v.cfg.Vault {
			return effects, domain.Validationf("vault cannot delegate to itself")
		}
		status.Delegate = delegate

		effects.AddCommands(domain.NewDelegateVoteCommand(v.cfg.Vault, delegate))
		effects.AddEvents(domain.DelegateChanged{Timestamp: now, Delegate: delegate})
		v.logger.Info("voting delegate changed", zap.String("delegate", delegate.String()))

		return effects, nil
	})
}

// RequestFullUnstake sells every matured staking unit back into the vault.
func (v *Vault) RequestFullUnstake(ctx context.Context, caller domain.AccountID) error {
	return v.execute(ctx, OpRequestFullUnstake, caller, func(*state.Tx, *domain.VaultStatus, time.Time) (domain.Effects, error) {
		return v.rebalancer.Release(ctx, domain.ZeroAmount(v.reserveDenom()))
	})
}

// RequestPartialUnstake sells staking units worth amount back into the vault.
func (v *Vault) RequestPartialUnstake(ctx context.Context, caller domain.AccountID, amount domain.Amount) error {
	return v.execute(ctx, OpRequestPartialUnstake, caller, func(*state.Tx, *domain.VaultStatus, time.Time) (domain.Effects, error) {
		if err := v.checkReserveAmount(amount); err != nil {
			return domain.Effects{}, err
		}
		return v.rebalancer.Release(ctx, amount)
	})
}

// Stake stakes amount of the liquid reserve.
func (v *Vault) Stake(ctx context.Context, caller domain.AccountID, amount domain.Amount) error {
	return v.execute(ctx, OpStake, caller, func(*state.Tx, *domain.VaultStatus, time.Time) (domain.Effects, error) {
		if err := v.checkReserveAmount(amount); err != nil {
			return domain.Effects{}, err
		}
		return v.rebalancer.Buy(ctx, amount)
	})
}

// StakeAll stakes the whole liquid reserve.
func (v *Vault) StakeAll(ctx context.Context, caller domain.AccountID) error {
	return v.execute(ctx, OpStakeAll, caller, func(*state.Tx, *domain.VaultStatus, time.Time) (domain.Effects, error) {
		return v.rebalancer.Buy(ctx, domain.ZeroAmount(v.reserveDenom()))
	})
}

// HarvestIncome moves each collateral's income share into the vault, at most once per interval.
func (v *Vault) HarvestIncome(ctx context.Context, caller domain.AccountID) error {
	return v.execute(ctx, OpHarvestIncome, caller, func(tx *state.Tx, status *domain.VaultStatus, now time.Time) (domain.Effects, error) {
		return v.harvester.Tick(ctx, tx, status, now)
	})
}

// TriggerSettlement settles the head of owner's redemption queue once it has matured.
// A payout the vault cannot cover fails with ErrLiquidityShortfall and leaves the queue intact.
func (v *Vault) TriggerSettlement(ctx context.Context, caller, owner domain.AccountID) error {
	return v.execute(ctx, OpTriggerSettlement, caller, func(tx *state.Tx, status *domain.VaultStatus, now time.Time) (domain.Effects, error) {
		var effects domain.Effects

		if !status.WithdrawEnabled {
			return effects, domain.Pausedf("withdraw")
		}
		s, err := v.queue.TrySettle(ctx, tx, owner, now)
		if err != nil || s == nil {
			return effects, err
		}
		payout, err := v.rebalancer.PlanPayout(ctx, s.Collateral.DepositCurrency(), s.Transfers)
		if err != nil {
			return effects, err
		}

		effects.AddCommands(s.Retire)
		effects.AddCommands(payout...)
		effects.AddEvents(s.Event)

		return effects, nil
	})
}

func (v *Vault) reserveDenom() domain.Denomination {
	return v.oracle.Reserve().Denom
}

func (v *Vault) checkReserveAmount(amount domain.Amount) error {
	if amount.Denom != v.reserveDenom() {
		return domain.Validationf("%s is not the reserve currency", amount)
	}
	if !amount.IsPositive() {
		return domain.Validationf("amount %s must be positive", amount)
	}
	return nil
}
