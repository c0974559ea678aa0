// Package rate prices receipt currencies against their backing collateral.
package rate

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/vadiminshakov/svault/internal/domain"
)

// Ledger exposes balances and supplies of the host ledger.
type Ledger interface {
	BalanceOf(ctx context.Context, currency domain.Currency, account domain.AccountID) (domain.Amount, error)
	TotalSupply(ctx context.Context, currency domain.Currency) (domain.Amount, error)
}

// Pool is the read-only view of the staking pool.
type Pool interface {
	PoolState(ctx context.Context) (domain.PoolState, error)
	AccountStakeUnits(ctx context.Context, account domain.AccountID) (domain.StakeUnits, error)
}

// Config names the accounts the oracle reads.
type Config struct {
	Vault           domain.AccountID
	ReceiptContract domain.AccountID
	Reserve         domain.Currency
}

// Oracle computes backing / supply exchange rates scaled by domain.RateBase.
type Oracle struct {
	ledger Ledger
	pool   Pool
	cfg    Config
}

// New creates an Oracle.
func New(ledger Ledger, pool Pool, cfg Config) *Oracle {
	return &Oracle{ledger: ledger, pool: pool, cfg: cfg}
}

// Reserve returns the staking reserve currency.
func (o *Oracle) Reserve() domain.Currency {
	return o.cfg.Reserve
}

// IsReserve reports whether c is backed by the reserve currency, whose backing includes the staked position.
func (o *Oracle) IsReserve(c domain.Collateral) bool {
	return c.DepositCurrency() == o.cfg.Reserve
}

// Rate returns backing * RateBase / supply, where backing is adjusted by delta minor units.
// A negative delta prices a deposit that already landed on the vault balance.
func (o *Oracle) Rate(ctx context.Context, c domain.Collateral, delta int64) (uint64, error) {
	supply, err := o.Supply(ctx, c)
	if err != nil {
		return 0, err
	}
	if supply.Quantity == 0 {
		return domain.RateBase, nil
	}

	backing, err := o.Backing(ctx, c, delta)
	if err != nil {
		return 0, err
	}
	if backing.Quantity < 0 {
		return 0, domain.Statef("negative backing %s for %s", backing, c.ReceiptDenom)
	}

	rate, err := domain.MulDivU64(uint64(backing.Quantity), domain.RateBase, uint64(supply.Quantity))
	if err != nil {
		return 0, domain.Statef("rate of %s overflows: %v", c.ReceiptDenom, err)
	}

	return rate, nil
}

// Supply returns the outstanding receipt supply of c.
func (o *Oracle) Supply(ctx context.Context, c domain.Collateral) (domain.Amount, error) {
	supply, err := o.ledger.TotalSupply(ctx, domain.Currency{Contract: o.cfg.ReceiptContract, Denom: c.ReceiptDenom})
	if err != nil {
		return domain.Amount{}, errors.Wrapf(err, "receipt supply of %s", c.ReceiptDenom)
	}
	return supply, nil
}

// Backing returns what the vault holds against c's receipt supply, plus delta.
func (o *Oracle) Backing(ctx context.Context, c domain.Collateral, delta int64) (domain.Amount, error) {
	backing, err := o.Liquid(ctx, c.DepositCurrency())
	if err != nil {
		return domain.Amount{}, err
	}

	if o.IsReserve(c) {
		staked, err := o.StakedValue(ctx)
		if err != nil {
			return domain.Amount{}, err
		}
		if backing, err = backing.Add(staked); err != nil {
			return domain.Amount{}, domain.Statef("backing of %s overflows: %v", c.ReceiptDenom, err)
		}
	}

	if backing, err = backing.Add(domain.NewAmount(delta, backing.Denom)); err != nil {
		return domain.Amount{}, domain.Statef("backing of %s overflows: %v", c.ReceiptDenom, err)
	}

	return backing, nil
}

// Liquid returns the vault's ledger balance of currency.
func (o *Oracle) Liquid(ctx context.Context, currency domain.Currency) (domain.Amount, error) {
	balance, err := o.ledger.BalanceOf(ctx, currency, o.cfg.Vault)
	if err != nil {
		return domain.Amount{}, errors.Wrapf(err, "vault balance of %s", currency)
	}
	return balance, nil
}

// StakedValue returns the reserve value of every unit the vault holds in the pool, locked or not.
func (o *Oracle) StakedValue(ctx context.Context) (domain.Amount, error) {
	units, err := o.pool.AccountStakeUnits(ctx, o.cfg.Vault)
	if err != nil {
		return domain.Amount{}, errors.Wrap(err, "vault stake units")
	}
	return o.valueOf(ctx, units.Total())
}

// MaturedUnits returns the vault's units sellable at now.
func (o *Oracle) MaturedUnits(ctx context.Context, now time.Time) (uint64, error) {
	units, err := o.pool.AccountStakeUnits(ctx, o.cfg.Vault)
	if err != nil {
		return 0, errors.Wrap(err, "vault stake units")
	}
	return units.Matured(now), nil
}

// MaturedValue returns the reserve value of the vault's matured units.
func (o *Oracle) MaturedValue(ctx context.Context, now time.Time) (domain.Amount, error) {
	units, err := o.MaturedUnits(ctx, now)
	if err != nil {
		return domain.Amount{}, err
	}
	return o.valueOf(ctx, units)
}

func (o *Oracle) valueOf(ctx context.Context, units uint64) (domain.Amount, error) {
	pool, err := o.pool.PoolState(ctx)
	if err != nil {
		return domain.Amount{}, errors.Wrap(err, "pool state")
	}
	value, err := pool.ValueOf(units)
	if err != nil {
		return domain.Amount{}, err
	}
	return domain.NewAmount(value, o.cfg.Reserve.Denom), nil
}
