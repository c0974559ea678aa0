// Package harvester periodically moves a share of each collateral's income account into the vault.
package harvester

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/svault/internal/domain"
	"github.com/vadiminshakov/svault/internal/storage/state"
)

// DefaultInterval is the harvest period.
const DefaultInterval = 10 * time.Minute

const memoAward = "award"

// Collaterals lists and persists collaterals.
type Collaterals interface {
	All() []domain.Collateral
	Save(tx *state.Tx, c domain.Collateral) error
}

// Ledger reads income account balances.
type Ledger interface {
	BalanceOf(ctx context.Context, currency domain.Currency, account domain.AccountID) (domain.Amount, error)
}

// Harvester computes interval-gated income transfers.
type Harvester struct {
	logger      *zap.Logger
	collaterals Collaterals
	ledger      Ledger
	vault       domain.AccountID
	interval    uint64
}

// New creates a Harvester paying into vault every interval.
func New(logger *zap.Logger, collaterals Collaterals, ledger Ledger, vault domain.AccountID, interval time.Duration) *Harvester {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval < time.Second {
		interval = DefaultInterval
	}
	return &Harvester{
		logger:      logger,
		collaterals: collaterals,
		ledger:      ledger,
		vault:       vault,
		interval:    uint64(interval / time.Second),
	}
}

// Bucket returns the start of the interval containing now, in unix seconds.
func (h *Harvester) Bucket(now time.Time) uint64 {
	ts := uint64(now.Unix())
	return ts - ts%h.interval
}

// Tick harvests every collateral once per interval and records the interval in status.
// The first tick only records the interval.
func (h *Harvester) Tick(ctx context.Context, tx *state.Tx, status *domain.VaultStatus, now time.Time) (domain.Effects, error) {
	var effects domain.Effects

	bucket := h.Bucket(now)
	last := status.LastIncomeTick
	switch {
	case bucket == last:
		h.logger.Debug("income already harvested for this interval", zap.Uint64("bucket", bucket))
		return effects, nil
	case bucket < last:
		h.logger.Warn("clock is behind the last harvest, skipping",
			zap.Uint64("bucket", bucket),
			zap.Uint64("last", last))
		return effects, nil
	}

	if last > 0 {
		periods := (bucket - last) / h.interval
		for _, c := range h.collaterals.All() {
			collEffects, err := h.harvest(ctx, tx, c, bucket, periods, now)
			if err != nil {
				return domain.Effects{}, errors.Wrapf(err, "harvest collateral %d", c.ID)
			}
			effects.Merge(collEffects)
		}
	}

	status.LastIncomeTick = bucket
	return effects, nil
}

func (h *Harvester) harvest(ctx context.Context, tx *state.Tx, c domain.Collateral, bucket, periods uint64, now time.Time) (domain.Effects, error) {
	var effects domain.Effects
	if periods == 0 {
		return effects, nil
	}

	// periods past BasisPoints would overflow the product and saturate anyway
	var ratio uint64
	if c.IncomeRatio > 0 {
		ratio = domain.BasisPoints
		if periods < domain.BasisPoints {
			ratio = min(periods*uint64(c.IncomeRatio), domain.BasisPoints)
		}
	}

	balance, err := h.ledger.BalanceOf(ctx, c.DepositCurrency(), c.IncomeAccount)
	if err != nil {
		return effects, errors.Wrapf(err, "income balance of %s", c.IncomeAccount)
	}
	amount := domain.ZeroAmount(c.DepositDenom)
	if balance.IsPositive() {
		if amount, err = balance.MulDiv(ratio, domain.BasisPoints); err != nil {
			return effects, err
		}
	}

	total, err := c.TotalIncome.Add(amount)
	if err != nil {
		return effects, err
	}
	c.LastIncome = amount
	c.TotalIncome = total
	if err := h.collaterals.Save(tx, c); err != nil {
		return effects, err
	}

	if amount.IsPositive() {
		effects.AddCommands(domain.NewTransferCommand(c.DepositContract, c.IncomeAccount, h.vault, amount, memoAward))
		h.logger.Info("income harvested",
			zap.Uint64("collateral", c.ID),
			zap.Uint64("periods", periods),
			zap.Uint64("ratio", ratio),
			zap.String("amount", amount.String()))
	}
	effects.AddEvents(domain.IncomeHarvested{
		Timestamp:    now,
		CollateralID: c.ID,
		Account:      c.IncomeAccount,
		Bucket:       bucket,
		Periods:      periods,
		Ratio:        ratio,
		Balance:      balance,
		Quantity:     amount,
		TotalIncome:  total,
	})

	return effects, nil
}
