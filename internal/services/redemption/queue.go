// Package redemption manages per-owner FIFO queues of rate-locked redemptions.
package redemption

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/svault/internal/domain"
	"github.com/vadiminshakov/svault/internal/storage/state"
)

// DefaultMaturity is the delay between a redemption request and its settlement.
const DefaultMaturity = 5 * 24 * time.Hour

const (
	memoRetire   = "withdraw retire"
	memoWithdraw = "withdraw"
	memoFees     = "withdraw fees"
	memoRefund   = "refund"
)

// Collaterals resolves the collateral a redemption belongs to.
type Collaterals interface {
	ByID(id uint64) (domain.Collateral, bool)
}

// RateSource prices a collateral's receipt currency.
type RateSource interface {
	Rate(ctx context.Context, c domain.Collateral, delta int64) (uint64, error)
}

// Config names the accounts involved in settlement.
type Config struct {
	Vault           domain.AccountID
	ReceiptContract domain.AccountID
	Maturity        time.Duration
}

// Settlement is the outcome of settling a matured redemption.
type Settlement struct {
	Redemption domain.PendingRedemption
	Collateral domain.Collateral
	Breakdown  Breakdown
	// Retire burns the redeemed receipt quantity held by the vault.
	Retire domain.Command
	// Transfers pay the owner, the income account and the fees account, in that order.
	Transfers []domain.Command
	Event     domain.RedemptionSettled
}

// Queue enqueues and settles redemptions inside the caller's state transaction.
type Queue struct {
	logger      *zap.Logger
	collaterals Collaterals
	rates       RateSource
	cfg         Config
}

// NewQueue creates a Queue.
func NewQueue(logger *zap.Logger, collaterals Collaterals, rates RateSource, cfg Config) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Maturity <= 0 {
		cfg.Maturity = DefaultMaturity
	}
	return &Queue{logger: logger, collaterals: collaterals, rates: rates, cfg: cfg}
}

// Enqueue appends a redemption of quantity locked at rate to owner's queue.
func (q *Queue) Enqueue(
	tx *state.Tx,
	status *domain.VaultStatus,
	owner domain.AccountID,
	c domain.Collateral,
	quantity domain.Amount,
	rate uint64,
	now time.Time,
) (domain.PendingRedemption, domain.RedemptionEnqueued, error) {
	if quantity.Denom != c.ReceiptDenom {
		return domain.PendingRedemption{}, domain.RedemptionEnqueued{},
			domain.Validationf("redemption of %s does not match receipt %s", quantity, c.ReceiptDenom)
	}
	if !quantity.IsPositive() {
		return domain.PendingRedemption{}, domain.RedemptionEnqueued{},
			domain.Validationf("redemption quantity %s must be positive", quantity)
	}
	if rate == 0 {
		return domain.PendingRedemption{}, domain.RedemptionEnqueued{}, domain.Statef("zero rate for %s", c.ReceiptDenom)
	}

	r := domain.PendingRedemption{
		ID:           status.NextRedemptionID(),
		Owner:        owner,
		CollateralID: c.ID,
		Quantity:     quantity,
		LockedRate:   rate,
		MaturityTime: now.Add(q.cfg.Maturity),
		RequestedAt:  now,
	}
	if err := tx.AppendRedemption(r); err != nil {
		return domain.PendingRedemption{}, domain.RedemptionEnqueued{}, errors.Wrap(err, "append redemption")
	}

	q.logger.Info("redemption enqueued",
		zap.String("owner", owner.String()),
		zap.Uint64("id", r.ID),
		zap.String("quantity", quantity.String()),
		zap.Uint64("locked_rate", rate),
		zap.Time("maturity", r.MaturityTime))

	return r, domain.RedemptionEnqueued{
		Timestamp:    now,
		Owner:        owner,
		RedemptionID: r.ID,
		CollateralID: c.ID,
		Quantity:     quantity,
		LockedRate:   rate,
		MaturityTime: r.MaturityTime,
	}, nil
}

// TrySettle settles the head of owner's queue when it has matured. It returns nil when the
// queue is empty or the head is still pending; later entries are never inspected.
func (q *Queue) TrySettle(ctx context.Context, tx *state.Tx, owner domain.AccountID, now time.Time) (*Settlement, error) {
	head, ok, err := tx.HeadRedemption(owner)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	if !head.IsMature(now) {
		q.logger.Debug("head redemption still pending",
			zap.String("owner", owner.String()),
			zap.Uint64("id", head.ID),
			zap.Time("maturity", head.MaturityTime))
		return nil, nil
	}

	c, ok := q.collaterals.ByID(head.CollateralID)
	if !ok {
		return nil, domain.NotFoundf("collateral %d of redemption %d", head.CollateralID, head.ID)
	}
	current, err := q.rates.Rate(ctx, c, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "rate of %s", c.ReceiptDenom)
	}

	b, err := Split(head.Quantity, c.DepositDenom, head.LockedRate, current, c.ReleaseFeeBP, c.RefundRatioBP)
	if err != nil {
		return nil, err
	}
	if err := tx.DeleteRedemption(owner, head.ID); err != nil {
		return nil, err
	}

	s := &Settlement{
		Redemption: head,
		Collateral: c,
		Breakdown:  b,
		Retire:     domain.NewRetireCommand(q.cfg.ReceiptContract, q.cfg.Vault, head.Quantity, memoRetire),
		Event: domain.RedemptionSettled{
			Timestamp:       now,
			Owner:           owner,
			RedemptionID:    head.ID,
			CollateralID:    c.ID,
			Quantity:        head.Quantity,
			LockedRate:      head.LockedRate,
			CurrentRate:     current,
			SettleRate:      b.SettleRate,
			WithdrawAtLock:  b.WithdrawAtLock,
			WithdrawAtNow:   b.WithdrawAtNow,
			Fee:             b.Fee,
			Net:             b.Net,
			FeeToIncome:     b.FeeToIncome,
			FeeToTreasury:   b.FeeToTreasury,
			BonusToIncome:   b.BonusToIncome,
			BonusToTreasury: b.BonusToTreasury,
		},
	}

	pay := func(to domain.AccountID, amount domain.Amount, memo string) {
		if amount.IsPositive() {
			s.Transfers = append(s.Transfers, domain.NewTransferCommand(c.DepositContract, q.cfg.Vault, to, amount, memo))
		}
	}
	pay(owner, b.Net, memoWithdraw)
	pay(c.IncomeAccount, b.FeeToIncome, memoFees)
	pay(c.FeesAccount, b.FeeToTreasury, memoFees)
	pay(c.IncomeAccount, b.BonusToIncome, memoRefund)
	pay(c.FeesAccount, b.BonusToTreasury, memoRefund)

	q.logger.Info("redemption settled",
		zap.String("owner", owner.String()),
		zap.Uint64("id", head.ID),
		zap.Uint64("locked_rate", head.LockedRate),
		zap.Uint64("settle_rate", b.SettleRate),
		zap.String("net", b.Net.String()),
		zap.String("fee", b.Fee.String()))

	return s, nil
}

// Pending lists owner's queue in FIFO order.
func (q *Queue) Pending(tx *state.Tx, owner domain.AccountID) ([]domain.PendingRedemption, error) {
	return tx.Redemptions(owner)
}
