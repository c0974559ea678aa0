// Package rebalancer moves the vault's idle reserve in and out of the staking pool.
package rebalancer

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/svault/internal/domain"
)

const (
	memoSweep   = "sell all staked reserve"
	memoReward  = "staking reward"
	memoPayout  = "payout shortfall"
	defaultDust = 10
	defaultCap  = 85
)

// Oracle reports the vault's liquid and matured reserve.
type Oracle interface {
	Liquid(ctx context.Context, currency domain.Currency) (domain.Amount, error)
	MaturedUnits(ctx context.Context, now time.Time) (uint64, error)
	StakedValue(ctx context.Context) (domain.Amount, error)
}

// Pool exposes the pool pricing curve.
type Pool interface {
	PoolState(ctx context.Context) (domain.PoolState, error)
}

// Config tunes the rebalancer.
type Config struct {
	Vault   domain.AccountID
	Reserve domain.Currency
	// DustThreshold is the liquid balance, in minor units, below which Buy does nothing.
	DustThreshold int64
	// UtilizationCap is the pool utilization percentage at which Buy sweeps instead of staking.
	UtilizationCap uint64
}

// Plan is a scheduled unstake.
type Plan struct {
	Commands []domain.Command
	Units    uint64
	Proceeds domain.Amount
}

// IsEmpty reports whether the plan sells nothing.
func (p Plan) IsEmpty() bool {
	return p.Units == 0
}

// Rebalancer plans stake and unstake commands; it never calls the pool directly.
type Rebalancer struct {
	logger *zap.Logger
	oracle Oracle
	pool   Pool
	cfg    Config
	clock  func() time.Time
}

// New creates a Rebalancer.
func New(logger *zap.Logger, oracle Oracle, pool Pool, cfg Config, clock func() time.Time) *Rebalancer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = time.Now
	}
	if cfg.DustThreshold <= 0 {
		cfg.DustThreshold = defaultDust
	}
	if cfg.UtilizationCap == 0 {
		cfg.UtilizationCap = defaultCap
	}
	return &Rebalancer{logger: logger, oracle: oracle, pool: pool, cfg: cfg, clock: clock}
}

// Stake tops up the vault's pool fund with amount and stakes it.
func (r *Rebalancer) Stake(ctx context.Context, amount domain.Amount) ([]domain.Command, error) {
	if amount.Denom != r.cfg.Reserve.Denom {
		return nil, domain.Validationf("can only stake %s, got %s", r.cfg.Reserve.Denom, amount.Denom)
	}
	if !amount.IsPositive() {
		return nil, domain.Validationf("stake amount %s must be positive", amount)
	}

	return []domain.Command{
		domain.NewPoolDepositCommand(r.cfg.Vault, amount),
		domain.NewPoolStakeCommand(r.cfg.Vault, amount),
	}, nil
}

// Unstake sells units worth request, capped at the vault's matured units; a zero request sells every matured unit.
// When recipient is not the vault, a settle transfer of transfer to recipient follows the pool withdraw.
func (r *Rebalancer) Unstake(ctx context.Context, request, transfer domain.Amount, recipient domain.AccountID, memo string) (Plan, error) {
	if request.Denom != r.cfg.Reserve.Denom || request.Quantity < 0 {
		return Plan{}, domain.Validationf("invalid unstake request %s", request)
	}

	pool, err := r.pool.PoolState(ctx)
	if err != nil {
		return Plan{}, errors.Wrap(err, "pool state")
	}
	matured, err := r.oracle.MaturedUnits(ctx, r.clock())
	if err != nil {
		return Plan{}, err
	}

	units := matured
	if request.IsPositive() {
		if units, err = pool.UnitsFor(request.Quantity); err != nil {
			return Plan{}, err
		}
		if units > matured {
			units = matured
		}
	}
	if units == 0 {
		return Plan{Proceeds: domain.ZeroAmount(r.cfg.Reserve.Denom)}, nil
	}

	value, err := pool.ValueOf(units)
	if err != nil {
		return Plan{}, err
	}
	proceeds := domain.NewAmount(value, r.cfg.Reserve.Denom)

	plan := Plan{Units: units, Proceeds: proceeds}
	plan.Commands = append(plan.Commands,
		domain.NewPoolUnstakeCommand(r.cfg.Vault, units, proceeds),
		domain.NewPoolWithdrawCommand(r.cfg.Vault, proceeds),
	)
	if recipient != r.cfg.Vault && transfer.IsPositive() {
		plan.Commands = append(plan.Commands,
			domain.NewSettleTransferCommand(r.cfg.Reserve.Contract, r.cfg.Vault, recipient, transfer, memo))
	}

	return plan, nil
}

// Buy stakes quantity of liquid reserve; zero means the whole liquid balance.
// Below the dust threshold it does nothing; at or above the utilization cap it sweeps every matured unit out instead.
func (r *Rebalancer) Buy(ctx context.Context, quantity domain.Amount) (domain.Effects, error) {
	var effects domain.Effects

	if quantity.Denom != r.cfg.Reserve.Denom || quantity.Quantity < 0 {
		return effects, domain.Validationf("invalid stake quantity %s", quantity)
	}
	liquid, err := r.oracle.Liquid(ctx, r.cfg.Reserve)
	if err != nil {
		return effects, err
	}
	if quantity.IsZero() {
		quantity = liquid
	}
	if liquid.Quantity < quantity.Quantity {
		return effects, domain.Validationf("liquid reserve %s is below requested stake %s", liquid, quantity)
	}
	if liquid.Quantity < r.cfg.DustThreshold || !quantity.IsPositive() {
		r.logger.Debug("liquid reserve below dust threshold, nothing to stake", zap.String("liquid", liquid.String()))
		return effects, nil
	}

	pool, err := r.pool.PoolState(ctx)
	if err != nil {
		return effects, errors.Wrap(err, "pool state")
	}
	utilization, err := pool.Utilization()
	if err != nil {
		return effects, err
	}

	now := r.clock()
	if utilization >= r.cfg.UtilizationCap {
		plan, err := r.Unstake(ctx, domain.ZeroAmount(r.cfg.Reserve.Denom), domain.ZeroAmount(r.cfg.Reserve.Denom), r.cfg.Vault, memoSweep)
		if err != nil {
			return effects, err
		}
		r.logger.Warn("pool utilization above cap, sweeping staked reserve",
			zap.Uint64("utilization", utilization),
			zap.Uint64("units", plan.Units))
		if plan.IsEmpty() {
			return effects, nil
		}
		effects.AddCommands(plan.Commands...)
		effects.AddEvents(domain.ReserveRebalanced{
			Timestamp:   now,
			Action:      domain.RebalanceSweep,
			Quantity:    plan.Proceeds,
			Units:       plan.Units,
			Utilization: utilization,
		})
		return effects, nil
	}

	cmds, err := r.Stake(ctx, quantity)
	if err != nil {
		return effects, err
	}
	effects.AddCommands(cmds...)
	effects.AddEvents(domain.ReserveRebalanced{
		Timestamp:   now,
		Action:      domain.RebalanceStake,
		Quantity:    quantity,
		Utilization: utilization,
	})

	return effects, nil
}

// Release unstakes request worth of staked reserve back into the vault; zero releases every matured unit.
func (r *Rebalancer) Release(ctx context.Context, request domain.Amount) (domain.Effects, error) {
	var effects domain.Effects

	memo := memoSweep
	if request.IsPositive() {
		staked, err := r.oracle.StakedValue(ctx)
		if err != nil {
			return effects, err
		}
		if request.Quantity > staked.Quantity {
			return effects, domain.Statef("staked reserve %s cannot cover %s", staked, request)
		}
		memo = memoReward
	}

	plan, err := r.Unstake(ctx, request, domain.ZeroAmount(r.cfg.Reserve.Denom), r.cfg.Vault, memo)
	if err != nil {
		return effects, err
	}
	if plan.IsEmpty() {
		r.logger.Debug("no matured stake units to sell", zap.String("request", request.String()))
		return effects, nil
	}

	action := domain.RebalanceUnstake
	if request.IsZero() {
		action = domain.RebalanceSweep
	}
	effects.AddCommands(plan.Commands...)
	effects.AddEvents(domain.ReserveRebalanced{
		Timestamp: r.clock(),
		Action:    action,
		Quantity:  plan.Proceeds,
		Units:     plan.Units,
	})

	return effects, nil
}

// PlanPayout checks that the vault can pay transfers out of currency. A reserve shortfall is
// covered by one unstake ahead of the transfers, which then run as settle transfers.
func (r *Rebalancer) PlanPayout(ctx context.Context, currency domain.Currency, transfers []domain.Command) ([]domain.Command, error) {
	if len(transfers) == 0 {
		return nil, nil
	}

	total := domain.ZeroAmount(currency.Denom)
	for _, t := range transfers {
		if !t.IsOutgoingTransfer() || t.Contract != currency.Contract {
			return nil, domain.Validationf("command %s is not a %s payout", t.Kind, currency)
		}
		var err error
		if total, err = total.Add(t.Quantity); err != nil {
			return nil, err
		}
	}

	liquid, err := r.oracle.Liquid(ctx, currency)
	if err != nil {
		return nil, err
	}
	if liquid.Quantity >= total.Quantity {
		return transfers, nil
	}
	if currency != r.cfg.Reserve {
		return nil, domain.Shortfallf("vault holds %s, payout needs %s", liquid, total)
	}

	shortfall, err := total.Sub(liquid)
	if err != nil {
		return nil, err
	}
	pool, err := r.pool.PoolState(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "pool state")
	}
	matured, err := r.oracle.MaturedUnits(ctx, r.clock())
	if err != nil {
		return nil, err
	}
	maturedValue, err := pool.ValueOf(matured)
	if err != nil {
		return nil, err
	}
	if maturedValue < shortfall.Quantity {
		return nil, domain.Shortfallf("vault holds %s plus %s matured stake, payout needs %s",
			liquid, domain.NewAmount(maturedValue, currency.Denom), total)
	}

	request, err := shortfall.Add(domain.NewAmount(1, currency.Denom))
	if err != nil {
		return nil, err
	}
	plan, err := r.Unstake(ctx, request, domain.ZeroAmount(currency.Denom), r.cfg.Vault, memoPayout)
	if err != nil {
		return nil, err
	}

	r.logger.Warn("liquid reserve short of payout, unstaking",
		zap.String("liquid", liquid.String()),
		zap.String("payout", total.String()),
		zap.Uint64("units", plan.Units))

	out := make([]domain.Command, 0, len(plan.Commands)+len(transfers))
	out = append(out, plan.Commands...)
	for _, t := range transfers {
		settle := domain.NewSettleTransferCommand(t.Contract, t.From, t.To, t.Quantity, t.Memo)
		settle.ID = t.ID
		out = append(out, settle)
	}

	return out, nil
}
