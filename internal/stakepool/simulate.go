// Package stakepool simulates the external yield-bearing staking pool.
package stakepool

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/svault/internal/domain"
	"github.com/vadiminshakov/svault/internal/storage/simstate"
)

const (
	// MaturityDelay is how long freshly staked units stay locked.
	MaturityDelay = 4 * 24 * time.Hour
	// bootstrapUnitsPerMinor prices the first stake into an empty pool.
	bootstrapUnitsPerMinor = 10_000
)

// Ledger moves reserve currency between accounts and the pool.
type Ledger interface {
	Transfer(ctx context.Context, contract, from, to domain.AccountID, quantity domain.Amount, memo string) error
	Credit(ctx context.Context, contract, to domain.AccountID, quantity domain.Amount) error
}

type position struct {
	fund    domain.Amount
	matured uint64
	buckets []domain.MaturityBucket
}

// SimulatePool is an in-process staking pool with a lendable/rex pricing curve.
type SimulatePool struct {
	mu         sync.RWMutex
	logger     *zap.Logger
	ledger     Ledger
	reserve    domain.Currency
	account    domain.AccountID
	clock      func() time.Time
	state      domain.PoolState
	positions  map[domain.AccountID]*position
	stateStore *simstate.Store
}

// NewSimulatePool creates a pool holding its reserve under account.
func NewSimulatePool(
	logger *zap.Logger,
	ledger Ledger,
	reserve domain.Currency,
	account domain.AccountID,
	clock func() time.Time,
	store *simstate.Store,
) (*SimulatePool, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ledger == nil {
		return nil, errors.New("ledger is required for SimulatePool")
	}
	if clock == nil {
		clock = time.Now
	}
	p := &SimulatePool{
		logger:  logger,
		ledger:  ledger,
		reserve: reserve,
		account: account,
		clock:   clock,
		state: domain.PoolState{
			TotalLendable: domain.ZeroAmount(reserve.Denom),
			TotalLent:     domain.ZeroAmount(reserve.Denom),
		},
		positions:  make(map[domain.AccountID]*position),
		stateStore: store,
	}
	if err := p.restoreState(); err != nil {
		return nil, errors.Wrap(err, "restore pool state")
	}

	return p, nil
}

// Account returns the ledger account holding pool funds.
func (p *SimulatePool) Account() domain.AccountID {
	return p.account
}

// PoolState returns the current pricing curve.
func (p *SimulatePool) PoolState(ctx context.Context) (domain.PoolState, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state, nil
}

// AccountStakeUnits returns the account's matured balance and unlock buckets.
func (p *SimulatePool) AccountStakeUnits(ctx context.Context, account domain.AccountID) (domain.StakeUnits, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	pos, ok := p.positions[account]
	if !ok {
		return domain.StakeUnits{}, nil
	}
	buckets := make([]domain.MaturityBucket, len(pos.buckets))
	copy(buckets, pos.buckets)

	return domain.StakeUnits{MaturedUnits: pos.matured, Buckets: buckets}, nil
}

// Fund returns the account's unstaked balance held by the pool.
func (p *SimulatePool) Fund(ctx context.Context, account domain.AccountID) domain.Amount {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if pos, ok := p.positions[account]; ok {
		return pos.fund
	}
	return domain.ZeroAmount(p.reserve.Denom)
}

// Deposit tops up the account's fund by transferring reserve currency to the pool.
func (p *SimulatePool) Deposit(ctx context.Context, account domain.AccountID, quantity domain.Amount) error {
	if err := p.checkQuantity(quantity); err != nil {
		return err
	}
	if err := p.ledger.Transfer(ctx, p.reserve.Contract, account, p.account, quantity, "deposit to pool fund"); err != nil {
		return errors.Wrap(err, "transfer to pool")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	pos := p.positionLocked(account)
	fund, err := pos.fund.Add(quantity)
	if err != nil {
		return err
	}
	pos.fund = fund
	p.persist()

	return nil
}

// Stake converts fund balance into units locked until now + MaturityDelay.
func (p *SimulatePool) Stake(ctx context.Context, account domain.AccountID, quantity domain.Amount) error {
	if err := p.checkQuantity(quantity); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	pos := p.positionLocked(account)
	if pos.fund.Quantity < quantity.Quantity {
		return domain.Statef("pool fund of %s is %s, cannot stake %s", account, pos.fund, quantity)
	}

	var units uint64
	if p.state.TotalRex == 0 || p.state.TotalLendable.Quantity == 0 {
		units = uint64(quantity.Quantity) * bootstrapUnitsPerMinor
	} else {
		var err error
		units, err = p.state.UnitsFor(quantity.Quantity)
		if err != nil {
			return err
		}
	}
	if units == 0 {
		return domain.Validationf("stake of %s buys no units", quantity)
	}

	lendable, err := p.state.TotalLendable.Add(quantity)
	if err != nil {
		return err
	}
	fund, err := pos.fund.Sub(quantity)
	if err != nil {
		return err
	}

	p.state.TotalLendable = lendable
	p.state.TotalRex += units
	pos.fund = fund
	pos.addBucket(p.clock().Add(MaturityDelay), units)
	p.persist()

	p.logger.Debug("pool stake",
		zap.String("account", account.String()),
		zap.String("quantity", quantity.String()),
		zap.Uint64("units", units))
	return nil
}

// Unstake sells matured units; proceeds land in the account's fund.
func (p *SimulatePool) Unstake(ctx context.Context, account domain.AccountID, units uint64) (domain.Amount, error) {
	if units == 0 {
		return domain.Amount{}, domain.Validationf("unstake of zero units")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	pos := p.positionLocked(account)
	pos.rollMatured(p.clock())
	if pos.matured < units {
		return domain.Amount{}, domain.Statef("%s has %d matured units, cannot unstake %d", account, pos.matured, units)
	}

	value, err := p.state.ValueOf(units)
	if err != nil {
		return domain.Amount{}, err
	}
	proceeds := domain.NewAmount(value, p.reserve.Denom)
	available, err := p.state.TotalLendable.Sub(p.state.TotalLent)
	if err != nil {
		return domain.Amount{}, err
	}
	if available.Quantity < proceeds.Quantity {
		return domain.Amount{}, domain.Statef("pool liquidity %s cannot cover %s", available, proceeds)
	}

	lendable, err := p.state.TotalLendable.Sub(proceeds)
	if err != nil {
		return domain.Amount{}, err
	}
	fund, err := pos.fund.Add(proceeds)
	if err != nil {
		return domain.Amount{}, err
	}

	p.state.TotalLendable = lendable
	p.state.TotalRex -= units
	pos.matured -= units
	pos.fund = fund
	p.persist()

	return proceeds, nil
}

// Withdraw pays fund balance back to the account. A zero quantity withdraws the whole fund.
func (p *SimulatePool) Withdraw(ctx context.Context, account domain.AccountID, quantity domain.Amount) (domain.Amount, error) {
	p.mu.Lock()
	pos := p.positionLocked(account)
	if quantity.IsZero() {
		quantity = pos.fund
	}
	if !quantity.IsPositive() {
		p.mu.Unlock()
		return domain.Amount{}, domain.Statef("pool fund of %s is empty", account)
	}
	if quantity.Denom != p.reserve.Denom || pos.fund.Quantity < quantity.Quantity {
		p.mu.Unlock()
		return domain.Amount{}, domain.Statef("pool fund of %s is %s, cannot withdraw %s", account, pos.fund, quantity)
	}
	fund, err := pos.fund.Sub(quantity)
	if err != nil {
		p.mu.Unlock()
		return domain.Amount{}, err
	}
	pos.fund = fund
	p.persist()
	p.mu.Unlock()

	// the transfer notifies the account, so the pool lock must not be held
	if err := p.ledger.Transfer(ctx, p.reserve.Contract, p.account, account, quantity, "withdraw from pool fund"); err != nil {
		p.mu.Lock()
		if restored, addErr := pos.fund.Add(quantity); addErr == nil {
			pos.fund = restored
		}
		p.persist()
		p.mu.Unlock()
		return domain.Amount{}, errors.Wrap(err, "transfer from pool")
	}

	return quantity, nil
}

// Accrue adds rental income to the pool, raising the value of every unit.
func (p *SimulatePool) Accrue(ctx context.Context, quantity domain.Amount) error {
	if err := p.checkQuantity(quantity); err != nil {
		return err
	}
	if err := p.ledger.Credit(ctx, p.reserve.Contract, p.account, quantity); err != nil {
		return errors.Wrap(err, "credit pool income")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	lendable, err := p.state.TotalLendable.Add(quantity)
	if err != nil {
		return err
	}
	p.state.TotalLendable = lendable
	p.persist()

	return nil
}

// Lend moves lendable reserve out on loan, raising utilization.
func (p *SimulatePool) Lend(ctx context.Context, quantity domain.Amount) error {
	if err := p.checkQuantity(quantity); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	lent, err := p.state.TotalLent.Add(quantity)
	if err != nil {
		return err
	}
	if lent.Quantity > p.state.TotalLendable.Quantity {
		return domain.Statef("lent %s exceeds lendable %s", lent, p.state.TotalLendable)
	}
	p.state.TotalLent = lent
	p.persist()

	return nil
}

// Repay returns lent reserve to the pool.
func (p *SimulatePool) Repay(ctx context.Context, quantity domain.Amount) error {
	if err := p.checkQuantity(quantity); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if quantity.Quantity > p.state.TotalLent.Quantity {
		return domain.Statef("repay %s exceeds lent %s", quantity, p.state.TotalLent)
	}
	lent, err := p.state.TotalLent.Sub(quantity)
	if err != nil {
		return err
	}
	p.state.TotalLent = lent
	p.persist()

	return nil
}

func (p *SimulatePool) checkQuantity(quantity domain.Amount) error {
	if quantity.Denom != p.reserve.Denom {
		return domain.Validationf("pool only accepts %s, got %s", p.reserve.Denom, quantity.Denom)
	}
	if !quantity.IsPositive() {
		return domain.Validationf("pool quantity %s must be positive", quantity)
	}
	return nil
}

func (p *SimulatePool) positionLocked(account domain.AccountID) *position {
	pos, ok := p.positions[account]
	if !ok {
		pos = &position{fund: domain.ZeroAmount(p.reserve.Denom)}
		p.positions[account] = pos
	}
	return pos
}

func (pos *position) addBucket(unlock time.Time, units uint64) {
	for i := range pos.buckets {
		if pos.buckets[i].Unlock.Equal(unlock) {
			pos.buckets[i].Units += units
			return
		}
	}
	pos.buckets = append(pos.buckets, domain.MaturityBucket{Unlock: unlock, Units: units})
	sort.Slice(pos.buckets, func(i, j int) bool { return pos.buckets[i].Unlock.Before(pos.buckets[j].Unlock) })
}

// rollMatured moves unlocked buckets into the matured balance.
func (pos *position) rollMatured(now time.Time) {
	kept := pos.buckets[:0]
	for _, b := range pos.buckets {
		if b.Unlock.After(now) {
			kept = append(kept, b)
			continue
		}
		pos.matured += b.Units
	}
	pos.buckets = kept
}
