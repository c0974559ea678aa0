// Package registry keeps the table of accepted collaterals with O(1) secondary indices.
package registry

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/svault/internal/domain"
	"github.com/vadiminshakov/svault/internal/storage/state"
)

// receiptMaxUnits is the receipt currency max supply in whole units.
const receiptMaxUnits uint64 = 1_000_000_000

// Ledger reports whether a currency exists on the host ledger.
type Ledger interface {
	TotalSupply(ctx context.Context, currency domain.Currency) (domain.Amount, error)
}

// RegisterRequest describes a new collateral.
type RegisterRequest struct {
	DepositContract domain.AccountID
	DepositDenom    domain.Denomination
	IncomeAccount   domain.AccountID
	FeesAccount     domain.AccountID
	MinimumDeposit  domain.Amount
	IncomeRatio     uint16
	ReleaseFeeBP    uint16
	RefundRatioBP   uint16
}

// UpdateRequest changes the mutable parameters of a collateral.
type UpdateRequest struct {
	ID             uint64
	IncomeAccount  domain.AccountID
	FeesAccount    domain.AccountID
	MinimumDeposit domain.Amount
	IncomeRatio    uint16
	ReleaseFeeBP   uint16
	RefundRatioBP  uint16
}

// Registry indexes collaterals by id, deposit currency and receipt denomination.
type Registry struct {
	mu              sync.RWMutex
	logger          *zap.Logger
	ledger          Ledger
	receiptContract domain.AccountID
	issuer          domain.AccountID

	byID      map[uint64]domain.Collateral
	byDeposit map[domain.Currency]uint64
	byReceipt map[domain.Denomination]uint64
}

// New creates an empty registry. Receipt currencies are created on receiptContract with issuer as their issuer.
func New(logger *zap.Logger, ledger Ledger, receiptContract, issuer domain.AccountID) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		logger:          logger,
		ledger:          ledger,
		receiptContract: receiptContract,
		issuer:          issuer,
		byID:            make(map[uint64]domain.Collateral),
		byDeposit:       make(map[domain.Currency]uint64),
		byReceipt:       make(map[domain.Denomination]uint64),
	}
}

// Load rebuilds the indices from the store.
func (r *Registry) Load(tx *state.Tx) error {
	collaterals, err := tx.Collaterals()
	if err != nil {
		return errors.Wrap(err, "load collaterals")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID = make(map[uint64]domain.Collateral, len(collaterals))
	r.byDeposit = make(map[domain.Currency]uint64, len(collaterals))
	r.byReceipt = make(map[domain.Denomination]uint64, len(collaterals))
	for _, c := range collaterals {
		r.indexLocked(c)
	}

	r.logger.Info("collateral registry loaded", zap.Int("collaterals", len(collaterals)))
	return nil
}

// Register validates and stores a new collateral and schedules creation of its receipt currency.
func (r *Registry) Register(ctx context.Context, tx *state.Tx, req RegisterRequest, now time.Time) (domain.Collateral, domain.Effects, error) {
	var effects domain.Effects

	deposit := domain.Currency{Contract: req.DepositContract, Denom: req.DepositDenom}
	if _, ok := r.ByDeposit(deposit); ok {
		return domain.Collateral{}, effects, domain.Statef("collateral for %s is already registered", deposit)
	}
	if err := domain.ValidateRatios(req.IncomeRatio, req.ReleaseFeeBP, req.RefundRatioBP); err != nil {
		return domain.Collateral{}, effects, err
	}
	if req.MinimumDeposit.Denom != req.DepositDenom {
		return domain.Collateral{}, effects, domain.Validationf("minimum deposit %s does not match %s", req.MinimumDeposit, req.DepositDenom)
	}

	supply, err := r.ledger.TotalSupply(ctx, deposit)
	if err != nil {
		return domain.Collateral{}, effects, domain.Validationf("deposit currency %s is unknown to the ledger: %v", deposit, err)
	}
	if supply.Denom != req.DepositDenom {
		return domain.Collateral{}, effects, domain.Validationf("ledger denomination %s does not match %s", supply.Denom, req.DepositDenom)
	}

	receipt, err := req.DepositDenom.Receipt()
	if err != nil {
		return domain.Collateral{}, effects, err
	}
	if _, ok := r.ByReceipt(receipt); ok {
		return domain.Collateral{}, effects, domain.Validationf("receipt denomination %s is already taken", receipt)
	}

	c := domain.Collateral{
		ID:              tx.LastCollateralID() + 1,
		DepositContract: req.DepositContract,
		DepositDenom:    req.DepositDenom,
		ReceiptDenom:    receipt,
		IncomeAccount:   req.IncomeAccount,
		FeesAccount:     req.FeesAccount,
		MinimumDeposit:  req.MinimumDeposit,
		IncomeRatio:     req.IncomeRatio,
		ReleaseFeeBP:    req.ReleaseFeeBP,
		RefundRatioBP:   req.RefundRatioBP,
		LastIncome:      domain.ZeroAmount(req.DepositDenom),
		TotalIncome:     domain.ZeroAmount(req.DepositDenom),
		UpdatedAt:       now,
	}
	if err := c.Validate(); err != nil {
		return domain.Collateral{}, effects, err
	}
	if err := r.Save(tx, c); err != nil {
		return domain.Collateral{}, effects, err
	}

	effects.AddCommands(domain.NewCreateCurrencyCommand(r.receiptContract, r.issuer, ReceiptMaxSupply(receipt)))
	effects.AddEvents(domain.CollateralUpdated{Timestamp: now, Created: true, Collateral: c})

	return c, effects, nil
}

// Update changes accounts, minimum deposit and ratios of an existing collateral.
func (r *Registry) Update(ctx context.Context, tx *state.Tx, req UpdateRequest, now time.Time) (domain.Collateral, domain.Effects, error) {
	var effects domain.Effects

	c, ok, err := tx.Collateral(req.ID)
	if err != nil {
		return domain.Collateral{}, effects, err
	}
	if !ok {
		return domain.Collateral{}, effects, domain.NotFoundf("collateral %d", req.ID)
	}
	if err := domain.ValidateRatios(req.IncomeRatio, req.ReleaseFeeBP, req.RefundRatioBP); err != nil {
		return domain.Collateral{}, effects, err
	}
	if req.MinimumDeposit.Denom != c.DepositDenom {
		return domain.Collateral{}, effects, domain.Validationf("minimum deposit %s does not match %s", req.MinimumDeposit, c.DepositDenom)
	}

	c.IncomeAccount = req.IncomeAccount
	c.FeesAccount = req.FeesAccount
	c.MinimumDeposit = req.MinimumDeposit
	c.IncomeRatio = req.IncomeRatio
	c.ReleaseFeeBP = req.ReleaseFeeBP
	c.RefundRatioBP = req.RefundRatioBP
	c.UpdatedAt = now
	if err := c.Validate(); err != nil {
		return domain.Collateral{}, effects, err
	}
	if err := r.Save(tx, c); err != nil {
		return domain.Collateral{}, effects, err
	}

	effects.AddEvents(domain.CollateralUpdated{Timestamp: now, Collateral: c})
	return c, effects, nil
}

// Save stores c in tx; the indices pick it up once tx commits.
func (r *Registry) Save(tx *state.Tx, c domain.Collateral) error {
	if err := tx.PutCollateral(c); err != nil {
		return errors.Wrapf(err, "store collateral %d", c.ID)
	}
	tx.OnCommit(func() {
		r.mu.Lock()
		r.indexLocked(c)
		r.mu.Unlock()
	})

	return nil
}

// ByID returns the collateral with the given id.
func (r *Registry) ByID(id uint64) (domain.Collateral, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byID[id]
	return c, ok
}

// ByDeposit returns the collateral accepting currency.
func (r *Registry) ByDeposit(currency domain.Currency) (domain.Collateral, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byDeposit[currency]
	if !ok {
		return domain.Collateral{}, false
	}
	return r.byID[id], true
}

// ByReceipt returns the collateral minting the receipt denomination.
func (r *Registry) ByReceipt(denom domain.Denomination) (domain.Collateral, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byReceipt[denom]
	if !ok {
		return domain.Collateral{}, false
	}
	return r.byID[id], true
}

// All returns every collateral ordered by id.
func (r *Registry) All() []domain.Collateral {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Collateral, 0, len(r.byID))
	for _, c := range r.byID {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out
}

func (r *Registry) indexLocked(c domain.Collateral) {
	r.byID[c.ID] = c
	r.byDeposit[c.DepositCurrency()] = c.ID
	r.byReceipt[c.ReceiptDenom] = c.ID
}

// ReceiptMaxSupply returns one billion whole units of denom, capped to the int64 range.
func ReceiptMaxSupply(denom domain.Denomination) domain.Amount {
	const limit = uint64(math.MaxInt64 >> 1)

	supply := receiptMaxUnits
	for i := uint8(0); i < denom.Precision; i++ {
		if supply > limit/10 {
			return domain.NewAmount(int64(limit), denom)
		}
		supply *= 10
	}

	return domain.NewAmount(int64(supply), denom)
}
