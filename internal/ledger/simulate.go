// Package ledger provides an in-process fungible-token ledger used in simulate mode and tests.
package ledger

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/svault/internal/domain"
	"github.com/vadiminshakov/svault/internal/storage/simstate"
)

// Receiver is notified after a transfer credits its account. Returning an error reverts the transfer.
type Receiver interface {
	OnIncomingTransfer(ctx context.Context, notice domain.TransferNotice) error
}

// Serializer is a Receiver that needs no other credit to land between a transfer into its
// account and the notification about it. Exclusive must run fn with that guarantee and let
// calls made with fn's context through without blocking.
type Serializer interface {
	Exclusive(ctx context.Context, fn func(ctx context.Context) error) error
}

// TransferGate decides whether a transfer of a gated currency may proceed.
type TransferGate func(from, to domain.AccountID) error

type balanceKey struct {
	contract domain.AccountID
	code     string
	account  domain.AccountID
}

type currencyState struct {
	issuer    domain.AccountID
	maxSupply domain.Amount
	supply    domain.Amount
}

// Balance is one currency balance of an account.
type Balance struct {
	Contract domain.AccountID `json:"contract"`
	Amount   domain.Amount    `json:"amount"`
}

// SimulateLedger keeps balances and supplies per (contract, code) in memory.
type SimulateLedger struct {
	mu         sync.RWMutex
	logger     *zap.Logger
	currencies map[domain.Currency]*currencyState
	balances   map[balanceKey]domain.Amount
	receivers  map[domain.AccountID]Receiver
	gates      map[domain.AccountID]TransferGate
	stateStore *simstate.Store
}

// NewSimulateLedger creates a ledger, restoring state from store when one is given.
func NewSimulateLedger(logger *zap.Logger, store *simstate.Store) (*SimulateLedger, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &SimulateLedger{
		logger:     logger,
		currencies: make(map[domain.Currency]*currencyState),
		balances:   make(map[balanceKey]domain.Amount),
		receivers:  make(map[domain.AccountID]Receiver),
		gates:      make(map[domain.AccountID]TransferGate),
		stateStore: store,
	}
	if err := l.restoreState(); err != nil {
		return nil, errors.Wrap(err, "restore ledger state")
	}

	return l, nil
}

// RegisterReceiver subscribes account to incoming-transfer notifications.
func (l *SimulateLedger) RegisterReceiver(account domain.AccountID, r Receiver) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.receivers[account] = r
}

// SetTransferGate installs a gate consulted on every transfer of contract's currencies.
func (l *SimulateLedger) SetTransferGate(contract domain.AccountID, gate TransferGate) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.gates[contract] = gate
}

// Create registers a currency with its issuer and max supply.
func (l *SimulateLedger) Create(ctx context.Context, contract, issuer domain.AccountID, maxSupply domain.Amount) error {
	if err := maxSupply.Denom.Validate(); err != nil {
		return err
	}
	if !maxSupply.IsPositive() {
		return domain.Validationf("max supply %s must be positive", maxSupply)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	cur := domain.Currency{Contract: contract, Denom: maxSupply.Denom}
	if l.findCurrencyLocked(contract, maxSupply.Denom.Code) != nil {
		return domain.Statef("currency %s already exists", cur)
	}
	l.currencies[cur] = &currencyState{
		issuer:    issuer,
		maxSupply: maxSupply,
		supply:    domain.ZeroAmount(maxSupply.Denom),
	}
	l.persist()

	l.logger.Info("currency created", zap.String("currency", cur.String()), zap.String("issuer", issuer.String()))
	return nil
}

// Issue mints quantity to the recipient.
func (l *SimulateLedger) Issue(ctx context.Context, contract, to domain.AccountID, quantity domain.Amount, memo string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, err := l.currencyLocked(contract, quantity)
	if err != nil {
		return err
	}
	if !quantity.IsPositive() {
		return domain.Validationf("issue quantity %s must be positive", quantity)
	}
	supply, err := st.supply.Add(quantity)
	if err != nil {
		return err
	}
	if supply.Quantity > st.maxSupply.Quantity {
		return domain.Statef("issue of %s exceeds max supply %s", quantity, st.maxSupply)
	}
	if err := l.creditLocked(contract, to, quantity); err != nil {
		return err
	}
	st.supply = supply
	l.persist()

	return nil
}

// Retire burns quantity from the issuer's own balance.
func (l *SimulateLedger) Retire(ctx context.Context, contract domain.AccountID, quantity domain.Amount, memo string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, err := l.currencyLocked(contract, quantity)
	if err != nil {
		return err
	}
	if !quantity.IsPositive() {
		return domain.Validationf("retire quantity %s must be positive", quantity)
	}
	if err := l.debitLocked(contract, st.issuer, quantity); err != nil {
		return err
	}
	supply, err := st.supply.Sub(quantity)
	if err != nil {
		return err
	}
	st.supply = supply
	l.persist()

	return nil
}

// Credit funds an account out of thin air, raising the supply. Simulation only.
func (l *SimulateLedger) Credit(ctx context.Context, contract, to domain.AccountID, quantity domain.Amount) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, err := l.currencyLocked(contract, quantity)
	if err != nil {
		return err
	}
	if !quantity.IsPositive() {
		return domain.Validationf("credit quantity %s must be positive", quantity)
	}
	supply, err := st.supply.Add(quantity)
	if err != nil {
		return err
	}
	if err := l.creditLocked(contract, to, quantity); err != nil {
		return err
	}
	st.supply = supply
	l.persist()

	return nil
}

// Transfer moves quantity and then notifies the recipient's receiver, reverting if it rejects.
// When the receiver is a Serializer the move and the notification run inside its Exclusive.
func (l *SimulateLedger) Transfer(ctx context.Context, contract, from, to domain.AccountID, quantity domain.Amount, memo string) error {
	if from == to {
		return domain.Validationf("cannot transfer to self")
	}
	if !quantity.IsPositive() {
		return domain.Validationf("transfer quantity %s must be positive", quantity)
	}

	l.mu.RLock()
	receiver := l.receivers[to]
	l.mu.RUnlock()

	notice := domain.TransferNotice{Contract: contract, From: from, To: to, Quantity: quantity, Memo: memo}
	if s, ok := receiver.(Serializer); ok {
		return s.Exclusive(ctx, func(ctx context.Context) error {
			return l.transfer(ctx, notice, receiver)
		})
	}

	return l.transfer(ctx, notice, receiver)
}

func (l *SimulateLedger) transfer(ctx context.Context, n domain.TransferNotice, receiver Receiver) error {
	l.mu.Lock()
	if _, err := l.currencyLocked(n.Contract, n.Quantity); err != nil {
		l.mu.Unlock()
		return err
	}
	if gate := l.gates[n.Contract]; gate != nil {
		if err := gate(n.From, n.To); err != nil {
			l.mu.Unlock()
			return err
		}
	}
	if err := l.moveLocked(n.Contract, n.From, n.To, n.Quantity); err != nil {
		l.mu.Unlock()
		return err
	}
	l.persist()
	l.mu.Unlock()

	if receiver == nil {
		return nil
	}

	if err := receiver.OnIncomingTransfer(ctx, n); err != nil {
		l.mu.Lock()
		if revertErr := l.moveLocked(n.Contract, n.To, n.From, n.Quantity); revertErr != nil {
			l.logger.Error("failed to revert rejected transfer",
				zap.String("from", n.From.String()),
				zap.String("to", n.To.String()),
				zap.String("quantity", n.Quantity.String()),
				zap.Error(revertErr))
		}
		l.persist()
		l.mu.Unlock()

		return errors.Wrapf(err, "transfer of %s rejected by %s", n.Quantity, n.To)
	}

	return nil
}

// BalanceOf returns the account balance, zero when no balance row exists.
func (l *SimulateLedger) BalanceOf(ctx context.Context, currency domain.Currency, account domain.AccountID) (domain.Amount, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	b, ok := l.balances[balanceKey{contract: currency.Contract, code: currency.Denom.Code, account: account}]
	if !ok {
		return domain.ZeroAmount(currency.Denom), nil
	}
	if b.Denom != currency.Denom {
		return domain.Amount{}, domain.Validationf("balance of %s is %s, not %s", account, b.Denom, currency.Denom)
	}

	return b, nil
}

// TotalSupply returns the outstanding supply of currency.
func (l *SimulateLedger) TotalSupply(ctx context.Context, currency domain.Currency) (domain.Amount, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	st, ok := l.currencies[currency]
	if !ok {
		return domain.Amount{}, domain.NotFoundf("currency %s", currency)
	}

	return st.supply, nil
}

// Balances lists every non-zero balance of account ordered by contract and code.
func (l *SimulateLedger) Balances(ctx context.Context, account domain.AccountID) []Balance {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []Balance
	for k, v := range l.balances {
		if k.account == account && !v.IsZero() {
			out = append(out, Balance{Contract: k.contract, Amount: v})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Contract != out[j].Contract {
			return out[i].Contract < out[j].Contract
		}
		return out[i].Amount.Denom.Code < out[j].Amount.Denom.Code
	})

	return out
}

func (l *SimulateLedger) findCurrencyLocked(contract domain.AccountID, code string) *currencyState {
	for cur, st := range l.currencies {
		if cur.Contract == contract && cur.Denom.Code == code {
			return st
		}
	}
	return nil
}

func (l *SimulateLedger) currencyLocked(contract domain.AccountID, quantity domain.Amount) (*currencyState, error) {
	st, ok := l.currencies[domain.Currency{Contract: contract, Denom: quantity.Denom}]
	if !ok {
		return nil, domain.NotFoundf("currency %s:%s", contract, quantity.Denom)
	}
	return st, nil
}

func (l *SimulateLedger) moveLocked(contract, from, to domain.AccountID, quantity domain.Amount) error {
	if err := l.debitLocked(contract, from, quantity); err != nil {
		return err
	}
	if err := l.creditLocked(contract, to, quantity); err != nil {
		// restore debited funds
		_ = l.creditLocked(contract, from, quantity)
		return err
	}
	return nil
}

func (l *SimulateLedger) debitLocked(contract, account domain.AccountID, quantity domain.Amount) error {
	key := balanceKey{contract: contract, code: quantity.Denom.Code, account: account}
	bal, ok := l.balances[key]
	if !ok {
		bal = domain.ZeroAmount(quantity.Denom)
	}
	if bal.Quantity < quantity.Quantity {
		return domain.Statef("insufficient balance of %s: have %s, need %s", account, bal, quantity)
	}
	next, err := bal.Sub(quantity)
	if err != nil {
		return err
	}
	if next.IsZero() {
		delete(l.balances, key)
		return nil
	}
	l.balances[key] = next

	return nil
}

func (l *SimulateLedger) creditLocked(contract, account domain.AccountID, quantity domain.Amount) error {
	key := balanceKey{contract: contract, code: quantity.Denom.Code, account: account}
	bal, ok := l.balances[key]
	if !ok {
		bal = domain.ZeroAmount(quantity.Denom)
	}
	next, err := bal.Add(quantity)
	if err != nil {
		return err
	}
	l.balances[key] = next

	return nil
}
