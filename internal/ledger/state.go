package ledger

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/svault/internal/domain"
	"github.com/vadiminshakov/svault/internal/storage/simstate"
)

func (l *SimulateLedger) restoreState() error {
	if l.stateStore == nil {
		return nil
	}
	var state simstate.LedgerState
	ok, err := l.stateStore.Load(&state)
	if err != nil || !ok {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	for _, sc := range state.Currencies {
		maxSupply, err := domain.ParseAmount(sc.MaxSupply)
		if err != nil {
			return errors.Wrapf(err, "decode max supply of %s", sc.Contract)
		}
		supply, err := domain.ParseAmount(sc.Supply)
		if err != nil {
			return errors.Wrapf(err, "decode supply of %s", sc.Contract)
		}
		cur := domain.Currency{Contract: domain.AccountID(sc.Contract), Denom: maxSupply.Denom}
		l.currencies[cur] = &currencyState{
			issuer:    domain.AccountID(sc.Issuer),
			maxSupply: maxSupply,
			supply:    supply,
		}
	}

	for _, sb := range state.Balances {
		amount, err := domain.ParseAmount(sb.Amount)
		if err != nil {
			return errors.Wrapf(err, "decode balance of %s", sb.Account)
		}
		key := balanceKey{
			contract: domain.AccountID(sb.Contract),
			code:     amount.Denom.Code,
			account:  domain.AccountID(sb.Account),
		}
		l.balances[key] = amount
	}

	return nil
}

func (l *SimulateLedger) persist() {
	if l.stateStore == nil {
		return
	}

	state := simstate.LedgerState{
		Currencies: make([]simstate.StoredCurrency, 0, len(l.currencies)),
		Balances:   make([]simstate.StoredBalance, 0, len(l.balances)),
	}
	for cur, st := range l.currencies {
		state.Currencies = append(state.Currencies, simstate.StoredCurrency{
			Contract:  cur.Contract.String(),
			Issuer:    st.issuer.String(),
			MaxSupply: st.maxSupply.String(),
			Supply:    st.supply.String(),
		})
	}
	for k, v := range l.balances {
		state.Balances = append(state.Balances, simstate.StoredBalance{
			Contract: k.contract.String(),
			Account:  k.account.String(),
			Amount:   v.String(),
		})
	}

	if err := l.stateStore.Save(state); err != nil {
		l.logger.Warn("failed to persist ledger state", zap.Error(err))
	}
}
