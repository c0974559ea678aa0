package stakepool

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/svault/internal/domain"
	"github.com/vadiminshakov/svault/internal/storage/simstate"
)

func (p *SimulatePool) restoreState() error {
	if p.stateStore == nil {
		return nil
	}
	var state simstate.PoolState
	ok, err := p.stateStore.Load(&state)
	if err != nil || !ok {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	lendable, err := domain.ParseAmount(state.TotalLendable)
	if err != nil {
		return errors.Wrap(err, "decode total lendable")
	}
	lent, err := domain.ParseAmount(state.TotalLent)
	if err != nil {
		return errors.Wrap(err, "decode total lent")
	}
	p.state = domain.PoolState{TotalLendable: lendable, TotalLent: lent, TotalRex: state.TotalRex}

	for _, st := range state.Accounts {
		fund, err := domain.ParseAmount(st.Fund)
		if err != nil {
			return errors.Wrapf(err, "decode fund of %s", st.Account)
		}
		pos := &position{fund: fund, matured: st.MaturedUnits}
		for _, b := range st.Buckets {
			pos.buckets = append(pos.buckets, domain.MaturityBucket{Unlock: b.Unlock, Units: b.Units})
		}
		p.positions[domain.AccountID(st.Account)] = pos
	}

	return nil
}

func (p *SimulatePool) persist() {
	if p.stateStore == nil {
		return
	}

	state := simstate.PoolState{
		TotalLendable: p.state.TotalLendable.String(),
		TotalLent:     p.state.TotalLent.String(),
		TotalRex:      p.state.TotalRex,
		Accounts:      make([]simstate.StoredStake, 0, len(p.positions)),
	}
	for account, pos := range p.positions {
		st := simstate.StoredStake{
			Account:      account.String(),
			Fund:         pos.fund.String(),
			MaturedUnits: pos.matured,
		}
		for _, b := range pos.buckets {
			st.Buckets = append(st.Buckets, simstate.StoredBucket{Unlock: b.Unlock, Units: b.Units})
		}
		state.Accounts = append(state.Accounts, st)
	}

	if err := p.stateStore.Save(state); err != nil {
		p.logger.Warn("failed to persist pool state", zap.Error(err))
	}
}
