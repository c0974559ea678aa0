package harvester

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/svault/internal/domain"
	"github.com/vadiminshakov/svault/internal/storage/state"
)

var (
	eos = domain.Denomination{Code: "EOS", Precision: 4}
	usd = domain.Denomination{Code: "USDT", Precision: 4}
)

type memCollaterals struct {
	items []domain.Collateral
}

func (m *memCollaterals) All() []domain.Collateral {
	return append([]domain.Collateral(nil), m.items...)
}

func (m *memCollaterals) Save(tx *state.Tx, c domain.Collateral) error {
	if err := tx.PutCollateral(c); err != nil {
		return err
	}
	for i := range m.items {
		if m.items[i].ID == c.ID {
			m.items[i] = c
		}
	}
	return nil
}

type stubLedger map[domain.AccountID]int64

func (s stubLedger) BalanceOf(ctx context.Context, currency domain.Currency, account domain.AccountID) (domain.Amount, error) {
	return domain.NewAmount(s[account], currency.Denom), nil
}

func newCollaterals() *memCollaterals {
	return &memCollaterals{items: []domain.Collateral{
		{
			ID: 1, DepositContract: "eosio.token", DepositDenom: eos, IncomeAccount: "eos.income",
			IncomeRatio: 1000, LastIncome: domain.ZeroAmount(eos), TotalIncome: domain.ZeroAmount(eos),
		},
		{
			ID: 2, DepositContract: "tether.token", DepositDenom: usd, IncomeAccount: "usd.income",
			IncomeRatio: 4000, LastIncome: domain.ZeroAmount(usd), TotalIncome: domain.ZeroAmount(usd),
		},
	}}
}

func tick(t *testing.T, h *Harvester, store *state.Store, status *domain.VaultStatus, now time.Time) domain.Effects {
	t.Helper()
	var effects domain.Effects
	err := store.Update(func(tx *state.Tx) error {
		var err error
		effects, err = h.Tick(context.Background(), tx, status, now)
		return err
	})
	require.NoError(t, err)
	return effects
}

func TestHarvester_Tick(t *testing.T) {
	store, err := state.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	collaterals := newCollaterals()
	ledger := stubLedger{"eos.income": 1_000_000, "usd.income": 50_000}
	h := New(nil, collaterals, ledger, "vault", DefaultInterval)
	status := domain.DefaultVaultStatus()

	start := time.Date(2026, 5, 1, 12, 3, 0, 0, time.UTC)

	effects := tick(t, h, store, &status, start)
	assert.True(t, effects.IsEmpty(), "first tick only records the interval")
	assert.Equal(t, uint64(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC).Unix()), status.LastIncomeTick)

	effects = tick(t, h, store, &status, start.Add(5*time.Minute))
	assert.True(t, effects.IsEmpty(), "same interval")

	// 12:00 -> 12:20 is two periods
	effects = tick(t, h, store, &status, start.Add(17*time.Minute))
	require.Len(t, effects.Commands, 2)

	eosCmd := effects.Commands[0]
	assert.Equal(t, domain.CommandTransfer, eosCmd.Kind)
	assert.Equal(t, domain.AccountID("eos.income"), eosCmd.From)
	assert.Equal(t, domain.AccountID("vault"), eosCmd.To)
	assert.Equal(t, "20.0000 EOS", eosCmd.Quantity.String())
	assert.Equal(t, "award", eosCmd.Memo)
	assert.Equal(t, "4.0000 USDT", effects.Commands[1].Quantity.String())

	require.Len(t, effects.Events, 2)
	ev := effects.Events[0].(domain.IncomeHarvested)
	assert.Equal(t, uint64(2), ev.Periods)
	assert.Equal(t, uint64(2000), ev.Ratio)
	assert.Equal(t, "20.0000 EOS", collaterals.items[0].TotalIncome.String())
	assert.Equal(t, "20.0000 EOS", collaterals.items[0].LastIncome.String())

	effects = tick(t, h, store, &status, start.Add(19*time.Minute))
	assert.True(t, effects.IsEmpty(), "second call in the same interval harvests nothing")

	// long gap saturates the ratio at the whole balance
	ledger["eos.income"] = 300
	ledger["usd.income"] = 0
	effects = tick(t, h, store, &status, start.Add(10*time.Hour))
	require.Len(t, effects.Commands, 1)
	assert.Equal(t, int64(300), effects.Commands[0].Quantity.Quantity)
	assert.True(t, collaterals.items[1].LastIncome.IsZero(), "last income recorded even when nothing moved")
	assert.Len(t, effects.Events, 2)

	err = store.View(func(tx *state.Tx) error {
		c, ok, err := tx.Collateral(1)
		require.True(t, ok)
		assert.Equal(t, int64(200_300), c.TotalIncome.Quantity)
		return err
	})
	require.NoError(t, err)
}

func TestHarvester_ClockBehind(t *testing.T) {
	store, err := state.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	h := New(nil, newCollaterals(), stubLedger{"eos.income": 1_000}, "vault", DefaultInterval)
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	status := domain.DefaultVaultStatus()
	status.LastIncomeTick = h.Bucket(now)

	effects := tick(t, h, store, &status, now.Add(-time.Hour))
	assert.True(t, effects.IsEmpty())
	assert.Equal(t, h.Bucket(now), status.LastIncomeTick)
}
