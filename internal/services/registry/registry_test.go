package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/svault/internal/domain"
	"github.com/vadiminshakov/svault/internal/storage/state"
)

var (
	eos = domain.Denomination{Code: "EOS", Precision: 4}
	usd = domain.Denomination{Code: "USDT", Precision: 4}
	now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

type mockLedger struct {
	mock.Mock
}

func (m *mockLedger) TotalSupply(ctx context.Context, currency domain.Currency) (domain.Amount, error) {
	args := m.Called(ctx, currency)
	return args.Get(0).(domain.Amount), args.Error(1)
}

func newRegistry(t *testing.T) (*Registry, *state.Store, *mockLedger) {
	t.Helper()
	store, err := state.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ledger := &mockLedger{}
	ledger.On("TotalSupply", mock.Anything, domain.Currency{Contract: "eosio.token", Denom: eos}).
		Return(domain.NewAmount(1_000_000, eos), nil)
	ledger.On("TotalSupply", mock.Anything, domain.Currency{Contract: "tether.token", Denom: usd}).
		Return(domain.NewAmount(1_000_000, usd), nil)
	ledger.On("TotalSupply", mock.Anything, mock.Anything).
		Return(domain.Amount{}, domain.NotFoundf("currency"))

	return New(nil, ledger, "stoken", "vault"), store, ledger
}

func eosRequest() RegisterRequest {
	return RegisterRequest{
		DepositContract: "eosio.token",
		DepositDenom:    eos,
		IncomeAccount:   "income",
		FeesAccount:     "fees",
		MinimumDeposit:  domain.NewAmount(10_000, eos),
		IncomeRatio:     1000,
		ReleaseFeeBP:    100,
		RefundRatioBP:   5000,
	}
}

func register(t *testing.T, r *Registry, store *state.Store, req RegisterRequest) (domain.Collateral, domain.Effects, error) {
	t.Helper()
	var (
		c       domain.Collateral
		effects domain.Effects
	)
	err := store.Update(func(tx *state.Tx) error {
		var err error
		c, effects, err = r.Register(context.Background(), tx, req, now)
		return err
	})
	return c, effects, err
}

func TestRegistry_Register(t *testing.T) {
	r, store, _ := newRegistry(t)

	c, effects, err := register(t, r, store, eosRequest())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), c.ID)
	assert.Equal(t, domain.Denomination{Code: "SEOS", Precision: 4}, c.ReceiptDenom)
	assert.True(t, c.TotalIncome.IsZero())
	assert.Equal(t, eos, c.TotalIncome.Denom)

	require.Len(t, effects.Commands, 1)
	create := effects.Commands[0]
	assert.Equal(t, domain.CommandCreateCurrency, create.Kind)
	assert.Equal(t, domain.AccountID("stoken"), create.Contract)
	assert.Equal(t, domain.AccountID("vault"), create.From)
	assert.Equal(t, "1000000000.0000 SEOS", create.Quantity.String())
	require.Len(t, effects.Events, 1)
	assert.Equal(t, domain.AuditCollateralUpdated, effects.Events[0].Kind())

	byDeposit, ok := r.ByDeposit(c.DepositCurrency())
	require.True(t, ok)
	assert.Equal(t, c.ID, byDeposit.ID)
	byReceipt, ok := r.ByReceipt(c.ReceiptDenom)
	require.True(t, ok)
	assert.Equal(t, c.ID, byReceipt.ID)

	req := eosRequest()
	req.DepositContract = "tether.token"
	req.DepositDenom = usd
	req.MinimumDeposit = domain.NewAmount(1, usd)
	second, _, err := register(t, r, store, req)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), second.ID)

	all := r.All()
	require.Len(t, all, 2)
	assert.Equal(t, uint64(1), all[0].ID)
	assert.Equal(t, uint64(2), all[1].ID)
}

func TestRegistry_RegisterErrors(t *testing.T) {
	r, store, _ := newRegistry(t)
	_, _, err := register(t, r, store, eosRequest())
	require.NoError(t, err)

	tests := []struct {
		name   string
		modify func(*RegisterRequest)
		want   error
	}{
		{
			name:   "duplicate deposit currency",
			modify: func(*RegisterRequest) {},
			want:   domain.ErrState,
		},
		{
			name: "ratio above basis points",
			modify: func(req *RegisterRequest) {
				req.DepositContract = "tether.token"
				req.DepositDenom = usd
				req.MinimumDeposit = domain.NewAmount(1, usd)
				req.ReleaseFeeBP = 10001
			},
			want: domain.ErrValidation,
		},
		{
			name: "minimum deposit denomination",
			modify: func(req *RegisterRequest) {
				req.DepositContract = "tether.token"
				req.DepositDenom = usd
			},
			want: domain.ErrValidation,
		},
		{
			name: "unknown to ledger",
			modify: func(req *RegisterRequest) {
				req.DepositContract = "fake.token"
				req.DepositDenom = usd
				req.MinimumDeposit = domain.NewAmount(1, usd)
			},
			want: domain.ErrValidation,
		},
		{
			name: "receipt collision",
			modify: func(req *RegisterRequest) {
				req.DepositContract = "other.token"
			},
			want: domain.ErrValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := eosRequest()
			tt.modify(&req)
			_, _, err := register(t, r, store, req)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	assert.Len(t, r.All(), 1, "failed registrations leave no trace")
}

func TestRegistry_ReceiptCollisionNeedsLedgerCurrency(t *testing.T) {
	r, store, ledger := newRegistry(t)
	_, _, err := register(t, r, store, eosRequest())
	require.NoError(t, err)

	ledger.ExpectedCalls = nil
	ledger.On("TotalSupply", mock.Anything, mock.Anything).Return(domain.NewAmount(1, eos), nil)

	req := eosRequest()
	req.DepositContract = "other.token"
	_, _, err = register(t, r, store, req)
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.NotErrorIs(t, err, domain.ErrState)
}

func TestRegistry_Update(t *testing.T) {
	r, store, _ := newRegistry(t)
	c, _, err := register(t, r, store, eosRequest())
	require.NoError(t, err)

	req := UpdateRequest{
		ID:             c.ID,
		IncomeAccount:  "income2",
		FeesAccount:    "fees2",
		MinimumDeposit: domain.NewAmount(20_000, eos),
		IncomeRatio:    500,
		ReleaseFeeBP:   50,
		RefundRatioBP:  2500,
	}
	err = store.Update(func(tx *state.Tx) error {
		updated, effects, err := r.Update(context.Background(), tx, req, now)
		if err != nil {
			return err
		}
		assert.Equal(t, domain.AccountID("income2"), updated.IncomeAccount)
		assert.Len(t, effects.Events, 1)
		assert.Empty(t, effects.Commands)
		return nil
	})
	require.NoError(t, err)

	got, ok := r.ByID(c.ID)
	require.True(t, ok)
	assert.Equal(t, uint16(500), got.IncomeRatio)
	assert.Equal(t, c.ReceiptDenom, got.ReceiptDenom)

	tests := []struct {
		name   string
		modify func(*UpdateRequest)
		want   error
	}{
		{name: "unknown id", modify: func(u *UpdateRequest) { u.ID = 42 }, want: domain.ErrNotFound},
		{name: "ratio", modify: func(u *UpdateRequest) { u.IncomeRatio = 20000 }, want: domain.ErrValidation},
		{name: "denomination", modify: func(u *UpdateRequest) { u.MinimumDeposit = domain.NewAmount(1, usd) }, want: domain.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := req
			tt.modify(&u)
			err := store.Update(func(tx *state.Tx) error {
				_, _, err := r.Update(context.Background(), tx, u, now)
				return err
			})
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestRegistry_IndexFollowsCommit(t *testing.T) {
	r, store, _ := newRegistry(t)

	err := store.Update(func(tx *state.Tx) error {
		if _, _, err := r.Register(context.Background(), tx, eosRequest(), now); err != nil {
			return err
		}
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)
	assert.Empty(t, r.All(), "rolled back registration is not indexed")

	_, _, err = register(t, r, store, eosRequest())
	require.NoError(t, err)

	reloaded := New(nil, nil, "stoken", "vault")
	require.NoError(t, store.View(reloaded.Load))
	c, ok := reloaded.ByDeposit(domain.Currency{Contract: "eosio.token", Denom: eos})
	require.True(t, ok)
	assert.Equal(t, uint64(1), c.ID)
}

func TestReceiptMaxSupply(t *testing.T) {
	assert.Equal(t, int64(1_000_000_000), ReceiptMaxSupply(domain.Denomination{Code: "SX", Precision: 0}).Quantity)
	assert.Equal(t, int64(10_000_000_000_000), ReceiptMaxSupply(domain.Denomination{Code: "SEOS", Precision: 4}).Quantity)
	assert.Equal(t, int64(1<<62-1), ReceiptMaxSupply(domain.Denomination{Code: "SETH", Precision: 18}).Quantity)
}
