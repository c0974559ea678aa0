package outbox

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vadiminshakov/svault/internal/domain"
	"github.com/vadiminshakov/svault/internal/governance"
	"github.com/vadiminshakov/svault/internal/ledger"
	"github.com/vadiminshakov/svault/internal/stakepool"
	"github.com/vadiminshakov/svault/internal/storage/state"
	"github.com/vadiminshakov/svault/pkg/retrier"
)

var (
	eos     = domain.Denomination{Code: "EOS", Precision: 4}
	seos    = domain.Denomination{Code: "SEOS", Precision: 4}
	reserve = domain.Currency{Contract: "eosio.token", Denom: eos}
)

type collectRecorder struct {
	mu     sync.Mutex
	events []domain.AuditEvent
}

func (c *collectRecorder) Record(events ...domain.AuditEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, events...)
}

type fixture struct {
	store    *state.Store
	ledger   *ledger.SimulateLedger
	pool     *stakepool.SimulatePool
	gov      *governance.SimulateGovernance
	recorder *collectRecorder
	clock    *time.Time
	d        *Dispatcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	store, err := state.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	l, err := ledger.NewSimulateLedger(zap.NewNop(), nil)
	require.NoError(t, err)
	require.NoError(t, l.Create(ctx, reserve.Contract, "eosio", domain.NewAmount(1_000_000_000_000, eos)))
	require.NoError(t, l.Issue(ctx, reserve.Contract, "vault", domain.NewAmount(1_000_000, eos), "fund"))

	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	clock := &now
	nowFn := func() time.Time { return *clock }

	pool, err := stakepool.NewSimulatePool(zap.NewNop(), l, reserve, "eosio.rex", nowFn, nil)
	require.NoError(t, err)
	gov := governance.NewSimulateGovernance(nil)
	recorder := &collectRecorder{}

	cfg := Config{
		Vault:       "vault",
		MaxAttempts: 3,
		RetryOpts:   []retrier.Option{retrier.WithInitialInterval(time.Millisecond), retrier.WithMaxRetries(0)},
	}
	d := NewDispatcher(zap.NewNop(), store, l, pool, gov, recorder, cfg, nowFn)

	return &fixture{store: store, ledger: l, pool: pool, gov: gov, recorder: recorder, clock: clock, d: d}
}

func (f *fixture) schedule(t *testing.T, cmds ...domain.Command) {
	t.Helper()
	require.NoError(t, f.store.Update(func(tx *state.Tx) error {
		return Schedule(tx, *f.clock, cmds...)
	}))
}

func (f *fixture) balance(t *testing.T, account domain.AccountID) int64 {
	t.Helper()
	b, err := f.ledger.BalanceOf(context.Background(), reserve, account)
	require.NoError(t, err)
	return b.Quantity
}

func TestDispatcher_DrainRunsInOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.schedule(t,
		domain.NewCreateCurrencyCommand("stoken", "vault", domain.NewAmount(1_000_000_000, seos)),
		domain.NewIssueCommand("stoken", "alice", domain.NewAmount(5_000, seos), "deposit"),
		domain.NewTransferCommand(reserve.Contract, "vault", "alice", domain.NewAmount(100_000, eos), "withdraw"),
		domain.NewPoolDepositCommand("vault", domain.NewAmount(400_000, eos)),
		domain.NewPoolStakeCommand("vault", domain.NewAmount(400_000, eos)),
		domain.NewDelegateVoteCommand("vault", "proxy1"),
	)

	require.NoError(t, f.d.Drain(ctx))

	pending, err := f.d.Pending()
	require.NoError(t, err)
	assert.Empty(t, pending)

	supply, err := f.ledger.TotalSupply(ctx, domain.Currency{Contract: "stoken", Denom: seos})
	require.NoError(t, err)
	assert.Equal(t, int64(5_000), supply.Quantity)
	assert.Equal(t, int64(100_000), f.balance(t, "alice"))
	assert.Equal(t, int64(500_000), f.balance(t, "vault"))

	units, err := f.pool.AccountStakeUnits(ctx, "vault")
	require.NoError(t, err)
	assert.Equal(t, uint64(4_000_000_000), units.Total())

	proxy, ok := f.gov.DelegateOf(ctx, "vault")
	require.True(t, ok)
	assert.Equal(t, domain.AccountID("proxy1"), proxy)

	require.Len(t, f.recorder.events, 1)
	ev := f.recorder.events[0].(domain.WithdrawalExecuted)
	assert.Equal(t, domain.AccountID("alice"), ev.To)
	assert.Equal(t, "withdraw", ev.Memo)
}

func TestDispatcher_AuditsOnlyVaultTransfers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.ledger.Issue(ctx, reserve.Contract, "income", domain.NewAmount(2_000, eos), "fund"))

	f.schedule(t,
		domain.NewTransferCommand(reserve.Contract, "income", "vault", domain.NewAmount(2_000, eos), "income award"),
		domain.NewTransferCommand(reserve.Contract, "vault", "treasury", domain.NewAmount(1_000, eos), "fee"),
	)
	require.NoError(t, f.d.Drain(ctx))
	assert.Equal(t, int64(1_001_000), f.balance(t, "vault"))

	require.Len(t, f.recorder.events, 1)
	ev := f.recorder.events[0].(domain.WithdrawalExecuted)
	assert.Equal(t, domain.AccountID("vault"), ev.From)
	assert.Equal(t, domain.AccountID("treasury"), ev.To)
}

func TestDispatcher_FailureDoesNotBlockLaterCommands(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.schedule(t,
		domain.NewTransferCommand(reserve.Contract, "vault", "alice", domain.NewAmount(5_000_000, eos), "too much"),
		domain.NewTransferCommand(reserve.Contract, "vault", "bob", domain.NewAmount(1_000, eos), "ok"),
	)

	err := f.d.Drain(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrState)
	assert.Equal(t, int64(1_000), f.balance(t, "bob"))

	pending, err := f.d.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, domain.CommandFailed, pending[0].Status)
	assert.Equal(t, 1, pending[0].Attempts)
	assert.NotEmpty(t, pending[0].LastError)

	// funding the vault lets the retry succeed
	require.NoError(t, f.ledger.Issue(ctx, reserve.Contract, "vault", domain.NewAmount(5_000_000, eos), "top up"))
	require.NoError(t, f.d.Retry(ctx))
	assert.Equal(t, int64(5_000_000), f.balance(t, "alice"))

	pending, err = f.d.Pending()
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestDispatcher_RetryAbandons(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.schedule(t, domain.NewTransferCommand(reserve.Contract, "vault", "alice", domain.NewAmount(5_000_000, eos), "too much"))

	require.Error(t, f.d.Drain(ctx))
	require.Error(t, f.d.Retry(ctx))
	require.Error(t, f.d.Retry(ctx))

	pending, err := f.d.Pending()
	require.NoError(t, err)
	assert.Empty(t, pending, "abandoned commands are no longer pending")

	var cmds []domain.Command
	require.NoError(t, f.store.View(func(tx *state.Tx) error {
		var err error
		cmds, err = tx.Commands()
		return err
	}))
	require.Len(t, cmds, 1)
	assert.Equal(t, domain.CommandAbandoned, cmds[0].Status)
	assert.Equal(t, 3, cmds[0].Attempts)

	assert.NoError(t, f.d.Retry(ctx), "abandoned commands are not retried")
}

func TestDispatcher_SettleTransferTolerance(t *testing.T) {
	tests := []struct {
		name      string
		requested int64
		wantSent  int64
		wantErr   error
	}{
		{name: "covered", requested: 1_000_000, wantSent: 1_000_000},
		{name: "short within tolerance", requested: 1_000_009, wantSent: 1_000_000},
		{name: "short beyond tolerance", requested: 1_000_010, wantErr: domain.ErrLiquidityShortfall},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.schedule(t, domain.NewSettleTransferCommand(reserve.Contract, "vault", "alice", domain.NewAmount(tt.requested, eos), "withdraw"))

			err := f.d.Drain(context.Background())
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Zero(t, f.balance(t, "alice"))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantSent, f.balance(t, "alice"))
			ev := f.recorder.events[0].(domain.WithdrawalExecuted)
			assert.Equal(t, tt.wantSent, ev.Quantity.Quantity)
		})
	}
}

func TestDispatcher_UnstakeThenWithdraw(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.schedule(t,
		domain.NewPoolDepositCommand("vault", domain.NewAmount(1_000_000, eos)),
		domain.NewPoolStakeCommand("vault", domain.NewAmount(1_000_000, eos)),
	)
	require.NoError(t, f.d.Drain(ctx))
	assert.Zero(t, f.balance(t, "vault"))

	f.schedule(t, domain.NewPoolUnstakeCommand("vault", 5_000_000_000, domain.NewAmount(500_000, eos)))
	assert.ErrorIs(t, f.d.Drain(ctx), domain.ErrState, "nothing matured yet")

	*f.clock = f.clock.Add(stakepool.MaturityDelay)
	f.schedule(t,
		domain.NewPoolUnstakeCommand("vault", 20_000_000_000, domain.NewAmount(2_000_000, eos)),
		domain.NewPoolWithdrawCommand("vault", domain.NewAmount(2_000_000, eos)),
	)
	// the earlier failed unstake waits for Retry; the new one is capped at the matured units
	require.NoError(t, f.d.Drain(ctx))
	assert.Equal(t, int64(1_000_000), f.balance(t, "vault"))
}
