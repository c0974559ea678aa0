package state

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/svault/internal/domain"
)

var eos = domain.Denomination{Code: "EOS", Precision: 4}

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_StatusRoundTrip(t *testing.T) {
	s := openStore(t)

	require.NoError(t, s.View(func(tx *Tx) error {
		_, ok, err := tx.Status()
		require.NoError(t, err)
		assert.False(t, ok)
		return nil
	}))

	status := domain.DefaultVaultStatus()
	status.RedemptionSequence = 7
	require.NoError(t, s.Update(func(tx *Tx) error { return tx.PutStatus(status) }))

	require.NoError(t, s.View(func(tx *Tx) error {
		got, ok, err := tx.Status()
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, status, got)
		return nil
	}))
}

func TestStore_UpdateRollsBackOnError(t *testing.T) {
	s := openStore(t)
	committed := false

	err := s.Update(func(tx *Tx) error {
		tx.OnCommit(func() { committed = true })
		if err := tx.PutStatus(domain.DefaultVaultStatus()); err != nil {
			return err
		}
		return errors.New("boom")
	})
	require.Error(t, err)
	assert.False(t, committed)

	require.NoError(t, s.View(func(tx *Tx) error {
		_, ok, err := tx.Status()
		assert.False(t, ok)
		return err
	}))

	require.NoError(t, s.Update(func(tx *Tx) error {
		tx.OnCommit(func() { committed = true })
		return tx.PutStatus(domain.DefaultVaultStatus())
	}))
	assert.True(t, committed)
}

func TestStore_Collaterals(t *testing.T) {
	s := openStore(t)

	require.NoError(t, s.Update(func(tx *Tx) error {
		assert.Equal(t, uint64(0), tx.LastCollateralID())
		for _, id := range []uint64{2, 1} {
			c := domain.Collateral{ID: id, DepositContract: "eosio.token", DepositDenom: eos, MinimumDeposit: domain.NewAmount(int64(id), eos)}
			if err := tx.PutCollateral(c); err != nil {
				return err
			}
		}
		return nil
	}))

	require.NoError(t, s.View(func(tx *Tx) error {
		all, err := tx.Collaterals()
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, uint64(1), all[0].ID)
		assert.Equal(t, uint64(2), tx.LastCollateralID())

		c, ok, err := tx.Collateral(2)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, int64(2), c.MinimumDeposit.Quantity)
		return nil
	}))

	err := s.Update(func(tx *Tx) error { return tx.PutCollateral(domain.Collateral{}) })
	assert.Error(t, err)
}

func TestStore_RedemptionQueueIsFIFO(t *testing.T) {
	s := openStore(t)
	owner := domain.AccountID("alice")
	maturity := time.Date(2026, 1, 2, 3, 4, 5, 678, time.UTC)

	require.NoError(t, s.Update(func(tx *Tx) error {
		for _, id := range []uint64{3, 9, 12} {
			r := domain.PendingRedemption{ID: id, Owner: owner, MaturityTime: maturity}
			if err := tx.AppendRedemption(r); err != nil {
				return err
			}
		}
		return nil
	}))

	err := s.Update(func(tx *Tx) error {
		return tx.AppendRedemption(domain.PendingRedemption{ID: 5, Owner: owner})
	})
	assert.Error(t, err, "ids must grow along the queue")

	require.NoError(t, s.Update(func(tx *Tx) error {
		head, ok, err := tx.HeadRedemption(owner)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, uint64(3), head.ID)
		assert.True(t, maturity.Equal(head.MaturityTime))
		return tx.DeleteRedemption(owner, head.ID)
	}))

	require.NoError(t, s.View(func(tx *Tx) error {
		list, err := tx.Redemptions(owner)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, uint64(9), list[0].ID)
		assert.Equal(t, uint64(12), list[1].ID)
		return nil
	}))

	require.NoError(t, s.Update(func(tx *Tx) error {
		if err := tx.DeleteRedemption(owner, 9); err != nil {
			return err
		}
		return tx.DeleteRedemption(owner, 12)
	}))
	require.NoError(t, s.View(func(tx *Tx) error {
		_, ok, err := tx.HeadRedemption(owner)
		assert.False(t, ok)
		return err
	}))
}

func TestStore_Outbox(t *testing.T) {
	s := openStore(t)

	first := domain.NewTransferCommand("eosio.token", "vault", "alice", domain.NewAmount(10, eos), "payout")
	second := domain.NewIssueCommand("vault.token", "bob", domain.NewAmount(5, eos), "mint")
	require.NoError(t, s.Update(func(tx *Tx) error {
		if err := tx.EnqueueCommand(&first); err != nil {
			return err
		}
		return tx.EnqueueCommand(&second)
	}))
	assert.Less(t, first.Seq, second.Seq)

	first.Attempts = 2
	first.Status = domain.CommandFailed
	require.NoError(t, s.Update(func(tx *Tx) error { return tx.PutCommand(first) }))

	require.NoError(t, s.View(func(tx *Tx) error {
		cmds, err := tx.Commands()
		require.NoError(t, err)
		require.Len(t, cmds, 2)
		assert.Equal(t, first.ID, cmds[0].ID)
		assert.Equal(t, 2, cmds[0].Attempts)
		assert.Equal(t, domain.CommandIssue, cmds[1].Kind)
		return nil
	}))

	require.NoError(t, s.Update(func(tx *Tx) error { return tx.DeleteCommand(first.Seq) }))
	require.NoError(t, s.View(func(tx *Tx) error {
		_, ok, err := tx.Command(first.Seq)
		assert.False(t, ok)
		return err
	}))
}
