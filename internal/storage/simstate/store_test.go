package simstate

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_SaveLoad(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, "Ledger State")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "ledger_state.json"), store.Path())

	var empty LedgerState
	ok, err := store.Load(&empty)
	require.NoError(t, err)
	assert.False(t, ok)

	state := PoolState{
		TotalLendable: "1000.0000 EOS",
		TotalLent:     "10.0000 EOS",
		TotalRex:      10_000_000,
		Accounts: []StoredStake{{
			Account: "vault",
			Fund:    "0.0000 EOS",
			Buckets: []StoredBucket{{Unlock: time.Unix(1_700_000_000, 0).UTC(), Units: 42}},
		}},
	}
	require.NoError(t, store.Save(state))

	_, err = os.Stat(store.Path() + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file must be renamed away")

	var loaded PoolState
	ok, err = store.Load(&loaded)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, state, loaded)
}

func TestNewStore_RejectsEmptyScope(t *testing.T) {
	_, err := NewStore(t.TempDir(), " -- ")
	assert.Error(t, err)
}

func TestSanitizeScope(t *testing.T) {
	assert.Equal(t, "eosio_token", sanitizeScope("eosio.token"))
	assert.Equal(t, "a_b", sanitizeScope("__A  B__"))
}
