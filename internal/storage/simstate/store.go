package simstate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const defaultStateDir = "./wal/simulate"

// Store persists one simulated collaborator so restarts keep balances and stake positions.
type Store struct {
	path string
}

func getStateDir(dir string) string {
	if dir != "" {
		return dir
	}
	if stateDir := os.Getenv("SVAULT_SIMULATE_STATE_DIR"); stateDir != "" {
		return stateDir
	}
	return defaultStateDir
}

// NewStore creates a state store named after scope inside dir.
func NewStore(dir, scope string) (*Store, error) {
	stateDir := getStateDir(dir)
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create simulate state dir")
	}

	storeFileName := sanitizeScope(scope)
	if storeFileName == "" {
		return nil, errors.Errorf("invalid simulate state scope %q", scope)
	}

	fullName := fmt.Sprintf("%s.json", storeFileName)

	return &Store{path: filepath.Join(stateDir, fullName)}, nil
}

// LedgerState is the persisted form of the simulated token ledger.
type LedgerState struct {
	Currencies []StoredCurrency `json:"currencies"`
	Balances   []StoredBalance  `json:"balances"`
}

// StoredCurrency is one currency registered on the simulated ledger.
type StoredCurrency struct {
	Contract  string `json:"contract"`
	Issuer    string `json:"issuer"`
	MaxSupply string `json:"max_supply"`
	Supply    string `json:"supply"`
}

// StoredBalance is one non-zero account balance.
type StoredBalance struct {
	Contract string `json:"contract"`
	Account  string `json:"account"`
	Amount   string `json:"amount"`
}

// PoolState is the persisted form of the simulated staking pool.
type PoolState struct {
	TotalLendable string        `json:"total_lendable"`
	TotalLent     string        `json:"total_lent"`
	TotalRex      uint64        `json:"total_rex"`
	Accounts      []StoredStake `json:"accounts"`
}

// StoredStake is one account's fund and unit position.
type StoredStake struct {
	Account      string         `json:"account"`
	Fund         string         `json:"fund"`
	MaturedUnits uint64         `json:"matured_units"`
	Buckets      []StoredBucket `json:"buckets,omitempty"`
}

// StoredBucket is a batch of units unlocking at the same time.
type StoredBucket struct {
	Unlock time.Time `json:"unlock"`
	Units  uint64    `json:"units"`
}

// Load reads the persisted state into v. It reports false when nothing was stored yet.
func (s *Store) Load(v any) (bool, error) {
	if s == nil || s.path == "" {
		return false, nil
	}

	payload, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}

		return false, errors.Wrap(err, "read simulate state")
	}

	if len(payload) == 0 {
		return false, nil
	}

	if err := json.Unmarshal(payload, v); err != nil {
		return false, errors.Wrap(err, "decode simulate state")
	}

	return true, nil
}

// Save writes state to disk atomically via temp file.
func (s *Store) Save(state any) error {
	if s == nil || s.path == "" {
		return nil
	}

	payload, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode simulate state")
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return errors.Wrap(err, "write simulate state temp file")
	}

	if err := os.Rename(tmp, s.path); err != nil {
		return errors.Wrap(err, "persist simulate state")
	}

	return nil
}

// Path returns the file backing the store.
func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

func sanitizeScope(value string) string {
	value = strings.TrimSpace(strings.ToLower(value))
	if value == "" {
		return ""
	}

	var b strings.Builder

	prevUnderscore := false

	for _, r := range value {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)

			prevUnderscore = false

			continue
		}

		if !prevUnderscore {
			b.WriteByte('_')

			prevUnderscore = true
		}
	}

	return strings.Trim(b.String(), "_")
}
