package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/vadiminshakov/svault/internal/domain"
)

const dataDirEnv = "SVAULT_DATA_DIR"

// Defaults applied when a yaml field is left empty.
const (
	DefaultHTTPAddr              = ":8080"
	DefaultDataDir               = "./data"
	DefaultMaturityDelay         = 120 * time.Hour
	DefaultHarvestInterval       = 10 * time.Minute
	DefaultStakeDustThreshold    = 10
	DefaultUtilizationCapPercent = 85
	DefaultOutboxRetryInterval   = 30 * time.Second
)

type Config struct {
	HTTPAddr    string
	TLSDomains  []string
	TLSCacheDir string
	DataDir     string

	Accounts Accounts
	Reserve  domain.Currency

	MaturityDelay         time.Duration
	HarvestInterval       time.Duration
	StakeDustThreshold    int64
	UtilizationCapPercent uint64
	OutboxRetryInterval   time.Duration

	Simulate    Simulate
	Collaterals []Collateral
}

// Accounts are the well-known accounts the vault talks to.
type Accounts struct {
	Vault           domain.AccountID
	Admin           domain.AccountID
	ReceiptContract domain.AccountID
	System          domain.AccountID
	Staking         domain.AccountID
}

// Simulate seeds the in-process ledger and staking pool on first start.
type Simulate struct {
	Currencies []Currency
	Balances   []Balance
	PoolIncome domain.Amount
	PoolLent   domain.Amount
}

type Currency struct {
	Contract  domain.AccountID
	Issuer    domain.AccountID
	MaxSupply domain.Amount
}

type Balance struct {
	Account  domain.AccountID
	Contract domain.AccountID
	Quantity domain.Amount
}

// Collateral is registered by the admin at startup unless the deposit currency is already known.
type Collateral struct {
	Contract       domain.AccountID
	Denom          domain.Denomination
	IncomeAccount  domain.AccountID
	FeesAccount    domain.AccountID
	MinimumDeposit domain.Amount
	IncomeRatio    uint16
	ReleaseFeeBP   uint16
	RefundRatioBP  uint16
}

// Currency returns the deposit currency of the collateral.
func (c Collateral) Currency() domain.Currency {
	return domain.Currency{Contract: c.Contract, Denom: c.Denom}
}

type ConfigTmp struct {
	HTTPAddr              string          `yaml:"http_addr,omitempty"`
	TLSDomains            []string        `yaml:"tls_domains,omitempty"`
	TLSCacheDir           string          `yaml:"tls_cache_dir,omitempty"`
	DataDir               string          `yaml:"data_dir,omitempty"`
	Accounts              AccountsTmp     `yaml:"accounts"`
	Reserve               CurrencyTmp     `yaml:"reserve"`
	MaturityDelay         time.Duration   `yaml:"maturity_delay,omitempty"`
	HarvestInterval       time.Duration   `yaml:"harvest_interval,omitempty"`
	StakeDustThreshold    string          `yaml:"stake_dust_threshold,omitempty"`
	UtilizationCapPercent string          `yaml:"utilization_cap_percent,omitempty"`
	OutboxRetryInterval   time.Duration   `yaml:"outbox_retry_interval,omitempty"`
	Simulate              SimulateTmp     `yaml:"simulate,omitempty"`
	Collaterals           []CollateralTmp `yaml:"collaterals,omitempty"`
}

type AccountsTmp struct {
	Vault           string `yaml:"vault"`
	Admin           string `yaml:"admin"`
	ReceiptContract string `yaml:"receipt_contract"`
	System          string `yaml:"system"`
	Staking         string `yaml:"staking"`
}

type CurrencyTmp struct {
	Contract string `yaml:"contract"`
	Symbol   string `yaml:"symbol"`
}

type SimulateTmp struct {
	Currencies []SimCurrencyTmp `yaml:"currencies,omitempty"`
	Balances   []BalanceTmp     `yaml:"balances,omitempty"`
	PoolIncome string           `yaml:"pool_income,omitempty"`
	PoolLent   string           `yaml:"pool_lent,omitempty"`
}

type SimCurrencyTmp struct {
	Contract  string `yaml:"contract"`
	Symbol    string `yaml:"symbol"`
	Issuer    string `yaml:"issuer"`
	MaxSupply string `yaml:"max_supply"`
}

type BalanceTmp struct {
	Account  string `yaml:"account"`
	Contract string `yaml:"contract"`
	Symbol   string `yaml:"symbol"`
	Amount   string `yaml:"amount"`
}

type CollateralTmp struct {
	Contract       string `yaml:"contract"`
	Symbol         string `yaml:"symbol"`
	IncomeAccount  string `yaml:"income_account"`
	FeesAccount    string `yaml:"fees_account"`
	MinimumDeposit string `yaml:"minimum_deposit"`
	IncomeRatio    uint16 `yaml:"income_ratio"`
	ReleaseFeeBP   uint16 `yaml:"release_fee_bp"`
	RefundRatioBP  uint16 `yaml:"refund_ratio_bp"`
}

// Flags are the command line switches.
type Flags struct {
	ConfigPath string
	Setup      bool
}

// ParseFlags reads --config and --setup.
func ParseFlags() Flags {
	config := flag.String("config", "", "path to yaml config")
	setup := flag.Bool("setup", false, "run the interactive config wizard")
	flag.Parse()
	return Flags{ConfigPath: *config, Setup: *setup}
}

// Get loads the yaml config at path, or the built-in simulation defaults when path is empty.
func Get(path string) (Config, error) {
	tmp := DefaultTmp()
	if path != "" {
		f, err := os.ReadFile(path)
		if err != nil {
			return Config{}, err
		}
		tmp = ConfigTmp{}
		if err := yaml.Unmarshal(f, &tmp); err != nil {
			return Config{}, err
		}
	}
	return tmp.Parse()
}

// DefaultTmp is a self-contained simulation setup: an EOS reserve, a USDT collateral and two funded users.
func DefaultTmp() ConfigTmp {
	return ConfigTmp{
		Accounts: AccountsTmp{
			Vault:           "svault",
			Admin:           "svault.admin",
			ReceiptContract: "svault.token",
			System:          "eosio",
			Staking:         "eosio.rex",
		},
		Reserve: CurrencyTmp{Contract: "eosio.token", Symbol: "4,EOS"},
		Simulate: SimulateTmp{
			Currencies: []SimCurrencyTmp{
				{Contract: "eosio.token", Symbol: "4,EOS", Issuer: "eosio", MaxSupply: "100000000000"},
				{Contract: "tethertether", Symbol: "4,USDT", Issuer: "tether", MaxSupply: "100000000000"},
			},
			Balances: []BalanceTmp{
				{Account: "alice", Contract: "eosio.token", Symbol: "4,EOS", Amount: "10000"},
				{Account: "bob", Contract: "eosio.token", Symbol: "4,EOS", Amount: "10000"},
				{Account: "alice", Contract: "tethertether", Symbol: "4,USDT", Amount: "10000"},
				{Account: "bob", Contract: "tethertether", Symbol: "4,USDT", Amount: "10000"},
			},
		},
		Collaterals: []CollateralTmp{
			{
				Contract: "eosio.token", Symbol: "4,EOS",
				IncomeAccount: "svault.inc", FeesAccount: "svault.fees",
				MinimumDeposit: "1", IncomeRatio: 1, ReleaseFeeBP: 50, RefundRatioBP: 5000,
			},
			{
				Contract: "tethertether", Symbol: "4,USDT",
				IncomeAccount: "svault.inc", FeesAccount: "svault.fees",
				MinimumDeposit: "1", IncomeRatio: 1, ReleaseFeeBP: 100, RefundRatioBP: 5000,
			},
		},
	}
}

// Parse validates the yaml form and fills in defaults.
func (c ConfigTmp) Parse() (Config, error) {
	cfg := Config{
		HTTPAddr:            c.HTTPAddr,
		TLSDomains:          c.TLSDomains,
		TLSCacheDir:         c.TLSCacheDir,
		DataDir:             c.DataDir,
		MaturityDelay:       c.MaturityDelay,
		HarvestInterval:     c.HarvestInterval,
		OutboxRetryInterval: c.OutboxRetryInterval,
	}
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = DefaultHTTPAddr
	}
	if dir := os.Getenv(dataDirEnv); dir != "" {
		cfg.DataDir = dir
	}
	if cfg.DataDir == "" {
		cfg.DataDir = DefaultDataDir
	}
	if cfg.TLSCacheDir == "" {
		cfg.TLSCacheDir = filepath.Join(cfg.DataDir, "cert-cache")
	}
	if cfg.MaturityDelay == 0 {
		cfg.MaturityDelay = DefaultMaturityDelay
	}
	if cfg.HarvestInterval == 0 {
		cfg.HarvestInterval = DefaultHarvestInterval
	}
	if cfg.OutboxRetryInterval == 0 {
		cfg.OutboxRetryInterval = DefaultOutboxRetryInterval
	}
	if cfg.MaturityDelay < 0 || cfg.HarvestInterval < 0 || cfg.OutboxRetryInterval < 0 {
		return Config{}, fmt.Errorf("incorrect duration params in yaml config (must be positive)")
	}

	accounts, err := c.Accounts.parse()
	if err != nil {
		return Config{}, err
	}
	cfg.Accounts = accounts

	reserve, err := parseCurrency(c.Reserve.Contract, c.Reserve.Symbol)
	if err != nil {
		return Config{}, fmt.Errorf("incorrect 'reserve' param in yaml config, error: %w", err)
	}
	cfg.Reserve = reserve

	if c.StakeDustThreshold == "" {
		cfg.StakeDustThreshold = DefaultStakeDustThreshold
	} else {
		dust, err := decimal.NewFromString(c.StakeDustThreshold)
		if err != nil || !dust.IsInteger() || dust.IsNegative() {
			return Config{}, fmt.Errorf("incorrect 'stake_dust_threshold' param in yaml config (must be a non-negative integer of minor units): %s", c.StakeDustThreshold)
		}
		cfg.StakeDustThreshold = dust.IntPart()
	}

	if c.UtilizationCapPercent == "" {
		cfg.UtilizationCapPercent = DefaultUtilizationCapPercent
	} else {
		capPercent, err := decimal.NewFromString(c.UtilizationCapPercent)
		if err != nil {
			return Config{}, fmt.Errorf("incorrect 'utilization_cap_percent' param in yaml config (correct format is 85), error: %w", err)
		}
		if capPercent.LessThanOrEqual(decimal.Zero) || capPercent.GreaterThan(decimal.NewFromInt(100)) {
			return Config{}, fmt.Errorf("incorrect 'utilization_cap_percent' param in yaml config (must be in (0, 100]): %s", capPercent)
		}
		cfg.UtilizationCapPercent = uint64(capPercent.IntPart())
	}

	simulate, err := c.Simulate.parse(reserve.Denom)
	if err != nil {
		return Config{}, err
	}
	cfg.Simulate = simulate

	for i, ct := range c.Collaterals {
		collateral, err := ct.parse()
		if err != nil {
			return Config{}, fmt.Errorf("incorrect 'collaterals[%d]' param in yaml config, error: %w", i, err)
		}
		cfg.Collaterals = append(cfg.Collaterals, collateral)
	}

	return cfg, nil
}

func (a AccountsTmp) parse() (Accounts, error) {
	accounts := Accounts{
		Vault:           domain.AccountID(a.Vault),
		Admin:           domain.AccountID(a.Admin),
		ReceiptContract: domain.AccountID(a.ReceiptContract),
		System:          domain.AccountID(a.System),
		Staking:         domain.AccountID(a.Staking),
	}
	for name, v := range map[string]domain.AccountID{
		"vault":            accounts.Vault,
		"admin":            accounts.Admin,
		"receipt_contract": accounts.ReceiptContract,
		"system":           accounts.System,
		"staking":          accounts.Staking,
	} {
		if v == "" {
			return Accounts{}, fmt.Errorf("incorrect 'accounts.%s' param in yaml config (must not be empty)", name)
		}
	}
	return accounts, nil
}

func (s SimulateTmp) parse(reserve domain.Denomination) (Simulate, error) {
	sim := Simulate{
		PoolIncome: domain.ZeroAmount(reserve),
		PoolLent:   domain.ZeroAmount(reserve),
	}

	for i, ct := range s.Currencies {
		denom, err := domain.ParseDenomination(ct.Symbol)
		if err != nil {
			return Simulate{}, fmt.Errorf("incorrect 'simulate.currencies[%d].symbol' param in yaml config, error: %w", i, err)
		}
		maxSupply, err := parseAmount(ct.MaxSupply, denom)
		if err != nil {
			return Simulate{}, fmt.Errorf("incorrect 'simulate.currencies[%d].max_supply' param in yaml config, error: %w", i, err)
		}
		if ct.Contract == "" || ct.Issuer == "" {
			return Simulate{}, fmt.Errorf("incorrect 'simulate.currencies[%d]' param in yaml config (contract and issuer are required)", i)
		}
		sim.Currencies = append(sim.Currencies, Currency{
			Contract:  domain.AccountID(ct.Contract),
			Issuer:    domain.AccountID(ct.Issuer),
			MaxSupply: maxSupply,
		})
	}

	for i, bt := range s.Balances {
		currency, err := parseCurrency(bt.Contract, bt.Symbol)
		if err != nil {
			return Simulate{}, fmt.Errorf("incorrect 'simulate.balances[%d]' param in yaml config, error: %w", i, err)
		}
		quantity, err := parseAmount(bt.Amount, currency.Denom)
		if err != nil {
			return Simulate{}, fmt.Errorf("incorrect 'simulate.balances[%d].amount' param in yaml config, error: %w", i, err)
		}
		if bt.Account == "" {
			return Simulate{}, fmt.Errorf("incorrect 'simulate.balances[%d].account' param in yaml config (must not be empty)", i)
		}
		sim.Balances = append(sim.Balances, Balance{
			Account:  domain.AccountID(bt.Account),
			Contract: currency.Contract,
			Quantity: quantity,
		})
	}

	var err error
	if s.PoolIncome != "" {
		if sim.PoolIncome, err = parseAmount(s.PoolIncome, reserve); err != nil {
			return Simulate{}, fmt.Errorf("incorrect 'simulate.pool_income' param in yaml config, error: %w", err)
		}
	}
	if s.PoolLent != "" {
		if sim.PoolLent, err = parseAmount(s.PoolLent, reserve); err != nil {
			return Simulate{}, fmt.Errorf("incorrect 'simulate.pool_lent' param in yaml config, error: %w", err)
		}
	}

	return sim, nil
}

func (c CollateralTmp) parse() (Collateral, error) {
	currency, err := parseCurrency(c.Contract, c.Symbol)
	if err != nil {
		return Collateral{}, err
	}
	minimum, err := parseAmount(c.MinimumDeposit, currency.Denom)
	if err != nil {
		return Collateral{}, fmt.Errorf("minimum_deposit: %w", err)
	}
	if c.IncomeAccount == "" || c.FeesAccount == "" {
		return Collateral{}, fmt.Errorf("income_account and fees_account are required")
	}
	return Collateral{
		Contract:       currency.Contract,
		Denom:          currency.Denom,
		IncomeAccount:  domain.AccountID(c.IncomeAccount),
		FeesAccount:    domain.AccountID(c.FeesAccount),
		MinimumDeposit: minimum,
		IncomeRatio:    c.IncomeRatio,
		ReleaseFeeBP:   c.ReleaseFeeBP,
		RefundRatioBP:  c.RefundRatioBP,
	}, nil
}

func parseCurrency(contract, symbol string) (domain.Currency, error) {
	if contract == "" {
		return domain.Currency{}, fmt.Errorf("contract must not be empty")
	}
	denom, err := domain.ParseDenomination(symbol)
	if err != nil {
		return domain.Currency{}, err
	}
	return domain.Currency{Contract: domain.AccountID(contract), Denom: denom}, nil
}

// parseAmount reads a plain decimal ("12.5") in the given denomination.
func parseAmount(s string, denom domain.Denomination) (domain.Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return domain.Amount{}, err
	}
	if d.IsNegative() {
		return domain.Amount{}, fmt.Errorf("amount %s must not be negative", s)
	}
	return domain.AmountFromDecimal(d, denom)
}
