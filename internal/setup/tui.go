package setup

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/vadiminshakov/svault/config"
	"github.com/vadiminshakov/svault/internal/domain"
)

// Filename is where the wizard writes the generated config.
const Filename = "config.gen.yaml"

var (
	subtle    = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#383838"}
	highlight = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	special   = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Background(highlight).
			Padding(1, 2).
			Bold(true).
			MarginBottom(1)

	stepStyle = lipgloss.NewStyle().
			Foreground(special).
			Bold(true).
			MarginTop(1).
			MarginBottom(0)

	summaryStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder()).
			BorderForeground(subtle).
			Padding(1)
)

// answers holds the raw form values. Everything is a string until config.ConfigTmp.Parse validates it.
type answers struct {
	vault, admin, receiptContract, system, staking string

	reserveContract, reserveSymbol string

	maturity, harvest, utilizationCap string

	collateral         bool
	collContract       string
	collSymbol         string
	incomeAccount      string
	feesAccount        string
	minimumDeposit     string
	incomeRatio        string
	releaseFee, refund string

	seedUsers bool
	seedFunds string
}

func defaults() answers {
	d := config.DefaultTmp()
	return answers{
		vault:           d.Accounts.Vault,
		admin:           d.Accounts.Admin,
		receiptContract: d.Accounts.ReceiptContract,
		system:          d.Accounts.System,
		staking:         d.Accounts.Staking,
		reserveContract: d.Reserve.Contract,
		reserveSymbol:   d.Reserve.Symbol,
		maturity:        config.DefaultMaturityDelay.String(),
		harvest:         config.DefaultHarvestInterval.String(),
		utilizationCap:  strconv.Itoa(config.DefaultUtilizationCapPercent),
		collateral:      true,
		collContract:    "tethertether",
		collSymbol:      "4,USDT",
		incomeAccount:   "svault.inc",
		feesAccount:     "svault.fees",
		minimumDeposit:  "1",
		incomeRatio:     "1",
		releaseFee:      "100",
		refund:          "5000",
		seedUsers:       true,
		seedFunds:       "10000",
	}
}

func step(title string) {
	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("SVAULT CONFIG WIZARD"))
	fmt.Println(stepStyle.Render(title))
}

// RunTUI launches the terminal configuration wizard and returns the path of the written config.
func RunTUI() (string, error) {
	a := defaults()
	var confirm bool

	// accounts
	step("STEP 1: ACCOUNTS")
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("Vault account").Value(&a.vault).Validate(notEmpty),
			huh.NewInput().Title("Admin account").Value(&a.admin).Validate(notEmpty),
			huh.NewInput().Title("Receipt token contract").
				Description("Issues the S-prefixed receipt currencies").
				Value(&a.receiptContract).Validate(notEmpty),
			huh.NewInput().Title("System account").Value(&a.system).Validate(notEmpty),
			huh.NewInput().Title("Staking pool account").Value(&a.staking).Validate(notEmpty),
		),
	).Run()
	if err != nil {
		return "", err
	}

	// reserve
	step("STEP 2: RESERVE CURRENCY")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("Reserve token contract").Value(&a.reserveContract).Validate(notEmpty),
			huh.NewInput().Title("Reserve symbol").
				Description("<precision>,<code> (e.g. 4,EOS)").
				Value(&a.reserveSymbol).
				Validate(validateSymbol),
		),
	).Run()
	if err != nil {
		return "", err
	}

	// timing
	step("STEP 3: TIMING AND STAKING")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("Redemption maturity").
				Description("Duration string (e.g. 120h)").
				Value(&a.maturity).
				Validate(validateDuration),
			huh.NewInput().Title("Harvest interval").
				Description("Duration string (e.g. 10m)").
				Value(&a.harvest).
				Validate(validateDuration),
			huh.NewInput().Title("Pool utilization cap %").
				Description("Idle reserve is not staked above this utilization (1-100)").
				Value(&a.utilizationCap).
				Validate(validatePercent),
		),
	).Run()
	if err != nil {
		return "", err
	}

	// collateral
	step("STEP 4: COLLATERAL")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Register an additional collateral besides the reserve?").
				Value(&a.collateral),
		),
	).Run()
	if err != nil {
		return "", err
	}
	if a.collateral {
		step("STEP 4: COLLATERAL SETTINGS")
		err = huh.NewForm(
			huh.NewGroup(
				huh.NewInput().Title("Token contract").Value(&a.collContract).Validate(notEmpty),
				huh.NewInput().Title("Symbol").Description("e.g. 4,USDT").Value(&a.collSymbol).Validate(validateSymbol),
				huh.NewInput().Title("Income account").Value(&a.incomeAccount).Validate(notEmpty),
				huh.NewInput().Title("Fees account").Value(&a.feesAccount).Validate(notEmpty),
				huh.NewInput().Title("Minimum deposit").Value(&a.minimumDeposit).Validate(validateAmount),
				huh.NewInput().Title("Income ratio").
					Description("Divisor of the income account balance harvested per tick").
					Value(&a.incomeRatio).Validate(validateUint16),
				huh.NewInput().Title("Release fee (basis points)").Value(&a.releaseFee).Validate(validateBP),
				huh.NewInput().Title("Refund ratio (basis points)").Value(&a.refund).Validate(validateBP),
			),
		).Run()
		if err != nil {
			return "", err
		}
	}

	// simulation
	step("STEP 5: SIMULATION")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Fund alice and bob on the simulated ledger?").
				Value(&a.seedUsers),
			huh.NewInput().
				Title("Amount per currency").
				Value(&a.seedFunds).
				Validate(validateAmount),
		),
	).Run()
	if err != nil {
		return "", err
	}

	tmp, err := a.configTmp()
	if err != nil {
		return "", err
	}
	if _, err := tmp.Parse(); err != nil {
		return "", fmt.Errorf("generated config is invalid: %w", err)
	}

	// confirmation
	step("FINAL CONFIRMATION")
	summary := fmt.Sprintf(
		"Vault: %s\nReserve: %s@%s\nMaturity: %s\nHarvest: %s\nCollaterals: %d\n",
		tmp.Accounts.Vault, tmp.Reserve.Symbol, tmp.Reserve.Contract, tmp.MaturityDelay, tmp.HarvestInterval, len(tmp.Collaterals),
	)
	fmt.Println(summaryStyle.Render(summary))

	err = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Save Configuration?").
				Affirmative("Yes, save and start").
				Negative("No, exit").
				Value(&confirm),
		),
	).Run()
	if err != nil {
		return "", err
	}
	if !confirm {
		return "", fmt.Errorf("setup cancelled by user")
	}

	data, err := yaml.Marshal(tmp)
	if err != nil {
		return "", fmt.Errorf("failed to generate yaml: %w", err)
	}
	if err := os.WriteFile(Filename, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to save config file: %w", err)
	}

	fmt.Println(lipgloss.NewStyle().Foreground(special).Render(fmt.Sprintf("\n✓ Configuration saved to %s\nStarting vault...", Filename)))
	time.Sleep(1500 * time.Millisecond) // small pause to read success message
	return Filename, nil
}

func (a answers) configTmp() (config.ConfigTmp, error) {
	maturity, err := time.ParseDuration(a.maturity)
	if err != nil {
		return config.ConfigTmp{}, err
	}
	harvest, err := time.ParseDuration(a.harvest)
	if err != nil {
		return config.ConfigTmp{}, err
	}

	tmp := config.ConfigTmp{
		Accounts: config.AccountsTmp{
			Vault:           a.vault,
			Admin:           a.admin,
			ReceiptContract: a.receiptContract,
			System:          a.system,
			Staking:         a.staking,
		},
		Reserve:               config.CurrencyTmp{Contract: a.reserveContract, Symbol: a.reserveSymbol},
		MaturityDelay:         maturity,
		HarvestInterval:       harvest,
		UtilizationCapPercent: a.utilizationCap,
		Simulate: config.SimulateTmp{
			Currencies: []config.SimCurrencyTmp{
				{Contract: a.reserveContract, Symbol: a.reserveSymbol, Issuer: a.system, MaxSupply: "100000000000"},
			},
		},
		Collaterals: []config.CollateralTmp{{
			Contract:       a.reserveContract,
			Symbol:         a.reserveSymbol,
			IncomeAccount:  a.incomeAccount,
			FeesAccount:    a.feesAccount,
			MinimumDeposit: a.minimumDeposit,
			IncomeRatio:    1,
			ReleaseFeeBP:   50,
			RefundRatioBP:  5000,
		}},
	}

	funded := []config.CurrencyTmp{{Contract: a.reserveContract, Symbol: a.reserveSymbol}}
	if a.collateral {
		ratio, _ := strconv.ParseUint(a.incomeRatio, 10, 16)
		fee, _ := strconv.ParseUint(a.releaseFee, 10, 16)
		refund, _ := strconv.ParseUint(a.refund, 10, 16)
		tmp.Simulate.Currencies = append(tmp.Simulate.Currencies, config.SimCurrencyTmp{
			Contract: a.collContract, Symbol: a.collSymbol, Issuer: a.system, MaxSupply: "100000000000",
		})
		tmp.Collaterals = append(tmp.Collaterals, config.CollateralTmp{
			Contract:       a.collContract,
			Symbol:         a.collSymbol,
			IncomeAccount:  a.incomeAccount,
			FeesAccount:    a.feesAccount,
			MinimumDeposit: a.minimumDeposit,
			IncomeRatio:    uint16(ratio),
			ReleaseFeeBP:   uint16(fee),
			RefundRatioBP:  uint16(refund),
		})
		funded = append(funded, config.CurrencyTmp{Contract: a.collContract, Symbol: a.collSymbol})
	}

	if a.seedUsers {
		for _, user := range []string{"alice", "bob"} {
			for _, c := range funded {
				tmp.Simulate.Balances = append(tmp.Simulate.Balances, config.BalanceTmp{
					Account: user, Contract: c.Contract, Symbol: c.Symbol, Amount: a.seedFunds,
				})
			}
		}
	}

	return tmp, nil
}

func notEmpty(s string) error {
	if s == "" {
		return fmt.Errorf("cannot be empty")
	}
	return nil
}

func validateSymbol(s string) error {
	_, err := domain.ParseDenomination(s)
	return err
}

func validateDuration(s string) error {
	d, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	if d <= 0 {
		return fmt.Errorf("must be positive")
	}
	return nil
}

func validateAmount(s string) error {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("must be a valid number")
	}
	if d.IsNegative() {
		return fmt.Errorf("must not be negative")
	}
	return nil
}

func validatePercent(s string) error {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("must be a valid number")
	}
	if d.LessThan(decimal.NewFromInt(1)) || d.GreaterThan(decimal.NewFromInt(100)) {
		return fmt.Errorf("must be between 1 and 100")
	}
	return nil
}

func validateUint16(s string) error {
	if _, err := strconv.ParseUint(s, 10, 16); err != nil {
		return fmt.Errorf("must be an integer between 0 and 65535")
	}
	return nil
}

func validateBP(s string) error {
	v, err := strconv.ParseUint(s, 10, 16)
	if err != nil || v > domain.BasisPoints {
		return fmt.Errorf("must be an integer between 0 and %d", domain.BasisPoints)
	}
	return nil
}
