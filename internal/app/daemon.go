// Package app assembles the vault, its simulated collaborators and the HTTP API from config and runs them.
package app

import (
	"context"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vadiminshakov/svault/config"
	"github.com/vadiminshakov/svault/internal/domain"
	"github.com/vadiminshakov/svault/internal/events"
	"github.com/vadiminshakov/svault/internal/governance"
	"github.com/vadiminshakov/svault/internal/ledger"
	"github.com/vadiminshakov/svault/internal/outbox"
	"github.com/vadiminshakov/svault/internal/services/harvester"
	"github.com/vadiminshakov/svault/internal/services/rate"
	"github.com/vadiminshakov/svault/internal/services/rebalancer"
	"github.com/vadiminshakov/svault/internal/services/redemption"
	"github.com/vadiminshakov/svault/internal/services/registry"
	"github.com/vadiminshakov/svault/internal/stakepool"
	"github.com/vadiminshakov/svault/internal/storage/audit"
	"github.com/vadiminshakov/svault/internal/storage/simstate"
	"github.com/vadiminshakov/svault/internal/storage/state"
	"github.com/vadiminshakov/svault/internal/vault"
	"github.com/vadiminshakov/svault/internal/web"
)

const broadcasterBuffer = 64

// Daemon owns every long-lived component of a running vault.
type Daemon struct {
	cfg    config.Config
	logger *zap.Logger

	ledger *ledger.SimulateLedger
	pool   *stakepool.SimulatePool
	store  *state.Store
	audit  *audit.WALStore
	vault  *vault.Vault
	server *web.Server
}

// New builds the daemon. A fresh data directory is seeded from cfg.Simulate and the
// configured collaterals are registered by the admin when missing.
func New(ctx context.Context, logger *zap.Logger, cfg config.Config, clock func() time.Time) (_ *Daemon, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = time.Now
	}
	d := &Daemon{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			err = multierr.Append(err, d.Close())
		}
	}()

	simDir := filepath.Join(cfg.DataDir, "simulate")
	ledgerState, err := simstate.NewStore(simDir, "ledger")
	if err != nil {
		return nil, err
	}
	poolState, err := simstate.NewStore(simDir, "pool")
	if err != nil {
		return nil, err
	}

	d.ledger, err = ledger.NewSimulateLedger(logger.With(zap.String("component", "ledger")), ledgerState)
	if err != nil {
		return nil, err
	}
	d.pool, err = stakepool.NewSimulatePool(logger.With(zap.String("component", "stakepool")),
		d.ledger, cfg.Reserve, cfg.Accounts.Staking, clock, poolState)
	if err != nil {
		return nil, err
	}
	gov := governance.NewSimulateGovernance(logger.With(zap.String("component", "governance")))

	if err := d.seed(ctx); err != nil {
		return nil, errors.Wrap(err, "seed simulated ledger")
	}

	d.store, err = state.Open(filepath.Join(cfg.DataDir, "state"))
	if err != nil {
		return nil, err
	}
	d.audit, err = audit.NewWALStore(filepath.Join(cfg.DataDir, "audit"))
	if err != nil {
		return nil, err
	}
	broadcaster := events.NewAuditBroadcaster(broadcasterBuffer)
	journal := events.NewJournal(logger.With(zap.String("component", "journal")), d.audit, broadcaster)

	reg := registry.New(logger.With(zap.String("component", "registry")), d.ledger, cfg.Accounts.ReceiptContract, cfg.Accounts.Vault)
	oracle := rate.New(d.ledger, d.pool, rate.Config{
		Vault:           cfg.Accounts.Vault,
		ReceiptContract: cfg.Accounts.ReceiptContract,
		Reserve:         cfg.Reserve,
	})
	rebal := rebalancer.New(logger.With(zap.String("component", "rebalancer")), oracle, d.pool, rebalancer.Config{
		Vault:          cfg.Accounts.Vault,
		Reserve:        cfg.Reserve,
		DustThreshold:  cfg.StakeDustThreshold,
		UtilizationCap: cfg.UtilizationCapPercent,
	}, clock)
	queue := redemption.NewQueue(logger.With(zap.String("component", "redemption")), reg, oracle, redemption.Config{
		Vault:           cfg.Accounts.Vault,
		ReceiptContract: cfg.Accounts.ReceiptContract,
		Maturity:        cfg.MaturityDelay,
	})
	harv := harvester.New(logger.With(zap.String("component", "harvester")), reg, d.ledger, cfg.Accounts.Vault, cfg.HarvestInterval)
	dispatcher := outbox.NewDispatcher(logger.With(zap.String("component", "outbox")),
		d.store, d.ledger, d.pool, gov, journal, outbox.Config{Vault: cfg.Accounts.Vault}, clock)

	d.vault, err = vault.New(logger.With(zap.String("component", "vault")), vault.Config{
		Vault:           cfg.Accounts.Vault,
		Admin:           cfg.Accounts.Admin,
		ReceiptContract: cfg.Accounts.ReceiptContract,
		System:          cfg.Accounts.System,
		Staking:         cfg.Accounts.Staking,
	}, vault.Components{
		Store:      d.store,
		Registry:   reg,
		Oracle:     oracle,
		Rebalancer: rebal,
		Queue:      queue,
		Harvester:  harv,
		Dispatcher: dispatcher,
		Recorder:   journal,
	}, clock)
	if err != nil {
		return nil, err
	}

	d.ledger.RegisterReceiver(cfg.Accounts.Vault, d.vault)
	d.ledger.SetTransferGate(cfg.Accounts.ReceiptContract, d.vault.AllowTransfer)
	if err := d.vault.Init(ctx); err != nil {
		return nil, errors.Wrap(err, "init vault")
	}
	if err := d.bootstrapCollaterals(ctx); err != nil {
		return nil, err
	}

	d.server = web.NewServer(web.Options{
		Addr:        cfg.HTTPAddr,
		Logger:      logger.With(zap.String("component", "web")),
		Vault:       d.vault,
		Audit:       d.audit,
		Broadcaster: broadcaster,
		Balances:    d.ledger,
		Simulator:   d.ledger,
	})

	return d, nil
}

// Vault returns the running vault.
func (d *Daemon) Vault() *vault.Vault {
	return d.vault
}

// Ledger returns the simulated ledger the vault is attached to.
func (d *Daemon) Ledger() *ledger.SimulateLedger {
	return d.ledger
}

// seed creates the simulated currencies and balances on a ledger that has never seen the reserve.
func (d *Daemon) seed(ctx context.Context) error {
	if _, err := d.ledger.TotalSupply(ctx, d.cfg.Reserve); err == nil {
		d.logger.Info("simulated ledger restored, skipping seed")
		return nil
	}

	sim := d.cfg.Simulate
	for _, c := range sim.Currencies {
		err := d.ledger.Create(ctx, c.Contract, c.Issuer, c.MaxSupply)
		if err != nil && !errors.Is(err, domain.ErrState) {
			return errors.Wrapf(err, "create %s on %s", c.MaxSupply.Denom, c.Contract)
		}
	}
	for _, b := range sim.Balances {
		if err := d.ledger.Credit(ctx, b.Contract, b.Account, b.Quantity); err != nil {
			return errors.Wrapf(err, "credit %s to %s", b.Quantity, b.Account)
		}
	}
	if sim.PoolIncome.IsPositive() {
		if err := d.pool.Accrue(ctx, sim.PoolIncome); err != nil {
			return errors.Wrap(err, "accrue pool income")
		}
	}
	if sim.PoolLent.IsPositive() {
		if err := d.pool.Lend(ctx, sim.PoolLent); err != nil {
			return errors.Wrap(err, "lend pool reserve")
		}
	}

	d.logger.Info("simulated ledger seeded",
		zap.Int("currencies", len(sim.Currencies)),
		zap.Int("balances", len(sim.Balances)))
	return nil
}

func (d *Daemon) bootstrapCollaterals(ctx context.Context) error {
	known := make(map[domain.Currency]bool)
	for _, c := range d.vault.Collaterals() {
		known[c.DepositCurrency()] = true
	}

	for _, c := range d.cfg.Collaterals {
		if known[c.Currency()] {
			continue
		}
		registered, err := d.vault.RegisterCollateral(ctx, d.cfg.Accounts.Admin, registry.RegisterRequest{
			DepositContract: c.Contract,
			DepositDenom:    c.Denom,
			IncomeAccount:   c.IncomeAccount,
			FeesAccount:     c.FeesAccount,
			MinimumDeposit:  c.MinimumDeposit,
			IncomeRatio:     c.IncomeRatio,
			ReleaseFeeBP:    c.ReleaseFeeBP,
			RefundRatioBP:   c.RefundRatioBP,
		})
		if err != nil {
			return errors.Wrapf(err, "register collateral %s", c.Currency())
		}
		known[c.Currency()] = true
		d.logger.Info("collateral bootstrapped",
			zap.Uint64("id", registered.ID),
			zap.String("deposit", c.Currency().String()),
			zap.String("receipt", registered.ReceiptDenom.String()))
	}
	return nil
}

// Run serves the HTTP API and drives the harvest and outbox retry loops until ctx is done.
func (d *Daemon) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if len(d.cfg.TLSDomains) > 0 {
			return d.server.StartWithAutoTLS(ctx, d.cfg.TLSDomains, d.cfg.TLSCacheDir)
		}
		return d.server.Start(ctx)
	})
	g.Go(func() error {
		return d.every(ctx, d.cfg.HarvestInterval, "harvest", func(ctx context.Context) error {
			return d.vault.HarvestIncome(ctx, d.cfg.Accounts.Vault)
		})
	})
	g.Go(func() error {
		return d.every(ctx, d.cfg.OutboxRetryInterval, "outbox retry", d.vault.RetryOutbox)
	})

	d.logger.Info("vault daemon started",
		zap.String("vault", d.cfg.Accounts.Vault.String()),
		zap.String("reserve", d.cfg.Reserve.String()),
		zap.Duration("harvest_interval", d.cfg.HarvestInterval))

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// every calls fn on each tick. Failures are logged and the loop keeps going.
func (d *Daemon) every(ctx context.Context, interval time.Duration, name string, fn func(ctx context.Context) error) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("loop stopped", zap.String("loop", name))
			return ctx.Err()
		case <-ticker.C:
			if err := fn(ctx); err != nil {
				d.logger.Warn("loop iteration failed", zap.String("loop", name), zap.Error(err))
			}
		}
	}
}

// Close releases the state database and the audit log.
func (d *Daemon) Close() error {
	var err error
	if d.store != nil {
		err = multierr.Append(err, d.store.Close())
		d.store = nil
	}
	if d.audit != nil {
		err = multierr.Append(err, d.audit.Close())
		d.audit = nil
	}
	return err
}
