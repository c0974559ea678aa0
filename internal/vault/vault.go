// Package vault is the orchestrator of the collateralized-minting vault. It serialises every
// operation behind one mutex, commits each operation's state and follow-up commands in a single
// state transaction and then drains the outbox.
package vault

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/svault/internal/domain"
	"github.com/vadiminshakov/svault/internal/outbox"
	"github.com/vadiminshakov/svault/internal/services/harvester"
	"github.com/vadiminshakov/svault/internal/services/rate"
	"github.com/vadiminshakov/svault/internal/services/rebalancer"
	"github.com/vadiminshakov/svault/internal/services/redemption"
	"github.com/vadiminshakov/svault/internal/services/registry"
	"github.com/vadiminshakov/svault/internal/storage/state"
)

// Config names the accounts the vault reasons about.
type Config struct {
	// Vault is the account holding deposits and redeemed receipts.
	Vault domain.AccountID
	// Admin is the privileged principal.
	Admin           domain.AccountID
	ReceiptContract domain.AccountID
	// System and Staking are host accounts whose transfers to the vault are never deposits.
	System  domain.AccountID
	Staking domain.AccountID
}

// Components are the collaborators a Vault orchestrates.
type Components struct {
	Store      *state.Store
	Registry   *registry.Registry
	Oracle     *rate.Oracle
	Rebalancer *rebalancer.Rebalancer
	Queue      *redemption.Queue
	Harvester  *harvester.Harvester
	Dispatcher *outbox.Dispatcher
	Recorder   outbox.Recorder
}

func (c Components) validate() error {
	switch {
	case c.Store == nil:
		return errors.New("state store is required")
	case c.Registry == nil:
		return errors.New("collateral registry is required")
	case c.Oracle == nil:
		return errors.New("rate oracle is required")
	case c.Rebalancer == nil:
		return errors.New("rebalancer is required")
	case c.Queue == nil:
		return errors.New("redemption queue is required")
	case c.Harvester == nil:
		return errors.New("harvester is required")
	case c.Dispatcher == nil:
		return errors.New("outbox dispatcher is required")
	}
	return nil
}

// Vault applies deposits, redemptions and admin commands.
type Vault struct {
	mu sync.Mutex

	logger     *zap.Logger
	cfg        Config
	store      *state.Store
	registry   *registry.Registry
	oracle     *rate.Oracle
	rebalancer *rebalancer.Rebalancer
	queue      *redemption.Queue
	harvester  *harvester.Harvester
	dispatcher *outbox.Dispatcher
	recorder   outbox.Recorder
	clock      func() time.Time

	// last committed status, read by the transfer gate without taking mu
	status atomic.Pointer[domain.VaultStatus]
}

// New creates a Vault. Init must be called before the first operation.
func New(logger *zap.Logger, cfg Config, c Components, clock func() time.Time) (*Vault, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}
	if cfg.Vault == "" || cfg.Admin == "" || cfg.ReceiptContract == "" {
		return nil, domain.Validationf("vault, admin and receipt contract accounts are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = time.Now
	}

	return &Vault{
		logger:     logger,
		cfg:        cfg,
		store:      c.Store,
		registry:   c.Registry,
		oracle:     c.Oracle,
		rebalancer: c.Rebalancer,
		queue:      c.Queue,
		harvester:  c.Harvester,
		dispatcher: c.Dispatcher,
		recorder:   c.Recorder,
		clock:      clock,
	}, nil
}

// Init writes the default status on first start, loads the collateral indices and resumes
// commands left pending by a previous run.
func (v *Vault) Init(ctx context.Context) error {
	return v.Exclusive(ctx, v.load)
}

func (v *Vault) load(ctx context.Context) error {
	err := v.store.Update(func(tx *state.Tx) error {
		status, ok, err := tx.Status()
		if err != nil {
			return err
		}
		if !ok {
			status = domain.DefaultVaultStatus()
			if err := tx.PutStatus(status); err != nil {
				return err
			}
			v.logger.Info("vault status initialised",
				zap.Bool("transfer", status.TransferEnabled),
				zap.Bool("deposit", status.DepositEnabled),
				zap.Bool("withdraw", status.WithdrawEnabled))
		}
		if err := v.registry.Load(tx); err != nil {
			return err
		}
		tx.OnCommit(func() { v.status.Store(&status) })
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "init vault")
	}

	v.drain(ctx, "init")
	return nil
}

type operation func(tx *state.Tx, status *domain.VaultStatus, now time.Time) (domain.Effects, error)

// execute authorises caller for op and runs fn under the vault lock.
func (v *Vault) execute(ctx context.Context, op Operation, caller domain.AccountID, fn operation) error {
	if err := v.authorize(op, caller); err != nil {
		return err
	}

	return v.Exclusive(ctx, func(ctx context.Context) error {
		return v.commit(ctx, string(op), fn)
	})
}

type heldKey struct{ v *Vault }

// Exclusive runs fn under the vault lock. Calls made with the context handed to fn, such as
// outbox transfers that pay back into the vault, do not take the lock again. The ledger uses
// it to apply an incoming credit and its notification as one step.
func (v *Vault) Exclusive(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(heldKey{v}) != nil {
		return fn(ctx)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	return fn(context.WithValue(ctx, heldKey{v}, struct{}{}))
}

// commit runs fn in one state transaction together with the scheduling of its commands,
// records the audit events and drains the outbox. The caller runs inside Exclusive.
func (v *Vault) commit(ctx context.Context, name string, fn operation) error {
	now := v.clock()

	var effects domain.Effects
	err := v.store.Update(func(tx *state.Tx) error {
		status, ok, err := tx.Status()
		if err != nil {
			return err
		}
		if !ok {
			return domain.Statef("vault is not initialised")
		}

		effects, err = fn(tx, &status, now)
		if err != nil {
			return err
		}
		if err := tx.PutStatus(status); err != nil {
			return err
		}
		tx.OnCommit(func() { v.status.Store(&status) })

		return outbox.Schedule(tx, now, effects.Commands...)
	})
	if err != nil {
		return errors.Wrap(err, name)
	}

	if v.recorder != nil && len(effects.Events) > 0 {
		v.recorder.Record(effects.Events...)
	}
	if len(effects.Commands) > 0 {
		v.drain(ctx, name)
	}

	return nil
}

// drain executes pending commands. Failures stay in the outbox for the retry loop.
func (v *Vault) drain(ctx context.Context, name string) {
	if err := v.dispatcher.Drain(ctx); err != nil {
		v.logger.Warn("follow-up commands failed, left for retry", zap.String("operation", name), zap.Error(err))
	}
}

// RetryOutbox re-runs failed follow-up commands.
func (v *Vault) RetryOutbox(ctx context.Context) error {
	return v.Exclusive(ctx, v.dispatcher.Retry)
}
