// Package outbox executes the follow-up commands that committed vault operations schedule.
package outbox

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/vadiminshakov/svault/internal/domain"
	"github.com/vadiminshakov/svault/internal/storage/state"
	"github.com/vadiminshakov/svault/pkg/retrier"
)

// DefaultMaxAttempts is how many executions a command gets before it is abandoned.
const DefaultMaxAttempts = 10

// Ledger is the token ledger the commands act on.
type Ledger interface {
	Create(ctx context.Context, contract, issuer domain.AccountID, maxSupply domain.Amount) error
	Issue(ctx context.Context, contract, to domain.AccountID, quantity domain.Amount, memo string) error
	Retire(ctx context.Context, contract domain.AccountID, quantity domain.Amount, memo string) error
	Transfer(ctx context.Context, contract, from, to domain.AccountID, quantity domain.Amount, memo string) error
	BalanceOf(ctx context.Context, currency domain.Currency, account domain.AccountID) (domain.Amount, error)
}

// Pool is the staking pool the commands act on.
type Pool interface {
	AccountStakeUnits(ctx context.Context, account domain.AccountID) (domain.StakeUnits, error)
	Deposit(ctx context.Context, account domain.AccountID, quantity domain.Amount) error
	Stake(ctx context.Context, account domain.AccountID, quantity domain.Amount) error
	Unstake(ctx context.Context, account domain.AccountID, units uint64) (domain.Amount, error)
	Withdraw(ctx context.Context, account domain.AccountID, quantity domain.Amount) (domain.Amount, error)
}

// Governance forwards vote delegation.
type Governance interface {
	Delegate(ctx context.Context, voter, proxy domain.AccountID) error
}

// Recorder persists audit events produced by executed commands.
type Recorder interface {
	Record(events ...domain.AuditEvent)
}

// Config tunes retries.
type Config struct {
	// Vault is the account whose outgoing transfers are audited as withdrawals.
	Vault       domain.AccountID
	MaxAttempts int
	RetryOpts   []retrier.Option
}

// Dispatcher runs outbox commands in FIFO order, each in its own commit.
type Dispatcher struct {
	logger      *zap.Logger
	store       *state.Store
	ledger      Ledger
	pool        Pool
	governance  Governance
	recorder    Recorder
	vault       domain.AccountID
	retrier     *retrier.Retrier
	maxAttempts int
	clock       func() time.Time
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(
	logger *zap.Logger,
	store *state.Store,
	ledger Ledger,
	pool Pool,
	governance Governance,
	recorder Recorder,
	cfg Config,
	clock func() time.Time,
) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = time.Now
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}

	opts := append([]retrier.Option{
		retrier.WithMaxRetries(2),
		retrier.WithInitialInterval(100 * time.Millisecond),
		retrier.WithMaxInterval(time.Second),
		retrier.WithRetryIf(isTransient),
		retrier.WithOnRetry(func(retry int, err error, wait time.Duration) {
			logger.Warn("outbox command failed, backing off",
				zap.Int("retry", retry),
				zap.Duration("wait", wait),
				zap.Error(err))
		}),
	}, cfg.RetryOpts...)

	return &Dispatcher{
		logger:      logger,
		store:       store,
		ledger:      ledger,
		pool:        pool,
		governance:  governance,
		recorder:    recorder,
		vault:       cfg.Vault,
		retrier:     retrier.New(opts...),
		maxAttempts: cfg.MaxAttempts,
		clock:       clock,
	}
}

// Schedule stores cmds in tx, in order, behind any commands already queued.
func Schedule(tx *state.Tx, now time.Time, cmds ...domain.Command) error {
	for i := range cmds {
		cmd := cmds[i]
		cmd.Status = domain.CommandPending
		cmd.CreatedAt = now
		if err := tx.EnqueueCommand(&cmd); err != nil {
			return errors.Wrapf(err, "schedule %s", cmd.Kind)
		}
	}
	return nil
}

// Drain executes every pending command once. A failing command is marked failed and left for
// Retry; later commands still run. The returned error combines every failure.
func (d *Dispatcher) Drain(ctx context.Context) error {
	cmds, err := d.commands(domain.CommandPending)
	if err != nil {
		return err
	}

	var errs error
	for _, cmd := range cmds {
		if err := ctx.Err(); err != nil {
			return multierr.Append(errs, err)
		}
		execErr := d.execute(ctx, cmd)
		if err := d.settle(cmd, 1, execErr); err != nil {
			errs = multierr.Append(errs, err)
		}
		if execErr != nil {
			errs = multierr.Append(errs, errors.Wrapf(execErr, "command %d (%s)", cmd.Seq, cmd.Kind))
		}
	}

	return errs
}

// Retry re-runs failed commands with backoff. Commands that exhaust MaxAttempts are abandoned.
func (d *Dispatcher) Retry(ctx context.Context) error {
	cmds, err := d.commands(domain.CommandFailed)
	if err != nil {
		return err
	}

	var errs error
	for _, cmd := range cmds {
		attempts := 0
		execErr := d.retrier.Do(ctx, func(ctx context.Context) error {
			if cmd.Attempts+attempts >= d.maxAttempts {
				return errAttemptsExhausted
			}
			attempts++
			return d.execute(ctx, cmd)
		})
		if errors.Is(execErr, errAttemptsExhausted) {
			execErr = errors.Errorf("gave up after %d attempts: %s", cmd.Attempts+attempts, cmd.LastError)
		}
		if err := d.settle(cmd, attempts, execErr); err != nil {
			errs = multierr.Append(errs, err)
		}
		if execErr != nil {
			errs = multierr.Append(errs, errors.Wrapf(execErr, "retry command %d (%s)", cmd.Seq, cmd.Kind))
		}
	}

	return errs
}

// Pending lists queued commands that are not abandoned.
func (d *Dispatcher) Pending() ([]domain.Command, error) {
	var out []domain.Command
	err := d.store.View(func(tx *state.Tx) error {
		cmds, err := tx.Commands()
		for _, c := range cmds {
			if c.Status != domain.CommandAbandoned {
				out = append(out, c)
			}
		}
		return err
	})
	return out, err
}

func (d *Dispatcher) commands(status domain.CommandStatus) ([]domain.Command, error) {
	var out []domain.Command
	err := d.store.View(func(tx *state.Tx) error {
		cmds, err := tx.Commands()
		if err != nil {
			return err
		}
		for _, c := range cmds {
			if c.Status == status {
				out = append(out, c)
			}
		}
		return nil
	})

	return out, errors.Wrap(err, "list outbox")
}

// settle commits the outcome of executing cmd.
func (d *Dispatcher) settle(cmd domain.Command, attempts int, execErr error) error {
	return d.store.Update(func(tx *state.Tx) error {
		if execErr == nil {
			return tx.DeleteCommand(cmd.Seq)
		}

		cmd.Attempts += attempts
		cmd.LastError = execErr.Error()
		cmd.Status = domain.CommandFailed
		if cmd.Attempts >= d.maxAttempts || errors.Is(execErr, domain.ErrValidation) {
			cmd.Status = domain.CommandAbandoned
		}
		switch cmd.Status {
		case domain.CommandAbandoned:
			d.logger.Error("outbox command abandoned",
				zap.Uint64("seq", cmd.Seq),
				zap.String("kind", string(cmd.Kind)),
				zap.Int("attempts", cmd.Attempts),
				zap.Error(execErr))
		default:
			d.logger.Warn("outbox command failed",
				zap.Uint64("seq", cmd.Seq),
				zap.String("kind", string(cmd.Kind)),
				zap.Int("attempts", cmd.Attempts),
				zap.Error(execErr))
		}

		return tx.PutCommand(cmd)
	})
}

type nopRecorder struct{}

func (nopRecorder) Record(...domain.AuditEvent) {}

var errAttemptsExhausted = errors.New("attempts exhausted")

// isTransient reports whether retrying err immediately may help.
func isTransient(err error) bool {
	return !errors.Is(err, domain.ErrValidation) && !errors.Is(err, errAttemptsExhausted)
}
