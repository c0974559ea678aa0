package domain

import (
	"time"

	"github.com/google/uuid"
)

// CommandKind selects which collaborator call a command performs.
type CommandKind string

const (
	CommandCreateCurrency CommandKind = "create_currency"
	CommandIssue          CommandKind = "issue"
	CommandRetire         CommandKind = "retire"
	CommandTransfer       CommandKind = "transfer"
	// CommandSettleTransfer re-checks liquidity at execution time before transferring.
	CommandSettleTransfer CommandKind = "settle_transfer"
	CommandPoolDeposit    CommandKind = "pool_deposit"
	CommandPoolStake      CommandKind = "pool_stake"
	CommandPoolUnstake    CommandKind = "pool_unstake"
	CommandPoolWithdraw   CommandKind = "pool_withdraw"
	CommandDelegateVote   CommandKind = "delegate_vote"
)

// CommandStatus tracks an outbox entry.
type CommandStatus string

const (
	CommandPending   CommandStatus = "pending"
	CommandFailed    CommandStatus = "failed"
	CommandAbandoned CommandStatus = "abandoned"
)

// SettleTolerance is the shortfall, in minor units, a settle transfer absorbs by sending what is available.
const SettleTolerance int64 = 10

// Command is a follow-up call scheduled by a committed vault operation.
type Command struct {
	ID        string        `json:"id"`
	Seq       uint64        `json:"seq"`
	Kind      CommandKind   `json:"kind"`
	Contract  AccountID     `json:"contract,omitempty"`
	From      AccountID     `json:"from,omitempty"`
	To        AccountID     `json:"to,omitempty"`
	Quantity  Amount        `json:"quantity"`
	Units     uint64        `json:"units,omitempty"`
	Memo      string        `json:"memo,omitempty"`
	Tolerance int64         `json:"tolerance,omitempty"`
	Status    CommandStatus `json:"status"`
	Attempts  int           `json:"attempts"`
	LastError string        `json:"last_error,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

func newCommand(kind CommandKind) Command {
	return Command{
		ID:     uuid.New().String(),
		Kind:   kind,
		Status: CommandPending,
	}
}

// NewCreateCurrencyCommand registers a currency on the ledger with the given max supply.
func NewCreateCurrencyCommand(contract, issuer AccountID, maxSupply Amount) Command {
	c := newCommand(CommandCreateCurrency)
	c.Contract = contract
	c.From = issuer
	c.Quantity = maxSupply
	return c
}

// NewIssueCommand mints quantity to the recipient.
func NewIssueCommand(contract, to AccountID, quantity Amount, memo string) Command {
	c := newCommand(CommandIssue)
	c.Contract = contract
	c.To = to
	c.Quantity = quantity
	c.Memo = memo
	return c
}

// NewRetireCommand burns quantity from the issuer's balance.
func NewRetireCommand(contract, issuer AccountID, quantity Amount, memo string) Command {
	c := newCommand(CommandRetire)
	c.Contract = contract
	c.From = issuer
	c.Quantity = quantity
	c.Memo = memo
	return c
}

// NewTransferCommand moves quantity between accounts.
func NewTransferCommand(contract, from, to AccountID, quantity Amount, memo string) Command {
	c := newCommand(CommandTransfer)
	c.Contract = contract
	c.From = from
	c.To = to
	c.Quantity = quantity
	c.Memo = memo
	return c
}

// NewSettleTransferCommand is a transfer that runs after pool settlement and tolerates dust shortfalls.
func NewSettleTransferCommand(contract, from, to AccountID, quantity Amount, memo string) Command {
	c := NewTransferCommand(contract, from, to, quantity, memo)
	c.Kind = CommandSettleTransfer
	c.Tolerance = SettleTolerance
	return c
}

// NewPoolDepositCommand tops up the account's pool fund.
func NewPoolDepositCommand(account AccountID, quantity Amount) Command {
	c := newCommand(CommandPoolDeposit)
	c.From = account
	c.Quantity = quantity
	return c
}

// NewPoolStakeCommand converts fund balance into staking units.
func NewPoolStakeCommand(account AccountID, quantity Amount) Command {
	c := newCommand(CommandPoolStake)
	c.From = account
	c.Quantity = quantity
	return c
}

// NewPoolUnstakeCommand sells matured units back into the account's fund.
func NewPoolUnstakeCommand(account AccountID, units uint64, estimate Amount) Command {
	c := newCommand(CommandPoolUnstake)
	c.From = account
	c.Units = units
	c.Quantity = estimate
	return c
}

// NewPoolWithdrawCommand moves the whole fund balance back to the account.
func NewPoolWithdrawCommand(account AccountID, estimate Amount) Command {
	c := newCommand(CommandPoolWithdraw)
	c.From = account
	c.Quantity = estimate
	return c
}

// NewDelegateVoteCommand forwards voting power to a proxy.
func NewDelegateVoteCommand(voter, proxy AccountID) Command {
	c := newCommand(CommandDelegateVote)
	c.From = voter
	c.To = proxy
	return c
}

// IsOutgoingTransfer reports whether executing the command pays out of From.
func (c Command) IsOutgoingTransfer() bool {
	return c.Kind == CommandTransfer || c.Kind == CommandSettleTransfer
}
