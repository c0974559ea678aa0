package domain

import (
	"encoding/json"
	"time"
)

// AuditKind names an append-only audit record type.
type AuditKind string

const (
	AuditCollateralUpdated  AuditKind = "collateral_updated"
	AuditDepositCompleted   AuditKind = "deposit_completed"
	AuditRedemptionEnqueued AuditKind = "redemption_enqueued"
	AuditRedemptionSettled  AuditKind = "redemption_settled"
	AuditWithdrawalExecuted AuditKind = "withdrawal_executed"
	AuditIncomeHarvested    AuditKind = "income_harvested"
	AuditReserveRebalanced  AuditKind = "reserve_rebalanced"
	AuditStatusChanged      AuditKind = "status_changed"
	AuditDelegateChanged    AuditKind = "delegate_changed"
)

// AuditEvent is implemented by every audit record payload.
type AuditEvent interface {
	Kind() AuditKind
}

// AuditRecord bundles a stored audit event with its log index.
type AuditRecord struct {
	Index     uint64          `json:"index"`
	Kind      AuditKind       `json:"kind"`
	Timestamp time.Time       `json:"ts"`
	Payload   json.RawMessage `json:"payload"`
}

// CollateralUpdated is emitted on collateral registration and update.
type CollateralUpdated struct {
	Timestamp  time.Time  `json:"ts"`
	Created    bool       `json:"created"`
	Collateral Collateral `json:"collateral"`
}

func (CollateralUpdated) Kind() AuditKind { return AuditCollateralUpdated }

// DepositCompleted carries every input of a mint computation.
type DepositCompleted struct {
	Timestamp    time.Time `json:"ts"`
	Owner        AccountID `json:"owner"`
	CollateralID uint64    `json:"collateral_id"`
	Quantity     Amount    `json:"quantity"`
	Rate         uint64    `json:"rate"`
	Minted       Amount    `json:"minted"`
}

func (DepositCompleted) Kind() AuditKind { return AuditDepositCompleted }

// RedemptionEnqueued records a new rate-locked redemption.
type RedemptionEnqueued struct {
	Timestamp    time.Time `json:"ts"`
	Owner        AccountID `json:"owner"`
	RedemptionID uint64    `json:"redemption_id"`
	CollateralID uint64    `json:"collateral_id"`
	Quantity     Amount    `json:"quantity"`
	LockedRate   uint64    `json:"locked_rate"`
	MaturityTime time.Time `json:"maturity_time"`
}

func (RedemptionEnqueued) Kind() AuditKind { return AuditRedemptionEnqueued }

// RedemptionSettled carries the full settlement breakdown of a matured redemption.
type RedemptionSettled struct {
	Timestamp       time.Time `json:"ts"`
	Owner           AccountID `json:"owner"`
	RedemptionID    uint64    `json:"redemption_id"`
	CollateralID    uint64    `json:"collateral_id"`
	Quantity        Amount    `json:"quantity"`
	LockedRate      uint64    `json:"locked_rate"`
	CurrentRate     uint64    `json:"current_rate"`
	SettleRate      uint64    `json:"settle_rate"`
	WithdrawAtLock  Amount    `json:"withdraw_at_lock"`
	WithdrawAtNow   Amount    `json:"withdraw_at_now"`
	Fee             Amount    `json:"fee"`
	Net             Amount    `json:"net"`
	FeeToIncome     Amount    `json:"fee_to_income"`
	FeeToTreasury   Amount    `json:"fee_to_treasury"`
	BonusToIncome   Amount    `json:"bonus_to_income"`
	BonusToTreasury Amount    `json:"bonus_to_treasury"`
}

func (RedemptionSettled) Kind() AuditKind { return AuditRedemptionSettled }

// WithdrawalExecuted is emitted when an outgoing transfer command succeeds.
type WithdrawalExecuted struct {
	Timestamp time.Time `json:"ts"`
	CommandID string    `json:"command_id"`
	Contract  AccountID `json:"contract"`
	From      AccountID `json:"from"`
	To        AccountID `json:"to"`
	Quantity  Amount    `json:"quantity"`
	Memo      string    `json:"memo,omitempty"`
}

func (WithdrawalExecuted) Kind() AuditKind { return AuditWithdrawalExecuted }

// IncomeHarvested records one collateral's share of a harvest tick.
type IncomeHarvested struct {
	Timestamp    time.Time `json:"ts"`
	CollateralID uint64    `json:"collateral_id"`
	Account      AccountID `json:"account"`
	Bucket       uint64    `json:"bucket"`
	Periods      uint64    `json:"periods"`
	Ratio        uint64    `json:"ratio"`
	Balance      Amount    `json:"balance"`
	Quantity     Amount    `json:"quantity"`
	TotalIncome  Amount    `json:"total_income"`
}

func (IncomeHarvested) Kind() AuditKind { return AuditIncomeHarvested }

// RebalanceAction names a reserve movement.
type RebalanceAction string

const (
	RebalanceStake   RebalanceAction = "stake"
	RebalanceUnstake RebalanceAction = "unstake"
	RebalanceSweep   RebalanceAction = "sweep"
)

// ReserveRebalanced records a stake or unstake decision.
type ReserveRebalanced struct {
	Timestamp   time.Time       `json:"ts"`
	Action      RebalanceAction `json:"action"`
	Quantity    Amount          `json:"quantity"`
	Units       uint64          `json:"units,omitempty"`
	Utilization uint64          `json:"utilization,omitempty"`
}

func (ReserveRebalanced) Kind() AuditKind { return AuditReserveRebalanced }

// StatusChanged records a new switchboard state.
type StatusChanged struct {
	Timestamp       time.Time `json:"ts"`
	TransferEnabled bool      `json:"transfer_enabled"`
	DepositEnabled  bool      `json:"deposit_enabled"`
	WithdrawEnabled bool      `json:"withdraw_enabled"`
}

func (StatusChanged) Kind() AuditKind { return AuditStatusChanged }

// DelegateChanged records a voting delegation.
type DelegateChanged struct {
	Timestamp time.Time `json:"ts"`
	Delegate  AccountID `json:"delegate"`
}

func (DelegateChanged) Kind() AuditKind { return AuditDelegateChanged }
