package domain

import "time"

// RedemptionState is the lifecycle position of a queued redemption.
type RedemptionState string

const (
	RedemptionStatePending RedemptionState = "pending"
	RedemptionStateMature  RedemptionState = "mature"
	RedemptionStateSettled RedemptionState = "settled"
)

// PendingRedemption is a rate-locked claim on collateral waiting for maturity.
type PendingRedemption struct {
	ID           uint64    `json:"id"`
	Owner        AccountID `json:"owner"`
	CollateralID uint64    `json:"collateral_id"`
	Quantity     Amount    `json:"quantity"`
	LockedRate   uint64    `json:"locked_rate"`
	MaturityTime time.Time `json:"maturity_time"`
	RequestedAt  time.Time `json:"requested_at"`
}

// IsMature reports whether the redemption can be settled at now.
func (r PendingRedemption) IsMature(now time.Time) bool {
	return !r.MaturityTime.After(now)
}

// State returns pending or mature. Settled records no longer exist.
func (r PendingRedemption) State(now time.Time) RedemptionState {
	if r.IsMature(now) {
		return RedemptionStateMature
	}
	return RedemptionStatePending
}
