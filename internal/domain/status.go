package domain

// VaultStatus is the process-wide switchboard and counters of a vault instance.
type VaultStatus struct {
	// LastIncomeTick is the start of the last harvested interval, in unix seconds. Zero means never.
	LastIncomeTick     uint64    `json:"last_income_tick"`
	TransferEnabled    bool      `json:"transfer_enabled"`
	DepositEnabled     bool      `json:"deposit_enabled"`
	WithdrawEnabled    bool      `json:"withdraw_enabled"`
	RedemptionSequence uint64    `json:"redemption_sequence"`
	Delegate           AccountID `json:"delegate,omitempty"`
}

// DefaultVaultStatus returns the permissive status a fresh vault starts with.
func DefaultVaultStatus() VaultStatus {
	return VaultStatus{
		TransferEnabled: true,
		DepositEnabled:  true,
		WithdrawEnabled: true,
	}
}

// NextRedemptionID advances the sequence and returns the new identifier.
func (s *VaultStatus) NextRedemptionID() uint64 {
	s.RedemptionSequence++
	return s.RedemptionSequence
}
