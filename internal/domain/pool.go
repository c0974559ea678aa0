package domain

import "time"

// PoolState is the staking pool's pricing curve.
type PoolState struct {
	TotalLendable Amount `json:"total_lendable"`
	TotalLent     Amount `json:"total_lent"`
	TotalRex      uint64 `json:"total_rex"`
}

// Utilization returns total_lent * 100 / total_lendable, 0 for an empty pool.
func (p PoolState) Utilization() (uint64, error) {
	if p.TotalLendable.Quantity <= 0 || p.TotalLent.Quantity <= 0 {
		return 0, nil
	}
	return MulDivU64(uint64(p.TotalLent.Quantity), 100, uint64(p.TotalLendable.Quantity))
}

// UnitsFor converts a reserve quantity into pool units at the current price.
func (p PoolState) UnitsFor(quantity int64) (uint64, error) {
	if quantity <= 0 || p.TotalLendable.Quantity <= 0 || p.TotalRex == 0 {
		return 0, nil
	}
	return MulDivU64(uint64(quantity), p.TotalRex, uint64(p.TotalLendable.Quantity))
}

// ValueOf converts pool units into reserve minor units at the current price.
func (p PoolState) ValueOf(units uint64) (int64, error) {
	if units == 0 || p.TotalRex == 0 || p.TotalLendable.Quantity <= 0 {
		return 0, nil
	}
	v, err := MulDivU64(units, uint64(p.TotalLendable.Quantity), p.TotalRex)
	if err != nil {
		return 0, err
	}
	if v > uint64(maxQuantity) {
		return 0, Validationf("staked value of %d units overflows", units)
	}
	return int64(v), nil
}

// MaturityBucket is a batch of staking units unlocking at the same time.
type MaturityBucket struct {
	Unlock time.Time `json:"unlock"`
	Units  uint64    `json:"units"`
}

// StakeUnits is an account's staking position.
type StakeUnits struct {
	MaturedUnits uint64           `json:"matured_units"`
	Buckets      []MaturityBucket `json:"buckets"`
}

// Total returns matured plus locked units.
func (s StakeUnits) Total() uint64 {
	total := s.MaturedUnits
	for _, b := range s.Buckets {
		total += b.Units
	}
	return total
}

// Matured returns the units sellable at now: the matured balance plus buckets already unlocked.
func (s StakeUnits) Matured(now time.Time) uint64 {
	total := s.MaturedUnits
	for _, b := range s.Buckets {
		if !b.Unlock.After(now) {
			total += b.Units
		}
	}
	return total
}
