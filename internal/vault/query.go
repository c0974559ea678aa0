package vault

import (
	"context"

	"github.com/vadiminshakov/svault/internal/domain"
	"github.com/vadiminshakov/svault/internal/storage/state"
)

// Status returns the last committed global status.
func (v *Vault) Status() domain.VaultStatus {
	if s := v.status.Load(); s != nil {
		return *s
	}
	return domain.VaultStatus{}
}

// Collaterals lists every registered collateral ordered by id.
func (v *Vault) Collaterals() []domain.Collateral {
	return v.registry.All()
}

// Collateral returns the collateral with the given id.
func (v *Vault) Collateral(id uint64) (domain.Collateral, error) {
	c, ok := v.registry.ByID(id)
	if !ok {
		return domain.Collateral{}, domain.NotFoundf("collateral %d", id)
	}
	return c, nil
}

// Redemptions lists owner's pending redemptions in FIFO order.
func (v *Vault) Redemptions(owner domain.AccountID) ([]domain.PendingRedemption, error) {
	var out []domain.PendingRedemption
	err := v.store.View(func(tx *state.Tx) error {
		var err error
		out, err = v.queue.Pending(tx, owner)
		return err
	})
	return out, err
}

// Rate returns the current exchange rate of the collateral whose deposit or receipt code is code.
func (v *Vault) Rate(ctx context.Context, code string) (uint64, error) {
	for _, c := range v.registry.All() {
		if c.DepositDenom.Code == code || c.ReceiptDenom.Code == code {
			return v.oracle.Rate(ctx, c, 0)
		}
	}
	return 0, domain.NotFoundf("no collateral with code %q", code)
}

// Outbox lists follow-up commands that have not completed yet.
func (v *Vault) Outbox() ([]domain.Command, error) {
	return v.dispatcher.Pending()
}
