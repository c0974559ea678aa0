package vault

import (
	"github.com/pkg/errors"

	"github.com/vadiminshakov/svault/internal/domain"
)

// Operation names a vault command for authorisation and logging.
type Operation string

const (
	OpSetStatus             Operation = "set_status"
	OpRegisterCollateral    Operation = "register_collateral"
	OpUpdateCollateral      Operation = "update_collateral"
	OpSetVotingDelegate     Operation = "set_voting_delegate"
	OpRequestFullUnstake    Operation = "request_full_unstake"
	OpRequestPartialUnstake Operation = "request_partial_unstake"
	OpStake                 Operation = "stake"
	OpStakeAll              Operation = "stake_all"
	OpHarvestIncome         Operation = "harvest_income"
	OpTriggerSettlement     Operation = "trigger_settlement"
)

type principal int

const (
	anyone principal = iota
	admin
	adminOrSelf
)

func (p principal) String() string {
	switch p {
	case admin:
		return "admin"
	case adminOrSelf:
		return "admin or vault"
	default:
		return "anyone"
	}
}

var requirements = map[Operation]principal{
	OpSetStatus:             admin,
	OpRegisterCollateral:    admin,
	OpUpdateCollateral:      admin,
	OpSetVotingDelegate:     admin,
	OpRequestFullUnstake:    admin,
	OpRequestPartialUnstake: admin,
	OpStake:                 adminOrSelf,
	OpStakeAll:              adminOrSelf,
	OpHarvestIncome:         anyone,
	OpTriggerSettlement:     anyone,
}

func (v *Vault) authorize(op Operation, caller domain.AccountID) error {
	required, ok := requirements[op]
	if !ok {
		return errors.Errorf("no authorisation rule for %s", op)
	}

	switch required {
	case anyone:
		return nil
	case admin:
		if caller == v.cfg.Admin {
			return nil
		}
	case adminOrSelf:
		if caller == v.cfg.Admin || caller == v.cfg.Vault {
			return nil
		}
	}

	return domain.Unauthorizedf("%s requires %s, called by %q", op, required, caller)
}
