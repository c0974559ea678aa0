package domain

import (
	"github.com/pkg/errors"
)

var (
	// ErrValidation marks bad input: denomination mismatch, non-positive amount, ratio out of range.
	ErrValidation = errors.New("validation error")
	// ErrState marks requests that conflict with the current vault state.
	ErrState = errors.New("state error")
	// ErrLiquidityShortfall marks payouts that cannot be covered even after unstaking.
	ErrLiquidityShortfall = errors.New("liquidity shortfall")
	// ErrUnauthorized marks privileged commands invoked by a non-privileged caller.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound is a validation error for unknown collateral ids or denominations.
	ErrNotFound = errors.Wrap(ErrValidation, "not found")
	// ErrPaused is a state error raised when a global switch disables the operation.
	ErrPaused = errors.Wrap(ErrState, "suspended")
)

// Validationf returns an error matching ErrValidation.
func Validationf(format string, args ...any) error {
	return errors.Wrapf(ErrValidation, format, args...)
}

// Statef returns an error matching ErrState.
func Statef(format string, args ...any) error {
	return errors.Wrapf(ErrState, format, args...)
}

// NotFoundf returns an error matching ErrNotFound (and therefore ErrValidation).
func NotFoundf(format string, args ...any) error {
	return errors.Wrapf(ErrNotFound, format, args...)
}

// Pausedf returns an error matching ErrPaused (and therefore ErrState).
func Pausedf(format string, args ...any) error {
	return errors.Wrapf(ErrPaused, format, args...)
}

// Shortfallf returns an error matching ErrLiquidityShortfall.
func Shortfallf(format string, args ...any) error {
	return errors.Wrapf(ErrLiquidityShortfall, format, args...)
}

// Unauthorizedf returns an error matching ErrUnauthorized.
func Unauthorizedf(format string, args ...any) error {
	return errors.Wrapf(ErrUnauthorized, format, args...)
}
