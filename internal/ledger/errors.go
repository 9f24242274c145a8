package ledger

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by the staking machine, position manager and engine.
// Check with errors.Is; refinements wrap one of the four roots.
var (
	ErrInvariantViolation   = errors.New("invariant violation")
	ErrInsufficientBalance  = errors.New("insufficient settlement balance")
	ErrExternalVenueFailure = errors.New("external venue failure")
	ErrInvalidTransition    = errors.New("invalid transition")
)

var (
	ErrNotOwner      = fmt.Errorf("%w: caller is not the record owner", ErrInvalidTransition)
	ErrUnknownRecord = fmt.Errorf("%w: unknown token", ErrInvalidTransition)
	ErrAlreadyStaked = fmt.Errorf("%w: token already staked", ErrInvalidTransition)
	ErrNotStaked     = fmt.Errorf("%w: token not staked", ErrInvalidTransition)
	ErrCycleInFlight = fmt.Errorf("%w: rebalance cycle already in flight", ErrInvalidTransition)
)

// Violation builds an invariant-violation error with context.
func Violation(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvariantViolation, fmt.Sprintf(format, args...))
}
