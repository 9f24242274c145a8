package position

import (
	"context"
	"errors"
	"fmt"

	fpmath "VaultLedger/internal/math"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ErrReverted marks a venue call that was rejected on-chain. Reverts are not
// retried; transport errors are.
var ErrReverted = errors.New("venue call reverted")

// ErrUnconfirmed marks a venue call that was sent but whose outcome is
// unknown. It may have been executed, so it is never retried blindly.
var ErrUnconfirmed = errors.New("venue call outcome unknown")

// UnconfirmedError carries the reference of a sent call whose outcome is
// unknown. On chain Ref is the transaction hash and nonce.
type UnconfirmedError struct {
	Op  string
	Ref string
	Err error
}

func (e *UnconfirmedError) Error() string {
	return fmt.Sprintf("%s %s: %v: %v", e.Op, e.Ref, ErrUnconfirmed, e.Err)
}

func (e *UnconfirmedError) Unwrap() []error { return []error{ErrUnconfirmed, e.Err} }

// Venue is the external liquidity venue holding the vault's single position.
// Tick and price mechanics are the venue's concern.
type Venue interface {
	DeployPosition(ctx context.Context, amounts fpmath.Amounts) (uint64, error)
	HarvestFees(ctx context.Context, positionID uint64) (fpmath.Amounts, error)
	// ResolveHarvest returns the fees collected by the harvest identified by
	// ref, or zero if it was never executed. It returns ErrUnconfirmed while
	// the outcome is still unknown.
	ResolveHarvest(ctx context.Context, positionID uint64, ref string) (fpmath.Amounts, error)
	// IncreaseLiquidity returns the id of the position that received liquidity.
	IncreaseLiquidity(ctx context.Context, positionID uint64, amounts fpmath.Amounts) (uint64, error)
	ReadPositionState(ctx context.Context, positionID uint64) (*uint256.Int, error)
}

// Treasury pays owed tax out of the vault's settlement balance.
type Treasury interface {
	BalanceOf(ctx context.Context, account common.Address) (*uint256.Int, error)
	Transfer(ctx context.Context, to common.Address, amount *uint256.Int) error
}
