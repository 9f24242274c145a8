package staking

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Custody moves staked tokens in and out of the vault's control.
type Custody interface {
	TransferIn(ctx context.Context, tokenID uint64, from common.Address) error
	TransferOut(ctx context.Context, tokenID uint64, to common.Address) error
	OwnerOf(ctx context.Context, tokenID uint64) (common.Address, error)
}

// Settlement is the settlement-asset token the vault pays rewards in.
type Settlement interface {
	BalanceOf(ctx context.Context, account common.Address) (*uint256.Int, error)
	Transfer(ctx context.Context, to common.Address, amount *uint256.Int) error
}

// Obligations reports settlement-asset amounts held by the vault that are
// not staker revenue (principal, owed tax, uncommitted carry).
type Obligations interface {
	SettlementObligations() *uint256.Int
}
