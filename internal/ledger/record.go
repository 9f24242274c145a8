package ledger

import (
	fpmath "VaultLedger/internal/math"
	"VaultLedger/internal/weights"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Record is a staked (or previously staked) position token.
//
// RewardDebt holds the accumulator value at the record's last sync. EntryAcc
// holds the accumulator at stake time; a staked record must always satisfy
// EntryAcc <= RewardDebt <= acc. Deferred carries entitlement that the
// settlement guard could not pay on a previous claim.
type Record struct {
	TokenID    uint64
	Owner      common.Address
	Tier       weights.Tier
	Weight     uint64
	RewardDebt *uint256.Int
	EntryAcc   *uint256.Int
	Deferred   *uint256.Int
	Staked     bool
	Version    int64
}

// NewRecord creates an unstaked record with zeroed accounting fields.
func NewRecord(tokenID uint64, owner common.Address, tier weights.Tier) *Record {
	return &Record{
		TokenID:    tokenID,
		Owner:      owner,
		Tier:       tier,
		RewardDebt: fpmath.Zero(),
		EntryAcc:   fpmath.Zero(),
		Deferred:   fpmath.Zero(),
	}
}

// Clone returns a deep copy.
func (r *Record) Clone() *Record {
	c := *r
	c.RewardDebt = fpmath.Clone(r.RewardDebt)
	c.EntryAcc = fpmath.Clone(r.EntryAcc)
	c.Deferred = fpmath.Clone(r.Deferred)
	return &c
}
