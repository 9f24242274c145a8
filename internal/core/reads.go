package core

import (
	"context"
	"fmt"

	"VaultLedger/internal/ledger"
	fpmath "VaultLedger/internal/math"
	"VaultLedger/internal/position"
	"VaultLedger/internal/weights"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Live reads over engine state. Like writes, they must run on the actor
// goroutine; every value returned is a copy.

// VaultReport compares what stakers are owed with what the vault can pay,
// and lists records whose reward debt is out of bounds.
type VaultReport struct {
	AsOfSequence  int64
	Acc           *uint256.Int
	TotalWeight   uint64
	StakedRecords int
	HeldRevenue   *uint256.Int
	TotalPending  *uint256.Int // entitlement summed over staked records
	Available     *uint256.Int
	Shortfall     *uint256.Int // TotalPending - Available, floored at zero
	Position      position.State
	StaleDebts    []ledger.StaleDebt
}

// Record returns a copy of the record for tokenID.
func (c *Engine) Record(tokenID uint64) (*ledger.Record, error) {
	rec, ok := c.ledger.Registry().Get(tokenID)
	if !ok {
		return nil, fmt.Errorf("token %d: %w", tokenID, ledger.ErrUnknownRecord)
	}
	return rec.Clone(), nil
}

// StakedTokens lists the tokens owner currently has staked.
func (c *Engine) StakedTokens(owner common.Address) []uint64 {
	return c.ledger.Registry().StakedByOwner(owner)
}

// Tiers lists the configured tiers in ascending order.
func (c *Engine) Tiers() []weights.Tier {
	return c.machine.Table().Tiers()
}

// TierWeight returns the weight a new stake of tier would receive.
func (c *Engine) TierWeight(tier weights.Tier) (uint64, error) {
	return c.machine.Table().WeightForTier(tier)
}

// PendingReward is the accrued, unpaid reward of a staked token,
// before the settlement guard.
func (c *Engine) PendingReward(tokenID uint64) (*uint256.Int, error) {
	rec, ok := c.ledger.Registry().Get(tokenID)
	if !ok {
		return nil, fmt.Errorf("token %d: %w", tokenID, ledger.ErrUnknownRecord)
	}
	if !rec.Staked {
		return fpmath.Zero(), nil
	}
	return c.ledger.Entitlement(rec)
}

// Quote prices a claim for tokenID against the live settlement balance.
func (c *Engine) Quote(ctx context.Context, tokenID uint64) (ledger.ClaimQuote, error) {
	return c.machine.Quote(ctx, tokenID)
}

// PositionState returns the managed position state.
func (c *Engine) PositionState() position.State {
	return c.positions.State()
}

// Liquidity reads the live position's liquidity from the venue.
func (c *Engine) Liquidity(ctx context.Context) (*uint256.Int, error) {
	return c.positions.Liquidity(ctx)
}

// Report builds the vault state report.
func (c *Engine) Report(ctx context.Context) (*VaultReport, error) {
	available, err := c.machine.Available(ctx)
	if err != nil {
		return nil, err
	}
	total, err := c.ledger.TotalEntitlement()
	if err != nil {
		return nil, err
	}
	staked := 0
	c.ledger.Registry().AscendStaked(func(*ledger.Record) bool {
		staked++
		return true
	})
	return &VaultReport{
		AsOfSequence:  c.LastSequence(),
		Acc:           c.ledger.Acc(),
		TotalWeight:   c.ledger.TotalWeight(),
		StakedRecords: staked,
		HeldRevenue:   c.ledger.HeldRevenue(),
		TotalPending:  total,
		Available:     available,
		Shortfall:     fpmath.SaturatingSub(total, available),
		Position:      c.positions.State(),
		StaleDebts:    c.validator.FindStaleDebts(),
	}, nil
}

// Summary returns the aggregate carried to the vault_state projection.
func (c *Engine) Summary() VaultSummary {
	return c.summary()
}
