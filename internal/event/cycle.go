package event

import (
	"time"

	fpmath "VaultLedger/internal/math"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// Rebalanced is a committed position cycle.
//
// When Minted is set the cycle created the position from principal and
// harvested nothing. Otherwise Harvested holds this cycle's collected fees
// and CarryUsed the carry from aborted cycles folded into it.
// StakerRevenue is the amount credited to the reward ledger; Distributed and
// HeldAfter are the ledger's result and are re-checked on apply.
type Rebalanced struct {
	CycleID       uuid.UUID
	PositionID    uint64
	Minted        bool
	Harvested     fpmath.Amounts
	CarryUsed     fpmath.Amounts
	TreasuryTax   *uint256.Int
	StakerRevenue *uint256.Int
	Distributed   *uint256.Int
	HeldAfter     *uint256.Int
	Reinvested    *uint256.Int // non-settlement fees added to principal
	Deployed      fpmath.Amounts
	Redeployed    bool
	Timestamp     time.Time
}

func (e *Rebalanced) IdempotencyKey() string { return e.CycleID.String() }
func (e *Rebalanced) EventType() EventType   { return EventTypeRebalanced }
func (e *Rebalanced) OccurredAt() time.Time  { return e.Timestamp }

// CycleAborted records fees harvested by a cycle that failed before commit.
// The ledger and position are unchanged; Harvested becomes carry.
//
// Unresolved is set when a harvest was sent but its outcome is unknown.
// HarvestRef identifies it so the next cycle can recover the collected fees
// before harvesting again.
type CycleAborted struct {
	CycleID    uuid.UUID
	PositionID uint64
	Harvested  fpmath.Amounts
	Unresolved bool
	HarvestRef string
	Reason     string
	Timestamp  time.Time
}

func (e *CycleAborted) IdempotencyKey() string { return e.CycleID.String() }
func (e *CycleAborted) EventType() EventType   { return EventTypeCycleAborted }
func (e *CycleAborted) OccurredAt() time.Time  { return e.Timestamp }

type PrincipalSeeded struct {
	RequestID uuid.UUID
	Amounts   fpmath.Amounts
	Timestamp time.Time
}

func (e *PrincipalSeeded) IdempotencyKey() string { return e.RequestID.String() }
func (e *PrincipalSeeded) EventType() EventType   { return EventTypePrincipalSeeded }
func (e *PrincipalSeeded) OccurredAt() time.Time  { return e.Timestamp }

// TreasurySwept records owed tax transferred to the treasury. It follows the
// Rebalanced event of the same cycle under a derived key.
type TreasurySwept struct {
	CycleID   uuid.UUID
	Treasury  common.Address
	Amount    *uint256.Int
	Timestamp time.Time
}

func (e *TreasurySwept) IdempotencyKey() string { return e.CycleID.String() + ":sweep" }
func (e *TreasurySwept) EventType() EventType   { return EventTypeTreasurySwept }
func (e *TreasurySwept) OccurredAt() time.Time  { return e.Timestamp }
