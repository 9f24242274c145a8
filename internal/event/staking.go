package event

import (
	"time"

	"VaultLedger/internal/weights"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// Staked records a token entering custody with its weight fixed at stake time.
type Staked struct {
	RequestID uuid.UUID
	TokenID   uint64
	Owner     common.Address
	Tier      weights.Tier
	Weight    uint64
	Timestamp time.Time
}

func (e *Staked) IdempotencyKey() string { return e.RequestID.String() }
func (e *Staked) EventType() EventType   { return EventTypeStaked }
func (e *Staked) OccurredAt() time.Time  { return e.Timestamp }

// Unstaked records a token leaving custody. Paid is the guarded payout;
// Forfeited is the part of Entitlement the guard could not cover.
type Unstaked struct {
	RequestID   uuid.UUID
	TokenID     uint64
	Owner       common.Address
	Entitlement *uint256.Int
	Paid        *uint256.Int
	Forfeited   *uint256.Int
	Timestamp   time.Time
}

func (e *Unstaked) IdempotencyKey() string { return e.RequestID.String() }
func (e *Unstaked) EventType() EventType   { return EventTypeUnstaked }
func (e *Unstaked) OccurredAt() time.Time  { return e.Timestamp }

// YieldClaimed records a payout to a staked token's owner. Deferred is
// carried on the record into the next claim.
//
// CustodyFailed marks an unstake whose payout went through but whose
// custody return did not; the token stays staked.
type YieldClaimed struct {
	RequestID     uuid.UUID
	TokenID       uint64
	Owner         common.Address
	Entitlement   *uint256.Int
	Paid          *uint256.Int
	Deferred      *uint256.Int
	CustodyFailed bool
	Timestamp     time.Time
}

func (e *YieldClaimed) IdempotencyKey() string { return e.RequestID.String() }
func (e *YieldClaimed) EventType() EventType   { return EventTypeYieldClaimed }
func (e *YieldClaimed) OccurredAt() time.Time  { return e.Timestamp }
