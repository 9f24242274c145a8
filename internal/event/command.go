package event

import (
	fpmath "VaultLedger/internal/math"
	"VaultLedger/internal/weights"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// CommandKind discriminates inbound commands
type CommandKind int32

const (
	CommandKindUnknown CommandKind = iota
	CommandKindStake
	CommandKindUnstake
	CommandKindClaim
	CommandKindRebalance
	CommandKindSeedPrincipal
)

func (k CommandKind) String() string {
	switch k {
	case CommandKindStake:
		return "stake"
	case CommandKindUnstake:
		return "unstake"
	case CommandKindClaim:
		return "claim"
	case CommandKindRebalance:
		return "rebalance"
	case CommandKindSeedPrincipal:
		return "seed"
	default:
		return "unknown"
	}
}

// Command is a request to change vault state. Commands carry no outcome;
// the engine executes them and commits the resulting event.
type Command interface {
	// RequestKey is the idempotency key shared by every event the command produces
	RequestKey() string
	Kind() CommandKind
}

type StakeCommand struct {
	RequestID uuid.UUID
	TokenID   uint64
	Owner     common.Address
	Tier      weights.Tier
}

func (c *StakeCommand) RequestKey() string { return c.RequestID.String() }
func (c *StakeCommand) Kind() CommandKind  { return CommandKindStake }

type UnstakeCommand struct {
	RequestID uuid.UUID
	TokenID   uint64
	Caller    common.Address
}

func (c *UnstakeCommand) RequestKey() string { return c.RequestID.String() }
func (c *UnstakeCommand) Kind() CommandKind  { return CommandKindUnstake }

type ClaimCommand struct {
	RequestID uuid.UUID
	TokenID   uint64
	Caller    common.Address
}

func (c *ClaimCommand) RequestKey() string { return c.RequestID.String() }
func (c *ClaimCommand) Kind() CommandKind  { return CommandKindClaim }

// RebalanceCommand runs one harvest/credit/redeploy cycle.
type RebalanceCommand struct {
	RequestID uuid.UUID
}

func (c *RebalanceCommand) RequestKey() string { return c.RequestID.String() }
func (c *RebalanceCommand) Kind() CommandKind  { return CommandKindRebalance }

// SeedPrincipalCommand registers principal already transferred to the vault.
type SeedPrincipalCommand struct {
	RequestID uuid.UUID
	Amounts   fpmath.Amounts
}

func (c *SeedPrincipalCommand) RequestKey() string { return c.RequestID.String() }
func (c *SeedPrincipalCommand) Kind() CommandKind  { return CommandKindSeedPrincipal }
