package testutil

import (
	"context"
	"testing"
	"time"

	"VaultLedger/internal/core"
	"VaultLedger/internal/event"
	"VaultLedger/internal/ledger"
	fpmath "VaultLedger/internal/math"
	"VaultLedger/internal/position"
	"VaultLedger/internal/staking"
	"VaultLedger/internal/weights"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// Vault is an engine wired to in-memory fakes, for tests outside core.
type Vault struct {
	Engine     *core.Engine
	Persist    chan core.CoreOutput
	Projection chan core.CoreOutput
	Clock      *clockwork.FakeClock
	Custody    *FakeCustody
	Settlement *FakeSettlement
	Venue      *FakeVenue
}

// NewVault builds a fresh engine with buffered output channels.
func NewVault(t *testing.T) *Vault {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 4, 1, 9, 30, 0, 0, time.UTC))
	l := ledger.NewRewardLedger()
	settlement := NewFakeSettlement(VaultAddr)
	custody := NewFakeCustody(VaultAddr)
	venue := NewFakeVenue()
	venue.Settlement = settlement
	venue.Vault = VaultAddr

	cfg := position.DefaultConfig()
	cfg.Vault = VaultAddr
	cfg.Treasury = TreasuryAddr
	cfg.RetryInitial = time.Millisecond
	cfg.CycleTimeout = time.Second
	pm := position.NewManager(cfg, venue, settlement, l, clock, zerolog.Nop())
	m := staking.NewMachine(staking.Deps{
		Ledger: l, Custody: custody, Settlement: settlement, Obligations: pm,
		Vault: VaultAddr, Clock: clock, Logger: zerolog.Nop(),
	})

	persist := make(chan core.CoreOutput, 256)
	projection := make(chan core.CoreOutput, 256)
	e := core.NewEngine(core.Components{Ledger: l, Machine: m, Positions: pm, Clock: clock},
		persist, projection, nil, nil, zerolog.Nop())
	return &Vault{
		Engine:     e,
		Persist:    persist,
		Projection: projection,
		Clock:      clock,
		Custody:    custody,
		Settlement: settlement,
		Venue:      venue,
	}
}

// Exec executes cmd and fails the test on error.
func (v *Vault) Exec(t *testing.T, cmd event.Command) *core.Result {
	t.Helper()
	res, err := v.Engine.Execute(context.Background(), cmd)
	require.NoError(t, err, "%s", cmd.Kind())
	return res
}

// Seed funds the vault with amount of the settlement asset and registers it.
func (v *Vault) Seed(t *testing.T, amount uint64) {
	t.Helper()
	v.Settlement.Credit(VaultAddr, uint256.NewInt(amount))
	v.Exec(t, &event.SeedPrincipalCommand{
		RequestID: uuid.New(),
		Amounts:   fpmath.NewAmounts(uint256.NewInt(amount), uint256.NewInt(0)),
	})
}

// Stake mints tokenID to owner and stakes it.
func (v *Vault) Stake(t *testing.T, tokenID uint64, owner common.Address, tier weights.Tier) {
	t.Helper()
	v.Custody.Mint(tokenID, owner)
	v.Exec(t, &event.StakeCommand{RequestID: uuid.New(), TokenID: tokenID, Owner: owner, Tier: tier})
}

// Rebalance runs one cycle.
func (v *Vault) Rebalance(t *testing.T) *core.Result {
	t.Helper()
	return v.Exec(t, &event.RebalanceCommand{RequestID: uuid.New()})
}

// Drain returns everything buffered on ch.
func Drain(ch chan core.CoreOutput) []core.CoreOutput {
	var out []core.CoreOutput
	for {
		select {
		case o := <-ch:
			out = append(out, o)
		default:
			return out
		}
	}
}
