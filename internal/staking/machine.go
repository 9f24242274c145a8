package staking

import (
	"context"
	"errors"
	"fmt"

	"VaultLedger/internal/event"
	"VaultLedger/internal/ledger"
	fpmath "VaultLedger/internal/math"
	"VaultLedger/internal/weights"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// Deps wires a Machine to the ledger and its collaborators.
type Deps struct {
	Ledger      *ledger.RewardLedger
	Table       *weights.Table
	Custody     Custody
	Settlement  Settlement
	Obligations Obligations
	Vault       common.Address
	Clock       clockwork.Clock
	Logger      zerolog.Logger
}

// Machine drives the UNSTAKED -> STAKED -> UNSTAKED record lifecycle.
//
// Stake, Unstake and Claim perform the external effects of a transition and
// return the event to commit; they never touch ledger state. The Apply*
// methods commit an event and are the only mutators, so replay goes through
// the same code. Not thread-safe: owned by the engine goroutine.
type Machine struct {
	ledger      *ledger.RewardLedger
	guard       *ledger.Guard
	table       *weights.Table
	custody     Custody
	settlement  Settlement
	obligations Obligations
	vault       common.Address
	clock       clockwork.Clock
	logger      zerolog.Logger
}

func NewMachine(d Deps) *Machine {
	clock := d.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	table := d.Table
	if table == nil {
		table = weights.DefaultTable()
	}
	return &Machine{
		ledger:      d.Ledger,
		guard:       ledger.NewGuard(d.Ledger),
		table:       table,
		custody:     d.Custody,
		settlement:  d.Settlement,
		obligations: d.Obligations,
		vault:       d.Vault,
		clock:       clock,
		logger:      d.Logger.With().Str("component", "staking").Logger(),
	}
}

// Stake takes custody of the token and returns the Staked event to commit.
func (m *Machine) Stake(ctx context.Context, cmd *event.StakeCommand) (*event.Staked, error) {
	if rec, ok := m.ledger.Registry().Get(cmd.TokenID); ok && rec.Staked {
		return nil, fmt.Errorf("token %d: %w", cmd.TokenID, ledger.ErrAlreadyStaked)
	}
	weight, err := m.table.WeightForTier(cmd.Tier)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ledger.ErrInvalidTransition, err)
	}

	owner, err := m.custody.OwnerOf(ctx, cmd.TokenID)
	if err != nil {
		return nil, fmt.Errorf("%w: ownerOf(%d): %v", ledger.ErrExternalVenueFailure, cmd.TokenID, err)
	}
	if owner != cmd.Owner {
		return nil, fmt.Errorf("token %d owned by %s: %w", cmd.TokenID, owner.Hex(), ledger.ErrNotOwner)
	}
	if err := m.custody.TransferIn(ctx, cmd.TokenID, cmd.Owner); err != nil {
		return nil, fmt.Errorf("%w: custody in %d: %v", ledger.ErrExternalVenueFailure, cmd.TokenID, err)
	}

	return &event.Staked{
		RequestID: cmd.RequestID,
		TokenID:   cmd.TokenID,
		Owner:     cmd.Owner,
		Tier:      cmd.Tier,
		Weight:    weight,
		Timestamp: m.clock.Now().UTC(),
	}, nil
}

// Claim pays the guarded claimable amount and returns the YieldClaimed event.
// A capped claim is not an error; the shortfall is deferred on the record.
func (m *Machine) Claim(ctx context.Context, cmd *event.ClaimCommand) (*event.YieldClaimed, error) {
	rec, err := m.stakedRecord(cmd.TokenID, cmd.Caller)
	if err != nil {
		return nil, err
	}
	q, err := m.Quote(ctx, rec.TokenID)
	if err != nil {
		return nil, err
	}
	if err := m.pay(ctx, rec.Owner, q); err != nil {
		return nil, err
	}

	return &event.YieldClaimed{
		RequestID:   cmd.RequestID,
		TokenID:     rec.TokenID,
		Owner:       rec.Owner,
		Entitlement: q.Entitlement,
		Paid:        q.Claimable,
		Deferred:    q.Shortfall,
		Timestamp:   m.clock.Now().UTC(),
	}, nil
}

// Unstake pays the guarded claimable amount, then returns the token.
//
// If the payout succeeds but the custody return fails, the returned event
// is a YieldClaimed (the token stays staked) and the error wraps
// ErrExternalVenueFailure; the caller commits the event regardless.
func (m *Machine) Unstake(ctx context.Context, cmd *event.UnstakeCommand) (event.Event, error) {
	rec, err := m.stakedRecord(cmd.TokenID, cmd.Caller)
	if err != nil {
		return nil, err
	}
	q, err := m.Quote(ctx, rec.TokenID)
	if err != nil {
		return nil, err
	}
	if err := m.pay(ctx, rec.Owner, q); err != nil {
		return nil, err
	}

	now := m.clock.Now().UTC()
	if err := m.custody.TransferOut(ctx, rec.TokenID, rec.Owner); err != nil {
		m.logger.Error().Err(err).Uint64("token_id", rec.TokenID).
			Msg("custody return failed after payout, committing as claim")
		return &event.YieldClaimed{
				RequestID:     cmd.RequestID,
				TokenID:       rec.TokenID,
				Owner:         rec.Owner,
				Entitlement:   q.Entitlement,
				Paid:          q.Claimable,
				Deferred:      q.Shortfall,
				CustodyFailed: true,
				Timestamp:     now,
			}, fmt.Errorf("%w: custody out %d: %v",
				ledger.ErrExternalVenueFailure, rec.TokenID, err)
	}

	if q.Capped {
		m.logger.Warn().Uint64("token_id", rec.TokenID).
			Str("forfeited", q.Shortfall.Dec()).Msg("unstake forfeits guarded shortfall")
	}
	return &event.Unstaked{
		RequestID:   cmd.RequestID,
		TokenID:     rec.TokenID,
		Owner:       rec.Owner,
		Entitlement: q.Entitlement,
		Paid:        q.Claimable,
		Forfeited:   q.Shortfall,
		Timestamp:   now,
	}, nil
}

// Available returns the vault's settlement balance minus non-reward obligations.
func (m *Machine) Available(ctx context.Context) (*uint256.Int, error) {
	bal, err := m.settlement.BalanceOf(ctx, m.vault)
	if err != nil {
		return nil, fmt.Errorf("%w: balanceOf vault: %v", ledger.ErrExternalVenueFailure, err)
	}
	owed := fpmath.Zero()
	if m.obligations != nil {
		owed = m.obligations.SettlementObligations()
	}
	return fpmath.SaturatingSub(bal, owed), nil
}

// Quote prices a staked token's claim against the current available balance.
func (m *Machine) Quote(ctx context.Context, tokenID uint64) (ledger.ClaimQuote, error) {
	rec, ok := m.ledger.Registry().Get(tokenID)
	if !ok {
		return ledger.ClaimQuote{}, fmt.Errorf("token %d: %w", tokenID, ledger.ErrUnknownRecord)
	}
	if !rec.Staked {
		return ledger.ClaimQuote{}, fmt.Errorf("token %d: %w", tokenID, ledger.ErrNotStaked)
	}
	available, err := m.Available(ctx)
	if err != nil {
		return ledger.ClaimQuote{}, err
	}
	return m.guard.Claimable(rec, available)
}

// QuoteAll prices every staked token against one available balance.
func (m *Machine) QuoteAll(ctx context.Context) ([]ledger.ClaimQuote, *uint256.Int, error) {
	available, err := m.Available(ctx)
	if err != nil {
		return nil, nil, err
	}
	quotes, err := m.guard.ClaimableAll(available)
	return quotes, available, err
}

func (m *Machine) stakedRecord(tokenID uint64, caller common.Address) (*ledger.Record, error) {
	rec, ok := m.ledger.Registry().Get(tokenID)
	if !ok {
		return nil, fmt.Errorf("token %d: %w", tokenID, ledger.ErrUnknownRecord)
	}
	if !rec.Staked {
		return nil, fmt.Errorf("token %d: %w", tokenID, ledger.ErrNotStaked)
	}
	if rec.Owner != caller {
		return nil, fmt.Errorf("token %d caller %s: %w", tokenID, caller.Hex(), ledger.ErrNotOwner)
	}
	return rec, nil
}

func (m *Machine) pay(ctx context.Context, to common.Address, q ledger.ClaimQuote) error {
	if q.Capped {
		m.logger.Warn().Uint64("token_id", q.TokenID).
			Str("entitlement", q.Entitlement.Dec()).
			Str("claimable", q.Claimable.Dec()).
			Str("available", q.Available.Dec()).
			Msg("claim capped by settlement balance")
	}
	if q.Claimable.IsZero() {
		return nil
	}
	if q.Claimable.Gt(q.Available) {
		return ledger.Violation("token %d: claimable %s exceeds available %s",
			q.TokenID, q.Claimable.Dec(), q.Available.Dec())
	}
	if err := m.settlement.Transfer(ctx, to, q.Claimable); err != nil {
		if errors.Is(err, ledger.ErrInsufficientBalance) {
			return fmt.Errorf("payout to %s: %w", to.Hex(), err)
		}
		return fmt.Errorf("%w: payout to %s: %v", ledger.ErrExternalVenueFailure, to.Hex(), err)
	}
	return nil
}

// Table returns the tier weight table used for new stakes.
func (m *Machine) Table() *weights.Table {
	return m.table
}
