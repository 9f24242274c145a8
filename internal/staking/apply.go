package staking

import (
	"fmt"

	"VaultLedger/internal/event"
	"VaultLedger/internal/ledger"
	fpmath "VaultLedger/internal/math"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ApplyStaked commits a stake. The weight recorded in the event is used as
// is, so a later tier table change does not alter replay.
func (m *Machine) ApplyStaked(e *event.Staked) error {
	rec, ok := m.ledger.Registry().Get(e.TokenID)
	if !ok {
		rec = ledger.NewRecord(e.TokenID, e.Owner, e.Tier)
	} else if rec.Staked {
		return fmt.Errorf("token %d: %w", e.TokenID, ledger.ErrAlreadyStaked)
	}
	rec.Owner = e.Owner
	rec.Tier = e.Tier
	return m.ledger.Activate(rec, e.Weight)
}

// ApplyYieldClaimed settles the record and carries the shortfall forward.
func (m *Machine) ApplyYieldClaimed(e *event.YieldClaimed) error {
	rec, err := m.checkPayout(e.TokenID, e.Owner, e.Entitlement, e.Paid, e.Deferred)
	if err != nil {
		return err
	}
	m.ledger.Settle(rec)
	rec.Deferred = fpmath.Clone(e.Deferred)
	rec.Version++
	return nil
}

// ApplyUnstaked settles the record and removes its weight. Any shortfall
// is forfeited back to held revenue for the remaining stakers.
func (m *Machine) ApplyUnstaked(e *event.Unstaked) error {
	rec, err := m.checkPayout(e.TokenID, e.Owner, e.Entitlement, e.Paid, e.Forfeited)
	if err != nil {
		return err
	}
	if err := m.ledger.Deactivate(rec); err != nil {
		return err
	}
	return m.ledger.Hold(fpmath.Clone(e.Forfeited))
}

// checkPayout verifies a payout event against current ledger state: the
// entitlement must match and paid + remainder must equal it.
func (m *Machine) checkPayout(tokenID uint64, owner common.Address, entitlement, paid, remainder *uint256.Int) (*ledger.Record, error) {
	rec, ok := m.ledger.Registry().Get(tokenID)
	if !ok {
		return nil, fmt.Errorf("token %d: %w", tokenID, ledger.ErrUnknownRecord)
	}
	if !rec.Staked {
		return nil, fmt.Errorf("token %d: %w", tokenID, ledger.ErrNotStaked)
	}
	if rec.Owner != owner {
		return nil, fmt.Errorf("token %d: %w", tokenID, ledger.ErrNotOwner)
	}
	ent, err := m.ledger.Entitlement(rec)
	if err != nil {
		return nil, err
	}
	if !ent.Eq(fpmath.Clone(entitlement)) {
		return nil, ledger.Violation("token %d: entitlement %s, event says %s",
			tokenID, ent.Dec(), fpmath.Clone(entitlement).Dec())
	}
	sum, err := fpmath.Add(fpmath.Clone(paid), fpmath.Clone(remainder))
	if err != nil || !sum.Eq(ent) {
		return nil, ledger.Violation("token %d: paid %s + remainder %s != entitlement %s",
			tokenID, fpmath.Clone(paid).Dec(), fpmath.Clone(remainder).Dec(), ent.Dec())
	}
	return rec, nil
}
