package position

import (
	"VaultLedger/internal/event"
	"VaultLedger/internal/ledger"
	fpmath "VaultLedger/internal/math"
)

// ApplyRebalanced commits a cycle. Every check runs before the first
// mutation so a rejected event leaves both the ledger and position untouched.
func (m *Manager) ApplyRebalanced(e *event.Rebalanced) error {
	if e.Minted {
		if m.state.Status == StatusActive {
			return ledger.Violation("dual position: mint of %d while %d is live", e.PositionID, m.state.PositionID)
		}
		if e.PositionID == 0 {
			return ledger.Violation("mint without position id")
		}
		principal, err := m.state.Principal.Sub(e.Deployed)
		if err != nil {
			return ledger.Violation("deploy exceeds principal: %v", err)
		}
		m.state.Status = StatusActive
		m.state.PositionID = e.PositionID
		m.state.Principal = principal
		m.state.Cycles++
		m.state.LastCycle = e.Timestamp
		return nil
	}

	if m.state.Status != StatusActive {
		return ledger.Violation("cycle %s on EMPTY position", e.CycleID)
	}
	if e.PositionID != m.state.PositionID {
		return ledger.Violation("dual position: cycle on %d, live position is %d", e.PositionID, m.state.PositionID)
	}
	if !e.CarryUsed.Equal(m.state.Carry) {
		return ledger.Violation("cycle %s: carry used %s/%s, carried %s/%s", e.CycleID,
			e.CarryUsed.Get(0).Dec(), e.CarryUsed.Get(1).Dec(),
			m.state.Carry.Get(0).Dec(), m.state.Carry.Get(1).Dec())
	}

	oi := 1 - m.cfg.SettlementIndex
	other, err := fpmath.Add(m.state.Principal.Get(oi), e.Reinvested)
	if err != nil {
		return ledger.Violation("principal overflow")
	}
	principal, err := m.state.Principal.With(oi, other).Sub(e.Deployed)
	if err != nil {
		return ledger.Violation("cycle %s: deploy exceeds principal: %v", e.CycleID, err)
	}
	owed, err := fpmath.Add(m.state.TreasuryOwed, e.TreasuryTax)
	if err != nil {
		return ledger.Violation("treasury owed overflow")
	}

	plan, err := m.ledger.PlanCredit(e.StakerRevenue)
	if err != nil {
		return err
	}
	if !plan.Distributed.Eq(fpmath.Clone(e.Distributed)) || !plan.HeldAfter.Eq(fpmath.Clone(e.HeldAfter)) {
		return ledger.Violation("cycle %s: credit drift, distributed %s held %s, event says %s %s",
			e.CycleID, plan.Distributed.Dec(), plan.HeldAfter.Dec(),
			fpmath.Clone(e.Distributed).Dec(), fpmath.Clone(e.HeldAfter).Dec())
	}
	if _, err := m.ledger.CreditRevenue(e.StakerRevenue); err != nil {
		return err
	}

	m.state.Principal = principal
	m.state.Carry = fpmath.ZeroAmounts()
	m.state.UnresolvedHarvest = false
	m.state.HarvestRef = ""
	m.state.TreasuryOwed = owed
	m.state.Cycles++
	m.state.LastCycle = e.Timestamp
	return nil
}

// ApplyCycleAborted adds the harvested fees to carry and records whether a
// harvest is left unresolved.
func (m *Manager) ApplyCycleAborted(e *event.CycleAborted) error {
	if m.state.Status != StatusActive || e.PositionID != m.state.PositionID {
		return ledger.Violation("aborted cycle %s on position %d, live position is %d",
			e.CycleID, e.PositionID, m.state.PositionID)
	}
	if e.Unresolved && e.HarvestRef == "" {
		return ledger.Violation("aborted cycle %s: unresolved harvest without reference", e.CycleID)
	}
	carry, err := m.state.Carry.Add(e.Harvested)
	if err != nil {
		return ledger.Violation("carry overflow")
	}
	m.state.Carry = carry
	m.state.UnresolvedHarvest = e.Unresolved
	m.state.HarvestRef = e.HarvestRef
	return nil
}

func (m *Manager) ApplyPrincipalSeeded(e *event.PrincipalSeeded) error {
	principal, err := m.state.Principal.Add(e.Amounts)
	if err != nil {
		return ledger.Violation("principal overflow")
	}
	m.state.Principal = principal
	return nil
}

func (m *Manager) ApplyTreasurySwept(e *event.TreasurySwept) error {
	owed, err := fpmath.Sub(m.state.TreasuryOwed, fpmath.Clone(e.Amount))
	if err != nil {
		return ledger.Violation("sweep %s exceeds owed %s", fpmath.Clone(e.Amount).Dec(), m.state.TreasuryOwed.Dec())
	}
	m.state.TreasuryOwed = owed
	return nil
}
