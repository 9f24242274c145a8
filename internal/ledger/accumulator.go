package ledger

import (
	"fmt"

	fpmath "VaultLedger/internal/math"

	"github.com/holiman/uint256"
)

// RewardLedger owns the global accumulator and the record registry.
// Not thread-safe; only accessed from the single-writer engine.
type RewardLedger struct {
	acc         *uint256.Int // accRewardPerWeight, scaled by 1e18
	totalWeight uint64
	held        *uint256.Int // revenue not yet reflected in acc
	registry    *Registry
}

func NewRewardLedger() *RewardLedger {
	return &RewardLedger{
		acc:      fpmath.Zero(),
		held:     fpmath.Zero(),
		registry: NewRegistry(),
	}
}

// CreditResult describes the effect of one creditRevenue call.
type CreditResult struct {
	Amount      *uint256.Int // revenue offered by the caller
	Distributed *uint256.Int // portion reflected in the accumulator
	Delta       *uint256.Int // accumulator increment
	HeldBefore  *uint256.Int
	HeldAfter   *uint256.Int
	AccAfter    *uint256.Int
}

// PlanCredit computes the effect of crediting amount without mutating state.
//
// The held bucket is distributed together with amount. When totalWeight is
// zero nothing is divided and everything is held. Rounding dust from the
// division is held as well, so Distributed + HeldAfter == Amount + HeldBefore.
func (l *RewardLedger) PlanCredit(amount *uint256.Int) (CreditResult, error) {
	res := CreditResult{
		Amount:     fpmath.Clone(amount),
		HeldBefore: fpmath.Clone(l.held),
	}

	total, err := fpmath.Add(amount, l.held)
	if err != nil {
		return res, Violation("revenue overflow: %v", err)
	}

	if l.totalWeight == 0 {
		res.Distributed = fpmath.Zero()
		res.Delta = fpmath.Zero()
		res.HeldAfter = total
		res.AccAfter = fpmath.Clone(l.acc)
		return res, nil
	}

	weight := uint256.NewInt(l.totalWeight)
	delta, err := fpmath.MulDiv(total, fpmath.Precision(), weight)
	if err != nil {
		return res, Violation("accumulator increment: %v", err)
	}
	distributed, err := fpmath.MulDiv(delta, weight, fpmath.Precision())
	if err != nil {
		return res, Violation("distributed amount: %v", err)
	}
	accAfter, err := fpmath.Add(l.acc, delta)
	if err != nil {
		return res, Violation("accumulator overflow: %v", err)
	}

	res.Distributed = distributed
	res.Delta = delta
	res.HeldAfter = new(uint256.Int).Sub(total, distributed)
	res.AccAfter = accAfter
	return res, nil
}

// CreditRevenue advances the accumulator by amount / totalWeight.
func (l *RewardLedger) CreditRevenue(amount *uint256.Int) (CreditResult, error) {
	res, err := l.PlanCredit(amount)
	if err != nil {
		return res, err
	}
	l.commitCredit(res)
	return res, nil
}

func (l *RewardLedger) commitCredit(res CreditResult) {
	l.acc = fpmath.Clone(res.AccAfter)
	l.held = fpmath.Clone(res.HeldAfter)
}

// PendingReward returns weight * (acc - rewardDebt) / 1e18.
// A debt above the accumulator can only come from corruption and is reported.
func (l *RewardLedger) PendingReward(rec *Record) (*uint256.Int, error) {
	if rec.Weight == 0 {
		return fpmath.Zero(), nil
	}
	diff, err := fpmath.Sub(l.acc, rec.RewardDebt)
	if err != nil {
		return nil, Violation("token %d: reward debt %s exceeds accumulator %s",
			rec.TokenID, rec.RewardDebt.Dec(), l.acc.Dec())
	}
	pending, err := fpmath.MulDiv(uint256.NewInt(rec.Weight), diff, fpmath.Precision())
	if err != nil {
		return nil, Violation("token %d: pending overflow: %v", rec.TokenID, err)
	}
	return pending, nil
}

// Entitlement is pending reward plus any deferred shortfall.
func (l *RewardLedger) Entitlement(rec *Record) (*uint256.Int, error) {
	pending, err := l.PendingReward(rec)
	if err != nil {
		return nil, err
	}
	total, err := fpmath.Add(pending, rec.Deferred)
	if err != nil {
		return nil, Violation("token %d: entitlement overflow", rec.TokenID)
	}
	return total, nil
}

// Settle synchronizes the record's debt with the current accumulator.
func (l *RewardLedger) Settle(rec *Record) {
	rec.RewardDebt = fpmath.Clone(l.acc)
}

// Activate stakes rec with the given weight. The debt is settled against the
// accumulator before the weight is added, so the record starts at zero pending.
func (l *RewardLedger) Activate(rec *Record, weight uint64) error {
	if rec.Staked {
		return fmt.Errorf("token %d: %w", rec.TokenID, ErrAlreadyStaked)
	}
	if weight == 0 {
		return Violation("token %d: zero weight", rec.TokenID)
	}
	l.Settle(rec)
	rec.EntryAcc = fpmath.Clone(l.acc)
	rec.Deferred = fpmath.Zero()
	rec.Weight = weight
	rec.Staked = true
	rec.Version++
	l.totalWeight += weight
	l.registry.Put(rec)
	return nil
}

// Deactivate settles rec and removes its weight from the active set.
// The record is kept with Staked=false.
func (l *RewardLedger) Deactivate(rec *Record) error {
	if !rec.Staked {
		return fmt.Errorf("token %d: %w", rec.TokenID, ErrNotStaked)
	}
	if rec.Weight > l.totalWeight {
		return Violation("token %d: weight %d exceeds total weight %d",
			rec.TokenID, rec.Weight, l.totalWeight)
	}
	l.Settle(rec)
	l.totalWeight -= rec.Weight
	rec.Staked = false
	rec.Deferred = fpmath.Zero()
	rec.Version++
	l.registry.Put(rec)
	return nil
}

// Hold returns amount to the holding bucket; it is distributed with the
// next credit.
func (l *RewardLedger) Hold(amount *uint256.Int) error {
	held, err := fpmath.Add(l.held, amount)
	if err != nil {
		return Violation("held overflow")
	}
	l.held = held
	return nil
}

// TotalEntitlement sums entitlement across the active set.
func (l *RewardLedger) TotalEntitlement() (*uint256.Int, error) {
	pending, deferred, err := l.Totals()
	if err != nil {
		return nil, err
	}
	total, err := fpmath.Add(pending, deferred)
	if err != nil {
		return nil, Violation("total entitlement overflow")
	}
	return total, nil
}

// Totals sums pending rewards and deferred shortfalls across the active set.
func (l *RewardLedger) Totals() (pending, deferred *uint256.Int, err error) {
	pending, deferred = fpmath.Zero(), fpmath.Zero()
	l.registry.AscendStaked(func(rec *Record) bool {
		var p *uint256.Int
		if p, err = l.PendingReward(rec); err != nil {
			return false
		}
		if pending, err = fpmath.Add(pending, p); err != nil {
			err = Violation("total pending overflow")
			return false
		}
		if deferred, err = fpmath.Add(deferred, rec.Deferred); err != nil {
			err = Violation("total deferred overflow")
			return false
		}
		return true
	})
	if err != nil {
		return nil, nil, err
	}
	return pending, deferred, nil
}

// Acc returns a copy of accRewardPerWeight.
func (l *RewardLedger) Acc() *uint256.Int { return fpmath.Clone(l.acc) }

func (l *RewardLedger) TotalWeight() uint64 { return l.totalWeight }

// HeldRevenue returns a copy of the holding bucket.
func (l *RewardLedger) HeldRevenue() *uint256.Int { return fpmath.Clone(l.held) }

func (l *RewardLedger) Registry() *Registry { return l.registry }

// --- Snapshot ---

// State is the persisted ledger layout.
type State struct {
	Acc         *uint256.Int
	TotalWeight uint64
	Held        *uint256.Int
	Records     []*Record
}

// Snapshot returns a deep copy of the ledger state.
func (l *RewardLedger) Snapshot() State {
	all := l.registry.All()
	records := make([]*Record, 0, len(all))
	for _, rec := range all {
		records = append(records, rec.Clone())
	}
	return State{
		Acc:         l.Acc(),
		TotalWeight: l.totalWeight,
		Held:        l.HeldRevenue(),
		Records:     records,
	}
}

// Restore replaces the ledger state. totalWeight is recomputed from the
// records and must match the stored value.
func (l *RewardLedger) Restore(s State) error {
	registry := NewRegistry()
	var sum uint64
	for _, rec := range s.Records {
		c := rec.Clone()
		if c.Staked {
			sum += c.Weight
		}
		registry.Put(c)
	}
	if sum != s.TotalWeight {
		return Violation("restored total weight %d does not match staked weights %d", s.TotalWeight, sum)
	}
	l.acc = fpmath.Clone(s.Acc)
	l.held = fpmath.Clone(s.Held)
	l.totalWeight = s.TotalWeight
	l.registry = registry
	return nil
}
