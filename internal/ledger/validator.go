package ledger

import (
	fpmath "VaultLedger/internal/math"

	"github.com/holiman/uint256"
)

// InvariantValidator checks reward ledger invariants
type InvariantValidator struct {
	ledger  *RewardLedger
	lastAcc *uint256.Int
}

func NewInvariantValidator(l *RewardLedger) *InvariantValidator {
	return &InvariantValidator{
		ledger:  l,
		lastAcc: l.Acc(),
	}
}

// Reset re-baselines the monotonicity check, used after a snapshot restore.
func (v *InvariantValidator) Reset() {
	v.lastAcc = v.ledger.Acc()
}

// ValidateBatchBalance verifies the journal batch is well-formed
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return Violation("batch %s: %v", batch.BatchID, err)
	}
	return nil
}

// ValidateAccumulatorMonotonic verifies acc never decreased since the last check
func (v *InvariantValidator) ValidateAccumulatorMonotonic() error {
	acc := v.ledger.Acc()
	if acc.Lt(v.lastAcc) {
		return Violation("accumulator decreased from %s to %s", v.lastAcc.Dec(), acc.Dec())
	}
	v.lastAcc = acc
	return nil
}

// ValidateTotalWeight verifies totalWeight equals the sum of staked weights
func (v *InvariantValidator) ValidateTotalWeight() error {
	var sum uint64
	v.ledger.registry.AscendStaked(func(rec *Record) bool {
		sum += rec.Weight
		return true
	})
	if sum != v.ledger.totalWeight {
		return Violation("total weight %d != sum of staked weights %d", v.ledger.totalWeight, sum)
	}
	return nil
}

// ValidateDebtBounds verifies EntryAcc <= RewardDebt <= acc for a staked record.
// A debt below the entry accumulator is how a zeroed debt shows up.
func (v *InvariantValidator) ValidateDebtBounds(rec *Record) error {
	if !rec.Staked {
		return nil
	}
	acc := v.ledger.acc
	debt := fpmath.Clone(rec.RewardDebt)
	if debt.Gt(acc) {
		return Violation("token %d: reward debt %s above accumulator %s", rec.TokenID, debt.Dec(), acc.Dec())
	}
	if debt.Lt(fpmath.Clone(rec.EntryAcc)) {
		return Violation("token %d: stale reward debt %s below entry accumulator %s",
			rec.TokenID, debt.Dec(), fpmath.Clone(rec.EntryAcc).Dec())
	}
	return nil
}

// ValidateTokens checks debt bounds for the given tokens
func (v *InvariantValidator) ValidateTokens(tokenIDs ...uint64) error {
	for _, id := range tokenIDs {
		rec, ok := v.ledger.registry.Get(id)
		if !ok {
			continue
		}
		if err := v.ValidateDebtBounds(rec); err != nil {
			return err
		}
	}
	return nil
}

// ValidateAll runs the full sweep over every staked record
func (v *InvariantValidator) ValidateAll() error {
	if err := v.ValidateTotalWeight(); err != nil {
		return err
	}
	var err error
	v.ledger.registry.AscendStaked(func(rec *Record) bool {
		err = v.ValidateDebtBounds(rec)
		return err == nil
	})
	return err
}

// StaleDebt describes one record failing the debt bounds.
type StaleDebt struct {
	TokenID    uint64
	RewardDebt *uint256.Int
	EntryAcc   *uint256.Int
	Acc        *uint256.Int
	Zeroed     bool
}

// FindStaleDebts reports every staked record violating debt bounds without failing.
func (v *InvariantValidator) FindStaleDebts() []StaleDebt {
	var out []StaleDebt
	v.ledger.registry.AscendStaked(func(rec *Record) bool {
		if v.ValidateDebtBounds(rec) != nil {
			out = append(out, StaleDebt{
				TokenID:    rec.TokenID,
				RewardDebt: fpmath.Clone(rec.RewardDebt),
				EntryAcc:   fpmath.Clone(rec.EntryAcc),
				Acc:        v.ledger.Acc(),
				Zeroed:     fpmath.Clone(rec.RewardDebt).IsZero() && !v.ledger.acc.IsZero(),
			})
		}
		return true
	})
	return out
}
