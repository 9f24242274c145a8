package ledger

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeFeeHarvest JournalType = iota
	JournalTypeTreasuryTax
	JournalTypeStakerRevenue
	JournalTypeHeldRevenue
	JournalTypeReinvest
	JournalTypeDeploy
	JournalTypeCarry
	JournalTypePayout
	JournalTypeForfeit
	JournalTypeTreasurySweep
	JournalTypePrincipalSeed
)

var journalTypeNames = map[JournalType]string{
	JournalTypeFeeHarvest:    "fee_harvest",
	JournalTypeTreasuryTax:   "treasury_tax",
	JournalTypeStakerRevenue: "staker_revenue",
	JournalTypeHeldRevenue:   "held_revenue",
	JournalTypeReinvest:      "reinvest",
	JournalTypeDeploy:        "deploy",
	JournalTypeCarry:         "carry",
	JournalTypePayout:        "payout",
	JournalTypeForfeit:       "forfeit",
	JournalTypeTreasurySweep: "treasury_sweep",
	JournalTypePrincipalSeed: "principal_seed",
}

func (t JournalType) String() string {
	if name, ok := journalTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// Journal represents a single double-entry journal entry
type Journal struct {
	JournalID     uuid.UUID
	BatchID       uuid.UUID
	EventRef      string     // idempotency key of source event
	Sequence      int64      // global event sequence
	DebitAccount  AccountKey // balance increases
	CreditAccount AccountKey // balance decreases
	AssetID       AssetID
	Amount        *uint256.Int // base units, always positive
	JournalType   JournalType
	Timestamp     int64 // versioned input timestamp (epoch microseconds)
}

// Batch represents a balanced set of journal entries for one event.
// State-only events (Staked) produce an empty batch.
type Batch struct {
	BatchID   uuid.UUID
	EventRef  string
	Sequence  int64
	Timestamp int64
	Journals  []Journal
}

// Validate ensures the batch is well-formed. Each entry moves one positive
// amount from its credit account to its debit account, so the batch is
// balanced per entry.
func (b *Batch) Validate() error {
	for _, j := range b.Journals {
		if j.Amount == nil || j.Amount.IsZero() {
			return fmt.Errorf("journal %s has non-positive amount", j.JournalID)
		}
		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}
		if j.DebitAccount == j.CreditAccount {
			return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
		}
		if j.DebitAccount.AssetID != j.AssetID || j.CreditAccount.AssetID != j.AssetID {
			return fmt.Errorf("journal %s mixes assets", j.JournalID)
		}
	}
	return nil
}
