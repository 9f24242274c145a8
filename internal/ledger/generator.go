package ledger

import (
	"VaultLedger/internal/event"
	fpmath "VaultLedger/internal/math"
	"fmt"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// JournalGenerator creates balanced journal batches from committed events.
//
// Settlement-asset revenue flows venue_fees -> carry -> {treasury_owed,
// held_revenue}, and held_revenue -> staker_pool for the distributed part.
// Payouts leave staker_pool to the owner's payout account. A forfeited
// shortfall returns from staker_pool to held_revenue.
type JournalGenerator struct {
	sequence        int64
	settlementIndex int
}

func NewJournalGenerator(startSequence int64, settlementIndex int) *JournalGenerator {
	return &JournalGenerator{
		sequence:        startSequence,
		settlementIndex: settlementIndex,
	}
}

// SetSequence positions the generator after a snapshot restore.
func (jg *JournalGenerator) SetSequence(seq int64) {
	jg.sequence = seq
}

// Generate dispatches on event type. heldBefore is the ledger's holding
// bucket before a Rebalanced event was applied.
func (jg *JournalGenerator) Generate(evt event.Event, heldBefore *uint256.Int) (*Batch, error) {
	batch := jg.newBatch(evt)
	switch e := evt.(type) {
	case *event.Staked:
		// state-only
	case *event.Unstaked:
		jg.add(batch, NewOwnerAccountKey(e.Owner, AssetSettlement),
			NewSystemAccountKey(SubTypeStakerPool, AssetSettlement), e.Paid, JournalTypePayout)
		jg.add(batch, NewSystemAccountKey(SubTypeHeldRevenue, AssetSettlement),
			NewSystemAccountKey(SubTypeStakerPool, AssetSettlement), e.Forfeited, JournalTypeForfeit)
	case *event.YieldClaimed:
		jg.add(batch, NewOwnerAccountKey(e.Owner, AssetSettlement),
			NewSystemAccountKey(SubTypeStakerPool, AssetSettlement), e.Paid, JournalTypePayout)
	case *event.Rebalanced:
		if err := jg.generateRebalanced(batch, e, heldBefore); err != nil {
			return nil, err
		}
	case *event.CycleAborted:
		for i := 0; i < 2; i++ {
			asset := jg.assetAt(i)
			jg.add(batch, NewSystemAccountKey(SubTypeCarry, asset),
				NewExternalAccountKey(SubTypeVenueFees, asset), e.Harvested.Get(i), JournalTypeCarry)
		}
	case *event.PrincipalSeeded:
		for i := 0; i < 2; i++ {
			asset := jg.assetAt(i)
			jg.add(batch, NewSystemAccountKey(SubTypePrincipal, asset),
				NewExternalAccountKey(SubTypeSeed, asset), e.Amounts.Get(i), JournalTypePrincipalSeed)
		}
	case *event.TreasurySwept:
		jg.add(batch, NewExternalAccountKey(SubTypeTreasury, AssetSettlement),
			NewSystemAccountKey(SubTypeTreasuryOwed, AssetSettlement), e.Amount, JournalTypeTreasurySweep)
	default:
		return nil, fmt.Errorf("journal generator: unknown event type %T", evt)
	}
	jg.sequence++
	return batch, nil
}

func (jg *JournalGenerator) generateRebalanced(batch *Batch, e *event.Rebalanced, heldBefore *uint256.Int) error {
	si, oi := jg.settlementIndex, 1-jg.settlementIndex

	if !e.Minted {
		for i := 0; i < 2; i++ {
			asset := jg.assetAt(i)
			jg.add(batch, NewSystemAccountKey(SubTypeCarry, asset),
				NewExternalAccountKey(SubTypeVenueFees, asset), e.Harvested.Get(i), JournalTypeFeeHarvest)
		}

		// settlement asset: carry -> treasury_owed + held_revenue
		jg.add(batch, NewSystemAccountKey(SubTypeTreasuryOwed, AssetSettlement),
			NewSystemAccountKey(SubTypeCarry, AssetSettlement), e.TreasuryTax, JournalTypeTreasuryTax)
		jg.add(batch, NewSystemAccountKey(SubTypeHeldRevenue, AssetSettlement),
			NewSystemAccountKey(SubTypeCarry, AssetSettlement), e.StakerRevenue, JournalTypeHeldRevenue)
		jg.add(batch, NewSystemAccountKey(SubTypeStakerPool, AssetSettlement),
			NewSystemAccountKey(SubTypeHeldRevenue, AssetSettlement), e.Distributed, JournalTypeStakerRevenue)

		// other asset: carry -> principal
		jg.add(batch, NewSystemAccountKey(SubTypePrincipal, AssetVolatile),
			NewSystemAccountKey(SubTypeCarry, AssetVolatile), e.Reinvested, JournalTypeReinvest)

		// the settlement split must consume the whole harvest
		total, err := fpmath.Add(e.Harvested.Get(si), e.CarryUsed.Get(si))
		if err != nil {
			return Violation("harvest overflow")
		}
		split, err := fpmath.Add(e.TreasuryTax, e.StakerRevenue)
		if err != nil || !split.Eq(total) {
			return Violation("cycle %s: tax %s + staker %s != harvested %s",
				e.CycleID, fpmath.Clone(e.TreasuryTax).Dec(), fpmath.Clone(e.StakerRevenue).Dec(), total.Dec())
		}
		other, err := fpmath.Add(e.Harvested.Get(oi), e.CarryUsed.Get(oi))
		if err != nil || !other.Eq(fpmath.Clone(e.Reinvested)) {
			return Violation("cycle %s: reinvested %s != harvested %s",
				e.CycleID, fpmath.Clone(e.Reinvested).Dec(), other.Dec())
		}
		held, err := fpmath.Add(e.StakerRevenue, heldBefore)
		if err != nil {
			return Violation("held overflow")
		}
		out, err := fpmath.Add(e.Distributed, e.HeldAfter)
		if err != nil || !out.Eq(held) {
			return Violation("cycle %s: distributed + held %s != revenue + held %s",
				e.CycleID, out.Dec(), held.Dec())
		}
	}

	for i := 0; i < 2; i++ {
		asset := jg.assetAt(i)
		jg.add(batch, NewSystemAccountKey(SubTypeDeployed, asset),
			NewSystemAccountKey(SubTypePrincipal, asset), e.Deployed.Get(i), JournalTypeDeploy)
	}
	return nil
}

func (jg *JournalGenerator) assetAt(i int) AssetID {
	if i == jg.settlementIndex {
		return AssetSettlement
	}
	return AssetVolatile
}

func (jg *JournalGenerator) newBatch(evt event.Event) *Batch {
	return &Batch{
		BatchID:   uuid.New(),
		EventRef:  evt.IdempotencyKey(),
		Sequence:  jg.sequence,
		Timestamp: evt.OccurredAt().UnixMicro(),
	}
}

// add appends one entry; zero amounts are skipped.
func (jg *JournalGenerator) add(batch *Batch, debit, credit AccountKey, amount *uint256.Int, jt JournalType) {
	if amount == nil || amount.IsZero() {
		return
	}
	batch.Journals = append(batch.Journals, Journal{
		JournalID:     uuid.New(),
		BatchID:       batch.BatchID,
		EventRef:      batch.EventRef,
		Sequence:      batch.Sequence,
		DebitAccount:  debit,
		CreditAccount: credit,
		AssetID:       debit.AssetID,
		Amount:        fpmath.Clone(amount),
		JournalType:   jt,
		Timestamp:     batch.Timestamp,
	})
}
