package ledger_test

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"VaultLedger/internal/event"
	"VaultLedger/internal/ledger"
	fpmath "VaultLedger/internal/math"
	"VaultLedger/internal/weights"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob   = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	carol = common.HexToAddress("0x00000000000000000000000000000000000000c3")
)

// ============================================================================
// Test: AccountKey
// ============================================================================

func TestAccountKey_OwnerPath(t *testing.T) {
	key := ledger.NewOwnerAccountKey(alice, ledger.AssetSettlement)

	path := key.AccountPath()
	expected := "owner:0x00000000000000000000000000000000000000a1:payout:USDC"
	if path != expected {
		t.Errorf("got %q, want %q", path, expected)
	}
}

func TestAccountKey_SystemPath(t *testing.T) {
	key := ledger.NewSystemAccountKey(ledger.SubTypeTreasuryOwed, ledger.AssetSettlement)

	if path := key.AccountPath(); path != "system:treasury_owed:USDC" {
		t.Errorf("got %q, want %q", path, "system:treasury_owed:USDC")
	}
}

func TestAccountKey_ExternalPath(t *testing.T) {
	key := ledger.NewExternalAccountKey(ledger.SubTypeVenueFees, ledger.AssetVolatile)

	if path := key.AccountPath(); path != "external:venue_fees:WETH" {
		t.Errorf("got %q, want %q", path, "external:venue_fees:WETH")
	}
}

func TestGetAssetID(t *testing.T) {
	if id, ok := ledger.GetAssetID("usdc"); !ok || id != ledger.AssetSettlement {
		t.Errorf("usdc: got %d, %v", id, ok)
	}
	if _, ok := ledger.GetAssetID("DOGE"); ok {
		t.Error("DOGE should not be a known asset")
	}
}

// ============================================================================
// Test: Reward accumulator
// ============================================================================

func TestCreditRevenue_ThreeTiersScenario(t *testing.T) {
	l := ledger.NewRewardLedger()
	recs := stakeAll(t, l, 100, 135, 175)

	res, err := l.CreditRevenue(uint256.NewInt(4100))
	if err != nil {
		t.Fatalf("credit failed: %v", err)
	}

	wantDelta := new(uint256.Int).Mul(uint256.NewInt(10), fpmath.Precision())
	if !res.Delta.Eq(wantDelta) {
		t.Errorf("delta: got %s, want %s", res.Delta.Dec(), wantDelta.Dec())
	}
	if !res.HeldAfter.IsZero() {
		t.Errorf("held: got %s, want 0", res.HeldAfter.Dec())
	}

	for i, want := range []uint64{1000, 1350, 1750} {
		pending, err := l.PendingReward(recs[i])
		if err != nil {
			t.Fatalf("pending failed: %v", err)
		}
		if pending.Uint64() != want {
			t.Errorf("pending[%d]: got %s, want %d", i, pending.Dec(), want)
		}
	}
}

func TestCreditRevenue_ZeroWeightIsHeld(t *testing.T) {
	l := ledger.NewRewardLedger()

	res, err := l.CreditRevenue(uint256.NewInt(500))
	if err != nil {
		t.Fatalf("credit with zero weight must not fail: %v", err)
	}
	if !l.Acc().IsZero() {
		t.Errorf("acc: got %s, want 0", l.Acc().Dec())
	}
	if res.HeldAfter.Uint64() != 500 || l.HeldRevenue().Uint64() != 500 {
		t.Errorf("held: got %s, want 500", l.HeldRevenue().Dec())
	}

	recs := stakeAll(t, l, 100)
	if _, err := l.CreditRevenue(uint256.NewInt(500)); err != nil {
		t.Fatalf("credit failed: %v", err)
	}
	pending, _ := l.PendingReward(recs[0])
	if pending.Uint64() != 1000 {
		t.Errorf("pending after release: got %s, want 1000", pending.Dec())
	}
	if !l.HeldRevenue().IsZero() {
		t.Errorf("held after release: got %s, want 0", l.HeldRevenue().Dec())
	}
}

func TestCreditRevenue_DustCarriedForward(t *testing.T) {
	l := ledger.NewRewardLedger()
	stakeAll(t, l, 3)

	res, err := l.CreditRevenue(uint256.NewInt(10))
	if err != nil {
		t.Fatalf("credit failed: %v", err)
	}
	if res.Distributed.Uint64() != 9 || res.HeldAfter.Uint64() != 1 {
		t.Errorf("got distributed=%s held=%s, want 9 and 1", res.Distributed.Dec(), res.HeldAfter.Dec())
	}

	res, err = l.CreditRevenue(uint256.NewInt(2))
	if err != nil {
		t.Fatalf("credit failed: %v", err)
	}
	if res.Distributed.Uint64() != 3 || !res.HeldAfter.IsZero() {
		t.Errorf("got distributed=%s held=%s, want 3 and 0", res.Distributed.Dec(), res.HeldAfter.Dec())
	}
}

func TestPlanCredit_DoesNotMutate(t *testing.T) {
	l := ledger.NewRewardLedger()
	stakeAll(t, l, 100)

	if _, err := l.PlanCredit(uint256.NewInt(1000)); err != nil {
		t.Fatalf("plan failed: %v", err)
	}
	if !l.Acc().IsZero() {
		t.Errorf("acc changed by plan: %s", l.Acc().Dec())
	}
}

func TestSmallDeltaNotZeroedForLowWeight(t *testing.T) {
	l := ledger.NewRewardLedger()
	recs := stakeAll(t, l, 100, 1_000_000_000)

	// a small credit across a very large total weight still moves the accumulator
	if _, err := l.CreditRevenue(uint256.NewInt(1_000_001)); err != nil {
		t.Fatalf("credit failed: %v", err)
	}
	if l.Acc().IsZero() {
		t.Fatal("accumulator did not move")
	}
	pending, _ := l.PendingReward(recs[1])
	if pending.IsZero() {
		t.Error("large-weight record should accrue")
	}
}

// ============================================================================
// Test: Stake / settle properties
// ============================================================================

func TestNoFreeLunch(t *testing.T) {
	l := ledger.NewRewardLedger()
	stakeAll(t, l, 100)
	if _, err := l.CreditRevenue(uint256.NewInt(7777)); err != nil {
		t.Fatalf("credit failed: %v", err)
	}

	late := ledger.NewRecord(99, bob, weights.TierGold)
	if err := l.Activate(late, 175); err != nil {
		t.Fatalf("activate failed: %v", err)
	}
	if !late.RewardDebt.Eq(l.Acc()) {
		t.Errorf("debt: got %s, want post-harvest acc %s", late.RewardDebt.Dec(), l.Acc().Dec())
	}
	pending, _ := l.PendingReward(late)
	if !pending.IsZero() {
		t.Errorf("pending right after stake: got %s, want 0", pending.Dec())
	}
}

func TestIdempotentSettle(t *testing.T) {
	l := ledger.NewRewardLedger()
	recs := stakeAll(t, l, 135)
	if _, err := l.CreditRevenue(uint256.NewInt(1350)); err != nil {
		t.Fatalf("credit failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		l.Settle(recs[0])
		pending, _ := l.PendingReward(recs[0])
		if !pending.IsZero() {
			t.Errorf("settle #%d: pending got %s, want 0", i+1, pending.Dec())
		}
	}
}

func TestActivate_AlreadyStaked(t *testing.T) {
	l := ledger.NewRewardLedger()
	recs := stakeAll(t, l, 100)

	err := l.Activate(recs[0], 100)
	if !errors.Is(err, ledger.ErrInvalidTransition) || !errors.Is(err, ledger.ErrAlreadyStaked) {
		t.Errorf("got %v, want ErrAlreadyStaked", err)
	}
	if l.TotalWeight() != 100 {
		t.Errorf("total weight: got %d, want 100", l.TotalWeight())
	}
}

func TestDeactivate_RemovesWeight(t *testing.T) {
	l := ledger.NewRewardLedger()
	recs := stakeAll(t, l, 100, 175)

	if err := l.Deactivate(recs[0]); err != nil {
		t.Fatalf("deactivate failed: %v", err)
	}
	if l.TotalWeight() != 175 {
		t.Errorf("total weight: got %d, want 175", l.TotalWeight())
	}
	if err := l.Deactivate(recs[0]); !errors.Is(err, ledger.ErrNotStaked) {
		t.Errorf("second deactivate: got %v, want ErrNotStaked", err)
	}
	if ids := l.Registry().StakedByOwner(alice); len(ids) != 0 {
		t.Errorf("owner index still lists %v", ids)
	}
}

func TestMonotonicity(t *testing.T) {
	l := ledger.NewRewardLedger()
	v := ledger.NewInvariantValidator(l)
	rng := rand.New(rand.NewSource(7))
	next := uint64(1)
	var staked []*ledger.Record

	for i := 0; i < 500; i++ {
		before := l.Acc()
		switch op := rng.Intn(4); {
		case op == 0:
			rec := ledger.NewRecord(next, alice, weights.TierLead)
			next++
			if err := l.Activate(rec, uint64(100+rng.Intn(100))); err != nil {
				t.Fatalf("activate failed: %v", err)
			}
			staked = append(staked, rec)
		case op == 1 && len(staked) > 0:
			k := rng.Intn(len(staked))
			if err := l.Deactivate(staked[k]); err != nil {
				t.Fatalf("deactivate failed: %v", err)
			}
			staked = append(staked[:k], staked[k+1:]...)
		case op == 2 && len(staked) > 0:
			l.Settle(staked[rng.Intn(len(staked))])
		default:
			if _, err := l.CreditRevenue(uint256.NewInt(uint64(rng.Intn(1_000_000)))); err != nil {
				t.Fatalf("credit failed: %v", err)
			}
		}
		if l.Acc().Lt(before) {
			t.Fatalf("step %d: acc decreased from %s to %s", i, before.Dec(), l.Acc().Dec())
		}
		if err := v.ValidateAccumulatorMonotonic(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if err := v.ValidateAll(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}
}

// ============================================================================
// Test: Stale debt detection
// ============================================================================

func TestZeroedDebt_DefectReproducible(t *testing.T) {
	l := ledger.NewRewardLedger()
	stakeAll(t, l, 100)
	if _, err := l.CreditRevenue(uint256.NewInt(1000)); err != nil {
		t.Fatalf("credit failed: %v", err)
	}

	// Restore a state where token 2 was staked with its debt left at zero.
	st := l.Snapshot()
	buggy := ledger.NewRecord(2, bob, weights.TierLead)
	buggy.Weight = 100
	buggy.Staked = true
	buggy.EntryAcc = l.Acc()
	st.Records = append(st.Records, buggy)
	st.TotalWeight += 100

	corrupt := ledger.NewRewardLedger()
	if err := corrupt.Restore(st); err != nil {
		t.Fatalf("restore failed: %v", err)
	}
	rec, _ := corrupt.Registry().Get(2)

	pending, err := corrupt.PendingReward(rec)
	if err != nil {
		t.Fatalf("pending failed: %v", err)
	}
	if pending.Uint64() != 1000 {
		t.Errorf("buggy pending: got %s, want full historical accrual 1000", pending.Dec())
	}

	v := ledger.NewInvariantValidator(corrupt)
	if err := v.ValidateDebtBounds(rec); !errors.Is(err, ledger.ErrInvariantViolation) {
		t.Errorf("debt bounds: got %v, want ErrInvariantViolation", err)
	}
	stale := v.FindStaleDebts()
	if len(stale) != 1 || stale[0].TokenID != 2 || !stale[0].Zeroed {
		t.Errorf("stale debts: got %+v", stale)
	}

	// The correct stake path settles first.
	fixed := ledger.NewRecord(3, carol, weights.TierLead)
	if err := l.Activate(fixed, 100); err != nil {
		t.Fatalf("activate failed: %v", err)
	}
	pending, _ = l.PendingReward(fixed)
	if !pending.IsZero() {
		t.Errorf("fixed pending: got %s, want 0", pending.Dec())
	}
	if err := ledger.NewInvariantValidator(l).ValidateAll(); err != nil {
		t.Errorf("validator on fixed ledger: %v", err)
	}
}

func TestPendingReward_DebtAboveAcc(t *testing.T) {
	l := ledger.NewRewardLedger()
	rec := ledger.NewRecord(1, alice, weights.TierLead)
	rec.Weight = 100
	rec.RewardDebt = uint256.NewInt(5)

	if _, err := l.PendingReward(rec); !errors.Is(err, ledger.ErrInvariantViolation) {
		t.Errorf("got %v, want ErrInvariantViolation", err)
	}
}

func TestRestore_WeightMismatch(t *testing.T) {
	l := ledger.NewRewardLedger()
	stakeAll(t, l, 100)
	st := l.Snapshot()
	st.TotalWeight = 99

	if err := ledger.NewRewardLedger().Restore(st); !errors.Is(err, ledger.ErrInvariantViolation) {
		t.Errorf("got %v, want ErrInvariantViolation", err)
	}
}

// ============================================================================
// Test: Settlement guard
// ============================================================================

func TestGuard_ProportionalCapping(t *testing.T) {
	l := ledger.NewRewardLedger()
	stakeAll(t, l, 100, 300, 600)
	if _, err := l.CreditRevenue(uint256.NewInt(1000)); err != nil {
		t.Fatalf("credit failed: %v", err)
	}

	quotes, err := ledger.NewGuard(l).ClaimableAll(uint256.NewInt(600))
	if err != nil {
		t.Fatalf("claimable failed: %v", err)
	}
	want := []uint64{60, 180, 360}
	for i, q := range quotes {
		if !q.Capped {
			t.Errorf("quote[%d]: expected capped", i)
		}
		if q.Claimable.Uint64() != want[i] {
			t.Errorf("quote[%d]: got %s, want %d (60%% of %s)", i, q.Claimable.Dec(), want[i], q.Pending.Dec())
		}
	}
}

func TestGuard_NotCappedWhenCovered(t *testing.T) {
	l := ledger.NewRewardLedger()
	recs := stakeAll(t, l, 100, 300)
	if _, err := l.CreditRevenue(uint256.NewInt(400)); err != nil {
		t.Fatalf("credit failed: %v", err)
	}

	q, err := ledger.NewGuard(l).Claimable(recs[1], uint256.NewInt(400))
	if err != nil {
		t.Fatalf("claimable failed: %v", err)
	}
	if q.Capped || q.Claimable.Uint64() != 300 || !q.Shortfall.IsZero() {
		t.Errorf("got capped=%v claimable=%s shortfall=%s", q.Capped, q.Claimable.Dec(), q.Shortfall.Dec())
	}
}

func TestGuard_DeferredIncludedInEntitlement(t *testing.T) {
	l := ledger.NewRewardLedger()
	recs := stakeAll(t, l, 100)
	recs[0].Deferred = uint256.NewInt(40)
	if _, err := l.CreditRevenue(uint256.NewInt(100)); err != nil {
		t.Fatalf("credit failed: %v", err)
	}

	q, err := ledger.NewGuard(l).Claimable(recs[0], uint256.NewInt(1000))
	if err != nil {
		t.Fatalf("claimable failed: %v", err)
	}
	if q.Entitlement.Uint64() != 140 || q.Claimable.Uint64() != 140 {
		t.Errorf("got entitlement=%s claimable=%s, want 140", q.Entitlement.Dec(), q.Claimable.Dec())
	}
}

func TestGuard_SequentialClaimsShareEqually(t *testing.T) {
	l := ledger.NewRewardLedger()
	recs := stakeAll(t, l, 100, 100)
	if _, err := l.CreditRevenue(uint256.NewInt(1000)); err != nil {
		t.Fatalf("credit failed: %v", err)
	}
	g := ledger.NewGuard(l)
	available := uint256.NewInt(600)

	for _, rec := range recs {
		q, err := g.Claimable(rec, available)
		if err != nil {
			t.Fatalf("claimable failed: %v", err)
		}
		if q.Claimable.Uint64() != 300 || q.Shortfall.Uint64() != 200 {
			t.Fatalf("token %d: got claimable=%s shortfall=%s, want 300/200",
				rec.TokenID, q.Claimable.Dec(), q.Shortfall.Dec())
		}
		l.Settle(rec)
		rec.Deferred = q.Shortfall
		available.Sub(available, q.Claimable)
	}
	if !available.IsZero() {
		t.Errorf("available left: %s", available.Dec())
	}
}

func TestGuard_DeferredPaidFromSpare(t *testing.T) {
	l := ledger.NewRewardLedger()
	recs := stakeAll(t, l, 100, 100)
	recs[0].Deferred = uint256.NewInt(200)
	recs[1].Deferred = uint256.NewInt(200)
	if _, err := l.CreditRevenue(uint256.NewInt(200)); err != nil {
		t.Fatalf("credit failed: %v", err)
	}

	// pending 100 each is covered in full; the 100 left over pays a quarter
	// of each 200 deferred
	quotes, err := ledger.NewGuard(l).ClaimableAll(uint256.NewInt(300))
	if err != nil {
		t.Fatalf("claimable failed: %v", err)
	}
	for i, q := range quotes {
		if q.Claimable.Uint64() != 150 || q.Shortfall.Uint64() != 150 || !q.Capped {
			t.Errorf("quote[%d]: got claimable=%s shortfall=%s capped=%v",
				i, q.Claimable.Dec(), q.Shortfall.Dec(), q.Capped)
		}
		if q.TotalPending.Uint64() != 200 || q.TotalDeferred.Uint64() != 400 {
			t.Errorf("quote[%d]: got totals %s/%s", i, q.TotalPending.Dec(), q.TotalDeferred.Dec())
		}
	}
}

func TestGuard_PendingBeforeDeferred(t *testing.T) {
	l := ledger.NewRewardLedger()
	recs := stakeAll(t, l, 100, 100)
	recs[0].Deferred = uint256.NewInt(500)
	if _, err := l.CreditRevenue(uint256.NewInt(400)); err != nil {
		t.Fatalf("credit failed: %v", err)
	}

	q, err := ledger.NewGuard(l).Claimable(recs[1], uint256.NewInt(300))
	if err != nil {
		t.Fatalf("claimable failed: %v", err)
	}
	// 400 pending against 300 available: 150 of bob's 200, regardless of the 500 deferred
	if q.Claimable.Uint64() != 150 {
		t.Errorf("got %s, want 150", q.Claimable.Dec())
	}
}

func TestGuard_ConservationProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 200; round++ {
		l := ledger.NewRewardLedger()
		n := 1 + rng.Intn(8)
		ws := make([]uint64, n)
		for i := range ws {
			ws[i] = []uint64{100, 135, 175}[rng.Intn(3)]
		}
		for _, rec := range stakeAll(t, l, ws...) {
			rec.Deferred = uint256.NewInt(uint64(rng.Int63n(1_000_000_000)))
		}
		for k := 0; k < 1+rng.Intn(5); k++ {
			if _, err := l.CreditRevenue(uint256.NewInt(uint64(rng.Int63n(10_000_000_000)))); err != nil {
				t.Fatalf("credit failed: %v", err)
			}
		}

		available := uint256.NewInt(uint64(rng.Int63n(20_000_000_000)))
		quotes, err := ledger.NewGuard(l).ClaimableAll(available)
		if err != nil {
			t.Fatalf("claimable failed: %v", err)
		}
		sum := new(uint256.Int)
		for _, q := range quotes {
			sum.Add(sum, q.Claimable)
		}
		if sum.Gt(available) {
			t.Fatalf("round %d: claimable sum %s exceeds available %s", round, sum.Dec(), available.Dec())
		}
	}
}

// ============================================================================
// Test: Journal generation
// ============================================================================

func TestGenerator_RebalancedBatchBalanced(t *testing.T) {
	jg := ledger.NewJournalGenerator(1, 0)
	evt := &event.Rebalanced{
		CycleID:       uuid.New(),
		PositionID:    1,
		Harvested:     fpmath.NewAmounts(uint256.NewInt(1000), uint256.NewInt(50)),
		CarryUsed:     fpmath.NewAmounts(uint256.NewInt(200), uint256.NewInt(0)),
		TreasuryTax:   uint256.NewInt(120),
		StakerRevenue: uint256.NewInt(1080),
		Distributed:   uint256.NewInt(1080),
		HeldAfter:     uint256.NewInt(3),
		Reinvested:    uint256.NewInt(50),
		Deployed:      fpmath.NewAmounts(uint256.NewInt(400), uint256.NewInt(50)),
		Redeployed:    true,
		Timestamp:     time.UnixMicro(1_700_000_000_000_000),
	}

	batch, err := jg.Generate(evt, uint256.NewInt(3))
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if err := batch.Validate(); err != nil {
		t.Fatalf("batch invalid: %v", err)
	}
	// fees x2, tax, held, distributed, reinvest, deploy x2
	if len(batch.Journals) != 8 {
		t.Errorf("journals: got %d, want 8", len(batch.Journals))
	}
	if batch.EventRef != evt.CycleID.String() {
		t.Errorf("event ref: got %s", batch.EventRef)
	}
}

func TestGenerator_RebalancedSplitMismatch(t *testing.T) {
	jg := ledger.NewJournalGenerator(1, 0)
	evt := &event.Rebalanced{
		CycleID:       uuid.New(),
		PositionID:    1,
		Harvested:     fpmath.NewAmounts(uint256.NewInt(1000), nil),
		TreasuryTax:   uint256.NewInt(100),
		StakerRevenue: uint256.NewInt(800),
		Distributed:   uint256.NewInt(800),
	}

	if _, err := jg.Generate(evt, fpmath.Zero()); !errors.Is(err, ledger.ErrInvariantViolation) {
		t.Errorf("got %v, want ErrInvariantViolation", err)
	}
}

func TestGenerator_StakedIsStateOnly(t *testing.T) {
	jg := ledger.NewJournalGenerator(1, 0)
	batch, err := jg.Generate(&event.Staked{RequestID: uuid.New(), TokenID: 1, Owner: alice, Weight: 100}, nil)
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if len(batch.Journals) != 0 {
		t.Errorf("journals: got %d, want 0", len(batch.Journals))
	}
}

func TestGenerator_UnstakedPayoutAndForfeit(t *testing.T) {
	jg := ledger.NewJournalGenerator(1, 0)
	batch, err := jg.Generate(&event.Unstaked{
		RequestID:   uuid.New(),
		TokenID:     1,
		Owner:       alice,
		Entitlement: uint256.NewInt(100),
		Paid:        uint256.NewInt(60),
		Forfeited:   uint256.NewInt(40),
	}, nil)
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if len(batch.Journals) != 2 {
		t.Fatalf("journals: got %d, want 2", len(batch.Journals))
	}
	if got := batch.Journals[0].DebitAccount.AccountPath(); got != "owner:0x00000000000000000000000000000000000000a1:payout:USDC" {
		t.Errorf("payout account: got %s", got)
	}
	forfeit := batch.Journals[1]
	if got := forfeit.DebitAccount.AccountPath(); got != "system:held_revenue:USDC" {
		t.Errorf("forfeit debit: got %s, want held revenue", got)
	}
	if got := forfeit.CreditAccount.AccountPath(); got != "system:staker_pool:USDC" {
		t.Errorf("forfeit credit: got %s", got)
	}
}

func TestHold_ReturnsForfeitToNextCredit(t *testing.T) {
	l := ledger.NewRewardLedger()
	stakeAll(t, l, 100)
	if err := l.Hold(uint256.NewInt(40)); err != nil {
		t.Fatalf("hold failed: %v", err)
	}
	if l.HeldRevenue().Uint64() != 40 {
		t.Fatalf("held: got %s, want 40", l.HeldRevenue().Dec())
	}
	res, err := l.CreditRevenue(uint256.NewInt(60))
	if err != nil {
		t.Fatalf("credit failed: %v", err)
	}
	if res.Distributed.Uint64() != 100 || !l.HeldRevenue().IsZero() {
		t.Errorf("got distributed=%s held=%s, want 100/0", res.Distributed.Dec(), l.HeldRevenue().Dec())
	}
}

// --- Test helpers ---

// stakeAll activates one record per weight with token ids 1..n.
func stakeAll(t *testing.T, l *ledger.RewardLedger, ws ...uint64) []*ledger.Record {
	t.Helper()
	owners := []common.Address{alice, bob, carol}
	base := uint64(l.Registry().Len())
	recs := make([]*ledger.Record, 0, len(ws))
	for i, w := range ws {
		rec := ledger.NewRecord(base+uint64(i)+1, owners[i%len(owners)], weights.TierLead)
		if err := l.Activate(rec, w); err != nil {
			t.Fatalf("activate failed: %v", err)
		}
		recs = append(recs, rec)
	}
	return recs
}
