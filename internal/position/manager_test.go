package position_test

import (
	"context"
	"testing"
	"time"

	"VaultLedger/internal/event"
	"VaultLedger/internal/ledger"
	fpmath "VaultLedger/internal/math"
	"VaultLedger/internal/position"
	"VaultLedger/internal/testutil"
	"VaultLedger/internal/weights"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	usdc = 1_000_000                 // 1 USDC in base units
	weth = 1_000_000_000_000_000_000 // 1 WETH in base units
)

type fixture struct {
	ledger     *ledger.RewardLedger
	manager    *position.Manager
	venue      *testutil.FakeVenue
	settlement *testutil.FakeSettlement
}

func newFixture(t *testing.T, stakeWeights ...uint64) *fixture {
	t.Helper()
	l := ledger.NewRewardLedger()
	for i, w := range stakeWeights {
		rec := ledger.NewRecord(uint64(i+1), common.BigToAddress(common.Big1), weights.TierLead)
		require.NoError(t, l.Activate(rec, w))
	}

	settlement := testutil.NewFakeSettlement(testutil.VaultAddr)
	venue := testutil.NewFakeVenue()
	venue.Settlement = settlement
	venue.Vault = testutil.VaultAddr

	cfg := position.DefaultConfig()
	cfg.Vault = testutil.VaultAddr
	cfg.Treasury = testutil.TreasuryAddr
	cfg.RetryInitial = time.Millisecond
	cfg.CycleTimeout = time.Second

	return &fixture{
		ledger:     l,
		venue:      venue,
		settlement: settlement,
		manager: position.NewManager(cfg, venue, settlement, l,
			clockwork.NewFakeClock(), zerolog.Nop()),
	}
}

// seed credits the vault and commits the principal.
func (f *fixture) seed(t *testing.T, amount0, amount1 uint64) {
	t.Helper()
	f.settlement.Credit(testutil.VaultAddr, uint256.NewInt(amount0))
	require.NoError(t, f.manager.ApplyPrincipalSeeded(&event.PrincipalSeeded{
		RequestID: uuid.New(),
		Amounts:   fpmath.NewAmounts(uint256.NewInt(amount0), uint256.NewInt(amount1)),
	}))
}

// cycle runs and commits one cycle, returning the committed event.
func (f *fixture) cycle(t *testing.T) event.Event {
	t.Helper()
	evt, err := f.manager.RunCycle(context.Background(), uuid.New())
	require.NoError(t, err)
	if evt != nil {
		require.NoError(t, f.apply(evt))
	}
	return evt
}

func (f *fixture) apply(evt event.Event) error {
	switch e := evt.(type) {
	case *event.Rebalanced:
		return f.manager.ApplyRebalanced(e)
	case *event.CycleAborted:
		return f.manager.ApplyCycleAborted(e)
	case *event.TreasurySwept:
		return f.manager.ApplyTreasurySwept(e)
	}
	return nil
}

// ============================================================================
// Test: EMPTY -> ACTIVE
// ============================================================================

func TestFirstCycle_MintsFromPrincipal(t *testing.T) {
	f := newFixture(t, 100)
	f.seed(t, 1000*usdc, 0)

	evt := f.cycle(t)
	r, ok := evt.(*event.Rebalanced)
	require.True(t, ok, "got %T", evt)
	assert.True(t, r.Minted)
	assert.Equal(t, uint64(1), r.PositionID)
	assert.Equal(t, uint64(800*usdc), r.Deployed.Get(0).Uint64(), "20%% reserve held back")
	assert.Zero(t, f.venue.Harvests, "no harvest on first cycle")

	st := f.manager.State()
	assert.Equal(t, position.StatusActive, st.Status)
	assert.Equal(t, uint64(200*usdc), st.Principal.Get(0).Uint64())
}

func TestFirstCycle_BelowMinimumSkips(t *testing.T) {
	f := newFixture(t, 100)
	f.seed(t, usdc/2, 0)

	evt, err := f.manager.RunCycle(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Nil(t, evt)
	assert.Zero(t, f.venue.Deploys)
	assert.Equal(t, position.StatusEmpty, f.manager.State().Status)
}

func TestFirstCycle_DeployFailure(t *testing.T) {
	f := newFixture(t, 100)
	f.seed(t, 1000*usdc, 0)
	f.venue.FailDeploy = testutil.ErrInjected

	evt, err := f.manager.RunCycle(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ledger.ErrExternalVenueFailure)
	assert.Nil(t, evt)
	assert.Equal(t, position.StatusEmpty, f.manager.State().Status)
}

// ============================================================================
// Test: ACTIVE -> ACTIVE
// ============================================================================

func TestSteadyCycle_TaxCreditAndRedeploy(t *testing.T) {
	f := newFixture(t, 100, 135, 175)
	f.seed(t, 1000*usdc, 0)
	f.cycle(t)

	f.venue.AccrueFees(41*usdc, weth/1000)
	evt := f.cycle(t)
	r := evt.(*event.Rebalanced)

	assert.False(t, r.Minted)
	assert.Equal(t, uint64(4_100_000), r.TreasuryTax.Uint64())
	assert.Equal(t, uint64(36_900_000), r.StakerRevenue.Uint64())
	assert.Equal(t, uint64(weth/1000), r.Reinvested.Uint64())
	assert.True(t, r.Redeployed)
	assert.Equal(t, uint64(160*usdc), r.Deployed.Get(0).Uint64())
	assert.Equal(t, uint64(weth/1000), r.Deployed.Get(1).Uint64())

	assert.Equal(t, 1, f.venue.Positions())
	assert.Equal(t, 1, f.venue.Increases)

	for id, want := range map[uint64]uint64{1: 9_000_000, 2: 12_150_000, 3: 15_750_000} {
		rec, _ := f.ledger.Registry().Get(id)
		pending, err := f.ledger.PendingReward(rec)
		require.NoError(t, err)
		assert.Equal(t, want, pending.Uint64(), "token %d", id)
	}

	st := f.manager.State()
	assert.Equal(t, uint64(40*usdc), st.Principal.Get(0).Uint64())
	assert.True(t, st.Principal.Get(1).IsZero())
	assert.Equal(t, uint64(4_100_000), st.TreasuryOwed.Uint64())
}

func TestSinglePositionAcrossCycles(t *testing.T) {
	f := newFixture(t, 100)
	f.seed(t, 10_000*usdc, weth)

	var ids []uint64
	for i := 0; i < 6; i++ {
		f.venue.AccrueFees(uint64(i+1)*usdc, 0)
		if evt := f.cycle(t); evt != nil {
			ids = append(ids, evt.(*event.Rebalanced).PositionID)
		}
	}

	require.NotEmpty(t, ids)
	for _, id := range ids {
		assert.Equal(t, ids[0], id, "position id must never be reassigned")
	}
	assert.Equal(t, 1, f.venue.Deploys)
	assert.Equal(t, 1, f.venue.Positions())
}

func TestSteadyCycle_RedeployBelowMinimumRetainsPrincipal(t *testing.T) {
	f := newFixture(t, 100)
	f.seed(t, 2*usdc, 0)
	f.cycle(t) // deploys 1.6 USDC, retains 0.4

	f.venue.AccrueFees(usdc/10, 0)
	r := f.cycle(t).(*event.Rebalanced)

	assert.False(t, r.Redeployed)
	assert.True(t, r.Deployed.IsZero())
	assert.Zero(t, f.venue.Increases)
	assert.Equal(t, uint64(400_000), f.manager.State().Principal.Get(0).Uint64())
	assert.Equal(t, uint64(90_000), r.StakerRevenue.Uint64(), "revenue still credited when redeploy is skipped")
}

func TestSteadyCycle_HarvestRetried(t *testing.T) {
	f := newFixture(t, 100)
	f.seed(t, 1000*usdc, 0)
	f.cycle(t)

	f.venue.HarvestErrors = 2
	f.venue.AccrueFees(10*usdc, 0)
	evt := f.cycle(t)

	_, ok := evt.(*event.Rebalanced)
	assert.True(t, ok, "got %T", evt)
}

func TestSteadyCycle_HarvestFailureNoStateChange(t *testing.T) {
	f := newFixture(t, 100)
	f.seed(t, 1000*usdc, 0)
	f.cycle(t)
	before := f.manager.State()
	acc := f.ledger.Acc()

	f.venue.FailHarvest = testutil.ErrInjected
	evt, err := f.manager.RunCycle(context.Background(), uuid.New())

	assert.ErrorIs(t, err, ledger.ErrExternalVenueFailure)
	assert.Nil(t, evt)
	assert.Equal(t, before.Cycles, f.manager.State().Cycles)
	assert.True(t, acc.Eq(f.ledger.Acc()))
}

func TestSteadyCycle_IncreaseFailureCarriesFees(t *testing.T) {
	f := newFixture(t, 100)
	f.seed(t, 1000*usdc, 0)
	f.cycle(t)
	acc := f.ledger.Acc()

	f.venue.AccrueFees(10*usdc, 0)
	f.venue.FailIncrease = testutil.ErrInjected
	evt, err := f.manager.RunCycle(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ledger.ErrExternalVenueFailure)
	aborted, ok := evt.(*event.CycleAborted)
	require.True(t, ok, "got %T", evt)
	require.NoError(t, f.apply(aborted))

	assert.True(t, acc.Eq(f.ledger.Acc()), "no revenue credited by an aborted cycle")
	assert.Equal(t, uint64(10*usdc), f.manager.State().Carry.Get(0).Uint64())
	assert.Equal(t, uint64(200*usdc+10*usdc), f.manager.SettlementObligations().Uint64(),
		"carry counts against available balance")

	// next cycle folds the carry in
	f.venue.FailIncrease = nil
	f.venue.AccrueFees(5*usdc, 0)
	r := f.cycle(t).(*event.Rebalanced)
	assert.Equal(t, uint64(10*usdc), r.CarryUsed.Get(0).Uint64())
	assert.Equal(t, uint64(13_500_000), r.StakerRevenue.Uint64())
	assert.True(t, f.manager.State().Carry.IsZero())
}

// lostHarvest runs a cycle whose harvest collects fees but loses the receipt.
func (f *fixture) lostHarvest(t *testing.T) *event.CycleAborted {
	t.Helper()
	f.venue.LostReceipts = 1
	evt, err := f.manager.RunCycle(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ledger.ErrExternalVenueFailure)
	assert.ErrorIs(t, err, position.ErrUnconfirmed)
	aborted, ok := evt.(*event.CycleAborted)
	require.True(t, ok, "got %T", evt)
	require.NoError(t, f.apply(aborted))
	return aborted
}

func TestSteadyCycle_LostHarvestReceiptRecovered(t *testing.T) {
	f := newFixture(t, 100)
	f.seed(t, 1000*usdc, 0)
	f.cycle(t)
	acc := f.ledger.Acc()

	f.venue.AccrueFees(10*usdc, 0)
	aborted := f.lostHarvest(t)
	assert.True(t, aborted.Unresolved)
	assert.Equal(t, "collect-1", aborted.HarvestRef)
	assert.True(t, aborted.Harvested.IsZero())
	assert.Equal(t, 1, f.venue.Harvests, "a sent harvest is never retried")
	assert.Equal(t, uint64(210*usdc), f.settlement.Balance(testutil.VaultAddr).Uint64(), "fees reached the vault")
	assert.True(t, acc.Eq(f.ledger.Acc()))

	st := f.manager.State()
	assert.True(t, st.UnresolvedHarvest)
	assert.Equal(t, "collect-1", st.HarvestRef)

	r := f.cycle(t).(*event.Rebalanced)
	assert.Equal(t, 1, f.venue.Resolves)
	assert.Equal(t, uint64(10*usdc), r.Harvested.Get(0).Uint64())
	assert.Equal(t, uint64(usdc), r.TreasuryTax.Uint64())
	assert.Equal(t, uint64(9*usdc), r.StakerRevenue.Uint64())

	rec, _ := f.ledger.Registry().Get(1)
	pending, err := f.ledger.PendingReward(rec)
	require.NoError(t, err)
	assert.Equal(t, uint64(9*usdc), pending.Uint64())
	assert.False(t, f.manager.State().UnresolvedHarvest)
	assert.Empty(t, f.manager.State().HarvestRef)
}

func TestSteadyCycle_PendingHarvestBlocksNewHarvest(t *testing.T) {
	f := newFixture(t, 100)
	f.seed(t, 1000*usdc, 0)
	f.cycle(t)
	f.venue.AccrueFees(10*usdc, 0)
	f.lostHarvest(t)

	f.venue.PendingResolves = 1
	f.venue.AccrueFees(5*usdc, 0)
	evt, err := f.manager.RunCycle(context.Background(), uuid.New())
	assert.ErrorIs(t, err, position.ErrUnconfirmed)
	aborted, ok := evt.(*event.CycleAborted)
	require.True(t, ok, "got %T", evt)
	assert.True(t, aborted.Unresolved)
	assert.Equal(t, "collect-1", aborted.HarvestRef)
	assert.Equal(t, 1, f.venue.Harvests, "no new harvest while the earlier one is unresolved")
	require.NoError(t, f.apply(aborted))

	r := f.cycle(t).(*event.Rebalanced)
	assert.Equal(t, uint64(15*usdc), r.Harvested.Get(0).Uint64(), "recovered plus new fees")
	assert.Equal(t, 2, f.venue.Harvests)
	assert.False(t, f.manager.State().UnresolvedHarvest)
}

func TestSteadyCycle_LostHarvestThenIncreaseFailureCarries(t *testing.T) {
	f := newFixture(t, 100)
	f.seed(t, 1000*usdc, 0)
	f.cycle(t)
	f.venue.AccrueFees(10*usdc, 0)
	f.lostHarvest(t)

	f.venue.FailIncrease = testutil.ErrInjected
	evt, err := f.manager.RunCycle(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ledger.ErrExternalVenueFailure)
	aborted, ok := evt.(*event.CycleAborted)
	require.True(t, ok, "got %T", evt)
	assert.False(t, aborted.Unresolved)
	require.NoError(t, f.apply(aborted))

	st := f.manager.State()
	assert.False(t, st.UnresolvedHarvest)
	assert.Equal(t, uint64(10*usdc), st.Carry.Get(0).Uint64(), "recovered fees become carry")
}

func TestApplyCycleAborted_UnresolvedNeedsRef(t *testing.T) {
	f := newFixture(t, 100)
	f.seed(t, 1000*usdc, 0)
	f.cycle(t)

	err := f.manager.ApplyCycleAborted(&event.CycleAborted{
		CycleID: uuid.New(), PositionID: 1, Harvested: fpmath.ZeroAmounts(), Unresolved: true,
	})
	assert.ErrorIs(t, err, ledger.ErrInvariantViolation)
	assert.False(t, f.manager.State().UnresolvedHarvest)
}

func TestSteadyCycle_DualPositionDetected(t *testing.T) {
	f := newFixture(t, 100)
	f.seed(t, 1000*usdc, 0)
	f.cycle(t)

	f.venue.AccrueFees(usdc, 0)
	f.venue.IncreaseID = 99
	evt, err := f.manager.RunCycle(context.Background(), uuid.New())

	assert.ErrorIs(t, err, ledger.ErrInvariantViolation)
	_, ok := evt.(*event.CycleAborted)
	assert.True(t, ok, "got %T", evt)
}

func TestApplyRebalanced_MintWhileActive(t *testing.T) {
	f := newFixture(t, 100)
	f.seed(t, 1000*usdc, 0)
	f.cycle(t)

	err := f.manager.ApplyRebalanced(&event.Rebalanced{
		CycleID: uuid.New(), PositionID: 2, Minted: true, Deployed: fpmath.ZeroAmounts(),
	})
	assert.ErrorIs(t, err, ledger.ErrInvariantViolation)
	assert.Equal(t, uint64(1), f.manager.State().PositionID)
}

func TestZeroWeightRevenueIsHeld(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 1000*usdc, 0)
	f.cycle(t)

	f.venue.AccrueFees(10*usdc, 0)
	r := f.cycle(t).(*event.Rebalanced)

	assert.True(t, r.Distributed.IsZero())
	assert.Equal(t, uint64(9*usdc), f.ledger.HeldRevenue().Uint64())
	assert.True(t, f.ledger.Acc().IsZero())
	assert.Equal(t, uint64(40*usdc+usdc+9*usdc), f.manager.SettlementObligations().Uint64(),
		"held revenue is reserved alongside principal and owed tax")
}

// ============================================================================
// Test: Treasury sweep
// ============================================================================

func TestSweep_TransfersOwedTax(t *testing.T) {
	f := newFixture(t, 100)
	f.seed(t, 1000*usdc, 0)
	f.cycle(t)
	f.venue.AccrueFees(10*usdc, 0)
	f.cycle(t)

	swept, err := f.manager.Sweep(context.Background(), uuid.New())
	require.NoError(t, err)
	require.NotNil(t, swept)
	assert.Equal(t, uint64(usdc), swept.Amount.Uint64())
	assert.Equal(t, uint64(usdc), f.settlement.Balance(testutil.TreasuryAddr).Uint64())

	require.NoError(t, f.apply(swept))
	assert.True(t, f.manager.State().TreasuryOwed.IsZero())

	again, err := f.manager.Sweep(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Nil(t, again, "nothing owed")
}

func TestSweep_InsufficientBalance(t *testing.T) {
	f := newFixture(t, 100)
	f.seed(t, 1000*usdc, 0)
	f.cycle(t)
	f.venue.AccrueFees(10*usdc, 0)
	f.cycle(t)
	f.settlement.Debit(testutil.VaultAddr, f.settlement.Balance(testutil.VaultAddr))

	_, err := f.manager.Sweep(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)
	assert.Equal(t, uint64(usdc), f.manager.State().TreasuryOwed.Uint64(), "owed until swept")
}

func TestConfigValidate(t *testing.T) {
	cfg := position.DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.TaxBps = 10_001
	assert.Error(t, cfg.Validate())

	cfg = position.DefaultConfig()
	cfg.SettlementIndex = 2
	assert.Error(t, cfg.Validate())
}
