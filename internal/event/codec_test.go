package event_test

import (
	"testing"
	"time"

	"VaultLedger/internal/event"
	fpmath "VaultLedger/internal/math"
	"VaultLedger/internal/weights"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

var testOwner = common.HexToAddress("0x00000000000000000000000000000000000000a1")

func TestCodec_RebalancedRoundTrip(t *testing.T) {
	in := &event.Rebalanced{
		CycleID:       uuid.MustParse("550e8400-e29b-41d4-a716-446655440000"),
		PositionID:    7,
		Harvested:     fpmath.NewAmounts(uint256.NewInt(4_555_556), uint256.NewInt(1_000_000_000_000_000)),
		CarryUsed:     fpmath.ZeroAmounts(),
		TreasuryTax:   uint256.NewInt(455_555),
		StakerRevenue: uint256.NewInt(4_100_001),
		Distributed:   uint256.NewInt(4_100_000),
		HeldAfter:     uint256.NewInt(1),
		Reinvested:    uint256.NewInt(1_000_000_000_000_000),
		Deployed:      fpmath.NewAmounts(uint256.NewInt(800_000), uint256.NewInt(1_000_000_000_000_000)),
		Redeployed:    true,
		Timestamp:     time.UnixMicro(1_700_000_000_000_000).UTC(),
	}

	data, err := event.Encode(in)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	out, err := event.Decode(event.EventTypeRebalanced, data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if diff := cmp.Diff(in, out); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestCodec_StakedKeepsWeight(t *testing.T) {
	in := &event.Staked{
		RequestID: uuid.New(),
		TokenID:   42,
		Owner:     testOwner,
		Tier:      weights.TierGold,
		Weight:    175,
		Timestamp: time.UnixMicro(1_700_000_000_000_000).UTC(),
	}
	data, err := event.Encode(in)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	out, err := event.Decode(event.EventTypeStaked, data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	s := out.(*event.Staked)
	if s.Weight != 175 || s.Tier != weights.TierGold || s.Owner != testOwner {
		t.Errorf("got weight=%d tier=%s owner=%s", s.Weight, s.Tier, s.Owner.Hex())
	}
}

func TestCodec_CycleAbortedKeepsUnresolvedHarvest(t *testing.T) {
	in := &event.CycleAborted{
		CycleID:    uuid.MustParse("550e8400-e29b-41d4-a716-446655440001"),
		PositionID: 4,
		Harvested:  fpmath.ZeroAmounts(),
		Unresolved: true,
		HarvestRef: "0x9f1c:17",
		Reason:     "collect receipt not found",
		Timestamp:  time.UnixMicro(1_700_000_000_000_000).UTC(),
	}
	data, err := event.Encode(in)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	out, err := event.Decode(event.EventTypeCycleAborted, data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if diff := cmp.Diff(in, out); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestCodec_RejectsNegativeAmount(t *testing.T) {
	data := []byte(`{"request_id":"550e8400-e29b-41d4-a716-446655440000","token_id":1,
		"owner":"0x00000000000000000000000000000000000000a1","entitlement":"-5","paid":"0","deferred":"0"}`)
	if _, err := event.Decode(event.EventTypeYieldClaimed, data); err == nil {
		t.Fatal("expected error for negative amount")
	}
}

func TestCodec_UnknownType(t *testing.T) {
	if _, err := event.Decode(event.EventTypeUnknown, []byte(`{}`)); err == nil {
		t.Fatal("expected error for unknown type")
	}
}

func TestParseEventType(t *testing.T) {
	for et := event.EventTypeStaked; et <= event.EventTypeTreasurySwept; et++ {
		if got := event.ParseEventType(et.String()); got != et {
			t.Errorf("ParseEventType(%q): got %d, want %d", et.String(), got, et)
		}
	}
	if got := event.ParseEventType("TradeFill"); got != event.EventTypeUnknown {
		t.Errorf("unknown name: got %d", got)
	}
}
