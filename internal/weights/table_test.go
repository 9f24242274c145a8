package weights_test

import (
	"errors"
	"testing"

	"VaultLedger/internal/weights"
)

func TestDefaultTable(t *testing.T) {
	table := weights.DefaultTable()

	cases := []struct {
		tier weights.Tier
		want uint64
	}{
		{weights.TierLead, 100},
		{weights.TierSilver, 135},
		{weights.TierGold, 175},
	}
	for _, tc := range cases {
		got, err := table.WeightForTier(tc.tier)
		if err != nil {
			t.Fatalf("WeightForTier(%s) failed: %v", tc.tier, err)
		}
		if got != tc.want {
			t.Errorf("WeightForTier(%s): got %d, want %d", tc.tier, got, tc.want)
		}
	}
}

func TestWeightForTier_Unknown(t *testing.T) {
	_, err := weights.DefaultTable().WeightForTier(weights.Tier(9))
	if !errors.Is(err, weights.ErrUnknownTier) {
		t.Errorf("expected ErrUnknownTier, got %v", err)
	}
}

func TestNewTable_RejectsZeroWeight(t *testing.T) {
	if _, err := weights.NewTable(map[weights.Tier]uint64{weights.TierLead: 0}); err == nil {
		t.Error("expected error for zero weight")
	}
}

func TestParseTier(t *testing.T) {
	for in, want := range map[string]weights.Tier{"gold": weights.TierGold, "2": weights.TierSilver, "Lead": weights.TierLead} {
		got, err := weights.ParseTier(in)
		if err != nil {
			t.Fatalf("ParseTier(%q) failed: %v", in, err)
		}
		if got != want {
			t.Errorf("ParseTier(%q): got %s, want %s", in, got, want)
		}
	}
	if _, err := weights.ParseTier("platinum"); !errors.Is(err, weights.ErrUnknownTier) {
		t.Errorf("expected ErrUnknownTier, got %v", err)
	}
}

func TestTiers_Sorted(t *testing.T) {
	tiers := weights.DefaultTable().Tiers()
	if len(tiers) != 3 || tiers[0] != weights.TierLead || tiers[2] != weights.TierGold {
		t.Errorf("Tiers: got %v", tiers)
	}
}
