package weights

import (
	"errors"
	"fmt"
	"sort"
)

// Tier is the enumerated rank stamped on a staking token.
type Tier uint8

const (
	TierUnknown Tier = iota
	TierLead
	TierSilver
	TierGold
)

var ErrUnknownTier = errors.New("unknown tier")

func (t Tier) String() string {
	switch t {
	case TierLead:
		return "Lead"
	case TierSilver:
		return "Silver"
	case TierGold:
		return "Gold"
	default:
		return fmt.Sprintf("Tier(%d)", uint8(t))
	}
}

// ParseTier accepts a tier name or its numeric rank.
func ParseTier(s string) (Tier, error) {
	switch s {
	case "Lead", "lead", "1":
		return TierLead, nil
	case "Silver", "silver", "2":
		return TierSilver, nil
	case "Gold", "gold", "3":
		return TierGold, nil
	}
	return TierUnknown, fmt.Errorf("%w: %q", ErrUnknownTier, s)
}

// Table maps tiers to integer weights. Read-only after construction.
type Table struct {
	weights map[Tier]uint64
}

// DefaultTable returns the production weights: Lead 100, Silver 135, Gold 175.
func DefaultTable() *Table {
	return &Table{weights: map[Tier]uint64{
		TierLead:   100,
		TierSilver: 135,
		TierGold:   175,
	}}
}

// NewTable builds a table from explicit weights. Zero weights are rejected.
func NewTable(weights map[Tier]uint64) (*Table, error) {
	if len(weights) == 0 {
		return nil, errors.New("weight table is empty")
	}
	t := &Table{weights: make(map[Tier]uint64, len(weights))}
	for tier, w := range weights {
		if tier == TierUnknown {
			return nil, fmt.Errorf("%w: tier 0 is reserved", ErrUnknownTier)
		}
		if w == 0 {
			return nil, fmt.Errorf("tier %s: weight must be positive", tier)
		}
		t.weights[tier] = w
	}
	return t, nil
}

// WeightForTier returns the weight assigned to tier.
func (t *Table) WeightForTier(tier Tier) (uint64, error) {
	w, ok := t.weights[tier]
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrUnknownTier, uint8(tier))
	}
	return w, nil
}

// Tiers returns the configured tiers in ascending order.
func (t *Table) Tiers() []Tier {
	tiers := make([]Tier, 0, len(t.weights))
	for tier := range t.weights {
		tiers = append(tiers, tier)
	}
	sort.Slice(tiers, func(i, j int) bool { return tiers[i] < tiers[j] })
	return tiers
}
