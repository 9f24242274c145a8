package math

import "github.com/holiman/uint256"

// Amounts is a two-asset tuple in venue token order (token0, token1).
type Amounts struct {
	Amount0 *uint256.Int
	Amount1 *uint256.Int
}

// NewAmounts copies a and b into a tuple.
func NewAmounts(a, b *uint256.Int) Amounts {
	return Amounts{Amount0: Clone(a), Amount1: Clone(b)}
}

// ZeroAmounts returns (0, 0).
func ZeroAmounts() Amounts {
	return Amounts{Amount0: Zero(), Amount1: Zero()}
}

// Get returns the amount for asset index 0 or 1.
func (a Amounts) Get(i int) *uint256.Int {
	if i == 0 {
		return Clone(a.Amount0)
	}
	return Clone(a.Amount1)
}

// With returns a copy with asset index i replaced by v.
func (a Amounts) With(i int, v *uint256.Int) Amounts {
	c := a.Clone()
	if i == 0 {
		c.Amount0 = Clone(v)
	} else {
		c.Amount1 = Clone(v)
	}
	return c
}

func (a Amounts) Clone() Amounts {
	return Amounts{Amount0: Clone(a.Amount0), Amount1: Clone(a.Amount1)}
}

func (a Amounts) IsZero() bool {
	return (a.Amount0 == nil || a.Amount0.IsZero()) && (a.Amount1 == nil || a.Amount1.IsZero())
}

// Add returns a + b component-wise.
func (a Amounts) Add(b Amounts) (Amounts, error) {
	x, err := Add(Clone(a.Amount0), Clone(b.Amount0))
	if err != nil {
		return Amounts{}, err
	}
	y, err := Add(Clone(a.Amount1), Clone(b.Amount1))
	if err != nil {
		return Amounts{}, err
	}
	return Amounts{Amount0: x, Amount1: y}, nil
}

// Sub returns a - b component-wise, failing if either component underflows.
func (a Amounts) Sub(b Amounts) (Amounts, error) {
	x, err := Sub(Clone(a.Amount0), Clone(b.Amount0))
	if err != nil {
		return Amounts{}, err
	}
	y, err := Sub(Clone(a.Amount1), Clone(b.Amount1))
	if err != nil {
		return Amounts{}, err
	}
	return Amounts{Amount0: x, Amount1: y}, nil
}

// Equal compares component-wise, treating nil as zero.
func (a Amounts) Equal(b Amounts) bool {
	return Clone(a.Amount0).Eq(Clone(b.Amount0)) && Clone(a.Amount1).Eq(Clone(b.Amount1))
}
