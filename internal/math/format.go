package math

import (
	"fmt"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// FormatUnits renders a base-unit amount as a decimal string, e.g. 1500000 @ 6 -> "1.5".
func FormatUnits(amount *uint256.Int, decimals int32) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount.ToBig(), -decimals).String()
}

// FormatFixed renders with exactly places fractional digits (truncated).
func FormatFixed(amount *uint256.Int, decimals int32, places int32) string {
	if amount == nil {
		amount = Zero()
	}
	return decimal.NewFromBigInt(amount.ToBig(), -decimals).Truncate(places).StringFixed(places)
}

// ParseUnits converts a human-readable amount ("1.5") into base units.
// Fractions finer than the asset's decimals are rejected.
func ParseUnits(s string, decimals int32) (*uint256.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", s, err)
	}
	if d.Sign() < 0 {
		return nil, fmt.Errorf("parse amount %q: negative", s)
	}
	scaled := d.Shift(decimals)
	if !scaled.IsInteger() {
		return nil, fmt.Errorf("parse amount %q: more than %d decimals", s, decimals)
	}
	v, overflow := uint256.FromBig(scaled.BigInt())
	if overflow {
		return nil, fmt.Errorf("parse amount %q: %w", s, ErrOverflow)
	}
	return v, nil
}
