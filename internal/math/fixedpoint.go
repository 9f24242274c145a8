package math

import (
	"errors"

	"github.com/holiman/uint256"
)

// DecimalConfig describes an on-chain asset's fixed-point scale.
type DecimalConfig struct {
	Symbol   string
	Decimals int32
}

var (
	// Standard configs
	SettlementConfig = DecimalConfig{Symbol: "USDC", Decimals: 6}
	VolatileConfig   = DecimalConfig{Symbol: "WETH", Decimals: 18}
)

// PrecisionDecimals is the number of decimal digits carried by the accumulator.
const PrecisionDecimals = 18

// BasisPoints is the denominator for fractional config values (tax, reserve).
const BasisPoints = 10_000

var (
	ErrOverflow   = errors.New("fixed-point overflow")
	ErrDivByZero  = errors.New("fixed-point division by zero")
	ErrUnderflow  = errors.New("fixed-point underflow")
	ErrBasisRange = errors.New("basis points out of range")
)

var precision = uint256.NewInt(1_000_000_000_000_000_000)

// Precision returns a fresh copy of the accumulator scale (1e18).
func Precision() *uint256.Int {
	return new(uint256.Int).Set(precision)
}

// Zero returns a new zero value.
func Zero() *uint256.Int {
	return new(uint256.Int)
}

// Clone copies v, treating nil as zero.
func Clone(v *uint256.Int) *uint256.Int {
	if v == nil {
		return Zero()
	}
	return new(uint256.Int).Set(v)
}

// MulDiv computes floor(x * y / d) with a 512-bit intermediate product.
func MulDiv(x, y, d *uint256.Int) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, ErrDivByZero
	}
	z, overflow := new(uint256.Int).MulDivOverflow(x, y, d)
	if overflow {
		return nil, ErrOverflow
	}
	return z, nil
}

// Add returns x + y, failing on overflow. nil operands are zero.
func Add(x, y *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).AddOverflow(Clone(x), Clone(y))
	if overflow {
		return nil, ErrOverflow
	}
	return z, nil
}

// Sub returns x - y, failing when y > x. nil operands are zero.
func Sub(x, y *uint256.Int) (*uint256.Int, error) {
	z, underflow := new(uint256.Int).SubOverflow(Clone(x), Clone(y))
	if underflow {
		return nil, ErrUnderflow
	}
	return z, nil
}

// SaturatingSub returns max(x - y, 0).
func SaturatingSub(x, y *uint256.Int) *uint256.Int {
	if y.Gt(x) {
		return Zero()
	}
	return new(uint256.Int).Sub(x, y)
}

// ApplyBps returns floor(amount * bps / 10_000).
func ApplyBps(amount *uint256.Int, bps uint64) (*uint256.Int, error) {
	if bps > BasisPoints {
		return nil, ErrBasisRange
	}
	return MulDiv(amount, uint256.NewInt(bps), uint256.NewInt(BasisPoints))
}

// Min returns the smaller of x and y (copied).
func Min(x, y *uint256.Int) *uint256.Int {
	if x.Lt(y) {
		return Clone(x)
	}
	return Clone(y)
}
