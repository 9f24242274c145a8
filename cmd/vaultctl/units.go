package main

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// toBaseUnits parses a human amount with the given number of decimals into a
// base-10 integer string. Fractions finer than one base unit are rejected.
func toBaseUnits(amount string, decimals int32) (string, error) {
	v, err := decimal.NewFromString(amount)
	if err != nil {
		return "", fmt.Errorf("invalid amount %q: %w", amount, err)
	}
	if v.IsNegative() {
		return "", fmt.Errorf("invalid amount %q: negative", amount)
	}
	base := v.Shift(decimals)
	if !base.Equal(base.Truncate(0)) {
		return "", fmt.Errorf("amount %q has more than %d decimals", amount, decimals)
	}
	return base.BigInt().String(), nil
}

// fromBaseUnits formats a base-10 integer string with the given number of
// decimals. Unparseable input is returned unchanged.
func fromBaseUnits(raw string, decimals int32) string {
	if raw == "" {
		return "0"
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return raw
	}
	return v.Shift(-decimals).String()
}
