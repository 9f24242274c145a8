package position

import (
	"fmt"
	"time"

	fpmath "VaultLedger/internal/math"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Config holds the cycle parameters.
type Config struct {
	// Fraction of harvested settlement-asset fees owed to the treasury.
	TaxBps uint64
	// Fraction of settlement-asset principal held back from every deploy.
	ReserveBps uint64
	// Per-asset minimum viable deposit, venue token order.
	MinDeposit fpmath.Amounts
	// Index (0 or 1) of the settlement asset in venue token order.
	SettlementIndex int

	Vault    common.Address
	Treasury common.Address

	MaxRetries   uint64
	RetryInitial time.Duration
	// Bound on the post-harvest part of a cycle, which ignores caller cancellation.
	CycleTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		TaxBps:       1000,
		ReserveBps:   2000,
		MinDeposit:   fpmath.NewAmounts(uint256.NewInt(1_000_000), uint256.NewInt(0)),
		MaxRetries:   3,
		RetryInitial: 500 * time.Millisecond,
		CycleTimeout: 2 * time.Minute,
	}
}

func (c Config) Validate() error {
	if c.TaxBps > fpmath.BasisPoints {
		return fmt.Errorf("tax_bps %d out of range", c.TaxBps)
	}
	if c.ReserveBps > fpmath.BasisPoints {
		return fmt.Errorf("reserve_bps %d out of range", c.ReserveBps)
	}
	if c.SettlementIndex != 0 && c.SettlementIndex != 1 {
		return fmt.Errorf("settlement_index must be 0 or 1, got %d", c.SettlementIndex)
	}
	if c.CycleTimeout <= 0 {
		return fmt.Errorf("cycle timeout must be positive")
	}
	return nil
}
