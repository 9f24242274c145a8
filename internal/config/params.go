package config

import (
	"fmt"
	"os"
	"strconv"

	"VaultLedger/internal/event"
	fpmath "VaultLedger/internal/math"
	"VaultLedger/internal/position"
	"VaultLedger/internal/weights"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
)

// Params are the vault's economic parameters and on-chain addresses, read
// from a TOML file. VAULT_TAX_BPS and VAULT_RESERVE_BPS override the file.
//
//	tax_bps = 1000
//	reserve_bps = 2000
//	settlement_index = 0
//
//	[tiers]
//	Lead = 100
//	Silver = 135
//	Gold = 175
//
//	[min_deposit]
//	amount0 = "1000000"
//	amount1 = "0"
//
//	[addresses]
//	vault = "0x..."
type Params struct {
	TaxBps          uint64            `toml:"tax_bps"`
	ReserveBps      uint64            `toml:"reserve_bps"`
	SettlementIndex int               `toml:"settlement_index"`
	Tiers           map[string]uint64 `toml:"tiers"`
	MinDeposit      MinDeposit        `toml:"min_deposit"`
	Addresses       Addresses         `toml:"addresses"`
	Venue           VenueParams       `toml:"venue"`
}

type MinDeposit struct {
	Amount0 string `toml:"amount0"`
	Amount1 string `toml:"amount1"`
}

type Addresses struct {
	Vault           string `toml:"vault"`
	Treasury        string `toml:"treasury"`
	Token0          string `toml:"token0"`
	Token1          string `toml:"token1"`
	StakingToken    string `toml:"staking_token"`
	PositionManager string `toml:"position_manager"`
}

// VenueParams configure the range minted on the position manager.
type VenueParams struct {
	Fee       uint32 `toml:"fee"`
	TickLower int32  `toml:"tick_lower"`
	TickUpper int32  `toml:"tick_upper"`
}

func DefaultParams() Params {
	return Params{
		TaxBps:     1000,
		ReserveBps: 2000,
		Tiers:      map[string]uint64{"Lead": 100, "Silver": 135, "Gold": 175},
		MinDeposit: MinDeposit{Amount0: "1000000", Amount1: "0"},
		Venue:      VenueParams{Fee: 500, TickLower: -887270, TickUpper: 887270},
	}
}

// LoadParams decodes path over the defaults. An empty path returns the
// defaults. Env overrides are applied last.
func LoadParams(path string) (Params, error) {
	p := DefaultParams()
	if path != "" {
		md, err := toml.DecodeFile(path, &p)
		if err != nil {
			return Params{}, fmt.Errorf("decode %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return Params{}, fmt.Errorf("decode %s: unknown keys %v", path, undecoded)
		}
	}
	if err := p.applyEnv(); err != nil {
		return Params{}, err
	}
	return p, p.Validate()
}

func (p *Params) applyEnv() error {
	for key, dst := range map[string]*uint64{
		"VAULT_TAX_BPS":     &p.TaxBps,
		"VAULT_RESERVE_BPS": &p.ReserveBps,
	} {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
	}
	return nil
}

func (p Params) Validate() error {
	if _, err := p.WeightTable(); err != nil {
		return err
	}
	if _, err := p.minDeposit(); err != nil {
		return err
	}
	for name, addr := range map[string]string{
		"vault":            p.Addresses.Vault,
		"treasury":         p.Addresses.Treasury,
		"token0":           p.Addresses.Token0,
		"token1":           p.Addresses.Token1,
		"staking_token":    p.Addresses.StakingToken,
		"position_manager": p.Addresses.PositionManager,
	} {
		if addr == "" {
			continue
		}
		if _, err := event.ParseAddress(addr); err != nil {
			return fmt.Errorf("addresses.%s: %w", name, err)
		}
	}
	if p.Venue.TickLower >= p.Venue.TickUpper {
		return fmt.Errorf("venue tick range [%d, %d) is empty", p.Venue.TickLower, p.Venue.TickUpper)
	}
	return p.PositionConfig(position.DefaultConfig()).Validate()
}

// RequireAddresses reports the first unset address needed by the chain
// adapters.
func (p Params) RequireAddresses() error {
	for _, f := range []struct{ name, v string }{
		{"vault", p.Addresses.Vault},
		{"treasury", p.Addresses.Treasury},
		{"token0", p.Addresses.Token0},
		{"token1", p.Addresses.Token1},
		{"staking_token", p.Addresses.StakingToken},
		{"position_manager", p.Addresses.PositionManager},
	} {
		if f.v == "" {
			return fmt.Errorf("addresses.%s is required", f.name)
		}
	}
	return nil
}

// WeightTable builds the tier table from [tiers].
func (p Params) WeightTable() (*weights.Table, error) {
	if len(p.Tiers) == 0 {
		return weights.DefaultTable(), nil
	}
	m := make(map[weights.Tier]uint64, len(p.Tiers))
	for name, w := range p.Tiers {
		tier, err := weights.ParseTier(name)
		if err != nil {
			return nil, fmt.Errorf("tiers: %w", err)
		}
		m[tier] = w
	}
	return weights.NewTable(m)
}

// PositionConfig overlays the params on base, which carries the retry and
// timeout settings.
func (p Params) PositionConfig(base position.Config) position.Config {
	base.TaxBps = p.TaxBps
	base.ReserveBps = p.ReserveBps
	base.SettlementIndex = p.SettlementIndex
	if md, err := p.minDeposit(); err == nil {
		base.MinDeposit = md
	}
	base.Vault = Address(p.Addresses.Vault)
	base.Treasury = Address(p.Addresses.Treasury)
	return base
}

// Address parses s, returning the zero address for empty or invalid input.
// Validate reports invalid input.
func Address(s string) common.Address {
	if s == "" {
		return common.Address{}
	}
	a, err := event.ParseAddress(s)
	if err != nil {
		return common.Address{}
	}
	return a
}

func (p Params) minDeposit() (fpmath.Amounts, error) {
	a0, err := event.ParseAmount(p.MinDeposit.Amount0)
	if err != nil {
		return fpmath.Amounts{}, fmt.Errorf("min_deposit.amount0: %w", err)
	}
	a1, err := event.ParseAmount(p.MinDeposit.Amount1)
	if err != nil {
		return fpmath.Amounts{}, fmt.Errorf("min_deposit.amount1: %w", err)
	}
	return fpmath.NewAmounts(a0, a1), nil
}
