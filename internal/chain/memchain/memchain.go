// Package memchain holds in-memory custody, settlement and venue
// implementations for running the vault without a chain.
package memchain

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"VaultLedger/internal/ledger"
	fpmath "VaultLedger/internal/math"
	"VaultLedger/internal/position"
	"VaultLedger/internal/staking"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	_ staking.Custody    = (*Custody)(nil)
	_ staking.Settlement = (*Settlement)(nil)
	_ position.Treasury  = (*Settlement)(nil)
	_ position.Venue     = (*Venue)(nil)
)

// ErrInjected is returned when a failure is injected.
var ErrInjected = errors.New("injected failure")

// --- Custody ---

// Custody is an in-memory token registry.
type Custody struct {
	mu          sync.Mutex
	owners      map[uint64]common.Address
	vault       common.Address
	FailIn      error
	FailOut     error
	TransfersIn int

	// AutoMint treats an unknown token as owned by whoever transfers it in.
	AutoMint bool
}

func NewCustody(vault common.Address) *Custody {
	return &Custody{owners: make(map[uint64]common.Address), vault: vault}
}

// Mint assigns tokenID to owner.
func (c *Custody) Mint(tokenID uint64, owner common.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.owners[tokenID] = owner
}

func (c *Custody) TransferIn(_ context.Context, tokenID uint64, from common.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailIn != nil {
		return c.FailIn
	}
	if _, ok := c.owners[tokenID]; !ok && c.AutoMint {
		c.owners[tokenID] = from
	}
	if c.owners[tokenID] != from {
		return fmt.Errorf("token %d not owned by %s", tokenID, from.Hex())
	}
	c.owners[tokenID] = c.vault
	c.TransfersIn++
	return nil
}

func (c *Custody) TransferOut(_ context.Context, tokenID uint64, to common.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailOut != nil {
		return c.FailOut
	}
	if c.owners[tokenID] != c.vault {
		return fmt.Errorf("token %d not in custody", tokenID)
	}
	c.owners[tokenID] = to
	return nil
}

func (c *Custody) OwnerOf(_ context.Context, tokenID uint64) (common.Address, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	owner, ok := c.owners[tokenID]
	if !ok {
		return common.Address{}, fmt.Errorf("token %d does not exist", tokenID)
	}
	return owner, nil
}

// --- Settlement ---

// Settlement is an in-memory ERC20 where Transfer always debits the vault.
type Settlement struct {
	mu           sync.Mutex
	balances     map[common.Address]*uint256.Int
	vault        common.Address
	FailTransfer error
	FailBalance  error
}

func NewSettlement(vault common.Address) *Settlement {
	return &Settlement{balances: make(map[common.Address]*uint256.Int), vault: vault}
}

// Credit adds amount to account's balance.
func (s *Settlement) Credit(account common.Address, amount *uint256.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credit(account, amount)
}

// Debit removes up to amount from account's balance.
func (s *Settlement) Debit(account common.Address, amount *uint256.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[account] = fpmath.SaturatingSub(fpmath.Clone(s.balances[account]), amount)
}

func (s *Settlement) credit(account common.Address, amount *uint256.Int) {
	cur := fpmath.Clone(s.balances[account])
	s.balances[account] = cur.Add(cur, amount)
}

func (s *Settlement) Balance(account common.Address) *uint256.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fpmath.Clone(s.balances[account])
}

func (s *Settlement) BalanceOf(_ context.Context, account common.Address) (*uint256.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailBalance != nil {
		return nil, s.FailBalance
	}
	return fpmath.Clone(s.balances[account]), nil
}

func (s *Settlement) Transfer(_ context.Context, to common.Address, amount *uint256.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailTransfer != nil {
		return s.FailTransfer
	}
	bal := fpmath.Clone(s.balances[s.vault])
	if bal.Lt(amount) {
		return fmt.Errorf("transfer %s with balance %s: %w", amount.Dec(), bal.Dec(), ledger.ErrInsufficientBalance)
	}
	s.balances[s.vault] = bal.Sub(bal, amount)
	s.credit(to, amount)
	return nil
}

// --- Venue ---

// Venue is an in-memory liquidity venue. When Settlement is set, harvests
// credit the vault with settlement-asset fees and deposits debit it.
type Venue struct {
	mu              sync.Mutex
	nextID          uint64
	liquidity       map[uint64]*uint256.Int
	Settlement      *Settlement
	SettlementIndex int
	Vault           common.Address

	// Fees returned by the next harvest, then reset to zero.
	PendingFees fpmath.Amounts
	// Drip is accrued before every harvest.
	Drip fpmath.Amounts

	FailDeploy    error
	FailHarvest   error
	FailIncrease  error
	FailRead      error
	HarvestErrors int    // fail this many harvests before succeeding
	IncreaseID    uint64 // if set, reported as the credited position id

	// LostReceipts harvests collect fees but report an unknown outcome.
	LostReceipts int
	// PendingResolves resolves report the outcome as still unknown.
	PendingResolves int

	Deploys    int
	Harvests   int
	Increases  int
	Resolves   int
	DeployedIn []fpmath.Amounts

	collected map[string]fpmath.Amounts // by harvest ref
}

func NewVenue() *Venue {
	return &Venue{
		nextID:      1,
		liquidity:   make(map[uint64]*uint256.Int),
		collected:   make(map[string]fpmath.Amounts),
		PendingFees: fpmath.ZeroAmounts(),
		Drip:        fpmath.ZeroAmounts(),
	}
}

// AccrueFees adds to the fees returned by the next harvest.
func (v *Venue) AccrueFees(amount0, amount1 uint64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	fees, _ := v.PendingFees.Add(fpmath.NewAmounts(uint256.NewInt(amount0), uint256.NewInt(amount1)))
	v.PendingFees = fees
}

func (v *Venue) DeployPosition(_ context.Context, amounts fpmath.Amounts) (uint64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.FailDeploy != nil {
		return 0, v.FailDeploy
	}
	id := v.nextID
	v.nextID++
	v.liquidity[id] = liquidityOf(amounts)
	v.Deploys++
	v.DeployedIn = append(v.DeployedIn, amounts.Clone())
	v.debitVault(amounts)
	return id, nil
}

func (v *Venue) HarvestFees(_ context.Context, positionID uint64) (fpmath.Amounts, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.HarvestErrors > 0 {
		v.HarvestErrors--
		return fpmath.Amounts{}, ErrInjected
	}
	if v.FailHarvest != nil {
		return fpmath.Amounts{}, v.FailHarvest
	}
	if _, ok := v.liquidity[positionID]; !ok {
		return fpmath.Amounts{}, fmt.Errorf("position %d does not exist", positionID)
	}
	fees := v.PendingFees.Clone()
	if !v.Drip.IsZero() {
		fees, _ = fees.Add(v.Drip)
	}
	v.PendingFees = fpmath.ZeroAmounts()
	v.Harvests++
	if v.Settlement != nil {
		v.Settlement.Credit(v.Vault, fees.Get(v.SettlementIndex))
	}
	ref := fmt.Sprintf("collect-%d", v.Harvests)
	v.collected[ref] = fees.Clone()
	if v.LostReceipts > 0 {
		v.LostReceipts--
		return fpmath.Amounts{}, &position.UnconfirmedError{Op: "collect", Ref: ref, Err: ErrInjected}
	}
	return fees, nil
}

// ResolveHarvest returns what the harvest behind ref collected; zero for an
// unknown ref.
func (v *Venue) ResolveHarvest(_ context.Context, positionID uint64, ref string) (fpmath.Amounts, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.Resolves++
	if v.PendingResolves > 0 {
		v.PendingResolves--
		return fpmath.Amounts{}, &position.UnconfirmedError{Op: "collect", Ref: ref, Err: ErrInjected}
	}
	if _, ok := v.liquidity[positionID]; !ok {
		return fpmath.Amounts{}, fmt.Errorf("position %d does not exist", positionID)
	}
	fees, ok := v.collected[ref]
	if !ok {
		return fpmath.ZeroAmounts(), nil
	}
	return fees.Clone(), nil
}

func (v *Venue) IncreaseLiquidity(_ context.Context, positionID uint64, amounts fpmath.Amounts) (uint64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.FailIncrease != nil {
		return 0, v.FailIncrease
	}
	liq, ok := v.liquidity[positionID]
	if !ok {
		return 0, fmt.Errorf("position %d does not exist", positionID)
	}
	liq.Add(liq, liquidityOf(amounts))
	v.Increases++
	v.DeployedIn = append(v.DeployedIn, amounts.Clone())
	v.debitVault(amounts)
	if v.IncreaseID != 0 {
		return v.IncreaseID, nil
	}
	return positionID, nil
}

func (v *Venue) ReadPositionState(_ context.Context, positionID uint64) (*uint256.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.FailRead != nil {
		return nil, v.FailRead
	}
	liq, ok := v.liquidity[positionID]
	if !ok {
		return nil, fmt.Errorf("position %d does not exist", positionID)
	}
	return fpmath.Clone(liq), nil
}

// Positions returns the number of positions ever minted.
func (v *Venue) Positions() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.liquidity)
}

func (v *Venue) debitVault(amounts fpmath.Amounts) {
	if v.Settlement != nil {
		v.Settlement.Debit(v.Vault, amounts.Get(v.SettlementIndex))
	}
}

// liquidityOf is a stand-in for the venue's liquidity math.
func liquidityOf(a fpmath.Amounts) *uint256.Int {
	return new(uint256.Int).Add(a.Get(0), a.Get(1))
}
