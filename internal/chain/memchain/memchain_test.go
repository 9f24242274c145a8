package memchain_test

import (
	"context"
	"testing"

	"VaultLedger/internal/chain/memchain"
	fpmath "VaultLedger/internal/math"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	vault = common.HexToAddress("0x000000000000000000000000000000000000fa17")
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
)

func TestCustody_AutoMint(t *testing.T) {
	ctx := context.Background()
	c := memchain.NewCustody(vault)
	require.Error(t, c.TransferIn(ctx, 1, alice), "unknown token")

	c.AutoMint = true
	require.NoError(t, c.TransferIn(ctx, 1, alice))
	owner, err := c.OwnerOf(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, vault, owner)

	require.NoError(t, c.TransferOut(ctx, 1, alice))
	owner, _ = c.OwnerOf(ctx, 1)
	assert.Equal(t, alice, owner)
}

func TestVenue_DripCreditsVault(t *testing.T) {
	ctx := context.Background()
	s := memchain.NewSettlement(vault)
	s.Credit(vault, uint256.NewInt(1_000))
	v := memchain.NewVenue()
	v.Settlement = s
	v.Vault = vault
	v.Drip = fpmath.NewAmounts(uint256.NewInt(10), uint256.NewInt(3))

	id, err := v.DeployPosition(ctx, fpmath.NewAmounts(uint256.NewInt(1_000), uint256.NewInt(0)))
	require.NoError(t, err)
	assert.True(t, s.Balance(vault).IsZero())

	v.AccrueFees(5, 0)
	fees, err := v.HarvestFees(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(15), fees.Get(0).Uint64())
	assert.Equal(t, uint64(3), fees.Get(1).Uint64())
	assert.Equal(t, uint64(15), s.Balance(vault).Uint64())

	fees, err = v.HarvestFees(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), fees.Get(0).Uint64(), "drip only")
}

func TestSettlement_TransferNeedsVaultBalance(t *testing.T) {
	ctx := context.Background()
	s := memchain.NewSettlement(vault)
	require.Error(t, s.Transfer(ctx, alice, uint256.NewInt(1)))
	s.Credit(vault, uint256.NewInt(5))
	require.NoError(t, s.Transfer(ctx, alice, uint256.NewInt(5)))
	bal, err := s.BalanceOf(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), bal.Uint64())
}
