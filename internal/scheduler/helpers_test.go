package scheduler_test

import (
	"testing"

	vtestutil "VaultLedger/internal/testutil"
	"VaultLedger/internal/weights"

	"github.com/ethereum/go-ethereum/common"
)

func vaultWithStaker(t *testing.T) *vtestutil.Vault {
	t.Helper()
	v := vtestutil.NewVault(t)
	v.Seed(t, 100_000_000)
	v.Rebalance(t)
	v.Stake(t, 1, common.HexToAddress("0x00000000000000000000000000000000000a11ce"), weights.TierLead)
	return v
}
