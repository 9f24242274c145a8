package testutil

import (
	"VaultLedger/internal/chain/memchain"

	"github.com/ethereum/go-ethereum/common"
)

var (
	VaultAddr    = common.HexToAddress("0x000000000000000000000000000000000000fa17")
	TreasuryAddr = common.HexToAddress("0x0000000000000000000000000000000000007ea5")
)

// ErrInjected is returned by fakes when a failure is injected.
var ErrInjected = memchain.ErrInjected

type (
	FakeCustody    = memchain.Custody
	FakeSettlement = memchain.Settlement
	FakeVenue      = memchain.Venue
)

var (
	NewFakeCustody    = memchain.NewCustody
	NewFakeSettlement = memchain.NewSettlement
	NewFakeVenue      = memchain.NewVenue
)
