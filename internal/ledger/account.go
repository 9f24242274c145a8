package ledger

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeOwner AccountScope = iota
	AccountScopeSystem
	AccountScopeExternal
)

// AccountSubType represents the account purpose
type AccountSubType uint8

const (
	// Owner sub-types
	SubTypePayout AccountSubType = iota

	// System sub-types
	SubTypeStakerPool
	SubTypeTreasuryOwed
	SubTypeHeldRevenue
	SubTypePrincipal
	SubTypeCarry
	SubTypeDeployed

	// External sub-types
	SubTypeVenueFees
	SubTypeTreasury
	SubTypeSeed
)

// AssetID identifies one of the two venue assets
type AssetID uint16

const (
	AssetSettlement AssetID = 1
	AssetVolatile   AssetID = 2
)

var (
	assetToID = map[string]AssetID{
		"USDC": AssetSettlement,
		"WETH": AssetVolatile,
	}
	idToAsset = map[AssetID]string{
		AssetSettlement: "USDC",
		AssetVolatile:   "WETH",
	}
)

func GetAssetID(asset string) (AssetID, bool) {
	id, ok := assetToID[strings.ToUpper(asset)]
	return id, ok
}

func GetAssetName(id AssetID) (string, bool) {
	name, ok := idToAsset[id]
	return name, ok
}

// AccountKey identifies a journal account
type AccountKey struct {
	Scope   AccountScope
	Owner   common.Address // zero for system and external accounts
	SubType AccountSubType
	AssetID AssetID
}

// NewOwnerAccountKey creates a key for a staker's payout account
func NewOwnerAccountKey(owner common.Address, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeOwner,
		Owner:   owner,
		SubType: SubTypePayout,
		AssetID: assetID,
	}
}

// NewSystemAccountKey creates a key for vault-internal accounts
func NewSystemAccountKey(subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeSystem,
		SubType: subType,
		AssetID: assetID,
	}
}

// NewExternalAccountKey creates a key for external boundary accounts
func NewExternalAccountKey(subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeExternal,
		SubType: subType,
		AssetID: assetID,
	}
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	assetName, _ := GetAssetName(k.AssetID)

	switch k.Scope {
	case AccountScopeOwner:
		return fmt.Sprintf("owner:%s:%s:%s", strings.ToLower(k.Owner.Hex()), k.subTypeName(), assetName)
	case AccountScopeSystem:
		return fmt.Sprintf("system:%s:%s", k.subTypeName(), assetName)
	case AccountScopeExternal:
		return fmt.Sprintf("external:%s:%s", k.subTypeName(), assetName)
	}
	return "unknown"
}

func (k AccountKey) subTypeName() string {
	switch k.SubType {
	case SubTypePayout:
		return "payout"
	case SubTypeStakerPool:
		return "staker_pool"
	case SubTypeTreasuryOwed:
		return "treasury_owed"
	case SubTypeHeldRevenue:
		return "held_revenue"
	case SubTypePrincipal:
		return "principal"
	case SubTypeCarry:
		return "carry"
	case SubTypeDeployed:
		return "deployed"
	case SubTypeVenueFees:
		return "venue_fees"
	case SubTypeTreasury:
		return "treasury"
	case SubTypeSeed:
		return "seed"
	default:
		return "unknown"
	}
}
