package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeUser AccountScope = iota
	AccountScopeSystem
	AccountScopeExternal
)

// AccountSubType represents the account purpose
type AccountSubType uint8

const (
	// User sub-types
	SubTypeWallet AccountSubType = iota

	// System sub-types
	SubTypeCustody

	// External sub-types
	SubTypeExternalDeposits
	SubTypeExternalWithdrawals
	SubTypeExternalIssuance
	SubTypeExternalPositions
)

// AssetID identifies the two fungible assets the engine moves.
type AssetID uint16

const (
	AssetETH       AssetID = 1
	AssetPowerPerp AssetID = 2
)

var (
	assetToID = map[string]AssetID{
		"ETH":        AssetETH,
		"WPOWERPERP": AssetPowerPerp,
	}
	idToAsset = map[AssetID]string{
		AssetETH:       "ETH",
		AssetPowerPerp: "WPOWERPERP",
	}
)

func GetAssetID(asset string) (AssetID, bool) {
	id, ok := assetToID[asset]
	return id, ok
}

func GetAssetName(id AssetID) (string, bool) {
	name, ok := idToAsset[id]
	return name, ok
}

func (a AssetID) String() string {
	if name, ok := idToAsset[a]; ok {
		return name
	}
	return fmt.Sprintf("asset(%d)", uint16(a))
}

// AccountKey is the in-memory key for balance tracking
type AccountKey struct {
	Scope   AccountScope
	Holder  common.Address
	SubType AccountSubType
	AssetID AssetID
}

// WalletKey is a user's spendable balance of an asset.
func WalletKey(holder common.Address, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeUser,
		Holder:  holder,
		SubType: SubTypeWallet,
		AssetID: assetID,
	}
}

// CustodyKey is the engine's own balance (vault collateral, donations,
// redeemed LP proceeds awaiting distribution).
func CustodyKey(engine common.Address, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeSystem,
		Holder:  engine,
		SubType: SubTypeCustody,
		AssetID: assetID,
	}
}

// ExternalKey is a boundary account; it may go negative.
func ExternalKey(subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeExternal,
		SubType: subType,
		AssetID: assetID,
	}
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	switch k.Scope {
	case AccountScopeUser:
		return fmt.Sprintf("user:%s:%s:%s", k.Holder.Hex(), k.subTypeName(), k.AssetID)
	case AccountScopeSystem:
		return fmt.Sprintf("system:%s:%s:%s", k.Holder.Hex(), k.subTypeName(), k.AssetID)
	case AccountScopeExternal:
		return fmt.Sprintf("external:%s:%s", k.subTypeName(), k.AssetID)
	}
	return "unknown"
}

// MayGoNegative reports whether the account is a boundary account.
func (k AccountKey) MayGoNegative() bool {
	return k.Scope == AccountScopeExternal
}

func (k AccountKey) subTypeName() string {
	switch k.SubType {
	case SubTypeWallet:
		return "wallet"
	case SubTypeCustody:
		return "custody"
	case SubTypeExternalDeposits:
		return "deposits"
	case SubTypeExternalWithdrawals:
		return "withdrawals"
	case SubTypeExternalIssuance:
		return "issuance"
	case SubTypeExternalPositions:
		return "positions"
	default:
		return "unknown"
	}
}
