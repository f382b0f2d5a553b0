package state

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// VaultState is the lifecycle position of a vault, derived from its balances
// and its standing against the collateral requirement.
type VaultState int32

const (
	VaultStateClosed VaultState = iota
	VaultStateOpen
	VaultStateCollateralized
	VaultStateUnderwater
)

func (vs VaultState) String() string {
	switch vs {
	case VaultStateClosed:
		return "Closed"
	case VaultStateOpen:
		return "Open"
	case VaultStateCollateralized:
		return "Collateralized"
	case VaultStateUnderwater:
		return "Underwater"
	default:
		return "Unknown"
	}
}

// CanTransitionTo validates state transitions
func (vs VaultState) CanTransitionTo(next VaultState) bool {
	validTransitions := map[VaultState][]VaultState{
		VaultStateClosed: {
			VaultStateOpen,
			VaultStateCollateralized,
		},
		VaultStateOpen: {
			VaultStateClosed,
			VaultStateCollateralized,
		},
		VaultStateCollateralized: {
			VaultStateOpen,
			VaultStateClosed,
			VaultStateUnderwater,
		},
		VaultStateUnderwater: {
			VaultStateCollateralized,
			VaultStateOpen,
			VaultStateClosed,
		},
	}

	if vs == next {
		return true
	}
	for _, allowed := range validTransitions[vs] {
		if next == allowed {
			return true
		}
	}
	return false
}

// Access is who the caller is with respect to one vault.
type Access int32

const (
	AccessNeither Access = iota
	AccessOwner
	AccessOperator
)

func (a Access) String() string {
	switch a {
	case AccessOwner:
		return "owner"
	case AccessOperator:
		return "operator"
	default:
		return "neither"
	}
}

// CanModify is true for the owner and the delegated operator.
func (a Access) CanModify() bool {
	return a == AccessOwner || a == AccessOperator
}

// Vault is one collateral/debt record.
type Vault struct {
	ID               uint64
	Owner            common.Address
	Operator         common.Address // zero address = no operator
	CollateralAmount *big.Int       // wei
	ShortAmount      *big.Int       // debt-token units
	NftCollateralID  uint64         // 0 = no LP position attached
	Version          int64
}

func NewVault(id uint64, owner common.Address) *Vault {
	return &Vault{
		ID:               id,
		Owner:            owner,
		CollateralAmount: new(big.Int),
		ShortAmount:      new(big.Int),
	}
}

// AccessFor evaluates the caller's capability once per operation.
func (v *Vault) AccessFor(caller common.Address) Access {
	switch {
	case caller == v.Owner:
		return AccessOwner
	case v.Operator != (common.Address{}) && caller == v.Operator:
		return AccessOperator
	default:
		return AccessNeither
	}
}

func (v *Vault) HasPosition() bool {
	return v.NftCollateralID != 0
}

// IsEmpty reports a vault with no collateral, no debt and no position.
func (v *Vault) IsEmpty() bool {
	return v.CollateralAmount.Sign() == 0 && v.ShortAmount.Sign() == 0 && !v.HasPosition()
}

// State derives the lifecycle state given whether the vault is safe.
func (v *Vault) State(safe bool) VaultState {
	switch {
	case v.IsEmpty():
		return VaultStateClosed
	case v.ShortAmount.Sign() == 0:
		return VaultStateOpen
	case safe:
		return VaultStateCollateralized
	default:
		return VaultStateUnderwater
	}
}

// Clone returns a deep copy the engine can mutate without touching the
// stored record.
func (v *Vault) Clone() *Vault {
	return &Vault{
		ID:               v.ID,
		Owner:            v.Owner,
		Operator:         v.Operator,
		CollateralAmount: new(big.Int).Set(v.CollateralAmount),
		ShortAmount:      new(big.Int).Set(v.ShortAmount),
		NftCollateralID:  v.NftCollateralID,
		Version:          v.Version,
	}
}

// CanonicalBytes returns deterministic serialization for hashing
func (v *Vault) CanonicalBytes() []byte {
	buf := make([]byte, 0, 128)
	buf = appendUint64LE(buf, v.ID)
	buf = append(buf, v.Owner.Bytes()...)
	buf = append(buf, v.Operator.Bytes()...)
	buf = appendBigInt(buf, v.CollateralAmount)
	buf = appendBigInt(buf, v.ShortAmount)
	buf = appendUint64LE(buf, v.NftCollateralID)
	buf = appendInt64LE(buf, v.Version)
	return buf
}

func appendInt64LE(buf []byte, v int64) []byte {
	return appendUint64LE(buf, uint64(v))
}

func appendUint64LE(buf []byte, v uint64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}

// appendBigInt writes a length-prefixed big-endian magnitude. Balances are
// never negative.
func appendBigInt(buf []byte, v *big.Int) []byte {
	var b []byte
	if v != nil {
		b = v.Bytes()
	}
	buf = append(buf, byte(len(b)))
	return append(buf, b...)
}
