package event

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Mint opens (VaultID 0) or extends a vault: deposit Value wei, optionally
// attach an LP position, and mint Amount of wPowerPerp.
type Mint struct {
	Header
	VaultID uint64   `json:"vault_id"`
	Amount  *big.Int `json:"amount"` // wPowerPerp (index-denominated) units
	Value   *big.Int `json:"value"`  // wei sent along
	NftID   uint64   `json:"nft_id"`
}

func (c *Mint) CommandType() CommandType { return CommandTypeMint }
func (c *Mint) TargetVault() uint64      { return c.VaultID }

// MintShort is Mint with Amount already in debt-token (normalized) units.
type MintShort struct {
	Header
	VaultID uint64   `json:"vault_id"`
	Amount  *big.Int `json:"amount"`
	Value   *big.Int `json:"value"`
	NftID   uint64   `json:"nft_id"`
}

func (c *MintShort) CommandType() CommandType { return CommandTypeMintShort }
func (c *MintShort) TargetVault() uint64      { return c.VaultID }

// Burn repays Amount of debt-token units and withdraws WithdrawAmount wei.
type Burn struct {
	Header
	VaultID        uint64   `json:"vault_id"`
	Amount         *big.Int `json:"amount"`
	WithdrawAmount *big.Int `json:"withdraw_amount"`
}

func (c *Burn) CommandType() CommandType { return CommandTypeBurn }
func (c *Burn) TargetVault() uint64      { return c.VaultID }

// BurnPowerPerp is Burn with Amount in wPowerPerp units; the debt reduction
// rounds up.
type BurnPowerPerp struct {
	Header
	VaultID        uint64   `json:"vault_id"`
	Amount         *big.Int `json:"amount"`
	WithdrawAmount *big.Int `json:"withdraw_amount"`
}

func (c *BurnPowerPerp) CommandType() CommandType { return CommandTypeBurnPowerPerp }
func (c *BurnPowerPerp) TargetVault() uint64      { return c.VaultID }

type Deposit struct {
	Header
	VaultID uint64   `json:"vault_id"`
	Value   *big.Int `json:"value"`
}

func (c *Deposit) CommandType() CommandType { return CommandTypeDeposit }
func (c *Deposit) TargetVault() uint64      { return c.VaultID }

type Withdraw struct {
	Header
	VaultID uint64   `json:"vault_id"`
	Amount  *big.Int `json:"amount"`
}

func (c *Withdraw) CommandType() CommandType { return CommandTypeWithdraw }
func (c *Withdraw) TargetVault() uint64      { return c.VaultID }

type DepositPosition struct {
	Header
	VaultID uint64 `json:"vault_id"`
	NftID   uint64 `json:"nft_id"`
}

func (c *DepositPosition) CommandType() CommandType { return CommandTypeDepositPosition }
func (c *DepositPosition) TargetVault() uint64      { return c.VaultID }

type WithdrawPosition struct {
	Header
	VaultID uint64 `json:"vault_id"`
}

func (c *WithdrawPosition) CommandType() CommandType { return CommandTypeWithdrawPosition }
func (c *WithdrawPosition) TargetVault() uint64      { return c.VaultID }

type UpdateOperator struct {
	Header
	VaultID  uint64         `json:"vault_id"`
	Operator common.Address `json:"operator"`
}

func (c *UpdateOperator) CommandType() CommandType { return CommandTypeUpdateOperator }
func (c *UpdateOperator) TargetVault() uint64      { return c.VaultID }

// Liquidate repays up to MaxDebtAmount debt-token units of an unsafe vault.
type Liquidate struct {
	Header
	VaultID       uint64   `json:"vault_id"`
	MaxDebtAmount *big.Int `json:"max_debt_amount"`
}

func (c *Liquidate) CommandType() CommandType { return CommandTypeLiquidate }
func (c *Liquidate) TargetVault() uint64      { return c.VaultID }

type ReduceDebt struct {
	Header
	VaultID uint64 `json:"vault_id"`
}

func (c *ReduceDebt) CommandType() CommandType { return CommandTypeReduceDebt }
func (c *ReduceDebt) TargetVault() uint64      { return c.VaultID }

type RedeemShort struct {
	Header
	VaultID uint64 `json:"vault_id"`
}

func (c *RedeemShort) CommandType() CommandType { return CommandTypeRedeemShort }
func (c *RedeemShort) TargetVault() uint64      { return c.VaultID }
