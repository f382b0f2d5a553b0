package event

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// FundWallet credits the caller with ETH arriving from outside the engine.
type FundWallet struct {
	Header
	Amount *big.Int `json:"amount"`
}

func (c *FundWallet) CommandType() CommandType { return CommandTypeFundWallet }

// WithdrawWallet debits the caller's ETH to an external destination.
type WithdrawWallet struct {
	Header
	Amount *big.Int `json:"amount"`
}

func (c *WithdrawWallet) CommandType() CommandType { return CommandTypeWithdrawWallet }

// TransferDebt moves wPowerPerp between wallets.
type TransferDebt struct {
	Header
	To     common.Address `json:"to"`
	Amount *big.Int       `json:"amount"`
}

func (c *TransferDebt) CommandType() CommandType { return CommandTypeTransferDebt }

// MintPosition deposits wallet WETH and wPowerPerp into a new
// wPowerPerp/WETH LP position over [TickLower, TickUpper). The caller owns
// the minted NFT and may attach it to a vault.
type MintPosition struct {
	Header
	TickLower       int32    `json:"tick_lower"`
	TickUpper       int32    `json:"tick_upper"`
	WethAmount      *big.Int `json:"weth_amount"`
	PowerPerpAmount *big.Int `json:"power_perp_amount"`
}

func (c *MintPosition) CommandType() CommandType { return CommandTypeMintPosition }
