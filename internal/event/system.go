package event

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ApplyFunding updates the normalization factor for the command's block.
type ApplyFunding struct {
	Header
}

func (c *ApplyFunding) CommandType() CommandType { return CommandTypeApplyFunding }

type Pause struct{ Header }

func (c *Pause) CommandType() CommandType { return CommandTypePause }

type UnpauseOwner struct{ Header }

func (c *UnpauseOwner) CommandType() CommandType { return CommandTypeUnpauseOwner }

type UnpauseAnyone struct{ Header }

func (c *UnpauseAnyone) CommandType() CommandType { return CommandTypeUnpauseAnyone }

type ShutDown struct{ Header }

func (c *ShutDown) CommandType() CommandType { return CommandTypeShutDown }

type PauseAndShutDown struct{ Header }

func (c *PauseAndShutDown) CommandType() CommandType { return CommandTypePauseAndShutDown }

// RedeemLong burns Amount wPowerPerp from the caller after shutdown.
type RedeemLong struct {
	Header
	Amount *big.Int `json:"amount"`
}

func (c *RedeemLong) CommandType() CommandType { return CommandTypeRedeemLong }

type Donate struct {
	Header
	Value *big.Int `json:"value"`
}

func (c *Donate) CommandType() CommandType { return CommandTypeDonate }

type SetFeeRate struct {
	Header
	FeeRateBPS uint32 `json:"fee_rate_bps"`
}

func (c *SetFeeRate) CommandType() CommandType { return CommandTypeSetFeeRate }

type SetFeeRecipient struct {
	Header
	Recipient common.Address `json:"recipient"`
}

func (c *SetFeeRecipient) CommandType() CommandType { return CommandTypeSetFeeRecipient }

type TransferOwnership struct {
	Header
	NewOwner common.Address `json:"new_owner"`
}

func (c *TransferOwnership) CommandType() CommandType { return CommandTypeTransferOwnership }
