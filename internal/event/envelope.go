package event

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// CommandType discriminator for command payloads
type CommandType int32

const (
	CommandTypeUnknown CommandType = iota
	CommandTypeMint
	CommandTypeMintShort
	CommandTypeBurn
	CommandTypeBurnPowerPerp
	CommandTypeDeposit
	CommandTypeWithdraw
	CommandTypeDepositPosition
	CommandTypeWithdrawPosition
	CommandTypeUpdateOperator
	CommandTypeLiquidate
	CommandTypeReduceDebt
	CommandTypeApplyFunding
	CommandTypePause
	CommandTypeUnpauseOwner
	CommandTypeUnpauseAnyone
	CommandTypeShutDown
	CommandTypePauseAndShutDown
	CommandTypeRedeemLong
	CommandTypeRedeemShort
	CommandTypeDonate
	CommandTypeSetFeeRate
	CommandTypeSetFeeRecipient
	CommandTypeTransferOwnership
	CommandTypeFundWallet
	CommandTypeWithdrawWallet
	CommandTypeTransferDebt
	CommandTypeMintPosition
)

var commandTypeNames = map[CommandType]string{
	CommandTypeMint:              "Mint",
	CommandTypeMintShort:         "MintShort",
	CommandTypeBurn:              "Burn",
	CommandTypeBurnPowerPerp:     "BurnPowerPerp",
	CommandTypeDeposit:           "Deposit",
	CommandTypeWithdraw:          "Withdraw",
	CommandTypeDepositPosition:   "DepositPosition",
	CommandTypeWithdrawPosition:  "WithdrawPosition",
	CommandTypeUpdateOperator:    "UpdateOperator",
	CommandTypeLiquidate:         "Liquidate",
	CommandTypeReduceDebt:        "ReduceDebt",
	CommandTypeApplyFunding:      "ApplyFunding",
	CommandTypePause:             "Pause",
	CommandTypeUnpauseOwner:      "UnpauseOwner",
	CommandTypeUnpauseAnyone:     "UnpauseAnyone",
	CommandTypeShutDown:          "ShutDown",
	CommandTypePauseAndShutDown:  "PauseAndShutDown",
	CommandTypeRedeemLong:        "RedeemLong",
	CommandTypeRedeemShort:       "RedeemShort",
	CommandTypeDonate:            "Donate",
	CommandTypeSetFeeRate:        "SetFeeRate",
	CommandTypeSetFeeRecipient:   "SetFeeRecipient",
	CommandTypeTransferOwnership: "TransferOwnership",
	CommandTypeFundWallet:        "FundWallet",
	CommandTypeWithdrawWallet:    "WithdrawWallet",
	CommandTypeTransferDebt:      "TransferDebt",
	CommandTypeMintPosition:      "MintPosition",
}

func (ct CommandType) String() string {
	if name, ok := commandTypeNames[ct]; ok {
		return name
	}
	return "Unknown"
}

// ParseCommandType maps a wire name back to its discriminator.
func ParseCommandType(name string) CommandType {
	for ct, n := range commandTypeNames {
		if n == name {
			return ct
		}
	}
	return CommandTypeUnknown
}

// Block is the versioned chain context a command executes in. The core never
// reads the wall clock; every timestamp it uses arrives here.
type Block struct {
	Number uint64 `json:"number"`
	Time   int64  `json:"time"` // unix seconds
}

// Header carries the fields every command shares.
type Header struct {
	// Stable idempotency key from upstream
	ID uuid.UUID `json:"id"`

	// Caller identity (msg.sender)
	From common.Address `json:"from"`

	// Per-caller ordering key; gaps are tolerated, regressions are not
	Nonce uint64 `json:"nonce"`

	Block Block `json:"block"`
}

func (h Header) IdempotencyKey() string {
	return h.ID.String()
}

func (h Header) Sender() common.Address {
	return h.From
}

func (h Header) SourceSequence() uint64 {
	return h.Nonce
}

func (h Header) At() Block {
	return h.Block
}

// Stamp replaces the block context. The command gateway stamps every
// accepted command with the chain head it observed.
func (h *Header) Stamp(b Block) {
	h.Block = b
}

// Stamper is implemented by every command through its embedded Header.
type Stamper interface {
	Stamp(Block)
}

// Command is the interface all command payloads must implement
type Command interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// CommandType returns the discriminator
	CommandType() CommandType

	// Sender returns the caller identity
	Sender() common.Address

	// SourceSequence returns the per-caller ordering key
	SourceSequence() uint64

	// At returns the block context the command executes in
	At() Block
}

// VaultScoped is implemented by commands that target one vault.
type VaultScoped interface {
	TargetVault() uint64
}

// Envelope wraps every committed command in the log
type Envelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	IdempotencyKey string
	CommandType    CommandType
	Caller         common.Address

	// Vault touched by the command (0 for system commands)
	VaultID uint64

	// Versioned input context
	Block Block

	// Upstream per-caller nonce
	SourceSequence uint64

	// JSON-encoded command
	Payload []byte

	// SHA-256 of state AFTER applying this command
	StateHash [32]byte

	// Previous command's state hash (chain integrity)
	PrevHash [32]byte
}
