package event

import (
	"encoding/json"
	"fmt"
)

// New returns an empty command of the given type, ready to be decoded into.
func New(ct CommandType) (Command, error) {
	switch ct {
	case CommandTypeMint:
		return &Mint{}, nil
	case CommandTypeMintShort:
		return &MintShort{}, nil
	case CommandTypeBurn:
		return &Burn{}, nil
	case CommandTypeBurnPowerPerp:
		return &BurnPowerPerp{}, nil
	case CommandTypeDeposit:
		return &Deposit{}, nil
	case CommandTypeWithdraw:
		return &Withdraw{}, nil
	case CommandTypeDepositPosition:
		return &DepositPosition{}, nil
	case CommandTypeWithdrawPosition:
		return &WithdrawPosition{}, nil
	case CommandTypeUpdateOperator:
		return &UpdateOperator{}, nil
	case CommandTypeLiquidate:
		return &Liquidate{}, nil
	case CommandTypeReduceDebt:
		return &ReduceDebt{}, nil
	case CommandTypeApplyFunding:
		return &ApplyFunding{}, nil
	case CommandTypePause:
		return &Pause{}, nil
	case CommandTypeUnpauseOwner:
		return &UnpauseOwner{}, nil
	case CommandTypeUnpauseAnyone:
		return &UnpauseAnyone{}, nil
	case CommandTypeShutDown:
		return &ShutDown{}, nil
	case CommandTypePauseAndShutDown:
		return &PauseAndShutDown{}, nil
	case CommandTypeRedeemLong:
		return &RedeemLong{}, nil
	case CommandTypeRedeemShort:
		return &RedeemShort{}, nil
	case CommandTypeDonate:
		return &Donate{}, nil
	case CommandTypeSetFeeRate:
		return &SetFeeRate{}, nil
	case CommandTypeSetFeeRecipient:
		return &SetFeeRecipient{}, nil
	case CommandTypeTransferOwnership:
		return &TransferOwnership{}, nil
	case CommandTypeFundWallet:
		return &FundWallet{}, nil
	case CommandTypeWithdrawWallet:
		return &WithdrawWallet{}, nil
	case CommandTypeTransferDebt:
		return &TransferDebt{}, nil
	case CommandTypeMintPosition:
		return &MintPosition{}, nil
	default:
		return nil, fmt.Errorf("unknown command type: %d", ct)
	}
}

// EncodePayload serializes a command for the event log.
func EncodePayload(cmd Command) ([]byte, error) {
	data, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", cmd.CommandType(), err)
	}
	return data, nil
}

// DecodePayload rebuilds a command from its logged payload (replay).
func DecodePayload(ct CommandType, payload []byte) (Command, error) {
	cmd, err := New(ct)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(payload, cmd); err != nil {
		return nil, fmt.Errorf("decode %s: %w", ct, err)
	}
	return cmd, nil
}

// VaultOf returns the vault a command targets, or 0.
func VaultOf(cmd Command) uint64 {
	if vs, ok := cmd.(VaultScoped); ok {
		return vs.TargetVault()
	}
	return 0
}
