package ledger

import (
	"fmt"
	"math/big"

	"github.com/google/uuid"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeWalletDeposit JournalType = iota
	JournalTypeWalletWithdrawal
	JournalTypeTransfer
	JournalTypeCollateralIn
	JournalTypeCollateralOut
	JournalTypeMint
	JournalTypeBurn
	JournalTypeFee
	JournalTypeLiquidationPayout
	JournalTypeBounty
	JournalTypePositionRedeem
	JournalTypeDonation
	JournalTypeSettlement
	JournalTypePositionDeposit
)

func (t JournalType) String() string {
	switch t {
	case JournalTypeWalletDeposit:
		return "wallet_deposit"
	case JournalTypeWalletWithdrawal:
		return "wallet_withdrawal"
	case JournalTypeTransfer:
		return "transfer"
	case JournalTypeCollateralIn:
		return "collateral_in"
	case JournalTypeCollateralOut:
		return "collateral_out"
	case JournalTypeMint:
		return "mint"
	case JournalTypeBurn:
		return "burn"
	case JournalTypeFee:
		return "fee"
	case JournalTypeLiquidationPayout:
		return "liquidation_payout"
	case JournalTypeBounty:
		return "bounty"
	case JournalTypePositionRedeem:
		return "position_redeem"
	case JournalTypeDonation:
		return "donation"
	case JournalTypeSettlement:
		return "settlement"
	case JournalTypePositionDeposit:
		return "position_deposit"
	default:
		return "unknown"
	}
}

// Journal represents a single double-entry journal entry
type Journal struct {
	JournalID     uuid.UUID
	BatchID       uuid.UUID
	EventRef      string     // Idempotency key of the source command
	Sequence      int64      // Global command sequence
	DebitAccount  AccountKey // balance increases
	CreditAccount AccountKey // balance decreases
	AssetID       AssetID
	Amount        *big.Int // wei, always positive
	JournalType   JournalType
	Timestamp     int64 // block time of the source command (unix seconds)
}

// Batch represents a balanced set of journal entries
type Batch struct {
	BatchID   uuid.UUID
	EventRef  string
	Sequence  int64
	Timestamp int64
	Journals  []Journal
}

// Validate ensures the batch is well-formed. Each entry moves one positive
// amount between two accounts, so every entry balances by construction.
func (b *Batch) Validate() error {
	if len(b.Journals) == 0 {
		return fmt.Errorf("batch %s is empty", b.BatchID)
	}

	for _, j := range b.Journals {
		if j.Amount == nil || j.Amount.Sign() <= 0 {
			return fmt.Errorf("journal %s has non-positive amount: %v", j.JournalID, j.Amount)
		}
		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}
		if j.DebitAccount == j.CreditAccount {
			return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
		}
		if j.DebitAccount.AssetID != j.AssetID || j.CreditAccount.AssetID != j.AssetID {
			return fmt.Errorf("journal %s mixes assets", j.JournalID)
		}
	}

	return nil
}
