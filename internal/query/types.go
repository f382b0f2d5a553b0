package query

import (
	"github.com/shopspring/decimal"
)

// wadDecimals is the fixed-point scale of every on-ledger amount.
const wadDecimals = 18

// Amount carries a wei quantity both exactly and in human units.
type Amount struct {
	Wei     string `json:"wei"`
	Decimal string `json:"decimal"`
}

// NewAmount formats a NUMERIC column read as text. Unparseable input is
// passed through unchanged in Wei with an empty Decimal.
func NewAmount(wei string) Amount {
	d, err := decimal.NewFromString(wei)
	if err != nil {
		return Amount{Wei: wei}
	}
	return Amount{Wei: d.String(), Decimal: d.Shift(-wadDecimals).String()}
}

// VaultResponse is the committed state of one vault.
type VaultResponse struct {
	VaultID         uint64 `json:"vault_id"`
	Owner           string `json:"owner"`
	Operator        string `json:"operator"`
	Collateral      Amount `json:"collateral"`
	Short           Amount `json:"short"`
	NftCollateralID uint64 `json:"nft_collateral_id"`
	Version         int64  `json:"version"`
	LastSequence    int64  `json:"last_sequence"`
	AsOfSequence    int64  `json:"as_of_sequence"`
}

// VaultActivityEntry is a vault's state right after one command.
type VaultActivityEntry struct {
	Sequence    int64  `json:"sequence"`
	VaultID     uint64 `json:"vault_id"`
	CommandType string `json:"command_type"`
	Caller      string `json:"caller"`
	Collateral  Amount `json:"collateral"`
	Short       Amount `json:"short"`
	NftID       uint64 `json:"nft_id"`
	BlockTime   int64  `json:"block_time"`
}

// NormalizationPoint is one applied funding step.
type NormalizationPoint struct {
	Sequence  int64  `json:"sequence"`
	Step      uint64 `json:"step"`
	Timestamp int64  `json:"timestamp"`
	Factor    Amount `json:"factor"`
	Mark      Amount `json:"mark"`
	Index     Amount `json:"index"`
}

// SystemResponse is the single system_state row.
type SystemResponse struct {
	Owner               string  `json:"owner"`
	FeeRecipient        string  `json:"fee_recipient"`
	FeeRateBPS          int32   `json:"fee_rate_bps"`
	Paused              bool    `json:"paused"`
	PausesLeft          int32   `json:"pauses_left"`
	LastPauseTime       int64   `json:"last_pause_time"`
	ShutDown            bool    `json:"shut_down"`
	SettlementPrice     *Amount `json:"settlement_price,omitempty"`
	NormalizationFactor Amount  `json:"normalization_factor"`
	LastStep            int64   `json:"last_step"`
	LastFundingTime     int64   `json:"last_funding_time"`
	LastSequence        int64   `json:"last_sequence"`
	AsOfSequence        int64   `json:"as_of_sequence"`
}

// JournalHistoryEntry represents a journal entry for API queries.
type JournalHistoryEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	EventRef      string `json:"event_ref"`
	Sequence      int64  `json:"sequence"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	AssetID       uint16 `json:"asset_id"`
	Amount        Amount `json:"amount"`
	JournalType   int32  `json:"journal_type"`
	Timestamp     int64  `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy        bool              `json:"is_healthy"`
	HashChainBreaks  []int64           `json:"hash_chain_breaks,omitempty"`
	UnbalancedAssets []UnbalancedAsset `json:"unbalanced_assets,omitempty"`
}

// UnbalancedAsset represents an asset with non-zero global balance sum.
type UnbalancedAsset struct {
	AssetID   uint16 `json:"asset_id"`
	Imbalance string `json:"imbalance"`
}
