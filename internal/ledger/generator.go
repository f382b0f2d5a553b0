package ledger

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// BatchBuilder accumulates the journals of one command. Zero amounts are
// dropped so callers can post conditional legs unconditionally.
type BatchBuilder struct {
	batch   *Batch
	custody common.Address
}

func NewBatchBuilder(custody common.Address, eventRef string, sequence, timestamp int64) *BatchBuilder {
	return &BatchBuilder{
		custody: custody,
		batch: &Batch{
			BatchID:   uuid.New(),
			EventRef:  eventRef,
			Sequence:  sequence,
			Timestamp: timestamp,
			Journals:  make([]Journal, 0, 4),
		},
	}
}

// Post appends a journal moving amount from credit to debit.
func (b *BatchBuilder) Post(typ JournalType, debit, credit AccountKey, amount *big.Int) {
	if amount == nil || amount.Sign() <= 0 {
		return
	}
	b.batch.Journals = append(b.batch.Journals, Journal{
		JournalID:     uuid.New(),
		BatchID:       b.batch.BatchID,
		EventRef:      b.batch.EventRef,
		Sequence:      b.batch.Sequence,
		DebitAccount:  debit,
		CreditAccount: credit,
		AssetID:       debit.AssetID,
		Amount:        new(big.Int).Set(amount),
		JournalType:   typ,
		Timestamp:     b.batch.Timestamp,
	})
}

// WalletDeposit: external:deposits -> user:wallet
func (b *BatchBuilder) WalletDeposit(holder common.Address, asset AssetID, amount *big.Int) {
	b.Post(JournalTypeWalletDeposit, WalletKey(holder, asset), ExternalKey(SubTypeExternalDeposits, asset), amount)
}

// WalletWithdrawal: user:wallet -> external:withdrawals
func (b *BatchBuilder) WalletWithdrawal(holder common.Address, asset AssetID, amount *big.Int) {
	b.Post(JournalTypeWalletWithdrawal, ExternalKey(SubTypeExternalWithdrawals, asset), WalletKey(holder, asset), amount)
}

// Transfer: user:wallet(from) -> user:wallet(to)
func (b *BatchBuilder) Transfer(from, to common.Address, asset AssetID, amount *big.Int) {
	b.Post(JournalTypeTransfer, WalletKey(to, asset), WalletKey(from, asset), amount)
}

// CollateralIn: user:wallet -> system:custody (ETH attached to a call)
func (b *BatchBuilder) CollateralIn(from common.Address, amount *big.Int) {
	b.Post(JournalTypeCollateralIn, CustodyKey(b.custody, AssetETH), WalletKey(from, AssetETH), amount)
}

// Pay moves custody funds of an asset out to a wallet.
func (b *BatchBuilder) Pay(typ JournalType, to common.Address, asset AssetID, amount *big.Int) {
	b.Post(typ, WalletKey(to, asset), CustodyKey(b.custody, asset), amount)
}

// Mint issues wPowerPerp to a wallet.
func (b *BatchBuilder) Mint(to common.Address, amount *big.Int) {
	b.Post(JournalTypeMint, WalletKey(to, AssetPowerPerp), ExternalKey(SubTypeExternalIssuance, AssetPowerPerp), amount)
}

// Burn retires wPowerPerp held by a wallet.
func (b *BatchBuilder) Burn(from common.Address, amount *big.Int) {
	b.Post(JournalTypeBurn, ExternalKey(SubTypeExternalIssuance, AssetPowerPerp), WalletKey(from, AssetPowerPerp), amount)
}

// BurnFromCustody retires wPowerPerp the engine collected from an LP position.
func (b *BatchBuilder) BurnFromCustody(amount *big.Int) {
	b.Post(JournalTypeBurn, ExternalKey(SubTypeExternalIssuance, AssetPowerPerp), CustodyKey(b.custody, AssetPowerPerp), amount)
}

// PositionRedeem: external:positions -> system:custody, the tokens a
// decreased LP position hands back.
func (b *BatchBuilder) PositionRedeem(asset AssetID, amount *big.Int) {
	b.Post(JournalTypePositionRedeem, CustodyKey(b.custody, asset), ExternalKey(SubTypeExternalPositions, asset), amount)
}

// PositionDeposit: user:wallet -> external:positions, the tokens a
// newly minted LP position takes in.
func (b *BatchBuilder) PositionDeposit(from common.Address, asset AssetID, amount *big.Int) {
	b.Post(JournalTypePositionDeposit, ExternalKey(SubTypeExternalPositions, asset), WalletKey(from, asset), amount)
}

// Len returns the number of journals posted so far.
func (b *BatchBuilder) Len() int {
	return len(b.batch.Journals)
}

// Batch returns the accumulated batch.
func (b *BatchBuilder) Batch() *Batch {
	return b.batch
}
