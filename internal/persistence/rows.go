package persistence

import (
	"math/big"

	"PowerVault/internal/core"
	"PowerVault/internal/state"
)

// EventRow is a row in event_log.events.
type EventRow struct {
	Sequence       int64
	CommandType    string
	IdempotencyKey string
	Caller         string
	VaultID        *int64 // nil for system commands
	BlockNumber    int64
	BlockTime      int64
	SourceSequence int64
	Payload        []byte // JSON-encoded command
	StateHash      []byte
	PrevHash       []byte
}

// JournalRow is a row in event_log.journal. Amounts are wei and can exceed
// int64, so they travel as decimal strings into NUMERIC(78,0) columns.
type JournalRow struct {
	JournalID     string
	BatchID       string
	EventRef      string
	Sequence      int64
	DebitAccount  string
	CreditAccount string
	AssetID       uint16
	Amount        string
	JournalType   int32
	Timestamp     int64
}

// VaultRow is the latest persisted version of one vault.
type VaultRow struct {
	VaultID    int64
	Owner      string
	Operator   string
	Collateral string
	Short      string
	NftID      int64
	Version    int64
	Sequence   int64
}

// SystemRow is the single system_state row minus the funding columns.
type SystemRow struct {
	Owner           string
	FeeRecipient    string
	FeeRateBPS      int32
	Paused          bool
	PausesLeft      int32
	LastPauseTime   int64
	ShutDown        bool
	SettlementPrice *string
	Sequence        int64
}

// FundingRow records one normalization factor update.
type FundingRow struct {
	Step      int64
	Timestamp int64
	Factor    string
	Mark      string
	Index     string
	Sequence  int64
}

// Output is one committed command flattened into rows.
type Output struct {
	Event    EventRow
	Journals []JournalRow
	Vaults   []VaultRow
	System   *SystemRow
	Funding  *FundingRow
}

// FromCoreOutput flattens an engine output into rows.
func FromCoreOutput(out core.CoreOutput) Output {
	env := out.Envelope
	row := EventRow{
		Sequence:       env.Sequence,
		CommandType:    env.CommandType.String(),
		IdempotencyKey: env.IdempotencyKey,
		Caller:         env.Caller.Hex(),
		BlockNumber:    int64(env.Block.Number),
		BlockTime:      env.Block.Time,
		SourceSequence: int64(env.SourceSequence),
		Payload:        env.Payload,
		StateHash:      append([]byte(nil), env.StateHash[:]...),
		PrevHash:       append([]byte(nil), env.PrevHash[:]...),
	}
	if env.VaultID != 0 {
		id := int64(env.VaultID)
		row.VaultID = &id
	}

	o := Output{Event: row}

	if out.Batch != nil {
		for _, j := range out.Batch.Journals {
			o.Journals = append(o.Journals, JournalRow{
				JournalID:     j.JournalID.String(),
				BatchID:       j.BatchID.String(),
				EventRef:      j.EventRef,
				Sequence:      j.Sequence,
				DebitAccount:  j.DebitAccount.AccountPath(),
				CreditAccount: j.CreditAccount.AccountPath(),
				AssetID:       uint16(j.AssetID),
				Amount:        j.Amount.String(),
				JournalType:   int32(j.JournalType),
				Timestamp:     j.Timestamp,
			})
		}
	}

	for _, v := range out.Vaults {
		o.Vaults = append(o.Vaults, VaultRowFrom(v, env.Sequence))
	}

	if out.System != nil {
		sys := SystemRowFrom(out.System, env.Sequence)
		o.System = &sys
	}

	if out.Funding != nil {
		o.Funding = &FundingRow{
			Step:      int64(out.Funding.Step),
			Timestamp: out.Funding.Timestamp,
			Factor:    numeric(out.Funding.Factor),
			Mark:      numeric(out.Funding.Mark),
			Index:     numeric(out.Funding.Index),
			Sequence:  env.Sequence,
		}
	}

	return o
}

func VaultRowFrom(v *state.Vault, sequence int64) VaultRow {
	return VaultRow{
		VaultID:    int64(v.ID),
		Owner:      v.Owner.Hex(),
		Operator:   v.Operator.Hex(),
		Collateral: numeric(v.CollateralAmount),
		Short:      numeric(v.ShortAmount),
		NftID:      int64(v.NftCollateralID),
		Version:    v.Version,
		Sequence:   sequence,
	}
}

func SystemRowFrom(s *state.SystemState, sequence int64) SystemRow {
	row := SystemRow{
		Owner:         s.Owner.Hex(),
		FeeRecipient:  s.FeeRecipient.Hex(),
		FeeRateBPS:    int32(s.FeeRateBPS),
		Paused:        s.Paused,
		PausesLeft:    int32(s.PausesLeft),
		LastPauseTime: s.LastPauseTime,
		ShutDown:      s.ShutDown,
		Sequence:      sequence,
	}
	if s.SettlementPrice != nil {
		p := s.SettlementPrice.String()
		row.SettlementPrice = &p
	}
	return row
}

func numeric(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
