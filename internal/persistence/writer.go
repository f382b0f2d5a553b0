package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Execer is satisfied by *sql.DB and *sql.Tx so every write can join the
// worker's batch transaction.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// EventLogWriter writes envelopes, journals and the vault/system read
// models using multi-row INSERTs. Every statement is idempotent so a batch
// retried after a partial failure converges to the same rows.
type EventLogWriter struct {
	db *sql.DB
}

func NewEventLogWriter(db *sql.DB) *EventLogWriter {
	return &EventLogWriter{db: db}
}

// placeholders renders ($1, $2, ...), ($n+1, ...) for rows of width cols.
func placeholders(rows, cols int) string {
	var sb strings.Builder
	for r := 0; r < rows; r++ {
		if r > 0 {
			sb.WriteString(", ")
		}
		sb.WriteByte('(')
		for c := 0; c < cols; c++ {
			if c > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", r*cols+c+1)
		}
		sb.WriteByte(')')
	}
	return sb.String()
}

// WriteEventBatch writes envelopes to event_log.events.
func (w *EventLogWriter) WriteEventBatch(ctx context.Context, ex Execer, events []EventRow) error {
	if len(events) == 0 {
		return nil
	}

	const cols = 11
	args := make([]any, 0, len(events)*cols)
	for _, e := range events {
		args = append(args,
			e.Sequence, e.CommandType, e.IdempotencyKey, e.Caller, e.VaultID,
			e.BlockNumber, e.BlockTime, e.SourceSequence, e.Payload, e.StateHash, e.PrevHash,
		)
	}

	query := `INSERT INTO event_log.events
		(sequence, command_type, idempotency_key, caller, vault_id, block_number, block_time, source_sequence, payload, state_hash, prev_hash)
		VALUES ` + placeholders(len(events), cols) + `
		ON CONFLICT (sequence) DO NOTHING`

	if _, err := ex.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert events: %w", err)
	}
	return nil
}

// WriteJournalBatch writes journal entries to event_log.journal.
func (w *EventLogWriter) WriteJournalBatch(ctx context.Context, ex Execer, journals []JournalRow) error {
	if len(journals) == 0 {
		return nil
	}

	const cols = 10
	args := make([]any, 0, len(journals)*cols)
	for _, j := range journals {
		args = append(args,
			j.JournalID, j.BatchID, j.EventRef, j.Sequence,
			j.DebitAccount, j.CreditAccount, int32(j.AssetID), j.Amount,
			j.JournalType, j.Timestamp,
		)
	}

	query := `INSERT INTO event_log.journal
		(journal_id, batch_id, event_ref, sequence, debit_account, credit_account, asset_id, amount, journal_type, timestamp)
		VALUES ` + placeholders(len(journals), cols) + `
		ON CONFLICT (journal_id) DO NOTHING`

	if _, err := ex.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert journals: %w", err)
	}
	return nil
}

// UpsertVaults stores the latest version of each vault. Older versions never
// overwrite newer ones, so replays and retries are harmless.
func (w *EventLogWriter) UpsertVaults(ctx context.Context, ex Execer, vaults []VaultRow) error {
	if len(vaults) == 0 {
		return nil
	}

	const cols = 8
	args := make([]any, 0, len(vaults)*cols)
	for _, v := range vaults {
		args = append(args,
			v.VaultID, v.Owner, v.Operator, v.Collateral, v.Short, v.NftID, v.Version, v.Sequence,
		)
	}

	query := `INSERT INTO state.vaults
		(vault_id, owner, operator, collateral_amount, short_amount, nft_collateral_id, version, last_sequence)
		VALUES ` + placeholders(len(vaults), cols) + `
		ON CONFLICT (vault_id) DO UPDATE SET
			owner = EXCLUDED.owner,
			operator = EXCLUDED.operator,
			collateral_amount = EXCLUDED.collateral_amount,
			short_amount = EXCLUDED.short_amount,
			nft_collateral_id = EXCLUDED.nft_collateral_id,
			version = EXCLUDED.version,
			last_sequence = EXCLUDED.last_sequence
		WHERE state.vaults.version < EXCLUDED.version`

	if _, err := ex.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert vaults: %w", err)
	}
	return nil
}

// UpsertSystemState writes the governance flags of the single system row.
func (w *EventLogWriter) UpsertSystemState(ctx context.Context, ex Execer, s SystemRow) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO state.system_state
			(id, owner, fee_recipient, fee_rate_bps, paused, pauses_left, last_pause_time, shut_down, settlement_price, last_sequence)
		VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			owner = EXCLUDED.owner,
			fee_recipient = EXCLUDED.fee_recipient,
			fee_rate_bps = EXCLUDED.fee_rate_bps,
			paused = EXCLUDED.paused,
			pauses_left = EXCLUDED.pauses_left,
			last_pause_time = EXCLUDED.last_pause_time,
			shut_down = EXCLUDED.shut_down,
			settlement_price = EXCLUDED.settlement_price,
			last_sequence = EXCLUDED.last_sequence
		WHERE state.system_state.last_sequence <= EXCLUDED.last_sequence
	`, s.Owner, s.FeeRecipient, s.FeeRateBPS, s.Paused, s.PausesLeft, s.LastPauseTime, s.ShutDown, s.SettlementPrice, s.Sequence)
	if err != nil {
		return fmt.Errorf("upsert system state: %w", err)
	}
	return nil
}

// UpdateFunding writes the normalization factor columns of the system row.
func (w *EventLogWriter) UpdateFunding(ctx context.Context, ex Execer, f FundingRow) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO state.system_state (id, normalization_factor, last_step, last_funding_time, funding_sequence)
		VALUES (1, $1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			normalization_factor = EXCLUDED.normalization_factor,
			last_step = EXCLUDED.last_step,
			last_funding_time = EXCLUDED.last_funding_time,
			funding_sequence = EXCLUDED.funding_sequence
		WHERE state.system_state.funding_sequence <= EXCLUDED.funding_sequence
	`, f.Factor, f.Step, f.Timestamp, f.Sequence)
	if err != nil {
		return fmt.Errorf("update funding: %w", err)
	}
	return nil
}
