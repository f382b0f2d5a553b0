package projection

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"sync/atomic"

	"PowerVault/internal/core"
	"PowerVault/internal/observability"

	"github.com/rs/zerolog"
)

// ProjectionWorker maintains the read models from committed outputs. The
// projection channel is fed with a non-blocking send, so the worker may
// miss outputs under load; RebuildProjections restores the balance table
// from the journal.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan core.CoreOutput
	history   *NormalizationHistory
	metrics   *observability.Metrics
	log       zerolog.Logger
	lastSeq   atomic.Int64
}

func NewProjectionWorker(
	db *sql.DB,
	inputChan <-chan core.CoreOutput,
	history *NormalizationHistory,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		history:   history,
		metrics:   metrics,
		log:       logger,
	}
}

func (pw *ProjectionWorker) LastSequence() int64 {
	return pw.lastSeq.Load()
}

// LoadWatermark resumes from the persisted watermark. Outputs at or below
// it (a startup replay) only refill the in-memory history.
func (pw *ProjectionWorker) LoadWatermark(ctx context.Context) error {
	var seq int64
	err := pw.db.QueryRowContext(ctx, `
		SELECT last_sequence FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load watermark: %w", err)
	}
	pw.lastSeq.Store(seq)
	return nil
}

func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}
			if pw.metrics != nil {
				pw.metrics.SetChannelMetrics("projection", len(pw.inputChan))
			}

			if output.Envelope.Sequence <= pw.lastSeq.Load() {
				pw.remember(output)
				continue
			}
			if err := pw.Apply(ctx, output); err != nil {
				// eventually consistent; a rebuild catches up
				pw.log.Warn().Err(err).Int64("sequence", output.Envelope.Sequence).Msg("projection update failed")
				continue
			}
			pw.lastSeq.Store(output.Envelope.Sequence)
		}
	}
}

// Apply projects one output in a single transaction.
func (pw *ProjectionWorker) Apply(ctx context.Context, out core.CoreOutput) error {
	seq := out.Envelope.Sequence

	pw.remember(out)
	if pw.db == nil {
		return nil
	}

	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if out.Batch != nil {
		for _, j := range out.Batch.Journals {
			if err := updateBalance(ctx, tx, j.DebitAccount.AccountPath(), int32(j.AssetID), j.Amount.String(), seq); err != nil {
				return fmt.Errorf("debit projection: %w", err)
			}
			if err := updateBalance(ctx, tx, j.CreditAccount.AccountPath(), int32(j.AssetID), "-"+j.Amount.String(), seq); err != nil {
				return fmt.Errorf("credit projection: %w", err)
			}
		}
	}

	for _, v := range out.Vaults {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.vault_activity
				(sequence, vault_id, command_type, caller, collateral, short, nft_id, block_time)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (sequence, vault_id) DO NOTHING
		`, seq, int64(v.ID), out.Envelope.CommandType.String(), out.Envelope.Caller.Hex(),
			v.CollateralAmount.String(), v.ShortAmount.String(), int64(v.NftCollateralID), out.Envelope.Block.Time,
		); err != nil {
			return fmt.Errorf("vault activity: %w", err)
		}
	}

	if f := out.Funding; f != nil {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.normalization_history (sequence, step, timestamp, factor, mark, index)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (sequence) DO NOTHING
		`, seq, int64(f.Step), f.Timestamp, f.Factor.String(), numeric(f.Mark), numeric(f.Index)); err != nil {
			return fmt.Errorf("normalization history: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ('main', $1, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $1, updated_at = NOW()
	`, seq); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

func (pw *ProjectionWorker) remember(out core.CoreOutput) {
	if out.Funding == nil || pw.history == nil {
		return
	}
	pw.history.Add(FactorPoint{
		Sequence:  out.Envelope.Sequence,
		Step:      out.Funding.Step,
		Timestamp: out.Funding.Timestamp,
		Factor:    out.Funding.Factor,
		Mark:      out.Funding.Mark,
		Index:     out.Funding.Index,
	})
}

// updateBalance adds delta (a signed decimal string) to one account.
// The ledger's debit side is the account whose balance increases.
func updateBalance(ctx context.Context, tx *sql.Tx, account string, asset int32, delta string, seq int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		VALUES ($1, $2, $3::numeric, $4)
		ON CONFLICT (account_path, asset_id)
		DO UPDATE SET balance = projections.balances.balance + $3::numeric, last_sequence = $4
	`, account, asset, delta, seq)
	return err
}

// RebuildProjections recomputes the balance projection from the journal.
// Vault activity and factor history are append-only and keep their rows.
func RebuildProjections(ctx context.Context, db *sql.DB, logger zerolog.Logger) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `TRUNCATE projections.balances`); err != nil {
		return fmt.Errorf("truncate balances: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		SELECT account_path, asset_id, SUM(delta), MAX(sequence)
		FROM (
			SELECT debit_account AS account_path, asset_id, amount AS delta, sequence FROM event_log.journal
			UNION ALL
			SELECT credit_account AS account_path, asset_id, -amount AS delta, sequence FROM event_log.journal
		) moves
		GROUP BY account_path, asset_id
	`); err != nil {
		return fmt.Errorf("rebuild balances: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		SELECT 'main', COALESCE(MAX(sequence), 0), NOW() FROM event_log.events
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = EXCLUDED.last_sequence, updated_at = NOW()
	`); err != nil {
		return fmt.Errorf("reset watermark: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	logger.Info().Msg("projection rebuild complete")
	return nil
}

func numeric(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
