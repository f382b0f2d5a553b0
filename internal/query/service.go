package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrNotFound   = errors.New("query: not found")
	ErrBadRequest = errors.New("query: bad request")
)

const maxPageSize = 500

// QueryService provides read-only access to the committed state tables
// and the projections. Responses carry as_of_sequence, the projection
// watermark, so callers can tell how fresh the read models are.
type QueryService struct {
	db *sql.DB
}

func NewQueryService(db *sql.DB) *QueryService {
	return &QueryService{db: db}
}

// GetVault returns the persisted state of one vault.
func (qs *QueryService) GetVault(ctx context.Context, vaultID uint64) (*VaultResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	var (
		v                 VaultResponse
		collateral, short string
		nft               int64
	)
	err = qs.db.QueryRowContext(ctx, `
		SELECT owner, operator, collateral_amount::text, short_amount::text,
		       nft_collateral_id, version, last_sequence
		FROM state.vaults WHERE vault_id = $1
	`, int64(vaultID)).Scan(&v.Owner, &v.Operator, &collateral, &short, &nft, &v.Version, &v.LastSequence)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("vault %d: %w", vaultID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	v.VaultID = vaultID
	v.Collateral = NewAmount(collateral)
	v.Short = NewAmount(short)
	v.NftCollateralID = uint64(nft)
	v.AsOfSequence = asOfSeq
	return &v, nil
}

// GetVaultsByOwner lists an owner's vaults in id order.
func (qs *QueryService) GetVaultsByOwner(ctx context.Context, owner common.Address) ([]VaultResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT vault_id, owner, operator, collateral_amount::text, short_amount::text,
		       nft_collateral_id, version, last_sequence
		FROM state.vaults
		WHERE owner = $1
		ORDER BY vault_id
	`, owner.Hex())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	vaults := []VaultResponse{}
	for rows.Next() {
		var (
			v                 VaultResponse
			id, nft           int64
			collateral, short string
		)
		if err := rows.Scan(&id, &v.Owner, &v.Operator, &collateral, &short, &nft, &v.Version, &v.LastSequence); err != nil {
			return nil, err
		}
		v.VaultID = uint64(id)
		v.Collateral = NewAmount(collateral)
		v.Short = NewAmount(short)
		v.NftCollateralID = uint64(nft)
		v.AsOfSequence = asOfSeq
		vaults = append(vaults, v)
	}
	return vaults, rows.Err()
}

// GetVaultActivity pages a vault's history newest first. A non-nil
// beforeSequence is the cursor from the previous page.
func (qs *QueryService) GetVaultActivity(
	ctx context.Context,
	vaultID uint64,
	limit int,
	beforeSequence *int64,
) ([]VaultActivityEntry, error) {
	query := `
		SELECT sequence, command_type, caller, collateral::text, short::text, nft_id, block_time
		FROM projections.vault_activity
		WHERE vault_id = $1
	`
	args := []interface{}{int64(vaultID)}
	argIdx := 2

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, clampLimit(limit))

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []VaultActivityEntry{}
	for rows.Next() {
		var (
			e                 VaultActivityEntry
			collateral, short string
			nft               int64
		)
		if err := rows.Scan(&e.Sequence, &e.CommandType, &e.Caller, &collateral, &short, &nft, &e.BlockTime); err != nil {
			return nil, err
		}
		e.VaultID = vaultID
		e.Collateral = NewAmount(collateral)
		e.Short = NewAmount(short)
		e.NftID = uint64(nft)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// GetNormalizationHistory pages applied funding steps newest first.
func (qs *QueryService) GetNormalizationHistory(ctx context.Context, limit int, beforeSequence *int64) ([]NormalizationPoint, error) {
	query := `
		SELECT sequence, step, timestamp, factor::text, mark::text, index::text
		FROM projections.normalization_history
	`
	var args []interface{}
	argIdx := 1

	if beforeSequence != nil {
		query += fmt.Sprintf(" WHERE sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, clampLimit(limit))

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	points := []NormalizationPoint{}
	for rows.Next() {
		var (
			p                   NormalizationPoint
			step                int64
			factor, mark, index string
		)
		if err := rows.Scan(&p.Sequence, &step, &p.Timestamp, &factor, &mark, &index); err != nil {
			return nil, err
		}
		p.Step = uint64(step)
		p.Factor = NewAmount(factor)
		p.Mark = NewAmount(mark)
		p.Index = NewAmount(index)
		points = append(points, p)
	}
	return points, rows.Err()
}

// GetSystemState returns the persisted system row. Before the first
// command commits there is no row and ErrNotFound is returned.
func (qs *QueryService) GetSystemState(ctx context.Context) (*SystemResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	var (
		s          SystemResponse
		settlement sql.NullString
		factor     string
	)
	err = qs.db.QueryRowContext(ctx, `
		SELECT owner, fee_recipient, fee_rate_bps, paused, pauses_left, last_pause_time,
		       shut_down, settlement_price::text, normalization_factor::text,
		       last_step, last_funding_time, last_sequence
		FROM state.system_state WHERE id = 1
	`).Scan(
		&s.Owner, &s.FeeRecipient, &s.FeeRateBPS, &s.Paused, &s.PausesLeft, &s.LastPauseTime,
		&s.ShutDown, &settlement, &factor, &s.LastStep, &s.LastFundingTime, &s.LastSequence,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("system state: %w", ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	if settlement.Valid {
		a := NewAmount(settlement.String)
		s.SettlementPrice = &a
	}
	s.NormalizationFactor = NewAmount(factor)
	s.AsOfSequence = asOfSeq
	return &s, nil
}

// GetJournalHistory returns the journal entries touching holder's
// accounts, newest first.
func (qs *QueryService) GetJournalHistory(
	ctx context.Context,
	holder common.Address,
	limit int,
	afterSequence *int64,
) ([]JournalHistoryEntry, error) {
	accountPrefix := fmt.Sprintf("user:%s:%%", holder.Hex())

	query := `
		SELECT journal_id, batch_id, event_ref, sequence,
		       debit_account, credit_account, asset_id, amount::text, journal_type, timestamp
		FROM event_log.journal
		WHERE (debit_account LIKE $1 OR credit_account LIKE $1)
	`
	args := []interface{}{accountPrefix}
	argIdx := 2

	if afterSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *afterSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, clampLimit(limit))

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []JournalHistoryEntry{}
	for rows.Next() {
		var (
			e      JournalHistoryEntry
			amount string
		)
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &e.AssetID, &amount,
			&e.JournalType, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		e.Amount = NewAmount(amount)
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks hash chain continuity and that every asset's
// projected balances sum to zero.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT e1.sequence
		FROM event_log.events e1
		JOIN event_log.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.prev_hash <> e2.state_hash
		ORDER BY e1.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	balanceRows, err := qs.db.QueryContext(ctx, `
		SELECT asset_id, SUM(balance)::text AS total
		FROM projections.balances
		GROUP BY asset_id
		HAVING SUM(balance) <> 0
	`)
	if err != nil {
		return nil, err
	}
	defer balanceRows.Close()

	for balanceRows.Next() {
		var (
			assetID uint16
			total   string
		)
		if err := balanceRows.Scan(&assetID, &total); err != nil {
			return nil, err
		}
		report.UnbalancedAssets = append(report.UnbalancedAssets, UnbalancedAsset{
			AssetID:   assetID,
			Imbalance: total,
		})
	}
	if err := balanceRows.Err(); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && len(report.UnbalancedAssets) == 0
	return report, nil
}

// --- helpers ---

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT last_sequence FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return seq, err
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > maxPageSize {
		return maxPageSize
	}
	return limit
}
