package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"PowerVault/internal/core"
	"PowerVault/internal/event"
	"PowerVault/internal/ledger"
	"PowerVault/internal/state"
	"PowerVault/internal/vaultlib"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// snapshotFormat v1: JSON-encoded SnapshotData, wei amounts as decimal
// strings.
const snapshotFormat = 1

// SnapshotManager stores engine snapshots and reads the event log back for
// replay.
type SnapshotManager struct {
	db *sql.DB
}

// SnapshotData is the serialized form of core.SnapshotState.
type SnapshotData struct {
	Sequence  int64  `json:"sequence"`
	StateHash []byte `json:"state_hash"`
	HeadBlock uint64 `json:"head_block"`
	HeadTime  int64  `json:"head_time"`

	Balances []BalanceSnap `json:"balances"`
	Vaults   []VaultSnap   `json:"vaults"`
	System   *SystemSnap   `json:"system,omitempty"`
	Funding  FundingSnap   `json:"funding"`

	Nonces          map[string]uint64 `json:"nonces"` // caller hex -> last nonce
	IdempotencyKeys []string          `json:"idempotency_keys"`
	CreatedAt       time.Time         `json:"created_at"`

	Positions      []PositionSnap `json:"positions,omitempty"`
	NextPositionID uint64         `json:"next_position_id,omitempty"`
}

// PositionSnap is one LP NFT held by the in-process position manager.
type PositionSnap struct {
	ID        uint64 `json:"id"`
	Owner     string `json:"owner"`
	Token0    string `json:"token0"`
	Token1    string `json:"token1"`
	TickLower int32  `json:"tick_lower"`
	TickUpper int32  `json:"tick_upper"`
	Liquidity string `json:"liquidity"`
	Owed0     string `json:"owed0"`
	Owed1     string `json:"owed1"`
}

type BalanceSnap struct {
	Scope   uint8  `json:"scope"`
	Holder  string `json:"holder,omitempty"`
	SubType uint8  `json:"sub_type"`
	Asset   uint16 `json:"asset"`
	Amount  string `json:"amount"`
}

type VaultSnap struct {
	ID         uint64 `json:"id"`
	Owner      string `json:"owner"`
	Operator   string `json:"operator"`
	Collateral string `json:"collateral"`
	Short      string `json:"short"`
	NftID      uint64 `json:"nft_id"`
	Version    int64  `json:"version"`
}

type SystemSnap struct {
	Owner           string `json:"owner"`
	FeeRecipient    string `json:"fee_recipient"`
	FeeRateBPS      uint32 `json:"fee_rate_bps"`
	Paused          bool   `json:"paused"`
	PausesLeft      uint32 `json:"pauses_left"`
	LastPauseTime   int64  `json:"last_pause_time"`
	ShutDown        bool   `json:"shut_down"`
	SettlementPrice string `json:"settlement_price,omitempty"`
}

type FundingSnap struct {
	Factor        string `json:"factor"`
	LastStep      uint64 `json:"last_step"`
	LastTimestamp int64  `json:"last_timestamp"`
	Frozen        bool   `json:"frozen"`
}

// NewSnapshotData serializes an engine snapshot.
func NewSnapshotData(s *core.SnapshotState, createdAt time.Time) *SnapshotData {
	d := &SnapshotData{
		Sequence:        s.Sequence,
		StateHash:       append([]byte(nil), s.StateHash[:]...),
		HeadBlock:       s.Head.Number,
		HeadTime:        s.Head.Time,
		Balances:        make([]BalanceSnap, 0, len(s.Balances)),
		Vaults:          make([]VaultSnap, 0, len(s.Vaults)),
		Nonces:          make(map[string]uint64, len(s.Nonces)),
		IdempotencyKeys: s.IdempotencyKeys,
		CreatedAt:       createdAt,
		NextPositionID:  s.NextPositionID,
		Funding: FundingSnap{
			Factor:        numeric(s.Factor),
			LastStep:      s.LastStep,
			LastTimestamp: s.LastTimestamp,
			Frozen:        s.Frozen,
		},
	}

	for key, bal := range s.Balances {
		b := BalanceSnap{
			Scope:   uint8(key.Scope),
			SubType: uint8(key.SubType),
			Asset:   uint16(key.AssetID),
			Amount:  bal.String(),
		}
		if key.Holder != (common.Address{}) {
			b.Holder = key.Holder.Hex()
		}
		d.Balances = append(d.Balances, b)
	}

	for _, v := range s.Vaults {
		d.Vaults = append(d.Vaults, VaultSnap{
			ID:         v.ID,
			Owner:      v.Owner.Hex(),
			Operator:   v.Operator.Hex(),
			Collateral: numeric(v.CollateralAmount),
			Short:      numeric(v.ShortAmount),
			NftID:      v.NftCollateralID,
			Version:    v.Version,
		})
	}

	if s.System != nil {
		sys := &SystemSnap{
			Owner:         s.System.Owner.Hex(),
			FeeRecipient:  s.System.FeeRecipient.Hex(),
			FeeRateBPS:    s.System.FeeRateBPS,
			Paused:        s.System.Paused,
			PausesLeft:    s.System.PausesLeft,
			LastPauseTime: s.System.LastPauseTime,
			ShutDown:      s.System.ShutDown,
		}
		if s.System.SettlementPrice != nil {
			sys.SettlementPrice = s.System.SettlementPrice.String()
		}
		d.System = sys
	}

	for caller, nonce := range s.Nonces {
		d.Nonces[caller.Hex()] = nonce
	}

	for _, p := range s.Positions {
		d.Positions = append(d.Positions, PositionSnap{
			ID:        p.ID,
			Owner:     p.Owner.Hex(),
			Token0:    p.Position.Token0.Hex(),
			Token1:    p.Position.Token1.Hex(),
			TickLower: p.Position.TickLower,
			TickUpper: p.Position.TickUpper,
			Liquidity: u256String(p.Position.Liquidity),
			Owed0:     u256String(p.Position.TokensOwed0),
			Owed1:     u256String(p.Position.TokensOwed1),
		})
	}

	return d
}

// ToCore rebuilds the engine snapshot.
func (d *SnapshotData) ToCore() (*core.SnapshotState, error) {
	s := &core.SnapshotState{
		Sequence:        d.Sequence,
		Head:            event.Block{Number: d.HeadBlock, Time: d.HeadTime},
		Balances:        make(map[ledger.AccountKey]*big.Int, len(d.Balances)),
		Vaults:          make([]*state.Vault, 0, len(d.Vaults)),
		LastStep:        d.Funding.LastStep,
		LastTimestamp:   d.Funding.LastTimestamp,
		Frozen:          d.Funding.Frozen,
		Nonces:          make(map[common.Address]uint64, len(d.Nonces)),
		IdempotencyKeys: d.IdempotencyKeys,
		NextPositionID:  d.NextPositionID,
	}
	if len(d.StateHash) != len(s.StateHash) {
		return nil, fmt.Errorf("snapshot %d: state hash has %d bytes", d.Sequence, len(d.StateHash))
	}
	copy(s.StateHash[:], d.StateHash)

	for _, b := range d.Balances {
		amount, err := parseAmount(b.Amount)
		if err != nil {
			return nil, fmt.Errorf("balance: %w", err)
		}
		key := ledger.AccountKey{
			Scope:   ledger.AccountScope(b.Scope),
			SubType: ledger.AccountSubType(b.SubType),
			AssetID: ledger.AssetID(b.Asset),
		}
		if b.Holder != "" {
			key.Holder = common.HexToAddress(b.Holder)
		}
		s.Balances[key] = amount
	}

	for _, vs := range d.Vaults {
		collateral, err := parseAmount(vs.Collateral)
		if err != nil {
			return nil, fmt.Errorf("vault %d collateral: %w", vs.ID, err)
		}
		short, err := parseAmount(vs.Short)
		if err != nil {
			return nil, fmt.Errorf("vault %d short: %w", vs.ID, err)
		}
		s.Vaults = append(s.Vaults, &state.Vault{
			ID:               vs.ID,
			Owner:            common.HexToAddress(vs.Owner),
			Operator:         common.HexToAddress(vs.Operator),
			CollateralAmount: collateral,
			ShortAmount:      short,
			NftCollateralID:  vs.NftID,
			Version:          vs.Version,
		})
	}

	if d.System != nil {
		sys := &state.SystemState{
			Owner:         common.HexToAddress(d.System.Owner),
			FeeRecipient:  common.HexToAddress(d.System.FeeRecipient),
			FeeRateBPS:    d.System.FeeRateBPS,
			Paused:        d.System.Paused,
			PausesLeft:    d.System.PausesLeft,
			LastPauseTime: d.System.LastPauseTime,
			ShutDown:      d.System.ShutDown,
		}
		if d.System.SettlementPrice != "" {
			price, err := parseAmount(d.System.SettlementPrice)
			if err != nil {
				return nil, fmt.Errorf("settlement price: %w", err)
			}
			sys.SettlementPrice = price
		}
		s.System = sys
	}

	factor, err := parseAmount(d.Funding.Factor)
	if err != nil {
		return nil, fmt.Errorf("normalization factor: %w", err)
	}
	s.Factor = factor

	for caller, nonce := range d.Nonces {
		s.Nonces[common.HexToAddress(caller)] = nonce
	}

	for _, ps := range d.Positions {
		pos, err := ps.toPosition()
		if err != nil {
			return nil, fmt.Errorf("position %d: %w", ps.ID, err)
		}
		s.Positions = append(s.Positions, vaultlib.OwnedPosition{
			ID:       ps.ID,
			Owner:    common.HexToAddress(ps.Owner),
			Position: pos,
		})
	}

	return s, nil
}

func (ps PositionSnap) toPosition() (vaultlib.Position, error) {
	liquidity, err := uint256.FromDecimal(ps.Liquidity)
	if err != nil {
		return vaultlib.Position{}, fmt.Errorf("liquidity: %w", err)
	}
	owed0, err := uint256.FromDecimal(ps.Owed0)
	if err != nil {
		return vaultlib.Position{}, fmt.Errorf("owed0: %w", err)
	}
	owed1, err := uint256.FromDecimal(ps.Owed1)
	if err != nil {
		return vaultlib.Position{}, fmt.Errorf("owed1: %w", err)
	}
	return vaultlib.Position{
		Token0:      common.HexToAddress(ps.Token0),
		Token1:      common.HexToAddress(ps.Token1),
		TickLower:   ps.TickLower,
		TickUpper:   ps.TickUpper,
		Liquidity:   liquidity,
		TokensOwed0: owed0,
		TokensOwed1: owed1,
	}, nil
}

func u256String(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

func parseAmount(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	return v, nil
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// SaveSnapshot persists a snapshot. It starts unverified; MarkVerified
// flips it once the caller has checked it.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *SnapshotData) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO event_log.snapshots
			(snapshot_id, sequence, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $6
	`, uuid.New(), snap.Sequence, data, snap.StateHash, snapshotFormat, len(data), snap.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// LoadLatestSnapshot loads the newest verified snapshot, or nil on a cold
// start.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*SnapshotData, error) {
	var data []byte
	err := sm.db.QueryRowContext(ctx, `
		SELECT data FROM event_log.snapshots
		WHERE verified = TRUE
		ORDER BY sequence DESC
		LIMIT 1
	`).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap SnapshotData
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

func (sm *SnapshotManager) MarkVerified(ctx context.Context, sequence int64) error {
	_, err := sm.db.ExecContext(ctx, `
		UPDATE event_log.snapshots SET verified = TRUE WHERE sequence = $1
	`, sequence)
	return err
}

// LoadEventsFrom reads up to limit envelopes starting at fromSequence.
func (sm *SnapshotManager) LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]EventRow, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, command_type, idempotency_key, caller, vault_id, block_number,
		       block_time, source_sequence, payload, state_hash, prev_hash
		FROM event_log.events
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		var (
			e       EventRow
			vaultID sql.NullInt64
		)
		if err := rows.Scan(
			&e.Sequence, &e.CommandType, &e.IdempotencyKey, &e.Caller, &vaultID, &e.BlockNumber,
			&e.BlockTime, &e.SourceSequence, &e.Payload, &e.StateHash, &e.PrevHash,
		); err != nil {
			return nil, err
		}
		if vaultID.Valid {
			id := vaultID.Int64
			e.VaultID = &id
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// GetLatestSequence returns the highest logged sequence, 0 when empty.
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := sm.db.QueryRowContext(ctx, `SELECT MAX(sequence) FROM event_log.events`).Scan(&seq); err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil
	}
	return seq.Int64, nil
}
