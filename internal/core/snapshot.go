package core

import (
	"math/big"

	"PowerVault/internal/event"
	"PowerVault/internal/ledger"
	"PowerVault/internal/state"
	"PowerVault/internal/vaultlib"

	"github.com/ethereum/go-ethereum/common"
)

// SnapshotState is the in-memory state needed to resume without replaying
// the whole log.
type SnapshotState struct {
	Sequence  int64 // last processed sequence
	StateHash [32]byte
	Head      event.Block

	Balances map[ledger.AccountKey]*big.Int
	Vaults   []*state.Vault
	System   *state.SystemState

	Factor        *big.Int
	LastStep      uint64
	LastTimestamp int64
	Frozen        bool

	Nonces          map[common.Address]uint64
	IdempotencyKeys []string

	// Set when the position manager keeps its records in process.
	Positions      []vaultlib.OwnedPosition
	NextPositionID uint64
}

// CreateSnapshotState captures the current state for persistence.
func (e *Engine) CreateSnapshotState() *SnapshotState {
	e.mu.RLock()
	defer e.mu.RUnlock()

	stored := e.vaults.All()
	vaults := make([]*state.Vault, len(stored))
	for i, v := range stored {
		vaults[i] = v.Clone()
	}
	snap := &SnapshotState{
		Sequence:        e.sequence - 1,
		StateHash:       e.chain.Tip(),
		Head:            e.head,
		Balances:        e.balances.Snapshot(),
		Vaults:          vaults,
		System:          e.system.Clone(),
		Factor:          e.funding.Factor(),
		LastStep:        e.funding.LastStep(),
		LastTimestamp:   e.funding.LastTimestamp(),
		Frozen:          e.funding.Frozen(),
		Nonces:          e.nonces.All(),
		IdempotencyKeys: e.idempotency.lru.Keys(),
	}
	if rec, ok := e.positions.(PositionRecorder); ok {
		snap.Positions, snap.NextPositionID = rec.Records()
	}
	return snap
}

// RestoreFromSnapshot replaces the in-memory state. Events after
// snap.Sequence are replayed by the caller.
func (e *Engine) RestoreFromSnapshot(snap *SnapshotState) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.sequence = snap.Sequence + 1
	e.head = snap.Head
	e.chain.Reset(snap.StateHash)

	e.balances = ledger.NewBalanceTracker()
	for key, bal := range snap.Balances {
		e.balances.SetBalance(key, bal)
	}
	e.validator = ledger.NewInvariantValidator(e.balances)

	e.vaults = state.NewVaultStore()
	e.vaults.Restore(snap.Vaults)
	e.totalCollateral = new(big.Int)
	for _, v := range e.vaults.All() {
		e.totalCollateral.Add(e.totalCollateral, v.CollateralAmount)
	}

	if snap.System != nil {
		e.system = snap.System.Clone()
	}
	if snap.Factor != nil {
		e.funding.Restore(snap.Factor, snap.LastStep, snap.LastTimestamp, snap.Frozen)
	}

	e.nonces = NewNonceValidator()
	for caller, nonce := range snap.Nonces {
		e.nonces.Restore(caller, nonce)
	}
	e.idempotency.lru.WarmFromKeys(snap.IdempotencyKeys)

	if rec, ok := e.positions.(PositionRecorder); ok && snap.NextPositionID > 0 {
		rec.Restore(snap.Positions, snap.NextPositionID)
	}
}
