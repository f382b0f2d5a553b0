package state

import (
	"math/big"

	fpmath "PowerVault/internal/math"
)

// FundingSnapshot records one applied normalization factor update.
type FundingSnapshot struct {
	Step      uint64
	Timestamp int64
	Factor    *big.Int
	Mark      *big.Int
	Index     *big.Int
}

// FundingManager owns the normalization factor. The factor only moves through
// Apply, at most once per step (block number).
type FundingManager struct {
	factor        *big.Int
	lastStep      uint64
	lastTimestamp int64
	frozen        bool
	last          *FundingSnapshot
}

// NewFundingManager starts the factor at 1.0 with genesisTime as the
// reference point for the first elapsed-time computation.
func NewFundingManager(genesisTime int64) *FundingManager {
	return &FundingManager{
		factor:        new(big.Int).Set(fpmath.Wad),
		lastTimestamp: genesisTime,
	}
}

// Factor returns a copy of the current normalization factor.
func (fm *FundingManager) Factor() *big.Int {
	return new(big.Int).Set(fm.factor)
}

func (fm *FundingManager) LastStep() uint64 {
	return fm.lastStep
}

func (fm *FundingManager) LastTimestamp() int64 {
	return fm.lastTimestamp
}

func (fm *FundingManager) Frozen() bool {
	return fm.frozen
}

func (fm *FundingManager) LastSnapshot() (*FundingSnapshot, bool) {
	return fm.last, fm.last != nil
}

// ShouldApply reports whether funding still needs to run for step.
// Steps at or below the last applied step are duplicates (idempotent).
func (fm *FundingManager) ShouldApply(step uint64, timestamp int64) bool {
	if fm.frozen {
		return false
	}
	if step <= fm.lastStep && fm.lastStep != 0 {
		return false
	}
	return timestamp > fm.lastTimestamp
}

// Elapsed returns the seconds since the last update, floored at zero.
func (fm *FundingManager) Elapsed(timestamp int64) int64 {
	if timestamp <= fm.lastTimestamp {
		return 0
	}
	return timestamp - fm.lastTimestamp
}

// Apply stores the new factor for step.
func (fm *FundingManager) Apply(snap *FundingSnapshot) {
	fm.factor = new(big.Int).Set(snap.Factor)
	fm.lastStep = snap.Step
	fm.lastTimestamp = snap.Timestamp
	fm.last = snap
}

// Freeze stops all further updates (system shutdown).
func (fm *FundingManager) Freeze() {
	fm.frozen = true
}

// Restore directly sets the versioned value (used for snapshot restore)
func (fm *FundingManager) Restore(factor *big.Int, lastStep uint64, lastTimestamp int64, frozen bool) {
	fm.factor = new(big.Int).Set(factor)
	fm.lastStep = lastStep
	fm.lastTimestamp = lastTimestamp
	fm.frozen = frozen
	fm.last = nil
}
