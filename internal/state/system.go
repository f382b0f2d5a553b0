package state

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// SystemStatus is the engine-wide lifecycle.
type SystemStatus int32

const (
	SystemLive SystemStatus = iota
	SystemPaused
	SystemShutDown
)

func (s SystemStatus) String() string {
	switch s {
	case SystemLive:
		return "Live"
	case SystemPaused:
		return "Paused"
	case SystemShutDown:
		return "ShutDown"
	default:
		return "Unknown"
	}
}

// CanTransitionTo validates state transitions. ShutDown is terminal.
func (s SystemStatus) CanTransitionTo(next SystemStatus) bool {
	validTransitions := map[SystemStatus][]SystemStatus{
		SystemLive:   {SystemPaused, SystemShutDown},
		SystemPaused: {SystemLive, SystemShutDown},
	}
	for _, allowed := range validTransitions[s] {
		if next == allowed {
			return true
		}
	}
	return false
}

// SystemState holds the engine-wide flags plus owner governance settings.
type SystemState struct {
	Owner           common.Address
	FeeRecipient    common.Address
	FeeRateBPS      uint32
	Paused          bool
	PausesLeft      uint32
	LastPauseTime   int64
	ShutDown        bool
	SettlementPrice *big.Int // nil until shutdown
}

func NewSystemState(owner common.Address, pauseBudget uint32) *SystemState {
	return &SystemState{
		Owner:        owner,
		FeeRecipient: owner,
		PausesLeft:   pauseBudget,
	}
}

func (s *SystemState) Status() SystemStatus {
	switch {
	case s.ShutDown:
		return SystemShutDown
	case s.Paused:
		return SystemPaused
	default:
		return SystemLive
	}
}

func (s *SystemState) IsOwner(addr common.Address) bool {
	return addr == s.Owner
}

// CanPause is true when the system is live and pause budget remains.
func (s *SystemState) CanPause() bool {
	return s.Status() == SystemLive && s.PausesLeft > 0
}

// PauseExpired reports whether anyone may lift the current pause.
func (s *SystemState) PauseExpired(now, limit int64) bool {
	return s.Paused && now > s.LastPauseTime+limit
}

func (s *SystemState) Clone() *SystemState {
	out := *s
	if s.SettlementPrice != nil {
		out.SettlementPrice = new(big.Int).Set(s.SettlementPrice)
	}
	return &out
}

// CanonicalBytes returns deterministic serialization for hashing
func (s *SystemState) CanonicalBytes() []byte {
	buf := make([]byte, 0, 96)
	buf = append(buf, s.Owner.Bytes()...)
	buf = append(buf, s.FeeRecipient.Bytes()...)
	buf = appendUint64LE(buf, uint64(s.FeeRateBPS))
	buf = appendUint64LE(buf, uint64(s.PausesLeft))
	buf = appendInt64LE(buf, s.LastPauseTime)
	var flags byte
	if s.Paused {
		flags |= 1
	}
	if s.ShutDown {
		flags |= 2
	}
	buf = append(buf, flags)
	return appendBigInt(buf, s.SettlementPrice)
}
