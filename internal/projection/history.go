package projection

import (
	"math/big"
	"sync"
)

// FactorPoint is one normalization factor update.
type FactorPoint struct {
	Sequence  int64
	Step      uint64
	Timestamp int64
	Factor    *big.Int
	Mark      *big.Int
	Index     *big.Int
}

// NormalizationHistory keeps the most recent factor updates in memory for
// cheap reads. The full history lives in projections.normalization_history.
type NormalizationHistory struct {
	mu       sync.RWMutex
	points   []FactorPoint
	capacity int
}

func NewNormalizationHistory(capacity int) *NormalizationHistory {
	if capacity <= 0 {
		capacity = 1
	}
	return &NormalizationHistory{
		points:   make([]FactorPoint, 0, capacity),
		capacity: capacity,
	}
}

// Add appends p, dropping the oldest point when full. Points at or below
// the newest stored sequence are ignored (replays).
func (h *NormalizationHistory) Add(p FactorPoint) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if n := len(h.points); n > 0 && p.Sequence <= h.points[n-1].Sequence {
		return
	}
	if len(h.points) == h.capacity {
		copy(h.points, h.points[1:])
		h.points = h.points[:len(h.points)-1]
	}
	h.points = append(h.points, p)
}

// Recent returns up to limit points, newest first.
func (h *NormalizationHistory) Recent(limit int) []FactorPoint {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if limit <= 0 || limit > len(h.points) {
		limit = len(h.points)
	}
	out := make([]FactorPoint, 0, limit)
	for i := len(h.points) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, h.points[i])
	}
	return out
}

// Since returns every point with Timestamp >= ts, oldest first.
func (h *NormalizationHistory) Since(ts int64) []FactorPoint {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []FactorPoint
	for _, p := range h.points {
		if p.Timestamp >= ts {
			out = append(out, p)
		}
	}
	return out
}

func (h *NormalizationHistory) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.points)
}
