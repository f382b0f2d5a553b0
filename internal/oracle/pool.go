package oracle

import (
	"fmt"
	"sort"
	"sync"

	fpmath "PowerVault/internal/math"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Token identifies one side of a pool.
type Token struct {
	Address  common.Address
	Decimals uint8
}

// Observation is one entry of a pool's cumulative tick log.
type Observation struct {
	Timestamp      int64
	TickCumulative int64
}

// Pool is the price-source collaborator the oracle reads from.
type Pool interface {
	Token0() common.Address
	Token1() common.Address
	Slot0() (sqrtPriceX96 *uint256.Int, tick int32)
	// ObservationsSince returns the stored log from the newest observation at
	// or before ts onward, oldest first. When history does not reach back to
	// ts the whole log is returned.
	ObservationsSince(ts int64) ([]Observation, error)
}

// MemoryPool is an in-process Pool fed by price updates. It keeps a bounded
// ring of observations the way the on-chain pool does.
type MemoryPool struct {
	mu           sync.RWMutex
	token0       common.Address
	token1       common.Address
	tick         int32
	sqrtPrice    *uint256.Int
	observations []Observation
	cardinality  int
}

// NewMemoryPool creates a pool initialised at tick with a first observation
// at ts. Tokens are sorted so token0 < token1.
func NewMemoryPool(tokenA, tokenB common.Address, tick int32, ts int64, cardinality int) (*MemoryPool, error) {
	sqrtPrice, err := fpmath.GetSqrtRatioAtTick(tick)
	if err != nil {
		return nil, err
	}
	if cardinality <= 0 {
		cardinality = 1
	}
	t0, t1 := SortTokens(tokenA, tokenB)
	return &MemoryPool{
		token0:       t0,
		token1:       t1,
		tick:         tick,
		sqrtPrice:    sqrtPrice,
		observations: []Observation{{Timestamp: ts}},
		cardinality:  cardinality,
	}, nil
}

func (p *MemoryPool) Token0() common.Address { return p.token0 }
func (p *MemoryPool) Token1() common.Address { return p.token1 }

func (p *MemoryPool) Slot0() (*uint256.Int, int32) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return new(uint256.Int).Set(p.sqrtPrice), p.tick
}

// LastObservation returns the current tick and the newest observation time.
func (p *MemoryPool) LastObservation() (int32, int64) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.tick, p.observations[len(p.observations)-1].Timestamp
}

// Update moves the pool to a new tick at ts, writing an observation that
// accumulates the previous tick over the elapsed time.
func (p *MemoryPool) Update(ts int64, tick int32) error {
	sqrtPrice, err := fpmath.GetSqrtRatioAtTick(tick)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	last := p.observations[len(p.observations)-1]
	if ts < last.Timestamp {
		return fmt.Errorf("pool update at %d precedes last observation %d", ts, last.Timestamp)
	}
	if ts > last.Timestamp {
		p.observations = append(p.observations, Observation{
			Timestamp:      ts,
			TickCumulative: last.TickCumulative + int64(p.tick)*(ts-last.Timestamp),
		})
		if len(p.observations) > p.cardinality {
			p.observations = p.observations[len(p.observations)-p.cardinality:]
		}
	}
	p.tick = tick
	p.sqrtPrice = sqrtPrice
	return nil
}

func (p *MemoryPool) ObservationsSince(ts int64) ([]Observation, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if len(p.observations) == 0 {
		return nil, ErrNoObservations
	}
	// first index with Timestamp > ts, step back one to keep the anchor
	idx := sort.Search(len(p.observations), func(i int) bool {
		return p.observations[i].Timestamp > ts
	})
	if idx > 0 {
		idx--
	}
	out := make([]Observation, len(p.observations)-idx)
	copy(out, p.observations[idx:])
	return out, nil
}

// SortTokens orders two addresses the way pools order token0/token1.
func SortTokens(a, b common.Address) (common.Address, common.Address) {
	if a.Cmp(b) < 0 {
		return a, b
	}
	return b, a
}
