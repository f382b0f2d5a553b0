package ingestion

import (
	"context"
	"fmt"

	"PowerVault/internal/observability"
	"PowerVault/internal/oracle"
	"PowerVault/internal/persistence"
)

// TickStore records raw observations for replay.
type TickStore interface {
	Save(ctx context.Context, t persistence.PriceTick) error
}

// PriceApplier feeds pool observations into the in-memory oracle pools and
// advances the chain clock.
type PriceApplier struct {
	pools   map[string]*oracle.MemoryPool
	store   TickStore
	clock   *ChainClock
	metrics *observability.Metrics
}

func NewPriceApplier(pools map[string]*oracle.MemoryPool, store TickStore, clock *ChainClock, metrics *observability.Metrics) *PriceApplier {
	return &PriceApplier{pools: pools, store: store, clock: clock, metrics: metrics}
}

// Apply stores the tick first, then updates the pool, so a tick the engine
// may have read is always in the log. Ticks older than the pool's newest
// observation (redeliveries) are dropped without error.
func (a *PriceApplier) Apply(ctx context.Context, u PriceUpdate) error {
	pool, ok := a.pools[u.Pool]
	if !ok {
		return fmt.Errorf("%w: unknown pool %q", ErrMalformed, u.Pool)
	}
	if _, last := pool.LastObservation(); u.Timestamp < last {
		return nil
	}

	if a.store != nil {
		if err := a.store.Save(ctx, persistence.PriceTick{Pool: u.Pool, Timestamp: u.Timestamp, Tick: u.Tick}); err != nil {
			return err
		}
	}
	if err := pool.Update(u.Timestamp, u.Tick); err != nil {
		return fmt.Errorf("pool %s: %w", u.Pool, err)
	}
	if a.clock != nil {
		a.clock.Observe(u.Block, u.Timestamp)
	}

	if a.metrics != nil {
		a.metrics.PriceTicks.WithLabelValues(u.Pool).Inc()
	}
	return nil
}

// Reload replays stored ticks into the pools (startup, before command
// replay). Ticks older than a pool's latest observation are skipped.
func (a *PriceApplier) Reload(ticks []persistence.PriceTick) (int, error) {
	applied := 0
	for _, t := range ticks {
		pool, ok := a.pools[t.Pool]
		if !ok {
			continue
		}
		if _, last := pool.LastObservation(); t.Timestamp < last {
			continue
		}
		if err := pool.Update(t.Timestamp, t.Tick); err != nil {
			return applied, fmt.Errorf("reload %s@%d: %w", t.Pool, t.Timestamp, err)
		}
		if a.clock != nil {
			a.clock.Observe(0, t.Timestamp)
		}
		applied++
	}
	return applied, nil
}
