package ingestion

import (
	"errors"
	"sync"

	"PowerVault/internal/event"
)

// ErrNoChainHead is returned for commands that arrive before any price
// observation has set the chain head.
var ErrNoChainHead = errors.New("no chain head observed yet")

// BlockSource supplies the block context commands execute in.
type BlockSource interface {
	Head() (event.Block, bool)
}

// ChainClock follows the chain head reported by the price feed. It only
// moves forward: observations behind the head are ignored. Feeds that send
// no block number get one synthesized per new timestamp.
type ChainClock struct {
	mu   sync.RWMutex
	head event.Block
	set  bool
}

// NewChainClock starts the clock at genesis. A zero genesis leaves the
// head unset until the first observation.
func NewChainClock(genesis event.Block) *ChainClock {
	return &ChainClock{head: genesis, set: genesis.Time > 0}
}

// Observe advances the head to (number, ts). A zero number means the feed
// did not report one.
func (c *ChainClock) Observe(number uint64, ts int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := c.head
	if ts > next.Time {
		next.Time = ts
		if number == 0 {
			next.Number++
		}
	}
	if number > next.Number {
		next.Number = number
	}
	c.head = next
	c.set = c.set || ts > 0
}

// Reset moves the head to b if b is ahead, used after replay to resume
// from the engine's last committed block.
func (c *ChainClock) Reset(b event.Block) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if b.Time > c.head.Time {
		c.head.Time = b.Time
	}
	if b.Number > c.head.Number {
		c.head.Number = b.Number
	}
	c.set = c.set || b.Time > 0
}

func (c *ChainClock) Head() (event.Block, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.head, c.set
}
