package core

import (
	"container/list"
	"fmt"
)

// IdempotencyChecker deduplicates command ids in two tiers: a bounded
// in-memory LRU in front of an optional durable store.
type IdempotencyChecker struct {
	lru       *IdempotencyLRU
	dbChecker DBIdempotencyChecker

	duplicates  map[string]int64 // tier -> count
	tier2Errors int64
}

// DBIdempotencyChecker is the durable lookup (Postgres in production).
type DBIdempotencyChecker interface {
	IsDuplicate(commandType string, idempotencyKey string) (bool, error)
}

func NewIdempotencyChecker(capacity int, dbChecker DBIdempotencyChecker) *IdempotencyChecker {
	return &IdempotencyChecker{
		lru:        NewIdempotencyLRU(capacity),
		dbChecker:  dbChecker,
		duplicates: make(map[string]int64),
	}
}

func CompositeKey(commandType, key string) string {
	return fmt.Sprintf("%s:%s", commandType, key)
}

// IsDuplicate reports the tier that recognised the key ("lru" or
// "postgres"), or "" for a new command. A failing durable store is treated
// as "not seen" so a database outage cannot stall the engine.
func (ic *IdempotencyChecker) IsDuplicate(commandType, key string) (bool, string) {
	ck := CompositeKey(commandType, key)
	if ic.lru.Contains(ck) {
		ic.duplicates["lru"]++
		return true, "lru"
	}
	if ic.dbChecker == nil {
		return false, ""
	}

	seen, err := ic.dbChecker.IsDuplicate(commandType, key)
	if err != nil {
		ic.tier2Errors++
		return false, ""
	}
	if seen {
		ic.duplicates["postgres"]++
		ic.lru.Add(ck)
		return true, "postgres"
	}
	return false, ""
}

// MarkProcessed records a committed command.
func (ic *IdempotencyChecker) MarkProcessed(commandType, key string) {
	ic.lru.Add(CompositeKey(commandType, key))
}

func (ic *IdempotencyChecker) Duplicates(tier string) int64 {
	return ic.duplicates[tier]
}

func (ic *IdempotencyChecker) Tier2Errors() int64 {
	return ic.tier2Errors
}

// IdempotencyLRU is an LRU set of composite keys.
// Not thread-safe; only accessed under the engine write lock.
type IdempotencyLRU struct {
	capacity  int
	cache     map[string]*list.Element
	order     *list.List
	evictions int64
}

func NewIdempotencyLRU(capacity int) *IdempotencyLRU {
	if capacity <= 0 {
		capacity = 1
	}
	return &IdempotencyLRU{
		capacity: capacity,
		cache:    make(map[string]*list.Element),
		order:    list.New(),
	}
}

// Contains checks if key exists (promotes to front)
func (lru *IdempotencyLRU) Contains(key string) bool {
	elem, ok := lru.cache[key]
	if ok {
		lru.order.MoveToFront(elem)
	}
	return ok
}

// Add inserts a key (or promotes if exists)
func (lru *IdempotencyLRU) Add(key string) {
	if elem, ok := lru.cache[key]; ok {
		lru.order.MoveToFront(elem)
		return
	}
	lru.cache[key] = lru.order.PushFront(key)
	if lru.order.Len() > lru.capacity {
		oldest := lru.order.Back()
		lru.order.Remove(oldest)
		delete(lru.cache, oldest.Value.(string))
		lru.evictions++
	}
}

// WarmFromKeys loads keys oldest first so the newest end up most recent.
func (lru *IdempotencyLRU) WarmFromKeys(keys []string) {
	for _, key := range keys {
		lru.Add(key)
	}
}

// Keys returns every key, oldest first.
func (lru *IdempotencyLRU) Keys() []string {
	keys := make([]string, 0, lru.order.Len())
	for e := lru.order.Back(); e != nil; e = e.Prev() {
		keys = append(keys, e.Value.(string))
	}
	return keys
}

func (lru *IdempotencyLRU) Size() int {
	return lru.order.Len()
}

func (lru *IdempotencyLRU) Evictions() int64 {
	return lru.evictions
}
