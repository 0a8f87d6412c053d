// Package pipeline moves authenticated events from the ingest gate to
// storage: an in-memory aggregation cache on the hot path and a
// batching worker that owns all persistent writes.
package pipeline

import (
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Aggregate is a snapshot of the in-memory state for one fingerprint.
// Timestamps are unix milliseconds.
type Aggregate struct {
	Count     int64
	FirstSeen int64
	LastSeen  int64
}

type aggEntry struct {
	agg       Aggregate
	expiresAt time.Time
}

// shardCount spreads fingerprints over independent locks so concurrent
// tenants do not serialize on one mutex.
const shardCount = 64

type aggShard struct {
	mu      sync.Mutex
	entries map[string]*aggEntry
}

// Aggregator is the capacity- and TTL-bounded aggregation cache. It is
// an accelerator for the "already seen" path, never the system of
// record: eviction makes the next increment report the fingerprint as
// new again even though a persisted aggregate exists.
//
// Increment-or-insert happens under the owning shard's lock, so N
// concurrent increments on a fresh key yield exactly one new report
// and a final count of exactly N.
type Aggregator struct {
	shards      [shardCount]*aggShard
	perShardCap int
	ttl         time.Duration
	now         func() time.Time
}

// NewAggregator creates an aggregation cache bounded to maxCapacity
// entries with the given TTL.
func NewAggregator(maxCapacity int, ttl time.Duration) *Aggregator {
	if maxCapacity < shardCount {
		maxCapacity = shardCount
	}
	a := &Aggregator{
		perShardCap: maxCapacity / shardCount,
		ttl:         ttl,
		now:         time.Now,
	}
	for i := range a.shards {
		a.shards[i] = &aggShard{entries: make(map[string]*aggEntry)}
	}
	return a
}

func (a *Aggregator) shardFor(fingerprint string) *aggShard {
	return a.shards[xxhash.Sum64String(fingerprint)%shardCount]
}

// Increment bumps the count for a fingerprint, creating the entry when
// absent or expired. Returns whether the fingerprint is new to the
// cache. ts is unix milliseconds.
func (a *Aggregator) Increment(fingerprint string, ts int64) bool {
	now := a.now()
	shard := a.shardFor(fingerprint)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	entry, ok := shard.entries[fingerprint]
	if ok && now.After(entry.expiresAt) {
		delete(shard.entries, fingerprint)
		ok = false
	}

	if ok {
		entry.agg.Count++
		entry.agg.LastSeen = ts
		entry.expiresAt = now.Add(a.ttl)
		return false
	}

	if len(shard.entries) >= a.perShardCap {
		shard.evictLocked(now)
	}
	shard.entries[fingerprint] = &aggEntry{
		agg:       Aggregate{Count: 1, FirstSeen: ts, LastSeen: ts},
		expiresAt: now.Add(a.ttl),
	}
	return true
}

// Get returns a snapshot for a fingerprint, or false when absent or
// expired.
func (a *Aggregator) Get(fingerprint string) (Aggregate, bool) {
	now := a.now()
	shard := a.shardFor(fingerprint)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	entry, ok := shard.entries[fingerprint]
	if !ok {
		return Aggregate{}, false
	}
	if now.After(entry.expiresAt) {
		delete(shard.entries, fingerprint)
		return Aggregate{}, false
	}
	return entry.agg, true
}

// Len reports the number of live entries across all shards.
func (a *Aggregator) Len() int {
	total := 0
	for _, shard := range a.shards {
		shard.mu.Lock()
		total += len(shard.entries)
		shard.mu.Unlock()
	}
	return total
}

// evictLocked frees room in a full shard: expired entries first, then
// the least recently seen. Must be called with the shard lock held.
func (s *aggShard) evictLocked(now time.Time) {
	for key, entry := range s.entries {
		if now.After(entry.expiresAt) {
			delete(s.entries, key)
		}
	}
	if len(s.entries) == 0 {
		return
	}

	var (
		oldestKey  string
		oldestSeen int64
	)
	for key, entry := range s.entries {
		if oldestKey == "" || entry.agg.LastSeen < oldestSeen {
			oldestKey = key
			oldestSeen = entry.agg.LastSeen
		}
	}
	delete(s.entries, oldestKey)
}
