// Package dedup suppresses reprocessing of redelivered messages: a
// bounded, per-partition, time-windowed membership test that answers
// "first seen" at most once per message id per partition per window.
// Best-effort suppression only; nothing is persisted across restarts.
package dedup

import (
	"sync"
	"time"
)

const (
	DefaultTTL             = 10 * time.Minute
	DefaultMaxEntries      = 1000
	DefaultCleanupInterval = time.Minute
)

// Options configures a Cache. Zero values take the package defaults.
type Options struct {
	TTL             time.Duration
	MaxEntries      int // per partition
	CleanupInterval time.Duration

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Cache is a process-wide dedup table partitioned by account. Partitions
// are independent: unrelated accounts never contend on capacity or evict
// each other's entries.
type Cache struct {
	mu         sync.Mutex
	ttl        time.Duration
	maxEntries int
	cleanup    time.Duration
	now        func() time.Time
	partitions map[string]*partition
}

type partition struct {
	entries     map[string]time.Time // id -> first seen
	order       []string             // insertion order; may hold evicted ids
	lastCleanup time.Time
}

func New(opts Options) *Cache {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultMaxEntries
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = DefaultCleanupInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Cache{
		ttl:        opts.TTL,
		maxEntries: opts.MaxEntries,
		cleanup:    opts.CleanupInterval,
		now:        opts.Now,
		partitions: make(map[string]*partition),
	}
}

// TryRecord reports whether (partitionKey, id) is being seen for the first
// time within the window, recording it if so. A repeated id reports false
// and leaves the recorded first-seen time untouched.
func (c *Cache) TryRecord(partitionKey, id string) bool {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.partitions[partitionKey]
	if !ok {
		p = &partition{entries: make(map[string]time.Time), lastCleanup: now}
		c.partitions[partitionKey] = p
	}

	// Lazy cleanup, throttled per partition so a hot partition does not
	// rescan on every message.
	if now.Sub(p.lastCleanup) >= c.cleanup {
		p.dropExpired(now, c.ttl)
		p.lastCleanup = now
	}

	if _, seen := p.entries[id]; seen {
		return false
	}

	if len(p.entries) >= c.maxEntries {
		p.evictOldest()
	}

	p.entries[id] = now
	p.order = append(p.order, id)
	return true
}

// Len returns the number of live entries in a partition.
func (c *Cache) Len(partitionKey string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.partitions[partitionKey]; ok {
		return len(p.entries)
	}
	return 0
}

// Reset drops all partitions.
func (c *Cache) Reset() {
	c.mu.Lock()
	c.partitions = make(map[string]*partition)
	c.mu.Unlock()
}

func (p *partition) dropExpired(now time.Time, ttl time.Duration) {
	cutoff := now.Add(-ttl)
	kept := p.order[:0]
	for _, id := range p.order {
		seenAt, live := p.entries[id]
		if !live {
			continue // already evicted
		}
		if seenAt.Before(cutoff) {
			delete(p.entries, id)
			continue
		}
		kept = append(kept, id)
	}
	p.order = kept
}

// evictOldest removes the single oldest-inserted live entry.
func (p *partition) evictOldest() {
	for len(p.order) > 0 {
		id := p.order[0]
		p.order = p.order[1:]
		if _, live := p.entries[id]; live {
			delete(p.entries, id)
			return
		}
	}
}
