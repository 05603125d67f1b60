// Package factcache implements spec §4.5 FactCache: a convenience cache of
// the latest Fact per (SessionId, FactKind) with read-time TTL eviction.
//
// Grounded on the teacher's transport/server/auth/memory_store.go
// MemoryStore, which performs the identical two-phase pattern for a
// different kind of ephemeral record (auth grants instead of facts): look
// the entry up under a read lock, check an expiry timestamp, and evict via a
// follow-up delete under a write lock if the entry has expired. The grant's
// sliding/absolute TTL machinery (Touch, Rotate, RevokeFamily) has no
// analogue here — spec §4.5 calls for a single fixed TTL applied on read,
// nothing more.
package factcache

import (
	"sync"
	"time"

	"github.com/lstefano71/hmonclient"
)

type key struct {
	session hmon.SessionId
	kind    hmon.FactKind
}

type entry struct {
	fact        hmon.Fact
	lastUpdated time.Time
}

// Cache is a FactCache as described in spec §4.5. The zero value is not
// usable; construct with New.
type Cache struct {
	ttl time.Duration

	mu      sync.RWMutex
	entries map[key]entry
}

// New creates a Cache with the given time-to-live. A zero ttl falls back to
// hmon.DefaultFactCacheTTL.
func New(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = hmon.DefaultFactCacheTTL
	}
	return &Cache{ttl: ttl, entries: make(map[key]entry)}
}

// Put records fact as the latest observation for (session, fact.Kind),
// stamped with the current time. Called on each Facts response, per spec.
func (c *Cache) Put(session hmon.SessionId, fact hmon.Fact) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key{session, fact.Kind}] = entry{fact: fact, lastUpdated: time.Now()}
}

// PutAll records every fact in facts for session in one call, as produced by
// a single Facts response.
func (c *Cache) PutAll(session hmon.SessionId, facts []hmon.Fact) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	for _, f := range facts {
		c.entries[key{session, f.Kind}] = entry{fact: f, lastUpdated: now}
	}
}

// Get returns the cached fact for (session, kind) if it exists and its age
// is within the TTL. A stale entry is evicted as a side effect of the read,
// so a subsequent Get for the same key is also a miss until the next Put,
// per spec §4.5 and §8 (idempotent subsequent reads).
func (c *Cache) Get(session hmon.SessionId, kind hmon.FactKind) (hmon.Fact, bool) {
	c.mu.RLock()
	e, ok := c.entries[key{session, kind}]
	c.mu.RUnlock()
	if !ok {
		return hmon.Fact{}, false
	}
	if time.Since(e.lastUpdated) > c.ttl {
		c.mu.Lock()
		delete(c.entries, key{session, kind})
		c.mu.Unlock()
		return hmon.Fact{}, false
	}
	return e.fact, true
}

// PurgeSession drops every entry for session. Called when the session
// leaves the SessionRegistry, per spec invariant 4 ("FactCache contains no
// entries for sessions not in SessionRegistry").
func (c *Cache) PurgeSession(session hmon.SessionId) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if k.session == session {
			delete(c.entries, k)
		}
	}
}

// Len reports the number of live entries, ignoring TTL (diagnostics/tests).
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
