// Package jobcache memoizes the last known snapshot of each job for a short TTL.
package jobcache

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/desertthunder/jobtrack/internal/models"
)

const (
	// DefaultTTL is how long a snapshot stays fresh.
	DefaultTTL = 30 * time.Second
	// DefaultSize bounds the number of jobs held at once.
	DefaultSize = 1024
)

type entry struct {
	snapshot   models.Job
	capturedAt time.Time
}

// Cache holds one snapshot per job id. Freshness is judged against the
// capture time on every read, so a stale entry is never returned even before
// the LRU drops it.
//
// Only the tracking session that owns a job id writes its entry.
type Cache struct {
	ttl     time.Duration
	now     func() time.Time
	entries *expirable.LRU[string, entry]
}

// New creates a Cache. A non-positive ttl selects [DefaultTTL].
func New(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		ttl:     ttl,
		now:     time.Now,
		entries: expirable.NewLRU[string, entry](DefaultSize, nil, ttl),
	}
}

// WithClock replaces time.Now, for tests.
func (c *Cache) WithClock(now func() time.Time) *Cache {
	c.now = now
	return c
}

// Get returns a copy of the snapshot for jobID if it was captured less than TTL ago.
func (c *Cache) Get(jobID string) (models.Job, bool) {
	e, ok := c.entries.Get(jobID)
	if !ok || c.now().Sub(e.capturedAt) >= c.ttl {
		return models.Job{}, false
	}
	return e.snapshot.Clone(), true
}

// Put stores snapshot for jobID, replacing any previous entry.
func (c *Cache) Put(jobID string, snapshot models.Job) {
	c.entries.Add(jobID, entry{snapshot: snapshot.Clone(), capturedAt: c.now()})
}

// Sweep drops stale entries and returns how many were removed.
func (c *Cache) Sweep() int {
	now := c.now()
	removed := 0
	for _, id := range c.entries.Keys() {
		e, ok := c.entries.Peek(id)
		if ok && now.Sub(e.capturedAt) >= c.ttl {
			c.entries.Remove(id)
			removed++
		}
	}
	return removed
}

// Len returns the number of entries, stale ones included.
func (c *Cache) Len() int {
	return c.entries.Len()
}
