package ledger

import (
	"sync/atomic"
	"time"
)

// Cache publishes the current ledger snapshot. Publication is a single
// pointer swap: the decision path sees either the previous snapshot or the
// new one, never a mix, and never blocks on a refresh in flight.
type Cache struct {
	cur    atomic.Pointer[Snapshot]
	maxAge time.Duration
}

// NewCache returns a cache holding an empty, unconfirmed snapshot. Until
// the first successful refresh every decision against it is stale.
func NewCache(maxAge time.Duration) *Cache {
	c := &Cache{maxAge: maxAge}
	c.cur.Store(emptySnapshot())
	return c
}

// Snapshot returns the current snapshot.
func (c *Cache) Snapshot() *Snapshot { return c.cur.Load() }

// MaxAge is the staleness bound: snapshots older than this cannot support
// an OK or NOK verdict.
func (c *Cache) MaxAge() time.Duration { return c.maxAge }

// Stale reports whether the current snapshot is too old to decide on,
// along with its age.
func (c *Cache) Stale(now time.Time) (bool, time.Duration) {
	age := c.cur.Load().Age(now)
	return age > c.maxAge, age
}

// Publish swaps in a new snapshot.
func (c *Cache) Publish(s *Snapshot) { c.cur.Store(s) }
