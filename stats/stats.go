// Package stats counts cache accesses and hits.
package stats

// Counter accumulates access and hit counts reported by a cache.
type Counter struct {
	tries uint64
	hits  uint64
}

// NewCounter returns an empty counter.
func NewCounter() *Counter {
	return &Counter{}
}

// TryIncrease adds n accesses.
func (c *Counter) TryIncrease(n uint64) {
	c.tries += n
}

// HitIncrease adds n hits.
func (c *Counter) HitIncrease(n uint64) {
	c.hits += n
}

// Accesses returns the total number of accesses.
func (c *Counter) Accesses() uint64 {
	return c.tries
}

// Hits returns the number of hits.
func (c *Counter) Hits() uint64 {
	return c.hits
}

// Misses returns accesses that did not hit.
func (c *Counter) Misses() uint64 {
	return c.tries - c.hits
}

// HitRate returns hits / accesses, or 0 before any access.
func (c *Counter) HitRate() float64 {
	if c.tries == 0 {
		return 0
	}
	return float64(c.hits) / float64(c.tries)
}

// Reset clears both counters.
func (c *Counter) Reset() {
	c.tries = 0
	c.hits = 0
}

// Snapshot is a point-in-time copy of a Counter.
type Snapshot struct {
	Accesses uint64  `json:"accesses"`
	Hits     uint64  `json:"hits"`
	Misses   uint64  `json:"misses"`
	HitRate  float64 `json:"hit_rate"`
}

// Snapshot returns the current counts.
func (c *Counter) Snapshot() Snapshot {
	return Snapshot{
		Accesses: c.Accesses(),
		Hits:     c.Hits(),
		Misses:   c.Misses(),
		HitRate:  c.HitRate(),
	}
}
