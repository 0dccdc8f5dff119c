// Package dark keeps the rolling list of dark exposures taken during a
// session and picks the one a light run should be subtracted against.
package dark

import (
	"math"
	"sync"
	"time"
)

// acqTimeTolerance is how far two per-frame acquisition times may differ and
// still be considered the same detector setting, in seconds.
const acqTimeTolerance = 1e-4

// Descriptor identifies one completed dark run.
type Descriptor struct {
	UID       string    `json:"uid"`
	Exposure  float64   `json:"exposure"`
	AcqTime   float64   `json:"acq_time"`
	Timestamp time.Time `json:"timestamp"`
}

// Request is the exposure a light run is about to take.
type Request struct {
	Exposure float64
	AcqTime  float64
}

// Compatible reports whether d can be subtracted from a run taken with req:
// the same per-frame acquisition time and a total exposure within half a
// frame of the request.
func (d Descriptor) Compatible(req Request) bool {
	if math.Abs(d.AcqTime-req.AcqTime) >= acqTimeTolerance {
		return false
	}
	return math.Abs(d.Exposure-req.Exposure) <= req.AcqTime/2
}

// Cache is an append-only, newest-last list of dark descriptors. It is safe
// for concurrent use.
type Cache struct {
	mu      sync.RWMutex
	entries []Descriptor
	now     func() time.Time
}

// NewCache returns an empty cache using the wall clock.
func NewCache() *Cache {
	return &Cache{now: time.Now}
}

// NewCacheWithClock returns an empty cache that reads time from now.
func NewCacheWithClock(now func() time.Time) *Cache {
	return &Cache{now: now}
}

// Append records d as the newest entry.
func (c *Cache) Append(d Descriptor) {
	c.mu.Lock()
	c.entries = append(c.entries, d)
	c.mu.Unlock()
}

// Entries returns a copy of the cache, oldest first.
func (c *Cache) Entries() []Descriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Descriptor(nil), c.entries...)
}

// Len returns the number of cached descriptors.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Latest returns the most recently appended descriptor.
func (c *Cache) Latest() (Descriptor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.entries) == 0 {
		return Descriptor{}, false
	}
	return c.entries[len(c.entries)-1], true
}

// Now returns the cache's notion of the current time.
func (c *Cache) Now() time.Time {
	if c.now == nil {
		return time.Now()
	}
	return c.now()
}

type selectOptions struct {
	window    time.Duration
	hasWindow bool
}

// SelectOption narrows Select.
type SelectOption func(*selectOptions)

// WithinWindow limits candidates to darks no older than w.
func WithinWindow(w time.Duration) SelectOption {
	return func(o *selectOptions) {
		o.window = w
		o.hasWindow = true
	}
}

// Select returns the freshest compatible dark for req. Among entries sharing
// the newest timestamp the earliest appended wins. ok is false when nothing
// qualifies, which is a normal outcome: the run proceeds without a dark.
func (c *Cache) Select(req Request, opts ...SelectOption) (Descriptor, bool) {
	var o selectOptions
	for _, opt := range opts {
		opt(&o)
	}
	now := c.Now()

	c.mu.RLock()
	defer c.mu.RUnlock()
	var best Descriptor
	found := false
	for _, d := range c.entries {
		if o.hasWindow && now.Sub(d.Timestamp) > o.window {
			continue
		}
		if !d.Compatible(req) {
			continue
		}
		if !found || d.Timestamp.After(best.Timestamp) {
			best = d
			found = true
		}
	}
	return best, found
}
