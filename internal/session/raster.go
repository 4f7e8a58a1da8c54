package session

import (
	"sync"
	"time"
)

// RasterCache is the optional server-side cache of a recent raster,
// invalidated on every accepted drawing event, letting frequent joins skip
// re-electing a sync source. Correctness must (and does, see
// session_test.go) hold with caching disabled.
type RasterCache struct {
	ttl time.Duration

	mu      sync.Mutex
	data    []byte
	stampAt time.Time
	valid   bool
}

// NewRasterCache builds a cache with the given TTL. A zero or negative ttl
// disables caching outright (Fresh always reports false).
func NewRasterCache(ttl time.Duration) *RasterCache {
	return &RasterCache{ttl: ttl}
}

// Fresh returns the cached raster and true if one exists and has not
// exceeded its TTL.
func (c *RasterCache) Fresh() ([]byte, bool) {
	if c == nil || c.ttl <= 0 {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.valid || time.Since(c.stampAt) > c.ttl {
		return nil, false
	}
	out := make([]byte, len(c.data))
	copy(out, c.data)
	return out, true
}

// Store records a freshly completed raster.
func (c *RasterCache) Store(data []byte) {
	if c == nil || c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.data = append([]byte(nil), data...)
	c.stampAt = time.Now()
	c.valid = true
	c.mu.Unlock()
}

// Invalidate drops the cached raster; called on every accepted drawing
// event, since the board state it captured is now stale.
func (c *RasterCache) Invalidate() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.valid = false
	c.data = nil
	c.mu.Unlock()
}
