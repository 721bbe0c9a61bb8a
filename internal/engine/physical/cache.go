package physical

import (
	"math"
	"sync"
	"time"

	"perp_bot/internal/models"
)

// Cache holds the last-known aggregated exchange position per side.
// Refreshed explicitly: after every open/close from the logical set, and
// from the exchange at the post-close resync point. Reads return copies.
type Cache struct {
	mu    sync.Mutex
	sides map[models.Side]models.PhysicalPosition
}

func NewCache() *Cache {
	return &Cache{sides: make(map[models.Side]models.PhysicalPosition)}
}

func (c *Cache) Set(p models.PhysicalPosition) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sides[p.Side] = p
}

func (c *Cache) Get(side models.Side) (models.PhysicalPosition, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.sides[side]
	return p, ok
}

// Reset clears the side back to an empty aggregate.
func (c *Cache) Reset(side models.Side, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sides[side] = models.PhysicalPosition{Side: side, UpdatedAt: now}
}

// Diverged reports whether the cached physical size disagrees with the
// logical total beyond tolerance. In steady state the two must match; a
// divergence is a fault to surface, never to silently correct.
func (c *Cache) Diverged(side models.Side, logicalSize, tolerance float64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.sides[side]
	if !ok {
		return false
	}
	return math.Abs(p.TotalSize-logicalSize) > tolerance
}
