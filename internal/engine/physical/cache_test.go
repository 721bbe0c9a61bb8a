package physical

import (
	"testing"
	"time"

	"perp_bot/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetGetReset(t *testing.T) {
	c := NewCache()

	_, ok := c.Get(models.SideLong)
	assert.False(t, ok)

	now := time.Now()
	c.Set(models.PhysicalPosition{
		Side: models.SideLong, AvgEntryPrice: 100, TotalSize: 0.5, UpdatedAt: now,
	})
	p, ok := c.Get(models.SideLong)
	require.True(t, ok)
	assert.InDelta(t, 0.5, p.TotalSize, 1e-9)

	c.Reset(models.SideLong, now)
	p, ok = c.Get(models.SideLong)
	require.True(t, ok)
	assert.True(t, p.Empty())
}

func TestDiverged(t *testing.T) {
	c := NewCache()

	// Nothing cached: no basis to report divergence.
	assert.False(t, c.Diverged(models.SideLong, 1, 0.001))

	c.Set(models.PhysicalPosition{Side: models.SideLong, TotalSize: 0.5})
	assert.False(t, c.Diverged(models.SideLong, 0.5, 0.001))
	assert.False(t, c.Diverged(models.SideLong, 0.5005, 0.001))
	assert.True(t, c.Diverged(models.SideLong, 0.6, 0.001))
}
