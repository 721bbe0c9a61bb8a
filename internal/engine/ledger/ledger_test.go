package ledger

import (
	"math"
	"os"
	"testing"

	"perp_bot/internal/models"
	"perp_bot/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	if err := logger.Init(); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

func TestMarginInvariant(t *testing.T) {
	l := New()
	l.ResizeOperational(models.SideLong, 100)

	check := func() {
		operational, used := l.Balances(models.SideLong)
		require.GreaterOrEqual(t, used, 0.0)
		require.LessOrEqual(t, used, operational)
	}

	require.True(t, l.IncreaseUsed(models.SideLong, 40))
	check()
	require.True(t, l.IncreaseUsed(models.SideLong, 60))
	check()
	// Ceiling reached.
	require.False(t, l.IncreaseUsed(models.SideLong, 0.01))
	check()

	l.DecreaseUsed(models.SideLong, 40)
	check()
	// Over-release clamps at zero.
	l.DecreaseUsed(models.SideLong, 1000)
	check()
	assert.Zero(t, l.UsedMargin(models.SideLong))
}

func TestResizeNeverBelowUsed(t *testing.T) {
	l := New()
	l.ResizeOperational(models.SideShort, 50)
	require.True(t, l.IncreaseUsed(models.SideShort, 30))

	l.ResizeOperational(models.SideShort, 10)
	operational, used := l.Balances(models.SideShort)
	assert.InDelta(t, 30.0, operational, 1e-9)
	assert.InDelta(t, 30.0, used, 1e-9)
}

func TestInvalidAmountsRejected(t *testing.T) {
	l := New()
	l.ResizeOperational(models.SideLong, 100)

	assert.False(t, l.IncreaseUsed(models.SideLong, -1))
	assert.False(t, l.IncreaseUsed(models.SideLong, math.NaN()))
	assert.False(t, l.IncreaseUsed(models.SideLong, math.Inf(1)))

	l.GrowOperational(models.SideLong, math.NaN())
	assert.InDelta(t, 100.0, l.OperationalMargin(models.SideLong), 1e-9)

	l.RecordProfit(-5)
	assert.Zero(t, l.ProfitBalance())
}

func TestReinvestGrowthLoop(t *testing.T) {
	l := New()
	l.ResizeOperational(models.SideLong, 100)

	l.GrowOperational(models.SideLong, 0.979)
	l.RecordProfit(3.916)

	assert.InDelta(t, 100.979, l.OperationalMargin(models.SideLong), 1e-9)
	assert.InDelta(t, 3.916, l.ProfitBalance(), 1e-9)
	assert.InDelta(t, 100.979, l.AvailableMargin(models.SideLong), 1e-9)
}

func TestSidesIndependent(t *testing.T) {
	l := New()
	l.ResizeOperational(models.SideLong, 100)
	l.ResizeOperational(models.SideShort, 40)
	require.True(t, l.IncreaseUsed(models.SideLong, 80))

	assert.InDelta(t, 40.0, l.AvailableMargin(models.SideShort), 1e-9)
	require.True(t, l.IncreaseUsed(models.SideShort, 40))
	require.False(t, l.IncreaseUsed(models.SideShort, 1))
}
