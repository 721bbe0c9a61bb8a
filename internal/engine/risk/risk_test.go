package risk

import (
	"math"
	"testing"
	"time"

	"perp_bot/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStopLossPrice(t *testing.T) {
	assert.InDelta(t, 95.0, StopLossPrice(models.SideLong, 100, 5), 1e-9)
	assert.InDelta(t, 105.0, StopLossPrice(models.SideShort, 100, 5), 1e-9)
}

func TestTakeProfitPrice(t *testing.T) {
	assert.InDelta(t, 102.0, TakeProfitPrice(models.SideLong, 100, 2), 1e-9)
	assert.InDelta(t, 98.0, TakeProfitPrice(models.SideShort, 100, 2), 1e-9)
}

func TestPnLSplitLongProfit(t *testing.T) {
	s := PnLSplit(models.SideLong, 100, 110, 0.5, 0.001, 0.20)

	assert.InDelta(t, 5.0, s.Gross, 1e-9)
	assert.InDelta(t, 0.105, s.Commission, 1e-9)
	assert.InDelta(t, 4.895, s.Net, 1e-9)
	assert.InDelta(t, 0.979, s.Reinvest, 1e-9)
	assert.InDelta(t, 3.916, s.Transfer, 1e-9)
}

func TestPnLSplitConservation(t *testing.T) {
	cases := []struct {
		side        models.Side
		entry, exit float64
	}{
		{models.SideLong, 100, 117.3},
		{models.SideShort, 100, 81.2},
		{models.SideLong, 2500.5, 2511.25},
	}
	for _, c := range cases {
		s := PnLSplit(c.side, c.entry, c.exit, 1.25, 0.0006, 0.35)
		require.Greater(t, s.Net, 0.0)
		assert.InDelta(t, s.Net, s.Reinvest+s.Transfer, 1e-9)
	}
}

func TestPnLSplitLossNeverReinvested(t *testing.T) {
	s := PnLSplit(models.SideLong, 100, 90, 0.5, 0.001, 0.20)
	assert.Less(t, s.Net, 0.0)
	assert.Zero(t, s.Reinvest)
	assert.Zero(t, s.Transfer)

	// Small gain fully eaten by commission also counts as a loss.
	s = PnLSplit(models.SideLong, 100, 100.01, 0.5, 0.01, 0.20)
	assert.LessOrEqual(t, s.Net, 0.0)
	assert.Zero(t, s.Reinvest)
	assert.Zero(t, s.Transfer)
}

func TestPnLSplitShort(t *testing.T) {
	s := PnLSplit(models.SideShort, 100, 90, 1, 0, 0.5)
	assert.InDelta(t, 10.0, s.Gross, 1e-9)
	assert.InDelta(t, 5.0, s.Reinvest, 1e-9)
	assert.InDelta(t, 5.0, s.Transfer, 1e-9)
}

func TestLiquidationPriceEstimate(t *testing.T) {
	px, ok := LiquidationPriceEstimate(models.SideLong, 100, 5, 0.005)
	require.True(t, ok)
	assert.InDelta(t, 100*(1-0.2+0.005), px, 1e-9)

	px, ok = LiquidationPriceEstimate(models.SideShort, 100, 5, 0.005)
	require.True(t, ok)
	assert.InDelta(t, 100*(1+0.2-0.005), px, 1e-9)
}

func TestLiquidationPriceEstimateInvalidInputs(t *testing.T) {
	_, ok := LiquidationPriceEstimate(models.SideLong, 0, 5, 0.005)
	assert.False(t, ok)
	_, ok = LiquidationPriceEstimate(models.SideLong, math.NaN(), 5, 0.005)
	assert.False(t, ok)
	_, ok = LiquidationPriceEstimate(models.SideLong, math.Inf(1), 5, 0.005)
	assert.False(t, ok)
	_, ok = LiquidationPriceEstimate(models.SideLong, 100, 0, 0.005)
	assert.False(t, ok)
	_, ok = LiquidationPriceEstimate(models.SideLong, 100, 5, math.NaN())
	assert.False(t, ok)
}

func TestAggregate(t *testing.T) {
	now := time.Now()
	positions := []models.LogicalPosition{
		{Side: models.SideLong, EntryPrice: 100, SizeContracts: 1, MarginUSDT: 20, Leverage: 5},
		{Side: models.SideLong, EntryPrice: 110, SizeContracts: 3, MarginUSDT: 66, Leverage: 5},
	}

	agg := Aggregate(models.SideLong, positions, now)
	assert.InDelta(t, 4.0, agg.TotalSize, 1e-9)
	assert.InDelta(t, 86.0, agg.TotalMargin, 1e-9)
	assert.InDelta(t, 107.5, agg.AvgEntryPrice, 1e-9)
	assert.Greater(t, agg.EstLiquidationPrice, 0.0)
	assert.Equal(t, now, agg.UpdatedAt)
}

func TestAggregateEmpty(t *testing.T) {
	agg := Aggregate(models.SideShort, nil, time.Now())
	assert.True(t, agg.Empty())
	assert.Zero(t, agg.AvgEntryPrice)
}
