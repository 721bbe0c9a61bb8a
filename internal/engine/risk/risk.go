package risk

import (
	"math"
	"time"

	"perp_bot/internal/models"
)

// Pure price/PnL arithmetic. No state, no I/O; everything here must be
// exact and total over valid inputs.

// DefaultMaintenanceMarginRate is the isolated-margin maintenance rate
// assumed by the liquidation estimate.
const DefaultMaintenanceMarginRate = 0.005

func finitePositive(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
			return false
		}
	}
	return true
}

// TakeProfitPrice is the price at which a position gains pct percent.
func TakeProfitPrice(side models.Side, entry, pct float64) float64 {
	if side == models.SideLong {
		return entry * (1 + pct/100)
	}
	return entry * (1 - pct/100)
}

// StopLossPrice is the price at which a position loses pct percent.
func StopLossPrice(side models.Side, entry, pct float64) float64 {
	if side == models.SideLong {
		return entry * (1 - pct/100)
	}
	return entry * (1 + pct/100)
}

// LiquidationPriceEstimate approximates the isolated-margin, single-position
// liquidation price. It is an estimate for display, not exchange-exact:
// funding, fees and tiered maintenance margin are ignored. ok is false for
// non-finite or non-positive inputs.
func LiquidationPriceEstimate(side models.Side, entry float64, leverage int, maintenanceRate float64) (price float64, ok bool) {
	if !finitePositive(entry, float64(leverage)) || maintenanceRate < 0 || math.IsNaN(maintenanceRate) {
		return 0, false
	}
	lev := float64(leverage)
	if side == models.SideLong {
		price = entry * (1 - 1/lev + maintenanceRate)
	} else {
		price = entry * (1 + 1/lev - maintenanceRate)
	}
	if price <= 0 {
		return 0, false
	}
	return price, true
}

// Split is the realized-PnL breakdown of one close.
type Split struct {
	Gross      float64
	Commission float64
	Net        float64
	Reinvest   float64
	Transfer   float64
}

// PnLSplit computes gross PnL, commission over both notionals, and the
// reinvest/transfer split of net profit. Losses are never reinvested: for
// net <= 0 both shares are exactly zero. For net > 0,
// reinvest + transfer == net.
func PnLSplit(side models.Side, entry, exit, size, commissionRate, reinvestFraction float64) Split {
	var gross float64
	if side == models.SideLong {
		gross = (exit - entry) * size
	} else {
		gross = (entry - exit) * size
	}

	commission := (math.Abs(entry*size) + math.Abs(exit*size)) * commissionRate
	net := gross - commission

	s := Split{Gross: gross, Commission: commission, Net: net}
	if net > 0 {
		if reinvestFraction < 0 {
			reinvestFraction = 0
		}
		if reinvestFraction > 1 {
			reinvestFraction = 1
		}
		s.Reinvest = net * reinvestFraction
		s.Transfer = net - s.Reinvest
	}
	return s
}

// Aggregate folds a logical position set into the side's physical
// aggregate: size-weighted average entry, summed size and margin.
func Aggregate(side models.Side, positions []models.LogicalPosition, now time.Time) models.PhysicalPosition {
	agg := models.PhysicalPosition{Side: side, UpdatedAt: now}
	var notional float64
	for i := range positions {
		p := &positions[i]
		agg.TotalSize += p.SizeContracts
		agg.TotalMargin += p.MarginUSDT
		notional += p.SizeContracts * p.EntryPrice
	}
	if agg.TotalSize > 0 {
		agg.AvgEntryPrice = notional / agg.TotalSize
	}
	if len(positions) > 0 {
		// All slots share the session leverage; estimate off the blend.
		if px, ok := LiquidationPriceEstimate(side, agg.AvgEntryPrice, positions[0].Leverage, DefaultMaintenanceMarginRate); ok {
			agg.EstLiquidationPrice = px
		}
	}
	return agg
}
