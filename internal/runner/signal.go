package runner

import "perp_bot/internal/models"

// SignalSource produces the low-level entry signal consulted once per tick.
// Indicator math and rule evaluation live outside the engine; anything
// implementing this interface can drive it.
type SignalSource interface {
	Next(tick models.Tick) models.Signal
}

// Hold never opens. The default source until a real generator is plugged in,
// and the right one for sweep-only sessions driven purely by interventions
// and milestones.
type Hold struct{}

func (Hold) Next(models.Tick) models.Signal { return models.SignalHold }

// Static always emits the same signal. Used by backtests and tests.
type Static struct {
	Signal models.Signal
}

func (s Static) Next(models.Tick) models.Signal { return s.Signal }

// TrendEvaluator maps market state to a trading mode. In automatic mode it
// runs inline on the tick thread and regates the sides each tick.
type TrendEvaluator interface {
	Mode(tick models.Tick) models.TradingMode
}

// FixedTrend pins the mode; the session config's mode never changes.
type FixedTrend struct {
	Tendency models.TradingMode
}

func (f FixedTrend) Mode(models.Tick) models.TradingMode { return f.Tendency }
