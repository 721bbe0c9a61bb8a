package models

import "time"

// Signal is the low-level entry signal consulted once per tick. Signal
// generation itself (indicators, rules) lives outside the engine.
type Signal string

const (
	SignalBuy  Signal = "BUY"
	SignalSell Signal = "SELL"
	SignalHold Signal = "HOLD"
)

// Tick is one market-data event driving the pipeline.
type Tick struct {
	Symbol string
	Price  float64
	At     time.Time
}

// InterventionKind enumerates operator actions delivered to the tick loop
// over the intervention channel.
type InterventionKind string

const (
	InterventionManualClose    InterventionKind = "manual_close"
	InterventionCloseAll       InterventionKind = "close_all"
	InterventionAddSlot        InterventionKind = "add_slot"
	InterventionRemoveSlot     InterventionKind = "remove_slot"
	InterventionSetMode        InterventionKind = "set_mode"
	InterventionForceMilestone InterventionKind = "force_milestone"
)

// Intervention is a typed operator event. Fields beyond Kind are filled
// per kind: Side+Index for manual_close, Side for close_all, Mode for
// set_mode, MilestoneID for force_milestone.
type Intervention struct {
	Kind        InterventionKind
	Side        Side
	Index       int
	Mode        TradingMode
	MilestoneID string
}
