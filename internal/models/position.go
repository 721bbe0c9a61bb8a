package models

import "time"

// LogicalPosition is one opened trading slot. It is owned by its side's
// position table: created by the executor on open, mutated only through
// table update calls, removed on close. IDs are never reused.
type LogicalPosition struct {
	ID            string    `json:"id"`
	Side          Side      `json:"side"`
	EntryTime     time.Time `json:"entry_timestamp"`
	EntryPrice    float64   `json:"entry_price"`
	MarginUSDT    float64   `json:"margin_usdt"`
	SizeContracts float64   `json:"size_contracts"`
	Leverage      int       `json:"leverage"`

	// Zero means "not set" for both price levels.
	StopLossPrice       float64 `json:"stop_loss_price,omitempty"`
	EstLiquidationPrice float64 `json:"estimated_liquidation_price,omitempty"`

	// Trailing-stop sub-state. Peak ratchets toward the favorable extreme
	// once Active; Stop only ever moves in the position's favor.
	TrailActive bool    `json:"ts_active"`
	TrailPeak   float64 `json:"ts_peak_price,omitempty"`
	TrailStop   float64 `json:"ts_stop_price,omitempty"`

	// Exchange references. FilledPrice/FilledQty start as estimates and are
	// replaced by the volume-weighted actual fill when reconciliation
	// succeeds; Synced=false flags an open that kept its estimate.
	OrderID     string  `json:"order_id,omitempty"`
	FilledPrice float64 `json:"filled_price,omitempty"`
	FilledQty   float64 `json:"filled_qty,omitempty"`
	Synced      bool    `json:"synced"`
}

// Clone returns an independent copy. Tables hand out clones only, so
// callers can never alias table-owned state.
func (p *LogicalPosition) Clone() LogicalPosition {
	cp := *p
	return cp
}

// Notional is the position value at entry.
func (p *LogicalPosition) Notional() float64 {
	return p.EntryPrice * p.SizeContracts
}

// PhysicalPosition is the last-known aggregated exchange position for one
// side. Derived, not authoritative: recomputed from the logical set after
// every open/close and periodically re-synced from the exchange in live mode.
type PhysicalPosition struct {
	Side                Side      `json:"side"`
	AvgEntryPrice       float64   `json:"avg_entry_price"`
	TotalSize           float64   `json:"total_size"`
	TotalMargin         float64   `json:"total_margin"`
	EstLiquidationPrice float64   `json:"estimated_liquidation_price,omitempty"`
	UpdatedAt           time.Time `json:"last_update_timestamp"`
}

func (p PhysicalPosition) Empty() bool { return p.TotalSize <= 0 }

// ExitReason tags a terminal position record.
type ExitReason string

const (
	ExitStopLoss     ExitReason = "SL"
	ExitTrailingStop ExitReason = "TS"
	ExitTakeProfit   ExitReason = "TP"
	ExitManual       ExitReason = "MANUAL"
	ExitUnknown      ExitReason = "UNKNOWN"
)
