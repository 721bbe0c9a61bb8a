package models

import "time"

// TerminalRecord is the JSON-Lines record emitted once per closed position.
// The file is append-only and reset at session start.
type TerminalRecord struct {
	ID               string     `json:"id"`
	Side             Side       `json:"side"`
	EntryTimestamp   time.Time  `json:"entry_timestamp"`
	ExitTimestamp    time.Time  `json:"exit_timestamp"`
	DurationSeconds  float64    `json:"duration_seconds"`
	EntryPrice       float64    `json:"entry_price"`
	ExitPrice        float64    `json:"exit_price"`
	SizeContracts    float64    `json:"size_contracts"`
	MarginUSDT       float64    `json:"margin_usdt"`
	Leverage         int        `json:"leverage"`
	PnLGrossUSDT     float64    `json:"pnl_gross_usdt"`
	CommissionUSDT   float64    `json:"commission_usdt"`
	PnLNetUSDT       float64    `json:"pnl_net_usdt"`
	ReinvestUSDT     float64    `json:"reinvest_usdt"`
	TransferUSDT     float64    `json:"transfer_usdt"`
	APICloseOrderID  string     `json:"api_close_order_id"`
	ExitReason       ExitReason `json:"exit_reason"`
}

// SideSummary is the per-side slice of the open-position snapshot.
type SideSummary struct {
	OperationalMargin float64           `json:"operational_margin"`
	UsedMargin        float64           `json:"used_margin"`
	AvailableMargin   float64           `json:"available_margin"`
	OpenSlots         int               `json:"open_slots"`
	Positions         []LogicalPosition `json:"positions"`
	Physical          PhysicalPosition  `json:"physical"`
}

// PositionSummary is the full engine snapshot written to the snapshot file
// and returned by the orchestrator's public surface.
type PositionSummary struct {
	Timestamp      time.Time            `json:"timestamp"`
	Mode           TradingMode          `json:"trading_mode"`
	MaxSlots       int                  `json:"max_logical_positions"`
	ProfitBalance  float64              `json:"profit_balance"`
	SessionPnL     float64              `json:"session_pnl"`
	SessionStopped bool                 `json:"session_stopped"`
	StopReason     string               `json:"session_stop_reason,omitempty"`
	Operation      *Operation           `json:"operation,omitempty"`
	Sides          map[Side]SideSummary `json:"sides"`
}
