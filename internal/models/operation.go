package models

import "time"

// OperationConfig is the risk/sizing profile of one bounded trading
// campaign. A milestone's initialization action carries one of these;
// while the operation is active its fields override session defaults.
type OperationConfig struct {
	Tendency           TradingMode   `json:"tendency" yaml:"tendency"`
	BaseSizeUSDT       float64       `json:"base_position_size_usdt" yaml:"base_position_size_usdt"`
	MaxSlots           int           `json:"max_slots" yaml:"max_slots"`
	Leverage           int           `json:"leverage" yaml:"leverage"`
	StopLossPct        float64       `json:"individual_stop_loss_pct" yaml:"individual_stop_loss_pct"`
	TrailActivationPct float64       `json:"trailing_stop_activation_pct" yaml:"trailing_stop_activation_pct"`
	TrailDistancePct   float64       `json:"trailing_stop_distance_pct" yaml:"trailing_stop_distance_pct"`

	// Finalization thresholds, disjunctive: any one ends the operation.
	ROITargetPct float64       `json:"roi_target_pct" yaml:"roi_target_pct"`
	MaxTrades    int           `json:"max_trades" yaml:"max_trades"`
	MaxDuration  time.Duration `json:"max_duration" yaml:"max_duration"`
}

// Operation is the dynamic state of a running campaign.
type Operation struct {
	ID             string          `json:"id"`
	Config         OperationConfig `json:"config"`
	CapitalInitial float64         `json:"capital_inicial"`
	RealizedPnL    float64         `json:"pnl_realizado"`
	TradeCount     int             `json:"trade_count"`
	StartedAt      time.Time       `json:"start_time"`

	// Set once the ROI target is reached; blocks further opens until a
	// new operation starts.
	TakeProfitHit bool `json:"take_profit_hit"`
}

// ROIPct is realized PnL relative to the capital the operation started with.
func (o *Operation) ROIPct() float64 {
	if o.CapitalInitial <= 0 {
		return 0
	}
	return o.RealizedPnL / o.CapitalInitial * 100
}

func (o *Operation) Clone() *Operation {
	if o == nil {
		return nil
	}
	cp := *o
	return &cp
}
