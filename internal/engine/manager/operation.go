package manager

import (
	"context"
	"fmt"
	"time"

	"perp_bot/internal/engine/milestone"
	"perp_bot/internal/models"
	"perp_bot/pkg/logger"

	"github.com/google/uuid"
)

// Milestone and operation lifecycle. Milestones gate when operations start
// and end; the active operation overrides session sizing and risk settings
// until it finishes.

// AddMilestone inserts a node into the scenario tree. The returned message
// carries the assigned id on success.
func (m *Manager) AddMilestone(parentID string, ms milestone.Milestone) (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, err := m.tree.Add(parentID, ms)
	if err != nil {
		return false, err.Error()
	}
	logger.Info("manager: milestone %q added as %s", ms.Name, id)
	return true, id
}

// RemoveMilestone deletes a milestone and its subtree.
func (m *Manager) RemoveMilestone(id string) (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.tree.Remove(id) {
		return false, fmt.Sprintf("milestone %s not found", id)
	}
	return true, "removed"
}

// Milestones returns the flattened tree for status display.
func (m *Manager) Milestones() []milestone.View {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tree.Snapshot()
}

// ForceTriggerMilestone fires a milestone by operator command.
func (m *Manager) ForceTriggerMilestone(ctx context.Context, id string, price float64, ts time.Time) (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return false, "engine not initialized"
	}
	fired, err := m.tree.ForceTrigger(id)
	if err != nil {
		return false, err.Error()
	}
	m.applyFiredLocked(ctx, fired, price, ts)
	return true, fmt.Sprintf("milestone %q triggered", fired.Name)
}

// EvaluateMilestones runs the tree against the tick and applies whatever
// fires. Called once per tick, before the risk sweep.
func (m *Manager) EvaluateMilestones(ctx context.Context, price float64, ts time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return
	}
	for _, fired := range m.tree.Evaluate(price, ts, m.operation) {
		m.applyFiredLocked(ctx, fired, price, ts)
	}
}

func (m *Manager) applyFiredLocked(ctx context.Context, f milestone.Fired, price float64, ts time.Time) {
	logger.Info("manager: milestone %q fired (%s)", f.Name, f.Type)
	switch f.Type {
	case milestone.TypeInitialization:
		if f.Action.Operation == nil {
			logger.Error("manager: initialization milestone %q carries no operation", f.Name)
			return
		}
		m.startOperationLocked(*f.Action.Operation, ts)
	case milestone.TypeFinalization:
		if f.Action.ClosePositions {
			for _, side := range models.Sides() {
				if ok, msg := m.closeAllLocked(ctx, side, price, ts); !ok {
					logger.Error("manager: finalization close-all %s: %s", side, msg)
				}
			}
		}
		m.endOperationLocked()
	}
}

// startOperationLocked begins a campaign. Open positions carry over; the
// operation's config overrides session mode and sizing for its duration.
func (m *Manager) startOperationLocked(cfg models.OperationConfig, ts time.Time) {
	if m.operation != nil {
		logger.Info("manager: operation %s superseded", m.operation.ID)
	}

	var capital float64
	for _, side := range models.Sides() {
		operational, _ := m.ledger.Balances(side)
		capital += operational
	}

	m.operation = &models.Operation{
		ID:             uuid.NewString(),
		Config:         cfg,
		CapitalInitial: capital,
		StartedAt:      ts,
	}
	if cfg.Tendency.Valid() {
		m.mode = cfg.Tendency
	}
	if cfg.BaseSizeUSDT > 0 {
		m.baseSize = cfg.BaseSizeUSDT
	}
	if cfg.MaxSlots > 0 {
		m.maxSlots = cfg.MaxSlots
	}
	logger.Info("manager: operation %s started, tendency=%s capital=%.2f",
		m.operation.ID, m.mode, capital)
}

// endOperationLocked closes the campaign and restores session defaults.
func (m *Manager) endOperationLocked() {
	if m.operation == nil {
		return
	}
	logger.Info("manager: operation %s ended, pnl=%.4f trades=%d",
		m.operation.ID, m.operation.RealizedPnL, m.operation.TradeCount)
	m.operation = nil
	m.mode = m.opts.Mode
	m.baseSize = m.opts.BaseSizeUSDT
	m.maxSlots = m.opts.MaxSlots
}

// Operation returns a copy of the running campaign, nil when none.
func (m *Manager) Operation() *models.Operation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.operation.Clone()
}
