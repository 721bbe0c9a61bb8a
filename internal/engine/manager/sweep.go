package manager

import (
	"context"
	"fmt"
	"strings"
	"time"

	"perp_bot/internal/models"
	"perp_bot/pkg/logger"
)

// trigger is one position due for closing, identified by id: indices shift
// as closes land, so the index is resolved at close time.
type trigger struct {
	side   models.Side
	id     string
	reason models.ExitReason
}

// CheckAndClosePositions is the per-tick risk sweep. For every open
// position the fixed stop-loss is checked first; only if it is not hit does
// the trailing-stop state advance and get checked. All triggers are
// collected under the snapshot, then executed in a second pass. Returns the
// terminal records of the positions closed this tick.
func (m *Manager) CheckAndClosePositions(ctx context.Context, price float64, ts time.Time) []*models.TerminalRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized || price <= 0 {
		return nil
	}

	var triggers []trigger
	for _, side := range models.Sides() {
		for _, pos := range m.tables[side].Snapshot() {
			if reason, hit := m.evaluatePosition(side, pos, price); hit {
				triggers = append(triggers, trigger{side: side, id: pos.ID, reason: reason})
			}
		}
	}

	var closed []*models.TerminalRecord
	for _, tr := range triggers {
		idx := m.tables[tr.side].IndexOf(tr.id)
		if idx < 0 {
			continue
		}
		rec, err := m.exec.ExecuteClose(ctx, tr.side, idx, price, ts, tr.reason)
		if err != nil {
			logger.Error("manager: sweep close %s %s failed: %v", tr.side, tr.id, err)
			continue
		}
		if rec != nil {
			m.recordCloseLocked(rec)
			closed = append(closed, rec)
		}
	}
	return closed
}

// evaluatePosition decides whether one position must close at this price,
// advancing its trailing-stop sub-state as a side effect.
func (m *Manager) evaluatePosition(side models.Side, pos models.LogicalPosition, price float64) (models.ExitReason, bool) {
	if pos.StopLossPrice > 0 && stopHit(side, price, pos.StopLossPrice) {
		return models.ExitStopLoss, true
	}

	actPct, distPct := m.opts.TrailActivationPct, m.opts.TrailDistancePct
	if op := m.operation; op != nil {
		if op.Config.TrailActivationPct > 0 {
			actPct = op.Config.TrailActivationPct
		}
		if op.Config.TrailDistancePct > 0 {
			distPct = op.Config.TrailDistancePct
		}
	}
	if distPct <= 0 {
		return "", false
	}

	if !pos.TrailActive {
		if actPct <= 0 || !activationHit(side, pos.EntryPrice, price, actPct) {
			return "", false
		}
		stop := trailStop(side, price, distPct)
		m.tables[side].Update(pos.ID, func(p *models.LogicalPosition) {
			p.TrailActive = true
			p.TrailPeak = price
			p.TrailStop = stop
		})
		return "", false
	}

	// Ratchet: the peak follows the favorable extreme, the stop only ever
	// moves in the position's favor.
	stop := pos.TrailStop
	if peakImproved(side, pos.TrailPeak, price) {
		next := trailStop(side, price, distPct)
		if stopImproved(side, stop, next) {
			stop = next
		}
		m.tables[side].Update(pos.ID, func(p *models.LogicalPosition) {
			p.TrailPeak = price
			p.TrailStop = stop
		})
	}
	if stopHit(side, price, stop) {
		return models.ExitTrailingStop, true
	}
	return "", false
}

func stopHit(side models.Side, price, stop float64) bool {
	if side == models.SideLong {
		return price <= stop
	}
	return price >= stop
}

func activationHit(side models.Side, entry, price, actPct float64) bool {
	if side == models.SideLong {
		return price >= entry*(1+actPct/100)
	}
	return price <= entry*(1-actPct/100)
}

func trailStop(side models.Side, peak, distPct float64) float64 {
	if side == models.SideLong {
		return peak * (1 - distPct/100)
	}
	return peak * (1 + distPct/100)
}

func peakImproved(side models.Side, peak, price float64) bool {
	if side == models.SideLong {
		return price > peak
	}
	return price < peak
}

func stopImproved(side models.Side, cur, next float64) bool {
	if side == models.SideLong {
		return next > cur
	}
	return next < cur
}

// ManualClose closes one position by its current index.
func (m *Manager) ManualClose(ctx context.Context, side models.Side, index int, price float64, ts time.Time) (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return false, "engine not initialized"
	}
	if !side.Valid() {
		return false, fmt.Sprintf("invalid side %q", side)
	}
	rec, err := m.exec.ExecuteClose(ctx, side, index, price, ts, models.ExitManual)
	if err != nil {
		return false, err.Error()
	}
	if rec == nil {
		return true, "position already closed"
	}
	m.recordCloseLocked(rec)
	return true, fmt.Sprintf("closed %s net=%.4f", rec.ID, rec.PnLNetUSDT)
}

// CloseAll flattens one side. A failed close does not stop the remaining
// ones; overall success requires every individual close to succeed.
func (m *Manager) CloseAll(ctx context.Context, side models.Side, price float64, ts time.Time) (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return false, "engine not initialized"
	}
	if !side.Valid() {
		return false, fmt.Sprintf("invalid side %q", side)
	}
	return m.closeAllLocked(ctx, side, price, ts)
}

func (m *Manager) closeAllLocked(ctx context.Context, side models.Side, price float64, ts time.Time) (bool, string) {
	snap := m.tables[side].Snapshot()
	var failures []string
	closedN := 0
	for _, pos := range snap {
		idx := m.tables[side].IndexOf(pos.ID)
		if idx < 0 {
			continue
		}
		rec, err := m.exec.ExecuteClose(ctx, side, idx, price, ts, models.ExitManual)
		if err != nil {
			logger.Error("manager: close-all %s %s failed: %v", side, pos.ID, err)
			failures = append(failures, pos.ID)
			continue
		}
		if rec != nil {
			m.recordCloseLocked(rec)
			closedN++
		}
	}
	if len(failures) > 0 {
		return false, fmt.Sprintf("closed %d of %d, failed: %s",
			closedN, len(snap), strings.Join(failures, ", "))
	}
	return true, fmt.Sprintf("closed %d positions on %s", closedN, side)
}

// recordCloseLocked folds one terminal record into session and operation
// accounting and trips the breakers.
func (m *Manager) recordCloseLocked(rec *models.TerminalRecord) {
	m.sessionPnL += rec.PnLNetUSDT

	if op := m.operation; op != nil {
		op.RealizedPnL += rec.PnLNetUSDT
		if op.Config.ROITargetPct > 0 && !op.TakeProfitHit && op.ROIPct() >= op.Config.ROITargetPct {
			op.TakeProfitHit = true
			logger.Info("manager: operation %s hit ROI target %.2f%%", op.ID, op.Config.ROITargetPct)
		}
	}

	if !m.sessionStopped && m.sessionCapital > 0 {
		roi := m.sessionPnL / m.sessionCapital * 100
		switch {
		case m.opts.SessionStopLossROIPct > 0 && roi <= -m.opts.SessionStopLossROIPct:
			m.sessionStopped = true
			m.stopReason = fmt.Sprintf("session stop-loss: ROI %.2f%%", roi)
		case m.opts.SessionTakeProfitROIPct > 0 && roi >= m.opts.SessionTakeProfitROIPct:
			m.sessionStopped = true
			m.stopReason = fmt.Sprintf("session take-profit: ROI %.2f%%", roi)
		}
		if m.sessionStopped {
			logger.Info("manager: %s", m.stopReason)
		}
	}

	if m.metrics != nil {
		m.metrics.Closes.WithLabelValues(string(rec.Side), string(rec.ExitReason)).Inc()
	}
	m.refreshMetricsLocked()
}
