package manager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"perp_bot/internal/engine/executor"
	"perp_bot/internal/engine/ledger"
	"perp_bot/internal/engine/milestone"
	"perp_bot/internal/engine/physical"
	"perp_bot/internal/engine/table"
	"perp_bot/internal/exchange"
	"perp_bot/internal/journal"
	"perp_bot/internal/models"
	"perp_bot/internal/modules/metrics/service"
	"perp_bot/pkg/logger"
)

// Options is the session-level configuration. An active operation may
// override the sizing and risk fields for its duration.
type Options struct {
	Mode         models.TradingMode
	BaseSizeUSDT float64
	MaxSlots     int
	Leverage     int

	StopLossPct        float64
	TrailActivationPct float64
	TrailDistancePct   float64

	// Session-level disjunctive breaker, ROI percent magnitudes. Zero
	// disables a clause.
	SessionStopLossROIPct   float64
	SessionTakeProfitROIPct float64

	// Live pre-open verification gate. BalanceToleranceUSDT is the slack
	// allowed between the venue wallet equity and the ledger's operational
	// capital before an open is refused.
	Live                 bool
	PreOpenReconcile     bool
	SizeTolerance        float64
	BalanceToleranceUSDT float64
}

// Manager is the orchestrator: it owns the guardian rule-set, the per-tick
// risk sweep, slot management and the milestone/operation lifecycle. All
// public methods return (ok, message) instead of raising, so loops and
// operator surfaces always keep running. One mutex serializes the tick
// pipeline against interventions.
type Manager struct {
	mu   sync.Mutex
	opts Options

	initialized    bool
	mode           models.TradingMode
	baseSize       float64
	maxSlots       int
	sessionCapital float64
	sessionPnL     float64
	sessionStopped bool
	stopReason     string
	operation      *models.Operation

	ledger  *ledger.Ledger
	tables  map[models.Side]*table.Table
	cache   *physical.Cache
	exec    *executor.Executor
	tree    *milestone.Tree
	adapter exchange.Adapter

	metrics  *service.Metrics        // optional
	snapshot *journal.SnapshotWriter // optional
}

func New(
	opts Options,
	led *ledger.Ledger,
	tables map[models.Side]*table.Table,
	cache *physical.Cache,
	exec *executor.Executor,
	tree *milestone.Tree,
	adapter exchange.Adapter,
	metrics *service.Metrics,
	snapshot *journal.SnapshotWriter,
) *Manager {
	return &Manager{
		opts:     opts,
		mode:     opts.Mode,
		baseSize: opts.BaseSizeUSDT,
		maxSlots: opts.MaxSlots,
		ledger:   led,
		tables:   tables,
		cache:    cache,
		exec:     exec,
		tree:     tree,
		adapter:  adapter,
		metrics:  metrics,
		snapshot: snapshot,
	}
}

// Initialize funds the per-side operational margin from the real balances
// and arms the session. Until it succeeds every other method refuses.
func (m *Manager) Initialize(mode models.TradingMode, realBalances map[models.Side]float64, baseSize float64, maxSlots int) (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized {
		return false, "already initialized"
	}
	if !mode.Valid() {
		return false, fmt.Sprintf("invalid trading mode %q", mode)
	}
	if baseSize <= 0 || maxSlots <= 0 {
		return false, fmt.Sprintf("invalid sizing: base=%v slots=%d", baseSize, maxSlots)
	}

	var total float64
	for _, side := range models.Sides() {
		bal := realBalances[side]
		if bal < 0 {
			return false, fmt.Sprintf("negative balance for %s", side)
		}
		m.ledger.ResizeOperational(side, bal)
		total += bal
	}
	if total <= 0 {
		return false, "no capital assigned"
	}

	m.mode = mode
	m.baseSize = baseSize
	m.maxSlots = maxSlots
	m.sessionCapital = total
	m.initialized = true

	if m.snapshot != nil {
		if err := m.snapshot.Reset(m.summaryLocked(time.Now())); err != nil {
			logger.Error("manager: snapshot reset: %v", err)
		}
	}
	logger.Info("manager: initialized mode=%s capital=%.2f base=%.2f slots=%d",
		mode, total, baseSize, maxSlots)
	return true, "initialized"
}

// CanOpen runs the guardian rule-set in order, short-circuiting on the
// first failing rule. The message names the blocking rule.
func (m *Manager) CanOpen(ctx context.Context, side models.Side) (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.canOpenLocked(ctx, side)
}

func (m *Manager) canOpenLocked(ctx context.Context, side models.Side) (bool, string) {
	if !m.initialized {
		return m.blocked(side, "uninitialized", "engine not initialized")
	}
	if !side.Valid() {
		return m.blocked(side, "side", fmt.Sprintf("invalid side %q", side))
	}

	// 1. Session breaker.
	if m.sessionStopped {
		return m.blocked(side, "session_breaker", "session stopped: "+m.stopReason)
	}
	// 2. Mode gating.
	if !m.mode.Allows(side) {
		return m.blocked(side, "mode", fmt.Sprintf("mode %s blocks %s opens", m.mode, side))
	}
	// 3. Operation trade-count limit.
	if op := m.operation; op != nil && op.Config.MaxTrades > 0 && op.TradeCount >= op.Config.MaxTrades {
		return m.blocked(side, "trade_count", fmt.Sprintf("operation trade limit %d reached", op.Config.MaxTrades))
	}
	// 4. Operation ROI target.
	if op := m.operation; op != nil && op.TakeProfitHit {
		return m.blocked(side, "roi_target", "operation take-profit hit")
	}
	// 5. Slot limit.
	if m.tables[side].Count() >= m.maxSlots {
		return m.blocked(side, "slots", fmt.Sprintf("all %d slots open on %s", m.maxSlots, side))
	}
	// 6. Capital.
	avail := m.ledger.AvailableMargin(side)
	if need := m.slotSizeLocked(side); avail < need {
		return m.blocked(side, "margin", fmt.Sprintf("available %.4f below slot size %.4f", avail, need))
	}
	// 7. Live pre-open reconciliation: the venue wallet must cover the
	// ledger's operational capital, and the physical position must agree
	// with the logical set.
	if m.opts.Live && m.opts.PreOpenReconcile {
		wb, err := m.adapter.WalletBalance(ctx, "")
		if err != nil {
			return m.blocked(side, "reconcile", fmt.Sprintf("wallet check failed: %v", err))
		}
		var ledgerCapital float64
		for _, s := range models.Sides() {
			operational, _ := m.ledger.Balances(s)
			ledgerCapital += operational
		}
		if wb.Equity+m.opts.BalanceToleranceUSDT < ledgerCapital {
			return m.blocked(side, "reconcile", fmt.Sprintf(
				"wallet equity %.4f below ledger capital %.4f", wb.Equity, ledgerCapital))
		}
		if m.cache.Diverged(side, m.tables[side].TotalSize(), m.opts.SizeTolerance) {
			return m.blocked(side, "reconcile", "physical position diverged from logical")
		}
	}
	return true, "ok"
}

func (m *Manager) blocked(side models.Side, rule, msg string) (bool, string) {
	if m.metrics != nil {
		m.metrics.BlockedOpens.WithLabelValues(string(side), rule).Inc()
	}
	return false, msg
}

// SlotSize is the dynamic per-position margin: capital freed by closes
// raises the size of the next open instead of sitting idle.
func (m *Manager) SlotSize(side models.Side) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.slotSizeLocked(side)
}

func (m *Manager) slotSizeLocked(side models.Side) float64 {
	size := m.baseSize
	if m.maxSlots > 0 {
		if dyn := m.ledger.AvailableMargin(side) / float64(m.maxSlots); dyn > size {
			size = dyn
		}
	}
	return size
}

// HandleLowLevelSignal consults the guardian chain and opens on BUY/SELL.
// HOLD and blocked opens are quiet successes from the loop's point of view.
func (m *Manager) HandleLowLevelSignal(ctx context.Context, sig models.Signal, price float64, ts time.Time) (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return false, "engine not initialized"
	}

	var side models.Side
	switch sig {
	case models.SignalBuy:
		side = models.SideLong
	case models.SignalSell:
		side = models.SideShort
	case models.SignalHold:
		return true, "hold"
	default:
		return false, fmt.Sprintf("unknown signal %q", sig)
	}

	if ok, msg := m.canOpenLocked(ctx, side); !ok {
		logger.Info("manager: open %s blocked: %s", side, msg)
		return true, "blocked: " + msg
	}
	return m.openLocked(ctx, side, price, ts)
}

func (m *Manager) openLocked(ctx context.Context, side models.Side, price float64, ts time.Time) (bool, string) {
	lev, slPct := m.opts.Leverage, m.opts.StopLossPct
	if op := m.operation; op != nil {
		if op.Config.Leverage > 0 {
			lev = op.Config.Leverage
		}
		if op.Config.StopLossPct > 0 {
			slPct = op.Config.StopLossPct
		}
	}

	pos, err := m.exec.ExecuteOpen(ctx, executor.OpenRequest{
		Side:        side,
		Price:       price,
		Time:        ts,
		MarginUSDT:  m.slotSizeLocked(side),
		Leverage:    lev,
		StopLossPct: slPct,
	})
	if err != nil {
		logger.Error("manager: open %s at %.4f failed: %v", side, price, err)
		return false, err.Error()
	}

	if m.operation != nil {
		m.operation.TradeCount++
	}
	if m.metrics != nil {
		m.metrics.Opens.WithLabelValues(string(side)).Inc()
	}
	m.refreshMetricsLocked()
	logger.Info("manager: opened %s %s size=%.6f margin=%.4f at %.4f",
		side, pos.ID, pos.SizeContracts, pos.MarginUSDT, price)
	return true, pos.ID
}

// AddSlot raises the per-side slot limit and backs the new slot with base
// capital on both sides.
func (m *Manager) AddSlot() (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return false, "engine not initialized"
	}
	m.maxSlots++
	for _, side := range models.Sides() {
		op, _ := m.ledger.Balances(side)
		m.ledger.ResizeOperational(side, op+m.baseSize)
	}
	m.refreshMetricsLocked()
	return true, fmt.Sprintf("max slots now %d", m.maxSlots)
}

// RemoveSlot lowers the limit, refusing to drop below the current open
// count on either side.
func (m *Manager) RemoveSlot() (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return false, "engine not initialized"
	}
	if m.maxSlots <= 1 {
		return false, "cannot go below one slot"
	}
	for _, side := range models.Sides() {
		if m.tables[side].Count() >= m.maxSlots {
			return false, fmt.Sprintf("%d positions open on %s", m.tables[side].Count(), side)
		}
	}
	m.maxSlots--
	for _, side := range models.Sides() {
		op, _ := m.ledger.Balances(side)
		next := op - m.baseSize
		if next < 0 {
			next = 0
		}
		m.ledger.ResizeOperational(side, next)
	}
	m.refreshMetricsLocked()
	return true, fmt.Sprintf("max slots now %d", m.maxSlots)
}

// SetMode switches the side gating.
func (m *Manager) SetMode(mode models.TradingMode) (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return false, "engine not initialized"
	}
	if !mode.Valid() {
		return false, fmt.Sprintf("invalid trading mode %q", mode)
	}
	m.mode = mode
	logger.Info("manager: trading mode set to %s", mode)
	return true, "mode " + string(mode)
}

// Summary builds the full engine snapshot and appends it to the snapshot
// file when one is configured.
func (m *Manager) Summary(now time.Time) *models.PositionSummary {
	m.mu.Lock()
	defer m.mu.Unlock()

	sum := m.summaryLocked(now)
	if m.snapshot != nil {
		if err := m.snapshot.Append(sum); err != nil {
			logger.Error("manager: snapshot append: %v", err)
		}
	}
	return sum
}

func (m *Manager) summaryLocked(now time.Time) *models.PositionSummary {
	sides := make(map[models.Side]models.SideSummary, 2)
	for _, side := range models.Sides() {
		operational, used := m.ledger.Balances(side)
		phys, _ := m.cache.Get(side)
		sides[side] = models.SideSummary{
			OperationalMargin: operational,
			UsedMargin:        used,
			AvailableMargin:   operational - used,
			OpenSlots:         m.tables[side].Count(),
			Positions:         m.tables[side].Snapshot(),
			Physical:          phys,
		}
	}
	return &models.PositionSummary{
		Timestamp:      now,
		Mode:           m.mode,
		MaxSlots:       m.maxSlots,
		ProfitBalance:  m.ledger.ProfitBalance(),
		SessionPnL:     m.sessionPnL,
		SessionStopped: m.sessionStopped,
		StopReason:     m.stopReason,
		Operation:      m.operation.Clone(),
		Sides:          sides,
	}
}

// SessionStopped reports whether the session breaker has tripped.
func (m *Manager) SessionStopped() (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionStopped, m.stopReason
}

func (m *Manager) refreshMetricsLocked() {
	if m.metrics == nil {
		return
	}
	for _, side := range models.Sides() {
		_, used := m.ledger.Balances(side)
		m.metrics.UsedMargin.WithLabelValues(string(side)).Set(used)
		m.metrics.OpenSlots.WithLabelValues(string(side)).Set(float64(m.tables[side].Count()))
	}
	m.metrics.ProfitBalance.Set(m.ledger.ProfitBalance())
	m.metrics.SessionPnL.Set(m.sessionPnL)
}
