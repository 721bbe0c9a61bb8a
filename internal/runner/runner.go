package runner

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"perp_bot/internal/engine/manager"
	"perp_bot/internal/exchange"
	"perp_bot/internal/models"
	"perp_bot/internal/modules/config"
	healthsvc "perp_bot/internal/modules/health/service"
	metricssvc "perp_bot/internal/modules/metrics/service"
	"perp_bot/internal/notify"
	"perp_bot/pkg/logger"
)

// Runner drives the engine: one goroutine consumes the ticker stream and
// runs the tick pipeline (milestones, risk sweep, signal, guarded open),
// one consumes operator interventions, one keeps the health surface fresh.
// Interventions never touch the engine directly from the notifier thread;
// they arrive here as typed events and are applied between ticks through
// the manager's own locking.
type Runner struct {
	cfg      *config.Config
	mgr      *manager.Manager
	client   *exchange.Client
	signals  SignalSource
	trend    TrendEvaluator
	notifier notify.Notifier
	state    *healthsvc.State
	metrics  *metricssvc.Metrics
	events   <-chan models.Intervention

	lastPrice atomic.Uint64 // float64 bits of the latest tick price
	trendMode models.TradingMode

	cancel context.CancelFunc
}

// confirmTimeout bounds the operator confirmation wait on destructive
// interventions. Timing out denies.
const confirmTimeout = 30 * time.Second

func New(
	cfg *config.Config,
	mgr *manager.Manager,
	client *exchange.Client,
	signals SignalSource,
	trend TrendEvaluator,
	notifier notify.Notifier,
	state *healthsvc.State,
	metrics *metricssvc.Metrics,
	events <-chan models.Intervention,
) *Runner {
	return &Runner{
		cfg:      cfg,
		mgr:      mgr,
		client:   client,
		signals:  signals,
		trend:    trend,
		notifier: notifier,
		state:    state,
		metrics:  metrics,
		events:   events,
	}
}

// Start initializes the session and launches the loops.
func (r *Runner) Start(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	r.cancel = cancel

	mode := models.TradingMode(r.cfg.Session.TradingMode)
	balances := map[models.Side]float64{
		models.SideLong:  r.cfg.Balances.Long,
		models.SideShort: r.cfg.Balances.Short,
	}
	ok, msg := r.mgr.Initialize(mode, balances, r.cfg.Session.BaseSizeUSDT, r.cfg.Session.MaxSlots)
	if !ok {
		return fmt.Errorf("runner: initialize: %s", msg)
	}
	r.trendMode = mode
	r.state.SetReady(true)
	r.notifier.Sendf("session started: %s %s, capital %.2f/%.2f",
		r.cfg.Exchange.Symbol, mode, r.cfg.Balances.Long, r.cfg.Balances.Short)

	go r.tickLoop(ctx)
	go r.interventionLoop(ctx)
	go r.healthLoop(ctx)
	return nil
}

func (r *Runner) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
}

func (r *Runner) tickLoop(ctx context.Context) {
	stream := r.client.TickerStream(ctx, r.cfg.Exchange.Symbol)
	r.state.SetStreamConnected(true)
	defer r.state.SetStreamConnected(false)

	for {
		select {
		case <-ctx.Done():
			return
		case tick, ok := <-stream:
			if !ok {
				logger.Error("runner: ticker stream closed")
				return
			}
			r.onTick(ctx, tick)
		}
	}
}

// onTick is the pipeline. Ordering matters: milestones may start or end an
// operation, then every SL/TS close completes before a new open is
// considered, so freed margin is usable by this tick's open and a position
// can never be closed and reopened out of order.
func (r *Runner) onTick(ctx context.Context, tick models.Tick) {
	r.lastPrice.Store(math.Float64bits(tick.Price))
	r.state.TouchTick(tick.At)
	r.metrics.LastTickUnix.Set(float64(tick.At.Unix()))

	// Market-regime hook: regate the sides when the evaluator's verdict moves.
	if r.trend != nil {
		if mode := r.trend.Mode(tick); mode.Valid() && mode != r.trendMode {
			r.trendMode = mode
			if ok, msg := r.mgr.SetMode(mode); !ok {
				logger.Error("runner: trend regate: %s", msg)
			} else {
				r.notifier.Sendf("trend shifted, trading mode now %s", mode)
			}
		}
	}

	r.mgr.EvaluateMilestones(ctx, tick.Price, tick.At)

	for _, rec := range r.mgr.CheckAndClosePositions(ctx, tick.Price, tick.At) {
		r.notifier.Sendf("closed %s [%s] net %.4f USDT at %.4f",
			rec.Side, rec.ExitReason, rec.PnLNetUSDT, rec.ExitPrice)
	}

	sig := r.signals.Next(tick)
	if ok, msg := r.mgr.HandleLowLevelSignal(ctx, sig, tick.Price, tick.At); !ok {
		logger.Error("runner: signal %s: %s", sig, msg)
	}

	if stopped, reason := r.mgr.SessionStopped(); stopped && !r.state.SessionStopped() {
		r.state.SetSessionStopped(true)
		r.notifier.Send("session stopped: " + reason)
	}
}

func (r *Runner) interventionLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-r.events:
			r.apply(ctx, ev)
		}
	}
}

func (r *Runner) apply(ctx context.Context, ev models.Intervention) {
	price := math.Float64frombits(r.lastPrice.Load())
	now := time.Now()
	if price <= 0 && (ev.Kind == models.InterventionManualClose ||
		ev.Kind == models.InterventionCloseAll ||
		ev.Kind == models.InterventionForceMilestone) {
		r.notifier.Send("no market price yet, try again after the first tick")
		return
	}

	var ok bool
	var msg string
	switch ev.Kind {
	case models.InterventionManualClose:
		if !r.notifier.Confirm(ctx, fmt.Sprintf("Close %s[%d] at %.4f?", ev.Side, ev.Index, price), confirmTimeout) {
			r.notifier.Send("close not confirmed, skipped")
			return
		}
		ok, msg = r.mgr.ManualClose(ctx, ev.Side, ev.Index, price, now)
	case models.InterventionCloseAll:
		if !r.notifier.Confirm(ctx, fmt.Sprintf("Flatten every %s position at %.4f?", ev.Side, price), confirmTimeout) {
			r.notifier.Send("close-all not confirmed, skipped")
			return
		}
		ok, msg = r.mgr.CloseAll(ctx, ev.Side, price, now)
	case models.InterventionAddSlot:
		ok, msg = r.mgr.AddSlot()
	case models.InterventionRemoveSlot:
		ok, msg = r.mgr.RemoveSlot()
	case models.InterventionSetMode:
		ok, msg = r.mgr.SetMode(ev.Mode)
	case models.InterventionForceMilestone:
		ok, msg = r.mgr.ForceTriggerMilestone(ctx, ev.MilestoneID, price, now)
	default:
		ok, msg = false, fmt.Sprintf("unknown intervention %q", ev.Kind)
	}

	if ok {
		r.notifier.Sendf("%s: %s", ev.Kind, msg)
	} else {
		r.notifier.Sendf("%s failed: %s", ev.Kind, msg)
	}
}

func (r *Runner) healthLoop(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sum := r.mgr.Summary(time.Now())
			logger.Info("runner: pnl=%.4f profit=%.4f long=%d short=%d stopped=%v",
				sum.SessionPnL, sum.ProfitBalance,
				sum.Sides[models.SideLong].OpenSlots,
				sum.Sides[models.SideShort].OpenSlots,
				sum.SessionStopped)
		}
	}
}

// Status renders the /status reply.
func (r *Runner) Status() string {
	sum := r.mgr.Summary(time.Now())

	var b strings.Builder
	fmt.Fprintf(&b, "mode=%s slots=%d pnl=%.4f profit=%.4f\n",
		sum.Mode, sum.MaxSlots, sum.SessionPnL, sum.ProfitBalance)
	if sum.SessionStopped {
		fmt.Fprintf(&b, "STOPPED: %s\n", sum.StopReason)
	}
	if sum.Operation != nil {
		fmt.Fprintf(&b, "operation %s: roi=%.2f%% trades=%d\n",
			sum.Operation.ID, sum.Operation.ROIPct(), sum.Operation.TradeCount)
	}
	for _, side := range models.Sides() {
		s := sum.Sides[side]
		fmt.Fprintf(&b, "%s: %d open, used %.2f / %.2f\n",
			side, s.OpenSlots, s.UsedMargin, s.OperationalMargin)
		for i, p := range s.Positions {
			fmt.Fprintf(&b, "  [%d] entry=%.4f size=%.6f sl=%.4f ts=%v\n",
				i, p.EntryPrice, p.SizeContracts, p.StopLossPrice, p.TrailActive)
		}
	}
	return b.String()
}
