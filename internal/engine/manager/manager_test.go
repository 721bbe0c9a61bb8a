package manager

import (
	"context"
	"os"
	"testing"
	"time"

	"perp_bot/internal/engine/executor"
	"perp_bot/internal/engine/ledger"
	"perp_bot/internal/engine/milestone"
	"perp_bot/internal/engine/physical"
	"perp_bot/internal/engine/table"
	"perp_bot/internal/exchange"
	"perp_bot/internal/models"
	"perp_bot/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	if err := logger.Init(); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

type fixture struct {
	sim    *exchange.Sim
	ledger *ledger.Ledger
	tables map[models.Side]*table.Table
	tree   *milestone.Tree
	mgr    *Manager
}

func newFixture(t *testing.T, mutate func(*Options)) *fixture {
	t.Helper()

	opts := Options{
		Mode:               models.ModeLongShort,
		BaseSizeUSDT:       10,
		MaxSlots:           2,
		Leverage:           5,
		StopLossPct:        5,
		TrailActivationPct: 1,
		TrailDistancePct:   0.5,
	}
	if mutate != nil {
		mutate(&opts)
	}

	f := &fixture{
		sim:    exchange.NewSim(1000),
		ledger: ledger.New(),
		tables: map[models.Side]*table.Table{
			models.SideLong:  table.New(models.SideLong),
			models.SideShort: table.New(models.SideShort),
		},
		tree: milestone.NewTree(),
	}
	cache := physical.NewCache()
	exec := executor.New(executor.Options{
		Symbol:           "BTCUSDT",
		Leverage:         opts.Leverage,
		QtyStep:          0.001,
		MinQty:           0.001,
		CommissionRate:   0.001,
		ReinvestFraction: 0.20,
	}, f.sim, f.ledger, f.tables, cache, nil, nil)

	f.mgr = New(opts, f.ledger, f.tables, cache, exec, f.tree, f.sim, nil, nil)
	return f
}

func initialize(t *testing.T, f *fixture) {
	t.Helper()
	ok, msg := f.mgr.Initialize(models.ModeLongShort,
		map[models.Side]float64{models.SideLong: 100, models.SideShort: 100}, 10, 2)
	require.True(t, ok, msg)
}

func open(t *testing.T, f *fixture, sig models.Signal, price float64) {
	t.Helper()
	ok, msg := f.mgr.HandleLowLevelSignal(context.Background(), sig, price, time.Now())
	require.True(t, ok, msg)
}

func TestRefusesBeforeInitialize(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	ok, _ := f.mgr.CanOpen(ctx, models.SideLong)
	assert.False(t, ok)
	ok, _ = f.mgr.AddSlot()
	assert.False(t, ok)
	ok, _ = f.mgr.ManualClose(ctx, models.SideLong, 0, 100, time.Now())
	assert.False(t, ok)
}

func TestInitializeValidation(t *testing.T) {
	f := newFixture(t, nil)

	ok, _ := f.mgr.Initialize("SIDEWAYS", nil, 10, 2)
	assert.False(t, ok)
	ok, _ = f.mgr.Initialize(models.ModeLongShort, map[models.Side]float64{}, 10, 2)
	assert.False(t, ok)

	initialize(t, f)
	ok, _ = f.mgr.Initialize(models.ModeLongShort,
		map[models.Side]float64{models.SideLong: 1}, 10, 2)
	assert.False(t, ok, "double initialize must refuse")
}

func TestSlotLimitEnforcement(t *testing.T) {
	f := newFixture(t, nil)
	initialize(t, f)
	ctx := context.Background()

	ok, _ := f.mgr.CanOpen(ctx, models.SideLong)
	require.True(t, ok)

	open(t, f, models.SignalBuy, 100)
	ok, _ = f.mgr.CanOpen(ctx, models.SideLong)
	require.True(t, ok, "one below the limit stays open")

	open(t, f, models.SignalBuy, 100)
	ok, msg := f.mgr.CanOpen(ctx, models.SideLong)
	require.False(t, ok)
	assert.Contains(t, msg, "slots")

	// Freeing a slot re-enables opens.
	ok, msg = f.mgr.ManualClose(ctx, models.SideLong, 0, 100, time.Now())
	require.True(t, ok, msg)
	ok, _ = f.mgr.CanOpen(ctx, models.SideLong)
	assert.True(t, ok)
}

func TestModeGating(t *testing.T) {
	f := newFixture(t, nil)
	initialize(t, f)
	ctx := context.Background()

	ok, _ := f.mgr.SetMode(models.ModeLongOnly)
	require.True(t, ok)
	ok, _ = f.mgr.CanOpen(ctx, models.SideShort)
	assert.False(t, ok)
	ok, _ = f.mgr.CanOpen(ctx, models.SideLong)
	assert.True(t, ok)

	_, _ = f.mgr.SetMode(models.ModeNeutral)
	ok, _ = f.mgr.CanOpen(ctx, models.SideLong)
	assert.False(t, ok)
	ok, _ = f.mgr.CanOpen(ctx, models.SideShort)
	assert.False(t, ok)

	ok, _ = f.mgr.SetMode("DIAGONAL")
	assert.False(t, ok)
}

func TestDynamicSlotSize(t *testing.T) {
	f := newFixture(t, nil)
	initialize(t, f)

	// available 100 over 2 slots beats the base size of 10.
	assert.InDelta(t, 50.0, f.mgr.SlotSize(models.SideLong), 1e-9)

	open(t, f, models.SignalBuy, 100)
	// 50 used, 50 available over 2 slots.
	assert.InDelta(t, 25.0, f.mgr.SlotSize(models.SideLong), 1e-9)
}

func TestStopLossSweep(t *testing.T) {
	f := newFixture(t, nil)
	initialize(t, f)
	ctx := context.Background()

	open(t, f, models.SignalBuy, 100) // SL at 95

	// Above the stop: nothing closes.
	assert.Empty(t, f.mgr.CheckAndClosePositions(ctx, 96, time.Now()))

	closed := f.mgr.CheckAndClosePositions(ctx, 94, time.Now())
	require.Len(t, closed, 1)
	assert.Equal(t, models.ExitStopLoss, closed[0].ExitReason)
	assert.Zero(t, f.tables[models.SideLong].Count())
}

func TestStopLossShortSide(t *testing.T) {
	f := newFixture(t, nil)
	initialize(t, f)
	ctx := context.Background()

	open(t, f, models.SignalSell, 100) // SL at 105
	assert.Empty(t, f.mgr.CheckAndClosePositions(ctx, 104, time.Now()))

	closed := f.mgr.CheckAndClosePositions(ctx, 106, time.Now())
	require.Len(t, closed, 1)
	assert.Equal(t, models.ExitStopLoss, closed[0].ExitReason)
}

func TestTrailingStopMonotonicityAndClose(t *testing.T) {
	f := newFixture(t, nil)
	initialize(t, f)
	ctx := context.Background()

	open(t, f, models.SignalBuy, 100) // activation at 101, distance 0.5%

	// Below activation: trailing stays off.
	require.Empty(t, f.mgr.CheckAndClosePositions(ctx, 100.5, time.Now()))
	pos, _ := f.tables[models.SideLong].Get(0)
	require.False(t, pos.TrailActive)

	// Crosses activation: armed at the current price.
	require.Empty(t, f.mgr.CheckAndClosePositions(ctx, 101, time.Now()))
	pos, _ = f.tables[models.SideLong].Get(0)
	require.True(t, pos.TrailActive)
	firstStop := pos.TrailStop
	assert.InDelta(t, 101*0.995, firstStop, 1e-9)

	// Rising price ratchets the stop up, never down.
	prices := []float64{102, 103, 102.8, 104}
	lastStop := firstStop
	for _, px := range prices {
		require.Empty(t, f.mgr.CheckAndClosePositions(ctx, px, time.Now()))
		pos, _ = f.tables[models.SideLong].Get(0)
		require.GreaterOrEqual(t, pos.TrailStop, lastStop)
		lastStop = pos.TrailStop
	}
	assert.InDelta(t, 104*0.995, lastStop, 1e-9)

	// First tick at or below the stop closes with reason TS.
	closed := f.mgr.CheckAndClosePositions(ctx, lastStop-0.01, time.Now())
	require.Len(t, closed, 1)
	assert.Equal(t, models.ExitTrailingStop, closed[0].ExitReason)
}

func TestPreOpenReconcileChecksWalletAgainstLedger(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.Live = true
		o.PreOpenReconcile = true
		o.BalanceToleranceUSDT = 1
	})
	initialize(t, f) // ledger capital 200
	ctx := context.Background()

	// A drained wallet blocks the open even though the call itself succeeds
	// and the physical/logical sizes agree.
	f.sim.SetWallet(0, 0)
	ok, msg := f.mgr.CanOpen(ctx, models.SideLong)
	require.False(t, ok)
	assert.Contains(t, msg, "wallet equity")

	// Equity within tolerance of the ledger passes the gate again.
	f.sim.SetWallet(199.5, 199.5)
	ok, msg = f.mgr.CanOpen(ctx, models.SideLong)
	assert.True(t, ok, msg)
}

func TestSessionBreakerStopsOpens(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.SessionStopLossROIPct = 5
	})
	initialize(t, f)
	ctx := context.Background()

	open(t, f, models.SignalBuy, 100) // margin 50, lev 5 -> size 2.5

	// Closing at 95 loses ~12.5 gross on 200 capital: past the 5% breaker.
	ok, msg := f.mgr.ManualClose(ctx, models.SideLong, 0, 95, time.Now())
	require.True(t, ok, msg)

	stopped, reason := f.mgr.SessionStopped()
	require.True(t, stopped)
	assert.Contains(t, reason, "stop-loss")

	ok, msg = f.mgr.CanOpen(ctx, models.SideLong)
	require.False(t, ok)
	assert.Contains(t, msg, "session stopped")
}

func TestSessionTakeProfitBreaker(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.SessionTakeProfitROIPct = 2
	})
	initialize(t, f)
	ctx := context.Background()

	open(t, f, models.SignalBuy, 100)
	// +10% on 50 margin at lev 5 is ~+24 net on 200 capital.
	ok, _ := f.mgr.ManualClose(ctx, models.SideLong, 0, 110, time.Now())
	require.True(t, ok)

	stopped, reason := f.mgr.SessionStopped()
	require.True(t, stopped)
	assert.Contains(t, reason, "take-profit")
}

func TestCloseAllPartialFailure(t *testing.T) {
	f := newFixture(t, nil)
	initialize(t, f)
	ctx := context.Background()

	open(t, f, models.SignalBuy, 100)
	open(t, f, models.SignalBuy, 100)

	// First close attempt rejected by the venue with a real error code;
	// the second position must still be closed.
	f.sim.NextOrderCode = "10001"
	ok, msg := f.mgr.CloseAll(ctx, models.SideLong, 100, time.Now())
	assert.False(t, ok)
	assert.Contains(t, msg, "closed 1 of 2")
	assert.Equal(t, 1, f.tables[models.SideLong].Count())

	ok, _ = f.mgr.CloseAll(ctx, models.SideLong, 100, time.Now())
	assert.True(t, ok)
	assert.Zero(t, f.tables[models.SideLong].Count())
}

func TestAddRemoveSlot(t *testing.T) {
	f := newFixture(t, nil)
	initialize(t, f)

	ok, _ := f.mgr.AddSlot()
	require.True(t, ok)
	assert.InDelta(t, 110.0, f.ledger.OperationalMargin(models.SideLong), 1e-9)

	ok, _ = f.mgr.RemoveSlot()
	require.True(t, ok)
	assert.InDelta(t, 100.0, f.ledger.OperationalMargin(models.SideLong), 1e-9)

	// Cannot drop below the open-position count.
	open(t, f, models.SignalBuy, 100)
	open(t, f, models.SignalBuy, 100)
	ok, msg := f.mgr.RemoveSlot()
	assert.False(t, ok)
	assert.Contains(t, msg, "open")
}

func TestSummary(t *testing.T) {
	f := newFixture(t, nil)
	initialize(t, f)

	open(t, f, models.SignalBuy, 100)
	sum := f.mgr.Summary(time.Now())

	require.NotNil(t, sum)
	assert.Equal(t, models.ModeLongShort, sum.Mode)
	assert.Equal(t, 2, sum.MaxSlots)
	long := sum.Sides[models.SideLong]
	assert.Equal(t, 1, long.OpenSlots)
	assert.InDelta(t, 50.0, long.UsedMargin, 1e-9)
	require.Len(t, long.Positions, 1)

	// The summary hands out copies, never engine-owned state.
	long.Positions[0].EntryPrice = 1
	again := f.mgr.Summary(time.Now())
	assert.InDelta(t, 100.0, again.Sides[models.SideLong].Positions[0].EntryPrice, 1e-9)
}

func TestOperationLifecycleThroughMilestones(t *testing.T) {
	f := newFixture(t, nil)
	initialize(t, f)
	ctx := context.Background()
	now := time.Now()

	ok, _ := f.mgr.AddMilestone("", milestone.Milestone{
		Name: "start campaign",
		Type: milestone.TypeInitialization,
		Action: milestone.Action{Operation: &models.OperationConfig{
			Tendency:  models.ModeLongOnly,
			MaxTrades: 1,
		}},
	})
	require.True(t, ok)

	// Ungated initialization fires on the first tick.
	f.mgr.EvaluateMilestones(ctx, 100, now)
	op := f.mgr.Operation()
	require.NotNil(t, op)
	assert.InDelta(t, 200.0, op.CapitalInitial, 1e-9)

	// Operation tendency overrides the session mode.
	canShort, _ := f.mgr.CanOpen(ctx, models.SideShort)
	assert.False(t, canShort)

	// Trade-count limit binds after one open.
	open(t, f, models.SignalBuy, 100)
	ok, msg := f.mgr.CanOpen(ctx, models.SideLong)
	require.False(t, ok)
	assert.Contains(t, msg, "trade limit")

	// A finalization milestone on trade count ends it and flattens.
	ok, _ = f.mgr.AddMilestone("", milestone.Milestone{
		Name:   "end campaign",
		Type:   milestone.TypeFinalization,
		Final:  milestone.FinalCondition{MaxTrades: 1},
		Action: milestone.Action{ClosePositions: true},
	})
	require.True(t, ok)

	f.mgr.EvaluateMilestones(ctx, 100, now.Add(time.Minute))
	assert.Nil(t, f.mgr.Operation())
	assert.Zero(t, f.tables[models.SideLong].Count())

	// Session defaults restored.
	canShort, _ = f.mgr.CanOpen(ctx, models.SideShort)
	assert.True(t, canShort)
}

func TestForceTriggerMilestone(t *testing.T) {
	f := newFixture(t, nil)
	initialize(t, f)
	ctx := context.Background()

	ok, id := f.mgr.AddMilestone("", milestone.Milestone{
		Name: "gated",
		Type: milestone.TypeInitialization,
		Gate: milestone.PriceGate{Level: 1e9, Direction: milestone.GateAbove},
		Action: milestone.Action{Operation: &models.OperationConfig{
			Tendency: models.ModeShortOnly,
		}},
	})
	require.True(t, ok)

	// Gate unreachable, but the operator can force it.
	f.mgr.EvaluateMilestones(ctx, 100, time.Now())
	require.Nil(t, f.mgr.Operation())

	ok, msg := f.mgr.ForceTriggerMilestone(ctx, id, 100, time.Now())
	require.True(t, ok, msg)
	require.NotNil(t, f.mgr.Operation())

	ok, _ = f.mgr.CanOpen(ctx, models.SideLong)
	assert.False(t, ok)
}

func TestManualCloseIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	initialize(t, f)
	ctx := context.Background()

	ok, msg := f.mgr.ManualClose(ctx, models.SideLong, 3, 100, time.Now())
	assert.True(t, ok)
	assert.Contains(t, msg, "already closed")
}
