package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"perp_bot/internal/engine/ledger"
	"perp_bot/internal/engine/physical"
	"perp_bot/internal/engine/risk"
	"perp_bot/internal/engine/table"
	"perp_bot/internal/exchange"
	"perp_bot/internal/helper"
	"perp_bot/internal/history"
	"perp_bot/internal/journal"
	"perp_bot/internal/models"
	"perp_bot/pkg/logger"
	"perp_bot/pkg/retry"

	"github.com/google/uuid"
	"github.com/opentracing/opentracing-go"
)

// ErrInsufficientQuantity means the requested margin converts to a quantity
// below the instrument minimum after step rounding. Not an exchange fault;
// the open is never submitted.
var ErrInsufficientQuantity = errors.New("quantity below instrument minimum")

// Options is the executor's instrument and venue configuration.
type Options struct {
	Symbol  string
	Account string
	Coin    string
	Live    bool

	Leverage         int
	QtyStep          float64
	MinQty           float64
	CommissionRate   float64
	ReinvestFraction float64

	// Live-mode reconciliation: fill lookups after an open, the delayed
	// authoritative position pull after a close, transfer re-attempts.
	ReconcileAttempts int
	ReconcileDelay    time.Duration
	ResyncDelay       time.Duration
	TransferRetries   int

	TransferFromAccount string
	TransferToAccount   string
}

func (o *Options) normalize() {
	if o.Leverage <= 0 {
		o.Leverage = 1
	}
	if o.ReconcileAttempts <= 0 {
		o.ReconcileAttempts = 3
	}
	if o.TransferRetries < 0 {
		o.TransferRetries = 0
	}
	if o.Coin == "" {
		o.Coin = "USDT"
	}
}

// Executor carries out position opens, closes and profit transfers against
// the exchange adapter, and keeps the ledger, tables, physical cache and
// terminal journal consistent with what actually happened on the venue.
// It is stateless between calls; all state lives in its collaborators.
type Executor struct {
	opts    Options
	adapter exchange.Adapter
	ledger  *ledger.Ledger
	tables  map[models.Side]*table.Table
	cache   *physical.Cache
	journal *journal.Journal // optional
	store   history.Store    // optional
}

func New(
	opts Options,
	adapter exchange.Adapter,
	led *ledger.Ledger,
	tables map[models.Side]*table.Table,
	cache *physical.Cache,
	jrnl *journal.Journal,
	store history.Store,
) *Executor {
	opts.normalize()
	return &Executor{
		opts:    opts,
		adapter: adapter,
		ledger:  led,
		tables:  tables,
		cache:   cache,
		journal: jrnl,
		store:   store,
	}
}

// OpenRequest describes one position open.
type OpenRequest struct {
	Side       models.Side
	Price      float64
	Time       time.Time
	MarginUSDT float64

	// Leverage overrides Options.Leverage when > 0.
	Leverage int
	// StopLossPct > 0 installs a fixed stop at entry.
	StopLossPct float64
}

// ExecuteOpen submits a market open, registers the logical position and, in
// live mode, reconciles the actual fill from execution history. The caller
// (guardian chain) has already validated capital; ExecuteOpen only validates
// instrument constraints.
func (e *Executor) ExecuteOpen(ctx context.Context, req OpenRequest) (pos models.LogicalPosition, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("Executor.ExecuteOpen: %w", err)
		}
	}()

	span, ctx := opentracing.StartSpanFromContext(ctx, "executor.open")
	defer span.Finish()
	span.SetTag("side", string(req.Side))
	span.SetTag("symbol", e.opts.Symbol)

	if !req.Side.Valid() {
		return pos, fmt.Errorf("invalid side %q", req.Side)
	}
	if req.Price <= 0 || req.MarginUSDT <= 0 {
		return pos, fmt.Errorf("invalid open request: price=%v margin=%v", req.Price, req.MarginUSDT)
	}

	lev := req.Leverage
	if lev <= 0 {
		lev = e.opts.Leverage
	}

	qty := helper.RoundDownToStep(req.MarginUSDT*float64(lev)/req.Price, e.opts.QtyStep)
	if qty <= 0 || qty < e.opts.MinQty {
		return pos, fmt.Errorf("margin %.4f at price %.4f yields qty %.8f: %w",
			req.MarginUSDT, req.Price, qty, ErrInsufficientQuantity)
	}

	res, err := e.adapter.PlaceMarketOrder(ctx, exchange.OrderRequest{
		Symbol:        e.opts.Symbol,
		Side:          req.Side,
		Qty:           helper.FormatQty(qty, e.opts.QtyStep),
		Price:         req.Price,
		PositionIndex: positionIndex(req.Side),
		Account:       e.opts.Account,
	})
	if err != nil {
		return pos, err
	}
	if !res.OK {
		return pos, fmt.Errorf("open rejected: %w", &exchange.APIError{Code: res.Code, Msg: res.Msg})
	}

	if !e.ledger.IncreaseUsed(req.Side, req.MarginUSDT) {
		// The order is already on the venue; the books must still reflect it.
		logger.Error("executor: ledger refused margin %.4f for %s after fill, growing operational to cover",
			req.MarginUSDT, req.Side)
		e.ledger.GrowOperational(req.Side, req.MarginUSDT)
		e.ledger.IncreaseUsed(req.Side, req.MarginUSDT)
	}

	pos = models.LogicalPosition{
		ID:            uuid.NewString(),
		Side:          req.Side,
		EntryTime:     req.Time,
		EntryPrice:    req.Price,
		MarginUSDT:    req.MarginUSDT,
		SizeContracts: qty,
		Leverage:      lev,
		OrderID:       res.OrderID,
		FilledPrice:   req.Price,
		FilledQty:     qty,
		Synced:        true,
	}
	if req.StopLossPct > 0 {
		pos.StopLossPrice = risk.StopLossPrice(req.Side, req.Price, req.StopLossPct)
	}
	if px, ok := risk.LiquidationPriceEstimate(req.Side, req.Price, lev, risk.DefaultMaintenanceMarginRate); ok {
		pos.EstLiquidationPrice = px
	}

	tbl := e.tables[req.Side]
	tbl.Add(pos)

	if e.opts.Live {
		e.reconcileOpen(ctx, tbl, &pos)
	}

	snap := tbl.Snapshot()
	e.cache.Set(risk.Aggregate(req.Side, snap, req.Time))

	// Reconciliation may have rewritten the fill; return the table's view.
	for i := range snap {
		if snap[i].ID == pos.ID {
			pos = snap[i]
			break
		}
	}
	return pos, nil
}

// reconcileOpen replaces the estimated fill with the venue's executions.
// Exhausting the attempts leaves the estimate in place and flags the
// position unsynced.
func (e *Executor) reconcileOpen(ctx context.Context, tbl *table.Table, pos *models.LogicalPosition) {
	execs, err := retry.DoWithResult(ctx, retry.Policy{
		Attempts: e.opts.ReconcileAttempts,
		Delay:    e.opts.ReconcileDelay,
		OnRetry: func(attempt int, err error) {
			logger.Info("executor: fill reconciliation attempt %d for order %s: %v", attempt, pos.OrderID, err)
		},
	}, func() ([]exchange.Execution, error) {
		execs, err := e.adapter.ExecutionHistory(ctx, pos.OrderID)
		if err != nil {
			return nil, err
		}
		if len(execs) == 0 {
			return nil, fmt.Errorf("no executions yet for order %s", pos.OrderID)
		}
		return execs, nil
	})
	if err != nil {
		logger.Error("executor: fill reconciliation exhausted for order %s, keeping estimate: %v", pos.OrderID, err)
		tbl.Update(pos.ID, func(p *models.LogicalPosition) { p.Synced = false })
		return
	}

	var qty, notional float64
	for _, ex := range execs {
		qty += ex.Qty
		notional += ex.Qty * ex.Price
	}
	if qty <= 0 {
		tbl.Update(pos.ID, func(p *models.LogicalPosition) { p.Synced = false })
		return
	}
	vwap := notional / qty
	tbl.Update(pos.ID, func(p *models.LogicalPosition) {
		p.EntryPrice = vwap
		p.FilledPrice = vwap
		p.FilledQty = qty
		p.SizeContracts = qty
		p.Synced = true
	})
}

// ExecuteClose closes the position at index idx of the side's table. A
// position that is already gone (empty slot or venue "not found") is a
// successful no-op: the record is nil and err is nil. On success it removes
// the position, settles the ledger, splits and routes the PnL, and emits the
// terminal record.
func (e *Executor) ExecuteClose(ctx context.Context, side models.Side, idx int, exitPrice float64, now time.Time, reason models.ExitReason) (rec *models.TerminalRecord, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("Executor.ExecuteClose: %w", err)
		}
	}()

	span, ctx := opentracing.StartSpanFromContext(ctx, "executor.close")
	defer span.Finish()
	span.SetTag("side", string(side))
	span.SetTag("reason", string(reason))

	tbl := e.tables[side]
	pos, ok := tbl.Get(idx)
	if !ok || pos.SizeContracts <= 0 {
		return nil, nil
	}
	if exitPrice <= 0 {
		return nil, fmt.Errorf("invalid exit price %v", exitPrice)
	}

	res, err := e.adapter.PlaceMarketOrder(ctx, exchange.OrderRequest{
		Symbol:        e.opts.Symbol,
		Side:          side,
		Qty:           helper.FormatQty(pos.SizeContracts, e.opts.QtyStep),
		Price:         exitPrice,
		ReduceOnly:    true,
		PositionIndex: positionIndex(side),
		Account:       e.opts.Account,
	})
	if err != nil {
		return nil, err
	}
	if !res.OK {
		if !exchange.PositionGone(res.Code) && !exchange.AlreadyApplied(res.Code) {
			return nil, fmt.Errorf("close rejected: %w", &exchange.APIError{Code: res.Code, Msg: res.Msg})
		}
		// Already flat or already applied on the venue. Settle the books as
		// a close at the current quote so the slot frees up instead of
		// wedging.
		logger.Warn("executor: close of %s[%d] got code %s, settling locally", side, idx, res.Code)
	}

	removed, ok := tbl.RemoveByID(pos.ID)
	if !ok {
		return nil, nil
	}

	split := risk.PnLSplit(side, removed.EntryPrice, exitPrice, removed.SizeContracts,
		e.opts.CommissionRate, e.opts.ReinvestFraction)

	e.ledger.DecreaseUsed(side, removed.MarginUSDT)
	if split.Reinvest > 0 {
		e.ledger.GrowOperational(side, split.Reinvest)
	}
	if split.Transfer > 0 {
		if terr := e.ExecuteTransfer(ctx, split.Transfer); terr != nil {
			// The position is closed either way; a stuck sweep loses the
			// transfer leg only, never the close.
			logger.Error("executor: profit transfer of %.4f failed: %v", split.Transfer, terr)
		}
	}

	if tbl.Count() == 0 {
		e.cache.Reset(side, now)
	} else {
		e.cache.Set(risk.Aggregate(side, tbl.Snapshot(), now))
	}

	rec = &models.TerminalRecord{
		ID:              removed.ID,
		Side:            side,
		EntryTimestamp:  removed.EntryTime,
		ExitTimestamp:   now,
		DurationSeconds: now.Sub(removed.EntryTime).Seconds(),
		EntryPrice:      removed.EntryPrice,
		ExitPrice:       exitPrice,
		SizeContracts:   removed.SizeContracts,
		MarginUSDT:      removed.MarginUSDT,
		Leverage:        removed.Leverage,
		PnLGrossUSDT:    split.Gross,
		CommissionUSDT:  split.Commission,
		PnLNetUSDT:      split.Net,
		ReinvestUSDT:    split.Reinvest,
		TransferUSDT:    split.Transfer,
		APICloseOrderID: res.OrderID,
		ExitReason:      reason,
	}
	if e.journal != nil {
		if jerr := e.journal.Append(rec); jerr != nil {
			logger.Error("executor: journal append failed: %v", jerr)
		}
	}
	if e.store != nil {
		if serr := e.store.Save(ctx, rec); serr != nil {
			logger.Error("executor: history save failed: %v", serr)
		}
	}

	if e.opts.Live {
		e.resyncAfterClose(ctx, side)
	}
	return rec, nil
}

// resyncAfterClose waits out the venue's settlement lag, then overwrites the
// side's physical cache with the exchange's own view.
func (e *Executor) resyncAfterClose(ctx context.Context, side models.Side) {
	if e.opts.ResyncDelay > 0 {
		select {
		case <-time.After(e.opts.ResyncDelay):
		case <-ctx.Done():
			return
		}
	}
	if err := e.ResyncPhysical(ctx, time.Now()); err != nil {
		logger.Error("executor: post-close resync failed: %v", err)
	} else {
		logical := e.tables[side].TotalSize()
		if e.cache.Diverged(side, logical, e.opts.QtyStep) {
			logger.Error("executor: %s physical position diverged from logical size %.8f", side, logical)
		}
	}
}

// ResyncPhysical pulls the exchange's active positions and rewrites the
// physical cache for both sides.
func (e *Executor) ResyncPhysical(ctx context.Context, now time.Time) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("Executor.ResyncPhysical: %w", err)
		}
	}()

	infos, err := e.adapter.ActivePositions(ctx, e.opts.Symbol, e.opts.Account)
	if err != nil {
		return err
	}

	seen := map[models.Side]bool{}
	for _, info := range infos {
		if !info.Side.Valid() || info.Size <= 0 {
			continue
		}
		seen[info.Side] = true
		agg := models.PhysicalPosition{
			Side:          info.Side,
			AvgEntryPrice: info.AvgPrice,
			TotalSize:     info.Size,
			TotalMargin:   e.tables[info.Side].TotalMargin(),
			UpdatedAt:     now,
		}
		if px, ok := risk.LiquidationPriceEstimate(info.Side, info.AvgPrice, info.Leverage, risk.DefaultMaintenanceMarginRate); ok {
			agg.EstLiquidationPrice = px
		}
		e.cache.Set(agg)
	}
	for _, side := range models.Sides() {
		if !seen[side] {
			e.cache.Reset(side, now)
		}
	}
	return nil
}

// ExecuteTransfer moves realized profit out of the trading account and books
// it into the profit balance. In simulation the move is pure bookkeeping.
// Retries are bounded and skip errors that can never succeed on re-attempt.
func (e *Executor) ExecuteTransfer(ctx context.Context, amount float64) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("Executor.ExecuteTransfer: %w", err)
		}
	}()

	span, ctx := opentracing.StartSpanFromContext(ctx, "executor.transfer")
	defer span.Finish()
	span.SetTag("amount", amount)

	if amount <= 0 {
		return nil
	}
	if !e.opts.Live {
		e.ledger.RecordProfit(amount)
		return nil
	}

	err = retry.Do(ctx, retry.Policy{
		Attempts: 1 + e.opts.TransferRetries,
		Delay:    e.opts.ReconcileDelay,
		RetryIf:  exchange.TransferRetryable,
		OnRetry: func(attempt int, err error) {
			logger.Info("executor: transfer attempt %d failed: %v", attempt, err)
		},
	}, func() error {
		return e.adapter.TransferFunds(ctx, amount,
			e.opts.TransferFromAccount, e.opts.TransferToAccount, e.opts.Coin)
	})
	if err != nil {
		return err
	}
	e.ledger.RecordProfit(amount)
	return nil
}

// Bybit hedge-mode position indices.
func positionIndex(side models.Side) int {
	if side == models.SideLong {
		return 1
	}
	return 2
}
