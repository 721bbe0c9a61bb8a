package ledger

import (
	"math"
	"sync"

	"perp_bot/internal/models"
	"perp_bot/pkg/logger"
)

// Ledger tracks operational margin, used margin and the shared profit
// balance. Pure bookkeeping, no I/O. Every method takes the single mutex:
// the tick loop and the intervention loop both mutate balances, so each
// read-modify-write must be atomic.
//
// Invariant, held after every call: 0 <= used <= operational per side.
type Ledger struct {
	mu     sync.Mutex
	sides  map[models.Side]*sideBalance
	profit float64
}

type sideBalance struct {
	operational float64
	used        float64
}

func New() *Ledger {
	return &Ledger{
		sides: map[models.Side]*sideBalance{
			models.SideLong:  {},
			models.SideShort: {},
		},
	}
}

// validAmount rejects NaN, infinities and negatives. Callers own the sign;
// all ledger amounts are magnitudes.
func validAmount(op string, v float64) bool {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		logger.Warn("ledger: %s rejected invalid amount %v", op, v)
		return false
	}
	return true
}

func (l *Ledger) side(s models.Side) *sideBalance {
	b, ok := l.sides[s]
	if !ok {
		b = &sideBalance{}
		l.sides[s] = b
	}
	return b
}

func (l *Ledger) OperationalMargin(s models.Side) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.side(s).operational
}

func (l *Ledger) UsedMargin(s models.Side) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.side(s).used
}

func (l *Ledger) AvailableMargin(s models.Side) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	b := l.side(s)
	return b.operational - b.used
}

// IncreaseUsed locks amount into the side's used margin. Returns false
// (no-op) if the amount is invalid or would push used above operational.
func (l *Ledger) IncreaseUsed(s models.Side, amount float64) bool {
	if !validAmount("IncreaseUsed", amount) {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	b := l.side(s)
	if b.used+amount > b.operational {
		logger.Warn("ledger: IncreaseUsed(%s, %.4f) exceeds operational %.4f (used %.4f)",
			s, amount, b.operational, b.used)
		return false
	}
	b.used += amount
	return true
}

// DecreaseUsed releases amount from the side's used margin, clamped at zero.
func (l *Ledger) DecreaseUsed(s models.Side, amount float64) {
	if !validAmount("DecreaseUsed", amount) {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	b := l.side(s)
	b.used -= amount
	if b.used < 0 {
		b.used = 0
	}
}

// ResizeOperational sets the side's capital ceiling. Never shrinks below
// currently used margin.
func (l *Ledger) ResizeOperational(s models.Side, newTotal float64) {
	if !validAmount("ResizeOperational", newTotal) {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	b := l.side(s)
	if newTotal < b.used {
		logger.Warn("ledger: ResizeOperational(%s, %.4f) below used %.4f, clamping",
			s, newTotal, b.used)
		newTotal = b.used
	}
	b.operational = newTotal
}

// GrowOperational raises the ceiling by amount. This is the reinvestment
// growth loop: the reinvested share of a closed position's net profit
// lands here.
func (l *Ledger) GrowOperational(s models.Side, amount float64) {
	if !validAmount("GrowOperational", amount) {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.side(s).operational += amount
}

// RecordProfit adds the swept (non-reinvested) share of net profit to the
// shared profit balance.
func (l *Ledger) RecordProfit(amount float64) {
	if !validAmount("RecordProfit", amount) {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.profit += amount
}

func (l *Ledger) ProfitBalance() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.profit
}

// Balances returns a consistent (operational, used) pair for one side.
func (l *Ledger) Balances(s models.Side) (operational, used float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b := l.side(s)
	return b.operational, b.used
}
