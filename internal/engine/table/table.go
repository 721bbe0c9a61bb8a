package table

import (
	"sync"

	"perp_bot/internal/models"
)

// Table is the thread-safe registry of open logical positions for one
// side. It is the synchronization boundary between the tick loop, the
// intervention loop and the risk sweep: all mutation happens under one
// mutex and every read hands out deep copies, so a caller can never
// observe or mutate a partially-updated position.
type Table struct {
	side models.Side

	mu        sync.Mutex
	positions []*models.LogicalPosition
}

func New(side models.Side) *Table {
	return &Table{side: side}
}

func (t *Table) Side() models.Side { return t.side }

// Add appends a position. The table takes ownership of its own copy.
func (t *Table) Add(p models.LogicalPosition) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cp := p.Clone()
	t.positions = append(t.positions, &cp)
}

// RemoveByID removes and returns the position with the given id.
func (t *Table) RemoveByID(id string) (models.LogicalPosition, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, p := range t.positions {
		if p.ID == id {
			out := p.Clone()
			t.positions = append(t.positions[:i], t.positions[i+1:]...)
			return out, true
		}
	}
	return models.LogicalPosition{}, false
}

// RemoveByIndex removes and returns the position at index i.
func (t *Table) RemoveByIndex(i int) (models.LogicalPosition, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if i < 0 || i >= len(t.positions) {
		return models.LogicalPosition{}, false
	}
	out := t.positions[i].Clone()
	t.positions = append(t.positions[:i], t.positions[i+1:]...)
	return out, true
}

// Get returns a copy of the position at index i.
func (t *Table) Get(i int) (models.LogicalPosition, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if i < 0 || i >= len(t.positions) {
		return models.LogicalPosition{}, false
	}
	return t.positions[i].Clone(), true
}

// IndexOf returns the current index of the position with the given id,
// or -1. Indices shift on removal, so the id is the stable handle and the
// index is resolved at the moment of use.
func (t *Table) IndexOf(id string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, p := range t.positions {
		if p.ID == id {
			return i
		}
	}
	return -1
}

// Update applies mutate to the position with the given id, under the
// table lock. This is the only sanctioned way to change a stored
// position after Add.
func (t *Table) Update(id string, mutate func(p *models.LogicalPosition)) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range t.positions {
		if p.ID == id {
			mutate(p)
			return true
		}
	}
	return false
}

// Snapshot returns deep copies of all positions in insertion order.
func (t *Table) Snapshot() []models.LogicalPosition {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]models.LogicalPosition, len(t.positions))
	for i, p := range t.positions {
		out[i] = p.Clone()
	}
	return out
}

// ReplaceAll overwrites the full position set. Used when migrating open
// positions between operations.
func (t *Table) ReplaceAll(list []models.LogicalPosition) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.positions = make([]*models.LogicalPosition, len(list))
	for i := range list {
		cp := list[i].Clone()
		t.positions[i] = &cp
	}
}

func (t *Table) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.positions)
}

func (t *Table) TotalSize() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	var sum float64
	for _, p := range t.positions {
		sum += p.SizeContracts
	}
	return sum
}

func (t *Table) TotalMargin() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	var sum float64
	for _, p := range t.positions {
		sum += p.MarginUSDT
	}
	return sum
}

// AverageEntryPrice is the size-weighted average entry, 0 when empty.
func (t *Table) AverageEntryPrice() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	var size, notional float64
	for _, p := range t.positions {
		size += p.SizeContracts
		notional += p.SizeContracts * p.EntryPrice
	}
	if size <= 0 {
		return 0
	}
	return notional / size
}
