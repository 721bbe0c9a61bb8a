package milestone

import (
	"fmt"
	"sync"
	"time"

	"perp_bot/internal/models"
	"perp_bot/pkg/logger"

	"github.com/google/uuid"
)

// Type says what a milestone does when it fires.
type Type string

const (
	// TypeInitialization starts the operation carried in the action.
	TypeInitialization Type = "INITIALIZATION"
	// TypeFinalization ends the running operation, optionally flattening
	// every open position first.
	TypeFinalization Type = "FINALIZATION"
)

// Status is the milestone lifecycle. Only ACTIVE milestones are evaluated.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusActive    Status = "ACTIVE"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

// GateDirection is the side of the level the price must cross to.
type GateDirection string

const (
	GateAbove GateDirection = "above"
	GateBelow GateDirection = "below"
)

// PriceGate is a two-step trigger: the gate first has to see the price on
// the far side of the level (arming), then fires on the cross. The arming
// step stops a milestone added while the price already sits past its level
// from firing on the very next tick.
type PriceGate struct {
	Level     float64
	Direction GateDirection

	armed bool
}

// Set reports whether the gate is configured at all.
func (g *PriceGate) Set() bool { return g.Level > 0 }

func (g *PriceGate) check(price float64) bool {
	if !g.Set() {
		return true
	}
	past := price >= g.Level
	if g.Direction == GateBelow {
		past = price <= g.Level
	}
	if !g.armed {
		if !past {
			g.armed = true
		}
		return false
	}
	return past
}

// FinalCondition ends an operation. The clauses are disjunctive: any
// configured one being met fires the milestone. Zero values disable a clause.
type FinalCondition struct {
	ROITargetPct float64
	MaxDuration  time.Duration
	MaxTrades    int
}

func (c FinalCondition) met(op *models.Operation, now time.Time) bool {
	if op == nil {
		return false
	}
	if c.ROITargetPct > 0 && op.ROIPct() >= c.ROITargetPct {
		return true
	}
	if c.MaxDuration > 0 && now.Sub(op.StartedAt) >= c.MaxDuration {
		return true
	}
	if c.MaxTrades > 0 && op.TradeCount >= c.MaxTrades {
		return true
	}
	return false
}

// Action is what the orchestrator executes when a milestone fires.
type Action struct {
	// Operation, for initialization milestones, is the campaign to start.
	Operation *models.OperationConfig
	// ClosePositions flattens all open positions before ending the
	// operation. Finalization only.
	ClosePositions bool
}

// Milestone is one node of the scenario tree.
type Milestone struct {
	ID     string
	Name   string
	Type   Type
	Status Status
	Gate   PriceGate
	Final  FinalCondition
	Action Action

	children []*Milestone
}

// Fired is the evaluation output handed to the orchestrator, in firing order.
type Fired struct {
	ID     string
	Name   string
	Type   Type
	Action Action
}

// Tree holds the milestone scenario. Roots start ACTIVE, children PENDING.
// Firing a milestone completes it, cancels its still-waiting siblings and
// promotes its direct children to ACTIVE, so exactly one branch of each
// fork plays out.
type Tree struct {
	mu     sync.Mutex
	roots  []*Milestone
	index  map[string]*Milestone
	parent map[string]*Milestone
}

func NewTree() *Tree {
	return &Tree{
		index:  make(map[string]*Milestone),
		parent: make(map[string]*Milestone),
	}
}

// Add inserts m under parentID, or as a root when parentID is empty. The
// assigned id is returned.
func (t *Tree) Add(parentID string, m Milestone) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if _, dup := t.index[m.ID]; dup {
		return "", fmt.Errorf("milestone %s already exists", m.ID)
	}
	if m.Type != TypeInitialization && m.Type != TypeFinalization {
		return "", fmt.Errorf("unknown milestone type %q", m.Type)
	}

	node := m
	node.children = nil
	if parentID == "" {
		node.Status = StatusActive
		t.roots = append(t.roots, &node)
	} else {
		p, ok := t.index[parentID]
		if !ok {
			return "", fmt.Errorf("parent milestone %s not found", parentID)
		}
		node.Status = StatusPending
		p.children = append(p.children, &node)
		t.parent[node.ID] = p
	}
	t.index[node.ID] = &node
	return node.ID, nil
}

// Remove deletes the milestone and its whole subtree.
func (t *Tree) Remove(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	node, ok := t.index[id]
	if !ok {
		return false
	}
	if p, ok := t.parent[id]; ok {
		for i, c := range p.children {
			if c.ID == id {
				p.children = append(p.children[:i], p.children[i+1:]...)
				break
			}
		}
	} else {
		for i, r := range t.roots {
			if r.ID == id {
				t.roots = append(t.roots[:i], t.roots[i+1:]...)
				break
			}
		}
	}
	t.drop(node)
	return true
}

func (t *Tree) drop(node *Milestone) {
	delete(t.index, node.ID)
	delete(t.parent, node.ID)
	for _, c := range node.children {
		t.drop(c)
	}
}

// Evaluate runs every ACTIVE milestone against the tick. Fired milestones
// are returned in evaluation order; the tree state is already advanced when
// Evaluate returns.
func (t *Tree) Evaluate(price float64, now time.Time, op *models.Operation) []Fired {
	t.mu.Lock()
	defer t.mu.Unlock()

	var fired []Fired
	// Collect first: firing mutates sibling status mid-walk.
	var active []*Milestone
	t.walk(func(m *Milestone) {
		if m.Status == StatusActive {
			active = append(active, m)
		}
	})

	for _, m := range active {
		if m.Status != StatusActive {
			continue // cancelled by an earlier firing this tick
		}
		if !t.shouldFire(m, price, now, op) {
			continue
		}
		t.fire(m)
		fired = append(fired, Fired{ID: m.ID, Name: m.Name, Type: m.Type, Action: m.Action})
	}
	return fired
}

func (t *Tree) shouldFire(m *Milestone, price float64, now time.Time, op *models.Operation) bool {
	switch m.Type {
	case TypeInitialization:
		return m.Gate.check(price)
	case TypeFinalization:
		if m.Gate.Set() && m.Gate.check(price) {
			return true
		}
		return m.Final.met(op, now)
	}
	return false
}

// ForceTrigger fires the milestone by operator command, bypassing its
// conditions. Only PENDING and ACTIVE milestones can be forced; forcing a
// PENDING one implies the operator wants that branch now.
func (t *Tree) ForceTrigger(id string) (Fired, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	m, ok := t.index[id]
	if !ok {
		return Fired{}, fmt.Errorf("milestone %s not found", id)
	}
	if m.Status != StatusActive && m.Status != StatusPending {
		return Fired{}, fmt.Errorf("milestone %s is %s, not triggerable", id, m.Status)
	}
	t.fire(m)
	return Fired{ID: m.ID, Name: m.Name, Type: m.Type, Action: m.Action}, nil
}

// fire completes m, cancels waiting siblings and promotes direct children.
func (t *Tree) fire(m *Milestone) {
	m.Status = StatusCompleted

	siblings := t.roots
	if p, ok := t.parent[m.ID]; ok {
		siblings = p.children
	}
	for _, s := range siblings {
		if s.ID == m.ID {
			continue
		}
		if s.Status == StatusActive || s.Status == StatusPending {
			s.Status = StatusCancelled
			logger.Info("milestone: %q cancelled, sibling %q fired", s.Name, m.Name)
		}
	}
	for _, c := range m.children {
		if c.Status == StatusPending {
			c.Status = StatusActive
		}
	}
}

// View is a flattened read-only projection of one node.
type View struct {
	ID       string
	Name     string
	Type     Type
	Status   Status
	Depth    int
	Children int
}

// Snapshot flattens the tree depth-first for status reporting.
func (t *Tree) Snapshot() []View {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []View
	var rec func(m *Milestone, depth int)
	rec = func(m *Milestone, depth int) {
		out = append(out, View{
			ID:       m.ID,
			Name:     m.Name,
			Type:     m.Type,
			Status:   m.Status,
			Depth:    depth,
			Children: len(m.children),
		})
		for _, c := range m.children {
			rec(c, depth+1)
		}
	}
	for _, r := range t.roots {
		rec(r, 0)
	}
	return out
}

func (t *Tree) walk(fn func(m *Milestone)) {
	var rec func(m *Milestone)
	rec = func(m *Milestone) {
		fn(m)
		for _, c := range m.children {
			rec(c)
		}
	}
	for _, r := range t.roots {
		rec(r)
	}
}
