package workflow

import (
	"fmt"

	"github.com/garyjia/workflow-engine/internal/domain/trigger"
)

// GuardFunc reports whether a transition may be taken for the given caller
type GuardFunc func(tc trigger.Context) bool

// edge is one guarded move out of a source state
type edge struct {
	trigger Trigger
	target  State
	guard   GuardFunc
}

// Table is a frozen transition table. Machines built from the same table
// share it, so a Table never changes after Freeze.
type Table struct {
	edges    map[State][]edge
	known    map[Trigger]struct{}
	triggers []Trigger
}

// TableBuilder accumulates transitions in registration order
type TableBuilder struct {
	table Table
}

// NewTableBuilder creates an empty builder
func NewTableBuilder() *TableBuilder {
	return &TableBuilder{table: Table{
		edges: make(map[State][]edge),
		known: make(map[Trigger]struct{}),
	}}
}

// Allow registers an unconditional transition
func (b *TableBuilder) Allow(from State, t Trigger, to State) *TableBuilder {
	return b.AllowIf(from, t, to, nil)
}

// AllowIf registers a transition taken only when guard passes. A trigger may be
// registered several times on one state; the first edge whose guard passes wins.
// Invalid names are programming errors and panic.
func (b *TableBuilder) AllowIf(from State, t Trigger, to State, guard GuardFunc) *TableBuilder {
	switch {
	case !from.IsValid():
		panic(fmt.Sprintf("invalid source state: %q", from))
	case !to.IsValid():
		panic(fmt.Sprintf("invalid target state: %q", to))
	case !t.IsValid():
		panic(fmt.Sprintf("invalid trigger: %q", t))
	}

	b.table.edges[from] = append(b.table.edges[from], edge{trigger: t, target: to, guard: guard})
	if _, seen := b.table.known[t]; !seen {
		b.table.known[t] = struct{}{}
		b.table.triggers = append(b.table.triggers, t)
	}
	return b
}

// Freeze returns a snapshot of the transitions registered so far.
// Later calls on the builder do not affect it.
func (b *TableBuilder) Freeze() *Table {
	t := &Table{
		edges:    make(map[State][]edge, len(b.table.edges)),
		known:    make(map[Trigger]struct{}, len(b.table.known)),
		triggers: append([]Trigger(nil), b.table.triggers...),
	}
	for s, es := range b.table.edges {
		t.edges[s] = append([]edge(nil), es...)
	}
	for k := range b.table.known {
		t.known[k] = struct{}{}
	}
	return t
}

// Machine returns a cursor over the table positioned at start
func (t *Table) Machine(start State) StateMachine {
	if !start.IsValid() {
		panic(fmt.Sprintf("invalid initial state: %q", start))
	}
	return &stateMachine{table: t, current: start}
}

// Triggers returns every distinct trigger in registration order
func (t *Table) Triggers() []Trigger {
	return append([]Trigger(nil), t.triggers...)
}

// outgoing returns the distinct triggers leaving s in registration order
func (t *Table) outgoing(s State) []Trigger {
	var out []Trigger
	seen := make(map[Trigger]bool)
	for _, e := range t.edges[s] {
		if !seen[e.trigger] {
			seen[e.trigger] = true
			out = append(out, e.trigger)
		}
	}
	return out
}

// target finds the first edge for trigger out of s whose guard passes.
// declared is false when s has no edge for the trigger at all.
func (t *Table) target(s State, tr Trigger, tc trigger.Context) (to State, declared, ok bool) {
	for _, e := range t.edges[s] {
		if e.trigger != tr {
			continue
		}
		declared = true
		if e.guard == nil || e.guard(tc) {
			return e.target, true, true
		}
	}
	return "", declared, false
}
