package workflow

import "github.com/garyjia/workflow-engine/internal/domain/trigger"

// StateMachine tracks a current state over a Table.
// It holds no locks; callers serialize access to a single machine.
type StateMachine interface {
	State() State

	// CanFire reports whether t would succeed from the current state
	CanFire(t Trigger, tc trigger.Context) bool

	// Fire moves to the target of the first passing edge for t. On error the
	// current state is unchanged.
	Fire(t Trigger, tc trigger.Context) error

	// PermittedTriggers lists the triggers CanFire accepts, in registration order
	PermittedTriggers(tc trigger.Context) []Trigger

	// IsRegistered reports whether t appears anywhere in the table
	IsRegistered(t Trigger) bool

	Triggers() []Trigger
}

type stateMachine struct {
	table   *Table
	current State
}

func (m *stateMachine) State() State {
	return m.current
}

func (m *stateMachine) CanFire(t Trigger, tc trigger.Context) bool {
	_, _, ok := m.table.target(m.current, t, tc)
	return ok
}

func (m *stateMachine) Fire(t Trigger, tc trigger.Context) error {
	if !m.IsRegistered(t) {
		return preconditionError(ErrUnknownTrigger, "trigger %s is not registered", t)
	}

	next, declared, ok := m.table.target(m.current, t, tc)
	switch {
	case !declared:
		return preconditionError(ErrInvalidTransition, "cannot fire trigger %s from state %s", t, m.current)
	case !ok:
		return preconditionError(ErrGuardFailed, "trigger %s from state %s", t, m.current)
	}

	m.current = next
	return nil
}

func (m *stateMachine) PermittedTriggers(tc trigger.Context) []Trigger {
	permitted := []Trigger{}
	for _, t := range m.table.outgoing(m.current) {
		if m.CanFire(t, tc) {
			permitted = append(permitted, t)
		}
	}
	return permitted
}

func (m *stateMachine) IsRegistered(t Trigger) bool {
	_, ok := m.table.known[t]
	return ok
}

func (m *stateMachine) Triggers() []Trigger {
	return m.table.Triggers()
}
