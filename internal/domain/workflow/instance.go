package workflow

import (
	"github.com/garyjia/workflow-engine/internal/domain/entity"
	"github.com/garyjia/workflow-engine/internal/domain/trigger"
)

// Instance is a live execution of a compiled definition for one business entity
type Instance struct {
	graph      *Graph
	machine    StateMachine
	entityID   string
	entityType string
	permitted  []Trigger
}

// TransitionResult describes a successful Start or Fire
type TransitionResult struct {
	Instance    *Instance
	Trigger     Trigger
	Source      State
	Destination State
}

// Snapshot is the persistable view of an instance
type Snapshot struct {
	DefinitionID      int64
	EntityType        string
	EntityID          string
	CurrentState      string
	PermittedTriggers []string
	IsActive          bool
}

// Definition returns the definition the instance was compiled from
func (i *Instance) Definition() *entity.Definition {
	return i.graph.Definition()
}

// Graph returns the compiled graph
func (i *Instance) Graph() *Graph {
	return i.graph
}

// EntityID returns the driven business entity's identifier
func (i *Instance) EntityID() string {
	return i.entityID
}

// EntityType returns the driven business entity's type
func (i *Instance) EntityType() string {
	return i.entityType
}

// CurrentState returns the current graph node
func (i *Instance) CurrentState() State {
	return i.machine.State()
}

// CurrentStateName returns the current state as a string
func (i *Instance) CurrentStateName() string {
	return i.machine.State().String()
}

// PermittedTriggers returns the triggers computed by the last Evaluate
func (i *Instance) PermittedTriggers() []Trigger {
	return append([]Trigger{}, i.permitted...)
}

// IsStarted returns true once the instance has left the bootstrap state
func (i *Instance) IsStarted() bool {
	return !i.machine.State().IsBootstrap()
}

// IsActive returns false only when the current state is flagged final
func (i *Instance) IsActive() bool {
	return !i.graph.IsFinal(i.machine.State())
}

// Evaluate recomputes and stores the triggers permitted from the current state.
// It never changes the current state.
func (i *Instance) Evaluate(tc trigger.Context) []Trigger {
	i.permitted = i.machine.PermittedTriggers(i.bind(tc))
	return i.PermittedTriggers()
}

// Start fires TriggerStart. It fails with ErrAlreadyStarted unless the instance
// is still in the bootstrap state.
func (i *Instance) Start(tc trigger.Context) (*TransitionResult, error) {
	if i.IsStarted() {
		return nil, preconditionError(ErrAlreadyStarted, "entity %s is in state %s", i.entityID, i.CurrentState())
	}
	return i.Fire(TriggerStart, tc)
}

// Fire attempts the transition registered for t from the current state.
// On success the permitted triggers are re-evaluated for the new state.
func (i *Instance) Fire(t Trigger, tc trigger.Context) (*TransitionResult, error) {
	tc = i.bind(tc)
	source := i.machine.State()

	if err := i.machine.Fire(t, tc); err != nil {
		return nil, err
	}

	i.Evaluate(tc)

	return &TransitionResult{
		Instance:    i,
		Trigger:     t,
		Source:      source,
		Destination: i.machine.State(),
	}, nil
}

// Snapshot returns the fields a caller persists after Start or Fire
func (i *Instance) Snapshot() Snapshot {
	return Snapshot{
		DefinitionID:      i.graph.Definition().ID,
		EntityType:        i.entityType,
		EntityID:          i.entityID,
		CurrentState:      i.CurrentStateName(),
		PermittedTriggers: TriggerNames(i.permitted),
		IsActive:          i.IsActive(),
	}
}

// bind fills in the instance's entity identity when the caller left it empty
func (i *Instance) bind(tc trigger.Context) trigger.Context {
	if tc.EntityID == "" {
		tc.EntityID = i.entityID
	}
	if tc.EntityType == "" {
		tc.EntityType = i.entityType
	}
	return tc
}
