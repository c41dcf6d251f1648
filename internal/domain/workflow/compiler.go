package workflow

import (
	"fmt"
	"strings"

	"github.com/garyjia/workflow-engine/internal/domain/condition"
	"github.com/garyjia/workflow-engine/internal/domain/entity"
	"github.com/garyjia/workflow-engine/internal/domain/trigger"
)

// GuardPolicy decides which predicate gates a compiled transition
type GuardPolicy int

const (
	// GuardPolicyIgnore registers every transition with an always-true guard.
	// Declared guards stay on the definition as metadata for callers such as a UI.
	GuardPolicyIgnore GuardPolicy = iota

	// GuardPolicyEnforce evaluates each transition's declared guard against the trigger context
	GuardPolicyEnforce
)

// String returns the configuration name of the policy
func (p GuardPolicy) String() string {
	switch p {
	case GuardPolicyEnforce:
		return "enforce"
	default:
		return "ignore"
	}
}

// ParseGuardPolicy parses "ignore" or "enforce"; empty means ignore
func ParseGuardPolicy(s string) (GuardPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "ignore":
		return GuardPolicyIgnore, nil
	case "enforce":
		return GuardPolicyEnforce, nil
	default:
		return GuardPolicyIgnore, fmt.Errorf("unknown guard policy %q", s)
	}
}

type options struct {
	guardPolicy GuardPolicy
}

// Option configures compilation
type Option func(*options)

// WithGuardPolicy selects how declared guards are wired
func WithGuardPolicy(policy GuardPolicy) Option {
	return func(o *options) {
		o.guardPolicy = policy
	}
}

// Graph is a compiled definition: the bootstrap node plus one node per state.
// A Graph is immutable and may be shared by many instances.
type Graph struct {
	definition *entity.Definition
	table      *Table
	initial    State
	byName     map[string]State // lower-cased name -> canonical state
	final      map[State]bool
	policy     GuardPolicy
}

// Compile validates a definition and registers every transition as a permitted move.
// The definition is cloned; later changes by the caller do not affect the graph.
func Compile(def *entity.Definition, opts ...Option) (*Graph, error) {
	if def == nil {
		return nil, configurationError(ErrNilDefinition, "cannot compile")
	}

	o := options{guardPolicy: GuardPolicyIgnore}
	for _, opt := range opts {
		opt(&o)
	}

	def = def.Clone()
	g := &Graph{
		definition: def,
		byName:     make(map[string]State, len(def.States)+1),
		final:      make(map[State]bool),
		policy:     o.guardPolicy,
	}

	if err := g.indexStates(); err != nil {
		return nil, err
	}
	if err := g.registerTransitions(); err != nil {
		return nil, err
	}

	return g, nil
}

func (g *Graph) indexStates() error {
	for _, s := range g.definition.States {
		name := State(s.Name)
		if !name.IsValid() {
			return configurationError(ErrInvalidState, "definition %q has a state without a name", g.definition.Name)
		}
		if strings.EqualFold(s.Name, BootstrapState.String()) {
			return configurationError(ErrReservedStateName, "state name %s is reserved", s.Name)
		}
		key := strings.ToLower(s.Name)
		if _, exists := g.byName[key]; exists {
			return configurationError(ErrDuplicateState, "state %s", s.Name)
		}
		g.byName[key] = name

		if s.IsFinal {
			g.final[name] = true
		}
	}

	initial := g.definition.InitialStates()
	switch len(initial) {
	case 0:
		return configurationError(ErrNoInitialState, "definition %q", g.definition.Name)
	case 1:
		g.initial = State(initial[0].Name)
	default:
		names := make([]string, len(initial))
		for i, s := range initial {
			names[i] = s.Name
		}
		return configurationError(ErrMultipleInitialStates, "definition %q flags %s", g.definition.Name, strings.Join(names, ", "))
	}
	return nil
}

func (g *Graph) registerTransitions() error {
	b := NewTableBuilder().Allow(BootstrapState, TriggerStart, g.initial)

	for _, s := range g.definition.States {
		from := State(s.Name)
		for _, tr := range s.Transitions {
			t := Trigger(tr.Trigger)
			if !t.IsValid() {
				return configurationError(ErrInvalidTrigger, "state %s has a transition without a trigger", s.Name)
			}
			target, ok := g.lookup(tr.Target)
			if !ok {
				return configurationError(ErrUnknownTargetState, "state %s trigger %s targets %q", s.Name, tr.Trigger, tr.Target)
			}
			b.AllowIf(from, t, target, g.guardFor(tr))
		}
	}
	g.table = b.Freeze()
	return nil
}

func (g *Graph) guardFor(tr entity.Transition) GuardFunc {
	if g.policy != GuardPolicyEnforce || tr.Guard == nil {
		return permitAlways
	}
	guard := tr.Guard
	return func(tc trigger.Context) bool {
		return condition.Evaluate(guard, tc)
	}
}

func permitAlways(trigger.Context) bool {
	return true
}

// lookup resolves a real state name, ignoring case
func (g *Graph) lookup(name string) (State, bool) {
	s, ok := g.byName[strings.ToLower(strings.TrimSpace(name))]
	return s, ok
}

// Resolve maps a persisted current-state name to a graph node.
// Empty or unknown names resolve to BootstrapState.
func (g *Graph) Resolve(name string) State {
	if s, ok := g.lookup(name); ok {
		return s
	}
	return BootstrapState
}

// Definition returns the compiled copy of the definition
func (g *Graph) Definition() *entity.Definition {
	return g.definition
}

// InitialState returns the state the Start trigger leads to
func (g *Graph) InitialState() State {
	return g.initial
}

// GuardPolicy returns the policy the graph was compiled with
func (g *Graph) GuardPolicy() GuardPolicy {
	return g.policy
}

// IsFinal returns true if the state is flagged final in the definition
func (g *Graph) IsFinal(s State) bool {
	return g.final[s]
}

// States returns the bootstrap state followed by the definition's states
func (g *Graph) States() []State {
	states := make([]State, 0, len(g.definition.States)+1)
	states = append(states, BootstrapState)
	for _, s := range g.definition.States {
		states = append(states, State(s.Name))
	}
	return states
}

// NewInstance creates an instance positioned at the resolved current state and evaluates it
func (g *Graph) NewInstance(currentState string, tc trigger.Context) *Instance {
	inst := &Instance{
		graph:      g,
		machine:    g.table.Machine(g.Resolve(currentState)),
		entityID:   tc.EntityID,
		entityType: g.definition.EntityType,
	}
	inst.Evaluate(tc)
	return inst
}

// Configure compiles def and creates an instance in one step. currentState is the
// persisted state name of an existing instance, or empty for a new one.
func Configure(def *entity.Definition, currentState string, tc trigger.Context, opts ...Option) (*Instance, error) {
	g, err := Compile(def, opts...)
	if err != nil {
		return nil, err
	}
	return g.NewInstance(currentState, tc), nil
}
