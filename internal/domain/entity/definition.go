package entity

import (
	"strings"
	"time"

	"github.com/garyjia/workflow-engine/internal/domain/condition"
)

// Definition is the data-described graph of states and transitions for one
// entity type and workflow version
type Definition struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	Version    string    `json:"version"`
	EntityType string    `json:"entity_type"`
	IsActive   bool      `json:"is_active"`
	States     []State   `json:"states"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// State is a node of a Definition. Name is the node key.
type State struct {
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	IsInitial   bool         `json:"is_initial"`
	IsFinal     bool         `json:"is_final"`
	Transitions []Transition `json:"transitions,omitempty"`
}

// Transition is an outgoing edge of a State
type Transition struct {
	Trigger string              `json:"trigger"`
	Target  string              `json:"target"`
	Guard   condition.Condition `json:"-"`
}

// DefinitionSummary is the short form of a Definition used in list views
type DefinitionSummary struct {
	ID              int64  `json:"id"`
	Name            string `json:"name"`
	Version         string `json:"version"`
	EntityType      string `json:"entity_type"`
	IsActive        bool   `json:"is_active"`
	InitialState    string `json:"initial_state,omitempty"`
	StateCount      int    `json:"state_count"`
	TransitionCount int    `json:"transition_count"`
}

// StateSummary is the short form of a State
type StateSummary struct {
	Name      string   `json:"name"`
	IsInitial bool     `json:"is_initial"`
	IsFinal   bool     `json:"is_final"`
	Triggers  []string `json:"triggers"`
}

// FindState looks up a state by name, ignoring case
func (d *Definition) FindState(name string) (*State, bool) {
	for i := range d.States {
		if strings.EqualFold(d.States[i].Name, name) {
			return &d.States[i], true
		}
	}
	return nil, false
}

// InitialStates returns every state flagged initial, in declaration order
func (d *Definition) InitialStates() []State {
	var initial []State
	for _, s := range d.States {
		if s.IsInitial {
			initial = append(initial, s)
		}
	}
	return initial
}

// TriggerNames returns the distinct trigger names used anywhere in the definition
func (d *Definition) TriggerNames() []string {
	seen := make(map[string]bool)
	var names []string
	for _, s := range d.States {
		for _, t := range s.Transitions {
			if !seen[t.Trigger] {
				seen[t.Trigger] = true
				names = append(names, t.Trigger)
			}
		}
	}
	return names
}

// Clone returns a deep copy of the definition's graph.
// Guards are shared; conditions are immutable once built.
func (d *Definition) Clone() *Definition {
	clone := *d
	clone.States = make([]State, len(d.States))
	for i, s := range d.States {
		clone.States[i] = s
		clone.States[i].Transitions = append([]Transition(nil), s.Transitions...)
	}
	return &clone
}

// Summary returns the short form of the definition
func (d *Definition) Summary() DefinitionSummary {
	summary := DefinitionSummary{
		ID:         d.ID,
		Name:       d.Name,
		Version:    d.Version,
		EntityType: d.EntityType,
		IsActive:   d.IsActive,
		StateCount: len(d.States),
	}
	for _, s := range d.States {
		summary.TransitionCount += len(s.Transitions)
		if s.IsInitial && summary.InitialState == "" {
			summary.InitialState = s.Name
		}
	}
	return summary
}

// Summary returns the short form of the state
func (s State) Summary() StateSummary {
	triggers := make([]string, 0, len(s.Transitions))
	for _, t := range s.Transitions {
		triggers = append(triggers, t.Trigger)
	}
	return StateSummary{
		Name:      s.Name,
		IsInitial: s.IsInitial,
		IsFinal:   s.IsFinal,
		Triggers:  triggers,
	}
}
