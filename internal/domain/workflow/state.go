package workflow

import "strings"

// State is a node key in a compiled workflow graph
type State string

// BootstrapState is the synthetic pseudostate of an instance that has not been started.
// Its only transition is TriggerStart to the definition's initial state.
const BootstrapState State = "$bootstrap"

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}

// IsValid returns true if the state has a usable name
func (s State) IsValid() bool {
	return strings.TrimSpace(string(s)) != ""
}

// IsBootstrap returns true for the synthetic not-yet-started state
func (s State) IsBootstrap() bool {
	return s == BootstrapState
}
