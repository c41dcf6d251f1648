package workflow

import "strings"

// Trigger is the verb a caller fires to move an instance along a transition
type Trigger string

// TriggerStart moves an instance out of BootstrapState
const TriggerStart Trigger = "Start"

// String returns the string representation of the trigger
func (t Trigger) String() string {
	return string(t)
}

// IsValid returns true if the trigger has a usable name
func (t Trigger) IsValid() bool {
	return strings.TrimSpace(string(t)) != ""
}

// TriggerNames converts triggers to plain strings
func TriggerNames(triggers []Trigger) []string {
	names := make([]string, len(triggers))
	for i, t := range triggers {
		names[i] = t.String()
	}
	return names
}
