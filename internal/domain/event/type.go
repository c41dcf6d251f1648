package event

import "strings"

// Type names a domain event as "<aggregate>.<verb>"
type Type string

const (
	TypeInstanceCreated      Type = "instance.created"
	TypeInstanceStarted      Type = "instance.started"
	TypeInstanceTransitioned Type = "instance.transitioned"
	TypeInstanceCompleted    Type = "instance.completed"
	TypeDefinitionActivated  Type = "definition.activated"
)

var knownTypes = []Type{
	TypeInstanceCreated,
	TypeInstanceStarted,
	TypeInstanceTransitioned,
	TypeInstanceCompleted,
	TypeDefinitionActivated,
}

// Types returns every event type the engine emits
func Types() []Type {
	return append([]Type(nil), knownTypes...)
}

func (t Type) String() string {
	return string(t)
}

// Aggregate returns the part before the dot, e.g. "instance"
func (t Type) Aggregate() string {
	aggregate, _, _ := strings.Cut(string(t), ".")
	return aggregate
}

// IsValid reports whether t is emitted by the engine
func (t Type) IsValid() bool {
	for _, k := range knownTypes {
		if t == k {
			return true
		}
	}
	return false
}
