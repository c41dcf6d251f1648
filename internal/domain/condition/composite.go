package condition

import "github.com/garyjia/workflow-engine/internal/domain/trigger"

// All is satisfied when every child is satisfied. An empty All is satisfied.
type All struct {
	Conditions []Condition
}

// Any is satisfied when at least one child is satisfied. An empty Any is not.
type Any struct {
	Conditions []Condition
}

// Not negates its child. A Not without a child negates a nil (always true) condition.
type Not struct {
	Condition Condition
}

// Always is satisfied for every context
type Always struct{}

// Never is satisfied for no context
type Never struct{}

// AllOf builds an All condition
func AllOf(conditions ...Condition) *All {
	return &All{Conditions: conditions}
}

// AnyOf builds an Any condition
func AnyOf(conditions ...Condition) *Any {
	return &Any{Conditions: conditions}
}

// Negate builds a Not condition
func Negate(c Condition) *Not {
	return &Not{Condition: c}
}

func (a *All) Kind() Kind { return KindAll }

func (a *All) IsSatisfiedBy(tc trigger.Context) bool {
	for _, c := range a.Conditions {
		if !Evaluate(c, tc) {
			return false
		}
	}
	return true
}

func (a *All) Params() map[string]any {
	return map[string]any{"conditions": encodeList(a.Conditions)}
}

func (a *Any) Kind() Kind { return KindAny }

func (a *Any) IsSatisfiedBy(tc trigger.Context) bool {
	for _, c := range a.Conditions {
		if Evaluate(c, tc) {
			return true
		}
	}
	return false
}

func (a *Any) Params() map[string]any {
	return map[string]any{"conditions": encodeList(a.Conditions)}
}

func (n *Not) Kind() Kind { return KindNot }

func (n *Not) IsSatisfiedBy(tc trigger.Context) bool {
	return !Evaluate(n.Condition, tc)
}

func (n *Not) Params() map[string]any {
	if n.Condition == nil {
		return nil
	}
	return map[string]any{"condition": Encode(n.Condition)}
}

func (Always) Kind() Kind { return KindAlways }
func (Always) IsSatisfiedBy(trigger.Context) bool { return true }

func (Never) Kind() Kind { return KindNever }
func (Never) IsSatisfiedBy(trigger.Context) bool { return false }

func encodeList(conditions []Condition) []any {
	out := make([]any, 0, len(conditions))
	for _, c := range conditions {
		if c == nil {
			continue
		}
		out = append(out, Encode(c))
	}
	return out
}
