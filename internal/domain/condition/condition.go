// Package condition implements the guard predicates that can be attached to transitions.
//
// A condition is a tree of variants identified by a Kind. The built-in kinds form a
// closed set; additional kinds are made available through an explicit Registry so that
// decoding never resolves types it was not told about.
package condition

import "github.com/garyjia/workflow-engine/internal/domain/trigger"

// Kind discriminates condition variants on the wire
type Kind string

const (
	KindPermission Kind = "permission"
	KindAll        Kind = "all"
	KindAny        Kind = "any"
	KindNot        Kind = "not"
	KindAlways     Kind = "always"
	KindNever      Kind = "never"
)

// String returns the string representation of the kind
func (k Kind) String() string {
	return string(k)
}

// Condition is a side-effect free boolean predicate over a trigger context.
// Implementations must be safe to evaluate repeatedly and concurrently.
type Condition interface {
	// Kind returns the variant discriminator
	Kind() Kind

	// IsSatisfiedBy evaluates the predicate for the calling context
	IsSatisfiedBy(tc trigger.Context) bool
}

// Evaluate evaluates c against tc. A nil condition is always satisfied.
func Evaluate(c Condition, tc trigger.Context) bool {
	if c == nil {
		return true
	}
	return c.IsSatisfiedBy(tc)
}
