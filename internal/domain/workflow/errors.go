package workflow

import (
	"errors"
	"fmt"
)

// Error categories. Every engine error wraps exactly one of them.
var (
	// ErrConfiguration marks a definition the engine cannot compile
	ErrConfiguration = errors.New("workflow configuration error")

	// ErrPrecondition marks a call the caller must not retry unchanged
	ErrPrecondition = errors.New("workflow precondition violated")
)

var (
	// ErrNilDefinition is returned when configuring without a definition
	ErrNilDefinition = errors.New("definition is nil")

	// ErrNoInitialState is returned when no state is flagged initial
	ErrNoInitialState = errors.New("definition has no initial state")

	// ErrMultipleInitialStates is returned when more than one state is flagged initial
	ErrMultipleInitialStates = errors.New("definition has more than one initial state")

	// ErrUnknownTargetState is returned when a transition targets a state not in the definition
	ErrUnknownTargetState = errors.New("transition target state not found")

	// ErrDuplicateState is returned when two states share a name, ignoring case
	ErrDuplicateState = errors.New("duplicate state name")

	// ErrReservedStateName is returned when a state uses the bootstrap state's name
	ErrReservedStateName = errors.New("reserved state name")

	// ErrInvalidState is returned when a state is not valid
	ErrInvalidState = errors.New("invalid state")

	// ErrInvalidTrigger is returned when a transition has no trigger name
	ErrInvalidTrigger = errors.New("invalid trigger")
)

var (
	// ErrAlreadyStarted is returned when starting an instance that left the bootstrap state
	ErrAlreadyStarted = errors.New("instance already started")

	// ErrUnknownTrigger is returned when the trigger is not registered anywhere in the graph
	ErrUnknownTrigger = errors.New("unknown trigger")

	// ErrInvalidTransition is returned when a state transition is not allowed
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrGuardFailed is returned when a guard condition fails
	ErrGuardFailed = errors.New("guard condition failed")
)

// IsConfigurationError reports whether err is a definition/compile error
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

// IsPreconditionViolation reports whether err is a caller error for the current instance state
func IsPreconditionViolation(err error) bool {
	return errors.Is(err, ErrPrecondition)
}

func configurationError(cause error, format string, args ...any) error {
	return fmt.Errorf("%w: %w: %s", ErrConfiguration, cause, fmt.Sprintf(format, args...))
}

func preconditionError(cause error, format string, args ...any) error {
	return fmt.Errorf("%w: %w: %s", ErrPrecondition, cause, fmt.Sprintf(format, args...))
}
