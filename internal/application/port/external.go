package port

import (
	"context"

	"github.com/garyjia/workflow-engine/internal/domain/event"
)

// EventPublisher forwards workflow events to systems outside the process
type EventPublisher interface {
	Publish(ctx context.Context, evt *event.Event) error
	Close() error
}

// TransitionRecorder collects transition outcomes for monitoring
type TransitionRecorder interface {
	// ObserveTransition records one Start or Fire attempt and its outcome
	ObserveTransition(entityType, trigger, outcome string)

	// ObserveInstanceCreated counts newly created instances
	ObserveInstanceCreated(entityType string)

	// ObserveInstanceCompleted counts instances reaching a final state
	ObserveInstanceCompleted(entityType string)
}
