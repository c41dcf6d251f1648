package dispatcher

import (
	"context"

	"github.com/garyjia/workflow-engine/internal/domain/event"
)

// AllEvents subscribes a handler to every event type. Its handlers run after
// the handlers registered for the specific type.
const AllEvents event.Type = "*"

// Handler consumes one workflow event
type Handler func(ctx context.Context, evt *event.Event) error

// HandlerInfo describes a subscription. ListHandlers leaves Handler nil.
type HandlerInfo struct {
	Name      string
	EventType event.Type
	Handler   Handler
}
