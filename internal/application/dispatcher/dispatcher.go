package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/garyjia/workflow-engine/internal/domain/event"
)

// ErrClosed is returned when dispatching on a closed dispatcher
var ErrClosed = errors.New("dispatcher is closed")

// DefaultQueueSize is the async backlog a dispatcher buffers before DispatchAsync blocks
const DefaultQueueSize = 256

// Dispatcher routes workflow events to registered handlers
type Dispatcher interface {
	// Subscribe registers a handler for an event type, or AllEvents
	Subscribe(eventType event.Type, handler Handler)

	// SubscribeNamed registers a handler with a name for debugging
	SubscribeNamed(eventType event.Type, name string, handler Handler)

	// Unsubscribe removes a handler by name
	Unsubscribe(eventType event.Type, name string)

	// Dispatch runs handlers in registration order and stops at the first error.
	// Handlers for the specific type run before AllEvents handlers.
	Dispatch(ctx context.Context, evt *event.Event) error

	// DispatchAsync queues the event for the delivery loop. Queued events are
	// delivered one at a time in the order they were queued. It blocks while the
	// queue is full, except when called from a handler with the context it was
	// given: the event is then dropped and logged instead.
	DispatchAsync(ctx context.Context, evt *event.Event)

	// ListHandlers returns registered handlers for an event type
	ListHandlers(eventType event.Type) []HandlerInfo

	// Close rejects further dispatches and waits until the queue is drained.
	// Handlers must not call it.
	Close() error
}

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

type delivery struct {
	ctx      context.Context
	evt      *event.Event
	handlers []HandlerInfo
}

// deliveryKey marks contexts passed to handlers by the delivery loop
type deliveryKey struct{}

type eventDispatcher struct {
	mu       sync.RWMutex
	handlers map[event.Type][]HandlerInfo
	seq      map[event.Type]int
	logger   Logger

	// queueMu guards closed and the send side of queue
	queueMu   sync.RWMutex
	closed    bool
	queueSize int
	queue     chan delivery
	drained   chan struct{}
}

// Option configures the dispatcher
type Option func(*eventDispatcher)

// WithLogger sets a logger for the dispatcher
func WithLogger(logger Logger) Option {
	return func(d *eventDispatcher) {
		d.logger = logger
	}
}

// WithQueueSize sets the async backlog; values below 1 mean unbuffered
func WithQueueSize(size int) Option {
	return func(d *eventDispatcher) {
		d.queueSize = max(size, 0)
	}
}

// NewDispatcher creates a dispatcher and starts its delivery loop
func NewDispatcher(opts ...Option) Dispatcher {
	d := &eventDispatcher{
		handlers:  make(map[event.Type][]HandlerInfo),
		seq:       make(map[event.Type]int),
		queueSize: DefaultQueueSize,
		drained:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}

	d.queue = make(chan delivery, d.queueSize)
	go d.deliver()
	return d
}

// Subscribe registers a handler under a generated name. Generated names are
// never reused for an event type, even after Unsubscribe.
func (d *eventDispatcher) Subscribe(eventType event.Type, handler Handler) {
	d.mu.Lock()
	name := fmt.Sprintf("%s-handler-%d", eventType, d.seq[eventType])
	d.seq[eventType]++
	d.register(eventType, name, handler)
	d.mu.Unlock()

	d.info("Handler registered", "event_type", eventType, "handler_name", name)
}

func (d *eventDispatcher) SubscribeNamed(eventType event.Type, name string, handler Handler) {
	d.mu.Lock()
	d.register(eventType, name, handler)
	d.mu.Unlock()

	d.info("Handler registered", "event_type", eventType, "handler_name", name)
}

// register appends a handler; d.mu must be held
func (d *eventDispatcher) register(eventType event.Type, name string, handler Handler) {
	d.handlers[eventType] = append(d.handlers[eventType], HandlerInfo{
		Name:      name,
		EventType: eventType,
		Handler:   handler,
	})
}

// Unsubscribe removes every handler registered under name for the event type
func (d *eventDispatcher) Unsubscribe(eventType event.Type, name string) {
	d.mu.Lock()
	kept := make([]HandlerInfo, 0, len(d.handlers[eventType]))
	for _, h := range d.handlers[eventType] {
		if h.Name != name {
			kept = append(kept, h)
		}
	}
	d.handlers[eventType] = kept
	d.mu.Unlock()

	d.info("Handler unregistered", "event_type", eventType, "handler_name", name)
}

func (d *eventDispatcher) Dispatch(ctx context.Context, evt *event.Event) error {
	d.queueMu.RLock()
	closed := d.closed
	d.queueMu.RUnlock()
	if closed {
		return ErrClosed
	}

	for _, h := range d.handlersFor(evt.Type) {
		if err := d.invoke(ctx, evt, h); err != nil {
			return fmt.Errorf("handler %s failed: %w", h.Name, err)
		}
	}
	return nil
}

func (d *eventDispatcher) DispatchAsync(ctx context.Context, evt *event.Event) {
	handlers := d.handlersFor(evt.Type)
	if len(handlers) == 0 {
		return
	}

	d.queueMu.RLock()
	defer d.queueMu.RUnlock()
	if d.closed {
		d.error("Dropping event, dispatcher is closed", "event_type", evt.Type, "event_id", evt.ID)
		return
	}

	// Delivery outlives the caller's request
	item := delivery{ctx: context.WithoutCancel(ctx), evt: evt, handlers: handlers}

	// The delivery loop is the only consumer, so a handler must never wait on a full queue
	if ctx.Value(deliveryKey{}) != nil {
		select {
		case d.queue <- item:
		default:
			d.error("Dropping event queued by a handler, queue is full", "event_type", evt.Type, "event_id", evt.ID)
		}
		return
	}
	d.queue <- item
}

// deliver runs queued events until the queue is closed and empty
func (d *eventDispatcher) deliver() {
	defer close(d.drained)

	for item := range d.queue {
		ctx := context.WithValue(item.ctx, deliveryKey{}, true)
		for _, h := range item.handlers {
			// A failing handler does not stop delivery to the others
			_ = d.invoke(ctx, item.evt, h)
		}
	}
}

// ListHandlers returns handler metadata without the handler functions
func (d *eventDispatcher) ListHandlers(eventType event.Type) []HandlerInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()

	result := make([]HandlerInfo, 0, len(d.handlers[eventType]))
	for _, h := range d.handlers[eventType] {
		h.Handler = nil
		result = append(result, h)
	}
	return result
}

func (d *eventDispatcher) Close() error {
	d.queueMu.Lock()
	if d.closed {
		d.queueMu.Unlock()
		return ErrClosed
	}
	d.closed = true
	close(d.queue)
	d.queueMu.Unlock()

	d.info("Closing dispatcher, draining queued events", "queued", len(d.queue))
	<-d.drained
	d.info("Dispatcher closed")
	return nil
}

// handlersFor snapshots the specific handlers followed by the AllEvents handlers
func (d *eventDispatcher) handlersFor(eventType event.Type) []HandlerInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()

	result := append([]HandlerInfo(nil), d.handlers[eventType]...)
	if eventType != AllEvents {
		result = append(result, d.handlers[AllEvents]...)
	}
	return result
}

// invoke runs one handler, turning a panic into an error. Failures are logged here.
func (d *eventDispatcher) invoke(ctx context.Context, evt *event.Event, h HandlerInfo) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
		if err != nil {
			d.error("Event handler failed",
				"event_type", evt.Type,
				"event_id", evt.ID,
				"instance_id", evt.InstanceID,
				"handler_name", h.Name,
				"error", err,
			)
		}
	}()

	return h.Handler(ctx, evt)
}

func (d *eventDispatcher) info(msg string, keysAndValues ...interface{}) {
	if d.logger != nil {
		d.logger.Info(msg, keysAndValues...)
	}
}

func (d *eventDispatcher) error(msg string, keysAndValues ...interface{}) {
	if d.logger != nil {
		d.logger.Error(msg, keysAndValues...)
	}
}
