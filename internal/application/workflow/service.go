package workflow

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/garyjia/workflow-engine/internal/application/dispatcher"
	"github.com/garyjia/workflow-engine/internal/application/port"
	"github.com/garyjia/workflow-engine/internal/domain/entity"
	"github.com/garyjia/workflow-engine/internal/domain/event"
	"github.com/garyjia/workflow-engine/internal/domain/trigger"
	domainwf "github.com/garyjia/workflow-engine/internal/domain/workflow"
)

// Outcome labels reported to the TransitionRecorder
const (
	OutcomeSuccess       = "success"
	OutcomePrecondition  = "precondition"
	OutcomeConfiguration = "configuration"
	OutcomeFailure       = "failure"
)

var (
	// ErrEntityIDRequired is returned when CreateInstance is called without an entity id
	ErrEntityIDRequired = errors.New("entity id is required")

	// ErrNoActiveDefinition is returned when an entity type has no active definition
	ErrNoActiveDefinition = errors.New("no active definition for entity type")
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// InstanceService drives persisted workflow instances through their definitions
type InstanceService interface {
	// CreateInstance binds a new instance for the entity to the active definition of its type
	CreateInstance(ctx context.Context, entityType, entityID string, tc trigger.Context) (*entity.WorkflowInstance, error)

	// Start moves an instance out of the bootstrap state
	Start(ctx context.Context, instanceID int64, tc trigger.Context) (*entity.WorkflowInstance, error)

	// Fire attempts the named trigger from the instance's current state
	Fire(ctx context.Context, instanceID int64, triggerName string, tc trigger.Context) (*entity.WorkflowInstance, error)

	// Evaluate recomputes and stores the permitted triggers without moving the instance
	Evaluate(ctx context.Context, instanceID int64, tc trigger.Context) (*entity.WorkflowInstance, error)

	Get(ctx context.Context, instanceID int64) (*entity.WorkflowInstance, error)
	List(ctx context.Context, definitionID int64, limit, offset int) ([]*entity.WorkflowInstance, error)
	History(ctx context.Context, instanceID int64) ([]*entity.TransitionRecord, error)
}

type cachedGraph struct {
	updatedAt time.Time
	graph     *domainwf.Graph
}

type instanceService struct {
	definitions port.DefinitionRepository
	instances   port.InstanceRepository
	history     port.HistoryRepository
	txManager   port.TransactionManager

	dispatcher dispatcher.Dispatcher
	recorder   port.TransitionRecorder
	logger     Logger
	policy     domainwf.GuardPolicy

	// Compiled graphs per definition, invalidated when the definition changes
	mu     sync.RWMutex
	graphs map[int64]cachedGraph
}

// ServiceOption configures the instance service
type ServiceOption func(*instanceService)

// WithDispatcher sets the event dispatcher for emitting events
func WithDispatcher(d dispatcher.Dispatcher) ServiceOption {
	return func(s *instanceService) {
		s.dispatcher = d
	}
}

// WithRecorder sets the transition metrics recorder
func WithRecorder(r port.TransitionRecorder) ServiceOption {
	return func(s *instanceService) {
		s.recorder = r
	}
}

// WithLogger sets the service logger
func WithLogger(l Logger) ServiceOption {
	return func(s *instanceService) {
		s.logger = l
	}
}

// WithGuardPolicy sets the policy every definition is compiled with
func WithGuardPolicy(p domainwf.GuardPolicy) ServiceOption {
	return func(s *instanceService) {
		s.policy = p
	}
}

// NewInstanceService creates a new InstanceService
func NewInstanceService(
	definitions port.DefinitionRepository,
	instances port.InstanceRepository,
	history port.HistoryRepository,
	txManager port.TransactionManager,
	opts ...ServiceOption,
) InstanceService {
	s := &instanceService{
		definitions: definitions,
		instances:   instances,
		history:     history,
		txManager:   txManager,
		policy:      domainwf.GuardPolicyIgnore,
		graphs:      make(map[int64]cachedGraph),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *instanceService) CreateInstance(ctx context.Context, entityType, entityID string, tc trigger.Context) (*entity.WorkflowInstance, error) {
	if entityID == "" {
		return nil, ErrEntityIDRequired
	}

	existing, err := s.instances.GetByEntity(ctx, entityType, entityID)
	if err == nil && existing != nil {
		return nil, fmt.Errorf("instance for %s %s: %w", entityType, entityID, port.ErrAlreadyExists)
	}
	if err != nil && !errors.Is(err, port.ErrNotFound) {
		return nil, err
	}

	def, err := s.definitions.GetActive(ctx, entityType)
	if err != nil {
		if errors.Is(err, port.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNoActiveDefinition, entityType)
		}
		return nil, err
	}

	graph, err := s.graph(def)
	if err != nil {
		return nil, err
	}

	tc.EntityID = entityID
	tc.EntityType = def.EntityType
	snap := graph.NewInstance("", tc).Snapshot()

	now := time.Now()
	inst := &entity.WorkflowInstance{
		DefinitionID:      def.ID,
		EntityType:        def.EntityType,
		EntityID:          entityID,
		CurrentState:      snap.CurrentState,
		PermittedTriggers: snap.PermittedTriggers,
		IsActive:          snap.IsActive,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := s.instances.Create(ctx, inst); err != nil {
		s.logError("Failed to create instance", err, "entity_type", entityType, "entity_id", entityID)
		return nil, fmt.Errorf("failed to create instance: %w", err)
	}

	if s.recorder != nil {
		s.recorder.ObserveInstanceCreated(inst.EntityType)
	}
	s.emit(ctx, event.TypeInstanceCreated, inst, nil, event.Payload{
		event.PayloadDefinition: def.ID,
		event.PayloadNewState:   inst.CurrentState,
		event.PayloadActorID:    tc.ActorID(),
	})

	s.logInfo("Instance created",
		"instance_id", inst.ID,
		"entity_type", inst.EntityType,
		"entity_id", inst.EntityID,
		"definition_id", def.ID,
	)

	return inst, nil
}

func (s *instanceService) Start(ctx context.Context, instanceID int64, tc trigger.Context) (*entity.WorkflowInstance, error) {
	return s.transition(ctx, instanceID, domainwf.TriggerStart.String(), tc, func(inst *domainwf.Instance, tc trigger.Context) (*domainwf.TransitionResult, error) {
		return inst.Start(tc)
	})
}

func (s *instanceService) Fire(ctx context.Context, instanceID int64, triggerName string, tc trigger.Context) (*entity.WorkflowInstance, error) {
	return s.transition(ctx, instanceID, triggerName, tc, func(inst *domainwf.Instance, tc trigger.Context) (*domainwf.TransitionResult, error) {
		return inst.Fire(domainwf.Trigger(triggerName), tc)
	})
}

func (s *instanceService) Evaluate(ctx context.Context, instanceID int64, tc trigger.Context) (*entity.WorkflowInstance, error) {
	rec, inst, tc, err := s.load(ctx, instanceID, tc)
	if err != nil {
		return nil, err
	}

	permitted := domainwf.TriggerNames(inst.Evaluate(tc))
	if slices.Equal(permitted, rec.PermittedTriggers) {
		return rec, nil
	}

	rec.PermittedTriggers = permitted
	rec.UpdatedAt = time.Now()
	if err := s.instances.Update(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to store permitted triggers: %w", err)
	}
	return rec, nil
}

func (s *instanceService) Get(ctx context.Context, instanceID int64) (*entity.WorkflowInstance, error) {
	return s.instances.GetByID(ctx, instanceID)
}

func (s *instanceService) List(ctx context.Context, definitionID int64, limit, offset int) ([]*entity.WorkflowInstance, error) {
	return s.instances.List(ctx, definitionID, limit, offset)
}

func (s *instanceService) History(ctx context.Context, instanceID int64) ([]*entity.TransitionRecord, error) {
	if _, err := s.instances.GetByID(ctx, instanceID); err != nil {
		return nil, err
	}
	return s.history.GetByInstanceID(ctx, instanceID)
}

type transitionFunc func(inst *domainwf.Instance, tc trigger.Context) (*domainwf.TransitionResult, error)

// transition loads and rehydrates the instance, applies op and persists the
// new state with its history record in one transaction
func (s *instanceService) transition(ctx context.Context, instanceID int64, triggerName string, tc trigger.Context, op transitionFunc) (*entity.WorkflowInstance, error) {
	rec, inst, tc, err := s.load(ctx, instanceID, tc)
	if err != nil {
		return nil, err
	}

	result, err := op(inst, tc)
	if err != nil {
		s.observe(rec.EntityType, triggerName, err)
		return nil, err
	}

	snap := inst.Snapshot()
	rec.CurrentState = snap.CurrentState
	rec.PermittedTriggers = snap.PermittedTriggers
	rec.IsActive = snap.IsActive
	rec.UpdatedAt = time.Now()

	record := &entity.TransitionRecord{
		InstanceID: rec.ID,
		Trigger:    result.Trigger.String(),
		FromState:  result.Source.String(),
		ToState:    result.Destination.String(),
		ActorID:    tc.ActorID(),
		Timestamp:  rec.UpdatedAt,
	}

	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := s.instances.Update(txCtx, rec); err != nil {
			return fmt.Errorf("failed to update instance state: %w", err)
		}
		if err := s.history.Create(txCtx, record); err != nil {
			return fmt.Errorf("failed to create history record: %w", err)
		}
		return nil
	})
	if err != nil {
		s.observe(rec.EntityType, triggerName, err)
		s.logError("Transition not persisted", err, "instance_id", rec.ID, "trigger", triggerName)
		return nil, err
	}

	s.observe(rec.EntityType, triggerName, nil)
	s.logInfo("Instance transitioned",
		"instance_id", rec.ID,
		"trigger", record.Trigger,
		"from_state", record.FromState,
		"new_state", record.ToState,
		"actor_id", record.ActorID,
	)

	payload := event.Payload{
		event.PayloadTrigger:   record.Trigger,
		event.PayloadFromState: record.FromState,
		event.PayloadNewState:  record.ToState,
		event.PayloadActorID:   record.ActorID,
		event.PayloadIsActive:  rec.IsActive,
	}
	var cause *event.Event
	if result.Trigger == domainwf.TriggerStart {
		cause = s.emit(ctx, event.TypeInstanceStarted, rec, nil, payload)
	}
	moved := s.emit(ctx, event.TypeInstanceTransitioned, rec, cause, payload)
	if !rec.IsActive {
		if s.recorder != nil {
			s.recorder.ObserveInstanceCompleted(rec.EntityType)
		}
		s.emit(ctx, event.TypeInstanceCompleted, rec, moved, payload)
	}

	return rec, nil
}

// load fetches the instance and its definition and rehydrates the domain instance
func (s *instanceService) load(ctx context.Context, instanceID int64, tc trigger.Context) (*entity.WorkflowInstance, *domainwf.Instance, trigger.Context, error) {
	rec, err := s.instances.GetByID(ctx, instanceID)
	if err != nil {
		return nil, nil, tc, err
	}

	def, err := s.definitions.GetByID(ctx, rec.DefinitionID)
	if err != nil {
		return nil, nil, tc, fmt.Errorf("failed to load definition %d: %w", rec.DefinitionID, err)
	}

	graph, err := s.graph(def)
	if err != nil {
		return nil, nil, tc, err
	}

	tc.EntityID = rec.EntityID
	tc.EntityType = rec.EntityType
	return rec, graph.NewInstance(rec.CurrentState, tc), tc, nil
}

// graph returns the compiled graph for def, compiling on first use or after an update
func (s *instanceService) graph(def *entity.Definition) (*domainwf.Graph, error) {
	s.mu.RLock()
	cached, ok := s.graphs[def.ID]
	s.mu.RUnlock()

	if ok && cached.updatedAt.Equal(def.UpdatedAt) {
		return cached.graph, nil
	}

	g, err := domainwf.Compile(def, domainwf.WithGuardPolicy(s.policy))
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.graphs[def.ID] = cachedGraph{updatedAt: def.UpdatedAt, graph: g}
	s.mu.Unlock()

	return g, nil
}

// emit publishes an event for inst. Events caused by another share its correlation ID.
func (s *instanceService) emit(ctx context.Context, eventType event.Type, inst *entity.WorkflowInstance, cause *event.Event, payload event.Payload) *event.Event {
	evt := event.New(eventType, event.Subject{
		InstanceID: inst.ID,
		EntityType: inst.EntityType,
		EntityID:   inst.EntityID,
	}, payload)
	if cause != nil {
		evt = evt.Follows(cause)
	}
	if s.dispatcher != nil {
		s.dispatcher.DispatchAsync(ctx, evt)
	}
	return evt
}

func (s *instanceService) observe(entityType, triggerName string, err error) {
	if s.recorder == nil {
		return
	}
	s.recorder.ObserveTransition(entityType, triggerName, Outcome(err))
}

// Outcome classifies a transition error into a metrics label
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeSuccess
	case domainwf.IsPreconditionViolation(err):
		return OutcomePrecondition
	case domainwf.IsConfigurationError(err):
		return OutcomeConfiguration
	default:
		return OutcomeFailure
	}
}

func (s *instanceService) logInfo(msg string, keysAndValues ...interface{}) {
	if s.logger != nil {
		s.logger.Info(msg, keysAndValues...)
	}
}

func (s *instanceService) logError(msg string, err error, keysAndValues ...interface{}) {
	if s.logger != nil {
		s.logger.Error(msg, append(keysAndValues, "error", err)...)
	}
}
