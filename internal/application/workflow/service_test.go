package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/workflow-engine/internal/application/dispatcher"
	"github.com/garyjia/workflow-engine/internal/application/port"
	"github.com/garyjia/workflow-engine/internal/domain/condition"
	"github.com/garyjia/workflow-engine/internal/domain/entity"
	"github.com/garyjia/workflow-engine/internal/domain/event"
	"github.com/garyjia/workflow-engine/internal/domain/trigger"
	domainwf "github.com/garyjia/workflow-engine/internal/domain/workflow"
)

// Mock implementations

type mockDefinitionRepo struct {
	defs map[int64]*entity.Definition
}

func (m *mockDefinitionRepo) Create(ctx context.Context, def *entity.Definition) error {
	def.ID = int64(len(m.defs) + 1)
	m.defs[def.ID] = def
	return nil
}

func (m *mockDefinitionRepo) GetByID(ctx context.Context, id int64) (*entity.Definition, error) {
	def, ok := m.defs[id]
	if !ok {
		return nil, port.ErrNotFound
	}
	return def, nil
}

func (m *mockDefinitionRepo) GetActive(ctx context.Context, entityType string) (*entity.Definition, error) {
	for _, def := range m.defs {
		if def.IsActive && def.EntityType == entityType {
			return def, nil
		}
	}
	return nil, port.ErrNotFound
}

func (m *mockDefinitionRepo) List(ctx context.Context, entityType string, limit, offset int) ([]*entity.Definition, error) {
	return nil, nil
}

func (m *mockDefinitionRepo) Activate(ctx context.Context, id int64) error { return nil }

func (m *mockDefinitionRepo) Delete(ctx context.Context, id int64) error { return nil }

type mockInstanceRepo struct {
	instances map[int64]*entity.WorkflowInstance
	updateErr error
	updates   int
}

func (m *mockInstanceRepo) Create(ctx context.Context, inst *entity.WorkflowInstance) error {
	inst.ID = int64(len(m.instances) + 1)
	inst.Version = 1
	copied := *inst
	m.instances[inst.ID] = &copied
	return nil
}

func (m *mockInstanceRepo) GetByID(ctx context.Context, id int64) (*entity.WorkflowInstance, error) {
	inst, ok := m.instances[id]
	if !ok {
		return nil, port.ErrNotFound
	}
	copied := *inst
	return &copied, nil
}

func (m *mockInstanceRepo) GetByEntity(ctx context.Context, entityType, entityID string) (*entity.WorkflowInstance, error) {
	for _, inst := range m.instances {
		if inst.EntityType == entityType && inst.EntityID == entityID {
			copied := *inst
			return &copied, nil
		}
	}
	return nil, port.ErrNotFound
}

func (m *mockInstanceRepo) Update(ctx context.Context, inst *entity.WorkflowInstance) error {
	if m.updateErr != nil {
		return m.updateErr
	}
	stored, ok := m.instances[inst.ID]
	if !ok {
		return port.ErrNotFound
	}
	if stored.Version != inst.Version {
		return port.ErrConcurrentModification
	}
	inst.Version++
	copied := *inst
	m.instances[inst.ID] = &copied
	m.updates++
	return nil
}

func (m *mockInstanceRepo) List(ctx context.Context, definitionID int64, limit, offset int) ([]*entity.WorkflowInstance, error) {
	return nil, nil
}

func (m *mockInstanceRepo) CountByDefinition(ctx context.Context, definitionID int64) (int, error) {
	return 0, nil
}

type mockHistoryRepo struct {
	records []*entity.TransitionRecord
}

func (m *mockHistoryRepo) Create(ctx context.Context, record *entity.TransitionRecord) error {
	record.ID = int64(len(m.records) + 1)
	m.records = append(m.records, record)
	return nil
}

func (m *mockHistoryRepo) GetByInstanceID(ctx context.Context, instanceID int64) ([]*entity.TransitionRecord, error) {
	var result []*entity.TransitionRecord
	for _, r := range m.records {
		if r.InstanceID == instanceID {
			result = append(result, r)
		}
	}
	return result, nil
}

type mockTxManager struct{}

func (m *mockTxManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type mockDispatcher struct {
	mu     sync.Mutex
	events []*event.Event
}

func (m *mockDispatcher) Subscribe(eventType event.Type, handler dispatcher.Handler) {}

func (m *mockDispatcher) SubscribeNamed(eventType event.Type, name string, handler dispatcher.Handler) {
}

func (m *mockDispatcher) Unsubscribe(eventType event.Type, name string) {}

func (m *mockDispatcher) Dispatch(ctx context.Context, evt *event.Event) error {
	m.DispatchAsync(ctx, evt)
	return nil
}

func (m *mockDispatcher) DispatchAsync(ctx context.Context, evt *event.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
}

func (m *mockDispatcher) ListHandlers(eventType event.Type) []dispatcher.HandlerInfo { return nil }

func (m *mockDispatcher) Close() error { return nil }

func (m *mockDispatcher) types() []event.Type {
	m.mu.Lock()
	defer m.mu.Unlock()
	types := make([]event.Type, len(m.events))
	for i, e := range m.events {
		types[i] = e.Type
	}
	return types
}

type mockRecorder struct {
	transitions []string
	created     int
	completed   int
}

func (m *mockRecorder) ObserveTransition(entityType, triggerName, outcome string) {
	m.transitions = append(m.transitions, triggerName+":"+outcome)
}

func (m *mockRecorder) ObserveInstanceCreated(entityType string) { m.created++ }

func (m *mockRecorder) ObserveInstanceCompleted(entityType string) { m.completed++ }

// Fixtures

type fixture struct {
	service    InstanceService
	defs       *mockDefinitionRepo
	instances  *mockInstanceRepo
	history    *mockHistoryRepo
	dispatcher *mockDispatcher
	recorder   *mockRecorder
}

func newFixture(opts ...ServiceOption) *fixture {
	f := &fixture{
		defs: &mockDefinitionRepo{defs: map[int64]*entity.Definition{
			1: {
				ID:         1,
				Name:       "invoice-approval",
				EntityType: "Invoice",
				IsActive:   true,
				UpdatedAt:  time.Unix(1700000000, 0),
				States: []entity.State{
					{Name: "Draft", IsInitial: true, Transitions: []entity.Transition{{Trigger: "submit", Target: "Review"}}},
					{Name: "Review", Transitions: []entity.Transition{
						{Trigger: "approve", Target: "Approved", Guard: condition.MustHave("invoice.approve")},
						{Trigger: "reject", Target: "Draft"},
					}},
					{Name: "Approved", IsFinal: true},
				},
			},
		}},
		instances:  &mockInstanceRepo{instances: map[int64]*entity.WorkflowInstance{}},
		history:    &mockHistoryRepo{},
		dispatcher: &mockDispatcher{},
		recorder:   &mockRecorder{},
	}

	opts = append([]ServiceOption{WithDispatcher(f.dispatcher), WithRecorder(f.recorder)}, opts...)
	f.service = NewInstanceService(f.defs, f.instances, f.history, &mockTxManager{}, opts...)
	return f
}

func clerk(permissions ...string) trigger.Context {
	return trigger.Context{Principal: trigger.NewClaimsPrincipal("clerk-1", nil, permissions)}
}

func TestInstanceService_CreateInstance(t *testing.T) {
	t.Run("binds to active definition in bootstrap state", func(t *testing.T) {
		f := newFixture()

		inst, err := f.service.CreateInstance(context.Background(), "Invoice", "inv-1", clerk())
		require.NoError(t, err)

		assert.Equal(t, int64(1), inst.DefinitionID)
		assert.Equal(t, domainwf.BootstrapState.String(), inst.CurrentState)
		assert.Equal(t, []string{"Start"}, inst.PermittedTriggers)
		assert.True(t, inst.IsActive)
		assert.Equal(t, []event.Type{event.TypeInstanceCreated}, f.dispatcher.types())
		assert.Equal(t, 1, f.recorder.created)
	})

	t.Run("rejects duplicate entity", func(t *testing.T) {
		f := newFixture()
		_, err := f.service.CreateInstance(context.Background(), "Invoice", "inv-1", clerk())
		require.NoError(t, err)

		_, err = f.service.CreateInstance(context.Background(), "Invoice", "inv-1", clerk())
		assert.ErrorIs(t, err, port.ErrAlreadyExists)
	})

	t.Run("requires active definition", func(t *testing.T) {
		f := newFixture()
		_, err := f.service.CreateInstance(context.Background(), "Contract", "c-1", clerk())
		assert.ErrorIs(t, err, ErrNoActiveDefinition)
	})

	t.Run("requires entity id", func(t *testing.T) {
		f := newFixture()
		_, err := f.service.CreateInstance(context.Background(), "Invoice", "", clerk())
		assert.ErrorIs(t, err, ErrEntityIDRequired)
	})
}

func TestInstanceService_Lifecycle(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	inst, err := f.service.CreateInstance(ctx, "Invoice", "inv-7", clerk())
	require.NoError(t, err)

	inst, err = f.service.Start(ctx, inst.ID, clerk())
	require.NoError(t, err)
	assert.Equal(t, "Draft", inst.CurrentState)
	assert.Equal(t, []string{"submit"}, inst.PermittedTriggers)

	inst, err = f.service.Fire(ctx, inst.ID, "submit", clerk())
	require.NoError(t, err)
	assert.Equal(t, "Review", inst.CurrentState)
	assert.Equal(t, []string{"approve", "reject"}, inst.PermittedTriggers)

	inst, err = f.service.Fire(ctx, inst.ID, "approve", clerk())
	require.NoError(t, err)
	assert.Equal(t, "Approved", inst.CurrentState)
	assert.False(t, inst.IsActive)
	assert.Empty(t, inst.PermittedTriggers)

	records, err := f.service.History(ctx, inst.ID)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, domainwf.BootstrapState.String(), records[0].FromState)
	assert.Equal(t, "Draft", records[0].ToState)
	assert.Equal(t, "approve", records[2].Trigger)
	assert.Equal(t, "clerk-1", records[2].ActorID)

	stored, err := f.service.Get(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(4), stored.Version)

	assert.Equal(t, []event.Type{
		event.TypeInstanceCreated,
		event.TypeInstanceStarted,
		event.TypeInstanceTransitioned,
		event.TypeInstanceTransitioned,
		event.TypeInstanceTransitioned,
		event.TypeInstanceCompleted,
	}, f.dispatcher.types())
	assert.Equal(t, []string{"Start:success", "submit:success", "approve:success"}, f.recorder.transitions)
	assert.Equal(t, 1, f.recorder.completed)

	// events caused by one call share a correlation chain
	evts := f.dispatcher.events
	assert.Equal(t, evts[1].CorrelationID, evts[2].CorrelationID)
	assert.NotEqual(t, evts[2].CorrelationID, evts[3].CorrelationID)
	assert.Equal(t, evts[4].CorrelationID, evts[5].CorrelationID)
	assert.Equal(t, "Approved", evts[5].Payload.String(event.PayloadNewState))

	// each event owns its payload
	evts[4].Payload[event.PayloadNewState] = "tampered"
	assert.Equal(t, "Approved", evts[5].Payload.String(event.PayloadNewState))
	evts[1].Payload[event.PayloadActorID] = "tampered"
	assert.Equal(t, "clerk-1", evts[2].Payload.String(event.PayloadActorID))
}

func TestInstanceService_GraphCache(t *testing.T) {
	f := newFixture()
	svc := f.service.(*instanceService)
	ctx := context.Background()

	def := f.defs.defs[1]
	first, err := svc.graph(def)
	require.NoError(t, err)
	again, err := svc.graph(def)
	require.NoError(t, err)
	assert.Same(t, first, again)

	// an edited definition carries a new UpdatedAt and gets recompiled
	edited := *def
	edited.UpdatedAt = def.UpdatedAt.Add(time.Minute)
	edited.States = []entity.State{
		{Name: "Draft", IsInitial: true, Transitions: []entity.Transition{{Trigger: "publish", Target: "Published"}}},
		{Name: "Published", IsFinal: true},
	}
	f.defs.defs[1] = &edited

	recompiled, err := svc.graph(&edited)
	require.NoError(t, err)
	assert.NotSame(t, first, recompiled)
	again, err = svc.graph(&edited)
	require.NoError(t, err)
	assert.Same(t, recompiled, again)

	inst, err := f.service.CreateInstance(ctx, "Invoice", "inv-9", clerk())
	require.NoError(t, err)
	inst, err = f.service.Start(ctx, inst.ID, clerk())
	require.NoError(t, err)
	assert.Equal(t, []string{"publish"}, inst.PermittedTriggers)

	_, err = f.service.Fire(ctx, inst.ID, "submit", clerk())
	assert.ErrorIs(t, err, domainwf.ErrUnknownTrigger)

	inst, err = f.service.Fire(ctx, inst.ID, "publish", clerk())
	require.NoError(t, err)
	assert.Equal(t, "Published", inst.CurrentState)
	assert.False(t, inst.IsActive)
}

func TestInstanceService_Preconditions(t *testing.T) {
	ctx := context.Background()

	t.Run("start twice", func(t *testing.T) {
		f := newFixture()
		inst, err := f.service.CreateInstance(ctx, "Invoice", "inv-1", clerk())
		require.NoError(t, err)
		_, err = f.service.Start(ctx, inst.ID, clerk())
		require.NoError(t, err)

		_, err = f.service.Start(ctx, inst.ID, clerk())
		assert.ErrorIs(t, err, domainwf.ErrAlreadyStarted)
		assert.True(t, domainwf.IsPreconditionViolation(err))
	})

	t.Run("unknown trigger leaves instance untouched", func(t *testing.T) {
		f := newFixture()
		inst, err := f.service.CreateInstance(ctx, "Invoice", "inv-1", clerk())
		require.NoError(t, err)
		inst, err = f.service.Start(ctx, inst.ID, clerk())
		require.NoError(t, err)
		updates := f.instances.updates

		_, err = f.service.Fire(ctx, inst.ID, "archive", clerk())
		assert.ErrorIs(t, err, domainwf.ErrUnknownTrigger)

		stored, err := f.service.Get(ctx, inst.ID)
		require.NoError(t, err)
		assert.Equal(t, "Draft", stored.CurrentState)
		assert.Equal(t, updates, f.instances.updates)
		assert.Len(t, f.history.records, 1)
		assert.Equal(t, "archive:precondition", f.recorder.transitions[len(f.recorder.transitions)-1])
	})

	t.Run("missing instance", func(t *testing.T) {
		f := newFixture()
		_, err := f.service.Fire(ctx, 99, "submit", clerk())
		assert.ErrorIs(t, err, port.ErrNotFound)
	})
}

func TestInstanceService_GuardPolicy(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T, policy domainwf.GuardPolicy) (*fixture, int64) {
		f := newFixture(WithGuardPolicy(policy))
		inst, err := f.service.CreateInstance(ctx, "Invoice", "inv-1", clerk())
		require.NoError(t, err)
		_, err = f.service.Start(ctx, inst.ID, clerk())
		require.NoError(t, err)
		_, err = f.service.Fire(ctx, inst.ID, "submit", clerk())
		require.NoError(t, err)
		return f, inst.ID
	}

	t.Run("enforce rejects caller without permission", func(t *testing.T) {
		f, id := setup(t, domainwf.GuardPolicyEnforce)

		inst, err := f.service.Evaluate(ctx, id, clerk())
		require.NoError(t, err)
		assert.Equal(t, []string{"reject"}, inst.PermittedTriggers)

		_, err = f.service.Fire(ctx, id, "approve", clerk())
		assert.ErrorIs(t, err, domainwf.ErrGuardFailed)
	})

	t.Run("enforce admits caller with permission", func(t *testing.T) {
		f, id := setup(t, domainwf.GuardPolicyEnforce)

		inst, err := f.service.Fire(ctx, id, "approve", clerk("invoice.approve"))
		require.NoError(t, err)
		assert.Equal(t, "Approved", inst.CurrentState)
	})

	t.Run("ignore admits everyone", func(t *testing.T) {
		f, id := setup(t, domainwf.GuardPolicyIgnore)

		inst, err := f.service.Fire(ctx, id, "approve", clerk())
		require.NoError(t, err)
		assert.Equal(t, "Approved", inst.CurrentState)
	})
}

func TestInstanceService_PersistFailure(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	inst, err := f.service.CreateInstance(ctx, "Invoice", "inv-1", clerk())
	require.NoError(t, err)

	f.instances.updateErr = port.ErrConcurrentModification
	_, err = f.service.Start(ctx, inst.ID, clerk())
	assert.ErrorIs(t, err, port.ErrConcurrentModification)

	assert.Empty(t, f.history.records)
	assert.Equal(t, []event.Type{event.TypeInstanceCreated}, f.dispatcher.types())
	assert.Equal(t, []string{"Start:failure"}, f.recorder.transitions)
}

func TestInstanceService_Evaluate(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	inst, err := f.service.CreateInstance(ctx, "Invoice", "inv-1", clerk())
	require.NoError(t, err)
	updates := f.instances.updates

	// Unchanged permitted triggers are not rewritten
	inst, err = f.service.Evaluate(ctx, inst.ID, clerk())
	require.NoError(t, err)
	assert.Equal(t, []string{"Start"}, inst.PermittedTriggers)
	assert.Equal(t, updates, f.instances.updates)

	// A stale stored list is refreshed
	f.instances.instances[inst.ID].PermittedTriggers = nil
	inst, err = f.service.Evaluate(ctx, inst.ID, clerk())
	require.NoError(t, err)
	assert.Equal(t, []string{"Start"}, inst.PermittedTriggers)
	assert.Equal(t, updates+1, f.instances.updates)
	assert.Equal(t, domainwf.BootstrapState.String(), inst.CurrentState)
}

func TestOutcome(t *testing.T) {
	_, cfgErr := domainwf.Compile(nil)

	assert.Equal(t, OutcomeSuccess, Outcome(nil))
	assert.Equal(t, OutcomeConfiguration, Outcome(cfgErr))
	assert.Equal(t, OutcomeFailure, Outcome(errors.New("disk full")))
}
