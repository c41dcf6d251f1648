package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/workflow-engine/internal/application/port"
	"github.com/garyjia/workflow-engine/internal/domain/entity"
	domainwf "github.com/garyjia/workflow-engine/internal/domain/workflow"
)

// Mock repositories
type mockDefinitionRepo struct {
	createFunc   func(ctx context.Context, def *entity.Definition) error
	getByIDFunc  func(ctx context.Context, id int64) (*entity.Definition, error)
	listFunc     func(ctx context.Context, entityType string, limit, offset int) ([]*entity.Definition, error)
	activateFunc func(ctx context.Context, id int64) error
	deleteFunc   func(ctx context.Context, id int64) error
}

func (m *mockDefinitionRepo) Create(ctx context.Context, def *entity.Definition) error {
	if m.createFunc != nil {
		return m.createFunc(ctx, def)
	}
	def.ID = 1
	return nil
}

func (m *mockDefinitionRepo) GetByID(ctx context.Context, id int64) (*entity.Definition, error) {
	if m.getByIDFunc != nil {
		return m.getByIDFunc(ctx, id)
	}
	return &entity.Definition{ID: id, EntityType: "Invoice"}, nil
}

func (m *mockDefinitionRepo) GetActive(ctx context.Context, entityType string) (*entity.Definition, error) {
	return nil, port.ErrNotFound
}

func (m *mockDefinitionRepo) List(ctx context.Context, entityType string, limit, offset int) ([]*entity.Definition, error) {
	if m.listFunc != nil {
		return m.listFunc(ctx, entityType, limit, offset)
	}
	return []*entity.Definition{}, nil
}

func (m *mockDefinitionRepo) Activate(ctx context.Context, id int64) error {
	if m.activateFunc != nil {
		return m.activateFunc(ctx, id)
	}
	return nil
}

func (m *mockDefinitionRepo) Delete(ctx context.Context, id int64) error {
	if m.deleteFunc != nil {
		return m.deleteFunc(ctx, id)
	}
	return nil
}

type mockInstanceRepo struct {
	port.InstanceRepository
	count int
}

func (m *mockInstanceRepo) CountByDefinition(ctx context.Context, definitionID int64) (int, error) {
	return m.count, nil
}

type mockTxManager struct {
	withTransactionFunc func(ctx context.Context, fn func(ctx context.Context) error) error
}

func (m *mockTxManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if m.withTransactionFunc != nil {
		return m.withTransactionFunc(ctx, fn)
	}
	return fn(ctx)
}

type mockLogger struct{}

func (m *mockLogger) Info(msg string, keysAndValues ...interface{})  {}
func (m *mockLogger) Error(msg string, keysAndValues ...interface{}) {}

func validDefinition() *entity.Definition {
	return &entity.Definition{
		Name:       "invoice-approval",
		Version:    "1",
		EntityType: "Invoice",
		States: []entity.State{
			{Name: "Draft", IsInitial: true, Transitions: []entity.Transition{{Trigger: "submit", Target: "Done"}}},
			{Name: "Done", IsFinal: true},
		},
	}
}

func TestDefinitionService_Validate(t *testing.T) {
	svc := NewDefinitionService(&mockDefinitionRepo{}, &mockInstanceRepo{}, &mockTxManager{}, nil, &mockLogger{})

	tests := []struct {
		name    string
		mutate  func(def *entity.Definition)
		wantErr error
	}{
		{name: "valid", mutate: func(def *entity.Definition) {}},
		{name: "missing name", mutate: func(def *entity.Definition) { def.Name = " " }, wantErr: ErrInvalidDefinition},
		{name: "missing entity type", mutate: func(def *entity.Definition) { def.EntityType = "" }, wantErr: ErrInvalidDefinition},
		{name: "no initial state", mutate: func(def *entity.Definition) { def.States[0].IsInitial = false }, wantErr: domainwf.ErrNoInitialState},
		{name: "unknown target", mutate: func(def *entity.Definition) { def.States[0].Transitions[0].Target = "Nowhere" }, wantErr: domainwf.ErrUnknownTargetState},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := validDefinition()
			tt.mutate(def)

			err := svc.Validate(def)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	assert.ErrorIs(t, svc.Validate(nil), domainwf.ErrConfiguration)
}

func TestDefinitionService_Create(t *testing.T) {
	t.Run("stores inactive definition", func(t *testing.T) {
		activated := false
		repo := &mockDefinitionRepo{activateFunc: func(ctx context.Context, id int64) error {
			activated = true
			return nil
		}}
		svc := NewDefinitionService(repo, &mockInstanceRepo{}, &mockTxManager{}, nil, &mockLogger{})

		def, err := svc.Create(context.Background(), validDefinition())
		require.NoError(t, err)
		assert.Equal(t, int64(1), def.ID)
		assert.False(t, def.IsActive)
		assert.False(t, activated)
		assert.False(t, def.CreatedAt.IsZero())
	})

	t.Run("activates definition submitted as active", func(t *testing.T) {
		var activatedID int64
		repo := &mockDefinitionRepo{activateFunc: func(ctx context.Context, id int64) error {
			activatedID = id
			return nil
		}}
		svc := NewDefinitionService(repo, &mockInstanceRepo{}, &mockTxManager{}, nil, &mockLogger{})

		input := validDefinition()
		input.IsActive = true
		def, err := svc.Create(context.Background(), input)
		require.NoError(t, err)
		assert.True(t, def.IsActive)
		assert.Equal(t, int64(1), activatedID)
	})

	t.Run("rejects invalid definition without storing", func(t *testing.T) {
		repo := &mockDefinitionRepo{createFunc: func(ctx context.Context, def *entity.Definition) error {
			t.Fatal("create should not be called")
			return nil
		}}
		svc := NewDefinitionService(repo, &mockInstanceRepo{}, &mockTxManager{}, nil, &mockLogger{})

		input := validDefinition()
		input.States[1].IsInitial = true
		_, err := svc.Create(context.Background(), input)
		assert.ErrorIs(t, err, domainwf.ErrMultipleInitialStates)
	})

	t.Run("propagates repository error", func(t *testing.T) {
		repo := &mockDefinitionRepo{createFunc: func(ctx context.Context, def *entity.Definition) error {
			return errors.New("database error")
		}}
		svc := NewDefinitionService(repo, &mockInstanceRepo{}, &mockTxManager{}, nil, &mockLogger{})

		_, err := svc.Create(context.Background(), validDefinition())
		assert.Error(t, err)
	})
}

func TestDefinitionService_List(t *testing.T) {
	var gotLimit int
	repo := &mockDefinitionRepo{listFunc: func(ctx context.Context, entityType string, limit, offset int) ([]*entity.Definition, error) {
		gotLimit = limit
		return []*entity.Definition{{ID: 1}}, nil
	}}
	svc := NewDefinitionService(repo, &mockInstanceRepo{}, &mockTxManager{}, nil, &mockLogger{})

	defs, err := svc.List(context.Background(), "Invoice", 0, 0)
	require.NoError(t, err)
	assert.Len(t, defs, 1)
	assert.Equal(t, 50, gotLimit)
}

func TestDefinitionService_Activate(t *testing.T) {
	repo := &mockDefinitionRepo{getByIDFunc: func(ctx context.Context, id int64) (*entity.Definition, error) {
		return &entity.Definition{ID: id, EntityType: "Invoice", IsActive: true}, nil
	}}
	svc := NewDefinitionService(repo, &mockInstanceRepo{}, &mockTxManager{}, nil, &mockLogger{})

	def, err := svc.Activate(context.Background(), 3)
	require.NoError(t, err)
	assert.True(t, def.IsActive)

	repo.activateFunc = func(ctx context.Context, id int64) error { return port.ErrNotFound }
	_, err = svc.Activate(context.Background(), 4)
	assert.ErrorIs(t, err, port.ErrNotFound)
}

func TestDefinitionService_Delete(t *testing.T) {
	t.Run("refuses definition in use", func(t *testing.T) {
		svc := NewDefinitionService(&mockDefinitionRepo{}, &mockInstanceRepo{count: 2}, &mockTxManager{}, nil, &mockLogger{})
		assert.ErrorIs(t, svc.Delete(context.Background(), 1), ErrDefinitionInUse)
	})

	t.Run("deletes unused definition", func(t *testing.T) {
		deleted := false
		repo := &mockDefinitionRepo{deleteFunc: func(ctx context.Context, id int64) error {
			deleted = true
			return nil
		}}
		svc := NewDefinitionService(repo, &mockInstanceRepo{}, &mockTxManager{}, nil, &mockLogger{})
		require.NoError(t, svc.Delete(context.Background(), 1))
		assert.True(t, deleted)
	})

	t.Run("missing definition", func(t *testing.T) {
		repo := &mockDefinitionRepo{getByIDFunc: func(ctx context.Context, id int64) (*entity.Definition, error) {
			return nil, port.ErrNotFound
		}}
		svc := NewDefinitionService(repo, &mockInstanceRepo{}, &mockTxManager{}, nil, &mockLogger{})
		assert.ErrorIs(t, svc.Delete(context.Background(), 9), port.ErrNotFound)
	})
}
