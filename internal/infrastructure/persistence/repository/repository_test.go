package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/workflow-engine/internal/application/port"
	"github.com/garyjia/workflow-engine/internal/domain/condition"
	"github.com/garyjia/workflow-engine/internal/domain/entity"
	"github.com/garyjia/workflow-engine/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/workflow-engine/pkg/database"
)

type testStore struct {
	tx          *sqlite.TxManager
	definitions port.DefinitionRepository
	instances   port.InstanceRepository
	history     port.HistoryRepository
}

func newTestStore(t *testing.T) *testStore {
	t.Helper()
	logger := zap.NewNop()

	db, err := database.New(database.Config{Path: filepath.Join(t.TempDir(), "workflow.db"), MaxOpenConns: 1}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, database.NewMigrator(db, logger).Run(context.Background(), database.Schema))

	return &testStore{
		tx:          sqlite.NewTxManager(db),
		definitions: NewDefinitionRepository(db.DB, nil, logger),
		instances:   NewInstanceRepository(db.DB, logger),
		history:     NewHistoryRepository(db.DB, logger),
	}
}

func sampleDefinition(entityType string) *entity.Definition {
	now := time.Now()
	return &entity.Definition{
		Name:       "approval",
		Version:    "1",
		EntityType: entityType,
		CreatedAt:  now,
		UpdatedAt:  now,
		States: []entity.State{
			{Name: "Draft", IsInitial: true, Transitions: []entity.Transition{
				{Trigger: "submit", Target: "Done", Guard: condition.AnyOf(condition.MustHave("doc.submit"), condition.Always{})},
			}},
			{Name: "Done", IsFinal: true, Description: "closed"},
		},
	}
}

func TestDefinitionRepository_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	def := sampleDefinition("Invoice")
	require.NoError(t, s.definitions.Create(ctx, def))
	require.NotZero(t, def.ID)

	got, err := s.definitions.GetByID(ctx, def.ID)
	require.NoError(t, err)
	assert.Equal(t, "approval", got.Name)
	assert.Equal(t, "Invoice", got.EntityType)
	require.Len(t, got.States, 2)
	assert.True(t, got.States[0].IsInitial)
	assert.True(t, got.States[1].IsFinal)
	assert.Equal(t, "closed", got.States[1].Description)

	guard := got.States[0].Transitions[0].Guard
	require.NotNil(t, guard)
	assert.Equal(t, condition.KindAny, guard.Kind())

	_, err = s.definitions.GetByID(ctx, 999)
	assert.ErrorIs(t, err, port.ErrNotFound)
}

func TestDefinitionRepository_Activate(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	first := sampleDefinition("Invoice")
	second := sampleDefinition("Invoice")
	other := sampleDefinition("Contract")
	for _, d := range []*entity.Definition{first, second, other} {
		require.NoError(t, s.definitions.Create(ctx, d))
	}

	_, err := s.definitions.GetActive(ctx, "Invoice")
	assert.ErrorIs(t, err, port.ErrNotFound)

	require.NoError(t, s.definitions.Activate(ctx, first.ID))
	require.NoError(t, s.definitions.Activate(ctx, other.ID))
	require.NoError(t, s.definitions.Activate(ctx, second.ID))

	active, err := s.definitions.GetActive(ctx, "Invoice")
	require.NoError(t, err)
	assert.Equal(t, second.ID, active.ID)

	reloaded, err := s.definitions.GetByID(ctx, first.ID)
	require.NoError(t, err)
	assert.False(t, reloaded.IsActive)

	// Other entity types are untouched
	contract, err := s.definitions.GetActive(ctx, "Contract")
	require.NoError(t, err)
	assert.Equal(t, other.ID, contract.ID)

	assert.ErrorIs(t, s.definitions.Activate(ctx, 999), port.ErrNotFound)
}

func TestDefinitionRepository_ListAndDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	a := sampleDefinition("Invoice")
	b := sampleDefinition("Contract")
	require.NoError(t, s.definitions.Create(ctx, a))
	require.NoError(t, s.definitions.Create(ctx, b))

	all, err := s.definitions.List(ctx, "", 10, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Equal(t, b.ID, all[0].ID)

	invoices, err := s.definitions.List(ctx, "Invoice", 10, 0)
	require.NoError(t, err)
	require.Len(t, invoices, 1)
	assert.Equal(t, a.ID, invoices[0].ID)

	require.NoError(t, s.definitions.Delete(ctx, a.ID))
	assert.ErrorIs(t, s.definitions.Delete(ctx, a.ID), port.ErrNotFound)
}

func createInstance(t *testing.T, s *testStore, entityID string) (*entity.Definition, *entity.WorkflowInstance) {
	t.Helper()
	ctx := context.Background()

	def := sampleDefinition("Invoice")
	require.NoError(t, s.definitions.Create(ctx, def))

	now := time.Now()
	inst := &entity.WorkflowInstance{
		DefinitionID:      def.ID,
		EntityType:        "Invoice",
		EntityID:          entityID,
		CurrentState:      "$bootstrap",
		PermittedTriggers: []string{"Start"},
		IsActive:          true,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	require.NoError(t, s.instances.Create(ctx, inst))
	return def, inst
}

func TestInstanceRepository_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	def, inst := createInstance(t, s, "inv-1")
	assert.NotZero(t, inst.ID)
	assert.Equal(t, int64(1), inst.Version)

	got, err := s.instances.GetByID(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, def.ID, got.DefinitionID)
	assert.Equal(t, []string{"Start"}, got.PermittedTriggers)
	assert.True(t, got.IsActive)

	byEntity, err := s.instances.GetByEntity(ctx, "Invoice", "inv-1")
	require.NoError(t, err)
	assert.Equal(t, inst.ID, byEntity.ID)

	_, err = s.instances.GetByEntity(ctx, "Invoice", "missing")
	assert.ErrorIs(t, err, port.ErrNotFound)

	dup := *inst
	dup.ID = 0
	assert.ErrorIs(t, s.instances.Create(ctx, &dup), port.ErrAlreadyExists)

	count, err := s.instances.CountByDefinition(ctx, def.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestInstanceRepository_OptimisticUpdate(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	_, inst := createInstance(t, s, "inv-1")

	stale, err := s.instances.GetByID(ctx, inst.ID)
	require.NoError(t, err)

	inst.CurrentState = "Draft"
	inst.PermittedTriggers = []string{"submit"}
	inst.UpdatedAt = time.Now()
	require.NoError(t, s.instances.Update(ctx, inst))
	assert.Equal(t, int64(2), inst.Version)

	stale.CurrentState = "Done"
	err = s.instances.Update(ctx, stale)
	assert.ErrorIs(t, err, port.ErrConcurrentModification)

	got, err := s.instances.GetByID(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, "Draft", got.CurrentState)
	assert.Equal(t, []string{"submit"}, got.PermittedTriggers)
	assert.Equal(t, int64(2), got.Version)

	missing := *inst
	missing.ID = 999
	assert.ErrorIs(t, s.instances.Update(ctx, &missing), port.ErrNotFound)
}

func TestInstanceRepository_List(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	def, first := createInstance(t, s, "inv-1")
	_, second := createInstance(t, s, "inv-2")

	all, err := s.instances.List(ctx, 0, 10, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, second.ID, all[0].ID)

	filtered, err := s.instances.List(ctx, def.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, first.ID, filtered[0].ID)
}

func TestHistoryRepository_Transactional(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	_, inst := createInstance(t, s, "inv-1")

	record := func(from, to string) *entity.TransitionRecord {
		return &entity.TransitionRecord{
			InstanceID: inst.ID,
			Trigger:    "go",
			FromState:  from,
			ToState:    to,
			ActorID:    "alice",
			Timestamp:  time.Now(),
		}
	}

	require.NoError(t, s.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		inst.CurrentState = "Draft"
		if err := s.instances.Update(txCtx, inst); err != nil {
			return err
		}
		return s.history.Create(txCtx, record("$bootstrap", "Draft"))
	}))

	boom := errors.New("boom")
	err := s.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := s.history.Create(txCtx, record("Draft", "Done")); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	records, err := s.history.GetByInstanceID(ctx, inst.ID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Draft", records[0].ToState)
	assert.Equal(t, "alice", records[0].ActorID)

	empty, err := s.history.GetByInstanceID(ctx, 999)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
