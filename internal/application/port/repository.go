package port

import (
	"context"
	"errors"

	"github.com/garyjia/workflow-engine/internal/domain/entity"
)

var (
	// ErrNotFound is returned when a record does not exist
	ErrNotFound = errors.New("record not found")

	// ErrConcurrentModification is returned when an instance update carries a stale version
	ErrConcurrentModification = errors.New("instance was modified concurrently")

	// ErrAlreadyExists is returned when a unique key is already taken
	ErrAlreadyExists = errors.New("record already exists")
)

// DefinitionRepository defines persistence operations for workflow definitions
type DefinitionRepository interface {
	Create(ctx context.Context, def *entity.Definition) error
	GetByID(ctx context.Context, id int64) (*entity.Definition, error)

	// GetActive returns the single active definition for an entity type
	GetActive(ctx context.Context, entityType string) (*entity.Definition, error)

	List(ctx context.Context, entityType string, limit, offset int) ([]*entity.Definition, error)

	// Activate marks the definition active and deactivates every other
	// definition for the same entity type
	Activate(ctx context.Context, id int64) error

	Delete(ctx context.Context, id int64) error
}

// InstanceRepository defines persistence operations for WorkflowInstance
type InstanceRepository interface {
	Create(ctx context.Context, instance *entity.WorkflowInstance) error
	GetByID(ctx context.Context, id int64) (*entity.WorkflowInstance, error)
	GetByEntity(ctx context.Context, entityType, entityID string) (*entity.WorkflowInstance, error)

	// Update writes state fields when instance.Version matches the stored version,
	// then increments instance.Version. A mismatch returns ErrConcurrentModification.
	Update(ctx context.Context, instance *entity.WorkflowInstance) error

	List(ctx context.Context, definitionID int64, limit, offset int) ([]*entity.WorkflowInstance, error)

	// CountByDefinition is used to refuse deleting a definition that still has instances
	CountByDefinition(ctx context.Context, definitionID int64) (int, error)
}

// HistoryRepository defines persistence operations for TransitionRecord
type HistoryRepository interface {
	Create(ctx context.Context, record *entity.TransitionRecord) error
	GetByInstanceID(ctx context.Context, instanceID int64) ([]*entity.TransitionRecord, error)
}

// TransactionManager handles database transactions
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
