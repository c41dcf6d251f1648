package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/garyjia/workflow-engine/internal/application/port"
	"github.com/garyjia/workflow-engine/internal/domain/entity"
	"github.com/garyjia/workflow-engine/internal/infrastructure/persistence/sqlite"
)

const instanceColumns = `
	id, definition_id, entity_type, entity_id, current_state,
	permitted_triggers, is_active, version, created_at, updated_at
`

// InstanceRepository implements port.InstanceRepository
type InstanceRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewInstanceRepository creates a new instance repository
func NewInstanceRepository(db *sql.DB, logger *zap.Logger) port.InstanceRepository {
	return &InstanceRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new workflow instance at version 1
func (r *InstanceRepository) Create(ctx context.Context, instance *entity.WorkflowInstance) error {
	permitted, err := encodeTriggers(instance.PermittedTriggers)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO workflow_instances (
			definition_id, entity_type, entity_id, current_state,
			permitted_triggers, is_active, version, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?)
	`

	result, err := sqlite.ExecutorFrom(ctx, r.db).ExecContext(ctx, query,
		instance.DefinitionID,
		instance.EntityType,
		instance.EntityID,
		instance.CurrentState,
		permitted,
		instance.IsActive,
		instance.CreatedAt,
		instance.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("instance for %s %s: %w", instance.EntityType, instance.EntityID, port.ErrAlreadyExists)
		}
		r.logger.Error("Failed to create instance", zap.String("entity_id", instance.EntityID), zap.Error(err))
		return fmt.Errorf("failed to create instance: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	instance.ID = id
	instance.Version = 1
	return nil
}

// GetByID retrieves an instance by ID
func (r *InstanceRepository) GetByID(ctx context.Context, id int64) (*entity.WorkflowInstance, error) {
	query := `SELECT ` + instanceColumns + ` FROM workflow_instances WHERE id = ?`

	instance, err := scanInstance(sqlite.ExecutorFrom(ctx, r.db).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("instance %d: %w", id, port.ErrNotFound)
	}
	if err != nil {
		r.logger.Error("Failed to get instance by ID", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get instance: %w", err)
	}
	return instance, nil
}

// GetByEntity retrieves the instance bound to an entity
func (r *InstanceRepository) GetByEntity(ctx context.Context, entityType, entityID string) (*entity.WorkflowInstance, error) {
	query := `SELECT ` + instanceColumns + ` FROM workflow_instances WHERE entity_type = ? AND entity_id = ?`

	instance, err := scanInstance(sqlite.ExecutorFrom(ctx, r.db).QueryRowContext(ctx, query, entityType, entityID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("instance for %s %s: %w", entityType, entityID, port.ErrNotFound)
	}
	if err != nil {
		r.logger.Error("Failed to get instance by entity",
			zap.String("entity_type", entityType),
			zap.String("entity_id", entityID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get instance: %w", err)
	}
	return instance, nil
}

// Update writes the state fields guarded by the version column
func (r *InstanceRepository) Update(ctx context.Context, instance *entity.WorkflowInstance) error {
	permitted, err := encodeTriggers(instance.PermittedTriggers)
	if err != nil {
		return err
	}

	query := `
		UPDATE workflow_instances
		SET current_state = ?, permitted_triggers = ?, is_active = ?,
			version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?
	`

	exec := sqlite.ExecutorFrom(ctx, r.db)
	result, err := exec.ExecContext(ctx, query,
		instance.CurrentState,
		permitted,
		instance.IsActive,
		instance.UpdatedAt,
		instance.ID,
		instance.Version,
	)
	if err != nil {
		r.logger.Error("Failed to update instance", zap.Int64("id", instance.ID), zap.Error(err))
		return fmt.Errorf("failed to update instance: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		var exists int
		err := exec.QueryRowContext(ctx, `SELECT 1 FROM workflow_instances WHERE id = ?`, instance.ID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("instance %d: %w", instance.ID, port.ErrNotFound)
		}
		return fmt.Errorf("instance %d at version %d: %w", instance.ID, instance.Version, port.ErrConcurrentModification)
	}

	instance.Version++
	return nil
}

// List returns instances newest first, optionally filtered by definition
func (r *InstanceRepository) List(ctx context.Context, definitionID int64, limit, offset int) ([]*entity.WorkflowInstance, error) {
	query := `SELECT ` + instanceColumns + ` FROM workflow_instances`
	args := []interface{}{}
	if definitionID > 0 {
		query += ` WHERE definition_id = ?`
		args = append(args, definitionID)
	}
	query += ` ORDER BY id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := sqlite.ExecutorFrom(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list instances", zap.Error(err))
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}
	defer rows.Close()

	instances := []*entity.WorkflowInstance{}
	for rows.Next() {
		instance, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan instance: %w", err)
		}
		instances = append(instances, instance)
	}

	return instances, rows.Err()
}

// CountByDefinition counts instances bound to a definition
func (r *InstanceRepository) CountByDefinition(ctx context.Context, definitionID int64) (int, error) {
	var count int
	err := sqlite.ExecutorFrom(ctx, r.db).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM workflow_instances WHERE definition_id = ?`, definitionID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count instances: %w", err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanInstance(row rowScanner) (*entity.WorkflowInstance, error) {
	var instance entity.WorkflowInstance
	var permitted string

	err := row.Scan(
		&instance.ID,
		&instance.DefinitionID,
		&instance.EntityType,
		&instance.EntityID,
		&instance.CurrentState,
		&permitted,
		&instance.IsActive,
		&instance.Version,
		&instance.CreatedAt,
		&instance.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(permitted), &instance.PermittedTriggers); err != nil {
		return nil, fmt.Errorf("failed to decode permitted triggers: %w", err)
	}
	return &instance, nil
}

func encodeTriggers(triggers []string) (string, error) {
	if triggers == nil {
		triggers = []string{}
	}
	data, err := json.Marshal(triggers)
	if err != nil {
		return "", fmt.Errorf("failed to encode permitted triggers: %w", err)
	}
	return string(data), nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

// Verify interface compliance
var _ port.InstanceRepository = (*InstanceRepository)(nil)
