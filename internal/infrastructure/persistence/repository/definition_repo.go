package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/workflow-engine/internal/application/port"
	"github.com/garyjia/workflow-engine/internal/domain/entity"
	"github.com/garyjia/workflow-engine/internal/infrastructure/persistence/sqlite"
)

const definitionColumns = `id, name, version, entity_type, is_active, states, created_at, updated_at`

// DefinitionRepository implements port.DefinitionRepository.
// States are stored as a JSON document with guards in their encoded form.
type DefinitionRepository struct {
	db     *sql.DB
	codec  *entity.DefinitionCodec
	logger *zap.Logger
}

// NewDefinitionRepository creates a new definition repository. A nil codec
// decodes built-in condition kinds only.
func NewDefinitionRepository(db *sql.DB, codec *entity.DefinitionCodec, logger *zap.Logger) port.DefinitionRepository {
	if codec == nil {
		codec = entity.NewDefinitionCodec(nil)
	}
	return &DefinitionRepository{
		db:     db,
		codec:  codec,
		logger: logger,
	}
}

// Create inserts a definition
func (r *DefinitionRepository) Create(ctx context.Context, def *entity.Definition) error {
	states, err := r.codec.EncodeStatesJSON(def)
	if err != nil {
		return fmt.Errorf("failed to encode states: %w", err)
	}

	query := `
		INSERT INTO workflow_definitions (
			name, version, entity_type, is_active, states, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	result, err := sqlite.ExecutorFrom(ctx, r.db).ExecContext(ctx, query,
		def.Name,
		def.Version,
		def.EntityType,
		def.IsActive,
		string(states),
		def.CreatedAt,
		def.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create definition", zap.String("name", def.Name), zap.Error(err))
		return fmt.Errorf("failed to create definition: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	def.ID = id
	return nil
}

// GetByID retrieves a definition by ID
func (r *DefinitionRepository) GetByID(ctx context.Context, id int64) (*entity.Definition, error) {
	query := `SELECT ` + definitionColumns + ` FROM workflow_definitions WHERE id = ?`

	def, err := r.scan(sqlite.ExecutorFrom(ctx, r.db).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("definition %d: %w", id, port.ErrNotFound)
	}
	if err != nil {
		r.logger.Error("Failed to get definition by ID", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get definition: %w", err)
	}
	return def, nil
}

// GetActive retrieves the active definition for an entity type
func (r *DefinitionRepository) GetActive(ctx context.Context, entityType string) (*entity.Definition, error) {
	query := `
		SELECT ` + definitionColumns + `
		FROM workflow_definitions
		WHERE entity_type = ? AND is_active = 1
		ORDER BY updated_at DESC
		LIMIT 1
	`

	def, err := r.scan(sqlite.ExecutorFrom(ctx, r.db).QueryRowContext(ctx, query, entityType))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("active definition for %s: %w", entityType, port.ErrNotFound)
	}
	if err != nil {
		r.logger.Error("Failed to get active definition", zap.String("entity_type", entityType), zap.Error(err))
		return nil, fmt.Errorf("failed to get active definition: %w", err)
	}
	return def, nil
}

// List returns definitions newest first, optionally filtered by entity type
func (r *DefinitionRepository) List(ctx context.Context, entityType string, limit, offset int) ([]*entity.Definition, error) {
	query := `SELECT ` + definitionColumns + ` FROM workflow_definitions`
	args := []interface{}{}
	if entityType != "" {
		query += ` WHERE entity_type = ?`
		args = append(args, entityType)
	}
	query += ` ORDER BY id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := sqlite.ExecutorFrom(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list definitions", zap.Error(err))
		return nil, fmt.Errorf("failed to list definitions: %w", err)
	}
	defer rows.Close()

	defs := []*entity.Definition{}
	for rows.Next() {
		def, err := r.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan definition: %w", err)
		}
		defs = append(defs, def)
	}

	return defs, rows.Err()
}

// Activate flips is_active for every definition of the target's entity type so
// that only the target remains active. It joins the caller's transaction when
// one is present.
func (r *DefinitionRepository) Activate(ctx context.Context, id int64) error {
	exec := sqlite.ExecutorFrom(ctx, r.db)

	var entityType string
	err := exec.QueryRowContext(ctx, `SELECT entity_type FROM workflow_definitions WHERE id = ?`, id).Scan(&entityType)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("definition %d: %w", id, port.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to load definition: %w", err)
	}

	// One statement, so the swap is atomic even outside a transaction
	_, err = exec.ExecContext(ctx, `
		UPDATE workflow_definitions
		SET is_active = CASE WHEN id = ? THEN 1 ELSE 0 END,
			updated_at = CASE WHEN id = ? THEN ? ELSE updated_at END
		WHERE entity_type = ?
	`, id, id, time.Now(), entityType)
	if err != nil {
		r.logger.Error("Failed to activate definition", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("failed to activate definition: %w", err)
	}

	return nil
}

// Delete removes a definition
func (r *DefinitionRepository) Delete(ctx context.Context, id int64) error {
	result, err := sqlite.ExecutorFrom(ctx, r.db).ExecContext(ctx, `DELETE FROM workflow_definitions WHERE id = ?`, id)
	if err != nil {
		r.logger.Error("Failed to delete definition", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("failed to delete definition: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("definition %d: %w", id, port.ErrNotFound)
	}
	return nil
}

func (r *DefinitionRepository) scan(row rowScanner) (*entity.Definition, error) {
	var def entity.Definition
	var states string

	err := row.Scan(
		&def.ID,
		&def.Name,
		&def.Version,
		&def.EntityType,
		&def.IsActive,
		&states,
		&def.CreatedAt,
		&def.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	def.States, err = r.codec.DecodeStatesJSON([]byte(states))
	if err != nil {
		return nil, fmt.Errorf("definition %d: %w", def.ID, err)
	}
	return &def, nil
}

// Verify interface compliance
var _ port.DefinitionRepository = (*DefinitionRepository)(nil)
