package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/workflow-engine/internal/application/port"
	"github.com/garyjia/workflow-engine/internal/domain/entity"
	"github.com/garyjia/workflow-engine/internal/infrastructure/persistence/sqlite"
)

// HistoryRepository implements port.HistoryRepository
type HistoryRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewHistoryRepository creates a new history repository
func NewHistoryRepository(db *sql.DB, logger *zap.Logger) port.HistoryRepository {
	return &HistoryRepository{
		db:     db,
		logger: logger,
	}
}

// Create appends a transition record
func (r *HistoryRepository) Create(ctx context.Context, record *entity.TransitionRecord) error {
	query := `
		INSERT INTO workflow_transitions (
			instance_id, trigger_name, from_state, to_state, actor_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?)
	`

	result, err := sqlite.ExecutorFrom(ctx, r.db).ExecContext(ctx, query,
		record.InstanceID,
		record.Trigger,
		record.FromState,
		record.ToState,
		record.ActorID,
		record.Timestamp,
	)
	if err != nil {
		r.logger.Error("Failed to create transition record",
			zap.Int64("instance_id", record.InstanceID),
			zap.Error(err))
		return fmt.Errorf("failed to create transition record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	record.ID = id
	return nil
}

// GetByInstanceID returns the instance's transitions oldest first
func (r *HistoryRepository) GetByInstanceID(ctx context.Context, instanceID int64) ([]*entity.TransitionRecord, error) {
	query := `
		SELECT id, instance_id, trigger_name, from_state, to_state, actor_id, created_at
		FROM workflow_transitions
		WHERE instance_id = ?
		ORDER BY id ASC
	`

	rows, err := sqlite.ExecutorFrom(ctx, r.db).QueryContext(ctx, query, instanceID)
	if err != nil {
		r.logger.Error("Failed to get transition history", zap.Int64("instance_id", instanceID), zap.Error(err))
		return nil, fmt.Errorf("failed to get transition history: %w", err)
	}
	defer rows.Close()

	records := []*entity.TransitionRecord{}
	for rows.Next() {
		var rec entity.TransitionRecord
		if err := rows.Scan(
			&rec.ID,
			&rec.InstanceID,
			&rec.Trigger,
			&rec.FromState,
			&rec.ToState,
			&rec.ActorID,
			&rec.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan transition record: %w", err)
		}
		records = append(records, &rec)
	}

	return records, rows.Err()
}

// Verify interface compliance
var _ port.HistoryRepository = (*HistoryRepository)(nil)
