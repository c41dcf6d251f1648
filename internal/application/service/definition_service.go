package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/garyjia/workflow-engine/internal/application/dispatcher"
	"github.com/garyjia/workflow-engine/internal/application/port"
	"github.com/garyjia/workflow-engine/internal/domain/entity"
	"github.com/garyjia/workflow-engine/internal/domain/event"
	domainwf "github.com/garyjia/workflow-engine/internal/domain/workflow"
)

var (
	// ErrInvalidDefinition is returned when required definition metadata is missing
	ErrInvalidDefinition = errors.New("invalid definition")

	// ErrDefinitionInUse is returned when deleting a definition that instances still reference
	ErrDefinitionInUse = errors.New("definition is referenced by instances")
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// DefinitionService manages workflow definitions
type DefinitionService interface {
	// Validate compiles the definition without storing it
	Validate(def *entity.Definition) error

	// Create validates and stores a definition. A definition submitted as
	// active replaces the active definition of its entity type.
	Create(ctx context.Context, def *entity.Definition) (*entity.Definition, error)

	Get(ctx context.Context, id int64) (*entity.Definition, error)
	List(ctx context.Context, entityType string, limit, offset int) ([]*entity.Definition, error)
	Activate(ctx context.Context, id int64) (*entity.Definition, error)
	Delete(ctx context.Context, id int64) error
}

type definitionServiceImpl struct {
	definitionRepo port.DefinitionRepository
	instanceRepo   port.InstanceRepository
	txManager      port.TransactionManager
	dispatcher     dispatcher.Dispatcher
	logger         Logger
}

// NewDefinitionService creates a new DefinitionService. d may be nil.
func NewDefinitionService(
	definitionRepo port.DefinitionRepository,
	instanceRepo port.InstanceRepository,
	txManager port.TransactionManager,
	d dispatcher.Dispatcher,
	logger Logger,
) DefinitionService {
	return &definitionServiceImpl{
		definitionRepo: definitionRepo,
		instanceRepo:   instanceRepo,
		txManager:      txManager,
		dispatcher:     d,
		logger:         logger,
	}
}

func (s *definitionServiceImpl) Validate(def *entity.Definition) error {
	if def == nil {
		_, err := domainwf.Compile(nil)
		return err
	}
	if strings.TrimSpace(def.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidDefinition)
	}
	if strings.TrimSpace(def.EntityType) == "" {
		return fmt.Errorf("%w: entity type is required", ErrInvalidDefinition)
	}
	_, err := domainwf.Compile(def)
	return err
}

func (s *definitionServiceImpl) Create(ctx context.Context, def *entity.Definition) (*entity.Definition, error) {
	if err := s.Validate(def); err != nil {
		return nil, err
	}

	now := time.Now()
	activate := def.IsActive
	def.IsActive = false
	def.CreatedAt = now
	def.UpdatedAt = now

	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := s.definitionRepo.Create(txCtx, def); err != nil {
			return fmt.Errorf("failed to create definition: %w", err)
		}
		if activate {
			if err := s.definitionRepo.Activate(txCtx, def.ID); err != nil {
				return fmt.Errorf("failed to activate definition: %w", err)
			}
			def.IsActive = true
		}
		return nil
	})
	if err != nil {
		s.logger.Error("Definition not created", "name", def.Name, "entity_type", def.EntityType, "error", err)
		return nil, err
	}

	s.logger.Info("Definition created",
		"definition_id", def.ID,
		"name", def.Name,
		"version", def.Version,
		"entity_type", def.EntityType,
		"is_active", def.IsActive,
	)
	if def.IsActive {
		s.emitActivated(ctx, def)
	}

	return def, nil
}

func (s *definitionServiceImpl) Get(ctx context.Context, id int64) (*entity.Definition, error) {
	return s.definitionRepo.GetByID(ctx, id)
}

func (s *definitionServiceImpl) List(ctx context.Context, entityType string, limit, offset int) ([]*entity.Definition, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.definitionRepo.List(ctx, entityType, limit, offset)
}

func (s *definitionServiceImpl) Activate(ctx context.Context, id int64) (*entity.Definition, error) {
	if err := s.definitionRepo.Activate(ctx, id); err != nil {
		return nil, err
	}

	def, err := s.definitionRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Definition activated", "definition_id", id, "entity_type", def.EntityType)
	s.emitActivated(ctx, def)
	return def, nil
}

func (s *definitionServiceImpl) Delete(ctx context.Context, id int64) error {
	if _, err := s.definitionRepo.GetByID(ctx, id); err != nil {
		return err
	}

	count, err := s.instanceRepo.CountByDefinition(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to count instances: %w", err)
	}
	if count > 0 {
		return fmt.Errorf("%w: %d instance(s)", ErrDefinitionInUse, count)
	}

	if err := s.definitionRepo.Delete(ctx, id); err != nil {
		return err
	}

	s.logger.Info("Definition deleted", "definition_id", id)
	return nil
}

func (s *definitionServiceImpl) emitActivated(ctx context.Context, def *entity.Definition) {
	if s.dispatcher == nil {
		return
	}
	s.dispatcher.DispatchAsync(ctx, event.New(event.TypeDefinitionActivated, event.Subject{EntityType: def.EntityType}, event.Payload{
		event.PayloadDefinition: def.ID,
	}))
}
