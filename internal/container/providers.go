// Package container wires the workflow engine's components from configuration
// and owns their lifecycle.
package container

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/workflow-engine/internal/application/dispatcher"
	"github.com/garyjia/workflow-engine/internal/application/port"
	"github.com/garyjia/workflow-engine/internal/application/service"
	"github.com/garyjia/workflow-engine/internal/application/workflow"
	"github.com/garyjia/workflow-engine/internal/config"
	"github.com/garyjia/workflow-engine/internal/domain/entity"
	"github.com/garyjia/workflow-engine/internal/infrastructure/messaging/redis"
	"github.com/garyjia/workflow-engine/internal/infrastructure/metrics"
	"github.com/garyjia/workflow-engine/internal/infrastructure/persistence/repository"
	"github.com/garyjia/workflow-engine/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/workflow-engine/pkg/database"
	"github.com/garyjia/workflow-engine/pkg/utils"
)

// DatabaseBundle holds database-related components.
type DatabaseBundle struct {
	DB             *database.DB
	TransactionMgr *sqlite.TxManager
}

// RepositoryBundle groups all repositories for convenient access.
type RepositoryBundle struct {
	Definition port.DefinitionRepository
	Instance   port.InstanceRepository
	History    port.HistoryRepository
}

// ServiceBundle groups all application services.
type ServiceBundle struct {
	Definitions service.DefinitionService
	Instances   workflow.InstanceService
}

// ProvideDatabase opens the database and applies the embedded migrations.
func ProvideDatabase(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*DatabaseBundle, error) {
	db, err := database.New(database.Config{
		Path:            cfg.Path,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}, logger)
	if err != nil {
		return nil, err
	}

	if err := database.NewMigrator(db, logger).Run(ctx, database.Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &DatabaseBundle{
		DB:             db,
		TransactionMgr: sqlite.NewTxManager(db),
	}, nil
}

// ProvideRepositories creates all repositories on the bundle's connection.
func ProvideRepositories(bundle *DatabaseBundle, codec *entity.DefinitionCodec, logger *zap.Logger) *RepositoryBundle {
	return &RepositoryBundle{
		Definition: repository.NewDefinitionRepository(bundle.DB.DB, codec, logger),
		Instance:   repository.NewInstanceRepository(bundle.DB.DB, logger),
		History:    repository.NewHistoryRepository(bundle.DB.DB, logger),
	}
}

// ProvideDispatcher creates the event dispatcher.
func ProvideDispatcher(logger *zap.Logger) dispatcher.Dispatcher {
	return dispatcher.NewDispatcher(dispatcher.WithLogger(utils.NewZapAdapter(logger.Named("dispatcher"))))
}

// ProvidePublisher connects the Redis publisher and subscribes it to every event.
// It returns nil when Redis is disabled.
func ProvidePublisher(ctx context.Context, cfg config.RedisConfig, disp dispatcher.Dispatcher, logger *zap.Logger) (*redis.Publisher, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	publisher, err := redis.New(ctx, cfg.Addr, cfg.Password, cfg.DB,
		redis.WithChannel(cfg.Channel),
		redis.WithStream(cfg.Stream, cfg.StreamMaxLen),
		redis.WithLogger(logger.Named("redis")),
	)
	if err != nil {
		return nil, err
	}

	disp.SubscribeNamed(dispatcher.AllEvents, "redis-publisher", publisher.Handler())
	return publisher, nil
}

// ProvideRecorder creates the metrics recorder, or nil when metrics are disabled.
func ProvideRecorder(cfg config.MetricsConfig) *metrics.Recorder {
	if !cfg.Enabled {
		return nil
	}
	return metrics.NewRecorder(cfg.Namespace)
}

// ServiceDeps holds the dependencies of the application services.
type ServiceDeps struct {
	Repos      *RepositoryBundle
	TxManager  port.TransactionManager
	Dispatcher dispatcher.Dispatcher
	Recorder   *metrics.Recorder
	Engine     config.EngineConfig
	Logger     *zap.Logger
}

// ProvideServices creates the definition and instance services.
func ProvideServices(deps *ServiceDeps) (*ServiceBundle, error) {
	policy, err := deps.Engine.Policy()
	if err != nil {
		return nil, err
	}

	opts := []workflow.ServiceOption{
		workflow.WithDispatcher(deps.Dispatcher),
		workflow.WithGuardPolicy(policy),
		workflow.WithLogger(utils.NewZapAdapter(deps.Logger.Named("instances"))),
	}
	if deps.Recorder != nil {
		opts = append(opts, workflow.WithRecorder(deps.Recorder))
	}

	return &ServiceBundle{
		Definitions: service.NewDefinitionService(
			deps.Repos.Definition,
			deps.Repos.Instance,
			deps.TxManager,
			deps.Dispatcher,
			utils.NewZapAdapter(deps.Logger.Named("definitions")),
		),
		Instances: workflow.NewInstanceService(
			deps.Repos.Definition,
			deps.Repos.Instance,
			deps.Repos.History,
			deps.TxManager,
			opts...,
		),
	}, nil
}
