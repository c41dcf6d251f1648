package container

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/garyjia/workflow-engine/internal/application/dispatcher"
	"github.com/garyjia/workflow-engine/internal/config"
	"github.com/garyjia/workflow-engine/internal/domain/condition"
	"github.com/garyjia/workflow-engine/internal/domain/entity"
	"github.com/garyjia/workflow-engine/internal/infrastructure/messaging/redis"
	"github.com/garyjia/workflow-engine/internal/infrastructure/metrics"
	httpserver "github.com/garyjia/workflow-engine/internal/interfaces/http"
	"github.com/garyjia/workflow-engine/pkg/utils"
)

// Container manages all application dependencies and lifecycle.
// Components are initialized in dependency order and torn down in reverse.
type Container struct {
	config *config.Config
	logger *zap.Logger

	// Infrastructure
	database     *DatabaseBundle
	repositories *RepositoryBundle
	publisher    *redis.Publisher
	recorder     *metrics.Recorder

	// Application
	conditions *condition.Registry
	codec      *entity.DefinitionCodec
	dispatcher dispatcher.Dispatcher
	services   *ServiceBundle

	// Interfaces
	httpServer *httpserver.Server

	// Lifecycle
	mu      sync.Mutex
	closers []closer
	ready   atomic.Bool
	closed  atomic.Bool
}

// closer releases one started component
type closer struct {
	name  string
	close func() error
}

// HealthStatus represents the health of all components.
type HealthStatus struct {
	Overall    bool                       `json:"overall"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth represents health of a single component.
type ComponentHealth struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// NewContainer creates a new container from configuration.
// It does not initialize components - call Start() to initialize.
func NewContainer(cfg *config.Config, logger *zap.Logger) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Container{
		config:     cfg,
		logger:     logger,
		conditions: condition.NewRegistry(),
	}, nil
}

// Conditions returns the guard registry. Custom condition kinds must be
// registered before Start so stored definitions can be decoded.
func (c *Container) Conditions() *condition.Registry {
	return c.conditions
}

// Start initializes all components:
// 1. Database, migrations and repositories
// 2. Dispatcher, metrics and the Redis publisher
// 3. Application services
// 4. HTTP server (not yet listening)
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container has been closed")
	}
	if c.ready.Load() {
		return fmt.Errorf("container already started")
	}

	c.logger.Info("Starting container")

	c.codec = entity.NewDefinitionCodec(c.conditions)

	db, err := ProvideDatabase(ctx, c.config.Database, c.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	c.database = db
	c.onClose("database", db.DB.Close)
	c.repositories = ProvideRepositories(db, c.codec, c.logger)

	c.dispatcher = ProvideDispatcher(c.logger)
	c.recorder = ProvideRecorder(c.config.Metrics)
	c.publisher, err = ProvidePublisher(ctx, c.config.Redis, c.dispatcher, c.logger)
	if c.publisher != nil {
		c.onClose("event publisher", c.publisher.Close)
	}
	// registered after the publisher so queued events drain into it first
	c.onClose("dispatcher", c.dispatcher.Close)
	if err != nil {
		_ = c.teardown()
		return fmt.Errorf("failed to initialize event publisher: %w", err)
	}

	c.services, err = ProvideServices(&ServiceDeps{
		Repos:      c.repositories,
		TxManager:  db.TransactionMgr,
		Dispatcher: c.dispatcher,
		Recorder:   c.recorder,
		Engine:     c.config.Engine,
		Logger:     c.logger,
	})
	if err != nil {
		_ = c.teardown()
		return fmt.Errorf("failed to initialize services: %w", err)
	}

	c.httpServer = c.newHTTPServer()
	c.onClose("http server", c.httpServer.Stop)

	c.ready.Store(true)
	c.logger.Info("Container started",
		zap.String("database", db.DB.Path()),
		zap.Bool("redis", c.publisher != nil),
		zap.Bool("metrics", c.recorder != nil),
		zap.String("guard_policy", c.config.Engine.GuardPolicy))
	return nil
}

func (c *Container) onClose(name string, fn func() error) {
	c.closers = append(c.closers, closer{name: name, close: fn})
}

func (c *Container) newHTTPServer() *httpserver.Server {
	srv := c.config.Server
	deps := httpserver.Deps{
		Definitions: c.services.Definitions,
		Instances:   c.services.Instances,
		Codec:       c.codec,
		Health: map[string]httpserver.HealthFunc{
			"database": c.database.DB.Health,
		},
	}
	if c.publisher != nil {
		deps.Health["redis"] = c.publisher.Ping
	}
	if c.recorder != nil {
		deps.MetricsHandler = c.recorder.Handler()
		deps.MetricsMiddleware = c.recorder.Middleware()
	}

	return httpserver.NewServer(httpserver.ServerConfig{
		Host:            srv.Host,
		Port:            srv.Port,
		Mode:            srv.Mode,
		ReadTimeout:     srv.ReadTimeout,
		WriteTimeout:    srv.WriteTimeout,
		ShutdownTimeout: srv.ShutdownTimeout,
		MetricsPath:     c.config.Metrics.Path,
	}, deps, utils.NewZapAdapter(c.logger.Named("http")))
}

// Close gracefully shuts down all components in reverse order.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container already closed")
	}

	err := c.teardown()

	c.closed.Store(true)
	c.ready.Store(false)

	if err != nil {
		c.logger.Error("Container closed with errors", zap.Error(err))
		return err
	}
	c.logger.Info("Container closed successfully")
	return nil
}

// teardown closes started components in reverse start order
func (c *Container) teardown() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		cl := c.closers[i]
		if err := cl.close(); err != nil {
			c.logger.Error("Failed to close component", zap.String("component", cl.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("close %s: %w", cl.name, err))
			continue
		}
		c.logger.Debug("Component closed", zap.String("component", cl.name))
	}
	c.closers = nil
	return errors.Join(errs...)
}

// Ready returns true when all components are initialized.
func (c *Container) Ready() bool {
	return c.ready.Load()
}

// Health returns health status of all components.
func (c *Container) Health(ctx context.Context) *HealthStatus {
	status := &HealthStatus{
		Overall:    true,
		Components: make(map[string]ComponentHealth),
	}
	set := func(name string, err error) {
		if err != nil {
			status.Components[name] = ComponentHealth{Healthy: false, Message: err.Error()}
			status.Overall = false
			return
		}
		status.Components[name] = ComponentHealth{Healthy: true}
	}

	if c.database == nil {
		set("database", errors.New("not initialized"))
	} else {
		set("database", c.database.DB.Health(ctx))
	}

	if c.dispatcher == nil || !c.ready.Load() {
		set("dispatcher", errors.New("not running"))
	} else {
		set("dispatcher", nil)
	}

	if c.config.Redis.Enabled {
		if c.publisher == nil {
			set("redis", errors.New("not initialized"))
		} else {
			set("redis", c.publisher.Ping(ctx))
		}
	}

	return status
}

// Getters for accessing container components

// Repositories returns all repositories.
func (c *Container) Repositories() *RepositoryBundle {
	return c.repositories
}

// Dispatcher returns the event dispatcher.
func (c *Container) Dispatcher() dispatcher.Dispatcher {
	return c.dispatcher
}

// Services returns all application services.
func (c *Container) Services() *ServiceBundle {
	return c.services
}

// Codec returns the definition codec bound to the container's condition registry.
func (c *Container) Codec() *entity.DefinitionCodec {
	return c.codec
}

// Recorder returns the metrics recorder, nil when metrics are disabled.
func (c *Container) Recorder() *metrics.Recorder {
	return c.recorder
}

// HTTPServer returns the HTTP server.
func (c *Container) HTTPServer() *httpserver.Server {
	return c.httpServer
}

// Logger returns the container's logger.
func (c *Container) Logger() *zap.Logger {
	return c.logger
}

// Config returns the container's configuration.
func (c *Container) Config() *config.Config {
	return c.config
}
