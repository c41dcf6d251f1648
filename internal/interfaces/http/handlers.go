package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/workflow-engine/internal/application/port"
	"github.com/garyjia/workflow-engine/internal/application/service"
	"github.com/garyjia/workflow-engine/internal/application/workflow"
	"github.com/garyjia/workflow-engine/internal/domain/condition"
	"github.com/garyjia/workflow-engine/internal/domain/entity"
	"github.com/garyjia/workflow-engine/internal/domain/trigger"
	domainwf "github.com/garyjia/workflow-engine/internal/domain/workflow"
)

// Caller identity headers. Roles and permissions are comma separated.
const (
	HeaderUserID          = "X-User-ID"
	HeaderUserRoles       = "X-User-Roles"
	HeaderUserPermissions = "X-User-Permissions"
)

// Handlers contains all HTTP request handlers
type Handlers struct {
	definitions service.DefinitionService
	instances   workflow.InstanceService
	codec       *entity.DefinitionCodec
	health      map[string]HealthFunc
	logger      Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(deps Deps, logger Logger) *Handlers {
	return &Handlers{
		definitions: deps.Definitions,
		instances:   deps.Instances,
		codec:       deps.Codec,
		health:      deps.Health,
		logger:      logger,
	}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status     string            `json:"status"`
	Timestamp  string            `json:"timestamp"`
	Components map[string]string `json:"components,omitempty"`
}

// PageRequest represents paging query parameters
type PageRequest struct {
	Limit  int `form:"limit"`
	Offset int `form:"offset"`
}

func (p *PageRequest) normalize() {
	if p.Limit <= 0 || p.Limit > 100 {
		p.Limit = 20
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
}

// CreateInstanceRequest is the body of POST /api/instances
type CreateInstanceRequest struct {
	EntityType string `json:"entity_type" binding:"required"`
	EntityID   string `json:"entity_id" binding:"required"`
}

// FireRequest is the body of POST /api/instances/:id/fire
type FireRequest struct {
	Trigger string `json:"trigger" binding:"required"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	status := http.StatusOK

	if len(h.health) > 0 {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		response.Components = make(map[string]string, len(h.health))
		for name, check := range h.health {
			if err := check(ctx); err != nil {
				response.Components[name] = err.Error()
				response.Status = "unhealthy"
				status = http.StatusServiceUnavailable
				continue
			}
			response.Components[name] = "ok"
		}
	}

	c.JSON(status, Response{
		Success: status == http.StatusOK,
		Data:    response,
	})
}

// CreateDefinition handles POST /api/definitions.
// The body is a definition document in JSON, or YAML when the content type says so.
func (h *Handlers) CreateDefinition(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		h.fail(c, http.StatusBadRequest, "failed to read request body")
		return
	}

	var def *entity.Definition
	if isYAML(c.ContentType()) {
		def, err = h.codec.UnmarshalYAML(body)
	} else {
		def, err = h.codec.UnmarshalJSON(body)
	}
	if err != nil {
		h.logger.Error("Invalid definition document", "error", err)
		h.fail(c, http.StatusBadRequest, err.Error())
		return
	}

	created, err := h.definitions.Create(c.Request.Context(), def)
	if err != nil {
		h.respondError(c, "Failed to create definition", err)
		return
	}

	c.JSON(http.StatusCreated, Response{
		Success: true,
		Data:    h.codec.ToDocument(created),
	})
}

// ListDefinitions handles GET /api/definitions
func (h *Handlers) ListDefinitions(c *gin.Context) {
	var req PageRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.fail(c, http.StatusBadRequest, "invalid query parameters")
		return
	}
	req.normalize()

	defs, err := h.definitions.List(c.Request.Context(), c.Query("entity_type"), req.Limit, req.Offset)
	if err != nil {
		h.respondError(c, "Failed to list definitions", err)
		return
	}

	summaries := make([]entity.DefinitionSummary, 0, len(defs))
	for _, def := range defs {
		summaries = append(summaries, def.Summary())
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data: gin.H{
			"definitions": summaries,
			"limit":       req.Limit,
			"offset":      req.Offset,
		},
	})
}

// GetDefinition handles GET /api/definitions/:id
func (h *Handlers) GetDefinition(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}

	def, err := h.definitions.Get(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, "Failed to get definition", err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    h.codec.ToDocument(def),
	})
}

// ActivateDefinition handles POST /api/definitions/:id/activate
func (h *Handlers) ActivateDefinition(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}

	def, err := h.definitions.Activate(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, "Failed to activate definition", err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    def.Summary(),
	})
}

// DeleteDefinition handles DELETE /api/definitions/:id
func (h *Handlers) DeleteDefinition(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}

	if err := h.definitions.Delete(c.Request.Context(), id); err != nil {
		h.respondError(c, "Failed to delete definition", err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true})
}

// CreateInstance handles POST /api/instances
func (h *Handlers) CreateInstance(c *gin.Context) {
	var req CreateInstanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, http.StatusBadRequest, "entity_type and entity_id are required")
		return
	}

	inst, err := h.instances.CreateInstance(c.Request.Context(), req.EntityType, req.EntityID, triggerContext(c, req.EntityID))
	if err != nil {
		h.respondError(c, "Failed to create instance", err)
		return
	}

	c.JSON(http.StatusCreated, Response{Success: true, Data: inst})
}

// ListInstances handles GET /api/instances
func (h *Handlers) ListInstances(c *gin.Context) {
	var req PageRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.fail(c, http.StatusBadRequest, "invalid query parameters")
		return
	}
	req.normalize()

	var definitionID int64
	if raw := c.Query("definition_id"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			h.fail(c, http.StatusBadRequest, "invalid definition_id")
			return
		}
		definitionID = parsed
	}

	instances, err := h.instances.List(c.Request.Context(), definitionID, req.Limit, req.Offset)
	if err != nil {
		h.respondError(c, "Failed to list instances", err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data: gin.H{
			"instances": instances,
			"limit":     req.Limit,
			"offset":    req.Offset,
		},
	})
}

// GetInstance handles GET /api/instances/:id
func (h *Handlers) GetInstance(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}

	inst, err := h.instances.Get(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, "Failed to get instance", err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: inst})
}

// StartInstance handles POST /api/instances/:id/start
func (h *Handlers) StartInstance(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}

	inst, err := h.instances.Start(c.Request.Context(), id, triggerContext(c, ""))
	if err != nil {
		h.respondError(c, "Failed to start instance", err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: inst})
}

// EvaluateInstance handles POST /api/instances/:id/evaluate
func (h *Handlers) EvaluateInstance(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}

	inst, err := h.instances.Evaluate(c.Request.Context(), id, triggerContext(c, ""))
	if err != nil {
		h.respondError(c, "Failed to evaluate instance", err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: inst})
}

// FireTrigger handles POST /api/instances/:id/fire
func (h *Handlers) FireTrigger(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}

	var req FireRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, http.StatusBadRequest, "trigger is required")
		return
	}

	inst, err := h.instances.Fire(c.Request.Context(), id, req.Trigger, triggerContext(c, ""))
	if err != nil {
		h.respondError(c, "Failed to fire trigger", err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: inst})
}

// GetHistory handles GET /api/instances/:id/history
func (h *Handlers) GetHistory(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}

	records, err := h.instances.History(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, "Failed to get history", err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: records})
}

func (h *Handlers) pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		h.fail(c, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

func (h *Handlers) fail(c *gin.Context, status int, msg string) {
	c.JSON(status, Response{Success: false, Error: msg})
}

func (h *Handlers) respondError(c *gin.Context, msg string, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(msg, "error", err)
		h.fail(c, status, "internal error")
		return
	}
	h.fail(c, status, err.Error())
}

// StatusFor maps service and engine errors to HTTP status codes
func StatusFor(err error) int {
	switch {
	case errors.Is(err, port.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, port.ErrAlreadyExists),
		errors.Is(err, port.ErrConcurrentModification),
		errors.Is(err, service.ErrDefinitionInUse),
		errors.Is(err, domainwf.ErrAlreadyStarted):
		return http.StatusConflict
	case errors.Is(err, domainwf.ErrGuardFailed):
		return http.StatusForbidden
	case domainwf.IsPreconditionViolation(err),
		errors.Is(err, workflow.ErrNoActiveDefinition):
		return http.StatusUnprocessableEntity
	case domainwf.IsConfigurationError(err),
		errors.Is(err, service.ErrInvalidDefinition),
		errors.Is(err, workflow.ErrEntityIDRequired),
		errors.Is(err, condition.ErrUnknownKind),
		errors.Is(err, condition.ErrInvalidCondition):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// triggerContext builds the evaluation context from the caller identity headers.
// The headers are trusted as sent, so they must be set by an authenticating proxy
// that strips any client-supplied values.
func triggerContext(c *gin.Context, entityID string) trigger.Context {
	userID := c.GetHeader(HeaderUserID)
	roles := splitHeader(c.GetHeader(HeaderUserRoles))
	permissions := splitHeader(c.GetHeader(HeaderUserPermissions))

	var principal trigger.Principal
	if userID != "" || len(roles) > 0 || len(permissions) > 0 {
		principal = trigger.NewClaimsPrincipal(userID, roles, permissions)
	}
	return trigger.NewContext(entityID, principal)
}

func splitHeader(value string) []string {
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func isYAML(contentType string) bool {
	switch contentType {
	case "application/yaml", "application/x-yaml", "text/yaml", "text/x-yaml":
		return true
	}
	return false
}
