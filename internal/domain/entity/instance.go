package entity

import "time"

// WorkflowInstance is the persisted form of a live workflow driving one business entity
type WorkflowInstance struct {
	ID                int64     `json:"id"`
	DefinitionID      int64     `json:"definition_id"`
	EntityType        string    `json:"entity_type"`
	EntityID          string    `json:"entity_id"`
	CurrentState      string    `json:"current_state"`
	PermittedTriggers []string  `json:"permitted_triggers"`
	IsActive          bool      `json:"is_active"`
	Version           int64     `json:"version"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}
