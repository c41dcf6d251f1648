package entity

import "time"

// TransitionRecord is the audit trail entry written for every successful transition
type TransitionRecord struct {
	ID         int64     `json:"id"`
	InstanceID int64     `json:"instance_id"`
	Trigger    string    `json:"trigger"`
	FromState  string    `json:"from_state"`
	ToState    string    `json:"to_state"`
	ActorID    string    `json:"actor_id"`
	Timestamp  time.Time `json:"timestamp"`
}
