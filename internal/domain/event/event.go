package event

import (
	"crypto/rand"
	"encoding/hex"
	"maps"
	"strconv"
	"time"
)

// Payload keys used by the engine's events
const (
	PayloadTrigger    = "trigger"
	PayloadFromState  = "from_state"
	PayloadNewState   = "new_state"
	PayloadActorID    = "actor_id"
	PayloadIsActive   = "is_active"
	PayloadDefinition = "definition_id"
)

// Payload carries event specific values. After a JSON round trip numbers
// come back as float64, so the accessors accept either form.
type Payload map[string]interface{}

// String returns the value under key, or "" when absent or not a string
func (p Payload) String(key string) string {
	s, _ := p[key].(string)
	return s
}

// Int returns the value under key as an int64, or 0
func (p Payload) Int(key string) int64 {
	switch v := p[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}

// Bool returns the value under key, or false
func (p Payload) Bool(key string) bool {
	b, _ := p[key].(bool)
	return b
}

// Subject identifies the instance or entity an event is about
type Subject struct {
	InstanceID int64
	EntityType string
	EntityID   string
}

// Event is an immutable record of something that happened in the engine
type Event struct {
	ID            string    `json:"id"`
	Type          Type      `json:"type"`
	InstanceID    int64     `json:"instance_id"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Payload       Payload   `json:"payload"`
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlation_id"`
}

// New creates an event with a fresh ID. The event starts its own correlation chain
// and holds its own copy of payload.
func New(t Type, subject Subject, payload Payload) *Event {
	id := newID()
	return &Event{
		ID:            id,
		Type:          t,
		InstanceID:    subject.InstanceID,
		EntityType:    subject.EntityType,
		EntityID:      subject.EntityID,
		Payload:       maps.Clone(payload),
		Timestamp:     time.Now().UTC(),
		CorrelationID: id,
	}
}

// Subject returns what the event is about
func (e *Event) Subject() Subject {
	return Subject{InstanceID: e.InstanceID, EntityType: e.EntityType, EntityID: e.EntityID}
}

// Follows returns a copy of e placed in the correlation chain of cause
func (e *Event) Follows(cause *Event) *Event {
	clone := *e
	clone.CorrelationID = cause.CorrelationID
	return &clone
}

// newID is a millisecond timestamp prefix followed by 64 random bits,
// so IDs sort roughly by creation time
func newID() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return strconv.FormatInt(time.Now().UnixMilli(), 36) + "-" + hex.EncodeToString(b[:])
}
