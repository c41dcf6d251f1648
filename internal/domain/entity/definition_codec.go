package entity

import (
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/garyjia/workflow-engine/internal/domain/condition"
)

// DefinitionDocument is the wire and file form of a Definition.
// Guards are kept in their discriminated map form.
type DefinitionDocument struct {
	ID         int64           `json:"id,omitempty" yaml:"id,omitempty"`
	Name       string          `json:"name" yaml:"name"`
	Version    string          `json:"version" yaml:"version"`
	EntityType string          `json:"entity_type" yaml:"entity_type"`
	IsActive   bool            `json:"is_active" yaml:"is_active"`
	States     []StateDocument `json:"states" yaml:"states"`
	CreatedAt  *time.Time      `json:"created_at,omitempty" yaml:"-"`
	UpdatedAt  *time.Time      `json:"updated_at,omitempty" yaml:"-"`
}

// StateDocument is the wire form of a State
type StateDocument struct {
	Name        string               `json:"name" yaml:"name"`
	Description string               `json:"description,omitempty" yaml:"description,omitempty"`
	IsInitial   bool                 `json:"is_initial,omitempty" yaml:"is_initial,omitempty"`
	IsFinal     bool                 `json:"is_final,omitempty" yaml:"is_final,omitempty"`
	Transitions []TransitionDocument `json:"transitions,omitempty" yaml:"transitions,omitempty"`
}

// TransitionDocument is the wire form of a Transition
type TransitionDocument struct {
	Trigger string         `json:"trigger" yaml:"trigger"`
	Target  string         `json:"target" yaml:"target"`
	Guard   map[string]any `json:"guard,omitempty" yaml:"guard,omitempty"`
}

// DefinitionCodec converts definitions to and from their documents.
// Guards are decoded through the codec's condition registry.
type DefinitionCodec struct {
	registry *condition.Registry
}

// NewDefinitionCodec creates a codec; a nil registry uses the built-in kinds only
func NewDefinitionCodec(registry *condition.Registry) *DefinitionCodec {
	if registry == nil {
		registry = condition.NewRegistry()
	}
	return &DefinitionCodec{registry: registry}
}

// ToDocument converts a definition to its document form
func (c *DefinitionCodec) ToDocument(def *Definition) DefinitionDocument {
	doc := DefinitionDocument{
		ID:         def.ID,
		Name:       def.Name,
		Version:    def.Version,
		EntityType: def.EntityType,
		IsActive:   def.IsActive,
		States:     make([]StateDocument, 0, len(def.States)),
	}
	if !def.CreatedAt.IsZero() {
		createdAt := def.CreatedAt
		doc.CreatedAt = &createdAt
	}
	if !def.UpdatedAt.IsZero() {
		updatedAt := def.UpdatedAt
		doc.UpdatedAt = &updatedAt
	}

	for _, s := range def.States {
		sd := StateDocument{
			Name:        s.Name,
			Description: s.Description,
			IsInitial:   s.IsInitial,
			IsFinal:     s.IsFinal,
		}
		for _, t := range s.Transitions {
			sd.Transitions = append(sd.Transitions, TransitionDocument{
				Trigger: t.Trigger,
				Target:  t.Target,
				Guard:   condition.Encode(t.Guard),
			})
		}
		doc.States = append(doc.States, sd)
	}
	return doc
}

// FromDocument converts a document to a definition, decoding every guard
func (c *DefinitionCodec) FromDocument(doc DefinitionDocument) (*Definition, error) {
	def := &Definition{
		ID:         doc.ID,
		Name:       doc.Name,
		Version:    doc.Version,
		EntityType: doc.EntityType,
		IsActive:   doc.IsActive,
		States:     make([]State, 0, len(doc.States)),
	}
	if doc.CreatedAt != nil {
		def.CreatedAt = *doc.CreatedAt
	}
	if doc.UpdatedAt != nil {
		def.UpdatedAt = *doc.UpdatedAt
	}

	for _, sd := range doc.States {
		s := State{
			Name:        sd.Name,
			Description: sd.Description,
			IsInitial:   sd.IsInitial,
			IsFinal:     sd.IsFinal,
		}
		for _, td := range sd.Transitions {
			guard, err := c.registry.Decode(td.Guard)
			if err != nil {
				return nil, fmt.Errorf("state %s trigger %s: %w", sd.Name, td.Trigger, err)
			}
			s.Transitions = append(s.Transitions, Transition{
				Trigger: td.Trigger,
				Target:  td.Target,
				Guard:   guard,
			})
		}
		def.States = append(def.States, s)
	}
	return def, nil
}

// EncodeStatesJSON serializes only the state graph, as stored alongside definition rows
func (c *DefinitionCodec) EncodeStatesJSON(def *Definition) ([]byte, error) {
	return json.Marshal(c.ToDocument(def).States)
}

// DecodeStatesJSON restores a state graph written by EncodeStatesJSON
func (c *DefinitionCodec) DecodeStatesJSON(data []byte) ([]State, error) {
	var states []StateDocument
	if err := json.Unmarshal(data, &states); err != nil {
		return nil, fmt.Errorf("failed to unmarshal states: %w", err)
	}
	def, err := c.FromDocument(DefinitionDocument{States: states})
	if err != nil {
		return nil, err
	}
	return def.States, nil
}

// MarshalJSON encodes a definition as a JSON document
func (c *DefinitionCodec) MarshalJSON(def *Definition) ([]byte, error) {
	return json.MarshalIndent(c.ToDocument(def), "", "  ")
}

// UnmarshalJSON decodes a JSON document
func (c *DefinitionCodec) UnmarshalJSON(data []byte) (*Definition, error) {
	var doc DefinitionDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal definition: %w", err)
	}
	return c.FromDocument(doc)
}

// MarshalYAML encodes a definition as a YAML document
func (c *DefinitionCodec) MarshalYAML(def *Definition) ([]byte, error) {
	return yaml.Marshal(c.ToDocument(def))
}

// UnmarshalYAML decodes a YAML document
func (c *DefinitionCodec) UnmarshalYAML(data []byte) (*Definition, error) {
	var doc DefinitionDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal definition: %w", err)
	}
	return c.FromDocument(doc)
}
