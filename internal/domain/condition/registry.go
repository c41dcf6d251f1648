package condition

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/mitchellh/mapstructure"
)

var (
	// ErrUnknownKind is returned when decoding a kind that has not been registered
	ErrUnknownKind = errors.New("unknown condition kind")

	// ErrInvalidCondition is returned when a condition's parameters cannot be decoded
	ErrInvalidCondition = errors.New("invalid condition")

	// ErrKindRegistered is returned when registering a kind twice
	ErrKindRegistered = errors.New("condition kind already registered")
)

// KindField is the discriminator key in the encoded form
const KindField = "kind"

// DecodeFunc builds a condition from its encoded parameters (discriminator removed).
// Decoders of composite kinds use r to decode their children.
type DecodeFunc func(params map[string]any, r *Registry) (Condition, error)

// Encodable is implemented by conditions that carry parameters
type Encodable interface {
	Params() map[string]any
}

// Registry maps kinds to decoders. The built-in kinds are always present;
// extension kinds must be registered before definitions using them are decoded.
type Registry struct {
	mu       sync.RWMutex
	decoders map[Kind]DecodeFunc
}

// NewRegistry creates a registry holding the built-in kinds
func NewRegistry() *Registry {
	r := &Registry{
		decoders: map[Kind]DecodeFunc{
			KindPermission: decodePermission,
			KindAll:        decodeAll,
			KindAny:        decodeAny,
			KindNot:        decodeNot,
			KindAlways:     func(map[string]any, *Registry) (Condition, error) { return Always{}, nil },
			KindNever:      func(map[string]any, *Registry) (Condition, error) { return Never{}, nil },
		},
	}
	return r
}

// Register adds an extension kind
func (r *Registry) Register(kind Kind, decode DecodeFunc) error {
	if kind == "" {
		return fmt.Errorf("%w: empty kind", ErrInvalidCondition)
	}
	if decode == nil {
		return fmt.Errorf("%w: nil decoder for kind %s", ErrInvalidCondition, kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.decoders[kind]; exists {
		return fmt.Errorf("%w: %s", ErrKindRegistered, kind)
	}
	r.decoders[kind] = decode
	return nil
}

// Kinds returns the registered kinds in sorted order
func (r *Registry) Kinds() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]Kind, 0, len(r.decoders))
	for k := range r.decoders {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Decode builds a condition tree from its encoded form. A nil map decodes to a nil condition.
func (r *Registry) Decode(raw map[string]any) (Condition, error) {
	if raw == nil {
		return nil, nil
	}

	kindValue, ok := raw[KindField].(string)
	if !ok || kindValue == "" {
		return nil, fmt.Errorf("%w: missing %q discriminator", ErrInvalidCondition, KindField)
	}
	kind := Kind(kindValue)

	r.mu.RLock()
	decode, exists := r.decoders[kind]
	r.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: %s (registered: %v)", ErrUnknownKind, kind, r.Kinds())
	}

	params := make(map[string]any, len(raw))
	for k, v := range raw {
		if k != KindField {
			params[k] = v
		}
	}

	c, err := decode(params, r)
	if err != nil {
		return nil, fmt.Errorf("decode %s condition: %w", kind, err)
	}
	return c, nil
}

// Encode produces the discriminated map form of c. A nil condition encodes to nil.
func Encode(c Condition) map[string]any {
	if c == nil {
		return nil
	}
	out := map[string]any{KindField: string(c.Kind())}
	if e, ok := c.(Encodable); ok {
		for k, v := range e.Params() {
			out[k] = v
		}
	}
	return out
}

// DecodeParams decodes params into target with mapstructure, rejecting unknown keys.
// Extension decoders can use it for their own parameter structs.
func DecodeParams(params map[string]any, target any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		ErrorUnused: true,
		Result:      target,
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(params); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCondition, err)
	}
	return nil
}

func decodePermission(params map[string]any, _ *Registry) (Condition, error) {
	var p Permission
	if err := DecodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.Mode == "" {
		p.Mode = ModeMustHave
	}
	if !p.Mode.IsValid() {
		return nil, fmt.Errorf("%w: unknown permission mode %q", ErrInvalidCondition, p.Mode)
	}
	return &p, nil
}

type listParams struct {
	Conditions []map[string]any `mapstructure:"conditions"`
}

func decodeList(params map[string]any, r *Registry) ([]Condition, error) {
	var lp listParams
	if err := DecodeParams(params, &lp); err != nil {
		return nil, err
	}
	children := make([]Condition, 0, len(lp.Conditions))
	for i, raw := range lp.Conditions {
		c, err := r.Decode(raw)
		if err != nil {
			return nil, fmt.Errorf("condition %d: %w", i, err)
		}
		if c != nil {
			children = append(children, c)
		}
	}
	return children, nil
}

func decodeAll(params map[string]any, r *Registry) (Condition, error) {
	children, err := decodeList(params, r)
	if err != nil {
		return nil, err
	}
	return &All{Conditions: children}, nil
}

func decodeAny(params map[string]any, r *Registry) (Condition, error) {
	children, err := decodeList(params, r)
	if err != nil {
		return nil, err
	}
	return &Any{Conditions: children}, nil
}

func decodeNot(params map[string]any, r *Registry) (Condition, error) {
	var np struct {
		Condition map[string]any `mapstructure:"condition"`
	}
	if err := DecodeParams(params, &np); err != nil {
		return nil, err
	}
	child, err := r.Decode(np.Condition)
	if err != nil {
		return nil, err
	}
	return &Not{Condition: child}, nil
}
