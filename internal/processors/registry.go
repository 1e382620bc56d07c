package processors

import (
	"encoding/json"
	"fmt"
	"slices"
	"sync"

	"github.com/soochol/procflow/internal/sequence"
	"github.com/soochol/procflow/internal/value"
)

// Factory creates a processor of one kind and decodes that kind's
// parameter from its JSON form.
type Factory struct {
	New         func() sequence.Processor
	DecodeParam func(raw json.RawMessage) (value.Value, error)
}

// Registry maps processor kinds to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

func (r *Registry) Register(kind string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = f
}

func (r *Registry) lookup(kind string) (Factory, error) {
	r.mu.RLock()
	f, ok := r.factories[kind]
	r.mu.RUnlock()
	if !ok {
		return Factory{}, fmt.Errorf("no processor registered for kind %q", kind)
	}
	return f, nil
}

// New returns a fresh processor of the given kind.
func (r *Registry) New(kind string) (sequence.Processor, error) {
	f, err := r.lookup(kind)
	if err != nil {
		return nil, err
	}
	return f.New(), nil
}

// DecodeParam decodes raw into the parameter type of kind. Empty input
// yields a zero Value, which processors treat as "keep the default".
func (r *Registry) DecodeParam(kind string, raw json.RawMessage) (value.Value, error) {
	f, err := r.lookup(kind)
	if err != nil {
		return value.Value{}, err
	}
	if len(raw) == 0 || string(raw) == "null" || f.DecodeParam == nil {
		return value.Value{}, nil
	}
	return f.DecodeParam(raw)
}

func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.factories))
	for k := range r.factories {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}

func decodeAs[T any](raw json.RawMessage) (value.Value, error) {
	var p T
	if err := json.Unmarshal(raw, &p); err != nil {
		return value.Value{}, fmt.Errorf("decode %T: %w", p, err)
	}
	return value.Of(p), nil
}

// DefaultRegistry returns a registry with the built-in kinds.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(KindBinaryOp, Factory{
		New:         func() sequence.Processor { return NewBinaryOp(OpAdd) },
		DecodeParam: decodeAs[BinaryOpParam],
	})
	r.Register(KindConstant, Factory{
		New:         func() sequence.Processor { return NewConstant(0) },
		DecodeParam: decodeAs[ConstantParam],
	})
	r.Register(KindScale, Factory{
		New:         func() sequence.Processor { return NewScale(1, 0) },
		DecodeParam: decodeAs[ScaleParam],
	})
	r.Register(KindLatch, Factory{
		New:         func() sequence.Processor { return NewLatch() },
		DecodeParam: decodeAs[LatchParam],
	})
	return r
}
