package sequence

import (
	"fmt"
	"reflect"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/soochol/procflow/internal/value"
)

// Container owns an ordered set of child processors. It is embedded by
// processors that hold children; the embedding processor passes itself as
// owner so children see it as their parent.
type Container struct {
	*Base
	owner Processor

	childMu  sync.RWMutex
	children []Processor
	// parameter slot -> child id, recorded when the child is added
	paramSlots map[int]uuid.UUID
	nextSlot   int
}

// NewContainer returns a container whose children report owner as parent.
func NewContainer(b *Base, owner Processor) *Container {
	return &Container{Base: b, owner: owner, paramSlots: make(map[int]uuid.UUID)}
}

// AddProcessor takes ownership of p. A processor that already has a parent
// must be removed from it first.
func (c *Container) AddProcessor(p Processor) error {
	if isNil(p) {
		return ErrNilProcessor
	}
	if p.ID() == c.ID() {
		return fmt.Errorf("add %q to itself: %w", p.Name(), ErrCycle)
	}
	if parent := p.Parent(); parent != nil {
		return fmt.Errorf("add %q: owned by %q: %w", p.Name(), parent.Name(), ErrAlreadyOwned)
	}

	c.childMu.Lock()
	defer c.childMu.Unlock()
	if slices.ContainsFunc(c.children, func(q Processor) bool { return q.ID() == p.ID() }) {
		return fmt.Errorf("add %q: duplicate id %s: %w", p.Name(), p.ID(), ErrAlreadyOwned)
	}
	c.paramSlots[c.nextSlot] = p.ID()
	c.nextSlot++
	p.base().setParent(c.owner)
	c.children = append(c.children, p)
	return nil
}

// RemoveProcessor releases the child with the given id. Unknown ids are
// ignored.
func (c *Container) RemoveProcessor(id uuid.UUID) {
	c.childMu.Lock()
	defer c.childMu.Unlock()
	i := slices.IndexFunc(c.children, func(p Processor) bool { return p.ID() == id })
	if i < 0 {
		return
	}
	c.children[i].base().setParent(nil)
	c.children = slices.Delete(c.children, i, i+1)
	for slot, child := range c.paramSlots {
		if child == id {
			delete(c.paramSlots, slot)
		}
	}
}

// Processor returns the child with the given id, or nil.
func (c *Container) Processor(id uuid.UUID) Processor {
	c.childMu.RLock()
	defer c.childMu.RUnlock()
	for _, p := range c.children {
		if p.ID() == id {
			return p
		}
	}
	return nil
}

// Processors returns the children in insertion order.
func (c *Container) Processors() []Processor {
	c.childMu.RLock()
	defer c.childMu.RUnlock()
	return slices.Clone(c.children)
}

// ProcessorsWith returns the children advertising every capability in caps.
func (c *Container) ProcessorsWith(caps Capability) []Processor {
	c.childMu.RLock()
	defer c.childMu.RUnlock()
	var out []Processor
	for _, p := range c.children {
		if p.Capabilities().Has(caps) {
			out = append(out, p)
		}
	}
	return out
}

func (c *Container) Len() int {
	c.childMu.RLock()
	defer c.childMu.RUnlock()
	return len(c.children)
}

// SetParamAt forwards v to the child that owns parameter slot.
func (c *Container) SetParamAt(slot int, v value.Value) error {
	c.childMu.RLock()
	id, ok := c.paramSlots[slot]
	c.childMu.RUnlock()
	if !ok {
		return fmt.Errorf("slot %d: %w", slot, ErrUnknownSlot)
	}
	p := c.Processor(id)
	if p == nil {
		return fmt.Errorf("slot %d: %w", slot, ErrUnknownSlot)
	}
	p.SetParam(v)
	return nil
}

// Clear releases every child.
func (c *Container) Clear() {
	c.childMu.Lock()
	defer c.childMu.Unlock()
	for _, p := range c.children {
		p.base().setParent(nil)
	}
	c.children = nil
	c.paramSlots = make(map[int]uuid.UUID)
	c.nextSlot = 0
}

func isNil(p Processor) bool {
	if p == nil {
		return true
	}
	v := reflect.ValueOf(p)
	return v.Kind() == reflect.Pointer && v.IsNil()
}
