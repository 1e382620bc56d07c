// Package sequence implements the dataflow engine: processors with declared
// inputs and outputs, containers owning them, links between processor slots,
// and the Sequence scheduler that runs the resulting graph.
package sequence

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/soochol/procflow/internal/value"
)

// Processor is the minimal executable unit of a sequence. Concrete
// processors embed *Base, which implements everything except Execute and
// Initialize's schema declaration.
type Processor interface {
	ID() uuid.UUID
	Kind() string
	Name() string
	SetName(name string)
	Capabilities() Capability

	// Initialize resets the schema and callbacks, stores param, and declares
	// the processor's inputs and outputs. It may be called repeatedly.
	Initialize(param value.Value) error
	// Execute runs the processor once. Implementations call PreExecute first
	// and PostExecute last; errors from the body are returned, not recorded.
	Execute(ctx context.Context, inputs []value.Value) (ExecutionStatus, error)

	InputTypes() []Slot
	OutputTypes() []Slot
	CheckInputType(inputs []value.Value) bool

	Param() value.Value
	SetParam(param value.Value)
	Results() []value.Value
	ExecutionStatus() ExecutionStatus
	RecordFailure(err error)

	Mode() Mode
	SetMode(mode Mode)
	Executable() bool
	SetExecutable(fn func() bool)

	Parent() Processor

	OnComplete(fn func(results []value.Value))
	OnError(fn func(err error))
	OnModeChanged(fn func(mode Mode))

	base() *Base
}

// Base holds the state shared by every processor.
type Base struct {
	id   uuid.UUID
	kind string
	caps Capability

	mu            sync.RWMutex
	name          string
	executable    func() bool
	executableSrc string
	parent        Processor
	inputs        []Slot
	outputs       []Slot
	param         value.Value
	status        ExecutionStatus
	started       time.Time
	onComplete    []func([]value.Value)
	onError       []func(error)
	onModeChanged []func(Mode)

	// modeMu serialises transitions; mode itself is read lock-free so a run
	// loop can poll it while a transition waits for that loop to exit.
	modeMu sync.Mutex
	mode   atomic.Int32

	resultsMu sync.Mutex
	results   []value.Value
}

// NewBase returns a Base with a fresh id, named after its kind, in PROGRAM mode.
func NewBase(kind string, caps Capability) *Base {
	b := &Base{id: uuid.New(), kind: kind, caps: caps, name: kind}
	b.mode.Store(int32(ModeProgram))
	b.status.ID = b.id
	b.status.Outcome = Skipped
	return b
}

func (b *Base) base() *Base { return b }

func (b *Base) ID() uuid.UUID            { return b.id }
func (b *Base) Kind() string             { return b.kind }
func (b *Base) Capabilities() Capability { return b.caps }

// AssignID replaces the processor id. It exists for reconstructing a
// persisted graph and must be called before the processor is added to a
// container.
func (b *Base) AssignID(id uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.id = id
	b.status.ID = id
}

func (b *Base) Name() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.name
}

func (b *Base) SetName(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.name = name
}

func (b *Base) Parent() Processor {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.parent
}

func (b *Base) setParent(p Processor) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.parent = p
}

func (b *Base) SetExecutable(fn func() bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.executable = fn
	b.executableSrc = ""
}

// SetExecutableExpr installs a predicate compiled from src and remembers src
// so the predicate survives persistence.
func (b *Base) SetExecutableExpr(src string, fn func() bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.executable = fn
	b.executableSrc = src
}

// ExecutableExpr returns the source of the predicate installed with
// SetExecutableExpr, or "".
func (b *Base) ExecutableExpr() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.executableSrc
}

func (b *Base) Executable() bool {
	b.mu.RLock()
	fn := b.executable
	b.mu.RUnlock()
	return fn == nil || fn()
}

func (b *Base) Initialize(param value.Value) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.param = param
	b.inputs = nil
	b.outputs = nil
	b.onComplete = nil
	b.onError = nil
	b.onModeChanged = nil
	return nil
}

func (b *Base) Param() value.Value {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.param
}

func (b *Base) SetParam(param value.Value) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.param = param
}

// AddInput declares an input and returns its slot index. Declaring an
// existing name returns the existing index unchanged.
func (b *Base) AddInput(name string, typ value.Type) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	idx, _ := addSlot(&b.inputs, Slot{Name: name, Type: typ})
	return idx
}

// AddInputPath declares an input bound to a property of the parameter. The
// property's type must equal typ.
func (b *Base) AddInputPath(name string, typ value.Type, path string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	slot, err := b.boundSlot(name, typ, path)
	if err != nil {
		return -1, err
	}
	idx, _ := addSlot(&b.inputs, slot)
	return idx, nil
}

func (b *Base) AddOutput(name string, typ value.Type) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	idx, _ := addSlot(&b.outputs, Slot{Name: name, Type: typ})
	return idx
}

func (b *Base) AddOutputPath(name string, typ value.Type, path string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	slot, err := b.boundSlot(name, typ, path)
	if err != nil {
		return -1, err
	}
	idx, _ := addSlot(&b.outputs, slot)
	return idx, nil
}

func (b *Base) RemoveInput(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inputs = slices.DeleteFunc(b.inputs, func(s Slot) bool { return s.Name == name })
}

func (b *Base) RemoveOutput(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.outputs = slices.DeleteFunc(b.outputs, func(s Slot) bool { return s.Name == name })
}

func (b *Base) boundSlot(name string, typ value.Type, path string) (Slot, error) {
	if path == "" {
		return Slot{Name: name, Type: typ}, nil
	}
	if b.param.IsZero() {
		return Slot{}, fmt.Errorf("bind %q to %q: processor has no parameter", name, path)
	}
	p, err := value.Compile(b.param.Type(), path)
	if err != nil {
		return Slot{}, fmt.Errorf("bind %q: %w", name, err)
	}
	if !p.Type().Equal(typ) {
		return Slot{}, fmt.Errorf("bind %q to %q: property is %s, slot is %s: %w", name, path, p.Type(), typ, ErrTypeMismatch)
	}
	return Slot{Name: name, Type: typ, Path: p}, nil
}

func addSlot(slots *[]Slot, s Slot) (int, bool) {
	for i, existing := range *slots {
		if existing.Name == s.Name {
			return i, false
		}
	}
	*slots = append(*slots, s)
	return len(*slots) - 1, true
}

func (b *Base) InputTypes() []Slot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return slices.Clone(b.inputs)
}

func (b *Base) OutputTypes() []Slot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return slices.Clone(b.outputs)
}

// CheckInputType reports whether every value matches some declared input,
// either by the slot's resolved type or by its root type. Supplying more
// values than there are inputs fails.
func (b *Base) CheckInputType(inputs []value.Value) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(inputs) > len(b.inputs) {
		return false
	}
	for _, in := range inputs {
		matched := slices.ContainsFunc(b.inputs, func(s Slot) bool {
			return in.Matches(s.ResolvedType()) || in.Matches(s.RootType())
		})
		if !matched {
			return false
		}
	}
	return true
}

// ApplyBoundInputs writes each non-zero input whose slot carries a path into
// the parameter.
func (b *Base) ApplyBoundInputs(inputs []value.Value) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, in := range inputs {
		if i >= len(b.inputs) || b.inputs[i].Path == nil || in.IsZero() {
			continue
		}
		if err := b.inputs[i].Path.Set(&b.param, in); err != nil {
			return fmt.Errorf("input %q: %w", b.inputs[i].Name, err)
		}
	}
	return nil
}

// BoundOutputs reads every output slot that carries a path from the
// parameter. Unbound slots yield a zero Value.
func (b *Base) BoundOutputs() ([]value.Value, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]value.Value, len(b.outputs))
	for i, s := range b.outputs {
		if s.Path == nil {
			continue
		}
		v, err := s.Path.Get(b.param)
		if err != nil {
			return nil, fmt.Errorf("output %q: %w", s.Name, err)
		}
		out[i] = v
	}
	return out, nil
}

// Results returns a copy of the most recent results.
func (b *Base) Results() []value.Value {
	b.resultsMu.Lock()
	defer b.resultsMu.Unlock()
	return slices.Clone(b.results)
}

func (b *Base) setResults(results []value.Value) {
	b.resultsMu.Lock()
	defer b.resultsMu.Unlock()
	b.results = slices.Clone(results)
}

func (b *Base) ExecutionStatus() ExecutionStatus {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.status
}

// PreExecute resets the status and decides whether the run proceeds. It
// returns false with a nil error when the executable predicate is false (the
// status stays Skipped and results are cleared), and ErrTypeMismatch when the
// inputs don't fit the declared schema.
func (b *Base) PreExecute(inputs []value.Value) (bool, error) {
	b.mu.Lock()
	b.status = ExecutionStatus{ID: b.id, Outcome: Skipped}
	b.started = time.Time{}
	b.mu.Unlock()

	if !b.Executable() {
		b.setResults(nil)
		return false, nil
	}
	if !b.CheckInputType(inputs) {
		return false, fmt.Errorf("%s %q: %w", b.kind, b.Name(), ErrTypeMismatch)
	}
	b.mu.Lock()
	b.started = time.Now()
	b.mu.Unlock()
	return true, nil
}

// PostExecute stores results, stamps outcome and elapsed time, and notifies
// on-complete subscribers asynchronously.
func (b *Base) PostExecute(results []value.Value, outcome Outcome) {
	b.setResults(results)
	b.mu.Lock()
	b.status.Outcome = outcome
	if !b.started.IsZero() {
		b.status.Elapsed = time.Since(b.started)
	}
	callbacks := slices.Clone(b.onComplete)
	b.mu.Unlock()

	for _, cb := range callbacks {
		go cb(b.Results())
	}
}

// RecordFailure marks the current run as failed and notifies on-error
// subscribers asynchronously.
func (b *Base) RecordFailure(err error) {
	b.mu.Lock()
	b.status.ID = b.id
	b.status.Outcome = Fail
	b.status.Message = err.Error()
	if !b.started.IsZero() {
		b.status.Elapsed = time.Since(b.started)
	}
	callbacks := slices.Clone(b.onError)
	b.mu.Unlock()

	for _, cb := range callbacks {
		go cb(err)
	}
}

func (b *Base) Mode() Mode { return Mode(b.mode.Load()) }

// SetMode updates the mode and notifies subscribers asynchronously. Setting
// the current mode is a no-op.
func (b *Base) SetMode(mode Mode) {
	b.modeMu.Lock()
	defer b.modeMu.Unlock()
	if b.Mode() == mode {
		return
	}
	b.mode.Store(int32(mode))
	b.notifyModeChanged(mode)
}

func (b *Base) notifyModeChanged(mode Mode) {
	b.mu.RLock()
	callbacks := slices.Clone(b.onModeChanged)
	b.mu.RUnlock()
	for _, cb := range callbacks {
		go cb(mode)
	}
}

func (b *Base) OnComplete(fn func([]value.Value)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onComplete = append(b.onComplete, fn)
}

func (b *Base) OnError(fn func(error)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onError = append(b.onError, fn)
}

func (b *Base) OnModeChanged(fn func(Mode)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onModeChanged = append(b.onModeChanged, fn)
}

func (b *Base) ClearCallbacks() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onComplete = nil
	b.onError = nil
	b.onModeChanged = nil
}
