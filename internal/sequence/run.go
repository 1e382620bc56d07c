package sequence

import (
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/soochol/procflow/internal/value"
)

// run holds the state of a single Execute call: the staged input buffer of
// every processor, the collected statuses and the shared fail flag.
type run struct {
	mu       sync.Mutex
	staged   map[uuid.UUID][]value.Value
	statuses []ExecutionStatus
	failed   bool
	firstErr error
}

// newRun sizes each processor's buffer to its declared inputs and seeds it
// from the sequence inputs through the bindings. Bindings that point past
// the supplied inputs leave their slot empty.
func newRun(procs []Processor, bindings map[uuid.UUID][]Binding, inputs []value.Value) *run {
	r := &run{staged: make(map[uuid.UUID][]value.Value, len(procs))}
	for _, p := range procs {
		id := p.ID()
		r.staged[id] = make([]value.Value, len(p.InputTypes()))
		for _, b := range bindings[id] {
			if b.SeqSlot < 0 || b.SeqSlot >= len(inputs) {
				continue
			}
			_ = r.writeLocked(id, b.ProcSlot, inputs[b.SeqSlot])
		}
	}
	return r
}

func (r *run) inputs(id uuid.UUID) []value.Value {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.staged[id])
}

// propagate copies results along out into the destinations' buffers.
func (r *run) propagate(results []value.Value, out []Link) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range out {
		if l.Dst == uuid.Nil {
			continue
		}
		if l.SrcSlot < 0 || l.SrcSlot >= len(results) {
			return fmt.Errorf("link %s: source slot %d with %d results: %w", l, l.SrcSlot, len(results), ErrPropagation)
		}
		if err := r.writeLocked(l.Dst, l.DstSlot, results[l.SrcSlot]); err != nil {
			return fmt.Errorf("link %s: %w", l, err)
		}
	}
	return nil
}

// writeLocked overwrites an existing slot or appends at exactly one past the
// end of the buffer.
func (r *run) writeLocked(dst uuid.UUID, slot int, v value.Value) error {
	buf := r.staged[dst]
	switch {
	case slot >= 0 && slot < len(buf):
		buf[slot] = v
	case slot == len(buf):
		r.staged[dst] = append(buf, v)
	default:
		return fmt.Errorf("destination slot %d with %d staged inputs: %w", slot, len(buf), ErrPropagation)
	}
	return nil
}

func (r *run) fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = true
	if r.firstErr == nil {
		r.firstErr = err
	}
}

func (r *run) record(status ExecutionStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, status)
}

func (r *run) result() ([]ExecutionStatus, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.statuses), r.failed, r.firstErr
}
