package sequence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/soochol/procflow/internal/events"
	"github.com/soochol/procflow/internal/taskgraph"
	"github.com/soochol/procflow/internal/value"
)

const Kind = "sequence"

// Sequence is a container whose children are wired by links and executed as
// a task graph. In RUN and TEST mode a top-level sequence executes itself
// continuously on a background goroutine.
type Sequence struct {
	*Container

	logger       *slog.Logger
	bus          *events.Bus
	executor     *taskgraph.Executor
	loopInterval time.Duration

	linkMu   sync.RWMutex
	links    map[uuid.UUID][]Link
	bindings map[uuid.UUID][]Binding

	execMu  sync.Mutex
	statsMu sync.Mutex
	stats   SequenceStatus

	loopMu     sync.Mutex
	loopStop   chan struct{}
	loopDone   chan struct{}
	loopStarts atomic.Int64
}

type Option func(*Sequence)

func WithLogger(l *slog.Logger) Option {
	return func(s *Sequence) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithEventBus(b *events.Bus) Option {
	return func(s *Sequence) { s.bus = b }
}

// WithWorkers sets how many processors of one generation may run at once.
func WithWorkers(n int) Option {
	return func(s *Sequence) { s.executor = taskgraph.NewExecutor(n) }
}

// WithLoopInterval pauses the RUN/TEST loop between iterations.
func WithLoopInterval(d time.Duration) Option {
	return func(s *Sequence) { s.loopInterval = d }
}

func WithName(name string) Option {
	return func(s *Sequence) { s.SetName(name) }
}

func New(opts ...Option) *Sequence {
	s := &Sequence{
		logger:   slog.Default(),
		executor: taskgraph.NewExecutor(1),
		links:    make(map[uuid.UUID][]Link),
		bindings: make(map[uuid.UUID][]Binding),
	}
	s.Container = NewContainer(NewBase(Kind, CapContainer|CapSequence), s)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Sequence) Workers() int { return s.executor.Workers() }

// Status returns the sequence's last execution status and run counters.
func (s *Sequence) Status() SequenceStatus {
	s.statsMu.Lock()
	st := s.stats
	s.statsMu.Unlock()
	st.ExecutionStatus = s.ExecutionStatus()
	return st
}

// RunStatuses returns the per-processor statuses of the last completed run.
func (s *Sequence) RunStatuses() []ExecutionStatus {
	results := s.Results()
	out := make([]ExecutionStatus, 0, len(results))
	for _, r := range results {
		if st, err := value.Get[ExecutionStatus](r); err == nil {
			out = append(out, st)
		}
	}
	return out
}

// Connect is AddLink for processor values; both must be non-nil.
func (s *Sequence) Connect(src, dst Processor, srcSlot, dstSlot int) error {
	if isNil(src) || isNil(dst) {
		return fmt.Errorf("connect: %w", ErrNilProcessor)
	}
	return s.AddLink(src.ID(), dst.ID(), srcSlot, dstSlot)
}

// AddLink records a link from src's output srcSlot to dst's input dstSlot.
// Adding an existing link is a no-op; a link closing a cycle is rejected.
func (s *Sequence) AddLink(src, dst uuid.UUID, srcSlot, dstSlot int) error {
	if src == uuid.Nil || dst == uuid.Nil {
		return fmt.Errorf("add link: %w", ErrNilID)
	}
	l := Link{Src: src, Dst: dst, SrcSlot: srcSlot, DstSlot: dstSlot}

	s.linkMu.Lock()
	defer s.linkMu.Unlock()
	if slices.Contains(s.links[src], l) {
		return nil
	}
	if src == dst || s.reachesLocked(dst, src) {
		return fmt.Errorf("add link %s: %w", l, ErrCycle)
	}
	s.links[src] = append(s.links[src], l)
	return nil
}

func (s *Sequence) reachesLocked(from, to uuid.UUID) bool {
	seen := map[uuid.UUID]bool{from: true}
	stack := []uuid.UUID{from}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, l := range s.links[cur] {
			if l.Dst == to {
				return true
			}
			if l.Dst != uuid.Nil && !seen[l.Dst] {
				seen[l.Dst] = true
				stack = append(stack, l.Dst)
			}
		}
	}
	return false
}

// RemoveLink removes the exact link, or every link leaving src when dst is
// uuid.Nil.
func (s *Sequence) RemoveLink(src, dst uuid.UUID, srcSlot, dstSlot int) error {
	if src == uuid.Nil {
		return fmt.Errorf("remove link: %w", ErrNilID)
	}
	s.linkMu.Lock()
	defer s.linkMu.Unlock()
	links, ok := s.links[src]
	if !ok {
		return fmt.Errorf("remove link from %s: %w", src, ErrLinkNotFound)
	}
	if dst == uuid.Nil {
		delete(s.links, src)
		return nil
	}
	target := Link{Src: src, Dst: dst, SrcSlot: srcSlot, DstSlot: dstSlot}
	links = slices.DeleteFunc(links, func(l Link) bool { return l == target })
	if len(links) == 0 {
		delete(s.links, src)
	} else {
		s.links[src] = links
	}
	return nil
}

// MapProcessorInput feeds sequence input seqSlot into input procSlot of the
// processor at the start of every Execute. Bindings apply in insertion order.
func (s *Sequence) MapProcessorInput(procID uuid.UUID, seqSlot, procSlot int) error {
	if procID == uuid.Nil {
		return fmt.Errorf("map input: %w", ErrNilID)
	}
	s.linkMu.Lock()
	defer s.linkMu.Unlock()
	s.bindings[procID] = append(s.bindings[procID], Binding{SeqSlot: seqSlot, ProcSlot: procSlot})
	return nil
}

func (s *Sequence) UnmapProcessorInputs(procID uuid.UUID) {
	s.linkMu.Lock()
	defer s.linkMu.Unlock()
	delete(s.bindings, procID)
}

// RemoveProcessor releases the child and drops every link and binding that
// references it.
func (s *Sequence) RemoveProcessor(id uuid.UUID) {
	s.Container.RemoveProcessor(id)

	s.linkMu.Lock()
	defer s.linkMu.Unlock()
	delete(s.links, id)
	delete(s.bindings, id)
	for src, links := range s.links {
		links = slices.DeleteFunc(links, func(l Link) bool { return l.Dst == id })
		if len(links) == 0 {
			delete(s.links, src)
		} else {
			s.links[src] = links
		}
	}
}

func (s *Sequence) Clear() {
	s.Container.Clear()
	s.linkMu.Lock()
	defer s.linkMu.Unlock()
	s.links = make(map[uuid.UUID][]Link)
	s.bindings = make(map[uuid.UUID][]Binding)
}

// Links returns the links leaving id.
func (s *Sequence) Links(id uuid.UUID) []Link {
	s.linkMu.RLock()
	defer s.linkMu.RUnlock()
	return slices.Clone(s.links[id])
}

// Link returns the first link from src to dst.
func (s *Sequence) Link(src, dst uuid.UUID) (Link, bool) {
	s.linkMu.RLock()
	defer s.linkMu.RUnlock()
	for _, l := range s.links[src] {
		if l.Dst == dst {
			return l, true
		}
	}
	return Link{}, false
}

// AllLinks returns every link, grouped by source in child order.
func (s *Sequence) AllLinks() []Link {
	s.linkMu.RLock()
	defer s.linkMu.RUnlock()
	var out []Link
	seen := make(map[uuid.UUID]bool, len(s.links))
	for _, p := range s.Processors() {
		out = append(out, s.links[p.ID()]...)
		seen[p.ID()] = true
	}
	for _, src := range slices.SortedFunc(maps.Keys(s.links), func(a, b uuid.UUID) int {
		return slices.Compare(a[:], b[:])
	}) {
		if !seen[src] {
			out = append(out, s.links[src]...)
		}
	}
	return out
}

func (s *Sequence) Bindings() map[uuid.UUID][]Binding {
	s.linkMu.RLock()
	defer s.linkMu.RUnlock()
	out := make(map[uuid.UUID][]Binding, len(s.bindings))
	for id, b := range s.bindings {
		out[id] = slices.Clone(b)
	}
	return out
}

// Successors returns the distinct destinations of links leaving id.
func (s *Sequence) Successors(id uuid.UUID) []uuid.UUID {
	s.linkMu.RLock()
	defer s.linkMu.RUnlock()
	var out []uuid.UUID
	for _, l := range s.links[id] {
		if l.Dst != uuid.Nil && !slices.Contains(out, l.Dst) {
			out = append(out, l.Dst)
		}
	}
	return out
}

// Predecessors returns, in child order, the processors with a link into id.
func (s *Sequence) Predecessors(id uuid.UUID) []uuid.UUID {
	s.linkMu.RLock()
	defer s.linkMu.RUnlock()
	var out []uuid.UUID
	for _, p := range s.Processors() {
		if slices.ContainsFunc(s.links[p.ID()], func(l Link) bool { return l.Dst == id }) {
			out = append(out, p.ID())
		}
	}
	return out
}

func (s *Sequence) snapshot() ([]Processor, map[uuid.UUID][]Link, map[uuid.UUID][]Binding) {
	procs := s.Processors()
	s.linkMu.RLock()
	defer s.linkMu.RUnlock()
	links := make(map[uuid.UUID][]Link, len(s.links))
	for src, ls := range s.links {
		links[src] = slices.Clone(ls)
	}
	bindings := make(map[uuid.UUID][]Binding, len(s.bindings))
	for id, b := range s.bindings {
		bindings[id] = slices.Clone(b)
	}
	return procs, links, bindings
}

// Execute runs every child once, in link order, and aggregates the outcome.
// A failure in one processor marks the whole run FAIL but does not stop
// processors that don't depend on it. Calls on one sequence are serialised.
func (s *Sequence) Execute(ctx context.Context, inputs []value.Value) (ExecutionStatus, error) {
	s.execMu.Lock()
	defer s.execMu.Unlock()

	s.statsMu.Lock()
	s.stats.TriggerCount++
	s.statsMu.Unlock()

	ok, err := s.PreExecute(inputs)
	if err != nil {
		return s.ExecutionStatus(), err
	}
	if !ok {
		return s.ExecutionStatus(), nil
	}

	procs, links, bindings := s.snapshot()
	r := newRun(procs, bindings, inputs)
	graph := taskgraph.New(s.Name())
	tasks := make(map[uuid.UUID]*taskgraph.Task, len(procs))
	for _, p := range procs {
		out := links[p.ID()]
		tasks[p.ID()] = graph.Add(p.Name(), func(ctx context.Context) {
			s.runProcessor(ctx, p, out, r)
		})
	}
	for _, p := range procs {
		for _, l := range links[p.ID()] {
			if dst, ok := tasks[l.Dst]; ok && l.Dst != uuid.Nil {
				tasks[p.ID()].Precede(dst)
			}
		}
	}

	s.bus.Publish(events.New(events.RunStarted, s.ID().String(), "", nil))

	var runErr error
	if err := s.executor.Run(ctx, graph); err != nil {
		if errors.Is(err, taskgraph.ErrCycle) {
			err = fmt.Errorf("sequence %q: %w: %w", s.Name(), ErrCycle, err)
			s.RecordFailure(err)
			return s.ExecutionStatus(), err
		}
		runErr = fmt.Errorf("sequence %q: %w", s.Name(), err)
		r.fail(runErr)
	}

	statuses, failed, firstErr := r.result()
	outcome := Pass
	if failed {
		outcome = Fail
	}
	s.statsMu.Lock()
	s.stats.ExecCount++
	if outcome == Pass {
		s.stats.OKCount++
	} else {
		s.stats.NGCount++
	}
	s.statsMu.Unlock()

	results := make([]value.Value, len(statuses))
	for i, st := range statuses {
		results[i] = value.Of(st)
	}
	if firstErr != nil {
		s.mu.Lock()
		s.status.Message = firstErr.Error()
		s.mu.Unlock()
	}
	s.PostExecute(results, outcome)

	status := s.Status()
	s.logger.Debug("sequence executed",
		"sequence", s.Name(), "outcome", outcome, "processors", len(statuses),
		"elapsed_us", status.ElapsedMicros(), "trigger_count", status.TriggerCount)
	s.bus.Publish(events.New(events.RunCompleted, s.ID().String(), "", status))
	return status.ExecutionStatus, runErr
}

func (s *Sequence) runProcessor(ctx context.Context, p Processor, out []Link, r *run) {
	err := s.executeAndPropagate(ctx, p, out, r)
	switch {
	case err != nil:
		r.fail(err)
		p.RecordFailure(err)
		s.logger.Warn("processor failed",
			"sequence", s.Name(), "processor", p.Name(), "id", p.ID(), "err", err)
		s.bus.Publish(events.New(events.ProcessorFailed, s.ID().String(), p.ID().String(),
			map[string]any{"error": err.Error()}))
	case p.ExecutionStatus().Outcome == Fail:
		r.fail(fmt.Errorf("%s %q reported FAIL: %s", p.Kind(), p.Name(), p.ExecutionStatus().Message))
		s.bus.Publish(events.New(events.ProcessorFailed, s.ID().String(), p.ID().String(),
			map[string]any{"error": p.ExecutionStatus().Message}))
	default:
		s.bus.Publish(events.New(events.ProcessorCompleted, s.ID().String(), p.ID().String(),
			p.ExecutionStatus()))
	}
	r.record(p.ExecutionStatus())
}

func (s *Sequence) executeAndPropagate(ctx context.Context, p Processor, out []Link, r *run) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%s %q: %w: %v", p.Kind(), p.Name(), ErrExecutionFault, rec)
		}
	}()
	status, err := p.Execute(ctx, r.inputs(p.ID()))
	if err != nil {
		return err
	}
	if status.Outcome != Pass {
		return nil
	}
	return r.propagate(p.Results(), out)
}
