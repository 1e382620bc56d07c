package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/soochol/procflow/internal/events"
	"github.com/soochol/procflow/internal/persist"
	"github.com/soochol/procflow/internal/repository"
	"github.com/soochol/procflow/internal/sequence"
	"github.com/soochol/procflow/internal/value"
)

var (
	ErrSequenceNotFound = errors.New("sequence not found")
	ErrInvalidInput     = errors.New("invalid sequence input")
	ErrInvalidDocument  = errors.New("invalid sequence document")
	// ErrLooping is returned when a run is triggered on a sequence whose
	// own loop is executing it.
	ErrLooping = errors.New("sequence is looping")
	ErrBusy    = errors.New("sequence run already in progress")
)

// SequenceSummary is the listing view of a live sequence.
type SequenceSummary struct {
	ID         string                  `json:"id"`
	Name       string                  `json:"name"`
	Mode       sequence.Mode           `json:"mode"`
	Running    bool                    `json:"running"`
	Processors int                     `json:"processors"`
	Status     sequence.SequenceStatus `json:"status"`
}

// ProcessorResult is one child's latest status and outputs.
type ProcessorResult struct {
	ID      string                   `json:"id"`
	Name    string                   `json:"name"`
	Kind    string                   `json:"kind"`
	Status  sequence.ExecutionStatus `json:"status"`
	Results []value.Value            `json:"results"`
}

// SequenceService owns the live sequences: it restores them from documents,
// triggers runs, switches modes and records run history.
type SequenceService struct {
	repo     repository.SequenceRepository
	restorer *persist.Restorer
	history  *RunHistoryService
	limiter  *ConcurrencyLimiter

	recordLoopRuns bool

	mu   sync.RWMutex
	live map[string]*sequence.Sequence
	byID map[string]string
}

// ServiceOption configures a SequenceService.
type ServiceOption func(*SequenceService)

// WithLoopRecording stores a run record for every iteration of a sequence's
// run loop.
func WithLoopRecording(enabled bool) ServiceOption {
	return func(s *SequenceService) { s.recordLoopRuns = enabled }
}

func WithLimiter(l *ConcurrencyLimiter) ServiceOption {
	return func(s *SequenceService) { s.limiter = l }
}

// NewSequenceService wires the service. bus must be the bus the restorer
// attaches to restored sequences; it may be nil when loop runs are not
// recorded.
func NewSequenceService(
	repo repository.SequenceRepository,
	restorer *persist.Restorer,
	history *RunHistoryService,
	bus *events.Bus,
	opts ...ServiceOption,
) *SequenceService {
	s := &SequenceService{
		repo:     repo,
		restorer: restorer,
		history:  history,
		live:     make(map[string]*sequence.Sequence),
		byID:     make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.limiter == nil {
		s.limiter = NewConcurrencyLimiter(ConcurrencyLimits{})
	}
	if bus != nil {
		bus.Subscribe(s.onEvent)
	}
	return s
}

// Load restores doc, stores it and makes it the live sequence under its
// name. A sequence previously live under that name is closed.
func (s *SequenceService) Load(ctx context.Context, doc *persist.Document) (*sequence.Sequence, error) {
	if strings.TrimSpace(doc.Name) == "" {
		return nil, fmt.Errorf("load sequence %s: %w: empty name", doc.ID, ErrInvalidDocument)
	}
	seq, err := s.restorer.Restore(*doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}
	if err := s.repo.Save(ctx, doc); err != nil {
		return nil, fmt.Errorf("save sequence %q: %w", doc.Name, err)
	}
	s.install(seq)
	slog.Info("sequence loaded", "sequence", seq.Name(), "id", seq.ID(), "processors", seq.Len())
	return seq, nil
}

// LoadFile reads a JSON or YAML document from path and loads it.
func (s *SequenceService) LoadFile(ctx context.Context, path string) (*sequence.Sequence, error) {
	doc, err := persist.LoadFile(path)
	if err != nil {
		return nil, err
	}
	return s.Load(ctx, &doc)
}

// LoadStored restores every document in the repository. Documents that
// fail to restore are logged and skipped.
func (s *SequenceService) LoadStored(ctx context.Context) (int, error) {
	docs, err := s.repo.List(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, doc := range docs {
		seq, err := s.restorer.Restore(*doc)
		if err != nil {
			slog.Warn("skipping stored sequence", "sequence", doc.Name, "err", err)
			continue
		}
		s.install(seq)
		n++
	}
	return n, nil
}

func (s *SequenceService) install(seq *sequence.Sequence) {
	s.mu.Lock()
	old := s.live[seq.Name()]
	s.live[seq.Name()] = seq
	if old != nil {
		delete(s.byID, old.ID().String())
	}
	s.byID[seq.ID().String()] = seq.Name()
	s.mu.Unlock()

	if old != nil {
		old.Close()
	}
}

func (s *SequenceService) Get(name string) (*sequence.Sequence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seq, ok := s.live[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSequenceNotFound, name)
	}
	return seq, nil
}

// List returns the live sequences ordered by name.
func (s *SequenceService) List() []SequenceSummary {
	s.mu.RLock()
	seqs := make([]*sequence.Sequence, 0, len(s.live))
	for _, seq := range s.live {
		seqs = append(seqs, seq)
	}
	s.mu.RUnlock()

	slices.SortFunc(seqs, func(a, b *sequence.Sequence) int { return strings.Compare(a.Name(), b.Name()) })
	out := make([]SequenceSummary, len(seqs))
	for i, seq := range seqs {
		out[i] = summarize(seq)
	}
	return out
}

func (s *SequenceService) Summary(name string) (SequenceSummary, error) {
	seq, err := s.Get(name)
	if err != nil {
		return SequenceSummary{}, err
	}
	return summarize(seq), nil
}

func summarize(seq *sequence.Sequence) SequenceSummary {
	return SequenceSummary{
		ID:         seq.ID().String(),
		Name:       seq.Name(),
		Mode:       seq.Mode(),
		Running:    seq.Running(),
		Processors: seq.Len(),
		Status:     seq.Status(),
	}
}

// Document snapshots the live graph of name.
func (s *SequenceService) Document(name string) (persist.Document, error) {
	seq, err := s.Get(name)
	if err != nil {
		return persist.Document{}, err
	}
	return persist.Snapshot(seq)
}

// Execute runs name once with inputs converted to the declared input types
// and records the run. The run's own error, if any, is returned alongside
// the record.
func (s *SequenceService) Execute(ctx context.Context, name string, inputs []any, trigger persist.TriggerSource) (*persist.RunRecord, error) {
	seq, err := s.Get(name)
	if err != nil {
		return nil, err
	}
	if seq.Mode().Loops() {
		return nil, fmt.Errorf("execute %q: %w in %s mode", name, ErrLooping, seq.Mode())
	}
	values, err := convertInputs(seq, inputs)
	if err != nil {
		return nil, fmt.Errorf("execute %q: %w", name, err)
	}

	if trigger == persist.TriggerCron {
		if !s.limiter.TryAcquire(name) {
			return nil, fmt.Errorf("execute %q: %w", name, ErrBusy)
		}
	} else if err := s.limiter.Acquire(ctx, name); err != nil {
		return nil, err
	}
	defer s.limiter.Release(name)

	_, runErr := seq.Execute(ctx, values)
	record, err := s.history.Record(ctx, name, trigger, seq.Status(), seq.RunStatuses())
	if err != nil {
		slog.Warn("failed to record run", "sequence", name, "err", err)
		record = persist.NewRunRecord(name, trigger, seq.Status(), seq.RunStatuses())
	}
	return record, runErr
}

func convertInputs(seq *sequence.Sequence, inputs []any) ([]value.Value, error) {
	slots := seq.InputTypes()
	if len(inputs) > len(slots) {
		return nil, fmt.Errorf("%w: got %d values for %d inputs", ErrInvalidInput, len(inputs), len(slots))
	}
	out := make([]value.Value, len(inputs))
	for i, raw := range inputs {
		v, err := value.Of(raw).ConvertTo(slots[i].Type)
		if err != nil {
			return nil, fmt.Errorf("%w: input %q: %w", ErrInvalidInput, slots[i].Name, err)
		}
		out[i] = v
	}
	return out, nil
}

// SetMode switches name to mode; RUN and TEST start its run loop.
func (s *SequenceService) SetMode(name string, mode sequence.Mode) error {
	seq, err := s.Get(name)
	if err != nil {
		return err
	}
	seq.SetMode(mode)
	return nil
}

// Results returns each child's latest status and outputs in child order.
func (s *SequenceService) Results(name string) ([]ProcessorResult, error) {
	seq, err := s.Get(name)
	if err != nil {
		return nil, err
	}
	procs := seq.Processors()
	out := make([]ProcessorResult, len(procs))
	for i, p := range procs {
		out[i] = ProcessorResult{
			ID:      p.ID().String(),
			Name:    p.Name(),
			Kind:    p.Kind(),
			Status:  p.ExecutionStatus(),
			Results: p.Results(),
		}
	}
	return out, nil
}

func (s *SequenceService) Runs(ctx context.Context, name string, limit, offset int) ([]*persist.RunRecord, int, error) {
	return s.history.ListRuns(ctx, name, limit, offset)
}

func (s *SequenceService) Run(ctx context.Context, id string) (*persist.RunRecord, error) {
	return s.history.GetRun(ctx, id)
}

// Remove stops and forgets name, deleting its stored document.
func (s *SequenceService) Remove(ctx context.Context, name string) error {
	s.mu.Lock()
	seq, ok := s.live[name]
	if ok {
		delete(s.live, name)
		delete(s.byID, seq.ID().String())
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSequenceNotFound, name)
	}
	seq.Close()
	if err := s.repo.Delete(ctx, name); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return err
	}
	slog.Info("sequence removed", "sequence", name)
	return nil
}

// Close stops every live sequence's run loop.
func (s *SequenceService) Close() {
	s.mu.RLock()
	seqs := make([]*sequence.Sequence, 0, len(s.live))
	for _, seq := range s.live {
		seqs = append(seqs, seq)
	}
	s.mu.RUnlock()
	for _, seq := range seqs {
		seq.Close()
	}
}

// onEvent records loop iterations. It runs on the loop goroutine, right
// after the run completed.
func (s *SequenceService) onEvent(e events.Event) {
	if !s.recordLoopRuns || e.Type != events.RunCompleted {
		return
	}
	s.mu.RLock()
	name, ok := s.byID[e.SequenceID]
	seq := s.live[name]
	s.mu.RUnlock()
	if !ok || seq == nil || !seq.Mode().Loops() {
		return
	}
	st, ok := e.Payload.(sequence.SequenceStatus)
	if !ok {
		return
	}
	if _, err := s.history.Record(context.Background(), name, persist.TriggerLoop, st, seq.RunStatuses()); err != nil {
		slog.Warn("failed to record loop run", "sequence", name, "err", err)
	}
}
