package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/soochol/procflow/internal/persist"
)

var ErrScheduleNotFound = errors.New("schedule not found")

// SequenceRunner triggers one run of a named sequence.
type SequenceRunner interface {
	Execute(ctx context.Context, name string, inputs []any, trigger persist.TriggerSource) (*persist.RunRecord, error)
}

// Schedule runs a sequence whenever its cron expression fires.
type Schedule struct {
	ID        string     `json:"id"`
	Sequence  string     `json:"sequence"`
	CronExpr  string     `json:"cron_expr"`
	Inputs    []any      `json:"inputs,omitempty"`
	NextRunAt time.Time  `json:"next_run_at"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	LastError string     `json:"last_error,omitempty"`
}

// SchedulerService manages cron-based sequence triggers on top of
// robfig/cron.
type SchedulerService struct {
	cron      *cron.Cron
	runner    SequenceRunner
	mu        sync.RWMutex
	schedules map[string]*Schedule
	entryMap  map[string]cron.EntryID // schedule ID → cron entry
}

func NewSchedulerService(runner SequenceRunner) *SchedulerService {
	return &SchedulerService{
		cron:      cron.New(),
		runner:    runner,
		schedules: make(map[string]*Schedule),
		entryMap:  make(map[string]cron.EntryID),
	}
}

// Start begins dispatching registered schedules.
func (s *SchedulerService) Start() {
	s.cron.Start()
	slog.Info("scheduler: started", "schedules", len(s.ListSchedules()))
}

// Stop halts the cron loop and waits for running jobs to finish.
func (s *SchedulerService) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	slog.Info("scheduler: stopped")
}

// AddSchedule registers a trigger for sequence on expr.
func (s *SchedulerService) AddSchedule(sequence, expr string, inputs []any) (*Schedule, error) {
	if sequence == "" {
		return nil, fmt.Errorf("add schedule: empty sequence name")
	}
	cronSched, err := parseCronExpr(expr)
	if err != nil {
		return nil, fmt.Errorf("add schedule for %q: %w", sequence, err)
	}

	schedule := &Schedule{
		ID:        uuid.NewString(),
		Sequence:  sequence,
		CronExpr:  expr,
		Inputs:    inputs,
		NextRunAt: cronSched.Next(time.Now()),
	}
	id := schedule.ID
	entryID := s.cron.Schedule(cronSched, cron.FuncJob(func() {
		s.executeScheduledRun(id)
	}))

	s.mu.Lock()
	s.schedules[id] = schedule
	s.entryMap[id] = entryID
	s.mu.Unlock()

	slog.Info("scheduler: registered cron job", "id", id, "sequence", sequence, "cron", expr)
	copied := *schedule
	return &copied, nil
}

// RemoveSchedule unregisters a schedule.
func (s *SchedulerService) RemoveSchedule(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entryID, ok := s.entryMap[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrScheduleNotFound, id)
	}
	s.cron.Remove(entryID)
	delete(s.entryMap, id)
	delete(s.schedules, id)
	return nil
}

func (s *SchedulerService) GetSchedule(id string) (*Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sched, ok := s.schedules[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrScheduleNotFound, id)
	}
	copied := *sched
	return &copied, nil
}

// ListSchedules returns copies of every schedule ordered by sequence name.
func (s *SchedulerService) ListSchedules() []Schedule {
	s.mu.RLock()
	out := make([]Schedule, 0, len(s.schedules))
	for _, sched := range s.schedules {
		out = append(out, *sched)
	}
	s.mu.RUnlock()
	slices.SortFunc(out, func(a, b Schedule) int {
		if c := strings.Compare(a.Sequence, b.Sequence); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// executeScheduledRun is called by cron when a schedule fires.
func (s *SchedulerService) executeScheduledRun(id string) {
	s.mu.RLock()
	sched, ok := s.schedules[id]
	var name, expr string
	var inputs []any
	if ok {
		name, expr, inputs = sched.Sequence, sched.CronExpr, sched.Inputs
	}
	s.mu.RUnlock()
	if !ok {
		return
	}

	slog.Info("scheduler: executing scheduled run", "schedule", id, "sequence", name)
	record, err := s.runner.Execute(context.Background(), name, inputs, persist.TriggerCron)
	switch {
	case errors.Is(err, ErrLooping), errors.Is(err, ErrBusy):
		slog.Info("scheduler: skipped", "schedule", id, "sequence", name, "reason", err)
	case err != nil:
		slog.Error("scheduler: execution failed", "schedule", id, "sequence", name, "err", err)
	default:
		slog.Info("scheduler: run completed", "schedule", id, "sequence", name,
			"run", record.ID, "outcome", record.Outcome)
	}

	now := time.Now()
	s.mu.Lock()
	if sched, ok := s.schedules[id]; ok {
		sched.LastRunAt = &now
		sched.LastError = ""
		if err != nil {
			sched.LastError = err.Error()
		}
		if cronSched, parseErr := parseCronExpr(expr); parseErr == nil {
			sched.NextRunAt = cronSched.Next(now)
		}
	}
	s.mu.Unlock()
}

// parseCronExpr tries 6-field (with seconds) then 5-field (standard)
// parsing. Descriptors such as "@every 1m" are accepted by both.
func parseCronExpr(expr string) (cron.Schedule, error) {
	parser6 := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	sched, err := parser6.Parse(expr)
	if err == nil {
		return sched, nil
	}
	parser5 := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return parser5.Parse(expr)
}
