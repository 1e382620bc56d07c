package services

import (
	"context"

	"github.com/soochol/procflow/internal/persist"
	"github.com/soochol/procflow/internal/repository"
	"github.com/soochol/procflow/internal/sequence"
)

const (
	defaultRunPageSize = 20
	maxRunPageSize     = 100
)

// RunHistoryService manages sequence execution records.
type RunHistoryService struct {
	runRepo repository.RunRepository
}

func NewRunHistoryService(runRepo repository.RunRepository) *RunHistoryService {
	return &RunHistoryService{runRepo: runRepo}
}

// Record stores the outcome of a finished run.
func (s *RunHistoryService) Record(ctx context.Context, name string, trigger persist.TriggerSource, st sequence.SequenceStatus, procs []sequence.ExecutionStatus) (*persist.RunRecord, error) {
	record := persist.NewRunRecord(name, trigger, st, procs)
	if err := s.runRepo.Create(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// GetRun retrieves a single run record.
func (s *RunHistoryService) GetRun(ctx context.Context, id string) (*persist.RunRecord, error) {
	return s.runRepo.Get(ctx, id)
}

// ListRuns returns runs of one sequence, newest first. A non-positive limit
// selects the default page size.
func (s *RunHistoryService) ListRuns(ctx context.Context, name string, limit, offset int) ([]*persist.RunRecord, int, error) {
	if limit <= 0 {
		limit = defaultRunPageSize
	}
	limit = min(limit, maxRunPageSize)
	offset = max(offset, 0)
	return s.runRepo.ListBySequence(ctx, name, limit, offset)
}
