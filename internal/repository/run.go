package repository

import (
	"context"

	"github.com/soochol/procflow/internal/persist"
)

// RunRepository stores the records of sequence executions.
type RunRepository interface {
	Create(ctx context.Context, record *persist.RunRecord) error
	Get(ctx context.Context, id string) (*persist.RunRecord, error)
	// ListBySequence returns one page of runs, newest first, plus the total.
	ListBySequence(ctx context.Context, name string, limit, offset int) ([]*persist.RunRecord, int, error)
}
