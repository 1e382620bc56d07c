package repository

import (
	"context"
	"log/slog"

	"github.com/soochol/procflow/internal/persist"
)

// RunDB is the subset of the database the run repository needs.
// *db.DB satisfies this interface.
type RunDB interface {
	CreateRun(ctx context.Context, r *persist.RunRecord) error
	GetRun(ctx context.Context, id string) (*persist.RunRecord, error)
	ListRunsBySequence(ctx context.Context, name string, limit, offset int) ([]*persist.RunRecord, int, error)
}

// PersistentRunRepository wraps MemoryRunRepository with a PostgreSQL backend.
// Writes go to both stores (DB failure is logged but non-fatal).
type PersistentRunRepository struct {
	mem *MemoryRunRepository
	db  RunDB
}

func NewPersistentRunRepository(mem *MemoryRunRepository, database RunDB) *PersistentRunRepository {
	return &PersistentRunRepository{mem: mem, db: database}
}

func (r *PersistentRunRepository) Create(ctx context.Context, record *persist.RunRecord) error {
	_ = r.mem.Create(ctx, record)
	if err := r.db.CreateRun(ctx, record); err != nil {
		slog.Warn("db create run failed, in-memory only", "run", record.ID, "err", err)
	}
	return nil
}

func (r *PersistentRunRepository) Get(ctx context.Context, id string) (*persist.RunRecord, error) {
	rec, err := r.mem.Get(ctx, id)
	if err == nil {
		return rec, nil
	}
	dbRec, dbErr := r.db.GetRun(ctx, id)
	if dbErr != nil {
		return nil, err
	}
	return dbRec, nil
}

func (r *PersistentRunRepository) ListBySequence(ctx context.Context, name string, limit, offset int) ([]*persist.RunRecord, int, error) {
	runs, total, err := r.db.ListRunsBySequence(ctx, name, limit, offset)
	if err == nil {
		return runs, total, nil
	}
	slog.Warn("db list runs failed, falling back to in-memory", "err", err)
	return r.mem.ListBySequence(ctx, name, limit, offset)
}
