package repository

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/soochol/procflow/internal/persist"
	memstore "github.com/soochol/procflow/internal/repository/memory"
)

const maxRunRecords = 1000

// MemoryRunRepository keeps the most recent run records, evicting the
// oldest first.
type MemoryRunRepository struct {
	store *memstore.Store[*persist.RunRecord]
	limit int
}

func NewMemoryRunRepository() *MemoryRunRepository {
	return &MemoryRunRepository{
		store: memstore.New(func(r *persist.RunRecord) string { return r.ID }),
		limit: maxRunRecords,
	}
}

func (r *MemoryRunRepository) Create(ctx context.Context, record *persist.RunRecord) error {
	if err := r.store.Set(ctx, record); err != nil {
		return err
	}
	r.store.Evict(r.limit)
	return nil
}

func (r *MemoryRunRepository) Get(ctx context.Context, id string) (*persist.RunRecord, error) {
	rec, err := r.store.Get(ctx, id)
	if errors.Is(err, memstore.ErrNotFound) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return rec, err
}

func (r *MemoryRunRepository) ListBySequence(ctx context.Context, name string, limit, offset int) ([]*persist.RunRecord, int, error) {
	runs, err := r.store.Filter(ctx, func(rec *persist.RunRecord) bool { return rec.SequenceName == name })
	if err != nil {
		return nil, 0, err
	}
	slices.Reverse(runs)
	return page(runs, limit, offset), len(runs), nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return items[offset:end]
}
