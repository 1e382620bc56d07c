package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/soochol/procflow/internal/persist"
	memstore "github.com/soochol/procflow/internal/repository/memory"
)

// MemorySequenceRepository is a thread-safe in-memory SequenceRepository.
type MemorySequenceRepository struct {
	store *memstore.Store[*persist.Document]
}

func NewMemorySequenceRepository() *MemorySequenceRepository {
	return &MemorySequenceRepository{
		store: memstore.New(func(d *persist.Document) string { return d.Name }),
	}
}

func (r *MemorySequenceRepository) Save(ctx context.Context, doc *persist.Document) error {
	if doc.Name == "" {
		return fmt.Errorf("save sequence %s: empty name", doc.ID)
	}
	return r.store.Set(ctx, doc)
}

func (r *MemorySequenceRepository) Get(ctx context.Context, name string) (*persist.Document, error) {
	doc, err := r.store.Get(ctx, name)
	if errors.Is(err, memstore.ErrNotFound) {
		return nil, fmt.Errorf("sequence %s: %w", name, ErrNotFound)
	}
	return doc, err
}

func (r *MemorySequenceRepository) List(ctx context.Context) ([]*persist.Document, error) {
	return r.store.All(ctx)
}

func (r *MemorySequenceRepository) Delete(ctx context.Context, name string) error {
	if err := r.store.Delete(ctx, name); errors.Is(err, memstore.ErrNotFound) {
		return fmt.Errorf("sequence %s: %w", name, ErrNotFound)
	}
	return nil
}
