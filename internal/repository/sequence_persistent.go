package repository

import (
	"context"
	"log/slog"

	"github.com/soochol/procflow/internal/persist"
)

// SequenceDB is the subset of the database the sequence repository needs.
// *db.DB satisfies this interface.
type SequenceDB interface {
	UpsertSequence(ctx context.Context, doc *persist.Document) error
	GetSequence(ctx context.Context, name string) (*persist.Document, error)
	ListSequences(ctx context.Context) ([]*persist.Document, error)
	DeleteSequence(ctx context.Context, name string) error
}

// PersistentSequenceRepository wraps the memory repository with PostgreSQL.
// Writes go to both stores (DB failure is logged but non-fatal).
// Reads try memory first, falling back to the database.
type PersistentSequenceRepository struct {
	mem *MemorySequenceRepository
	db  SequenceDB
}

func NewPersistentSequenceRepository(mem *MemorySequenceRepository, database SequenceDB) *PersistentSequenceRepository {
	return &PersistentSequenceRepository{mem: mem, db: database}
}

func (r *PersistentSequenceRepository) Save(ctx context.Context, doc *persist.Document) error {
	if err := r.mem.Save(ctx, doc); err != nil {
		return err
	}
	if err := r.db.UpsertSequence(ctx, doc); err != nil {
		slog.Warn("db save sequence failed, in-memory only", "sequence", doc.Name, "err", err)
	}
	return nil
}

func (r *PersistentSequenceRepository) Get(ctx context.Context, name string) (*persist.Document, error) {
	doc, err := r.mem.Get(ctx, name)
	if err == nil {
		return doc, nil
	}
	stored, dbErr := r.db.GetSequence(ctx, name)
	if dbErr != nil {
		return nil, err
	}
	_ = r.mem.Save(ctx, stored)
	return stored, nil
}

func (r *PersistentSequenceRepository) List(ctx context.Context) ([]*persist.Document, error) {
	docs, err := r.db.ListSequences(ctx)
	if err == nil {
		return docs, nil
	}
	slog.Warn("db list sequences failed, falling back to in-memory", "err", err)
	return r.mem.List(ctx)
}

func (r *PersistentSequenceRepository) Delete(ctx context.Context, name string) error {
	memErr := r.mem.Delete(ctx, name)
	if err := r.db.DeleteSequence(ctx, name); err != nil {
		if memErr != nil {
			return memErr
		}
		slog.Warn("db delete sequence failed", "sequence", name, "err", err)
	}
	return nil
}
