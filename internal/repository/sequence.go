// Package repository defines storage for sequence documents and run records.
package repository

import (
	"context"
	"errors"

	"github.com/soochol/procflow/internal/persist"
)

// ErrNotFound is returned when a requested document or run does not exist.
var ErrNotFound = errors.New("not found")

// SequenceRepository stores sequence documents by name, so callers don't
// need to know whether storage is in-memory, PostgreSQL, or a mix.
type SequenceRepository interface {
	Save(ctx context.Context, doc *persist.Document) error
	Get(ctx context.Context, name string) (*persist.Document, error)
	List(ctx context.Context) ([]*persist.Document, error)
	Delete(ctx context.Context, name string) error
}
