package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/soochol/procflow/internal/persist"
)

// UpsertSequence stores doc under its name, replacing an existing document
// with the same name.
func (d *DB) UpsertSequence(ctx context.Context, doc *persist.Document) error {
	docJSON, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}
	now := time.Now()
	_, err = d.Pool.ExecContext(ctx,
		`INSERT INTO sequences (id, name, document, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $4)
		 ON CONFLICT (name) DO UPDATE SET id = EXCLUDED.id, document = EXCLUDED.document, updated_at = EXCLUDED.updated_at`,
		doc.ID, doc.Name, docJSON, now,
	)
	if err != nil {
		return fmt.Errorf("upsert sequence: %w", err)
	}
	return nil
}

func (d *DB) GetSequence(ctx context.Context, name string) (*persist.Document, error) {
	var docJSON []byte
	err := d.Pool.QueryRowContext(ctx,
		`SELECT document FROM sequences WHERE name = $1`, name,
	).Scan(&docJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sequence %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get sequence: %w", err)
	}
	var doc persist.Document
	if err := json.Unmarshal(docJSON, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal document: %w", err)
	}
	return &doc, nil
}

// ListSequences returns every stored document ordered by name.
func (d *DB) ListSequences(ctx context.Context) ([]*persist.Document, error) {
	rows, err := d.Pool.QueryContext(ctx, `SELECT document FROM sequences ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list sequences: %w", err)
	}
	defer rows.Close()

	var result []*persist.Document
	for rows.Next() {
		var docJSON []byte
		if err := rows.Scan(&docJSON); err != nil {
			return nil, fmt.Errorf("scan sequence: %w", err)
		}
		var doc persist.Document
		if err := json.Unmarshal(docJSON, &doc); err != nil {
			return nil, fmt.Errorf("unmarshal document: %w", err)
		}
		result = append(result, &doc)
	}
	return result, rows.Err()
}

func (d *DB) DeleteSequence(ctx context.Context, name string) error {
	res, err := d.Pool.ExecContext(ctx, `DELETE FROM sequences WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("delete sequence: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("sequence %s: %w", name, ErrNotFound)
	}
	return nil
}
