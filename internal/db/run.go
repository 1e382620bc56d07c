package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/soochol/procflow/internal/persist"
	"github.com/soochol/procflow/internal/sequence"
)

// CreateRun stores a run record.
func (d *DB) CreateRun(ctx context.Context, r *persist.RunRecord) error {
	procsJSON, err := json.Marshal(r.Processors)
	if err != nil {
		return fmt.Errorf("marshal processors: %w", err)
	}
	_, err = d.Pool.ExecContext(ctx,
		`INSERT INTO sequence_runs (id, sequence_name, trigger, outcome, message, processors, trigger_count, elapsed_us, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		r.ID, r.SequenceName, string(r.Trigger), r.Outcome.String(), r.Message,
		procsJSON, int64(r.TriggerCount), r.ElapsedUS, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

const runColumns = `id, sequence_name, trigger, outcome, message, processors, trigger_count, elapsed_us, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*persist.RunRecord, error) {
	r := &persist.RunRecord{}
	var trigger, outcome string
	var procsJSON []byte
	var triggerCount int64
	if err := s.Scan(&r.ID, &r.SequenceName, &trigger, &outcome, &r.Message,
		&procsJSON, &triggerCount, &r.ElapsedUS, &r.CreatedAt); err != nil {
		return nil, err
	}
	r.Trigger = persist.TriggerSource(trigger)
	r.TriggerCount = uint64(triggerCount)
	var o sequence.Outcome
	if err := o.UnmarshalText([]byte(outcome)); err != nil {
		return nil, err
	}
	r.Outcome = o
	if err := json.Unmarshal(procsJSON, &r.Processors); err != nil {
		return nil, fmt.Errorf("unmarshal processors: %w", err)
	}
	return r, nil
}

func (d *DB) GetRun(ctx context.Context, id string) (*persist.RunRecord, error) {
	r, err := scanRun(d.Pool.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM sequence_runs WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// ListRunsBySequence returns runs of one sequence, newest first, and the
// total count.
func (d *DB) ListRunsBySequence(ctx context.Context, name string, limit, offset int) ([]*persist.RunRecord, int, error) {
	var total int
	if err := d.Pool.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sequence_runs WHERE sequence_name = $1`, name,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count runs: %w", err)
	}

	rows, err := d.Pool.QueryContext(ctx,
		`SELECT `+runColumns+` FROM sequence_runs WHERE sequence_name = $1
		 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, name, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*persist.RunRecord
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, total, rows.Err()
}
