package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/kpellas/iris-assist/internal/iris"
)

const runColumns = `id, protocol_id, protocol_name, owner_id, status, current_step, steps, notes, started_at, completed_at`

// CreateRun inserts a new in-progress run. The partial unique index on
// (owner_id) WHERE status = 'in_progress' makes the insert the atomic
// arbiter of the one-active-run invariant: a concurrent second start loses
// with a unique violation, which surfaces as a conflict error naming the
// protocol already running.
func (d *DB) CreateRun(ctx context.Context, run *iris.ProtocolRun) error {
	stepsJSON, _ := json.Marshal(run.Steps)

	_, err := d.Pool.ExecContext(ctx,
		`INSERT INTO protocol_runs (id, protocol_id, protocol_name, owner_id, status, current_step, steps, notes, started_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		run.ID, run.ProtocolID, run.ProtocolName, run.OwnerID,
		string(run.Status), run.CurrentStepIndex, stepsJSON, run.Notes,
		run.StartedAt, run.CompletedAt,
	)
	if isUniqueViolation(err) {
		name := ""
		if active, activeErr := d.GetActiveRun(ctx, run.OwnerID); activeErr == nil && active != nil {
			name = active.ProtocolName
		}
		return iris.ErrConflict("a protocol run is already in progress", name)
	}
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (d *DB) GetRun(ctx context.Context, id string) (*iris.ProtocolRun, error) {
	row := d.Pool.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM protocol_runs WHERE id = $1`, id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, iris.ErrNotFound("run", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// GetActiveRun returns the owner's in-progress run, or nil when there is
// none.
func (d *DB) GetActiveRun(ctx context.Context, ownerID string) (*iris.ProtocolRun, error) {
	row := d.Pool.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM protocol_runs
		 WHERE owner_id = $1 AND status = 'in_progress'`,
		ownerID)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get active run: %w", err)
	}
	return run, nil
}

// AdvanceRun moves the run to newIndex, but only when the run is still in
// progress, newIndex is the immediate successor, and it stays inside the step
// snapshot. The guard lives in the statement itself, so a duplicate of an
// applied advance matches zero rows instead of skipping a step.
func (d *DB) AdvanceRun(ctx context.Context, id string, newIndex int) (bool, error) {
	res, err := d.Pool.ExecContext(ctx,
		`UPDATE protocol_runs SET current_step = $2
		 WHERE id = $1 AND status = 'in_progress'
		   AND current_step = $2 - 1
		   AND $2 < jsonb_array_length(steps)`,
		id, newIndex)
	if err != nil {
		return false, fmt.Errorf("advance run: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// CompleteRun marks the run completed and stamps completed_at, exactly once.
func (d *DB) CompleteRun(ctx context.Context, id, notes string) (bool, error) {
	res, err := d.Pool.ExecContext(ctx,
		`UPDATE protocol_runs
		 SET status = 'completed', completed_at = NOW(),
		     notes = CASE WHEN $2 = '' THEN notes ELSE $2 END
		 WHERE id = $1 AND status = 'in_progress'`,
		id, notes)
	if err != nil {
		return false, fmt.Errorf("complete run: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// CancelRun marks the run cancelled and stamps completed_at, exactly once.
func (d *DB) CancelRun(ctx context.Context, id string) (bool, error) {
	res, err := d.Pool.ExecContext(ctx,
		`UPDATE protocol_runs SET status = 'cancelled', completed_at = NOW()
		 WHERE id = $1 AND status = 'in_progress'`,
		id)
	if err != nil {
		return false, fmt.Errorf("cancel run: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ListRuns returns the owner's run history, most recent first. protocolID
// filters when non-empty; limit <= 0 means no limit.
func (d *DB) ListRuns(ctx context.Context, ownerID, protocolID string, limit int) ([]*iris.ProtocolRun, error) {
	query := `SELECT ` + runColumns + ` FROM protocol_runs WHERE owner_id = $1`
	args := []any{ownerID}
	if protocolID != "" {
		query += ` AND protocol_id = $2`
		args = append(args, protocolID)
	}
	query += ` ORDER BY started_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, len(args)+1)
		args = append(args, limit)
	}

	rows, err := d.Pool.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var result []*iris.ProtocolRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		result = append(result, run)
	}
	return result, rows.Err()
}

func scanRun(s scanner) (*iris.ProtocolRun, error) {
	run := &iris.ProtocolRun{}
	var status string
	var stepsJSON []byte

	err := s.Scan(&run.ID, &run.ProtocolID, &run.ProtocolName, &run.OwnerID,
		&status, &run.CurrentStepIndex, &stepsJSON, &run.Notes,
		&run.StartedAt, &run.CompletedAt)
	if err != nil {
		return nil, err
	}

	run.Status = iris.RunStatus(status)
	json.Unmarshal(stepsJSON, &run.Steps)
	return run, nil
}
