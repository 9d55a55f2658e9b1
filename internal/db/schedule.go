package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kpellas/iris-assist/internal/iris"
)

const scheduleColumns = `id, owner_id, protocol_name, cron_expr, timezone, enabled, next_run_at, last_run_at, created_at, updated_at`

// CreateSchedule stores a new schedule.
func (d *DB) CreateSchedule(ctx context.Context, s *iris.Schedule) error {
	_, err := d.Pool.ExecContext(ctx,
		`INSERT INTO schedules (id, owner_id, protocol_name, cron_expr, timezone, enabled, next_run_at, last_run_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		s.ID, s.OwnerID, s.ProtocolName, s.CronExpr, s.Timezone,
		s.Enabled, s.NextRunAt, s.LastRunAt, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert schedule: %w", err)
	}
	return nil
}

// GetSchedule retrieves a schedule by ID.
func (d *DB) GetSchedule(ctx context.Context, id string) (*iris.Schedule, error) {
	row := d.Pool.QueryRowContext(ctx,
		`SELECT `+scheduleColumns+` FROM schedules WHERE id = $1`, id)
	s, err := scanSchedule(row)
	if err == sql.ErrNoRows {
		return nil, iris.ErrNotFound("schedule", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get schedule: %w", err)
	}
	return s, nil
}

// UpdateSchedule replaces a schedule's mutable fields.
func (d *DB) UpdateSchedule(ctx context.Context, s *iris.Schedule) error {
	res, err := d.Pool.ExecContext(ctx,
		`UPDATE schedules
		 SET protocol_name = $2, cron_expr = $3, timezone = $4, enabled = $5,
		     next_run_at = $6, last_run_at = $7, updated_at = $8
		 WHERE id = $1`,
		s.ID, s.ProtocolName, s.CronExpr, s.Timezone, s.Enabled,
		s.NextRunAt, s.LastRunAt, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update schedule: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return iris.ErrNotFound("schedule", s.ID)
	}
	return nil
}

// DeleteSchedule removes a schedule.
func (d *DB) DeleteSchedule(ctx context.Context, id string) error {
	res, err := d.Pool.ExecContext(ctx,
		`DELETE FROM schedules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return iris.ErrNotFound("schedule", id)
	}
	return nil
}

// ListSchedules returns schedules for one owner, or all schedules when
// ownerID is empty.
func (d *DB) ListSchedules(ctx context.Context, ownerID string) ([]*iris.Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM schedules`
	var args []any
	if ownerID != "" {
		query += ` WHERE owner_id = $1`
		args = append(args, ownerID)
	}
	query += ` ORDER BY created_at`

	rows, err := d.Pool.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()

	var result []*iris.Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

func scanSchedule(s scanner) (*iris.Schedule, error) {
	sched := &iris.Schedule{}
	err := s.Scan(&sched.ID, &sched.OwnerID, &sched.ProtocolName, &sched.CronExpr,
		&sched.Timezone, &sched.Enabled, &sched.NextRunAt, &sched.LastRunAt,
		&sched.CreatedAt, &sched.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return sched, nil
}
