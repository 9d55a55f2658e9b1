package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/kpellas/iris-assist/internal/iris"
)

const protocolColumns = `id, owner_id, name, description, steps, tags, total_minutes, active, run_count, last_run_at, created_at, updated_at`

// UpsertProtocol inserts a definition or revises the owner's existing one
// with the same name (case-insensitive). The stored row keeps its identity,
// creation time and run stats across revisions, and is re-activated if it had
// been soft-deleted. Returns the stored definition.
func (d *DB) UpsertProtocol(ctx context.Context, p *iris.Protocol) (*iris.Protocol, error) {
	stepsJSON, _ := json.Marshal(p.Steps)
	tagsJSON, _ := json.Marshal(p.Tags)
	if p.Tags == nil {
		tagsJSON = []byte(`[]`)
	}

	id := p.ID
	if id == "" {
		id = iris.GenerateID("prot")
	}

	row := d.Pool.QueryRowContext(ctx,
		`INSERT INTO protocols (id, owner_id, name, description, steps, tags, total_minutes, active)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE)
		 ON CONFLICT (owner_id, lower(name)) DO UPDATE SET
		     name = EXCLUDED.name,
		     description = EXCLUDED.description,
		     steps = EXCLUDED.steps,
		     tags = EXCLUDED.tags,
		     total_minutes = EXCLUDED.total_minutes,
		     active = TRUE,
		     updated_at = NOW()
		 RETURNING `+protocolColumns,
		id, p.OwnerID, p.Name, p.Description, stepsJSON, tagsJSON,
		iris.TotalDuration(p.Steps),
	)
	stored, err := scanProtocol(row)
	if err != nil {
		return nil, fmt.Errorf("upsert protocol: %w", err)
	}
	return stored, nil
}

// GetProtocol retrieves a definition by ID, soft-deleted rows included (run
// history needs them).
func (d *DB) GetProtocol(ctx context.Context, id string) (*iris.Protocol, error) {
	row := d.Pool.QueryRowContext(ctx,
		`SELECT `+protocolColumns+` FROM protocols WHERE id = $1`, id)
	p, err := scanProtocol(row)
	if err == sql.ErrNoRows {
		return nil, iris.ErrNotFound("protocol", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get protocol: %w", err)
	}
	return p, nil
}

// GetProtocolByName retrieves an owner's active definition by
// case-insensitive name.
func (d *DB) GetProtocolByName(ctx context.Context, ownerID, name string) (*iris.Protocol, error) {
	row := d.Pool.QueryRowContext(ctx,
		`SELECT `+protocolColumns+`
		 FROM protocols WHERE owner_id = $1 AND lower(name) = lower($2) AND active`,
		ownerID, name)
	p, err := scanProtocol(row)
	if err == sql.ErrNoRows {
		return nil, iris.ErrNotFound("protocol", name)
	}
	if err != nil {
		return nil, fmt.Errorf("get protocol by name: %w", err)
	}
	return p, nil
}

// ListProtocols returns the owner's active definitions, most-used first.
func (d *DB) ListProtocols(ctx context.Context, ownerID string) ([]*iris.Protocol, error) {
	rows, err := d.Pool.QueryContext(ctx,
		`SELECT `+protocolColumns+`
		 FROM protocols WHERE owner_id = $1 AND active
		 ORDER BY run_count DESC, updated_at DESC`,
		ownerID)
	if err != nil {
		return nil, fmt.Errorf("list protocols: %w", err)
	}
	defer rows.Close()

	var result []*iris.Protocol
	for rows.Next() {
		p, err := scanProtocol(rows)
		if err != nil {
			return nil, fmt.Errorf("scan protocol: %w", err)
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

// SoftDeleteProtocol clears the active flag on an owner's definition. The row
// stays because run history references it.
func (d *DB) SoftDeleteProtocol(ctx context.Context, ownerID, name string) error {
	res, err := d.Pool.ExecContext(ctx,
		`UPDATE protocols SET active = FALSE, updated_at = NOW()
		 WHERE owner_id = $1 AND lower(name) = lower($2) AND active`,
		ownerID, name)
	if err != nil {
		return fmt.Errorf("soft delete protocol: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return iris.ErrNotFound("protocol", name)
	}
	return nil
}

// RecordProtocolRun bumps the definition's run counter and stamps its last
// run time.
func (d *DB) RecordProtocolRun(ctx context.Context, id string) error {
	res, err := d.Pool.ExecContext(ctx,
		`UPDATE protocols SET run_count = run_count + 1, last_run_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("record protocol run: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return iris.ErrNotFound("protocol", id)
	}
	return nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanProtocol(s scanner) (*iris.Protocol, error) {
	p := &iris.Protocol{}
	var stepsJSON, tagsJSON []byte

	err := s.Scan(&p.ID, &p.OwnerID, &p.Name, &p.Description, &stepsJSON, &tagsJSON,
		&p.TotalDurationMinutes, &p.Active, &p.RunCount, &p.LastRunAt,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}

	json.Unmarshal(stepsJSON, &p.Steps)
	json.Unmarshal(tagsJSON, &p.Tags)
	return p, nil
}
