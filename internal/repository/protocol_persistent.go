package repository

import (
	"context"
	"log/slog"

	"github.com/kpellas/iris-assist/internal/db"
	"github.com/kpellas/iris-assist/internal/iris"
)

// PersistentProtocolRepository wraps a MemoryProtocolRepository with a
// PostgreSQL backend. The database owns definition identity (upserts must see
// rows from before a restart), so writes go database-first and the memory
// store acts as a read cache; database failures degrade to memory-only with a
// warning.
type PersistentProtocolRepository struct {
	mem *MemoryProtocolRepository
	db  *db.DB
}

func NewPersistentProtocolRepository(mem *MemoryProtocolRepository, database *db.DB) *PersistentProtocolRepository {
	return &PersistentProtocolRepository{mem: mem, db: database}
}

func (r *PersistentProtocolRepository) Upsert(ctx context.Context, p *iris.Protocol) (*iris.Protocol, error) {
	stored, err := r.db.UpsertProtocol(ctx, p)
	if err != nil {
		slog.Warn("db upsert protocol failed, in-memory only", "err", err)
		return r.mem.Upsert(ctx, p)
	}
	// Mirror into the cache so name lookups stay hot.
	_, _ = r.mem.Upsert(ctx, stored)
	return stored, nil
}

func (r *PersistentProtocolRepository) Get(ctx context.Context, id string) (*iris.Protocol, error) {
	p, err := r.mem.Get(ctx, id)
	if err == nil {
		return p, nil
	}

	dbProt, dbErr := r.db.GetProtocol(ctx, id)
	if dbErr != nil {
		return nil, err // original not-found
	}
	_, _ = r.mem.Upsert(ctx, dbProt)
	return dbProt, nil
}

func (r *PersistentProtocolRepository) GetByName(ctx context.Context, ownerID, name string) (*iris.Protocol, error) {
	p, err := r.mem.GetByName(ctx, ownerID, name)
	if err == nil {
		return p, nil
	}

	dbProt, dbErr := r.db.GetProtocolByName(ctx, ownerID, name)
	if dbErr != nil {
		return nil, err // original not-found
	}
	_, _ = r.mem.Upsert(ctx, dbProt)
	return dbProt, nil
}

func (r *PersistentProtocolRepository) List(ctx context.Context, ownerID string) ([]*iris.Protocol, error) {
	// Prefer DB: it sees rows from before this process started and already
	// orders by usage.
	protocols, err := r.db.ListProtocols(ctx, ownerID)
	if err == nil {
		return protocols, nil
	}
	slog.Warn("db list protocols failed, falling back to in-memory", "err", err)
	return r.mem.List(ctx, ownerID)
}

func (r *PersistentProtocolRepository) SoftDelete(ctx context.Context, ownerID, name string) error {
	err := r.db.SoftDeleteProtocol(ctx, ownerID, name)
	if err != nil && !iris.IsNotFound(err) {
		slog.Warn("db soft delete protocol failed", "err", err)
		return r.mem.SoftDelete(ctx, ownerID, name)
	}
	_ = r.mem.SoftDelete(ctx, ownerID, name)
	return err
}

func (r *PersistentProtocolRepository) RecordRun(ctx context.Context, id string) error {
	_ = r.mem.RecordRun(ctx, id)
	if err := r.db.RecordProtocolRun(ctx, id); err != nil {
		slog.Warn("db record protocol run failed", "err", err)
	}
	return nil
}
