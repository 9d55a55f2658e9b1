package repository

import (
	"context"
	"log/slog"

	"github.com/kpellas/iris-assist/internal/db"
	"github.com/kpellas/iris-assist/internal/iris"
)

// PersistentScheduleRepository wraps a MemoryScheduleRepository with a
// PostgreSQL backend. Writes go to both stores (DB failure is logged but
// non-fatal). Reads try memory first, falling back to the database.
type PersistentScheduleRepository struct {
	mem *MemoryScheduleRepository
	db  *db.DB
}

func NewPersistentScheduleRepository(mem *MemoryScheduleRepository, database *db.DB) *PersistentScheduleRepository {
	return &PersistentScheduleRepository{mem: mem, db: database}
}

func (r *PersistentScheduleRepository) Create(ctx context.Context, schedule *iris.Schedule) error {
	_ = r.mem.Create(ctx, schedule)
	if err := r.db.CreateSchedule(ctx, schedule); err != nil {
		slog.Warn("db create schedule failed, in-memory only", "err", err)
	}
	return nil
}

func (r *PersistentScheduleRepository) Get(ctx context.Context, id string) (*iris.Schedule, error) {
	s, err := r.mem.Get(ctx, id)
	if err == nil {
		return s, nil
	}

	dbSched, dbErr := r.db.GetSchedule(ctx, id)
	if dbErr != nil {
		return nil, err // original not-found
	}

	_ = r.mem.Create(ctx, dbSched)
	return dbSched, nil
}

func (r *PersistentScheduleRepository) Update(ctx context.Context, schedule *iris.Schedule) error {
	_ = r.mem.Update(ctx, schedule)
	if err := r.db.UpdateSchedule(ctx, schedule); err != nil {
		slog.Warn("db update schedule failed, in-memory only", "err", err)
	}
	return nil
}

func (r *PersistentScheduleRepository) Delete(ctx context.Context, id string) error {
	_ = r.mem.Delete(ctx, id)
	if err := r.db.DeleteSchedule(ctx, id); err != nil {
		slog.Warn("db delete schedule failed", "err", err)
	}
	return nil
}

func (r *PersistentScheduleRepository) List(ctx context.Context, ownerID string) ([]*iris.Schedule, error) {
	schedules, err := r.db.ListSchedules(ctx, ownerID)
	if err == nil {
		return schedules, nil
	}
	slog.Warn("db list schedules failed, falling back to in-memory", "err", err)
	return r.mem.List(ctx, ownerID)
}
