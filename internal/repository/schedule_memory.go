package repository

import (
	"context"
	"errors"
	"sort"

	memstore "github.com/kpellas/iris-assist/internal/repository/memory"

	"github.com/kpellas/iris-assist/internal/iris"
)

// MemoryScheduleRepository stores schedules in memory.
type MemoryScheduleRepository struct {
	store *memstore.Store[*iris.Schedule]
}

func NewMemoryScheduleRepository() *MemoryScheduleRepository {
	return &MemoryScheduleRepository{
		store: memstore.New(func(s *iris.Schedule) string { return s.ID }),
	}
}

func (r *MemoryScheduleRepository) Create(ctx context.Context, schedule *iris.Schedule) error {
	return r.store.Set(ctx, schedule)
}

func (r *MemoryScheduleRepository) Get(ctx context.Context, id string) (*iris.Schedule, error) {
	s, err := r.store.Get(ctx, id)
	if errors.Is(err, memstore.ErrNotFound) {
		return nil, iris.ErrNotFound("schedule", id)
	}
	return s, err
}

func (r *MemoryScheduleRepository) Update(ctx context.Context, schedule *iris.Schedule) error {
	err := r.store.Update(ctx, schedule)
	if errors.Is(err, memstore.ErrNotFound) {
		return iris.ErrNotFound("schedule", schedule.ID)
	}
	return err
}

func (r *MemoryScheduleRepository) Delete(ctx context.Context, id string) error {
	err := r.store.Delete(ctx, id)
	if errors.Is(err, memstore.ErrNotFound) {
		return iris.ErrNotFound("schedule", id)
	}
	return err
}

func (r *MemoryScheduleRepository) List(ctx context.Context, ownerID string) ([]*iris.Schedule, error) {
	out, err := r.store.Filter(ctx, func(s *iris.Schedule) bool {
		return ownerID == "" || s.OwnerID == ownerID
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
