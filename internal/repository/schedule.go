package repository

import (
	"context"

	"github.com/kpellas/iris-assist/internal/iris"
)

// ScheduleRepository abstracts persistence for cron schedules that start
// protocols.
type ScheduleRepository interface {
	Create(ctx context.Context, schedule *iris.Schedule) error
	Get(ctx context.Context, id string) (*iris.Schedule, error)
	Update(ctx context.Context, schedule *iris.Schedule) error
	Delete(ctx context.Context, id string) error
	// List returns schedules for one owner, or every schedule when ownerID
	// is empty (used to re-register cron jobs on startup).
	List(ctx context.Context, ownerID string) ([]*iris.Schedule, error)
}
