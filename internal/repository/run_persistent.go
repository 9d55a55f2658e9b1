package repository

import (
	"context"

	"github.com/kpellas/iris-assist/internal/db"
	"github.com/kpellas/iris-assist/internal/iris"
)

// PersistentRunRepository delegates straight to PostgreSQL. Runs get no
// memory dual-write: the partial unique index is the arbiter of the
// one-active-run invariant, and a cache on the write path could let a second
// active run slip through after a database hiccup.
type PersistentRunRepository struct {
	db *db.DB
}

func NewPersistentRunRepository(database *db.DB) *PersistentRunRepository {
	return &PersistentRunRepository{db: database}
}

func (r *PersistentRunRepository) Create(ctx context.Context, run *iris.ProtocolRun) error {
	return r.db.CreateRun(ctx, run)
}

func (r *PersistentRunRepository) Get(ctx context.Context, id string) (*iris.ProtocolRun, error) {
	return r.db.GetRun(ctx, id)
}

func (r *PersistentRunRepository) GetActive(ctx context.Context, ownerID string) (*iris.ProtocolRun, error) {
	return r.db.GetActiveRun(ctx, ownerID)
}

func (r *PersistentRunRepository) Advance(ctx context.Context, id string, newIndex int) (bool, error) {
	return r.db.AdvanceRun(ctx, id, newIndex)
}

func (r *PersistentRunRepository) Complete(ctx context.Context, id, notes string) (bool, error) {
	return r.db.CompleteRun(ctx, id, notes)
}

func (r *PersistentRunRepository) Cancel(ctx context.Context, id string) (bool, error) {
	return r.db.CancelRun(ctx, id)
}

func (r *PersistentRunRepository) List(ctx context.Context, ownerID, protocolID string, limit int) ([]*iris.ProtocolRun, error) {
	return r.db.ListRuns(ctx, ownerID, protocolID, limit)
}
