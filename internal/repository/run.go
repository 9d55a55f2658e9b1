package repository

import (
	"context"

	"github.com/kpellas/iris-assist/internal/iris"
)

// RunRepository abstracts persistence for protocol runs. The store is the
// arbiter of the one-active-run-per-owner invariant: Create atomically
// rejects a second in-progress run for the same owner with a conflict error,
// never relying on an application-level lock.
//
// Advance, Complete and Cancel return false (no error) when the transition
// does not apply: the run is already terminal, or the index is not the
// immediate successor. The engine turns those into idempotent no-ops so
// duplicate timer callbacks are harmless.
type RunRepository interface {
	Create(ctx context.Context, run *iris.ProtocolRun) error
	Get(ctx context.Context, id string) (*iris.ProtocolRun, error)
	// GetActive returns the owner's in-progress run, or nil when there is
	// none (no error).
	GetActive(ctx context.Context, ownerID string) (*iris.ProtocolRun, error)
	// Advance persists newIndex only when the run is in progress and
	// newIndex is exactly CurrentStepIndex+1 and still inside the snapshot.
	Advance(ctx context.Context, id string, newIndex int) (bool, error)
	// Complete and Cancel stamp CompletedAt exactly once.
	Complete(ctx context.Context, id, notes string) (bool, error)
	Cancel(ctx context.Context, id string) (bool, error)
	// List returns the owner's run history, most recent first. protocolID
	// filters when non-empty; limit <= 0 means no limit.
	List(ctx context.Context, ownerID, protocolID string, limit int) ([]*iris.ProtocolRun, error)
}
