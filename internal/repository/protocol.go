package repository

import (
	"context"

	"github.com/kpellas/iris-assist/internal/iris"
)

// ProtocolRepository abstracts persistence for protocol definitions.
// Name lookups are case-insensitive per owner and see active rows only;
// soft-deleted rows are kept because run history references them.
type ProtocolRepository interface {
	// Upsert creates the definition or, when the owner already has one with
	// the same name (case-insensitive, soft-deleted included), revises it in
	// place: identity and CreatedAt are preserved, steps/tags/description are
	// replaced, the row is re-activated. Returns the stored definition.
	Upsert(ctx context.Context, p *iris.Protocol) (*iris.Protocol, error)
	Get(ctx context.Context, id string) (*iris.Protocol, error)
	GetByName(ctx context.Context, ownerID, name string) (*iris.Protocol, error)
	// List returns the owner's active definitions, most-used first
	// (RunCount desc, then UpdatedAt desc).
	List(ctx context.Context, ownerID string) ([]*iris.Protocol, error)
	SoftDelete(ctx context.Context, ownerID, name string) error
	// RecordRun bumps RunCount and stamps LastRunAt. Best-effort bookkeeping:
	// callers log failures and move on.
	RecordRun(ctx context.Context, id string) error
}
