package services

import (
	"context"
	"strings"

	"github.com/kpellas/iris-assist/internal/iris"
	"github.com/kpellas/iris-assist/internal/repository"
)

// ProtocolService owns definition validation and CRUD. Run state never goes
// through here; that is the engine's job.
type ProtocolService struct {
	repo repository.ProtocolRepository
}

func NewProtocolService(repo repository.ProtocolRepository) *ProtocolService {
	return &ProtocolService{repo: repo}
}

// Upsert validates and stores a definition. A case-insensitive name match
// for the owner revises the existing definition in place instead of creating
// a duplicate.
func (s *ProtocolService) Upsert(ctx context.Context, ownerID, name, description string, steps []iris.Step, tags []string) (*iris.Protocol, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, iris.ErrValidation("owner is required")
	}
	if err := iris.ValidateProtocol(name, steps); err != nil {
		return nil, err
	}
	return s.repo.Upsert(ctx, &iris.Protocol{
		OwnerID:     ownerID,
		Name:        strings.TrimSpace(name),
		Description: description,
		Steps:       steps,
		Tags:        tags,
	})
}

func (s *ProtocolService) GetByName(ctx context.Context, ownerID, name string) (*iris.Protocol, error) {
	return s.repo.GetByName(ctx, ownerID, name)
}

// List returns the owner's active definitions, most-used first.
func (s *ProtocolService) List(ctx context.Context, ownerID string) ([]*iris.Protocol, error) {
	return s.repo.List(ctx, ownerID)
}

// Delete soft-deletes by name; the definition stays behind run history.
func (s *ProtocolService) Delete(ctx context.Context, ownerID, name string) error {
	return s.repo.SoftDelete(ctx, ownerID, name)
}
